package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"provenance/internal/provenance/models"
	dErrors "provenance/pkg/domain-errors"
	"provenance/pkg/platform/sentinel"
)

const defaultMemoryTxTimeout = 5 * time.Second

// InMemory is a ledger backed by maps. Writers are serialised by a store-wide
// lock and stage their writes until the callback succeeds, so a failed
// transaction leaves no partial record or index entry behind.
type InMemory struct {
	mu      sync.RWMutex
	records map[string]*models.Record
	index   map[string]string
	timeout time.Duration
}

// NewInMemory creates an empty in-memory ledger.
func NewInMemory() *InMemory {
	return &InMemory{
		records: make(map[string]*models.Record),
		index:   make(map[string]string),
		timeout: defaultMemoryTxTimeout,
	}
}

// RunInTx executes fn with exclusive write access and commits its staged
// writes only when fn returns nil.
func (s *InMemory) RunInTx(ctx context.Context, fn TxFunc) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	tx := &memoryTx{
		base:    s,
		records: make(map[string]*models.Record),
		index:   make(map[string]string),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	for serial, record := range tx.records {
		s.records[serial] = record
	}
	for identifier, serial := range tx.index {
		s.index[identifier] = serial
	}
	return nil
}

// Create inserts a record outside an explicit transaction.
func (s *InMemory) Create(ctx context.Context, record *models.Record) error {
	return s.RunInTx(ctx, func(ctx context.Context, l Ledger) error {
		return l.Create(ctx, record)
	})
}

// Advance transfers a record outside an explicit transaction.
func (s *InMemory) Advance(ctx context.Context, serialNumber, newIdentifier string) (*models.Record, error) {
	var out *models.Record
	err := s.RunInTx(ctx, func(ctx context.Context, l Ledger) error {
		r, err := l.Advance(ctx, serialNumber, newIdentifier)
		out = r
		return err
	})
	return out, err
}

// Insert indexes an identifier outside an explicit transaction.
func (s *InMemory) Insert(ctx context.Context, identifier, serialNumber string) error {
	return s.RunInTx(ctx, func(ctx context.Context, l Ledger) error {
		return l.Insert(ctx, identifier, serialNumber)
	})
}

func (s *InMemory) FindBySerial(_ context.Context, serialNumber string) (*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.records[serialNumber]; ok {
		return r.Clone(), nil
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemory) Lookup(_ context.Context, identifier string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if serial, ok := s.index[identifier]; ok {
		return serial, nil
	}
	return "", sentinel.ErrNotFound
}

// Count returns the number of registered serial numbers.
func (s *InMemory) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// memoryTx reads through its staged writes to the committed maps. The parent
// write lock is held for its whole lifetime.
type memoryTx struct {
	base    *InMemory
	records map[string]*models.Record
	index   map[string]string
}

func (t *memoryTx) record(serialNumber string) (*models.Record, bool) {
	if r, ok := t.records[serialNumber]; ok {
		return r, true
	}
	r, ok := t.base.records[serialNumber]
	return r, ok
}

func (t *memoryTx) Create(_ context.Context, record *models.Record) error {
	if record == nil {
		return fmt.Errorf("record is required")
	}
	if err := record.CheckInvariants(); err != nil {
		return err
	}
	if _, exists := t.record(record.SerialNumber); exists {
		return fmt.Errorf("serial number %q: %w", record.SerialNumber, sentinel.ErrAlreadyUsed)
	}
	t.records[record.SerialNumber] = record.Clone()
	return nil
}

func (t *memoryTx) Advance(_ context.Context, serialNumber, newIdentifier string) (*models.Record, error) {
	current, ok := t.record(serialNumber)
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	next := current.Clone()
	if _, err := next.Advance(newIdentifier); err != nil {
		return nil, err
	}
	if err := next.CheckInvariants(); err != nil {
		return nil, err
	}
	t.records[serialNumber] = next
	return next.Clone(), nil
}

func (t *memoryTx) FindBySerial(_ context.Context, serialNumber string) (*models.Record, error) {
	if r, ok := t.record(serialNumber); ok {
		return r.Clone(), nil
	}
	return nil, sentinel.ErrNotFound
}

func (t *memoryTx) Insert(_ context.Context, identifier, serialNumber string) error {
	owner, err := t.Lookup(context.Background(), identifier)
	if err == nil {
		if owner != serialNumber {
			return fmt.Errorf("identifier %q: %w", identifier, sentinel.ErrAlreadyUsed)
		}
		return nil
	}
	t.index[identifier] = serialNumber
	return nil
}

func (t *memoryTx) Lookup(_ context.Context, identifier string) (string, error) {
	if serial, ok := t.index[identifier]; ok {
		return serial, nil
	}
	if serial, ok := t.base.index[identifier]; ok {
		return serial, nil
	}
	return "", sentinel.ErrNotFound
}
