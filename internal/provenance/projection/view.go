// Package projection maintains a Redis read model of the registry, fed by the
// relayed outbox stream. It lags the ledger, which is why reads against it go
// through the reader's retry policy.
package projection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	platformredis "provenance/internal/platform/redis"
	"provenance/internal/provenance/metrics"
	"provenance/internal/provenance/models"
	dErrors "provenance/pkg/domain-errors"
)

const (
	keyRecord = "record"

	// maxWatchRetries bounds optimistic retries when another writer touches
	// the same record key between WATCH and EXEC.
	maxWatchRetries = 5

	actionRegistered  = "registered"
	actionTransferred = "transferred"

	resultApplied  = "applied"
	resultReplayed = "replayed"
	resultError    = "error"
)

// ErrOutOfOrder is returned when a transfer arrives for a record the view
// has not seen yet, or skips a stage. The consumer retries it.
var ErrOutOfOrder = errors.New("projection event out of order")

// View is the Redis-backed read model.
type View struct {
	client  *platformredis.Client
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*View)

func WithLogger(logger *slog.Logger) Option {
	return func(v *View) { v.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(v *View) { v.metrics = m }
}

func New(client *platformredis.Client, opts ...Option) *View {
	v := &View{client: client, logger: slog.Default()}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func (v *View) recordKey(serialNumber string) string {
	return v.client.Key(keyRecord, serialNumber)
}

// ApplyRegistered stores the freshly registered record. Replays of an event
// already applied are no-ops.
func (v *View) ApplyRegistered(ctx context.Context, ev models.Registered) error {
	key := v.recordKey(ev.SerialNumber)
	result := resultApplied
	err := v.watch(ctx, key, func(tx *redis.Tx) error {
		existing, err := loadRecord(ctx, tx, key)
		if err != nil {
			return err
		}
		if existing != nil {
			v.logger.DebugContext(ctx, "registration already projected", "serial_number", ev.SerialNumber)
			result = resultReplayed
			return nil
		}

		record := &models.Record{
			SerialNumber:      ev.SerialNumber,
			ProductName:       ev.ProductName,
			Manufacturer:      ev.Manufacturer,
			ManufactureDate:   ev.OccurredAt,
			CurrentIdentifier: ev.Identifier,
			Stage:             models.StageManufacturer,
			IdentifierHistory: []string{ev.Identifier},
		}
		return v.write(ctx, tx, key, record)
	})
	v.observe(actionRegistered, result, err)
	return err
}

// ApplyTransferred appends the new identifier. A transfer whose stage the view
// has already reached is a replay and is ignored.
func (v *View) ApplyTransferred(ctx context.Context, ev models.Transferred) error {
	key := v.recordKey(ev.SerialNumber)
	result := resultApplied
	err := v.watch(ctx, key, func(tx *redis.Tx) error {
		record, err := loadRecord(ctx, tx, key)
		if err != nil {
			return err
		}
		if record == nil {
			return fmt.Errorf("%w: transfer for unprojected serial %s", ErrOutOfOrder, ev.SerialNumber)
		}
		if record.Stage >= ev.NewStage {
			v.logger.DebugContext(ctx, "transfer already projected",
				"serial_number", ev.SerialNumber,
				"stage", ev.NewStage.String(),
			)
			result = resultReplayed
			return nil
		}
		if next, ok := record.Stage.Next(); !ok || next != ev.NewStage {
			return fmt.Errorf("%w: serial %s at %s cannot move to %s",
				ErrOutOfOrder, ev.SerialNumber, record.Stage, ev.NewStage)
		}

		record.Stage = ev.NewStage
		record.CurrentIdentifier = ev.NewIdentifier
		record.IdentifierHistory = append(record.IdentifierHistory, ev.NewIdentifier)
		return v.write(ctx, tx, key, record)
	})
	v.observe(actionTransferred, result, err)
	return err
}

func (v *View) observe(action, result string, err error) {
	if err != nil {
		result = resultError
	}
	v.metrics.IncProjection(action, result)
}

func (v *View) write(ctx context.Context, tx *redis.Tx, key string, record *models.Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, data, 0)
		return nil
	})
	return err
}

func (v *View) watch(ctx context.Context, key string, fn func(tx *redis.Tx) error) error {
	for i := 0; i < maxWatchRetries; i++ {
		err := v.client.Watch(ctx, fn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("projection update for %s: %w", key, redis.TxFailedErr)
}

func loadRecord(ctx context.Context, c redis.Cmdable, key string) (*models.Record, error) {
	data, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var record models.Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("decode projected record: %w", err)
	}
	return &record, nil
}

// GetDetails returns the projected record or a not_found domain error.
func (v *View) GetDetails(ctx context.Context, serialNumber string) (*models.Record, error) {
	record, err := loadRecord(ctx, v.client, v.recordKey(serialNumber))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "projection read failed")
	}
	if record == nil {
		return nil, dErrors.New(dErrors.CodeNotFound, "product not found")
	}
	return record, nil
}

// GetHistory returns the projected identifier history.
func (v *View) GetHistory(ctx context.Context, serialNumber string) ([]string, error) {
	record, err := v.GetDetails(ctx, serialNumber)
	if err != nil {
		return nil, err
	}
	return record.IdentifierHistory, nil
}
