package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"provenance/internal/provenance/models"
	dErrors "provenance/pkg/domain-errors"
	"provenance/pkg/platform/sentinel"
	txcontext "provenance/pkg/platform/tx"
)

const (
	defaultPostgresTxTimeout = 5 * time.Second
	uniqueViolation          = "23505"
)

// Postgres persists the ledger in three tables: products (the record),
// identifier_history (append-only, keyed by serial and position) and
// identifier_index (the reverse index, keyed by identifier). All methods use
// the transaction carried by ctx when present.
type Postgres struct {
	db      *sql.DB
	timeout time.Duration
}

// NewPostgres constructs a PostgreSQL-backed ledger.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db, timeout: defaultPostgresTxTimeout}
}

// RunInTx runs fn inside one database transaction; any error rolls back
// record, history, index and outbox writes together.
func (s *Postgres) RunInTx(ctx context.Context, fn TxFunc) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	return txcontext.Run(ctx, s.db, "ledger", func(ctx context.Context) error {
		return fn(ctx, s)
	})
}

func (s *Postgres) Create(ctx context.Context, record *models.Record) error {
	if record == nil {
		return fmt.Errorf("record is required")
	}
	if err := record.CheckInvariants(); err != nil {
		return err
	}
	exec := txcontext.ExecutorFrom(ctx, s.db)
	_, err := exec.ExecContext(ctx, `
		INSERT INTO products (serial_number, product_name, manufacturer, manufacture_date, current_identifier, stage)
		VALUES ($1, $2, $3, $4, $5, $6)
	`,
		record.SerialNumber,
		record.ProductName,
		record.Manufacturer,
		record.ManufactureDate,
		record.CurrentIdentifier,
		int(record.Stage),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("serial number %q: %w", record.SerialNumber, sentinel.ErrAlreadyUsed)
		}
		return fmt.Errorf("insert product: %w", err)
	}
	for position, identifier := range record.IdentifierHistory {
		if err := appendHistory(ctx, exec, record.SerialNumber, position, identifier); err != nil {
			return err
		}
	}
	return nil
}

func (s *Postgres) Advance(ctx context.Context, serialNumber, newIdentifier string) (*models.Record, error) {
	exec := txcontext.ExecutorFrom(ctx, s.db)
	record, err := scanRecord(exec.QueryRowContext(ctx, selectRecord+` FOR UPDATE`, serialNumber))
	if err != nil {
		return nil, err
	}
	previousStage := record.Stage
	if _, err := record.Advance(newIdentifier); err != nil {
		return nil, err
	}
	if err := record.CheckInvariants(); err != nil {
		return nil, err
	}

	// The row is held FOR UPDATE, so the stage guard cannot miss while the
	// lock stands. It stays as a safety net in case the select above is
	// ever relaxed to an unlocked read.
	res, err := exec.ExecContext(ctx, `
		UPDATE products
		SET current_identifier = $2, stage = $3
		WHERE serial_number = $1 AND stage = $4
	`, serialNumber, newIdentifier, int(record.Stage), int(previousStage))
	if err != nil {
		return nil, fmt.Errorf("advance product: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("advance product: %w", err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("serial number %q changed concurrently: %w", serialNumber, sentinel.ErrConflict)
	}
	if err := appendHistory(ctx, exec, serialNumber, int(record.Stage), newIdentifier); err != nil {
		return nil, err
	}
	return record, nil
}

func (s *Postgres) FindBySerial(ctx context.Context, serialNumber string) (*models.Record, error) {
	exec := txcontext.ExecutorFrom(ctx, s.db)
	return scanRecord(exec.QueryRowContext(ctx, selectRecord, serialNumber))
}

func (s *Postgres) Insert(ctx context.Context, identifier, serialNumber string) error {
	exec := txcontext.ExecutorFrom(ctx, s.db)
	// The no-op update makes RETURNING yield the existing owner on conflict.
	var owner string
	err := exec.QueryRowContext(ctx, `
		INSERT INTO identifier_index (identifier, serial_number)
		VALUES ($1, $2)
		ON CONFLICT (identifier) DO UPDATE SET
			identifier = EXCLUDED.identifier
		RETURNING serial_number
	`, identifier, serialNumber).Scan(&owner)
	if err != nil {
		return fmt.Errorf("insert identifier: %w", err)
	}
	if owner != serialNumber {
		return fmt.Errorf("identifier %q: %w", identifier, sentinel.ErrAlreadyUsed)
	}
	return nil
}

func (s *Postgres) Lookup(ctx context.Context, identifier string) (string, error) {
	exec := txcontext.ExecutorFrom(ctx, s.db)
	var serial string
	err := exec.QueryRowContext(ctx,
		`SELECT serial_number FROM identifier_index WHERE identifier = $1`, identifier,
	).Scan(&serial)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", sentinel.ErrNotFound
		}
		return "", fmt.Errorf("lookup identifier: %w", err)
	}
	return serial, nil
}

const selectRecord = `
	SELECT p.serial_number, p.product_name, p.manufacturer, p.manufacture_date,
		p.current_identifier, p.stage,
		ARRAY(
			SELECT h.identifier FROM identifier_history h
			WHERE h.serial_number = p.serial_number
			ORDER BY h.position
		)
	FROM products p
	WHERE p.serial_number = $1`

func scanRecord(row *sql.Row) (*models.Record, error) {
	var (
		r       models.Record
		stage   int
		history []string
	)
	err := row.Scan(
		&r.SerialNumber,
		&r.ProductName,
		&r.Manufacturer,
		&r.ManufactureDate,
		&r.CurrentIdentifier,
		&stage,
		pq.Array(&history),
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan product: %w", err)
	}
	r.Stage = models.Stage(stage)
	r.IdentifierHistory = history
	return &r, nil
}

func appendHistory(ctx context.Context, exec txcontext.Executor, serialNumber string, position int, identifier string) error {
	_, err := exec.ExecContext(ctx, `
		INSERT INTO identifier_history (serial_number, position, identifier)
		VALUES ($1, $2, $3)
	`, serialNumber, position, identifier)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("history position %d for %q: %w", position, serialNumber, sentinel.ErrConflict)
		}
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation
	}
	return false
}
