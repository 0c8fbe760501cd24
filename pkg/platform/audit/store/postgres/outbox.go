package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"provenance/pkg/platform/audit/worker"
	txcontext "provenance/pkg/platform/tx"
)

// Outbox reads and marks outbox rows for the relay worker.
type Outbox struct {
	db *sql.DB
}

func NewOutbox(db *sql.DB) *Outbox {
	return &Outbox{db: db}
}

// Claim locks up to limit unpublished rows in sequence order, hands them to
// publish and marks them published when it succeeds. Rows locked by another
// relay are skipped.
func (o *Outbox) Claim(ctx context.Context, limit int, publish func(context.Context, []worker.Entry) error) (int, error) {
	var claimed int
	err := txcontext.Run(ctx, o.db, "outbox", func(ctx context.Context) error {
		exec := txcontext.ExecutorFrom(ctx, o.db)
		entries, err := lockPending(ctx, exec, limit)
		if err != nil || len(entries) == 0 {
			return err
		}
		if err := publish(ctx, entries); err != nil {
			return err
		}

		ids := make([]string, len(entries))
		for i, e := range entries {
			ids[i] = e.ID.String()
		}
		if _, err := exec.ExecContext(ctx,
			`UPDATE outbox SET published_at = $1 WHERE id = ANY($2::uuid[])`,
			time.Now(), pq.Array(ids),
		); err != nil {
			return fmt.Errorf("mark outbox published: %w", err)
		}
		claimed = len(entries)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return claimed, nil
}

func lockPending(ctx context.Context, exec txcontext.Executor, limit int) ([]worker.Entry, error) {
	rows, err := exec.QueryContext(ctx, `
		SELECT id, seq, aggregate_id, event_type, payload, created_at
		FROM outbox
		WHERE published_at IS NULL
		ORDER BY seq
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("select outbox entries: %w", err)
	}
	defer rows.Close()

	var entries []worker.Entry
	for rows.Next() {
		var e worker.Entry
		if err := rows.Scan(&e.ID, &e.Seq, &e.AggregateID, &e.EventType, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox entries: %w", err)
	}
	return entries, nil
}

// Pending counts unpublished rows.
func (o *Outbox) Pending(ctx context.Context) (int, error) {
	var n int
	err := o.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM outbox WHERE published_at IS NULL`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count outbox entries: %w", err)
	}
	return n, nil
}

