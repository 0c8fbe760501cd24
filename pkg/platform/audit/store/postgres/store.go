package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	audit "provenance/pkg/platform/audit"
	txcontext "provenance/pkg/platform/tx"
)

const aggregateProduct = "product"

// appendEvent writes the queryable audit row and its outbox entry in one
// statement. The outbox row carries the whole event as the message value.
const appendEvent = `
	WITH event AS (
		INSERT INTO audit_events (
			id, category, action, serial_number, identifier,
			payload, request_id, client_ip, timestamp
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING serial_number, action, timestamp
	)
	INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload, created_at)
	SELECT $10::uuid, $11::text, event.serial_number, event.action, $12::jsonb, event.timestamp
	FROM event`

const listBySerial = `
	SELECT id, category, action, serial_number, identifier,
	       payload, request_id, client_ip, timestamp
	FROM audit_events
	WHERE serial_number = $1
	ORDER BY seq`

// Store implements audit.Store with a transactional outbox: every appended
// event is also queued for the relay.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Append joins the transaction carried in ctx, so the event commits or rolls
// back with the ledger change it describes.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	message, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	body := []byte(event.Payload)
	if len(body) == 0 {
		body = []byte(`{}`)
	}

	_, err = txcontext.ExecutorFrom(ctx, s.db).ExecContext(ctx, appendEvent,
		event.ID, string(event.Category), event.Action, event.SerialNumber, event.Identifier,
		body, event.RequestID, event.ClientIP, event.Timestamp,
		uuid.New(), aggregateProduct, message,
	)
	if err != nil {
		return fmt.Errorf("append audit event %s: %w", event.Action, err)
	}
	return nil
}

// ListBySerial returns events for a serial number in commit order.
func (s *Store) ListBySerial(ctx context.Context, serialNumber string) ([]audit.Event, error) {
	rows, err := s.db.QueryContext(ctx, listBySerial, serialNumber)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	events := []audit.Event{}
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}

func scanEvent(rows *sql.Rows) (audit.Event, error) {
	var (
		event    audit.Event
		category string
		payload  []byte
	)
	err := rows.Scan(&event.ID, &category, &event.Action, &event.SerialNumber, &event.Identifier,
		&payload, &event.RequestID, &event.ClientIP, &event.Timestamp)
	if err != nil {
		return audit.Event{}, fmt.Errorf("scan audit event: %w", err)
	}
	event.Category = audit.EventCategory(category)
	event.Payload = json.RawMessage(payload)
	return event, nil
}
