package audit

import "context"

// Store persists audit events. Postgres-backed stores join the caller's
// transaction when one is carried in ctx.
type Store interface {
	Append(ctx context.Context, event Event) error
	// ListBySerial returns events for a serial number, oldest first.
	ListBySerial(ctx context.Context, serialNumber string) ([]Event, error)
}
