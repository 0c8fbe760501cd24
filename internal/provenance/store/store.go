// Package store persists the provenance ledger: the per-serial Record Store and
// the identifier Reverse Index. Both live behind one Ledger so that every
// mutation of one happens in the same transaction as the other.
//
// Stores are I/O plus aggregate invariant checks. They report infrastructure
// facts with pkg/platform/sentinel errors; terminal-stage rejections come from
// the aggregate itself.
package store

import (
	"context"

	"provenance/internal/provenance/models"
)

// Records is the Record Store.
type Records interface {
	// Create persists a new record. Returns sentinel.ErrAlreadyUsed when the
	// serial number is taken.
	Create(ctx context.Context, record *models.Record) error
	// Advance appends newIdentifier to the record's history and moves it one
	// stage forward. Returns sentinel.ErrNotFound for unknown serials and a
	// terminal_stage domain error at Retailer. The returned record is a copy.
	Advance(ctx context.Context, serialNumber, newIdentifier string) (*models.Record, error)
	// FindBySerial returns a copy of the record or sentinel.ErrNotFound.
	FindBySerial(ctx context.Context, serialNumber string) (*models.Record, error)
}

// Index is the Reverse Index from identifier to owning serial number.
type Index interface {
	// Insert records identifier as owned by serialNumber. Returns
	// sentinel.ErrAlreadyUsed when it is owned by a different serial;
	// re-inserting the same pair is a no-op.
	Insert(ctx context.Context, identifier, serialNumber string) error
	// Lookup returns the owning serial or sentinel.ErrNotFound.
	Lookup(ctx context.Context, identifier string) (string, error)
}

// Ledger is the transactional view handed to RunInTx callbacks.
type Ledger interface {
	Records
	Index
}

// TxFunc runs inside a ledger transaction. Returning an error discards every
// write made through ledger.
type TxFunc func(ctx context.Context, ledger Ledger) error
