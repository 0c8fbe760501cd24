// Package sentinel holds infrastructure facts that stores report and services
// translate into domain errors.
package sentinel

import "errors"

// Stores return these, optionally wrapped:
//   - ErrNotFound: no row for the serial number or identifier
//   - ErrAlreadyUsed: a unique key (serial number, identifier) is taken by another owner
//   - ErrConflict: a concurrent writer moved the row between read and write
//
// Validation failures belong in pkg/domain-errors instead.
var (
	ErrNotFound    = errors.New("not found")
	ErrAlreadyUsed = errors.New("already used")
	ErrConflict    = errors.New("conflict")
)
