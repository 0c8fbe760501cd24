package models

import (
	"fmt"
	"time"

	dErrors "provenance/pkg/domain-errors"
)

// Stage is a position in the supply chain. Stages only move forward, one step
// per transfer, and Retailer is terminal.
type Stage int

const (
	StageManufacturer Stage = iota
	StageDistributor
	StageRetailer
)

func (s Stage) String() string {
	switch s {
	case StageManufacturer:
		return "manufacturer"
	case StageDistributor:
		return "distributor"
	case StageRetailer:
		return "retailer"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// IsValid reports whether s is one of the known stages.
func (s Stage) IsValid() bool {
	return s >= StageManufacturer && s <= StageRetailer
}

// IsTerminal reports whether no further transfer is accepted.
func (s Stage) IsTerminal() bool {
	return s == StageRetailer
}

// Next returns the stage a transfer moves to. ok is false at the terminal stage.
func (s Stage) Next() (next Stage, ok bool) {
	if !s.IsValid() || s.IsTerminal() {
		return s, false
	}
	return s + 1, true
}

// Record is the aggregate for one serial number.
//
// Invariants:
//   - SerialNumber, ProductName, Manufacturer and ManufactureDate never change
//   - IdentifierHistory is append-only, oldest first
//   - CurrentIdentifier == IdentifierHistory[len-1]
//   - len(IdentifierHistory) == Stage + 1
type Record struct {
	SerialNumber      string    `json:"serial_number"`
	ProductName       string    `json:"product_name"`
	Manufacturer      string    `json:"manufacturer"`
	ManufactureDate   time.Time `json:"manufacture_date"`
	CurrentIdentifier string    `json:"current_identifier"`
	Stage             Stage     `json:"stage"`
	IdentifierHistory []string  `json:"identifier_history"`
}

// NewRecord constructs a freshly registered record at the Manufacturer stage.
func NewRecord(serialNumber, initialIdentifier, productName, manufacturer string, now time.Time) (*Record, error) {
	for _, f := range []struct{ name, value string }{
		{"serial_number", serialNumber},
		{"initial_identifier", initialIdentifier},
		{"product_name", productName},
		{"manufacturer", manufacturer},
	} {
		if f.value == "" {
			return nil, dErrors.New(dErrors.CodeInvalidInput, f.name+" is required")
		}
	}
	return &Record{
		SerialNumber:      serialNumber,
		ProductName:       productName,
		Manufacturer:      manufacturer,
		ManufactureDate:   now,
		CurrentIdentifier: initialIdentifier,
		Stage:             StageManufacturer,
		IdentifierHistory: []string{initialIdentifier},
	}, nil
}

// CanAdvance checks that a transfer is allowed from the current stage.
func (r *Record) CanAdvance() error {
	if _, ok := r.Stage.Next(); !ok {
		return dErrors.New(dErrors.CodeTerminalStage, "product already at retail stage")
	}
	return nil
}

// ApplyAdvance appends newIdentifier and moves one stage forward.
// Call CanAdvance first.
func (r *Record) ApplyAdvance(newIdentifier string) {
	next, _ := r.Stage.Next()
	r.IdentifierHistory = append(r.IdentifierHistory, newIdentifier)
	r.CurrentIdentifier = newIdentifier
	r.Stage = next
}

// Advance validates and applies a transfer, returning the superseded identifier.
func (r *Record) Advance(newIdentifier string) (previous string, err error) {
	if newIdentifier == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "new_identifier is required")
	}
	if err := r.CanAdvance(); err != nil {
		return "", err
	}
	previous = r.CurrentIdentifier
	r.ApplyAdvance(newIdentifier)
	return previous, nil
}

// IsCurrent reports whether identifier is the authentic one right now.
func (r *Record) IsCurrent(identifier string) bool {
	return identifier != "" && identifier == r.CurrentIdentifier
}

// CheckInvariants verifies the history/stage/current relationship. Stores call
// it before persisting so a corrupted aggregate never reaches durable state.
func (r *Record) CheckInvariants() error {
	if !r.Stage.IsValid() {
		return dErrors.New(dErrors.CodeInvariantViolation, "unknown stage")
	}
	if len(r.IdentifierHistory) != int(r.Stage)+1 {
		return dErrors.New(dErrors.CodeInvariantViolation, "history length does not match stage")
	}
	if r.IdentifierHistory[len(r.IdentifierHistory)-1] != r.CurrentIdentifier {
		return dErrors.New(dErrors.CodeInvariantViolation, "current identifier is not the latest history entry")
	}
	return nil
}

// Clone returns a deep copy so callers cannot mutate stored history.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.IdentifierHistory = append([]string(nil), r.IdentifierHistory...)
	return &c
}
