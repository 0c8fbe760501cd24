package models

import "time"

// Registered is emitted when a serial number enters the registry.
type Registered struct {
	SerialNumber string    `json:"serial_number"`
	Identifier   string    `json:"identifier"`
	ProductName  string    `json:"product_name"`
	Manufacturer string    `json:"manufacturer"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// Transferred is emitted for each custody handoff.
type Transferred struct {
	SerialNumber  string    `json:"serial_number"`
	OldIdentifier string    `json:"old_identifier"`
	NewIdentifier string    `json:"new_identifier"`
	NewStage      Stage     `json:"new_stage"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Verified is emitted when a caller asks for a verification to be recorded.
type Verified struct {
	Verification
	OccurredAt time.Time `json:"occurred_at"`
}
