package audit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventCategory classifies audit events by their primary purpose.
type EventCategory string

const (
	// CategoryCustody covers changes to who holds an item and which
	// identifier is authentic. These form the provenance trail.
	CategoryCustody EventCategory = "custody"

	// CategoryVerification covers recorded authenticity checks.
	CategoryVerification EventCategory = "verification"
)

type AuditEvent string

const (
	EventProductRegistered  AuditEvent = "product_registered"
	EventCustodyTransferred AuditEvent = "custody_transferred"
	EventIdentifierVerified AuditEvent = "identifier_verified"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventProductRegistered:  CategoryCustody,
	EventCustodyTransferred: CategoryCustody,
	EventIdentifierVerified: CategoryVerification,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryVerification.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryVerification
}

// Event is emitted from domain logic to capture key actions. Payload carries
// the domain event body so stores and sinks stay transport-agnostic.
type Event struct {
	ID           uuid.UUID       `json:"id"`
	Category     EventCategory   `json:"category"`
	Action       string          `json:"action"`
	SerialNumber string          `json:"serial_number,omitempty"`
	Identifier   string          `json:"identifier,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
	RequestID    string          `json:"request_id,omitempty"`
	ClientIP     string          `json:"client_ip,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}
