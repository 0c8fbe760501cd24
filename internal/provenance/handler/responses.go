package handler

import (
	"encoding/json"
	"time"

	"provenance/internal/provenance/models"
	"provenance/pkg/platform/audit"
)

// RecordResponse is the HTTP view of a product record.
type RecordResponse struct {
	SerialNumber      string    `json:"serial_number"`
	ProductName       string    `json:"product_name"`
	Manufacturer      string    `json:"manufacturer"`
	ManufactureDate   time.Time `json:"manufacture_date"`
	CurrentIdentifier string    `json:"current_identifier"`
	Stage             string    `json:"stage"`
	IdentifierHistory []string  `json:"identifier_history"`
}

func FromRecord(r *models.Record) *RecordResponse {
	return &RecordResponse{
		SerialNumber:      r.SerialNumber,
		ProductName:       r.ProductName,
		Manufacturer:      r.Manufacturer,
		ManufactureDate:   r.ManufactureDate,
		CurrentIdentifier: r.CurrentIdentifier,
		Stage:             r.Stage.String(),
		IdentifierHistory: r.IdentifierHistory,
	}
}

// HistoryResponse is the body for GET /products/{serial}/history.
type HistoryResponse struct {
	SerialNumber string   `json:"serial_number"`
	Identifiers  []string `json:"identifiers"`
}

// AuditResponse is the body for GET /audit.
type AuditResponse struct {
	SerialNumber string       `json:"serial_number"`
	Events       []AuditEntry `json:"events"`
}

type AuditEntry struct {
	ID         string          `json:"id"`
	Action     string          `json:"action"`
	Category   string          `json:"category"`
	Identifier string          `json:"identifier,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	RequestID  string          `json:"request_id,omitempty"`
	ClientIP   string          `json:"client_ip,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

func FromEvents(serial string, events []audit.Event) *AuditResponse {
	resp := &AuditResponse{SerialNumber: serial, Events: make([]AuditEntry, 0, len(events))}
	for _, e := range events {
		resp.Events = append(resp.Events, AuditEntry{
			ID:         e.ID.String(),
			Action:     e.Action,
			Category:   string(e.Category),
			Identifier: e.Identifier,
			Timestamp:  e.Timestamp,
			RequestID:  e.RequestID,
			ClientIP:   e.ClientIP,
			Payload:    e.Payload,
		})
	}
	return resp
}
