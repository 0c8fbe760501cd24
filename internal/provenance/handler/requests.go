package handler

import (
	"strings"

	"provenance/internal/provenance/identifier"
	dErrors "provenance/pkg/domain-errors"
)

const maxFieldLength = 256

// RegisterRequest is the body for POST /products. InitialIdentifier may be
// omitted, in which case one is generated.
type RegisterRequest struct {
	SerialNumber      string `json:"serial_number"`
	InitialIdentifier string `json:"initial_identifier"`
	ProductName       string `json:"product_name"`
	Manufacturer      string `json:"manufacturer"`
}

func (r *RegisterRequest) Normalize() {
	r.SerialNumber = strings.TrimSpace(r.SerialNumber)
	r.InitialIdentifier = strings.TrimSpace(r.InitialIdentifier)
	r.ProductName = strings.TrimSpace(r.ProductName)
	r.Manufacturer = strings.TrimSpace(r.Manufacturer)
}

func (r *RegisterRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	for _, f := range []struct{ name, value string }{
		{"serial_number", r.SerialNumber},
		{"product_name", r.ProductName},
		{"manufacturer", r.Manufacturer},
	} {
		if f.value == "" {
			return dErrors.New(dErrors.CodeInvalidInput, f.name+" is required")
		}
		if len(f.value) > maxFieldLength {
			return dErrors.New(dErrors.CodeInvalidInput, f.name+" is too long")
		}
	}
	if r.InitialIdentifier != "" {
		return identifier.ValidateFormat(r.InitialIdentifier)
	}
	return nil
}

// TransferRequest is the body for POST /products/{serial}/transfer.
type TransferRequest struct {
	NewIdentifier string `json:"new_identifier"`
}

func (r *TransferRequest) Normalize() {
	r.NewIdentifier = strings.TrimSpace(r.NewIdentifier)
}

func (r *TransferRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if r.NewIdentifier != "" {
		return identifier.ValidateFormat(r.NewIdentifier)
	}
	return nil
}

// VerifyRequest is the body for POST /verify. Record asks for the outcome to
// be written to the audit trail.
type VerifyRequest struct {
	Identifier string `json:"identifier"`
	Record     bool   `json:"record"`
}

func (r *VerifyRequest) Normalize() {
	r.Identifier = strings.TrimSpace(r.Identifier)
}

func (r *VerifyRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if r.Identifier == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "identifier is required")
	}
	return nil
}
