package models

// VerificationOutcome distinguishes the three answers verify can give.
type VerificationOutcome string

const (
	// OutcomeUnknown: the identifier was never issued.
	OutcomeUnknown VerificationOutcome = "unknown"
	// OutcomeStale: the identifier belonged to a real product but has been superseded.
	OutcomeStale VerificationOutcome = "stale"
	// OutcomeAuthentic: the identifier is the product's current one.
	OutcomeAuthentic VerificationOutcome = "authentic"
)

// Verification is the result of checking an identifier. Negative outcomes are
// final answers, not errors.
type Verification struct {
	Identifier   string              `json:"identifier"`
	IsAuthentic  bool                `json:"is_authentic"`
	SerialNumber string              `json:"serial_number"`
	Outcome      VerificationOutcome `json:"outcome"`
}

// Classify applies the verification rule to an identifier and the record that
// owns it in the reverse index. owner is nil when the identifier is unknown.
func Classify(identifier string, owner *Record) Verification {
	if owner == nil {
		return Verification{Identifier: identifier, Outcome: OutcomeUnknown}
	}
	if owner.IsCurrent(identifier) {
		return Verification{
			Identifier:   identifier,
			IsAuthentic:  true,
			SerialNumber: owner.SerialNumber,
			Outcome:      OutcomeAuthentic,
		}
	}
	return Verification{
		Identifier:   identifier,
		SerialNumber: owner.SerialNumber,
		Outcome:      OutcomeStale,
	}
}
