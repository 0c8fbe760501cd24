// Package service is the registry engine: it registers products, transfers
// custody, answers verification queries and serves record reads. Every write
// updates the record, the reverse index and the audit outbox in one ledger
// transaction.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"provenance/internal/platform/tracing"
	"provenance/internal/provenance/metrics"
	"provenance/internal/provenance/models"
	"provenance/internal/provenance/store"
	dErrors "provenance/pkg/domain-errors"
	audit "provenance/pkg/platform/audit"
	"provenance/pkg/platform/sentinel"
	"provenance/pkg/requestcontext"
)

// Operation names used to tag errors, spans and metrics.
const (
	OpRegister   = "register"
	OpTransfer   = "transfer"
	OpVerify     = "verify"
	OpGetDetails = "get_details"
	OpGetHistory = "get_history"
)

// Ledger is the storage the engine runs on.
type Ledger interface {
	RunInTx(ctx context.Context, fn store.TxFunc) error
	FindBySerial(ctx context.Context, serialNumber string) (*models.Record, error)
	Lookup(ctx context.Context, identifier string) (string, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service is the registry engine.
type Service struct {
	ledger         Ledger
	auditPublisher AuditPublisher
	logger         *slog.Logger
	metrics        *metrics.Metrics
	tracer         trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithAuditPublisher sets where domain events go. The publisher is called
// inside the ledger transaction and must be synchronous.
func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = tracer
	}
}

// New constructs a Service.
func New(ledger Ledger, opts ...Option) *Service {
	s := &Service{
		ledger: ledger,
		logger: slog.Default(),
		tracer: noop.NewTracerProvider().Tracer("noop"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates the record for serialNumber at the Manufacturer stage and
// indexes its initial identifier.
func (s *Service) Register(ctx context.Context, serialNumber, initialIdentifier, productName, manufacturer string) (_ *models.Registered, err error) {
	ctx, span := s.tracer.Start(ctx, "provenance.register", trace.WithAttributes(
		attribute.String(tracing.AttrSerialNumber, serialNumber),
		attribute.String(tracing.AttrIdentifier, initialIdentifier),
	))
	defer s.finish(ctx, span, OpRegister, time.Now(), &err)

	record, err := models.NewRecord(serialNumber, initialIdentifier, productName, manufacturer, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}

	event := &models.Registered{
		SerialNumber: record.SerialNumber,
		Identifier:   record.CurrentIdentifier,
		ProductName:  record.ProductName,
		Manufacturer: record.Manufacturer,
		OccurredAt:   record.ManufactureDate,
	}

	err = s.ledger.RunInTx(ctx, func(ctx context.Context, ledger store.Ledger) error {
		if _, err := ledger.FindBySerial(ctx, record.SerialNumber); err == nil {
			return dErrors.New(dErrors.CodeAlreadyExists, "serial number already registered")
		} else if !errors.Is(err, sentinel.ErrNotFound) {
			return err
		}
		if err := ensureUnindexed(ctx, ledger, record.CurrentIdentifier); err != nil {
			return err
		}
		if err := ledger.Create(ctx, record); err != nil {
			if errors.Is(err, sentinel.ErrAlreadyUsed) {
				return dErrors.New(dErrors.CodeAlreadyExists, "serial number already registered")
			}
			return err
		}
		if err := insertIndex(ctx, ledger, record.CurrentIdentifier, record.SerialNumber); err != nil {
			return err
		}
		return s.emit(ctx, audit.EventProductRegistered, record.SerialNumber, record.CurrentIdentifier, event)
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "product registered",
		"serial_number", record.SerialNumber,
		"identifier", record.CurrentIdentifier,
		"request_id", requestcontext.RequestID(ctx),
	)
	return event, nil
}

// Transfer hands custody to the next stage under newIdentifier. The previous
// identifier stays indexed so it verifies as stale.
func (s *Service) Transfer(ctx context.Context, serialNumber, newIdentifier string) (_ *models.Transferred, err error) {
	ctx, span := s.tracer.Start(ctx, "provenance.transfer", trace.WithAttributes(
		attribute.String(tracing.AttrSerialNumber, serialNumber),
		attribute.String(tracing.AttrIdentifier, newIdentifier),
	))
	defer s.finish(ctx, span, OpTransfer, time.Now(), &err)

	if serialNumber == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "serial_number is required")
	}
	if newIdentifier == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "new_identifier is required")
	}

	var event *models.Transferred
	err = s.ledger.RunInTx(ctx, func(ctx context.Context, ledger store.Ledger) error {
		// This read is unlocked and only orders the error codes. Advance
		// re-checks the stage on the locked row and the event is built from
		// what it returns.
		current, err := ledger.FindBySerial(ctx, serialNumber)
		if err != nil {
			return err
		}
		if err := current.CanAdvance(); err != nil {
			return err
		}
		if err := ensureUnindexed(ctx, ledger, newIdentifier); err != nil {
			return err
		}
		updated, err := ledger.Advance(ctx, serialNumber, newIdentifier)
		if err != nil {
			return err
		}
		if err := insertIndex(ctx, ledger, newIdentifier, serialNumber); err != nil {
			return err
		}
		history := updated.IdentifierHistory
		event = &models.Transferred{
			SerialNumber:  serialNumber,
			OldIdentifier: history[len(history)-2],
			NewIdentifier: updated.CurrentIdentifier,
			NewStage:      updated.Stage,
			OccurredAt:    requestcontext.Now(ctx),
		}
		return s.emit(ctx, audit.EventCustodyTransferred, serialNumber, newIdentifier, event)
	})
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.String(tracing.AttrStage, event.NewStage.String()))
	s.logger.InfoContext(ctx, "custody transferred",
		"serial_number", serialNumber,
		"old_identifier", event.OldIdentifier,
		"new_identifier", event.NewIdentifier,
		"stage", event.NewStage.String(),
		"request_id", requestcontext.RequestID(ctx),
	)
	return event, nil
}

// VerifyOption adjusts a Verify call.
type VerifyOption func(*verifyOptions)

type verifyOptions struct {
	record bool
}

// WithAuditRecord makes Verify also persist a Verified event. The event is
// built from the same lookup that produced the returned result, inside one
// transaction.
func WithAuditRecord() VerifyOption {
	return func(o *verifyOptions) { o.record = true }
}

// Verify classifies identifier as unknown, stale or authentic. Negative
// outcomes are answers, not errors.
func (s *Service) Verify(ctx context.Context, identifier string, opts ...VerifyOption) (_ models.Verification, err error) {
	var o verifyOptions
	for _, opt := range opts {
		opt(&o)
	}
	ctx, span := s.tracer.Start(ctx, "provenance.verify", trace.WithAttributes(
		attribute.String(tracing.AttrIdentifier, identifier),
		attribute.Bool("provenance.verification.record", o.record),
	))
	defer s.finish(ctx, span, OpVerify, time.Now(), &err)

	if identifier == "" {
		return models.Verification{}, dErrors.New(dErrors.CodeInvalidInput, "identifier is required")
	}

	var result models.Verification
	if !o.record {
		result, err = classify(ctx, s.ledger, identifier)
	} else {
		err = s.ledger.RunInTx(ctx, func(ctx context.Context, ledger store.Ledger) error {
			var err error
			result, err = classify(ctx, ledger, identifier)
			if err != nil {
				return err
			}
			return s.emit(ctx, audit.EventIdentifierVerified, result.SerialNumber, identifier, &models.Verified{
				Verification: result,
				OccurredAt:   requestcontext.Now(ctx),
			})
		})
	}
	if err != nil {
		return models.Verification{}, err
	}

	span.SetAttributes(attribute.String(tracing.AttrOutcome, string(result.Outcome)))
	s.metrics.IncVerification(string(result.Outcome))
	if result.Outcome != models.OutcomeAuthentic {
		s.logger.WarnContext(ctx, "identifier failed verification",
			"identifier", identifier,
			"outcome", string(result.Outcome),
			"serial_number", result.SerialNumber,
			"request_id", requestcontext.RequestID(ctx),
		)
	}
	return result, nil
}

// GetDetails returns the record for serialNumber.
func (s *Service) GetDetails(ctx context.Context, serialNumber string) (_ *models.Record, err error) {
	ctx, span := s.tracer.Start(ctx, "provenance.get_details", trace.WithAttributes(
		attribute.String(tracing.AttrSerialNumber, serialNumber),
	))
	defer s.finish(ctx, span, OpGetDetails, time.Now(), &err)

	return s.ledger.FindBySerial(ctx, serialNumber)
}

// GetHistory returns every identifier issued to serialNumber, oldest first.
func (s *Service) GetHistory(ctx context.Context, serialNumber string) (_ []string, err error) {
	ctx, span := s.tracer.Start(ctx, "provenance.get_history", trace.WithAttributes(
		attribute.String(tracing.AttrSerialNumber, serialNumber),
	))
	defer s.finish(ctx, span, OpGetHistory, time.Now(), &err)

	record, err := s.ledger.FindBySerial(ctx, serialNumber)
	if err != nil {
		return nil, err
	}
	return record.IdentifierHistory, nil
}

type reader interface {
	FindBySerial(ctx context.Context, serialNumber string) (*models.Record, error)
	Lookup(ctx context.Context, identifier string) (string, error)
}

func classify(ctx context.Context, r reader, identifier string) (models.Verification, error) {
	serial, err := r.Lookup(ctx, identifier)
	if errors.Is(err, sentinel.ErrNotFound) {
		return models.Classify(identifier, nil), nil
	}
	if err != nil {
		return models.Verification{}, err
	}
	owner, err := r.FindBySerial(ctx, serial)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return models.Verification{}, dErrors.Wrap(err, dErrors.CodeInvariantViolation, "indexed identifier has no record")
		}
		return models.Verification{}, err
	}
	return models.Classify(identifier, owner), nil
}

// ensureUnindexed rejects identifiers that were ever issued, to any serial.
func ensureUnindexed(ctx context.Context, ledger store.Index, identifier string) error {
	_, err := ledger.Lookup(ctx, identifier)
	switch {
	case err == nil:
		return dErrors.New(dErrors.CodeDuplicateIdentifier, "identifier already issued")
	case errors.Is(err, sentinel.ErrNotFound):
		return nil
	default:
		return err
	}
}

func insertIndex(ctx context.Context, ledger store.Index, identifier, serialNumber string) error {
	if err := ledger.Insert(ctx, identifier, serialNumber); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			return dErrors.New(dErrors.CodeDuplicateIdentifier, "identifier already issued")
		}
		return err
	}
	return nil
}

func (s *Service) emit(ctx context.Context, action audit.AuditEvent, serialNumber, identifier string, body any) error {
	if s.auditPublisher == nil {
		return nil
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return s.auditPublisher.Emit(ctx, audit.Event{
		Action:       string(action),
		SerialNumber: serialNumber,
		Identifier:   identifier,
		Payload:      payload,
	})
}

// finish translates *errp into a domain error tagged with op, then records the
// span and metrics.
func (s *Service) finish(ctx context.Context, span trace.Span, op string, start time.Time, errp *error) {
	if *errp != nil {
		*errp = dErrors.WithOp(op, translate(*errp))
		code := dErrors.CodeOf(*errp)
		span.SetAttributes(attribute.String(tracing.AttrErrorCode, string(code)))
		s.metrics.ObserveOperation(op, string(code), start)
		if code == dErrors.CodeInternal || code == dErrors.CodeInvariantViolation {
			s.logger.ErrorContext(ctx, "registry operation failed",
				"operation", op,
				"error", *errp,
				"request_id", requestcontext.RequestID(ctx),
			)
		}
	} else {
		s.metrics.ObserveOperation(op, "ok", start)
	}
	tracing.EndSpan(span, *errp)
}

// translate maps store sentinels to domain errors. Coded errors pass through.
func translate(err error) error {
	var de *dErrors.Error
	switch {
	case errors.As(err, &de):
		return err
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, "product not found")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, "concurrent update, retry the request")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return dErrors.Wrap(err, dErrors.CodeTimeout, "operation timed out")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "storage failure")
	}
}
