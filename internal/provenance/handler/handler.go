// Package handler exposes the registry over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"provenance/internal/provenance/identifier"
	"provenance/internal/provenance/models"
	"provenance/internal/provenance/service"
	dErrors "provenance/pkg/domain-errors"
	"provenance/pkg/platform/audit"
	"provenance/pkg/platform/httputil"
	"provenance/pkg/requestcontext"
)

// Service is the write side and the strongly consistent verify.
type Service interface {
	Register(ctx context.Context, serialNumber, initialIdentifier, productName, manufacturer string) (*models.Registered, error)
	Transfer(ctx context.Context, serialNumber, newIdentifier string) (*models.Transferred, error)
	Verify(ctx context.Context, identifier string, opts ...service.VerifyOption) (models.Verification, error)
	GetDetails(ctx context.Context, serialNumber string) (*models.Record, error)
}

// Reader serves record reads that may trail the last write.
type Reader interface {
	GetDetails(ctx context.Context, serialNumber string) (*models.Record, error)
	GetHistory(ctx context.Context, serialNumber string) ([]string, error)
}

// AuditTrail lists recorded events for a product.
type AuditTrail interface {
	List(ctx context.Context, serialNumber string) ([]audit.Event, error)
}

// Generator issues identifiers when a request omits one.
type Generator interface {
	Generate(stage models.Stage) string
}

// Handler wires registry endpoints to the engine and reader.
type Handler struct {
	service   Service
	reader    Reader
	audit     AuditTrail
	generator Generator
	logger    *slog.Logger
}

// New constructs a registry handler. audit may be nil, in which case
// GET /audit is not mounted.
func New(svc Service, reader Reader, trail AuditTrail, logger *slog.Logger) *Handler {
	return &Handler{
		service:   svc,
		reader:    reader,
		audit:     trail,
		generator: identifier.NewGenerator(),
		logger:    logger,
	}
}

// WithGenerator replaces the identifier generator.
func (h *Handler) WithGenerator(g Generator) *Handler {
	h.generator = g
	return h
}

// Register mounts registry endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/products", h.HandleRegister)
	r.Post("/products/{serial}/transfer", h.HandleTransfer)
	r.Get("/products/{serial}", h.HandleGetDetails)
	r.Get("/products/{serial}/history", h.HandleGetHistory)
	r.Post("/verify", h.HandleVerify)
	if h.audit != nil {
		r.Get("/audit", h.HandleListAudit)
	}
}

// HandleRegister handles POST /products.
func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	req, ok := httputil.DecodeAndPrepare[RegisterRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	if req.InitialIdentifier == "" {
		req.InitialIdentifier = h.generator.Generate(models.StageManufacturer)
	}

	event, err := h.service.Register(ctx, req.SerialNumber, req.InitialIdentifier, req.ProductName, req.Manufacturer)
	if err != nil {
		h.logger.WarnContext(ctx, "product registration failed",
			"request_id", requestID,
			"serial_number", req.SerialNumber,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "product registered",
		"request_id", requestID,
		"serial_number", event.SerialNumber,
		"identifier", event.Identifier,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusCreated, event)
}

// HandleTransfer handles POST /products/{serial}/transfer.
func (h *Handler) HandleTransfer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	serial := chi.URLParam(r, "serial")

	req, ok := httputil.DecodeAndPrepare[TransferRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	if req.NewIdentifier == "" {
		id, err := h.nextIdentifier(ctx, serial)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		req.NewIdentifier = id
	}

	event, err := h.service.Transfer(ctx, serial, req.NewIdentifier)
	if err != nil {
		h.logger.WarnContext(ctx, "custody transfer failed",
			"request_id", requestID,
			"serial_number", serial,
			"identifier", req.NewIdentifier,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "custody transferred",
		"request_id", requestID,
		"serial_number", event.SerialNumber,
		"stage", event.NewStage.String(),
	)
	httputil.WriteJSON(w, http.StatusOK, event)
}

// nextIdentifier generates an identifier prefixed for the stage serial is
// about to enter. A terminal record still gets one; Transfer rejects it.
func (h *Handler) nextIdentifier(ctx context.Context, serial string) (string, error) {
	record, err := h.service.GetDetails(ctx, serial)
	if err != nil {
		return "", err
	}
	next, ok := record.Stage.Next()
	if !ok {
		next = record.Stage
	}
	return h.generator.Generate(next), nil
}

// HandleGetDetails handles GET /products/{serial}.
func (h *Handler) HandleGetDetails(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	serial := chi.URLParam(r, "serial")

	record, err := h.reader.GetDetails(ctx, serial)
	if err != nil {
		h.logReadFailure(ctx, "details", serial, err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromRecord(record))
}

// HandleGetHistory handles GET /products/{serial}/history.
func (h *Handler) HandleGetHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	serial := chi.URLParam(r, "serial")

	history, err := h.reader.GetHistory(ctx, serial)
	if err != nil {
		h.logReadFailure(ctx, "history", serial, err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, HistoryResponse{SerialNumber: serial, Identifiers: history})
}

// HandleVerify handles POST /verify. Unknown and stale identifiers are
// answered with 200; they are results, not failures.
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[VerifyRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	var opts []service.VerifyOption
	if req.Record {
		opts = append(opts, service.WithAuditRecord())
	}

	result, err := h.service.Verify(ctx, req.Identifier, opts...)
	if err != nil {
		h.logger.ErrorContext(ctx, "verification failed",
			"request_id", requestID,
			"identifier", req.Identifier,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

// HandleListAudit handles GET /audit?serial=.
func (h *Handler) HandleListAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	serial := r.URL.Query().Get("serial")
	if serial == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "serial query parameter is required"))
		return
	}

	events, err := h.audit.List(ctx, serial)
	if err != nil {
		h.logger.ErrorContext(ctx, "audit listing failed",
			"request_id", requestcontext.RequestID(ctx),
			"serial_number", serial,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromEvents(serial, events))
}

func (h *Handler) logReadFailure(ctx context.Context, query, serial string, err error) {
	if dErrors.HasCode(err, dErrors.CodeNotFound) {
		return
	}
	h.logger.WarnContext(ctx, "product read failed",
		"request_id", requestcontext.RequestID(ctx),
		"query", query,
		"serial_number", serial,
		"error", err,
	)
}
