package projection

import (
	"context"

	"provenance/internal/provenance/models"
	"provenance/internal/provenance/service"
)

// Verifier answers verification queries against the ledger.
type Verifier interface {
	Verify(ctx context.Context, identifier string, opts ...service.VerifyOption) (models.Verification, error)
}

// ReadThrough serves details and history from the view and verification from
// the engine, so a recorded verification always reflects committed state.
type ReadThrough struct {
	view   *View
	engine Verifier
}

func NewReadThrough(view *View, engine Verifier) *ReadThrough {
	return &ReadThrough{view: view, engine: engine}
}

func (r *ReadThrough) GetDetails(ctx context.Context, serialNumber string) (*models.Record, error) {
	return r.view.GetDetails(ctx, serialNumber)
}

func (r *ReadThrough) GetHistory(ctx context.Context, serialNumber string) ([]string, error) {
	return r.view.GetHistory(ctx, serialNumber)
}

func (r *ReadThrough) Verify(ctx context.Context, identifier string, opts ...service.VerifyOption) (models.Verification, error) {
	return r.engine.Verify(ctx, identifier, opts...)
}
