// Package reader wraps the registry's read operations for callers that may
// read before a preceding write is visible. Reads that come back not_found are
// retried on a backoff schedule; anything else, including a negative
// verification, is returned as is.
package reader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"provenance/internal/provenance/metrics"
	"provenance/internal/provenance/models"
	"provenance/internal/provenance/service"
	dErrors "provenance/pkg/domain-errors"
	"provenance/pkg/requestcontext"
)

// Query names used in errors, logs and metrics.
const (
	QueryDetails = "details"
	QueryHistory = "history"
	QueryVerify  = "verify"
)

// Source serves registry reads. *service.Service satisfies it, as does the
// Redis projection.
type Source interface {
	GetDetails(ctx context.Context, serialNumber string) (*models.Record, error)
	GetHistory(ctx context.Context, serialNumber string) ([]string, error)
	Verify(ctx context.Context, identifier string, opts ...service.VerifyOption) (models.Verification, error)
}

// ErrNotVisible matches every NotVisibleError with errors.Is.
var ErrNotVisible = errors.New("not visible")

// NotVisibleError reports that a read was still not_found when the retry
// budget ran out. It is distinct from a confirmed not_found: the caller may
// wait longer or conclude the item does not exist.
type NotVisibleError struct {
	Query    string
	Key      string
	Attempts int
	Last     error
}

func (e *NotVisibleError) Error() string {
	return fmt.Sprintf("%s %q still not visible after %d attempts", e.Query, e.Key, e.Attempts)
}

func (e *NotVisibleError) Is(target error) bool {
	return target == ErrNotVisible
}

func (e *NotVisibleError) Unwrap() error {
	return e.Last
}

// Reader retries reads against a Source under a Policy.
type Reader struct {
	source  Source
	policy  Policy
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Reader)

func WithPolicy(p Policy) Option {
	return func(r *Reader) { r.policy = p }
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Reader) { r.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Reader) { r.metrics = m }
}

// New creates a Reader with DefaultPolicy unless overridden. A policy that
// fails Validate is clamped: fewer than one attempt becomes one.
func New(source Source, opts ...Option) *Reader {
	r := &Reader{
		source: source,
		policy: DefaultPolicy(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if err := r.policy.Validate(); err != nil {
		r.logger.Warn("reader policy clamped", "error", err)
		r.policy = r.policy.clamped()
	}
	return r
}

// Policy returns the active retry policy.
func (r *Reader) Policy() Policy {
	return r.policy
}

// GetDetails reads a record, retrying while it is not yet visible.
func (r *Reader) GetDetails(ctx context.Context, serialNumber string) (*models.Record, error) {
	return retry(ctx, r, QueryDetails, serialNumber, func(ctx context.Context) (*models.Record, error) {
		return r.source.GetDetails(ctx, serialNumber)
	})
}

// GetHistory reads an identifier history, retrying while it is not yet visible.
func (r *Reader) GetHistory(ctx context.Context, serialNumber string) ([]string, error) {
	return retry(ctx, r, QueryHistory, serialNumber, func(ctx context.Context) ([]string, error) {
		return r.source.GetHistory(ctx, serialNumber)
	})
}

// Verify classifies identifier. Unknown and stale are final answers and are
// never retried; only a not_found failure from the source is.
func (r *Reader) Verify(ctx context.Context, identifier string, opts ...service.VerifyOption) (models.Verification, error) {
	return retry(ctx, r, QueryVerify, identifier, func(ctx context.Context) (models.Verification, error) {
		return r.source.Verify(ctx, identifier, opts...)
	})
}

func retry[T any](ctx context.Context, r *Reader, query, key string, read func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := wait(ctx, r.policy.InitialDelay); err != nil {
		return zero, abandoned(err)
	}

	var lastErr error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		result, err := read(ctx)
		if err == nil {
			r.metrics.ObserveReaderAttempts(query, attempt)
			return result, nil
		}
		if !dErrors.HasCode(err, dErrors.CodeNotFound) {
			r.metrics.ObserveReaderAttempts(query, attempt)
			return zero, err
		}
		lastErr = err
		if attempt == r.policy.MaxAttempts {
			break
		}

		delay := r.policy.Backoff(attempt)
		r.logger.DebugContext(ctx, "read not yet visible, retrying",
			"query", query,
			"key", key,
			"attempt", attempt,
			"delay", delay,
			"request_id", requestcontext.RequestID(ctx),
		)
		if err := wait(ctx, delay); err != nil {
			return zero, abandoned(err)
		}
	}

	r.metrics.ObserveReaderAttempts(query, r.policy.MaxAttempts)
	r.metrics.IncReaderExhausted(query)
	nv := &NotVisibleError{Query: query, Key: key, Attempts: r.policy.MaxAttempts, Last: lastErr}
	r.logger.WarnContext(ctx, "read budget exhausted",
		"query", query,
		"key", key,
		"attempts", nv.Attempts,
		"request_id", requestcontext.RequestID(ctx),
	)
	return zero, dErrors.Wrap(nv, dErrors.CodeNotVisible, nv.Error())
}

// wait blocks for d or until ctx is done.
func wait(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func abandoned(err error) error {
	return dErrors.Wrap(err, dErrors.CodeTimeout, "read abandoned by caller")
}

// AttemptsOf extracts the attempt count from a not-visible error.
func AttemptsOf(err error) (int, bool) {
	var nv *NotVisibleError
	if errors.As(err, &nv) {
		return nv.Attempts, true
	}
	return 0, false
}
