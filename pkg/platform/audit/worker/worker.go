// Package worker relays committed outbox entries to Kafka. Entries for one
// serial number are published in commit order under the serial as the record
// key, so downstream consumers see a product's events in sequence.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"provenance/internal/platform/kafka/producer"
	"provenance/pkg/platform/circuit"
)

// Entry is one outbox row.
type Entry struct {
	ID          uuid.UUID
	Seq         int64
	AggregateID string
	EventType   string
	Payload     []byte
	CreatedAt   time.Time
}

// Outbox hands out unpublished entries. publish must succeed for the batch to
// be marked published.
type Outbox interface {
	Claim(ctx context.Context, limit int, publish func(context.Context, []Entry) error) (int, error)
}

// Publisher sends messages to the stream.
type Publisher interface {
	Publish(ctx context.Context, msgs ...producer.Message) error
}

// HeaderEventType names the header carrying the audit action.
const HeaderEventType = "event_type"

// Worker polls the outbox and publishes batches.
type Worker struct {
	outbox    Outbox
	publisher Publisher
	topic     string
	interval  time.Duration
	batchSize int
	breaker   *circuit.Breaker
	logger    *slog.Logger
	metrics   *Metrics
	now       func() time.Time
}

// Option configures the Worker.
type Option func(*Worker)

func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) { w.logger = logger }
}

func WithMetrics(m *Metrics) Option {
	return func(w *Worker) { w.metrics = m }
}

func WithInterval(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.interval = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.batchSize = n
		}
	}
}

// WithBreaker replaces the default breaker guarding the publisher.
func WithBreaker(b *circuit.Breaker) Option {
	return func(w *Worker) { w.breaker = b }
}

func NewWorker(outbox Outbox, publisher Publisher, topic string, opts ...Option) *Worker {
	w := &Worker{
		outbox:    outbox,
		publisher: publisher,
		topic:     topic,
		interval:  time.Second,
		batchSize: 100,
		breaker:   circuit.New("outbox-relay"),
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run relays until ctx is cancelled. A full batch is followed immediately by
// another poll; otherwise the worker waits for the interval.
func (w *Worker) Run(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		n, err := w.RelayOnce(ctx)
		if err != nil && ctx.Err() == nil {
			w.logger.WarnContext(ctx, "outbox relay failed", "error", err)
		}
		next := w.interval
		if err == nil && n == w.batchSize {
			next = 0
		}
		timer.Reset(next)
	}
}

// RelayOnce publishes at most one batch and returns how many entries were
// marked published. While the breaker is open it returns 0 without touching
// the outbox.
func (w *Worker) RelayOnce(ctx context.Context) (int, error) {
	if !w.breaker.Allow() {
		w.metrics.IncSkipped()
		return 0, nil
	}

	n, err := w.outbox.Claim(ctx, w.batchSize, func(ctx context.Context, entries []Entry) error {
		msgs := make([]producer.Message, 0, len(entries))
		for _, e := range entries {
			msgs = append(msgs, producer.Message{
				Topic:   w.topic,
				Key:     []byte(e.AggregateID),
				Value:   e.Payload,
				Headers: map[string]string{HeaderEventType: e.EventType, "event_id": e.ID.String()},
			})
		}
		if err := w.publisher.Publish(ctx, msgs...); err != nil {
			if _, change := w.breaker.RecordFailure(); change.Opened {
				w.logger.WarnContext(ctx, "outbox relay circuit opened", "breaker", w.breaker.Name())
			}
			w.metrics.SetBreakerOpen(w.breaker.IsOpen())
			return err
		}
		if _, change := w.breaker.RecordSuccess(); change.Closed {
			w.logger.InfoContext(ctx, "outbox relay circuit closed", "breaker", w.breaker.Name())
		}
		w.metrics.SetBreakerOpen(w.breaker.IsOpen())
		w.metrics.ObserveLag(w.now().Sub(entries[0].CreatedAt))
		return nil
	})
	if err != nil {
		return 0, err
	}
	w.metrics.AddRelayed(n)
	return n, nil
}
