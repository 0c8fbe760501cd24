package consumer

import (
	"context"
	"encoding/json"
	"log/slog"

	"provenance/internal/platform/kafka/consumer"
	"provenance/pkg/platform/audit/worker"
)

// ActionHandler handles messages for one audit action.
type ActionHandler interface {
	Handle(ctx context.Context, msg *consumer.Message) error
}

// Router dispatches relayed outbox messages to handlers by audit action.
// Unrouted actions go to the fallback, or are acknowledged and skipped.
type Router struct {
	handlers map[string]ActionHandler
	fallback ActionHandler
	logger   *slog.Logger
	metrics  *Metrics
}

type Option func(*Router)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithFallback(h ActionHandler) Option {
	return func(r *Router) { r.fallback = h }
}

func WithMetrics(m *Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

func NewRouter(opts ...Option) *Router {
	r := &Router{
		handlers: make(map[string]ActionHandler),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register routes action to handler, replacing any earlier registration.
func (r *Router) Register(action string, handler ActionHandler) {
	r.handlers[action] = handler
}

// Handle routes msg by its event_type header. Messages relayed without the
// header are routed by the action inside the event envelope.
func (r *Router) Handle(ctx context.Context, msg *consumer.Message) error {
	action := actionOf(msg)
	handler, ok := r.handlers[action]
	if !ok {
		handler = r.fallback
	}
	if handler == nil {
		r.metrics.IncRouted(action, resultSkipped)
		r.logger.WarnContext(ctx, "no handler for action, skipping message",
			"action", action,
			"key", string(msg.Key),
			"offset", msg.Offset,
		)
		return nil
	}

	if err := handler.Handle(ctx, msg); err != nil {
		r.metrics.IncRouted(action, resultError)
		return err
	}
	r.metrics.IncRouted(action, resultHandled)
	return nil
}

func actionOf(msg *consumer.Message) string {
	if action := msg.Headers[worker.HeaderEventType]; action != "" {
		return action
	}
	var envelope struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal(msg.Value, &envelope); err != nil {
		return ""
	}
	return envelope.Action
}
