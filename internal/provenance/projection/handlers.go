package projection

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"provenance/internal/platform/kafka/consumer"
	"provenance/internal/provenance/models"
	"provenance/pkg/platform/audit"
	auditconsumer "provenance/pkg/platform/audit/consumer"
)

// Applier folds registry events into a read model.
type Applier interface {
	ApplyRegistered(ctx context.Context, ev models.Registered) error
	ApplyTransferred(ctx context.Context, ev models.Transferred) error
}

// RegisterHandlers wires the applier into the audit stream router.
// Verification events carry no state for the view and are acknowledged.
func RegisterHandlers(router *auditconsumer.Router, applier Applier, logger *slog.Logger) {
	router.Register(string(audit.EventProductRegistered), consumer.HandlerFunc(
		func(ctx context.Context, msg *consumer.Message) error {
			var ev models.Registered
			if !decode(ctx, logger, msg, &ev) {
				return nil
			}
			return applier.ApplyRegistered(ctx, ev)
		}))
	router.Register(string(audit.EventCustodyTransferred), consumer.HandlerFunc(
		func(ctx context.Context, msg *consumer.Message) error {
			var ev models.Transferred
			if !decode(ctx, logger, msg, &ev) {
				return nil
			}
			return applier.ApplyTransferred(ctx, ev)
		}))
	router.Register(string(audit.EventIdentifierVerified), consumer.HandlerFunc(
		func(context.Context, *consumer.Message) error { return nil }))
}

// decode unwraps the audit envelope into body. Undecodable messages are
// logged and dropped; retrying them cannot succeed.
func decode(ctx context.Context, logger *slog.Logger, msg *consumer.Message, body any) bool {
	var event audit.Event
	err := json.Unmarshal(msg.Value, &event)
	if err == nil && len(event.Payload) == 0 {
		err = errors.New("empty payload")
	}
	if err == nil {
		err = json.Unmarshal(event.Payload, body)
	}
	if err != nil {
		logger.ErrorContext(ctx, "dropping undecodable projection event",
			"topic", msg.Topic,
			"partition", msg.Partition,
			"offset", msg.Offset,
			"key", string(msg.Key),
			"error", err,
		)
		return false
	}
	return true
}
