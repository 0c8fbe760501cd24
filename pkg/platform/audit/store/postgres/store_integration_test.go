//go:build integration

package postgres_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/suite"

	"provenance/internal/platform/kafka/producer"
	"provenance/internal/provenance/service"
	"provenance/internal/provenance/store"
	dErrors "provenance/pkg/domain-errors"
	"provenance/pkg/platform/audit"
	"provenance/pkg/platform/audit/publisher"
	auditpostgres "provenance/pkg/platform/audit/store/postgres"
	"provenance/pkg/platform/audit/worker"
	"provenance/pkg/testutil/containers"
)

type OutboxSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	audit    *auditpostgres.Store
	outbox   *auditpostgres.Outbox
	engine   *service.Service
}

func TestOutboxSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(OutboxSuite))
}

func (s *OutboxSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.audit = auditpostgres.New(s.postgres.DB)
	s.outbox = auditpostgres.NewOutbox(s.postgres.DB)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.engine = service.New(store.NewPostgres(s.postgres.DB),
		service.WithLogger(logger),
		service.WithAuditPublisher(publisher.NewPublisher(s.audit, publisher.WithLogger(logger))),
	)
}

func (s *OutboxSuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(),
		"identifier_index", "identifier_history", "products", "outbox", "audit_events")
	s.Require().NoError(err)
}

type capturePublisher struct {
	msgs []producer.Message
	err  error
}

func (c *capturePublisher) Publish(_ context.Context, msgs ...producer.Message) error {
	if c.err != nil {
		return c.err
	}
	c.msgs = append(c.msgs, msgs...)
	return nil
}

func (s *OutboxSuite) TestWritesCommitWithTheirEvents() {
	ctx := context.Background()
	_, err := s.engine.Register(ctx, "SN1", "ID-A", "Widget", "Acme")
	s.Require().NoError(err)
	_, err = s.engine.Transfer(ctx, "SN1", "ID-B")
	s.Require().NoError(err)

	_, err = s.engine.Transfer(ctx, "SN1", "ID-A")
	s.True(dErrors.HasCode(err, dErrors.CodeDuplicateIdentifier))

	events, err := s.audit.ListBySerial(ctx, "SN1")
	s.Require().NoError(err)
	s.Require().Len(events, 2)
	s.Equal(string(audit.EventProductRegistered), events[0].Action)
	s.Equal(string(audit.EventCustodyTransferred), events[1].Action)

	pending, err := s.outbox.Pending(ctx)
	s.Require().NoError(err)
	s.Equal(2, pending)
}

func (s *OutboxSuite) TestRecordedVerification() {
	ctx := context.Background()
	_, err := s.engine.Register(ctx, "SN1", "ID-A", "Widget", "Acme")
	s.Require().NoError(err)

	v, err := s.engine.Verify(ctx, "ID-A", service.WithAuditRecord())
	s.Require().NoError(err)
	s.True(v.IsAuthentic)

	events, err := s.audit.ListBySerial(ctx, "SN1")
	s.Require().NoError(err)
	s.Require().Len(events, 2)
	s.Equal(string(audit.EventIdentifierVerified), events[1].Action)
}

func (s *OutboxSuite) TestRelayPublishesInOrderAndMarks() {
	ctx := context.Background()
	_, err := s.engine.Register(ctx, "SN1", "ID-A", "Widget", "Acme")
	s.Require().NoError(err)
	_, err = s.engine.Transfer(ctx, "SN1", "ID-B")
	s.Require().NoError(err)

	failing := &capturePublisher{err: errors.New("broker down")}
	w := worker.NewWorker(s.outbox, failing, "provenance.events", worker.WithBatchSize(10))
	_, err = w.RelayOnce(ctx)
	s.Require().Error(err)
	pending, err := s.outbox.Pending(ctx)
	s.Require().NoError(err)
	s.Equal(2, pending, "failed publish leaves entries pending")

	capture := &capturePublisher{}
	w = worker.NewWorker(s.outbox, capture, "provenance.events", worker.WithBatchSize(10))
	n, err := w.RelayOnce(ctx)
	s.Require().NoError(err)
	s.Equal(2, n)
	s.Require().Len(capture.msgs, 2)
	s.Equal(string(audit.EventProductRegistered), capture.msgs[0].Headers[worker.HeaderEventType])
	s.Equal("SN1", string(capture.msgs[1].Key))

	var envelope audit.Event
	s.Require().NoError(json.Unmarshal(capture.msgs[1].Value, &envelope))
	s.Equal("ID-B", envelope.Identifier)

	pending, err = s.outbox.Pending(ctx)
	s.Require().NoError(err)
	s.Zero(pending)
}
