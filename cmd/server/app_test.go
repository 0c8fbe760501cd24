package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"provenance/internal/platform/config"
	"provenance/internal/provenance/handler"
	"provenance/internal/provenance/models"
	"provenance/pkg/testutil"
)

func newTestApp(t *testing.T, overrides ...func(*config.Server)) *testutil.Client {
	t.Helper()
	cfg := config.Server{
		Addr:    ":0",
		Storage: config.StorageMemory,
		Reader:  config.ReaderConfig{MaxAttempts: 2, Backoff: "zero"},
		Tracing: config.TracingConfig{Exporter: "none"},
	}
	for _, o := range overrides {
		o(&cfg)
	}
	a, err := newApp(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(a.close)
	return testutil.NewClient(t, a.handler)
}

func TestServer_ProductLifecycle(t *testing.T) {
	c := newTestApp(t).WithHeader("X-Forwarded-For", "203.0.113.7")

	rec := c.Do(http.MethodPost, "/products", map[string]string{
		"serial_number": "SN1", "initial_identifier": "ID-A", "product_name": "Widget", "manufacturer": "Acme",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = c.Do(http.MethodPost, "/products/SN1/transfer", map[string]string{})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	transferred := testutil.DecodeJSON[models.Transferred](t, rec)
	assert.Regexp(t, `^DIST-`, transferred.NewIdentifier)

	rec = c.Do(http.MethodGet, "/products/SN1/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ID-A")

	rec = c.Do(http.MethodPost, "/verify", map[string]any{"identifier": "ID-A", "record": true})
	require.Equal(t, http.StatusOK, rec.Code)
	v := testutil.DecodeJSON[models.Verification](t, rec)
	assert.Equal(t, models.OutcomeStale, v.Outcome)

	rec = c.Do(http.MethodGet, "/audit?serial=SN1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	trail := testutil.DecodeJSON[struct {
		Events []struct {
			Action   string `json:"action"`
			ClientIP string `json:"client_ip"`
		} `json:"events"`
	}](t, rec)
	require.Len(t, trail.Events, 3)
	assert.Equal(t, "identifier_verified", trail.Events[2].Action)
	assert.Equal(t, "203.0.113.7", trail.Events[0].ClientIP)
}

func TestServer_MemoryStorageIgnoresProjectionSettings(t *testing.T) {
	// Nothing listens on these ports; without a relay neither is dialled.
	c := newTestApp(t, func(cfg *config.Server) {
		cfg.Kafka = config.KafkaConfig{Brokers: []string{"127.0.0.1:1"}, Topic: "provenance.audit"}
		cfg.Redis = config.RedisConfig{URL: "redis://127.0.0.1:1/0"}
	})

	rec := c.Do(http.MethodPost, "/products", map[string]string{
		"serial_number": "SN1", "initial_identifier": "ID-A", "product_name": "Widget", "manufacturer": "Acme",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = c.Do(http.MethodGet, "/products/SN1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	record := testutil.DecodeJSON[handler.RecordResponse](t, rec)
	assert.Equal(t, "ID-A", record.CurrentIdentifier)
	assert.Equal(t, "manufacturer", record.Stage)

	rec = c.Do(http.MethodGet, "/products/SN1/history", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "ID-A")
}

func TestServer_UnknownProductExhaustsReader(t *testing.T) {
	c := newTestApp(t)

	rec := c.Do(http.MethodGet, "/products/SN-missing", nil)
	desc := testutil.RequireError(t, rec, http.StatusServiceUnavailable, "not_visible")
	assert.Contains(t, desc, "2 attempts")
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestServer_MetricsAndHealth(t *testing.T) {
	c := newTestApp(t)
	c.Do(http.MethodPost, "/verify", map[string]string{"identifier": "ID-X"})

	rec := c.Do(http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = c.Do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `provenance_verifications_total{outcome="unknown"} 1`)
	assert.Contains(t, rec.Body.String(), `provenance_http_requests_total`)
}

func TestHealthHandler_ReportsFailingComponent(t *testing.T) {
	h := healthHandler(map[string]func(context.Context) error{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	})
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"redis":"connection refused"`)
}

func TestNewApp_RejectsUnknownStorage(t *testing.T) {
	_, err := newApp(context.Background(), config.Server{Storage: "sqlite", Reader: config.ReaderConfig{MaxAttempts: 1}},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)
}
