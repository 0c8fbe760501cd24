package httputil

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "provenance/pkg/domain-errors"
)

func decodeError(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body
}

func TestWriteError(t *testing.T) {
	cases := []struct {
		name        string
		err         error
		status      int
		code        string
		description string
	}{
		{"invalid input", dErrors.New(dErrors.CodeInvalidInput, "serial_number is required"), http.StatusBadRequest, "invalid_input", "serial_number is required"},
		{"unknown serial", dErrors.New(dErrors.CodeNotFound, "product not found"), http.StatusNotFound, "not_found", "product not found"},
		{"duplicate serial", dErrors.New(dErrors.CodeAlreadyExists, "serial number already registered"), http.StatusConflict, "already_exists", "serial number already registered"},
		{"identifier collision", dErrors.New(dErrors.CodeDuplicateIdentifier, "identifier already issued"), http.StatusConflict, "duplicate_identifier", "identifier already issued"},
		{"terminal stage keeps message under op tag", dErrors.WithOp("transfer", dErrors.New(dErrors.CodeTerminalStage, "product already at retail stage")), http.StatusConflict, "terminal_stage", "product already at retail stage"},
		{"abandoned read", dErrors.New(dErrors.CodeTimeout, "read abandoned"), http.StatusGatewayTimeout, "timeout", "read abandoned"},
		{"internal hides description", dErrors.New(dErrors.CodeInternal, "db failed"), http.StatusInternalServerError, "internal_error", ""},
		{"invariant violation hides description", dErrors.New(dErrors.CodeInvariantViolation, "history length mismatch"), http.StatusInternalServerError, "invariant_violation", ""},
		{"uncoded error is internal", errors.New("boom"), http.StatusInternalServerError, "internal_error", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, tc.err)

			assert.Equal(t, tc.status, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			assert.Empty(t, w.Header().Get("Retry-After"))
			body := decodeError(t, w)
			assert.Equal(t, tc.code, body["error"])
			desc, present := body["error_description"]
			if tc.description == "" {
				assert.False(t, present, "description should be omitted")
			} else {
				assert.Equal(t, tc.description, desc)
			}
		})
	}
}

func TestWriteError_NotVisibleAsksCallerToRetry(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, dErrors.New(dErrors.CodeNotVisible, `details "SN1" still not visible after 6 attempts`))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.Equal(t, "not_visible", decodeError(t, w)["error"])
}

type sampleRequest struct {
	Serial string `json:"serial_number"`
}

func (r *sampleRequest) Normalize() { r.Serial = strings.TrimSpace(r.Serial) }

func (r *sampleRequest) Validate() error {
	if r.Serial == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "serial_number is required")
	}
	return nil
}

func TestDecodeAndPrepare(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	decode := func(body string) (*sampleRequest, *httptest.ResponseRecorder, bool) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/products", strings.NewReader(body))
		req, ok := DecodeAndPrepare[sampleRequest](w, r, logger, r.Context(), "req-1")
		return req, w, ok
	}

	req, _, ok := decode(`{"serial_number":"  SN1 "}`)
	require.True(t, ok)
	assert.Equal(t, "SN1", req.Serial)

	_, w, ok := decode(`{"serial_number":`)
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "bad_request", decodeError(t, w)["error"])

	_, w, ok = decode(`{"serial_number":"   "}`)
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_input", decodeError(t, w)["error"])
}
