// Package testutil drives HTTP handlers in tests without a listening server.
package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"provenance/pkg/platform/httputil"
)

// Client sends JSON requests straight into an http.Handler.
type Client struct {
	t       *testing.T
	handler http.Handler
	header  http.Header
}

func NewClient(t *testing.T, handler http.Handler) *Client {
	return &Client{t: t, handler: handler, header: http.Header{}}
}

// WithHeader returns a copy of c that adds key to every request.
func (c *Client) WithHeader(key, value string) *Client {
	header := c.header.Clone()
	header.Set(key, value)
	return &Client{t: c.t, handler: c.handler, header: header}
}

// Do sends body (JSON encoded unless nil) and records the response.
func (c *Client) Do(method, path string, body any) *httptest.ResponseRecorder {
	c.t.Helper()

	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(c.t, err, "encode request body")
		payload = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, payload)
	req.Header.Set("Content-Type", "application/json")
	for key, values := range c.header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	rec := httptest.NewRecorder()
	c.handler.ServeHTTP(rec, req)
	return rec
}

// DecodeJSON decodes the recorded body into T, failing the test on bad JSON.
func DecodeJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "decode response: %s", rec.Body.String())
	return out
}

// RequireError checks an error envelope and returns its description.
func RequireError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) string {
	t.Helper()
	require.Equal(t, status, rec.Code, "status for body %s", rec.Body.String())
	resp := DecodeJSON[httputil.ErrorResponse](t, rec)
	require.Equal(t, code, resp.Error)
	return resp.Description
}
