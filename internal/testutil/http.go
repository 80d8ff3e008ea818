package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/erp/payroll/internal/interfaces/http/dto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Request describes one HTTP call against a handler tree
type Request struct {
	Method  string
	Path    string
	Body    interface{}
	Token   string
	Headers map[string]string
}

// Do serves the request and returns the recorder
func Do(t *testing.T, h http.Handler, r Request) *httptest.ResponseRecorder {
	t.Helper()

	var body io.Reader
	if r.Body != nil {
		body = ToJSONReader(t, r.Body)
	}
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}
	req := httptest.NewRequest(method, r.Path, body)
	if r.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.Token != "" {
		req.Header.Set("Authorization", "Bearer "+r.Token)
	}
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// Envelope parses the standard API response.
func Envelope(t *testing.T, w *httptest.ResponseRecorder) dto.Response {
	t.Helper()

	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), "Failed to parse JSON response: %s", w.Body.String())
	return resp
}

// Data decodes the data member of the standard API response into T.
func Data[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()

	var raw struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw), "Failed to parse JSON response")

	var out T
	require.NoError(t, json.Unmarshal(raw.Data, &out), "Failed to parse response data: %s", string(raw.Data))
	return out
}

// AssertSuccess asserts the response carries the expected status and a success envelope.
func AssertSuccess(t *testing.T, w *httptest.ResponseRecorder, status int) {
	t.Helper()

	require.Equal(t, status, w.Code, "Unexpected status code: %s", w.Body.String())
	resp := Envelope(t, w)
	assert.True(t, resp.Success, "Expected success to be true")
	assert.Nil(t, resp.Error, "Expected no error")
}

// AssertError asserts the response is an error envelope with the given status and code.
func AssertError(t *testing.T, w *httptest.ResponseRecorder, status int, code string) *dto.ErrorInfo {
	t.Helper()

	require.Equal(t, status, w.Code, "Unexpected status code: %s", w.Body.String())
	resp := Envelope(t, w)
	assert.False(t, resp.Success, "Expected success to be false")
	require.NotNil(t, resp.Error, "Expected error object in response")
	assert.Equal(t, code, resp.Error.Code, "Unexpected error code")
	return resp.Error
}

// ToJSONReader converts a value to a JSON io.Reader.
func ToJSONReader(t *testing.T, v interface{}) io.Reader {
	t.Helper()

	data, err := json.Marshal(v)
	require.NoError(t, err, "Failed to marshal to JSON")
	return bytes.NewReader(data)
}
