package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iota-uz/policyhub/pkg/composables"
)

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) ErrorEnvelope {
	t.Helper()
	var env ErrorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func TestFail_UsesRequestIDFromContext(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/ingest/api/runs", nil)
	req = req.WithContext(composables.WithRequestID(req.Context(), "req-1"))
	rec := httptest.NewRecorder()

	Fail(rec, req, http.StatusUnprocessableEntity, CodeValidationFailed, errors.New("rows is required"))

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	env := decodeEnvelope(t, rec)
	require.Equal(t, CodeValidationFailed, env.Code)
	require.Equal(t, "rows is required", env.Message)
	require.Equal(t, "req-1", env.Meta["request_id"])
}

func TestNotFoundAndMethodNotAllowed(t *testing.T) {
	rec := httptest.NewRecorder()
	rec.Header().Set("X-Request-Id", "req-2")
	NotFound()(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
	env := decodeEnvelope(t, rec)
	require.Equal(t, CodeNotFound, env.Code)
	require.Equal(t, "/nope", env.Meta["path"])
	require.Equal(t, "req-2", env.Meta["request_id"])

	rec = httptest.NewRecorder()
	MethodNotAllowed()(rec, httptest.NewRequest(http.MethodDelete, "/ingest/api/runs", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	require.Equal(t, http.MethodDelete, decodeEnvelope(t, rec).Meta["method"])
}
