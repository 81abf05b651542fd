package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/iota-uz/policyhub/pkg/composables"
)

const (
	CodeInvalidRequest   = "INVALID_REQUEST"
	CodeValidationFailed = "VALIDATION_FAILED"
	CodeNotFound         = "NOT_FOUND"
	CodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	CodeTooLarge         = "PAYLOAD_TOO_LARGE"
	CodeUnsupportedMedia = "UNSUPPORTED_MEDIA_TYPE"
	CodeRateLimited      = "RATE_LIMITED"
	CodeUnavailable      = "SERVICE_UNAVAILABLE"
	CodeInternal         = "INTERNAL_SERVER_ERROR"
)

// ErrorEnvelope is the body of every JSON error response.
type ErrorEnvelope struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Meta    map[string]string `json:"meta,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, payload any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return nil
	}
	return json.NewEncoder(w).Encode(payload)
}

func WriteError(w http.ResponseWriter, status int, code, message string, meta map[string]string) error {
	return WriteJSON(w, status, &ErrorEnvelope{
		Code:    code,
		Message: message,
		Meta:    meta,
	})
}

// RequestMeta returns the envelope meta for r, carrying its request id when known.
func RequestMeta(w http.ResponseWriter, r *http.Request) map[string]string {
	meta := map[string]string{}
	if id, ok := composables.UseRequestID(r.Context()); ok {
		meta["request_id"] = id
	} else if id := strings.TrimSpace(w.Header().Get("X-Request-Id")); id != "" {
		meta["request_id"] = id
	}
	return meta
}

// Fail writes an error envelope for r and logs server-side failures.
func Fail(w http.ResponseWriter, r *http.Request, status int, code string, err error) {
	if status >= http.StatusInternalServerError {
		composables.UseLogger(r.Context()).WithError(err).Error(code)
	}
	if err := WriteError(w, status, code, err.Error(), RequestMeta(w, r)); err != nil {
		composables.UseLogger(r.Context()).WithError(err).Warn("failed to write error response")
	}
}

func NotFound() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		meta := RequestMeta(w, r)
		meta["path"] = r.URL.Path
		_ = WriteError(w, http.StatusNotFound, CodeNotFound, "not found", meta)
	}
}

func MethodNotAllowed() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		meta := RequestMeta(w, r)
		meta["path"] = r.URL.Path
		meta["method"] = r.Method
		_ = WriteError(w, http.StatusMethodNotAllowed, CodeMethodNotAllowed, "method not allowed", meta)
	}
}
