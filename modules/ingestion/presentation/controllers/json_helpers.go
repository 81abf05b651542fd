package controllers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gabriel-vasile/mimetype"

	"github.com/iota-uz/policyhub/modules/ingestion/domain/records"
	"github.com/iota-uz/policyhub/pkg/composables"
	"github.com/iota-uz/policyhub/pkg/httpapi"
)

var errTrailingData = errors.New("request body must contain a single JSON object")

func writeJSON(w http.ResponseWriter, r *http.Request, status int, payload any) {
	if err := httpapi.WriteJSON(w, status, payload); err != nil {
		composables.UseLogger(r.Context()).WithError(err).Warn("failed to write response")
	}
}

var errUnsupportedMedia = errors.New("request body must be JSON; spreadsheets are not accepted")

// decodeJSON reads one JSON document of at most limit bytes into dst.
// Numbers are kept as json.Number. Binary bodies are rejected before parsing.
func decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, dst any) error {
	if limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	if !isText(data) {
		return fmt.Errorf("%w: got %s", errUnsupportedMedia, mimetype.Detect(data).String())
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errTrailingData
	}
	return nil
}

// isText reports whether data sniffs as text; JSON descends from text/plain.
func isText(data []byte) bool {
	if len(data) == 0 {
		return true
	}
	for m := mimetype.Detect(data); m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}

// writeDecodeError maps a decodeJSON failure to 415, 413 or 400.
func writeDecodeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, errUnsupportedMedia) {
		httpapi.Fail(w, r, http.StatusUnsupportedMediaType, httpapi.CodeUnsupportedMedia, err)
		return
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		httpapi.Fail(w, r, http.StatusRequestEntityTooLarge, httpapi.CodeTooLarge,
			fmt.Errorf("request body exceeds %d bytes", tooLarge.Limit))
		return
	}
	httpapi.Fail(w, r, http.StatusBadRequest, httpapi.CodeInvalidRequest, fmt.Errorf("invalid json: %w", err))
}

// writeStoreError maps storage failures to 503 when the store is unreachable.
func writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	if records.IsUnavailable(err) || errors.Is(err, composables.ErrNoPool) {
		httpapi.Fail(w, r, http.StatusServiceUnavailable, httpapi.CodeUnavailable, err)
		return
	}
	httpapi.Fail(w, r, http.StatusInternalServerError, httpapi.CodeInternal, err)
}
