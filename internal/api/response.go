// Package api implements the HTTP REST and WebSocket layer: chi-routed
// handlers answering queries by joining the SQLite mirror with
// on-the-fly JSONL reads, wrapped in a uniform JSON envelope.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/runicorn/runicorn/internal/apierr"
)

// envelope is the standard JSON response wrapper. Successful responses
// wrap the payload in a "data" key; errors use an "error" key with a
// human-readable message, a machine-readable code, and optional detail.
//
// Success:  {"data": <payload>}
// Error:    {"error": {"message": "...", "code": "...", "detail": ...}}
type envelope map[string]any

// JSON writes a JSON-encoded response with the given status code.
func JSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// Ok writes a 200 OK response with the payload wrapped in {"data": payload}.
func Ok(w http.ResponseWriter, payload any) {
	JSON(w, http.StatusOK, envelope{"data": payload})
}

// Created writes a 201 Created response.
func Created(w http.ResponseWriter, payload any) {
	JSON(w, http.StatusCreated, envelope{"data": payload})
}

// NoContent writes a 204 No Content response with no body.
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

type errorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Detail  any    `json:"detail,omitempty"`
}

func errJSON(w http.ResponseWriter, status int, message, code string, detail any) {
	JSON(w, status, envelope{"error": errorResponse{Message: message, Code: code, Detail: detail}})
}

// ErrBadRequest writes a 400 response — malformed IDs, invalid path,
// downsample ≤ 0, oversized payload.
func ErrBadRequest(w http.ResponseWriter, message string) {
	errJSON(w, http.StatusBadRequest, message, "bad_request", nil)
}

func ErrNotFound(w http.ResponseWriter, message string) {
	if message == "" {
		message = "resource not found"
	}
	errJSON(w, http.StatusNotFound, message, "not_found", nil)
}

func ErrConflict(w http.ResponseWriter, message string) {
	errJSON(w, http.StatusConflict, message, "conflict", nil)
}

func ErrRateLimited(w http.ResponseWriter, message string) {
	errJSON(w, http.StatusTooManyRequests, message, "rate_limited", nil)
}

func ErrInternal(w http.ResponseWriter) {
	errJSON(w, http.StatusInternalServerError, "an internal error occurred", "internal_error", nil)
}

// WriteAPIErr maps an *apierr.Error to the appropriate HTTP status and
// envelope, keeping the classification (apierr.Kind) separate from the
// wire-level status code mapping.
func WriteAPIErr(w http.ResponseWriter, err error) {
	apiErr, ok := apierr.As(err)
	if !ok {
		ErrInternal(w)
		return
	}

	status := http.StatusInternalServerError
	switch apiErr.Kind {
	case apierr.KindValidation:
		status = http.StatusBadRequest
	case apierr.KindNotFound:
		status = http.StatusNotFound
	case apierr.KindConflict:
		status = http.StatusConflict
	case apierr.KindRateLimited:
		status = http.StatusTooManyRequests
	case apierr.KindTransient:
		status = http.StatusServiceUnavailable
	}
	errJSON(w, status, apiErr.Message, apiErr.Code, apiErr.Detail)
}

// decodeJSON decodes the request body into dst, rejecting unknown fields
// and capping body size at 1 MB. Returns false and writes a 400 if
// decoding fails, so callers can early-return.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		ErrBadRequest(w, "invalid request body: "+err.Error())
		return false
	}
	return true
}
