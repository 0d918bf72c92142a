package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"kasir/backoffice/internal/listing"
	"kasir/backoffice/internal/store"
)

type Meta struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ErrorBody is the errors member of a failure envelope.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Envelope is the body of every API response except /healthz. Success
// bodies carry data (and pagination for listings); failure bodies carry
// errors and never data.
type Envelope struct {
	Meta       Meta                `json:"meta"`
	Data       any                 `json:"data,omitempty"`
	Pagination *listing.Pagination `json:"pagination,omitempty"`
	Errors     *ErrorBody          `json:"errors,omitempty"`
}

func successEnvelope(message string, data any, pagination *listing.Pagination) Envelope {
	return Envelope{
		Meta:       Meta{Success: true, Message: message},
		Data:       data,
		Pagination: pagination,
	}
}

func failureEnvelope(message string, body ErrorBody) Envelope {
	return Envelope{
		Meta:   Meta{Success: false, Message: message},
		Errors: &body,
	}
}

// httpError is a failure decided at the HTTP edge (malformed body,
// throttling, missing token) rather than by a store or service kind.
type httpError struct {
	status  int
	code    string
	message string
}

func (e *httpError) Error() string {
	return e.message
}

func newHTTPError(status int, code string, message string) error {
	return &httpError{status: status, code: code, message: message}
}

const internalErrorMessage = "internal server error"

// classify picks the status and client-facing error body for err. Anything
// unclassified is a store failure or a bug and is reported generically.
func classify(err error) (int, ErrorBody) {
	var he *httpError
	switch {
	case errors.As(err, &he):
		return he.status, ErrorBody{Code: he.code, Message: he.message}
	case errors.Is(err, store.ErrInvalidParameter):
		return http.StatusBadRequest, ErrorBody{Code: "invalid_parameter", Message: err.Error()}
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, ErrorBody{Code: "not_found", Message: err.Error()}
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict, ErrorBody{Code: "conflict", Message: err.Error()}
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrInvalidToken):
		return http.StatusUnauthorized, ErrorBody{Code: "unauthorized", Message: err.Error()}
	default:
		return http.StatusInternalServerError, ErrorBody{Code: "internal_error", Message: internalErrorMessage}
	}
}

func writeSuccess(w http.ResponseWriter, status int, message string, data any, pagination *listing.Pagination) {
	writeJSON(w, status, successEnvelope(message, data, pagination))
}

func writeError(w http.ResponseWriter, status int, message string, body ErrorBody) {
	writeJSON(w, status, failureEnvelope(message, body))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
