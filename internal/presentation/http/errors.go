package httppresentation

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/Zhima-Mochi/diner/internal/domain/apperr"
	"github.com/Zhima-Mochi/diner/internal/observability"
	"github.com/Zhima-Mochi/diner/internal/observability/logctx"
)

var (
	errBadForm    = fmt.Errorf("http: malformed form: %w", apperr.ErrValidation)
	errBadJSON    = fmt.Errorf("http: malformed JSON body: %w", apperr.ErrValidation)
	errBodyTooBig = fmt.Errorf("http: request body too large: %w", apperr.ErrValidation)
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// statusFor maps an error category to its HTTP status. Every client-side category is a 400.
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperr.ErrValidation),
		errors.Is(err, apperr.ErrNotFound),
		errors.Is(err, apperr.ErrAuthentication):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	kind := apperr.Kind(err)
	msg := err.Error()
	if kind == "internal" {
		msg = http.StatusText(status)
	}
	log := logctx.FromOr(r.Context(), observability.NopLogger())
	if status >= http.StatusInternalServerError {
		log.Error("request_failed", observability.F("error", err), observability.F("error_kind", kind))
	} else {
		log.Debug("request_rejected", observability.F("error", err), observability.F("error_kind", kind))
	}
	writeJSON(w, status, errorResponse{Error: msg, Code: kind})
}
