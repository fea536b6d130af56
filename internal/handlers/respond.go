package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"lumen-pipeline/internal/apperr"
	"lumen-pipeline/pkg/logging/logging"
)

type errorBody struct {
	Error string `json:"error"`
	Type  string `json:"type"`
}

// writeJSON sends v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err onto the {"error","type"} envelope. Anything that is
// not an *apperr.Error is reported as an opaque internal error.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var e *apperr.Error
	if !errors.As(err, &e) {
		logging.L(r.Context()).Error("unhandled_error", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal server error", Type: string(apperr.KindInternal)})
		return
	}

	status := apperr.HTTPStatus(e.Kind)
	if status >= http.StatusInternalServerError {
		logging.L(r.Context()).Error("request_failed", zap.String("type", string(e.Kind)), zap.Error(err))
	}
	if e.Kind == apperr.KindRateLimited {
		w.Header().Set("Retry-After", strconv.Itoa(e.RetryAfterSeconds()))
	}
	writeJSON(w, status, errorBody{Error: e.Message, Type: string(e.Kind)})
}
