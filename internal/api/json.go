package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/starford/cardsync/internal/apperr"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

type errResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}

// writeError maps a service error onto a status code. Unclassified errors
// are logged and reported as internal.
func writeError(w http.ResponseWriter, op string, err error, attrs ...any) {
	var status int
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, apperr.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, apperr.ErrParse):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, apperr.ErrAuth):
		status = http.StatusForbidden
	case errors.Is(err, apperr.ErrTransport):
		status = http.StatusBadGateway
	default:
		slog.Error(op+" failed", append(attrs, slog.String("error", err.Error()))...)
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	body := errorBody(err.Error())
	if k := apperr.KindOf(err); k != 0 {
		body.Kind = k.String()
	}
	writeJSON(w, status, body)
}
