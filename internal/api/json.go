package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

// writeInternal logs err under msg and answers 500 without leaking details.
func writeInternal(w http.ResponseWriter, msg string, err error, attrs ...any) {
	slog.Error(msg, append(attrs, slog.String("error", err.Error()))...)
	writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
}

// queryInt parses a non-negative integer query parameter. Missing or
// malformed values yield 0 so the service default applies.
func queryInt(r *http.Request, name string) int {
	n, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

type errResponse struct {
	Error string `json:"error" validate:"required"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}
