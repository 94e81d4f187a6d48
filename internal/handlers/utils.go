package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/servicehub/apiserver/types"
)

type contextKey string

const contextPrincipalKey contextKey = "principal"

// ErrorResponse is the error payload returned to clients. Internal
// detail never leaks here; it goes to the server log.
type ErrorResponse struct {
	Message string `json:"message"`
}

func principalFromContext(ctx context.Context) (types.Principal, error) {
	principal, ok := ctx.Value(contextPrincipalKey).(types.Principal)
	if !ok || principal.UserID < 1 {
		return types.Principal{}, errors.New("missing principal")
	}
	return principal, nil
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Message: message})
}

func parseIDParam(r *http.Request, name string) (int, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.Atoi(raw)
	if err != nil || id < 1 {
		return 0, errors.New("invalid id")
	}
	return id, nil
}

// Healthz reports liveness.
func Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
