package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"github.com/servicehub/apiserver/internal/services"
	"github.com/servicehub/apiserver/internal/store"
)

// UserHandler provides account endpoints.
type UserHandler struct {
	userService *services.UserService
}

// UserRouter registers user routes on the given router.
func UserRouter(r chi.Router, userService *services.UserService, authMiddleware func(http.Handler) http.Handler) {
	handler := &UserHandler{userService: userService}

	r.With(authMiddleware).Get("/profile", handler.Profile)
}

// Profile returns the authenticated user's account, password excluded.
func (h *UserHandler) Profile(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Not authorized, no token")
		return
	}

	user, err := h.userService.GetByID(r.Context(), principal.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "User not found")
			return
		}
		log.Error().Err(err).Msg("failed to load user profile")
		writeError(w, http.StatusInternalServerError, "Failed to load profile")
		return
	}
	writeJSON(w, http.StatusOK, user)
}
