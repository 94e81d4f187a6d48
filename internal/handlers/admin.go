package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"github.com/servicehub/apiserver/internal/services"
	"github.com/servicehub/apiserver/internal/store"
	"github.com/servicehub/apiserver/types"
)

// AdminHandler provides the moderation endpoints.
type AdminHandler struct {
	listings    *services.ListingService
	userService *services.UserService
}

// NewAdminHandler constructs a handler with the provided services.
func NewAdminHandler(listings *services.ListingService, userService *services.UserService) *AdminHandler {
	return &AdminHandler{
		listings:    listings,
		userService: userService,
	}
}

// AdminRouter registers admin routes on the given router. Every route
// is gated to ADMIN principals.
func AdminRouter(
	r chi.Router,
	listings *services.ListingService,
	userService *services.UserService,
	authMiddleware func(http.Handler) http.Handler,
) {
	handler := NewAdminHandler(listings, userService)

	r.Use(authMiddleware, RequireRole(types.RoleAdmin))

	r.Get("/services", handler.ListAllServices)
	r.Patch("/services/{serviceID}/approve", handler.ApproveService)
	r.Patch("/services/{serviceID}/reject", handler.RejectService)
	r.Get("/users", handler.ListUsers)
	r.Patch("/users/{userID}/promote", handler.PromoteUser)
}

// ListAllServices returns every listing regardless of approval status.
func (h *AdminHandler) ListAllServices(w http.ResponseWriter, r *http.Request) {
	items, err := h.listings.ListAll(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("admin failed to list services")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve services")
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// ApproveService moves a listing to APPROVED.
func (h *AdminHandler) ApproveService(w http.ResponseWriter, r *http.Request) {
	h.moderate(w, r, h.listings.Approve, "Failed to approve service")
}

// RejectService moves a listing to REJECTED.
func (h *AdminHandler) RejectService(w http.ResponseWriter, r *http.Request) {
	h.moderate(w, r, h.listings.Reject, "Failed to reject service")
}

func (h *AdminHandler) moderate(
	w http.ResponseWriter,
	r *http.Request,
	decide func(ctx context.Context, id int) (types.Service, error),
	failureMessage string,
) {
	id, err := parseIDParam(r, "serviceID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid service id")
		return
	}

	svc, err := decide(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Service not found")
			return
		}
		log.Error().Err(err).Int("service_id", id).Msg("moderation failed")
		writeError(w, http.StatusInternalServerError, failureMessage)
		return
	}
	writeJSON(w, http.StatusOK, svc)
}

// ListUsers returns every account, passwords excluded.
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.userService.List(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("admin failed to list users")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve users")
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// PromoteUser elevates the target user to ADMIN.
func (h *AdminHandler) PromoteUser(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "userID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid user id")
		return
	}

	user, err := h.userService.Promote(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "User not found")
			return
		}
		log.Error().Err(err).Int("user_id", id).Msg("failed to promote user")
		writeError(w, http.StatusInternalServerError, "Failed to promote user")
		return
	}
	writeJSON(w, http.StatusOK, user)
}
