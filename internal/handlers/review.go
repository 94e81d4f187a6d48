package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/servicehub/apiserver/internal/services"
	"github.com/servicehub/apiserver/internal/store"
)

// ReviewHandler provides HTTP handlers for reviews.
type ReviewHandler struct {
	reviews *services.ReviewService
}

// NewReviewHandler constructs a handler with the provided service.
func NewReviewHandler(reviews *services.ReviewService) *ReviewHandler {
	return &ReviewHandler{reviews: reviews}
}

type CreateReviewRequest struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

// CreateReview submits a review for a service on behalf of the
// authenticated principal.
func (h *ReviewHandler) CreateReview(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Not authorized, no token")
		return
	}

	serviceID, err := parseIDParam(r, "serviceID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid service id")
		return
	}

	var req CreateReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request")
		return
	}

	review, err := h.reviews.Submit(r.Context(), principal, serviceID, req.Rating, req.Comment)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidRating):
			writeError(w, http.StatusBadRequest, "Rating must be a number between 1 and 5")
		case errors.Is(err, services.ErrEmptyComment):
			writeError(w, http.StatusBadRequest, "Rating and comment are required")
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "Service not found")
		case errors.Is(err, services.ErrOwnService):
			writeError(w, http.StatusForbidden, "You cannot review your own service")
		case errors.Is(err, store.ErrDuplicate):
			writeError(w, http.StatusConflict, "You have already reviewed this service")
		default:
			log.Error().Err(err).Int("service_id", serviceID).Msg("failed to create review")
			writeError(w, http.StatusInternalServerError, "Failed to create review")
		}
		return
	}
	writeJSON(w, http.StatusCreated, review)
}

// ListReviews returns a service's reviews, newest first.
func (h *ReviewHandler) ListReviews(w http.ResponseWriter, r *http.Request) {
	serviceID, err := parseIDParam(r, "serviceID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid service id")
		return
	}

	reviews, err := h.reviews.ListByService(r.Context(), serviceID)
	if err != nil {
		log.Error().Err(err).Int("service_id", serviceID).Msg("failed to list reviews")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve reviews")
		return
	}
	writeJSON(w, http.StatusOK, reviews)
}
