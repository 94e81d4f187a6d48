package handlers

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"github.com/servicehub/apiserver/internal/services"
	"github.com/servicehub/apiserver/internal/store"
	"github.com/servicehub/apiserver/types"
)

const (
	maxMultipartMemory = 32 << 20
	maxImageBytes      = 5 << 20

	formFieldName     = "name"
	formFieldDesc     = "description"
	formFieldCategory = "category"
	formFieldLocation = "location"
	formFieldImage    = "image"
)

// ServiceHandler provides HTTP handlers for service listings.
type ServiceHandler struct {
	listings *services.ListingService
	ranking  *services.RankingService
}

// NewServiceHandler constructs a handler with the provided services.
func NewServiceHandler(listings *services.ListingService, ranking *services.RankingService) *ServiceHandler {
	return &ServiceHandler{
		listings: listings,
		ranking:  ranking,
	}
}

// ServiceRouter registers listing and review routes on the given router.
func ServiceRouter(
	r chi.Router,
	listings *services.ListingService,
	ranking *services.RankingService,
	reviews *services.ReviewService,
	authMiddleware func(http.Handler) http.Handler,
) {
	handler := NewServiceHandler(listings, ranking)
	reviewHandler := NewReviewHandler(reviews)

	r.Get("/", handler.ListServices)
	r.With(authMiddleware, RequireRole(types.RoleProvider, types.RoleAdmin)).Post("/", handler.CreateService)
	r.Get("/featured", handler.ListFeatured)
	r.Get("/top-ranked", handler.TopRanked)
	r.Get("/search", handler.SearchServices)
	r.With(authMiddleware, RequireRole(types.RoleProvider)).Get("/my-services", handler.MyServices)
	r.With(authMiddleware, RequireRole(types.RoleProvider, types.RoleAdmin)).Get("/provider/{serviceID}", handler.GetServiceAsOwner)

	r.Route("/{serviceID}", func(r chi.Router) {
		r.Get("/", handler.GetService)
		r.With(authMiddleware, RequireRole(types.RoleProvider, types.RoleAdmin)).Patch("/", handler.UpdateService)
		r.With(authMiddleware, RequireRole(types.RoleProvider, types.RoleAdmin)).Delete("/", handler.DeleteService)

		r.Get("/reviews", reviewHandler.ListReviews)
		r.With(authMiddleware).Post("/reviews", reviewHandler.CreateReview)
	})
}

// ListServices returns approved listings, optionally filtered by the
// category query parameter ("All" means no filter).
func (h *ServiceHandler) ListServices(w http.ResponseWriter, r *http.Request) {
	category := strings.TrimSpace(r.URL.Query().Get("category"))

	items, err := h.listings.ListApproved(r.Context(), category)
	if err != nil {
		log.Error().Err(err).Msg("failed to list services")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve services")
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// ListFeatured returns approved featured listings, best rated first.
func (h *ServiceHandler) ListFeatured(w http.ResponseWriter, r *http.Request) {
	items, err := h.listings.ListFeatured(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to list featured services")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve featured services")
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// TopRanked returns the 30-day leaderboard, at most three entries.
func (h *ServiceHandler) TopRanked(w http.ResponseWriter, r *http.Request) {
	items, err := h.ranking.TopRanked(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to compute top ranked services")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve top ranked services")
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// SearchServices matches approved listings against the q parameter.
func (h *ServiceHandler) SearchServices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")

	items, err := h.listings.Search(r.Context(), q)
	if err != nil {
		if errors.Is(err, services.ErrEmptyQuery) {
			writeError(w, http.StatusBadRequest, "A search query 'q' is required.")
			return
		}
		log.Error().Err(err).Msg("failed to search services")
		writeError(w, http.StatusInternalServerError, "Failed to search services")
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// GetService returns an approved listing with its reviews. Anything
// not approved is a 404 to the public.
func (h *ServiceHandler) GetService(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "serviceID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid service id")
		return
	}

	svc, err := h.listings.GetPublic(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Service not found or is not approved")
			return
		}
		log.Error().Err(err).Int("service_id", id).Msg("failed to fetch service")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve service")
		return
	}
	writeJSON(w, http.StatusOK, svc)
}

// GetServiceAsOwner returns a listing regardless of approval status to
// its owner or an admin.
func (h *ServiceHandler) GetServiceAsOwner(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Not authorized, no token")
		return
	}

	id, err := parseIDParam(r, "serviceID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid service id")
		return
	}

	svc, err := h.listings.GetAsOwner(r.Context(), principal, id)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "Service not found")
		case errors.Is(err, services.ErrForbidden):
			writeError(w, http.StatusForbidden, "You are not authorized to view this service")
		default:
			log.Error().Err(err).Int("service_id", id).Msg("failed to fetch provider service")
			writeError(w, http.StatusInternalServerError, "Failed to retrieve service")
		}
		return
	}
	writeJSON(w, http.StatusOK, svc)
}

// MyServices returns the authenticated provider's own listings.
func (h *ServiceHandler) MyServices(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Not authorized, no token")
		return
	}

	items, err := h.listings.ListMine(r.Context(), principal)
	if err != nil {
		log.Error().Err(err).Msg("failed to list own services")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve your services")
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// CreateService publishes a new PENDING listing for the principal.
func (h *ServiceHandler) CreateService(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Not authorized, no token")
		return
	}

	input, image, err := parseListingForm(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if input.Name == "" || input.Description == "" || input.Category == "" {
		writeError(w, http.StatusBadRequest, "Name, description, and category are required")
		return
	}

	created, err := h.listings.Create(r.Context(), principal, input, image)
	if err != nil {
		log.Error().Err(err).Msg("failed to create service")
		writeError(w, http.StatusInternalServerError, "Failed to create service")
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// UpdateService edits an owned listing; the edit resets its approval
// status to PENDING.
func (h *ServiceHandler) UpdateService(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Not authorized, no token")
		return
	}

	id, err := parseIDParam(r, "serviceID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid service id")
		return
	}

	input, image, err := parseListingForm(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	updated, err := h.listings.Update(r.Context(), principal, id, input, image)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "Service not found")
		case errors.Is(err, services.ErrForbidden):
			writeError(w, http.StatusForbidden, "You are not authorized to edit this service")
		default:
			log.Error().Err(err).Int("service_id", id).Msg("failed to update service")
			writeError(w, http.StatusInternalServerError, "Failed to update service")
		}
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// DeleteService removes a listing and its reviews. Owner or admin only.
func (h *ServiceHandler) DeleteService(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Not authorized, no token")
		return
	}

	id, err := parseIDParam(r, "serviceID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid service id")
		return
	}

	if err := h.listings.Delete(r.Context(), principal, id); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "Service not found")
		case errors.Is(err, services.ErrForbidden):
			writeError(w, http.StatusForbidden, "You are not authorized to delete this service")
		default:
			log.Error().Err(err).Int("service_id", id).Msg("failed to delete service")
			writeError(w, http.StatusInternalServerError, "Failed to delete service")
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseListingForm(r *http.Request) (services.ListingInput, *services.ImageUpload, error) {
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		return services.ListingInput{}, nil, errors.New("invalid multipart form")
	}

	input := services.ListingInput{
		Name:        strings.TrimSpace(r.FormValue(formFieldName)),
		Description: strings.TrimSpace(r.FormValue(formFieldDesc)),
		Category:    strings.TrimSpace(r.FormValue(formFieldCategory)),
		Location:    strings.TrimSpace(r.FormValue(formFieldLocation)),
	}

	image, err := parseImageFile(r.MultipartForm)
	if err != nil {
		return services.ListingInput{}, nil, err
	}
	return input, image, nil
}

func parseImageFile(form *multipart.Form) (*services.ImageUpload, error) {
	if form == nil {
		return nil, nil
	}

	files := form.File[formFieldImage]
	if len(files) == 0 {
		return nil, nil
	}
	if len(files) > 1 {
		return nil, errors.New("only one image file is allowed")
	}

	fileHeader := files[0]
	contentType := fileHeader.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		return nil, errors.New("not an image, please upload only images")
	}

	file, err := fileHeader.Open()
	if err != nil {
		return nil, errors.New("failed to read image file")
	}

	data, err := readFileLimited(file, maxImageBytes)
	_ = file.Close()
	if err != nil {
		return nil, err
	}

	return &services.ImageUpload{
		Filename:    fileHeader.Filename,
		ContentType: contentType,
		Data:        data,
	}, nil
}

func readFileLimited(reader io.Reader, limit int64) ([]byte, error) {
	limited := io.LimitReader(reader, limit+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, errors.New("failed to read upload")
	}
	if int64(len(data)) > limit {
		return nil, errors.New("uploaded file too large")
	}
	return data, nil
}
