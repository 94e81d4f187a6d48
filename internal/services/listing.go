package services

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/servicehub/apiserver/internal/events"
	"github.com/servicehub/apiserver/internal/storage"
	"github.com/servicehub/apiserver/internal/store"
	"github.com/servicehub/apiserver/types"
)

// categoryAll is the sentinel clients send for "no category filter".
const categoryAll = "All"

// ServiceRepository defines persistence operations for listings.
type ServiceRepository interface {
	ListApproved(ctx context.Context, category string) ([]types.Service, error)
	Search(ctx context.Context, q string) ([]types.Service, error)
	ListFeatured(ctx context.Context) ([]types.Service, error)
	ListByProvider(ctx context.Context, providerID int) ([]types.Service, error)
	ListAll(ctx context.Context) ([]types.Service, error)
	ListApprovedByIDs(ctx context.Context, ids []int) ([]types.Service, error)
	Get(ctx context.Context, id int) (types.Service, error)
	Create(ctx context.Context, svc types.Service) (types.Service, error)
	Update(ctx context.Context, svc types.Service) (types.Service, error)
	SetApproval(ctx context.Context, id int, status types.ApprovalStatus) (types.Service, error)
	Delete(ctx context.Context, id int) error
}

// ReviewLister is the slice of the review ledger the listing service
// needs for the public detail view.
type ReviewLister interface {
	ListByService(ctx context.Context, serviceID int) ([]types.Review, error)
}

// ListingInput carries the provider-editable fields of a listing. On
// update, empty fields keep their stored value.
type ListingInput struct {
	Name        string
	Description string
	Category    string
	Location    string
}

// ImageUpload is an image file received with a create or update
// request.
type ImageUpload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ListingService encapsulates listing use-cases: ownership rules, the
// approval state machine, public visibility, and image storage.
type ListingService struct {
	repo    ServiceRepository
	reviews ReviewLister
	images  *storage.ImageStore
	bus     *events.Bus
}

func NewListingService(repo ServiceRepository, reviews ReviewLister, images *storage.ImageStore, bus *events.Bus) *ListingService {
	return &ListingService{
		repo:    repo,
		reviews: reviews,
		images:  images,
		bus:     bus,
	}
}

// ListApproved returns publicly visible listings, optionally filtered
// to one category. "All" and empty both mean no filter.
func (s *ListingService) ListApproved(ctx context.Context, category string) ([]types.Service, error) {
	if category == categoryAll {
		category = ""
	}
	return s.repo.ListApproved(ctx, category)
}

// Search finds approved listings matching q in name, description, or
// category.
func (s *ListingService) Search(ctx context.Context, q string) ([]types.Service, error) {
	if strings.TrimSpace(q) == "" {
		return nil, ErrEmptyQuery
	}
	return s.repo.Search(ctx, q)
}

// ListFeatured returns the admin-curated featured listings.
func (s *ListingService) ListFeatured(ctx context.Context) ([]types.Service, error) {
	return s.repo.ListFeatured(ctx)
}

// GetPublic returns an approved listing with its reviews attached,
// newest first. A PENDING or REJECTED listing is indistinguishable from
// a missing one here.
func (s *ListingService) GetPublic(ctx context.Context, id int) (types.Service, error) {
	svc, err := s.repo.Get(ctx, id)
	if err != nil {
		return types.Service{}, err
	}
	if svc.ApprovalStatus != types.StatusApproved {
		return types.Service{}, store.ErrNotFound
	}

	reviews, err := s.reviews.ListByService(ctx, id)
	if err != nil {
		return types.Service{}, err
	}
	svc.Reviews = reviews
	return svc, nil
}

// GetAsOwner returns a listing regardless of approval status for its
// owning provider or an admin.
func (s *ListingService) GetAsOwner(ctx context.Context, principal types.Principal, id int) (types.Service, error) {
	svc, err := s.repo.Get(ctx, id)
	if err != nil {
		return types.Service{}, err
	}
	if svc.ProviderID != principal.UserID && principal.Role != types.RoleAdmin {
		return types.Service{}, ErrForbidden
	}
	return svc, nil
}

// ListMine returns all of the principal's own listings.
func (s *ListingService) ListMine(ctx context.Context, principal types.Principal) ([]types.Service, error) {
	return s.repo.ListByProvider(ctx, principal.UserID)
}

// ListAll returns every listing regardless of status. Admin-only route.
func (s *ListingService) ListAll(ctx context.Context) ([]types.Service, error) {
	return s.repo.ListAll(ctx)
}

// Create publishes a new listing owned by the principal. It starts
// PENDING with a zeroed rating aggregate no matter what was submitted.
func (s *ListingService) Create(ctx context.Context, principal types.Principal, input ListingInput, image *ImageUpload) (types.Service, error) {
	svc := types.Service{
		Name:        input.Name,
		Description: input.Description,
		Category:    input.Category,
		Location:    input.Location,
		ProviderID:  principal.UserID,
	}

	if image != nil {
		key, err := s.saveImage(ctx, image)
		if err != nil {
			return types.Service{}, err
		}
		svc.ImageKey = key
	}

	return s.repo.Create(ctx, svc)
}

// Update edits a listing. Only the owning provider may edit, and any
// successful edit forfeits prior approval (the listing goes back to
// PENDING). Empty input fields keep their current values.
func (s *ListingService) Update(ctx context.Context, principal types.Principal, id int, input ListingInput, image *ImageUpload) (types.Service, error) {
	svc, err := s.repo.Get(ctx, id)
	if err != nil {
		return types.Service{}, err
	}
	if svc.ProviderID != principal.UserID {
		return types.Service{}, ErrForbidden
	}

	if input.Name != "" {
		svc.Name = input.Name
	}
	if input.Description != "" {
		svc.Description = input.Description
	}
	if input.Category != "" {
		svc.Category = input.Category
	}
	if input.Location != "" {
		svc.Location = input.Location
	}

	if image != nil {
		key, err := s.saveImage(ctx, image)
		if err != nil {
			return types.Service{}, err
		}
		if svc.ImageKey != "" {
			s.removeImage(ctx, svc.ImageKey)
		}
		svc.ImageKey = key
	}

	return s.repo.Update(ctx, svc)
}

// Delete removes a listing and, first, its reviews. Allowed for the
// owning provider or an admin.
func (s *ListingService) Delete(ctx context.Context, principal types.Principal, id int) error {
	svc, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if svc.ProviderID != principal.UserID && principal.Role != types.RoleAdmin {
		return ErrForbidden
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	if svc.ImageKey != "" {
		s.removeImage(ctx, svc.ImageKey)
	}
	return nil
}

// Approve moves a listing to APPROVED. Admin-only route.
func (s *ListingService) Approve(ctx context.Context, id int) (types.Service, error) {
	return s.moderate(ctx, id, types.StatusApproved)
}

// Reject moves a listing to REJECTED. Admin-only route.
func (s *ListingService) Reject(ctx context.Context, id int) (types.Service, error) {
	return s.moderate(ctx, id, types.StatusRejected)
}

func (s *ListingService) moderate(ctx context.Context, id int, status types.ApprovalStatus) (types.Service, error) {
	svc, err := s.repo.SetApproval(ctx, id, status)
	if err != nil {
		return types.Service{}, err
	}

	if err := s.bus.PublishServiceModerated(ctx, events.ServiceModerated{
		ServiceID:  svc.ID,
		ProviderID: svc.ProviderID,
		Status:     svc.ApprovalStatus,
		OccurredAt: svc.UpdatedAt,
	}); err != nil {
		log.Warn().Err(err).Int("service_id", svc.ID).Msg("failed to publish moderation event")
	}
	return svc, nil
}

func (s *ListingService) saveImage(ctx context.Context, image *ImageUpload) (string, error) {
	if s.images == nil {
		return "", errors.New("image storage is not configured")
	}
	return s.images.Save(ctx, image.Filename, image.Data, image.ContentType)
}

func (s *ListingService) removeImage(ctx context.Context, key string) {
	if s.images == nil {
		return
	}
	if err := s.images.Remove(ctx, key); err != nil {
		log.Warn().Err(err).Str("image_key", key).Msg("failed to remove stored image")
	}
}
