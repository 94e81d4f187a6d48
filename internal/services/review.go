package services

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/servicehub/apiserver/internal/events"
	"github.com/servicehub/apiserver/types"
)

// ReviewRepository defines persistence operations for reviews. Creation
// runs the review insert and the service's rating recompute as one
// atomic unit.
type ReviewRepository interface {
	CreateWithAggregate(ctx context.Context, review types.Review) (types.Review, error)
	ListByService(ctx context.Context, serviceID int) ([]types.Review, error)
}

// ServiceGetter resolves a listing by id, with no visibility filter.
type ServiceGetter interface {
	Get(ctx context.Context, id int) (types.Service, error)
}

// ReviewService encapsulates review submission and listing.
type ReviewService struct {
	repo     ReviewRepository
	services ServiceGetter
	bus      *events.Bus
}

func NewReviewService(repo ReviewRepository, services ServiceGetter, bus *events.Bus) *ReviewService {
	return &ReviewService{
		repo:     repo,
		services: services,
		bus:      bus,
	}
}

// Submit validates and records a review, updating the service's rating
// aggregate in the same transaction.
//
// Checks run in a fixed order: input validation, then service
// existence (a missing service is 404 even for its own provider), then
// the self-review ban. Duplicate submissions surface from the ledger's
// uniqueness constraint, so under concurrency exactly one of two
// identical submissions wins.
func (s *ReviewService) Submit(ctx context.Context, principal types.Principal, serviceID, rating int, comment string) (types.Review, error) {
	if rating < 1 || rating > 5 {
		return types.Review{}, ErrInvalidRating
	}
	if strings.TrimSpace(comment) == "" {
		return types.Review{}, ErrEmptyComment
	}

	svc, err := s.services.Get(ctx, serviceID)
	if err != nil {
		return types.Review{}, err
	}
	if svc.ProviderID == principal.UserID {
		return types.Review{}, ErrOwnService
	}

	review, err := s.repo.CreateWithAggregate(ctx, types.Review{
		Rating:    rating,
		Comment:   comment,
		AuthorID:  principal.UserID,
		ServiceID: serviceID,
	})
	if err != nil {
		return types.Review{}, err
	}

	if err := s.bus.PublishReviewCreated(ctx, events.ReviewCreated{
		ReviewID:   review.ID,
		ServiceID:  review.ServiceID,
		AuthorID:   review.AuthorID,
		Rating:     review.Rating,
		OccurredAt: review.CreatedAt,
	}); err != nil {
		log.Warn().Err(err).Int("review_id", review.ID).Msg("failed to publish review event")
	}
	return review, nil
}

// ListByService returns a service's reviews, newest first.
func (s *ReviewService) ListByService(ctx context.Context, serviceID int) ([]types.Review, error) {
	return s.repo.ListByService(ctx, serviceID)
}
