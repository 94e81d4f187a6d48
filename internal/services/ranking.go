package services

import (
	"context"
	"sort"
	"time"

	"github.com/servicehub/apiserver/internal/store"
	"github.com/servicehub/apiserver/types"
)

const (
	// rankingWindow is the trailing period of review activity the
	// leaderboard considers.
	rankingWindow = 30 * 24 * time.Hour

	// rankingSize caps the leaderboard length.
	rankingSize = 3
)

// ReviewAggregator summarizes recent review activity per service.
type ReviewAggregator interface {
	AggregateSince(ctx context.Context, since time.Time) ([]store.ServiceAggregate, error)
}

// ApprovedServiceLister fetches the approved subset of a set of
// listings.
type ApprovedServiceLister interface {
	ListApprovedByIDs(ctx context.Context, ids []int) ([]types.Service, error)
}

// RankingService computes the top-listings leaderboard from recent
// review activity.
type RankingService struct {
	reviews  ReviewAggregator
	services ApprovedServiceLister
	now      func() time.Time
}

func NewRankingService(reviews ReviewAggregator, services ApprovedServiceLister) *RankingService {
	return &RankingService{
		reviews:  reviews,
		services: services,
		now:      time.Now,
	}
}

// TopRanked scores every service reviewed in the trailing 30 days as
// average rating times review count, rewarding both quality and
// volume, and returns up to 3 approved listings in descending score
// order with 1-based ranks. Each entry carries the window's average and
// count, not the lifetime aggregate. Ties keep aggregation order, which
// is not guaranteed deterministic. An empty leaderboard is a valid
// result.
func (s *RankingService) TopRanked(ctx context.Context) ([]types.RankedService, error) {
	since := s.now().Add(-rankingWindow)
	aggregates, err := s.reviews.AggregateSince(ctx, since)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(aggregates, func(i, j int) bool {
		return score(aggregates[i]) > score(aggregates[j])
	})
	if len(aggregates) > rankingSize {
		aggregates = aggregates[:rankingSize]
	}

	ids := make([]int, len(aggregates))
	for i, agg := range aggregates {
		ids[i] = agg.ServiceID
	}

	approved, err := s.services.ListApprovedByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[int]types.Service, len(approved))
	for _, svc := range approved {
		byID[svc.ID] = svc
	}

	ranked := make([]types.RankedService, 0, len(aggregates))
	for _, agg := range aggregates {
		svc, ok := byID[agg.ServiceID]
		if !ok {
			// Reviewed recently but no longer approved.
			continue
		}
		svc.Rating = agg.AvgRating
		svc.ReviewCount = agg.Count
		ranked = append(ranked, types.RankedService{
			Service: svc,
			Rank:    len(ranked) + 1,
		})
	}
	return ranked, nil
}

func score(agg store.ServiceAggregate) float64 {
	return agg.AvgRating * float64(agg.Count)
}
