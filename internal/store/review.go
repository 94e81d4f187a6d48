package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/servicehub/apiserver/types"
)

// ReviewRepository handles persistence for reviews and the derived
// rating aggregate stored on their service.
type ReviewRepository struct {
	db *sql.DB
}

func NewReviewRepository(db *sql.DB) *ReviewRepository {
	return &ReviewRepository{db: db}
}

// ServiceAggregate is a per-service rating summary computed from a set
// of reviews.
type ServiceAggregate struct {
	ServiceID int
	AvgRating float64
	Count     int
}

// CreateWithAggregate inserts a review and recomputes its service's
// rating and review count as one transaction. The service row is locked
// first, so concurrent submissions for the same service serialize and
// each recompute sees the review it just inserted; submissions for
// other services proceed untouched. A duplicate (author, service) pair
// surfaces as ErrDuplicate from the uniqueness constraint.
func (r *ReviewRepository) CreateWithAggregate(ctx context.Context, review types.Review) (types.Review, error) {
	review.CreatedAt = time.Now()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return types.Review{}, err
	}
	defer tx.Rollback()

	var providerID int
	err = tx.QueryRowContext(ctx,
		`SELECT provider_id FROM services WHERE id = $1 FOR UPDATE`,
		review.ServiceID,
	).Scan(&providerID)
	if err != nil {
		if err == sql.ErrNoRows {
			return types.Review{}, ErrNotFound
		}
		return types.Review{}, err
	}

	const insertQuery = `
		INSERT INTO reviews (rating, comment, author_id, service_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`
	if err := tx.QueryRowContext(
		ctx,
		insertQuery,
		review.Rating,
		review.Comment,
		review.AuthorID,
		review.ServiceID,
		review.CreatedAt,
	).Scan(&review.ID); err != nil {
		if isUniqueViolation(err) {
			return types.Review{}, ErrDuplicate
		}
		return types.Review{}, err
	}

	var avg float64
	var count int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(AVG(rating), 0), COUNT(*) FROM reviews WHERE service_id = $1`,
		review.ServiceID,
	).Scan(&avg, &count)
	if err != nil {
		return types.Review{}, err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE services SET rating = $1, review_count = $2, updated_at = $3 WHERE id = $4`,
		avg, count, time.Now(), review.ServiceID,
	); err != nil {
		return types.Review{}, err
	}

	if err := tx.Commit(); err != nil {
		return types.Review{}, err
	}
	return review, nil
}

// ListByService returns a service's reviews, newest first, with author
// names joined in.
func (r *ReviewRepository) ListByService(ctx context.Context, serviceID int) ([]types.Review, error) {
	const query = `
		SELECT r.id, r.rating, r.comment, r.author_id, r.service_id, r.created_at, u.name
		FROM reviews r
		JOIN users u ON u.id = r.author_id
		WHERE r.service_id = $1
		ORDER BY r.created_at DESC`
	rows, err := r.db.QueryContext(ctx, query, serviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	reviews := make([]types.Review, 0)
	for rows.Next() {
		var review types.Review
		if err := rows.Scan(
			&review.ID,
			&review.Rating,
			&review.Comment,
			&review.AuthorID,
			&review.ServiceID,
			&review.CreatedAt,
			&review.AuthorName,
		); err != nil {
			return nil, err
		}
		reviews = append(reviews, review)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return reviews, nil
}

// AggregateSince groups reviews created at or after since by service
// and returns each group's average rating and count.
func (r *ReviewRepository) AggregateSince(ctx context.Context, since time.Time) ([]ServiceAggregate, error) {
	const query = `
		SELECT service_id, AVG(rating), COUNT(*)
		FROM reviews
		WHERE created_at >= $1
		GROUP BY service_id`
	rows, err := r.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	aggregates := make([]ServiceAggregate, 0)
	for rows.Next() {
		var agg ServiceAggregate
		if err := rows.Scan(&agg.ServiceID, &agg.AvgRating, &agg.Count); err != nil {
			return nil, err
		}
		aggregates = append(aggregates, agg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return aggregates, nil
}
