package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
	"github.com/servicehub/apiserver/types"
)

// ServiceRepository handles persistence for service listings.
type ServiceRepository struct {
	db *sql.DB
}

func NewServiceRepository(db *sql.DB) *ServiceRepository {
	return &ServiceRepository{db: db}
}

// serviceColumns joins the provider row so every read carries the
// provider's display name.
const serviceColumns = `
	s.id, s.name, s.description, s.category, s.location, s.image_key,
	s.rating, s.review_count, s.featured, s.approval_status, s.provider_id,
	s.created_at, s.updated_at, u.name`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanService(row rowScanner) (types.Service, error) {
	var svc types.Service
	err := row.Scan(
		&svc.ID,
		&svc.Name,
		&svc.Description,
		&svc.Category,
		&svc.Location,
		&svc.ImageKey,
		&svc.Rating,
		&svc.ReviewCount,
		&svc.Featured,
		&svc.ApprovalStatus,
		&svc.ProviderID,
		&svc.CreatedAt,
		&svc.UpdatedAt,
		&svc.ProviderName,
	)
	return svc, err
}

func (r *ServiceRepository) queryServices(ctx context.Context, query string, args ...any) ([]types.Service, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	services := make([]types.Service, 0)
	for rows.Next() {
		svc, err := scanService(rows)
		if err != nil {
			return nil, err
		}
		services = append(services, svc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return services, nil
}

// ListApproved returns approved listings, newest first, optionally
// filtered to an exact category. An empty category means no filter; the
// caller resolves the "All" sentinel before getting here.
func (r *ServiceRepository) ListApproved(ctx context.Context, category string) ([]types.Service, error) {
	if category == "" {
		const query = `
			SELECT ` + serviceColumns + `
			FROM services s
			JOIN users u ON u.id = s.provider_id
			WHERE s.approval_status = 'APPROVED'
			ORDER BY s.created_at DESC`
		return r.queryServices(ctx, query)
	}

	const query = `
		SELECT ` + serviceColumns + `
		FROM services s
		JOIN users u ON u.id = s.provider_id
		WHERE s.approval_status = 'APPROVED' AND s.category = $1
		ORDER BY s.created_at DESC`
	return r.queryServices(ctx, query, category)
}

// Search matches approved listings whose name, description, or
// category contains the query, case-insensitively, best rated first.
func (r *ServiceRepository) Search(ctx context.Context, q string) ([]types.Service, error) {
	const query = `
		SELECT ` + serviceColumns + `
		FROM services s
		JOIN users u ON u.id = s.provider_id
		WHERE s.approval_status = 'APPROVED'
			AND (s.name ILIKE '%' || $1 || '%'
				OR s.description ILIKE '%' || $1 || '%'
				OR s.category ILIKE '%' || $1 || '%')
		ORDER BY s.rating DESC`
	return r.queryServices(ctx, query, q)
}

// ListFeatured returns approved featured listings, best rated first.
func (r *ServiceRepository) ListFeatured(ctx context.Context) ([]types.Service, error) {
	const query = `
		SELECT ` + serviceColumns + `
		FROM services s
		JOIN users u ON u.id = s.provider_id
		WHERE s.approval_status = 'APPROVED' AND s.featured
		ORDER BY s.rating DESC`
	return r.queryServices(ctx, query)
}

// ListByProvider returns all of a provider's listings regardless of
// approval status, newest first.
func (r *ServiceRepository) ListByProvider(ctx context.Context, providerID int) ([]types.Service, error) {
	const query = `
		SELECT ` + serviceColumns + `
		FROM services s
		JOIN users u ON u.id = s.provider_id
		WHERE s.provider_id = $1
		ORDER BY s.created_at DESC`
	return r.queryServices(ctx, query, providerID)
}

// ListAll returns every listing regardless of approval status, newest
// first. Admin-only path.
func (r *ServiceRepository) ListAll(ctx context.Context) ([]types.Service, error) {
	const query = `
		SELECT ` + serviceColumns + `
		FROM services s
		JOIN users u ON u.id = s.provider_id
		ORDER BY s.created_at DESC`
	return r.queryServices(ctx, query)
}

// ListApprovedByIDs returns the approved listings among ids, in no
// particular order.
func (r *ServiceRepository) ListApprovedByIDs(ctx context.Context, ids []int) ([]types.Service, error) {
	if len(ids) == 0 {
		return []types.Service{}, nil
	}
	const query = `
		SELECT ` + serviceColumns + `
		FROM services s
		JOIN users u ON u.id = s.provider_id
		WHERE s.approval_status = 'APPROVED' AND s.id = ANY($1)`
	return r.queryServices(ctx, query, pq.Array(ids))
}

// Get returns a listing by id with no visibility filtering. Callers
// decide what the requesting principal may see.
func (r *ServiceRepository) Get(ctx context.Context, id int) (types.Service, error) {
	const query = `
		SELECT ` + serviceColumns + `
		FROM services s
		JOIN users u ON u.id = s.provider_id
		WHERE s.id = $1`
	svc, err := scanService(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Service{}, ErrNotFound
		}
		return types.Service{}, err
	}
	return svc, nil
}

// Create inserts a new listing. Approval status, rating, and review
// count are forced to their initial values regardless of input.
func (r *ServiceRepository) Create(ctx context.Context, svc types.Service) (types.Service, error) {
	now := time.Now()
	svc.CreatedAt = now
	svc.UpdatedAt = now
	svc.ApprovalStatus = types.StatusPending
	svc.Rating = 0
	svc.ReviewCount = 0
	svc.Featured = false

	const query = `
		INSERT INTO services (name, description, category, location, image_key,
			rating, review_count, featured, approval_status, provider_id,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		svc.Name,
		svc.Description,
		svc.Category,
		svc.Location,
		svc.ImageKey,
		svc.Rating,
		svc.ReviewCount,
		svc.Featured,
		svc.ApprovalStatus,
		svc.ProviderID,
		svc.CreatedAt,
		svc.UpdatedAt,
	).Scan(&svc.ID); err != nil {
		return types.Service{}, err
	}
	return svc, nil
}

// Update rewrites the provider-editable fields. Any edit forfeits prior
// approval, so the statement unconditionally resets the status to
// PENDING.
func (r *ServiceRepository) Update(ctx context.Context, svc types.Service) (types.Service, error) {
	svc.UpdatedAt = time.Now()
	svc.ApprovalStatus = types.StatusPending

	const query = `
		UPDATE services
		SET name = $1,
			description = $2,
			category = $3,
			location = $4,
			image_key = $5,
			approval_status = $6,
			updated_at = $7
		WHERE id = $8`
	result, err := r.db.ExecContext(
		ctx,
		query,
		svc.Name,
		svc.Description,
		svc.Category,
		svc.Location,
		svc.ImageKey,
		svc.ApprovalStatus,
		svc.UpdatedAt,
		svc.ID,
	)
	if err != nil {
		return types.Service{}, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return types.Service{}, err
	}
	if affected == 0 {
		return types.Service{}, ErrNotFound
	}
	return r.Get(ctx, svc.ID)
}

// SetApproval moves a listing to the given moderation state, touching
// nothing else.
func (r *ServiceRepository) SetApproval(ctx context.Context, id int, status types.ApprovalStatus) (types.Service, error) {
	const query = `
		UPDATE services
		SET approval_status = $1,
			updated_at = $2
		WHERE id = $3`
	result, err := r.db.ExecContext(ctx, query, status, time.Now(), id)
	if err != nil {
		return types.Service{}, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return types.Service{}, err
	}
	if affected == 0 {
		return types.Service{}, ErrNotFound
	}
	return r.Get(ctx, id)
}

// Delete removes a listing and its reviews in one transaction. Reviews
// go first so they never outlive their service.
func (r *ServiceRepository) Delete(ctx context.Context, id int) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM reviews WHERE service_id = $1`, id); err != nil {
		return err
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM services WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}

	return tx.Commit()
}
