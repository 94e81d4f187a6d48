package types

import "time"

// ApprovalStatus is the moderation state of a service listing.
// A listing is created PENDING, moves to APPROVED or REJECTED by an
// admin decision, and falls back to PENDING on any provider edit.
type ApprovalStatus string

const (
	StatusPending  ApprovalStatus = "PENDING"
	StatusApproved ApprovalStatus = "APPROVED"
	StatusRejected ApprovalStatus = "REJECTED"
)

// Service represents a listing published by a provider.
//
// Rating and ReviewCount are derived from the listing's review set and
// are only ever written by the review aggregation transaction; they are
// never edited independently.
type Service struct {
	// ID is the unique identifier of the service.
	ID int `json:"id" db:"id"`

	// Name is the listing title shown to users.
	Name string `json:"name" db:"name"`

	// Description is the full listing text.
	Description string `json:"description" db:"description"`

	// Category is a free-text tag used for filtering.
	Category string `json:"category" db:"category"`

	// Location is an optional free-text service area.
	Location string `json:"location,omitempty" db:"location"`

	// ImageKey is the object storage key of the listing image, empty
	// when no image was uploaded. Served under /uploads/{key}.
	ImageKey string `json:"image_key,omitempty" db:"image_key"`

	// Rating is the arithmetic mean of all review ratings for this
	// service, 0 when it has no reviews.
	Rating float64 `json:"rating" db:"rating"`

	// ReviewCount is the total number of reviews for this service.
	ReviewCount int `json:"review_count" db:"review_count"`

	// Featured marks listings highlighted on the landing page.
	// Admin-controlled.
	Featured bool `json:"featured" db:"featured"`

	// ApprovalStatus is the moderation state gating public visibility.
	ApprovalStatus ApprovalStatus `json:"approval_status" db:"approval_status"`

	// ProviderID is the owning provider's user id.
	ProviderID int `json:"provider_id" db:"provider_id"`

	// ProviderName is the owning provider's display name, joined in
	// for responses and not stored on the listing itself.
	ProviderName string `json:"provider_name,omitempty" db:"-"`

	// Reviews holds the listing's reviews, newest first. Populated
	// only on the public detail response.
	Reviews []Review `json:"reviews,omitempty" db:"-"`

	// CreatedAt is the timestamp at which the listing was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the listing.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// RankedService is a service carrying its leaderboard position.
// Rating and ReviewCount reflect the ranking window, not the lifetime
// aggregate.
type RankedService struct {
	Service

	// Rank is the 1-based position in the leaderboard.
	Rank int `json:"rank"`
}
