package types

import "time"

// Review is a user's rating of a service. A user may review a given
// service at most once, and never their own. Reviews are immutable once
// created; they are deleted only as part of deleting their service.
type Review struct {
	// ID is the unique identifier of the review.
	ID int `json:"id" db:"id"`

	// Rating is the star rating, an integer from 1 to 5.
	Rating int `json:"rating" db:"rating"`

	// Comment is the review text. Never empty.
	Comment string `json:"comment" db:"comment"`

	// AuthorID is the reviewing user's id.
	AuthorID int `json:"author_id" db:"author_id"`

	// AuthorName is the reviewing user's display name, joined in for
	// responses.
	AuthorName string `json:"author_name,omitempty" db:"-"`

	// ServiceID is the reviewed service's id.
	ServiceID int `json:"service_id" db:"service_id"`

	// CreatedAt is the timestamp at which the review was submitted.
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
