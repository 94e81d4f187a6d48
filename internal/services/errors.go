package services

import "errors"

var (
	// ErrForbidden is returned when a principal is authenticated but
	// not allowed to act on the target resource.
	ErrForbidden = errors.New("forbidden")

	// ErrOwnService is returned when a provider tries to review their
	// own listing.
	ErrOwnService = errors.New("cannot review own service")

	// ErrInvalidRating is returned when a review rating is outside 1..5.
	ErrInvalidRating = errors.New("rating must be between 1 and 5")

	// ErrEmptyComment is returned when a review comment is blank.
	ErrEmptyComment = errors.New("comment is required")

	// ErrEmptyQuery is returned when a search is attempted without a query.
	ErrEmptyQuery = errors.New("search query is required")
)
