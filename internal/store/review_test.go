package store

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/servicehub/apiserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateWithAggregateCommitsAsOneTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT provider_id FROM services WHERE id = $1 FOR UPDATE`)).
		WithArgs(10).
		WillReturnRows(sqlmock.NewRows([]string{"provider_id"}).AddRow(2))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO reviews`)).
		WithArgs(4, "solid work", 7, 10, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(101))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COALESCE(AVG(rating), 0), COUNT(*) FROM reviews WHERE service_id = $1`)).
		WithArgs(10).
		WillReturnRows(sqlmock.NewRows([]string{"coalesce", "count"}).AddRow(4.5, 2))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE services SET rating = $1, review_count = $2, updated_at = $3 WHERE id = $4`)).
		WithArgs(4.5, 2, sqlmock.AnyArg(), 10).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	repo := NewReviewRepository(db)
	review, err := repo.CreateWithAggregate(context.Background(), types.Review{
		Rating:    4,
		Comment:   "solid work",
		AuthorID:  7,
		ServiceID: 10,
	})
	require.NoError(t, err)

	assert.Equal(t, 101, review.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateWithAggregateMissingService(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT provider_id FROM services WHERE id = $1 FOR UPDATE`)).
		WithArgs(404).
		WillReturnRows(sqlmock.NewRows([]string{"provider_id"}))
	mock.ExpectRollback()

	repo := NewReviewRepository(db)
	_, err = repo.CreateWithAggregate(context.Background(), types.Review{
		Rating:    4,
		Comment:   "fine",
		AuthorID:  7,
		ServiceID: 404,
	})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateWithAggregateDuplicateReview(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT provider_id FROM services WHERE id = $1 FOR UPDATE`)).
		WithArgs(10).
		WillReturnRows(sqlmock.NewRows([]string{"provider_id"}).AddRow(2))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO reviews`)).
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	repo := NewReviewRepository(db)
	_, err = repo.CreateWithAggregate(context.Background(), types.Review{
		Rating:    4,
		Comment:   "again",
		AuthorID:  7,
		ServiceID: 10,
	})
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateWithAggregateRollsBackOnUpdateFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT provider_id FROM services WHERE id = $1 FOR UPDATE`)).
		WithArgs(10).
		WillReturnRows(sqlmock.NewRows([]string{"provider_id"}).AddRow(2))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO reviews`)).
		WithArgs(4, "fine", 7, 10, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(101))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COALESCE(AVG(rating), 0), COUNT(*) FROM reviews WHERE service_id = $1`)).
		WithArgs(10).
		WillReturnRows(sqlmock.NewRows([]string{"coalesce", "count"}).AddRow(4.0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE services SET`)).
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	repo := NewReviewRepository(db)
	_, err = repo.CreateWithAggregate(context.Background(), types.Review{
		Rating:    4,
		Comment:   "fine",
		AuthorID:  7,
		ServiceID: 10,
	})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAggregateSinceGroupsByService(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	since := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT service_id, AVG(rating), COUNT(*)`)).
		WithArgs(since).
		WillReturnRows(sqlmock.NewRows([]string{"service_id", "avg", "count"}).
			AddRow(1, 4.5, 2).
			AddRow(2, 3.0, 6))

	repo := NewReviewRepository(db)
	aggregates, err := repo.AggregateSince(context.Background(), since)
	require.NoError(t, err)

	require.Len(t, aggregates, 2)
	assert.Equal(t, ServiceAggregate{ServiceID: 1, AvgRating: 4.5, Count: 2}, aggregates[0])
	assert.Equal(t, ServiceAggregate{ServiceID: 2, AvgRating: 3.0, Count: 6}, aggregates[1])
}
