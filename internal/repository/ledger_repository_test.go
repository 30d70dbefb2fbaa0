package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karwadev/bannerbot/internal/models"
)

func newLedgerWithMock(t *testing.T) (*LedgerRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return NewLedgerRepository(db, 24*time.Hour, 10*time.Minute), mock, db
}

func counterRow(last interface{}, pendingID interface{}, pendingExpires interface{}) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"last_generation_at", "pending_reservation_id", "pending_expires_at"}).
		AddRow(last, pendingID, pendingExpires)
}

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestCheckAndReserveFirstContact(t *testing.T) {
	repo, mock, db := newLedgerWithMock(t)
	defer db.Close()

	// The counter row is created outside the locking transaction, so a
	// concurrent first-ever request serializes on the row lock instead of
	// racing the insert.
	mock.ExpectExec(`INSERT IGNORE INTO usage_counters \(user_id\) VALUES`).
		WithArgs(int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT last_generation_at, pending_reservation_id, pending_expires_at[\s\S]*FOR UPDATE`).
		WithArgs(int64(42)).
		WillReturnRows(counterRow(nil, nil, nil))
	mock.ExpectExec(`UPDATE usage_counters SET pending_reservation_id`).
		WithArgs(sqlmock.AnyArg(), t0.Add(10*time.Minute), int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	res, denial, err := repo.CheckAndReserve(context.Background(), 42, 7, t0)
	require.NoError(t, err)
	require.Nil(t, denial)
	require.NotNil(t, res)
	assert.NotEmpty(t, res.ID)
	assert.Equal(t, int64(42), res.UserID)
	assert.Equal(t, int64(7), res.LogID)
	assert.Equal(t, t0.Add(10*time.Minute), res.ExpiresAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckAndReserveLoserOfFirstContactIsDenied(t *testing.T) {
	repo, mock, db := newLedgerWithMock(t)
	defer db.Close()

	// The upsert is a no-op for the request that lost the first-contact race;
	// once the winner's transaction commits, this one observes the live
	// reservation under the row lock and is denied, not errored.
	mock.ExpectExec(`INSERT IGNORE INTO usage_counters \(user_id\) VALUES`).
		WithArgs(int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT last_generation_at, pending_reservation_id, pending_expires_at[\s\S]*FOR UPDATE`).
		WithArgs(int64(42)).
		WillReturnRows(counterRow(nil, "winner-reservation", t0.Add(10*time.Minute)))
	mock.ExpectRollback()

	res, denial, err := repo.CheckAndReserve(context.Background(), 42, 8, t0)
	require.NoError(t, err)
	assert.Nil(t, res)
	require.NotNil(t, denial)
	assert.Equal(t, models.OutcomeRateLimited, denial.Reason)
	assert.Equal(t, 10*time.Minute, denial.RetryAfter)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckAndReserveWithinWindowDenied(t *testing.T) {
	repo, mock, db := newLedgerWithMock(t)
	defer db.Close()

	mock.ExpectExec(`INSERT IGNORE INTO usage_counters`).
		WithArgs(int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).
		WithArgs(int64(42)).
		WillReturnRows(counterRow(t0.Add(-time.Hour), nil, nil))
	mock.ExpectRollback()

	res, denial, err := repo.CheckAndReserve(context.Background(), 42, 9, t0)
	require.NoError(t, err)
	assert.Nil(t, res)
	require.NotNil(t, denial)
	assert.Equal(t, models.OutcomeRateLimited, denial.Reason)
	assert.Equal(t, 23*time.Hour, denial.RetryAfter)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckAndReserveExpiredPendingTreatedAsAbsent(t *testing.T) {
	repo, mock, db := newLedgerWithMock(t)
	defer db.Close()

	mock.ExpectExec(`INSERT IGNORE INTO usage_counters`).
		WithArgs(int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).
		WithArgs(int64(42)).
		WillReturnRows(counterRow(nil, "abandoned-reservation", t0.Add(-time.Minute)))
	mock.ExpectExec(`UPDATE usage_counters SET pending_reservation_id`).
		WithArgs(sqlmock.AnyArg(), t0.Add(10*time.Minute), int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	res, denial, err := repo.CheckAndReserve(context.Background(), 42, 10, t0)
	require.NoError(t, err)
	assert.Nil(t, denial)
	require.NotNil(t, res)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitStampsCounterByReservationID(t *testing.T) {
	repo, mock, db := newLedgerWithMock(t)
	defer db.Close()

	res := &models.Reservation{ID: "res-1", UserID: 42, LogID: 7}

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE usage_counters[\s\S]*AND pending_reservation_id = \?`).
		WithArgs(t0, int64(42), "res-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE generation_logs SET outcome`).
		WithArgs("success", "https://cdn.example.com/a.png", int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Commit(context.Background(), res, t0, "https://cdn.example.com/a.png"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitOwnerSkipsCounter(t *testing.T) {
	repo, mock, db := newLedgerWithMock(t)
	defer db.Close()

	res := &models.Reservation{UserID: 1000, LogID: 7, Owner: true}

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE generation_logs SET outcome`).
		WithArgs("success", "", int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Commit(context.Background(), res, t0, ""))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkFailedReleasesReservation(t *testing.T) {
	repo, mock, db := newLedgerWithMock(t)
	defer db.Close()

	res := &models.Reservation{ID: "res-1", UserID: 42, LogID: 7}

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE usage_counters SET pending_reservation_id = NULL`).
		WithArgs(int64(42), "res-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE generation_logs SET outcome`).
		WithArgs("api_error", "upstream exploded", int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.MarkFailed(context.Background(), res, models.OutcomeAPIError, "upstream exploded"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordAttemptReturnsLogID(t *testing.T) {
	repo, mock, db := newLedgerWithMock(t)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO generation_logs`).
		WithArgs(int64(42), "generate", "pending", "a skyline").
		WillReturnResult(sqlmock.NewResult(17, 1))

	id, err := repo.RecordAttempt(context.Background(), 42, models.ModeGenerate, "a skyline")
	require.NoError(t, err)
	assert.Equal(t, int64(17), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}
