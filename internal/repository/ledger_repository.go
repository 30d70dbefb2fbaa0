package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/karwadev/bannerbot/internal/models"
)

// LedgerRepository owns the usage_counters and generation_logs tables. The
// check-and-reserve/commit pair around a single user's counter row is the only
// mutual-exclusion boundary in the system; it is implemented as a row-level
// transaction with SELECT ... FOR UPDATE so two concurrent requests from the
// same user cannot both observe "allowed" before either stamps the counter.
type LedgerRepository struct {
	db             *sql.DB
	window         time.Duration
	reservationTTL time.Duration
}

// Denial carries the reason and, for rate limits, when to come back.
type Denial struct {
	Reason     models.Outcome
	RetryAfter time.Duration
}

func NewLedgerRepository(db *sql.DB, window, reservationTTL time.Duration) *LedgerRepository {
	return &LedgerRepository{db: db, window: window, reservationTTL: reservationTTL}
}

// RecordAttempt appends a log row with outcome pending. It always succeeds
// for any user id, known or not; authorization is not its concern.
func (r *LedgerRepository) RecordAttempt(ctx context.Context, userID int64, mode models.Mode, prompt string) (int64, error) {
	const query = `
INSERT INTO generation_logs (user_id, mode, outcome, prompt)
VALUES (?, ?, ?, NULLIF(?, ''))`
	res, err := r.db.ExecContext(ctx, query, userID, mode, models.OutcomePending, prompt)
	if err != nil {
		return 0, fmt.Errorf("insert generation log: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("log last insert id: %w", err)
	}
	return id, nil
}

// CheckAndReserve decides whether the user may generate now and, if so,
// stamps a pending reservation on the counter row inside one transaction.
// The pending marker blocks concurrent same-user attempts without holding
// any lock across the slow model call; an expired marker is treated as
// absent, so an abandoned request can never lock a user out permanently.
func (r *LedgerRepository) CheckAndReserve(ctx context.Context, userID int64, logID int64, now time.Time) (*models.Reservation, *Denial, error) {
	// The counter row must exist before it can be locked. Two first-ever
	// requests racing SELECT ... FOR UPDATE on an absent row would both take
	// compatible gap locks and then deadlock (or collide) on the insert, so
	// the row is created up front in its own statement; losers of this upsert
	// simply serialize on the row lock below.
	if _, err := r.db.ExecContext(ctx, `
INSERT IGNORE INTO usage_counters (user_id) VALUES (?)`, userID); err != nil {
		return nil, nil, fmt.Errorf("ensure usage counter: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, nil, fmt.Errorf("begin reserve tx: %w", err)
	}
	defer tx.Rollback()

	var lastGen, pendingExpires sql.NullTime
	var pendingID sql.NullString
	row := tx.QueryRowContext(ctx, `
SELECT last_generation_at, pending_reservation_id, pending_expires_at
FROM usage_counters WHERE user_id = ? FOR UPDATE`, userID)
	if err := row.Scan(&lastGen, &pendingID, &pendingExpires); err != nil {
		return nil, nil, fmt.Errorf("lock usage counter: %w", err)
	}

	if pendingID.Valid && pendingExpires.Valid && pendingExpires.Time.After(now) {
		// Another request by this user is in flight.
		return nil, &Denial{Reason: models.OutcomeRateLimited, RetryAfter: pendingExpires.Time.Sub(now)}, nil
	}

	if lastGen.Valid {
		elapsed := now.Sub(lastGen.Time)
		if elapsed < r.window {
			return nil, &Denial{Reason: models.OutcomeRateLimited, RetryAfter: r.window - elapsed}, nil
		}
	}

	res := r.newReservation(userID, logID, now)
	if _, err := tx.ExecContext(ctx, `
UPDATE usage_counters SET pending_reservation_id = ?, pending_expires_at = ?
WHERE user_id = ?`, res.ID, res.ExpiresAt, userID); err != nil {
		return nil, nil, fmt.Errorf("stamp reservation: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit reserve tx: %w", err)
	}
	return res, nil, nil
}

func (r *LedgerRepository) newReservation(userID, logID int64, now time.Time) *models.Reservation {
	return &models.Reservation{
		ID:        uuid.NewString(),
		UserID:    userID,
		LogID:     logID,
		ExpiresAt: now.Add(r.reservationTTL),
	}
}

// Commit stamps last_generation_at, bumps the total and flips the log row to
// success. The counter update is a compare-and-set on the reservation id, so
// a double invocation (or a commit racing its own expiry) degrades to a no-op
// on the counter instead of double-charging the user.
func (r *LedgerRepository) Commit(ctx context.Context, res *models.Reservation, now time.Time, archiveURL string) error {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin commit tx: %w", err)
	}
	defer tx.Rollback()

	if !res.Owner {
		if _, err := tx.ExecContext(ctx, `
UPDATE usage_counters
SET last_generation_at = ?, generation_count_total = generation_count_total + 1,
    pending_reservation_id = NULL, pending_expires_at = NULL
WHERE user_id = ? AND pending_reservation_id = ?`, now, res.UserID, res.ID); err != nil {
			return fmt.Errorf("commit usage counter: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
UPDATE generation_logs SET outcome = ?, archive_url = NULLIF(?, '') WHERE id = ?`,
		models.OutcomeSuccess, archiveURL, res.LogID); err != nil {
		return fmt.Errorf("mark log success: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit ledger tx: %w", err)
	}
	return nil
}

// MarkFailed releases the pending reservation without touching
// last_generation_at: a failed generation must not consume the allowance.
// Full diagnostic detail lands on the log row for operator review.
func (r *LedgerRepository) MarkFailed(ctx context.Context, res *models.Reservation, outcome models.Outcome, detail string) error {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin fail tx: %w", err)
	}
	defer tx.Rollback()

	if !res.Owner {
		if _, err := tx.ExecContext(ctx, `
UPDATE usage_counters SET pending_reservation_id = NULL, pending_expires_at = NULL
WHERE user_id = ? AND pending_reservation_id = ?`, res.UserID, res.ID); err != nil {
			return fmt.Errorf("release reservation: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
UPDATE generation_logs SET outcome = ?, error_detail = NULLIF(?, '') WHERE id = ?`,
		outcome, detail, res.LogID); err != nil {
		return fmt.Errorf("mark log failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit fail tx: %w", err)
	}
	return nil
}

// MarkDenied records the outcome of an attempt that never got a reservation.
func (r *LedgerRepository) MarkDenied(ctx context.Context, logID int64, outcome models.Outcome) error {
	const query = `UPDATE generation_logs SET outcome = ? WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, outcome, logID); err != nil {
		return fmt.Errorf("mark log denied: %w", err)
	}
	return nil
}

// Counter returns the user's usage record, or nil when none exists yet.
func (r *LedgerRepository) Counter(ctx context.Context, userID int64) (*models.UsageCounter, error) {
	const query = `
SELECT user_id, last_generation_at, generation_count_total, COALESCE(pending_reservation_id, ''), pending_expires_at
FROM usage_counters WHERE user_id = ?`
	row := r.db.QueryRowContext(ctx, query, userID)
	var c models.UsageCounter
	var lastGen, pendingExpires sql.NullTime
	if err := row.Scan(&c.UserID, &lastGen, &c.GenerationCountTotal, &c.PendingReservationID, &pendingExpires); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan usage counter: %w", err)
	}
	if lastGen.Valid {
		t := lastGen.Time
		c.LastGenerationAt = &t
	}
	if pendingExpires.Valid {
		t := pendingExpires.Time
		c.PendingExpiresAt = &t
	}
	return &c, nil
}

// Stats aggregates the generation log for the /commands view and admin API.
func (r *LedgerRepository) Stats(ctx context.Context, now time.Time) (*models.UsageStats, error) {
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	var stats models.UsageStats
	row := r.db.QueryRowContext(ctx, `
SELECT COUNT(*), COUNT(DISTINCT user_id) FROM generation_logs
WHERE outcome = ? AND created_at >= ? AND created_at < ?`, models.OutcomeSuccess, start, end)
	if err := row.Scan(&stats.TotalToday, &stats.ActiveToday); err != nil {
		return nil, fmt.Errorf("scan today stats: %w", err)
	}

	row = r.db.QueryRowContext(ctx, `
SELECT COUNT(*), COUNT(DISTINCT user_id) FROM generation_logs WHERE outcome = ?`, models.OutcomeSuccess)
	if err := row.Scan(&stats.TotalAllTime, &stats.UsersAllTime); err != nil {
		return nil, fmt.Errorf("scan all-time stats: %w", err)
	}

	const topQuery = `
SELECT COALESCE(u.username, CAST(gl.user_id AS CHAR)), COUNT(*) AS n
FROM generation_logs gl
LEFT JOIN users u ON u.user_id = gl.user_id
WHERE gl.outcome = ?%s
GROUP BY gl.user_id, u.username
ORDER BY n DESC
LIMIT 1`

	row = r.db.QueryRowContext(ctx, fmt.Sprintf(topQuery, " AND gl.created_at >= ? AND gl.created_at < ?"),
		models.OutcomeSuccess, start, end)
	if err := row.Scan(&stats.TopUserToday, &stats.TopUserTodayN); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("scan top user today: %w", err)
	}

	row = r.db.QueryRowContext(ctx, fmt.Sprintf(topQuery, ""), models.OutcomeSuccess)
	if err := row.Scan(&stats.TopUserAllTime, &stats.TopUserAllTimeN); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("scan top user all time: %w", err)
	}

	return &stats, nil
}
