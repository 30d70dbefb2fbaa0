package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/karwadev/bannerbot/internal/models"
)

type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) FindByID(ctx context.Context, userID int64) (*models.User, error) {
	const query = `
SELECT user_id, COALESCE(username, ''), is_owner, authorized, authorized_at, COALESCE(added_by_user_id, 0), created_at, updated_at
FROM users WHERE user_id = ?`
	row := r.db.QueryRowContext(ctx, query, userID)
	var u models.User
	var isOwner, authorized int
	var authorizedAt sql.NullTime
	if err := row.Scan(&u.ID, &u.Username, &isOwner, &authorized, &authorizedAt, &u.AddedByUserID, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.IsOwner = isOwner != 0
	u.Authorized = authorized != 0
	if authorizedAt.Valid {
		t := authorizedAt.Time
		u.AuthorizedAt = &t
	}
	return &u, nil
}

// Authorize inserts the user as allowed, or re-flips the flag on an existing
// record. Idempotent: authorizing an already-authorized user is a no-op.
func (r *UserRepository) Authorize(ctx context.Context, userID int64, username string, addedBy int64, now time.Time) error {
	const query = `
INSERT INTO users (user_id, username, authorized, authorized_at, added_by_user_id)
VALUES (?, NULLIF(?, ''), 1, ?, ?)
ON DUPLICATE KEY UPDATE authorized = 1, authorized_at = IF(authorized = 0, VALUES(authorized_at), authorized_at), username = COALESCE(NULLIF(VALUES(username), ''), username)`
	if _, err := r.db.ExecContext(ctx, query, userID, username, now, addedBy); err != nil {
		return fmt.Errorf("authorize user: %w", err)
	}
	return nil
}

// Deauthorize flips the flag off. Users are never hard-deleted so the audit
// trail in generation_logs keeps a valid subject. The owner row is protected.
func (r *UserRepository) Deauthorize(ctx context.Context, userID int64) error {
	const query = `UPDATE users SET authorized = 0, updated_at = NOW() WHERE user_id = ? AND is_owner = 0`
	if _, err := r.db.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("deauthorize user: %w", err)
	}
	return nil
}

// EnsureContact records first contact without granting access, and keeps the
// display handle current for returning users.
func (r *UserRepository) EnsureContact(ctx context.Context, userID int64, username string) error {
	const query = `
INSERT INTO users (user_id, username, authorized)
VALUES (?, NULLIF(?, ''), 0)
ON DUPLICATE KEY UPDATE username = COALESCE(NULLIF(VALUES(username), ''), username), updated_at = NOW()`
	if _, err := r.db.ExecContext(ctx, query, userID, username); err != nil {
		return fmt.Errorf("ensure contact: %w", err)
	}
	return nil
}

func (r *UserRepository) List(ctx context.Context) ([]models.User, error) {
	const query = `
SELECT user_id, COALESCE(username, ''), is_owner, authorized, authorized_at, COALESCE(added_by_user_id, 0), created_at, updated_at
FROM users ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var u models.User
		var isOwner, authorized int
		var authorizedAt sql.NullTime
		if err := rows.Scan(&u.ID, &u.Username, &isOwner, &authorized, &authorizedAt, &u.AddedByUserID, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan user row: %w", err)
		}
		u.IsOwner = isOwner != 0
		u.Authorized = authorized != 0
		if authorizedAt.Valid {
			t := authorizedAt.Time
			u.AuthorizedAt = &t
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (r *UserRepository) ListIDs(ctx context.Context) ([]int64, error) {
	const query = `SELECT user_id FROM users WHERE authorized = 1`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list user ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
