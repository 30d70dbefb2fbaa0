package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/karwadev/bannerbot/internal/models"
	"github.com/karwadev/bannerbot/internal/repository"
)

var ErrCannotRevokeOwner = errors.New("owner access cannot be revoked")

// UserStore is the slice of the user repository the access controller needs.
type UserStore interface {
	FindByID(ctx context.Context, userID int64) (*models.User, error)
	Authorize(ctx context.Context, userID int64, username string, addedBy int64, now time.Time) error
	Deauthorize(ctx context.Context, userID int64) error
}

// Ledger is the rate-limit state machine behind the access decision.
type Ledger interface {
	RecordAttempt(ctx context.Context, userID int64, mode models.Mode, prompt string) (int64, error)
	CheckAndReserve(ctx context.Context, userID, logID int64, now time.Time) (*models.Reservation, *repository.Denial, error)
	Commit(ctx context.Context, res *models.Reservation, now time.Time, archiveURL string) error
	MarkFailed(ctx context.Context, res *models.Reservation, outcome models.Outcome, detail string) error
	MarkDenied(ctx context.Context, logID int64, outcome models.Outcome) error
}

// Verdict is the single allow/deny answer for one request.
type Verdict struct {
	Allowed     bool
	Reservation *models.Reservation
	Reason      models.Outcome
	RetryAfter  time.Duration
}

// AccessService combines owner status, the allow-list and the rate limit into
// one verdict. The owner id is fixed at construction; nothing reads it from
// ambient state and nothing mutates it at runtime.
type AccessService struct {
	ownerID int64
	users   UserStore
	ledger  Ledger
}

func NewAccessService(ownerID int64, users UserStore, ledger Ledger) *AccessService {
	return &AccessService{ownerID: ownerID, users: users, ledger: ledger}
}

// Check runs the per-request state machine: unknown or deauthorized users are
// rejected before the ledger is consulted; the owner bypasses the ledger with
// a no-op reservation; everyone else goes through check-and-reserve.
func (s *AccessService) Check(ctx context.Context, userID, logID int64, now time.Time) (*Verdict, error) {
	if userID == s.ownerID {
		return ownerVerdict(userID, logID), nil
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	if user == nil || !user.Authorized {
		return &Verdict{Reason: models.OutcomeUnauthorized}, nil
	}
	if user.IsOwner {
		return ownerVerdict(userID, logID), nil
	}

	res, denial, err := s.ledger.CheckAndReserve(ctx, userID, logID, now)
	if err != nil {
		return nil, fmt.Errorf("check and reserve: %w", err)
	}
	if denial != nil {
		return &Verdict{Reason: denial.Reason, RetryAfter: denial.RetryAfter}, nil
	}
	return &Verdict{Allowed: true, Reservation: res}, nil
}

func ownerVerdict(userID, logID int64) *Verdict {
	return &Verdict{
		Allowed:     true,
		Reservation: &models.Reservation{UserID: userID, LogID: logID, Owner: true},
	}
}

// Allow adds the user to the allow-list. Idempotent.
func (s *AccessService) Allow(ctx context.Context, userID int64, username string, addedBy int64, now time.Time) error {
	if err := s.users.Authorize(ctx, userID, username, addedBy, now); err != nil {
		return fmt.Errorf("allow user: %w", err)
	}
	return nil
}

// Revoke flips the authorized flag off. The owner cannot be revoked.
func (s *AccessService) Revoke(ctx context.Context, userID int64) error {
	if userID == s.ownerID {
		return ErrCannotRevokeOwner
	}
	if err := s.users.Deauthorize(ctx, userID); err != nil {
		return fmt.Errorf("revoke user: %w", err)
	}
	return nil
}

// IsOwner reports whether the id matches the configured owner.
func (s *AccessService) IsOwner(userID int64) bool {
	return userID == s.ownerID
}
