package models

import "time"

// Mode identifies which generation flow a request belongs to.
type Mode string

const (
	ModeASCII    Mode = "ascii"
	ModeEnhance  Mode = "enhance"
	ModeGenerate Mode = "generate"
)

func (m Mode) Valid() bool {
	switch m {
	case ModeASCII, ModeEnhance, ModeGenerate:
		return true
	}
	return false
}

// Outcome is the terminal (or pending) state of a generation log entry.
type Outcome string

const (
	OutcomePending       Outcome = "pending"
	OutcomeSuccess       Outcome = "success"
	OutcomeAPIError      Outcome = "api_error"
	OutcomeGeometryError Outcome = "geometry_error"
	OutcomeRateLimited   Outcome = "rate_limited"
	OutcomeUnauthorized  Outcome = "unauthorized"
	OutcomeInternalError Outcome = "internal_error"
)

// AspectTarget is the required output width:height ratio.
type AspectTarget string

const (
	TargetBanner  AspectTarget = "3:1"
	TargetProfile AspectTarget = "1:1"
)

func (t AspectTarget) Valid() bool {
	return t == TargetBanner || t == TargetProfile
}

// Ratio returns width/height as a float.
func (t AspectTarget) Ratio() float64 {
	if t == TargetBanner {
		return 3.0
	}
	return 1.0
}

// CanonicalSize is the normalized output resolution for the target.
func (t AspectTarget) CanonicalSize() (width, height int) {
	if t == TargetBanner {
		return 1500, 500
	}
	return 1000, 1000
}

type User struct {
	ID            int64
	Username      string
	IsOwner       bool
	Authorized    bool
	AuthorizedAt  *time.Time
	AddedByUserID int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// UsageCounter is the per-user rate-limit record. The owner has none.
type UsageCounter struct {
	UserID               int64
	LastGenerationAt     *time.Time
	GenerationCountTotal int
	PendingReservationID string
	PendingExpiresAt     *time.Time
}

// GenerationLog rows are append-only; only the outcome, detail and archive
// columns move, from pending to a terminal state.
type GenerationLog struct {
	ID          int64
	UserID      int64
	Mode        Mode
	Outcome     Outcome
	Prompt      string
	ErrorDetail string
	ArchiveURL  string
	CreatedAt   time.Time
}

// Reservation is a provisional grant of permission to generate, pending
// commit or rollback. Owner reservations carry no counter state.
type Reservation struct {
	ID        string
	UserID    int64
	LogID     int64
	Owner     bool
	ExpiresAt time.Time
}

// UsageStats is the aggregate view served by /commands and the admin API.
type UsageStats struct {
	TotalToday      int    `json:"total_today"`
	ActiveToday     int    `json:"active_today"`
	TotalAllTime    int    `json:"total_all_time"`
	UsersAllTime    int    `json:"users_all_time"`
	TopUserToday    string `json:"top_user_today,omitempty"`
	TopUserTodayN   int    `json:"top_user_today_count,omitempty"`
	TopUserAllTime  string `json:"top_user_all_time,omitempty"`
	TopUserAllTimeN int    `json:"top_user_all_time_count,omitempty"`
}
