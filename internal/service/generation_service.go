package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/karwadev/bannerbot/internal/geometry"
	"github.com/karwadev/bannerbot/internal/models"
)

var (
	// ErrModelFailure wraps failures of the external generation API. The
	// attempt does not consume the user's allowance and may be retried.
	ErrModelFailure = errors.New("image generation failed")
	// ErrGeometryFailure wraps post-processing failures. The user never
	// received usable output, so the allowance is preserved here too.
	ErrGeometryFailure = errors.New("image post-processing failed")
)

// ModelClient is the black-box generative collaborator: prompt (and for
// enhance mode a reference image) in, raw image bytes out.
type ModelClient interface {
	Generate(ctx context.Context, mode models.Mode, prompt string, reference []byte, target models.AspectTarget) ([]byte, error)
}

// Archiver stores accepted output out-of-band. Optional; archive failures
// never fail a generation.
type Archiver interface {
	Store(ctx context.Context, image []byte) (string, error)
}

// Request is the closed, validated request variant handed in by transport.
type Request struct {
	UserID   int64
	Username string
	Mode     models.Mode
	Prompt   string
	Image    []byte
	Target   models.AspectTarget
}

func (r Request) validate() error {
	if r.UserID == 0 {
		return fmt.Errorf("user id is required")
	}
	if !r.Mode.Valid() {
		return fmt.Errorf("unknown mode: %q", r.Mode)
	}
	if !r.Target.Valid() {
		return fmt.Errorf("unknown aspect target: %q", r.Target)
	}
	switch r.Mode {
	case models.ModeASCII, models.ModeGenerate:
		if r.Prompt == "" {
			return fmt.Errorf("mode %s requires a prompt", r.Mode)
		}
	case models.ModeEnhance:
		if len(r.Image) == 0 {
			return fmt.Errorf("mode %s requires an image", r.Mode)
		}
	}
	return nil
}

// Response carries either the corrected image or the denial reason.
type Response struct {
	Allowed    bool
	Image      []byte
	ArchiveURL string
	Reason     models.Outcome
	RetryAfter time.Duration
}

// GenerationService sequences one generation end to end: verdict, model
// call, geometry correction, ledger commit. The per-user critical section
// lives entirely inside the ledger; nothing here holds a lock across the
// slow model call.
type GenerationService struct {
	log       *slog.Logger
	access    *AccessService
	ledger    Ledger
	model     ModelClient
	corrector *geometry.Corrector
	archiver  Archiver

	clock func() time.Time
}

func NewGenerationService(log *slog.Logger, access *AccessService, ledger Ledger, model ModelClient, corrector *geometry.Corrector, archiver Archiver) *GenerationService {
	return &GenerationService{
		log:       log,
		access:    access,
		ledger:    ledger,
		model:     model,
		corrector: corrector,
		archiver:  archiver,
		clock:     time.Now,
	}
}

// Handle processes a single request. Denials come back as a Response with
// Allowed=false; only infrastructure and generation failures return an error.
func (s *GenerationService) Handle(ctx context.Context, req Request) (*Response, error) {
	if err := req.validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	now := s.clock().UTC()

	logID, err := s.ledger.RecordAttempt(ctx, req.UserID, req.Mode, req.Prompt)
	if err != nil {
		return nil, fmt.Errorf("record attempt: %w", err)
	}

	verdict, err := s.access.Check(ctx, req.UserID, logID, now)
	if err != nil {
		// Best effort; the append-only log still needs a terminal outcome.
		if mErr := s.ledger.MarkDenied(ctx, logID, models.OutcomeInternalError); mErr != nil {
			s.log.Error("mark denied", "log_id", logID, "err", mErr)
		}
		return nil, err
	}
	if !verdict.Allowed {
		if err := s.ledger.MarkDenied(ctx, logID, verdict.Reason); err != nil {
			s.log.Error("mark denied", "log_id", logID, "err", err)
		}
		return &Response{Reason: verdict.Reason, RetryAfter: verdict.RetryAfter}, nil
	}
	reservation := verdict.Reservation

	raw, err := s.model.Generate(ctx, req.Mode, req.Prompt, req.Image, req.Target)
	if err != nil {
		s.fail(ctx, reservation, models.OutcomeAPIError, err)
		return nil, fmt.Errorf("%w: %v", ErrModelFailure, err)
	}

	policy := geometry.PolicyCrop
	if req.Mode == models.ModeEnhance {
		policy = geometry.PolicyExtend
	}
	corrected, err := s.corrector.CorrectBytes(raw, req.Target, policy)
	if err != nil {
		s.fail(ctx, reservation, models.OutcomeGeometryError, err)
		return nil, fmt.Errorf("%w: %v", ErrGeometryFailure, err)
	}

	archiveURL := ""
	if s.archiver != nil {
		url, upErr := s.archiver.Store(ctx, corrected)
		if upErr != nil {
			s.log.Error("archive generation", "user", req.UserID, "err", upErr)
		} else {
			archiveURL = url
		}
	}

	if err := s.ledger.Commit(ctx, reservation, s.clock().UTC(), archiveURL); err != nil {
		return nil, fmt.Errorf("commit generation: %w", err)
	}

	s.log.Info("generation accepted",
		"user", req.UserID, "mode", req.Mode, "target", req.Target, "log_id", logID)
	return &Response{Allowed: true, Image: corrected, ArchiveURL: archiveURL}, nil
}

func (s *GenerationService) fail(ctx context.Context, res *models.Reservation, outcome models.Outcome, cause error) {
	if err := s.ledger.MarkFailed(ctx, res, outcome, cause.Error()); err != nil {
		s.log.Error("mark failed", "log_id", res.LogID, "outcome", outcome, "err", err)
	}
}
