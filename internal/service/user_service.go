package service

import (
	"context"
	"fmt"

	"github.com/karwadev/bannerbot/internal/models"
	"github.com/karwadev/bannerbot/internal/repository"
)

type UserService struct {
	users *repository.UserRepository
}

func NewUserService(users *repository.UserRepository) *UserService {
	return &UserService{users: users}
}

// Touch records first contact and keeps the display handle current. It never
// grants access; that is the admin path's job.
func (s *UserService) Touch(ctx context.Context, userID int64, username string) error {
	if err := s.users.EnsureContact(ctx, userID, username); err != nil {
		return fmt.Errorf("touch user: %w", err)
	}
	return nil
}

func (s *UserService) Get(ctx context.Context, userID int64) (*models.User, error) {
	return s.users.FindByID(ctx, userID)
}

func (s *UserService) List(ctx context.Context) ([]models.User, error) {
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

func (s *UserService) ListIDs(ctx context.Context) ([]int64, error) {
	ids, err := s.users.ListIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list user ids: %w", err)
	}
	return ids, nil
}
