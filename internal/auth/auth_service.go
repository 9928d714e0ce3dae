package auth

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"fuelgrid/internal/models"
	"fuelgrid/internal/password"
	"fuelgrid/internal/repository"
)

// ErrInvalidCredentials represents login failure.
var ErrInvalidCredentials = errors.New("auth: invalid credentials")

// UserRepository defines storage contract used by the service.
type UserRepository interface {
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

// Service contains operator login logic.
type Service struct {
	repo      UserRepository
	hasher    password.Hasher
	tokenizer *TokenService
	logger    *zap.Logger
}

// NewService builds auth service.
func NewService(repo UserRepository, hasher password.Hasher, tokenizer *TokenService, logger *zap.Logger) *Service {
	return &Service{
		repo:      repo,
		hasher:    hasher,
		tokenizer: tokenizer,
		logger:    logger,
	}
}

// Login authenticates an operator and produces a JWT.
func (s *Service) Login(ctx context.Context, email, plaintext string) (string, *models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || plaintext == "" {
		return "", nil, ErrInvalidCredentials
	}

	user, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, err
	}

	if err := s.hasher.Compare(user.PasswordHash, plaintext); err != nil {
		return "", nil, ErrInvalidCredentials
	}

	token, err := s.tokenizer.GenerateToken(user.ID, user.Role)
	if err != nil {
		return "", nil, err
	}

	s.logger.Info("operator logged in", zap.Int64("user_id", user.ID), zap.String("email", user.Email))
	return token, user, nil
}
