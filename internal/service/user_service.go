package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/rs/zerolog"

	"studioflow/internal/domain"
	"studioflow/internal/models"
)

type UserService struct {
	repo   domain.UserRepository
	trials domain.TrialProvisioner
	logger *zerolog.Logger
}

func NewUserService(repo domain.UserRepository, trials domain.TrialProvisioner, logger *zerolog.Logger) *UserService {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &UserService{repo: repo, trials: trials, logger: logger}
}

// RegisterUser stores a new account. Clients and providers also get a trial
// subscription; a failed provisioning is logged and can be retried through
// ProvisionTrial.
func (s *UserService) RegisterUser(ctx context.Context, user *models.User) (*models.Subscription, error) {
	if err := normalizeUser(user); err != nil {
		return nil, err
	}

	if err := s.repo.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	s.logger.Info().Int64("user_id", user.ID).Str("user_type", user.UserType).Msg("user registered")

	if !user.NeedsSubscription() || s.trials == nil {
		return nil, nil
	}
	sub, err := s.trials.ProvisionTrialSubscription(ctx, user.ID)
	if err != nil {
		s.logger.Error().Err(err).Int64("user_id", user.ID).Msg("failed to provision trial subscription")
		return nil, nil
	}
	return sub, nil
}

// ProvisionTrial grants the user's trial if registration did not.
func (s *UserService) ProvisionTrial(ctx context.Context, userID int64) (*models.Subscription, error) {
	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.NeedsSubscription() {
		return nil, fmt.Errorf("%w: %s accounts have no subscription", domain.ErrInvalidUser, user.UserType)
	}
	if s.trials == nil {
		return nil, errors.New("trial provisioning is not configured")
	}
	return s.trials.ProvisionTrialSubscription(ctx, userID)
}

func (s *UserService) GetUser(ctx context.Context, id int64) (*models.User, error) {
	return s.repo.GetUser(ctx, id)
}

// ResolveActor turns an authenticated user id into the caller identity used
// by the booking operations.
func (s *UserService) ResolveActor(ctx context.Context, userID int64) (models.Actor, error) {
	if userID <= 0 {
		return models.Actor{}, domain.ErrUserNotFound
	}
	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return models.Actor{}, err
	}
	return models.Actor{
		UserID:  user.ID,
		IsStaff: user.IsStaff || user.UserType == models.UserTypeAdmin,
	}, nil
}

func normalizeUser(user *models.User) error {
	if user == nil {
		return fmt.Errorf("%w: empty payload", domain.ErrInvalidUser)
	}
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	user.Name = strings.TrimSpace(user.Name)
	user.UserType = strings.ToUpper(strings.TrimSpace(user.UserType))
	if user.UserType == "" {
		user.UserType = models.UserTypeClient
	}

	if _, err := mail.ParseAddress(user.Email); err != nil || user.Email == "" {
		return fmt.Errorf("%w: invalid email %q", domain.ErrInvalidUser, user.Email)
	}
	switch user.UserType {
	case models.UserTypeAdmin, models.UserTypeClient, models.UserTypeProvider:
	default:
		return fmt.Errorf("%w: unknown user type %q", domain.ErrInvalidUser, user.UserType)
	}
	if user.UserType != models.UserTypeAdmin {
		user.IsStaff = false
	}
	return nil
}
