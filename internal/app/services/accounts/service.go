package accounts

import (
	"context"
	"fmt"
	"strings"

	"github.com/cardverse/token_layer/internal/app/domain/ledger"
	"github.com/cardverse/token_layer/internal/app/domain/user"
	"github.com/cardverse/token_layer/internal/app/storage"
	"github.com/cardverse/token_layer/pkg/logger"
)

// Granter issues the signup allowance.
type Granter interface {
	GrantInitialBalance(ctx context.Context, userID string) (ledger.Transaction, error)
}

// Service manages user records. Balances are never written here; the
// signup allowance is recorded by the ledger like any other movement.
type Service struct {
	store   storage.UserStore
	granter Granter
	log     *logger.Logger
}

// New constructs an account service.
func New(store storage.UserStore, granter Granter, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("accounts")
	}
	return &Service{store: store, granter: granter, log: log}
}

// ProfileUpdate carries optional profile changes; nil fields are left as is.
type ProfileUpdate struct {
	Username     *string `json:"username,omitempty"`
	ProfileImage *string `json:"profile_image,omitempty"`
}

// Create signs a user up and grants the initial balance.
func (s *Service) Create(ctx context.Context, email, username string) (user.User, error) {
	email = strings.TrimSpace(email)
	username = strings.TrimSpace(username)
	if email == "" || !strings.Contains(email, "@") {
		return user.User{}, fmt.Errorf("%w: a valid email is required", user.ErrInvalid)
	}
	if username == "" {
		return user.User{}, fmt.Errorf("%w: username is required", user.ErrInvalid)
	}

	created, err := s.store.CreateUser(ctx, user.User{Email: email, Username: username})
	if err != nil {
		return user.User{}, err
	}

	if s.granter != nil {
		if _, err := s.granter.GrantInitialBalance(ctx, created.ID); err != nil {
			s.log.WithError(err).WithField("user_id", created.ID).Error("initial balance grant failed")
			return user.User{}, fmt.Errorf("grant initial balance: %w", err)
		}
	}

	s.log.WithField("user_id", created.ID).Info("user signed up")
	return s.store.GetUser(ctx, created.ID)
}

// Get fetches a user by id.
func (s *Service) Get(ctx context.Context, id string) (user.User, error) {
	return s.store.GetUser(ctx, id)
}

// List returns every user.
func (s *Service) List(ctx context.Context) ([]user.User, error) {
	return s.store.ListUsers(ctx)
}

// UpdateProfile applies the non-nil fields of update.
func (s *Service) UpdateProfile(ctx context.Context, id string, update ProfileUpdate) (user.User, error) {
	existing, err := s.store.GetUser(ctx, id)
	if err != nil {
		return user.User{}, err
	}
	if update.Username != nil {
		name := strings.TrimSpace(*update.Username)
		if name == "" {
			return user.User{}, fmt.Errorf("%w: username cannot be empty", user.ErrInvalid)
		}
		existing.Username = name
	}
	if update.ProfileImage != nil {
		existing.ProfileImage = strings.TrimSpace(*update.ProfileImage)
	}
	return s.store.UpdateUser(ctx, existing)
}

// RecordCard files cardID in one of the user's card sets.
func (s *Service) RecordCard(ctx context.Context, userID string, rel user.Relation, cardID string) (user.User, error) {
	return s.store.AddUserCard(ctx, userID, rel, cardID)
}
