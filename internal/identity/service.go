package identity

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/victornm/etrivia/internal/backend"
	"github.com/victornm/etrivia/internal/domain"
	"github.com/victornm/etrivia/internal/errors"
	"github.com/victornm/etrivia/internal/validate"
)

type (
	Profiles interface {
		Create(ctx context.Context, u domain.User) error
		Delete(ctx context.Context, userID string) error
	}

	Users interface {
		SyncUser(ctx context.Context, req backend.SyncUserRequest) (*domain.User, error)
	}
)

type Config struct {
	Provider  Provider
	Store     *Store
	Validator *validate.Validator
	Profiles  Profiles
	Users     Users
}

type Service struct {
	provider  Provider
	store     *Store
	validator *validate.Validator
	profiles  Profiles
	users     Users
}

func NewService(c Config) *Service {
	return &Service{
		provider:  c.Provider,
		store:     c.Store,
		validator: c.Validator,
		profiles:  c.Profiles,
		users:     c.Users,
	}
}

// Register creates the account, its profile document and the backend user, then signs in.
// If any step after sign-up fails the account is deleted again and the user stays signed out.
func (s *Service) Register(ctx context.Context, f validate.Registration) (*domain.User, error) {
	f, err := s.validator.Registration(f)
	if err != nil {
		return nil, err
	}

	birth, err := validate.ISODate(f.BirthDate)
	if err != nil {
		return nil, err
	}

	id, err := s.provider.SignUp(ctx, SignUpRequest{
		Email:     f.Email,
		Password:  f.Password,
		FirstName: f.FirstName,
		LastName:  f.LastName,
		BirthDate: birth,
	})
	if err != nil {
		return nil, fmt.Errorf("sign up: %w", err)
	}

	s.store.put(id)

	if err := s.profiles.Create(ctx, domain.User{
		ID:        id.UserID,
		Email:     f.Email,
		FirstName: f.FirstName,
		LastName:  f.LastName,
		BirthDate: birth,
	}); err != nil {
		s.rollback(ctx, id, false)
		return nil, fmt.Errorf("create profile: %w", err)
	}

	u, err := s.users.SyncUser(ctx, backend.SyncUserRequest{
		ExternalID: id.UserID,
		FirstName:  f.FirstName,
		LastName:   f.LastName,
		Email:      f.Email,
		BirthDate:  birth,
	})
	if err != nil {
		s.rollback(ctx, id, true)
		return nil, fmt.Errorf("sync user: %w", err)
	}

	slog.InfoContext(ctx, "identity: registered", "user", id.UserID)
	s.store.notify()

	return u, nil
}

func (s *Service) rollback(ctx context.Context, id *domain.Identity, profileCreated bool) {
	if profileCreated {
		if err := s.profiles.Delete(ctx, id.UserID); err != nil {
			slog.ErrorContext(ctx, "identity: delete profile failed", "user", id.UserID, "error", err)
		}
	}

	if err := s.provider.DeleteAccount(ctx, id.UserID); err != nil {
		slog.ErrorContext(ctx, "identity: delete account failed", "user", id.UserID, "error", err)
	}

	s.store.put(nil)
}

func (s *Service) Login(ctx context.Context, f validate.Login) (domain.Identity, error) {
	f, err := s.validator.Login(f)
	if err != nil {
		return domain.Identity{}, err
	}

	id, err := s.provider.SignIn(ctx, f.Email, f.Password)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("sign in: %w", err)
	}

	slog.InfoContext(ctx, "identity: signed in", "user", id.UserID)
	s.store.Set(id)

	return *id, nil
}

func (s *Service) Logout(ctx context.Context) error {
	if err := s.provider.SignOut(ctx); err != nil {
		return fmt.Errorf("sign out: %w", err)
	}

	s.store.Set(nil)
	return nil
}

// DeleteAccount removes the signed-in account everywhere and signs out.
// The backend delete must succeed; a leftover profile document is only logged.
func (s *Service) DeleteAccount(ctx context.Context) error {
	id, ok := s.store.Current()
	if !ok {
		return errors.New(errors.CodeFailedPrecondition, errors.WithMessagef("not signed in"))
	}

	if err := s.provider.DeleteAccount(ctx, id.UserID); err != nil {
		return fmt.Errorf("delete account: %w", err)
	}

	if err := s.profiles.Delete(ctx, id.UserID); err != nil {
		slog.WarnContext(ctx, "identity: delete profile failed", "user", id.UserID, "error", err)
	}

	slog.InfoContext(ctx, "identity: account deleted", "user", id.UserID)
	s.store.Set(nil)
	return nil
}
