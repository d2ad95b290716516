package identity

import (
	"context"

	"github.com/victornm/etrivia/internal/backend"
	"github.com/victornm/etrivia/internal/domain"
)

type SignUpRequest struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	BirthDate string // YYYY-MM-DD
}

// Provider issues and revokes identities.
type Provider interface {
	SignUp(ctx context.Context, req SignUpRequest) (*domain.Identity, error)
	SignIn(ctx context.Context, email, password string) (*domain.Identity, error)
	SignOut(ctx context.Context) error
	DeleteAccount(ctx context.Context, userID string) error
}

// BackendProvider authenticates against the trivia backend.
type BackendProvider struct {
	client *backend.Client
}

func NewBackendProvider(c *backend.Client) *BackendProvider {
	return &BackendProvider{client: c}
}

func (p *BackendProvider) SignUp(ctx context.Context, req SignUpRequest) (*domain.Identity, error) {
	return p.client.Register(ctx, backend.RegisterRequest{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		BirthDate: req.BirthDate,
	})
}

func (p *BackendProvider) SignIn(ctx context.Context, email, password string) (*domain.Identity, error) {
	return p.client.Login(ctx, email, password)
}

// SignOut is local only: tokens are stateless and simply dropped.
func (p *BackendProvider) SignOut(context.Context) error {
	return nil
}

func (p *BackendProvider) DeleteAccount(ctx context.Context, userID string) error {
	return p.client.DeleteUser(ctx, userID)
}
