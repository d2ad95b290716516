package identity_test

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/etrivia/internal/backend"
	"github.com/victornm/etrivia/internal/domain"
	"github.com/victornm/etrivia/internal/errors"
	"github.com/victornm/etrivia/internal/identity"
	"github.com/victornm/etrivia/internal/validate"
)

var form = validate.Registration{
	FirstName: "Ana",
	LastName:  "Lopez",
	BirthDate: "12/04/1990",
	Email:     "ana@example.com",
	Password:  "secret1",
}

func TestService_Register(t *testing.T) {
	type outputs struct {
		user     *domain.User
		err      error
		deps     *deps
		notified []*domain.Identity
		current  bool
	}

	tests := map[string]struct {
		arrange func(d *deps) validate.Registration
		assert  func(t *testing.T, out outputs)
	}{
		"should create profile and backend user then sign in": {
			arrange: func(d *deps) validate.Registration { return form },
			assert: func(t *testing.T, out outputs) {
				require.NoError(t, out.err)
				assert.Equal(t, "u1", out.user.ID)

				assert.Equal(t, []string{"signup", "profile.create", "sync"}, out.deps.calls)
				assert.Equal(t, "1990-04-12", out.deps.synced.BirthDate, "backend should receive ISO dates")
				assert.Equal(t, "tok-1", out.deps.tokenAtSync, "sync should be authorised with the new token")

				require.Len(t, out.notified, 1)
				assert.Equal(t, "u1", out.notified[0].UserID)
				assert.True(t, out.current)
			},
		},
		"should reject invalid input before any call": {
			arrange: func(d *deps) validate.Registration {
				f := form
				f.BirthDate = "01/01/2015"
				return f
			},
			assert: func(t *testing.T, out outputs) {
				assert.True(t, errors.Is(out.err, errors.CodeInvalidArgument))
				assert.Empty(t, out.deps.calls)
				assert.Empty(t, out.notified)
			},
		},
		"should delete the account when the backend sync fails": {
			arrange: func(d *deps) validate.Registration {
				d.syncErr = errors.Unavailable(stderrors.New("connection refused"))
				return form
			},
			assert: func(t *testing.T, out outputs) {
				assert.True(t, errors.Is(out.err, errors.CodeUnavailable))
				assert.Equal(t, []string{"signup", "profile.create", "sync", "profile.delete", "account.delete"}, out.deps.calls)
				assert.Empty(t, out.notified)
				assert.False(t, out.current)
			},
		},
		"should delete the account when the profile cannot be created": {
			arrange: func(d *deps) validate.Registration {
				d.profileErr = stderrors.New("redis down")
				return form
			},
			assert: func(t *testing.T, out outputs) {
				require.Error(t, out.err)
				assert.Equal(t, []string{"signup", "profile.create", "account.delete"}, out.deps.calls)
				assert.False(t, out.current)
			},
		},
		"should surface sign up failures": {
			arrange: func(d *deps) validate.Registration {
				d.signUpErr = errors.New(errors.CodeAlreadyExists, errors.WithMessagef("email taken"))
				return form
			},
			assert: func(t *testing.T, out outputs) {
				assert.True(t, errors.Is(out.err, errors.CodeAlreadyExists))
				assert.Equal(t, []string{"signup"}, out.deps.calls)
			},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			d := &deps{}
			store := identity.NewStore()
			d.store = store
			f := tc.arrange(d)

			var notified []*domain.Identity
			store.Subscribe(func(id *domain.Identity) { notified = append(notified, id) })

			s := identity.NewService(identity.Config{
				Provider:  d,
				Store:     store,
				Validator: validate.New(func() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) }),
				Profiles:  d,
				Users:     d,
			})

			u, err := s.Register(context.Background(), f)
			_, current := store.Current()

			tc.assert(t, outputs{user: u, err: err, deps: d, notified: notified, current: current})
		})
	}
}

func TestService_LoginLogout(t *testing.T) {
	d := &deps{}
	store := identity.NewStore()
	s := identity.NewService(identity.Config{Provider: d, Store: store, Validator: validate.New(nil)})

	var events []*domain.Identity
	unsubscribe := store.Subscribe(func(id *domain.Identity) { events = append(events, id) })

	id, err := s.Login(context.Background(), validate.Login{Email: "Ana@example.com", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "tok-1", id.Token)
	assert.Equal(t, "tok-1", store.Token())
	assert.Equal(t, "ana@example.com", d.signInEmail)

	require.NoError(t, s.Logout(context.Background()))
	assert.Empty(t, store.Token())

	require.Len(t, events, 2)
	assert.NotNil(t, events[0])
	assert.Nil(t, events[1], "sign out should notify with nil")

	unsubscribe()
	_, err = s.Login(context.Background(), validate.Login{Email: "ana@example.com", Password: "pw"})
	require.NoError(t, err)
	assert.Len(t, events, 2, "unsubscribed observers should not be called")
}

func TestService_DeleteAccount(t *testing.T) {
	d := &deps{}
	store := identity.NewStore()
	s := identity.NewService(identity.Config{Provider: d, Store: store, Validator: validate.New(nil), Profiles: d})

	err := s.DeleteAccount(context.Background())
	assert.True(t, errors.Is(err, errors.CodeFailedPrecondition), "signed out users have nothing to delete")

	_, err = s.Login(context.Background(), validate.Login{Email: "ana@example.com", Password: "pw"})
	require.NoError(t, err)

	require.NoError(t, s.DeleteAccount(context.Background()))
	assert.Equal(t, []string{"account.delete", "profile.delete"}, d.calls)

	_, ok := store.Current()
	assert.False(t, ok, "deleting the account signs out")
}

type deps struct {
	store *identity.Store

	signUpErr  error
	profileErr error
	syncErr    error

	calls       []string
	synced      backend.SyncUserRequest
	tokenAtSync string
	signInEmail string
}

func (d *deps) SignUp(_ context.Context, req identity.SignUpRequest) (*domain.Identity, error) {
	d.calls = append(d.calls, "signup")
	if d.signUpErr != nil {
		return nil, d.signUpErr
	}
	return &domain.Identity{UserID: "u1", Email: req.Email, Token: "tok-1"}, nil
}

func (d *deps) SignIn(_ context.Context, email, _ string) (*domain.Identity, error) {
	d.signInEmail = email
	return &domain.Identity{UserID: "u1", Email: email, Token: "tok-1"}, nil
}

func (d *deps) SignOut(context.Context) error { return nil }

func (d *deps) DeleteAccount(context.Context, string) error {
	d.calls = append(d.calls, "account.delete")
	return nil
}

func (d *deps) Create(context.Context, domain.User) error {
	d.calls = append(d.calls, "profile.create")
	return d.profileErr
}

func (d *deps) Delete(context.Context, string) error {
	d.calls = append(d.calls, "profile.delete")
	return nil
}

func (d *deps) SyncUser(_ context.Context, req backend.SyncUserRequest) (*domain.User, error) {
	d.calls = append(d.calls, "sync")
	d.synced = req
	d.tokenAtSync = d.store.Token()
	if d.syncErr != nil {
		return nil, d.syncErr
	}
	return &domain.User{ID: req.ExternalID, Email: req.Email, FirstName: req.FirstName}, nil
}
