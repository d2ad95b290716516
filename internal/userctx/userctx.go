package userctx

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/victornm/etrivia/internal/domain"
	"github.com/victornm/etrivia/internal/errors"
	"github.com/victornm/etrivia/internal/event"
	"github.com/victornm/etrivia/internal/identity"
)

const loadTimeout = 10 * time.Second

type (
	Users interface {
		GetUser(ctx context.Context, id string) (*domain.User, error)
	}

	AggregateSource interface {
		Subscribe(ctx context.Context, userID string) (<-chan domain.Aggregate, error)
	}
)

type Config struct {
	Users    Users
	EventBus *event.Bus
}

// Context holds the user currently shown by the app. Every change is published as user.updated.
type Context struct {
	users Users
	eb    *event.Bus

	mu   sync.RWMutex
	user *domain.User
}

func New(c Config) *Context {
	return &Context{
		users: c.Users,
		eb:    c.EventBus,
	}
}

func (c *Context) Current() (domain.User, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.user == nil {
		return domain.User{}, false
	}
	return *c.user, true
}

// Subscribe calls h with a copy of the user after every change, nil after Clear.
func (c *Context) Subscribe(h func(ctx context.Context, u *domain.User)) (unsubscribe func()) {
	return c.eb.Subscribe(domain.EventNameUserUpdated, func(ctx context.Context, e event.Event) error {
		h(ctx, e.(domain.EventUserUpdated).User)
		return nil
	})
}

// Load fetches the user from the backend and makes it current.
func (c *Context) Load(ctx context.Context, userID string) error {
	u, err := c.users.GetUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("userctx: load %s: %w", userID, err)
	}

	c.Set(ctx, u)
	return nil
}

// Refresh reloads the current user.
func (c *Context) Refresh(ctx context.Context) error {
	u, ok := c.Current()
	if !ok {
		return errors.New(errors.CodeFailedPrecondition, errors.WithMessagef("no current user"))
	}
	return c.Load(ctx, u.ID)
}

func (c *Context) Set(ctx context.Context, u *domain.User) {
	cp := *u

	c.mu.Lock()
	c.user = &cp
	c.mu.Unlock()

	c.publish(ctx, &cp)
}

// Apply replaces the aggregate of the current user. It is a no-op when nobody is signed in.
func (c *Context) Apply(ctx context.Context, a domain.Aggregate) {
	c.mu.Lock()
	if c.user == nil {
		c.mu.Unlock()
		return
	}
	c.user.Aggregate = a
	cp := *c.user
	c.mu.Unlock()

	c.publish(ctx, &cp)
}

func (c *Context) Clear(ctx context.Context) {
	c.mu.Lock()
	c.user = nil
	c.mu.Unlock()

	c.publish(ctx, nil)
}

func (c *Context) publish(ctx context.Context, u *domain.User) {
	var cp *domain.User
	if u != nil {
		v := *u
		cp = &v
	}
	c.eb.Publish(ctx, domain.EventUserUpdated{User: cp})
}

// Follow loads the user on every sign-in and clears it on sign-out.
func (c *Context) Follow(s *identity.Store) (unsubscribe func()) {
	return s.Subscribe(func(id *domain.Identity) {
		ctx, cancel := context.WithTimeout(context.Background(), loadTimeout)
		defer cancel()

		if id == nil {
			c.Clear(ctx)
			return
		}

		if err := c.Load(ctx, id.UserID); err != nil {
			slog.ErrorContext(ctx, "userctx: load after sign-in failed", "user", id.UserID, "error", err)
		}
	})
}

// Watch applies aggregates pushed by src to the current user until ctx is done or the user changes.
func (c *Context) Watch(ctx context.Context, src AggregateSource) error {
	u, ok := c.Current()
	if !ok {
		return errors.New(errors.CodeFailedPrecondition, errors.WithMessagef("no current user"))
	}

	// The subscription lives exactly as long as the watcher.
	ctx, cancel := context.WithCancel(ctx)

	ch, err := src.Subscribe(ctx, u.ID)
	if err != nil {
		cancel()
		return fmt.Errorf("userctx: watch %s: %w", u.ID, err)
	}

	go func() {
		defer cancel()

		for a := range ch {
			if cur, ok := c.Current(); !ok || cur.ID != u.ID {
				return
			}
			c.Apply(ctx, a)
		}
	}()

	return nil
}
