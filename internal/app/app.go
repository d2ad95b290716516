package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/victornm/etrivia/internal/backend"
	"github.com/victornm/etrivia/internal/domain"
	"github.com/victornm/etrivia/internal/event"
	"github.com/victornm/etrivia/internal/identity"
	"github.com/victornm/etrivia/internal/localscore"
	"github.com/victornm/etrivia/internal/play"
	"github.com/victornm/etrivia/internal/profile"
	"github.com/victornm/etrivia/internal/questionbank"
	"github.com/victornm/etrivia/internal/reconcile"
	"github.com/victornm/etrivia/internal/telemetry"
	"github.com/victornm/etrivia/internal/userctx"
	"github.com/victornm/etrivia/internal/validate"
)

type Config struct {
	Backend struct {
		URL     string
		Timeout time.Duration
	}

	Redis struct {
		Addrs  []string
		Pass   string
		Prefix string
	}

	SQLite struct {
		Path string
	}

	Game struct {
		Difficulty string
		Level      int
		Questions  int
	}

	// Credentials sign in automatically at startup when both are set.
	Credentials struct {
		Email    string
		Password string
	}

	// Notices lists the reconciliation steps whose failures are shown to the player.
	Notices []string
}

// DefaultConfig is the configuration used when the file leaves a value unset.
func DefaultConfig() Config {
	var c Config
	c.Backend.URL = "http://localhost:8080"
	c.Backend.Timeout = backend.DefaultTimeout
	c.Redis.Addrs = []string{"localhost:6379"}
	c.Redis.Prefix = "etrivia"
	c.SQLite.Path = "etrivia.db"
	c.Game.Difficulty = string(domain.DifficultyBasic)
	c.Game.Level = 1
	c.Game.Questions = play.DefaultQuestionCount
	return c
}

// App is the trivia client: every store and service of a player's device, wired together.
type App struct {
	c Config

	eb *event.Bus

	infra struct {
		redis  redis.UniversalClient
		sqlite *localscore.SQLiteStore
	}

	validator  *validate.Validator
	identities *identity.Store
	backend    *backend.Client
	accounts   *identity.Service
	profiles   *profile.Store
	scores     *localscore.Cache
	users      *userctx.Context
	game       *play.Game
	policy     reconcile.Policy

	mu          sync.Mutex
	stopWatch   context.CancelFunc
	stopFollow  func()
	stopWatcher func()
}

type Option func(a *App)

// WithRedis uses r instead of connecting to the configured addresses.
func WithRedis(r redis.UniversalClient) Option {
	return func(a *App) {
		a.infra.redis = r
	}
}

func Init(c Config, opts ...Option) (*App, error) {
	a := &App{c: c}
	for _, opt := range opts {
		opt(a)
	}

	a.eb = event.NewBus()

	if err := a.initInfra(); err != nil {
		return nil, fmt.Errorf("app: init infra: %w", err)
	}

	if err := a.initService(); err != nil {
		return nil, fmt.Errorf("app: init service: %w", err)
	}

	return a, nil
}

func (a *App) initInfra() error {
	if a.infra.redis == nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		r := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    a.c.Redis.Addrs,
			Password: a.c.Redis.Pass,
		})

		if err := telemetry.MonitorRedis("profile", r); err != nil {
			return fmt.Errorf("redis: %w", err)
		}

		if err := r.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}

		a.infra.redis = r
	}

	db, err := localscore.OpenSQLite(a.c.SQLite.Path)
	if err != nil {
		return fmt.Errorf("sqlite: %w", err)
	}
	a.infra.sqlite = db

	return nil
}

func (a *App) initService() error {
	a.validator = validate.New(time.Now)
	a.identities = identity.NewStore()

	a.backend = backend.New(backend.Config{
		BaseURL: a.c.Backend.URL,
		Timeout: a.c.Backend.Timeout,
		Token:   a.identities.Token,
	})

	a.profiles = profile.NewStore(profile.Config{
		Redis:  a.infra.redis,
		Prefix: a.c.Redis.Prefix,
	})

	a.scores = localscore.New(localscore.Config{
		Store: a.infra.sqlite,
	})

	a.accounts = identity.NewService(identity.Config{
		Provider:  identity.NewBackendProvider(a.backend),
		Store:     a.identities,
		Validator: a.validator,
		Profiles:  a.profiles,
		Users:     a.backend,
	})

	a.users = userctx.New(userctx.Config{
		Users:    a.backend,
		EventBus: a.eb,
	})
	a.stopFollow = a.users.Follow(a.identities)
	a.stopWatcher = a.identities.Subscribe(a.watchProfile)

	bank, err := questionbank.New(questionbank.Config{})
	if err != nil {
		return err
	}

	a.game = play.New(play.Config{
		Questions: bank,
		Reconciler: reconcile.NewFlow(reconcile.Config{
			Cache:    a.scores,
			Profiles: a.profiles,
			Backend:  a.backend,
			User:     a.users,
		}),
		Identities: a.identities,
	})

	a.policy = reconcile.Policy{}
	for _, s := range a.c.Notices {
		a.policy[reconcile.Step(s)] = reconcile.UserVisible
	}

	return nil
}

// watchProfile follows the profile document of whoever is signed in, so aggregates written
// from another device reach the user context.
func (a *App) watchProfile(id *domain.Identity) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopWatch != nil {
		a.stopWatch()
		a.stopWatch = nil
	}

	if id == nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := a.users.Watch(ctx, a.profiles); err != nil {
		cancel()
		slog.WarnContext(ctx, "app: watch profile failed", "user", id.UserID, "error", err)
		return
	}
	a.stopWatch = cancel
}

// Close stops background work and releases the stores.
func (a *App) Close() {
	a.game.Quit()
	a.stopWatcher()
	a.stopFollow()

	a.mu.Lock()
	if a.stopWatch != nil {
		a.stopWatch()
	}
	a.mu.Unlock()

	a.eb.Stop()

	if err := a.infra.sqlite.Close(); err != nil {
		slog.Error("app: close sqlite failed", "error", err)
	}
	if err := a.infra.redis.Close(); err != nil {
		slog.Error("app: close redis failed", "error", err)
	}
}
