package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/victornm/etrivia/internal/auth"
	"github.com/victornm/etrivia/internal/domain"
	"github.com/victornm/etrivia/internal/errors"
	"github.com/victornm/etrivia/internal/event"
	"github.com/victornm/etrivia/internal/leaderboard"
	"github.com/victornm/etrivia/internal/score"
	"github.com/victornm/etrivia/internal/user"
)

const (
	defaultRankingLimit = 10
	maxRankingLimit     = 100
)

type (
	Accounts interface {
		Register(ctx context.Context, email, password string) (*auth.Session, error)
		Login(ctx context.Context, email, password string) (*auth.Session, error)
		Delete(ctx context.Context, userID string) error
		Verify(token string) (*auth.Claims, error)
	}

	Users interface {
		Sync(ctx context.Context, u domain.User) (*domain.User, error)
		Get(ctx context.Context, id string) (*domain.User, error)
		Update(ctx context.Context, id string, req user.UpdateRequest) (*domain.User, error)
		Delete(ctx context.Context, id string) error
		ApplyStats(ctx context.Context, id string, score int) (domain.Aggregate, error)
		TopByScore(ctx context.Context, limit int) ([]domain.RankingEntry, error)
	}

	Games interface {
		FinishGame(ctx context.Context, req score.FinishGameRequest) (*score.FinishGameResponse, error)
		History(ctx context.Context, req score.HistoryRequest) ([]domain.GameRecord, error)
	}

	Ranking interface {
		Top(ctx context.Context, req leaderboard.TopRequest) ([]domain.RankingEntry, error)
		Remove(ctx context.Context, userID string) error
	}

	Redis interface {
		Publish(ctx context.Context, channel string, message any) *redis.IntCmd
	}
)

type Config struct {
	Router       gin.IRouter
	EventBus     *event.Bus
	Accounts     Accounts
	Users        Users
	Games        Games
	Ranking      Ranking
	Redis        Redis
	PubsubPrefix string
}

type API struct {
	eb       *event.Bus
	accounts Accounts
	users    Users
	games    Games
	ranking  Ranking

	redis  Redis
	prefix string
}

func New(c Config) *API {
	a := &API{
		eb:       c.EventBus,
		accounts: c.Accounts,
		users:    c.Users,
		games:    c.Games,
		ranking:  c.Ranking,
		redis:    c.Redis,
		prefix:   c.PubsubPrefix,
	}

	// HTTP APIs
	r := c.Router
	r.POST("/auth/register", a.Register)
	r.POST("/auth/login", a.Login)

	authed := r.Group("", auth.Bearer(a.accounts))
	authed.POST("/users/sync", a.SyncUser)
	authed.GET("/users/ranking/top", a.TopRanking)

	self := authed.Group("", auth.Self("id"))
	self.GET("/users/:id", a.GetUser)
	self.PUT("/users/:id", a.UpdateUser)
	self.DELETE("/users/:id", a.DeleteUser)
	self.PATCH("/users/:id/stats", a.UpdateStats)
	self.POST("/games/:id/finish", a.FinishGame)
	self.GET("/games/:id/history", a.History)

	// Register event handlers
	if a.redis != nil {
		a.eb.Subscribe(domain.EventNameGameRecorded, func(ctx context.Context, e event.Event) error {
			ge := e.(domain.EventGameRecorded)
			return a.PublishStatsUpdated(ctx, domain.EventStatsUpdated{UserID: ge.Game.UserID, Aggregate: ge.Aggregate})
		})
		a.eb.Subscribe(domain.EventNameStatsUpdated, func(ctx context.Context, e event.Event) error {
			return a.PublishStatsUpdated(ctx, e.(domain.EventStatsUpdated))
		})
		a.eb.Subscribe(domain.EventNameRankingUpdated, func(ctx context.Context, e event.Event) error {
			return a.PublishRankingUpdated(ctx, e.(domain.EventRankingUpdated))
		})
	}

	return a
}

type registerRequest struct {
	Email     string `json:"email" binding:"required,email"`
	Password  string `json:"password" binding:"required,min=6"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	BirthDate string `json:"birth_date" binding:"omitempty,datetime=2006-01-02"`
}

func (a *API) Register(c *gin.Context) {
	var req registerRequest
	if !bind(c, &req) {
		return
	}

	ctx := c.Request.Context()
	s, err := a.accounts.Register(ctx, req.Email, req.Password)
	if err != nil {
		fail(c, err)
		return
	}

	u, err := a.users.Sync(ctx, domain.User{
		ID:        s.UserID,
		Email:     s.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		BirthDate: req.BirthDate,
	})
	if err != nil {
		if derr := a.accounts.Delete(ctx, s.UserID); derr != nil {
			slog.ErrorContext(ctx, "api: register: remove orphan credentials failed", "user_id", s.UserID, "error", derr)
		}
		fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, envelope{Success: true, Token: s.Token, User: newUser(u)})
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

func (a *API) Login(c *gin.Context) {
	var req loginRequest
	if !bind(c, &req) {
		return
	}

	ctx := c.Request.Context()
	s, err := a.accounts.Login(ctx, req.Email, req.Password)
	if err != nil {
		fail(c, err)
		return
	}

	u, err := a.users.Get(ctx, s.UserID)
	if errors.Is(err, errors.CodeNotFound) {
		// Signed up but never synced.
		u, err = &domain.User{ID: s.UserID, Email: s.Email}, nil
	}
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, envelope{Success: true, Token: s.Token, User: newUser(u)})
}

type syncUserRequest struct {
	ExternalID string `json:"external_id" binding:"required"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Email      string `json:"email" binding:"required,email"`
	BirthDate  string `json:"birth_date" binding:"omitempty,datetime=2006-01-02"`
}

func (a *API) SyncUser(c *gin.Context) {
	var req syncUserRequest
	if !bind(c, &req) {
		return
	}

	if req.ExternalID != auth.UserID(c) {
		fail(c, errors.New(errors.CodePermissionDenied, errors.WithMessagef("external_id does not match the authenticated user")))
		return
	}

	u, err := a.users.Sync(c.Request.Context(), domain.User{
		ID:        req.ExternalID,
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		BirthDate: req.BirthDate,
	})
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, envelope{Success: true, User: newUser(u)})
}

func (a *API) GetUser(c *gin.Context) {
	u, err := a.users.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, envelope{Success: true, User: newUser(u)})
}

type updateUserRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	BirthDate string `json:"birth_date" binding:"omitempty,datetime=2006-01-02"`
	AvatarURL string `json:"avatar_url" binding:"omitempty,url"`
}

func (a *API) UpdateUser(c *gin.Context) {
	var req updateUserRequest
	if !bind(c, &req) {
		return
	}

	u, err := a.users.Update(c.Request.Context(), c.Param("id"), user.UpdateRequest{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		BirthDate: req.BirthDate,
		AvatarURL: req.AvatarURL,
	})
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, envelope{Success: true, User: newUser(u)})
}

// DeleteUser removes the user row, its games and the credentials.
func (a *API) DeleteUser(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	if err := a.users.Delete(ctx, id); err != nil {
		fail(c, err)
		return
	}

	if err := a.accounts.Delete(ctx, id); err != nil {
		fail(c, err)
		return
	}

	if err := a.ranking.Remove(ctx, id); err != nil {
		slog.WarnContext(ctx, "api: remove from ranking failed", "user_id", id, "error", err)
	}

	c.JSON(http.StatusOK, envelope{Success: true, Message: "user deleted"})
}

type updateStatsRequest struct {
	Score       *int `json:"score" binding:"required,min=0"`
	IsBestScore bool `json:"is_best_score"`
}

// UpdateStats adds a score to the aggregate. The best score is computed server-side, is_best_score is advisory.
func (a *API) UpdateStats(c *gin.Context) {
	var req updateStatsRequest
	if !bind(c, &req) {
		return
	}

	ctx := c.Request.Context()
	id := c.Param("id")

	agg, err := a.users.ApplyStats(ctx, id, *req.Score)
	if err != nil {
		fail(c, err)
		return
	}

	a.eb.Publish(ctx, domain.EventStatsUpdated{UserID: id, Aggregate: agg})

	stats := newStats(agg)
	c.JSON(http.StatusOK, envelope{Success: true, Stats: &stats})
}

type finishGameRequest struct {
	Difficulty     string `json:"difficulty" binding:"required"`
	Level          int    `json:"level"`
	TotalScore     int    `json:"total_score"`
	MaxScore       int    `json:"max_score"`
	CorrectAnswers int    `json:"correct_answers"`
	WrongAnswers   int    `json:"wrong_answers"`
	MaxStreak      int    `json:"max_streak"`
	TimeTaken      int    `json:"time_taken"`
}

func (a *API) FinishGame(c *gin.Context) {
	var req finishGameRequest
	if !bind(c, &req) {
		return
	}

	d, ok := domain.ParseDifficulty(req.Difficulty)
	if !ok {
		fail(c, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("unknown difficulty %q", req.Difficulty)))
		return
	}

	resp, err := a.games.FinishGame(c.Request.Context(), score.FinishGameRequest{
		UserID: c.Param("id"),
		Summary: domain.GameSummary{
			Difficulty:     d,
			Level:          req.Level,
			Score:          req.TotalScore,
			MaxScore:       req.MaxScore,
			CorrectAnswers: req.CorrectAnswers,
			WrongAnswers:   req.WrongAnswers,
			MaxStreak:      req.MaxStreak,
			TimeTaken:      time.Duration(req.TimeTaken) * time.Second,
		},
	})
	if err != nil {
		fail(c, err)
		return
	}

	stats := newStats(resp.Aggregate)
	c.JSON(http.StatusOK, envelope{Success: true, Message: "game recorded", Stats: &stats})
}

func (a *API) History(c *gin.Context) {
	limit, ok := queryLimit(c, score.DefaultHistoryLimit, score.MaxHistoryLimit)
	if !ok {
		return
	}

	games, err := a.games.History(c.Request.Context(), score.HistoryRequest{
		UserID: c.Param("id"),
		Limit:  limit,
	})
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gamesEnvelope{Success: true, Games: newGames(games)})
}

// TopRanking serves the ranking from Redis, or from Postgres while the sorted set is empty.
func (a *API) TopRanking(c *gin.Context) {
	limit, ok := queryLimit(c, defaultRankingLimit, maxRankingLimit)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	entries, err := a.ranking.Top(ctx, leaderboard.TopRequest{Limit: limit})
	if err != nil {
		if !errors.Is(err, errors.CodeNotFound) {
			slog.WarnContext(ctx, "api: ranking unavailable, reading from database", "error", err)
		}
		entries, err = a.users.TopByScore(ctx, limit)
	}
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, rankingEnvelope{Success: true, Ranking: newRanking(entries)})
}

func queryLimit(c *gin.Context, def, maxLimit int) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return def, true
	}

	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		fail(c, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("limit must be a positive integer, got %q", raw)))
		return 0, false
	}

	return min(n, maxLimit), true
}

func bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		fail(c, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("invalid request: %v", err), errors.WithCause(err)))
		return false
	}
	return true
}

// fail writes a coded error. Internal causes are logged, never sent.
func fail(c *gin.Context, err error) {
	e := errors.Convert(err)
	if e.Code == errors.CodeInternal {
		slog.ErrorContext(c.Request.Context(), fmt.Sprintf("api: %s %s failed", c.Request.Method, c.FullPath()), "error", err)
	}

	c.AbortWithStatusJSON(e.HTTPStatusCode(), envelope{Success: false, Message: e.Message})
}
