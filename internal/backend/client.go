package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/victornm/etrivia/internal/domain"
	"github.com/victornm/etrivia/internal/errors"
)

type Config struct {
	BaseURL string
	Timeout time.Duration

	// Token returns the bearer credential of the signed-in user, empty when signed out.
	Token func() string

	HTTPClient *http.Client
}

const DefaultTimeout = 10 * time.Second

// Client talks to the trivia backend. Every response is checked against its schema before it is mapped.
type Client struct {
	url    string
	token  func() string
	client *http.Client
}

func New(c Config) *Client {
	cl := &Client{
		url:    strings.TrimRight(c.BaseURL, "/"),
		token:  c.Token,
		client: c.HTTPClient,
	}

	if cl.client == nil {
		timeout := c.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		cl.client = &http.Client{Timeout: timeout}
	}
	if cl.token == nil {
		cl.token = func() string { return "" }
	}

	return cl
}

type RegisterRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	BirthDate string `json:"birth_date"`
}

// Register creates the account credentials. The returned identity carries the token to use from now on.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*domain.Identity, error) {
	env, err := c.do(ctx, http.MethodPost, "/auth/register", req, schemaAuth, "")
	if err != nil {
		return nil, err
	}

	return &domain.Identity{UserID: env.User.ID, Email: env.User.Email, Token: env.Token}, nil
}

func (c *Client) Login(ctx context.Context, email, password string) (*domain.Identity, error) {
	env, err := c.do(ctx, http.MethodPost, "/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, schemaAuth, "")
	if err != nil {
		return nil, err
	}

	return &domain.Identity{UserID: env.User.ID, Email: env.User.Email, Token: env.Token}, nil
}

type SyncUserRequest struct {
	ExternalID string `json:"external_id"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Email      string `json:"email"`
	BirthDate  string `json:"birth_date"`
}

// SyncUser creates or refreshes the backend user bound to the identity.
func (c *Client) SyncUser(ctx context.Context, req SyncUserRequest) (*domain.User, error) {
	env, err := c.do(ctx, http.MethodPost, "/users/sync", req, schemaUser, "")
	if err != nil {
		return nil, err
	}
	return env.User.toDomain(), nil
}

func (c *Client) GetUser(ctx context.Context, id string) (*domain.User, error) {
	env, err := c.do(ctx, http.MethodGet, "/users/"+url.PathEscape(id), nil, schemaUser, "")
	if err != nil {
		return nil, err
	}
	return env.User.toDomain(), nil
}

type UpdateUserRequest struct {
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	BirthDate string `json:"birth_date,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

func (c *Client) UpdateUser(ctx context.Context, id string, req UpdateUserRequest) (*domain.User, error) {
	env, err := c.do(ctx, http.MethodPut, "/users/"+url.PathEscape(id), req, schemaUser, "")
	if err != nil {
		return nil, err
	}
	return env.User.toDomain(), nil
}

// DeleteUser removes the user and the account credentials.
func (c *Client) DeleteUser(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodDelete, "/users/"+url.PathEscape(id), nil, schemaEmpty, "")
	return err
}

// UpdateStats adds a score to the user's aggregate. A response without stats is answered
// with the aggregate of a first game.
func (c *Client) UpdateStats(ctx context.Context, id string, score int, isBest bool) (domain.Aggregate, error) {
	env, err := c.do(ctx, http.MethodPatch, "/users/"+url.PathEscape(id)+"/stats", map[string]any{
		"score":         score,
		"is_best_score": isBest,
	}, schemaStats, "")
	if err != nil {
		return domain.Aggregate{}, err
	}

	if env.Stats == nil {
		a := domain.Aggregate{TotalScore: int64(score), GamesPlayed: 1}
		if isBest {
			a.BestScore = score
		}
		return a, nil
	}

	return env.Stats.toDomain(), nil
}

// FinishGame submits a finished game. The returned aggregate is authoritative.
func (c *Client) FinishGame(ctx context.Context, userID string, g domain.GameSummary) (domain.Aggregate, error) {
	env, err := c.do(ctx, http.MethodPost, "/games/"+url.PathEscape(userID)+"/finish", map[string]any{
		"difficulty":      g.Difficulty,
		"level":           g.Level,
		"total_score":     g.Score,
		"max_score":       g.MaxScore,
		"correct_answers": g.CorrectAnswers,
		"wrong_answers":   g.WrongAnswers,
		"max_streak":      g.MaxStreak,
		"time_taken":      int(g.TimeTaken.Seconds()),
	}, schemaStats, "")
	if err != nil {
		return domain.Aggregate{}, err
	}

	if env.Stats == nil {
		return domain.Aggregate{}, errors.New(errors.CodeInternal, errors.WithMessagef("finish game: response carries no stats"))
	}

	return env.Stats.toDomain(), nil
}

// History returns the user's most recent games, newest first.
func (c *Client) History(ctx context.Context, userID string, limit int) ([]domain.GameRecord, error) {
	env, err := c.do(ctx, http.MethodGet, "/games/"+url.PathEscape(userID)+"/history", nil, schemaGames, limitQuery(limit))
	if err != nil {
		return nil, err
	}

	games := make([]domain.GameRecord, 0, len(env.Games))
	for _, g := range env.Games {
		games = append(games, g.toDomain(userID))
	}
	return games, nil
}

func (c *Client) Ranking(ctx context.Context, limit int) ([]domain.RankingEntry, error) {
	env, err := c.do(ctx, http.MethodGet, "/users/ranking/top", nil, schemaRanking, limitQuery(limit))
	if err != nil {
		return nil, err
	}

	entries := make([]domain.RankingEntry, 0, len(env.Ranking))
	for _, r := range env.Ranking {
		entries = append(entries, domain.RankingEntry{UserID: r.UserID, Name: r.Name, TotalScore: r.TotalScore})
	}
	return entries, nil
}

func limitQuery(limit int) string {
	if limit <= 0 {
		return ""
	}
	return url.Values{"limit": {strconv.Itoa(limit)}}.Encode()
}

// do sends the request and decodes a response matching schema.
func (c *Client) do(ctx context.Context, method, path string, in any, schema *gojsonschema.Schema, query string) (*envelope, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, errors.Internal(fmt.Errorf("backend: marshal %s %s: %w", method, path, err))
		}
		body = bytes.NewReader(b)
	}

	u := c.url + path
	if query != "" {
		u += "?" + query
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, errors.Internal(fmt.Errorf("backend: new request: %w", err))
	}

	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if t := c.token(); t != "" {
		req.Header.Set("Authorization", "Bearer "+t)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		slog.ErrorContext(ctx, "backend: request failed", "method", method, "path", path, "error", err)
		return nil, errors.Unavailable(fmt.Errorf("backend: %s %s: %w", method, path, err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Unavailable(fmt.Errorf("backend: read %s %s: %w", method, path, err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError(resp.StatusCode, raw)
	}

	return decodeEnvelope(raw, schema)
}

func statusError(status int, raw []byte) error {
	var env struct {
		Message string `json:"message"`
	}
	msg := http.StatusText(status)
	if json.Unmarshal(raw, &env) == nil && env.Message != "" {
		msg = env.Message
	}

	return errors.New(errors.FromHTTPStatus(status), errors.WithMessagef("%s", msg))
}

func decodeEnvelope(raw []byte, schema *gojsonschema.Schema) (*envelope, error) {
	res, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, errors.New(errors.CodeInternal, errors.WithMessagef("malformed response"), errors.WithCause(err))
	}
	if !res.Valid() {
		problems := make([]string, 0, len(res.Errors()))
		for _, e := range res.Errors() {
			problems = append(problems, e.String())
		}
		return nil, errors.New(errors.CodeInternal,
			errors.WithMessagef("unexpected response shape: %s", strings.Join(problems, "; ")))
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, errors.New(errors.CodeInternal, errors.WithMessagef("malformed response"), errors.WithCause(err))
	}
	if env.Success != nil && !*env.Success {
		return nil, errors.New(errors.CodeInternal, errors.WithMessagef("backend reported failure: %s", env.Message))
	}

	return &env, nil
}

type (
	envelope struct {
		Success *bool            `json:"success"`
		Message string           `json:"message"`
		Token   string           `json:"token"`
		User    *userPayload     `json:"user"`
		Stats   *statsPayload    `json:"stats"`
		Games   []gamePayload    `json:"games"`
		Ranking []rankingPayload `json:"ranking"`
	}

	statsPayload struct {
		TotalScore    int64 `json:"total_score"`
		GamesPlayed   int   `json:"games_played"`
		BestScore     int   `json:"best_score"`
		CurrentStreak int   `json:"current_streak"`
	}

	userPayload struct {
		ID        string    `json:"id"`
		Email     string    `json:"email"`
		FirstName string    `json:"first_name"`
		LastName  string    `json:"last_name"`
		BirthDate string    `json:"birth_date"`
		AvatarURL string    `json:"avatar_url"`
		CreatedAt time.Time `json:"created_at"`
		UpdatedAt time.Time `json:"updated_at"`
		statsPayload
	}

	gamePayload struct {
		GameID         string    `json:"game_id"`
		UserID         string    `json:"user_id"`
		Difficulty     string    `json:"difficulty"`
		Score          int       `json:"score"`
		CorrectAnswers int       `json:"correct_answers"`
		WrongAnswers   int       `json:"wrong_answers"`
		TimeTaken      int       `json:"time_taken"`
		Accuracy       float64   `json:"accuracy"`
		PlayedAt       time.Time `json:"played_at"`
	}

	rankingPayload struct {
		UserID     string `json:"user_id"`
		Name       string `json:"name"`
		TotalScore int64  `json:"total_score"`
	}
)

func (p statsPayload) toDomain() domain.Aggregate {
	return domain.Aggregate{
		TotalScore:    p.TotalScore,
		GamesPlayed:   p.GamesPlayed,
		BestScore:     p.BestScore,
		CurrentStreak: p.CurrentStreak,
	}
}

func (p *userPayload) toDomain() *domain.User {
	return &domain.User{
		ID:        p.ID,
		Email:     p.Email,
		FirstName: p.FirstName,
		LastName:  p.LastName,
		BirthDate: p.BirthDate,
		AvatarURL: p.AvatarURL,
		Aggregate: p.statsPayload.toDomain(),
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

func (p gamePayload) toDomain(userID string) domain.GameRecord {
	if p.UserID != "" {
		userID = p.UserID
	}
	return domain.GameRecord{
		GameID:         p.GameID,
		UserID:         userID,
		Difficulty:     domain.Difficulty(p.Difficulty),
		Score:          p.Score,
		CorrectAnswers: p.CorrectAnswers,
		WrongAnswers:   p.WrongAnswers,
		TimeTaken:      time.Duration(p.TimeTaken) * time.Second,
		Accuracy:       p.Accuracy,
		PlayedAt:       p.PlayedAt,
	}
}
