package api_test

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/etrivia/internal/api"
	"github.com/victornm/etrivia/internal/auth"
	"github.com/victornm/etrivia/internal/backend"
	"github.com/victornm/etrivia/internal/domain"
	"github.com/victornm/etrivia/internal/errors"
	"github.com/victornm/etrivia/internal/event"
	"github.com/victornm/etrivia/internal/leaderboard"
	"github.com/victornm/etrivia/internal/score"
	"github.com/victornm/etrivia/internal/user"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestAPI_ClientRoundTrip(t *testing.T) {
	f := newFakes()
	srv, eb := makeServer(t, f)
	ctx := context.Background()

	var token string
	c := backend.New(backend.Config{BaseURL: srv.URL, Token: func() string { return token }})

	id, err := c.Register(ctx, backend.RegisterRequest{
		Email:     "ana@example.com",
		Password:  "secret1",
		FirstName: "Ana",
		LastName:  "Lopez",
		BirthDate: "1990-04-12",
	})
	require.NoError(t, err)
	assert.Equal(t, "u1", id.UserID)
	token = id.Token

	u, err := c.SyncUser(ctx, backend.SyncUserRequest{ExternalID: "u1", FirstName: "Ana", LastName: "Lopez", Email: "ana@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "Ana", u.FirstName)

	agg, err := c.FinishGame(ctx, "u1", domain.GameSummary{
		Difficulty:     domain.DifficultyIntermediate,
		Level:          2,
		Score:          90,
		MaxScore:       150,
		CorrectAnswers: 4,
		WrongAnswers:   1,
		TimeTaken:      42 * time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.Aggregate{TotalScore: 90, GamesPlayed: 1, BestScore: 90, CurrentStreak: 1}, agg)
	assert.Equal(t, 42*time.Second, f.games.finished[0].Summary.TimeTaken)

	games, err := c.History(ctx, "u1", 5)
	require.NoError(t, err)
	require.Len(t, games, 1)
	assert.Equal(t, 80.0, games[0].Accuracy)
	assert.Equal(t, 5, f.games.lastLimit)

	ranking, err := c.Ranking(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, []domain.RankingEntry{{UserID: "u1", Name: "Ana Lopez", TotalScore: 90}}, ranking, "empty sorted set falls back to the database")

	agg, err = c.UpdateStats(ctx, "u1", 10, false)
	require.NoError(t, err)
	assert.Equal(t, int64(100), agg.TotalScore)

	login, err := c.Login(ctx, "ana@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "u1", login.UserID)

	require.NoError(t, c.DeleteUser(ctx, "u1"))
	assert.Equal(t, []string{"u1"}, f.ranking.removed)

	_, err = c.Login(ctx, "ana@example.com", "secret1")
	assert.True(t, errors.Is(err, errors.CodeUnauthenticated), "deleted account cannot log in")

	eb.Stop()
}

func TestAPI_ErrorMapping(t *testing.T) {
	type (
		inputs struct {
			getErr error
		}

		outputs struct {
			status int
			body   map[string]any
		}
	)

	tests := map[string]struct {
		arrange func() inputs
		assert  func(t *testing.T, out outputs)
	}{
		"should map not found to 404": {
			arrange: func() inputs {
				return inputs{getErr: errors.New(errors.CodeNotFound, errors.WithMessagef("user u1 not found"))}
			},
			assert: func(t *testing.T, out outputs) {
				assert.Equal(t, http.StatusNotFound, out.status)
				assert.Equal(t, map[string]any{"success": false, "message": "user u1 not found"}, out.body)
			},
		},

		"should map aborted to 409": {
			arrange: func() inputs {
				return inputs{getErr: errors.New(errors.CodeAborted)}
			},
			assert: func(t *testing.T, out outputs) {
				assert.Equal(t, http.StatusConflict, out.status)
			},
		},

		"should map unavailable to 503": {
			arrange: func() inputs {
				return inputs{getErr: errors.Unavailable(stderrors.New("pool closed"))}
			},
			assert: func(t *testing.T, out outputs) {
				assert.Equal(t, http.StatusServiceUnavailable, out.status)
			},
		},

		"should hide the cause of uncoded errors": {
			arrange: func() inputs {
				return inputs{getErr: fmt.Errorf("get user u1: %w", stderrors.New("connection reset by peer"))}
			},
			assert: func(t *testing.T, out outputs) {
				assert.Equal(t, http.StatusInternalServerError, out.status)
				assert.Equal(t, "Internal", out.body["message"])
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			in := tt.arrange()
			f := newFakes()
			f.users.getErr = in.getErr
			srv, _ := makeServer(t, f)

			status, body := call(t, srv, http.MethodGet, "/users/u1", bearer(t, "u1"), "")
			tt.assert(t, outputs{status: status, body: body})
		})
	}
}

func TestAPI_Guards(t *testing.T) {
	f := newFakes()
	srv, _ := makeServer(t, f)

	tests := map[string]struct {
		method string
		path   string
		token  string
		body   string
		status int
	}{
		"should require a token":                {method: http.MethodGet, path: "/users/u1", status: http.StatusUnauthorized},
		"should forbid reading another user":    {method: http.MethodGet, path: "/users/u2", token: bearer(t, "u1"), status: http.StatusForbidden},
		"should forbid finishing for another":   {method: http.MethodPost, path: "/games/u2/finish", token: bearer(t, "u1"), body: `{"difficulty":"basic","correct_answers":1}`, status: http.StatusForbidden},
		"should forbid syncing another user":    {method: http.MethodPost, path: "/users/sync", token: bearer(t, "u1"), body: `{"external_id":"u2","email":"b@example.com"}`, status: http.StatusForbidden},
		"should reject an unknown difficulty":   {method: http.MethodPost, path: "/games/u1/finish", token: bearer(t, "u1"), body: `{"difficulty":"extreme","correct_answers":1}`, status: http.StatusBadRequest},
		"should reject a malformed body":        {method: http.MethodPatch, path: "/users/u1/stats", token: bearer(t, "u1"), body: `{"score":"many"}`, status: http.StatusBadRequest},
		"should reject a missing score":         {method: http.MethodPatch, path: "/users/u1/stats", token: bearer(t, "u1"), body: `{}`, status: http.StatusBadRequest},
		"should reject a bad limit":             {method: http.MethodGet, path: "/games/u1/history?limit=-3", token: bearer(t, "u1"), status: http.StatusBadRequest},
		"should reject a short password":        {method: http.MethodPost, path: "/auth/register", body: `{"email":"a@example.com","password":"123"}`, status: http.StatusBadRequest},
		"should reject a malformed birth date":  {method: http.MethodPost, path: "/auth/register", body: `{"email":"a@example.com","password":"123456","birth_date":"12/04/1990"}`, status: http.StatusBadRequest},
		"should reject wrong login credentials": {method: http.MethodPost, path: "/auth/login", body: `{"email":"nobody@example.com","password":"123456"}`, status: http.StatusUnauthorized},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			status, body := call(t, srv, tt.method, tt.path, tt.token, tt.body)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, false, body["success"])
			assert.NotEmpty(t, body["message"])
		})
	}
}

func TestAPI_Register(t *testing.T) {
	t.Run("should reject a duplicate email", func(t *testing.T) {
		f := newFakes()
		srv, _ := makeServer(t, f)

		body := `{"email":"ana@example.com","password":"secret1"}`
		status, _ := call(t, srv, http.MethodPost, "/auth/register", "", body)
		require.Equal(t, http.StatusCreated, status)

		status, resp := call(t, srv, http.MethodPost, "/auth/register", "", body)
		assert.Equal(t, http.StatusConflict, status)
		assert.Equal(t, "email already registered", resp["message"])
	})

	t.Run("should remove the credentials when the user cannot be stored", func(t *testing.T) {
		f := newFakes()
		f.users.syncErr = stderrors.New("users table is gone")
		srv, _ := makeServer(t, f)

		status, _ := call(t, srv, http.MethodPost, "/auth/register", "", `{"email":"ana@example.com","password":"secret1"}`)
		assert.Equal(t, http.StatusInternalServerError, status)
		assert.Equal(t, []string{"u1"}, f.accounts.deleted)
	})
}

func TestAPI_EmptyLists(t *testing.T) {
	f := newFakes()
	srv, _ := makeServer(t, f)

	_, body := call(t, srv, http.MethodGet, "/games/u1/history", bearer(t, "u1"), "")
	assert.Equal(t, []any{}, body["games"], "an empty history is an empty array")

	_, body = call(t, srv, http.MethodGet, "/users/ranking/top", bearer(t, "u1"), "")
	assert.Equal(t, []any{}, body["ranking"])
}

func TestAPI_RankingPrefersSortedSet(t *testing.T) {
	f := newFakes()
	f.ranking.entries = []domain.RankingEntry{{UserID: "u9", Name: "Zoe", TotalScore: 900}}
	srv, _ := makeServer(t, f)

	_, body := call(t, srv, http.MethodGet, "/users/ranking/top?limit=500", bearer(t, "u1"), "")
	assert.Equal(t, []any{map[string]any{"user_id": "u9", "name": "Zoe", "total_score": float64(900)}}, body["ranking"])
	assert.Equal(t, 100, f.ranking.lastLimit, "limit is capped")
}

func TestAPI_Notifications(t *testing.T) {
	type outputs struct {
		published map[string][]api.Notification
	}

	tests := map[string]struct {
		arrange func(eb *event.Bus)
		assert  func(t *testing.T, out outputs)
	}{
		"should notify the player of a recorded game": {
			arrange: func(eb *event.Bus) {
				eb.Publish(context.Background(), domain.EventGameRecorded{
					Game:      domain.GameRecord{UserID: "u1"},
					Aggregate: domain.Aggregate{TotalScore: 40, GamesPlayed: 1, BestScore: 40, CurrentStreak: 1},
				})
			},
			assert: func(t *testing.T, out outputs) {
				require.Len(t, out.published["test:user:u1"], 1)
				n := out.published["test:user:u1"][0]
				assert.Equal(t, domain.EventNameStatsUpdated, n.Event)
				assert.Equal(t, map[string]any{
					"total_score": float64(40), "games_played": float64(1), "best_score": float64(40), "current_streak": float64(1),
				}, n.Data)
			},
		},

		"should notify every ranked user of a new ranking": {
			arrange: func(eb *event.Bus) {
				eb.Publish(context.Background(), domain.EventRankingUpdated{Entries: []domain.RankingEntry{
					{UserID: "u1", TotalScore: 90},
					{UserID: "u2", TotalScore: 40},
				}})
			},
			assert: func(t *testing.T, out outputs) {
				assert.Len(t, out.published, 2)
				for _, ch := range []string{"test:user:u1", "test:user:u2"} {
					require.Len(t, out.published[ch], 1, ch)
					assert.Equal(t, domain.EventNameRankingUpdated, out.published[ch][0].Event)
				}
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			f := newFakes()
			_, eb := makeServer(t, f)

			tt.arrange(eb)
			eb.Stop()

			tt.assert(t, outputs{published: f.redis.decoded(t)})
		})
	}
}

var now = time.Now()

var tokens = auth.NewTokens("test-secret", time.Hour, func() time.Time { return now })

func bearer(t *testing.T, uid string) string {
	t.Helper()
	s, err := tokens.Issue(uid, uid+"@example.com")
	require.NoError(t, err)
	return s
}

func call(t *testing.T, srv *httptest.Server, method, path, token, body string) (int, map[string]any) {
	t.Helper()

	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, srv.URL+path, r)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

type fakes struct {
	accounts *fakeAccounts
	users    *fakeUsers
	games    *fakeGames
	ranking  *fakeRanking
	redis    *fakeRedis
}

func newFakes() *fakes {
	f := &fakes{
		accounts: &fakeAccounts{passwords: map[string]string{}, ids: map[string]string{}},
		users:    &fakeUsers{byID: map[string]*domain.User{}},
		ranking:  &fakeRanking{},
		redis:    &fakeRedis{published: map[string][][]byte{}},
	}
	f.games = &fakeGames{users: f.users}
	return f
}

func makeServer(t *testing.T, f *fakes) (*httptest.Server, *event.Bus) {
	t.Helper()

	e := gin.New()
	eb := event.NewBus()
	api.New(api.Config{
		Router:       e,
		EventBus:     eb,
		Accounts:     f.accounts,
		Users:        f.users,
		Games:        f.games,
		Ranking:      f.ranking,
		Redis:        f.redis,
		PubsubPrefix: "test",
	})

	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return srv, eb
}

type fakeAccounts struct {
	mu        sync.Mutex
	passwords map[string]string // email -> password
	ids       map[string]string // email -> user id
	deleted   []string
}

func (f *fakeAccounts) Register(_ context.Context, email, password string) (*auth.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.passwords[email]; ok {
		return nil, errors.New(errors.CodeAlreadyExists, errors.WithMessagef("email already registered"))
	}
	id := fmt.Sprintf("u%d", len(f.ids)+1)
	f.passwords[email], f.ids[email] = password, id
	return f.session(id, email)
}

func (f *fakeAccounts) Login(_ context.Context, email, password string) (*auth.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if p, ok := f.passwords[email]; !ok || p != password {
		return nil, errors.New(errors.CodeUnauthenticated, errors.WithMessagef("invalid credentials"))
	}
	return f.session(f.ids[email], email)
}

func (f *fakeAccounts) Delete(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.deleted = append(f.deleted, userID)
	for email, id := range f.ids {
		if id == userID {
			delete(f.passwords, email)
		}
	}
	return nil
}

func (f *fakeAccounts) Verify(token string) (*auth.Claims, error) {
	return tokens.Verify(token)
}

func (f *fakeAccounts) session(id, email string) (*auth.Session, error) {
	s, err := tokens.Issue(id, email)
	if err != nil {
		return nil, err
	}
	return &auth.Session{UserID: id, Email: email, Token: s}, nil
}

type fakeUsers struct {
	mu      sync.Mutex
	byID    map[string]*domain.User
	syncErr error
	getErr  error
}

func (f *fakeUsers) Sync(_ context.Context, u domain.User) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.syncErr != nil {
		return nil, f.syncErr
	}
	if old, ok := f.byID[u.ID]; ok {
		u.Aggregate = old.Aggregate
	}
	u.CreatedAt, u.UpdatedAt = now, now
	f.byID[u.ID] = &u
	out := u
	return &out, nil
}

func (f *fakeUsers) Get(_ context.Context, id string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.getErr != nil {
		return nil, f.getErr
	}
	u, ok := f.byID[id]
	if !ok {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("user %s not found", id))
	}
	out := *u
	return &out, nil
}

func (f *fakeUsers) Update(ctx context.Context, id string, req user.UpdateRequest) (*domain.User, error) {
	f.mu.Lock()
	u, ok := f.byID[id]
	if ok {
		u.FirstName, u.LastName = req.FirstName, req.LastName
	}
	f.mu.Unlock()

	return f.Get(ctx, id)
}

func (f *fakeUsers) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.byID, id)
	return nil
}

func (f *fakeUsers) ApplyStats(_ context.Context, id string, score int) (domain.Aggregate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	u, ok := f.byID[id]
	if !ok {
		return domain.Aggregate{}, errors.New(errors.CodeNotFound)
	}
	u.Aggregate.TotalScore += int64(score)
	u.Aggregate.GamesPlayed++
	u.Aggregate.BestScore = max(u.Aggregate.BestScore, score)
	return u.Aggregate, nil
}

func (f *fakeUsers) TopByScore(_ context.Context, limit int) ([]domain.RankingEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []domain.RankingEntry
	for _, u := range f.byID {
		out = append(out, domain.RankingEntry{
			UserID:     u.ID,
			Name:       strings.TrimSpace(u.FirstName + " " + u.LastName),
			TotalScore: u.Aggregate.TotalScore,
		})
	}
	return out[:min(limit, len(out))], nil
}

type fakeGames struct {
	users     *fakeUsers
	finished  []score.FinishGameRequest
	records   []domain.GameRecord
	lastLimit int
}

func (f *fakeGames) FinishGame(_ context.Context, req score.FinishGameRequest) (*score.FinishGameResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	f.users.mu.Lock()
	defer f.users.mu.Unlock()

	u, ok := f.users.byID[req.UserID]
	if !ok {
		return nil, errors.New(errors.CodeNotFound)
	}
	u.Aggregate = u.Aggregate.Record(req.Summary)

	g := domain.GameRecord{
		GameID:         fmt.Sprintf("g%d", len(f.records)+1),
		UserID:         req.UserID,
		Difficulty:     req.Summary.Difficulty,
		Score:          req.Summary.Score,
		CorrectAnswers: req.Summary.CorrectAnswers,
		WrongAnswers:   req.Summary.WrongAnswers,
		TimeTaken:      req.Summary.TimeTaken,
		Accuracy:       score.Accuracy(req.Summary.CorrectAnswers, req.Summary.WrongAnswers).InexactFloat64(),
		PlayedAt:       now,
	}
	f.finished = append(f.finished, req)
	f.records = append(f.records, g)

	return &score.FinishGameResponse{Game: g, Aggregate: u.Aggregate}, nil
}

func (f *fakeGames) History(_ context.Context, req score.HistoryRequest) ([]domain.GameRecord, error) {
	f.lastLimit = req.Limit
	return f.records, nil
}

type fakeRanking struct {
	entries   []domain.RankingEntry
	lastLimit int
	removed   []string
}

func (f *fakeRanking) Top(_ context.Context, req leaderboard.TopRequest) ([]domain.RankingEntry, error) {
	f.lastLimit = req.Limit
	if len(f.entries) == 0 {
		return nil, errors.New(errors.CodeNotFound)
	}
	return f.entries, nil
}

func (f *fakeRanking) Remove(_ context.Context, userID string) error {
	f.removed = append(f.removed, userID)
	return nil
}

type fakeRedis struct {
	mu        sync.Mutex
	published map[string][][]byte
}

func (f *fakeRedis) Publish(ctx context.Context, channel string, message any) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.published[channel] = append(f.published[channel], message.([]byte))
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(1)
	return cmd
}

func (f *fakeRedis) decoded(t *testing.T) map[string][]api.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make(map[string][]api.Notification, len(f.published))
	for ch, msgs := range f.published {
		for _, m := range msgs {
			var n api.Notification
			require.NoError(t, json.Unmarshal(m, &n))
			out[ch] = append(out[ch], n)
		}
	}
	return out
}
