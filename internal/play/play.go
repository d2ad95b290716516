package play

import (
	"context"
	"iter"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/victornm/etrivia/internal/domain"
	"github.com/victornm/etrivia/internal/errors"
	"github.com/victornm/etrivia/internal/game"
	"github.com/victornm/etrivia/internal/reconcile"
)

const DefaultQuestionCount = 10

type (
	Questions interface {
		Sample(d domain.Difficulty, count int) iter.Seq[domain.Question]
	}

	Reconciler interface {
		Run(ctx context.Context, userID string, s *game.Session) (reconcile.Report, error)
	}

	Identities interface {
		Current() (domain.Identity, bool)
	}
)

type Config struct {
	Questions  Questions
	Reconciler Reconciler
	Identities Identities

	Now       func() time.Time
	AfterFunc game.AfterFunc
}

// Event is either a resolved question or, last, the result of the game.
type Event struct {
	Resolution *game.Resolution
	Result     *Result
}

type Result struct {
	Report  reconcile.Report
	Verdict string
	// Err is set when the game could not be reconciled at all. Step failures are in Report.
	Err error
}

// Game runs one session end to end: sampling, play, then reconciliation of the outcome.
type Game struct {
	questions  Questions
	reconciler Reconciler
	identities Identities
	now        func() time.Time
	afterFunc  game.AfterFunc

	mu      sync.Mutex
	session *game.Session
	events  chan Event
}

func New(c Config) *Game {
	return &Game{
		questions:  c.Questions,
		reconciler: c.Reconciler,
		identities: c.Identities,
		now:        c.Now,
		afterFunc:  c.AfterFunc,
	}
}

// Start samples count questions of the tier and starts a fresh session.
// Any session still running is abandoned.
func (g *Game) Start(ctx context.Context, d domain.Difficulty, level, count int) error {
	if !d.Valid() {
		slog.WarnContext(ctx, "play: unknown difficulty, using basic", "difficulty", d)
		d = domain.DifficultyBasic
	}
	if count <= 0 {
		count = DefaultQuestionCount
	}

	qs := slices.Collect(g.questions.Sample(d, count))
	if len(qs) == 0 {
		return errors.New(errors.CodeFailedPrecondition, errors.WithMessagef("no questions available for %s", d))
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.session != nil {
		g.session.Abandon()
	}

	events := make(chan Event, len(qs)+1)
	var s *game.Session
	s = game.NewSession(game.Config{
		Difficulty: d,
		Level:      level,
		Now:        g.now,
		AfterFunc:  g.afterFunc,
		OnResolve: func(r game.Resolution) {
			events <- Event{Resolution: &r}
			if r.Finished {
				go g.finish(context.WithoutCancel(ctx), s, events)
			}
		},
	})

	if err := s.Start(qs); err != nil {
		return err
	}

	g.session = s
	g.events = events

	slog.InfoContext(ctx, "play: game started", "difficulty", d, "level", level, "questions", len(qs))
	return nil
}

func (g *Game) finish(ctx context.Context, s *game.Session, events chan<- Event) {
	defer close(events)

	res := &Result{}
	summary := s.Summary()
	res.Verdict = game.Verdict(summary.Score, summary.MaxScore)

	id, ok := g.identities.Current()
	if !ok {
		res.Report = reconcile.Report{
			Summary:  summary,
			Score:    summary.Score,
			MaxScore: summary.MaxScore,
			Source:   reconcile.SourceNone,
		}
		events <- Event{Result: res}
		return
	}

	r, err := g.reconciler.Run(ctx, id.UserID, s)
	if err != nil {
		slog.ErrorContext(ctx, "play: reconcile failed", "user", id.UserID, "error", err)
		res.Err = err
		r = reconcile.Report{Summary: summary, Score: summary.Score, MaxScore: summary.MaxScore, Source: reconcile.SourceNone}
	}
	res.Report = r

	events <- Event{Result: res}
}

// Answer selects option for the current question.
func (g *Game) Answer(option int) (game.Resolution, error) {
	s, err := g.current()
	if err != nil {
		return game.Resolution{}, err
	}

	_, idx, ok := s.Current()
	if !ok {
		return game.Resolution{}, game.ErrNotInProgress
	}
	return s.Answer(idx, option)
}

// AnswerAt selects option for question index. It fails with game.ErrAlreadyResolved when the
// question was resolved in the meantime, typically by its timer.
func (g *Game) AnswerAt(index, option int) (game.Resolution, error) {
	s, err := g.current()
	if err != nil {
		return game.Resolution{}, err
	}
	return s.Answer(index, option)
}

// Current returns the question awaiting an answer.
func (g *Game) Current() (domain.Question, int, bool) {
	s, err := g.current()
	if err != nil {
		return domain.Question{}, 0, false
	}
	return s.Current()
}

func (g *Game) Session() *game.Session {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.session
}

// Events delivers every resolution of the running game followed by its result, then closes.
// It is nil before the first Start.
func (g *Game) Events() <-chan Event {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.events
}

// Quit abandons the running game. Abandoned games are not recorded and their event channel is
// never closed, so readers stop at Quit.
func (g *Game) Quit() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.session != nil {
		g.session.Abandon()
	}
}

func (g *Game) current() (*game.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.session == nil {
		return nil, game.ErrNotInProgress
	}
	return g.session, nil
}
