package reconcile

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/victornm/etrivia/internal/domain"
	"github.com/victornm/etrivia/internal/errors"
	"github.com/victornm/etrivia/internal/game"
	"github.com/victornm/etrivia/internal/telemetry"
)

type Step string

const (
	StepLocalCache Step = "local_cache"
	StepProfile    Step = "profile"
	StepBackend    Step = "backend"
	StepRefresh    Step = "refresh"
)

// Steps lists the steps in the order they run.
var Steps = []Step{StepLocalCache, StepProfile, StepBackend, StepRefresh}

// Source tells which store the reported aggregate came from.
type Source string

const (
	SourceNone    Source = "none"
	SourceProfile Source = "profile"
	SourceBackend Source = "backend"
)

type (
	LocalCache interface {
		Save(ctx context.Context, userID string, d domain.Difficulty, score int) error
	}

	Profiles interface {
		RecordGame(ctx context.Context, userID string, g domain.GameSummary) (domain.Aggregate, error)
	}

	Backend interface {
		FinishGame(ctx context.Context, userID string, g domain.GameSummary) (domain.Aggregate, error)
	}

	UserContext interface {
		Refresh(ctx context.Context) error
		Apply(ctx context.Context, a domain.Aggregate)
	}
)

type StepResult struct {
	Step Step
	Err  error
}

func (r StepResult) OK() bool { return r.Err == nil }

// Report is the outcome of a reconciliation. Score and MaxScore always come from the session.
type Report struct {
	Summary   domain.GameSummary
	Score     int
	MaxScore  int
	Aggregate domain.Aggregate
	Source    Source
	Steps     []StepResult
}

// Failed returns the steps that did not succeed.
func (r Report) Failed() []StepResult {
	var failed []StepResult
	for _, s := range r.Steps {
		if !s.OK() {
			failed = append(failed, s)
		}
	}
	return failed
}

type Visibility int

const (
	Silent Visibility = iota
	UserVisible
)

// Policy decides which step failures are shown to the user. Steps not listed are Silent.
type Policy map[Step]Visibility

// Notices lists the failures the policy makes visible.
func (r Report) Notices(p Policy) []StepResult {
	var out []StepResult
	for _, s := range r.Failed() {
		if p[s.Step] == UserVisible {
			out = append(out, s)
		}
	}
	return out
}

type Config struct {
	Cache    LocalCache
	Profiles Profiles
	Backend  Backend
	User     UserContext
}

// Flow propagates a finished game to every store. Each step is independent: a failure is recorded
// and the remaining steps still run. Nothing is rolled back.
type Flow struct {
	cache    LocalCache
	profiles Profiles
	backend  Backend
	user     UserContext
}

func NewFlow(c Config) *Flow {
	return &Flow{
		cache:    c.Cache,
		profiles: c.Profiles,
		backend:  c.Backend,
		user:     c.User,
	}
}

// Run reconciles a finished session for userID.
func (f *Flow) Run(ctx context.Context, userID string, s *game.Session) (Report, error) {
	if s.State() != game.StateFinished {
		return Report{}, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("session is %s, not finished", s.State()))
	}
	if s.Abandoned() {
		return Report{}, errors.New(errors.CodeFailedPrecondition, errors.WithMessagef("session was abandoned"))
	}

	g := s.Summary()
	r := Report{
		Summary:  g,
		Score:    g.Score,
		MaxScore: g.MaxScore,
		Source:   SourceNone,
	}

	r.Steps = append(r.Steps, f.step(ctx, userID, StepLocalCache, func() error {
		return f.cache.Save(ctx, userID, g.Difficulty, g.Score)
	}))

	r.Steps = append(r.Steps, f.step(ctx, userID, StepProfile, func() error {
		a, err := f.profiles.RecordGame(ctx, userID, g)
		if err != nil {
			return err
		}
		r.Aggregate, r.Source = a, SourceProfile
		return nil
	}))

	r.Steps = append(r.Steps, f.step(ctx, userID, StepBackend, func() error {
		a, err := f.backend.FinishGame(ctx, userID, g)
		if err != nil {
			return err
		}
		r.Aggregate, r.Source = a, SourceBackend
		return nil
	}))

	r.Steps = append(r.Steps, f.step(ctx, userID, StepRefresh, func() error {
		err := f.user.Refresh(ctx)
		if err != nil && r.Source != SourceNone {
			f.user.Apply(ctx, r.Aggregate)
		}
		return err
	}))

	slog.InfoContext(ctx, "reconcile: done",
		"user", userID,
		"score", r.Score,
		"source", r.Source,
		"failed", len(r.Failed()),
	)

	return r, nil
}

func (f *Flow) step(ctx context.Context, userID string, step Step, fn func() error) (res StepResult) {
	res.Step = step

	defer func() {
		if v := recover(); v != nil {
			res.Err = errors.Internal(fmt.Errorf("panic: %v", v))
		}

		outcome := "ok"
		if res.Err != nil {
			outcome = "failed"
			slog.ErrorContext(ctx, "reconcile: step failed",
				"user", userID,
				"step", step,
				"error", res.Err,
			)
		}
		telemetry.ReconcileSteps.WithLabelValues(string(step), outcome).Inc()
	}()

	res.Err = fn()
	return res
}
