package game

import (
	"sync"
	"time"

	"github.com/victornm/etrivia/internal/domain"
	"github.com/victornm/etrivia/internal/errors"
)

type State int

const (
	StateNotStarted State = iota
	StateInProgress
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateInProgress:
		return "in_progress"
	case StateFinished:
		return "finished"
	}
	return "unknown"
}

var (
	// ErrAlreadyResolved is returned when a question is answered a second time,
	// e.g. a double tap or a tap racing the timer. The session is left untouched.
	ErrAlreadyResolved = errors.New(errors.CodeAlreadyExists, errors.WithMessagef("question already resolved"))
	// ErrNotInProgress is returned for transitions attempted outside InProgress.
	ErrNotInProgress = errors.New(errors.CodeFailedPrecondition, errors.WithMessagef("session is not in progress"))
)

// Timer is a running single-shot countdown.
type Timer interface {
	Stop() bool
}

// AfterFunc starts a countdown that calls f once d has elapsed.
type AfterFunc func(d time.Duration, f func()) Timer

type Config struct {
	Difficulty domain.Difficulty
	Level      int

	// OnResolve is called once per resolved question, in question order.
	// It must not call back into the session.
	OnResolve func(Resolution)

	Now       func() time.Time
	AfterFunc AfterFunc
}

// Resolution describes how a question was resolved and the session state right after it.
type Resolution struct {
	Index    int
	Question domain.Question
	Answer   domain.Answer
	TimedOut bool
	Score    int
	Streak   int
	Finished bool
}

// Session is one play-through over a fixed, ordered list of questions.
// Every transition is serialised, so of two events racing for the same question only the first counts.
type Session struct {
	difficulty domain.Difficulty
	level      int
	onResolve  func(Resolution)
	now        func() time.Time
	afterFunc  AfterFunc

	mu        sync.Mutex
	state     State
	questions []domain.Question
	answers   []domain.Answer
	index     int
	score     int
	streak    int
	maxStreak int
	abandoned bool

	startedAt         time.Time
	finishedAt        time.Time
	questionStartedAt time.Time

	// gen identifies the current timer; a callback carrying an older value is stale.
	gen   uint64
	timer Timer

	notifyMu sync.Mutex
}

func NewSession(c Config) *Session {
	s := &Session{
		difficulty: c.Difficulty,
		level:      max(c.Level, 1),
		onResolve:  c.OnResolve,
		now:        c.Now,
		afterFunc:  c.AfterFunc,
	}

	if s.now == nil {
		s.now = time.Now
	}
	if s.afterFunc == nil {
		s.afterFunc = func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
	}

	return s
}

// Start begins the session with the given questions and arms the timer of the first one.
// An empty list leaves the session NotStarted.
func (s *Session) Start(questions []domain.Question) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateNotStarted {
		return errors.New(errors.CodeFailedPrecondition, errors.WithMessagef("session already started"))
	}
	if len(questions) == 0 {
		return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("no questions to play"))
	}

	if s.difficulty == "" {
		s.difficulty = questions[0].Difficulty
	}

	s.questions = append([]domain.Question(nil), questions...)
	s.answers = make([]domain.Answer, 0, len(questions))
	s.state = StateInProgress
	s.startedAt = s.now()
	s.questionStartedAt = s.startedAt
	s.armLocked()

	return nil
}

// Answer resolves the question at index with the selected option. Only Timeout records NoSelection.
func (s *Session) Answer(index, option int) (Resolution, error) {
	return s.resolve(index, option, false)
}

// Timeout resolves the question at index as unanswered. It always scores as incorrect.
func (s *Session) Timeout(index int) (Resolution, error) {
	return s.resolve(index, domain.NoSelection, true)
}

// Abandon ends an unfinished session without scoring the remaining questions.
func (s *Session) Abandon() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateFinished {
		return
	}

	s.abandoned = true
	s.state = StateFinished
	s.finishedAt = s.now()
	s.armLocked()
}

func (s *Session) resolve(index, option int, timedOut bool) (Resolution, error) {
	s.mu.Lock()
	return s.commitLocked(s.resolveLocked(index, option, timedOut))
}

// commitLocked releases mu and reports a successful resolution. notifyMu is taken before mu is
// released so OnResolve observes resolutions in order.
func (s *Session) commitLocked(res Resolution, err error) (Resolution, error) {
	if err != nil {
		s.mu.Unlock()
		return Resolution{}, err
	}

	s.notifyMu.Lock()
	s.mu.Unlock()
	defer s.notifyMu.Unlock()

	if s.onResolve != nil {
		s.onResolve(res)
	}

	return res, nil
}

func (s *Session) resolveLocked(index, option int, timedOut bool) (Resolution, error) {
	if index >= 0 && index < len(s.answers) {
		return Resolution{}, ErrAlreadyResolved
	}
	if s.state != StateInProgress {
		return Resolution{}, ErrNotInProgress
	}
	if index != s.index {
		return Resolution{}, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("question %d is not the current question %d", index, s.index))
	}

	q := s.questions[s.index]
	if !timedOut && (option < 0 || option >= len(q.Options)) {
		return Resolution{}, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("option %d out of range for question %s", option, q.ID))
	}

	now := s.now()
	a := domain.Answer{
		QuestionID: q.ID,
		Selected:   option,
		Correct:    option != domain.NoSelection && option == q.Correct,
		TimeSpent:  now.Sub(s.questionStartedAt),
	}

	if a.Correct {
		a.Points = Points(s.difficulty, s.level, q)
		s.score += a.Points
		s.streak++
		s.maxStreak = max(s.maxStreak, s.streak)
	} else {
		s.streak = 0
	}

	s.answers = append(s.answers, a)
	s.index++
	s.questionStartedAt = now

	if s.index == len(s.questions) {
		s.state = StateFinished
		s.finishedAt = now
	}
	s.armLocked()

	return Resolution{
		Index:    index,
		Question: q,
		Answer:   a,
		TimedOut: timedOut,
		Score:    s.score,
		Streak:   s.streak,
		Finished: s.state == StateFinished,
	}, nil
}

// armLocked cancels the running timer and, while in progress, starts the one of the current question.
func (s *Session) armLocked() {
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}

	if s.state != StateInProgress {
		return
	}

	gen := s.gen
	s.timer = s.afterFunc(s.questions[s.index].TimeLimit, func() { s.expire(gen) })
}

func (s *Session) expire(gen uint64) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}

	_, _ = s.commitLocked(s.resolveLocked(s.index, domain.NoSelection, true))
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Index() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index
}

func (s *Session) Score() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.score
}

func (s *Session) Streak() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streak
}

func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.questions)
}

func (s *Session) Abandoned() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.abandoned
}

// Current returns the question awaiting an answer and its index.
func (s *Session) Current() (domain.Question, int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateInProgress {
		return domain.Question{}, s.index, false
	}
	return s.questions[s.index], s.index, true
}

func (s *Session) Answers() []domain.Answer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Answer(nil), s.answers...)
}

// MaxScore is the score of a session answered entirely correctly.
func (s *Session) MaxScore() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total int
	for _, q := range s.questions {
		total += Points(s.difficulty, s.level, q)
	}
	return total
}

func (s *Session) Summary() domain.GameSummary {
	maxScore := s.MaxScore()

	s.mu.Lock()
	defer s.mu.Unlock()

	g := domain.GameSummary{
		Difficulty: s.difficulty,
		Level:      s.level,
		Score:      s.score,
		MaxScore:   maxScore,
		MaxStreak:  s.maxStreak,
	}
	for _, a := range s.answers {
		if a.Correct {
			g.CorrectAnswers++
		} else {
			g.WrongAnswers++
		}
	}
	if s.state == StateFinished {
		g.TimeTaken = s.finishedAt.Sub(s.startedAt)
	} else if s.state == StateInProgress {
		g.TimeTaken = s.now().Sub(s.startedAt)
	}

	return g
}
