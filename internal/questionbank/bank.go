package questionbank

import (
	"context"
	_ "embed"
	"fmt"
	"iter"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/victornm/etrivia/internal/domain"
)

const optionsPerQuestion = 4

//go:embed catalog.yaml
var defaultCatalog []byte

type Config struct {
	// Catalog is the YAML catalog to load. The embedded catalog is used when empty.
	Catalog []byte
	// Rand drives sampling. A process-wide source is used when nil.
	Rand *rand.Rand
}

// Bank is the static, per-tier question catalog.
type Bank struct {
	tiers map[domain.Difficulty][]domain.Question
	byID  map[string]domain.Question

	mu   sync.Mutex
	rand *rand.Rand
}

type (
	catalogFile map[string]catalogTier

	catalogTier struct {
		Points    int            `yaml:"points"`
		TimeLimit time.Duration  `yaml:"time_limit"`
		Questions []catalogEntry `yaml:"questions"`
	}

	catalogEntry struct {
		ID          string        `yaml:"id"`
		Prompt      string        `yaml:"prompt"`
		Options     []string      `yaml:"options"`
		Correct     int           `yaml:"correct"`
		Category    string        `yaml:"category"`
		Points      int           `yaml:"points"`
		TimeLimit   time.Duration `yaml:"time_limit"`
		Explanation string        `yaml:"explanation"`
	}
)

// New loads and validates the catalog.
func New(c Config) (*Bank, error) {
	raw := c.Catalog
	if len(raw) == 0 {
		raw = defaultCatalog
	}

	var f catalogFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("questionbank: parse catalog: %w", err)
	}

	b := &Bank{
		tiers: make(map[domain.Difficulty][]domain.Question, len(f)),
		byID:  make(map[string]domain.Question),
		rand:  c.Rand,
	}

	for name, t := range f {
		d := domain.Difficulty(name)
		if !d.Valid() {
			return nil, fmt.Errorf("questionbank: unknown tier %q", name)
		}

		for _, e := range t.Questions {
			q, err := e.question(d, t)
			if err != nil {
				return nil, fmt.Errorf("questionbank: tier %s: %w", name, err)
			}
			if _, dup := b.byID[q.ID]; dup {
				return nil, fmt.Errorf("questionbank: duplicate question id %q", q.ID)
			}

			b.tiers[d] = append(b.tiers[d], q)
			b.byID[q.ID] = q
		}
	}

	if len(b.tiers[domain.DifficultyBasic]) == 0 {
		return nil, fmt.Errorf("questionbank: tier %s is empty", domain.DifficultyBasic)
	}

	return b, nil
}

func (e catalogEntry) question(d domain.Difficulty, t catalogTier) (domain.Question, error) {
	if e.ID == "" {
		return domain.Question{}, fmt.Errorf("question without id")
	}
	if len(e.Options) != optionsPerQuestion {
		return domain.Question{}, fmt.Errorf("question %s: want %d options, got %d", e.ID, optionsPerQuestion, len(e.Options))
	}
	if e.Correct < 0 || e.Correct >= len(e.Options) {
		return domain.Question{}, fmt.Errorf("question %s: correct option %d out of range", e.ID, e.Correct)
	}

	q := domain.Question{
		ID:          e.ID,
		Prompt:      e.Prompt,
		Options:     e.Options,
		Correct:     e.Correct,
		Difficulty:  d,
		Category:    e.Category,
		Points:      e.Points,
		TimeLimit:   e.TimeLimit,
		Explanation: e.Explanation,
	}
	if q.Points == 0 {
		q.Points = t.Points
	}
	if q.TimeLimit == 0 {
		q.TimeLimit = t.TimeLimit
	}
	if q.TimeLimit <= 0 {
		return domain.Question{}, fmt.Errorf("question %s: no time limit", e.ID)
	}

	return q, nil
}

// Sample returns up to count questions of the tier in random order. Questions are drawn lazily,
// one partial Fisher-Yates step per yielded item, and every iteration draws a fresh order.
// An unknown tier falls back to basic.
func (b *Bank) Sample(d domain.Difficulty, count int) iter.Seq[domain.Question] {
	pool := b.pool(d)

	return func(yield func(domain.Question) bool) {
		n := min(count, len(pool))
		idx := make([]int, len(pool))
		for i := range idx {
			idx[i] = i
		}

		for i := 0; i < n; i++ {
			j := i + b.intN(len(idx)-i)
			idx[i], idx[j] = idx[j], idx[i]
			if !yield(pool[idx[i]]) {
				return
			}
		}
	}
}

// Questions returns the whole tier in catalog order. An unknown tier falls back to basic.
func (b *Bank) Questions(d domain.Difficulty) []domain.Question {
	return append([]domain.Question(nil), b.pool(d)...)
}

func (b *Bank) Get(id string) (domain.Question, bool) {
	q, ok := b.byID[id]
	return q, ok
}

func (b *Bank) pool(d domain.Difficulty) []domain.Question {
	if pool, ok := b.tiers[d]; ok && len(pool) > 0 {
		return pool
	}

	slog.WarnContext(context.Background(), "questionbank: unknown tier, falling back",
		"difficulty", d,
		"fallback", domain.DifficultyBasic,
	)
	return b.tiers[domain.DifficultyBasic]
}

func (b *Bank) intN(n int) int {
	if b.rand == nil {
		return rand.IntN(n)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rand.IntN(n)
}
