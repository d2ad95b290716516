package questionbank_test

import (
	"math/rand/v2"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/etrivia/internal/domain"
	"github.com/victornm/etrivia/internal/questionbank"
)

func TestNew_DefaultCatalog(t *testing.T) {
	b, err := questionbank.New(questionbank.Config{})
	require.NoError(t, err)

	for _, d := range domain.Difficulties {
		qs := b.Questions(d)
		require.NotEmpty(t, qs, "tier %s should not be empty", d)

		for _, q := range qs {
			assert.Equal(t, d, q.Difficulty)
			assert.Len(t, q.Options, 4)
			assert.Positive(t, q.Points)
			assert.Positive(t, q.TimeLimit)
		}
	}

	q, ok := b.Get("basic_001")
	require.True(t, ok)
	assert.Equal(t, 10, q.Points)
	assert.Equal(t, 15*time.Second, q.TimeLimit)
}

func TestNew_InvalidCatalog(t *testing.T) {
	tests := map[string]string{
		"unknown tier": `
expert:
  points: 30
  time_limit: 30s
  questions: []`,

		"three options": `
basic:
  points: 10
  time_limit: 15s
  questions:
    - {id: b1, prompt: p, options: [a, b, c], correct: 0}`,

		"correct out of range": `
basic:
  points: 10
  time_limit: 15s
  questions:
    - {id: b1, prompt: p, options: [a, b, c, d], correct: 4}`,

		"duplicate id": `
basic:
  points: 10
  time_limit: 15s
  questions:
    - {id: b1, prompt: p, options: [a, b, c, d], correct: 0}
    - {id: b1, prompt: q, options: [a, b, c, d], correct: 1}`,

		"empty basic tier": `
advanced:
  points: 20
  time_limit: 25s
  questions:
    - {id: a1, prompt: p, options: [a, b, c, d], correct: 0}`,
	}

	for name, catalog := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := questionbank.New(questionbank.Config{Catalog: []byte(catalog)})
			require.Error(t, err)
		})
	}
}

func TestBank_Sample(t *testing.T) {
	type (
		inputs struct {
			difficulty domain.Difficulty
			count      int
		}

		outputs struct {
			sampled []domain.Question
		}
	)

	tests := map[string]struct {
		arrange func() inputs
		assert  func(t *testing.T, b *questionbank.Bank, out outputs)
	}{
		"should return count distinct questions of the tier": {
			arrange: func() inputs {
				return inputs{difficulty: domain.DifficultyIntermediate, count: 5}
			},

			assert: func(t *testing.T, _ *questionbank.Bank, out outputs) {
				require.Len(t, out.sampled, 5)
				seen := map[string]bool{}
				for _, q := range out.sampled {
					assert.Equal(t, domain.DifficultyIntermediate, q.Difficulty)
					assert.False(t, seen[q.ID], "question %s sampled twice", q.ID)
					seen[q.ID] = true
				}
			},
		},

		"should return the whole tier when count exceeds it": {
			arrange: func() inputs {
				return inputs{difficulty: domain.DifficultyAdvanced, count: 100}
			},

			assert: func(t *testing.T, b *questionbank.Bank, out outputs) {
				assert.ElementsMatch(t, b.Questions(domain.DifficultyAdvanced), out.sampled)
			},
		},

		"should fall back to basic for an unknown tier": {
			arrange: func() inputs {
				return inputs{difficulty: domain.Difficulty("expert"), count: 3}
			},

			assert: func(t *testing.T, _ *questionbank.Bank, out outputs) {
				require.Len(t, out.sampled, 3)
				for _, q := range out.sampled {
					assert.Equal(t, domain.DifficultyBasic, q.Difficulty)
				}
			},
		},

		"should return nothing for a non-positive count": {
			arrange: func() inputs {
				return inputs{difficulty: domain.DifficultyBasic, count: 0}
			},

			assert: func(t *testing.T, _ *questionbank.Bank, out outputs) {
				assert.Empty(t, out.sampled)
			},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			b, err := questionbank.New(questionbank.Config{Rand: rand.New(rand.NewPCG(1, 2))})
			require.NoError(t, err)

			in := tt.arrange()
			out := outputs{sampled: slices.Collect(b.Sample(in.difficulty, in.count))}

			tt.assert(t, b, out)
		})
	}
}

func TestBank_Sample_StopsEarly(t *testing.T) {
	b, err := questionbank.New(questionbank.Config{})
	require.NoError(t, err)

	var n int
	for range b.Sample(domain.DifficultyBasic, 10) {
		n++
		if n == 2 {
			break
		}
	}

	assert.Equal(t, 2, n)
}
