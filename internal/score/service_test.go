package score_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/victornm/etrivia/internal/domain"
	"github.com/victornm/etrivia/internal/errors"
	"github.com/victornm/etrivia/internal/score"
)

func TestAccuracy(t *testing.T) {
	tests := map[string]struct {
		correct, wrong int
		want           string
	}{
		"all correct":      {correct: 10, wrong: 0, want: "100"},
		"none answered":    {correct: 0, wrong: 0, want: "0"},
		"two thirds":       {correct: 2, wrong: 1, want: "66.67"},
		"one third":        {correct: 1, wrong: 2, want: "33.33"},
		"seven of twelve":  {correct: 7, wrong: 5, want: "58.33"},
		"all wrong":        {correct: 0, wrong: 4, want: "0"},
		"exact percentage": {correct: 3, wrong: 1, want: "75"},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, score.Accuracy(tc.correct, tc.wrong).String())
		})
	}
}

func TestFinishGameRequest_Validate(t *testing.T) {
	valid := domain.GameSummary{
		Difficulty:     domain.DifficultyAdvanced,
		Level:          1,
		Score:          40,
		MaxScore:       60,
		CorrectAnswers: 2,
		WrongAnswers:   1,
		TimeTaken:      30 * time.Second,
	}

	tests := map[string]struct {
		arrange func(r *score.FinishGameRequest)
		ok      bool
	}{
		"valid":              {arrange: func(r *score.FinishGameRequest) {}, ok: true},
		"no user":            {arrange: func(r *score.FinishGameRequest) { r.UserID = "" }},
		"unknown difficulty": {arrange: func(r *score.FinishGameRequest) { r.Summary.Difficulty = "expert" }},
		"negative score":     {arrange: func(r *score.FinishGameRequest) { r.Summary.Score = -1 }},
		"nothing answered": {arrange: func(r *score.FinishGameRequest) {
			r.Summary.CorrectAnswers, r.Summary.WrongAnswers = 0, 0
		}},
		"score above max":  {arrange: func(r *score.FinishGameRequest) { r.Summary.Score = 70 }},
		"max score absent": {arrange: func(r *score.FinishGameRequest) { r.Summary.MaxScore = 0 }, ok: true},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			r := score.FinishGameRequest{UserID: "u1", Summary: valid}
			tc.arrange(&r)

			err := r.Validate()
			if tc.ok {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, errors.CodeInvalidArgument), "got %v", err)
		})
	}
}
