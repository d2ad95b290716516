package game

import "github.com/victornm/etrivia/internal/domain"

// LevelBonus is added to a question's points for every level above the first.
const LevelBonus = 5

var basePoints = map[domain.Difficulty]int{
	domain.DifficultyBasic:        10,
	domain.DifficultyIntermediate: 15,
	domain.DifficultyAdvanced:     20,
}

// BasePoints returns the points a correct answer is worth on level 1 of the tier.
func BasePoints(d domain.Difficulty) int {
	if p, ok := basePoints[d]; ok {
		return p
	}
	return basePoints[domain.DifficultyBasic]
}

// Points is the score awarded for answering q correctly on the given tier and level.
// The question's own points take precedence over the tier base.
//
//	tier          level 1  level 2  level 3
//	basic              10       15       20
//	intermediate       15       20       25
//	advanced           20       25       30
func Points(d domain.Difficulty, level int, q domain.Question) int {
	p := q.Points
	if p <= 0 {
		p = BasePoints(d)
	}
	if level > 1 {
		p += LevelBonus * (level - 1)
	}
	return p
}

// Verdict is the message shown on the results view for a score out of maxScore.
func Verdict(score, maxScore int) string {
	pct := 0
	if maxScore > 0 {
		pct = (score*100 + maxScore/2) / maxScore
	}

	switch {
	case pct >= 100:
		return "Perfect! You nailed every question."
	case pct >= 80:
		return "Excellent work!"
	case pct >= 60:
		return "Well done, keep practicing."
	case pct >= 40:
		return "You're on the right track."
	default:
		return "Don't give up, try again."
	}
}
