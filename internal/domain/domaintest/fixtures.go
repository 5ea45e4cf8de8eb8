// Package domaintest holds quiz fixtures shared by tests across packages.
package domaintest

import (
	"github.com/shopspring/decimal"

	"quiz-attempt-service/internal/domain"
)

// Ten is the point value of every fixture question.
var Ten = decimal.NewFromInt(10)

// IntPtr returns a pointer to v.
func IntPtr(v int) *int { return &v }

// MixedQuiz has one question of every type, each worth ten points. It is timed
// at 600 seconds, allows two attempts and passes at 60%.
func MixedQuiz() domain.Quiz {
	return domain.Quiz{
		ID:               "quiz-mixed",
		Version:          1,
		Title:            "Geography and Go",
		TimeLimitSeconds: IntPtr(600),
		MaxAttempts:      IntPtr(2),
		PassingPercent:   decimal.NewFromInt(60),
		Questions: []domain.QuestionSpec{
			{
				ID: "mcq", Type: domain.TypeMCQ, Prompt: "2 + 2?", Points: Ten,
				Key: domain.MCQKey{Options: []string{"3", "4", "5"}, Correct: 1},
			},
			{
				ID: "tf", Type: domain.TypeTrueFalse, Prompt: "Go has generics.", Points: Ten,
				Key: domain.TrueFalseKey{Correct: true},
			},
			{
				ID: "short", Type: domain.TypeShortAnswer, Prompt: "Explain channels.", Points: Ten,
				Key: domain.ShortAnswerKey{},
			},
			{
				ID: "match", Type: domain.TypeMatching, Prompt: "Match capitals.", Points: Ten,
				Key: domain.MatchingKey{Pairs: []domain.MatchPair{
					{Left: "France", Right: "Paris"},
					{Left: "Italy", Right: "Rome"},
					{Left: "Spain", Right: "Madrid"},
					{Left: "Japan", Right: "Tokyo"},
				}},
			},
			{
				ID: "order", Type: domain.TypeOrdering, Prompt: "Order by size.", Points: Ten,
				Key: domain.OrderingKey{Items: []string{"byte", "int32", "int64", "complex128"}},
			},
			{
				ID: "blank", Type: domain.TypeFillBlank, Prompt: "The capital of France is ___.", Points: Ten,
				Key: domain.FillBlankKey{Gaps: []domain.Gap{{Accepted: []string{"Paris"}}}},
			},
		},
	}
}

// ObjectiveQuiz has three auto-scored questions worth ten points each, a 600
// second limit and no attempt cap.
func ObjectiveQuiz() domain.Quiz {
	return domain.Quiz{
		ID:               "quiz-objective",
		Version:          1,
		Title:            "Basics",
		TimeLimitSeconds: IntPtr(600),
		PassingPercent:   decimal.NewFromInt(50),
		Questions: []domain.QuestionSpec{
			{ID: "q1", Type: domain.TypeMCQ, Prompt: "Pick b", Points: Ten, Key: domain.MCQKey{Options: []string{"a", "b"}, Correct: 1}},
			{ID: "q2", Type: domain.TypeTrueFalse, Prompt: "True?", Points: Ten, Key: domain.TrueFalseKey{Correct: true}},
			{ID: "q3", Type: domain.TypeOrdering, Prompt: "Sort", Points: Ten, Key: domain.OrderingKey{Items: []string{"x", "y", "z"}}},
		},
	}
}

// SingleShotQuiz is untimed and allows exactly one attempt.
func SingleShotQuiz() domain.Quiz {
	return domain.Quiz{
		ID:             "quiz-single",
		Version:        1,
		Title:          "One try",
		MaxAttempts:    IntPtr(1),
		PassingPercent: decimal.NewFromInt(50),
		Questions: []domain.QuestionSpec{
			{ID: "q1", Type: domain.TypeTrueFalse, Prompt: "True?", Points: Ten, Key: domain.TrueFalseKey{Correct: true}},
		},
	}
}

// Quizzes indexes the fixtures by ID.
func Quizzes() map[string]domain.Quiz {
	out := make(map[string]domain.Quiz)
	for _, q := range []domain.Quiz{MixedQuiz(), ObjectiveQuiz(), SingleShotQuiz()} {
		out[q.ID] = q
	}
	return out
}
