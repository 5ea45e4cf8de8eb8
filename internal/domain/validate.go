package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Validate checks that quiz content can be scored: unique question IDs,
// positive points and keys that are internally consistent.
func (q Quiz) Validate() error {
	if strings.TrimSpace(q.ID) == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidQuiz)
	}
	if q.TimeLimitSeconds != nil && *q.TimeLimitSeconds <= 0 {
		return fmt.Errorf("%w: time limit must be positive", ErrInvalidQuiz)
	}
	if q.MaxAttempts != nil && *q.MaxAttempts <= 0 {
		return fmt.Errorf("%w: max attempts must be positive", ErrInvalidQuiz)
	}
	if q.PassingPercent.IsNegative() || q.PassingPercent.GreaterThan(hundred) {
		return fmt.Errorf("%w: passing percent out of range", ErrInvalidQuiz)
	}

	seen := make(map[string]struct{}, len(q.Questions))
	for _, question := range q.Questions {
		if _, dup := seen[question.ID]; dup {
			return fmt.Errorf("%w: duplicate question %s", ErrInvalidQuiz, question.ID)
		}
		seen[question.ID] = struct{}{}
		if err := question.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks a single question and its key.
func (q QuestionSpec) Validate() error {
	if q.ID == "" {
		return fmt.Errorf("%w: question without id", ErrInvalidQuiz)
	}
	if !q.Points.IsPositive() {
		return fmt.Errorf("%w: question %s must be worth positive points", ErrInvalidQuiz, q.ID)
	}
	if q.Key == nil || q.Key.QuestionType() != q.Type {
		return fmt.Errorf("%w: question %s key does not match type %q", ErrInvalidQuiz, q.ID, q.Type)
	}

	switch key := q.Key.(type) {
	case MCQKey:
		if len(key.Options) < 2 {
			return fmt.Errorf("%w: question %s needs at least two options", ErrInvalidQuiz, q.ID)
		}
		if key.Correct < 0 || key.Correct >= len(key.Options) {
			return fmt.Errorf("%w: question %s correct option out of range", ErrInvalidQuiz, q.ID)
		}
	case TrueFalseKey, ShortAnswerKey:
	case MatchingKey:
		if len(key.Pairs) == 0 {
			return fmt.Errorf("%w: question %s has no pairs", ErrInvalidQuiz, q.ID)
		}
		lefts := make(map[string]struct{}, len(key.Pairs))
		for _, p := range key.Pairs {
			if _, dup := lefts[p.Left]; dup {
				return fmt.Errorf("%w: question %s repeats left item %q", ErrInvalidQuiz, q.ID, p.Left)
			}
			lefts[p.Left] = struct{}{}
		}
	case OrderingKey:
		if len(key.Items) == 0 {
			return fmt.Errorf("%w: question %s has no items", ErrInvalidQuiz, q.ID)
		}
		items := make(map[string]struct{}, len(key.Items))
		for _, item := range key.Items {
			if _, dup := items[item]; dup {
				return fmt.Errorf("%w: question %s repeats item %q", ErrInvalidQuiz, q.ID, item)
			}
			items[item] = struct{}{}
		}
	case FillBlankKey:
		if len(key.Gaps) == 0 {
			return fmt.Errorf("%w: question %s has no gaps", ErrInvalidQuiz, q.ID)
		}
		for i, gap := range key.Gaps {
			if len(gap.Accepted) == 0 {
				return fmt.Errorf("%w: question %s gap %d accepts nothing", ErrInvalidQuiz, q.ID, i)
			}
		}
	default:
		return fmt.Errorf("%w: question %s has unsupported key %T", ErrInvalidQuiz, q.ID, q.Key)
	}
	return nil
}
