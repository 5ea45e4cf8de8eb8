// Package scoring validates answers against question keys and turns them into points.
package scoring

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"quiz-attempt-service/internal/domain"
)

// MaxShortAnswerLength bounds free-text answers, in runes.
const MaxShortAnswerLength = 10000

// Evaluation is the per-question outcome of an evaluator.
type Evaluation struct {
	Earned            decimal.Decimal
	Max               decimal.Decimal
	NeedsManualReview bool
}

// Validate reports whether answer is well formed for question. Malformed answers are
// rejected with domain.ErrInvalidAnswerPayload; they are never scored as wrong.
func Validate(question domain.QuestionSpec, answer domain.Answer) error {
	if answer == nil {
		return fmt.Errorf("%w: empty answer", domain.ErrInvalidAnswerPayload)
	}
	if answer.QuestionType() != question.Type {
		return fmt.Errorf("%w: question %s expects %s, got %s",
			domain.ErrInvalidAnswerPayload, question.ID, question.Type, answer.QuestionType())
	}

	switch key := question.Key.(type) {
	case domain.MCQKey:
		a, ok := answer.(domain.MCQAnswer)
		if !ok {
			return shapeError(answer)
		}
		if a.Index < 0 || a.Index >= len(key.Options) {
			return fmt.Errorf("%w: option %d out of range", domain.ErrInvalidAnswerPayload, a.Index)
		}
	case domain.TrueFalseKey:
		if _, ok := answer.(domain.TrueFalseAnswer); !ok {
			return shapeError(answer)
		}
	case domain.ShortAnswerKey:
		a, ok := answer.(domain.ShortAnswer)
		if !ok {
			return shapeError(answer)
		}
		if utf8.RuneCountInString(a.Text) > MaxShortAnswerLength {
			return fmt.Errorf("%w: answer longer than %d characters", domain.ErrInvalidAnswerPayload, MaxShortAnswerLength)
		}
	case domain.MatchingKey:
		a, ok := answer.(domain.MatchingAnswer)
		if !ok {
			return shapeError(answer)
		}
		return validateMatching(key, a)
	case domain.OrderingKey:
		a, ok := answer.(domain.OrderingAnswer)
		if !ok {
			return shapeError(answer)
		}
		return validateOrdering(key, a)
	case domain.FillBlankKey:
		a, ok := answer.(domain.FillBlankAnswer)
		if !ok {
			return shapeError(answer)
		}
		if len(a.Gaps) != len(key.Gaps) {
			return fmt.Errorf("%w: expected %d gaps, got %d", domain.ErrInvalidAnswerPayload, len(key.Gaps), len(a.Gaps))
		}
	default:
		return fmt.Errorf("%w: unsupported question key %T", domain.ErrInvalidAnswerPayload, question.Key)
	}
	return nil
}

func shapeError(answer domain.Answer) error {
	return fmt.Errorf("%w: unexpected answer value %T", domain.ErrInvalidAnswerPayload, answer)
}

func validateMatching(key domain.MatchingKey, a domain.MatchingAnswer) error {
	lefts := make(map[string]struct{}, len(key.Pairs))
	rights := make(map[string]struct{}, len(key.Pairs))
	for _, p := range key.Pairs {
		lefts[p.Left] = struct{}{}
		rights[p.Right] = struct{}{}
	}
	for left, right := range a.Pairs {
		if _, ok := lefts[left]; !ok {
			return fmt.Errorf("%w: unknown left item %q", domain.ErrInvalidAnswerPayload, left)
		}
		if _, ok := rights[right]; !ok {
			return fmt.Errorf("%w: unknown right item %q", domain.ErrInvalidAnswerPayload, right)
		}
	}
	return nil
}

func validateOrdering(key domain.OrderingKey, a domain.OrderingAnswer) error {
	if len(a.Sequence) != len(key.Items) {
		return fmt.Errorf("%w: expected %d items, got %d", domain.ErrInvalidAnswerPayload, len(key.Items), len(a.Sequence))
	}
	remaining := make(map[string]int, len(key.Items))
	for _, item := range key.Items {
		remaining[item]++
	}
	for _, item := range a.Sequence {
		if remaining[item] == 0 {
			return fmt.Errorf("%w: sequence is not a permutation (unexpected %q)", domain.ErrInvalidAnswerPayload, item)
		}
		remaining[item]--
	}
	return nil
}

// Evaluate scores one question. A nil answer is unanswered and earns zero. The
// answer must already have passed Validate.
func Evaluate(question domain.QuestionSpec, answer domain.Answer) Evaluation {
	points := question.Points
	eval := Evaluation{Earned: decimal.Zero, Max: points}

	switch key := question.Key.(type) {
	case domain.MCQKey:
		if a, ok := answer.(domain.MCQAnswer); ok && a.Index == key.Correct {
			eval.Earned = points
		}
	case domain.TrueFalseKey:
		if a, ok := answer.(domain.TrueFalseAnswer); ok && a.Value == key.Correct {
			eval.Earned = points
		}
	case domain.ShortAnswerKey:
		eval.NeedsManualReview = true
	case domain.MatchingKey:
		if a, ok := answer.(domain.MatchingAnswer); ok {
			correct := 0
			for _, p := range key.Pairs {
				if right, mapped := a.Pairs[p.Left]; mapped && right == p.Right {
					correct++
				}
			}
			eval.Earned = fraction(points, correct, len(key.Pairs))
		}
	case domain.OrderingKey:
		if a, ok := answer.(domain.OrderingAnswer); ok {
			correct := 0
			for i, item := range key.Items {
				if i < len(a.Sequence) && a.Sequence[i] == item {
					correct++
				}
			}
			eval.Earned = fraction(points, correct, len(key.Items))
		}
	case domain.FillBlankKey:
		if a, ok := answer.(domain.FillBlankAnswer); ok {
			correct := 0
			for i, gap := range key.Gaps {
				if i < len(a.Gaps) && accepts(gap, a.Gaps[i]) {
					correct++
				}
			}
			eval.Earned = fraction(points, correct, len(key.Gaps))
		}
	}
	return eval
}

// fraction computes points*correct/total. Multiplying first keeps terminating
// fractions exact; the rest carry decimal.DivisionPrecision digits.
func fraction(points decimal.Decimal, correct, total int) decimal.Decimal {
	if total == 0 || correct == 0 {
		return decimal.Zero
	}
	if correct == total {
		return points
	}
	return points.Mul(decimal.NewFromInt(int64(correct))).Div(decimal.NewFromInt(int64(total)))
}

func accepts(gap domain.Gap, submitted string) bool {
	normalized := normalize(submitted)
	if normalized == "" {
		return false
	}
	for _, accepted := range gap.Accepted {
		if normalize(accepted) == normalized {
			return true
		}
	}
	return false
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
