package scoring

import (
	"github.com/shopspring/decimal"

	"quiz-attempt-service/internal/domain"
)

// Places is the rounding applied to attempt totals and percentages.
const Places = 2

var hundred = decimal.NewFromInt(100)

// Aggregate evaluates every question of quiz against answers and sums the result.
// Unanswered questions count as zero. Questions flagged for manual review take the
// latest review's points; while any flagged question is unreviewed the result
// needs review and Passed stays nil.
func Aggregate(quiz domain.Quiz, answers domain.Answers, reviews []domain.Review) domain.Result {
	latest := domain.LatestReviews(reviews)

	result := domain.Result{Questions: make([]domain.QuestionResult, 0, len(quiz.Questions))}
	score, maxScore := decimal.Zero, decimal.Zero

	for _, question := range quiz.Questions {
		eval := Evaluate(question, answers[question.ID])
		qr := domain.QuestionResult{
			QuestionID:        question.ID,
			Earned:            eval.Earned,
			Max:               eval.Max,
			NeedsManualReview: eval.NeedsManualReview,
		}
		if eval.NeedsManualReview {
			if review, ok := latest[question.ID]; ok {
				qr.Earned = review.Earned
				qr.NeedsManualReview = false
				qr.Reviewed = true
			} else {
				result.NeedsManualReview = true
			}
		}

		score = score.Add(qr.Earned)
		maxScore = maxScore.Add(qr.Max)
		result.Questions = append(result.Questions, qr)
	}

	result.Score = score.Round(Places)
	result.MaxScore = maxScore.Round(Places)
	result.Percent = decimal.Zero
	if maxScore.IsPositive() {
		result.Percent = score.Mul(hundred).Div(maxScore).Round(Places)
	}
	if !result.NeedsManualReview {
		passed := result.Percent.GreaterThanOrEqual(quiz.PassingPercent)
		result.Passed = &passed
	}
	return result
}
