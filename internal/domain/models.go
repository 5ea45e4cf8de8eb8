package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// QuestionType tags a QuestionSpec and the answers it accepts.
type QuestionType string

const (
	TypeMCQ         QuestionType = "mcq"
	TypeTrueFalse   QuestionType = "true_false"
	TypeShortAnswer QuestionType = "short_answer"
	TypeMatching    QuestionType = "matching"
	TypeOrdering    QuestionType = "ordering"
	TypeFillBlank   QuestionType = "fill_blank"
)

// Valid reports whether t is one of the supported question types.
func (t QuestionType) Valid() bool {
	switch t {
	case TypeMCQ, TypeTrueFalse, TypeShortAnswer, TypeMatching, TypeOrdering, TypeFillBlank:
		return true
	}
	return false
}

// Quiz is the authored content an attempt is taken against. Attempts keep a copy
// of the quiz they were started with, so later edits never rescore them.
type Quiz struct {
	ID               string          `json:"id"`
	Version          int             `json:"version"`
	Title            string          `json:"title"`
	Questions        []QuestionSpec  `json:"questions"`
	TimeLimitSeconds *int            `json:"timeLimitSeconds,omitempty"` // nil means untimed
	MaxAttempts      *int            `json:"maxAttempts,omitempty"`      // nil means unlimited
	PassingPercent   decimal.Decimal `json:"passingPercent"`
}

// Question returns the question with the given ID.
func (q Quiz) Question(id string) (QuestionSpec, bool) {
	for _, question := range q.Questions {
		if question.ID == id {
			return question, true
		}
	}
	return QuestionSpec{}, false
}

// TimeLimit returns the attempt duration, or zero for untimed quizzes.
func (q Quiz) TimeLimit() time.Duration {
	if q.TimeLimitSeconds == nil {
		return 0
	}
	return time.Duration(*q.TimeLimitSeconds) * time.Second
}

// QuestionSpec describes one question. Key holds the variant matching Type.
type QuestionSpec struct {
	ID     string
	Type   QuestionType
	Prompt string
	Points decimal.Decimal
	Key    AnswerKey
}

// AnswerKey is implemented by the per-type key variants below.
type AnswerKey interface {
	QuestionType() QuestionType
}

// MCQKey lists the choices and the index of the correct one.
type MCQKey struct {
	Options []string `json:"options"`
	Correct int      `json:"correct"`
}

// TrueFalseKey holds the correct boolean.
type TrueFalseKey struct {
	Correct bool `json:"correct"`
}

// ShortAnswerKey carries nothing; short answers are always reviewed by a person.
type ShortAnswerKey struct{}

// MatchPair is one canonical left-to-right association.
type MatchPair struct {
	Left  string `json:"left"`
	Right string `json:"right"`
}

// MatchingKey holds the canonical pairs in display order.
type MatchingKey struct {
	Pairs []MatchPair `json:"pairs"`
}

// OrderingKey is the canonical sequence of item labels.
type OrderingKey struct {
	Items []string `json:"items"`
}

// Gap is one blank with the answers accepted for it.
type Gap struct {
	Accepted []string `json:"accepted"`
}

// FillBlankKey lists gaps in order of appearance.
type FillBlankKey struct {
	Gaps []Gap `json:"gaps"`
}

func (MCQKey) QuestionType() QuestionType         { return TypeMCQ }
func (TrueFalseKey) QuestionType() QuestionType   { return TypeTrueFalse }
func (ShortAnswerKey) QuestionType() QuestionType { return TypeShortAnswer }
func (MatchingKey) QuestionType() QuestionType    { return TypeMatching }
func (OrderingKey) QuestionType() QuestionType    { return TypeOrdering }
func (FillBlankKey) QuestionType() QuestionType   { return TypeFillBlank }

// Status is the lifecycle state of an attempt.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusSubmitted  Status = "submitted"
	StatusExpired    Status = "expired"
)

// Final reports whether s is a terminal status.
func (s Status) Final() bool {
	return s == StatusSubmitted || s == StatusExpired
}

// Trigger names what asked for a finalization.
type Trigger string

const (
	TriggerManual Trigger = "manual"
	TriggerExpiry Trigger = "expiry"
)

// Attempt is one user's run through a quiz.
type Attempt struct {
	ID            string     `json:"id"`
	QuizID        string     `json:"quizId"`
	UserID        string     `json:"userId"`
	AttemptNumber int        `json:"attemptNumber"`
	Quiz          Quiz       `json:"quiz"`
	StartedAt     time.Time  `json:"startedAt"`
	Deadline      *time.Time `json:"deadline,omitempty"`
	Status        Status     `json:"status"`
	Answers       Answers    `json:"answers"`
	SubmittedAt   *time.Time `json:"submittedAt,omitempty"`
	FinalizedBy   Trigger    `json:"finalizedBy,omitempty"`
	FinalizedAt   *time.Time `json:"finalizedAt,omitempty"`
	Result        *Result    `json:"result,omitempty"`
	Reviews       []Review   `json:"reviews,omitempty"`
	Version       int        `json:"version"`
}

// Finalization is the outcome of the status transition, applied by the store
// only if the attempt is still in progress.
type Finalization struct {
	Status      Status
	SubmittedAt time.Time
	Trigger     Trigger
	FinalizedAt time.Time
}

// FinalizeFunc decides the transition for an in-progress attempt. Stores call it
// inside their conditional write, so any clock it reads is the write instant.
type FinalizeFunc func(current Attempt) Finalization

// QuestionResult is the evaluation of one question.
type QuestionResult struct {
	QuestionID        string          `json:"questionId"`
	Earned            decimal.Decimal `json:"earned"`
	Max               decimal.Decimal `json:"max"`
	NeedsManualReview bool            `json:"needsManualReview"`
	Reviewed          bool            `json:"reviewed,omitempty"`
}

// Result is the scored outcome of a finalized attempt. Passed stays nil while
// any question awaits manual review.
type Result struct {
	Score             decimal.Decimal  `json:"score"`
	MaxScore          decimal.Decimal  `json:"maxScore"`
	Percent           decimal.Decimal  `json:"percent"`
	Passed            *bool            `json:"passed"`
	NeedsManualReview bool             `json:"needsManualReview"`
	Questions         []QuestionResult `json:"questions"`
}

// Review is an audited manual score for one question.
type Review struct {
	QuestionID string          `json:"questionId"`
	ReviewerID string          `json:"reviewerId"`
	Earned     decimal.Decimal `json:"earned"`
	ReviewedAt time.Time       `json:"reviewedAt"`
}

// LatestReviews maps each reviewed question to its most recent review.
func LatestReviews(reviews []Review) map[string]Review {
	latest := make(map[string]Review, len(reviews))
	for _, r := range reviews {
		latest[r.QuestionID] = r
	}
	return latest
}
