package http

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/domain"
)

// QuestionView is a question as shown to the user taking the quiz. It carries
// what is needed to answer and nothing that reveals the key.
type QuestionView struct {
	ID      string              `json:"id"`
	Type    domain.QuestionType `json:"type"`
	Prompt  string              `json:"prompt"`
	Points  decimal.Decimal     `json:"points"`
	Options []string            `json:"options,omitempty"`
	Left    []string            `json:"left,omitempty"`
	Right   []string            `json:"right,omitempty"`
	Items   []string            `json:"items,omitempty"`
	Gaps    int                 `json:"gaps,omitempty"`
}

// AttemptView is the JSON shape of an attempt on every outer surface.
type AttemptView struct {
	ID               string          `json:"id"`
	QuizID           string          `json:"quizId"`
	Title            string          `json:"title"`
	AttemptNumber    int             `json:"attemptNumber"`
	Status           domain.Status   `json:"status"`
	StartedAt        time.Time       `json:"startedAt"`
	Deadline         *time.Time      `json:"deadline,omitempty"`
	RemainingSeconds *int64          `json:"remainingSeconds,omitempty"`
	Questions        []QuestionView  `json:"questions"`
	Answers          domain.Answers  `json:"answers"`
	SubmittedAt      *time.Time      `json:"submittedAt,omitempty"`
	FinalizedBy      domain.Trigger  `json:"finalizedBy,omitempty"`
	Result           *domain.Result  `json:"result,omitempty"`
	Reviews          []domain.Review `json:"reviews,omitempty"`
}

func newAttemptView(state app.AttemptState) AttemptView {
	answers := state.Answers
	if answers == nil {
		answers = domain.Answers{}
	}
	view := AttemptView{
		ID:               state.ID,
		QuizID:           state.QuizID,
		Title:            state.Quiz.Title,
		AttemptNumber:    state.AttemptNumber,
		Status:           state.Status,
		StartedAt:        state.StartedAt,
		Deadline:         state.Deadline,
		RemainingSeconds: state.RemainingSeconds,
		Questions:        make([]QuestionView, 0, len(state.Quiz.Questions)),
		Answers:          answers,
		SubmittedAt:      state.SubmittedAt,
		FinalizedBy:      state.FinalizedBy,
		Result:           state.Result,
		Reviews:          state.Reviews,
	}
	for _, q := range state.Quiz.Questions {
		view.Questions = append(view.Questions, newQuestionView(q))
	}
	return view
}

func newQuestionView(q domain.QuestionSpec) QuestionView {
	view := QuestionView{ID: q.ID, Type: q.Type, Prompt: q.Prompt, Points: q.Points}
	switch key := q.Key.(type) {
	case domain.MCQKey:
		view.Options = slices.Clone(key.Options)
	case domain.MatchingKey:
		for _, p := range key.Pairs {
			view.Left = append(view.Left, p.Left)
			view.Right = append(view.Right, p.Right)
		}
		// Never in key order.
		slices.Sort(view.Right)
	case domain.OrderingKey:
		view.Items = slices.Clone(key.Items)
		slices.Sort(view.Items)
	case domain.FillBlankKey:
		view.Gaps = len(key.Gaps)
	}
	return view
}
