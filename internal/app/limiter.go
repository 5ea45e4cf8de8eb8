package app

import (
	"context"
	"errors"
	"fmt"

	"quiz-attempt-service/internal/domain"
)

// AttemptLimiter hands out attempt numbers and enforces max attempts per user and quiz.
type AttemptLimiter struct {
	store ReservationStore
}

func NewAttemptLimiter(store ReservationStore) *AttemptLimiter {
	return &AttemptLimiter{store: store}
}

// Reserve assigns the next attempt number to draft and inserts it. The store
// does both in one atomic step, so two concurrent reservations never get the
// same number and neither can pass quiz.MaxAttempts. Without a limit it always
// succeeds.
func (l *AttemptLimiter) Reserve(ctx context.Context, quiz domain.Quiz, draft domain.Attempt) (domain.Attempt, error) {
	draft.QuizID = quiz.ID
	attempt, err := l.store.ReserveAttempt(ctx, draft, quiz.MaxAttempts)
	if err != nil {
		var limitErr *domain.AttemptLimitError
		if errors.As(err, &limitErr) {
			return domain.Attempt{}, err
		}
		return domain.Attempt{}, fmt.Errorf("reserve attempt: %w", err)
	}
	return attempt, nil
}
