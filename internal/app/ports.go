package app

import (
	"context"
	"time"

	"quiz-attempt-service/internal/domain"
)

// QuizRepository loads quiz content (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// ReservationStore is the part of AttemptStore the limiter needs.
type ReservationStore interface {
	// ReserveAttempt gives draft the next attempt number for (user, quiz) and
	// stores it in one atomic step, so concurrent reservations never share a
	// number. Numbers are never released. With maxAttempts set it fails with
	// *domain.AttemptLimitError once that many numbers are taken.
	ReserveAttempt(ctx context.Context, draft domain.Attempt, maxAttempts *int) (domain.Attempt, error)
}

// AttemptStore persists attempts (in-memory, Redis, Postgres). Every write after
// creation is conditional so concurrent requests on any instance stay consistent.
type AttemptStore interface {
	ReservationStore

	// GetAttempt returns the attempt with its recorded answers.
	GetAttempt(ctx context.Context, attemptID string) (domain.Attempt, error)
	// SaveAnswer replaces the answer for one question while the attempt is in
	// progress, and fails with domain.ErrAttemptClosed otherwise.
	SaveAnswer(ctx context.Context, attemptID, questionID string, answer domain.Answer) error
	// FinalizeAttempt transitions the attempt only if it is still in progress,
	// calling decide at the conditional write. It returns the attempt as stored
	// afterwards and whether this call made the transition.
	FinalizeAttempt(ctx context.Context, attemptID string, decide domain.FinalizeFunc) (domain.Attempt, bool, error)
	// SaveResult stores the result of a finalized attempt unless one is already
	// stored, and returns the attempt as stored afterwards.
	SaveResult(ctx context.Context, attemptID string, result domain.Result) (domain.Attempt, error)
	// SaveReview appends review and replaces the result if the attempt is still at
	// expectedVersion, failing with domain.ErrVersionConflict otherwise.
	SaveReview(ctx context.Context, attemptID string, expectedVersion int, review domain.Review, result domain.Result) (domain.Attempt, error)
	// ListUnsettled returns attempts still in progress past a deadline before
	// cutoff, and finalized attempts that have no result yet.
	ListUnsettled(ctx context.Context, cutoff time.Time, limit int) ([]string, error)
}
