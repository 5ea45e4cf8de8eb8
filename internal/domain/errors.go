package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrAttemptNotFound is returned for unknown attempts and for attempts owned by someone else.
	ErrAttemptNotFound = errors.New("attempt not found")
	// ErrQuestionNotFound indicates a submitted question ID is not part of the quiz.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrAttemptLimitExceeded is matched by *AttemptLimitError.
	ErrAttemptLimitExceeded = errors.New("attempt limit exceeded")
	// ErrInvalidAnswerPayload means the answer does not fit the question's shape.
	ErrInvalidAnswerPayload = errors.New("invalid answer payload")
	// ErrAttemptClosed is returned when answering a finalized or timed-out attempt.
	ErrAttemptClosed = errors.New("attempt is closed")
	// ErrNotReviewable means the question or attempt cannot take a manual score.
	ErrNotReviewable = errors.New("question is not awaiting manual review")
	// ErrInvalidReview means the manual score is outside [0, points].
	ErrInvalidReview = errors.New("invalid review score")
	// ErrInvalidQuiz reports malformed quiz content.
	ErrInvalidQuiz = errors.New("invalid quiz")

	// ErrVersionConflict is an optimistic-lock failure on an attempt.
	ErrVersionConflict = errors.New("attempt was modified concurrently")
)

// AttemptLimitError carries how many attempts the user already used.
type AttemptLimitError struct {
	Count int
	Max   int
}

func (e *AttemptLimitError) Error() string {
	return fmt.Sprintf("attempt limit exceeded: %d of %d attempts used", e.Count, e.Max)
}

func (e *AttemptLimitError) Is(target error) bool {
	return target == ErrAttemptLimitExceeded
}
