package memory

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"quiz-attempt-service/internal/domain"
)

var errNotFinalized = errors.New("attempt is not finalized")

type userQuiz struct {
	userID string
	quizID string
}

// AttemptStore is an in-memory implementation of app.AttemptStore. A single
// mutex makes every conditional write atomic, which is enough for one process.
type AttemptStore struct {
	mu       sync.Mutex
	attempts map[string]*domain.Attempt
	latest   map[userQuiz]int
}

func NewAttemptStore() *AttemptStore {
	return &AttemptStore{
		attempts: make(map[string]*domain.Attempt),
		latest:   make(map[userQuiz]int),
	}
}

func (s *AttemptStore) ReserveAttempt(_ context.Context, draft domain.Attempt, maxAttempts *int) (domain.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.attempts[draft.ID]; exists {
		return domain.Attempt{}, fmt.Errorf("attempt %s already exists", draft.ID)
	}
	key := userQuiz{draft.UserID, draft.QuizID}
	latest := s.latest[key]
	if maxAttempts != nil && latest >= *maxAttempts {
		return domain.Attempt{}, &domain.AttemptLimitError{Count: latest, Max: *maxAttempts}
	}

	draft.AttemptNumber = latest + 1
	s.latest[key] = draft.AttemptNumber
	stored := clone(draft)
	s.attempts[draft.ID] = &stored
	return clone(draft), nil
}

func (s *AttemptStore) GetAttempt(_ context.Context, attemptID string) (domain.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	attempt, ok := s.attempts[attemptID]
	if !ok {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	return clone(*attempt), nil
}

func (s *AttemptStore) SaveAnswer(_ context.Context, attemptID, questionID string, answer domain.Answer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	attempt, ok := s.attempts[attemptID]
	if !ok {
		return domain.ErrAttemptNotFound
	}
	if attempt.Status != domain.StatusInProgress {
		return domain.ErrAttemptClosed
	}
	if attempt.Answers == nil {
		attempt.Answers = domain.Answers{}
	}
	attempt.Answers[questionID] = answer
	return nil
}

func (s *AttemptStore) FinalizeAttempt(_ context.Context, attemptID string, decide domain.FinalizeFunc) (domain.Attempt, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	attempt, ok := s.attempts[attemptID]
	if !ok {
		return domain.Attempt{}, false, domain.ErrAttemptNotFound
	}
	if attempt.Status != domain.StatusInProgress {
		return clone(*attempt), false, nil
	}

	f := decide(clone(*attempt))
	submittedAt, finalizedAt := f.SubmittedAt, f.FinalizedAt
	attempt.Status = f.Status
	attempt.SubmittedAt = &submittedAt
	attempt.FinalizedBy = f.Trigger
	attempt.FinalizedAt = &finalizedAt
	attempt.Version++
	return clone(*attempt), true, nil
}

func (s *AttemptStore) SaveResult(_ context.Context, attemptID string, result domain.Result) (domain.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	attempt, ok := s.attempts[attemptID]
	if !ok {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	if attempt.Status == domain.StatusInProgress {
		return domain.Attempt{}, fmt.Errorf("attempt %s: %w", attemptID, errNotFinalized)
	}
	if attempt.Result == nil {
		attempt.Result = &result
		attempt.Version++
	}
	return clone(*attempt), nil
}

func (s *AttemptStore) SaveReview(_ context.Context, attemptID string, expectedVersion int, review domain.Review, result domain.Result) (domain.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	attempt, ok := s.attempts[attemptID]
	if !ok {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	if attempt.Version != expectedVersion {
		return domain.Attempt{}, domain.ErrVersionConflict
	}
	attempt.Reviews = append(slices.Clone(attempt.Reviews), review)
	attempt.Result = &result
	attempt.Version++
	return clone(*attempt), nil
}

func (s *AttemptStore) ListUnsettled(_ context.Context, cutoff time.Time, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidates []*domain.Attempt
	for _, attempt := range s.attempts {
		overdue := attempt.Status == domain.StatusInProgress && attempt.Deadline != nil && attempt.Deadline.Before(cutoff)
		unscored := attempt.Status.Final() && attempt.Result == nil
		if overdue || unscored {
			candidates = append(candidates, attempt)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].StartedAt.Before(candidates[j].StartedAt)
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	ids := make([]string, 0, len(candidates))
	for _, attempt := range candidates {
		ids = append(ids, attempt.ID)
	}
	return ids, nil
}

// clone copies the mutable parts of an attempt so callers never share them with the store.
func clone(a domain.Attempt) domain.Attempt {
	a.Answers = maps.Clone(a.Answers)
	if a.Answers == nil {
		a.Answers = domain.Answers{}
	}
	a.Reviews = slices.Clone(a.Reviews)
	if a.Result != nil {
		result := *a.Result
		a.Result = &result
	}
	return a
}
