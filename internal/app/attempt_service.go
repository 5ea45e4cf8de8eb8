package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"quiz-attempt-service/internal/domain"
	"quiz-attempt-service/internal/scoring"
)

const (
	defaultSweepBatch       = 100
	defaultSweepConcurrency = 8
	reviewRetries           = 5
)

// AttemptState is an attempt as seen at a given server instant.
type AttemptState struct {
	domain.Attempt
	// RemainingSeconds is set for timed attempts still in progress.
	RemainingSeconds *int64 `json:"remainingSeconds,omitempty"`
}

// AttemptService contains the quiz attempt use cases.
type AttemptService struct {
	attempts AttemptStore
	quizzes  QuizRepository
	limiter  *AttemptLimiter
	hub      *hub
	logger   *slog.Logger
	now      func() time.Time

	sweepBatch       int
	sweepConcurrency int
}

// Option configures an AttemptService.
type Option func(*AttemptService)

// WithClock replaces time.Now; tests use it to place requests at exact instants.
func WithClock(now func() time.Time) Option {
	return func(s *AttemptService) { s.now = now }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *AttemptService) { s.logger = logger }
}

// WithSweep sets how many attempts one sweep loads and how many it settles at once.
func WithSweep(batch, concurrency int) Option {
	return func(s *AttemptService) {
		if batch > 0 {
			s.sweepBatch = batch
		}
		if concurrency > 0 {
			s.sweepConcurrency = concurrency
		}
	}
}

func NewAttemptService(attempts AttemptStore, quizzes QuizRepository, opts ...Option) *AttemptService {
	s := &AttemptService{
		attempts:         attempts,
		quizzes:          quizzes,
		hub:              newHub(),
		logger:           slog.Default(),
		now:              time.Now,
		sweepBatch:       defaultSweepBatch,
		sweepConcurrency: defaultSweepConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.limiter = NewAttemptLimiter(attempts)
	return s
}

// Start opens a new attempt for userID on quizID.
func (s *AttemptService) Start(ctx context.Context, userID, quizID string) (AttemptState, error) {
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return AttemptState{}, err
	}

	// Postgres timestamps hold microseconds.
	now := s.clock().Truncate(time.Microsecond)
	draft := domain.Attempt{
		ID:        uuid.NewString(),
		QuizID:    quiz.ID,
		UserID:    userID,
		Quiz:      quiz,
		StartedAt: now,
		Status:    domain.StatusInProgress,
		Answers:   domain.Answers{},
	}
	if limit := quiz.TimeLimit(); limit > 0 {
		deadline := now.Add(limit)
		draft.Deadline = &deadline
	}

	attempt, err := s.limiter.Reserve(ctx, quiz, draft)
	if err != nil {
		var limitErr *domain.AttemptLimitError
		if errors.As(err, &limitErr) {
			s.logger.Info("attempt limit reached", "user_id", userID, "quiz_id", quizID, "count", limitErr.Count)
		}
		return AttemptState{}, err
	}

	s.logger.Info("attempt started",
		"attempt_id", attempt.ID,
		"user_id", userID,
		"quiz_id", quiz.ID,
		"attempt_number", attempt.AttemptNumber,
	)
	return s.stateAt(attempt, now), nil
}

// Get returns the attempt with its saved answers. A timed attempt whose time is
// up is finalized before it is returned, so callers never see an in-progress
// attempt with no time left.
func (s *AttemptService) Get(ctx context.Context, userID, attemptID string) (AttemptState, error) {
	attempt, err := s.load(ctx, userID, attemptID)
	if err != nil {
		return AttemptState{}, err
	}
	return s.settleIfDue(ctx, attempt)
}

func (s *AttemptService) settleIfDue(ctx context.Context, attempt domain.Attempt) (AttemptState, error) {
	now := s.clock()
	state := s.stateAt(attempt, now)

	due := attempt.Status.Final() && attempt.Result == nil
	if attempt.Status == domain.StatusInProgress && state.RemainingSeconds != nil && *state.RemainingSeconds == 0 {
		due = true
	}
	if !due {
		return state, nil
	}

	settled, err := s.Finalize(ctx, attempt.ID, domain.TriggerExpiry)
	if err != nil {
		return AttemptState{}, err
	}
	return s.stateAt(settled, s.clock()), nil
}

// RecordAnswer validates answer against the question and saves it, replacing
// any earlier answer to the same question.
func (s *AttemptService) RecordAnswer(ctx context.Context, userID, attemptID, questionID string, answer domain.Answer) error {
	attempt, err := s.load(ctx, userID, attemptID)
	if err != nil {
		return err
	}
	if attempt.Status != domain.StatusInProgress {
		return domain.ErrAttemptClosed
	}

	question, ok := attempt.Quiz.Question(questionID)
	if !ok {
		return domain.ErrQuestionNotFound
	}
	if err := scoring.Validate(question, answer); err != nil {
		return err
	}

	if attempt.Deadline != nil && !s.clock().Before(*attempt.Deadline) {
		if _, err := s.Finalize(ctx, attemptID, domain.TriggerExpiry); err != nil {
			s.logger.Warn("finalize after late answer failed", "attempt_id", attemptID, "error", err)
		}
		return domain.ErrAttemptClosed
	}

	if err := s.attempts.SaveAnswer(ctx, attemptID, questionID, answer); err != nil {
		return err
	}

	// Reload so the published snapshot carries answers saved concurrently.
	saved, err := s.attempts.GetAttempt(ctx, attemptID)
	if err != nil {
		s.logger.Warn("reload after answer failed", "attempt_id", attemptID, "error", err)
		return nil
	}
	s.hub.publish(s.stateAt(saved, s.clock()))
	return nil
}

// Submit is the user's manual finalization.
func (s *AttemptService) Submit(ctx context.Context, userID, attemptID string) (AttemptState, error) {
	if _, err := s.load(ctx, userID, attemptID); err != nil {
		return AttemptState{}, err
	}
	attempt, err := s.Finalize(ctx, attemptID, domain.TriggerManual)
	if err != nil {
		return AttemptState{}, err
	}
	return s.stateAt(attempt, s.clock()), nil
}

// Expire is the client's timer reaching zero. The server clock still decides
// whether the attempt is recorded as expired.
func (s *AttemptService) Expire(ctx context.Context, userID, attemptID string) (AttemptState, error) {
	if _, err := s.load(ctx, userID, attemptID); err != nil {
		return AttemptState{}, err
	}
	attempt, err := s.Finalize(ctx, attemptID, domain.TriggerExpiry)
	if err != nil {
		return AttemptState{}, err
	}
	return s.stateAt(attempt, s.clock()), nil
}

// Finalize moves an attempt out of in_progress exactly once and scores it.
// Concurrent and repeated calls all return the same settled attempt. The store
// reads the clock at its conditional write, and the status is expired only if
// that instant is past the deadline; the trigger is recorded for audit only. A finalized
// attempt without a result (an earlier call failed after the transition) is
// scored here without transitioning again.
func (s *AttemptService) Finalize(ctx context.Context, attemptID string, trigger domain.Trigger) (domain.Attempt, error) {
	attempt, err := s.attempts.GetAttempt(ctx, attemptID)
	if err != nil {
		return domain.Attempt{}, err
	}

	if attempt.Status == domain.StatusInProgress {
		decide := func(current domain.Attempt) domain.Finalization {
			return finalization(current, trigger, s.clock())
		}
		var transitioned bool
		attempt, transitioned, err = s.attempts.FinalizeAttempt(ctx, attemptID, decide)
		if err != nil {
			return domain.Attempt{}, fmt.Errorf("finalize attempt: %w", err)
		}
		if transitioned {
			s.logger.Info("attempt finalized",
				"attempt_id", attemptID,
				"status", attempt.Status,
				"trigger", trigger,
			)
		} else {
			s.logger.Debug("attempt already finalized", "attempt_id", attemptID, "trigger", trigger, "status", attempt.Status)
		}
	}

	if attempt.Result == nil {
		result := scoring.Aggregate(attempt.Quiz, attempt.Answers, attempt.Reviews)
		attempt, err = s.attempts.SaveResult(ctx, attemptID, result)
		if err != nil {
			return domain.Attempt{}, fmt.Errorf("save result: %w", err)
		}
		s.logger.Info("attempt scored",
			"attempt_id", attemptID,
			"score", attempt.Result.Score.String(),
			"max_score", attempt.Result.MaxScore.String(),
			"needs_review", attempt.Result.NeedsManualReview,
		)
		s.hub.publish(s.stateAt(attempt, s.clock()))
	}
	return attempt, nil
}

func finalization(attempt domain.Attempt, trigger domain.Trigger, now time.Time) domain.Finalization {
	f := domain.Finalization{
		Status:      domain.StatusSubmitted,
		SubmittedAt: now,
		Trigger:     trigger,
		FinalizedAt: now,
	}
	if attempt.Deadline != nil && now.After(*attempt.Deadline) {
		f.Status = domain.StatusExpired
		f.SubmittedAt = *attempt.Deadline
	}
	return f
}

// SweepExpired settles attempts abandoned past their deadline and finalized
// attempts whose scoring never completed. It returns how many it settled.
func (s *AttemptService) SweepExpired(ctx context.Context) (int, error) {
	ids, err := s.attempts.ListUnsettled(ctx, s.clock(), s.sweepBatch)
	if err != nil {
		return 0, fmt.Errorf("list unsettled attempts: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	var (
		mu      sync.Mutex
		settled int
		errs    []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.sweepConcurrency)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			_, err := s.Finalize(gctx, id, domain.TriggerExpiry)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("attempt %s: %w", id, err))
				return nil
			}
			settled++
			return nil
		})
	}
	_ = g.Wait()

	s.logger.Info("sweep finished", "candidates", len(ids), "settled", settled, "failed", len(errs))
	return settled, errors.Join(errs...)
}

// ApplyManualReview records a grader's points for a question that needs review
// and rescores the attempt. Every review is kept on the attempt for audit.
func (s *AttemptService) ApplyManualReview(ctx context.Context, attemptID, questionID, reviewerID string, earned decimal.Decimal) (domain.Attempt, error) {
	for i := 0; i < reviewRetries; i++ {
		attempt, err := s.attempts.GetAttempt(ctx, attemptID)
		if err != nil {
			return domain.Attempt{}, err
		}
		if !attempt.Status.Final() {
			return domain.Attempt{}, fmt.Errorf("%w: attempt is still in progress", domain.ErrNotReviewable)
		}
		if attempt.Result == nil {
			if attempt, err = s.Finalize(ctx, attemptID, domain.TriggerExpiry); err != nil {
				return domain.Attempt{}, err
			}
		}

		question, ok := attempt.Quiz.Question(questionID)
		if !ok {
			return domain.Attempt{}, domain.ErrQuestionNotFound
		}
		if !scoring.Evaluate(question, nil).NeedsManualReview {
			return domain.Attempt{}, domain.ErrNotReviewable
		}
		if earned.IsNegative() || earned.GreaterThan(question.Points) {
			return domain.Attempt{}, fmt.Errorf("%w: %s is outside 0..%s", domain.ErrInvalidReview, earned, question.Points)
		}

		review := domain.Review{
			QuestionID: questionID,
			ReviewerID: reviewerID,
			Earned:     earned,
			ReviewedAt: s.clock(),
		}
		reviews := append(slices.Clone(attempt.Reviews), review)
		result := scoring.Aggregate(attempt.Quiz, attempt.Answers, reviews)

		updated, err := s.attempts.SaveReview(ctx, attemptID, attempt.Version, review, result)
		if errors.Is(err, domain.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return domain.Attempt{}, fmt.Errorf("save review: %w", err)
		}

		s.logger.Info("manual review applied",
			"attempt_id", attemptID,
			"question_id", questionID,
			"reviewer_id", reviewerID,
			"earned", earned.String(),
			"needs_review", result.NeedsManualReview,
		)
		s.hub.publish(s.stateAt(updated, s.clock()))
		return updated, nil
	}
	return domain.Attempt{}, domain.ErrVersionConflict
}

// Subscribe returns a channel of updates for one attempt, starting with its
// current state. The caller must invoke the returned cancel function to avoid leaks.
func (s *AttemptService) Subscribe(ctx context.Context, userID, attemptID string) (<-chan AttemptState, func(), error) {
	state, err := s.Get(ctx, userID, attemptID)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := s.hub.subscribe(attemptID, state)
	return ch, cancel, nil
}

// State wraps an attempt with its remaining time as of now.
func (s *AttemptService) State(attempt domain.Attempt) AttemptState {
	return s.stateAt(attempt, s.clock())
}

func (s *AttemptService) load(ctx context.Context, userID, attemptID string) (domain.Attempt, error) {
	attempt, err := s.attempts.GetAttempt(ctx, attemptID)
	if err != nil {
		return domain.Attempt{}, err
	}
	if attempt.UserID != userID {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	return attempt, nil
}

func (s *AttemptService) clock() time.Time {
	return s.now().UTC()
}

func (s *AttemptService) stateAt(attempt domain.Attempt, now time.Time) AttemptState {
	state := AttemptState{Attempt: attempt}
	if attempt.Status == domain.StatusInProgress && attempt.Deadline != nil {
		remaining := remainingSeconds(*attempt.Deadline, now)
		state.RemainingSeconds = &remaining
	}
	return state
}

// remainingSeconds rounds up, so zero means the deadline has been reached.
func remainingSeconds(deadline, now time.Time) int64 {
	left := deadline.Sub(now)
	if left <= 0 {
		return 0
	}
	return int64((left + time.Second - 1) / time.Second)
}
