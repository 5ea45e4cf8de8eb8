package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/domain"
	"quiz-attempt-service/internal/domain/domaintest"
	"quiz-attempt-service/internal/infra/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newService(t *testing.T) (*app.AttemptService, *memory.AttemptStore, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	store := memory.NewAttemptStore()
	quizzes := memory.NewQuizRepository(memory.NewStaticQuizLoader(domaintest.Quizzes()), time.Minute)
	return app.NewAttemptService(store, quizzes, app.WithClock(clock.Now)), store, clock
}

// hookedStore runs test hooks around the memory store's writes.
type hookedStore struct {
	*memory.AttemptStore
	beforeReserve    func()
	beforeFinalize   func()
	beforeSaveAnswer func()
}

func (h *hookedStore) ReserveAttempt(ctx context.Context, draft domain.Attempt, maxAttempts *int) (domain.Attempt, error) {
	if h.beforeReserve != nil {
		h.beforeReserve()
	}
	return h.AttemptStore.ReserveAttempt(ctx, draft, maxAttempts)
}

func (h *hookedStore) FinalizeAttempt(ctx context.Context, attemptID string, decide domain.FinalizeFunc) (domain.Attempt, bool, error) {
	if h.beforeFinalize != nil {
		h.beforeFinalize()
	}
	return h.AttemptStore.FinalizeAttempt(ctx, attemptID, decide)
}

func (h *hookedStore) SaveAnswer(ctx context.Context, attemptID, questionID string, answer domain.Answer) error {
	if h.beforeSaveAnswer != nil {
		h.beforeSaveAnswer()
	}
	return h.AttemptStore.SaveAnswer(ctx, attemptID, questionID, answer)
}

func newHookedService(t *testing.T) (*app.AttemptService, *hookedStore, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	store := &hookedStore{AttemptStore: memory.NewAttemptStore()}
	quizzes := memory.NewQuizRepository(memory.NewStaticQuizLoader(domaintest.Quizzes()), time.Minute)
	return app.NewAttemptService(store, quizzes, app.WithClock(clock.Now)), store, clock
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestStartSetsDeadlineAndNumber(t *testing.T) {
	svc, _, clock := newService(t)
	ctx := context.Background()

	state, err := svc.Start(ctx, "u1", "quiz-objective")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if state.AttemptNumber != 1 || state.Status != domain.StatusInProgress {
		t.Fatalf("unexpected attempt: %+v", state.Attempt)
	}
	if state.Deadline == nil || !state.Deadline.Equal(clock.Now().Add(600*time.Second)) {
		t.Fatalf("expected deadline at start+600s, got %v", state.Deadline)
	}
	if state.RemainingSeconds == nil || *state.RemainingSeconds != 600 {
		t.Fatalf("expected 600 seconds remaining, got %v", state.RemainingSeconds)
	}

	second, err := svc.Start(ctx, "u1", "quiz-objective")
	if err != nil {
		t.Fatalf("start second: %v", err)
	}
	if second.AttemptNumber != 2 {
		t.Fatalf("expected attempt number 2, got %d", second.AttemptNumber)
	}

	if _, err := svc.Start(ctx, "u1", "missing"); !errors.Is(err, domain.ErrQuizNotFound) {
		t.Fatalf("expected quiz not found, got %v", err)
	}
}

func TestStartUntimedQuizHasNoDeadline(t *testing.T) {
	svc, _, clock := newService(t)
	ctx := context.Background()

	state, err := svc.Start(ctx, "u1", "quiz-single")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if state.Deadline != nil || state.RemainingSeconds != nil {
		t.Fatalf("expected untimed attempt, got deadline %v", state.Deadline)
	}

	clock.Advance(72 * time.Hour)
	got, err := svc.Get(ctx, "u1", state.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.StatusInProgress {
		t.Fatalf("untimed attempt must stay open, got %s", got.Status)
	}
}

func TestConcurrentStartsRespectMaxAttempts(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	const workers = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		limited   int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Start(ctx, "u1", "quiz-single")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, domain.ErrAttemptLimitExceeded):
				limited++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 || limited != workers-1 {
		t.Fatalf("expected exactly one success, got %d successes and %d limited", successes, limited)
	}
}

func TestConcurrentStartsOnUnlimitedQuizAllSucceed(t *testing.T) {
	svc, store, _ := newHookedService(t)
	store.beforeReserve = func() { time.Sleep(2 * time.Millisecond) }
	ctx := context.Background()

	const workers = 40
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		numbers = make(map[int]bool)
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			state, err := svc.Start(ctx, "u1", "quiz-objective")
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				t.Errorf("start: %v", err)
				return
			}
			if numbers[state.AttemptNumber] {
				t.Errorf("attempt number %d handed out twice", state.AttemptNumber)
			}
			numbers[state.AttemptNumber] = true
		}()
	}
	wg.Wait()

	if len(numbers) != workers {
		t.Fatalf("expected %d attempts, got %d", workers, len(numbers))
	}
	for n := 1; n <= workers; n++ {
		if !numbers[n] {
			t.Fatalf("expected attempt numbers 1..%d, missing %d", workers, n)
		}
	}
}

func TestFinalizeUsesClockAtConditionalWrite(t *testing.T) {
	svc, store, clock := newHookedService(t)
	ctx := context.Background()

	state, err := svc.Start(ctx, "u1", "quiz-objective")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	clock.Advance(599 * time.Second)
	// The submit is issued before the deadline but reaches the store after it.
	store.beforeFinalize = func() { clock.Advance(2 * time.Second) }

	got, err := svc.Submit(ctx, "u1", state.ID)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got.Status != domain.StatusExpired {
		t.Fatalf("expected expired at the write instant, got %s", got.Status)
	}
	if got.SubmittedAt == nil || !got.SubmittedAt.Equal(*state.Deadline) {
		t.Fatalf("expected submittedAt at the deadline, got %v", got.SubmittedAt)
	}
	if got.FinalizedBy != domain.TriggerManual {
		t.Fatalf("expected manual trigger recorded, got %s", got.FinalizedBy)
	}
}

func TestAnswerUpdateIncludesConcurrentAnswers(t *testing.T) {
	svc, store, _ := newHookedService(t)
	ctx := context.Background()

	state, err := svc.Start(ctx, "u1", "quiz-objective")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	updates, cancel, err := svc.Subscribe(ctx, "u1", state.ID)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()
	<-updates

	// Another request saves q1 after this one loaded the attempt.
	var once sync.Once
	store.beforeSaveAnswer = func() {
		once.Do(func() {
			if err := store.AttemptStore.SaveAnswer(ctx, state.ID, "q1", domain.MCQAnswer{Index: 1}); err != nil {
				t.Errorf("concurrent save: %v", err)
			}
		})
	}
	if err := svc.RecordAnswer(ctx, "u1", state.ID, "q2", domain.TrueFalseAnswer{Value: true}); err != nil {
		t.Fatalf("answer: %v", err)
	}

	select {
	case update := <-updates:
		_, hasQ1 := update.Answers["q1"]
		_, hasQ2 := update.Answers["q2"]
		if !hasQ1 || !hasQ2 {
			t.Fatalf("expected both answers in the update, got %v", update.Answers)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for answer update")
	}
}

func TestAttemptLimitCountsFinalizedAttempts(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	first, err := svc.Start(ctx, "u1", "quiz-single")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := svc.Submit(ctx, "u1", first.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}

	_, err = svc.Start(ctx, "u1", "quiz-single")
	var limitErr *domain.AttemptLimitError
	if !errors.As(err, &limitErr) || limitErr.Count != 1 || limitErr.Max != 1 {
		t.Fatalf("expected limit error 1 of 1, got %v", err)
	}

	if _, err := svc.Start(ctx, "u2", "quiz-single"); err != nil {
		t.Fatalf("other users keep their own limit: %v", err)
	}
}

func TestManualSubmitBeforeDeadlineWinsOverLateExpiry(t *testing.T) {
	svc, _, clock := newService(t)
	ctx := context.Background()

	state, err := svc.Start(ctx, "u1", "quiz-objective")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := svc.RecordAnswer(ctx, "u1", state.ID, "q1", domain.MCQAnswer{Index: 1}); err != nil {
		t.Fatalf("answer: %v", err)
	}

	clock.Advance(599 * time.Second)
	submitted, err := svc.Submit(ctx, "u1", state.ID)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if submitted.Status != domain.StatusSubmitted {
		t.Fatalf("expected submitted, got %s", submitted.Status)
	}

	clock.Advance(2 * time.Second)
	expired, err := svc.Expire(ctx, "u1", state.ID)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if expired.Status != domain.StatusSubmitted || expired.FinalizedBy != domain.TriggerManual {
		t.Fatalf("late expiry must not change the outcome, got %s by %s", expired.Status, expired.FinalizedBy)
	}
	if !expired.Result.Score.Equal(submitted.Result.Score) || !expired.Result.Score.Equal(dec("10")) {
		t.Fatalf("expected the same score 10, got %s and %s", submitted.Result.Score, expired.Result.Score)
	}
}

func TestManualSubmitAfterDeadlineIsExpired(t *testing.T) {
	svc, _, clock := newService(t)
	ctx := context.Background()

	state, err := svc.Start(ctx, "u1", "quiz-objective")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	clock.Advance(601 * time.Second)
	got, err := svc.Submit(ctx, "u1", state.ID)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got.Status != domain.StatusExpired {
		t.Fatalf("expected expired, got %s", got.Status)
	}
	if got.SubmittedAt == nil || !got.SubmittedAt.Equal(*state.Deadline) {
		t.Fatalf("expected submittedAt at the deadline, got %v", got.SubmittedAt)
	}
}

func TestExpireTriggerBeforeDeadlineIsSubmitted(t *testing.T) {
	svc, _, clock := newService(t)
	ctx := context.Background()

	state, err := svc.Start(ctx, "u1", "quiz-objective")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	clock.Advance(300 * time.Second)
	got, err := svc.Expire(ctx, "u1", state.ID)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if got.Status != domain.StatusSubmitted || got.FinalizedBy != domain.TriggerExpiry {
		t.Fatalf("expected submitted by expiry trigger, got %s by %s", got.Status, got.FinalizedBy)
	}
}

func TestConcurrentFinalizeScoresOnce(t *testing.T) {
	svc, _, clock := newService(t)
	ctx := context.Background()

	state, err := svc.Start(ctx, "u1", "quiz-objective")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := svc.RecordAnswer(ctx, "u1", state.ID, "q2", domain.TrueFalseAnswer{Value: true}); err != nil {
		t.Fatalf("answer: %v", err)
	}
	clock.Advance(10 * time.Second)

	const callers = 10
	results := make([]domain.Attempt, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			trigger := domain.TriggerManual
			if i%2 == 1 {
				trigger = domain.TriggerExpiry
			}
			attempt, err := svc.Finalize(ctx, state.ID, trigger)
			if err != nil {
				t.Errorf("finalize %d: %v", i, err)
				return
			}
			results[i] = attempt
		}(i)
	}
	wg.Wait()

	for i, got := range results {
		if got.Result == nil {
			t.Fatalf("caller %d got no result", i)
		}
		if got.Status != results[0].Status || !got.SubmittedAt.Equal(*results[0].SubmittedAt) || got.FinalizedBy != results[0].FinalizedBy {
			t.Fatalf("caller %d saw a different finalization", i)
		}
		if !got.Result.Score.Equal(dec("10")) {
			t.Fatalf("caller %d saw score %s", i, got.Result.Score)
		}
	}
}

func TestUnansweredAttemptScoresZero(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	state, err := svc.Start(ctx, "u1", "quiz-objective")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	got, err := svc.Submit(ctx, "u1", state.ID)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !got.Result.Score.Equal(decimal.Zero) || !got.Result.MaxScore.Equal(dec("30")) {
		t.Fatalf("expected 0/30, got %s/%s", got.Result.Score, got.Result.MaxScore)
	}
	if got.Result.Passed == nil || *got.Result.Passed {
		t.Fatalf("expected a failing result, got %v", got.Result.Passed)
	}
}

func TestRecordAnswerRejectsInvalidAndKeepsPrevious(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	state, err := svc.Start(ctx, "u1", "quiz-objective")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	good := domain.OrderingAnswer{Sequence: []string{"x", "z", "y"}}
	if err := svc.RecordAnswer(ctx, "u1", state.ID, "q3", good); err != nil {
		t.Fatalf("answer: %v", err)
	}

	bad := domain.OrderingAnswer{Sequence: []string{"x", "x", "y"}}
	if err := svc.RecordAnswer(ctx, "u1", state.ID, "q3", bad); !errors.Is(err, domain.ErrInvalidAnswerPayload) {
		t.Fatalf("expected invalid payload, got %v", err)
	}
	if err := svc.RecordAnswer(ctx, "u1", state.ID, "q1", domain.TrueFalseAnswer{Value: true}); !errors.Is(err, domain.ErrInvalidAnswerPayload) {
		t.Fatalf("expected type mismatch to be rejected, got %v", err)
	}
	if err := svc.RecordAnswer(ctx, "u1", state.ID, "nope", domain.MCQAnswer{Index: 0}); !errors.Is(err, domain.ErrQuestionNotFound) {
		t.Fatalf("expected question not found, got %v", err)
	}

	got, err := svc.Get(ctx, "u1", state.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	saved, ok := got.Answers["q3"].(domain.OrderingAnswer)
	if !ok || saved.Sequence[1] != "z" {
		t.Fatalf("expected the first answer to be kept, got %#v", got.Answers["q3"])
	}
}

func TestRecordAnswerAfterDeadlineClosesAttempt(t *testing.T) {
	svc, _, clock := newService(t)
	ctx := context.Background()

	state, err := svc.Start(ctx, "u1", "quiz-objective")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	clock.Advance(600 * time.Second)
	if err := svc.RecordAnswer(ctx, "u1", state.ID, "q2", domain.TrueFalseAnswer{Value: true}); !errors.Is(err, domain.ErrAttemptClosed) {
		t.Fatalf("expected closed attempt, got %v", err)
	}

	got, err := svc.Get(ctx, "u1", state.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Status.Final() || got.Result == nil {
		t.Fatalf("expected the late answer to settle the attempt, got %s", got.Status)
	}
	if _, ok := got.Answers["q2"]; ok {
		t.Fatalf("late answer must not be stored")
	}
}

func TestGetFinalizesWhenTimeIsUp(t *testing.T) {
	svc, _, clock := newService(t)
	ctx := context.Background()

	state, err := svc.Start(ctx, "u1", "quiz-objective")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	clock.Advance(599*time.Second + 500*time.Millisecond)
	got, err := svc.Get(ctx, "u1", state.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.StatusInProgress || *got.RemainingSeconds != 1 {
		t.Fatalf("expected 1 second left, got %s with %v", got.Status, got.RemainingSeconds)
	}

	clock.Advance(time.Second)
	got, err = svc.Get(ctx, "u1", state.ID)
	if err != nil {
		t.Fatalf("get after deadline: %v", err)
	}
	if got.Status != domain.StatusExpired || got.Result == nil || got.RemainingSeconds != nil {
		t.Fatalf("expected expired with result, got %s", got.Status)
	}
}

func TestGetHidesOtherUsersAttempts(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	state, err := svc.Start(ctx, "u1", "quiz-objective")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := svc.Get(ctx, "u2", state.ID); !errors.Is(err, domain.ErrAttemptNotFound) {
		t.Fatalf("expected not found for another user, got %v", err)
	}
	if _, err := svc.Submit(ctx, "u2", state.ID); !errors.Is(err, domain.ErrAttemptNotFound) {
		t.Fatalf("expected not found on submit, got %v", err)
	}
	if err := svc.RecordAnswer(ctx, "u2", state.ID, "q2", domain.TrueFalseAnswer{Value: true}); !errors.Is(err, domain.ErrAttemptNotFound) {
		t.Fatalf("expected not found on answer, got %v", err)
	}
}

func TestManualReviewCompletesResult(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	state, err := svc.Start(ctx, "u1", "quiz-mixed")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	answers := map[string]domain.Answer{
		"mcq":   domain.MCQAnswer{Index: 1},
		"tf":    domain.TrueFalseAnswer{Value: true},
		"short": domain.ShortAnswer{Text: "typed conduits"},
		"match": domain.MatchingAnswer{Pairs: map[string]string{"France": "Paris", "Italy": "Rome", "Spain": "Tokyo", "Japan": "Madrid"}},
		"order": domain.OrderingAnswer{Sequence: []string{"byte", "int32", "int64", "complex128"}},
		"blank": domain.FillBlankAnswer{Gaps: []string{" paris "}},
	}
	for questionID, answer := range answers {
		if err := svc.RecordAnswer(ctx, "u1", state.ID, questionID, answer); err != nil {
			t.Fatalf("answer %s: %v", questionID, err)
		}
	}

	if _, err := svc.ApplyManualReview(ctx, state.ID, "short", "t1", dec("5")); !errors.Is(err, domain.ErrNotReviewable) {
		t.Fatalf("expected in-progress attempt to reject review, got %v", err)
	}

	submitted, err := svc.Submit(ctx, "u1", state.ID)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !submitted.Result.NeedsManualReview || submitted.Result.Passed != nil {
		t.Fatalf("expected a pending result, got %+v", submitted.Result)
	}
	if !submitted.Result.Score.Equal(dec("45")) || !submitted.Result.MaxScore.Equal(dec("60")) {
		t.Fatalf("expected 45/60 before review, got %s/%s", submitted.Result.Score, submitted.Result.MaxScore)
	}

	if _, err := svc.ApplyManualReview(ctx, state.ID, "mcq", "t1", dec("5")); !errors.Is(err, domain.ErrNotReviewable) {
		t.Fatalf("expected auto-scored question to reject review, got %v", err)
	}
	if _, err := svc.ApplyManualReview(ctx, state.ID, "short", "t1", dec("11")); !errors.Is(err, domain.ErrInvalidReview) {
		t.Fatalf("expected out of range review to fail, got %v", err)
	}

	reviewed, err := svc.ApplyManualReview(ctx, state.ID, "short", "t1", dec("7.5"))
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if reviewed.Result.NeedsManualReview || reviewed.Result.Passed == nil || !*reviewed.Result.Passed {
		t.Fatalf("expected a final passing result, got %+v", reviewed.Result)
	}
	if !reviewed.Result.Score.Equal(dec("52.5")) || !reviewed.Result.Percent.Equal(dec("87.5")) {
		t.Fatalf("expected 52.5 (87.5%%), got %s (%s%%)", reviewed.Result.Score, reviewed.Result.Percent)
	}
	if len(reviewed.Reviews) != 1 || reviewed.Reviews[0].ReviewerID != "t1" {
		t.Fatalf("expected the review to be audited, got %+v", reviewed.Reviews)
	}
}

func TestSweepSettlesAbandonedAttempts(t *testing.T) {
	svc, store, clock := newService(t)
	ctx := context.Background()

	abandoned, err := svc.Start(ctx, "u1", "quiz-objective")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	clock.Advance(5 * time.Minute)
	fresh, err := svc.Start(ctx, "u2", "quiz-objective")
	if err != nil {
		t.Fatalf("start fresh: %v", err)
	}

	clock.Advance(6 * time.Minute)
	settled, err := svc.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if settled != 1 {
		t.Fatalf("expected one settled attempt, got %d", settled)
	}

	got, err := store.GetAttempt(ctx, abandoned.ID)
	if err != nil {
		t.Fatalf("get abandoned: %v", err)
	}
	if got.Status != domain.StatusExpired || got.Result == nil || got.FinalizedBy != domain.TriggerExpiry {
		t.Fatalf("expected abandoned attempt expired and scored, got %s", got.Status)
	}
	stillOpen, err := store.GetAttempt(ctx, fresh.ID)
	if err != nil {
		t.Fatalf("get fresh: %v", err)
	}
	if stillOpen.Status != domain.StatusInProgress {
		t.Fatalf("fresh attempt must stay open, got %s", stillOpen.Status)
	}

	again, err := svc.SweepExpired(ctx)
	if err != nil || again != 0 {
		t.Fatalf("expected nothing left to sweep, got %d (%v)", again, err)
	}
}

func TestFinalizeResumesScoring(t *testing.T) {
	svc, store, clock := newService(t)
	ctx := context.Background()

	state, err := svc.Start(ctx, "u1", "quiz-objective")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := svc.RecordAnswer(ctx, "u1", state.ID, "q2", domain.TrueFalseAnswer{Value: true}); err != nil {
		t.Fatalf("answer: %v", err)
	}
	clock.Advance(time.Minute)

	// Simulate a crash between the status transition and scoring.
	now := clock.Now()
	if _, _, err := store.FinalizeAttempt(ctx, state.ID, func(domain.Attempt) domain.Finalization {
		return domain.Finalization{Status: domain.StatusSubmitted, SubmittedAt: now, Trigger: domain.TriggerManual, FinalizedAt: now}
	}); err != nil {
		t.Fatalf("finalize in store: %v", err)
	}

	got, err := svc.Get(ctx, "u1", state.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Result == nil || !got.Result.Score.Equal(dec("10")) {
		t.Fatalf("expected get to complete scoring, got %+v", got.Result)
	}
	if got.FinalizedBy != domain.TriggerManual {
		t.Fatalf("expected the original trigger to be kept, got %s", got.FinalizedBy)
	}
}

func TestSubscribeReceivesUpdates(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	state, err := svc.Start(ctx, "u1", "quiz-objective")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	updates, cancel, err := svc.Subscribe(ctx, "u1", state.ID)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	initial := <-updates
	if initial.ID != state.ID || initial.Status != domain.StatusInProgress {
		t.Fatalf("unexpected initial state: %+v", initial.Attempt)
	}

	if err := svc.RecordAnswer(ctx, "u1", state.ID, "q2", domain.TrueFalseAnswer{Value: true}); err != nil {
		t.Fatalf("answer: %v", err)
	}
	select {
	case update := <-updates:
		if _, ok := update.Answers["q2"]; !ok {
			t.Fatalf("expected the answer in the update")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for answer update")
	}

	if _, err := svc.Submit(ctx, "u1", state.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}
	select {
	case update := <-updates:
		if update.Result == nil {
			t.Fatalf("expected a scored update")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for result update")
	}

	if _, _, err := svc.Subscribe(ctx, "u2", state.ID); !errors.Is(err, domain.ErrAttemptNotFound) {
		t.Fatalf("expected other users to be refused, got %v", err)
	}
}
