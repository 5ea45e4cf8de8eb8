package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/uptrace/bun"

	"quiz-attempt-service/internal/domain"
)

type reservationRow struct {
	bun.BaseModel `bun:"table:attempt_reservations"`

	UserID        string `bun:"user_id,pk"`
	QuizID        string `bun:"quiz_id,pk"`
	AttemptNumber int    `bun:"attempt_number,pk"`
	AttemptID     string `bun:"attempt_id,notnull"`
}

type attemptRow struct {
	bun.BaseModel `bun:"table:attempts"`

	ID            string          `bun:"id,pk"`
	QuizID        string          `bun:"quiz_id,notnull"`
	UserID        string          `bun:"user_id,notnull"`
	AttemptNumber int             `bun:"attempt_number,notnull"`
	Quiz          domain.Quiz     `bun:"quiz,type:jsonb,notnull"`
	StartedAt     time.Time       `bun:"started_at,notnull"`
	Deadline      *time.Time      `bun:"deadline"`
	Status        string          `bun:"status,notnull"`
	SubmittedAt   *time.Time      `bun:"submitted_at"`
	FinalizedBy   string          `bun:"finalized_by,nullzero"`
	FinalizedAt   *time.Time      `bun:"finalized_at"`
	Result        *domain.Result  `bun:"result,type:jsonb"`
	Reviews       []domain.Review `bun:"reviews,type:jsonb,notnull"`
	Version       int             `bun:"version,notnull"`
}

type answerRow struct {
	bun.BaseModel `bun:"table:attempt_answers"`

	AttemptID  string    `bun:"attempt_id,pk"`
	QuestionID string    `bun:"question_id,pk"`
	Payload    string    `bun:"payload,type:jsonb,notnull"`
	UpdatedAt  time.Time `bun:"updated_at,notnull"`
}

// AttemptStore keeps attempts in Postgres. Reservations have their own table
// keyed by (user, quiz, number); a transaction-scoped advisory lock per (user,
// quiz) makes read-max-then-insert a single step. Status changes happen under a
// row lock.
type AttemptStore struct {
	db  *bun.DB
	now func() time.Time
}

func NewAttemptStore(db *bun.DB) *AttemptStore {
	return &AttemptStore{db: db, now: time.Now}
}

func (s *AttemptStore) ReserveAttempt(ctx context.Context, draft domain.Attempt, maxAttempts *int) (domain.Attempt, error) {
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		lockKey := fmt.Sprintf("%d:%s:%s", len(draft.UserID), draft.UserID, draft.QuizID)
		if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtextextended(?, 0))", lockKey); err != nil {
			return fmt.Errorf("lock reservations: %w", err)
		}

		var latest int
		err := tx.NewSelect().
			Model((*reservationRow)(nil)).
			ColumnExpr("COALESCE(MAX(attempt_number), 0)").
			Where("user_id = ?", draft.UserID).
			Where("quiz_id = ?", draft.QuizID).
			Scan(ctx, &latest)
		if err != nil {
			return fmt.Errorf("latest attempt number: %w", err)
		}
		if maxAttempts != nil && latest >= *maxAttempts {
			return &domain.AttemptLimitError{Count: latest, Max: *maxAttempts}
		}
		draft.AttemptNumber = latest + 1

		_, err = tx.NewInsert().
			Model(&reservationRow{
				UserID:        draft.UserID,
				QuizID:        draft.QuizID,
				AttemptNumber: draft.AttemptNumber,
				AttemptID:     draft.ID,
			}).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("reserve attempt number: %w", err)
		}

		row := toAttemptRow(draft)
		if _, err := tx.NewInsert().Model(&row).Exec(ctx); err != nil {
			return fmt.Errorf("insert attempt: %w", err)
		}
		answers, err := answerRows(draft.ID, draft.Answers, s.now())
		if err != nil {
			return err
		}
		if len(answers) > 0 {
			if _, err := tx.NewInsert().Model(&answers).Exec(ctx); err != nil {
				return fmt.Errorf("insert answers: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return domain.Attempt{}, err
	}
	return draft, nil
}

func (s *AttemptStore) GetAttempt(ctx context.Context, attemptID string) (domain.Attempt, error) {
	return s.getAttempt(ctx, s.db, attemptID)
}

func (s *AttemptStore) getAttempt(ctx context.Context, db bun.IDB, attemptID string) (domain.Attempt, error) {
	var row attemptRow
	err := db.NewSelect().Model(&row).Where("id = ?", attemptID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	if err != nil {
		return domain.Attempt{}, fmt.Errorf("load attempt: %w", err)
	}

	var answers []answerRow
	if err := db.NewSelect().Model(&answers).Where("attempt_id = ?", attemptID).Scan(ctx); err != nil {
		return domain.Attempt{}, fmt.Errorf("load answers: %w", err)
	}
	return fromRows(row, answers)
}

// SaveAnswer holds a share lock on the attempt row while writing, so a
// concurrent finalize either sees the answer or the answer sees the new status.
func (s *AttemptStore) SaveAnswer(ctx context.Context, attemptID, questionID string, answer domain.Answer) error {
	payload, err := domain.EncodeAnswer(answer)
	if err != nil {
		return err
	}

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var status string
		err := tx.NewSelect().
			Model((*attemptRow)(nil)).
			Column("status").
			Where("id = ?", attemptID).
			For("SHARE").
			Scan(ctx, &status)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrAttemptNotFound
		}
		if err != nil {
			return fmt.Errorf("lock attempt: %w", err)
		}
		if domain.Status(status) != domain.StatusInProgress {
			return domain.ErrAttemptClosed
		}

		_, err = tx.NewInsert().
			Model(&answerRow{
				AttemptID:  attemptID,
				QuestionID: questionID,
				Payload:    string(payload),
				UpdatedAt:  s.now(),
			}).
			On("CONFLICT (attempt_id, question_id) DO UPDATE").
			Set("payload = EXCLUDED.payload").
			Set("updated_at = EXCLUDED.updated_at").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("save answer: %w", err)
		}
		return nil
	})
}

// FinalizeAttempt locks the attempt row before calling decide, so answer writes
// (which take a share lock) and other finalizers wait for the transition.
func (s *AttemptStore) FinalizeAttempt(ctx context.Context, attemptID string, decide domain.FinalizeFunc) (domain.Attempt, bool, error) {
	var transitioned bool
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var row attemptRow
		err := tx.NewSelect().Model(&row).Where("id = ?", attemptID).For("UPDATE").Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrAttemptNotFound
		}
		if err != nil {
			return fmt.Errorf("lock attempt: %w", err)
		}
		if domain.Status(row.Status) != domain.StatusInProgress {
			return nil
		}
		current, err := fromRows(row, nil)
		if err != nil {
			return err
		}

		f := decide(current)
		_, err = tx.NewUpdate().
			Model((*attemptRow)(nil)).
			Set("status = ?", string(f.Status)).
			Set("submitted_at = ?", f.SubmittedAt).
			Set("finalized_by = ?", string(f.Trigger)).
			Set("finalized_at = ?", f.FinalizedAt).
			Set("version = version + 1").
			Where("id = ?", attemptID).
			Where("status = ?", string(domain.StatusInProgress)).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("finalize attempt: %w", err)
		}
		transitioned = true
		return nil
	})
	if err != nil {
		return domain.Attempt{}, false, err
	}

	attempt, err := s.GetAttempt(ctx, attemptID)
	if err != nil {
		return domain.Attempt{}, false, err
	}
	return attempt, transitioned, nil
}

func (s *AttemptStore) SaveResult(ctx context.Context, attemptID string, result domain.Result) (domain.Attempt, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return domain.Attempt{}, fmt.Errorf("encode result: %w", err)
	}
	_, err = s.db.NewUpdate().
		Model((*attemptRow)(nil)).
		Set("result = ?::jsonb", string(data)).
		Set("version = version + 1").
		Where("id = ?", attemptID).
		Where("status <> ?", string(domain.StatusInProgress)).
		Where("result IS NULL").
		Exec(ctx)
	if err != nil {
		return domain.Attempt{}, fmt.Errorf("save result: %w", err)
	}

	attempt, err := s.GetAttempt(ctx, attemptID)
	if err != nil {
		return domain.Attempt{}, err
	}
	if attempt.Status == domain.StatusInProgress {
		return domain.Attempt{}, fmt.Errorf("save result: attempt %s is still in progress", attemptID)
	}
	return attempt, nil
}

func (s *AttemptStore) SaveReview(ctx context.Context, attemptID string, expectedVersion int, review domain.Review, result domain.Result) (domain.Attempt, error) {
	current, err := s.GetAttempt(ctx, attemptID)
	if err != nil {
		return domain.Attempt{}, err
	}
	if current.Version != expectedVersion {
		return domain.Attempt{}, domain.ErrVersionConflict
	}

	reviews, err := json.Marshal(append(slices.Clone(current.Reviews), review))
	if err != nil {
		return domain.Attempt{}, fmt.Errorf("encode reviews: %w", err)
	}
	resultData, err := json.Marshal(result)
	if err != nil {
		return domain.Attempt{}, fmt.Errorf("encode result: %w", err)
	}

	res, err := s.db.NewUpdate().
		Model((*attemptRow)(nil)).
		Set("reviews = ?::jsonb", string(reviews)).
		Set("result = ?::jsonb", string(resultData)).
		Set("version = version + 1").
		Where("id = ?", attemptID).
		Where("version = ?", expectedVersion).
		Exec(ctx)
	if err != nil {
		return domain.Attempt{}, fmt.Errorf("save review: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.Attempt{}, domain.ErrVersionConflict
	}
	return s.GetAttempt(ctx, attemptID)
}

func (s *AttemptStore) ListUnsettled(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	inProgress := string(domain.StatusInProgress)
	q := s.db.NewSelect().
		Model((*attemptRow)(nil)).
		Column("id").
		WhereGroup(" OR ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.
				WhereOr("status = ? AND deadline < ?", inProgress, cutoff).
				WhereOr("status <> ? AND result IS NULL", inProgress)
		}).
		OrderExpr("started_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var ids []string
	if err := q.Scan(ctx, &ids); err != nil {
		return nil, fmt.Errorf("list unsettled attempts: %w", err)
	}
	return ids, nil
}

func toAttemptRow(a domain.Attempt) attemptRow {
	reviews := a.Reviews
	if reviews == nil {
		reviews = []domain.Review{}
	}
	return attemptRow{
		ID:            a.ID,
		QuizID:        a.QuizID,
		UserID:        a.UserID,
		AttemptNumber: a.AttemptNumber,
		Quiz:          a.Quiz,
		StartedAt:     a.StartedAt,
		Deadline:      a.Deadline,
		Status:        string(a.Status),
		SubmittedAt:   a.SubmittedAt,
		FinalizedBy:   string(a.FinalizedBy),
		FinalizedAt:   a.FinalizedAt,
		Result:        a.Result,
		Reviews:       reviews,
		Version:       a.Version,
	}
}

func answerRows(attemptID string, answers domain.Answers, now time.Time) ([]answerRow, error) {
	rows := make([]answerRow, 0, len(answers))
	for questionID, answer := range answers {
		payload, err := domain.EncodeAnswer(answer)
		if err != nil {
			return nil, fmt.Errorf("encode answer %s: %w", questionID, err)
		}
		rows = append(rows, answerRow{AttemptID: attemptID, QuestionID: questionID, Payload: string(payload), UpdatedAt: now})
	}
	return rows, nil
}

func fromRows(row attemptRow, answers []answerRow) (domain.Attempt, error) {
	a := domain.Attempt{
		ID:            row.ID,
		QuizID:        row.QuizID,
		UserID:        row.UserID,
		AttemptNumber: row.AttemptNumber,
		Quiz:          row.Quiz,
		StartedAt:     row.StartedAt.UTC(),
		Deadline:      utc(row.Deadline),
		Status:        domain.Status(row.Status),
		SubmittedAt:   utc(row.SubmittedAt),
		FinalizedBy:   domain.Trigger(row.FinalizedBy),
		FinalizedAt:   utc(row.FinalizedAt),
		Result:        row.Result,
		Reviews:       row.Reviews,
		Version:       row.Version,
		Answers:       make(domain.Answers, len(answers)),
	}
	for _, ar := range answers {
		answer, err := domain.DecodeAnswer([]byte(ar.Payload))
		if err != nil {
			return domain.Attempt{}, fmt.Errorf("decode answer %s: %w", ar.QuestionID, err)
		}
		a.Answers[ar.QuestionID] = answer
	}
	return a, nil
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
