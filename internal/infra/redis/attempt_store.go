package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"quiz-attempt-service/internal/domain"
)

// Key layout:
//
//	attempt:{id}                   hash of attempt fields
//	attempt:{id}:answers           hash questionID -> tagged answer JSON
//	attempts:latest:{pair}         highest reserved number, never decremented
//	attempts:numbers:{pair}        hash attempt number -> attempt id
//	attempts:deadlines             zset of timed in-progress attempts by deadline (ms)
//	attempts:unscored              set of finalized attempts without a result
//
// {pair} is "<len(user)>:<user>:<quiz>", so IDs containing ':' cannot collide.
const (
	deadlinesKey = "attempts:deadlines"
	unscoredKey  = "attempts:unscored"

	finalizeRetries = 3
)

// reserveScript returns {1, number} after reserving, or {0, count} when the
// limit in ARGV[1] (-1 for none) is reached.
var reserveScript = redis.NewScript(`
local latest = tonumber(redis.call('GET', KEYS[1]) or '0')
local max = tonumber(ARGV[1])
if max >= 0 and latest >= max then
  return {0, latest}
end
if redis.call('EXISTS', KEYS[3]) == 1 then
  return {-1, latest}
end
local n = redis.call('INCR', KEYS[1])
redis.call('HSET', KEYS[2], n, ARGV[2])
redis.call('HSET', KEYS[3], unpack(ARGV, 4))
redis.call('HSET', KEYS[3], 'attempt_number', n)
if ARGV[3] ~= '' then
  redis.call('ZADD', KEYS[4], ARGV[3], ARGV[2])
end
return {1, n}
`)

var saveAnswerScript = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if not status then
  return -1
end
if status ~= 'in_progress' then
  return 0
end
redis.call('HSET', KEYS[2], ARGV[1], ARGV[2])
return 1
`)

var saveResultScript = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if not status then
  return -1
end
if status == 'in_progress' then
  return -2
end
if redis.call('HSETNX', KEYS[1], 'result', ARGV[2]) == 1 then
  redis.call('HINCRBY', KEYS[1], 'version', 1)
end
redis.call('SREM', KEYS[2], ARGV[1])
return 1
`)

var saveReviewScript = redis.NewScript(`
local version = redis.call('HGET', KEYS[1], 'version')
if not version then
  return -1
end
if version ~= ARGV[1] then
  return 0
end
redis.call('HSET', KEYS[1], 'reviews', ARGV[2], 'result', ARGV[3])
redis.call('HINCRBY', KEYS[1], 'version', 1)
return 1
`)

// AttemptStore keeps attempts in Redis so every instance sees the same state.
// Conditional writes run as Lua scripts, which Redis executes atomically, except
// finalize, which is a WATCH transaction on the attempt hash.
type AttemptStore struct {
	client *redis.Client
}

func NewAttemptStore(client *redis.Client) *AttemptStore {
	return &AttemptStore{client: client}
}

func (s *AttemptStore) ReserveAttempt(ctx context.Context, draft domain.Attempt, maxAttempts *int) (domain.Attempt, error) {
	fields, err := encodeAttempt(draft)
	if err != nil {
		return domain.Attempt{}, err
	}
	limit := -1
	if maxAttempts != nil {
		limit = *maxAttempts
	}
	deadline := ""
	if draft.Deadline != nil {
		deadline = strconv.FormatInt(draft.Deadline.UnixMilli(), 10)
	}

	pair := pairKey(draft.UserID, draft.QuizID)
	keys := []string{"attempts:latest:" + pair, "attempts:numbers:" + pair, attemptKey(draft.ID), deadlinesKey}
	args := append([]interface{}{limit, draft.ID, deadline}, fields...)
	res, err := reserveScript.Run(ctx, s.client, keys, args...).Int64Slice()
	if err != nil {
		return domain.Attempt{}, fmt.Errorf("reserve attempt: %w", err)
	}
	if len(res) != 2 {
		return domain.Attempt{}, fmt.Errorf("reserve attempt: unexpected reply %v", res)
	}
	switch res[0] {
	case 0:
		return domain.Attempt{}, &domain.AttemptLimitError{Count: int(res[1]), Max: limit}
	case -1:
		return domain.Attempt{}, fmt.Errorf("attempt %s already exists", draft.ID)
	}
	draft.AttemptNumber = int(res[1])

	if len(draft.Answers) > 0 {
		answers, err := encodeAnswers(draft.Answers)
		if err != nil {
			return domain.Attempt{}, err
		}
		if err := s.client.HSet(ctx, answersKey(draft.ID), answers).Err(); err != nil {
			return domain.Attempt{}, fmt.Errorf("insert answers: %w", err)
		}
	}
	return draft, nil
}

func (s *AttemptStore) GetAttempt(ctx context.Context, attemptID string) (domain.Attempt, error) {
	var fieldsCmd, answersCmd *redis.MapStringStringCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		fieldsCmd = pipe.HGetAll(ctx, attemptKey(attemptID))
		answersCmd = pipe.HGetAll(ctx, answersKey(attemptID))
		return nil
	})
	if err != nil {
		return domain.Attempt{}, fmt.Errorf("load attempt: %w", err)
	}

	fields := fieldsCmd.Val()
	if len(fields) == 0 {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	return decodeAttempt(fields, answersCmd.Val())
}

func (s *AttemptStore) SaveAnswer(ctx context.Context, attemptID, questionID string, answer domain.Answer) error {
	payload, err := domain.EncodeAnswer(answer)
	if err != nil {
		return err
	}
	res, err := saveAnswerScript.Run(ctx, s.client,
		[]string{attemptKey(attemptID), answersKey(attemptID)},
		questionID, payload,
	).Int()
	if err != nil {
		return fmt.Errorf("save answer: %w", err)
	}
	switch res {
	case -1:
		return domain.ErrAttemptNotFound
	case 0:
		return domain.ErrAttemptClosed
	}
	return nil
}

func (s *AttemptStore) FinalizeAttempt(ctx context.Context, attemptID string, decide domain.FinalizeFunc) (domain.Attempt, bool, error) {
	key := attemptKey(attemptID)
	var transitioned bool
	txf := func(tx *redis.Tx) error {
		fields, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		if len(fields) == 0 {
			return domain.ErrAttemptNotFound
		}
		if domain.Status(fields["status"]) != domain.StatusInProgress {
			return nil
		}
		current, err := decodeAttempt(fields, nil)
		if err != nil {
			return err
		}

		f := decide(current)
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key,
				"status", string(f.Status),
				"submitted_at", formatTime(f.SubmittedAt),
				"finalized_by", string(f.Trigger),
				"finalized_at", formatTime(f.FinalizedAt),
			)
			pipe.HIncrBy(ctx, key, "version", 1)
			pipe.ZRem(ctx, deadlinesKey, attemptID)
			pipe.SAdd(ctx, unscoredKey, attemptID)
			return nil
		})
		if err == nil {
			transitioned = true
		}
		return err
	}

	var err error
	for i := 0; i < finalizeRetries; i++ {
		err = s.client.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if errors.Is(err, domain.ErrAttemptNotFound) {
		return domain.Attempt{}, false, err
	}
	if err != nil {
		return domain.Attempt{}, false, fmt.Errorf("finalize attempt: %w", err)
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
	res, err := saveResultScript.Run(ctx, s.client,
		[]string{attemptKey(attemptID), unscoredKey},
		attemptID, data,
	).Int()
	if err != nil {
		return domain.Attempt{}, fmt.Errorf("save result: %w", err)
	}
	switch res {
	case -1:
		return domain.Attempt{}, domain.ErrAttemptNotFound
	case -2:
		return domain.Attempt{}, fmt.Errorf("save result: attempt %s is still in progress", attemptID)
	}
	return s.GetAttempt(ctx, attemptID)
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

	res, err := saveReviewScript.Run(ctx, s.client,
		[]string{attemptKey(attemptID)},
		strconv.Itoa(expectedVersion), reviews, resultData,
	).Int()
	if err != nil {
		return domain.Attempt{}, fmt.Errorf("save review: %w", err)
	}
	switch res {
	case -1:
		return domain.Attempt{}, domain.ErrAttemptNotFound
	case 0:
		return domain.Attempt{}, domain.ErrVersionConflict
	}
	return s.GetAttempt(ctx, attemptID)
}

func (s *AttemptStore) ListUnsettled(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	overdue, err := s.client.ZRangeByScore(ctx, deadlinesKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   "(" + strconv.FormatInt(cutoff.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list overdue attempts: %w", err)
	}
	if limit > 0 && len(overdue) >= limit {
		return overdue[:limit], nil
	}

	unscored, err := s.client.SMembers(ctx, unscoredKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list unscored attempts: %w", err)
	}
	slices.Sort(unscored)
	ids := append(overdue, unscored...)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func attemptKey(id string) string { return "attempt:" + id }
func answersKey(id string) string { return "attempt:" + id + ":answers" }

func pairKey(userID, quizID string) string {
	return strconv.Itoa(len(userID)) + ":" + userID + ":" + quizID
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(fields map[string]string, name string) (*time.Time, error) {
	raw, ok := fields[name]
	if !ok || raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	return &t, nil
}

// encodeAttempt flattens an attempt into HSET field/value pairs. The result field
// is left out until the attempt is scored.
func encodeAttempt(a domain.Attempt) ([]interface{}, error) {
	quiz, err := json.Marshal(a.Quiz)
	if err != nil {
		return nil, fmt.Errorf("encode quiz: %w", err)
	}
	reviews, err := json.Marshal(a.Reviews)
	if err != nil {
		return nil, fmt.Errorf("encode reviews: %w", err)
	}

	fields := []interface{}{
		"id", a.ID,
		"quiz_id", a.QuizID,
		"user_id", a.UserID,
		"attempt_number", strconv.Itoa(a.AttemptNumber),
		"quiz", string(quiz),
		"started_at", formatTime(a.StartedAt),
		"status", string(a.Status),
		"reviews", string(reviews),
		"version", strconv.Itoa(a.Version),
	}
	if a.Deadline != nil {
		fields = append(fields, "deadline", formatTime(*a.Deadline))
	}
	return fields, nil
}

func encodeAnswers(answers domain.Answers) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(answers))
	for questionID, answer := range answers {
		payload, err := domain.EncodeAnswer(answer)
		if err != nil {
			return nil, fmt.Errorf("encode answer %s: %w", questionID, err)
		}
		out[questionID] = string(payload)
	}
	return out, nil
}

func decodeAttempt(fields, answers map[string]string) (domain.Attempt, error) {
	a := domain.Attempt{
		ID:          fields["id"],
		QuizID:      fields["quiz_id"],
		UserID:      fields["user_id"],
		Status:      domain.Status(fields["status"]),
		FinalizedBy: domain.Trigger(fields["finalized_by"]),
		Answers:     make(domain.Answers, len(answers)),
	}

	var err error
	if a.AttemptNumber, err = strconv.Atoi(fields["attempt_number"]); err != nil {
		return domain.Attempt{}, fmt.Errorf("parse attempt_number: %w", err)
	}
	if a.Version, err = strconv.Atoi(fields["version"]); err != nil {
		return domain.Attempt{}, fmt.Errorf("parse version: %w", err)
	}
	if err := json.Unmarshal([]byte(fields["quiz"]), &a.Quiz); err != nil {
		return domain.Attempt{}, fmt.Errorf("decode quiz: %w", err)
	}
	if raw := fields["reviews"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &a.Reviews); err != nil {
			return domain.Attempt{}, fmt.Errorf("decode reviews: %w", err)
		}
	}
	if raw, ok := fields["result"]; ok && raw != "" {
		var result domain.Result
		if err := json.Unmarshal([]byte(raw), &result); err != nil {
			return domain.Attempt{}, fmt.Errorf("decode result: %w", err)
		}
		a.Result = &result
	}

	started, err := parseTime(fields, "started_at")
	if err != nil {
		return domain.Attempt{}, err
	}
	if started != nil {
		a.StartedAt = *started
	}
	if a.Deadline, err = parseTime(fields, "deadline"); err != nil {
		return domain.Attempt{}, err
	}
	if a.SubmittedAt, err = parseTime(fields, "submitted_at"); err != nil {
		return domain.Attempt{}, err
	}
	if a.FinalizedAt, err = parseTime(fields, "finalized_at"); err != nil {
		return domain.Attempt{}, err
	}

	for questionID, payload := range answers {
		answer, err := domain.DecodeAnswer([]byte(payload))
		if err != nil {
			return domain.Attempt{}, fmt.Errorf("decode answer %s: %w", questionID, err)
		}
		a.Answers[questionID] = answer
	}
	return a, nil
}
