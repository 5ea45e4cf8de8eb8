package cli

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/config"
	"quiz-attempt-service/internal/domain"
	"quiz-attempt-service/internal/infra/memory"
	"quiz-attempt-service/internal/infra/postgres"
	infraredis "quiz-attempt-service/internal/infra/redis"
)

// backends holds the connections opened for a command.
type backends struct {
	redis *redis.Client
	pool  *pgxpool.Pool
	bun   *bun.DB
}

func openBackends(ctx context.Context, cfg config.Config) (*backends, error) {
	b := &backends{}
	if cfg.Redis.Addr != "" {
		b.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := b.redis.Ping(ctx).Err(); err != nil {
			b.Close()
			return nil, err
		}
	}
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.pool = pool
		b.bun = openBun(cfg.Postgres.URL)
	}
	return b, nil
}

func (b *backends) Close() {
	if b.redis != nil {
		_ = b.redis.Close()
	}
	if b.pool != nil {
		b.pool.Close()
	}
	if b.bun != nil {
		_ = b.bun.Close()
	}
}

func (b *backends) quizRepository(cfg config.Config) app.QuizRepository {
	var loader memory.QuizLoader = memory.NewStaticQuizLoader(demoQuizzes())
	if b.pool != nil {
		loader = postgres.NewQuizLoader(b.pool)
	}

	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	if b.redis != nil {
		return infraredis.NewQuizRepository(b.redis, loader, quizTTL)
	}
	return memory.NewQuizRepository(loader, quizTTL)
}

func (b *backends) attemptStore(cfg config.Config) (app.AttemptStore, error) {
	switch cfg.StoreDriver() {
	case config.StorePostgres:
		if b.bun == nil {
			return nil, errors.New("postgres attempt store needs postgres.url")
		}
		return postgres.NewAttemptStore(b.bun), nil
	case config.StoreRedis:
		if b.redis == nil {
			return nil, errors.New("redis attempt store needs redis.addr")
		}
		return infraredis.NewAttemptStore(b.redis), nil
	default:
		return memory.NewAttemptStore(), nil
	}
}

func (b *backends) attemptService(cfg config.Config, logger *slog.Logger) (*app.AttemptService, error) {
	store, err := b.attemptStore(cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("attempt store selected", "driver", cfg.StoreDriver())
	return app.NewAttemptService(store, b.quizRepository(cfg),
		app.WithLogger(logger),
		app.WithSweep(cfg.Attempt.SweepBatch, cfg.Attempt.SweepConcurrency),
	), nil
}

// demoQuizzes serves quizzes when no Postgres is configured.
func demoQuizzes() map[string]domain.Quiz {
	limit, attempts := 300, 3
	one := decimal.NewFromInt(1)
	return map[string]domain.Quiz{
		"quiz-1": {
			ID:               "quiz-1",
			Version:          1,
			Title:            "Warm-up",
			TimeLimitSeconds: &limit,
			MaxAttempts:      &attempts,
			PassingPercent:   decimal.NewFromInt(50),
			Questions: []domain.QuestionSpec{
				{
					ID: "q1", Type: domain.TypeMCQ, Prompt: "What is 2 + 2?", Points: one,
					Key: domain.MCQKey{Options: []string{"3", "4", "5"}, Correct: 1},
				},
				{
					ID: "q2", Type: domain.TypeTrueFalse, Prompt: "The sun is a star.", Points: one,
					Key: domain.TrueFalseKey{Correct: true},
				},
				{
					ID: "q3", Type: domain.TypeFillBlank, Prompt: "Water boils at ___ degrees Celsius.", Points: one,
					Key: domain.FillBlankKey{Gaps: []domain.Gap{{Accepted: []string{"100", "one hundred"}}}},
				},
			},
		},
	}
}
