package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"quiz-attempt-service/internal/config"
	"quiz-attempt-service/internal/domain"
	"quiz-attempt-service/internal/infra/postgres"
	infraredis "quiz-attempt-service/internal/infra/redis"
)

// NewImportQuizCmd loads quiz JSON files into Postgres.
func NewImportQuizCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "import-quiz FILE...",
		Short: "Validate quiz JSON files and store them in Postgres",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if cfg.Postgres.URL == "" {
				return errors.New("postgres url not configured")
			}
			logger := cfg.NewLogger()

			b, err := openBackends(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer b.Close()

			loader := postgres.NewQuizLoader(b.pool)
			var cache *infraredis.QuizRepository
			if b.redis != nil {
				cache = infraredis.NewQuizRepository(b.redis, loader, 0)
			}

			for _, path := range args {
				quiz, err := readQuizFile(path)
				if err != nil {
					return err
				}
				if err := loader.SaveQuiz(cmd.Context(), quiz); err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				if cache != nil {
					if err := cache.Invalidate(cmd.Context(), quiz.ID); err != nil {
						logger.Warn("quiz cache not invalidated", "quiz_id", quiz.ID, "error", err)
					}
				}
				logger.Info("quiz imported", "quiz_id", quiz.ID, "questions", len(quiz.Questions), "file", path)
			}
			return nil
		},
	}
}

func readQuizFile(path string) (domain.Quiz, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Quiz{}, err
	}
	var quiz domain.Quiz
	if err := json.Unmarshal(data, &quiz); err != nil {
		return domain.Quiz{}, fmt.Errorf("%s: %w", path, err)
	}
	if err := quiz.Validate(); err != nil {
		return domain.Quiz{}, fmt.Errorf("%s: %w", path, err)
	}
	return quiz, nil
}
