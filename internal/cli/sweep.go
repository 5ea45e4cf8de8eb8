package cli

import (
	"github.com/spf13/cobra"

	"quiz-attempt-service/internal/config"
)

// NewSweepCmd settles overdue attempts once, for cron-style deployments.
func NewSweepCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Finalize and score attempts past their deadline once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			logger := cfg.NewLogger()

			b, err := openBackends(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer b.Close()

			service, err := b.attemptService(cfg, logger)
			if err != nil {
				return err
			}
			settled, err := service.SweepExpired(cmd.Context())
			cmd.Printf("settled %d attempts\n", settled)
			return err
		},
	}
}
