package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"shotforge/internal/infra"
)

func main() {
	var (
		cfg    *infra.Config
		logger infra.Logger
	)
	rootCmd := &cobra.Command{
		Use:           "batchctl",
		Short:         "Submit generation batches and inspect the model catalog",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := infra.LoadConfig()
			if err != nil {
				return err
			}
			cfg = loaded
			logger = infra.NewLogger(cfg.AppEnv, cfg.LogLevel).Output(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr(), TimeFormat: time.Kitchen})
			return nil
		},
	}
	rootCmd.AddCommand(RunCmd(&cfg, &logger))
	rootCmd.AddCommand(ModelsCmd(&cfg))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
