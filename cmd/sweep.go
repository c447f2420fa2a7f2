package main

import (
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var sweepOlderThan time.Duration

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete terminal sessions past the retention window",
	Long:  "Deletes completed and errored sessions whose last update is older than the retention window. Promoted listings are kept.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx, "sweep")
		if err != nil {
			return err
		}
		defer env.Close()

		olderThan := sweepOlderThan
		if olderThan == 0 {
			olderThan = time.Duration(cfg.Retention.Days) * 24 * time.Hour
		}

		deleted, err := env.Pipeline.Sweep(ctx, olderThan)
		if err != nil {
			return eris.Wrap(err, "sweep")
		}

		zap.L().Info("retention sweep complete",
			zap.Duration("older_than", olderThan),
			zap.Int("deleted", deleted),
		)
		return nil
	},
}

func init() {
	sweepCmd.Flags().DurationVar(&sweepOlderThan, "older-than", 0, "retention window override (e.g. 720h; default from retention.days)")
	rootCmd.AddCommand(sweepCmd)
}
