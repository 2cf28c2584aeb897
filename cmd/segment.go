package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var segmentCmd = &cobra.Command{
	Use:   "segment <identity-id>",
	Short: "Force a classification run for one identity",
	Long:  "Re-reads the identity, classifies its interests and rewrites its per-email cohort projection. Useful after a partial projection failure.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Writer.Segment(cmd.Context(), args[0]); err != nil {
			return err
		}
		zap.L().Info("segmentation run finished", zap.String("identity_id", args[0]))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(segmentCmd)
}
