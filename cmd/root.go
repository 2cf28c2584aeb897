package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/audience-engine/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "audience-engine",
	Short: "Identity resolution and cohort segmentation engine",
	Long:  "Merges fragmented person records into canonical identities, classifies their interests into cohorts via Claude, and serves the per-email cohort projection.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
