package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/audience-engine/internal/model"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file.json>",
	Short: "Batch-ingest records from a JSON file",
	Long:  "Reads a JSON array of records and runs each through identity resolution synchronously. Segmentation still runs on the background pool and is drained before exit.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrap(err, "read input file")
		}

		var records []model.IngestRecord
		if err := json.Unmarshal(data, &records); err != nil {
			return eris.Wrap(err, "parse input file")
		}
		if len(records) == 0 {
			return eris.New("input file holds no records")
		}

		env, err := initEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Store.LogRawRecords(cmd.Context(), records); err != nil {
			return eris.Wrap(err, "log raw records")
		}

		var resolved, skipped, failed int
		for _, rec := range records {
			identity, err := env.Resolver.Resolve(cmd.Context(), rec)
			switch {
			case err != nil:
				failed++
				zap.L().Error("resolution failed", zap.String("email", rec.Email), zap.Error(err))
			case identity == nil:
				skipped++
			default:
				resolved++
			}
		}

		zap.L().Info("ingest complete",
			zap.Int("resolved", resolved),
			zap.Int("skipped", skipped),
			zap.Int("failed", failed),
		)
		if failed > 0 {
			return eris.Errorf("%d of %d records failed", failed, len(records))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}
