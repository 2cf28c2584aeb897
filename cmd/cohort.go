package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sells-group/audience-engine/internal/store"
)

var (
	cohortLimit  int
	cohortOffset int
)

var cohortCmd = &cobra.Command{
	Use:   "cohort <name>",
	Short: "List cohort members by descending similarity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newStore(cmd.Context(), cfg.Store)
		if err != nil {
			return err
		}
		defer s.Close()

		return printCohort(cmd, s, strings.ToLower(args[0]), cohortLimit, cohortOffset)
	},
}

func printCohort(cmd *cobra.Command, s store.Store, cohort string, limit, offset int) error {
	members, err := s.ListCohortMembers(cmd.Context(), cohort, limit, offset)
	if err != nil {
		return err
	}
	if len(members) == 0 {
		cmd.Printf("cohort %q has no members\n", cohort)
		return nil
	}

	for _, m := range members {
		cmd.Println(fmt.Sprintf("%.2f  %s", m.SimilarityScore, m.Email))
	}
	return nil
}

func init() {
	cohortCmd.Flags().IntVar(&cohortLimit, "limit", 10, "maximum members to print")
	cohortCmd.Flags().IntVar(&cohortOffset, "offset", 0, "members to skip")
	rootCmd.AddCommand(cohortCmd)
}
