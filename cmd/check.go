package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Skryldev/schemakit/check"
)

var checkInitial string

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Exercise the installed trigger and index; nothing is left behind",
	Long: `Runs the email reset and first-character lookup checks against the
configured database inside a transaction that is always rolled back, and
prints one line per check. Exits non-zero when any check fails.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		report, err := check.Run(cmd.Context(), s.db, check.Options{
			Compare: s.cfg.EmailCompare,
			Initial: checkInitial,
		})
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, r := range report.Results {
			status := "PASS"
			if !r.Pass {
				status = "FAIL"
			}
			fmt.Fprintf(out, "%s  %-40s %s\n", status, r.Name, r.Detail)
		}
		if !report.OK() {
			return errors.New("check failed")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().StringVar(&checkInitial, "initial", "q", "first character of the seeded names")
}
