package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Skryldev/schemakit/db"
	"github.com/Skryldev/schemakit/migrations"
	"github.com/Skryldev/schemakit/schema"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Render, apply and inspect the trigger and index",
}

var (
	renderDialect string
	renderDir     string
)

var schemaRenderCmd = &cobra.Command{
	Use:   "render",
	Short: "Print the DDL for a dialect, or write it as migration files",
	Long: `Print the DDL for a dialect without connecting to a database.

	schemakit schema render --dialect postgres
	schemakit schema render --dialect mysql --dir ./migrations`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		d := cfg.Driver
		if renderDialect != "" {
			if d, err = db.ParseDialect(renderDialect); err != nil {
				return err
			}
		}
		set, err := schema.Render(schema.Options{Dialect: d, Compare: cfg.EmailCompare})
		if err != nil {
			return err
		}
		if renderDir != "" {
			return migrations.WriteDir(renderDir, set)
		}

		out := cmd.OutOrStdout()
		for _, st := range set.Steps {
			fmt.Fprintf(out, "-- %s\n%s\n", migrations.FileName(st, "up"), migrations.Body(st.Up))
		}
		return nil
	},
}

var schemaApplyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Create the tables, trigger and index in one transaction, without migration bookkeeping",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		set, err := schema.Render(schema.Options{Dialect: s.cfg.Driver, Compare: s.cfg.EmailCompare})
		if err != nil {
			return err
		}
		if err := schema.Apply(cmd.Context(), s.db, set); err != nil {
			if db.IsDuplicateObject(err) {
				return fmt.Errorf("%w (already installed? `schemakit migrate up` tracks versions and skips what is applied)", err)
			}
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "schema applied")
		return nil
	},
}

var schemaInspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Report whether the trigger exists and how the index is keyed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		st := s.db.Stats()
		fmt.Fprintf(out, "pool: open=%d in-use=%d idle=%d\n", st.OpenConnections, st.InUse, st.Idle)

		exists, err := schema.TriggerExists(ctx, s.db)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "trigger %s: %s\n", schema.EmailTriggerName, presence(exists))

		info, err := schema.InspectIndex(ctx, s.db)
		switch {
		case db.IsNotFound(err):
			fmt.Fprintf(out, "index %s: missing\n", schema.NameIndexName)
			return nil
		case err != nil:
			return err
		}
		cols := make([]string, len(info.Columns))
		for i, c := range info.Columns {
			cols[i] = c.String()
		}
		fmt.Fprintf(out, "index %s: on %s (%s)\n", info.Name, info.Table, strings.Join(cols, ", "))
		fmt.Fprintf(out, "  keyed on (initial, score): %v\n", info.KeyedOnInitialAndScore())
		return nil
	},
}

var schemaExplainCmd = &cobra.Command{
	Use:   "explain [INITIAL]",
	Short: "Show the plan for a first-character lookup ordered by score",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		initial := "a"
		if len(args) == 1 {
			initial = args[0]
		}
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		plan, err := schema.ExplainInitialScan(cmd.Context(), s.db, initial)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, plan.Query)
		for _, l := range plan.Lines {
			fmt.Fprintln(out, "  "+l)
		}
		fmt.Fprintf(out, "index usable: %v\n", plan.IndexUsable)
		return nil
	},
}

func presence(ok bool) string {
	if ok {
		return "present"
	}
	return "missing"
}

func init() {
	rootCmd.AddCommand(schemaCmd)
	schemaCmd.AddCommand(schemaRenderCmd, schemaApplyCmd, schemaInspectCmd, schemaExplainCmd)
	schemaRenderCmd.Flags().StringVar(&renderDialect, "dialect", "", "dialect to render for (defaults to the configured driver)")
	schemaRenderCmd.Flags().StringVar(&renderDir, "dir", "", "write golang-migrate files into this directory instead of printing")
}
