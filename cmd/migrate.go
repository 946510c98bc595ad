package cmd

import (
	"bufio"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Skryldev/schemakit/migrations"
)

// migrateCmd represents the migrate command.
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	Long: `Apply or roll back the schema in versioned steps:

	1  create_users
	2  create_names
	3  users_email_change_trigger
	4  names_name_prefix_score_index

The built-in steps are rendered for the configured driver and email
comparison. With --migrations-path the steps are read from that directory.`,
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all up migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRunner(cmd, func(r *migrations.Runner) error {
			if err := r.Up(); err != nil {
				return err
			}
			slog.Info("migrations: up completed")
			return nil
		})
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down [N]",
	Short: "Roll back N migrations (default 1)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		steps := 1
		if len(args) == 1 {
			n, err := strconv.Atoi(args[0])
			if err != nil || n < 1 {
				return fmt.Errorf("down: invalid steps argument %q", args[0])
			}
			steps = n
		}
		return withRunner(cmd, func(r *migrations.Runner) error {
			if err := r.Down(steps); err != nil {
				return err
			}
			slog.Info("migrations: down completed", "steps", steps)
			return nil
		})
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the current migration version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRunner(cmd, func(r *migrations.Runner) error {
			v, dirty, err := r.Version()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version: %d  dirty: %v\n", v, dirty)
			return nil
		})
	},
}

var migrateForceCmd = &cobra.Command{
	Use:   "force V",
	Short: "Set the migration version without running anything (clears dirty state)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("force: invalid version %q", args[0])
		}
		return withRunner(cmd, func(r *migrations.Runner) error {
			if err := r.Force(v); err != nil {
				return err
			}
			slog.Info("migrations: forced", "version", v)
			return nil
		})
	},
}

var dropConfirmed bool

var migrateDropCmd = &cobra.Command{
	Use:   "drop",
	Short: "Drop everything in the database (dev only)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !dropConfirmed {
			fmt.Fprintln(cmd.ErrOrStderr(), "WARNING: drop will destroy all tables. Type 'yes' to confirm:")
			line, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if strings.TrimSpace(line) != "yes" {
				fmt.Fprintln(cmd.OutOrStdout(), "aborted")
				return nil
			}
		}
		return withRunner(cmd, func(r *migrations.Runner) error {
			if err := r.Drop(); err != nil {
				return err
			}
			slog.Info("migrations: all tables dropped")
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateVersionCmd, migrateForceCmd, migrateDropCmd)
	migrateDropCmd.Flags().BoolVar(&dropConfirmed, "yes", false, "skip the confirmation prompt")
}

func withRunner(cmd *cobra.Command, fn func(*migrations.Runner) error) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	r, err := migrations.New(s.db, migrations.Options{
		Compare: s.cfg.EmailCompare,
		Path:    s.cfg.MigrationsPath,
		Logger:  slog.Default(),
		Verbose: flagLogLevel == "debug",
	})
	if err != nil {
		return err
	}
	defer r.Close()
	return fn(r)
}
