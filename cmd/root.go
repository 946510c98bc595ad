package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	// Blank-import the database/sql drivers for every supported dialect.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/Skryldev/schemakit/config"
	"github.com/Skryldev/schemakit/db"
	"github.com/Skryldev/schemakit/rules"
)

var (
	flagDriver         string
	flagDSN            string
	flagEmailCompare   string
	flagMigrationsPath string
	flagLogLevel       string
	flagLogFormat      string
	flagMetricsAddr    string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "schemakit",
	Short: "Manage the users email trigger and the names prefix index",
	Long: `schemakit installs, inspects and checks two schema objects on MySQL,
PostgreSQL and SQLite:

	users_email_change       resets users.valid_email when email changes
	names_name_prefix_score  index on (first character of name, score)

Configuration comes from the environment (see SCHEMAKIT_* and DB_* keys);
flags override it.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogging(cmd.OutOrStderr())
	},
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagDriver, "driver", "", "database driver: mysql, postgres or sqlite3 (env SCHEMAKIT_DRIVER)")
	pf.StringVar(&flagDSN, "dsn", "", "data source name (env DATABASE_URL)")
	pf.StringVar(&flagEmailCompare, "email-compare", "", "email comparison: engine-default, binary or case-insensitive (env SCHEMAKIT_EMAIL_COMPARE)")
	pf.StringVar(&flagMigrationsPath, "migrations-path", "", "read migrations from this directory instead of the built-in set (env MIGRATIONS_PATH)")
	pf.StringVar(&flagLogLevel, "log-level", "info", "log level: debug, info, warn or error")
	pf.StringVar(&flagLogFormat, "log-format", "text", "log format: text or json")
	pf.StringVar(&flagMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while the command runs (env METRICS_ADDR)")
}

func setupLogging(w io.Writer) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(flagLogLevel)); err != nil {
		return fmt.Errorf("--log-level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch strings.ToLower(flagLogFormat) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	case "text", "":
		handler = slog.NewTextHandler(w, opts)
	default:
		return fmt.Errorf("--log-format: unknown format %q", flagLogFormat)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

// loadConfig reads the environment and applies the persistent flags on top.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	flags := cmd.Flags()
	if flags.Changed("driver") {
		if cfg.Driver, err = db.ParseDialect(flagDriver); err != nil {
			return config.Config{}, err
		}
	}
	if flags.Changed("dsn") {
		cfg.DatabaseURL = flagDSN
	}
	if flags.Changed("email-compare") {
		if cfg.EmailCompare, err = rules.ParseComparison(flagEmailCompare); err != nil {
			return config.Config{}, err
		}
	}
	if flags.Changed("migrations-path") {
		cfg.MigrationsPath = flagMigrationsPath
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr = flagMetricsAddr
	}
	return cfg, nil
}

// session is the per-command runtime: configuration, the open pool and the
// optional metrics endpoint.
type session struct {
	cfg     config.Config
	db      *db.DB
	metrics *http.Server
}

func openSession(cmd *cobra.Command) (*session, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	s := &session{cfg: cfg}
	hooks := []db.Hook{
		db.NewLogHook(db.LogHookConfig{SlowQueryThreshold: cfg.SlowQuery}),
		db.NewTracingHook(db.NewOTelTracer(otel.Tracer("github.com/Skryldev/schemakit"), cfg.Driver)),
	}
	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		collector, err := db.NewPrometheusCollector(reg)
		if err != nil {
			return nil, err
		}
		hooks = append(hooks, db.NewMetricsHook(collector))
		if s.metrics, err = serveMetrics(cfg.MetricsAddr, reg); err != nil {
			return nil, err
		}
	}

	dbCfg := cfg.DBConfig(db.CompositeHook(hooks...))
	if cfg.DatabaseURL != "" {
		dbCfg.DSN = cfg.DatabaseURL
		s.db, err = db.Open(dbCfg)
	} else {
		s.db, err = db.OpenWithDriver(string(cfg.Driver), cfg.DriverOptions(), dbCfg)
	}
	if err != nil {
		s.closeMetrics()
		return nil, err
	}
	slog.Debug("database opened", "driver", cfg.Driver)
	return s, nil
}

func serveMetrics(addr string, reg *prometheus.Registry) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server stopped", "err", err)
		}
	}()
	slog.Info("serving metrics", "addr", ln.Addr().String())
	return srv, nil
}

func (s *session) closeMetrics() {
	if s.metrics == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.metrics.Shutdown(ctx)
}

// Close releases the pool and stops the metrics endpoint. Closing a pool a
// migrations.Runner already closed is a no-op.
func (s *session) Close() {
	if s.db != nil {
		_ = s.db.Close()
	}
	s.closeMetrics()
}
