package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/Skryldev/schemakit/db"
	"github.com/Skryldev/schemakit/rules"
)

type Config struct {
	Driver         db.Dialect
	DatabaseURL    string
	Database       DatabaseConfig
	Pool           PoolConfig
	SlowQuery      time.Duration
	EmailCompare   rules.Comparison
	MigrationsPath string
	MetricsAddr    string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
}

type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	Timeout         time.Duration
}

// Load reads the configuration from the environment. With SCHEMAKIT_ENV=dev
// a .env file in the working directory is loaded first; variables already set
// in the environment win over it.
func Load() (Config, error) {
	if os.Getenv("SCHEMAKIT_ENV") == "dev" {
		_ = godotenv.Load()
	}

	driver, err := db.ParseDialect(getEnv("SCHEMAKIT_DRIVER", string(db.SQLite)))
	if err != nil {
		return Config{}, fmt.Errorf("config: SCHEMAKIT_DRIVER: %w", err)
	}
	compare, err := rules.ParseComparison(getEnv("SCHEMAKIT_EMAIL_COMPARE", ""))
	if err != nil {
		return Config{}, fmt.Errorf("config: SCHEMAKIT_EMAIL_COMPARE: %w", err)
	}

	var p parser
	cfg := Config{
		Driver:      driver,
		DatabaseURL: getEnv("DATABASE_URL", ""),
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     p.int("DB_PORT", 0),
			User:     getEnv("DB_USER", "schemakit"),
			Password: getEnv("DB_PASSWORD", ""),
			Name:     getEnv("DB_NAME", defaultDBName(driver)),
			SSLMode:  getEnv("DB_SSLMODE", ""),
		},
		Pool: PoolConfig{
			MaxOpenConns:    p.int("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    p.int("DB_MAX_IDLE_CONNS", 10),
			ConnMaxLifetime: p.duration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			Timeout:         p.duration("DB_TIMEOUT", 10*time.Second),
		},
		SlowQuery:      p.duration("DB_SLOW_QUERY", 200*time.Millisecond),
		EmailCompare:   compare,
		MigrationsPath: getEnv("MIGRATIONS_PATH", ""),
		MetricsAddr:    getEnv("METRICS_ADDR", ""),
	}
	if p.err != nil {
		return Config{}, p.err
	}
	return cfg, nil
}

func defaultDBName(d db.Dialect) string {
	if d == db.SQLite {
		return "schemakit.db"
	}
	return "schemakit"
}

// DSN returns DATABASE_URL when set, otherwise the DSN the registered driver
// builds from the DB_* parts.
func (c Config) DSN() (string, error) {
	if c.DatabaseURL != "" {
		return c.DatabaseURL, nil
	}
	drv, err := db.LookupDriver(string(c.Driver))
	if err != nil {
		return "", err
	}
	return drv.DSN(c.DriverOptions())
}

func (c Config) DriverOptions() db.DriverOptions {
	return db.DriverOptions{
		Host:     c.Database.Host,
		Port:     c.Database.Port,
		User:     c.Database.User,
		Password: c.Database.Password,
		Database: c.Database.Name,
		SSLMode:  c.Database.SSLMode,
	}
}

// DBConfig maps the pool settings onto db.Config. DSN and DriverName are
// left to the caller.
func (c Config) DBConfig(hooks ...db.Hook) db.Config {
	return db.Config{
		DriverName:      string(c.Driver),
		MaxOpenConns:    c.Pool.MaxOpenConns,
		MaxIdleConns:    c.Pool.MaxIdleConns,
		ConnMaxLifetime: c.Pool.ConnMaxLifetime,
		DefaultTimeout:  c.Pool.Timeout,
		Hooks:           hooks,
	}
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// parser keeps the first conversion error so Load can report it once.
type parser struct{ err error }

func (p *parser) int(key string, defaultValue int) int {
	valueStr, exists := os.LookupEnv(key)
	if !exists || valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("config: %s: %w", key, err)
	}
	return value
}

func (p *parser) duration(key string, defaultValue time.Duration) time.Duration {
	valueStr, exists := os.LookupEnv(key)
	if !exists || valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("config: %s: %w", key, err)
	}
	return value
}
