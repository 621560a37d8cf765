package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"library-circulation/library"
)

// Config is the process configuration, read from the environment and an
// optional .env file.
type Config struct {
	HTTPAddr    string
	Database    DatabaseConfig
	Circulation CirculationConfig
	Log         LogConfig
	Redis       RedisConfig
	Metadata    MetadataConfig
}

type DatabaseConfig struct {
	Driver   string
	URL      string
	MaxConns int
	MaxIdle  int
}

type CirculationConfig struct {
	LoanPeriodDays int
	FinePerDay     decimal.Decimal
	MaxBooks       int
	DamagedFee     decimal.Decimal
	LostFee        decimal.Decimal
}

type LogConfig struct {
	Level  string
	Format string
}

// RedisConfig locates the event feed. An empty Addr disables it.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Stream   string
}

type MetadataConfig struct {
	GoogleURL      string
	OpenLibraryURL string
	Timeout        time.Duration
}

// Load reads .env (if present) and then the environment. Variables already
// set in the environment win over the file.
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}

	var (
		p   parser
		cfg Config
	)
	cfg.HTTPAddr = getEnv("HTTP_ADDR", ":8080")

	cfg.Database = DatabaseConfig{
		Driver:   getEnv("DB_DRIVER", library.DriverSQLite),
		URL:      getEnv("DATABASE_URL", "library.db"),
		MaxConns: p.intVar("DB_MAX_CONNS", 0),
		MaxIdle:  p.intVar("DB_MAX_IDLE", 0),
	}

	cfg.Circulation = CirculationConfig{
		LoanPeriodDays: p.intVar("LOAN_PERIOD_DAYS", 14),
		FinePerDay:     p.decimalVar("FINE_PER_DAY", "1.00"),
		MaxBooks:       p.intVar("MAX_BOOKS_PER_MEMBER", 5),
		DamagedFee:     p.decimalVar("DAMAGED_FEE", "15.00"),
		LostFee:        p.decimalVar("LOST_FEE", "50.00"),
	}

	cfg.Log = LogConfig{
		Level:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
		Format: strings.ToLower(getEnv("LOG_FORMAT", "auto")),
	}

	cfg.Redis = RedisConfig{
		Addr:     os.Getenv("REDIS_ADDR"),
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       p.intVar("REDIS_DB", 0),
		Stream:   getEnv("EVENT_STREAM", library.DefaultEventStream),
	}

	cfg.Metadata = MetadataConfig{
		GoogleURL:      getEnv("METADATA_GOOGLE_URL", library.DefaultGoogleBooksURL),
		OpenLibraryURL: getEnv("METADATA_OPENLIBRARY_URL", library.DefaultOpenLibraryURL),
		Timeout:        p.durationVar("METADATA_TIMEOUT", 10*time.Second),
	}

	if p.err != nil {
		return nil, p.err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the values Load cannot check one at a time.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case library.DriverSQLite, library.DriverPostgres:
	default:
		return fmt.Errorf("DB_DRIVER: unsupported driver %q", c.Database.Driver)
	}
	if c.Database.URL == "" {
		return errors.New("DATABASE_URL is required")
	}
	if c.Circulation.LoanPeriodDays < 1 {
		return errors.New("LOAN_PERIOD_DAYS must be at least 1")
	}
	if c.Circulation.MaxBooks < 1 {
		return errors.New("MAX_BOOKS_PER_MEMBER must be at least 1")
	}
	for name, v := range map[string]decimal.Decimal{
		"FINE_PER_DAY": c.Circulation.FinePerDay,
		"DAMAGED_FEE":  c.Circulation.DamagedFee,
		"LOST_FEE":     c.Circulation.LostFee,
	} {
		if v.IsNegative() {
			return fmt.Errorf("%s cannot be negative", name)
		}
	}
	return nil
}

// Policy converts the circulation settings into engine rules.
func (c *Config) Policy() library.Policy {
	return library.Policy{
		LoanPeriodDays: c.Circulation.LoanPeriodDays,
		FinePerDay:     c.Circulation.FinePerDay,
		MaxBooks:       c.Circulation.MaxBooks,
		Fees: library.FeeSchedule{
			Damaged: c.Circulation.DamagedFee,
			Lost:    c.Circulation.LostFee,
		},
	}
}

// Pool returns the connection pool sizing.
func (c *Config) Pool() library.PoolConfig {
	return library.PoolConfig{MaxOpen: c.Database.MaxConns, MaxIdle: c.Database.MaxIdle}
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// parser keeps the first malformed variable it meets.
type parser struct{ err error }

func (p *parser) fail(key, raw string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("%s=%q: %w", key, raw, err)
	}
}

func (p *parser) intVar(key string, def int) int {
	raw := getEnv(key, "")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		p.fail(key, raw, err)
		return def
	}
	return n
}

func (p *parser) decimalVar(key, def string) decimal.Decimal {
	raw := getEnv(key, def)
	d, err := decimal.NewFromString(raw)
	if err != nil {
		p.fail(key, raw, err)
		return decimal.RequireFromString(def)
	}
	return d
}

func (p *parser) durationVar(key string, def time.Duration) time.Duration {
	raw := getEnv(key, "")
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		p.fail(key, raw, err)
		return def
	}
	return d
}
