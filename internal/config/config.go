package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env string `mapstructure:"ENV"`

	// Remote telehealth API
	APIBaseURL      string        `mapstructure:"ADRA_BASE_URL"`
	APIUsername     string        `mapstructure:"ADRA_USERNAME"`
	APIPassword     string        `mapstructure:"ADRA_PASSWORD"`
	RequestTimeout  time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	TimeoutRetries  int           `mapstructure:"TIMEOUT_RETRIES"`
	FetchAttempts   int           `mapstructure:"FETCH_MAX_ATTEMPTS"`
	FetchRetryDelay time.Duration `mapstructure:"FETCH_RETRY_DELAY"`
	RateLimitRPS    float64       `mapstructure:"RATE_LIMIT_RPS"`
	BreakerFailures uint32        `mapstructure:"BREAKER_FAILURES"`

	// Batch execution
	Concurrency     int           `mapstructure:"CONCURRENCY"`
	BatchPause      time.Duration `mapstructure:"BATCH_PAUSE"`
	SQLWorkers      int           `mapstructure:"SQL_WORKERS"`
	DefaultAuthorID int64         `mapstructure:"DEFAULT_AUTHOR_ID"`

	// Database
	DatabaseURL    string        `mapstructure:"DATABASE_URL"`
	DBHost         string        `mapstructure:"DB_HOST"`
	DBPort         int           `mapstructure:"DB_PORT"`
	DBName         string        `mapstructure:"DB_DATABASE"`
	DBUser         string        `mapstructure:"DB_USER"`
	DBPassword     string        `mapstructure:"DB_PASSWORD"`
	DBMaxConns     int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32         `mapstructure:"DB_MIN_CONNS"`
	LookupCacheTTL time.Duration `mapstructure:"LOOKUP_CACHE_TTL"`

	// Files
	ProvidersFile   string `mapstructure:"PROVIDERS_FILE"`
	PatientIDsFile  string `mapstructure:"PATIENT_IDS_FILE"`
	ProviderLogFile string `mapstructure:"PROVIDER_LOG_FILE"`
	ResultsFile     string `mapstructure:"RESULTS_FILE"`
	OutputSQLFile   string `mapstructure:"OUTPUT_SQL_FILE"`
	LedgerFile      string `mapstructure:"LEDGER_FILE"`
	MetricsFile     string `mapstructure:"METRICS_FILE"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("ENV", "development")
	v.SetDefault("REQUEST_TIMEOUT", "120s")
	v.SetDefault("TIMEOUT_RETRIES", 3)
	v.SetDefault("FETCH_MAX_ATTEMPTS", 3)
	v.SetDefault("FETCH_RETRY_DELAY", "2s")
	v.SetDefault("RATE_LIMIT_RPS", 5)
	v.SetDefault("BREAKER_FAILURES", 10)
	v.SetDefault("CONCURRENCY", 10)
	v.SetDefault("BATCH_PAUSE", "2s")
	v.SetDefault("SQL_WORKERS", 4)
	v.SetDefault("DEFAULT_AUTHOR_ID", 1)
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_DATABASE", "rocketdoctor_development")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 1)
	v.SetDefault("LOOKUP_CACHE_TTL", "10m")
	v.SetDefault("PROVIDERS_FILE", "providers.json")
	v.SetDefault("PATIENT_IDS_FILE", "config.json")
	v.SetDefault("PROVIDER_LOG_FILE", "provider-logs.json")
	v.SetDefault("RESULTS_FILE", "results.json")
	v.SetDefault("OUTPUT_SQL_FILE", "output.sql")
	v.SetDefault("LEDGER_FILE", "execution_ledger.json")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "console")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range []string{
		"ENV",
		"ADRA_BASE_URL", "ADRA_USERNAME", "ADRA_PASSWORD",
		"REQUEST_TIMEOUT", "TIMEOUT_RETRIES", "FETCH_MAX_ATTEMPTS", "FETCH_RETRY_DELAY",
		"RATE_LIMIT_RPS", "BREAKER_FAILURES",
		"CONCURRENCY", "BATCH_PAUSE", "SQL_WORKERS", "DEFAULT_AUTHOR_ID",
		"DATABASE_URL", "DB_HOST", "DB_PORT", "DB_DATABASE", "DB_USER", "DB_PASSWORD",
		"DB_MAX_CONNS", "DB_MIN_CONNS", "LOOKUP_CACHE_TTL",
		"PROVIDERS_FILE", "PATIENT_IDS_FILE", "PROVIDER_LOG_FILE", "RESULTS_FILE",
		"OUTPUT_SQL_FILE", "LEDGER_FILE", "METRICS_FILE",
		"LOG_LEVEL", "LOG_FORMAT",
	} {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = cfg.dsnFromParts()
	}

	return cfg, nil
}

// dsnFromParts assembles a postgres URL from the discrete DB_* settings.
func (c *Config) dsnFromParts() string {
	u := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:   "/" + c.DBName,
	}
	if c.DBPassword != "" {
		u.User = url.UserPassword(c.DBUser, c.DBPassword)
	} else if c.DBUser != "" {
		u.User = url.User(c.DBUser)
	}
	return u.String()
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate checks the settings every command needs: a reachable database
// description and sane batch parameters.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL (or DB_HOST/DB_DATABASE) is required")
	}
	if c.DefaultAuthorID <= 0 {
		return fmt.Errorf("DEFAULT_AUTHOR_ID must be positive, got %d", c.DefaultAuthorID)
	}
	if c.FetchAttempts < 1 {
		return fmt.Errorf("FETCH_MAX_ATTEMPTS must be at least 1, got %d", c.FetchAttempts)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("CONCURRENCY must be at least 1, got %d", c.Concurrency)
	}
	if c.SQLWorkers < 1 {
		return fmt.Errorf("SQL_WORKERS must be at least 1, got %d", c.SQLWorkers)
	}
	return nil
}

// ValidateRemote checks the credentials needed to talk to the telehealth API.
// Missing values are fatal for a migration run.
func (c *Config) ValidateRemote() error {
	if c.APIBaseURL == "" {
		return fmt.Errorf("ADRA_BASE_URL is required")
	}
	if _, err := url.ParseRequestURI(c.APIBaseURL); err != nil {
		return fmt.Errorf("ADRA_BASE_URL is not a valid URL: %w", err)
	}
	if c.APIUsername == "" || c.APIPassword == "" {
		return fmt.Errorf("ADRA_USERNAME and ADRA_PASSWORD are required")
	}
	return nil
}
