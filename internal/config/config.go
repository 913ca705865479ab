package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

func init() {
	// Load .env file if it exists (silent fail if not)
	_ = godotenv.Load()
}

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Server    ServerConfig
	App       AppConfig
	Session   SessionConfig
	Backend   BackendConfig
	Ledger    LedgerConfig
	Signer    SignerConfig
	Realtime  RealtimeConfig
	Reconcile ReconcileConfig
	Cache     CacheConfig
	Journal   JournalConfig
}

// ServerConfig holds settings of the local HTTP API served to the UI layer.
type ServerConfig struct {
	Host            string        `envconfig:"SERVER_HOST" default:"127.0.0.1"`
	Port            int           `envconfig:"SERVER_PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
}

// AppConfig holds application-level settings.
type AppConfig struct {
	Name        string `envconfig:"APP_NAME" default:"collectord"`
	Environment string `envconfig:"APP_ENV" default:"development"`
	Debug       bool   `envconfig:"APP_DEBUG" default:"false"`
	Version     string `envconfig:"APP_VERSION" default:"1.0.0"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	APIKeys     string `envconfig:"API_KEYS" default:""` // comma separated; empty disables auth
}

// SessionConfig identifies the client session.
type SessionConfig struct {
	Holder   string        `envconfig:"SESSION_HOLDER" required:"true"`
	ChainID  uint64        `envconfig:"SESSION_CHAIN_ID" default:"1"`
	CheckTTL time.Duration `envconfig:"SESSION_CHAIN_CHECK_TTL" default:"1m"`
}

// BackendConfig holds the authoritative backend settings.
type BackendConfig struct {
	URL            string        `envconfig:"BACKEND_URL" default:"http://localhost:9000"`
	Token          string        `envconfig:"BACKEND_TOKEN" default:""`
	RequestTimeout time.Duration `envconfig:"BACKEND_REQUEST_TIMEOUT" default:"10s"`
}

// LedgerConfig holds the ledger JSON-RPC settings.
type LedgerConfig struct {
	RPCURL          string        `envconfig:"LEDGER_RPC_URL" default:"http://localhost:8545"`
	ReadRetries     int           `envconfig:"LEDGER_READ_RETRIES" default:"3"`
	ReadTimeout     time.Duration `envconfig:"LEDGER_READ_TIMEOUT" default:"5s"`
	ReceiptInterval time.Duration `envconfig:"LEDGER_RECEIPT_INTERVAL" default:"2s"`
}

// SignerConfig holds the signing agent settings.
type SignerConfig struct {
	URL              string        `envconfig:"SIGNER_URL" default:"http://localhost:7070"`
	SignatureTimeout time.Duration `envconfig:"SIGNER_SIGNATURE_TIMEOUT" default:"30s"`
}

// RealtimeConfig holds push channel settings.
type RealtimeConfig struct {
	URL        string        `envconfig:"REALTIME_URL" default:""` // empty disables the push channel
	BaseDelay  time.Duration `envconfig:"REALTIME_BACKOFF_BASE" default:"1s"`
	MaxDelay   time.Duration `envconfig:"REALTIME_BACKOFF_CAP" default:"30s"`
	MaxRetries int           `envconfig:"REALTIME_MAX_RETRIES" default:"10"`
}

// ReconcileConfig bounds post-submission polling.
type ReconcileConfig struct {
	Interval      time.Duration `envconfig:"RECONCILE_INTERVAL" default:"3s"`
	MaxAttempts   int           `envconfig:"RECONCILE_MAX_ATTEMPTS" default:"60"`
	SweepInterval time.Duration `envconfig:"RECONCILE_SWEEP_INTERVAL" default:"1s"`
}

// CacheConfig holds snapshot cache settings.
type CacheConfig struct {
	Type string        `envconfig:"CACHE_TYPE" default:"memory"` // memory or redis
	TTL  time.Duration `envconfig:"CACHE_TTL" default:"24h"`

	RedisHost     string `envconfig:"REDIS_HOST" default:"localhost"`
	RedisPort     int    `envconfig:"REDIS_PORT" default:"6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
	RedisPrefix   string `envconfig:"REDIS_PREFIX" default:"collectord"`
}

// JournalConfig holds action journal database settings.
type JournalConfig struct {
	Type string `envconfig:"JOURNAL_DB_TYPE" default:"sqlite"` // sqlite or mysql
	Path string `envconfig:"JOURNAL_DB_PATH" default:"./data/journal.db"`
	// MySQL settings
	Host     string `envconfig:"JOURNAL_DB_HOST" default:"localhost"`
	Port     int    `envconfig:"JOURNAL_DB_PORT" default:"3306"`
	Name     string `envconfig:"JOURNAL_DB_NAME" default:"collectord"`
	User     string `envconfig:"JOURNAL_DB_USER" default:"root"`
	Password string `envconfig:"JOURNAL_DB_PASS" default:""`

	Retention       time.Duration `envconfig:"JOURNAL_RETENTION" default:"720h"`
	CleanupInterval time.Duration `envconfig:"JOURNAL_CLEANUP_INTERVAL" default:"1h"`
}

// Address returns the server address in host:port format.
func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Keys returns the configured API keys.
func (a *AppConfig) Keys() []string {
	if a.APIKeys == "" {
		return nil
	}
	keys := strings.Split(a.APIKeys, ",")
	out := keys[:0]
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}

// IsDevelopment returns true if running in development mode.
func (a *AppConfig) IsDevelopment() bool {
	return a.Environment == "development"
}

// RedisAddress returns the Redis address in host:port format.
func (c *CacheConfig) RedisAddress() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// MySQLDSN returns the MySQL data source name for the journal.
func (j *JournalConfig) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
		j.User, j.Password, j.Host, j.Port, j.Name)
}

// ReconcileBound is the longest a reconciliation may poll.
func (r *ReconcileConfig) ReconcileBound() time.Duration {
	return time.Duration(r.MaxAttempts) * r.Interval
}

// Validate checks cross-field constraints envconfig cannot express.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Session.Holder) == "" {
		return fmt.Errorf("SESSION_HOLDER is required")
	}
	if c.Reconcile.MaxAttempts < 1 {
		return fmt.Errorf("RECONCILE_MAX_ATTEMPTS must be at least 1")
	}
	if c.Reconcile.Interval <= 0 {
		return fmt.Errorf("RECONCILE_INTERVAL must be positive")
	}
	if c.Signer.SignatureTimeout <= 0 {
		return fmt.Errorf("SIGNER_SIGNATURE_TIMEOUT must be positive")
	}
	if c.Realtime.BaseDelay <= 0 || c.Realtime.MaxDelay < c.Realtime.BaseDelay {
		return fmt.Errorf("REALTIME_BACKOFF_CAP must be >= REALTIME_BACKOFF_BASE > 0")
	}
	switch c.Cache.Type {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported CACHE_TYPE %q", c.Cache.Type)
	}
	switch c.Journal.Type {
	case "sqlite", "mysql":
	default:
		return fmt.Errorf("unsupported JOURNAL_DB_TYPE %q", c.Journal.Type)
	}
	return nil
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration or panics on error.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}
