package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Config holds all configuration for the application
// ⭐ SSOT: 모든 환경변수는 여기서만 읽음
type Config struct {
	// Server
	Port string
	Env  string // development, staging, production

	Database DatabaseConfig
	Redis    RedisConfig
	Tally    TallyConfig

	// Logging
	LogLevel  string
	LogFormat string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	Enabled  bool
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	Name     string
	User     string
	Password string
	URL      string

	// Connection Pool
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// TallyConfig holds engine settings
type TallyConfig struct {
	StoreDriver string // postgres | memory
	SeedFile    string // YAML reference data, required for memory
	Election    string // label of the national unit when loading from Postgres

	// shadow | enforce | off
	PublicationGateMode string

	ResultCacheTTL time.Duration

	// Cron specs (with seconds)
	CatalogRefreshSchedule string
	AuditSchedule          string

	// External audience rate limit, per client
	PublicRateLimit  int
	PublicRateWindow time.Duration

	// Optional webhook notified on publication changes
	PublicationWebhookURL string
}

// Load reads configuration from environment variables
// ⭐ SSOT: 이 함수만 os.Getenv()를 호출함
func Load() (*Config, error) {
	loadEnvFile()

	cfg := &Config{
		Port: getEnv("PORT", "8089"),
		Env:  getEnv("ENV", "development"),

		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5432"),
			Name:            getEnv("DB_NAME", "tally"),
			User:            getEnv("DB_USER", "tally"),
			Password:        getEnv("DB_PASSWORD", ""),
			URL:             getEnv("DATABASE_URL", ""),
			MaxConns:        getEnvAsInt("DB_MAX_CONNS", 25),
			MinConns:        getEnvAsInt("DB_MIN_CONNS", 5),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", "1h"),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", "30m"),
		},

		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Enabled:  getEnvAsBool("REDIS_ENABLED", true),
		},

		Tally: TallyConfig{
			StoreDriver:            strings.ToLower(getEnv("STORE_DRIVER", StorePostgres)),
			SeedFile:               getEnv("SEED_FILE", ""),
			Election:               getEnv("ELECTION_NAME", "ELECTION PRESIDENTIELLE"),
			PublicationGateMode:    strings.ToLower(getEnv("PUBLICATION_GATE_MODE", "enforce")),
			ResultCacheTTL:         getEnvAsDuration("RESULT_CACHE_TTL", "30s"),
			CatalogRefreshSchedule: getEnv("CATALOG_REFRESH_SCHEDULE", "0 */5 * * * *"),
			AuditSchedule:          getEnv("AUDIT_SCHEDULE", "30 */10 * * * *"),
			PublicRateLimit:        getEnvAsInt("PUBLIC_RATE_LIMIT", 60),
			PublicRateWindow:       getEnvAsDuration("PUBLIC_RATE_WINDOW", "1m"),
			PublicationWebhookURL:  getEnv("PUBLICATION_WEBHOOK_URL", ""),
		},

		LogLevel:  getEnv("LOG_LEVEL", "debug"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// validate checks if required configuration values are set
func (c *Config) validate() error {
	switch c.Tally.StoreDriver {
	case StorePostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER=postgres")
		}
	case StoreMemory:
		if c.Tally.SeedFile == "" {
			return fmt.Errorf("SEED_FILE is required when STORE_DRIVER=memory")
		}
	default:
		return fmt.Errorf("STORE_DRIVER must be one of: postgres, memory")
	}

	if c.Env != "development" && c.Env != "staging" && c.Env != "production" {
		return fmt.Errorf("ENV must be one of: development, staging, production")
	}

	switch c.Tally.PublicationGateMode {
	case "enforce", "shadow", "off":
	default:
		return fmt.Errorf("PUBLICATION_GATE_MODE must be one of: enforce, shadow, off")
	}

	if c.Tally.PublicRateLimit < 0 {
		return fmt.Errorf("PUBLIC_RATE_LIMIT must not be negative")
	}

	return nil
}

// UsesPostgres reports whether the ledger lives in PostgreSQL
func (c *Config) UsesPostgres() bool {
	return c.Tally.StoreDriver == StorePostgres
}

// loadEnvFile tries to load .env from multiple locations
func loadEnvFile() {
	paths := []string{".env"}

	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, ".env"),
			filepath.Join(exeDir, "..", ".env"),
		)
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			return
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	value, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		valueStr = defaultValue
	}

	duration, err := time.ParseDuration(valueStr)
	if err != nil {
		duration, _ = time.ParseDuration(defaultValue)
	}

	return duration
}
