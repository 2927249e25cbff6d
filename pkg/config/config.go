package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Import        ImportConfig
	Storage       StorageConfig
	Cron          CronConfig
	Logging       LoggingConfig
	Observability ObservabilityConfig
}

type ServerConfig struct {
	Host               string
	Port               int
	AllowedOrigins     []string
	RateLimitPerSecond int
	RateLimitBurst     int
	RequestTimeout     time.Duration
	ShutdownTimeout    time.Duration
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	// Memory runs against the in-process repository instead of Postgres
	Memory bool
}

type ImportConfig struct {
	MaxUploadBytes   int64
	SampleSize       int
	MaxRows          int
	Workers          int
	ChunkSize        int
	NumberFormat     string
	// DateFormats replaces the built-in date layouts when set
	DateFormats      []string
	PreviewLimit     int
	SessionTTL       time.Duration
	AllowEmptyCommit bool
	// Duplicate detection tolerances; zero means exact date and description
	DuplicateDateToleranceDays int
	DuplicateMaxEditDistance   int
}

type StorageConfig struct {
	Enabled          bool
	LocalPath        string
	ArchiveRetention time.Duration
}

type CronConfig struct {
	SessionPurgeSpec string
	ArchivePurgeSpec string
}

type LoggingConfig struct {
	Level  string
	Format string
}

type ObservabilityConfig struct {
	MetricsEnabled bool
	ServiceName    string
}

// Load reads configuration from environment variables, after loading a .env
// file when one exists in the working directory
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:               getEnv("SERVER_HOST", "localhost"),
			Port:               getEnvAsInt("SERVER_PORT", 8080),
			AllowedOrigins:     getEnvAsSlice("SERVER_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
			RateLimitPerSecond: getEnvAsInt("SERVER_RATE_LIMIT_PER_SECOND", 20),
			RateLimitBurst:     getEnvAsInt("SERVER_RATE_LIMIT_BURST", 40),
			RequestTimeout:     getEnvAsDuration("SERVER_REQUEST_TIMEOUT", 2*time.Minute),
			ShutdownTimeout:    getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Host:     getEnv("POSTGRES_HOST", "localhost"),
			Port:     getEnvAsInt("POSTGRES_PORT", 5432),
			User:     getEnv("POSTGRES_USER", "postgres"),
			Password: getEnv("POSTGRES_PASSWORD", "postgres"),
			Database: getEnv("POSTGRES_DB", "finance-import"),
			SSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
			Memory:   getEnvAsBool("DATABASE_MEMORY", false),
		},
		Import: ImportConfig{
			MaxUploadBytes:             int64(getEnvAsInt("IMPORT_MAX_UPLOAD_MB", 32)) << 20,
			SampleSize:                 getEnvAsInt("IMPORT_SAMPLE_SIZE", 50),
			MaxRows:                    getEnvAsInt("IMPORT_MAX_ROWS", 100000),
			Workers:                    getEnvAsInt("IMPORT_WORKERS", 0),
			ChunkSize:                  getEnvAsInt("IMPORT_CHUNK_SIZE", 500),
			NumberFormat:               getEnv("IMPORT_NUMBER_FORMAT", "auto"),
			DateFormats:                getEnvAsList("IMPORT_DATE_FORMATS", ";", nil),
			PreviewLimit:               getEnvAsInt("IMPORT_PREVIEW_LIMIT", 20),
			SessionTTL:                 getEnvAsDuration("IMPORT_SESSION_TTL", time.Hour),
			AllowEmptyCommit:           getEnvAsBool("IMPORT_ALLOW_EMPTY_COMMIT", false),
			DuplicateDateToleranceDays: getEnvAsInt("IMPORT_DUPLICATE_DATE_TOLERANCE_DAYS", 0),
			DuplicateMaxEditDistance:   getEnvAsInt("IMPORT_DUPLICATE_MAX_EDIT_DISTANCE", 0),
		},
		Storage: StorageConfig{
			Enabled:          getEnvAsBool("ARCHIVE_ENABLED", true),
			LocalPath:        getEnv("ARCHIVE_PATH", "./data/uploads"),
			ArchiveRetention: getEnvAsDuration("ARCHIVE_RETENTION", 30*24*time.Hour),
		},
		Cron: CronConfig{
			SessionPurgeSpec: getEnv("CRON_SESSION_PURGE", "@every 5m"),
			ArchivePurgeSpec: getEnv("CRON_ARCHIVE_PURGE", "0 3 * * *"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
		Observability: ObservabilityConfig{
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "finance-import"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the pipeline cannot run with
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("SERVER_PORT %d is out of range", c.Server.Port))
	}
	if c.Import.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("IMPORT_MAX_UPLOAD_MB must be positive"))
	}
	if c.Import.MaxRows <= 0 {
		errs = append(errs, errors.New("IMPORT_MAX_ROWS must be positive"))
	}
	if c.Import.SessionTTL <= 0 {
		errs = append(errs, errors.New("IMPORT_SESSION_TTL must be positive"))
	}
	if c.Import.DuplicateDateToleranceDays < 0 || c.Import.DuplicateMaxEditDistance < 0 {
		errs = append(errs, errors.New("duplicate tolerances must not be negative"))
	}
	for _, layout := range c.Import.DateFormats {
		if !strings.Contains(layout, "06") {
			errs = append(errs, fmt.Errorf("IMPORT_DATE_FORMATS layout %q has no year", layout))
		}
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT %q must be text or json", c.Logging.Format))
	}
	return errors.Join(errs...)
}

// Addr returns the listen address
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DSN returns the database connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	return getEnvAsList(key, ",", defaultValue)
}

// getEnvAsList splits on sep; date layouts use ";" since they may hold commas
func getEnvAsList(key, sep string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, sep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
