package config

import (
	"os"
	"strconv"
	"time"
)

// DatabaseConfig holds PostgreSQL database connection settings.
type DatabaseConfig struct {
	Host               string
	Port               string
	User               string
	Password           string
	Name               string
	SSLMode            string
	MaxOpenConns       int
	MaxIdleConns       int
	ConnMaxLifetimeSec int
}

// MinIOConfig holds object storage settings for MinIO.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// StorageConfig selects the byte storage backend.
// Backend is either "minio" or "local"; LocalRoot is only used by the local backend.
type StorageConfig struct {
	Backend   string
	LocalRoot string
}

// ParserConfig holds settings for the external parsing/extraction service client.
type ParserConfig struct {
	Endpoint string
	Timeout  time.Duration
	// RPS and Burst bound the request rate towards the parser. RPS <= 0 disables limiting.
	RPS   float64
	Burst int
	// Circuit breaker settings.
	BreakerMinRequests  uint32
	BreakerFailureRatio float64
	BreakerOpenTimeout  time.Duration
}

// DedupConfig tunes the upload-time deduplication coordinator.
type DedupConfig struct {
	UploadConcurrency int
	ParseStaleAfter   time.Duration
}

// BackfillConfig tunes the legacy document backfill job.
type BackfillConfig struct {
	BatchSize  int
	// Cron is an optional crontab expression; empty disables scheduled runs.
	Cron       string
	// RunOnStart triggers one scheduled run right after startup. It needs Cron.
	RunOnStart bool
}

// LogConfig controls structured logging output.
type LogConfig struct {
	Level string
	// File enables rotated file output in addition to stdout when non-empty.
	File       string
	MaxSizeMB  int
	MaxBackups int
}

// AppConfig is the centralized configuration struct for the application.
// It is populated from environment variables. Sensitive values are not hardcoded.
type AppConfig struct {
	AppHost string
	Port    string
	// BodyLimitMB caps request bodies, batch uploads included.
	BodyLimitMB int
	Database    DatabaseConfig
	MinIO       MinIOConfig
	Storage     StorageConfig
	Parser      ParserConfig
	Dedup       DedupConfig
	Backfill    BackfillConfig
	Log         LogConfig
}

// Load reads configuration from environment variables.
// A .env file can be auto-loaded by importing: _ "github.com/joho/godotenv/autoload"
// This function does not require a .env file; real environment variables take precedence.
func Load() *AppConfig {
	return &AppConfig{
		AppHost: getEnv("APP_HOST", "localhost:8080"),
		Port:    getEnv("PORT", "8080"),

		BodyLimitMB: getEnvInt("HTTP_BODY_LIMIT_MB", 64),
		Database: DatabaseConfig{
			Host:               getEnv("DB_HOST", ""),
			Port:               getEnv("DB_PORT", "5432"),
			User:               getEnv("DB_USER", ""),
			Password:           getEnv("DB_PASSWORD", ""),
			Name:               getEnv("DB_NAME", ""),
			SSLMode:            getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:       getEnvInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:       getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetimeSec: getEnvInt("DB_CONN_MAX_LIFETIME_SEC", 300),
		},
		MinIO: MinIOConfig{
			Endpoint:  getEnv("MINIO_ENDPOINT", ""),
			AccessKey: getEnv("MINIO_ACCESS_KEY", ""),
			SecretKey: getEnv("MINIO_SECRET_KEY", ""),
			Bucket:    getEnv("MINIO_BUCKET", ""),
			UseSSL:    getEnvBool("MINIO_USE_SSL", false),
		},
		Storage: StorageConfig{
			Backend:   getEnv("STORAGE_BACKEND", "minio"),
			LocalRoot: getEnv("STORAGE_LOCAL_ROOT", "./data"),
		},
		Parser: ParserConfig{
			Endpoint:            getEnv("PARSER_ENDPOINT", ""),
			Timeout:             getEnvDuration("PARSER_TIMEOUT", 60*time.Second),
			RPS:                 getEnvFloat("PARSER_RPS", 2),
			Burst:               getEnvInt("PARSER_BURST", 4),
			BreakerMinRequests:  uint32(getEnvInt("PARSER_BREAKER_MIN_REQUESTS", 10)),
			BreakerFailureRatio: getEnvFloat("PARSER_BREAKER_FAILURE_RATIO", 0.6),
			BreakerOpenTimeout:  getEnvDuration("PARSER_BREAKER_OPEN_TIMEOUT", 30*time.Second),
		},
		Dedup: DedupConfig{
			UploadConcurrency: getEnvInt("UPLOAD_CONCURRENCY", 4),
			ParseStaleAfter:   getEnvDuration("PARSE_STALE_AFTER", 10*time.Minute),
		},
		Backfill: BackfillConfig{
			BatchSize:  getEnvInt("BACKFILL_BATCH_SIZE", 100),
			Cron:       getEnv("BACKFILL_CRON", ""),
			RunOnStart: getEnvBool("BACKFILL_RUN_ON_START", false),
		},
		Log: LogConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			File:       getEnv("LOG_FILE", ""),
			MaxSizeMB:  getEnvInt("LOG_MAX_SIZE_MB", 100),
			MaxBackups: getEnvInt("LOG_MAX_BACKUPS", 3),
		},
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return def
}

// getEnvDuration accepts Go duration strings ("90s", "5m").
func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return def
}
