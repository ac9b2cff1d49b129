package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const defaultMaxUploadBytes = 5 * 1024 * 1024

type Config struct {
	ServerPort      string
	APIKey          string
	MaxUploadBytes  int64
	DevelopmentMode bool

	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string
	PostgresMaxConns int32

	MinioEndpoint        string
	MinioAccessKey       string
	MinioSecretKey       string
	MinioBucket          string
	MinioRegion          string
	MinioUseSSL          bool
	BucketRetryAttempts  int
	BucketRetryBaseDelay time.Duration
	PresignTTL           time.Duration

	OpenAIAPIKey      string
	OpenAIBaseURL     string
	OpenAIModel       string
	AnnotationTimeout time.Duration

	LogLevel string
	LogFile  string
}

// Load reads configuration from the environment. envFiles are loaded first;
// a missing file is not an error.
func Load(envFiles ...string) (*Config, error) {
	_ = godotenv.Load(envFiles...)

	var errs []error

	cfg := &Config{
		ServerPort:      getEnv("SERVER_PORT", "8080"),
		APIKey:          getEnv("API_KEY", ""),
		MaxUploadBytes:  getInt64(&errs, "MAX_UPLOAD_BYTES", defaultMaxUploadBytes),
		DevelopmentMode: getBool(&errs, "DEVELOPMENT_MODE", false),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "postgres"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "password"),
		PostgresDB:       getEnv("POSTGRES_DB", "imagedb"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		PostgresMaxConns: int32(getInt64(&errs, "POSTGRES_MAX_CONNS", 20)),

		MinioEndpoint:        getEnv("MINIO_ENDPOINT", "localhost:9000"),
		MinioAccessKey:       getEnv("MINIO_ACCESS_KEY", "minioadmin"),
		MinioSecretKey:       getEnv("MINIO_SECRET_KEY", "minioadmin"),
		MinioBucket:          getEnv("MINIO_BUCKET", "images"),
		MinioRegion:          getEnv("MINIO_REGION", "us-east-1"),
		MinioUseSSL:          getBool(&errs, "MINIO_USE_SSL", false),
		BucketRetryAttempts:  int(getInt64(&errs, "BUCKET_RETRY_ATTEMPTS", 5)),
		BucketRetryBaseDelay: getDuration(&errs, "BUCKET_RETRY_BASE_DELAY", time.Second),
		PresignTTL:           getDuration(&errs, "PRESIGN_TTL", time.Hour),

		OpenAIAPIKey:      getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:     getEnv("OPENAI_BASE_URL", ""),
		OpenAIModel:       getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		AnnotationTimeout: getDuration(&errs, "ANNOTATION_TIMEOUT", 30*time.Second),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogFile:  getEnv("LOG_FILE", ""),
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the values a serving process cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if c.APIKey == "" {
		errs = append(errs, errors.New("API_KEY is required"))
	}
	if c.MaxUploadBytes <= 0 {
		errs = append(errs, fmt.Errorf("MAX_UPLOAD_BYTES must be positive, got %d", c.MaxUploadBytes))
	}
	if c.PostgresMaxConns <= 0 {
		errs = append(errs, fmt.Errorf("POSTGRES_MAX_CONNS must be positive, got %d", c.PostgresMaxConns))
	}
	if c.BucketRetryAttempts <= 0 {
		errs = append(errs, fmt.Errorf("BUCKET_RETRY_ATTEMPTS must be positive, got %d", c.BucketRetryAttempts))
	}
	if c.PresignTTL <= 0 {
		errs = append(errs, fmt.Errorf("PRESIGN_TTL must be positive, got %s", c.PresignTTL))
	}
	if c.MinioBucket == "" {
		errs = append(errs, errors.New("MINIO_BUCKET is required"))
	}
	return errors.Join(errs...)
}

func (c *Config) PostgresDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.PostgresUser, c.PostgresPassword,
		c.PostgresHost, c.PostgresPort,
		c.PostgresDB, c.PostgresSSLMode,
	)
}

// AnnotationEnabled reports whether an annotation provider should be wired.
func (c *Config) AnnotationEnabled() bool {
	return c.OpenAIAPIKey != ""
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func getInt64(errs *[]error, key string, fallback int64) int64 {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return fallback
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("parse %s: %w", key, err))
		return fallback
	}
	return n
}

func getBool(errs *[]error, key string, fallback bool) bool {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return fallback
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("parse %s: %w", key, err))
		return fallback
	}
	return b
}

func getDuration(errs *[]error, key string, fallback time.Duration) time.Duration {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return fallback
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("parse %s: %w", key, err))
		return fallback
	}
	return d
}
