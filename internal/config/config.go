package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"model_registry/internal/utils"
)

var logger = utils.NewLogger("config")

// Config holds configuration for the model registry service.
type Config struct {
	HTTPPort   string
	Log        LogConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	OpenRouter OpenRouterConfig
	Registry   RegistryConfig
	UsageQueue UsageQueueConfig
}

// LogConfig holds logging settings
type LogConfig struct {
	Level  string
	Format string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Driver          string
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// RedisConfig holds Redis connection settings. An empty Address disables
// Redis: usage goes through an in-memory queue and spend is not tracked.
type RedisConfig struct {
	Address      string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Enabled reports whether a Redis address is configured
func (c RedisConfig) Enabled() bool {
	return c.Address != ""
}

// OpenRouterConfig holds upstream catalog settings
type OpenRouterConfig struct {
	APIKey   string
	BaseURL  string
	SiteURL  string
	SiteName string
	Timeout  time.Duration
}

// RegistryConfig holds model cache policy
type RegistryConfig struct {
	MemoryTTL     time.Duration
	StoreTTL      time.Duration
	SyncBatchSize int
	SyncSchedule  string
}

// UsageQueueConfig holds usage persistence settings
type UsageQueueConfig struct {
	Name         string
	BatchSize    int
	BatchTimeout time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

func getEnvInt(key string, defaultValue int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	intVal, err := strconv.Atoi(val)
	if err != nil {
		logger.Warn("Ignoring invalid integer", "key", key, "value", val)
		return defaultValue
	}

	return intVal
}

// getEnvMillis reads a positive millisecond count; anything else falls
// back to the default with a warning.
func getEnvMillis(key string, defaultValue time.Duration) time.Duration {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultValue
	}

	ms, err := strconv.Atoi(val)
	if err != nil || ms <= 0 {
		logger.Warn("Ignoring invalid timeout", "key", key, "value", val, "default", defaultValue.String())
		return defaultValue
	}

	return time.Duration(ms) * time.Millisecond
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(val)
	if err != nil || duration <= 0 {
		logger.Warn("Ignoring invalid duration", "key", key, "value", val)
		return defaultValue
	}

	return duration
}

func getEnvString(key string, defaultValue string) string {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultValue
	}
	return val
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	dbURL := getEnvString("DATABASE_URL", "")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	cfg := &Config{
		HTTPPort: getEnvString("HTTP_PORT", "8080"),
		Log: LogConfig{
			Level:  getEnvString("LOG_LEVEL", "info"),
			Format: getEnvString("LOG_FORMAT", "console"),
		},
		Database: DatabaseConfig{
			Driver:          getEnvString("DATABASE_DRIVER", "postgres"),
			URL:             dbURL,
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 1*time.Minute),
		},
		Redis: RedisConfig{
			Address:      getEnvString("REDIS_ADDRESS", ""),
			Password:     getEnvString("REDIS_PASSWORD", ""),
			DB:           getEnvInt("REDIS_DB", 0),
			PoolSize:     getEnvInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getEnvInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		OpenRouter: OpenRouterConfig{
			APIKey:   getEnvString("OPENROUTER_API_KEY", ""),
			BaseURL:  getEnvString("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
			SiteURL:  getEnvString("OPENROUTER_SITE_URL", "http://localhost:3000"),
			SiteName: getEnvString("OPENROUTER_SITE_NAME", "Model Registry"),
			Timeout:  getEnvMillis("OPENROUTER_TIMEOUT_MS", 30*time.Second),
		},
		Registry: RegistryConfig{
			MemoryTTL:     getEnvDuration("REGISTRY_MEMORY_TTL", time.Hour),
			StoreTTL:      getEnvDuration("REGISTRY_STORE_TTL", 24*time.Hour),
			SyncBatchSize: getEnvInt("REGISTRY_SYNC_BATCH_SIZE", 50),
			SyncSchedule:  getEnvString("REGISTRY_SYNC_SCHEDULE", "0 3 * * *"),
		},
		UsageQueue: UsageQueueConfig{
			Name:         getEnvString("USAGE_QUEUE_NAME", "usage"),
			BatchSize:    getEnvInt("USAGE_QUEUE_BATCH_SIZE", 100),
			BatchTimeout: getEnvDuration("USAGE_QUEUE_BATCH_TIMEOUT", 5*time.Second),
			MaxRetries:   getEnvInt("USAGE_QUEUE_MAX_RETRIES", 3),
			RetryBackoff: getEnvDuration("USAGE_QUEUE_RETRY_BACKOFF", 1*time.Second),
		},
	}

	return cfg, nil
}
