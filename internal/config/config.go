package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the order-execution engine.
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Queue         QueueConfig
	Router        RouterConfig
	Executor      ExecutorConfig
	Cache         CacheConfig
	Venues        VenuesConfig
	Breaker       BreakerConfig
	Observability ObservabilityConfig
}

type ServerConfig struct {
	Port         string
	Host         string
	Env          string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	ShutdownWait time.Duration
	AdminToken   string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	QueryTimeout    time.Duration
}

type RedisConfig struct {
	URL             string
	Password        string
	DB              int
	PoolSize        int
	MinIdleConns    int
	MaxRetries      int
	MinRetryBackoff time.Duration
	MaxRetryBackoff time.Duration
}

// QueueConfig governs the durable work-queue substrate (§4.6).
type QueueConfig struct {
	Concurrency    int
	MaxRetries     int
	BackoffBaseMs  int
	BackoffMultMs  int // stored as integer numerator of the float multiplier, see Multiplier()
	BackoffMaxMs   int
	CriticalQueue  string
	DrainOnStartup bool
}

func (q QueueConfig) Multiplier() float64 { return float64(q.BackoffMultMs) / 1000.0 }

// RouterConfig governs quote acquisition (§4.3).
type RouterConfig struct {
	QuoteTimeout time.Duration
	VenueOrder   []string // tie-break order, first wins ties
}

// ExecutorConfig governs swap execution (§4.4).
type ExecutorConfig struct {
	DefaultSlippage float64
	MaxSlippage     float64
}

// CacheConfig governs the order cache's default TTL (§4.2).
type CacheConfig struct {
	TTLSeconds int
}

// VenuesConfig selects adapter implementations and their endpoints (§6).
type VenuesConfig struct {
	Implementation string // "mock" or "real"
	JupiterBaseURL string
	RaydiumBaseURL string
	SigningKeyPath string
}

// BreakerConfig governs the per-venue circuit breaker (§5).
type BreakerConfig struct {
	FailureThreshold int
	ResetTimeout     time.Duration
	MonitoringPeriod time.Duration
}

type ObservabilityConfig struct {
	JaegerEndpoint string
	ServiceName    string
	LogLevel       string
	LogFormat      string
	MetricsPort    int
}

// Load loads configuration from environment variables, applying the
// defaults enumerated in spec.md §6.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			Host:         getEnv("HOST", "0.0.0.0"),
			Env:          getEnv("ENV", "development"),
			ReadTimeout:  getDurationEnv("READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getDurationEnv("WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getDurationEnv("IDLE_TIMEOUT", 60*time.Second),
			ShutdownWait: getDurationEnv("SHUTDOWN_WAIT", 30*time.Second),
			AdminToken:   getEnv("ADMIN_TOKEN", ""),
		},
		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxOpenConns:    getIntEnv("DB_MAX_OPEN_CONNS", 50),
			MaxIdleConns:    getIntEnv("DB_MAX_IDLE_CONNS", 25),
			ConnMaxLifetime: getDurationEnv("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnMaxIdleTime: getDurationEnv("DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
			QueryTimeout:    getDurationEnv("DB_QUERY_TIMEOUT", 30*time.Second),
		},
		Redis: RedisConfig{
			URL:             getEnv("REDIS_URL", "redis://localhost:6379"),
			Password:        getEnv("REDIS_PASSWORD", ""),
			DB:              getIntEnv("REDIS_DB", 0),
			PoolSize:        getIntEnv("REDIS_POOL_SIZE", 20),
			MinIdleConns:    getIntEnv("REDIS_MIN_IDLE_CONNS", 5),
			MaxRetries:      getIntEnv("REDIS_MAX_RETRIES", 3),
			MinRetryBackoff: getDurationEnv("REDIS_MIN_RETRY_BACKOFF", 8*time.Millisecond),
			MaxRetryBackoff: getDurationEnv("REDIS_MAX_RETRY_BACKOFF", 512*time.Millisecond),
		},
		Queue: QueueConfig{
			Concurrency:    getIntEnv("QUEUE_CONCURRENCY", 10),
			MaxRetries:     getIntEnv("QUEUE_MAX_RETRIES", 3),
			BackoffBaseMs:  getIntEnv("QUEUE_BACKOFF_BASE_MS", 1000),
			BackoffMultMs:  getIntEnv("QUEUE_BACKOFF_MULTIPLIER_X1000", 2000),
			BackoffMaxMs:   getIntEnv("QUEUE_BACKOFF_MAX_MS", 4000),
			CriticalQueue:  getEnv("QUEUE_CRITICAL_NAME", "order_pipeline"),
			DrainOnStartup: getBoolEnv("QUEUE_DRAIN_ON_STARTUP", false),
		},
		Router: RouterConfig{
			QuoteTimeout: getDurationEnv("ROUTER_QUOTE_TIMEOUT", 5*time.Second),
			VenueOrder:   getSliceEnv("ROUTER_VENUE_ORDER", []string{"jupiter", "raydium"}),
		},
		Executor: ExecutorConfig{
			DefaultSlippage: getFloatEnv("EXECUTOR_DEFAULT_SLIPPAGE", 0.005),
			MaxSlippage:     getFloatEnv("EXECUTOR_MAX_SLIPPAGE", 0.05),
		},
		Cache: CacheConfig{
			TTLSeconds: getIntEnv("CACHE_TTL_SECONDS", 300),
		},
		Venues: VenuesConfig{
			Implementation: getEnv("VENUE_IMPLEMENTATION", "mock"),
			JupiterBaseURL: getEnv("JUPITER_BASE_URL", "https://quote-api.jup.ag/v6"),
			RaydiumBaseURL: getEnv("RAYDIUM_BASE_URL", "https://api.raydium.io/v2"),
			SigningKeyPath: getEnv("VENUE_SIGNING_KEY_PATH", ""),
		},
		Breaker: BreakerConfig{
			FailureThreshold: getIntEnv("BREAKER_FAILURE_THRESHOLD", 5),
			ResetTimeout:     getDurationEnv("BREAKER_RESET_TIMEOUT", 60*time.Second),
			MonitoringPeriod: getDurationEnv("BREAKER_MONITORING_PERIOD", 120*time.Second),
		},
		Observability: ObservabilityConfig{
			JaegerEndpoint: getEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "order-engine"),
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			MetricsPort:    getIntEnv("METRICS_PORT", 9090),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.Executor.MaxSlippage <= 0 || c.Executor.MaxSlippage > 1 {
		return fmt.Errorf("EXECUTOR_MAX_SLIPPAGE must be in (0, 1]")
	}
	if c.Executor.DefaultSlippage < 0 || c.Executor.DefaultSlippage > c.Executor.MaxSlippage {
		return fmt.Errorf("EXECUTOR_DEFAULT_SLIPPAGE must be in [0, maxSlippage]")
	}
	if c.Venues.Implementation == "real" {
		if c.Venues.SigningKeyPath == "" {
			return fmt.Errorf("VENUE_SIGNING_KEY_PATH is required when VENUE_IMPLEMENTATION=real")
		}
	}
	return nil
}

// Helper functions for environment variable parsing

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, item := range parts {
			item = strings.TrimSpace(item)
			if item != "" {
				result = append(result, item)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
