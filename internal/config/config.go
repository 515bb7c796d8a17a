package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"channel-sync-core/internal/domain"
)

const (
	MinPoolSize = 1
	MaxPoolSize = 256
)

// Config carries every tunable the sync core reads from the environment.
// Cooldown windows, retry budgets and timeouts are deployment inputs,
// never hardcoded in components.
type Config struct {
	Port     string
	LogLevel string

	MongoURI      string
	MongoDatabase string

	RedisAddr     string
	RedisPassword string

	KafkaBrokers []string
	KafkaTopic   string

	// Cooldown per entity type: shorter for inventory, longer for full
	// product syncs.
	Cooldowns       map[domain.EntityType]time.Duration
	DefaultCooldown time.Duration

	DedupHorizon  time.Duration
	PoolSize      int
	LaneQueueSize int

	MaxAttempts    int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	// CallTimeout bounds one platform API call; TaskTimeout bounds the
	// whole task and is generously larger to allow for pagination.
	CallTimeout time.Duration
	TaskTimeout time.Duration

	RefreshMargin  time.Duration
	WebhookBaseURL string
}

// Load reads configuration from the environment, falling back to local
// development defaults. A .env file is honored when present.
func Load() *Config {
	_ = godotenv.Load()

	poolSize := getEnvInt("WORKER_POOL_SIZE", 16)
	if poolSize > MaxPoolSize {
		poolSize = MaxPoolSize
	} else if poolSize < MinPoolSize {
		poolSize = MinPoolSize
	}

	return &Config{
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		MongoURI:      getEnv("MONGODB_URI", "mongodb://localhost:27017"),
		MongoDatabase: getEnv("MONGODB_DATABASE", "channel_sync"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		KafkaBrokers: strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "canonical-entities"),

		Cooldowns: map[domain.EntityType]time.Duration{
			domain.EntityInventory: getEnvDuration("COOLDOWN_INVENTORY", time.Minute),
			domain.EntityOrder:     getEnvDuration("COOLDOWN_ORDER", 2*time.Minute),
			domain.EntityProduct:   getEnvDuration("COOLDOWN_PRODUCT", 10*time.Minute),
			domain.EntityReturn:    getEnvDuration("COOLDOWN_RETURN", 5*time.Minute),
		},
		DefaultCooldown: getEnvDuration("COOLDOWN_DEFAULT", 2*time.Minute),

		DedupHorizon:  getEnvDuration("DEDUP_HORIZON", 30*time.Second),
		PoolSize:      poolSize,
		LaneQueueSize: getEnvInt("LANE_QUEUE_SIZE", 64),

		MaxAttempts:    getEnvInt("MAX_RETRY_ATTEMPTS", 4),
		RetryBaseDelay: getEnvDuration("RETRY_BASE_DELAY", time.Second),
		RetryMaxDelay:  getEnvDuration("RETRY_MAX_DELAY", time.Minute),

		CallTimeout: getEnvDuration("PLATFORM_CALL_TIMEOUT", 30*time.Second),
		TaskTimeout: getEnvDuration("TASK_TIMEOUT", 15*time.Minute),

		RefreshMargin:  getEnvDuration("TOKEN_REFRESH_MARGIN", 60*time.Second),
		WebhookBaseURL: getEnv("WEBHOOK_BASE_URL", "http://localhost:8080"),
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
