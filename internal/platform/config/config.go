package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	LogLevel        string
	JWTSigningKey   string
	JWTIssuer       string
	JWTAudience     string
	IntakeTokenHash string
	ShutdownTimeout time.Duration

	Database   DatabaseConfig
	Redis      RedisConfig
	Kafka      KafkaConfig
	Moderation ModerationConfig
}

// DatabaseConfig selects the durable store. An empty URL selects the in-memory store.
type DatabaseConfig struct {
	URL             string
	Schema          string
	MaxConns        int32
	TxTimeout       time.Duration
	MaxConnIdleTime time.Duration
}

// RedisConfig configures the shared Redis client used for access grants and live push.
type RedisConfig struct {
	URL           string
	PoolSize      int
	MinIdleConns  int
	DialTimeout   time.Duration
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	AccessPrefix  string
	ChannelPrefix string
}

// KafkaConfig configures the decision outbox relay. No brokers disables the relay.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	PollInterval time.Duration
	BatchSize    int
}

// ModerationConfig holds the workflow policy knobs.
type ModerationConfig struct {
	RequireRejectionReason bool
	BulkConcurrency        int
	BulkMaxSize            int
	PushTimeout            time.Duration
	ReconcileSchedule      string
	// AccessGrants is "actor:action|action;actor:action". "*" matches any actor or action.
	AccessGrants string
}

// LoadDotEnv loads a .env file when present. A missing file is not an error.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() (Server, error) {
	cfg := Server{
		Addr:            envString("MODERATION_ADDR", ":8080"),
		LogLevel:        envString("LOG_LEVEL", "info"),
		JWTSigningKey:   envString("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		JWTIssuer:       os.Getenv("JWT_ISSUER"),
		JWTAudience:     os.Getenv("JWT_AUDIENCE"),
		IntakeTokenHash: os.Getenv("INTAKE_TOKEN_HASH"),
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			Schema:          envString("DATABASE_SCHEMA", "public"),
			MaxConnIdleTime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			URL:           os.Getenv("REDIS_URL"),
			PoolSize:      10,
			MinIdleConns:  2,
			DialTimeout:   5 * time.Second,
			ReadTimeout:   3 * time.Second,
			WriteTimeout:  3 * time.Second,
			AccessPrefix:  envString("ACCESS_REDIS_PREFIX", "moderation:access"),
			ChannelPrefix: envString("PUSH_CHANNEL_PREFIX", "moderation:notify"),
		},
		Kafka: KafkaConfig{
			Brokers:   splitList(os.Getenv("KAFKA_BROKERS")),
			Topic:     envString("KAFKA_DECISION_TOPIC", "moderation.decisions"),
			BatchSize: 100,
		},
		Moderation: ModerationConfig{
			ReconcileSchedule: envString("RECONCILE_SCHEDULE", "@every 5m"),
			AccessGrants:      os.Getenv("ACCESS_GRANTS"),
		},
	}

	var err error
	if cfg.ShutdownTimeout, err = envDuration("SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return Server{}, err
	}
	if cfg.Database.TxTimeout, err = envDuration("DATABASE_TX_TIMEOUT", 5*time.Second); err != nil {
		return Server{}, err
	}
	maxConns, err := envInt("DATABASE_MAX_CONNS", 10)
	if err != nil {
		return Server{}, err
	}
	cfg.Database.MaxConns = int32(maxConns)
	if cfg.Kafka.PollInterval, err = envDuration("OUTBOX_POLL_INTERVAL", time.Second); err != nil {
		return Server{}, err
	}
	if cfg.Moderation.RequireRejectionReason, err = envBool("REQUIRE_REJECTION_REASON", false); err != nil {
		return Server{}, err
	}
	if cfg.Moderation.BulkConcurrency, err = envInt("BULK_CONCURRENCY", 8); err != nil {
		return Server{}, err
	}
	if cfg.Moderation.BulkMaxSize, err = envInt("BULK_MAX_SIZE", 500); err != nil {
		return Server{}, err
	}
	if cfg.Moderation.PushTimeout, err = envDuration("PUSH_TIMEOUT", 2*time.Second); err != nil {
		return Server{}, err
	}

	if cfg.Moderation.BulkConcurrency < 1 {
		return Server{}, fmt.Errorf("BULK_CONCURRENCY must be positive, got %d", cfg.Moderation.BulkConcurrency)
	}
	if cfg.Moderation.BulkMaxSize < 1 {
		return Server{}, fmt.Errorf("BULK_MAX_SIZE must be positive, got %d", cfg.Moderation.BulkMaxSize)
	}
	return cfg, nil
}

func envString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envBool(key string, fallback bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
