package config

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendRedis = "redis"
	BackendKafka = "kafka"
)

type Config struct {
	// Queue
	QueueBackend string
	RedisURL     string
	QueueKey     string
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroup   string

	// Store
	DatabaseDriver string
	DatabaseURL    string

	Choices []string

	// Cadence
	RetryInterval     time.Duration
	PollInterval      time.Duration
	AggregateInterval time.Duration
	OpTimeout         time.Duration

	// HTTP
	Port           int
	MetricsPort    int
	AllowedOrigins []string

	LogLevel  slog.Level
	LogFormat string
}

// LoadDotEnv reads a .env file into the environment if there is one.
// Variables already set win.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err != nil && errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Parse reads flags first and falls back to environment variables, then
// to defaults matching the docker-compose deployment.
func Parse(name string, args []string) (Config, error) {
	var cfg Config
	var brokers, choices, origins, level string

	fs := flag.NewFlagSet(name, flag.ContinueOnError)

	fs.StringVar(&cfg.QueueBackend, "queue", "", "Queue backend (redis or kafka)")
	fs.StringVar(&cfg.RedisURL, "redis", "", "Redis URL")
	fs.StringVar(&cfg.QueueKey, "queue-key", "", "Redis list holding pending votes")
	fs.StringVar(&brokers, "kafka-brokers", "", "Comma separated kafka brokers")
	fs.StringVar(&cfg.KafkaTopic, "kafka-topic", "", "Kafka topic holding pending votes")
	fs.StringVar(&cfg.KafkaGroup, "kafka-group", "", "Kafka consumer group")
	fs.StringVar(&cfg.DatabaseDriver, "t", "", "Database driver (postgres or sqlite)")
	fs.StringVar(&cfg.DatabaseURL, "d", "", "Database URL")
	fs.StringVar(&choices, "choices", "", "Comma separated choices always present in the tally")
	fs.DurationVar(&cfg.RetryInterval, "retry-interval", 0, "Wait between connection attempts")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", 0, "Wait between two queue polls")
	fs.DurationVar(&cfg.AggregateInterval, "aggregate-interval", 0, "Wait between two tally broadcasts")
	fs.DurationVar(&cfg.OpTimeout, "op-timeout", 0, "Timeout of a single queue or store call")
	fs.IntVar(&cfg.Port, "p", 0, "Server port")
	fs.IntVar(&cfg.MetricsPort, "metrics-port", -1, "Metrics port, 0 disables")
	fs.StringVar(&origins, "origins", "", "Comma separated websocket origin host patterns, empty allows all")
	fs.StringVar(&level, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", "", "Log format (text or json)")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg.QueueBackend = strings.ToLower(fallback(cfg.QueueBackend, "QUEUE_BACKEND", BackendRedis))
	cfg.RedisURL = fallback(cfg.RedisURL, "REDIS_URL", "redis://redis:6379/0")
	cfg.QueueKey = fallback(cfg.QueueKey, "QUEUE_KEY", "votes")
	cfg.KafkaBrokers = splitList(fallback(brokers, "KAFKA_BROKERS", "localhost:9092"))
	cfg.KafkaTopic = fallback(cfg.KafkaTopic, "KAFKA_TOPIC", "votes")
	cfg.KafkaGroup = fallback(cfg.KafkaGroup, "KAFKA_GROUP", "vote-consumer-group")
	cfg.DatabaseDriver = fallback(cfg.DatabaseDriver, "DATABASE_DRIVER", "postgres")
	cfg.DatabaseURL = fallback(cfg.DatabaseURL, "DATABASE_URL", "postgres://postgres:postgres@db/postgres?sslmode=disable")
	cfg.Choices = splitList(fallback(choices, "CHOICES", "a,b"))
	cfg.AllowedOrigins = splitList(fallback(origins, "ALLOWED_ORIGINS", ""))
	cfg.LogFormat = strings.ToLower(fallback(cfg.LogFormat, "LOG_FORMAT", "text"))

	var err error
	if cfg.RetryInterval, err = durationFallback(cfg.RetryInterval, "RETRY_INTERVAL", time.Second); err != nil {
		return Config{}, err
	}
	if cfg.PollInterval, err = durationFallback(cfg.PollInterval, "POLL_INTERVAL", 100*time.Millisecond); err != nil {
		return Config{}, err
	}
	if cfg.AggregateInterval, err = durationFallback(cfg.AggregateInterval, "AGGREGATE_INTERVAL", time.Second); err != nil {
		return Config{}, err
	}
	if cfg.OpTimeout, err = durationFallback(cfg.OpTimeout, "OP_TIMEOUT", 5*time.Second); err != nil {
		return Config{}, err
	}

	if cfg.Port == 0 {
		if cfg.Port, err = intFallback("PORT", 4000); err != nil {
			return Config{}, err
		}
	}
	if cfg.MetricsPort < 0 {
		if cfg.MetricsPort, err = intFallback("METRICS_PORT", 9100); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(fallback(level, "LOG_LEVEL", "info"))); err != nil {
		return Config{}, fmt.Errorf("invalid log level: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) validate() error {
	switch c.QueueBackend {
	case BackendRedis, BackendKafka:
	default:
		return fmt.Errorf("unknown queue backend %q (use redis or kafka)", c.QueueBackend)
	}
	if c.QueueBackend == BackendKafka && len(c.KafkaBrokers) == 0 {
		return errors.New("kafka brokers required (use -kafka-brokers or KAFKA_BROKERS env)")
	}
	if c.DatabaseURL == "" {
		return errors.New("database URL required (use -d or DATABASE_URL env)")
	}
	if len(c.Choices) == 0 {
		return errors.New("at least one choice required (use -choices or CHOICES env)")
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("unknown log format %q (use text or json)", c.LogFormat)
	}
	for name, d := range map[string]time.Duration{
		"retry interval":     c.RetryInterval,
		"poll interval":      c.PollInterval,
		"aggregate interval": c.AggregateInterval,
		"op timeout":         c.OpTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	return nil
}

// NewLogger builds the process logger from the configured level and format.
func (c Config) NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.LogLevel}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func fallback(v, env, def string) string {
	if v != "" {
		return v
	}
	if e := os.Getenv(env); e != "" {
		return e
	}
	return def
}

func durationFallback(v time.Duration, env string, def time.Duration) (time.Duration, error) {
	if v != 0 {
		return v, nil
	}
	if e := os.Getenv(env); e != "" {
		d, err := time.ParseDuration(e)
		if err != nil {
			return 0, fmt.Errorf("invalid %s env variable: %w", env, err)
		}
		return d, nil
	}
	return def, nil
}

func intFallback(env string, def int) (int, error) {
	if e := os.Getenv(env); e != "" {
		n, err := strconv.Atoi(e)
		if err != nil {
			return 0, fmt.Errorf("invalid %s env variable", env)
		}
		return n, nil
	}
	return def, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
