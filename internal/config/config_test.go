package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse("test", []string{})
	if err != nil {
		t.Fatal(err)
	}

	if cfg.QueueBackend != BackendRedis {
		t.Errorf("expected redis backend, got %s", cfg.QueueBackend)
	}
	if cfg.QueueKey != "votes" {
		t.Errorf("expected votes key, got %s", cfg.QueueKey)
	}
	if len(cfg.Choices) != 2 || cfg.Choices[0] != "a" || cfg.Choices[1] != "b" {
		t.Errorf("expected choices [a b], got %v", cfg.Choices)
	}
	if cfg.RetryInterval != time.Second {
		t.Errorf("expected 1s retry interval, got %s", cfg.RetryInterval)
	}
	if cfg.PollInterval != 100*time.Millisecond {
		t.Errorf("expected 100ms poll interval, got %s", cfg.PollInterval)
	}
	if cfg.Port != 4000 {
		t.Errorf("expected port 4000, got %d", cfg.Port)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("expected info level, got %s", cfg.LogLevel)
	}
	if len(cfg.AllowedOrigins) != 0 {
		t.Errorf("expected every origin allowed by default, got %v", cfg.AllowedOrigins)
	}
}

func TestParseEnvVars(t *testing.T) {
	t.Setenv("QUEUE_BACKEND", "KAFKA")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("CHOICES", "cats,dogs")
	t.Setenv("POLL_INTERVAL", "250ms")
	t.Setenv("PORT", "9000")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("ALLOWED_ORIGINS", "results.example.com, *.example.org")

	cfg, err := Parse("test", []string{})
	if err != nil {
		t.Fatal(err)
	}

	if cfg.QueueBackend != BackendKafka {
		t.Errorf("expected kafka backend, got %s", cfg.QueueBackend)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Errorf("unexpected brokers %v", cfg.KafkaBrokers)
	}
	if cfg.Choices[0] != "cats" || cfg.Choices[1] != "dogs" {
		t.Errorf("unexpected choices %v", cfg.Choices)
	}
	if cfg.PollInterval != 250*time.Millisecond {
		t.Errorf("expected 250ms, got %s", cfg.PollInterval)
	}
	if cfg.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Port)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("expected debug level, got %s", cfg.LogLevel)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "*.example.org" {
		t.Errorf("unexpected origins %v", cfg.AllowedOrigins)
	}
}

func TestParseCLIOverridesEnv(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("DATABASE_URL", "postgres://env")

	cfg, err := Parse("test", []string{"-p", "8080", "-d", "file:test.db", "-t", "sqlite", "-metrics-port", "0"})
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Port != 8080 {
		t.Errorf("CLI should override env: expected 8080, got %d", cfg.Port)
	}
	if cfg.DatabaseURL != "file:test.db" || cfg.DatabaseDriver != "sqlite" {
		t.Errorf("unexpected database %s %s", cfg.DatabaseDriver, cfg.DatabaseURL)
	}
	if cfg.MetricsPort != 0 {
		t.Errorf("expected metrics disabled, got %d", cfg.MetricsPort)
	}
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		args []string
	}{
		{name: "unknown backend", args: []string{"-queue", "rabbit"}},
		{name: "bad duration", env: map[string]string{"RETRY_INTERVAL": "soon"}},
		{name: "negative duration", args: []string{"-poll-interval", "-1s"}},
		{name: "bad port", env: map[string]string{"PORT": "http"}},
		{name: "no choices", env: map[string]string{"CHOICES": " , "}},
		{name: "bad log level", args: []string{"-log-level", "loud"}},
		{name: "bad log format", args: []string{"-log-format", "xml"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Parse("test", tt.args); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Errorf("missing file should be ignored, got %v", err)
	}

	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("QUEUE_KEY=ballots\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("QUEUE_KEY", "")
	os.Unsetenv("QUEUE_KEY")

	if err := LoadDotEnv(path); err != nil {
		t.Fatal(err)
	}
	cfg, err := Parse("test", []string{})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.QueueKey != "ballots" {
		t.Errorf("expected key from .env, got %s", cfg.QueueKey)
	}
}
