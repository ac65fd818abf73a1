package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Build-time variables injected via -ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// Config holds all collector configuration. Values come from an optional
// YAML file and are then overridden by environment variables.
type Config struct {
	// APIKey is the collector service API key (must start with "ak-").
	APIKey string `yaml:"api_key"`

	// ServiceURL is the base URL of the collector service.
	ServiceURL string `yaml:"service_url"`

	// Debug enables verbose logging.
	Debug bool `yaml:"debug"`

	// DataDir is the root directory for persistent collector data.
	DataDir string `yaml:"data_dir"`

	// LogDir is the directory for log files.
	LogDir string `yaml:"log_dir"`

	// RepositoryDir holds one evidence database per instance.
	RepositoryDir string `yaml:"repository_dir"`

	// ListenAddr is the address of the status HTTP server.
	ListenAddr string `yaml:"listen_addr"`

	// StatusSecret guards /status and /instances. When empty the persisted
	// secret is used.
	StatusSecret string `yaml:"status_secret"`

	// DispatchInterval is the pause between transfer cycles.
	DispatchInterval time.Duration `yaml:"dispatch_interval"`

	// PingInterval is how often connectivity to the service is checked.
	PingInterval time.Duration `yaml:"ping_interval"`

	// StatsInterval is how often stats snapshots are published.
	StatsInterval time.Duration `yaml:"stats_interval"`

	// NATSURL enables publishing stats to NATS when set.
	NATSURL string `yaml:"nats_url"`

	// NATSSubject is the subject stats are published on.
	NATSSubject string `yaml:"nats_subject"`
}

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ServiceURL:       "https://collector.internal/v1",
		DataDir:          "/var/lib/evidence-collector",
		LogDir:           "/var/log/evidence-collector",
		RepositoryDir:    "/var/lib/evidence-collector/evidence",
		ListenAddr:       "127.0.0.1:4449",
		DispatchInterval: time.Second,
		PingInterval:     5 * time.Second,
		StatsInterval:    30 * time.Second,
		NATSSubject:      "collector.stats",
	}
}

// Load reads the YAML file at path (skipped when path is empty), applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("COLLECTOR_API_KEY is required")
	}
	if !strings.HasPrefix(cfg.APIKey, "ak-") {
		return nil, fmt.Errorf("COLLECTOR_API_KEY must start with 'ak-'")
	}
	for name, d := range map[string]time.Duration{
		"dispatch_interval": cfg.DispatchInterval,
		"ping_interval":     cfg.PingInterval,
		"stats_interval":    cfg.StatsInterval,
	} {
		if d <= 0 {
			return nil, fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}

	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("COLLECTOR_API_KEY"); v != "" {
		cfg.APIKey = v
	}

	if v := os.Getenv("COLLECTOR_SERVICE_URL"); v != "" {
		cfg.ServiceURL = v
	}

	if v := os.Getenv("COLLECTOR_DEBUG"); v != "" {
		cfg.Debug = v == "true"
	}

	if v := os.Getenv("COLLECTOR_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	if v := os.Getenv("COLLECTOR_LOG_DIR"); v != "" {
		cfg.LogDir = v
	}

	if v := os.Getenv("COLLECTOR_REPOSITORY_DIR"); v != "" {
		cfg.RepositoryDir = v
	}

	if v := os.Getenv("COLLECTOR_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}

	if v := os.Getenv("COLLECTOR_STATUS_SECRET"); v != "" {
		cfg.StatusSecret = v
	}

	if v := os.Getenv("COLLECTOR_NATS_URL"); v != "" {
		cfg.NATSURL = v
	}

	if v := os.Getenv("COLLECTOR_NATS_SUBJECT"); v != "" {
		cfg.NATSSubject = v
	}

	durations := []struct {
		env string
		dst *time.Duration
	}{
		{"COLLECTOR_DISPATCH_INTERVAL", &cfg.DispatchInterval},
		{"COLLECTOR_PING_INTERVAL", &cfg.PingInterval},
		{"COLLECTOR_STATS_INTERVAL", &cfg.StatsInterval},
	}
	for _, d := range durations {
		v := os.Getenv(d.env)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", d.env, err)
		}
		*d.dst = parsed
	}

	return nil
}

// NewLogger creates a structured logger that writes JSON to a log file.
func NewLogger(cfg *Config, name string) (*slog.Logger, error) {
	if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}

	logPath := filepath.Join(cfg.LogDir, name+".log")
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", logPath, err)
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}

	handler := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: level})
	logger := slog.New(handler)

	return logger, nil
}
