package config

import (
	"os"
	"strconv"
	"strings"
)

const (
	defaultNATSURL     = "nats://localhost:4222"
	defaultRedisURL    = "redis://localhost:6379"
	defaultStore       = StoreRedis
	defaultBadgerDir   = "data/flowline"
	defaultHTTPAddr    = ":9093"
	defaultGRPCAddr    = ":9094"
	defaultMetricsAddr = ":9090"
	defaultSMTPPort    = 587

	envNATSURL         = "NATS_URL"
	envNATSEnabled     = "FLOWLINE_NATS_ENABLED"
	envRedisURL        = "REDIS_URL"
	envStore           = "FLOWLINE_STORE"
	envBadgerDir       = "FLOWLINE_BADGER_DIR"
	envEngineConfig    = "FLOWLINE_CONFIG"
	envHTTPAddr        = "FLOWLINE_HTTP_ADDR"
	envGRPCAddr        = "FLOWLINE_GRPC_ADDR"
	envMetricsAddr     = "FLOWLINE_METRICS_ADDR"
	envSMTPHost        = "SMTP_HOST"
	envSMTPPort        = "SMTP_PORT"
	envSMTPUser        = "SMTP_USERNAME"
	envSMTPPassword    = "SMTP_PASSWORD"
	envSMTPFrom        = "SMTP_FROM"
	envSESRegion       = "SES_REGION"
	envSESFrom         = "SES_FROM"
	envSlackWebhookURL = "SLACK_WEBHOOK_URL"
)

// Trace store backings selectable with FLOWLINE_STORE.
const (
	StoreRedis  = "redis"
	StoreMemory = "memory"
	StoreBadger = "badger"
)

// SMTP addresses the relay used by email nodes with service "smtp".
type SMTP struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SES enables the "ses" email service when From is set.
type SES struct {
	Region string
	From   string
}

// Config holds runtime configuration for the engine daemon.
type Config struct {
	NatsURL          string
	NatsEnabled      bool
	RedisURL         string
	Store            string
	BadgerDir        string
	EngineConfigPath string
	HTTPAddr         string
	GRPCAddr         string
	MetricsAddr      string
	SMTP             SMTP
	SES              SES
	SlackWebhookURL  string
}

// Load returns configuration using environment variables with sane defaults.
func Load() *Config {
	store := strings.ToLower(envOr(envStore, defaultStore))
	switch store {
	case StoreRedis, StoreMemory, StoreBadger:
	default:
		store = defaultStore
	}
	return &Config{
		NatsURL:          envOr(envNATSURL, defaultNATSURL),
		NatsEnabled:      envBool(envNATSEnabled, true),
		RedisURL:         envOr(envRedisURL, defaultRedisURL),
		Store:            store,
		BadgerDir:        envOr(envBadgerDir, defaultBadgerDir),
		EngineConfigPath: os.Getenv(envEngineConfig),
		HTTPAddr:         envOr(envHTTPAddr, defaultHTTPAddr),
		GRPCAddr:         envOr(envGRPCAddr, defaultGRPCAddr),
		MetricsAddr:      envOr(envMetricsAddr, defaultMetricsAddr),
		SMTP: SMTP{
			Host:     os.Getenv(envSMTPHost),
			Port:     envInt(envSMTPPort, defaultSMTPPort),
			Username: os.Getenv(envSMTPUser),
			Password: os.Getenv(envSMTPPassword),
			From:     os.Getenv(envSMTPFrom),
		},
		SES: SES{
			Region: os.Getenv(envSESRegion),
			From:   os.Getenv(envSESFrom),
		},
		SlackWebhookURL: os.Getenv(envSlackWebhookURL),
	}
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return def
	}
	return v
}

func envInt(key string, def int) int {
	v, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil || v <= 0 {
		return def
	}
	return v
}
