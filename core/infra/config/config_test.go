package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.NatsURL != defaultNATSURL || !cfg.NatsEnabled {
		t.Fatalf("expected default nats settings: %+v", cfg)
	}
	if cfg.RedisURL != defaultRedisURL {
		t.Fatalf("expected default redis url")
	}
	if cfg.Store != StoreRedis || cfg.BadgerDir != defaultBadgerDir {
		t.Fatalf("expected default store settings: %+v", cfg)
	}
	if cfg.HTTPAddr != defaultHTTPAddr || cfg.GRPCAddr != defaultGRPCAddr || cfg.MetricsAddr != defaultMetricsAddr {
		t.Fatalf("expected default listen addresses: %+v", cfg)
	}
	if cfg.EngineConfigPath != "" {
		t.Fatalf("expected no engine config path")
	}
	if cfg.SMTP.Port != defaultSMTPPort || cfg.SMTP.Host != "" {
		t.Fatalf("expected smtp disabled on default port: %+v", cfg.SMTP)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv(envNATSURL, "nats://example:4222")
	t.Setenv(envNATSEnabled, "false")
	t.Setenv(envRedisURL, "redis://example:6379")
	t.Setenv(envStore, "Badger")
	t.Setenv(envBadgerDir, "/var/lib/flowline")
	t.Setenv(envEngineConfig, "config/engine.yaml")
	t.Setenv(envHTTPAddr, ":8080")
	t.Setenv(envSMTPHost, "mail.example.com")
	t.Setenv(envSMTPPort, "2525")
	t.Setenv(envSMTPFrom, "bot@example.com")
	t.Setenv(envSESFrom, "noreply@example.com")
	t.Setenv(envSlackWebhookURL, "https://hooks.slack.example/T0")

	cfg := Load()
	if cfg.NatsURL != "nats://example:4222" || cfg.NatsEnabled {
		t.Fatalf("unexpected nats settings: %+v", cfg)
	}
	if cfg.RedisURL != "redis://example:6379" {
		t.Fatalf("unexpected redis url")
	}
	if cfg.Store != StoreBadger || cfg.BadgerDir != "/var/lib/flowline" {
		t.Fatalf("unexpected store settings: %+v", cfg)
	}
	if cfg.EngineConfigPath != "config/engine.yaml" || cfg.HTTPAddr != ":8080" {
		t.Fatalf("unexpected paths: %+v", cfg)
	}
	if cfg.SMTP.Host != "mail.example.com" || cfg.SMTP.Port != 2525 || cfg.SMTP.From != "bot@example.com" {
		t.Fatalf("unexpected smtp: %+v", cfg.SMTP)
	}
	if cfg.SES.From != "noreply@example.com" || cfg.SlackWebhookURL == "" {
		t.Fatalf("unexpected integrations config: %+v", cfg)
	}
}

func TestLoadRejectsUnknownStore(t *testing.T) {
	t.Setenv(envStore, "postgres")
	t.Setenv(envSMTPPort, "not-a-port")
	cfg := Load()
	if cfg.Store != StoreRedis {
		t.Fatalf("unknown store should fall back to redis, got %s", cfg.Store)
	}
	if cfg.SMTP.Port != defaultSMTPPort {
		t.Fatalf("bad port should fall back to default, got %d", cfg.SMTP.Port)
	}
}
