package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFromFile_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dianping.yaml")
	data := []byte(`
redis:
  addr: redis:6379
cache:
  null_ttl: 30s
  max_retries: 5
consumer:
  workers: 3
  claim_idle: 90s
`)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if cfg.Redis.Addr != "redis:6379" {
		t.Fatalf("expected redis addr override, got %q", cfg.Redis.Addr)
	}
	if cfg.Cache.NullTTL != 30*time.Second {
		t.Fatalf("expected null ttl 30s, got %v", cfg.Cache.NullTTL)
	}
	if cfg.Cache.MaxRetries != 5 {
		t.Fatalf("expected 5 retries, got %d", cfg.Cache.MaxRetries)
	}
	if cfg.Consumer.Workers != 3 {
		t.Fatalf("expected 3 workers, got %d", cfg.Consumer.Workers)
	}
	if cfg.Consumer.ClaimIdle != 90*time.Second {
		t.Fatalf("expected claim idle 90s, got %v", cfg.Consumer.ClaimIdle)
	}
	if cfg.Cache.Backend != "redis" {
		t.Fatalf("expected default redis backend, got %q", cfg.Cache.Backend)
	}
	// untouched sections keep defaults
	if cfg.Seckill.Stream != "stream.orders" {
		t.Fatalf("expected default stream, got %q", cfg.Seckill.Stream)
	}
}

func TestLoadFromFile_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dianping.json")
	if err := os.WriteFile(path, []byte(`{"seckill":{"group":"orders"}}`), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if cfg.Seckill.Group != "orders" {
		t.Fatalf("expected group override, got %q", cfg.Seckill.Group)
	}
	if cfg.Cache.ShopTTL != 30*time.Minute {
		t.Fatalf("expected default shop ttl, got %v", cfg.Cache.ShopTTL)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("DIANPING_REDIS_ADDR", "10.0.0.1:6379")
	t.Setenv("DIANPING_CONSUMER_WORKERS", "4")
	t.Setenv("DIANPING_LOG_LEVEL", "debug")
	t.Setenv("DIANPING_CACHE_BACKEND", "memory")

	cfg := DefaultConfig()
	LoadFromEnv(cfg)

	if cfg.Redis.Addr != "10.0.0.1:6379" {
		t.Fatalf("unexpected redis addr %q", cfg.Redis.Addr)
	}
	if cfg.Consumer.Workers != 4 {
		t.Fatalf("unexpected workers %d", cfg.Consumer.Workers)
	}
	if cfg.Observability.Logging.Level != "debug" {
		t.Fatalf("unexpected log level %q", cfg.Observability.Logging.Level)
	}
	if cfg.Cache.Backend != "memory" {
		t.Fatalf("unexpected cache backend %q", cfg.Cache.Backend)
	}
}

func TestDefaultConfig_NullTTLShorterThanEntityTTL(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Cache.NullTTL >= cfg.Cache.ShopTTL {
		t.Fatalf("tombstone ttl %v must be shorter than entity ttl %v", cfg.Cache.NullTTL, cfg.Cache.ShopTTL)
	}
}
