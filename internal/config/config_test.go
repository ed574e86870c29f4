package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load default failed: %v", err)
	}

	if cfg.DataDir != "./data" {
		t.Fatalf("expected default data_dir, got %q", cfg.DataDir)
	}
	if cfg.RegistryPath != "./repositories.json" {
		t.Fatalf("expected default registry_path, got %q", cfg.RegistryPath)
	}
	if cfg.Matcher.Binary != "ast-grep" {
		t.Fatalf("expected default matcher binary, got %q", cfg.Matcher.Binary)
	}
	if cfg.Matcher.Timeout != 2*time.Minute {
		t.Fatalf("expected default matcher timeout 2m, got %s", cfg.Matcher.Timeout)
	}
	if cfg.APIAuth.TokenHeader != "X-API-Token" {
		t.Fatalf("expected default token header, got %q", cfg.APIAuth.TokenHeader)
	}
	if cfg.API.RateLimitPerMinute != 60 {
		t.Fatalf("expected default rate limit 60, got %d", cfg.API.RateLimitPerMinute)
	}
	if len(cfg.Report.Formats) != 2 {
		t.Fatalf("expected default report formats json+markdown, got %v", cfg.Report.Formats)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load missing file: %v", err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Fatalf("expected default listen addr, got %q", cfg.ListenAddr)
	}
}

func TestLoadValidation(t *testing.T) {
	t.Run("matcher_timeout_too_small", func(t *testing.T) {
		path := writeTempConfig(t, "matcher:\n  timeout: 200ms\n")
		if _, err := Load(path); err == nil {
			t.Fatalf("expected error for small matcher timeout")
		}
	})

	t.Run("unknown_report_format", func(t *testing.T) {
		path := writeTempConfig(t, "report:\n  formats: [json, pdf]\n")
		if _, err := Load(path); err == nil {
			t.Fatalf("expected error for format with no renderer")
		}
	})

	t.Run("external_renderer_allows_format", func(t *testing.T) {
		path := writeTempConfig(t, "report:\n  formats: [html]\n  renderers:\n    html: render-html\n")
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("load config: %v", err)
		}
		if cfg.Report.Renderers["html"] != "render-html" {
			t.Fatalf("expected html renderer command, got %v", cfg.Report.Renderers)
		}
	})

	t.Run("full_config", func(t *testing.T) {
		path := writeTempConfig(t, `
data_dir: /var/lib/clonehound
listen_addr: ":9090"
registry_path: /etc/clonehound/repositories.json
watch_registry: true
run_on_startup: true
matcher:
  binary: /usr/local/bin/ast-grep
  rules_dir: /etc/clonehound/rules
  timeout: 90s
redis:
  addr: localhost:6379
  db: 2
nats:
  url: nats://localhost:4222
api_auth:
  token: sekrit
`)
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("load config: %v", err)
		}
		if cfg.DataDir != "/var/lib/clonehound" {
			t.Fatalf("data_dir not loaded: %q", cfg.DataDir)
		}
		if !cfg.WatchRegistry || !cfg.RunOnStartup {
			t.Fatalf("expected watch_registry and run_on_startup true")
		}
		if cfg.Matcher.Timeout != 90*time.Second {
			t.Fatalf("matcher timeout not loaded: %s", cfg.Matcher.Timeout)
		}
		if cfg.Redis.DB != 2 {
			t.Fatalf("redis db not loaded: %d", cfg.Redis.DB)
		}
		if cfg.NATS.URL != "nats://localhost:4222" {
			t.Fatalf("nats url not loaded: %q", cfg.NATS.URL)
		}
		if cfg.APIAuth.Token != "sekrit" {
			t.Fatalf("api token not loaded")
		}
	})
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("RUN_ON_STARTUP", "true")
	t.Setenv("REDIS_ADDR", "redis.internal:6380")
	t.Setenv("API_TOKEN", "from-env")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.RunOnStartup {
		t.Fatalf("expected RUN_ON_STARTUP to enable run_on_startup")
	}
	if cfg.Redis.Addr != "redis.internal:6380" {
		t.Fatalf("expected REDIS_ADDR override, got %q", cfg.Redis.Addr)
	}
	if cfg.APIAuth.Token != "from-env" {
		t.Fatalf("expected API_TOKEN override, got %q", cfg.APIAuth.Token)
	}
}

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}
