package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/clonehoundhq/clonehound/internal/config"
	"github.com/clonehoundhq/clonehound/internal/model"
	"github.com/clonehoundhq/clonehound/internal/registry"
)

const mainTestDoc = `{
  "scanConfig": {"enabled": true, "schedule": "0 2 * * *"},
  "cacheConfig": {"enabled": true, "ttlSeconds": 600},
  "repositories": [
    {"name": "billing", "path": "/srv/repos/billing", "priority": "high", "scanFrequency": "daily", "enabled": true},
    {"name": "checkout", "path": "/srv/repos/checkout", "priority": "medium", "scanFrequency": "daily", "enabled": true}
  ],
  "repositoryGroups": [
    {"name": "platform", "repositories": ["billing", "checkout"], "scanType": "inter", "enabled": true}
  ]
}`

func loadTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	path := filepath.Join(t.TempDir(), "repositories.json")
	if err := os.WriteFile(path, []byte(mainTestDoc), 0o644); err != nil {
		t.Fatalf("write registry: %v", err)
	}
	reg := registry.New(path, nil)
	if err := reg.Load(); err != nil {
		t.Fatalf("load registry: %v", err)
	}
	return reg
}

func TestResolveScanTarget(t *testing.T) {
	reg := loadTestRegistry(t)

	t.Run("registered repository", func(t *testing.T) {
		target, err := resolveScanTarget(reg, "billing")
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if target.kind != model.ScanKindIntra || target.repo.Path != "/srv/repos/billing" {
			t.Fatalf("unexpected target: %+v", target)
		}
	})

	t.Run("registered group", func(t *testing.T) {
		target, err := resolveScanTarget(reg, "platform")
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if target.kind != model.ScanKindInter || target.group.Name != "platform" {
			t.Fatalf("unexpected target: %+v", target)
		}
	})

	t.Run("directory path scans ad hoc", func(t *testing.T) {
		dir := t.TempDir()
		target, err := resolveScanTarget(reg, dir)
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if target.kind != model.ScanKindIntra {
			t.Fatalf("expected intra kind, got %q", target.kind)
		}
		if target.repo.Name != filepath.Base(dir) || target.repo.Path != dir {
			t.Fatalf("unexpected repo: %+v", target.repo)
		}
	})

	t.Run("unknown name fails", func(t *testing.T) {
		if _, err := resolveScanTarget(reg, "nope"); err == nil {
			t.Fatal("expected error for unknown target")
		}
	})

	t.Run("plain file fails", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "main.ts")
		if err := os.WriteFile(file, []byte("export {}\n"), 0o644); err != nil {
			t.Fatalf("write file: %v", err)
		}
		if _, err := resolveScanTarget(reg, file); err == nil {
			t.Fatal("expected error for non-directory path")
		}
	})
}

func TestOpenCache(t *testing.T) {
	reg := loadTestRegistry(t)

	t.Run("memory store without redis", func(t *testing.T) {
		c, err := openCache(&config.Config{}, reg)
		if err != nil {
			t.Fatalf("openCache: %v", err)
		}
		if c == nil {
			t.Fatal("expected a cache")
		}
	})

	t.Run("redis store when configured", func(t *testing.T) {
		mr, err := miniredis.Run()
		if err != nil {
			t.Fatalf("miniredis: %v", err)
		}
		defer mr.Close()

		cfg := &config.Config{Redis: config.RedisConfig{Addr: mr.Addr()}}
		c, err := openCache(cfg, reg)
		if err != nil {
			t.Fatalf("openCache: %v", err)
		}
		if c == nil {
			t.Fatal("expected a cache")
		}
	})
}
