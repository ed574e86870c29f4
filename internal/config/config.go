package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the daemon-level configuration loaded from config.yaml. It covers
// process concerns only (paths, listeners, backing services); which
// repositories get scanned and on what cadence lives in the registry document.
type Config struct {
	DataDir      string `yaml:"data_dir"`
	ListenAddr   string `yaml:"listen_addr"`
	RegistryPath string `yaml:"registry_path"`
	// WatchRegistry reloads the registry document when it changes on disk.
	WatchRegistry bool `yaml:"watch_registry"`
	// RunOnStartup runs one scheduling pass immediately instead of waiting
	// for the first cron tick.
	RunOnStartup bool `yaml:"run_on_startup"`

	Matcher MatcherConfig `yaml:"matcher"`
	Redis   RedisConfig   `yaml:"redis"`
	NATS    NATSConfig    `yaml:"nats"`
	APIAuth APIAuthConfig `yaml:"api_auth"`
	API     APIConfig     `yaml:"api"`
	Report  ReportConfig  `yaml:"report"`
}

// MatcherConfig points at the external pattern-matcher binary. When the
// binary is absent the scanner degrades to a file walk that yields no
// matches, so everything here is optional. Excludes are daemon-wide glob
// patterns; per-repository patterns live in the registry document.
type MatcherConfig struct {
	Binary   string        `yaml:"binary"`
	RulesDir string        `yaml:"rules_dir"`
	Timeout  time.Duration `yaml:"timeout"`
	Excludes []string      `yaml:"excludes"`
}

// RedisConfig configures the scan-result cache backend. An empty addr means
// the daemon runs with an in-memory cache only.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// NATSConfig configures the optional event bridge. Empty URL disables it.
type NATSConfig struct {
	URL string `yaml:"url"`
}

type APIAuthConfig struct {
	Token       string `yaml:"token"`
	TokenHeader string `yaml:"token_header"`
}

type APIConfig struct {
	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`
	// TrustProxy enables honoring X-Forwarded-For / X-Real-IP without checking
	// the direct peer IP. Prefer leaving this false and relying on
	// private/loopback proxy checks.
	TrustProxy bool `yaml:"trust_proxy"`
}

// ReportConfig selects which report artifacts get written after a scan and
// optional external renderer commands keyed by format name.
type ReportConfig struct {
	Formats   []string          `yaml:"formats"`
	Renderers map[string]string `yaml:"renderers"`
}

const minMatcherTimeout = time.Second

func Load(path string) (*Config, error) {
	cfg := &Config{
		DataDir:      "./data",
		ListenAddr:   ":8080",
		RegistryPath: "./repositories.json",
		Matcher: MatcherConfig{
			Binary:  "ast-grep",
			Timeout: 2 * time.Minute,
		},
	}

	if path == "" {
		return applyDefaults(cfg)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return applyDefaults(cfg)
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return applyDefaults(cfg)
}

func applyDefaults(cfg *Config) (*Config, error) {
	if cfg.DataDir == "" {
		cfg.DataDir = "./data"
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.RegistryPath == "" {
		cfg.RegistryPath = "./repositories.json"
	}
	if cfg.Matcher.Binary == "" {
		cfg.Matcher.Binary = "ast-grep"
	}
	if cfg.Matcher.Timeout == 0 {
		cfg.Matcher.Timeout = 2 * time.Minute
	}
	if cfg.Matcher.Timeout < minMatcherTimeout {
		return nil, fmt.Errorf("matcher.timeout must be at least %s", minMatcherTimeout)
	}
	if cfg.Matcher.Excludes == nil {
		cfg.Matcher.Excludes = []string{
			"**/node_modules/**",
			"**/.git/**",
			"**/dist/**",
			"**/build/**",
		}
	}
	if cfg.APIAuth.TokenHeader == "" {
		cfg.APIAuth.TokenHeader = "X-API-Token"
	}
	if cfg.API.RateLimitPerMinute == 0 {
		cfg.API.RateLimitPerMinute = 60
	}
	if len(cfg.Report.Formats) == 0 {
		cfg.Report.Formats = []string{"json", "markdown"}
	}
	for _, format := range cfg.Report.Formats {
		switch format {
		case "json", "markdown", "summary":
		default:
			if _, ok := cfg.Report.Renderers[format]; !ok {
				return nil, fmt.Errorf("report format %q has no built-in or configured renderer", format)
			}
		}
	}
	applyEnv(cfg)
	return cfg, nil
}

// applyEnv layers the recognized environment variables over the file values.
// Scan-cadence overrides (SCAN_CRON_SCHEDULE, MAX_CONCURRENT_SCANS,
// CACHE_ENABLED, CACHE_TTL) are applied by the registry, which owns those
// settings; only daemon-level variables land here.
func applyEnv(cfg *Config) {
	if v, ok := envBool("RUN_ON_STARTUP"); ok {
		cfg.RunOnStartup = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("API_TOKEN"); v != "" {
		cfg.APIAuth.Token = v
	}
}

func envBool(name string) (bool, bool) {
	raw := os.Getenv(name)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
