package registry

import (
	"os"
	"strconv"

	"github.com/robfig/cron/v3"
)

// Environment overrides layer on top of the document at read time. The
// stored document is never modified, so persistence writes back exactly what
// the operator configured.

func (sc ScanConfig) withEnvOverrides() ScanConfig {
	if v := os.Getenv("SCAN_CRON_SCHEDULE"); v != "" {
		if _, err := cron.ParseStandard(v); err == nil {
			sc.Schedule = v
		}
	}
	if v, ok := envInt("MAX_CONCURRENT_SCANS"); ok && v > 0 {
		sc.MaxConcurrentScans = v
	}
	return sc
}

func (cc CacheConfig) withEnvOverrides() CacheConfig {
	if v, ok := envBool("CACHE_ENABLED"); ok {
		cc.Enabled = v
	}
	if v, ok := envInt64("CACHE_TTL"); ok && v > 0 {
		cc.TTLSeconds = v
	}
	return cc
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

func envInt(name string) (int, bool) {
	raw := os.Getenv(name)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

func envInt64(name string) (int64, bool) {
	raw := os.Getenv(name)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
