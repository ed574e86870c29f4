// Package cache stores completed scan results keyed by repository path and
// commit, so an unchanged repository is never re-scanned.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/clonehoundhq/clonehound/internal/model"
)

// DefaultTTL keeps entries for 30 days unless evicted earlier by a commit
// change or explicit invalidation.
const DefaultTTL = 30 * 24 * time.Hour

const (
	scanKeyPrefix = "clonehound:scan:"
	metaKeyPrefix = "clonehound:meta:"
)

// Entry is the stored envelope around a ScanResult.
type Entry struct {
	Key            string           `json:"key"`
	RepositoryPath string           `json:"repository_path"`
	CommitHash     string           `json:"commit_hash"`
	StoredAt       time.Time        `json:"stored_at"`
	TTLSeconds     int64            `json:"ttl_seconds"`
	Result         model.ScanResult `json:"result"`
}

// Meta is the small index record kept per entry for ListRecent.
type Meta struct {
	Key            string    `json:"key"`
	RepositoryPath string    `json:"repository_path"`
	CommitHash     string    `json:"commit_hash"`
	StoredAt       time.Time `json:"stored_at"`
	Groups         int       `json:"groups"`
	Suggestions    int       `json:"suggestions"`
}

// Cache is the scan-result cache. When disabled every lookup misses and every
// write is a no-op, so callers need no special casing.
type Cache struct {
	store   Store
	ttl     time.Duration
	enabled bool
	now     func() time.Time
}

func New(store Store, ttl time.Duration, enabled bool) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{store: store, ttl: ttl, enabled: enabled, now: time.Now}
}

// Key derives the cache key for one repository at one commit. The path is
// canonicalized first so symlinked and relative spellings share entries.
func Key(repoPath, commitHash string) string {
	return scanKeyPrefix + pathHash(repoPath) + ":" + commitHash
}

func pathHash(repoPath string) string {
	canonical := repoPath
	if abs, err := filepath.Abs(repoPath); err == nil {
		canonical = abs
	}
	if resolved, err := filepath.EvalSymlinks(canonical); err == nil {
		canonical = resolved
	}
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached result iff an entry exists for exactly this commit.
func (c *Cache) Get(ctx context.Context, repoPath, commitHash string) (*model.ScanResult, bool, error) {
	if !c.enabled || commitHash == "" {
		return nil, false, nil
	}

	raw, ok, err := c.store.Get(ctx, Key(repoPath, commitHash))
	if err != nil {
		return nil, false, fmt.Errorf("cache get: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, false, fmt.Errorf("decode cache entry: %w", err)
	}
	if entry.CommitHash != commitHash {
		return nil, false, nil
	}

	result := entry.Result
	result.FromCache = true
	return &result, true, nil
}

// Put stores a completed scan result along with its index record. A result
// without a commit hash is not cacheable and is silently skipped.
func (c *Cache) Put(ctx context.Context, repoPath, commitHash string, result *model.ScanResult) error {
	if !c.enabled || commitHash == "" {
		return nil
	}

	key := Key(repoPath, commitHash)
	entry := Entry{
		Key:            key,
		RepositoryPath: repoPath,
		CommitHash:     commitHash,
		StoredAt:       c.now(),
		TTLSeconds:     int64(c.ttl.Seconds()),
		Result:         *result,
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	if err := c.store.Set(ctx, key, raw, c.ttl); err != nil {
		return fmt.Errorf("cache put: %w", err)
	}

	meta := Meta{
		Key:            key,
		RepositoryPath: repoPath,
		CommitHash:     commitHash,
		StoredAt:       entry.StoredAt,
		Groups:         len(result.Groups),
		Suggestions:    len(result.Suggestions),
	}
	rawMeta, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode cache meta: %w", err)
	}
	metaKey := metaKeyPrefix + pathHash(repoPath) + ":" + commitHash
	if err := c.store.Set(ctx, metaKey, rawMeta, c.ttl); err != nil {
		return fmt.Errorf("cache meta put: %w", err)
	}
	return nil
}

// Invalidate drops every cached entry for a repository path, across commits.
func (c *Cache) Invalidate(ctx context.Context, repoPath string) (int, error) {
	hash := pathHash(repoPath)
	removed := 0
	for _, prefix := range []string{scanKeyPrefix + hash + ":", metaKeyPrefix + hash + ":"} {
		keys, err := c.store.KeysByPrefix(ctx, prefix)
		if err != nil {
			return removed, fmt.Errorf("cache invalidate: %w", err)
		}
		if len(keys) == 0 {
			continue
		}
		if err := c.store.Delete(ctx, keys...); err != nil {
			return removed, fmt.Errorf("cache invalidate: %w", err)
		}
		if prefix[:len(scanKeyPrefix)] == scanKeyPrefix {
			removed += len(keys)
		}
	}
	return removed, nil
}

// ListRecent returns up to limit index records, newest first.
func (c *Cache) ListRecent(ctx context.Context, limit int) ([]Meta, error) {
	keys, err := c.store.KeysByPrefix(ctx, metaKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("cache list: %w", err)
	}

	metas := make([]Meta, 0, len(keys))
	for _, k := range keys {
		raw, ok, err := c.store.Get(ctx, k)
		if err != nil || !ok {
			continue
		}
		var m Meta
		if err := json.Unmarshal(raw, &m); err != nil {
			continue
		}
		metas = append(metas, m)
	}

	sort.Slice(metas, func(i, j int) bool { return metas[i].StoredAt.After(metas[j].StoredAt) })
	if limit > 0 && len(metas) > limit {
		metas = metas[:limit]
	}
	return metas, nil
}
