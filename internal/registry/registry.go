// Package registry owns the repository configuration document
// (repositories.json): loading, strict validation, queries, and the two
// mutations the pipeline performs (last-scanned timestamps and scan history).
// Mutations are serialized under one writer; readers always see a complete
// document, never a partially applied one.
package registry

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/clonehoundhq/clonehound/internal/model"
	"github.com/clonehoundhq/clonehound/internal/storage"
	"github.com/robfig/cron/v3"
)

// historyLength is the ring-buffer size of per-repository scan history.
const historyLength = 10

// ConfigError enumerates every offending field found during validation.
type ConfigError struct {
	Fields []string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s", strings.Join(e.Fields, "; "))
}

// HistoryEntry is one completed or failed scan in a repository's history.
type HistoryEntry struct {
	ScanID      string    `json:"scanId"`
	At          time.Time `json:"at"`
	CommitHash  string    `json:"commitHash,omitempty"`
	Groups      int       `json:"groups"`
	Suggestions int       `json:"suggestions"`
	FromCache   bool      `json:"fromCache"`
	Failed      bool      `json:"failed,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// Repository is one registered scan target.
type Repository struct {
	Name            string              `json:"name"`
	Path            string              `json:"path"`
	Priority        model.Priority      `json:"priority"`
	ScanFrequency   model.ScanFrequency `json:"scanFrequency"`
	Enabled         bool                `json:"enabled"`
	Tags            []string            `json:"tags,omitempty"`
	ExcludePatterns []string            `json:"excludePatterns,omitempty"`
	LastScannedAt   *time.Time          `json:"lastScannedAt,omitempty"`
	ScanHistory     []HistoryEntry      `json:"scanHistory,omitempty"`
}

// RepositoryGroup names a set of repositories scanned together.
type RepositoryGroup struct {
	Name         string         `json:"name"`
	Repositories []string       `json:"repositories"`
	ScanType     model.ScanKind `json:"scanType"`
	Enabled      bool           `json:"enabled"`
}

// ScanConfig is the scheduler/queue section of the document.
type ScanConfig struct {
	Enabled                 bool   `json:"enabled"`
	Schedule                string `json:"schedule"`
	MaxRepositoriesPerNight int    `json:"maxRepositoriesPerNight"`
	MaxConcurrentScans      int    `json:"maxConcurrentScans"`
	ScanTimeoutSeconds      int    `json:"scanTimeout"`
	RetryAttempts           int    `json:"retryAttempts"`
	RetryDelayMs            int    `json:"retryDelayMs"`
	WeeklyScanWeekday       int    `json:"weeklyScanWeekday,omitempty"`
	MonthlyScanDay          int    `json:"monthlyScanDay,omitempty"`
}

// CacheConfig is the scan-cache section of the document.
type CacheConfig struct {
	Enabled                 bool  `json:"enabled"`
	TTLSeconds              int64 `json:"ttlSeconds"`
	InvalidateOnChange      bool  `json:"invalidateOnChange"`
	TrackGitCommits         bool  `json:"trackGitCommits"`
	TrackUncommittedChanges bool  `json:"trackUncommittedChanges"`
}

// Document is the full configuration file.
type Document struct {
	ScanConfig       ScanConfig        `json:"scanConfig"`
	CacheConfig      CacheConfig       `json:"cacheConfig"`
	Repositories     []Repository      `json:"repositories"`
	RepositoryGroups []RepositoryGroup `json:"repositoryGroups,omitempty"`
}

var allowedTopLevel = map[string]bool{
	"scanConfig":       true,
	"cacheConfig":      true,
	"repositories":     true,
	"repositoryGroups": true,
}

// Registry holds the active document and serializes mutations.
type Registry struct {
	mu     sync.RWMutex
	path   string
	doc    *Document
	logger *log.Logger
}

func New(path string, logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.Default()
	}
	return &Registry{path: path, logger: logger}
}

// Path returns the backing file path.
func (r *Registry) Path() string {
	return r.path
}

// Load reads, validates, and expands the document, then swaps it in. On any
// error the previously loaded document stays active.
func (r *Registry) Load() error {
	raw, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("read %s: %w", r.path, err)
	}

	doc, err := Parse(raw)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.doc = doc
	r.mu.Unlock()
	r.logger.Printf("registry loaded: %d repositories, %d groups", len(doc.Repositories), len(doc.RepositoryGroups))
	return nil
}

// Parse decodes and validates a configuration document. Unknown top-level
// fields are rejected; paths are expanded; validation gathers every offending
// field before failing.
func Parse(raw []byte) (*Document, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil, fmt.Errorf("parse configuration: %w", err)
	}
	var unknown []string
	for key := range top {
		if !allowedTopLevel[key] {
			unknown = append(unknown, fmt.Sprintf("unknown top-level field %q", key))
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, &ConfigError{Fields: unknown}
	}

	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse configuration: %w", err)
	}

	applyDefaults(&doc)
	expandPaths(&doc)
	if err := Validate(&doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func applyDefaults(doc *Document) {
	sc := &doc.ScanConfig
	if sc.Schedule == "" {
		sc.Schedule = "0 2 * * *"
	}
	if sc.MaxRepositoriesPerNight <= 0 {
		sc.MaxRepositoriesPerNight = 10
	}
	if sc.MaxConcurrentScans <= 0 {
		sc.MaxConcurrentScans = 2
	}
	if sc.ScanTimeoutSeconds <= 0 {
		sc.ScanTimeoutSeconds = 600
	}
	if sc.RetryAttempts <= 0 {
		sc.RetryAttempts = 3
	}
	if sc.RetryDelayMs <= 0 {
		sc.RetryDelayMs = 5000
	}
	if sc.WeeklyScanWeekday < 0 || sc.WeeklyScanWeekday > 6 {
		sc.WeeklyScanWeekday = 1
	}
	if sc.MonthlyScanDay < 1 || sc.MonthlyScanDay > 28 {
		sc.MonthlyScanDay = 1
	}
	if doc.CacheConfig.TTLSeconds <= 0 {
		doc.CacheConfig.TTLSeconds = 30 * 24 * 3600
	}
}

func expandPaths(doc *Document) {
	home, err := os.UserHomeDir()
	for i := range doc.Repositories {
		p := doc.Repositories[i].Path
		if err == nil && strings.HasPrefix(p, "~") {
			p = filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
		doc.Repositories[i].Path = filepath.Clean(p)
	}
}

// Validate checks the whole document and returns a ConfigError listing every
// violation found.
func Validate(doc *Document) error {
	var fields []string

	if _, err := cron.ParseStandard(doc.ScanConfig.Schedule); err != nil {
		fields = append(fields, fmt.Sprintf("scanConfig.schedule: %v", err))
	}

	names := make(map[string]bool, len(doc.Repositories))
	for i := range doc.Repositories {
		repo := &doc.Repositories[i]
		where := fmt.Sprintf("repositories[%d]", i)
		if repo.Name == "" {
			fields = append(fields, where+".name: required")
		} else if names[repo.Name] {
			fields = append(fields, fmt.Sprintf("%s.name: duplicate %q", where, repo.Name))
		}
		names[repo.Name] = true
		if repo.Path == "" {
			fields = append(fields, where+".path: required")
		} else if !filepath.IsAbs(repo.Path) {
			fields = append(fields, fmt.Sprintf("%s.path: must be absolute after expansion, got %q", where, repo.Path))
		}
		if !repo.Priority.Valid() {
			fields = append(fields, fmt.Sprintf("%s.priority: invalid %q", where, repo.Priority))
		}
		if !repo.ScanFrequency.Valid() {
			fields = append(fields, fmt.Sprintf("%s.scanFrequency: invalid %q", where, repo.ScanFrequency))
		}
	}

	for i, group := range doc.RepositoryGroups {
		where := fmt.Sprintf("repositoryGroups[%d]", i)
		if group.Name == "" {
			fields = append(fields, where+".name: required")
		}
		if group.ScanType != model.ScanKindIntra && group.ScanType != model.ScanKindInter {
			fields = append(fields, fmt.Sprintf("%s.scanType: invalid %q", where, group.ScanType))
		}
		if group.ScanType == model.ScanKindInter && len(group.Repositories) < 2 {
			fields = append(fields, where+".repositories: inter-project groups need at least 2 members")
		}
		for _, ref := range group.Repositories {
			if !names[ref] {
				fields = append(fields, fmt.Sprintf("%s.repositories: unknown repository %q", where, ref))
			}
		}
	}

	if len(fields) > 0 {
		return &ConfigError{Fields: fields}
	}
	return nil
}

// snapshot returns the active document pointer; callers must not mutate.
func (r *Registry) snapshot() *Document {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.doc
}

// ScanConfig returns the scheduler/queue configuration.
func (r *Registry) ScanConfig() ScanConfig {
	if doc := r.snapshot(); doc != nil {
		return doc.ScanConfig.withEnvOverrides()
	}
	return ScanConfig{}
}

// CacheConfig returns the cache configuration.
func (r *Registry) CacheConfig() CacheConfig {
	if doc := r.snapshot(); doc != nil {
		return doc.CacheConfig.withEnvOverrides()
	}
	return CacheConfig{}
}

// Repositories returns a copy of all registered repositories.
func (r *Registry) Repositories() []Repository {
	doc := r.snapshot()
	if doc == nil {
		return nil
	}
	out := make([]Repository, len(doc.Repositories))
	copy(out, doc.Repositories)
	return out
}

// Groups returns a copy of all repository groups.
func (r *Registry) Groups() []RepositoryGroup {
	doc := r.snapshot()
	if doc == nil {
		return nil
	}
	out := make([]RepositoryGroup, len(doc.RepositoryGroups))
	copy(out, doc.RepositoryGroups)
	return out
}

// GetByName looks a repository up by its unique name.
func (r *Registry) GetByName(name string) (Repository, bool) {
	for _, repo := range r.Repositories() {
		if repo.Name == name {
			return repo, true
		}
	}
	return Repository{}, false
}

// GetGroup looks a repository group up by name.
func (r *Registry) GetGroup(name string) (RepositoryGroup, bool) {
	for _, g := range r.Groups() {
		if g.Name == name {
			return g, true
		}
	}
	return RepositoryGroup{}, false
}

// GetEnabled returns all enabled repositories.
func (r *Registry) GetEnabled() []Repository {
	return r.filter(func(repo Repository) bool { return repo.Enabled })
}

// GetByPriority returns enabled repositories with the given priority.
func (r *Registry) GetByPriority(p model.Priority) []Repository {
	return r.filter(func(repo Repository) bool { return repo.Enabled && repo.Priority == p })
}

// GetByFrequency returns enabled repositories with the given frequency.
func (r *Registry) GetByFrequency(f model.ScanFrequency) []Repository {
	return r.filter(func(repo Repository) bool { return repo.Enabled && repo.ScanFrequency == f })
}

// GetByTag returns enabled repositories carrying the tag.
func (r *Registry) GetByTag(tag string) []Repository {
	return r.filter(func(repo Repository) bool {
		if !repo.Enabled {
			return false
		}
		for _, t := range repo.Tags {
			if t == tag {
				return true
			}
		}
		return false
	})
}

func (r *Registry) filter(keep func(Repository) bool) []Repository {
	var out []Repository
	for _, repo := range r.Repositories() {
		if keep(repo) {
			out = append(out, repo)
		}
	}
	return out
}

// UpdateLastScanned stamps the repository's last scan time and persists the
// document.
func (r *Registry) UpdateLastScanned(name string, ts time.Time) error {
	return r.mutate(name, func(repo *Repository) {
		t := ts
		repo.LastScannedAt = &t
	})
}

// AppendHistory pushes an entry onto the repository's history ring, trimming
// to the newest ten, and persists the document.
func (r *Registry) AppendHistory(name string, entry HistoryEntry) error {
	return r.mutate(name, func(repo *Repository) {
		repo.ScanHistory = append(repo.ScanHistory, entry)
		if len(repo.ScanHistory) > historyLength {
			repo.ScanHistory = repo.ScanHistory[len(repo.ScanHistory)-historyLength:]
		}
	})
}

func (r *Registry) mutate(name string, apply func(*Repository)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.doc == nil {
		return fmt.Errorf("registry not loaded")
	}

	found := false
	for i := range r.doc.Repositories {
		if r.doc.Repositories[i].Name == name {
			apply(&r.doc.Repositories[i])
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("unknown repository %q", name)
	}
	return r.persistLocked()
}

func (r *Registry) persistLocked() error {
	data, err := json.MarshalIndent(r.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode configuration: %w", err)
	}
	if err := storage.WriteFileAtomic(r.path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", r.path, err)
	}
	return nil
}
