// Package scan wires the detection pipeline end to end: commit resolution,
// cache consultation, pattern matching, block extraction, similarity
// analysis, and consolidation suggestions, with stage progress and events
// published along the way.
package scan

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/clonehoundhq/clonehound/internal/blocks"
	"github.com/clonehoundhq/clonehound/internal/cache"
	"github.com/clonehoundhq/clonehound/internal/events"
	"github.com/clonehoundhq/clonehound/internal/gittrack"
	"github.com/clonehoundhq/clonehound/internal/model"
	"github.com/clonehoundhq/clonehound/internal/pattern"
	"github.com/clonehoundhq/clonehound/internal/registry"
	"github.com/clonehoundhq/clonehound/internal/similarity"
	"github.com/clonehoundhq/clonehound/internal/suggest"
	"github.com/google/uuid"
)

// ProgressFunc receives stage updates as the pipeline advances.
type ProgressFunc func(stage string, percent int, message string)

// RepositoryError means the configured path cannot be scanned at all.
// Retrying cannot fix a missing or non-directory path, so the queue treats
// it as permanent.
type RepositoryError struct {
	Name string
	Path string
	Err  error
}

func (e *RepositoryError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("repository %s: %v", e.Name, e.Err)
	}
	return fmt.Sprintf("repository %s at %q: %v", e.Name, e.Path, e.Err)
}

func (e *RepositoryError) Unwrap() error { return e.Err }

func (e *RepositoryError) Permanent() bool { return true }

// CommitTracker resolves git state for a repository path.
type CommitTracker interface {
	HeadCommit(ctx context.Context, repoPath string) (string, error)
	HasUncommittedChanges(ctx context.Context, repoPath string) (bool, error)
}

// MatchSource produces raw pattern matches for a repository.
type MatchSource interface {
	Scan(ctx context.Context, repoPath string) (*pattern.Result, error)
}

// Deps collects the orchestrator's collaborators.
type Deps struct {
	Registry  *registry.Registry
	Git       CommitTracker
	Cache     *cache.Cache
	Matcher   MatchSource
	Extractor *blocks.Extractor
	Engine    *similarity.Engine
	Suggester *suggest.Generator
	Bus       *events.Bus
	Logger    *log.Logger
}

// Orchestrator runs scans. It is safe for concurrent use; every scan carries
// its own id and touches no shared mutable state beyond the registry and
// cache, which serialize internally.
type Orchestrator struct {
	reg     *registry.Registry
	git     CommitTracker
	cache   *cache.Cache
	matcher MatchSource
	extract *blocks.Extractor
	engine  *similarity.Engine
	suggest *suggest.Generator
	bus     *events.Bus
	logger  *log.Logger
}

func New(d Deps) *Orchestrator {
	if d.Git == nil {
		d.Git = gittrack.New()
	}
	if d.Extractor == nil {
		d.Extractor = blocks.New(d.Logger)
	}
	if d.Engine == nil {
		d.Engine = similarity.New(similarity.DefaultConfig())
	}
	if d.Suggester == nil {
		d.Suggester = suggest.New()
	}
	if d.Logger == nil {
		d.Logger = log.Default()
	}
	return &Orchestrator{
		reg:     d.Registry,
		git:     d.Git,
		cache:   d.Cache,
		matcher: d.Matcher,
		extract: d.Extractor,
		engine:  d.Engine,
		suggest: d.Suggester,
		bus:     d.Bus,
		logger:  d.Logger,
	}
}

func newScanID() string {
	return "scan-" + uuid.NewString()
}

// ScanRepository runs the full pipeline for one repository. Cancellation is
// checked between stages; a canceled scan writes nothing to the cache and
// leaves the registry untouched.
func (o *Orchestrator) ScanRepository(ctx context.Context, repo registry.Repository, report ProgressFunc) (*model.ScanResult, error) {
	if report == nil {
		report = func(string, int, string) {}
	}
	started := time.Now()
	scanID := newScanID()

	info, err := os.Stat(repo.Path)
	if err != nil || !info.IsDir() {
		if err == nil {
			err = errors.New("not a directory")
		}
		rerr := &RepositoryError{Name: repo.Name, Path: repo.Path, Err: err}
		o.failScan(scanID, repo.Name, rerr)
		return nil, rerr
	}

	commit, bypassCache := o.resolveCommit(ctx, scanID, repo.Path)

	if cached, ok := o.cachedResult(ctx, scanID, repo, commit, bypassCache); ok {
		o.recordHistory(repo.Name, cached)
		return cached, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	o.stage(scanID, repo.Name, report, "scanning", 10, "matching patterns")
	matched, err := o.matcher.Scan(ctx, repo.Path)
	if err != nil {
		o.failScan(scanID, repo.Name, err)
		return nil, fmt.Errorf("pattern scan of %s: %w", repo.Name, err)
	}
	if matched.Truncated {
		o.logger.Printf("scan %s: matcher output truncated for %s, results may be partial", scanID, repo.Name)
	}
	matches := dropExcluded(matched.Matches, repo.ExcludePatterns)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	o.stage(scanID, repo.Name, report, "extracting", 40, fmt.Sprintf("%d matches", len(matches)))
	found := o.extract.Extract(repo.Path, matches)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	o.stage(scanID, repo.Name, report, "analyzing", 70, fmt.Sprintf("%d blocks", len(found)))
	groups, rejections := o.engine.Group(found)
	o.publishGroupEvents(scanID, repo.Name, groups, rejections)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	o.stage(scanID, repo.Name, report, "suggesting", 90, fmt.Sprintf("%d groups", len(groups)))
	suggestions := o.suggest.Generate(groups)

	result := assemble(scanID, model.ScanKindIntra, started, []string{repo.Name}, commit, found, groups, suggestions)

	if commit != "" && !bypassCache && o.cache != nil {
		if err := o.cache.Put(ctx, repo.Path, commit, result); err != nil {
			o.logger.Printf("scan %s: cache write failed: %v", scanID, err)
		}
	}

	o.publishCompleted(result, repo.Name)
	o.recordHistory(repo.Name, result)
	return result, nil
}

// resolveCommit returns the HEAD commit ("" when unavailable or untracked)
// and whether the cache must be bypassed because of uncommitted changes.
func (o *Orchestrator) resolveCommit(ctx context.Context, scanID, repoPath string) (string, bool) {
	cacheCfg := o.reg.CacheConfig()
	if !cacheCfg.TrackGitCommits {
		return "", false
	}

	commit, err := o.git.HeadCommit(ctx, repoPath)
	switch {
	case errors.Is(err, gittrack.ErrNotAGitRepository):
		o.logger.Printf("scan %s: %s is not a git repository, running uncached", scanID, repoPath)
		return "", false
	case err != nil:
		o.logger.Printf("scan %s: resolve commit: %v, running uncached", scanID, err)
		return "", false
	}

	if cacheCfg.TrackUncommittedChanges {
		dirty, err := o.git.HasUncommittedChanges(ctx, repoPath)
		if err != nil {
			o.logger.Printf("scan %s: worktree status: %v, bypassing cache", scanID, err)
			return commit, true
		}
		if dirty {
			o.logger.Printf("scan %s: worktree has uncommitted changes, bypassing cache", scanID)
			return commit, true
		}
	}
	return commit, false
}

// cachedResult consults the cache and publishes hit/miss events. A cache
// read error is logged and degrades to a miss.
func (o *Orchestrator) cachedResult(ctx context.Context, scanID string, repo registry.Repository, commit string, bypass bool) (*model.ScanResult, bool) {
	if o.cache == nil || commit == "" || bypass {
		return nil, false
	}

	cached, hit, err := o.cache.Get(ctx, repo.Path, commit)
	if err != nil {
		o.logger.Printf("scan %s: cache read failed, treating as miss: %v", scanID, err)
		o.publish(events.Event{Topic: events.TopicCacheMiss, ScanID: scanID, Repository: repo.Name, Message: err.Error()})
		return nil, false
	}
	if !hit {
		o.publish(events.Event{
			Topic:      events.TopicCacheMiss,
			ScanID:     scanID,
			Repository: repo.Name,
			Data:       map[string]any{"commit": commit},
		})
		return nil, false
	}

	o.logger.Printf("scan %s: cache hit for %s at %s, reusing %s", scanID, repo.Name, shortHash(commit), cached.ScanID)
	o.publish(events.Event{
		Topic:      events.TopicCacheHit,
		ScanID:     cached.ScanID,
		Repository: repo.Name,
		Data:       map[string]any{"commit": commit},
	})
	o.publishCompleted(cached, repo.Name)
	return cached, true
}

// dropExcluded applies the repository's exclude globs to the matcher output.
// The matcher knows nothing about registry-level policy, so the filter runs
// here on relative paths.
func dropExcluded(matches []pattern.Match, excludes []string) []pattern.Match {
	if len(excludes) == 0 {
		return matches
	}
	kept := matches[:0]
	for _, m := range matches {
		if excludedPath(m.FilePath, excludes) {
			continue
		}
		kept = append(kept, m)
	}
	return kept
}

func excludedPath(rel string, excludes []string) bool {
	for _, pat := range excludes {
		if ok, err := doublestar.Match(pat, rel); err == nil && ok {
			return true
		}
	}
	return false
}

func (o *Orchestrator) stage(scanID, target string, report ProgressFunc, stage string, percent int, message string) {
	report(stage, percent, message)
	o.publish(events.Event{
		Topic:      events.TopicScanProgress,
		ScanID:     scanID,
		Repository: target,
		Stage:      stage,
		Progress:   percent,
		Message:    message,
	})
}

func (o *Orchestrator) publishGroupEvents(scanID, target string, groups []model.DuplicateGroup, rejections []similarity.Rejection) {
	for _, rej := range rejections {
		o.logger.Printf("scan %s: rejected candidate group (%s)", scanID, rej.Reason)
		o.publish(events.Event{
			Topic:      events.TopicScanProgress,
			ScanID:     scanID,
			Repository: target,
			Stage:      "quality_filter",
			Message:    rej.Reason,
			Data:       map[string]any{"block_ids": rej.BlockIDs, "quality_score": rej.QualityScore},
		})
	}
	for _, g := range groups {
		o.publish(events.Event{
			Topic:      events.TopicScanDuplicate,
			ScanID:     scanID,
			Repository: target,
			Message:    string(g.SimilarityMethod),
			Data: map[string]any{
				"group_id":    g.ID,
				"occurrences": g.OccurrenceCount,
				"similarity":  g.SimilarityScore,
				"category":    string(g.Category),
			},
		})
	}
}

func (o *Orchestrator) publishCompleted(result *model.ScanResult, target string) {
	o.publish(events.Event{
		Topic:      events.TopicScanCompleted,
		ScanID:     result.ScanID,
		Repository: target,
		Data: map[string]any{
			"from_cache":       result.FromCache,
			"duration_seconds": result.DurationSeconds,
			"groups":           result.Metrics.TotalDuplicateGroups,
			"suggestions":      result.Metrics.TotalSuggestions,
		},
	})
}

func (o *Orchestrator) failScan(scanID, target string, err error) {
	o.logger.Printf("scan %s: %s failed: %v", scanID, target, err)
	o.publish(events.Event{
		Topic:      events.TopicScanFailed,
		ScanID:     scanID,
		Repository: target,
		Message:    err.Error(),
	})
}

func (o *Orchestrator) publish(e events.Event) {
	if o.bus != nil {
		o.bus.Publish(e)
	}
}

// recordHistory marks a successful scan on the repository entry. Failures
// here are logged, not fatal: the scan result is already produced.
func (o *Orchestrator) recordHistory(repoName string, result *model.ScanResult) {
	now := time.Now()
	if err := o.reg.UpdateLastScanned(repoName, now); err != nil {
		o.logger.Printf("scan %s: update last scanned: %v", result.ScanID, err)
		return
	}
	entry := registry.HistoryEntry{
		ScanID:      result.ScanID,
		At:          now,
		CommitHash:  result.CommitHash,
		Groups:      result.Metrics.TotalDuplicateGroups,
		Suggestions: result.Metrics.TotalSuggestions,
		FromCache:   result.FromCache,
	}
	if err := o.reg.AppendHistory(repoName, entry); err != nil {
		o.logger.Printf("scan %s: append history: %v", result.ScanID, err)
	}
}

// RecordFailure appends a failed entry to the repository's scan history.
// Called by the job runner once retries are exhausted.
func (o *Orchestrator) RecordFailure(repoName, scanErr string) {
	entry := registry.HistoryEntry{
		At:     time.Now(),
		Failed: true,
		Error:  scanErr,
	}
	if err := o.reg.AppendHistory(repoName, entry); err != nil {
		o.logger.Printf("record scan failure for %s: %v", repoName, err)
	}
}

func assemble(scanID string, kind model.ScanKind, started time.Time, repoNames []string, commit string, found []model.CodeBlock, groups []model.DuplicateGroup, suggestions []model.ConsolidationSuggestion) *model.ScanResult {
	result := &model.ScanResult{
		ScanID:          scanID,
		Kind:            kind,
		StartedAt:       started,
		DurationSeconds: time.Since(started).Seconds(),
		Repositories:    repoNames,
		CommitHash:      commit,
		CodeBlockIDs:    make([]string, len(found)),
		GroupIDs:        make([]string, len(groups)),
		SuggestionIDs:   make([]string, len(suggestions)),
		Blocks:          found,
		Groups:          groups,
		Suggestions:     suggestions,
		Metrics:         computeMetrics(found, groups, suggestions),
	}
	for i, b := range found {
		result.CodeBlockIDs[i] = b.ID
	}
	for i, g := range groups {
		result.GroupIDs[i] = g.ID
	}
	for i, s := range suggestions {
		result.SuggestionIDs[i] = s.ID
	}
	result.ExecutiveSummary = result.GenerateExecutiveSummary()
	return result
}

func computeMetrics(found []model.CodeBlock, groups []model.DuplicateGroup, suggestions []model.ConsolidationSuggestion) model.ScanMetrics {
	m := model.ScanMetrics{
		TotalCodeBlocks:  len(found),
		BlocksByCategory: make(map[string]int),
	}
	totalLines := 0
	for _, b := range found {
		m.BlocksByCategory[string(b.Category)]++
		totalLines += b.LineCount
	}
	for _, g := range groups {
		m.TotalDuplicateGroups++
		if g.SimilarityMethod == model.MethodExact {
			m.ExactDuplicates++
		} else {
			m.StructuralDuplicates++
		}
		m.TotalDuplicatedLines += g.TotalLines
		if len(g.AffectedRepositories) > 1 {
			m.CrossRepositoryGroups++
		}
	}
	for _, s := range suggestions {
		m.TotalSuggestions++
		m.PotentialLOCReduction += s.LOCReduction
		if s.QuickWin {
			m.QuickWins++
		}
	}
	if totalLines > 0 {
		m.DuplicationPercentage = float64(m.TotalDuplicatedLines) / float64(totalLines) * 100
	}
	return m
}

func shortHash(commit string) string {
	if len(commit) > 8 {
		return commit[:8]
	}
	return commit
}
