package scan

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/clonehoundhq/clonehound/internal/cache"
	"github.com/clonehoundhq/clonehound/internal/events"
	"github.com/clonehoundhq/clonehound/internal/gittrack"
	"github.com/clonehoundhq/clonehound/internal/model"
	"github.com/clonehoundhq/clonehound/internal/pattern"
	"github.com/clonehoundhq/clonehound/internal/registry"
)

const dupSnippet = `function formatDate(value) {
  const d = new Date(value);
  return d.toISOString().slice(0, 10);
}`

// duplicateMatches yields the same snippet in two files, which the engine
// groups as one exact duplicate pair.
func duplicateMatches() []pattern.Match {
	return []pattern.Match{
		{RuleID: "string-manipulation", FilePath: "src/a.ts", LineStart: 10, LineEnd: 13, MatchedText: dupSnippet},
		{RuleID: "string-manipulation", FilePath: "src/b.ts", LineStart: 22, LineEnd: 25, MatchedText: dupSnippet},
	}
}

type fakeMatcher struct {
	mu      sync.Mutex
	calls   []string
	results map[string]*pattern.Result
	err     error
	onScan  func(repoPath string)
}

func (f *fakeMatcher) Scan(_ context.Context, repoPath string) (*pattern.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, repoPath)
	f.mu.Unlock()
	if f.onScan != nil {
		f.onScan(repoPath)
	}
	if f.err != nil {
		return nil, f.err
	}
	if r, ok := f.results[repoPath]; ok {
		return r, nil
	}
	return &pattern.Result{}, nil
}

func (f *fakeMatcher) scanned() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeGit struct {
	mu        sync.Mutex
	commits   map[string]string
	dirty     map[string]bool
	headCalls int
}

func (g *fakeGit) HeadCommit(_ context.Context, repoPath string) (string, error) {
	g.mu.Lock()
	g.headCalls++
	g.mu.Unlock()
	if c, ok := g.commits[repoPath]; ok {
		return c, nil
	}
	return "", fmt.Errorf("head of %s: %w", repoPath, gittrack.ErrNotAGitRepository)
}

func (g *fakeGit) HasUncommittedChanges(_ context.Context, repoPath string) (bool, error) {
	return g.dirty[repoPath], nil
}

type stageRecord struct {
	stage   string
	percent int
}

type progressLog struct {
	mu     sync.Mutex
	stages []stageRecord
}

func (p *progressLog) report(stage string, percent int, _ string) {
	p.mu.Lock()
	p.stages = append(p.stages, stageRecord{stage, percent})
	p.mu.Unlock()
}

func registryDoc(repoPath string, trackGit, trackDirty bool) string {
	return fmt.Sprintf(`{
  "scanConfig": {"enabled": true, "schedule": "0 2 * * *", "maxRepositoriesPerNight": 10, "maxConcurrentScans": 2, "scanTimeout": 60, "retryAttempts": 1, "retryDelayMs": 10},
  "cacheConfig": {"enabled": true, "ttlSeconds": 3600, "invalidateOnChange": true, "trackGitCommits": %t, "trackUncommittedChanges": %t},
  "repositories": [
    {"name": "billing", "path": %q, "priority": "high", "scanFrequency": "daily", "enabled": true}
  ]
}`, trackGit, trackDirty, repoPath)
}

type fixture struct {
	orc   *Orchestrator
	reg   *registry.Registry
	git   *fakeGit
	match *fakeMatcher
	cache *cache.Cache
	bus   *events.Bus
	sub   *events.Subscription
	repo  registry.Repository
}

func newFixture(t *testing.T, doc string, repoName string) *fixture {
	t.Helper()
	regPath := filepath.Join(t.TempDir(), "repositories.json")
	if err := os.WriteFile(regPath, []byte(doc), 0o644); err != nil {
		t.Fatalf("write registry: %v", err)
	}
	reg := registry.New(regPath, nil)
	if err := reg.Load(); err != nil {
		t.Fatalf("load registry: %v", err)
	}

	git := &fakeGit{commits: map[string]string{}, dirty: map[string]bool{}}
	match := &fakeMatcher{results: map[string]*pattern.Result{}}
	bus := events.NewBus()
	t.Cleanup(bus.Close)
	sub := bus.Subscribe(256, nil)

	c := cache.New(cache.NewMemoryStore(), time.Hour, true)
	orc := New(Deps{
		Registry: reg,
		Git:      git,
		Cache:    c,
		Matcher:  match,
		Bus:      bus,
	})

	f := &fixture{orc: orc, reg: reg, git: git, match: match, cache: c, bus: bus, sub: sub}
	if repoName != "" {
		repo, ok := reg.GetByName(repoName)
		if !ok {
			t.Fatalf("repository %s missing from fixture registry", repoName)
		}
		f.repo = repo
	}
	return f
}

// drainTopics collects the topics of every event already published.
func (f *fixture) drainTopics() []string {
	var topics []string
	for {
		select {
		case e := <-f.sub.Events():
			topics = append(topics, e.Topic)
		default:
			return topics
		}
	}
}

func containsTopic(topics []string, want string) bool {
	for _, tp := range topics {
		if tp == want {
			return true
		}
	}
	return false
}

func TestScanRepositoryPipeline(t *testing.T) {
	repoPath := t.TempDir()
	f := newFixture(t, registryDoc(repoPath, true, true), "billing")
	f.git.commits[f.repo.Path] = "c0ffee0123456789"
	f.match.results[f.repo.Path] = &pattern.Result{Matches: duplicateMatches()}

	var progress progressLog
	result, err := f.orc.ScanRepository(context.Background(), f.repo, progress.report)
	if err != nil {
		t.Fatalf("ScanRepository: %v", err)
	}

	if !strings.HasPrefix(result.ScanID, "scan-") {
		t.Errorf("scan id = %q", result.ScanID)
	}
	if result.Kind != model.ScanKindIntra {
		t.Errorf("kind = %s, want intra", result.Kind)
	}
	if result.CommitHash != "c0ffee0123456789" {
		t.Errorf("commit = %q", result.CommitHash)
	}
	if result.FromCache {
		t.Error("fresh scan must not be marked from cache")
	}
	if len(result.Blocks) != 2 {
		t.Fatalf("blocks = %d, want 2", len(result.Blocks))
	}
	if len(result.Groups) != 1 {
		t.Fatalf("groups = %d, want 1 (%+v)", len(result.Groups), result.Groups)
	}
	g := result.Groups[0]
	if g.SimilarityMethod != model.MethodExact || g.OccurrenceCount != 2 {
		t.Errorf("group = %+v", g)
	}
	if len(result.Suggestions) != 1 {
		t.Fatalf("suggestions = %d, want 1", len(result.Suggestions))
	}
	if result.Suggestions[0].Strategy != model.StrategyLocalUtil {
		t.Errorf("strategy = %s, want local_util", result.Suggestions[0].Strategy)
	}

	m := result.Metrics
	if m.TotalCodeBlocks != 2 || m.TotalDuplicateGroups != 1 || m.ExactDuplicates != 1 {
		t.Errorf("metrics = %+v", m)
	}
	if m.TotalDuplicatedLines != 8 || m.DuplicationPercentage != 100 {
		t.Errorf("duplication metrics = %+v", m)
	}
	if m.PotentialLOCReduction != 4 {
		t.Errorf("loc reduction = %d, want 4", m.PotentialLOCReduction)
	}
	if result.ExecutiveSummary == "" {
		t.Error("executive summary missing")
	}

	wantStages := []stageRecord{{"scanning", 10}, {"extracting", 40}, {"analyzing", 70}, {"suggesting", 90}}
	if len(progress.stages) != len(wantStages) {
		t.Fatalf("stages = %+v", progress.stages)
	}
	for i, want := range wantStages {
		if progress.stages[i] != want {
			t.Errorf("stage[%d] = %+v, want %+v", i, progress.stages[i], want)
		}
	}

	if _, hit, err := f.cache.Get(context.Background(), f.repo.Path, "c0ffee0123456789"); err != nil || !hit {
		t.Errorf("result not cached: hit=%t err=%v", hit, err)
	}

	repo, _ := f.reg.GetByName("billing")
	if repo.LastScannedAt == nil {
		t.Error("lastScannedAt not updated")
	}
	if len(repo.ScanHistory) != 1 || repo.ScanHistory[0].Groups != 1 || repo.ScanHistory[0].FromCache {
		t.Errorf("history = %+v", repo.ScanHistory)
	}

	topics := f.drainTopics()
	if !containsTopic(topics, events.TopicCacheMiss) {
		t.Errorf("no cache:miss in %v", topics)
	}
	if !containsTopic(topics, events.TopicScanDuplicate) {
		t.Errorf("no scan:duplicate in %v", topics)
	}
	if len(topics) == 0 || topics[len(topics)-1] != events.TopicScanCompleted {
		t.Errorf("scan:completed must be last, got %v", topics)
	}
}

func TestScanRepositoryCacheHit(t *testing.T) {
	repoPath := t.TempDir()
	f := newFixture(t, registryDoc(repoPath, true, true), "billing")
	f.git.commits[f.repo.Path] = "feedface"

	seeded := &model.ScanResult{
		ScanID:       "scan-seeded",
		Kind:         model.ScanKindIntra,
		Repositories: []string{"billing"},
		CommitHash:   "feedface",
		Metrics:      model.ScanMetrics{TotalDuplicateGroups: 3, TotalSuggestions: 2},
	}
	if err := f.cache.Put(context.Background(), f.repo.Path, "feedface", seeded); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	result, err := f.orc.ScanRepository(context.Background(), f.repo, nil)
	if err != nil {
		t.Fatalf("ScanRepository: %v", err)
	}
	if !result.FromCache {
		t.Error("result must be marked from cache")
	}
	if result.ScanID != "scan-seeded" {
		t.Errorf("scan id = %q, want the cached scan", result.ScanID)
	}
	if got := f.match.scanned(); len(got) != 0 {
		t.Errorf("matcher ran on a cache hit: %v", got)
	}

	repo, _ := f.reg.GetByName("billing")
	if len(repo.ScanHistory) != 1 || !repo.ScanHistory[0].FromCache || repo.ScanHistory[0].Groups != 3 {
		t.Errorf("history = %+v", repo.ScanHistory)
	}

	topics := f.drainTopics()
	if !containsTopic(topics, events.TopicCacheHit) {
		t.Errorf("no cache:hit in %v", topics)
	}
	if !containsTopic(topics, events.TopicScanCompleted) {
		t.Errorf("no scan:completed in %v", topics)
	}
}

func TestScanSkipsCacheWhenCommitTrackingDisabled(t *testing.T) {
	repoPath := t.TempDir()
	f := newFixture(t, registryDoc(repoPath, false, false), "billing")
	f.git.commits[f.repo.Path] = "feedface"
	f.match.results[f.repo.Path] = &pattern.Result{Matches: duplicateMatches()}

	result, err := f.orc.ScanRepository(context.Background(), f.repo, nil)
	if err != nil {
		t.Fatalf("ScanRepository: %v", err)
	}
	if result.CommitHash != "" {
		t.Errorf("commit = %q, want empty with tracking disabled", result.CommitHash)
	}
	if f.git.headCalls != 0 {
		t.Errorf("git consulted %d times with tracking disabled", f.git.headCalls)
	}
	if _, hit, _ := f.cache.Get(context.Background(), f.repo.Path, "feedface"); hit {
		t.Error("nothing should be cached without a commit")
	}
}

func TestScanNotAGitRepositoryDegrades(t *testing.T) {
	repoPath := t.TempDir()
	f := newFixture(t, registryDoc(repoPath, true, true), "billing")
	// fakeGit has no commit for the path and returns ErrNotAGitRepository.
	f.match.results[f.repo.Path] = &pattern.Result{Matches: duplicateMatches()}

	result, err := f.orc.ScanRepository(context.Background(), f.repo, nil)
	if err != nil {
		t.Fatalf("ScanRepository: %v", err)
	}
	if result.CommitHash != "" || result.FromCache {
		t.Errorf("non-git scan: %+v", result)
	}
	if len(result.Groups) != 1 {
		t.Errorf("pipeline did not run: %d groups", len(result.Groups))
	}
}

func TestDirtyWorktreeBypassesCache(t *testing.T) {
	repoPath := t.TempDir()
	f := newFixture(t, registryDoc(repoPath, true, true), "billing")
	f.git.commits[f.repo.Path] = "feedface"
	f.git.dirty[f.repo.Path] = true
	f.match.results[f.repo.Path] = &pattern.Result{Matches: duplicateMatches()}

	seeded := &model.ScanResult{ScanID: "scan-stale", CommitHash: "feedface"}
	if err := f.cache.Put(context.Background(), f.repo.Path, "feedface", seeded); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	result, err := f.orc.ScanRepository(context.Background(), f.repo, nil)
	if err != nil {
		t.Fatalf("ScanRepository: %v", err)
	}
	if result.FromCache || result.ScanID == "scan-stale" {
		t.Errorf("dirty worktree must not serve the cache: %+v", result)
	}
	if len(f.match.scanned()) != 1 {
		t.Errorf("matcher calls = %v", f.match.scanned())
	}

	// The stale entry stays; the dirty result must not replace it.
	cached, hit, err := f.cache.Get(context.Background(), f.repo.Path, "feedface")
	if err != nil || !hit {
		t.Fatalf("seeded entry gone: hit=%t err=%v", hit, err)
	}
	if cached.ScanID != "scan-stale" {
		t.Errorf("cache overwritten by dirty scan: %s", cached.ScanID)
	}
}

func TestScanFailsOnMissingPath(t *testing.T) {
	f := newFixture(t, registryDoc(t.TempDir(), true, true), "billing")

	ghost := registry.Repository{Name: "ghost", Path: filepath.Join(t.TempDir(), "nope")}
	_, err := f.orc.ScanRepository(context.Background(), ghost, nil)
	if err == nil {
		t.Fatal("expected error for missing path")
	}
	var rerr *RepositoryError
	if !errors.As(err, &rerr) {
		t.Fatalf("error type = %T", err)
	}
	if !rerr.Permanent() {
		t.Error("missing path must be permanent")
	}
	if topics := f.drainTopics(); !containsTopic(topics, events.TopicScanFailed) {
		t.Errorf("no scan:failed in %v", topics)
	}
}

func TestMatcherErrorFailsScan(t *testing.T) {
	repoPath := t.TempDir()
	f := newFixture(t, registryDoc(repoPath, false, false), "billing")
	f.match.err = errors.New("matcher exploded")

	_, err := f.orc.ScanRepository(context.Background(), f.repo, nil)
	if err == nil || !strings.Contains(err.Error(), "matcher exploded") {
		t.Fatalf("err = %v", err)
	}

	repo, _ := f.reg.GetByName("billing")
	if repo.LastScannedAt != nil || len(repo.ScanHistory) != 0 {
		t.Errorf("failed scan must not touch the registry: %+v", repo)
	}
	if topics := f.drainTopics(); !containsTopic(topics, events.TopicScanFailed) {
		t.Errorf("no scan:failed in %v", topics)
	}
}

func TestCancelBetweenStagesWritesNothing(t *testing.T) {
	repoPath := t.TempDir()
	f := newFixture(t, registryDoc(repoPath, true, true), "billing")
	f.git.commits[f.repo.Path] = "feedface"
	f.match.results[f.repo.Path] = &pattern.Result{Matches: duplicateMatches()}

	ctx, cancel := context.WithCancel(context.Background())
	f.match.onScan = func(string) { cancel() }

	_, err := f.orc.ScanRepository(ctx, f.repo, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}

	if _, hit, _ := f.cache.Get(context.Background(), f.repo.Path, "feedface"); hit {
		t.Error("canceled scan must not write the cache")
	}
	repo, _ := f.reg.GetByName("billing")
	if repo.LastScannedAt != nil || len(repo.ScanHistory) != 0 {
		t.Errorf("canceled scan must not touch the registry: %+v", repo)
	}
}

func TestRecordFailureAppendsHistory(t *testing.T) {
	f := newFixture(t, registryDoc(t.TempDir(), true, true), "billing")

	f.orc.RecordFailure("billing", "pattern scan: boom")

	repo, _ := f.reg.GetByName("billing")
	if len(repo.ScanHistory) != 1 {
		t.Fatalf("history = %+v", repo.ScanHistory)
	}
	entry := repo.ScanHistory[0]
	if !entry.Failed || entry.Error != "pattern scan: boom" {
		t.Errorf("entry = %+v", entry)
	}
	if repo.LastScannedAt != nil {
		t.Error("failure must not bump lastScannedAt")
	}
}

func TestExcludePatternsDropMatches(t *testing.T) {
	repoPath := t.TempDir()
	doc := fmt.Sprintf(`{
  "scanConfig": {"enabled": true, "schedule": "0 2 * * *", "maxRepositoriesPerNight": 10, "maxConcurrentScans": 2, "scanTimeout": 60, "retryAttempts": 1, "retryDelayMs": 10},
  "cacheConfig": {"enabled": false, "ttlSeconds": 3600},
  "repositories": [
    {"name": "billing", "path": %q, "priority": "high", "scanFrequency": "daily", "enabled": true, "excludePatterns": ["vendor/**"]}
  ]
}`, repoPath)
	f := newFixture(t, doc, "billing")

	matches := append(duplicateMatches(),
		pattern.Match{RuleID: "string-manipulation", FilePath: "vendor/util.ts", LineStart: 5, LineEnd: 8, MatchedText: dupSnippet})
	f.match.results[f.repo.Path] = &pattern.Result{Matches: matches}

	result, err := f.orc.ScanRepository(context.Background(), f.repo, nil)
	if err != nil {
		t.Fatalf("ScanRepository: %v", err)
	}

	if result.Metrics.TotalCodeBlocks != 2 {
		t.Fatalf("expected vendored match to be dropped, got %d blocks", result.Metrics.TotalCodeBlocks)
	}
	if len(result.Groups) != 1 || result.Groups[0].OccurrenceCount != 2 {
		t.Fatalf("groups = %+v", result.Groups)
	}
	for _, b := range result.Blocks {
		if strings.HasPrefix(b.RelativePath, "vendor/") {
			t.Fatalf("excluded path leaked into blocks: %s", b.RelativePath)
		}
	}
}
