package scan

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/clonehoundhq/clonehound/internal/events"
	"github.com/clonehoundhq/clonehound/internal/model"
	"github.com/clonehoundhq/clonehound/internal/pattern"
)

// groupDoc registers three repositories and one inter group over all of them.
func groupDoc(pathA, pathB, pathC string, trackGit bool) string {
	return fmt.Sprintf(`{
  "scanConfig": {"enabled": true, "schedule": "0 2 * * *", "maxRepositoriesPerNight": 10, "maxConcurrentScans": 2, "scanTimeout": 60, "retryAttempts": 1, "retryDelayMs": 10},
  "cacheConfig": {"enabled": true, "ttlSeconds": 3600, "invalidateOnChange": true, "trackGitCommits": %t, "trackUncommittedChanges": false},
  "repositories": [
    {"name": "alpha", "path": %q, "priority": "high", "scanFrequency": "daily", "enabled": true},
    {"name": "beta", "path": %q, "priority": "medium", "scanFrequency": "daily", "enabled": true},
    {"name": "gamma", "path": %q, "priority": "low", "scanFrequency": "daily", "enabled": true}
  ],
  "repositoryGroups": [
    {"name": "platform", "repositories": ["alpha", "beta", "gamma"], "scanType": "inter", "enabled": true}
  ]
}`, trackGit, pathA, pathB, pathC)
}

func matchAt(relPath string, text string) []pattern.Match {
	return []pattern.Match{{
		RuleID:      "string-manipulation",
		FilePath:    relPath,
		LineStart:   5,
		LineEnd:     8,
		MatchedText: text,
	}}
}

func TestScanGroupFindsCrossRepositoryDuplicates(t *testing.T) {
	pathA, pathB, pathC := t.TempDir(), t.TempDir(), t.TempDir()
	f := newFixture(t, groupDoc(pathA, pathB, pathC, false), "")

	// alpha and beta share a snippet; gamma only duplicates within itself.
	f.match.results[pathA] = &pattern.Result{Matches: matchAt("src/util.ts", dupSnippet)}
	f.match.results[pathB] = &pattern.Result{Matches: matchAt("lib/util.ts", dupSnippet)}
	local := `function localOnly(x) {
  const y = trim(x);
  return y.toUpperCase().slice(0, 3);
}`
	f.match.results[pathC] = &pattern.Result{Matches: append(matchAt("a.ts", local), matchAt("b.ts", local)...)}

	group, ok := f.reg.GetGroup("platform")
	if !ok {
		t.Fatal("group platform missing")
	}
	var progress progressLog
	result, err := f.orc.ScanGroup(context.Background(), group, progress.report)
	if err != nil {
		t.Fatalf("ScanGroup: %v", err)
	}

	if result.Kind != model.ScanKindInter {
		t.Errorf("kind = %s, want inter", result.Kind)
	}
	if len(result.Repositories) != 3 {
		t.Errorf("repositories = %v", result.Repositories)
	}
	if len(result.Groups) != 1 {
		t.Fatalf("groups = %d, want only the cross-repository one (%+v)", len(result.Groups), result.Groups)
	}
	g := result.Groups[0]
	if len(g.AffectedRepositories) != 2 {
		t.Errorf("affected repositories = %v", g.AffectedRepositories)
	}
	if result.Metrics.CrossRepositoryGroups != 1 {
		t.Errorf("cross-repository metric = %d", result.Metrics.CrossRepositoryGroups)
	}
	if len(result.Suggestions) != 1 {
		t.Fatalf("suggestions = %v", result.Suggestions)
	}
	if result.Suggestions[0].Strategy != model.StrategySharedPackage {
		t.Errorf("strategy = %s, want shared_package for a two-file cross-repository pair", result.Suggestions[0].Strategy)
	}

	// Blocks from all members were collected even though only the
	// cross-repository group survived.
	if result.Metrics.TotalCodeBlocks != 4 {
		t.Errorf("total blocks = %d, want 4", result.Metrics.TotalCodeBlocks)
	}

	var sawCollecting bool
	for _, s := range progress.stages {
		if s.stage == "collecting" {
			sawCollecting = true
		}
	}
	if !sawCollecting {
		t.Errorf("no collecting stage in %+v", progress.stages)
	}
}

func TestScanGroupReusesCachedMemberBlocks(t *testing.T) {
	pathA, pathB, pathC := t.TempDir(), t.TempDir(), t.TempDir()
	f := newFixture(t, groupDoc(pathA, pathB, pathC, true), "")
	f.git.commits[pathA] = "aaaa1111"
	f.git.commits[pathB] = "bbbb2222"
	f.git.commits[pathC] = "cccc3333"
	for _, p := range []string{pathA, pathB, pathC} {
		f.match.results[p] = &pattern.Result{Matches: matchAt("src/util.ts", dupSnippet)}
	}

	// Prime alpha's cache with a real intra scan.
	alpha, _ := f.reg.GetByName("alpha")
	if _, err := f.orc.ScanRepository(context.Background(), alpha, nil); err != nil {
		t.Fatalf("prime alpha: %v", err)
	}
	f.match.mu.Lock()
	f.match.calls = nil
	f.match.mu.Unlock()

	group, _ := f.reg.GetGroup("platform")
	result, err := f.orc.ScanGroup(context.Background(), group, nil)
	if err != nil {
		t.Fatalf("ScanGroup: %v", err)
	}

	for _, called := range f.match.scanned() {
		if called == pathA {
			t.Errorf("alpha re-scanned despite cached blocks: %v", f.match.scanned())
		}
	}
	if len(f.match.scanned()) != 2 {
		t.Errorf("matcher calls = %v, want beta and gamma only", f.match.scanned())
	}

	// All three members share the snippet, so the union groups across
	// repositories, alpha's blocks coming from the cache.
	if len(result.Groups) != 1 || len(result.Groups[0].AffectedRepositories) != 3 {
		t.Fatalf("groups = %+v", result.Groups)
	}
}

func TestScanGroupSkipsFailingMember(t *testing.T) {
	pathA, pathB, pathC := t.TempDir(), t.TempDir(), t.TempDir()
	f := newFixture(t, groupDoc(pathA, pathB, pathC, false), "")
	f.match.results[pathA] = &pattern.Result{Matches: matchAt("src/util.ts", dupSnippet)}
	f.match.results[pathB] = &pattern.Result{Matches: matchAt("lib/util.ts", dupSnippet)}
	// Remove gamma's directory so its stat fails and the member is skipped.
	if err := os.RemoveAll(pathC); err != nil {
		t.Fatalf("remove gamma: %v", err)
	}

	group, _ := f.reg.GetGroup("platform")

	result, err := f.orc.ScanGroup(context.Background(), group, nil)
	if err != nil {
		t.Fatalf("ScanGroup: %v", err)
	}
	if len(result.Repositories) != 2 {
		t.Errorf("repositories = %v, want alpha and beta", result.Repositories)
	}
	if len(result.Groups) != 1 {
		t.Errorf("groups = %+v", result.Groups)
	}
}

func TestScanGroupTooFewMembers(t *testing.T) {
	pathA, pathB, pathC := t.TempDir(), t.TempDir(), t.TempDir()
	f := newFixture(t, groupDoc(pathA, pathB, pathC, false), "")

	if err := os.RemoveAll(pathB); err != nil {
		t.Fatalf("remove beta: %v", err)
	}
	if err := os.RemoveAll(pathC); err != nil {
		t.Fatalf("remove gamma: %v", err)
	}

	group, _ := f.reg.GetGroup("platform")
	_, err := f.orc.ScanGroup(context.Background(), group, nil)
	if !errors.Is(err, ErrTooFewMembers) {
		t.Fatalf("err = %v, want ErrTooFewMembers", err)
	}
	if topics := f.drainTopics(); !containsTopic(topics, events.TopicScanFailed) {
		t.Errorf("no scan:failed in %v", topics)
	}
}

func TestScanGroupCancelPropagates(t *testing.T) {
	pathA, pathB, pathC := t.TempDir(), t.TempDir(), t.TempDir()
	f := newFixture(t, groupDoc(pathA, pathB, pathC, false), "")
	for _, p := range []string{pathA, pathB, pathC} {
		f.match.results[p] = &pattern.Result{Matches: matchAt("src/util.ts", dupSnippet)}
	}

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	f.match.onScan = func(string) {
		calls++
		if calls == 2 {
			cancel()
		}
	}

	group, _ := f.reg.GetGroup("platform")
	_, err := f.orc.ScanGroup(ctx, group, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
