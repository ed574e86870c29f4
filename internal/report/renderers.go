package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/clonehoundhq/clonehound/internal/model"
	"github.com/clonehoundhq/clonehound/internal/storage"
)

// topEntries bounds how many groups and suggestions the markdown report
// lists; the JSON artifact always carries everything.
const topEntries = 20

const execTimeout = 2 * time.Minute

type jsonRenderer struct{}

func (jsonRenderer) Format() string { return "json" }

func (jsonRenderer) Render(_ context.Context, result *model.ScanResult, dir string) (string, error) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode result: %w", err)
	}
	path := filepath.Join(dir, "report.json")
	if err := storage.WriteFileAtomic(path, append(data, '\n'), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

type summaryRenderer struct{}

func (summaryRenderer) Format() string { return "summary" }

func (summaryRenderer) Render(_ context.Context, result *model.ScanResult, dir string) (string, error) {
	path := filepath.Join(dir, "summary.txt")
	if err := storage.WriteFileAtomic(path, []byte(result.ExecutiveSummary+"\n"), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

type markdownRenderer struct{}

func (markdownRenderer) Format() string { return "markdown" }

func (markdownRenderer) Render(_ context.Context, result *model.ScanResult, dir string) (string, error) {
	path := filepath.Join(dir, "report.md")
	if err := storage.WriteFileAtomic(path, renderMarkdown(result), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func renderMarkdown(result *model.ScanResult) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "# Code Duplication Report\n\n")
	fmt.Fprintf(&b, "- **Scan:** `%s` (%s)\n", result.ScanID, result.Kind)
	fmt.Fprintf(&b, "- **Started:** %s\n", result.StartedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "- **Duration:** %.1fs\n", result.DurationSeconds)
	fmt.Fprintf(&b, "- **Repositories:** %s\n", strings.Join(result.Repositories, ", "))
	if result.CommitHash != "" {
		fmt.Fprintf(&b, "- **Commit:** `%s`\n", result.CommitHash)
	}
	if result.FromCache {
		fmt.Fprintf(&b, "- **Source:** cache\n")
	}

	fmt.Fprintf(&b, "\n## Summary\n\n%s\n", result.ExecutiveSummary)

	m := result.Metrics
	fmt.Fprintf(&b, "\n## Metrics\n\n")
	fmt.Fprintf(&b, "| Metric | Value |\n|---|---|\n")
	fmt.Fprintf(&b, "| Code blocks | %d |\n", m.TotalCodeBlocks)
	fmt.Fprintf(&b, "| Duplicate groups | %d |\n", m.TotalDuplicateGroups)
	fmt.Fprintf(&b, "| Exact / structural | %d / %d |\n", m.ExactDuplicates, m.StructuralDuplicates)
	fmt.Fprintf(&b, "| Duplicated lines | %d |\n", m.TotalDuplicatedLines)
	fmt.Fprintf(&b, "| Duplication | %.1f%% (%s) |\n", m.DuplicationPercentage, m.DuplicationSeverity())
	fmt.Fprintf(&b, "| Cross-repository groups | %d |\n", m.CrossRepositoryGroups)
	fmt.Fprintf(&b, "| Suggestions | %d (%d quick wins) |\n", m.TotalSuggestions, m.QuickWins)
	fmt.Fprintf(&b, "| Potential LOC reduction | %d |\n", m.PotentialLOCReduction)

	groups := topGroups(result.Groups)
	if len(groups) > 0 {
		fmt.Fprintf(&b, "\n## Duplicate Groups\n")
		for i, g := range groups {
			fmt.Fprintf(&b, "\n### %d. %s (%s, %d occurrences)\n\n", i+1, g.Category, g.SimilarityMethod, g.OccurrenceCount)
			fmt.Fprintf(&b, "- Similarity %.2f, impact %.0f, %d duplicated lines\n", g.SimilarityScore, g.ImpactScore, g.TotalLines)
			fmt.Fprintf(&b, "- Files: %s\n", strings.Join(g.AffectedFiles, ", "))
			if len(g.AffectedRepositories) > 1 {
				fmt.Fprintf(&b, "- Repositories: %s\n", strings.Join(g.AffectedRepositories, ", "))
			}
		}
		if len(result.Groups) > len(groups) {
			fmt.Fprintf(&b, "\n_%d more groups in the JSON report._\n", len(result.Groups)-len(groups))
		}
	}

	suggestions := topSuggestions(result.Suggestions)
	if len(suggestions) > 0 {
		fmt.Fprintf(&b, "\n## Suggestions\n")
		for i, s := range suggestions {
			marker := ""
			if s.QuickWin {
				marker = " (quick win)"
			}
			fmt.Fprintf(&b, "\n### %d. %s%s\n\n", i+1, s.Strategy, marker)
			fmt.Fprintf(&b, "%s\n\n", s.StrategyRationale)
			fmt.Fprintf(&b, "- Priority %s, ROI %.0f, confidence %.0f%%\n", s.Priority, s.ROIScore, s.Confidence*100)
			fmt.Fprintf(&b, "- Effort ~%.1fh (%s, %s risk), saves ~%d lines\n", s.EstimatedEffortHours, s.Complexity, s.Risk, s.LOCReduction)
			if s.BreakingChanges {
				fmt.Fprintf(&b, "- Involves breaking changes\n")
			}
			for _, step := range s.MigrationSteps {
				fmt.Fprintf(&b, "  %d. %s\n", step.StepNumber, step.Description)
			}
		}
		if len(result.Suggestions) > len(suggestions) {
			fmt.Fprintf(&b, "\n_%d more suggestions in the JSON report._\n", len(result.Suggestions)-len(suggestions))
		}
	}
	return b.Bytes()
}

func topGroups(groups []model.DuplicateGroup) []model.DuplicateGroup {
	out := append([]model.DuplicateGroup(nil), groups...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ImpactScore > out[j].ImpactScore })
	if len(out) > topEntries {
		out = out[:topEntries]
	}
	return out
}

func topSuggestions(suggestions []model.ConsolidationSuggestion) []model.ConsolidationSuggestion {
	out := append([]model.ConsolidationSuggestion(nil), suggestions...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ROIScore > out[j].ROIScore })
	if len(out) > topEntries {
		out = out[:topEntries]
	}
	return out
}

// ExecRenderer pipes the scan result as JSON into an external command and
// writes whatever the command prints to report.<format>. The command runs
// through the shell so configured strings may carry arguments.
type ExecRenderer struct {
	Name    string
	Command string
}

func (r *ExecRenderer) Format() string { return r.Name }

func (r *ExecRenderer) Render(ctx context.Context, result *model.ScanResult, dir string) (string, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("encode result: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, execTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", r.Command)
	cmd.Stdin = bytes.NewReader(data)
	cmd.Env = append(cmd.Environ(),
		"CLONEHOUND_SCAN_ID="+result.ScanID,
		"CLONEHOUND_FORMAT="+r.Name,
		"CLONEHOUND_REPORT_DIR="+dir,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if ctx.Err() == context.DeadlineExceeded {
		return "", fmt.Errorf("renderer %q timed out after %s", r.Name, execTimeout)
	}
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return "", fmt.Errorf("renderer %q: %w: %s", r.Name, err, msg)
		}
		return "", fmt.Errorf("renderer %q: %w", r.Name, err)
	}

	path := filepath.Join(dir, "report."+r.Name)
	if err := storage.WriteFileAtomic(path, out, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
