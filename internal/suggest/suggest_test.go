package suggest

import (
	"testing"

	"github.com/clonehoundhq/clonehound/internal/model"
)

func group(occ int, files, repos []string, category model.Category, totalLines int) model.DuplicateGroup {
	return model.DuplicateGroup{
		ID:                   "dg_test",
		OccurrenceCount:      occ,
		AffectedFiles:        files,
		AffectedRepositories: repos,
		Category:             category,
		TotalLines:           totalLines,
		SimilarityScore:      1.0,
	}
}

func TestStrategyCascade(t *testing.T) {
	tests := []struct {
		name string
		g    model.DuplicateGroup
		want model.ConsolidationStrategy
	}{
		{
			"few occurrences one repo",
			group(3, []string{"a.js"}, []string{"/r1"}, model.CategoryUtility, 9),
			model.StrategyLocalUtil,
		},
		{
			"mid occurrences",
			group(6, []string{"a.js", "b.js", "c.js", "d.js"}, []string{"/r1"}, model.CategoryUtility, 30),
			model.StrategySharedPackage,
		},
		{
			"spans two files",
			group(2, []string{"a.js", "b.js"}, []string{"/r1", "/r2"}, model.CategoryUtility, 10),
			model.StrategySharedPackage,
		},
		{
			"many occurrences",
			group(12, []string{"a.js", "b.js", "c.js", "d.js", "e.js"}, []string{"/r1"}, model.CategoryUtility, 60),
			model.StrategyMCPServer,
		},
		{
			"database category",
			group(2, []string{"db.js"}, []string{"/r1", "/r2"}, model.CategoryDatabase, 12),
			model.StrategyMCPServer,
		},
		{
			"cross-cutting async",
			group(2, []string{"flow.js"}, []string{"/r1", "/r2"}, model.CategoryAsync, 10),
			model.StrategyAutonomousAgent,
		},
		{
			"diffuse remainder",
			group(2, []string{"misc.js"}, []string{"/r1", "/r2"}, model.CategoryUtility, 6),
			model.StrategyNoAction,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := New().ForGroup(&tc.g)
			if s.Strategy != tc.want {
				t.Fatalf("strategy = %s, want %s (%s)", s.Strategy, tc.want, s.StrategyRationale)
			}
		})
	}
}

func TestImpactScore(t *testing.T) {
	g := group(4, []string{"a.js", "b.js"}, []string{"/r1", "/r2"}, model.CategoryAPIHandler, 20)
	// 4*5 + 2*15 + 20*0.5 + 10 = 70.
	if got := ImpactScore(&g); !almost(got, 70) {
		t.Fatalf("impact = %v, want 70", got)
	}

	big := group(30, []string{"a.js"}, []string{"/r1", "/r2", "/r3"}, model.CategoryDatabase, 400)
	if got := ImpactScore(&big); got != 100 {
		t.Fatalf("impact must cap at 100, got %v", got)
	}
}

func TestROIScore(t *testing.T) {
	// 50 * 1.3 * 1.2 = 78, then cross-repo uplift 1.2 caps under 100.
	got := ROIScore(50, model.ComplexityTrivial, model.RiskMinimal, true)
	if !almost(got, 50*1.3*1.2*1.2) {
		t.Fatalf("roi = %v, want %v", got, 50*1.3*1.2*1.2)
	}

	if got := ROIScore(100, model.ComplexityTrivial, model.RiskMinimal, false); got != 100 {
		t.Fatalf("roi must cap at 100, got %v", got)
	}

	low := ROIScore(50, model.ComplexityComplex, model.RiskHigh, false)
	if !almost(low, 50*0.7*0.7) {
		t.Fatalf("roi = %v, want %v", low, 50*0.7*0.7)
	}
}

func TestSuggestionFields(t *testing.T) {
	// Impact: 3*5 + 1*15 + 48*0.5 + 6 = 60, exactly at the quick-win bar.
	g := group(3, []string{"a.js"}, []string{"/r1"}, model.CategoryLogging, 48)
	s := New().ForGroup(&g)

	if s.GroupID != "dg_test" || s.ID != "cs_test" {
		t.Fatalf("ids: %+v", s)
	}
	if s.Complexity != model.ComplexityTrivial || s.Risk != model.RiskMinimal {
		t.Fatalf("logging local_util should be trivial/minimal, got %s/%s", s.Complexity, s.Risk)
	}
	// 0.5 base + 0.25*1 file + 0.5 testing.
	if !almost(s.EstimatedEffortHours, 1.25) {
		t.Fatalf("effort = %v, want 1.25", s.EstimatedEffortHours)
	}
	// 48 total lines, 3 occurrences: keep one copy of 16 lines.
	if s.LOCReduction != 32 {
		t.Fatalf("loc reduction = %d, want 32", s.LOCReduction)
	}
	if !s.QuickWin {
		t.Fatalf("impact 60 trivial/minimal must be a quick win")
	}
	if s.BreakingChanges {
		t.Fatalf("local_util is never breaking")
	}
	if len(s.MigrationSteps) == 0 || s.MigrationSteps[0].StepNumber != 1 {
		t.Fatalf("migration steps missing or unnumbered: %+v", s.MigrationSteps)
	}
	if s.Confidence != 0.9 {
		t.Fatalf("confidence = %v, want 0.9 for similarity >= 0.95", s.Confidence)
	}
	if g.ImpactScore == 0 {
		t.Fatalf("group impact score must be stamped")
	}
}

func TestQuickWinNeedsImpact(t *testing.T) {
	// Trivial and minimal, but impact 3*5 + 15 + 6 + 6 = 42 < 60.
	g := group(3, []string{"a.js"}, []string{"/r1"}, model.CategoryLogging, 12)
	if s := New().ForGroup(&g); s.QuickWin {
		t.Fatalf("low-impact suggestion must not be a quick win (impact %v)", s.ImpactScore)
	}
}

func TestPriorityBands(t *testing.T) {
	tests := []struct {
		impact     float64
		complexity model.Complexity
		want       string
	}{
		{80, model.ComplexityTrivial, "critical"},
		{80, model.ComplexitySimple, "critical"},
		{80, model.ComplexityComplex, "medium"}, // high impact alone is not critical
		{60, model.ComplexityModerate, "high"},
		{30, model.ComplexityComplex, "medium"},
		{10, model.ComplexityTrivial, "low"},
	}
	for _, tt := range tests {
		if got := priorityFor(tt.impact, tt.complexity); got != tt.want {
			t.Errorf("priorityFor(%v, %s) = %q, want %q", tt.impact, tt.complexity, got, tt.want)
		}
	}
}

func almost(got, want float64) bool {
	d := got - want
	if d < 0 {
		d = -d
	}
	return d < 1e-9
}
