package model

import (
	"fmt"
	"strings"
)

// ConsolidationOpportunityScore combines duplication percentage, quick wins,
// and potential LOC reduction into a 0-100 score.
func (r *ScanResult) ConsolidationOpportunityScore(totalLines int) float64 {
	dupFactor := r.Metrics.DuplicationPercentage / 40 * 100
	if dupFactor > 100 {
		dupFactor = 100
	}
	quickWinFactor := float64(r.Metrics.QuickWins) / 10 * 100
	if quickWinFactor > 100 {
		quickWinFactor = 100
	}
	locFactor := 0.0
	if totalLines > 0 {
		locFactor = float64(r.Metrics.PotentialLOCReduction) / float64(totalLines) * 100
	}
	score := dupFactor*0.35 + quickWinFactor*0.40 + locFactor*0.25
	if score > 100 {
		score = 100
	}
	return score
}

// GenerateExecutiveSummary renders a short human-readable report of the scan.
func (r *ScanResult) GenerateExecutiveSummary() string {
	reposText := fmt.Sprintf("%d repositories", len(r.Repositories))
	if len(r.Repositories) == 1 {
		reposText = "1 repository"
	}

	var recommendation string
	switch {
	case r.Metrics.QuickWins >= 5:
		recommendation = "Immediate action recommended - many quick wins available."
	case r.Metrics.DuplicationPercentage >= 10:
		recommendation = "Moderate duplication detected - prioritize high-impact consolidations."
	default:
		recommendation = "Low duplication - focus on preventing new duplicates."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Scanned %s: %d code blocks analyzed.\n", reposText, r.Metrics.TotalCodeBlocks)
	fmt.Fprintf(&b, "Duplicate groups: %d (%d exact, %d structural). ", r.Metrics.TotalDuplicateGroups, r.Metrics.ExactDuplicates, r.Metrics.StructuralDuplicates)
	fmt.Fprintf(&b, "Duplicated code: %d lines (%.1f%%, severity %s).\n", r.Metrics.TotalDuplicatedLines, r.Metrics.DuplicationPercentage, r.Metrics.DuplicationSeverity())
	fmt.Fprintf(&b, "Suggestions: %d total, %d quick wins, potential reduction %d lines.\n", r.Metrics.TotalSuggestions, r.Metrics.QuickWins, r.Metrics.PotentialLOCReduction)
	b.WriteString(recommendation)
	return b.String()
}
