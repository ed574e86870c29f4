package similarity

import "github.com/clonehoundhq/clonehound/internal/model"

// minLineRatio is the smallest allowed min/max line-count ratio between two
// blocks considered for grouping; one block must not be more than twice the
// size of the other.
const minLineRatio = 0.5

// SemanticallyCompatible is the pairwise Layer-3 gate. A pair failing it is
// never grouped regardless of its structural score.
func (e *Engine) SemanticallyCompatible(a, b *model.CodeBlock) bool {
	if !e.cfg.EnableSemanticGate {
		return true
	}

	if a.PatternID != b.PatternID {
		return false
	}
	if a.Category != b.Category {
		return false
	}

	// Same function in the same file is already deduplicated by the
	// extractor; finding it twice means overlapping matches, not a duplicate.
	fa, fb := a.FunctionName(), b.FunctionName()
	if fa != "" && fb != "" && fa == fb && a.Location.FilePath == b.Location.FilePath {
		return false
	}

	la, lb := a.LineCount, b.LineCount
	if la <= 0 || lb <= 0 {
		return false
	}
	minL, maxL := la, lb
	if minL > maxL {
		minL, maxL = maxL, minL
	}
	return float64(minL)/float64(maxL) >= minLineRatio
}

// validateGroup checks a whole candidate group: every member shares pattern
// and category, and every pair passes the semantic gate.
func (e *Engine) validateGroup(blocks []*model.CodeBlock) bool {
	if len(blocks) < 2 {
		return false
	}
	for _, b := range blocks[1:] {
		if b.PatternID != blocks[0].PatternID || b.Category != blocks[0].Category {
			return false
		}
	}
	for i := range blocks {
		for j := i + 1; j < len(blocks); j++ {
			if !e.SemanticallyCompatible(blocks[i], blocks[j]) {
				return false
			}
		}
	}
	return true
}
