package similarity

import "github.com/clonehoundhq/clonehound/internal/model"

// GroupQuality scores a candidate group on a 0-1 scale from four weighted
// factors: average pair similarity, group size (5+ members saturates),
// line-count consistency, and average pairwise tag overlap.
func (e *Engine) GroupQuality(blocks []*model.CodeBlock, avgSimilarity float64) float64 {
	if len(blocks) < 2 {
		return 0
	}

	sizeFactor := float64(len(blocks)) / 5.0
	if sizeFactor > 1 {
		sizeFactor = 1
	}

	return e.cfg.QualityWeightSimilarity*avgSimilarity +
		e.cfg.QualityWeightSize*sizeFactor +
		e.cfg.QualityWeightConsistency*lineConsistency(blocks) +
		e.cfg.QualityWeightTagOverlap*averageTagOverlap(blocks)
}

// lineConsistency is 1 - maxDeviation/avgLines, clamped to [0,1]. A group
// whose members are all the same length scores 1.
func lineConsistency(blocks []*model.CodeBlock) float64 {
	total := 0
	for _, b := range blocks {
		total += b.LineCount
	}
	avg := float64(total) / float64(len(blocks))
	if avg <= 0 {
		return 0
	}

	maxDev := 0.0
	for _, b := range blocks {
		dev := float64(b.LineCount) - avg
		if dev < 0 {
			dev = -dev
		}
		if dev > maxDev {
			maxDev = dev
		}
	}

	consistency := 1 - maxDev/avg
	if consistency < 0 {
		consistency = 0
	}
	return consistency
}

func averageTagOverlap(blocks []*model.CodeBlock) float64 {
	pairs := 0
	sum := 0.0
	for i := range blocks {
		for j := i + 1; j < len(blocks); j++ {
			sum += tagJaccard(blocks[i].Tags, blocks[j].Tags)
			pairs++
		}
	}
	if pairs == 0 {
		return 0
	}
	return sum / float64(pairs)
}

func tagJaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.5
	}
	setA := make(map[string]struct{}, len(a))
	union := make(map[string]struct{}, len(a)+len(b))
	for _, t := range a {
		setA[t] = struct{}{}
		union[t] = struct{}{}
	}
	inter := make(map[string]struct{})
	for _, t := range b {
		if _, ok := setA[t]; ok {
			inter[t] = struct{}{}
		}
		union[t] = struct{}{}
	}
	return float64(len(inter)) / float64(len(union))
}
