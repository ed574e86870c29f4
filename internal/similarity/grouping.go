package similarity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/clonehoundhq/clonehound/internal/model"
)

// Rejection records a candidate group that was dropped during validation or
// quality filtering. Rejections are warnings, never failures.
type Rejection struct {
	Reason       string
	BlockIDs     []string
	QualityScore float64
}

// Group runs the full grouping procedure over a block set:
//
//  1. bucket by content hash and emit exact groups (bypasses the complexity
//     prefilter, but exact groups are still validated for semantic
//     divergence between hash twins),
//  2. for the remaining prefilter-passing blocks, greedy structural grouping
//     in ascending complexity order,
//  3. whole-group semantic validation,
//  4. quality filtering.
//
// Layer-1 groups are always finalized before Layer 2 considers any member.
func (e *Engine) Group(blocks []model.CodeBlock) ([]model.DuplicateGroup, []Rejection) {
	var groups []model.DuplicateGroup
	var rejections []Rejection

	assigned := make(map[string]bool, len(blocks))

	// Layer 1: exact hash buckets.
	buckets := make(map[string][]*model.CodeBlock)
	order := make([]string, 0)
	for i := range blocks {
		b := &blocks[i]
		if b.ContentHash == "" {
			continue
		}
		if _, ok := buckets[b.ContentHash]; !ok {
			order = append(order, b.ContentHash)
		}
		buckets[b.ContentHash] = append(buckets[b.ContentHash], b)
	}
	for _, hash := range order {
		members := buckets[hash]
		if len(members) < 2 {
			continue
		}
		if reason, ok := e.validateExactGroup(members); !ok {
			rejections = append(rejections, Rejection{Reason: reason, BlockIDs: blockIDs(members)})
			continue
		}
		group, rejection := e.acceptGroup(members, 1.0, model.MethodExact)
		if rejection != nil {
			rejections = append(rejections, *rejection)
			continue
		}
		groups = append(groups, *group)
		for _, m := range members {
			assigned[m.ID] = true
		}
	}

	// Layer 2: structural grouping over the remaining blocks, cheapest first.
	candidates := make([]*model.CodeBlock, 0, len(blocks))
	for i := range blocks {
		b := &blocks[i]
		if assigned[b.ID] {
			continue
		}
		if !e.complexEnough(MeasureComplexity(b.SourceCode)) {
			continue
		}
		candidates = append(candidates, b)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		ci, cj := candidates[i], candidates[j]
		if ci.LineCount != cj.LineCount {
			return ci.LineCount < cj.LineCount
		}
		return ci.ID < cj.ID
	})

	for i, a := range candidates {
		if assigned[a.ID] {
			continue
		}
		members := []*model.CodeBlock{a}
		var scores []float64

		for _, b := range candidates[i+1:] {
			if assigned[b.ID] {
				continue
			}
			if !e.SemanticallyCompatible(a, b) {
				continue
			}
			pair := e.PairScore(a, b)
			if pair.Score >= e.cfg.StructuralThreshold {
				members = append(members, b)
				scores = append(scores, pair.Score)
				assigned[b.ID] = true
			}
		}

		if len(members) < 2 {
			continue
		}
		if !e.validateGroup(members) {
			rejections = append(rejections, Rejection{Reason: "group failed semantic validation", BlockIDs: blockIDs(members)})
			for _, m := range members[1:] {
				assigned[m.ID] = false
			}
			continue
		}

		avg := 1.0
		if len(scores) > 0 {
			sum := 0.0
			for _, s := range scores {
				sum += s
			}
			avg = sum / float64(len(scores))
		}

		group, rejection := e.acceptGroup(members, avg, model.MethodStructural)
		if rejection != nil {
			rejections = append(rejections, *rejection)
			for _, m := range members[1:] {
				assigned[m.ID] = false
			}
			continue
		}
		assigned[a.ID] = true
		groups = append(groups, *group)
	}

	return groups, rejections
}

// validateExactGroup guards Layer 1 against hash twins that differ
// semantically: whitespace-stripped hashing can equate blocks whose raw
// sources disagree on chains, status codes, or operator polarity.
func (e *Engine) validateExactGroup(members []*model.CodeBlock) (string, bool) {
	for i := range members {
		for j := i + 1; j < len(members); j++ {
			a, b := members[i], members[j]
			if e.cfg.EnableMethodChainCheck {
				if CompareChains(MethodChain(a.SourceCode), MethodChain(b.SourceCode)) < 1.0 {
					return "exact group rejected: method chain mismatch", false
				}
			}
			if statusSetsDiffer(HTTPStatusCodes(a.SourceCode), HTTPStatusCodes(b.SourceCode)) {
				return "exact group rejected: http status mismatch", false
			}
			if e.cfg.EnableLogicalOperatorCheck {
				if HasOppositeLogic(LogicalOperators(a.SourceCode), LogicalOperators(b.SourceCode)) {
					return "exact group rejected: opposite logic", false
				}
			}
		}
	}
	return "", true
}

func (e *Engine) acceptGroup(members []*model.CodeBlock, avgSimilarity float64, method model.SimilarityMethod) (*model.DuplicateGroup, *Rejection) {
	quality := e.GroupQuality(members, avgSimilarity)
	if e.cfg.EnableQualityFilter && quality < e.cfg.MinGroupQuality {
		return nil, &Rejection{
			Reason:       fmt.Sprintf("group quality %.2f below minimum %.2f", quality, e.cfg.MinGroupQuality),
			BlockIDs:     blockIDs(members),
			QualityScore: quality,
		}
	}
	return buildGroup(members, avgSimilarity, method, quality), nil
}

func buildGroup(members []*model.CodeBlock, score float64, method model.SimilarityMethod, quality float64) *model.DuplicateGroup {
	ids := blockIDs(members)
	totalLines := 0
	fileSet := make(map[string]struct{})
	repoSet := make(map[string]struct{})
	for _, m := range members {
		totalLines += m.LineCount
		fileSet[m.RelativePath] = struct{}{}
		repoSet[m.RepositoryPath] = struct{}{}
	}

	return &model.DuplicateGroup{
		ID:                   groupID(ids),
		MemberBlockIDs:       ids,
		CanonicalBlockID:     CanonicalBlock(members).ID,
		SimilarityScore:      score,
		SimilarityMethod:     method,
		Category:             members[0].Category,
		PatternID:            members[0].PatternID,
		OccurrenceCount:      len(members),
		TotalLines:           totalLines,
		AffectedFiles:        sortedKeys(fileSet),
		AffectedRepositories: sortedKeys(repoSet),
		QualityScore:         quality,
	}
}

// CanonicalBlock picks the group representative: shortest source, tiebroken
// by relative path then starting line.
func CanonicalBlock(members []*model.CodeBlock) *model.CodeBlock {
	canonical := members[0]
	for _, m := range members[1:] {
		switch {
		case len(m.SourceCode) < len(canonical.SourceCode):
			canonical = m
		case len(m.SourceCode) == len(canonical.SourceCode):
			if m.RelativePath < canonical.RelativePath ||
				(m.RelativePath == canonical.RelativePath && m.Location.LineStart < canonical.Location.LineStart) {
				canonical = m
			}
		}
	}
	return canonical
}

func groupID(memberIDs []string) string {
	sum := sha256.Sum256([]byte(strings.Join(memberIDs, "|")))
	return "dg_" + hex.EncodeToString(sum[:])[:12]
}

func blockIDs(members []*model.CodeBlock) []string {
	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = m.ID
	}
	return ids
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
