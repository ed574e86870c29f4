// Package similarity implements the multi-layer duplicate detection core:
// exact hash matching, structural comparison with semantic penalties, a
// pairwise compatibility gate, and a group-quality filter. Every layer can
// only reduce an otherwise-positive result, never promote a rejected pair.
package similarity

import (
	"github.com/clonehoundhq/clonehound/internal/model"
)

// Engine compares code blocks and assembles validated duplicate groups. An
// Engine is safe for concurrent use; its configuration is immutable after New.
type Engine struct {
	cfg Config
}

func New(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Config returns the engine's immutable configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// PairResult is the outcome of scoring one block pair.
type PairResult struct {
	Score  float64
	Method model.SimilarityMethod
}

// PairScore computes the Layer-1/Layer-2 similarity of two blocks.
//
// Exact content-hash matches score 1.0. Otherwise the score is Levenshtein
// similarity over the normalized forms, re-weighted by method-chain agreement
// and multiplied by the opposite-logic and HTTP-status penalties. An
// opposite-logic pair whose normalized forms are identical is demoted to a
// fixed 0.75 so it can never clear the default grouping threshold.
func (e *Engine) PairScore(a, b *model.CodeBlock) PairResult {
	if a.ContentHash != "" && a.ContentHash == b.ContentHash {
		return PairResult{Score: 1.0, Method: model.MethodExact}
	}

	normA := Normalize(a.SourceCode, e.cfg.EnableSemanticOperators)
	normB := Normalize(b.SourceCode, e.cfg.EnableSemanticOperators)

	oppositeLogic := false
	if e.cfg.EnableLogicalOperatorCheck {
		oppositeLogic = HasOppositeLogic(LogicalOperators(a.SourceCode), LogicalOperators(b.SourceCode))
		// Identical apart from the inverted operator: fixed demotion below
		// the grouping threshold rather than a multiplicative penalty.
		if oppositeLogic && neutralizeOperators(normA) == neutralizeOperators(normB) {
			return PairResult{Score: 0.75, Method: model.MethodStructuralOpposite}
		}
	}

	score := LevenshteinSimilarity(normA, normB)

	if e.cfg.EnableMethodChainCheck {
		chainSim := CompareChains(MethodChain(a.SourceCode), MethodChain(b.SourceCode))
		if chainSim < 1.0 {
			score = e.cfg.LevenshteinWeight*score + e.cfg.ChainWeight*chainSim
		}
	}

	// AST-hash uplift: a matching structural fingerprint from the matcher
	// raises the base to a 0.95 floor before penalties apply.
	if a.ASTHash != "" && a.ASTHash == b.ASTHash && score < 0.95 {
		score = 0.95
	}

	method := model.MethodStructural
	if oppositeLogic {
		score *= e.cfg.OppositeLogicPenalty
		method = model.MethodStructuralOpposite
	}

	if statusSetsDiffer(HTTPStatusCodes(a.SourceCode), HTTPStatusCodes(b.SourceCode)) {
		score *= e.cfg.HTTPStatusPenalty
	}

	if score > 1.0 {
		score = 1.0
	}
	return PairResult{Score: score, Method: method}
}
