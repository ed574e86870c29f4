package similarity

import (
	"os"
	"strconv"
)

// Config holds every threshold, penalty factor, and feature flag the engine
// reads. It is constructed once and never mutated; pass it into New.
type Config struct {
	StructuralThreshold  float64
	LevenshteinWeight    float64
	ChainWeight          float64
	OppositeLogicPenalty float64
	HTTPStatusPenalty    float64

	MinLineCount    int
	MinUniqueTokens int

	MinGroupQuality float64

	// Quality score weights; must sum to 1.0.
	QualityWeightSimilarity  float64
	QualityWeightSize        float64
	QualityWeightConsistency float64
	QualityWeightTagOverlap  float64

	// Feature flags. Disabling a flag restores the pre-flag behavior exactly.
	EnableSemanticOperators    bool
	EnableLogicalOperatorCheck bool
	EnableMethodChainCheck     bool
	EnableSemanticGate         bool
	EnableQualityFilter        bool
}

// DefaultConfig returns the contract defaults.
func DefaultConfig() Config {
	return Config{
		StructuralThreshold:  0.90,
		LevenshteinWeight:    0.7,
		ChainWeight:          0.3,
		OppositeLogicPenalty: 0.80,
		HTTPStatusPenalty:    0.70,

		MinLineCount:    3,
		MinUniqueTokens: 8,

		MinGroupQuality: 0.70,

		QualityWeightSimilarity:  0.40,
		QualityWeightSize:        0.20,
		QualityWeightConsistency: 0.20,
		QualityWeightTagOverlap:  0.20,

		EnableSemanticOperators:    true,
		EnableLogicalOperatorCheck: true,
		EnableMethodChainCheck:     true,
		EnableSemanticGate:         true,
		EnableQualityFilter:        true,
	}
}

// ConfigFromEnv returns DefaultConfig with recognized environment overrides
// applied. Unset or unparsable variables leave the default in place.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	envFloat("STRUCTURAL_THRESHOLD", &cfg.StructuralThreshold)
	envFloat("OPPOSITE_LOGIC_PENALTY", &cfg.OppositeLogicPenalty)
	envFloat("HTTP_STATUS_PENALTY", &cfg.HTTPStatusPenalty)
	envFloat("MIN_GROUP_QUALITY", &cfg.MinGroupQuality)
	envInt("MIN_LINE_COUNT", &cfg.MinLineCount)
	envInt("MIN_UNIQUE_TOKENS", &cfg.MinUniqueTokens)
	envBool("ENABLE_SEMANTIC_OPERATORS", &cfg.EnableSemanticOperators)
	envBool("ENABLE_LOGICAL_OPERATOR_CHECK", &cfg.EnableLogicalOperatorCheck)
	envBool("ENABLE_METHOD_CHAIN_VALIDATION", &cfg.EnableMethodChainCheck)
	envBool("ENABLE_SEMANTIC_LAYER", &cfg.EnableSemanticGate)
	envBool("ENABLE_QUALITY_FILTERING", &cfg.EnableQualityFilter)
	return cfg
}

func envFloat(name string, dst *float64) {
	raw := os.Getenv(name)
	if raw == "" {
		return
	}
	if v, err := strconv.ParseFloat(raw, 64); err == nil {
		*dst = v
	}
}

func envInt(name string, dst *int) {
	raw := os.Getenv(name)
	if raw == "" {
		return
	}
	if v, err := strconv.Atoi(raw); err == nil {
		*dst = v
	}
}

func envBool(name string, dst *bool) {
	raw := os.Getenv(name)
	if raw == "" {
		return
	}
	if v, err := strconv.ParseBool(raw); err == nil {
		*dst = v
	}
}
