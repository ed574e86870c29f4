// Package model defines the canonical typed records exchanged between the
// scan pipeline stages. Records reference each other by ID only; groups carry
// member block IDs rather than member pointers so results serialize flat.
package model

import "time"

// Priority of a repository in the registry.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Rank orders priorities for sorting; lower is more urgent.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	default:
		return 4
	}
}

// Valid reports whether p is one of the enumerated priorities.
func (p Priority) Valid() bool {
	return p.Rank() < 4
}

// ScanFrequency of a repository.
type ScanFrequency string

const (
	FrequencyDaily    ScanFrequency = "daily"
	FrequencyWeekly   ScanFrequency = "weekly"
	FrequencyMonthly  ScanFrequency = "monthly"
	FrequencyOnDemand ScanFrequency = "on-demand"
)

func (f ScanFrequency) Valid() bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly, FrequencyOnDemand:
		return true
	default:
		return false
	}
}

// ScanKind distinguishes single-repository scans from inter-project scans.
type ScanKind string

const (
	ScanKindIntra ScanKind = "intra"
	ScanKindInter ScanKind = "inter"
)

// SimilarityMethod names the layer that produced a duplicate group.
type SimilarityMethod string

const (
	MethodExact              SimilarityMethod = "exact"
	MethodStructural         SimilarityMethod = "structural"
	MethodStructuralOpposite SimilarityMethod = "structural_opposite_logic"
	MethodSemantic           SimilarityMethod = "semantic"
	MethodHybrid             SimilarityMethod = "hybrid"
)

// Category is the coarse semantic label derived from the matcher rule.
type Category string

const (
	CategoryUtility       Category = "utility"
	CategoryAPIHandler    Category = "api_handler"
	CategoryDatabase      Category = "database_operation"
	CategoryAsync         Category = "async"
	CategoryConfiguration Category = "configuration"
	CategoryLogging       Category = "logging"
	CategoryValidation    Category = "validation"
	CategoryErrorHandling Category = "error_handling"
	CategoryUnknown       Category = "unknown"
)

// SourceLocation pins a code span inside a file. Lines are 1-based and
// LineEnd >= LineStart.
type SourceLocation struct {
	FilePath    string `json:"file_path"`
	LineStart   int    `json:"line_start"`
	LineEnd     int    `json:"line_end"`
	ColumnStart int    `json:"column_start,omitempty"`
	ColumnEnd   int    `json:"column_end,omitempty"`
}

// LineCount returns the number of lines the location spans.
func (l SourceLocation) LineCount() int {
	if l.LineEnd < l.LineStart {
		return 0
	}
	return l.LineEnd - l.LineStart + 1
}

// CodeBlock is a single extracted code span with its metadata. SourceCode is
// raw and preserves whitespace and comments; ContentHash is computed over the
// whitespace-collapsed form.
type CodeBlock struct {
	ID              string         `json:"id"`
	PatternID       string         `json:"pattern_id"`
	Category        Category       `json:"category"`
	Location        SourceLocation `json:"location"`
	RelativePath    string         `json:"relative_path"`
	SourceCode      string         `json:"source_code"`
	Language        string         `json:"language"`
	RepositoryPath  string         `json:"repository_path"`
	LineCount       int            `json:"line_count"`
	Tags            []string       `json:"tags,omitempty"`
	ContentHash     string         `json:"content_hash"`
	ASTHash         string         `json:"ast_hash,omitempty"`
	ComplexityScore float64        `json:"complexity_score,omitempty"`
}

// FunctionName returns the name carried by a "function:" tag, or "".
func (b *CodeBlock) FunctionName() string {
	for _, tag := range b.Tags {
		if len(tag) > 9 && tag[:9] == "function:" {
			return tag[9:]
		}
	}
	return ""
}

// DuplicateGroup is a validated set of equivalent code blocks.
type DuplicateGroup struct {
	ID                   string           `json:"id"`
	MemberBlockIDs       []string         `json:"member_block_ids"`
	CanonicalBlockID     string           `json:"canonical_block_id"`
	SimilarityScore      float64          `json:"similarity_score"`
	SimilarityMethod     SimilarityMethod `json:"similarity_method"`
	Category             Category         `json:"category"`
	PatternID            string           `json:"pattern_id"`
	OccurrenceCount      int              `json:"occurrence_count"`
	TotalLines           int              `json:"total_lines"`
	AffectedFiles        []string         `json:"affected_files"`
	AffectedRepositories []string         `json:"affected_repositories"`
	QualityScore         float64          `json:"quality_score"`
	ImpactScore          float64          `json:"impact_score"`
}

// ConsolidationStrategy is the recommended consolidation tier.
type ConsolidationStrategy string

const (
	StrategyLocalUtil       ConsolidationStrategy = "local_util"
	StrategySharedPackage   ConsolidationStrategy = "shared_package"
	StrategyMCPServer       ConsolidationStrategy = "mcp_server"
	StrategyAutonomousAgent ConsolidationStrategy = "autonomous_agent"
	StrategyNoAction        ConsolidationStrategy = "no_action"
)

// rank orders strategies from least to most ambitious; used so cross-repo
// analysis can uplift but never downgrade.
func (s ConsolidationStrategy) Rank() int {
	switch s {
	case StrategyNoAction:
		return 0
	case StrategyLocalUtil:
		return 1
	case StrategySharedPackage:
		return 2
	case StrategyMCPServer:
		return 3
	case StrategyAutonomousAgent:
		return 4
	default:
		return 0
	}
}

// Complexity is the estimated implementation effort class.
type Complexity string

const (
	ComplexityTrivial     Complexity = "trivial"
	ComplexitySimple      Complexity = "simple"
	ComplexityModerate    Complexity = "moderate"
	ComplexityComplex     Complexity = "complex"
	ComplexityVeryComplex Complexity = "very_complex"
)

// Risk is the migration risk class.
type Risk string

const (
	RiskMinimal  Risk = "minimal"
	RiskLow      Risk = "low"
	RiskMedium   Risk = "medium"
	RiskHigh     Risk = "high"
	RiskCritical Risk = "critical"
)

// MigrationStep is one ordered step in a consolidation migration path.
type MigrationStep struct {
	StepNumber     int     `json:"step_number"`
	Description    string  `json:"description"`
	Automatable    bool    `json:"automatable"`
	EstimatedHours float64 `json:"estimated_hours"`
}

// ConsolidationSuggestion recommends how to consolidate one duplicate group.
type ConsolidationSuggestion struct {
	ID                   string                `json:"id"`
	GroupID              string                `json:"group_id"`
	Strategy             ConsolidationStrategy `json:"strategy"`
	StrategyRationale    string                `json:"strategy_rationale"`
	Complexity           Complexity            `json:"complexity"`
	Risk                 Risk                  `json:"risk"`
	BreakingChanges      bool                  `json:"breaking_changes"`
	EstimatedEffortHours float64               `json:"estimated_effort_hours"`
	LOCReduction         int                   `json:"loc_reduction"`
	Confidence           float64               `json:"confidence"`
	MigrationSteps       []MigrationStep       `json:"migration_steps"`
	ImpactScore          float64               `json:"impact_score"`
	ROIScore             float64               `json:"roi_score"`
	Priority             string                `json:"priority"`
	QuickWin             bool                  `json:"quick_win"`
}

// ScanMetrics summarizes one scan's findings.
type ScanMetrics struct {
	TotalCodeBlocks       int            `json:"total_code_blocks"`
	BlocksByCategory      map[string]int `json:"blocks_by_category,omitempty"`
	TotalDuplicateGroups  int            `json:"total_duplicate_groups"`
	ExactDuplicates       int            `json:"exact_duplicates"`
	StructuralDuplicates  int            `json:"structural_duplicates"`
	TotalDuplicatedLines  int            `json:"total_duplicated_lines"`
	PotentialLOCReduction int            `json:"potential_loc_reduction"`
	DuplicationPercentage float64        `json:"duplication_percentage"`
	TotalSuggestions      int            `json:"total_suggestions"`
	QuickWins             int            `json:"quick_wins"`
	CrossRepositoryGroups int            `json:"cross_repository_groups,omitempty"`
}

// DuplicationSeverity classifies the duplication percentage.
func (m ScanMetrics) DuplicationSeverity() string {
	switch pct := m.DuplicationPercentage; {
	case pct < 5:
		return "minimal"
	case pct < 10:
		return "low"
	case pct < 20:
		return "moderate"
	case pct < 40:
		return "high"
	default:
		return "critical"
	}
}

// ScanResult is the top-level output of one scan. Blocks, groups, and
// suggestions are stored alongside their ID lists so cached results round-trip
// without a second store.
type ScanResult struct {
	ScanID           string                    `json:"scan_id"`
	Kind             ScanKind                  `json:"kind"`
	StartedAt        time.Time                 `json:"started_at"`
	DurationSeconds  float64                   `json:"duration_seconds"`
	Repositories     []string                  `json:"repositories"`
	CommitHash       string                    `json:"commit_hash,omitempty"`
	CodeBlockIDs     []string                  `json:"code_block_ids"`
	GroupIDs         []string                  `json:"group_ids"`
	SuggestionIDs    []string                  `json:"suggestion_ids"`
	Blocks           []CodeBlock               `json:"blocks,omitempty"`
	Groups           []DuplicateGroup          `json:"groups,omitempty"`
	Suggestions      []ConsolidationSuggestion `json:"suggestions,omitempty"`
	Metrics          ScanMetrics               `json:"metrics"`
	FromCache        bool                      `json:"from_cache"`
	ExecutiveSummary string                    `json:"executive_summary,omitempty"`
}
