// Package suggest turns validated duplicate groups into consolidation
// suggestions: a strategy, migration steps, and impact/ROI scoring used to
// rank the work.
package suggest

import (
	"fmt"
	"strings"

	"github.com/clonehoundhq/clonehound/internal/model"
)

// Generator derives suggestions from duplicate groups. It is stateless.
type Generator struct{}

func New() *Generator {
	return &Generator{}
}

// Generate produces one suggestion per group, ordered as given.
func (g *Generator) Generate(groups []model.DuplicateGroup) []model.ConsolidationSuggestion {
	suggestions := make([]model.ConsolidationSuggestion, 0, len(groups))
	for i := range groups {
		suggestions = append(suggestions, g.ForGroup(&groups[i]))
	}
	return suggestions
}

// ForGroup builds the suggestion for a single group and stamps the group's
// impact score as a side effect of the scoring pass.
func (g *Generator) ForGroup(group *model.DuplicateGroup) model.ConsolidationSuggestion {
	strategy, rationale := chooseStrategy(group)
	complexity, risk := classify(group, strategy)
	impact := ImpactScore(group)
	group.ImpactScore = impact

	roi := ROIScore(impact, complexity, risk, len(group.AffectedRepositories) > 1)
	effort := estimateEffort(complexity, len(group.AffectedFiles))
	steps := migrationSteps(strategy)

	confidence := 0.7
	if group.SimilarityScore >= 0.95 {
		confidence = 0.9
	}

	s := model.ConsolidationSuggestion{
		ID:                   "cs_" + strings.TrimPrefix(group.ID, "dg_"),
		GroupID:              group.ID,
		Strategy:             strategy,
		StrategyRationale:    rationale,
		Complexity:           complexity,
		Risk:                 risk,
		BreakingChanges:      breakingChange(group, strategy),
		EstimatedEffortHours: effort,
		LOCReduction:         locReduction(group),
		Confidence:           confidence,
		MigrationSteps:       steps,
		ImpactScore:          impact,
		ROIScore:             roi,
	}
	s.Priority = priorityFor(impact, complexity)
	s.QuickWin = quickWin(s)
	return s
}

// chooseStrategy walks the decision cascade; the first matching tier wins.
func chooseStrategy(group *model.DuplicateGroup) (model.ConsolidationStrategy, string) {
	occ := group.OccurrenceCount
	files := len(group.AffectedFiles)
	repos := len(group.AffectedRepositories)

	switch {
	case occ <= 3 && repos <= 1:
		return model.StrategyLocalUtil,
			fmt.Sprintf("%d occurrences within one repository, extract to a local utility", occ)
	case (occ >= 4 && occ <= 8) || (files >= 2 && files <= 3):
		return model.StrategySharedPackage,
			fmt.Sprintf("%d occurrences across %d files, promote to a shared package", occ, files)
	case occ >= 9 || group.Category == model.CategoryAPIHandler || group.Category == model.CategoryDatabase:
		return model.StrategyMCPServer,
			fmt.Sprintf("%d occurrences of %s logic, candidate for a service-level abstraction", occ, group.Category)
	case crossCutting(group):
		return model.StrategyAutonomousAgent,
			fmt.Sprintf("%s pattern orchestrated across %d repositories, delegate to an agent workflow", group.Category, repos)
	default:
		return model.StrategyNoAction, "duplication too diffuse to consolidate profitably"
	}
}

// crossCutting reports orchestration-shaped duplication: workflow categories
// repeated across repository boundaries.
func crossCutting(group *model.DuplicateGroup) bool {
	if len(group.AffectedRepositories) < 2 {
		return false
	}
	switch group.Category {
	case model.CategoryAsync, model.CategoryAPIHandler, model.CategoryDatabase:
		return true
	default:
		return false
	}
}

func classify(group *model.DuplicateGroup, strategy model.ConsolidationStrategy) (model.Complexity, model.Risk) {
	switch strategy {
	case model.StrategyLocalUtil:
		if group.Category == model.CategoryLogging || group.Category == model.CategoryConfiguration {
			return model.ComplexityTrivial, model.RiskMinimal
		}
		return model.ComplexitySimple, model.RiskLow
	case model.StrategySharedPackage:
		if group.Category == model.CategoryAPIHandler || group.Category == model.CategoryDatabase {
			return model.ComplexityModerate, model.RiskMedium
		}
		return model.ComplexitySimple, model.RiskLow
	case model.StrategyMCPServer:
		return model.ComplexityComplex, model.RiskHigh
	case model.StrategyAutonomousAgent:
		return model.ComplexityVeryComplex, model.RiskHigh
	default:
		return model.ComplexityTrivial, model.RiskMinimal
	}
}

// categoryBonus weights domains where duplication hurts most.
var categoryBonus = map[model.Category]float64{
	model.CategoryAPIHandler:    10,
	model.CategoryDatabase:      10,
	model.CategoryValidation:    8,
	model.CategoryErrorHandling: 8,
	model.CategoryAsync:         8,
	model.CategoryConfiguration: 6,
	model.CategoryLogging:       6,
	model.CategoryUtility:       6,
}

// ImpactScore combines occurrences, repository spread, duplicated volume, and
// a category bonus, capped at 100.
func ImpactScore(group *model.DuplicateGroup) float64 {
	bonus, ok := categoryBonus[group.Category]
	if !ok {
		bonus = 6
	}
	score := float64(group.OccurrenceCount)*5 +
		float64(len(group.AffectedRepositories))*15 +
		float64(group.TotalLines)*0.5 +
		bonus
	if score > 100 {
		score = 100
	}
	return score
}

var complexityMult = map[model.Complexity]float64{
	model.ComplexityTrivial:     1.3,
	model.ComplexitySimple:      1.1,
	model.ComplexityModerate:    0.9,
	model.ComplexityComplex:     0.7,
	model.ComplexityVeryComplex: 0.7,
}

var riskMult = map[model.Risk]float64{
	model.RiskMinimal: 1.2,
	model.RiskLow:     1.1,
	model.RiskMedium:  0.9,
	model.RiskHigh:    0.7,
}

// ROIScore adjusts impact by how cheap and safe the consolidation is, with a
// cross-repository uplift, capped at 100.
func ROIScore(impact float64, complexity model.Complexity, risk model.Risk, crossRepo bool) float64 {
	roi := impact
	if m, ok := complexityMult[complexity]; ok {
		roi *= m
	}
	if m, ok := riskMult[risk]; ok {
		roi *= m
	}
	if crossRepo {
		roi *= 1.2
	}
	if roi > 100 {
		roi = 100
	}
	return roi
}

var baseEffortHours = map[model.Complexity]float64{
	model.ComplexityTrivial:     0.5,
	model.ComplexitySimple:      1.0,
	model.ComplexityModerate:    3.0,
	model.ComplexityComplex:     8.0,
	model.ComplexityVeryComplex: 16.0,
}

func estimateEffort(complexity model.Complexity, files int) float64 {
	base, ok := baseEffortHours[complexity]
	if !ok {
		base = 2.0
	}
	return base + 0.25*float64(files) + 0.5
}

func locReduction(group *model.DuplicateGroup) int {
	if group.OccurrenceCount <= 0 {
		return 0
	}
	return group.TotalLines - group.TotalLines/group.OccurrenceCount
}

func breakingChange(group *model.DuplicateGroup, strategy model.ConsolidationStrategy) bool {
	switch strategy {
	case model.StrategyLocalUtil, model.StrategyNoAction:
		return false
	case model.StrategySharedPackage:
		return group.Category == model.CategoryAPIHandler
	default:
		return true
	}
}

// priorityFor ranks high impact plus low complexity above everything else;
// expensive work never outranks cheap work of the same impact.
func priorityFor(impact float64, complexity model.Complexity) string {
	cheap := complexity == model.ComplexityTrivial || complexity == model.ComplexitySimple
	switch {
	case impact >= 75 && cheap:
		return "critical"
	case impact >= 50 && (cheap || complexity == model.ComplexityModerate):
		return "high"
	case impact >= 25:
		return "medium"
	default:
		return "low"
	}
}

// quickWin marks high-impact suggestions that are also cheap and safe.
func quickWin(s model.ConsolidationSuggestion) bool {
	cheap := s.Complexity == model.ComplexityTrivial || s.Complexity == model.ComplexitySimple
	safe := s.Risk == model.RiskMinimal || s.Risk == model.RiskLow
	return s.ImpactScore >= 60 && cheap && safe
}

type stepTemplate struct {
	description string
	automatable bool
	hours       float64
}

var stepsByStrategy = map[model.ConsolidationStrategy][]stepTemplate{
	model.StrategyLocalUtil: {
		{"Create utility function in the local utils module", true, 0.25},
		{"Extract common logic from the duplicate blocks", false, 0.5},
		{"Replace each occurrence with a call to the utility", true, 0.33},
		{"Add unit tests for the extracted function", false, 0.5},
		{"Run the existing suite to verify behavior", true, 0.17},
	},
	model.StrategySharedPackage: {
		{"Create a shared package for the utility", false, 1},
		{"Extract and parameterize the common logic", false, 1},
		{"Add tests to the shared package", false, 0.75},
		{"Update each file to import from the shared package", true, 0.5},
		{"Replace duplicates with shared calls", true, 0.5},
		{"Update dependency manifests", false, 0.25},
		{"Run the full suite across affected projects", true, 0.33},
	},
	model.StrategyMCPServer: {
		{"Design the tool interface for the shared functionality", false, 2},
		{"Implement the server exposing the tool", false, 4},
		{"Document the tool schema", false, 1},
		{"Test the tool in isolation", false, 1},
		{"Update projects to call the tool", false, 2},
		{"Replace duplicates with tool calls", true, 1},
		{"Add integration tests", false, 2},
	},
	model.StrategyAutonomousAgent: {
		{"Define agent capabilities and workflow boundaries", false, 3},
		{"Design agent prompts and tool access", false, 2},
		{"Implement agent orchestration", false, 8},
		{"Create agent tests and safety checks", false, 3},
		{"Integrate the agent with existing systems", false, 4},
		{"Replace the duplicated orchestration with agent calls", false, 2},
	},
}

func migrationSteps(strategy model.ConsolidationStrategy) []model.MigrationStep {
	templates := stepsByStrategy[strategy]
	steps := make([]model.MigrationStep, len(templates))
	for i, t := range templates {
		steps[i] = model.MigrationStep{
			StepNumber:     i + 1,
			Description:    t.description,
			Automatable:    t.automatable,
			EstimatedHours: t.hours,
		}
	}
	return steps
}
