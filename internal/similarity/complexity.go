package similarity

import (
	"regexp"
	"strings"
)

var (
	tokenRe          = regexp.MustCompile(`\w+`)
	controlFlowWords = []string{"if", "else", "for", "while", "switch", "case", "try", "catch"}
	controlFlowRe    = regexp.MustCompile(`\b(` + strings.Join(controlFlowWords, "|") + `)\b`)
)

// Complexity metrics of a code span, used by the grouping prefilter and the
// candidate ordering.
type Complexity struct {
	LineCount      int
	UniqueTokens   int
	HasControlFlow bool
}

// MeasureComplexity counts non-blank lines, distinct word tokens, and the
// presence of control-flow keywords.
func MeasureComplexity(source string) Complexity {
	lines := 0
	for _, line := range strings.Split(source, "\n") {
		if strings.TrimSpace(line) != "" {
			lines++
		}
	}

	seen := make(map[string]struct{})
	for _, tok := range tokenRe.FindAllString(source, -1) {
		seen[tok] = struct{}{}
	}

	return Complexity{
		LineCount:      lines,
		UniqueTokens:   len(seen),
		HasControlFlow: controlFlowRe.MatchString(source),
	}
}

// complexEnough reports whether a block clears the grouping prefilter: it
// either meets both size thresholds or contains control flow. Exact-hash
// groups bypass this entirely.
func (e *Engine) complexEnough(c Complexity) bool {
	if c.HasControlFlow {
		return true
	}
	return c.LineCount >= e.cfg.MinLineCount && c.UniqueTokens >= e.cfg.MinUniqueTokens
}
