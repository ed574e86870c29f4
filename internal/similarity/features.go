package similarity

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Semantic features are extracted from the RAW source, before normalization,
// because normalization erases exactly the information they carry (status
// codes become NUM, operators get reshuffled by spacing).

var (
	httpStatusRe  = regexp.MustCompile(`(?:res|response)\.status\((\d{3})\)`)
	methodCallRe  = regexp.MustCompile(`\.([a-zA-Z_][a-zA-Z0-9_]*)\s*\(`)
	standaloneNot = regexp.MustCompile(`[^!=]![^=]|^![^=]`)
)

// LogicalOperators returns the set of comparison/negation operators present
// in the source: ===, !==, ==, !=, and standalone !.
func LogicalOperators(source string) map[string]bool {
	ops := make(map[string]bool)
	if strings.Contains(source, "!==") {
		ops["!=="] = true
	}
	if strings.Contains(source, "===") {
		ops["==="] = true
	}
	// Strip the strict forms before probing for the loose ones; !== contains
	// both != and == as substrings.
	loose := strings.ReplaceAll(strings.ReplaceAll(source, "!==", ""), "===", "")
	if strings.Contains(loose, "!=") {
		ops["!="] = true
	}
	if strings.Contains(loose, "==") {
		ops["=="] = true
	}
	if standaloneNot.MatchString(source) {
		ops["!"] = true
	}
	return ops
}

// HasOppositeLogic reports whether the two operator sets contain an inverted
// pair: === vs !==, == vs !=, or standalone ! present on exactly one side.
func HasOppositeLogic(opsA, opsB map[string]bool) bool {
	inverted := func(x, y map[string]bool, pos, neg string) bool {
		return x[pos] && y[neg]
	}
	if inverted(opsA, opsB, "===", "!==") || inverted(opsB, opsA, "===", "!==") {
		return true
	}
	if inverted(opsA, opsB, "==", "!=") || inverted(opsB, opsA, "==", "!=") {
		return true
	}
	if opsA["!"] != opsB["!"] {
		return true
	}
	return false
}

// neutralizeOperators canonicalizes comparison polarity so that two normalized
// forms can be tested for "identical apart from inversion": !== becomes ===,
// != becomes ==, and standalone negations are dropped.
func neutralizeOperators(normalized string) string {
	s := strings.ReplaceAll(normalized, "!==", "===")
	s = strings.ReplaceAll(s, "!=", "==")
	s = strings.ReplaceAll(s, "!", "")
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

// HTTPStatusCodes extracts the integers passed to res.status(N) /
// response.status(N).
func HTTPStatusCodes(source string) map[int]bool {
	codes := make(map[int]bool)
	for _, m := range httpStatusRe.FindAllStringSubmatch(source, -1) {
		if n, err := strconv.Atoi(m[1]); err == nil {
			codes[n] = true
		}
	}
	return codes
}

func statusSetsDiffer(a, b map[int]bool) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	if len(a) != len(b) {
		return true
	}
	for k := range a {
		if !b[k] {
			return true
		}
	}
	return false
}

// MethodChain extracts the longest chain of consecutive .method(...) calls in
// the source, in order. Calls more than chainGapLimit characters apart start
// a new chain; only chains of two or more methods count.
func MethodChain(source string) []string {
	const chainGapLimit = 100

	matches := methodCallRe.FindAllStringSubmatchIndex(source, -1)
	if len(matches) == 0 {
		return nil
	}

	var chains [][]string
	var current []string
	lastPos := -1

	for i, m := range matches {
		name := source[m[2]:m[3]]
		if len(current) > 0 && m[0]-lastPos > chainGapLimit {
			if len(current) > 1 {
				chains = append(chains, current)
			}
			current = []string{name}
		} else {
			current = append(current, name)
		}
		if i < len(matches)-1 {
			lastPos = matches[i+1][0]
		} else {
			lastPos = len(source)
		}
	}
	if len(current) > 1 {
		chains = append(chains, current)
	}
	if len(chains) == 0 {
		return nil
	}

	sort.SliceStable(chains, func(i, j int) bool { return len(chains[i]) > len(chains[j]) })
	return chains[0]
}

// CompareChains scores two method chains:
//
//	identical           -> 1.0
//	both empty          -> 1.0
//	exactly one empty   -> 0.5
//	strict prefix       -> len(shorter)/len(longer)
//	same length, mixed  -> fraction of matching positions
//	otherwise           -> 0.0
func CompareChains(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.5
	}
	if equalChains(a, b) {
		return 1.0
	}
	if len(a) != len(b) {
		shorter, longer := a, b
		if len(a) > len(b) {
			shorter, longer = b, a
		}
		if equalChains(longer[:len(shorter)], shorter) {
			return float64(len(shorter)) / float64(len(longer))
		}
		return 0.0
	}
	match := 0
	for i := range a {
		if a[i] == b[i] {
			match++
		}
	}
	return float64(match) / float64(len(a))
}

func equalChains(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
