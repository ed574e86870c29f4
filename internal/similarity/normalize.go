package similarity

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// Identifiers that carry semantic meaning and survive normalization. Replacing
// Math.max and Math.min both with "var.var" would make opposite operations
// look identical.
var semanticMethods = []string{
	// math
	"max", "min", "abs", "floor", "ceil", "round",
	// string
	"trim", "toLowerCase", "toUpperCase", "replace",
	// http response
	"status", "json", "send", "redirect",
	// array / object / async
	"map", "filter", "reduce", "forEach", "find", "some", "every",
	"slice", "splice", "push", "pop", "shift", "unshift",
	"join", "split", "includes", "indexOf",
	"get", "set", "has", "delete",
	"keys", "values", "entries",
	"then", "catch", "finally", "async", "await",
	"reverse", "sort", "concat",
}

var semanticObjects = []string{
	"Math", "Object", "Array", "String", "Number", "Boolean",
	"console", "process", "JSON", "Date", "Promise",
}

var (
	lineCommentRe  = regexp.MustCompile(`//[^\n]*`)
	blockCommentRe = regexp.MustCompile(`(?s)/\*.*?\*/`)
	whitespaceRe   = regexp.MustCompile(`\s+`)
	singleQuoteRe  = regexp.MustCompile(`'[^']*'`)
	doubleQuoteRe  = regexp.MustCompile(`"[^"]*"`)
	backtickRe     = regexp.MustCompile("`[^`]*`")
	numberRe       = regexp.MustCompile(`\b\d+\b`)
	lowerIdentRe   = regexp.MustCompile(`\b[a-z][a-zA-Z0-9_]*\b`)
	upperIdentRe   = regexp.MustCompile(`\b[A-Z][A-Z0-9_]*\b`)
	punctSpaceRe   = regexp.MustCompile(`\s*([(){}\[\];,.])\s*`)
	operatorRe     = regexp.MustCompile(`\s*(=>|===?|!==?|[+\-*/%<>=&|])\s*`)
)

type preserved struct {
	re          *regexp.Regexp
	placeholder string
	word        string
}

// The double-underscore placeholder convention keeps reserved tokens inert
// during the identifier passes: neither the lowercase nor the uppercase
// identifier pattern can match across the leading underscores.
func buildPreserved(words []string, prefix string) []preserved {
	out := make([]preserved, 0, len(words))
	for _, w := range words {
		out = append(out, preserved{
			re:          regexp.MustCompile(`\b` + w + `\b`),
			placeholder: "__" + prefix + "_" + strings.ToUpper(w) + "__",
			word:        w,
		})
	}
	return out
}

var (
	preservedMethods  = buildPreserved(semanticMethods, "KEEP")
	preservedObjects  = buildPreserved(semanticObjects, "KEEPOBJ")
	preservedLiterals = []preserved{
		{re: regexp.MustCompile(`\bSTR\b`), placeholder: "__KEEPLIT_STR__", word: "STR"},
		{re: regexp.MustCompile(`\bNUM\b`), placeholder: "__KEEPLIT_NUM__", word: "NUM"},
		{re: regexp.MustCompile(`\bCONST\b`), placeholder: "__KEEPLIT_CONST__", word: "CONST"},
	}
)

// Normalize reduces source code to its structural skeleton: comments removed,
// literals replaced by STR/NUM, non-semantic identifiers replaced by
// var/CONST, operators space-separated. The result is a fixed point:
// Normalize(Normalize(x)) == Normalize(x).
//
// When preserveSemantics is false the whitelist is skipped and every
// identifier is anonymized.
func Normalize(source string, preserveSemantics bool) string {
	if source == "" {
		return ""
	}

	s := lineCommentRe.ReplaceAllString(source, "")
	s = blockCommentRe.ReplaceAllString(s, "")
	s = whitespaceRe.ReplaceAllString(s, " ")

	s = singleQuoteRe.ReplaceAllString(s, "'STR'")
	s = doubleQuoteRe.ReplaceAllString(s, `"STR"`)
	s = backtickRe.ReplaceAllString(s, "`STR`")
	s = numberRe.ReplaceAllString(s, "NUM")

	for _, p := range preservedLiterals {
		s = p.re.ReplaceAllString(s, p.placeholder)
	}
	if preserveSemantics {
		for _, p := range preservedObjects {
			s = p.re.ReplaceAllString(s, p.placeholder)
		}
		for _, p := range preservedMethods {
			s = p.re.ReplaceAllString(s, p.placeholder)
		}
	}

	s = lowerIdentRe.ReplaceAllString(s, "var")
	s = upperIdentRe.ReplaceAllString(s, "CONST")

	if preserveSemantics {
		for _, p := range preservedMethods {
			s = strings.ReplaceAll(s, p.placeholder, p.word)
		}
		for _, p := range preservedObjects {
			s = strings.ReplaceAll(s, p.placeholder, p.word)
		}
	}
	for _, p := range preservedLiterals {
		s = strings.ReplaceAll(s, p.placeholder, p.word)
	}

	s = punctSpaceRe.ReplaceAllString(s, "$1")
	s = operatorRe.ReplaceAllString(s, " $1 ")
	s = whitespaceRe.ReplaceAllString(s, " ")

	return strings.TrimSpace(s)
}

// ContentHash returns the first 16 hex characters of the SHA-256 of the
// source with all whitespace removed. Stripping whitespace entirely (rather
// than collapsing it) makes `f(a, b)` and `f(a,b)` hash identically, which
// Layer 1 depends on; semantic divergence between hash twins is caught by the
// exact-group validation pass.
func ContentHash(source string) string {
	stripped := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r', '\v', '\f':
			return -1
		}
		return r
	}, source)
	sum := sha256.Sum256([]byte(stripped))
	return hex.EncodeToString(sum[:])[:16]
}

// ASTHash fingerprints the normalized structure of the source. Two blocks
// with the same shape but different identifiers share an AST hash.
func ASTHash(source string) string {
	sum := sha256.Sum256([]byte(Normalize(source, true)))
	return hex.EncodeToString(sum[:])
}
