// Package blocks lifts pattern matches into typed CodeBlock records: function
// name resolution by backward scan, category mapping, content hashing, and
// per-function deduplication.
package blocks

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/clonehoundhq/clonehound/internal/model"
	"github.com/clonehoundhq/clonehound/internal/pathutil"
	"github.com/clonehoundhq/clonehound/internal/pattern"
	"github.com/clonehoundhq/clonehound/internal/similarity"
)

// functionLookBack bounds the backward scan for an enclosing declaration.
const functionLookBack = 10

// Declaration shapes recognized when resolving the enclosing function. The
// first capture group is always the name.
var functionNamePatterns = []*regexp.Regexp{
	regexp.MustCompile(`function\s+(\w+)\s*\(`),
	regexp.MustCompile(`const\s+(\w+)\s*=\s*(?:async\s+)?function`),
	regexp.MustCompile(`const\s+(\w+)\s*=\s*(?:async\s+)?\(`),
	regexp.MustCompile(`let\s+(\w+)\s*=\s*(?:async\s+)?function`),
	regexp.MustCompile(`let\s+(\w+)\s*=\s*(?:async\s+)?\(`),
	regexp.MustCompile(`var\s+(\w+)\s*=\s*(?:async\s+)?function`),
	regexp.MustCompile(`var\s+(\w+)\s*=\s*(?:async\s+)?\(`),
	regexp.MustCompile(`async\s+function\s+(\w+)\s*\(`),
	regexp.MustCompile(`(\w+)\s*:\s*function`),
	regexp.MustCompile(`(\w+)\s*:\s*async\s+function`),
	regexp.MustCompile(`export\s+function\s+(\w+)`),
	regexp.MustCompile(`export\s+const\s+(\w+)\s*=`),
}

// categoryByRule maps matcher rule ids to the coarse semantic category. Rules
// not listed default to utility.
var categoryByRule = map[string]model.Category{
	"object-manipulation":    model.CategoryUtility,
	"array-map-filter":       model.CategoryUtility,
	"string-manipulation":    model.CategoryUtility,
	"type-checking":          model.CategoryUtility,
	"validation":             model.CategoryValidation,
	"request-validation":     model.CategoryValidation,
	"express-route-handlers": model.CategoryAPIHandler,
	"auth-checks":            model.CategoryAPIHandler,
	"error-responses":        model.CategoryErrorHandling,
	"prisma-operations":      model.CategoryDatabase,
	"query-builders":         model.CategoryDatabase,
	"connection-handling":    model.CategoryDatabase,
	"await-patterns":         model.CategoryAsync,
	"promise-chains":         model.CategoryAsync,
	"env-variables":          model.CategoryConfiguration,
	"config-objects":         model.CategoryConfiguration,
	"console-statements":     model.CategoryLogging,
	"logger-patterns":        model.CategoryLogging,
}

// Extractor converts matcher output for one repository into code blocks.
type Extractor struct {
	logger *log.Logger
}

func New(logger *log.Logger) *Extractor {
	if logger == nil {
		logger = log.Default()
	}
	return &Extractor{logger: logger}
}

// Extract builds deduplicated CodeBlock records from the matches found in
// repoPath. Matches that cannot be lifted are skipped with a warning; one bad
// match never fails the scan.
func (e *Extractor) Extract(repoPath string, matches []pattern.Match) []model.CodeBlock {
	blocks := make([]model.CodeBlock, 0, len(matches))
	for _, m := range matches {
		if m.FilePath == "" || m.LineStart <= 0 {
			e.logger.Printf("skipping malformed match for rule %q in %s", m.RuleID, repoPath)
			continue
		}
		// Match paths are joined under repoPath below; refuse any that would
		// escape it.
		if !pathutil.IsSafeRelative(filepath.FromSlash(m.FilePath)) {
			e.logger.Printf("skipping match with unsafe path %q for rule %q", m.FilePath, m.RuleID)
			continue
		}
		lineEnd := m.LineEnd
		if lineEnd < m.LineStart {
			lineEnd = m.LineStart
		}

		var tags []string
		if name := e.functionName(repoPath, m); name != "" {
			tags = append(tags, "function:"+name)
		}

		blocks = append(blocks, model.CodeBlock{
			ID:             blockID(repoPath, m.FilePath, m.LineStart),
			PatternID:      m.RuleID,
			Category:       RuleCategory(m.RuleID),
			RelativePath:   m.FilePath,
			SourceCode:     m.MatchedText,
			Language:       languageFor(m.FilePath),
			RepositoryPath: repoPath,
			LineCount:      lineEnd - m.LineStart + 1,
			Tags:           tags,
			ContentHash:    similarity.ContentHash(m.MatchedText),
			Location: model.SourceLocation{
				FilePath:  filepath.Join(repoPath, filepath.FromSlash(m.FilePath)),
				LineStart: m.LineStart,
				LineEnd:   lineEnd,
			},
		})
	}
	return Deduplicate(blocks)
}

// RuleCategory resolves a matcher rule id to its semantic category.
func RuleCategory(ruleID string) model.Category {
	if c, ok := categoryByRule[ruleID]; ok {
		return c
	}
	return model.CategoryUtility
}

// functionName resolves the enclosing function: first from the matched text
// itself, then by scanning the file backwards from the match line.
func (e *Extractor) functionName(repoPath string, m pattern.Match) string {
	if name := matchFunctionPattern(m.MatchedText); name != "" {
		return name
	}
	return e.scanFileBackward(repoPath, m.FilePath, m.LineStart)
}

func matchFunctionPattern(text string) string {
	for _, re := range functionNamePatterns {
		if sub := re.FindStringSubmatch(text); sub != nil && sub[1] != "" {
			return sub[1]
		}
	}
	return ""
}

// scanFileBackward reads the source file and walks upward from the match line
// looking for the nearest declaration, at most functionLookBack lines away.
func (e *Extractor) scanFileBackward(repoPath, relPath string, lineStart int) string {
	full := filepath.Join(repoPath, filepath.FromSlash(relPath))
	data, err := os.ReadFile(full)
	if err != nil {
		e.logger.Printf("could not read %s for function context: %v", full, err)
		return ""
	}

	lines := strings.Split(string(data), "\n")
	stop := lineStart - functionLookBack - 1
	if stop < 0 {
		stop = 0
	}
	for i := lineStart - 1; i >= stop; i-- {
		if i >= len(lines) {
			continue
		}
		if name := matchFunctionPattern(lines[i]); name != "" {
			return name
		}
	}
	return ""
}

// Deduplicate removes repeated matches of the same code. Blocks carrying a
// function tag dedupe by (repository, file, function) keeping the lowest
// starting line; untagged blocks dedupe by exact location.
func Deduplicate(blocks []model.CodeBlock) []model.CodeBlock {
	type slot struct {
		index int
		line  int
	}
	byFunction := make(map[string]slot)
	seenLocation := make(map[string]bool)

	unique := make([]model.CodeBlock, 0, len(blocks))
	for _, b := range blocks {
		if name := b.FunctionName(); name != "" {
			key := b.RepositoryPath + "\x00" + b.RelativePath + "\x00" + name
			if s, ok := byFunction[key]; ok {
				if b.Location.LineStart < s.line {
					unique[s.index] = b
					byFunction[key] = slot{index: s.index, line: b.Location.LineStart}
				}
				continue
			}
			byFunction[key] = slot{index: len(unique), line: b.Location.LineStart}
			unique = append(unique, b)
			continue
		}

		key := b.RepositoryPath + "\x00" + b.RelativePath + "\x00" + fmt.Sprint(b.Location.LineStart)
		if seenLocation[key] {
			continue
		}
		seenLocation[key] = true
		unique = append(unique, b)
	}
	return unique
}

// blockID keys on the repository too: in cross-repository analysis the same
// relative path and line can occur in several members.
func blockID(repoPath, relPath string, lineStart int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%d", repoPath, relPath, lineStart)))
	return "cb_" + hex.EncodeToString(sum[:])[:12]
}

func languageFor(relPath string) string {
	switch filepath.Ext(relPath) {
	case ".ts", ".tsx":
		return "typescript"
	default:
		return "javascript"
	}
}
