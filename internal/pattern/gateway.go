// Package pattern invokes the external AST matcher and normalizes its output
// into Match records. The matcher is optional: when the binary is missing the
// gateway degrades to a native file walk that yields an empty match set.
package pattern

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// ErrMatcherTimeout is returned when the matcher subprocess exceeds the scan
// budget. The child process is killed before this is returned.
var ErrMatcherTimeout = errors.New("pattern matcher timed out")

// Match is one normalized matcher finding. FilePath is relative to the
// scanned repository root.
type Match struct {
	RuleID      string            `json:"ruleId"`
	FilePath    string            `json:"filePath"`
	LineStart   int               `json:"lineStart"`
	LineEnd     int               `json:"lineEnd"`
	MatchedText string            `json:"matchedText"`
	ASTNodeType string            `json:"astNodeType,omitempty"`
	MetaVars    map[string]string `json:"metaVars,omitempty"`
}

// Result carries the matches plus a truncation marker. Truncation is a soft
// failure: the pipeline continues with the partial set.
type Result struct {
	Matches   []Match
	Truncated bool
}

const defaultMaxOutputBytes = 32 << 20

// Gateway runs the matcher binary against one repository at a time.
type Gateway struct {
	binary         string
	rulesDir       string
	timeout        time.Duration
	maxOutputBytes int64
	excludes       []string
	logger         *log.Logger
}

func New(binary, rulesDir string, timeout time.Duration, excludes []string, logger *log.Logger) *Gateway {
	if logger == nil {
		logger = log.Default()
	}
	return &Gateway{
		binary:         binary,
		rulesDir:       rulesDir,
		timeout:        timeout,
		maxOutputBytes: defaultMaxOutputBytes,
		excludes:       excludes,
		logger:         logger,
	}
}

// Scan runs the matcher over repoPath. A missing binary is not an error; the
// fallback walker runs instead and produces zero matches.
func (g *Gateway) Scan(ctx context.Context, repoPath string) (*Result, error) {
	bin, err := exec.LookPath(g.binary)
	if err != nil {
		g.logger.Printf("pattern matcher %q not found, falling back to file walk for %s", g.binary, repoPath)
		return g.fallbackWalk(repoPath)
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, bin, "scan", "--json", "--rules", g.rulesDir, repoPath)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("matcher stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start matcher: %w", err)
	}

	// Read at most maxOutputBytes+1; anything beyond the limit marks the
	// result truncated and the stream is decoded as far as it stays valid.
	raw, readErr := io.ReadAll(io.LimitReader(stdout, g.maxOutputBytes+1))
	truncated := int64(len(raw)) > g.maxOutputBytes
	if truncated {
		raw = raw[:g.maxOutputBytes]
		// Drain so the child is not blocked on a full pipe.
		_, _ = io.Copy(io.Discard, stdout)
	}

	waitErr := cmd.Wait()
	if ctx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("%w after %s: %s", ErrMatcherTimeout, g.timeout, repoPath)
	}
	if readErr != nil {
		return nil, fmt.Errorf("read matcher output: %w", readErr)
	}
	if waitErr != nil && !truncated {
		return nil, fmt.Errorf("matcher failed: %w", waitErr)
	}

	matches, decodeErr := decodeMatches(raw)
	if decodeErr != nil && !truncated {
		return nil, fmt.Errorf("decode matcher output: %w", decodeErr)
	}
	if truncated {
		g.logger.Printf("matcher output for %s truncated at %d bytes, keeping %d matches", repoPath, g.maxOutputBytes, len(matches))
	}
	return &Result{Matches: matches, Truncated: truncated}, nil
}

// decodeMatches streams the JSON array element by element so that a truncated
// tail costs only the incomplete entries, not the whole result.
func decodeMatches(raw []byte) ([]Match, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	if _, err := dec.Token(); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, err
	}

	var matches []Match
	for dec.More() {
		var m Match
		if err := dec.Decode(&m); err != nil {
			return matches, err
		}
		matches = append(matches, m)
	}
	return matches, nil
}

// fallbackWalk enumerates source files honoring the exclude globs. It exists
// so a host without the matcher still completes the pipeline, reporting zero
// blocks rather than erroring every scheduled scan.
func (g *Gateway) fallbackWalk(repoPath string) (*Result, error) {
	files := 0
	err := filepath.WalkDir(repoPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, relErr := filepath.Rel(repoPath, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if g.excluded(rel) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if !d.IsDir() && sourceFile(path) {
			files++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", repoPath, err)
	}
	g.logger.Printf("fallback walk of %s saw %d source files, no matcher available", repoPath, files)
	return &Result{Matches: nil}, nil
}

func (g *Gateway) excluded(rel string) bool {
	if rel == "." {
		return false
	}
	for _, pat := range g.excludes {
		if ok, err := doublestar.Match(pat, rel); err == nil && ok {
			return true
		}
	}
	return false
}

func sourceFile(path string) bool {
	switch filepath.Ext(path) {
	case ".js", ".jsx", ".ts", ".tsx", ".mjs", ".cjs":
		return true
	default:
		return false
	}
}
