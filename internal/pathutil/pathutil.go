// Package pathutil guards filesystem paths assembled from external input,
// such as file paths reported by the pattern matcher.
package pathutil

import (
	"os"
	"path/filepath"
	"strings"
)

// IsSafeRelative reports whether path can be joined under a root directory
// without escaping it. Absolute paths and traversal above the root are
// rejected; the empty path names the root itself and is allowed.
func IsSafeRelative(path string) bool {
	if path == "" {
		return true
	}
	if filepath.IsAbs(path) {
		return false
	}
	clean := filepath.Clean(path)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(os.PathSeparator)) {
		return false
	}
	return true
}
