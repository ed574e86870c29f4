package api

import (
	"encoding/json"
	"net/http"
	"os"
	"regexp"
	"strings"
)

var targetNamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

func isValidTargetName(name string) bool {
	if name == "" || len(name) > 255 {
		return false
	}
	return targetNamePattern.MatchString(name)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// sanitizeErrorMessage keeps local filesystem layout out of API responses.
func (s *Server) sanitizeErrorMessage(msg string) string {
	if s.cfg != nil && s.cfg.DataDir != "" {
		msg = strings.ReplaceAll(msg, s.cfg.DataDir, "<data-dir>")
	}
	if tmp := os.TempDir(); tmp != "" {
		msg = strings.ReplaceAll(msg, tmp, "<tmp>")
	}
	return msg
}
