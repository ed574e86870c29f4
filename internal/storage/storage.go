// Package storage owns the daemon's data directory layout and durable writes.
// Everything written here goes through an atomic temp-file rename so readers
// never observe a half-written document.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

var jobFilePattern = regexp.MustCompile(`^[A-Za-z0-9._-]+\.json$`)

// Storage roots all durable artifacts under one data directory:
//
//	jobs/completed/<id>.json
//	jobs/failed/<id>.json
//	reports/<scan-id>/...
type Storage struct {
	dataDir string
}

func New(dataDir string) *Storage {
	return &Storage{dataDir: dataDir}
}

// DataDir returns the configured root.
func (s *Storage) DataDir() string {
	return s.dataDir
}

func (s *Storage) jobsDir(failed bool) string {
	if failed {
		return filepath.Join(s.dataDir, "jobs", "failed")
	}
	return filepath.Join(s.dataDir, "jobs", "completed")
}

// ReportDir returns (and creates) the artifact directory for one scan.
func (s *Storage) ReportDir(scanID string) (string, error) {
	dir := filepath.Join(s.dataDir, "reports", sanitize(scanID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}
	return dir, nil
}

// SaveJobRecord persists the final state of a job as one JSON document, filed
// under completed or failed.
func (s *Storage) SaveJobRecord(jobID string, failed bool, record any) error {
	dir := s.jobsDir(failed)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create jobs dir: %w", err)
	}
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("encode job record: %w", err)
	}
	path := filepath.Join(dir, sanitize(jobID)+".json")
	if err := WriteFileAtomic(path, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("write job record: %w", err)
	}
	return nil
}

// ListJobRecords returns the stored job ids in one bucket, newest first.
func (s *Storage) ListJobRecords(failed bool) ([]string, error) {
	dir := s.jobsDir(failed)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read jobs dir: %w", err)
	}

	type stamped struct {
		id  string
		mod int64
	}
	var found []stamped
	for _, e := range entries {
		if e.IsDir() || !jobFilePattern.MatchString(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		found = append(found, stamped{
			id:  strings.TrimSuffix(e.Name(), ".json"),
			mod: info.ModTime().UnixNano(),
		})
	}
	sort.Slice(found, func(i, j int) bool { return found[i].mod > found[j].mod })

	ids := make([]string, len(found))
	for i, f := range found {
		ids[i] = f.id
	}
	return ids, nil
}

// LoadJobRecord reads one stored job document into dst.
func (s *Storage) LoadJobRecord(jobID string, failed bool, dst any) error {
	path := filepath.Join(s.jobsDir(failed), sanitize(jobID)+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read job record: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode job record %s: %w", jobID, err)
	}
	return nil
}

func sanitize(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.' || r == '_' || r == '-':
			return r
		default:
			return '_'
		}
	}, id)
}

// WriteFileAtomic writes data to path via a temp file and rename, fsyncing
// before the swap.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)

	tmp, err := os.CreateTemp(dir, "."+base+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}
