// Package snapshot persists fetched datasets as JSON files for the static dashboard.
package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"runalyze-proxy-go/internal/model"
)

const metadataFile = "metadata.json"

// Store writes snapshot files into a single directory.
type Store struct {
	dir string
	now func() time.Time
}

// NewStore returns a Store rooted at dir. The directory is created on first write.
func NewStore(dir string) *Store {
	return &Store{dir: dir, now: time.Now}
}

// Dir returns the output directory.
func (s *Store) Dir() string { return s.dir }

// Save writes v as indented JSON to name and returns the number of bytes written.
// The file is replaced atomically so the dashboard never reads a partial file.
func (s *Store) Save(name string, v any) (int64, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return 0, fmt.Errorf("encode %s: %w", name, err)
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return 0, fmt.Errorf("create %s: %w", s.dir, err)
	}

	tmp, err := os.CreateTemp(s.dir, "."+name+".*")
	if err != nil {
		return 0, fmt.Errorf("create temp for %s: %w", name, err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		return 0, fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return 0, fmt.Errorf("chmod %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, name)); err != nil {
		return 0, fmt.Errorf("rename %s: %w", name, err)
	}

	return int64(buf.Len()), nil
}

// SaveMetadata writes metadata.json with the current time and counts.
func (s *Store) SaveMetadata(counts map[string]int) (model.Metadata, error) {
	md := model.NewMetadata(s.now(), counts)
	if _, err := s.Save(metadataFile, md); err != nil {
		return md, err
	}
	return md, nil
}
