package snapshot

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestStore_Save(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	s := NewStore(dir)

	records := []map[string]any{
		{"date": "2024-01-01", "value": 52, "note": "a<b & c>d"},
	}

	n, err := s.Save("resting_hr.json", records)
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, "resting_hr.json"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if int64(len(raw)) != n {
		t.Errorf("Save() = %d bytes, file has %d", n, len(raw))
	}
	if !strings.Contains(string(raw), "\n  {\n    \"date\"") {
		t.Errorf("expected two-space indentation, got:\n%s", raw)
	}
	if !strings.Contains(string(raw), "a<b & c>d") {
		t.Errorf("HTML characters should not be escaped, got:\n%s", raw)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only the target file in %s, found %d entries", dir, len(entries))
	}
}

func TestStore_SaveOverwrites(t *testing.T) {
	s := NewStore(t.TempDir())

	if _, err := s.Save("hrv.json", []int{1, 2, 3}); err != nil {
		t.Fatalf("first Save() error = %v", err)
	}
	if _, err := s.Save("hrv.json", []int{}); err != nil {
		t.Fatalf("second Save() error = %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(s.Dir(), "hrv.json"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if strings.TrimSpace(string(raw)) != "[]" {
		t.Errorf("file = %q, want []", raw)
	}
}

func TestStore_SaveMetadata(t *testing.T) {
	s := NewStore(t.TempDir())
	s.now = func() time.Time { return time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC) }

	if _, err := s.SaveMetadata(map[string]int{"activities": 12, "hrv": 3}); err != nil {
		t.Fatalf("SaveMetadata() error = %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(s.Dir(), "metadata.json"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	var got struct {
		LastUpdated string         `json:"last_updated"`
		Counts      map[string]int `json:"counts"`
	}
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.LastUpdated != "2024-03-01T06:00:00.000000Z" {
		t.Errorf("last_updated = %q", got.LastUpdated)
	}
	if got.Counts["activities"] != 12 || got.Counts["hrv"] != 3 {
		t.Errorf("counts = %v", got.Counts)
	}
}

func TestStore_SaveUnencodable(t *testing.T) {
	s := NewStore(t.TempDir())

	if _, err := s.Save("bad.json", map[string]any{"ch": make(chan int)}); err == nil {
		t.Fatal("Save() expected error for unencodable value, got nil")
	}
	if _, err := os.Stat(filepath.Join(s.Dir(), "bad.json")); !os.IsNotExist(err) {
		t.Errorf("bad.json should not exist, stat err = %v", err)
	}
}
