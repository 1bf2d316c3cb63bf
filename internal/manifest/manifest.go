// Package manifest persists which build steps have completed. The manifest
// is the gate for incremental runs: a step id missing from it is pending.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/avelline/marketmill/internal/model"
)

// Entry records one completed step.
type Entry struct {
	CompletedAt    time.Time `json:"completed_at"`
	ElapsedSeconds float64   `json:"elapsed_seconds"`
}

// Manifest maps step ids to their completion records. Entries under retired
// ids are kept; they never satisfy a current step with a different id.
type Manifest map[string]Entry

// Has reports whether the step id has a completion record.
func (m Manifest) Has(id string) bool {
	_, ok := m[id]
	return ok
}

// Record stores or overwrites the completion entry for a step id.
func (m Manifest) Record(id string, at time.Time, elapsed time.Duration) {
	m[id] = Entry{CompletedAt: at, ElapsedSeconds: model.RoundSeconds(elapsed)}
}

// Store reads and writes the manifest document at a fixed path.
type Store struct {
	path string
}

// NewStore creates a Store for the given manifest path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the manifest location.
func (s *Store) Path() string {
	return s.path
}

// Load reads the manifest. A missing file yields an empty manifest.
func (s *Store) Load() (Manifest, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Manifest{}, nil
		}
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if m == nil {
		m = Manifest{}
	}

	return m, nil
}

// Save writes the whole manifest atomically: marshal, write a sibling .tmp
// file, rename over the destination.
func (s *Store) Save(m Manifest) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create manifest directory: %w", err)
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temporary file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}

	return nil
}
