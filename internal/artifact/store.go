// Package artifact owns the build output directory: naming for staged and
// final artifacts, the atomic publish swap, and the sweep of residue left by
// interrupted runs.
package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Store manages artifacts under a single output root. Artifacts are
// top-level entries of the root, files or directory trees alike.
type Store struct {
	root string
}

// NewStore creates a Store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{root: dir}
}

// Root returns the output directory.
func (s *Store) Root() string {
	return s.root
}

// EnsureRoot creates the output directory if needed.
func (s *Store) EnsureRoot() error {
	return os.MkdirAll(s.root, 0o755)
}

// Path returns the absolute path of a final artifact name.
func (s *Store) Path(name string) string {
	return filepath.Join(s.root, name)
}

// StagingPath returns the path a single-file artifact is built under before
// publishing.
func (s *Store) StagingPath(name string) string {
	return s.Path(name) + ".tmp"
}

// BuildingPath returns the path a directory artifact is assembled under
// before publishing.
func (s *Store) BuildingPath(name string) string {
	return s.Path(name + "_building")
}

// ScratchPath returns a path for intermediate state that is never published,
// such as per-year fragments.
func (s *Store) ScratchPath(name string) string {
	return s.Path("_" + name)
}

// backupPath is where the previous final artifact is parked during a swap.
func (s *Store) backupPath(name string) string {
	return s.Path(name + "_old")
}

// Publish atomically replaces the final artifact with the staged one. When a
// previous final exists it is renamed aside first, then removed after the
// swap, so readers always see either the old artifact or the new one.
// staged and final are artifact names relative to the root.
func (s *Store) Publish(staged, final string) error {
	stagedPath := s.Path(staged)
	finalPath := s.Path(final)

	if _, err := os.Stat(stagedPath); err != nil {
		return fmt.Errorf("staged artifact %s: %w", staged, err)
	}

	_, err := os.Stat(finalPath)
	switch {
	case err == nil:
		backup := s.backupPath(final)
		if err := os.Rename(finalPath, backup); err != nil {
			return fmt.Errorf("moving %s aside: %w", final, err)
		}
		if err := os.Rename(stagedPath, finalPath); err != nil {
			return fmt.Errorf("publishing %s: %w", final, err)
		}
		if err := os.RemoveAll(backup); err != nil {
			return fmt.Errorf("removing backup of %s: %w", final, err)
		}
	case os.IsNotExist(err):
		if err := os.Rename(stagedPath, finalPath); err != nil {
			return fmt.Errorf("publishing %s: %w", final, err)
		}
	default:
		return fmt.Errorf("checking %s: %w", final, err)
	}

	return nil
}

// Remove deletes a final artifact if it exists. Used when a step supersedes
// an artifact published under an older layout.
func (s *Store) Remove(name string) error {
	err := os.RemoveAll(s.Path(name))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// CleanStale removes top-level residue from interrupted runs: staging files
// and trees (*.tmp), parked backups (*_old), partial directory builds
// (*_building) and scratch state (_*). Returns the removed names, sorted.
func (s *Store) CleanStale() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading output directory: %w", err)
	}

	var removed []string
	for _, entry := range entries {
		name := entry.Name()
		if !isStaleName(name) {
			continue
		}
		if err := os.RemoveAll(s.Path(name)); err != nil {
			return removed, fmt.Errorf("removing stale artifact %s: %w", name, err)
		}
		removed = append(removed, name)
	}

	sort.Strings(removed)
	return removed, nil
}

func isStaleName(name string) bool {
	return strings.HasSuffix(name, ".tmp") ||
		strings.HasSuffix(name, "_old") ||
		strings.HasSuffix(name, "_building") ||
		strings.HasPrefix(name, "_")
}
