package runstate

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ErrNotFound is returned when no run matches an id or prefix.
var ErrNotFound = errors.New("run not found")

// Store manages run state on disk, one directory per run.
type Store struct {
	baseDir string // defaults to ~/.gist/runs
}

// NewStore creates a Store rooted at baseDir.
func NewStore(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

// DefaultStore returns a Store at ~/.gist/runs, creating the directory if needed.
func DefaultStore() (*Store, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("get home dir: %w", err)
	}
	dir := filepath.Join(home, ".gist", "runs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return &Store{baseDir: dir}, nil
}

// BaseDir returns the store's root directory.
func (s *Store) BaseDir() string {
	return s.baseDir
}

func (s *Store) runDir(id string) string {
	return filepath.Join(s.baseDir, id)
}

func (s *Store) runPath(id string) string {
	return filepath.Join(s.runDir(id), "run.json")
}

// Create writes a new run to disk. It fails if the run already exists.
func (s *Store) Create(rs *RunState) error {
	if rs.ID == "" || strings.ContainsAny(rs.ID, `/\`) {
		return fmt.Errorf("invalid run id %q", rs.ID)
	}
	dir := s.runDir(rs.ID)
	if _, err := os.Stat(dir); err == nil {
		return fmt.Errorf("run %s already exists", rs.ID)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir run dir: %w", err)
	}
	return s.write(rs)
}

// Get reads the state of a run.
func (s *Store) Get(id string) (*RunState, error) {
	data, err := os.ReadFile(s.runPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	rs, err := Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("read run %s: %w", id, err)
	}
	return rs, nil
}

// Save overwrites the persisted state of an existing run.
func (s *Store) Save(rs *RunState) error {
	if _, err := os.Stat(s.runPath(rs.ID)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("run %s: %w", rs.ID, ErrNotFound)
		}
		return err
	}
	rs.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	return s.write(rs)
}

// Update performs a read-modify-write of the run state. fn may return an
// error to abort without writing.
func (s *Store) Update(id string, fn func(*RunState) error) (*RunState, error) {
	rs, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if err := fn(rs); err != nil {
		return nil, err
	}
	if err := s.Save(rs); err != nil {
		return nil, err
	}
	return rs, nil
}

func (s *Store) write(rs *RunState) error {
	data, err := Marshal(rs)
	if err != nil {
		return err
	}
	if err := WriteAtomic(s.runPath(rs.ID), data); err != nil {
		return fmt.Errorf("write run.json: %w", err)
	}
	return nil
}

// Resolve expands a unique id prefix to a full run id.
func (s *Store) Resolve(prefix string) (string, error) {
	if prefix == "" {
		return "", fmt.Errorf("empty run id")
	}
	if _, err := os.Stat(s.runPath(prefix)); err == nil {
		return prefix, nil
	}
	entries, err := os.ReadDir(s.baseDir)
	if err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("read dir %s: %w", s.baseDir, err)
	}
	var matches []string
	for _, entry := range entries {
		if entry.IsDir() && strings.HasPrefix(entry.Name(), prefix) {
			matches = append(matches, entry.Name())
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("run %s: %w", prefix, ErrNotFound)
	case 1:
		return matches[0], nil
	default:
		sort.Strings(matches)
		return "", fmt.Errorf("run id prefix %q is ambiguous (%d matches)", prefix, len(matches))
	}
}

// List returns all runs, optionally filtered by state, oldest first.
// Pass "" for stateFilter to return all runs.
func (s *Store) List(stateFilter State) ([]RunState, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir %s: %w", s.baseDir, err)
	}

	var runs []RunState
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		rs, err := s.Get(entry.Name())
		if err != nil {
			continue // skip broken entries
		}
		if stateFilter == "" || rs.State == stateFilter {
			runs = append(runs, *rs)
		}
	}

	sort.Slice(runs, func(i, j int) bool {
		if runs[i].CreatedAt != runs[j].CreatedAt {
			return runs[i].CreatedAt < runs[j].CreatedAt
		}
		return runs[i].ID < runs[j].ID
	})
	return runs, nil
}

// Delete removes all data for a run.
func (s *Store) Delete(id string) error {
	dir := s.runDir(id)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return os.RemoveAll(dir)
}

// SavePrompt writes the rendered prompt sent for one inference call so it can
// be inspected after the run.
func (s *Store) SavePrompt(id, stage, name, prompt string) error {
	path := filepath.Join(s.runDir(id), "prompts", stage, name+".md")
	return WriteAtomic(path, []byte(prompt))
}

// GetPrompt reads a prompt saved with SavePrompt.
func (s *Store) GetPrompt(id, stage, name string) (string, error) {
	data, err := os.ReadFile(filepath.Join(s.runDir(id), "prompts", stage, name+".md"))
	if os.IsNotExist(err) {
		return "", fmt.Errorf("prompt %s/%s of run %s: %w", stage, name, id, ErrNotFound)
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}
