// Package state hands out collision-free file names inside a run directory.
package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var ErrEmptyName = errors.New("file name is empty")

type Tracker interface {
	Claim(name string) (string, error)
	Claimed(path string) bool
	Snapshot() Snapshot
}

type Snapshot struct {
	Claimed int
}

// MemoryTracker reserves names without looking at the filesystem.
type MemoryTracker struct {
	mu      sync.RWMutex
	claimed map[string]struct{}
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{claimed: make(map[string]struct{})}
}

// Claim reserves name, or the first free "base_N.ext" variant of it.
func (m *MemoryTracker) Claim(name string) (string, error) {
	return m.claim(name, func(string) bool { return false })
}

func (m *MemoryTracker) Claimed(name string) bool {
	m.mu.RLock()
	_, ok := m.claimed[name]
	m.mu.RUnlock()
	return ok
}

func (m *MemoryTracker) Snapshot() Snapshot {
	m.mu.RLock()
	count := len(m.claimed)
	m.mu.RUnlock()
	return Snapshot{Claimed: count}
}

func (m *MemoryTracker) claim(name string, taken func(string) bool) (string, error) {
	// strip any directory component so a name cannot escape the target dir
	clean := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if clean == "" || clean == "." || clean == "/" || clean == ".." {
		return "", ErrEmptyName
	}

	ext := filepath.Ext(clean)
	base := clean[:len(clean)-len(ext)]

	m.mu.Lock()
	defer m.mu.Unlock()

	candidate := clean
	for i := 1; ; i++ {
		if _, ok := m.claimed[candidate]; !ok && !taken(candidate) {
			m.claimed[candidate] = struct{}{}
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s_%d%s", base, i, ext)
	}
}

// FileTracker reserves names inside a directory, also skipping names that
// already exist on disk.
type FileTracker struct {
	*MemoryTracker
	dir string
}

func NewFileTracker(dir string) (*FileTracker, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("tracker directory is empty")
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create tracker directory: %w", err)
	}

	return &FileTracker{
		MemoryTracker: NewMemoryTracker(),
		dir:           dir,
	}, nil
}

// Dir returns the directory names are claimed in.
func (f *FileTracker) Dir() string {
	return f.dir
}

// Claim reserves a free name in the directory and returns its full path.
func (f *FileTracker) Claim(name string) (string, error) {
	claimed, err := f.claim(name, func(candidate string) bool {
		_, err := os.Lstat(filepath.Join(f.dir, candidate))
		return !errors.Is(err, os.ErrNotExist)
	})
	if err != nil {
		return "", err
	}
	return filepath.Join(f.dir, claimed), nil
}

// Claimed reports whether path was handed out by this tracker.
func (f *FileTracker) Claimed(path string) bool {
	if filepath.Dir(path) != filepath.Clean(f.dir) {
		return false
	}
	return f.MemoryTracker.Claimed(filepath.Base(path))
}
