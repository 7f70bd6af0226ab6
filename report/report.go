// Package report owns the per-run output directory: its layout, the run log
// and the manifest written at the end.
package report

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	DirPrefix       = "xyz."
	TimestampLayout = "20060102_150405"

	RawDirName    = "raw_downloads"
	LogsDirName   = "logs"
	LogFileName   = "run.log"
	CombinedName  = "combined.csv"
	ManifestName  = "manifest.yaml"
	maxCollisions = 1000
)

var ErrEmptyLabel = errors.New("run label is empty")

// Run is the directory tree holding one invocation's artifacts. It is never
// reused by a later run.
type Run struct {
	ID      string
	Label   string
	Started time.Time

	Dir          string
	RawDir       string
	LogsDir      string
	LogPath      string
	CombinedPath string
	ManifestPath string
}

// NewRun creates <root>/xyz.<label>_<YYYYMMDD_HHMMSS>/ with its raw_downloads
// and logs subdirectories. A run started within the same second as an
// existing one gets a numeric suffix instead of sharing its directory.
func NewRun(root, label string, now time.Time) (*Run, error) {
	clean := SanitizeLabel(label)
	if clean == "" {
		return nil, ErrEmptyLabel
	}
	if strings.TrimSpace(root) == "" {
		root = "."
	}

	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create output root: %w", err)
	}

	base := DirName(clean, now)
	dir := filepath.Join(root, base)
	for i := 2; ; i++ {
		err := os.Mkdir(dir, 0o755)
		if err == nil {
			break
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create run directory: %w", err)
		}
		if i > maxCollisions {
			return nil, fmt.Errorf("create run directory: too many runs named %s", base)
		}
		dir = filepath.Join(root, base+"_"+strconv.Itoa(i))
	}

	run := &Run{
		ID:           uuid.NewString(),
		Label:        clean,
		Started:      now,
		Dir:          dir,
		RawDir:       filepath.Join(dir, RawDirName),
		LogsDir:      filepath.Join(dir, LogsDirName),
		CombinedPath: filepath.Join(dir, CombinedName),
		ManifestPath: filepath.Join(dir, ManifestName),
	}
	run.LogPath = filepath.Join(run.LogsDir, LogFileName)

	for _, sub := range []string{run.RawDir, run.LogsDir} {
		if err := os.Mkdir(sub, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", filepath.Base(sub), err)
		}
	}

	return run, nil
}

// DirName returns the run directory name for an already sanitised label.
func DirName(label string, ts time.Time) string {
	return DirPrefix + label + "_" + ts.Format(TimestampLayout)
}

// SanitizeLabel keeps a label usable as a single path segment.
func SanitizeLabel(label string) string {
	label = strings.TrimSpace(label)
	var b strings.Builder
	for _, r := range label {
		switch {
		case r == '/' || r == '\\' || r == ':' || r == '*' || r == '?' || r == '"' || r == '<' || r == '>' || r == '|':
			b.WriteRune('_')
		case r == ' ' || r == '\t':
			b.WriteRune('_')
		case r < 0x20 || r == 0x7f:
			continue
		default:
			b.WriteRune(r)
		}
	}
	return strings.Trim(b.String(), ".")
}

// OpenLog opens the run log for appending. The returned writer never fails:
// write errors are remembered and reported by Err so logging cannot abort a
// run.
func (r *Run) OpenLog() (*BestEffortWriter, error) {
	file, err := os.OpenFile(r.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open run log: %w", err)
	}
	return &BestEffortWriter{w: file, c: file}, nil
}

// Rel returns path relative to the run directory, or path unchanged when it
// lies outside.
func (r *Run) Rel(path string) string {
	if path == "" {
		return ""
	}
	rel, err := filepath.Rel(r.Dir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return filepath.ToSlash(rel)
}

// BestEffortWriter swallows write errors from the underlying writer.
type BestEffortWriter struct {
	mu  sync.Mutex
	w   io.Writer
	c   io.Closer
	err error
}

// NewBestEffortWriter wraps w. Close closes w when it is an io.Closer.
func NewBestEffortWriter(w io.Writer) *BestEffortWriter {
	c, _ := w.(io.Closer)
	return &BestEffortWriter{w: w, c: c}
}

func (b *BestEffortWriter) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.w != nil {
		if _, err := b.w.Write(p); err != nil && b.err == nil {
			b.err = err
		}
	}
	return len(p), nil
}

// Err returns the first write error seen, if any.
func (b *BestEffortWriter) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

func (b *BestEffortWriter) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.c == nil {
		return nil
	}
	err := b.c.Close()
	b.c = nil
	b.w = nil
	return err
}
