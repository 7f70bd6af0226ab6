package state

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryTrackerClaim(t *testing.T) {
	m := NewMemoryTracker()

	tests := []struct {
		name string
		want string
	}{
		{name: "july.csv", want: "july.csv"},
		{name: "july.csv", want: "july_1.csv"},
		{name: "july.csv", want: "july_2.csv"},
		{name: "../../etc/passwd", want: "passwd"},
		{name: `..\..\evil.csv`, want: "evil.csv"},
		{name: "README", want: "README"},
		{name: "README", want: "README_1"},
	}

	for _, tt := range tests {
		got, err := m.Claim(tt.name)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
	assert.Equal(t, len(tests), m.Snapshot().Claimed)
}

func TestMemoryTrackerRejectsEmpty(t *testing.T) {
	m := NewMemoryTracker()
	for _, name := range []string{"", ".", "..", "/"} {
		_, err := m.Claim(name)
		assert.ErrorIs(t, err, ErrEmptyName, "name %q", name)
	}
}

func TestFileTrackerSkipsExistingFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "data.csv"), []byte("x"), 0o644))

	tracker, err := NewFileTracker(dir)
	require.NoError(t, err)

	got, err := tracker.Claim("data.csv")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "data_1.csv"), got)
	assert.True(t, tracker.Claimed(got))
	assert.False(t, tracker.Claimed(filepath.Join(dir, "data.csv")))
}

func TestFileTrackerConcurrentClaimsNeverCollide(t *testing.T) {
	tracker, err := NewFileTracker(t.TempDir())
	require.NoError(t, err)

	const n = 50
	paths := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := tracker.Claim("same.csv")
			assert.NoError(t, err)
			paths[i] = p
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool, n)
	for _, p := range paths {
		assert.False(t, seen[p], "duplicate path %s", p)
		seen[p] = true
	}
	assert.Equal(t, n, tracker.Snapshot().Claimed)
}

func TestNewFileTrackerEmptyDir(t *testing.T) {
	_, err := NewFileTracker(" ")
	assert.Error(t, err)
}

// BenchmarkFileTracker_Claim measures claiming distinct names.
func BenchmarkFileTracker_Claim(b *testing.B) {
	tracker, err := NewFileTracker(b.TempDir())
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := tracker.Claim(fmt.Sprintf("file-%d.csv", i)); err != nil {
			b.Fatal(err)
		}
	}
}
