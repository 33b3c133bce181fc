package source

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseActPath(t *testing.T) {
	e, ok := ParseActPath(filepath.Join("acts", "1851", "12.pdf"))
	require.True(t, ok)
	assert.Equal(t, "1851_12", e.ActID)
	assert.Equal(t, 1851, e.Year)
	assert.Equal(t, 12, e.Seq)

	e, ok = ParseActPath(filepath.Join("acts", "1867", "3.JSONL"))
	require.True(t, ok)
	assert.Equal(t, "1867_3", e.ActID)

	for _, p := range []string{
		filepath.Join("acts", "1851", "12.txt"),
		filepath.Join("acts", "1851", "index.pdf"),
		filepath.Join("acts", "misc", "12.pdf"),
	} {
		_, ok := ParseActPath(p)
		assert.False(t, ok, p)
	}
}

func waitChange(t *testing.T, w *Watcher) ManifestEntry {
	t.Helper()
	select {
	case e := <-w.Changes:
		return e
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for change")
	}
	return ManifestEntry{}
}

func TestWatcherReportsNewActs(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "1851"), 0o755))

	w, err := NewWatcher(root, 50*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(root, "1851", "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "1851", "12.jsonl"), []byte("{}\n"), 0o644))

	e := waitChange(t, w)
	assert.Equal(t, "1851_12", e.ActID)
	assert.Equal(t, filepath.Join(root, "1851", "12.jsonl"), e.Path)
}

func TestWatcherFollowsNewYearDirs(t *testing.T) {
	root := t.TempDir()

	w, err := NewWatcher(root, 50*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.MkdirAll(filepath.Join(root, "1867"), 0o755))
	// Give the watcher a moment to register the new directory.
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(root, "1867", "3.pdf"), []byte("%PDF"), 0o644))

	e := waitChange(t, w)
	assert.Equal(t, "1867_3", e.ActID)
}
