package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestProcessDirectory(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.pdf"), "pdf")
	writeFile(t, filepath.Join(root, "sub", "b.JPG"), "jpg")
	writeFile(t, filepath.Join(root, "sub", "bad.png"), "png")
	writeFile(t, filepath.Join(root, "notes.txt"), "skip")
	writeFile(t, filepath.Join(root, "list.xlsx"), "skip")
	writeFile(t, filepath.Join(root, ".cache", "c.pdf"), "hidden")

	var seen []string
	results, stats, err := ProcessDirectory(context.Background(), root, true, func(_ context.Context, path string, data []byte) error {
		seen = append(seen, filepath.Base(path))
		if string(data) == "png" {
			return errors.New("unreadable")
		}
		return nil
	})
	require.NoError(t, err)

	sort.Strings(seen)
	assert.Equal(t, []string{"a.pdf", "b.JPG", "bad.png"}, seen)
	assert.Equal(t, uint32(3), stats.Matched)
	assert.Equal(t, uint32(2), stats.Succeeded)
	assert.Equal(t, uint32(1), stats.Failed)
	require.Len(t, results, 3)

	_, _, err = ProcessDirectory(context.Background(), " ", true, nil)
	assert.Error(t, err)
}

func TestStartWatcher_EmitsNewFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "existing.pdf"), "x")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, _, err := StartWatcher(ctx, WatchConfig{Roots: []string{root}, InitialScan: true, Debounce: 50 * time.Millisecond})
	require.NoError(t, err)

	next := func() string {
		select {
		case p := <-events:
			return filepath.Base(p)
		case <-time.After(5 * time.Second):
			t.Fatal("no watcher event")
			return ""
		}
	}
	assert.Equal(t, "existing.pdf", next())

	writeFile(t, filepath.Join(root, "ignored.txt"), "x")
	writeFile(t, filepath.Join(root, "page2.png"), "x")
	assert.Equal(t, "page2.png", next())

	cancel()
	for range events {
	}
}

func TestStartWatcher_NoRoots(t *testing.T) {
	_, _, err := StartWatcher(context.Background(), WatchConfig{})
	assert.Error(t, err)
}

func TestExtractableAndHidden(t *testing.T) {
	for path, want := range map[string]bool{
		"/scans/plan.pdf":            true,
		"/scans/Photo.JPEG":          true,
		"/scans/plan.pdf.part":       false,
		"/scans/plan.pdf.crdownload": false,
		"/scans/~$plan.pdf":          false,
		"/scans/plan.pdf~":           false,
		"/scans/list.xlsx":           false,
		"/scans/readme":              false,
	} {
		assert.Equal(t, want, Extractable(path), path)
	}

	assert.True(t, Hidden("/scans/.DS_Store"))
	assert.True(t, Hidden(".cache"))
	assert.False(t, Hidden("."))
	assert.False(t, Hidden(".."))
	assert.False(t, Hidden("/scans/plan.pdf"))
}
