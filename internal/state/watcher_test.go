package state

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestWatcher_ReportsWatchListEdits(t *testing.T) {
	defer goleak.VerifyNone(t)

	path := filepath.Join(t.TempDir(), "config.json")
	writeValid(t, path, validDocument())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w, err := NewWatcher(ctx, path, nil)
	require.NoError(t, err)
	defer w.Close()

	edited := validDocument()
	edited.WatchList = []string{"golang", "rust", "zig"}
	writeValid(t, path, edited)

	deadline := time.After(5 * time.Second)
	for {
		select {
		case feeds := <-w.Updates():
			if len(feeds) == 3 {
				assert.Equal(t, []string{"golang", "rust", "zig"}, feeds)
				return
			}
		case <-deadline:
			t.Fatal("no watch list update received")
		}
	}
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	writeValid(t, path, validDocument())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w, err := NewWatcher(ctx, path, nil)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hi"), 0o600))

	select {
	case feeds := <-w.Updates():
		t.Fatalf("unexpected update %v", feeds)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcher_OptOutDoesNotRevertWatchListEdit(t *testing.T) {
	defer goleak.VerifyNone(t)

	path := filepath.Join(t.TempDir(), "config.json")
	writeValid(t, path, validDocument())

	store := NewStore(path, nil)
	_, err := store.Load()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w, err := NewWatcher(ctx, path, nil)
	require.NoError(t, err)
	defer w.Close()

	want := []string{"golang", "test", "rust"}
	edited := validDocument()
	edited.WatchList = want
	writeValid(t, path, edited)

	_, err = store.AddOptOut("bob")
	require.NoError(t, err)

	// Take the last update once the directory has been quiet for a while.
	var latest []string
	quiet := time.NewTimer(500 * time.Millisecond)
	defer quiet.Stop()
	deadline := time.After(5 * time.Second)
collect:
	for {
		select {
		case feeds := <-w.Updates():
			latest = feeds
			quiet.Reset(500 * time.Millisecond)
		case <-quiet.C:
			break collect
		case <-deadline:
			break collect
		}
	}

	assert.Equal(t, want, latest)

	onDisk, err := ReadDocument(path)
	require.NoError(t, err)
	assert.Equal(t, want, onDisk.WatchList)
}
