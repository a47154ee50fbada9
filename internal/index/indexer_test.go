package index_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sourcegraph/log"
	"github.com/stretchr/testify/require"

	"github.com/quickopen/quickopend/internal/index"
)

func mustWriteTree(t *testing.T, root string, files ...string) {
	t.Helper()
	for _, f := range files {
		full := filepath.Join(root, f)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte("x"), 0o644))
	}
}

func stepUntilPublished(t *testing.T, ix *index.Indexer, idx *index.Index, id string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		ix.StepIndexer()
		d, err := idx.GetDir(id)
		require.NoError(t, err)
		if d.Status == index.DirPublished {
			return
		}
	}
	t.Fatalf("directory %s never reached PUBLISHED", id)
}

func TestIndexer_WalksDirectoryToPublished(t *testing.T) {
	root := t.TempDir()
	mustWriteTree(t, root, "foo.txt", "sub/bar.txt", "sub/deep/baz.txt")

	idx := index.New(log.NoOp())
	ix := index.NewIndexer(idx, log.NoOp(), 4)

	id := idx.AddDir(root)
	stepUntilPublished(t, ix, idx, id)

	d, err := idx.GetDir(id)
	require.NoError(t, err)
	require.Equal(t, 3, d.BasenameCount)
}

func TestIndexer_BeginReindexRestartsIdleDir(t *testing.T) {
	root := t.TempDir()
	mustWriteTree(t, root, "foo.txt")

	idx := index.New(log.NoOp())
	ix := index.NewIndexer(idx, log.NoOp(), 4)

	id := idx.AddDir(root)
	stepUntilPublished(t, ix, idx, id)

	idx.BeginReindex()
	d, err := idx.GetDir(id)
	require.NoError(t, err)
	require.Equal(t, index.DirIdle, d.Status)

	stepUntilPublished(t, ix, idx, id)
}

func TestIndexer_StepIndexerFalseWhenUpToDate(t *testing.T) {
	idx := index.New(log.NoOp())
	ix := index.NewIndexer(idx, log.NoOp(), 4)
	require.False(t, ix.StepIndexer())
}

// TestIndexer_BasenameCacheSurvivesRestart verifies that a directory
// published by one Index becomes immediately (if stale) searchable on
// a brand new Index over the same path, before its Indexer has taken a
// single step.
func TestIndexer_BasenameCacheSurvivesRestart(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", t.TempDir())

	root := t.TempDir()
	mustWriteTree(t, root, "restart_probe.txt")

	idx1 := index.New(log.NoOp())
	ix1 := index.NewIndexer(idx1, log.NoOp(), 4)
	id1 := idx1.AddDir(root)
	stepUntilPublished(t, ix1, idx1, id1)

	idx2 := index.New(log.NoOp())
	id2 := idx2.AddDir(root)
	require.Equal(t, id1, id2, "directory handle must be deterministic across Index instances for the cache to be found")

	res, err := idx2.Search(context.Background(), "restart_probe", 10)
	require.NoError(t, err)
	require.Contains(t, res.Hits, "restart_probe.txt")

	d, err := idx2.GetDir(id2)
	require.NoError(t, err)
	require.Equal(t, index.DirIdle, d.Status, "cache is advisory only; the entry still awaits re-validation")
}
