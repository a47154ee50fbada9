package index_test

import (
	"context"
	"testing"

	"github.com/sourcegraph/log"
	"github.com/stretchr/testify/require"

	"github.com/quickopen/quickopend/internal/index"
	"github.com/quickopen/quickopend/internal/shard"
)

func buildShard(t *testing.T, basenames ...string) *shard.Shard {
	t.Helper()
	m := make(map[string][]string, len(basenames))
	for _, b := range basenames {
		m[b] = []string{"/repo/" + b}
	}
	s, rejected, err := shard.Build(m)
	require.NoError(t, err)
	require.Empty(t, rejected)
	return s
}

func TestIndex_EmptySearch(t *testing.T) {
	idx := index.New(log.NoOp())
	res, err := idx.Search(context.Background(), "foo", 10)
	require.NoError(t, err)
	require.Empty(t, res.Hits)
	require.False(t, res.Truncated)
}

func TestIndex_DirLifecycle(t *testing.T) {
	idx := index.New(log.NoOp())

	id := idx.AddDir("/repo/one")
	dirs := idx.ListDirs()
	require.Len(t, dirs, 1)
	require.Equal(t, id, dirs[0].ID)
	require.Equal(t, index.DirIdle, dirs[0].Status)

	got, err := idx.GetDir(id)
	require.NoError(t, err)
	require.Equal(t, "/repo/one", got.Path)

	require.NoError(t, idx.DeleteDir(id))
	require.Empty(t, idx.ListDirs())

	err = idx.DeleteDir(id)
	require.Error(t, err)
}

func TestIndex_IgnoreUnignore(t *testing.T) {
	idx := index.New(log.NoOp())

	require.NoError(t, idx.Ignore("*.pyc"))
	require.Equal(t, []string{"*.pyc"}, idx.GetIgnores())

	require.NoError(t, idx.Unignore("*.pyc"))
	require.Empty(t, idx.GetIgnores())

	err := idx.Unignore("*.pyc")
	require.Error(t, err)
}

func TestIndex_StatusReflectsDirState(t *testing.T) {
	idx := index.New(log.NoOp())
	require.True(t, idx.Status().IsUpToDate)

	idx.AddDir("/repo/one")
	require.False(t, idx.Status().IsUpToDate)
	require.Equal(t, "indexing", idx.Status().StatusText)
}
