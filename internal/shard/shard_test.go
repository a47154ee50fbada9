package shard_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quickopen/quickopend/internal/rank"
	"github.com/quickopen/quickopend/internal/shard"
)

func build(t *testing.T, basenames ...string) *shard.Shard {
	t.Helper()
	m := make(map[string][]string, len(basenames))
	for i, b := range basenames {
		m[b] = []string{"/repo/" + b + "/instance" + string(rune('0'+i))}
	}
	s, rejected, err := shard.Build(m)
	require.NoError(t, err)
	require.Empty(t, rejected)
	return s
}

func TestSearchBasenames_WordStartStage(t *testing.T) {
	s := build(t, "render_widget_host.h", "RenderWidgetHost.cpp", "renderer.cc")

	hits, truncated, err := s.SearchBasenames("rwh", 10)
	require.NoError(t, err)
	require.False(t, truncated)
	require.Contains(t, hits, "render_widget_host.h")
	require.Contains(t, hits, "renderwidgethost.cpp")
	require.NotContains(t, hits, "renderer.cc")
}

func TestSearchBasenames_ShorterExactFirst(t *testing.T) {
	s := build(t, "foo.txt", "foobar.txt", "afoo.txt")

	hits, truncated, err := s.SearchBasenames("foo", 10)
	require.NoError(t, err)
	require.False(t, truncated)
	require.Len(t, hits, 3)

	best := ""
	bestScore := -1
	for b, r := range hits {
		if r > bestScore {
			bestScore = r
			best = b
		}
	}
	require.Equal(t, "foo.txt", best)
}

func TestSearchBasenames_NoMatch(t *testing.T) {
	s := build(t, "alpha.c", "beta.c")

	hits, truncated, err := s.SearchBasenames("zzz", 10)
	require.NoError(t, err)
	require.False(t, truncated)
	require.Empty(t, hits)
}

func TestSearchBasenames_CamelAndDelimitedWordStart(t *testing.T) {
	s := build(t, "MyClassImpl.cpp", "my_class_impl.cpp")

	hits, _, err := s.SearchBasenames("mci", 10)
	require.NoError(t, err)
	require.Contains(t, hits, "myclassimpl.cpp")
	require.Contains(t, hits, "my_class_impl.cpp")
}

func TestSearchBasenames_Superfuzzy(t *testing.T) {
	s := build(t, "xyz.h")

	hits, _, err := s.SearchBasenames("xz", 10)
	require.NoError(t, err)
	require.Contains(t, hits, "xyz.h")
	require.LessOrEqual(t, hits["xyz.h"], rank.HighQualityThreshold)
}

func TestSearchBasenames_Truncation(t *testing.T) {
	m := make(map[string][]string)
	for i := 0; i < 100; i++ {
		name := "a" + string(rune('0'+i%10)) + string(rune('0'+i/10)) + ".cpp"
		m[name] = []string{"/repo/" + name}
	}
	s, _, err := shard.Build(m)
	require.NoError(t, err)

	hits, truncated, err := s.SearchBasenames("a", 20)
	require.NoError(t, err)
	require.True(t, truncated)
	require.Len(t, hits, 20)
}

func TestSearchBasenames_TruncationMonotonic(t *testing.T) {
	s := build(t, "foo.txt", "foobar.txt", "afoo.txt", "foobaz.txt")

	small, _, err := s.SearchBasenames("foo", 1)
	require.NoError(t, err)

	large, _, err := s.SearchBasenames("foo", 10)
	require.NoError(t, err)

	for b := range small {
		require.Contains(t, large, b)
	}
}

func TestSearchBasenames_CaseInsensitive(t *testing.T) {
	s := build(t, "FooBar.txt")

	lower, _, err := s.SearchBasenames("foobar", 10)
	require.NoError(t, err)
	upper, _, err := s.SearchBasenames("FOOBAR", 10)
	require.NoError(t, err)

	requireSameKeys(t, lower, upper)
}

func requireSameKeys(t *testing.T, a, b map[string]int) {
	t.Helper()
	require.Equal(t, len(a), len(b))
	for k := range a {
		_, ok := b[k]
		require.True(t, ok, "missing key %q", k)
	}
}

func TestSearchBasenames_EmptyQuery(t *testing.T) {
	s := build(t, "foo.txt")
	hits, truncated, err := s.SearchBasenames("", 10)
	require.NoError(t, err)
	require.False(t, truncated)
	require.Empty(t, hits)
}

func TestBuild_RejectsEmbeddedNewline(t *testing.T) {
	s, rejected, err := shard.Build(map[string][]string{
		"bad\nname.txt": {"/repo/bad\nname.txt"},
		"good.txt":      {"/repo/good.txt"},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"bad\nname.txt"}, rejected)
	require.Equal(t, []string{"good.txt"}, s.Basenames())
}

func TestBuild_RecoversAllBasenames(t *testing.T) {
	names := []string{"alpha.go", "beta.go", "gamma_delta.go", "Epsilon.go"}
	s := build(t, names...)
	require.ElementsMatch(t, names, s.Basenames())
}

func TestRank_AlwaysPositiveForReturnedHits(t *testing.T) {
	s := build(t, "widget.cc", "gadget.cc", "budget.txt")
	hits, _, err := s.SearchBasenames("dget", 10)
	require.NoError(t, err)
	for b, r := range hits {
		require.Greaterf(t, r, 0, "hit %q has non-positive rank", b)
	}
}

// TestSearchBasenames_ConcurrentQueries runs many distinct queries
// against one shard at once, each racing to populate
// Shard.substringCache on first use. Run with -race to catch a
// regression back to an unsynchronized cache.
func TestSearchBasenames_ConcurrentQueries(t *testing.T) {
	basenames := make([]string, 50)
	for i := range basenames {
		basenames[i] = fmt.Sprintf("widget_%02d.cc", i)
	}
	s := build(t, basenames...)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			query := fmt.Sprintf("widget_%02d", i%50)
			_, _, err := s.SearchBasenames(query, 10)
			require.NoError(t, err)
		}()
	}
	wg.Wait()
}
