// Package index holds the live, in-memory basename index: an ordered
// list of immutable shards searched in parallel (grounded on
// shardedSearcher in zoekt's shards/shards.go), plus the per-directory
// state machine that keeps those shards in sync with the filesystem.
package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/gobwas/glob"
	"github.com/sourcegraph/log"
	"golang.org/x/sync/errgroup"

	"github.com/quickopen/quickopend/internal/apierr"
	"github.com/quickopen/quickopend/internal/shard"
)

// DirHandle identifies a tracked directory.
type DirHandle = string

// DirStatus is the per-directory state machine's current state.
type DirStatus string

const (
	DirIdle           DirStatus = "idle"
	DirEnumerating    DirStatus = "enumerating"
	DirBuildingShards DirStatus = "building_shards"
	DirPublished      DirStatus = "published"
)

// DirState is the externally visible shape of a tracked directory,
// returned by ListDirs and GetDir.
type DirState struct {
	ID            string    `json:"id"`
	Path          string    `json:"path"`
	Status        DirStatus `json:"status"`
	BasenameCount int       `json:"basename_count"`
}

// SearchResult is the merged, truncated output of a Search call.
type SearchResult struct {
	Hits      []string `json:"hits"`
	Ranks     []int    `json:"ranks"`
	Truncated bool     `json:"truncated"`
}

// Status is the daemon-wide snapshot returned by Index.Status.
type Status struct {
	StatusText  string `json:"status"`
	HasIndex    bool   `json:"has_index"`
	IsUpToDate  bool   `json:"is_up_to_date"`
	ShardCount  int    `json:"shard_count"`
	Basenames   int    `json:"basenames"`
	DirCount    int    `json:"dir_count"`
}

type shardEntry struct {
	dirID string
	shard *shard.Shard
}

// Index owns the directory roster, the ignore set, and the live list
// of published shards. A single Index is shared by the Query Service,
// the HTTP layer, and the Indexer.
type Index struct {
	logger log.Logger

	// shards is an atomic snapshot of []*shardEntry, swapped in whole
	// by publishShard. Readers never lock.
	shards atomic.Value

	mu    sync.Mutex
	dirs  map[string]*dirEntry
	order []string // dir ids, insertion order

	ignoreMu sync.Mutex
	ignores  map[string]glob.Glob

	filterText atomic.Value // string; empty means "no filter"

	searching atomic.Bool // true while a Search call is in flight

	needsIndexing chan struct{} // edge-triggered, buffered 1
}

// New constructs an empty Index.
func New(logger log.Logger) *Index {
	idx := &Index{
		logger:        logger.Scoped("index", ""),
		dirs:          make(map[string]*dirEntry),
		ignores:       make(map[string]glob.Glob),
		needsIndexing: make(chan struct{}, 1),
	}
	idx.shards.Store([]*shardEntry{})
	idx.filterText.Store("")
	return idx
}

// Events returns a channel that receives a value whenever a rescan is
// newly queued - because a directory was added, because begin_reindex
// was called (directly or via an ignore/filter_text change), or because
// the filesystem watcher detected a change on a published directory.
// The Idle Scheduler wiring in cmd/quickopend uses this to re-subscribe
// the indexer hook to the hi-idle tick.
func (idx *Index) Events() <-chan struct{} { return idx.needsIndexing }

func (idx *Index) signalNeedsIndexing() {
	select {
	case idx.needsIndexing <- struct{}{}:
	default:
	}
}

func (idx *Index) getShards() []*shardEntry {
	return idx.shards.Load().([]*shardEntry)
}

// publishShard atomically replaces the shard contributed by dirID
// (removing any previous one first), mirroring shardedSearcher.replace
// in zoekt's shards/shards.go.
func (idx *Index) publishShard(dirID string, s *shard.Shard) {
	old := idx.getShards()
	next := make([]*shardEntry, 0, len(old)+1)
	for _, e := range old {
		if e.dirID != dirID {
			next = append(next, e)
		}
	}
	if s != nil {
		next = append(next, &shardEntry{dirID: dirID, shard: s})
	}
	sort.Slice(next, func(i, j int) bool { return next[i].dirID < next[j].dirID })
	idx.shards.Store(next)
}

// Search runs every shard's SearchBasenames in parallel via an
// errgroup (mirroring shardedSearcher's worker-pool fan-out), merges
// by keyed upsert keeping the maximum rank per basename, then sorts by
// rank descending and truncates to maxHits. Each shard is searched
// with the same maxHits limit; the result is marked truncated when any
// shard reached that limit or the merged list had to be cut.
func (idx *Index) Search(ctx context.Context, query string, maxHits int) (SearchResult, error) {
	if maxHits <= 0 {
		maxHits = 50
	}
	idx.searching.Store(true)
	defer idx.searching.Store(false)

	shards := idx.getShards()
	if len(shards) == 0 || query == "" {
		return SearchResult{Hits: []string{}, Ranks: []int{}}, nil
	}

	type partial struct {
		shardIdx  int
		hits      map[string]int
		truncated bool
	}
	results := make([]partial, len(shards))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, e := range shards {
		i, e := i, e
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return nil // cancellation is checked at shard boundaries, not mid-shard
			}
			hits, truncated, err := e.shard.SearchBasenames(query, maxHits)
			if err != nil {
				return &apierr.Integrity{Err: err}
			}
			results[i] = partial{shardIdx: i, hits: hits, truncated: truncated}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return SearchResult{}, err
	}

	merged := make(map[string]int)
	bestShard := make(map[string]int)
	for i, r := range results {
		for b, score := range r.hits {
			if cur, ok := merged[b]; !ok || score > cur {
				merged[b] = score
				bestShard[b] = i
			}
		}
	}

	type row struct {
		basename string
		rank     int
		shardIdx int
	}
	rows := make([]row, 0, len(merged))
	for b, r := range merged {
		rows = append(rows, row{basename: b, rank: r, shardIdx: bestShard[b]})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].rank != rows[j].rank {
			return rows[i].rank > rows[j].rank
		}
		if rows[i].shardIdx != rows[j].shardIdx {
			return rows[i].shardIdx < rows[j].shardIdx
		}
		return rows[i].basename < rows[j].basename
	})

	truncated := false
	for _, r := range results {
		if r.truncated {
			truncated = true
		}
	}
	if len(rows) > maxHits {
		rows = rows[:maxHits]
		truncated = true
	}

	hits := make([]string, len(rows))
	ranks := make([]int, len(rows))
	for i, r := range rows {
		hits[i] = r.basename
		ranks[i] = r.rank
	}
	return SearchResult{Hits: hits, Ranks: ranks, Truncated: truncated}, nil
}

// Status reports the aggregate daemon status.
func (idx *Index) Status() Status {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	text := "idle"
	if idx.searching.Load() {
		text = "searching"
	}
	upToDate := true
	basenames := 0
	for _, d := range idx.dirs {
		if d.status != DirPublished {
			upToDate = false
		}
		if d.shard != nil {
			basenames += len(d.shard.Basenames())
		}
	}
	if !upToDate && text == "idle" {
		text = "indexing"
	}

	return Status{
		StatusText: text,
		HasIndex:   len(idx.dirs) > 0,
		IsUpToDate: upToDate,
		ShardCount: len(idx.getShards()),
		Basenames:  basenames,
		DirCount:   len(idx.dirs),
	}
}

// dirHandle derives a DirHandle deterministically from path, so the
// same directory gets the same handle across AddDir calls and across
// daemon restarts; that's what lets the on-disk basename cache be
// found again on restart without a separately persisted directory
// roster.
func dirHandle(path string) DirHandle {
	sum := sha256.Sum256([]byte(path))
	return hex.EncodeToString(sum[:])[:16]
}

// AddDir registers a tracked directory in the IDLE state and returns
// its handle. Re-adding an already-tracked path is idempotent and
// returns the existing handle. If an on-disk basename cache exists for
// this handle (from a prior run over the same path) it is loaded and
// published immediately, advisory and stale, while the entry stays
// IDLE so the Indexer re-validates it from scratch on its next step
// rather than trusting the cache indefinitely.
func (idx *Index) AddDir(path string) DirHandle {
	id := dirHandle(path)

	idx.mu.Lock()
	if _, exists := idx.dirs[id]; exists {
		idx.mu.Unlock()
		return id
	}
	idx.dirs[id] = &dirEntry{id: id, path: path, status: DirIdle}
	idx.order = append(idx.order, id)
	idx.mu.Unlock()

	if basenames, err := readBasenameCache(id); err == nil && len(basenames) > 0 {
		if s, _, err := shard.Build(basenames); err == nil {
			idx.mu.Lock()
			if d, ok := idx.dirs[id]; ok {
				d.shard = s
			}
			idx.mu.Unlock()
			idx.publishShard(id, s)
		}
	}

	idx.signalNeedsIndexing()
	return id
}

// DeleteDir removes a tracked directory and its published shard.
func (idx *Index) DeleteDir(handle DirHandle) error {
	idx.mu.Lock()
	_, ok := idx.dirs[handle]
	if ok {
		delete(idx.dirs, handle)
		for i, id := range idx.order {
			if id == handle {
				idx.order = append(idx.order[:i], idx.order[i+1:]...)
				break
			}
		}
	}
	idx.mu.Unlock()

	if !ok {
		return &apierr.NotFound{Kind: "dir", ID: handle}
	}
	idx.publishShard(handle, nil)
	removeBasenameCache(handle)
	return nil
}

// ListDirs returns the tracked directories in registration order.
func (idx *Index) ListDirs() []DirState {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	out := make([]DirState, 0, len(idx.order))
	for _, id := range idx.order {
		out = append(out, idx.dirs[id].snapshot())
	}
	return out
}

// GetDir returns a single tracked directory's state.
func (idx *Index) GetDir(handle DirHandle) (DirState, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	d, ok := idx.dirs[handle]
	if !ok {
		return DirState{}, &apierr.NotFound{Kind: "dir", ID: handle}
	}
	return d.snapshot(), nil
}

// BeginReindex forces every tracked directory back to IDLE, so the
// Indexer performs a full rescan on its next steps.
func (idx *Index) BeginReindex() {
	idx.mu.Lock()
	for _, d := range idx.dirs {
		d.status = DirIdle
		d.walker = nil
	}
	idx.mu.Unlock()
	idx.signalNeedsIndexing()
}

// Ignore adds a glob pattern to the ignore set. A path is excluded if
// any of its path segments matches any registered pattern.
func (idx *Index) Ignore(pattern string) error {
	g, err := glob.Compile(pattern)
	if err != nil {
		return err
	}
	idx.ignoreMu.Lock()
	idx.ignores[pattern] = g
	idx.ignoreMu.Unlock()
	idx.BeginReindex()
	return nil
}

// Unignore removes pattern from the ignore set. Removing a pattern
// that was never ignored is a recoverable "silent" error
// (internal/apierr.Silent).
func (idx *Index) Unignore(pattern string) error {
	idx.ignoreMu.Lock()
	_, ok := idx.ignores[pattern]
	if ok {
		delete(idx.ignores, pattern)
	}
	idx.ignoreMu.Unlock()

	if !ok {
		return &apierr.Silent{Msg: "unignore: pattern not in ignore set: " + pattern}
	}
	idx.BeginReindex()
	return nil
}

// GetIgnores returns the registered ignore patterns, sorted.
func (idx *Index) GetIgnores() []string {
	idx.ignoreMu.Lock()
	defer idx.ignoreMu.Unlock()

	out := make([]string, 0, len(idx.ignores))
	for p := range idx.ignores {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// isIgnored reports whether segment (a single directory-entry name)
// matches any pattern in the ignore set. The filter_text pattern is not
// checked here; it is applied to basenames at shard-build time by
// filterBasenames.
func (idx *Index) isIgnored(segment string) bool {
	idx.ignoreMu.Lock()
	defer idx.ignoreMu.Unlock()
	for _, g := range idx.ignores {
		if g.Match(segment) {
			return true
		}
	}
	return false
}

// SetFilterText sets the filter_text glob (settings key): files whose
// basename matches it are excluded from indexing altogether,
// supplementing the plain ignore set.
func (idx *Index) SetFilterText(pattern string) error {
	if pattern == "" {
		idx.filterText.Store("")
		return nil
	}
	if _, err := glob.Compile(pattern); err != nil {
		return err
	}
	idx.filterText.Store(pattern)
	idx.BeginReindex()
	return nil
}

func (idx *Index) filterTextGlob() glob.Glob {
	pattern, _ := idx.filterText.Load().(string)
	if pattern == "" {
		return nil
	}
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil
	}
	return g
}
