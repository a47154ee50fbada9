package index

import (
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sourcegraph/log"
	"golang.org/x/sync/semaphore"

	"github.com/quickopen/quickopend/internal/shard"
)

// stepBudget bounds how long a single StepIndexer call may spend
// walking the filesystem before it must return control to the caller.
// It is checked after each directory listing has been consumed.
const stepBudget = 10 * time.Millisecond

// entryBudget is a secondary, count-based bound: on a filesystem fast
// enough that os.ReadDir never crosses stepBudget between time checks,
// this still forces a yield back to the caller at the first directory
// boundary after N entries.
const entryBudget = 4096

// dirEntry is the Indexer's private state for one tracked directory.
// Index.mu guards every field.
type dirEntry struct {
	id     string
	path   string
	status DirStatus

	shard *shard.Shard

	walker  *dirWalker
	watcher *fsnotify.Watcher
}

func (d *dirEntry) snapshot() DirState {
	count := 0
	if d.shard != nil {
		count = len(d.shard.Basenames())
	}
	return DirState{ID: d.id, Path: d.path, Status: d.status, BasenameCount: count}
}

// dirWalker is a resumable, budgeted directory-tree walk. Each step
// pops one directory, lists it, and either recurses (pushes
// subdirectories back onto the stack) or records a file's basename,
// stopping once the step's time or entry budget is exhausted.
type dirWalker struct {
	stack     []string
	basenames map[string][]string
}

func newDirWalker(root string) *dirWalker {
	return &dirWalker{stack: []string{root}, basenames: make(map[string][]string)}
}

// step advances the walk one whole directory listing at a time until
// entryBudget entries have been processed or stepBudget of wall time
// has passed, whichever comes first. done reports whether the whole
// tree has been consumed.
func (w *dirWalker) step(ignored func(segment string) bool, watch func(dir string)) (done bool) {
	start := time.Now()
	processed := 0

	for len(w.stack) > 0 {
		dir := w.stack[len(w.stack)-1]
		w.stack = w.stack[:len(w.stack)-1]

		if watch != nil {
			watch(dir)
		}

		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			name := e.Name()
			if ignored(name) {
				continue
			}
			full := filepath.Join(dir, name)
			if e.IsDir() {
				w.stack = append(w.stack, full)
			} else {
				w.basenames[name] = append(w.basenames[name], full)
			}

			processed++
		}
		// The listing is consumed in full before yielding, so no entry of
		// dir is lost when the budget runs out part-way through it.
		if processed >= entryBudget || time.Since(start) >= stepBudget {
			return len(w.stack) == 0
		}
	}
	return true
}

// Indexer drives the per-directory state machine:
// IDLE -> ENUMERATING -> BUILDING_SHARDS -> PUBLISHED, one unit of work
// per StepIndexer call. An enumeration step yields once stepBudget is
// spent (checked between directory listings); building and publishing
// a directory's shard is a single step that stepBudget does not bound.
type Indexer struct {
	idx    *Index
	logger log.Logger
	sem    *semaphore.Weighted
}

// NewIndexer returns an Indexer driving idx, with concurrency bounded
// to maxWorkers simultaneous directory walks (mirroring
// shards.loader.load's semaphore.NewWeighted(runtime.GOMAXPROCS(0))
// in the teacher).
func NewIndexer(idx *Index, logger log.Logger, maxWorkers int64) *Indexer {
	return &Indexer{idx: idx, logger: logger.Scoped("indexer", ""), sem: semaphore.NewWeighted(maxWorkers)}
}

// StepIndexer performs at most one unit of work across the tracked
// directories and reports whether it did anything. Call it from the
// hi-idle tick; once it returns false for every tracked directory the
// caller should unsubscribe from hi-idle until Index.Events() fires.
func (ix *Indexer) StepIndexer() (didWork bool) {
	ix.idx.mu.Lock()
	var target *dirEntry
	for _, id := range ix.idx.order {
		d := ix.idx.dirs[id]
		if d.status != DirPublished {
			target = d
			break
		}
	}
	if target == nil {
		ix.idx.mu.Unlock()
		return false
	}

	switch target.status {
	case DirIdle:
		target.status = DirEnumerating
		target.walker = newDirWalker(target.path)
		target.watcher, _ = fsnotify.NewWatcher()
		ix.idx.mu.Unlock()
		return true

	case DirEnumerating:
		walker := target.walker
		watcher := target.watcher
		ix.idx.mu.Unlock()

		if !ix.sem.TryAcquire(1) {
			return false // every worker slot busy; try again next tick
		}
		defer ix.sem.Release(1)

		done := walker.step(ix.idx.isIgnored, func(dir string) {
			if watcher != nil {
				_ = watcher.Add(dir)
			}
		})

		ix.idx.mu.Lock()
		if done {
			target.status = DirBuildingShards
		}
		ix.idx.mu.Unlock()
		return true

	case DirBuildingShards:
		walked := target.walker
		ix.idx.mu.Unlock()

		basenames := filterBasenames(walked.basenames, ix.idx.filterTextGlob())
		s, rejected, err := shard.Build(basenames)
		if err != nil {
			ix.logger.Error("shard build failed", log.String("dir", target.path), log.Error(err))
			ix.idx.mu.Lock()
			target.status = DirIdle
			ix.idx.mu.Unlock()
			return true
		}
		if len(rejected) > 0 {
			ix.logger.Warn("rejected basenames with embedded newline",
				log.String("dir", target.path), log.Int("count", len(rejected)))
		}

		ix.idx.mu.Lock()
		target.shard = s
		target.status = DirPublished
		target.walker = nil
		watcher := target.watcher
		ix.idx.mu.Unlock()

		ix.idx.publishShard(target.id, s)
		if err := writeBasenameCache(target.id, basenames); err != nil {
			ix.logger.Warn("writing basename cache", log.String("dir", target.path), log.Error(err))
		}
		if watcher != nil {
			go ix.watchForChanges(target.id, watcher)
		}
		return true
	}

	// DirPublished is excluded by the selection loop above; nothing else
	// reaches this switch.
	ix.idx.mu.Unlock()
	return false
}

// watchForChanges runs for the lifetime of a published directory's
// fsnotify watcher. Any event flips that directory back to IDLE and
// signals needs_indexing, the PUBLISHED --mtime change detected-->
// ENUMERATING transition.
func (ix *Indexer) watchForChanges(dirID string, watcher *fsnotify.Watcher) {
	defer watcher.Close()
	for {
		select {
		case _, ok := <-watcher.Events:
			if !ok {
				return
			}
			ix.idx.mu.Lock()
			d, tracked := ix.idx.dirs[dirID]
			if tracked && d.status == DirPublished {
				d.status = DirIdle
				d.walker = nil
			}
			ix.idx.mu.Unlock()
			if tracked {
				ix.idx.signalNeedsIndexing()
			} else {
				return
			}
		case _, ok := <-watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func filterBasenames(in map[string][]string, filter interface {
	Match(string) bool
}) map[string][]string {
	if filter == nil {
		return in
	}
	out := make(map[string][]string, len(in))
	for b, paths := range in {
		if filter.Match(b) {
			continue
		}
		out[b] = paths
	}
	return out
}
