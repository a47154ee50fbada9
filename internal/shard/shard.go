// Package shard implements the per-shard basename index and the
// three-stage fuzzy matcher: an immutable snapshot of basenames plus
// acceleration tables, searched word-start-first, then by substring,
// then by a superfuzzy fallback.
//
// The newline-delimited scanning technique (basenamesUnsplit,
// lowerBasenamesUnsplit) runs a single regexp pass over the whole
// joined corpus instead of a loop over individual basenames, the same
// one-shot-scan-over-a-joined-corpus trick zoekt's trigram index uses
// over joined content; the restart-at-"end-1" rule keeps adjacent
// basenames, which share a single '\n', both reachable.
package shard

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/grafana/regexp"

	"github.com/quickopen/quickopend/internal/rank"
)

// ErrIntegrity is returned by SearchBasenames when a basename slipped
// past shard construction carrying an embedded newline. Shard.Build
// rejects such basenames up front; this only fires if the invariant
// was somehow violated after the fact.
type ErrIntegrity struct {
	Group string
}

func (e *ErrIntegrity) Error() string {
	return fmt.Sprintf("shard: integrity violation, newline embedded in match group %q", e.Group)
}

// wordStartEntry is one (prefix -> basename) contribution, kept
// around only long enough to sort by ascending loss before being
// frozen into Shard.basenamesByWordStart.
type wordStartEntry struct {
	lowerBasename string
	loss          int
	order         int
}

// Shard is an immutable snapshot over a set of basenames. Build it
// once from a basename-to-paths map; never mutate it afterwards.
type Shard struct {
	filesByBasename       map[string][]string
	basenamesUnsplit      string
	lowerBasenamesUnsplit string
	basenamesByWordStart  map[string][]string
	allBasenames          []string // original case, sorted, for the exposed word-start filters

	substringCacheMu sync.Mutex
	substringCache   map[string]*regexp.Regexp
}

// Build constructs a Shard from a basename -> full paths map. Entries
// whose basename contains a newline can't be represented in the
// newline-delimited scan and are rejected; Build returns the list of
// rejected basenames alongside the shard so callers can log them.
func Build(files map[string][]string) (*Shard, []string, error) {
	basenames := make([]string, 0, len(files))
	var rejected []string
	for b := range files {
		if strings.Contains(b, "\n") {
			rejected = append(rejected, b)
			continue
		}
		basenames = append(basenames, b)
	}
	sort.Strings(basenames)

	filesByBasename := make(map[string][]string, len(basenames))
	var unsplit, lowerUnsplit strings.Builder
	unsplit.WriteByte('\n')
	lowerUnsplit.WriteByte('\n')

	pending := make(map[string][]wordStartEntry)
	order := 0

	for _, b := range basenames {
		filesByBasename[b] = append([]string(nil), files[b]...)
		unsplit.WriteString(b)
		unsplit.WriteByte('\n')
		lowerUnsplit.WriteString(strings.ToLower(b))
		lowerUnsplit.WriteByte('\n')

		starts := rank.StartLetters(b)
		n := len(starts)
		if n < 2 {
			continue
		}
		lower := make([]rune, n)
		for i, r := range starts {
			lower[i] = toLowerRune(r)
		}
		lowerBasename := strings.ToLower(b)
		for l := 2; l <= n; l++ {
			prefix := string(lower[:l])
			pending[prefix] = append(pending[prefix], wordStartEntry{
				lowerBasename: lowerBasename,
				loss:          n - l,
				order:         order,
			})
			order++
		}
	}

	byWordStart := make(map[string][]string, len(pending))
	for prefix, entries := range pending {
		sort.SliceStable(entries, func(i, j int) bool {
			return entries[i].loss < entries[j].loss
		})
		list := make([]string, len(entries))
		for i, e := range entries {
			list[i] = e.lowerBasename
		}
		byWordStart[prefix] = list
	}

	return &Shard{
		filesByBasename:       filesByBasename,
		basenamesUnsplit:      unsplit.String(),
		lowerBasenamesUnsplit: lowerUnsplit.String(),
		basenamesByWordStart:  byWordStart,
		allBasenames:          basenames,
		substringCache:        make(map[string]*regexp.Regexp),
	}, rejected, nil
}

func toLowerRune(r rune) rune {
	if r >= 'A' && r <= 'Z' {
		return r + ('a' - 'A')
	}
	return r
}

// Basenames returns the set of basenames held by the shard, i.e.
// keys(M) from the map the shard was built from.
func (s *Shard) Basenames() []string {
	out := make([]string, len(s.allBasenames))
	copy(out, s.allBasenames)
	return out
}

// Paths returns the full paths recorded for basename, in insertion
// order, or nil if the shard holds no such basename.
func (s *Shard) Paths(basename string) []string {
	return s.filesByBasename[basename]
}

type hitSet struct {
	hits map[string]int
	max  int
}

func newHitSet(max int) *hitSet {
	return &hitSet{hits: make(map[string]int), max: max}
}

// upsertMax records score for basename, keeping the maximum across
// repeated calls. It refuses to introduce a new key once the hit set
// is at capacity but always allows raising an existing key's score.
func (h *hitSet) upsertMax(basename string, score int) {
	if score <= 0 {
		return
	}
	if cur, ok := h.hits[basename]; ok {
		if score > cur {
			h.hits[basename] = score
		}
		return
	}
	if len(h.hits) >= h.max {
		return
	}
	h.hits[basename] = score
}

func (h *hitSet) full() bool { return len(h.hits) >= h.max }

func (h *hitSet) hasHighQuality() bool {
	for _, r := range h.hits {
		if rank.IsHighQuality(r) {
			return true
		}
	}
	return false
}

// SearchBasenames runs the three-stage matcher against query:
// word-start stage, then substring stage, then (only if neither
// produced a high-quality hit) a superfuzzy fallback. Each stage stops
// contributing once maxHits is reached. hits maps a matched basename
// (lowercased) to its rank; truncated is true iff len(hits) == maxHits.
func (s *Shard) SearchBasenames(query string, maxHits int) (hits map[string]int, truncated bool, err error) {
	if query == "" || maxHits <= 0 {
		return map[string]int{}, false, nil
	}
	lowerQuery := strings.ToLower(query)
	hs := newHitSet(maxHits)

	// Stage 1: word-start.
	if list, ok := s.basenamesByWordStart[lowerQuery]; ok {
		for _, b := range list {
			if hs.full() {
				break
			}
			hs.upsertMax(b, rank.Score(query, b))
		}
	}
	if !hs.full() {
		if err := s.matchWordStartFilter(query, rank.DelimitedWordStartPattern, false, hs); err != nil {
			return nil, false, err
		}
	}
	if !hs.full() {
		if err := s.matchWordStartFilter(query, rank.CamelCaseWordStartPattern, true, hs); err != nil {
			return nil, false, err
		}
	}

	// Stage 2: substring.
	if !hs.full() {
		pat, err := s.substringPattern(lowerQuery)
		if err != nil {
			return nil, false, err
		}
		if err := s.scanUnsplit(s.lowerBasenamesUnsplit, pat, query, hs); err != nil {
			return nil, false, err
		}
	}

	// Stage 3: superfuzzy, only when stage 1+2 found nothing high quality.
	if !hs.full() && !hs.hasHighQuality() {
		pat, err := superfuzzyScanPattern(lowerQuery)
		if err != nil {
			return nil, false, err
		}
		if err := s.scanUnsplit(s.lowerBasenamesUnsplit, pat, query, hs); err != nil {
			return nil, false, err
		}
	}

	return hs.hits, hs.full(), nil
}

// matchWordStartFilter runs the named exposed word-start filter
// (delimited or camelCase) over the shard's basenames. It is not part
// of the literal stage-1 prefix-map lookup, but it gives the
// delimited-word-start-subsequence and camelCase-word-start-subsequence
// rank tiers a path into the default search pipeline, rather than
// leaving them reachable only via direct Ranker calls.
func (s *Shard) matchWordStartFilter(query string, build func(string) (*regexp.Regexp, error), caseSensitive bool, hs *hitSet) error {
	pat, err := build(query)
	if err != nil {
		return nil // empty query; nothing to do
	}
	for _, b := range s.allBasenames {
		if hs.full() {
			return nil
		}
		if pat.MatchString(b) {
			hs.upsertMax(strings.ToLower(b), rank.Score(query, b))
		}
	}
	return nil
}

// substringPattern returns the compiled substring-stage regex for
// lowerQuery, compiling and caching it on first use. The shard is
// immutable once published and searched from many goroutines at once
// (Index.Search fans a query out to every shard concurrently), so the
// cache itself needs its own lock even though nothing else on Shard
// mutates after Build.
func (s *Shard) substringPattern(lowerQuery string) (*regexp.Regexp, error) {
	s.substringCacheMu.Lock()
	defer s.substringCacheMu.Unlock()

	if pat, ok := s.substringCache[lowerQuery]; ok {
		return pat, nil
	}
	pat, err := regexp.Compile(`\n.*` + regexp.QuoteMeta(lowerQuery) + `.*\n`)
	if err != nil {
		return nil, err
	}
	s.substringCache[lowerQuery] = pat
	return pat, nil
}

func superfuzzyScanPattern(lowerQuery string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString(`\n.*`)
	for _, r := range lowerQuery {
		b.WriteString(regexp.QuoteMeta(string(r)))
		b.WriteString(`.*`)
	}
	b.WriteString(`\n`)
	return regexp.Compile(b.String())
}

// scanUnsplit runs pat repeatedly over source, restarting each
// subsequent search at match.end-1 so that adjacent basenames -
// which share a single '\n' delimiter - are never skipped.
func (s *Shard) scanUnsplit(source string, pat *regexp.Regexp, query string, hs *hitSet) error {
	pos := 0
	for pos < len(source) {
		loc := pat.FindStringIndex(source[pos:])
		if loc == nil {
			return nil
		}
		start, end := pos+loc[0], pos+loc[1]
		group := source[start+1 : end-1]
		if strings.Contains(group, "\n") {
			return &ErrIntegrity{Group: group}
		}
		hs.upsertMax(group, rank.Score(query, group))
		pos = end - 1
		if hs.full() {
			return nil
		}
	}
	return nil
}
