// Package queryservice is a thin, validating adapter in front of
// internal/index.Index: the external contract behind the /search
// route (and, trivially, every other route, which binds just as
// thinly to Index operations).
package queryservice

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sourcegraph/log"

	"github.com/quickopen/quickopend/internal/index"
	"github.com/quickopen/quickopend/internal/trace"
)

// DefaultMaxQueryLen is the default query length limit.
const DefaultMaxQueryLen = 256

// DefaultMaxHits is used when a /search request omits max_hits.
const DefaultMaxHits = 50

// ErrQueryTooLong and ErrEmptyQuery are validation failures surfaced as
// ordinary errors; internal/httpapi classifies them as handler failures
// rather than one of apierr's named taxonomy kinds, since they're
// client input errors, not engine conditions.
var (
	ErrEmptyQuery = fmt.Errorf("queryservice: query must not be empty")
)

// ErrQueryTooLong reports that a query exceeded the configured limit.
type ErrQueryTooLong struct {
	Len, Max int
}

func (e *ErrQueryTooLong) Error() string {
	return fmt.Sprintf("queryservice: query length %d exceeds limit %d", e.Len, e.Max)
}

// logRecord is one line of the optional query log: one JSON object per
// /search request for offline ranking-quality analysis.
type logRecord struct {
	Query    string  `json:"query"`
	MaxHits  int     `json:"max_hits"`
	HitCount int     `json:"hit_count"`
	Seconds  float64 `json:"seconds"`
}

// Service validates and forwards search requests to an Index.
type Service struct {
	idx       *index.Index
	logger    log.Logger
	maxLen    int
	queryLogMu sync.Mutex
	queryLog  io.Writer // nil disables the query log
}

// New returns a Service backed by idx, with the default query length
// limit and no query log.
func New(idx *index.Index, logger log.Logger) *Service {
	return &Service{idx: idx, logger: logger.Scoped("queryservice", ""), maxLen: DefaultMaxQueryLen}
}

// SetQueryLog enables (or, with nil, disables) the optional per-request
// query log, per the settings key `query_log`.
func (s *Service) SetQueryLog(w io.Writer) {
	s.queryLogMu.Lock()
	defer s.queryLogMu.Unlock()
	s.queryLog = w
}

// Search validates query and maxHits, forwards to the Index, and
// records an optional query-log line.
func (s *Service) Search(ctx context.Context, query string, maxHits int) (index.SearchResult, error) {
	tr := trace.FromContext(ctx)
	tr.LazyPrintf("queryservice.Search query=%q max_hits=%d", query, maxHits)

	if query == "" {
		return index.SearchResult{}, ErrEmptyQuery
	}
	if len(query) > s.maxLen {
		return index.SearchResult{}, &ErrQueryTooLong{Len: len(query), Max: s.maxLen}
	}
	if maxHits <= 0 {
		maxHits = DefaultMaxHits
	}

	start := time.Now()
	res, err := s.idx.Search(ctx, query, maxHits)
	if err != nil {
		tr.SetError()
		return index.SearchResult{}, err
	}
	s.logQuery(query, maxHits, len(res.Hits), time.Since(start))
	return res, nil
}

func (s *Service) logQuery(query string, maxHits, hitCount int, elapsed time.Duration) {
	s.queryLogMu.Lock()
	w := s.queryLog
	s.queryLogMu.Unlock()
	if w == nil {
		return
	}
	rec := logRecord{Query: query, MaxHits: maxHits, HitCount: hitCount, Seconds: elapsed.Seconds()}
	line, err := json.Marshal(rec)
	if err != nil {
		return
	}
	line = append(line, '\n')
	if _, err := w.Write(line); err != nil {
		s.logger.Warn("query log write failed", log.Error(err))
	}
}
