package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/quickopen/quickopend/internal/metrics"
)

// searchRequest is the wire schema for POST /search.
type searchRequest struct {
	Query   string `json:"query"`
	MaxHits int    `json:"max_hits"`
}

func (rt *Router) handleStatus(w http.ResponseWriter, r *http.Request, _ []string) error {
	st := rt.idx.Status()
	metrics.ShardsLoaded.Set(float64(st.ShardCount))
	metrics.BasenamesIndexed.Set(float64(st.Basenames))
	return writeJSON(w, st)
}

func (rt *Router) handleSearch(w http.ResponseWriter, r *http.Request, _ []string) error {
	var req searchRequest
	if err := readBody(r, &req); err != nil {
		return err
	}

	start := time.Now()
	res, err := rt.query.Search(r.Context(), req.Query, req.MaxHits)
	metrics.SearchDurationSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.SearchRequestsTotal.WithLabelValues("error").Inc()
		return err
	}
	metrics.SearchRequestsTotal.WithLabelValues("ok").Inc()
	return writeJSON(w, res)
}

// handleSync waits (bounded by the request's context) for the Index to
// report is_up_to_date before responding.
func (rt *Router) handleSync(w http.ResponseWriter, r *http.Request, _ []string) error {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		if rt.idx.Status().IsUpToDate {
			return writeJSON(w, map[string]string{"status": "OK"})
		}
		select {
		case <-ctx.Done():
			return writeJSON(w, map[string]string{"status": "OK"}) // best-effort; caller can re-sync
		case <-ticker.C:
		}
	}
}

func (rt *Router) handleBeginReindex(w http.ResponseWriter, r *http.Request, _ []string) error {
	rt.idx.BeginReindex()
	return writeJSON(w, map[string]string{"status": "OK"})
}

type addDirRequest struct {
	Path string `json:"path"`
}

func (rt *Router) handleDirsAdd(w http.ResponseWriter, r *http.Request, _ []string) error {
	var req addDirRequest
	if err := readBody(r, &req); err != nil {
		return err
	}
	id := rt.idx.AddDir(req.Path)
	return writeJSON(w, map[string]string{"id": id, "status": "OK"})
}

func (rt *Router) handleDirsList(w http.ResponseWriter, r *http.Request, _ []string) error {
	return writeJSON(w, rt.idx.ListDirs())
}

func (rt *Router) handleDirsOne(w http.ResponseWriter, r *http.Request, groups []string) error {
	id := groups[1]
	if r.Method == http.MethodDelete {
		if err := rt.idx.DeleteDir(id); err != nil {
			return err
		}
		return writeJSON(w, map[string]string{"status": "OK"})
	}
	st, err := rt.idx.GetDir(id)
	if err != nil {
		return err
	}
	return writeJSON(w, st)
}

func (rt *Router) handleIgnoresList(w http.ResponseWriter, r *http.Request, _ []string) error {
	return writeJSON(w, rt.idx.GetIgnores())
}

// readRawString reads the glob pattern body for /ignores/add and
// /ignores/remove. It accepts either a JSON-quoted string or a bare
// unquoted body, for curl-friendliness.
func readRawString(r *http.Request) (string, error) {
	if r.ContentLength <= 0 {
		return "", nil
	}
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return "", err
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	return strings.TrimSpace(string(raw)), nil
}

func (rt *Router) handleIgnoresAdd(w http.ResponseWriter, r *http.Request, _ []string) error {
	pattern, err := readRawString(r)
	if err != nil {
		return err
	}
	if err := rt.idx.Ignore(pattern); err != nil {
		return err
	}
	return writeJSON(w, map[string]string{"status": "OK"})
}

func (rt *Router) handleIgnoresRemove(w http.ResponseWriter, r *http.Request, _ []string) error {
	pattern, err := readRawString(r)
	if err != nil {
		return err
	}
	if err := rt.idx.Unignore(pattern); err != nil {
		return err
	}
	return writeJSON(w, map[string]string{"status": "OK"})
}
