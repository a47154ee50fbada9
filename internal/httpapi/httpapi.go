// Package httpapi implements the daemon's external HTTP interface as a
// table of (compiled pattern, method set, handler) records: routes are
// registered by pushing regex+handler pairs at construction time into
// a []route literal owned by the Router, with handlers as function
// values closing over their component.
package httpapi

import (
	"encoding/json"
	"net/http"
	"regexp"
	"runtime/debug"
	"time"

	"github.com/sourcegraph/log"

	"github.com/quickopen/quickopend/internal/apierr"
	"github.com/quickopen/quickopend/internal/idle"
	"github.com/quickopen/quickopend/internal/index"
	"github.com/quickopen/quickopend/internal/metrics"
	"github.com/quickopen/quickopend/internal/queryservice"
)

// route is one entry in the router's dispatch table: a compiled path
// pattern, the set of methods it accepts, and the handler to run.
type route struct {
	name    string
	pattern *regexp.Regexp
	methods map[string]bool
	handle  func(w http.ResponseWriter, r *http.Request, m []string) error
}

// Router dispatches HTTP requests to Index/Query Service operations
// via its route table, classifying every handler error into the
// internal/apierr taxonomy before writing the response.
type Router struct {
	idx       *index.Index
	query     *queryservice.Service
	scheduler *idle.Scheduler
	logger    log.Logger
	routes    []route
	onExit    func()
}

// New builds the full route table bound to idx/query/scheduler.
// onExit is invoked (after the response is written) when /exit is hit.
func New(idx *index.Index, query *queryservice.Service, scheduler *idle.Scheduler, logger log.Logger, onExit func()) *Router {
	rt := &Router{idx: idx, query: query, scheduler: scheduler, logger: logger.Scoped("httpapi", ""), onExit: onExit}
	rt.routes = []route{
		{name: "ping", pattern: regexp.MustCompile(`^/ping$`), methods: methodSet("GET"), handle: rt.handlePing},
		{name: "exit", pattern: regexp.MustCompile(`^/exit$`), methods: methodSet("GET", "POST"), handle: rt.handleExit},
		{name: "status", pattern: regexp.MustCompile(`^/status$`), methods: methodSet("GET"), handle: rt.handleStatus},
		{name: "search", pattern: regexp.MustCompile(`^/search$`), methods: methodSet("POST"), handle: rt.handleSearch},
		{name: "sync", pattern: regexp.MustCompile(`^/sync$`), methods: methodSet("POST"), handle: rt.handleSync},
		{name: "begin_reindex", pattern: regexp.MustCompile(`^/begin_reindex$`), methods: methodSet("POST"), handle: rt.handleBeginReindex},
		{name: "dirs_add", pattern: regexp.MustCompile(`^/dirs/add$`), methods: methodSet("POST"), handle: rt.handleDirsAdd},
		{name: "dirs", pattern: regexp.MustCompile(`^/dirs$`), methods: methodSet("GET"), handle: rt.handleDirsList},
		{name: "dirs_one", pattern: regexp.MustCompile(`^/dirs/([^/]+)$`), methods: methodSet("GET", "DELETE"), handle: rt.handleDirsOne},
		{name: "ignores", pattern: regexp.MustCompile(`^/ignores$`), methods: methodSet("GET"), handle: rt.handleIgnoresList},
		{name: "ignores_add", pattern: regexp.MustCompile(`^/ignores/add$`), methods: methodSet("POST"), handle: rt.handleIgnoresAdd},
		{name: "ignores_remove", pattern: regexp.MustCompile(`^/ignores/remove$`), methods: methodSet("POST"), handle: rt.handleIgnoresRemove},
	}
	return rt
}

func methodSet(methods ...string) map[string]bool {
	m := make(map[string]bool, len(methods))
	for _, v := range methods {
		m[v] = true
	}
	return m
}

// ServeHTTP implements http.Handler: match the path against every
// route's pattern, check the verb, run the handler, and classify any
// error into the apierr taxonomy before writing the response.
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if rt.scheduler != nil {
		rt.scheduler.NotifyRequestStart()
		defer rt.scheduler.NotifyRequestDone()
	}

	w.Header().Set("Cache-Control", "no-cache")

	var matched *route
	var groups []string
	for i := range rt.routes {
		rte := &rt.routes[i]
		if m := rte.pattern.FindStringSubmatch(r.URL.Path); m != nil {
			matched = rte
			groups = m
			break
		}
	}
	if matched == nil {
		metrics.RequestsTotal.WithLabelValues("unmatched", "404").Inc()
		http.NotFound(w, r)
		return
	}
	if !matched.methods[r.Method] {
		metrics.RequestsTotal.WithLabelValues(matched.name, "405").Inc()
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	err := rt.callHandler(matched, w, r, groups)
	status := statusForError(err)
	metrics.RequestsTotal.WithLabelValues(matched.name, httpStatusLabel(status)).Inc()
	if err == nil {
		return
	}
	rt.writeError(w, status, err)
}

// callHandler recovers panics from a handler the same way
// searchOneShard does in zoekt's shards/shards.go: a crash in one
// request must not take down the process, but still surfaces as a
// handler failure with the Go stack attached to the log line.
func (rt *Router) callHandler(rte *route, w http.ResponseWriter, r *http.Request, groups []string) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			rt.logger.Error("handler panicked",
				log.String("route", rte.name),
				log.String("panic", toString(rec)),
				log.String("stack", string(debug.Stack())))
			err = &panicError{value: rec}
		}
	}()
	return rte.handle(w, r, groups)
}

type panicError struct{ value any }

func (e *panicError) Error() string { return "handler panic: " + toString(e.value) }

func toString(v any) string {
	if err, ok := v.(error); ok {
		return err.Error()
	}
	return "unknown panic"
}

// statusForError classifies err into an HTTP status per the
// internal/apierr taxonomy.
func statusForError(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var notFound *apierr.NotFound
	if asNotFound(err, &notFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func asNotFound(err error, target **apierr.NotFound) bool {
	for err != nil {
		if nf, ok := err.(*apierr.NotFound); ok {
			*target = nf
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func httpStatusLabel(status int) string {
	switch status {
	case http.StatusOK:
		return "200"
	case http.StatusNotFound:
		return "404"
	case http.StatusMethodNotAllowed:
		return "405"
	default:
		return "500"
	}
}

// writeError writes the response body for a classified error. NotFound
// gets an empty 404 body; everything else (Silent, Integrity,
// and unclassified handler failures) gets the exception-info JSON body.
// Silent errors skip the stack-trace log line the others get.
func (rt *Router) writeError(w http.ResponseWriter, status int, err error) {
	if status == http.StatusNotFound {
		w.WriteHeader(status)
		return
	}

	var silent *apierr.Silent
	isSilent := false
	if s, ok := err.(*apierr.Silent); ok {
		silent = s
		isSilent = true
	}
	if !isSilent {
		rt.logger.Error("handler failed", log.Error(err), log.String("stack", string(debug.Stack())))
	}

	body := map[string]any{
		"exception": err.Error(),
		"class":     errorClassName(err, isSilent, silent),
		"args":      []any{},
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func errorClassName(err error, isSilent bool, _ *apierr.Silent) string {
	if isSilent {
		return "Silent"
	}
	if _, ok := err.(*apierr.Integrity); ok {
		return "Integrity"
	}
	return "HandlerFailure"
}

func writeJSON(w http.ResponseWriter, v any) error {
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(v)
}

// readBody enforces the wire-protocol rule: a request with a body must
// carry Content-Length, and an empty body is treated as absent data
// rather than a JSON parse error.
func readBody(r *http.Request, v any) error {
	if r.ContentLength <= 0 {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	return dec.Decode(v)
}

func (rt *Router) handlePing(w http.ResponseWriter, r *http.Request, _ []string) error {
	return writeJSON(w, "pong")
}

func (rt *Router) handleExit(w http.ResponseWriter, r *http.Request, _ []string) error {
	if err := writeJSON(w, map[string]string{"status": "OK"}); err != nil {
		return err
	}
	if rt.onExit != nil {
		go func() {
			time.Sleep(10 * time.Millisecond) // give the response a chance to flush
			rt.onExit()
		}()
	}
	return nil
}
