// Package trace is a thin wrapper around golang.org/x/net/trace: a
// request-scoped diagnostic log carried in a context. The Query Service
// records events on the Trace it finds via FromContext; no code in this
// module creates a Trace or attaches one with WithContext, so those
// events go to a no-op Trace, including when the daemon runs with
// --trace.
package trace

import (
	"context"

	nettrace "golang.org/x/net/trace"
)

type traceKey struct{}

// Trace is a single request-scoped event log.
type Trace struct {
	tr      nettrace.Trace
	enabled bool
}

// New starts a trace under family/title. If enabled is false, every
// method is a no-op; callers don't need to branch on --trace.
func New(family, title string, enabled bool) *Trace {
	if !enabled {
		return &Trace{enabled: false}
	}
	return &Trace{tr: nettrace.New(family, title), enabled: true}
}

// WithContext attaches t to ctx, so deeper calls can retrieve it via
// FromContext without threading it through every signature.
func WithContext(ctx context.Context, t *Trace) context.Context {
	return context.WithValue(ctx, traceKey{}, t)
}

// FromContext retrieves a Trace previously attached with WithContext,
// or a disabled no-op Trace if there is none.
func FromContext(ctx context.Context) *Trace {
	if t, ok := ctx.Value(traceKey{}).(*Trace); ok && t != nil {
		return t
	}
	return &Trace{enabled: false}
}

// LazyPrintf records a formatted event, evaluating the arguments only
// when the trace is enabled.
func (t *Trace) LazyPrintf(format string, args ...any) {
	if t == nil || !t.enabled {
		return
	}
	t.tr.LazyPrintf(format, args...)
}

// SetError marks the trace as having ended in an error.
func (t *Trace) SetError() {
	if t == nil || !t.enabled {
		return
	}
	t.tr.SetError()
}

// Finish closes out the trace.
func (t *Trace) Finish() {
	if t == nil || !t.enabled {
		return
	}
	t.tr.Finish()
}
