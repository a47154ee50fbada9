// Package idle implements the daemon's idle scheduler: two cooperative
// events, hi-idle (~50ms) and lo-idle (~1s), fired in FIFO subscriber
// order whenever no request handler is executing.
//
// A single-threaded server can alternate between accepting a request
// and waiting out an idle tick, making "never fire while a request
// handler runs" automatic. net/http dispatches handlers on their own
// goroutines, so this scheduler approximates the same invariant with
// an in-flight counter: HTTP middleware calls
// NotifyRequestStart/NotifyRequestDone around every handler, and the
// scheduler's loop refuses to fire a tick while that counter is
// nonzero. See DESIGN.md for the reasoning.
package idle

import (
	"context"
	"sync"
	"time"

	"github.com/rs/xid"
)

// Token identifies a subscription; pass it to Unsubscribe to cancel.
type Token string

// DefaultHiInterval and DefaultLoInterval are the scheduler's default
// tick cadences.
const (
	DefaultHiInterval = 50 * time.Millisecond
	DefaultLoInterval = 1 * time.Second
)

type subscriber struct {
	token Token
	fn    func()
}

// Scheduler owns the hi-idle/lo-idle subscriber lists and the serving
// loop's idle wait. Construct one per daemon and pass it explicitly to
// every component that wants an idle hook, rather than reaching for a
// process-wide singleton.
type Scheduler struct {
	hiInterval time.Duration
	loInterval time.Duration

	mu  sync.Mutex
	hi  []subscriber
	lo  []subscriber

	inFlight int32
	wake     chan struct{}
}

// New returns a Scheduler using the default hi/lo intervals.
func New() *Scheduler {
	return NewWithIntervals(DefaultHiInterval, DefaultLoInterval)
}

// NewWithIntervals returns a Scheduler with explicit intervals, mainly
// for tests that want to run faster than real time.
func NewWithIntervals(hi, lo time.Duration) *Scheduler {
	return &Scheduler{
		hiInterval: hi,
		loInterval: lo,
		wake:       make(chan struct{}, 1),
	}
}

func (s *Scheduler) nudge() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// SubscribeHi registers fn to run on every hi-idle tick, in FIFO order
// relative to other hi subscribers. It returns a token usable with
// Unsubscribe.
func (s *Scheduler) SubscribeHi(fn func()) Token {
	return s.subscribe(&s.hi, fn)
}

// SubscribeLo registers fn to run on every lo-idle tick.
func (s *Scheduler) SubscribeLo(fn func()) Token {
	return s.subscribe(&s.lo, fn)
}

func (s *Scheduler) subscribe(list *[]subscriber, fn func()) Token {
	tok := Token(xid.New().String())
	s.mu.Lock()
	*list = append(*list, subscriber{token: tok, fn: fn})
	s.mu.Unlock()
	s.nudge()
	return tok
}

// Unsubscribe removes token from whichever list holds it. A no-op if
// the token is unknown (already unsubscribed, or never existed).
func (s *Scheduler) Unsubscribe(token Token) {
	s.mu.Lock()
	s.hi = removeToken(s.hi, token)
	s.lo = removeToken(s.lo, token)
	s.mu.Unlock()
	s.nudge()
}

func removeToken(list []subscriber, token Token) []subscriber {
	for i, sub := range list {
		if sub.token == token {
			return append(list[:i:i], list[i+1:]...)
		}
	}
	return list
}

// NotifyRequestStart marks a request handler as executing. Call it
// before dispatching the handler; the scheduler will not fire a tick
// until the matching NotifyRequestDone.
func (s *Scheduler) NotifyRequestStart() {
	s.mu.Lock()
	s.inFlight++
	s.mu.Unlock()
	s.nudge()
}

// NotifyRequestDone marks a previously-started request handler as
// finished.
func (s *Scheduler) NotifyRequestDone() {
	s.mu.Lock()
	s.inFlight--
	s.mu.Unlock()
	s.nudge()
}

// Run is the serving loop's idle wait: it blocks until ctx is
// cancelled, firing hi-idle or lo-idle subscribers at the appropriate
// cadence whenever no request is in flight. Run itself should be the
// only thing waiting between requests; callers preempt a pending tick
// simply by calling NotifyRequestStart, which wakes the loop early.
func (s *Scheduler) Run(ctx context.Context) {
	timer := time.NewTimer(s.nextInterval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(s.nextInterval())
		case <-timer.C:
			s.fireIfIdle()
			timer.Reset(s.nextInterval())
		}
	}
}

// nextInterval reports how long to wait before the next tick, and
// implicitly which tier that tick belongs to: hi-idle takes priority
// whenever it has subscribers, suppressing lo-idle entirely.
func (s *Scheduler) nextInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.hi) > 0 {
		return s.hiInterval
	}
	if len(s.lo) > 0 {
		return s.loInterval
	}
	return time.Hour // no subscribers; Subscribe* wakes us early if that changes
}

func (s *Scheduler) fireIfIdle() {
	s.mu.Lock()
	if s.inFlight > 0 {
		s.mu.Unlock()
		return
	}
	var batch []subscriber
	if len(s.hi) > 0 {
		batch = append(batch, s.hi...) // copy-on-fire: callbacks may unsubscribe mid-iteration
	} else if len(s.lo) > 0 {
		batch = append(batch, s.lo...)
	}
	s.mu.Unlock()

	for _, sub := range batch {
		sub.fn()
	}
}
