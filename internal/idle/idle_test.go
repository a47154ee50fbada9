package idle_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quickopen/quickopend/internal/idle"
)

func TestScheduler_FiresHiIdle(t *testing.T) {
	s := idle.NewWithIntervals(5*time.Millisecond, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	var count int32
	s.SubscribeHi(func() { atomic.AddInt32(&count, 1) })

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&count) >= 3
	}, time.Second, time.Millisecond)
}

func TestScheduler_LoIdleSuppressedWhileHiHasSubscribers(t *testing.T) {
	s := idle.NewWithIntervals(5*time.Millisecond, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	var hiCount, loCount int32
	s.SubscribeHi(func() { atomic.AddInt32(&hiCount, 1) })
	s.SubscribeLo(func() { atomic.AddInt32(&loCount, 1) })

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&hiCount) >= 5
	}, time.Second, time.Millisecond)
	require.EqualValues(t, 0, atomic.LoadInt32(&loCount))
}

func TestScheduler_LoIdleFiresOnceHiHasNoSubscribers(t *testing.T) {
	s := idle.NewWithIntervals(5*time.Millisecond, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	var loCount int32
	s.SubscribeLo(func() { atomic.AddInt32(&loCount, 1) })

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&loCount) >= 2
	}, time.Second, time.Millisecond)
}

func TestScheduler_NeverFiresWhileRequestInFlight(t *testing.T) {
	s := idle.NewWithIntervals(2*time.Millisecond, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	var count int32
	s.SubscribeHi(func() { atomic.AddInt32(&count, 1) })

	s.NotifyRequestStart()
	time.Sleep(30 * time.Millisecond)
	require.EqualValues(t, 0, atomic.LoadInt32(&count))

	s.NotifyRequestDone()
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&count) >= 1
	}, time.Second, time.Millisecond)
}

func TestScheduler_UnsubscribeStopsFutureTicks(t *testing.T) {
	s := idle.NewWithIntervals(3*time.Millisecond, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	var count int32
	tok := s.SubscribeHi(func() { atomic.AddInt32(&count, 1) })

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&count) >= 1
	}, time.Second, time.Millisecond)

	s.Unsubscribe(tok)
	after := atomic.LoadInt32(&count)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, after, atomic.LoadInt32(&count))
}

func TestScheduler_SelfUnsubscribeDuringCallback(t *testing.T) {
	s := idle.NewWithIntervals(3*time.Millisecond, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	var tok idle.Token
	var fired int32
	tok = s.SubscribeHi(func() {
		atomic.AddInt32(&fired, 1)
		s.Unsubscribe(tok)
	})

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&fired) >= 1
	}, time.Second, time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	require.EqualValues(t, 1, atomic.LoadInt32(&fired))
}
