package layout

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSchedulerRunsIdleRequestsImmediately(t *testing.T) {
	var calls int64
	s := NewScheduler(func() { atomic.AddInt64(&calls, 1) })
	s.Request()
	s.Request()
	s.Request()
	require.EqualValues(t, 3, atomic.LoadInt64(&calls))
	require.EqualValues(t, 3, s.Passes())
	require.False(t, s.Running())
}

func TestSchedulerCoalescesRequestsDuringPass(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var calls int64
	s := NewScheduler(func() {
		if atomic.AddInt64(&calls, 1) == 1 {
			close(started)
			<-release
		}
	})

	done := make(chan struct{})
	go func() {
		s.Request()
		close(done)
	}()
	<-started
	require.True(t, s.Running())

	// every request during the pass folds into a single follow-up
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Request()
		}()
	}
	wg.Wait()

	close(release)
	<-done
	require.EqualValues(t, 2, atomic.LoadInt64(&calls))
	require.EqualValues(t, 2, s.Passes())
	require.False(t, s.Running())
}
