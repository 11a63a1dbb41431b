package pool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcherFoldsRequestsIntoOneRerun(t *testing.T) {
	d := NewDispatcher(time.Second)
	release := make(chan struct{})
	var runs atomic.Int32

	job := func(ctx context.Context) {
		if runs.Add(1) == 1 {
			<-release
		}
	}
	require.True(t, d.Go("u1:general_medium", job))
	assert.True(t, d.InFlight("u1:general_medium"))
	for i := 0; i < 5; i++ {
		assert.False(t, d.Go("u1:general_medium", job))
	}
	close(release)
	d.Wait()

	assert.Equal(t, int32(2), runs.Load())
	assert.False(t, d.InFlight("u1:general_medium"))
}

func TestDispatcherKeysAreIndependent(t *testing.T) {
	d := NewDispatcher(time.Second)
	var runs atomic.Int32
	job := func(context.Context) { runs.Add(1) }

	assert.True(t, d.Go("u1:general_medium", job))
	assert.True(t, d.Go("u1:general_hard", job))
	d.Wait()
	assert.Equal(t, int32(2), runs.Load())

	assert.True(t, d.Go("u1:general_medium", job))
	d.Wait()
	assert.Equal(t, int32(3), runs.Load())
}

func TestDispatcherRecoversPanics(t *testing.T) {
	d := NewDispatcher(time.Second)
	require.True(t, d.Go("k", func(context.Context) { panic("boom") }))
	d.Wait()
	assert.False(t, d.InFlight("k"))

	ran := false
	require.True(t, d.Go("k", func(context.Context) { ran = true }))
	d.Wait()
	assert.True(t, ran)
}

func TestDispatcherContextIsDetached(t *testing.T) {
	d := NewDispatcher(50 * time.Millisecond)
	var deadline time.Time
	var hasDeadline bool
	d.Go("k", func(ctx context.Context) {
		deadline, hasDeadline = ctx.Deadline()
		<-ctx.Done()
	})
	d.Wait()
	assert.True(t, hasDeadline)
	assert.WithinDuration(t, time.Now(), deadline, time.Second)
}

func TestDispatcherStaleJobKeepsNewerMarker(t *testing.T) {
	d := NewDispatcher(200 * time.Millisecond)
	releaseStale := make(chan struct{})
	releaseFresh := make(chan struct{})

	require.True(t, d.Go("k", func(context.Context) { <-releaseStale }))
	require.Eventually(t, func() bool { return !d.InFlight("k") }, time.Second, 10*time.Millisecond,
		"marker expires with the job timeout")

	var freshRuns atomic.Int32
	require.True(t, d.Go("k", func(context.Context) {
		if freshRuns.Add(1) == 1 {
			<-releaseFresh
		}
	}))

	close(releaseStale)
	time.Sleep(20 * time.Millisecond)
	assert.True(t, d.InFlight("k"))
	assert.False(t, d.Go("k", func(context.Context) {}), "folded into the running job")

	close(releaseFresh)
	d.Wait()
	assert.Equal(t, int32(2), freshRuns.Load())
	assert.False(t, d.InFlight("k"))
}
