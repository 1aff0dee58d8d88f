package flood

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackerOpenOnce(t *testing.T) {
	tr := NewTracker(time.Minute)
	require.True(t, tr.Open("b1"))
	assert.False(t, tr.Open("b1"))
	assert.True(t, tr.Seen("b1"))
	assert.Equal(t, 1, tr.Active())

	tr.Release("b1")
	assert.Zero(t, tr.Active())
	assert.False(t, tr.Open("b1"), "released ids stay tombstoned")
	assert.True(t, tr.Seen("b1"))
}

func TestTrackerAwaitWithNothingExpected(t *testing.T) {
	tr := NewTracker(time.Minute)
	require.True(t, tr.Open("b1"))

	c, err := tr.Await(context.Background(), "b1", time.Second)
	require.NoError(t, err)
	assert.Zero(t, c.Expected)
	assert.Zero(t, c.Received)
}

func TestTrackerEarlyCallbackDoesNotCompleteUnsealed(t *testing.T) {
	tr := NewTracker(time.Minute)
	require.True(t, tr.Open("b1"))

	// A callback overtakes the fan-out loop: 1/1 before the second
	// neighbor has been counted.
	require.NoError(t, tr.IncrementExpected("b1"))
	require.NoError(t, tr.RecordCallback("b1", Callback{Kind: KindCallback, From: "B"}))
	require.NoError(t, tr.IncrementExpected("b1"))

	done := make(chan Completion, 1)
	go func() {
		c, err := tr.Await(context.Background(), "b1", 5*time.Second)
		assert.NoError(t, err)
		done <- c
	}()

	select {
	case <-done:
		t.Fatal("await returned with one callback outstanding")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, tr.RecordCallback("b1", Callback{Kind: KindCallbackInvalid, From: "C"}))
	select {
	case c := <-done:
		assert.Equal(t, 2, c.Expected)
		assert.Equal(t, 2, c.Received)
		assert.Equal(t, 1, c.Invalid)
		assert.Len(t, c.Callbacks, 2)
	case <-time.After(time.Second):
		t.Fatal("await did not return after the last callback")
	}
}

func TestTrackerAwaitTimeout(t *testing.T) {
	tr := NewTracker(time.Minute)
	require.True(t, tr.Open("b1"))
	require.NoError(t, tr.IncrementExpected("b1"))

	c, err := tr.Await(context.Background(), "b1", 30*time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, 1, c.Expected)
	assert.Zero(t, c.Received)
}

func TestTrackerAwaitDeadlineIsTimeout(t *testing.T) {
	tr := NewTracker(time.Minute)
	require.True(t, tr.Open("b1"))
	require.NoError(t, tr.IncrementExpected("b1"))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := tr.Await(ctx, "b1", 0)
	require.ErrorIs(t, err, ErrTimeout)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTrackerLateAndUnknownCallbacks(t *testing.T) {
	tr := NewTracker(time.Minute)
	require.ErrorIs(t, tr.RecordCallback("ghost", Callback{}), ErrUnknownBroadcast)
	require.ErrorIs(t, tr.IncrementExpected("ghost"), ErrUnknownBroadcast)

	require.True(t, tr.Open("b1"))
	tr.Release("b1")
	require.ErrorIs(t, tr.RecordCallback("b1", Callback{}), ErrLateCallback)
}

func TestTrackerPending(t *testing.T) {
	tr := NewTracker(time.Minute)
	_, _, ok := tr.Pending("b1")
	assert.False(t, ok)

	require.True(t, tr.Open("b1"))
	require.NoError(t, tr.IncrementExpected("b1"))
	require.NoError(t, tr.IncrementExpected("b1"))
	require.NoError(t, tr.RecordCallback("b1", Callback{Kind: KindCallback}))

	exp, recv, ok := tr.Pending("b1")
	require.True(t, ok)
	assert.Equal(t, 2, exp)
	assert.Equal(t, 1, recv)
}

func TestTrackerConcurrentCallbacks(t *testing.T) {
	const n = 500
	tr := NewTracker(time.Minute)
	require.True(t, tr.Open("b1"))

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		require.NoError(t, tr.IncrementExpected("b1"))
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			kind := KindCallback
			if i%5 == 0 {
				kind = KindCallbackInvalid
			}
			assert.NoError(t, tr.RecordCallback("b1", Callback{Kind: kind}))
		}(i)
	}

	c, err := tr.Await(context.Background(), "b1", 5*time.Second)
	require.NoError(t, err)
	wg.Wait()
	assert.Equal(t, n, c.Expected)
	assert.Equal(t, n, c.Received)
	assert.Equal(t, n/5, c.Invalid)
}

func TestTrackerIndependentBroadcasts(t *testing.T) {
	tr := NewTracker(time.Minute)
	require.True(t, tr.Open("slow"))
	require.True(t, tr.Open("fast"))
	require.NoError(t, tr.IncrementExpected("slow"))
	require.NoError(t, tr.IncrementExpected("fast"))

	slowDone := make(chan struct{})
	go func() {
		_, _ = tr.Await(context.Background(), "slow", 2*time.Second)
		close(slowDone)
	}()

	require.NoError(t, tr.RecordCallback("fast", Callback{Kind: KindCallback}))
	_, err := tr.Await(context.Background(), "fast", time.Second)
	require.NoError(t, err)

	select {
	case <-slowDone:
		t.Fatal("completing one broadcast released another")
	default:
	}
	require.NoError(t, tr.RecordCallback("slow", Callback{Kind: KindCallback}))
	<-slowDone
}
