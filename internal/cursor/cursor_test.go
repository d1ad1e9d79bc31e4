package cursor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/tgconvo/internal/replaystate"
)

func TestCursor_LiveExecutionRecorded(t *testing.T) {
	s := replaystate.New()
	c := New(s)

	idx, err := c.Op("wait")
	require.NoError(t, err)

	v, err := c.Done(context.Background(), idx, func(ctx context.Context) (any, error) {
		return "resolved", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "resolved", v)

	assert.Equal(t, 1, s.RecvLen())
	rec, err := s.RecvAt(0)
	require.NoError(t, err)
	assert.Equal(t, idx, rec.Send)
	assert.Equal(t, "resolved", rec.ReturnValue)
}

func TestCursor_ReplayMatchesRecordedKey(t *testing.T) {
	s := replaystate.New()
	i1 := s.Op("wait:a")
	require.NoError(t, s.Done(i1, "hello"))

	c := New(s)
	idx, err := c.Op("wait:a")
	require.NoError(t, err)
	assert.Equal(t, i1, idx)

	v, err := c.Done(context.Background(), idx, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", v)
}

func TestCursor_ReplayMismatchIsBadReplay(t *testing.T) {
	s := replaystate.New()
	s.Op("wait:a")

	c := New(s)
	_, err := c.Op("wait:b")
	assert.ErrorIs(t, err, ErrBadReplay)
}

func TestCursor_ReplaySerializesOutOfOrderCompletions(t *testing.T) {
	// Recorded order: op 1 completed before op 0, even though both were
	// emitted in index order. Replay must honor the completion order, not
	// emission order.
	s := replaystate.New()
	i0 := s.Op("a")
	i1 := s.Op("b")
	require.NoError(t, s.Done(i1, "b-result"))
	require.NoError(t, s.Done(i0, "a-result"))

	c := New(s)
	idx0, err := c.Op("a")
	require.NoError(t, err)
	idx1, err := c.Op("b")
	require.NoError(t, err)

	var order []string
	var mu sync.Mutex
	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		v, err := c.Done(context.Background(), idx0, nil)
		require.NoError(t, err)
		mu.Lock()
		order = append(order, v.(string))
		mu.Unlock()
	}()
	go func() {
		defer wg.Done()
		v, err := c.Done(context.Background(), idx1, nil)
		require.NoError(t, err)
		mu.Lock()
		order = append(order, v.(string))
		mu.Unlock()
	}()
	wg.Wait()

	assert.Equal(t, []string{"b-result", "a-result"}, order)
}

func TestCursor_ParkedInterruptUnblocksOnCancel(t *testing.T) {
	s := replaystate.New()
	c := New(s)

	idx, err := c.Op("wait")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Done(ctx, idx, nil)
		done <- err
	}()

	select {
	case <-done:
		t.Fatal("Done returned before cancel")
	case <-time.After(20 * time.Millisecond):
	}

	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Done did not unblock after cancel")
	}
}

func TestCursor_CheckpointTracksReadPosition(t *testing.T) {
	s := replaystate.New()
	c := New(s)

	idx, err := c.Op("a")
	require.NoError(t, err)
	cp := c.Checkpoint()
	assert.Equal(t, replaystate.Checkpoint{SendLen: 1, RecvLen: 0}, cp)

	_, err = c.Done(context.Background(), idx, func(ctx context.Context) (any, error) {
		return 1, nil
	})
	require.NoError(t, err)

	cp = c.Checkpoint()
	assert.Equal(t, replaystate.Checkpoint{SendLen: 1, RecvLen: 1}, cp)
}
