package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/tgconvo/internal/replaystate"
)

func TestEngine_SingleWaitRoundTrip(t *testing.T) {
	builder := func(ctx context.Context, c *Controls) (any, error) {
		v, err := c.Interrupt("wait")
		if err != nil {
			return nil, err
		}
		return v, nil
	}

	e := New(builder)
	out := e.Play(context.Background())
	require.Equal(t, Interrupted, out.Kind)
	require.Len(t, out.Interrupts, 1)

	seeded, seedIdx := Open("wait")
	assert.Equal(t, out.Interrupts[0], seedIdx)

	cp, err := Supply(seeded, seedIdx, "hello")
	require.NoError(t, err)
	assert.Equal(t, replaystate.Checkpoint{SendLen: 1, RecvLen: 0}, cp)

	out2 := e.Replay(context.Background(), seeded)
	require.Equal(t, Returned, out2.Kind)
	assert.Equal(t, "hello", out2.ReturnValue)
}

func TestEngine_ParallelInterruptsOrderIndependent(t *testing.T) {
	builder := func(ctx context.Context, c *Controls) (any, error) {
		var a, b any
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			a, _ = c.Interrupt("a")
		}()
		go func() {
			defer wg.Done()
			b, _ = c.Interrupt("b")
		}()
		wg.Wait()
		return []any{a, b}, nil
	}

	run := func(supplyAFirst bool) []any {
		e := New(builder)
		out := e.Play(context.Background())
		require.Equal(t, Interrupted, out.Kind)
		require.Len(t, out.Interrupts, 2)

		state := replaystate.New()
		state.Op("a")
		state.Op("b")

		first, second := out.Interrupts[0], out.Interrupts[1]
		firstVal, secondVal := "x", "y"
		if !supplyAFirst {
			first, second = second, first
			firstVal, secondVal = secondVal, firstVal
		}
		_, err := Supply(state, first, firstVal)
		require.NoError(t, err)
		_, err = Supply(state, second, secondVal)
		require.NoError(t, err)

		out2 := e.Replay(context.Background(), state)
		require.Equal(t, Returned, out2.Kind)
		return out2.ReturnValue.([]any)
	}

	r1 := run(true)
	r2 := run(false)
	assert.Equal(t, r1, r2)
}

func TestEngine_BadReplayIsThrown(t *testing.T) {
	state := replaystate.New()
	state.Op("a")

	builder := func(ctx context.Context, c *Controls) (any, error) {
		_, err := c.Interrupt("b")
		return nil, err
	}

	e := New(builder)
	out := e.Replay(context.Background(), state)
	require.Equal(t, Thrown, out.Kind)
	assert.Error(t, out.Err)
}

func TestEngine_FloatingActionRecordedBeforeInterrupted(t *testing.T) {
	var ran bool
	var mu sync.Mutex

	builder := func(ctx context.Context, c *Controls) (any, error) {
		_, err := c.StartAction(func(ctx context.Context) (any, error) {
			time.Sleep(15 * time.Millisecond)
			mu.Lock()
			ran = true
			mu.Unlock()
			return "bg-done", nil
		}, "bg")
		if err != nil {
			return nil, err
		}
		// Fire-and-forget: never call handle.Await. The engine must still
		// observe the action to completion before finalizing.
		_, err = c.Interrupt("wait")
		return nil, err
	}

	e := New(builder)
	out := e.Play(context.Background())
	require.Equal(t, Interrupted, out.Kind)

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, ran, "floating action must complete before the run finalizes")
}

func TestEngine_FloatingActionRecordedBeforeReturned(t *testing.T) {
	var ran bool
	var mu sync.Mutex

	builder := func(ctx context.Context, c *Controls) (any, error) {
		_, err := c.StartAction(func(ctx context.Context) (any, error) {
			time.Sleep(15 * time.Millisecond)
			mu.Lock()
			ran = true
			mu.Unlock()
			return "bg-done", nil
		}, "bg")
		if err != nil {
			return nil, err
		}
		// Fire-and-forget: never call handle.Await, then return immediately.
		// The engine must still observe the action to completion before the
		// Returned outcome is emitted.
		return 42, nil
	}

	e := New(builder)
	out := e.Play(context.Background())
	require.Equal(t, Returned, out.Kind)
	assert.Equal(t, 42, out.ReturnValue)

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, ran, "floating action must complete before a returned outcome finalizes")
}

func TestEngine_CancelOutcome(t *testing.T) {
	builder := func(ctx context.Context, c *Controls) (any, error) {
		return nil, c.Cancel("skip")
	}

	e := New(builder)
	out := e.Play(context.Background())
	require.Equal(t, Canceled, out.Kind)
	assert.Equal(t, "skip", out.Message)
}

func TestEngine_BuilderReturnValue(t *testing.T) {
	builder := func(ctx context.Context, c *Controls) (any, error) {
		return 42, nil
	}
	out := New(builder).Play(context.Background())
	require.Equal(t, Returned, out.Kind)
	assert.Equal(t, 42, out.ReturnValue)
}

func TestEngine_BuilderErrorIsThrown(t *testing.T) {
	wantErr := assert.AnError
	builder := func(ctx context.Context, c *Controls) (any, error) {
		return nil, wantErr
	}
	out := New(builder).Play(context.Background())
	require.Equal(t, Thrown, out.Kind)
	assert.Equal(t, wantErr, out.Err)
}

func TestEngine_BuilderPanicIsThrown(t *testing.T) {
	builder := func(ctx context.Context, c *Controls) (any, error) {
		panic("boom")
	}
	out := New(builder).Play(context.Background())
	require.Equal(t, Thrown, out.Kind)
	assert.Error(t, out.Err)
}

func TestEngine_ActionIdempotentUnderReplay(t *testing.T) {
	var runs int
	var mu sync.Mutex

	builder := func(ctx context.Context, c *Controls) (any, error) {
		v, _ := c.Action(func(ctx context.Context) (any, error) {
			mu.Lock()
			runs++
			mu.Unlock()
			return "done", nil
		}, "task")
		_, err := c.Interrupt("wait")
		return v, err
	}

	e := New(builder)
	out := e.Play(context.Background())
	require.Equal(t, Interrupted, out.Kind)

	seeded, taskIdx := Open("task")
	_, err := Supply(seeded, taskIdx, "done")
	require.NoError(t, err)
	waitIdx := seeded.Op("wait")
	_, err = Supply(seeded, waitIdx, "evt")
	require.NoError(t, err)

	out2 := New(builder).Replay(context.Background(), seeded)
	require.Equal(t, Returned, out2.Kind)
	assert.Equal(t, "done", out2.ReturnValue)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, runs, "action must execute at most once across play+replay")
}

func TestEngine_LockAfterFinalizeRejectsNewCalls(t *testing.T) {
	var c *Controls

	builder := func(ctx context.Context, ctrl *Controls) (any, error) {
		c = ctrl
		_, err := ctrl.Interrupt("wait")
		return nil, err
	}

	e := New(builder)
	out := e.Play(context.Background())
	require.Equal(t, Interrupted, out.Kind)

	_, err := c.Checkpoint()
	assert.ErrorIs(t, err, ErrLocked)
}
