package engine

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/hrygo/tgconvo/internal/condwait"
	"github.com/hrygo/tgconvo/internal/cursor"
	"github.com/hrygo/tgconvo/internal/replaystate"
	"github.com/hrygo/tgconvo/internal/resolver"
)

// ErrLocked is returned by any Controls method invoked after the run has
// finalized. It guards against a builder that forgot to await a control
// call and goes on to use the handle after the engine has moved on.
var ErrLocked = errors.New("engine: control operation called after run finalized")

// Controls is the set of suspension points given to a builder. Every method
// that can park does so by blocking the calling goroutine and, should the
// run finalize while it is still blocked, unwinding that goroutine with
// runtime.Goexit rather than returning a fabricated result — mirroring a
// cooperative scheduler's "never-settling future" with Go's own primitives.
type Controls struct {
	cursor *cursor.Cursor
	runCtx context.Context

	mu               sync.Mutex
	cond             *sync.Cond
	locked           bool
	interruptSeen    bool
	interruptIndices []int
	canceled         bool
	cancelMessage    any
	inFlight         int
}

func newControls(cur *cursor.Cursor, runCtx context.Context) *Controls {
	c := &Controls{cursor: cur, runCtx: runCtx}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Interrupt appends an interrupt op and blocks for its result. A value
// previously recorded for this op (replay) returns immediately. Otherwise
// it parks: if the run finalizes before this interrupt is ever supplied an
// answer, the calling goroutine never returns from Interrupt at all.
func (c *Controls) Interrupt(key string) (any, error) {
	if err := c.requireUnlocked(); err != nil {
		return nil, err
	}
	idx, err := c.cursor.Op(key)
	if err != nil {
		return nil, err
	}

	// Only an interrupt the log cannot answer arms the boundary: the cursor
	// calls this live resolution solely past the end of the recorded
	// completions, and it parks without ever returning a value to record.
	v, err := c.cursor.Done(c.runCtx, idx, func(ctx context.Context) (any, error) {
		c.noteInterrupt(idx)
		<-ctx.Done()
		park()
		return nil, nil
	})
	if err != nil {
		park()
	}
	return v, nil
}

// Cancel flags the run as canceled with the given payload, then parks: the
// calling goroutine never returns from Cancel during a live run. Calling
// Cancel after the run has already finalized is a usage error and returns
// ErrLocked instead of parking.
func (c *Controls) Cancel(message any) error {
	if err := c.requireUnlocked(); err != nil {
		return err
	}
	c.mu.Lock()
	c.canceled = true
	c.cancelMessage = message
	c.cond.Broadcast()
	c.mu.Unlock()

	<-c.runCtx.Done()
	park()
	return nil
}

// ActionHandle is a started-but-not-yet-awaited action. Discarding it
// without calling Await is exactly the "floating action" case: the engine
// still waits for it to finish (it already counted itself in-flight) before
// the run can finalize as interrupted or canceled, even though nothing in
// the builder ever observes its result in this run.
type ActionHandle struct {
	result *resolver.Resolver[actionResult]
}

type actionResult struct {
	value any
	err   error
}

// Await blocks for the action's result, parking forever (never returning)
// if the run tears down before the action ever got to report one.
func (h *ActionHandle) Await(ctx context.Context) (any, error) {
	res, err := h.result.Await(ctx)
	if err != nil {
		park()
	}
	if res.value == nil && isContextErr(res.err) {
		park()
	}
	return res.value, res.err
}

// StartAction appends an action op and registers it as in-flight
// synchronously, before returning — this is what lets a builder fire an
// action without awaiting it and still have the engine guarantee it runs to
// completion before the boundary fires. fn itself runs on a separate
// goroutine (live emission) or is skipped entirely (replay, recorded result
// read back instead); either way the result reaches the caller only through
// the returned handle's Await.
func (c *Controls) StartAction(fn func(ctx context.Context) (any, error), key string) (*ActionHandle, error) {
	if err := c.requireUnlocked(); err != nil {
		return nil, err
	}
	idx, err := c.cursor.Op(key)
	if err != nil {
		return nil, err
	}
	c.beginInFlight()

	r := resolver.New[actionResult]()
	go func() {
		v, produceErr := c.cursor.Done(c.runCtx, idx, fn)
		c.endInFlight()
		r.Settle(actionResult{value: v, err: produceErr})
	}()
	return &ActionHandle{result: r}, nil
}

// Action starts an action and immediately awaits it — the common case where
// the builder wants the result inline. Use StartAction directly for
// fire-and-forget actions.
func (c *Controls) Action(fn func(ctx context.Context) (any, error), key string) (any, error) {
	h, err := c.StartAction(fn, key)
	if err != nil {
		return nil, err
	}
	return h.Await(c.runCtx)
}

// Checkpoint returns the cursor's current read position.
func (c *Controls) Checkpoint() (replaystate.Checkpoint, error) {
	if err := c.requireUnlocked(); err != nil {
		return replaystate.Checkpoint{}, err
	}
	return c.cursor.Checkpoint(), nil
}

func (c *Controls) requireUnlocked() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.locked {
		return ErrLocked
	}
	return nil
}

func (c *Controls) lock() {
	c.mu.Lock()
	c.locked = true
	c.mu.Unlock()
}

func (c *Controls) noteInterrupt(idx int) {
	c.mu.Lock()
	c.interruptIndices = append(c.interruptIndices, idx)
	c.interruptSeen = true
	c.cond.Broadcast()
	c.mu.Unlock()
}

func (c *Controls) beginInFlight() {
	c.mu.Lock()
	c.inFlight++
	c.cond.Broadcast()
	c.mu.Unlock()
}

func (c *Controls) endInFlight() {
	c.mu.Lock()
	c.inFlight--
	c.cond.Broadcast()
	c.mu.Unlock()
}

// waitForBoundary blocks until at least one interrupt has been emitted or
// cancel has been called, with no action currently in-flight, or until ctx
// is done first. It reports whether the boundary actually fired.
func (c *Controls) waitForBoundary(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return condwait.Until(c.cond, ctx, func() bool {
		return (c.interruptSeen || c.canceled) && c.inFlight == 0
	})
}

// waitForIdle blocks until no action is in-flight, or until ctx is done
// first. Unlike waitForBoundary it does not require an interrupt or cancel
// to have happened — the builder returning is itself the event being
// waited on; this only guards against finalizing Returned/Thrown while a
// floating (unawaited) action the builder started is still running.
func (c *Controls) waitForIdle(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	condwait.Until(c.cond, ctx, func() bool {
		return c.inFlight == 0
	})
}

func (c *Controls) canceledMessage() (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelMessage, c.canceled
}

func (c *Controls) interruptSnapshot() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int, len(c.interruptIndices))
	copy(out, c.interruptIndices)
	return out
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
