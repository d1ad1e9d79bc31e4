// Package engine runs a user-supplied conversation procedure against a
// replay transcript, reconciling deterministic replay-from-log with live
// execution of the parts the log does not yet cover.
//
// The procedure runs on its own goroutine rather than a cooperative
// single-task scheduler; suspension points (Interrupt, Action, Cancel) are
// ordinary blocking calls, and "parking forever" — a future that never
// settles in the original single-threaded model — is runtime.Goexit: the
// goroutine's deferred cleanup still runs, but control never returns to
// the line after the call.
package engine

import (
	"context"
	"runtime"

	"github.com/pkg/errors"

	"github.com/hrygo/tgconvo/internal/cursor"
	"github.com/hrygo/tgconvo/internal/replaystate"
)

// Builder is the user conversation procedure. Its (value, error) return
// maps Go's native success/failure convention onto the returned/thrown
// outcome duality; a panic is caught and treated the same as a returned
// error, becoming outcome Thrown.
type Builder func(ctx context.Context, c *Controls) (any, error)

// OutcomeKind classifies how a run finalized.
type OutcomeKind int

const (
	// Returned means the builder completed and no interrupt remained
	// unresolved.
	Returned OutcomeKind = iota
	// Canceled means Cancel was called before the builder returned.
	Canceled
	// Interrupted means the boundary fired on one or more unresolved
	// interrupts.
	Interrupted
	// Thrown means the builder returned a non-nil error or panicked.
	Thrown
)

func (k OutcomeKind) String() string {
	switch k {
	case Returned:
		return "returned"
	case Canceled:
		return "canceled"
	case Interrupted:
		return "interrupted"
	case Thrown:
		return "thrown"
	default:
		return "unknown"
	}
}

// Outcome is the result of one Play/Replay call. Exactly the fields
// relevant to Kind are populated.
type Outcome struct {
	Kind        OutcomeKind
	ReturnValue any
	Message     any
	Interrupts  []int
	Err         error
}

// Engine retains a builder and runs it against a replay state.
type Engine struct {
	builder Builder
}

// New retains a builder for repeated Play/Replay calls.
func New(builder Builder) *Engine {
	return &Engine{builder: builder}
}

// Play runs the builder from a fresh, empty state.
func (e *Engine) Play(ctx context.Context) *Outcome {
	return e.run(ctx, replaystate.New())
}

// Replay resumes the builder against an existing state.
func (e *Engine) Replay(ctx context.Context, state *replaystate.State) *Outcome {
	return e.run(ctx, state)
}

// Open creates a state that already contains one unresolved interrupt with
// the given key, seeding a brand-new conversation instance. It returns the
// state and the interrupt's index, which the caller later passes to Supply.
func Open(firstKey string) (*replaystate.State, int) {
	state := replaystate.New()
	idx := state.Op(firstKey)
	return state, idx
}

// Supply records a completion for an interrupt, returning a checkpoint
// taken before the mutation so the caller can roll back via Reset.
func Supply(state *replaystate.State, interruptIndex int, value any) (replaystate.Checkpoint, error) {
	cp := state.Checkpoint()
	if err := state.Done(interruptIndex, value); err != nil {
		return cp, err
	}
	return cp, nil
}

// Reset rolls a state back to a previously captured checkpoint.
func Reset(state *replaystate.State, cp replaystate.Checkpoint) error {
	return state.Reset(cp)
}

type builderResult struct {
	value any
	err   error
}

// run races the builder against the finalize boundary described in
// Controls.waitForBoundary. Whichever side resolves first decides the
// outcome; the run context is canceled immediately afterward so that any
// control call still blocked on the other side parks for good.
func (e *Engine) run(parent context.Context, state *replaystate.State) *Outcome {
	cur := cursor.New(state)
	runCtx, cancelRun := context.WithCancel(parent)
	defer cancelRun()

	c := newControls(cur, runCtx)

	done := make(chan builderResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- builderResult{err: panicToError(r)}
			}
		}()
		v, err := e.builder(runCtx, c)
		done <- builderResult{value: v, err: err}
	}()

	boundaryFired := make(chan struct{})
	go func() {
		if c.waitForBoundary(runCtx) {
			close(boundaryFired)
		}
	}()

	select {
	case res := <-done:
		// The builder has returned, but a floating action it started and
		// never awaited may still be running; finalizing now would emit a
		// returned=true outcome while that action op is in-flight. Wait for
		// it to drain before cancelRun tears runCtx down.
		c.waitForIdle(runCtx)
		cancelRun()
		c.lock()
		if res.err != nil {
			return &Outcome{Kind: Thrown, Err: res.err}
		}
		return &Outcome{Kind: Returned, ReturnValue: res.value}

	case <-boundaryFired:
		cancelRun()
		c.lock()
		if msg, canceled := c.canceledMessage(); canceled {
			return &Outcome{Kind: Canceled, Message: msg}
		}
		return &Outcome{Kind: Interrupted, Interrupts: state.PendingInterrupts(c.interruptSnapshot())}
	}
}

func panicToError(r any) error {
	if err, ok := r.(error); ok {
		return errors.Wrap(err, "engine: builder panicked")
	}
	return errors.Errorf("engine: builder panicked: %v", r)
}

// park unwinds the calling goroutine without returning to the caller,
// standing in for a cooperative scheduler's never-settling future. Deferred
// cleanup in the builder still runs; recover() does not see this as a panic.
func park() {
	runtime.Goexit()
}
