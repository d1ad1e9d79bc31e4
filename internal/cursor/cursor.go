// Package cursor implements the reading/writing pointer over a replay
// state that merges replay-from-log execution with live execution and
// enforces emission ordering.
package cursor

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/hrygo/tgconvo/internal/condwait"
	"github.com/hrygo/tgconvo/internal/replaystate"
)

// ErrBadReplay is returned by Op when the collation key the procedure
// presents does not match the key recorded at the same position. It is
// fatal to the instance: the caller should discard it.
var ErrBadReplay = errors.New("cursor: bad replay, collation key mismatch")

// Produce executes a live action's side effect. Its error, if any, is
// recorded alongside the value and returned to the caller unchanged — the
// cursor itself never interprets it.
type Produce func(ctx context.Context) (any, error)

// Cursor wraps one replay state with two read positions and notifies
// waiters whenever either advances, so concurrent op completions can be
// serialized into the recorded completion order during replay.
type Cursor struct {
	mu      sync.Mutex
	cond    *sync.Cond
	state   *replaystate.State
	sendPos int
	recvPos int
}

// New wraps a replay state in a fresh cursor, both read positions at zero.
func New(state *replaystate.State) *Cursor {
	c := &Cursor{state: state}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Checkpoint returns the cursor's current read position.
func (c *Cursor) Checkpoint() replaystate.Checkpoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return replaystate.Checkpoint{SendLen: c.sendPos, RecvLen: c.recvPos}
}

// Op advances past the next send entry. If still inside the recorded log
// (send_pos < len(send)), the presented key must equal the recorded key —
// a mismatch is ErrBadReplay. Past the end of the log, it appends a fresh
// entry and executes live.
func (c *Cursor) Op(key string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sendPos < c.state.SendLen() {
		recorded, err := c.state.PayloadAt(c.sendPos)
		if err != nil {
			return 0, err
		}
		if recorded != key {
			return 0, ErrBadReplay
		}
		idx := c.sendPos
		c.sendPos++
		c.cond.Broadcast()
		return idx, nil
	}

	idx := c.state.Op(key)
	c.sendPos++
	c.cond.Broadcast()
	return idx, nil
}

// Done resolves the completion of the op at index.
//
// If recv_pos is still inside the recorded log, this call is replaying: it
// blocks until the completion at recv_pos references index (yielding to
// other cursor users via the change notification on every advance), then
// returns the recorded result. Concurrent ops that settled live in some
// order during the original run are, by construction, recorded in that
// order — replaying them re-serializes completions into the identical
// interleaving regardless of goroutine scheduling this time around.
//
// Once recv_pos reaches the end of the log, Done executes produce live
// (outside the lock) and appends its result — or, if produce is nil (a
// completion with no live resolution of its own), blocks on ctx instead. ctx is the run's lifetime: when the engine finalizes and
// cancels it, a parked Done call returns ctx.Err() without ever invoking
// produce, and the caller is expected to abandon (see engine.Controls).
func (c *Cursor) Done(ctx context.Context, index int, produce Produce) (any, error) {
	c.mu.Lock()
	for {
		if c.recvPos < c.state.RecvLen() {
			rec, err := c.state.RecvAt(c.recvPos)
			if err != nil {
				c.mu.Unlock()
				return nil, err
			}
			if rec.Send == index {
				c.recvPos++
				c.cond.Broadcast()
				c.mu.Unlock()
				return rec.ReturnValue, nil
			}
			// Not our turn yet: another op's completion is next in the
			// recorded order. Wait for any advance and recheck.
			if ctx.Err() != nil {
				c.mu.Unlock()
				return nil, ctx.Err()
			}
			condwait.Once(c.cond, ctx)
			continue
		}

		if produce == nil {
			condwait.Until(c.cond, ctx, func() bool { return false })
			c.mu.Unlock()
			return nil, ctx.Err()
		}

		c.mu.Unlock()
		value, produceErr := produce(ctx)

		c.mu.Lock()
		if err := c.state.Done(index, value); err != nil {
			c.mu.Unlock()
			return nil, err
		}
		c.recvPos++
		c.cond.Broadcast()
		c.mu.Unlock()
		return value, produceErr
	}
}

// Perform combines Op and Done for the common op-then-complete pattern.
func (c *Cursor) Perform(ctx context.Context, action Produce, key string) (any, error) {
	idx, err := c.Op(key)
	if err != nil {
		return nil, err
	}
	return c.Done(ctx, idx, action)
}
