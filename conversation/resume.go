package conversation

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/tgconvo/engine"
	"github.com/hrygo/tgconvo/internal/replaystate"
	"github.com/hrygo/tgconvo/storage"
)

type resumeKind int

const (
	// resumeComplete means the instance is finished and should be removed
	// from the persisted list (returned, halted, or killed).
	resumeComplete resumeKind = iota
	// resumeError means the instance hit a bad-replay or builder error and
	// must be discarded; the caller rethrows res.err.
	resumeError
	// resumeRetain means the instance stays in the persisted list, either
	// with a new pending-interrupt state (handled) or unchanged (skip chain
	// exhausted, or a drop rollback).
	resumeRetain
)

type resumeResult struct {
	kind     resumeKind
	instance storage.Instance
	next     bool
	err      error
	// timedOut marks a resumeComplete reached via the max-wait timeout
	// rather than a genuine return/halt/kill, purely for metrics labeling.
	timedOut bool
}

// resumeInstance implements the resume procedure: supply the event to each
// pending interrupt in turn, replaying, until one handles it, the instance
// finishes, or the pending list is exhausted. maxWait of zero disables the
// timeout check entirely.
func resumeInstance(ctx context.Context, eng *engine.Engine, inst storage.Instance, event any, maxWait time.Duration) resumeResult {
	if maxWait > 0 && inst.ArmedAt > 0 {
		armed := time.UnixMilli(inst.ArmedAt)
		if time.Since(armed) > maxWait {
			return resumeResult{kind: resumeComplete, next: false, timedOut: true}
		}
	}

	state := fromReplay(inst.Replay)
	pending := append([]int(nil), inst.Interrupts...)

	for len(pending) > 0 {
		i := pending[0]
		cp, err := engine.Supply(state, i, event)
		if err != nil {
			return resumeResult{kind: resumeError, err: err}
		}
		out := eng.Replay(ctx, state)

		switch out.Kind {
		case engine.Returned:
			return resumeResult{kind: resumeComplete, next: false}

		case engine.Thrown:
			return resumeResult{kind: resumeError, err: out.Err}

		case engine.Interrupted:
			return resumeResult{
				kind: resumeRetain,
				instance: storage.Instance{
					Args:       inst.Args,
					Replay:     toReplay(state),
					Interrupts: out.Interrupts,
					ArmedAt:    time.Now().UnixMilli(),
				},
				next: false,
			}

		case engine.Canceled:
			if cp2, ok := out.Message.(replaystate.Checkpoint); ok {
				if err := engine.Reset(state, cp2); err != nil {
					return resumeResult{kind: resumeError, err: err}
				}
				continue // rewind and retry the same i
			}

			tag, _ := out.Message.(string)
			switch CancelTag(tag) {
			case TagSkip:
				if err := engine.Reset(state, cp); err != nil {
					return resumeResult{kind: resumeError, err: err}
				}
				pending = pending[1:]
				continue
			case TagDrop:
				if err := engine.Reset(state, cp); err != nil {
					return resumeResult{kind: resumeError, err: err}
				}
				return resumeResult{kind: resumeRetain, instance: inst, next: false}
			case TagHalt:
				return resumeResult{kind: resumeComplete, next: false}
			case TagKill:
				return resumeResult{kind: resumeComplete, next: true}
			default:
				return resumeResult{kind: resumeError, err: errors.Errorf("conversation: unrecognized cancel tag %q", tag)}
			}
		}
	}

	return resumeResult{kind: resumeRetain, instance: inst, next: true}
}

func adaptBuilder[C any](b Builder[C], factory ContextFactory[C], api APIDriver) engine.Builder {
	return func(ctx context.Context, controls *engine.Controls) (any, error) {
		h := newHandle(controls, factory, api)
		return b(ctx, h)
	}
}

func toReplay(state *replaystate.State) storage.Replay {
	send, recv := state.Snapshot()
	sendOps := make([]storage.SendOp, len(send))
	for i, s := range send {
		sendOps[i] = storage.SendOp{Payload: s.Payload}
	}
	recvOps := make([]storage.RecvOp, len(recv))
	for i, r := range recv {
		recvOps[i] = storage.RecvOp{Send: r.Send, ReturnValue: r.ReturnValue}
	}
	return storage.Replay{Send: sendOps, Receive: recvOps}
}

func fromReplay(r storage.Replay) *replaystate.State {
	send := make([]replaystate.SendOp, len(r.Send))
	for i, s := range r.Send {
		send[i] = replaystate.SendOp{Payload: s.Payload}
	}
	recv := make([]replaystate.RecvOp, len(r.Receive))
	for i, rv := range r.Receive {
		recv[i] = replaystate.RecvOp{Send: rv.Send, ReturnValue: rv.ReturnValue}
	}
	return replaystate.FromPersisted(send, recv)
}
