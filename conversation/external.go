package conversation

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/pkg/errors"
)

// ExternalOp configures a non-deterministic or side-effecting operation
// recorded exactly once per instance lifetime. Task does the actual work;
// the Before/After hooks translate between the value Task produces and the
// JSON-serializable shape that ends up on the transcript.
type ExternalOp struct {
	Key              string
	Task             func(ctx context.Context) (any, error)
	BeforeStore      func(value any) any
	AfterLoad        func(stored any) any
	BeforeStoreError func(err error) any
	AfterLoadError   func(stored any) error
}

// outcome is the stored tagged union: {ok:true,value} | {ok:false,error}.
type outcome struct {
	OK    bool `json:"ok"`
	Value any  `json:"value,omitempty"`
	Error any  `json:"error,omitempty"`
}

// External runs op.Task at most once for this instance's lifetime. On the
// run where the task actually executes, the caller gets the task's raw
// return value back directly — beforeStore only affects what is written to
// the transcript. On replay, the task does not run again; the recorded
// outcome is decoded and, on success, passed through afterLoad to
// reconstruct the caller's domain value, or through afterLoadError to
// reconstruct a domain error.
func (h *Handle[C]) External(op ExternalOp) (any, error) {
	var raw any
	var rawErr error
	var ranLive bool

	v, err := h.controls.Action(func(ctx context.Context) (any, error) {
		ranLive = true
		value, taskErr := op.Task(ctx)
		raw, rawErr = value, taskErr

		if taskErr != nil {
			stored := any(taskErr.Error())
			if op.BeforeStoreError != nil {
				stored = op.BeforeStoreError(taskErr)
			}
			return outcome{OK: false, Error: stored}, nil
		}
		stored := value
		if op.BeforeStore != nil {
			stored = op.BeforeStore(value)
		}
		return outcome{OK: true, Value: stored}, nil
	}, op.Key)
	if err != nil {
		return nil, err
	}

	if ranLive {
		return raw, rawErr
	}

	out := decodeOutcome(v)
	if out.OK {
		value := out.Value
		if op.AfterLoad != nil {
			value = op.AfterLoad(value)
		}
		return value, nil
	}
	if op.AfterLoadError != nil {
		return nil, op.AfterLoadError(out.Error)
	}
	return nil, errors.Errorf("conversation: external operation failed: %v", out.Error)
}

func decodeOutcome(v any) outcome {
	if out, ok := v.(outcome); ok {
		return out
	}
	return decodeVia[outcome](v, outcome{OK: false, Error: "conversation: malformed stored outcome"})
}

// Sleep is external() specialized to a timer, so the delay is recorded once
// and never re-waited on replay.
func (h *Handle[C]) Sleep(d time.Duration) error {
	_, err := h.External(ExternalOp{
		Key: "sleep:" + d.String(),
		Task: func(ctx context.Context) (any, error) {
			select {
			case <-time.After(d):
				return nil, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	})
	return err
}

// Log is external() specialized to a structured log line, so the line is
// emitted exactly once and skipped entirely on replay.
func (h *Handle[C]) Log(msg string, args ...any) error {
	_, err := h.External(ExternalOp{
		Key: "log:" + msg,
		Task: func(ctx context.Context) (any, error) {
			slog.Info(msg, args...)
			return nil, nil
		},
	})
	return err
}

// Random is external() specialized to a single float64 draw, so the
// conversation's branching stays deterministic under replay.
func (h *Handle[C]) Random(key string) (float64, error) {
	v, err := h.External(ExternalOp{
		Key: "random:" + key,
		Task: func(ctx context.Context) (any, error) {
			return rand.Float64(), nil
		},
	})
	if err != nil {
		return 0, err
	}
	f, _ := v.(float64)
	return f, nil
}
