// Package conversation implements the author-facing conversation handle
// (component E) and the conversation manager middleware (component F) on
// top of the replay engine and the versioned storage facade.
package conversation

import (
	"context"

	"github.com/hrygo/tgconvo/engine"
)

// CancelTag is the payload convention between Handle and the manager's
// resume loop for the four termination verbs: Cancel's message is always
// one of these four strings, and the manager switches on it.
type CancelTag string

const (
	TagSkip CancelTag = "skip"
	TagDrop CancelTag = "drop"
	TagHalt CancelTag = "halt"
	TagKill CancelTag = "kill"
)

// Builder is the user-supplied conversation procedure, parameterized over
// the framework's own context type C.
type Builder[C any] func(ctx context.Context, h *Handle[C]) (any, error)

// Handle is the surface a conversation builder actually calls: wait, the
// four termination verbs, external, and the sleep/log/random helpers built
// on external. It wraps one run's engine.Controls.
type Handle[C any] struct {
	controls *engine.Controls
	factory  ContextFactory[C]
	api      APIDriver
}

func newHandle[C any](controls *engine.Controls, factory ContextFactory[C], api APIDriver) *Handle[C] {
	return &Handle[C]{controls: controls, factory: factory, api: api}
}

// Wait suspends until the manager supplies the next event addressed to this
// instance, then rehydrates it into a fresh framework context whose
// outbound calls are routed through a per-wait interceptor so their results
// land in the transcript exactly once.
func (h *Handle[C]) Wait(ctx context.Context) (C, error) {
	var zero C
	raw, err := h.controls.Interrupt("wait")
	if err != nil {
		return zero, err
	}
	return h.factory(raw, newInterceptingAPI(h.controls, h.api)), nil
}

// Skip rolls the instance back to the checkpoint taken when the current
// event was supplied and asks the manager to try the next pending
// interrupt; if none remain, the framework is told this instance did not
// consume the event.
func (h *Handle[C]) Skip() error { return h.controls.Cancel(string(TagSkip)) }

// Drop performs the same rollback as Skip, but tells the framework the
// event was consumed (do not continue to other middleware).
func (h *Handle[C]) Drop() error { return h.controls.Cancel(string(TagDrop)) }

// Halt finalizes the instance (it is removed from the active list); the event
// counts as consumed, so the manager does not run downstream middleware.
func (h *Handle[C]) Halt() error { return h.controls.Cancel(string(TagHalt)) }

// Kill finalizes the instance; the framework always continues.
func (h *Handle[C]) Kill() error { return h.controls.Cancel(string(TagKill)) }
