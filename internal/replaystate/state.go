// Package replaystate implements the transcript at the heart of the replay
// engine: an append-only log of emitted ops (send) and their eventual
// results (receive), with checkpoint/reset semantics for transactional
// rewind.
package replaystate

import (
	"github.com/pkg/errors"
)

// SendOp is a single emitted op: its collation key (payload). It carries no
// result — results live in the receive sequence, addressed by index.
type SendOp struct {
	Payload string `json:"payload"`
}

// RecvOp is a completion: it references the send index it resolves and
// carries the produced value. ReturnValue must be JSON-serializable, since
// the whole state is persisted opaquely by the conversation manager.
type RecvOp struct {
	Send        int `json:"send"`
	ReturnValue any `json:"returnValue"`
}

// Checkpoint is a transcript length pair. Resetting to a checkpoint
// truncates both sequences back to those lengths, atomically undoing every
// op and completion emitted since.
type Checkpoint struct {
	SendLen int
	RecvLen int
}

var (
	// ErrIndexOutOfRange is returned by Done when the referenced send index
	// does not exist. It signals an invariant violation in the caller, not a
	// recoverable runtime condition.
	ErrIndexOutOfRange = errors.New("replaystate: index out of range")
	// ErrAlreadyDone is returned by Done when the index already has a
	// recorded completion — each op may appear in receive at most once.
	ErrAlreadyDone = errors.New("replaystate: op already has a recorded completion")
	// ErrNegativeCheckpoint is returned by Reset for an invalid checkpoint.
	ErrNegativeCheckpoint = errors.New("replaystate: negative checkpoint")
	// ErrCheckpointInFuture is returned by Reset when the checkpoint names
	// lengths longer than the current sequences (nothing to undo there).
	ErrCheckpointInFuture = errors.New("replaystate: checkpoint exceeds current length")
)

// State holds one conversation instance's transcript. All mutation methods
// are safe to call without external synchronization: a Cursor serializes
// access from a single engine run, but a State itself never assumes that.
type State struct {
	send    []SendOp
	receive []RecvOp
	// doneIndex marks which send indices already have a completion, so Done
	// can enforce "at most once" without scanning receive.
	doneIndex map[int]struct{}
}

// New returns an empty transcript.
func New() *State {
	return &State{doneIndex: make(map[int]struct{})}
}

// FromPersisted reconstructs a State from its persisted send/receive
// sequences (see storage.Instance). The caller owns send/receive; State
// takes ownership of the slices.
func FromPersisted(send []SendOp, receive []RecvOp) *State {
	s := &State{send: send, receive: receive, doneIndex: make(map[int]struct{}, len(receive))}
	for _, r := range receive {
		s.doneIndex[r.Send] = struct{}{}
	}
	return s
}

// SendLen returns the number of emitted ops.
func (s *State) SendLen() int { return len(s.send) }

// RecvLen returns the number of recorded completions.
func (s *State) RecvLen() int { return len(s.receive) }

// PayloadAt returns the collation key recorded at a send index.
func (s *State) PayloadAt(index int) (string, error) {
	if index < 0 || index >= len(s.send) {
		return "", ErrIndexOutOfRange
	}
	return s.send[index].Payload, nil
}

// RecvAt returns the completion recorded at a receive position (not a send
// index — receive is a separate, append-ordered sequence).
func (s *State) RecvAt(pos int) (RecvOp, error) {
	if pos < 0 || pos >= len(s.receive) {
		return RecvOp{}, ErrIndexOutOfRange
	}
	return s.receive[pos], nil
}

// Checkpoint captures the current transcript length.
func (s *State) Checkpoint() Checkpoint {
	return Checkpoint{SendLen: len(s.send), RecvLen: len(s.receive)}
}

// Op appends a new send entry and returns its index.
func (s *State) Op(key string) int {
	s.send = append(s.send, SendOp{Payload: key})
	return len(s.send) - 1
}

// Done records the completion of the op at index. Fails if index is out of
// range or already has a recorded completion.
func (s *State) Done(index int, value any) error {
	if index < 0 || index >= len(s.send) {
		return ErrIndexOutOfRange
	}
	if _, ok := s.doneIndex[index]; ok {
		return ErrAlreadyDone
	}
	s.receive = append(s.receive, RecvOp{Send: index, ReturnValue: value})
	s.doneIndex[index] = struct{}{}
	return nil
}

// Reset truncates both sequences back to cp, undoing everything emitted or
// completed since. It is the primitive behind skip/drop rollback.
func (s *State) Reset(cp Checkpoint) error {
	if cp.SendLen < 0 || cp.RecvLen < 0 {
		return ErrNegativeCheckpoint
	}
	if cp.SendLen > len(s.send) || cp.RecvLen > len(s.receive) {
		return ErrCheckpointInFuture
	}
	for _, r := range s.receive[cp.RecvLen:] {
		delete(s.doneIndex, r.Send)
	}
	s.send = s.send[:cp.SendLen]
	s.receive = s.receive[:cp.RecvLen]
	return nil
}

// PendingInterrupts returns every send index with no recorded completion,
// restricted to the indices passed in (the engine tracks which indices were
// interrupts; this just filters out already-resolved ones).
func (s *State) PendingInterrupts(indices []int) []int {
	pending := make([]int, 0, len(indices))
	for _, idx := range indices {
		if _, done := s.doneIndex[idx]; !done {
			pending = append(pending, idx)
		}
	}
	return pending
}

// Snapshot returns copies of the send/receive sequences, suitable for
// persistence. Mutating the returned slices does not affect the State.
func (s *State) Snapshot() ([]SendOp, []RecvOp) {
	send := make([]SendOp, len(s.send))
	copy(send, s.send)
	receive := make([]RecvOp, len(s.receive))
	copy(receive, s.receive)
	return send, receive
}
