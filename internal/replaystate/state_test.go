package replaystate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestState_OpAndDone(t *testing.T) {
	s := New()
	idx := s.Op("wait")
	assert.Equal(t, 0, idx)
	assert.Equal(t, 1, s.SendLen())

	require.NoError(t, s.Done(idx, "hello"))
	assert.Equal(t, 1, s.RecvLen())

	rec, err := s.RecvAt(0)
	require.NoError(t, err)
	assert.Equal(t, idx, rec.Send)
	assert.Equal(t, "hello", rec.ReturnValue)
}

func TestState_DoneOutOfRange(t *testing.T) {
	s := New()
	assert.ErrorIs(t, s.Done(5, "x"), ErrIndexOutOfRange)
}

func TestState_DoneTwiceRejected(t *testing.T) {
	s := New()
	idx := s.Op("a")
	require.NoError(t, s.Done(idx, 1))
	assert.ErrorIs(t, s.Done(idx, 2), ErrAlreadyDone)
}

func TestState_CheckpointRoundtrip(t *testing.T) {
	s := New()
	s.Op("a")
	cp := s.Checkpoint()
	require.NoError(t, s.Reset(cp))
	assert.Equal(t, 1, s.SendLen())
	assert.Equal(t, 0, s.RecvLen())
}

func TestState_ResetUndoesEmissionsAndCompletions(t *testing.T) {
	s := New()
	i1 := s.Op("a")
	cp := s.Checkpoint()
	i2 := s.Op("b")
	require.NoError(t, s.Done(i1, 1))
	require.NoError(t, s.Done(i2, 2))

	require.NoError(t, s.Reset(cp))
	assert.Equal(t, 1, s.SendLen())
	assert.Equal(t, 0, s.RecvLen())

	// The op at i1 no longer has a completion and can be redone.
	require.NoError(t, s.Done(i1, 3))
	rec, err := s.RecvAt(0)
	require.NoError(t, err)
	assert.Equal(t, 3, rec.ReturnValue)
}

func TestState_ResetNegativeCheckpoint(t *testing.T) {
	s := New()
	assert.ErrorIs(t, s.Reset(Checkpoint{SendLen: -1}), ErrNegativeCheckpoint)
}

func TestState_ResetFutureCheckpoint(t *testing.T) {
	s := New()
	assert.ErrorIs(t, s.Reset(Checkpoint{SendLen: 5}), ErrCheckpointInFuture)
}

func TestState_PendingInterrupts(t *testing.T) {
	s := New()
	i1 := s.Op("wait")
	i2 := s.Op("wait")
	require.NoError(t, s.Done(i1, "x"))

	pending := s.PendingInterrupts([]int{i1, i2})
	assert.Equal(t, []int{i2}, pending)
}

func TestState_FromPersistedRoundtrip(t *testing.T) {
	s := New()
	idx := s.Op("a")
	require.NoError(t, s.Done(idx, "v"))

	send, recv := s.Snapshot()
	s2 := FromPersisted(send, recv)
	assert.Equal(t, s.SendLen(), s2.SendLen())
	assert.Equal(t, s.RecvLen(), s2.RecvLen())
	assert.ErrorIs(t, s2.Done(idx, "v2"), ErrAlreadyDone)
}
