package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFacade_WriteReadRoundtrip(t *testing.T) {
	f := NewFacade(NewMemoryBackend(), 1)
	ctx := context.Background()

	data := Data{"greeter": []Instance{{Replay: Replay{Send: []SendOp{{Payload: "wait"}}}}}}
	require.NoError(t, f.Write(ctx, "chat-1", data))

	got, found, err := f.Read(ctx, "chat-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, data, got)
}

func TestFacade_MissingIsNotFoundNotError(t *testing.T) {
	f := NewFacade(NewMemoryBackend(), 0)
	_, found, err := f.Read(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestFacade_VersionMismatchTreatedAsAbsent(t *testing.T) {
	backend := NewMemoryBackend()
	ctx := context.Background()

	writer := NewFacade(backend, 1)
	require.NoError(t, writer.Write(ctx, "chat-1", Data{"g": []Instance{{}}}))

	reader := NewFacade(backend, 2)
	_, found, err := reader.Read(ctx, "chat-1")
	require.NoError(t, err)
	assert.False(t, found, "a user-version mismatch must read as absent, not deleted")

	// Absence on read must not delete the underlying record: the original
	// version can still read it back.
	got, found, err := writer.Read(ctx, "chat-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Len(t, got["g"], 1)
}

func TestFacade_WriteEmptyDataDeletes(t *testing.T) {
	f := NewFacade(NewMemoryBackend(), 0)
	ctx := context.Background()

	require.NoError(t, f.Write(ctx, "chat-1", Data{"g": []Instance{{}}}))
	require.NoError(t, f.Write(ctx, "chat-1", Data{}))

	_, found, err := f.Read(ctx, "chat-1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestFacade_Delete(t *testing.T) {
	f := NewFacade(NewMemoryBackend(), 0)
	ctx := context.Background()

	require.NoError(t, f.Write(ctx, "chat-1", Data{"g": []Instance{{}}}))
	require.NoError(t, f.Delete(ctx, "chat-1"))

	_, found, err := f.Read(ctx, "chat-1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestDataEmpty(t *testing.T) {
	assert.True(t, Data{}.Empty())
	assert.True(t, Data{"g": nil}.Empty())
	assert.False(t, Data{"g": []Instance{{}}}.Empty())
}
