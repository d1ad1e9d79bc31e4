package resolver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolver_SettleAndAwait(t *testing.T) {
	r := New[string]()
	assert.False(t, r.IsSettled())

	go func() {
		time.Sleep(5 * time.Millisecond)
		r.Settle("hello")
	}()

	v, err := r.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hello", v)
	assert.True(t, r.IsSettled())
}

func TestResolver_SettleIsIdempotent(t *testing.T) {
	r := New[int]()
	r.Settle(1)
	r.Settle(2)
	assert.Equal(t, 1, r.Value())
}

func TestResolver_AwaitContextCanceled(t *testing.T) {
	r := New[int]()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Await(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResolver_SettleDefault(t *testing.T) {
	r := New[int]()
	r.SettleDefault()
	assert.True(t, r.IsSettled())
	assert.Equal(t, 0, r.Value())
}
