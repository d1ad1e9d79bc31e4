package conversation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_NamesSorted(t *testing.T) {
	reg := NewRegistry[testCtx]()
	builder := func(ctx context.Context, h *Handle[testCtx]) (any, error) { return nil, nil }

	for _, name := range []string{"zebra", "alpha", "mango"} {
		require.NoError(t, reg.Register(Definition[testCtx]{Name: name, Builder: builder}))
	}

	assert.Equal(t, []string{"alpha", "mango", "zebra"}, reg.names())
}
