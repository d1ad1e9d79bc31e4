package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeKV struct {
	data map[string][]byte
}

func newFakeKV() *fakeKV { return &fakeKV{data: make(map[string][]byte)} }

func (f *fakeKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := f.data[key]
	return v, ok, nil
}

func (f *fakeKV) Set(_ context.Context, key string, value []byte) error {
	f.data[key] = value
	return nil
}

func (f *fakeKV) Del(_ context.Context, key string) error {
	delete(f.data, key)
	return nil
}

func TestNewKeyed_UsesChatIDVerbatim(t *testing.T) {
	kv := newFakeKV()
	b := NewKeyed(kv)
	require.NoError(t, b.Store(context.Background(), "chat-1", []byte("x")))
	_, ok := kv.data["chat-1"]
	assert.True(t, ok)
}

func TestNewKeyExtractor_PrefixesKey(t *testing.T) {
	kv := newFakeKV()
	b := NewKeyExtractor(kv, func(chatID string) string { return "conv:" + chatID })
	require.NoError(t, b.Store(context.Background(), "chat-1", []byte("x")))
	_, ok := kv.data["conv:chat-1"]
	assert.True(t, ok)

	blob, found, err := b.Load(context.Background(), "chat-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("x"), blob)
}

func TestNewContextKeyed_DerivesKeyFromContext(t *testing.T) {
	type tenantKey struct{}
	kv := newFakeKV()
	b := NewContextKeyed(kv, func(ctx context.Context, chatID string) string {
		tenant, _ := ctx.Value(tenantKey{}).(string)
		return tenant + "/" + chatID
	})

	ctx := context.WithValue(context.Background(), tenantKey{}, "acme")
	require.NoError(t, b.Store(ctx, "chat-1", []byte("x")))
	_, ok := kv.data["acme/chat-1"]
	assert.True(t, ok)
}
