package storage

import "context"

// KV is the plainest shape a host application's own storage can take: a
// flat key to opaque-blob store, no notion of chats or conversations at
// all. NewKeyed treats the chat identifier as the key directly.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Del(ctx context.Context, key string) error
}

// NewKeyed adapts a raw key-value store into a Backend, using the chat
// identifier as the store key unchanged. storage/sqlite's Store is a KV and
// is wired into a Facade through this adapter.
func NewKeyed(kv KV) Backend {
	return keyedBackend{kv: kv, key: func(chatID string) string { return chatID }}
}

// NewKeyExtractor adapts a key-value store whose keys are not bare chat
// identifiers — e.g. a host application that namespaces all of its own
// storage under a prefix, or derives the physical key from the chat id by
// some other rule. extractKey receives the chat id and returns the key to
// use against kv.
func NewKeyExtractor(kv KV, extractKey func(chatID string) string) Backend {
	return keyedBackend{kv: kv, key: extractKey}
}

type keyedBackend struct {
	kv  KV
	key func(chatID string) string
}

func (b keyedBackend) Load(ctx context.Context, chatID string) ([]byte, bool, error) {
	return b.kv.Get(ctx, b.key(chatID))
}

func (b keyedBackend) Store(ctx context.Context, chatID string, blob []byte) error {
	return b.kv.Set(ctx, b.key(chatID), blob)
}

func (b keyedBackend) Remove(ctx context.Context, chatID string) error {
	return b.kv.Del(ctx, b.key(chatID))
}

// NewContextKeyed adapts storage that is addressed by the ambient
// context.Context rather than the chat identifier passed explicitly — for
// example a host application that stashes a request-scoped session or
// tenant handle on the context and expects all storage calls to be scoped
// by it. extractKey derives the physical key from (ctx, chatID); it
// typically ignores chatID entirely or folds it into a composite key.
func NewContextKeyed(kv KV, extractKey func(ctx context.Context, chatID string) string) Backend {
	return contextKeyedBackend{kv: kv, key: extractKey}
}

type contextKeyedBackend struct {
	kv  KV
	key func(ctx context.Context, chatID string) string
}

func (b contextKeyedBackend) Load(ctx context.Context, chatID string) ([]byte, bool, error) {
	return b.kv.Get(ctx, b.key(ctx, chatID))
}

func (b contextKeyedBackend) Store(ctx context.Context, chatID string, blob []byte) error {
	return b.kv.Set(ctx, b.key(ctx, chatID), blob)
}

func (b contextKeyedBackend) Remove(ctx context.Context, chatID string) error {
	return b.kv.Del(ctx, b.key(ctx, chatID))
}
