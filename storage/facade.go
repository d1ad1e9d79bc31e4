// Package storage implements the versioned storage facade: it normalizes
// whatever shape of key-value storage a host application supplies into a
// single read/write/delete contract over per-chat conversation data, tagged
// with a two-piece version that lets a mismatched or missing record be
// treated as absence rather than error.
package storage

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
)

// SendOp mirrors replaystate.SendOp in persisted form.
type SendOp struct {
	Payload string `json:"payload"`
}

// RecvOp mirrors replaystate.RecvOp in persisted form.
type RecvOp struct {
	Send        int `json:"send"`
	ReturnValue any `json:"returnValue"`
}

// Replay is the persisted transcript of one conversation instance.
type Replay struct {
	Send    []SendOp `json:"send"`
	Receive []RecvOp `json:"receive"`
}

// Instance is one running (or suspended) conversation, as persisted.
type Instance struct {
	Args       string `json:"args,omitempty"`
	Replay     Replay `json:"replay"`
	Interrupts []int  `json:"interrupts"`
	// ArmedAt is the unix-millisecond time at which Interrupts was last set,
	// i.e. when the instance most recently suspended on a wait. Zero means
	// no max-wait timeout applies (the instance was never stamped, or the
	// host application doesn't use the timeout feature). A registered
	// conversation's MaxWait compares the current time against this on
	// resume.
	ArmedAt int64 `json:"armedAt,omitempty"`
}

// Data is the full persisted payload for one chat: every conversation name
// that has at least one stored instance.
type Data map[string][]Instance

// Empty reports whether d has no conversation names with instances at all.
func (d Data) Empty() bool {
	for _, instances := range d {
		if len(instances) > 0 {
			return false
		}
	}
	return true
}

// Version tags a persisted record with the internal plugin schema version
// (bumped only by this module, currently always 0) and a user-configurable
// version the host application controls. Either mismatching on read means
// the record is treated as if it were never there.
type Version struct {
	Plugin int `json:"plugin"`
	User   int `json:"user"`
}

// CurrentPluginVersion is the schema version this build writes and expects.
const CurrentPluginVersion = 0

type envelope struct {
	Version Version `json:"version"`
	Data    Data    `json:"data"`
}

// Backend is the uniform shape every storage adapter normalizes down to:
// read/write/delete one opaque blob per chat. See NewKeyed, NewKeyExtractor
// and NewContextKeyed in adapters.go for the three shapes the host
// application may supply instead.
type Backend interface {
	Load(ctx context.Context, chatID string) ([]byte, bool, error)
	Store(ctx context.Context, chatID string, blob []byte) error
	Remove(ctx context.Context, chatID string) error
}

// Facade is the versioned storage facade (component G): it serializes Data
// through a Backend, stamping and checking the Version on every round trip.
type Facade struct {
	backend Backend
	version Version
}

// NewFacade wraps a Backend with the user-configurable version it should
// write and require on read. A default (zero-value) Version is fine when
// the host application has no migration needs of its own.
func NewFacade(backend Backend, userVersion int) *Facade {
	return &Facade{backend: backend, version: Version{Plugin: CurrentPluginVersion, User: userVersion}}
}

// Read loads a chat's conversation data. A missing record, a record tagged
// with a different version, or a record that fails to decode are all
// reported as "not found" rather than error — the caller starts fresh. Only
// genuine backend failures (the store itself erroring) are returned as err.
func (f *Facade) Read(ctx context.Context, chatID string) (Data, bool, error) {
	blob, found, err := f.backend.Load(ctx, chatID)
	if err != nil {
		return nil, false, errors.Wrap(err, "storage: load")
	}
	if !found {
		return nil, false, nil
	}

	var env envelope
	if err := json.Unmarshal(blob, &env); err != nil {
		return nil, false, nil
	}
	if env.Version != f.version {
		return nil, false, nil
	}
	return env.Data, true, nil
}

// Write persists a chat's conversation data tagged with the facade's
// current version. Writing an empty Data is the same as Delete, so callers
// that already know the result is empty should prefer Delete directly.
func (f *Facade) Write(ctx context.Context, chatID string, data Data) error {
	if data.Empty() {
		return f.Delete(ctx, chatID)
	}
	blob, err := json.Marshal(envelope{Version: f.version, Data: data})
	if err != nil {
		return errors.Wrap(err, "storage: encode")
	}
	return errors.Wrap(f.backend.Store(ctx, chatID, blob), "storage: store")
}

// Delete removes a chat's conversation data entirely.
func (f *Facade) Delete(ctx context.Context, chatID string) error {
	return errors.Wrap(f.backend.Remove(ctx, chatID), "storage: remove")
}
