package conversation

import (
	"context"
	"fmt"

	"github.com/hrygo/tgconvo/engine"
)

// APIDriver is the outbound-call facility a host framework supplies: one
// method that actually reaches the network (or whatever side effect the
// call represents). The core never calls a driver directly outside of
// wait()'s interception wrapper.
type APIDriver interface {
	Call(ctx context.Context, method string, args any) (any, error)
}

// ContextFactory rehydrates a raw stored event payload into the framework's
// own context type, wiring the given APIDriver as the context's means of
// making outbound calls. Implementations live in the framework-specific
// package (for example the telegram package's bot context).
type ContextFactory[C any] func(event any, api APIDriver) C

type callResult struct {
	OK    bool       `json:"ok"`
	Value any        `json:"value,omitempty"`
	Err   *CallError `json:"err,omitempty"`
}

// CallError is an outbound call's failure, dismantled to plain data before
// it is recorded and reconstructed into a domain error after load: Method
// and Message both survive the round trip, not just a flattened string, so
// a builder (or its caller) can recover which call failed and match on it
// with errors.As instead of string-matching Error().
type CallError struct {
	Method  string `json:"method"`
	Message string `json:"message"`
}

func (e *CallError) Error() string {
	return fmt.Sprintf("conversation: outbound call %q failed: %s", e.Method, e.Message)
}

// interceptingAPI wraps an APIDriver so every call it makes during one
// wait() is routed through controls.Action: the call is logged exactly
// once, and replay reproduces the recorded result without repeating the
// call. A fresh instance is created on every wait(), matching the spec's
// "fresh outbound-call facility" per suspension.
type interceptingAPI struct {
	controls *engine.Controls
	upstream APIDriver
	seq      int
}

func newInterceptingAPI(controls *engine.Controls, upstream APIDriver) *interceptingAPI {
	return &interceptingAPI{controls: controls, upstream: upstream}
}

func (a *interceptingAPI) Call(ctx context.Context, method string, args any) (any, error) {
	a.seq++
	key := fmt.Sprintf("call:%s:%d", method, a.seq)

	v, err := a.controls.Action(func(ctx context.Context) (any, error) {
		value, callErr := a.upstream.Call(ctx, method, args)
		if callErr != nil {
			return callResult{OK: false, Err: &CallError{Method: method, Message: callErr.Error()}}, nil
		}
		return callResult{OK: true, Value: value}, nil
	}, key)
	if err != nil {
		return nil, err
	}

	res := decodeCallResult(v)
	if !res.OK {
		return nil, res.Err
	}
	return res.Value, nil
}

func decodeCallResult(v any) callResult {
	if res, ok := v.(callResult); ok {
		return res
	}
	return decodeVia[callResult](v, callResult{OK: false, Err: &CallError{Message: "conversation: malformed stored call result"}})
}
