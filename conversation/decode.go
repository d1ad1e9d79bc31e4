package conversation

import "encoding/json"

// decodeVia round-trips v through JSON into a T. It exists because a value
// replayed from persisted storage comes back as whatever encoding/json
// produces for an untyped any (map[string]any, float64, ...) rather than the
// concrete struct a live run produced; live-run values that are already the
// right concrete type are handled by a direct type assertion before this is
// ever reached, so this path is only exercised by genuine replay-from-disk.
func decodeVia[T any](v any, onFailure T) T {
	blob, err := json.Marshal(v)
	if err != nil {
		return onFailure
	}
	var out T
	if err := json.Unmarshal(blob, &out); err != nil {
		return onFailure
	}
	return out
}
