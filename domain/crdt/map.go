package crdt

import "encoding/json"

// entry is one versioned slot in a replicated map. Deleted entries
// stay behind as tombstones; without them a late-arriving concurrent
// write would resurrect a record one peer already removed.
type entry[T any] struct {
	value     T
	stamp     Stamp
	tombstone bool
}

// lwwMap is a last-writer-wins map merging at the granularity of a
// whole record. Concurrent writes to different keys never conflict;
// concurrent writes to the same key resolve by stamp order, which is
// identical on every replica.
type lwwMap[T any] struct {
	entries map[string]entry[T]
}

func newLWWMap[T any]() *lwwMap[T] {
	return &lwwMap[T]{entries: make(map[string]entry[T])}
}

// get returns the live value for key.
func (m *lwwMap[T]) get(key string) (T, bool) {
	e, ok := m.entries[key]
	if !ok || e.tombstone {
		var zero T
		return zero, false
	}
	return e.value, true
}

// set records a local write under the given stamp.
func (m *lwwMap[T]) set(key string, value T, s Stamp) {
	m.entries[key] = entry[T]{value: value, stamp: s}
}

// remove tombstones a key under the given stamp.
func (m *lwwMap[T]) remove(key string, s Stamp) {
	var zero T
	m.entries[key] = entry[T]{value: zero, stamp: s, tombstone: true}
}

// merge folds in an entry from another replica. Returns true when the
// incoming entry won and local state changed. Applying the same entry
// twice, or entries in any order, converges to the same state.
func (m *lwwMap[T]) merge(key string, incoming entry[T]) bool {
	existing, ok := m.entries[key]
	if ok && !existing.stamp.Less(incoming.stamp) {
		return false
	}
	m.entries[key] = incoming
	return true
}

// rangeLive visits every non-tombstoned entry.
func (m *lwwMap[T]) rangeLive(fn func(key string, value T) bool) {
	for k, e := range m.entries {
		if e.tombstone {
			continue
		}
		if !fn(k, e.value) {
			return
		}
	}
}

// snapshot copies all live entries into a plain map.
func (m *lwwMap[T]) snapshot() map[string]T {
	out := make(map[string]T)
	m.rangeLive(func(k string, v T) bool {
		out[k] = v
		return true
	})
	return out
}

// wireEntry is the transport form of a map entry. The value is JSON;
// record types in this module are plain data and round-trip cleanly.
type wireEntry struct {
	Key       string          `json:"k"`
	Value     json.RawMessage `json:"v,omitempty"`
	Stamp     Stamp           `json:"s"`
	Tombstone bool            `json:"d,omitempty"`
}

// encodeEntry converts a stored entry for transport.
func encodeEntry[T any](key string, e entry[T]) (wireEntry, error) {
	w := wireEntry{Key: key, Stamp: e.stamp, Tombstone: e.tombstone}
	if !e.tombstone {
		raw, err := json.Marshal(e.value)
		if err != nil {
			return wireEntry{}, err
		}
		w.Value = raw
	}
	return w, nil
}

// decodeEntry converts a transported entry back to storage form.
func decodeEntry[T any](w wireEntry) (entry[T], error) {
	e := entry[T]{stamp: w.Stamp, tombstone: w.Tombstone}
	if !w.Tombstone {
		if err := json.Unmarshal(w.Value, &e.value); err != nil {
			return entry[T]{}, err
		}
	}
	return e, nil
}

// encodeAll dumps every entry, tombstones included, for snapshots.
func (m *lwwMap[T]) encodeAll() ([]wireEntry, error) {
	out := make([]wireEntry, 0, len(m.entries))
	for k, e := range m.entries {
		w, err := encodeEntry(k, e)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}
