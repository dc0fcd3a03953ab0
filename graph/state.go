package graph

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/smallnest/ragflow/store"
)

// State is the record threaded through a run.
// The executor owns the authoritative copy; nodes only ever see clones.
type State map[string]any

// Clone returns a copy of the state whose slices and maps can be changed
// without affecting the receiver.
func (s State) Clone() State {
	return State(store.CloneState(s))
}

// Keys returns the state keys in sorted order.
func (s State) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String returns the string stored under key, or "" if it is absent or not a string.
func (s State) String(key string) string {
	v, _ := s[key].(string)
	return v
}

// Int returns the integer stored under key. JSON numbers loaded from a
// checkpoint store are accepted as well.
func (s State) Int(key string) int {
	switch v := s[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	}
	return 0
}

// Bool returns the boolean stored under key.
func (s State) Bool(key string) bool {
	v, _ := s[key].(bool)
	return v
}

// Get returns the value stored under key converted to T.
// Values that went through a JSON checkpoint store come back as generic
// maps and slices; those are converted through their JSON form.
func Get[T any](s State, key string) (T, error) {
	var out T
	v, ok := s[key]
	if !ok || v == nil {
		return out, nil
	}
	if typed, ok := v.(T); ok {
		return typed, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return out, fmt.Errorf("failed to encode %s: %w", key, err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("field %s holds %T: %w", key, v, err)
	}
	return out, nil
}
