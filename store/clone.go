package store

import "reflect"

// CloneState copies a state map. Slice and map values are copied one level
// deep so appends and key writes on the copy never reach the original.
func CloneState(state map[string]any) map[string]any {
	out := make(map[string]any, len(state))
	for k, v := range state {
		out[k] = CloneValue(v)
	}
	return out
}

// CloneValue copies slices and maps one level deep and returns other values as is.
func CloneValue(v any) any {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice:
		if rv.IsNil() {
			return v
		}
		cp := reflect.MakeSlice(rv.Type(), rv.Len(), rv.Len())
		reflect.Copy(cp, rv)
		return cp.Interface()
	case reflect.Map:
		if rv.IsNil() {
			return v
		}
		cp := reflect.MakeMapWithSize(rv.Type(), rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			cp.SetMapIndex(iter.Key(), iter.Value())
		}
		return cp.Interface()
	default:
		return v
	}
}
