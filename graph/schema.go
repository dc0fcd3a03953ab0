package graph

import (
	"fmt"
	"maps"
	"reflect"
	"sort"

	"github.com/smallnest/ragflow/store"
)

// MergePolicy decides how a node's value for a field is combined with the current one.
type MergePolicy int

const (
	// Replace overwrites the current value. It is the default.
	Replace MergePolicy = iota
	// Append concatenates onto the current ordered sequence.
	Append
	// Custom delegates to the field's Reducer.
	Custom
)

func (p MergePolicy) String() string {
	switch p {
	case Replace:
		return "replace"
	case Append:
		return "append"
	case Custom:
		return "custom"
	default:
		return fmt.Sprintf("MergePolicy(%d)", int(p))
	}
}

// Reducer defines how a state value should be updated.
// It takes the current value and the new value, and returns the merged value.
type Reducer func(current, update any) (any, error)

// Field declares one key of the state record.
type Field struct {
	Name    string
	Policy  MergePolicy
	Reducer Reducer
	// Default seeds the field when a run starts without a value for it.
	Default any
	// ResetEachPass puts the field back to its initial value when a thread
	// that reached END starts a new pass at the entry node.
	ResetEachPass bool
}

// ReplaceField declares a field that is overwritten by updates.
func ReplaceField(name string) Field {
	return Field{Name: name, Policy: Replace}
}

// AppendField declares a field that accumulates updates in order.
func AppendField(name string) Field {
	return Field{Name: name, Policy: Append}
}

// ReducerField declares a field merged by a custom reducer.
func ReducerField(name string, reducer Reducer) Field {
	return Field{Name: name, Policy: Custom, Reducer: reducer}
}

// WithDefault returns a copy of the field with a default value.
func (f Field) WithDefault(v any) Field {
	f.Default = v
	return f
}

// PerPass returns a copy of the field that is reset at the start of every
// pass over the graph. Counters and scratch values of one turn use it.
func (f Field) PerPass() Field {
	f.ResetEachPass = true
	return f
}

// StateSchema declares the fields of the state record and how each one merges.
type StateSchema struct {
	fields []Field
	index  map[string]int
}

// NewStateSchema creates a schema from field declarations.
func NewStateSchema(fields ...Field) (*StateSchema, error) {
	s := &StateSchema{
		fields: make([]Field, 0, len(fields)),
		index:  make(map[string]int, len(fields)),
	}
	for _, f := range fields {
		if f.Name == "" {
			return nil, fmt.Errorf("%w: field name is empty", ErrSchemaViolation)
		}
		if _, ok := s.index[f.Name]; ok {
			return nil, fmt.Errorf("%w: field %q declared twice", ErrSchemaViolation, f.Name)
		}
		if f.Policy == Custom && f.Reducer == nil {
			return nil, fmt.Errorf("%w: field %q has no reducer", ErrSchemaViolation, f.Name)
		}
		s.index[f.Name] = len(s.fields)
		s.fields = append(s.fields, f)
	}
	return s, nil
}

// MustStateSchema is like NewStateSchema but panics on error.
func MustStateSchema(fields ...Field) *StateSchema {
	s, err := NewStateSchema(fields...)
	if err != nil {
		panic(err)
	}
	return s
}

// Fields returns the declared fields in declaration order.
func (s *StateSchema) Fields() []Field {
	out := make([]Field, len(s.fields))
	copy(out, s.fields)
	return out
}

// Has reports whether name is declared.
func (s *StateSchema) Has(name string) bool {
	_, ok := s.index[name]
	return ok
}

// Policy returns the merge policy of a declared field.
func (s *StateSchema) Policy(name string) (MergePolicy, bool) {
	i, ok := s.index[name]
	if !ok {
		return Replace, false
	}
	return s.fields[i].Policy, true
}

// Validate checks that every key of partial is declared.
// The first undeclared key in sorted order is reported.
func (s *StateSchema) Validate(partial State) error {
	var unknown []string
	for k := range partial {
		if !s.Has(k) {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	sort.Strings(unknown)
	return &SchemaViolationError{Key: unknown[0]}
}

// Init builds the starting state of a run: declared defaults, empty
// sequences for append fields, then initial overlaid with replace semantics.
func (s *StateSchema) Init(initial State) (State, error) {
	if err := s.Validate(initial); err != nil {
		return nil, err
	}
	state := make(State, len(s.fields))
	for _, f := range s.fields {
		if v, ok := initialValue(f); ok {
			state[f.Name] = v
		}
	}
	for k, v := range initial {
		state[k] = store.CloneValue(v)
	}
	return state, nil
}

// initialValue is the value a field starts a run with, if any.
func initialValue(f Field) (any, bool) {
	switch {
	case f.Default != nil:
		return store.CloneValue(f.Default), true
	case f.Policy == Append:
		return []any{}, true
	default:
		return nil, false
	}
}

// ResetPass returns a copy of state with every per-pass field back to its
// initial value. Other fields are kept as they are.
func (s *StateSchema) ResetPass(state State) State {
	out := maps.Clone(state)
	if out == nil {
		out = make(State, len(s.fields))
	}
	for _, f := range s.fields {
		if !f.ResetEachPass {
			continue
		}
		if v, ok := initialValue(f); ok {
			out[f.Name] = v
		} else {
			delete(out, f.Name)
		}
	}
	return out
}

// Merge folds a partial update into current and returns the new state.
// current is not modified and keys absent from partial keep their values.
func (s *StateSchema) Merge(current, partial State) (State, error) {
	if err := s.Validate(partial); err != nil {
		return nil, err
	}

	result := make(State, len(current)+len(partial))
	maps.Copy(result, current)

	for k, v := range partial {
		f := s.fields[s.index[k]]
		switch f.Policy {
		case Append:
			merged, err := AppendReducer(result[k], v)
			if err != nil {
				return nil, fmt.Errorf("failed to reduce key %s: %w", k, err)
			}
			result[k] = merged
		case Custom:
			merged, err := f.Reducer(result[k], v)
			if err != nil {
				return nil, fmt.Errorf("failed to reduce key %s: %w", k, err)
			}
			result[k] = merged
		default:
			result[k] = v
		}
	}

	return result, nil
}

// AppendReducer appends update to the current slice and returns a freshly
// allocated slice. A slice update is spliced element by element, anything else
// is appended as a single element. When current is nil or an empty slice of a
// different element type, the result takes the update's type.
func AppendReducer(current, update any) (any, error) {
	if update == nil {
		return store.CloneValue(current), nil
	}
	newVal := reflect.ValueOf(update)
	currVal := reflect.ValueOf(current)

	if current == nil || (currVal.Kind() == reflect.Slice && currVal.Len() == 0 && !appendable(currVal.Type(), newVal.Type())) {
		if newVal.Kind() == reflect.Slice {
			return store.CloneValue(update), nil
		}
		slice := reflect.MakeSlice(reflect.SliceOf(newVal.Type()), 0, 1)
		return reflect.Append(slice, newVal).Interface(), nil
	}

	if currVal.Kind() != reflect.Slice {
		return nil, fmt.Errorf("current value is %T, not a slice", current)
	}

	elem := currVal.Type().Elem()
	if newVal.Kind() == reflect.Slice && newVal.Type() != elem {
		if !newVal.Type().Elem().AssignableTo(elem) {
			// Types don't match, convert both to []any
			result := make([]any, 0, currVal.Len()+newVal.Len())
			for i := 0; i < currVal.Len(); i++ {
				result = append(result, currVal.Index(i).Interface())
			}
			for i := 0; i < newVal.Len(); i++ {
				result = append(result, newVal.Index(i).Interface())
			}
			return result, nil
		}
		out := reflect.MakeSlice(currVal.Type(), 0, currVal.Len()+newVal.Len())
		out = reflect.AppendSlice(out, currVal)
		for i := 0; i < newVal.Len(); i++ {
			out = reflect.Append(out, newVal.Index(i))
		}
		return out.Interface(), nil
	}

	if !newVal.Type().AssignableTo(elem) {
		result := make([]any, 0, currVal.Len()+1)
		for i := 0; i < currVal.Len(); i++ {
			result = append(result, currVal.Index(i).Interface())
		}
		return append(result, update), nil
	}
	out := reflect.MakeSlice(currVal.Type(), 0, currVal.Len()+1)
	out = reflect.AppendSlice(out, currVal)
	return reflect.Append(out, newVal).Interface(), nil
}

// appendable reports whether values of type v can be added to a slice of type s
// without changing its element type.
func appendable(s, v reflect.Type) bool {
	elem := s.Elem()
	if v.Kind() == reflect.Slice && v != elem {
		return v.Elem() == elem
	}
	return v == elem
}
