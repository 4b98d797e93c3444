// Package storekey computes canonical storage keys for field invocations.
//
// A storage key is the field name (or alias) followed by a canonical JSON
// rendering of its resolved arguments. Object keys are sorted before
// serialisation so two argument maps that differ only by insertion order
// produce the same key.
package storekey

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"
)

// ErrCyclicValue reports an argument value that references itself.
var ErrCyclicValue = errors.New("storekey: cyclic value")

// SerializationError reports an argument value that cannot be rendered
// canonically.
type SerializationError struct {
	Field string
	Path  string
	Err   error
}

func (e *SerializationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Path == "" {
		return fmt.Sprintf("storekey: field %q: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("storekey: field %q at %s: %v", e.Field, e.Path, e.Err)
}

func (e *SerializationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Key returns the storage key for name invoked with args. A nil or empty
// args map yields the bare name.
func Key(name string, args map[string]any) (string, error) {
	if len(args) == 0 {
		return name, nil
	}
	encoded, err := Canonical(args)
	if err != nil {
		var serr *SerializationError
		if errors.As(err, &serr) {
			serr.Field = name
			return "", serr
		}
		return "", &SerializationError{Field: name, Err: err}
	}
	return name + "(" + encoded + ")", nil
}

// Canonical renders value as JSON with sorted object keys.
func Canonical(value any) (string, error) {
	enc := encoder{seen: map[uintptr]struct{}{}}
	if err := enc.encode(reflect.ValueOf(value), "$"); err != nil {
		return "", err
	}
	return enc.buf.String(), nil
}

type encoder struct {
	buf  bytes.Buffer
	seen map[uintptr]struct{}
}

func (e *encoder) encode(v reflect.Value, path string) error {
	if !v.IsValid() {
		e.buf.WriteString("null")
		return nil
	}

	switch v.Kind() {
	case reflect.Interface, reflect.Pointer:
		if v.IsNil() {
			e.buf.WriteString("null")
			return nil
		}
		if v.Kind() == reflect.Pointer {
			if err := e.enter(v.Pointer(), path); err != nil {
				return err
			}
			defer e.leave(v.Pointer())
		}
		return e.encode(v.Elem(), path)
	case reflect.Map:
		if v.IsNil() {
			e.buf.WriteString("null")
			return nil
		}
		if v.Type().Key().Kind() != reflect.String {
			return e.scalar(v, path)
		}
		if err := e.enter(v.Pointer(), path); err != nil {
			return err
		}
		defer e.leave(v.Pointer())

		keys := make([]string, 0, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			keys = append(keys, iter.Key().String())
		}
		sort.Strings(keys)

		e.buf.WriteByte('{')
		for i, key := range keys {
			if i > 0 {
				e.buf.WriteByte(',')
			}
			e.buf.WriteString(strconv.Quote(key))
			e.buf.WriteByte(':')
			elem := v.MapIndex(reflect.ValueOf(key).Convert(v.Type().Key()))
			if err := e.encode(elem, path+"."+key); err != nil {
				return err
			}
		}
		e.buf.WriteByte('}')
		return nil
	case reflect.Slice:
		if v.IsNil() {
			e.buf.WriteString("null")
			return nil
		}
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return e.scalar(v, path)
		}
		if v.Len() > 0 {
			if err := e.enter(v.Pointer(), path); err != nil {
				return err
			}
			defer e.leave(v.Pointer())
		}
		return e.list(v, path)
	case reflect.Array:
		return e.list(v, path)
	default:
		return e.scalar(v, path)
	}
}

func (e *encoder) list(v reflect.Value, path string) error {
	e.buf.WriteByte('[')
	for i := 0; i < v.Len(); i++ {
		if i > 0 {
			e.buf.WriteByte(',')
		}
		if err := e.encode(v.Index(i), fmt.Sprintf("%s[%d]", path, i)); err != nil {
			return err
		}
	}
	e.buf.WriteByte(']')
	return nil
}

// scalar defers to encoding/json, which already sorts map keys for the
// struct and non-string-keyed cases handled here.
func (e *encoder) scalar(v reflect.Value, path string) error {
	out, err := json.Marshal(v.Interface())
	if err != nil {
		return &SerializationError{Path: path, Err: err}
	}
	e.buf.Write(out)
	return nil
}

func (e *encoder) enter(ptr uintptr, path string) error {
	if _, ok := e.seen[ptr]; ok {
		return &SerializationError{Path: path, Err: ErrCyclicValue}
	}
	e.seen[ptr] = struct{}{}
	return nil
}

func (e *encoder) leave(ptr uintptr) {
	delete(e.seen, ptr)
}
