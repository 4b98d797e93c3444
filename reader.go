package normcache

import (
	"fmt"
	"reflect"

	"github.com/goliatone/go-normcache/layering"
)

// reader reconstructs a result tree from records. Every entity id it
// resolves, found or not, is recorded as a dependency.
type reader struct {
	resolve func(entityID string) (layering.Record, bool)
	matcher *typeMatcher
	deps    map[string]struct{}
	missing []MissingField
}

func newReader(resolve func(string) (layering.Record, bool), matcher *typeMatcher) *reader {
	return &reader{
		resolve: resolve,
		matcher: matcher,
		deps:    map[string]struct{}{},
	}
}

// readRoot reads p from the record of rootID. A missing root query record
// reads as empty so every field reports missing on its own.
func (r *reader) readRoot(rootID string, p *plan, previous map[string]any) map[string]any {
	record, ok := r.lookup(rootID)
	if !ok {
		if _, isRoot := rootTypenames[rootID]; !isRoot {
			r.miss(rootID, fmt.Sprintf("entity %s not found", rootID))
			return nil
		}
	}
	typename := typenameOf(record)
	if typename == "" {
		typename = rootTypenames[rootID]
	}
	return r.readObject(record, typename, p, previous, rootID)
}

func (r *reader) lookup(entityID string) (layering.Record, bool) {
	r.deps[entityID] = struct{}{}
	return r.resolve(entityID)
}

func (r *reader) miss(path, message string) {
	r.missing = append(r.missing, MissingField{Path: path, Message: message})
}

func (r *reader) readObject(record map[string]any, typename string, p *plan, previous map[string]any, path string) map[string]any {
	fields := p.collect(typename, r.matcher)
	out := make(map[string]any, len(fields))
	for _, field := range fields {
		fieldPath := path + "." + field.responseKey
		value, ok := record[field.storeKey]
		if !ok && field.name == typenameField && typename != "" {
			value, ok = typename, true
		}
		if !ok {
			if !field.fuzzy {
				r.miss(fieldPath, fmt.Sprintf("field %s not found in %s", field.storeKey, path))
			}
			continue
		}
		prev, hadPrev := previous[field.responseKey]
		if field.leaf {
			out[field.responseKey] = r.leaf(value, prev, hadPrev)
			continue
		}
		result, present := r.readValue(field.selection(), value, prev, fieldPath)
		if present {
			out[field.responseKey] = result
		}
	}
	if previous != nil && sameMap(out, previous) {
		return previous
	}
	return out
}

// leaf copies a stored scalar into the result, reusing the previous
// instance when the value did not change.
func (r *reader) leaf(value, prev any, hadPrev bool) any {
	if ref, ok := value.(layering.Reference); ok {
		value = map[string]any{refField: ref.ID}
	}
	if hadPrev && reflect.DeepEqual(value, prev) {
		return prev
	}
	return layering.Clone(value)
}

// readValue resolves a stored value under a sub-selection. The boolean is
// false when the value is missing.
func (r *reader) readValue(p *plan, value, prev any, path string) (any, bool) {
	switch typed := value.(type) {
	case nil:
		return nil, true
	case layering.Reference:
		record, ok := r.lookup(typed.ID)
		if !ok {
			r.miss(path, fmt.Sprintf("dangling reference to %s", typed.ID))
			return nil, false
		}
		prevMap, _ := prev.(map[string]any)
		return r.readObject(record, typenameOf(record), p, prevMap, path), true
	case map[string]any:
		prevMap, _ := prev.(map[string]any)
		return r.readObject(typed, typenameOf(typed), p, prevMap, path), true
	case []any:
		prevList, _ := prev.([]any)
		out := make([]any, len(typed))
		for i, elem := range typed {
			var prevElem any
			if i < len(prevList) {
				prevElem = prevList[i]
			}
			result, _ := r.readValue(p, elem, prevElem, fmt.Sprintf("%s.%d", path, i))
			out[i] = result
		}
		if prevList != nil && sameList(out, prevList) {
			return prevList, true
		}
		return out, true
	default:
		return layering.Clone(value), true
	}
}

func (r *reader) dependencies() map[string]struct{} {
	return r.deps
}

const refField = "__ref"

func sameMap(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	for key, value := range a {
		other, ok := b[key]
		if !ok || !identical(value, other) {
			return false
		}
	}
	return true
}

func sameList(a, b []any) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !identical(a[i], b[i]) {
			return false
		}
	}
	return true
}

// identical compares maps and slices by instance and everything else by
// value. Children are already reused from the previous result, so
// instance equality is enough to detect an unchanged subtree.
func identical(a, b any) bool {
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || (av == nil) != (bv == nil) || len(av) != len(bv) {
			return false
		}
		return reflect.ValueOf(av).UnsafePointer() == reflect.ValueOf(bv).UnsafePointer()
	case []any:
		bv, ok := b.([]any)
		if !ok || (av == nil) != (bv == nil) || len(av) != len(bv) {
			return false
		}
		if len(av) == 0 {
			return true
		}
		return &av[0] == &bv[0]
	default:
		return reflect.DeepEqual(a, b)
	}
}
