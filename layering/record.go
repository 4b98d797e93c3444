package layering

import "reflect"

// Reference points at another entity record by id. References are resolved
// at read time and never carry a copy of the target.
type Reference struct {
	ID string
}

// Ref builds a Reference to id.
func Ref(id string) Reference {
	return Reference{ID: id}
}

// Record maps storage keys to stored values. Values are scalars, []any,
// embedded map[string]any objects, or Reference.
type Record map[string]any

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for key, value := range r {
		out[key] = Clone(value)
	}
	return out
}

// Clone deep copies a stored or result value so callers never share nested
// maps or slices with the store.
func Clone(value any) any {
	switch typed := value.(type) {
	case nil:
		return nil
	case string, bool, float64, float32, int, int64, int32, uint, uint64, uint32, Reference:
		return typed
	case map[string]any:
		if typed == nil {
			return typed
		}
		out := make(map[string]any, len(typed))
		for key, elem := range typed {
			out[key] = Clone(elem)
		}
		return out
	case Record:
		return typed.Clone()
	case []any:
		if typed == nil {
			return typed
		}
		out := make([]any, len(typed))
		for i, elem := range typed {
			out[i] = Clone(elem)
		}
		return out
	default:
		clone := cloneValue(reflect.ValueOf(value))
		if !clone.IsValid() {
			return nil
		}
		return clone.Interface()
	}
}

// cloneValue handles custom scalar types stored as-is (structs, typed maps
// and slices).
func cloneValue(v reflect.Value) reflect.Value {
	if !v.IsValid() {
		return v
	}

	switch v.Kind() {
	case reflect.Pointer:
		if v.IsNil() {
			return reflect.Zero(v.Type())
		}
		clone := reflect.New(v.Type().Elem())
		clone.Elem().Set(cloneValue(v.Elem()))
		return clone
	case reflect.Interface:
		if v.IsNil() {
			return reflect.Zero(v.Type())
		}
		elem := cloneValue(v.Elem())
		if !elem.IsValid() {
			return reflect.Zero(v.Type())
		}
		return elem.Convert(v.Type())
	case reflect.Struct:
		clone := reflect.New(v.Type()).Elem()
		clone.Set(v)
		for i := 0; i < v.NumField(); i++ {
			field := clone.Field(i)
			if !field.CanSet() {
				continue
			}
			field.Set(cloneValue(v.Field(i)))
		}
		return clone
	case reflect.Map:
		if v.IsNil() {
			return reflect.Zero(v.Type())
		}
		clone := reflect.MakeMapWithSize(v.Type(), v.Len())
		iter := v.MapRange()
		for iter.Next() {
			clone.SetMapIndex(iter.Key(), cloneValue(iter.Value()))
		}
		return clone
	case reflect.Slice:
		if v.IsNil() {
			return reflect.Zero(v.Type())
		}
		clone := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		for i := 0; i < v.Len(); i++ {
			clone.Index(i).Set(cloneValue(v.Index(i)))
		}
		return clone
	case reflect.Array:
		clone := reflect.New(v.Type()).Elem()
		for i := 0; i < v.Len(); i++ {
			clone.Index(i).Set(cloneValue(v.Index(i)))
		}
		return clone
	default:
		return v
	}
}
