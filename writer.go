package normcache

import (
	"fmt"

	"github.com/goliatone/go-normcache/layering"
)

// writer flattens a result tree into entity records staged on a draft.
type writer struct {
	draft      *layering.Draft
	identifier *identifier
	matcher    *typeMatcher
	variables  map[string]any
	logger     Logger
}

// writeRoot normalizes data as the record of rootID. The root record is
// merged field by field like any other entity.
func (w *writer) writeRoot(rootID string, p *plan, data map[string]any) error {
	if data == nil {
		return fmt.Errorf("%w: %s: data must be an object", ErrInvalidResult, rootID)
	}
	typename := typenameOf(data)
	if typename == "" {
		typename = rootTypenames[rootID]
	}
	if typename == "" {
		if existing, ok := w.draft.Resolve(rootID, false); ok {
			typename = typenameOf(existing)
		}
	}
	record, err := w.normalizeObject(typename, p, data, rootID)
	if err != nil {
		return err
	}
	w.draft.Merge(rootID, record)
	return nil
}

func (w *writer) normalizeObject(typename string, p *plan, object map[string]any, path string) (layering.Record, error) {
	fields := p.collect(typename, w.matcher)
	record := make(layering.Record, len(fields)+1)
	if name := typenameOf(object); name != "" {
		record[typenameField] = name
	}
	for _, field := range fields {
		value, ok := object[field.responseKey]
		fieldPath := path + "." + field.responseKey
		if !ok {
			if !field.fuzzy {
				w.logger.LogEvent(LogEvent{
					Level:   LevelDebug,
					Op:      "write",
					Message: "result is missing selected field " + fieldPath,
				})
			}
			continue
		}
		if field.leaf {
			record[field.storeKey] = layering.Clone(value)
			continue
		}
		normalized, err := w.normalizeValue(field.selection(), value, fieldPath)
		if err != nil {
			return nil, err
		}
		record[field.storeKey] = normalized
	}
	return record, nil
}

func (w *writer) normalizeValue(p *plan, value any, path string) (any, error) {
	switch typed := value.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return w.normalizeChild(p, typed, path)
	case []map[string]any:
		out := make([]any, len(typed))
		for i, elem := range typed {
			normalized, err := w.normalizeChild(p, elem, fmt.Sprintf("%s.%d", path, i))
			if err != nil {
				return nil, err
			}
			out[i] = normalized
		}
		return out, nil
	case []any:
		out := make([]any, len(typed))
		for i, elem := range typed {
			normalized, err := w.normalizeValue(p, elem, fmt.Sprintf("%s.%d", path, i))
			if err != nil {
				return nil, err
			}
			out[i] = normalized
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %s: expected object or list, got %T", ErrInvalidResult, path, value)
	}
}

// normalizeChild stores an identified object as its own record and returns
// a Reference, or returns the normalized object for embedding.
func (w *writer) normalizeChild(p *plan, object map[string]any, path string) (any, error) {
	if object == nil {
		return nil, nil
	}
	typename := typenameOf(object)
	id, ok, err := w.identifier.identify(typename, object, w.variables)
	if err != nil {
		return nil, fmt.Errorf("normcache: identify %s: %w", path, err)
	}
	if !ok {
		record, err := w.normalizeObject(typename, p, object, path)
		if err != nil {
			return nil, err
		}
		return map[string]any(record), nil
	}
	record, err := w.normalizeObject(typename, p, object, id)
	if err != nil {
		return nil, err
	}
	w.draft.Merge(id, record)
	return layering.Ref(id), nil
}

const typenameField = "__typename"

func typenameOf(object map[string]any) string {
	name, _ := object[typenameField].(string)
	return name
}
