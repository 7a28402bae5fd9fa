// Package docdiff computes and applies partial updates between two versions
// of the same untyped JSON document.
//
// A diff keeps only the branches of the new document that contain a change.
// Keys that disappeared are carried as null, and Apply removes a key whose
// patch value is null (JSON merge-patch semantics). Consequently a null value
// and an absent key are equivalent; Equal compares documents that way.
package docdiff

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// Document is a decoded JSON object.
type Document = map[string]any

// FromValue converts any JSON-encodable value into a Document.
func FromValue(v any) (Document, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("docdiff: encode: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("docdiff: decode: %w", err)
	}
	if doc == nil {
		doc = Document{}
	}
	return doc, nil
}

// Decode overlays doc onto target, which must be a pointer.
func Decode(doc Document, target any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("docdiff: encode: %w", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("docdiff: overlay: %w", err)
	}
	return nil
}

// Diff returns the changed subtree that turns old into new. Unchanged
// subtrees are omitted, so Diff(x, x) is empty.
func Diff(old, new Document) Document {
	out := Document{}

	for key, newValue := range new {
		oldValue, existed := old[key]
		if !existed || oldValue == nil {
			if newValue != nil {
				out[key] = cloneValue(newValue)
			}
			continue
		}

		newMap, newIsMap := newValue.(map[string]any)
		oldMap, oldIsMap := oldValue.(map[string]any)
		if newIsMap && oldIsMap {
			if sub := Diff(oldMap, newMap); len(sub) > 0 {
				out[key] = sub
			}
			continue
		}

		if !reflect.DeepEqual(oldValue, newValue) {
			out[key] = cloneValue(newValue)
		}
	}

	for key, oldValue := range old {
		if oldValue == nil {
			continue
		}
		if _, kept := new[key]; !kept {
			out[key] = nil
		}
	}

	return out
}

// Apply returns a copy of doc with patch merged in. doc is not modified.
func Apply(doc, patch Document) Document {
	out := Clone(doc)
	if out == nil {
		out = Document{}
	}
	mergeInto(out, patch)
	return out
}

func mergeInto(target, patch Document) {
	for key, value := range patch {
		if value == nil {
			delete(target, key)
			continue
		}

		patchMap, isMap := value.(map[string]any)
		if !isMap {
			target[key] = cloneValue(value)
			continue
		}

		existing, ok := target[key].(map[string]any)
		if !ok {
			existing = Document{}
		}
		mergeInto(existing, patchMap)
		target[key] = existing
	}
}

// Clone deep-copies a document.
func Clone(doc Document) Document {
	if doc == nil {
		return nil
	}
	return cloneValue(doc).(map[string]any)
}

func cloneValue(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(typed))
		for k, inner := range typed {
			out[k] = cloneValue(inner)
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, inner := range typed {
			out[i] = cloneValue(inner)
		}
		return out
	default:
		return typed
	}
}

// Equal reports whether two documents hold the same data, treating null
// values and absent keys alike.
func Equal(a, b Document) bool {
	return reflect.DeepEqual(normalize(a), normalize(b))
}

func normalize(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(typed))
		for k, inner := range typed {
			if inner == nil {
				continue
			}
			out[k] = normalize(inner)
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, inner := range typed {
			out[i] = normalize(inner)
		}
		return out
	default:
		return typed
	}
}

// Leaves counts the non-object values in a document, which is the number of
// fields a patch touches.
func Leaves(doc Document) int {
	n := 0
	for _, v := range doc {
		if sub, ok := v.(map[string]any); ok && len(sub) > 0 {
			n += Leaves(sub)
			continue
		}
		n++
	}
	return n
}

// Lookup walks a path of keys and returns the value found there.
func Lookup(doc Document, path ...string) (any, bool) {
	var current any = doc
	for _, key := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}
