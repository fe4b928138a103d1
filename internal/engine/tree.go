package engine

import (
	"encoding/json"
	"reflect"
	"strconv"

	executor "github.com/hanpama/fedgateway/internal/executor"
	language "github.com/hanpama/fedgateway/internal/language"
	planner "github.com/hanpama/fedgateway/internal/planner"
	schema "github.com/hanpama/fedgateway/internal/schema"
)

// fieldFailure marks a field a failed fetch should have filled. The error
// is reported once for the whole fetch; completion resolves marked fields
// to null without reporting again.
type fieldFailure struct{}

var failed = &fieldFailure{}

func isFailure(v any) bool {
	_, ok := v.(*fieldFailure)
	return ok
}

// target is one object a fetch node merges its result into.
type target struct {
	obj  map[string]any
	path executor.Path
}

// locate walks the response tree along path and returns the objects of
// type typeCondition found there. Null values and failed fields end the
// walk of their branch.
func locate(sch *schema.Schema, root map[string]any, path []string, typeCondition string) []target {
	var out []target
	var walk func(v any, i int, at executor.Path)
	walk = func(v any, i int, at executor.Path) {
		if v == nil || isFailure(v) {
			return
		}
		if i == len(path) {
			obj, ok := v.(map[string]any)
			if !ok || !hasType(sch, obj, typeCondition) {
				return
			}
			out = append(out, target{obj: obj, path: at})
			return
		}
		if path[i] == planner.ListMarker {
			items, ok := v.([]any)
			if !ok {
				return
			}
			for idx, item := range items {
				walk(item, i+1, appendPath(at, idx))
			}
			return
		}
		obj, ok := v.(map[string]any)
		if !ok {
			return
		}
		walk(obj[path[i]], i+1, appendPath(at, path[i]))
	}
	walk(root, 0, executor.Path{})
	return out
}

func hasType(sch *schema.Schema, obj map[string]any, typeCondition string) bool {
	name, ok := obj["__typename"].(string)
	if !ok || typeCondition == "" {
		return true
	}
	return name == typeCondition || sch.Implements(name, typeCondition)
}

func appendPath(p executor.Path, elem executor.PathElement) executor.Path {
	out := make(executor.Path, len(p), len(p)+1)
	copy(out, p)
	return append(out, elem)
}

// representation builds the `_entities` representation of obj: its type
// name plus the key and required fields. It reports false when a key
// field is missing or a required field failed.
func representation(obj map[string]any, typename string, key language.SelectionSet, requires []*schema.FieldSet) (map[string]any, bool) {
	rep := map[string]any{"__typename": typename}
	if name, ok := obj["__typename"].(string); ok {
		rep["__typename"] = name
	}
	if !project(obj, key, rep, true) {
		return nil, false
	}
	for _, r := range requires {
		if !project(obj, r.Selection, rep, false) {
			return nil, false
		}
	}
	return rep, true
}

// project copies the fields of sel from src into dst. Key fields must be
// present and non-null.
func project(src map[string]any, sel language.SelectionSet, dst map[string]any, key bool) bool {
	for _, item := range sel {
		f, ok := item.(*language.Field)
		if !ok || f.Name == "__typename" {
			continue
		}
		v, present := src[f.Name]
		if !present || isFailure(v) || (key && v == nil) {
			return false
		}
		if len(f.SelectionSet) == 0 || v == nil {
			dst[f.Name] = v
			continue
		}
		sub, ok := projectValue(v, f.SelectionSet, key)
		if !ok {
			return false
		}
		dst[f.Name] = sub
	}
	return true
}

func projectValue(v any, sel language.SelectionSet, key bool) (any, bool) {
	switch v := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(sel))
		if name, ok := v["__typename"]; ok {
			out["__typename"] = name
		}
		return out, project(v, sel, out, key)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			if item == nil {
				continue
			}
			p, ok := projectValue(item, sel, key)
			if !ok {
				return nil, false
			}
			out[i] = p
		}
		return out, true
	default:
		return nil, false
	}
}

// merge deep merges src into dst. Fields present on both sides must agree
// unless the existing value marks a failure.
func merge(dst, src map[string]any, at executor.Path) error {
	for k, sv := range src {
		dv, ok := dst[k]
		if !ok || isFailure(dv) {
			dst[k] = clone(sv)
			continue
		}
		if err := mergeValue(dv, sv, appendPath(at, k)); err != nil {
			return err
		}
	}
	return nil
}

func mergeValue(dv, sv any, at executor.Path) error {
	switch d := dv.(type) {
	case map[string]any:
		if s, ok := sv.(map[string]any); ok {
			return merge(d, s, at)
		}
	case []any:
		s, ok := sv.([]any)
		if !ok || len(s) != len(d) {
			break
		}
		for i := range d {
			if err := mergeValue(d[i], s[i], appendPath(at, i)); err != nil {
				return err
			}
		}
		return nil
	default:
		if reflect.DeepEqual(dv, sv) {
			return nil
		}
	}
	return &MergeInvariantViolation{Path: at}
}

// clone copies the maps and lists of v so one result merged into several
// objects never shares them.
func clone(v any) any {
	switch v := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = clone(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = clone(item)
		}
		return out
	default:
		return v
	}
}

// responsePath converts a path reported by a downstream service, whose
// indices may be decoded as json.Number or float64.
func responsePath(raw []any) executor.Path {
	if len(raw) == 0 {
		return nil
	}
	out := make(executor.Path, len(raw))
	for i, elem := range raw {
		switch e := elem.(type) {
		case json.Number:
			if n, err := strconv.Atoi(e.String()); err == nil {
				out[i] = n
				continue
			}
			out[i] = e.String()
		case float64:
			out[i] = int(e)
		default:
			out[i] = e
		}
	}
	return out
}
