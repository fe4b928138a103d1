// Package introspection answers __schema and __type against a composed
// schema snapshot. The meta fields never reach a service: Wrap layers them
// over the runtime completing the merged response.
package introspection

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"

	executor "github.com/hanpama/fedgateway/internal/executor"
	schema "github.com/hanpama/fedgateway/internal/schema"
)

// IntrospectionWrapper pairs the wrapping runtime with the schema extended
// by the introspection types. Both must be handed to the same executor.
type IntrospectionWrapper struct {
	Runtime executor.Runtime
	Schema  *schema.Schema
}

// Wrap extends sch with the introspection types and returns a runtime
// resolving them, delegating every other field to base.
func Wrap(base executor.Runtime, sch *schema.Schema) *IntrospectionWrapper {
	return newWrapper(base, extendSchemaWithIntrospection(sch))
}

func newWrapper(base executor.Runtime, extended *schema.Schema) *IntrospectionWrapper {
	return &IntrospectionWrapper{
		Runtime: &runtime{base: base, schema: extended},
		Schema:  extended,
	}
}

// Cache keeps the extension of the last schema it wrapped, so the types
// are only rebuilt when the registry publishes a new snapshot.
type Cache struct {
	mu       sync.Mutex
	original *schema.Schema
	extended *schema.Schema
}

// Wrap is like the package level Wrap but reuses the previous extension
// while sch is unchanged.
func (c *Cache) Wrap(base executor.Runtime, sch *schema.Schema) *IntrospectionWrapper {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.original != sch {
		c.original = sch
		c.extended = extendSchemaWithIntrospection(sch)
	}
	return newWrapper(base, c.extended)
}

type runtime struct {
	base   executor.Runtime
	schema *schema.Schema
}

func (r *runtime) ResolveField(ctx context.Context, info executor.ResolveInfo, source any) (any, error) {
	if v, ok := r.resolveMeta(info.FieldName, info.Args, source); ok {
		return v, nil
	}
	if info.ParentType == r.schema.QueryType {
		switch info.FieldName {
		case "__schema":
			return r.schema, nil
		case "__type":
			name, _ := info.Args["name"].(string)
			if t := r.schema.Types[name]; t != nil {
				return t, nil
			}
			return nil, nil
		}
	}
	return r.base.ResolveField(ctx, info, source)
}

func (r *runtime) ResolveType(ctx context.Context, abstractType string, value any) (string, error) {
	return r.base.ResolveType(ctx, abstractType, value)
}

func (r *runtime) SerializeLeafValue(ctx context.Context, typ string, value any) (any, error) {
	switch v := value.(type) {
	case *string:
		if v == nil {
			return nil, nil
		}
		return *v, nil
	case schema.TypeKind:
		return string(v), nil
	case schema.TypeRefKind:
		return string(v), nil
	}
	return r.base.SerializeLeafValue(ctx, typ, value)
}

// resolveMeta resolves field on an introspection object. ok is false when
// source is not one.
func (r *runtime) resolveMeta(field string, args map[string]any, source any) (v any, ok bool) {
	includeDeprecated, _ := args["includeDeprecated"].(bool)
	switch src := source.(type) {
	case *schema.Schema:
		return r.schemaField(src, field)
	case *schema.Type:
		return r.typeField(src, field, includeDeprecated)
	case *schema.TypeRef:
		return r.typeRefField(src, field, includeDeprecated)
	case *schema.Field:
		switch field {
		case "name":
			return src.Name, true
		case "description":
			return optional(src.Description), true
		case "args":
			return visible(src.Arguments, includeDeprecated, inputDeprecated), true
		case "type":
			return src.Type, true
		case "isDeprecated":
			return src.IsDeprecated, true
		case "deprecationReason":
			return reason(src.IsDeprecated, src.DeprecationReason), true
		}
	case *schema.InputValue:
		switch field {
		case "name":
			return src.Name, true
		case "description":
			return optional(src.Description), true
		case "type":
			return src.Type, true
		case "defaultValue":
			if src.DefaultValue == nil {
				return nil, true
			}
			return optional(schema.FormatValue(src.DefaultValue)), true
		case "isDeprecated":
			return src.IsDeprecated, true
		case "deprecationReason":
			return reason(src.IsDeprecated, src.DeprecationReason), true
		}
	case *schema.EnumValue:
		switch field {
		case "name":
			return src.Name, true
		case "description":
			return optional(src.Description), true
		case "isDeprecated":
			return src.IsDeprecated, true
		case "deprecationReason":
			return reason(src.IsDeprecated, src.DeprecationReason), true
		}
	case *schema.Directive:
		switch field {
		case "name":
			return src.Name, true
		case "description":
			return optional(src.Description), true
		case "isRepeatable":
			return src.IsRepeatable, true
		case "locations":
			return slices.Sorted(slices.Values(src.Locations)), true
		case "args":
			return visible(src.Arguments, includeDeprecated, inputDeprecated), true
		}
	}
	return nil, false
}

func (r *runtime) schemaField(sch *schema.Schema, field string) (any, bool) {
	switch field {
	case "types":
		return byName(mapValues(sch.Types), typeName), true
	case "queryType":
		return sch.GetQueryType(), true
	case "mutationType":
		return sch.GetMutationType(), true
	case "subscriptionType":
		return sch.GetSubscriptionType(), true
	case "directives":
		return byName(mapValues(sch.Directives), func(d *schema.Directive) string { return d.Name }), true
	case "description":
		return optional(sch.Description), true
	}
	return nil, false
}

func (r *runtime) typeField(t *schema.Type, field string, includeDeprecated bool) (any, bool) {
	switch field {
	case "kind":
		return string(t.Kind), true
	case "name":
		return t.Name, true
	case "description":
		return optional(t.Description), true
	case "specifiedByURL":
		return t.SpecifiedByURL, true
	case "isOneOf":
		return t.OneOf, true
	case "ofType":
		// Wrappers are TypeRefs; a named type never has one.
		return nil, true
	case "fields":
		if !t.Kind.IsComposite() || t.Kind == schema.TypeKindUnion {
			return nil, true
		}
		fields := slices.DeleteFunc(slices.Clone(t.Fields), func(f *schema.Field) bool {
			return strings.HasPrefix(f.Name, "__") || (!includeDeprecated && f.IsDeprecated)
		})
		return byName(fields, func(f *schema.Field) string { return f.Name }), true
	case "interfaces":
		if !t.Kind.IsComposite() || t.Kind == schema.TypeKindUnion {
			return nil, true
		}
		return r.lookup(t.Interfaces), true
	case "possibleTypes":
		if !t.Kind.IsAbstract() {
			return nil, true
		}
		return r.lookup(t.PossibleTypes), true
	case "enumValues":
		if t.Kind != schema.TypeKindEnum {
			return nil, true
		}
		return visible(t.EnumValues, includeDeprecated, func(v *schema.EnumValue) (string, bool) {
			return v.Name, v.IsDeprecated
		}), true
	case "inputFields":
		if t.Kind != schema.TypeKindInputObject {
			return nil, true
		}
		return visible(t.InputFields, includeDeprecated, inputDeprecated), true
	}
	return nil, false
}

// typeRefField resolves __Type fields on a field or argument type. Named
// references answer as the type they name.
func (r *runtime) typeRefField(tr *schema.TypeRef, field string, includeDeprecated bool) (any, bool) {
	if tr.Kind == schema.TypeRefKindNamed {
		if def := r.schema.Types[tr.Named]; def != nil {
			return r.typeField(def, field, includeDeprecated)
		}
	}
	switch field {
	case "kind":
		return tr.Kind, true
	case "name":
		if tr.Kind != schema.TypeRefKindNamed {
			return nil, true
		}
		return tr.Named, true
	case "ofType":
		if tr.OfType == nil {
			return nil, true
		}
		return tr.OfType, true
	}
	return nil, true
}

// lookup returns the named types sorted by name, skipping unknown names.
func (r *runtime) lookup(names []string) []*schema.Type {
	out := make([]*schema.Type, 0, len(names))
	for _, name := range names {
		if t := r.schema.Types[name]; t != nil {
			out = append(out, t)
		}
	}
	return byName(out, typeName)
}

func typeName(t *schema.Type) string { return t.Name }

func inputDeprecated(v *schema.InputValue) (string, bool) { return v.Name, v.IsDeprecated }

// visible returns items sorted by name, dropping deprecated ones unless
// includeDeprecated is set.
func visible[T any](items []T, includeDeprecated bool, describe func(T) (name string, deprecated bool)) []T {
	out := make([]T, 0, len(items))
	for _, it := range items {
		if _, deprecated := describe(it); deprecated && !includeDeprecated {
			continue
		}
		out = append(out, it)
	}
	return byName(out, func(it T) string {
		name, _ := describe(it)
		return name
	})
}

func byName[T any](items []T, name func(T) string) []T {
	slices.SortFunc(items, func(a, b T) int { return cmp.Compare(name(a), name(b)) })
	return items
}

func mapValues[K comparable, V any](m map[K]V) []V {
	out := make([]V, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}

func reason(deprecated bool, why string) *string {
	if !deprecated {
		return nil
	}
	return &why
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
