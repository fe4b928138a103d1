package executor

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strconv"
	"strings"

	language "github.com/hanpama/fedgateway/internal/language"
	schema "github.com/hanpama/fedgateway/internal/schema"
)

// Path locates a value in the response: field response names and list
// indexes.
type Path []PathElement

// PathElement is a string response name or an int list index.
type PathElement any

// String renders the path as "a.b[0].c".
func (p Path) String() string {
	var b strings.Builder
	for i, elem := range p {
		switch v := elem.(type) {
		case string:
			if i > 0 {
				b.WriteByte('.')
			}
			b.WriteString(v)
		case int:
			b.WriteByte('[')
			b.WriteString(strconv.Itoa(v))
			b.WriteByte(']')
		}
	}
	return b.String()
}

func (p Path) with(elem PathElement) Path {
	return append(slices.Clip(p), elem)
}

type executionState struct {
	runtime        Runtime
	schema         *schema.Schema
	document       *language.QueryDocument
	variableValues map[string]any
	context        context.Context
	errors         []GraphQLError
}

// Executor completes operations against one schema through a Runtime.
type Executor struct {
	runtime Runtime
	schema  *schema.Schema
}

func NewExecutor(runtime Runtime, schema *schema.Schema) *Executor {
	return &Executor{runtime: runtime, schema: schema}
}

// ExecuteRequest selects the operation, coerces variables and executes it.
func (e *Executor) ExecuteRequest(
	ctx context.Context,
	document *language.QueryDocument,
	operationName string,
	variableValues map[string]any,
	initialValue any,
) *ExecutionResult {
	operation := GetOperation(document, operationName)
	if operation == nil {
		return RequestError(GraphQLError{Message: "operation not found"})
	}
	coerced, err := CoerceVariableValues(e.schema, operation, variableValues)
	if err != nil {
		return RequestError(GraphQLError{Message: err.Error()})
	}
	return e.ExecuteOperation(ctx, document, operation, coerced, initialValue, nil)
}

// ExecuteOperation executes an already selected operation with coerced
// variables. initialErrors are reported ahead of errors raised during
// completion; a completion error at a path already present in
// initialErrors is not reported twice.
func (e *Executor) ExecuteOperation(
	ctx context.Context,
	document *language.QueryDocument,
	operation *language.OperationDefinition,
	coercedVariableValues map[string]any,
	initialValue any,
	initialErrors []GraphQLError,
) *ExecutionResult {
	var root *schema.Type
	switch operation.Operation {
	case language.Query:
		root = e.schema.GetQueryType()
	case language.Mutation:
		root = e.schema.GetMutationType()
	case language.Subscription:
		root = e.schema.GetSubscriptionType()
	default:
		return RequestError(GraphQLError{Message: fmt.Sprintf("unsupported operation type: %s", operation.Operation)})
	}
	if root == nil {
		return RequestError(GraphQLError{Message: fmt.Sprintf("root type not found for %s operation", operation.Operation)})
	}

	s := &executionState{
		runtime:        e.runtime,
		schema:         e.schema,
		document:       document,
		variableValues: coercedVariableValues,
		context:        ctx,
		errors:         slices.Clone(initialErrors),
	}
	result := &ExecutionResult{}
	// A nulled non-null root field nulls the whole data entry.
	if data := s.executeSelectionSet(root, operation.SelectionSet, initialValue, Path{}); data != nil {
		result.Data = data
	}
	if len(s.errors) > 0 {
		result.Errors = s.errors
	}
	return result
}

// executeSelectionSet completes sel on objectValue depth-first. It returns
// nil when a non-null field resolved to null, so the caller nulls itself.
func (s *executionState) executeSelectionSet(objectType *schema.Type, sel language.SelectionSet, objectValue any, path Path) map[string]any {
	groups := s.collectFields(objectType, sel)
	out := make(map[string]any, len(groups))
	for _, g := range groups {
		fieldPath := path.with(g.Name)
		first := g.Fields[0]
		if first.Name == "__typename" {
			out[g.Name] = objectType.Name
			continue
		}
		def := objectType.Field(first.Name)
		if def == nil {
			s.addError(fmt.Sprintf("Cannot query field '%s' on type '%s'", first.Name, objectType.Name), fieldPath)
			continue
		}
		v := s.executeField(objectType, def, objectValue, g, fieldPath)
		if isNullish(v) {
			if schema.IsNonNull(def.Type) {
				return nil
			}
			v = nil
		}
		out[g.Name] = v
	}
	return out
}

func (s *executionState) executeField(objectType *schema.Type, def *schema.Field, objectValue any, g fieldGroup, path Path) any {
	field := g.Fields[0]
	info := ResolveInfo{
		ParentType:   objectType.Name,
		FieldName:    field.Name,
		ResponseName: g.Name,
		Args:         coerceArgumentValues(def, field.Arguments, s.variableValues, s, path),
		Path:         path,
	}
	resolved, err := s.runtime.ResolveField(s.context, info, objectValue)
	if err != nil {
		if !errors.Is(err, ErrAlreadyReported) {
			s.errors = append(s.errors, asGraphQLError(err, path))
		}
		return nil
	}
	return s.completeValue(def.Type, g.Fields, resolved, path)
}

// completeValue shapes result according to t. A null for a non-null type
// is reported once per path and returned as nil for the parent to
// propagate.
func (s *executionState) completeValue(t *schema.TypeRef, fields []*language.Field, result any, path Path) any {
	if schema.IsNonNull(t) {
		if isNullish(result) {
			if !s.hasErrorAtPath(path) {
				s.addError(fmt.Sprintf("Cannot return null for non-nullable field %s", path), path)
			}
			return nil
		}
		return s.completeValue(schema.Unwrap(t), fields, result, path)
	}
	if isNullish(result) {
		return nil
	}
	if schema.IsList(t) {
		return s.completeList(schema.Unwrap(t), fields, result, path)
	}

	name := schema.GetNamedType(t)
	typ := s.schema.Types[name]
	if typ == nil {
		s.addError(fmt.Sprintf("Unknown type: %s", name), path)
		return nil
	}
	switch typ.Kind {
	case schema.TypeKindScalar, schema.TypeKindEnum:
		v, err := s.runtime.SerializeLeafValue(s.context, name, result)
		if err != nil {
			s.errors = append(s.errors, asGraphQLError(err, path))
			return nil
		}
		return v
	case schema.TypeKindObject:
		return s.completeObject(typ, fields, result, path)
	case schema.TypeKindInterface, schema.TypeKindUnion:
		return s.completeAbstract(typ, fields, result, path)
	}
	s.addError(fmt.Sprintf("Cannot complete value of unexpected type: %s", typ.Kind), path)
	return nil
}

// completeList completes every item of a slice result. A null item of a
// non-null item type nulls the list.
func (s *executionState) completeList(item *schema.TypeRef, fields []*language.Field, result any, path Path) any {
	items, ok := result.([]any)
	if !ok {
		rv := reflect.ValueOf(result)
		if rv.Kind() != reflect.Slice {
			s.addError(fmt.Sprintf("Expected list value, got %T", result), path)
			return nil
		}
		items = make([]any, rv.Len())
		for i := range items {
			items[i] = rv.Index(i).Interface()
		}
	}
	out := make([]any, len(items))
	for i, it := range items {
		v := s.completeValue(item, fields, it, path.with(i))
		if isNullish(v) && schema.IsNonNull(item) {
			return nil
		}
		out[i] = v
	}
	return out
}

func (s *executionState) completeAbstract(abstract *schema.Type, fields []*language.Field, result any, path Path) any {
	name, err := s.runtime.ResolveType(s.context, abstract.Name, result)
	if err != nil {
		s.errors = append(s.errors, asGraphQLError(err, path))
		return nil
	}
	obj := s.schema.Types[name]
	if obj == nil || obj.Kind != schema.TypeKindObject || !s.schema.Implements(name, abstract.Name) {
		s.addError(fmt.Sprintf("Abstract type %s must resolve to an Object type at runtime. Got: %s", abstract.Name, name), path)
		return nil
	}
	return s.completeObject(obj, fields, result, path)
}

// completeObject executes the subselection of fields on result. A nulled
// object is returned as an untyped nil.
func (s *executionState) completeObject(objectType *schema.Type, fields []*language.Field, result any, path Path) any {
	if out := s.executeSelectionSet(objectType, subselection(fields), result, path); out != nil {
		return out
	}
	return nil
}

// GetOperation retrieves the operation from the document. An empty name
// selects the only operation of the document.
func GetOperation(document *language.QueryDocument, operationName string) *language.OperationDefinition {
	if operationName == "" {
		if len(document.Operations) == 1 {
			return document.Operations[0]
		}
		return nil
	}
	return document.Operations.ForName(operationName)
}

func (s *executionState) addError(message string, path Path) {
	s.errors = append(s.errors, GraphQLError{Message: message, Path: path})
}

func (s *executionState) hasErrorAtPath(path Path) bool {
	return slices.ContainsFunc(s.errors, func(e GraphQLError) bool {
		return slices.Equal(e.Path, path)
	})
}

// subselection merges the selection sets of fields sharing a response
// name.
func subselection(fields []*language.Field) language.SelectionSet {
	if len(fields) == 1 {
		return fields[0].SelectionSet
	}
	var merged language.SelectionSet
	for _, f := range fields {
		merged = append(merged, f.SelectionSet...)
	}
	return merged
}

// isNullish reports nil and typed nil pointers, maps, slices and
// interfaces.
func isNullish(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Interface, reflect.Ptr, reflect.Slice, reflect.Map, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
