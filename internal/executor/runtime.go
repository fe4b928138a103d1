package executor

import (
	"context"
	"errors"
)

// Runtime is the host integration surface the Executor completes values
// against.
//
// General contract
//   - The Executor walks the selection set depth-first in document order and
//     calls ResolveField once per field instance. The returned raw value is
//     completed according to the field's type (lists, leaves, objects,
//     abstract types), including Non-Null propagation.
//   - Errors returned from any method become located GraphQL errors. A
//     GraphQLError (or *GraphQLError) keeps its message and extensions.
//   - Returning ErrAlreadyReported (or an error wrapping it) resolves the
//     field to null without recording another error. Use it when the cause
//     was already surfaced, e.g. one failed upstream fetch that nulls many
//     fields.
//   - Implementations must be safe for concurrent use by different
//     operations and must not mutate source or args values.
//
// Abstract types and leaf values
//   - ResolveType must return the concrete object type name for an
//     interface or union value.
//   - SerializeLeafValue must coerce scalars and enums into JSON-safe Go
//     values. For enums, return the enum name as string.
type Runtime interface {
	// ResolveField returns the raw value of one field of source. source is
	// the initial value for root fields.
	ResolveField(ctx context.Context, info ResolveInfo, source any) (any, error)

	// ResolveType determines the concrete runtime type name for a value of an
	// abstract GraphQL type (interface or union).
	ResolveType(ctx context.Context, abstractType string, value any) (string, error)

	// SerializeLeafValue serializes a scalar or enum value to a JSON-safe Go
	// value.
	SerializeLeafValue(ctx context.Context, scalarOrEnumTypeName string, value any) (any, error)
}

// ResolveInfo identifies the field instance being resolved.
type ResolveInfo struct {
	// ParentType is the object type name owning the field (e.g. "User").
	ParentType string
	// FieldName is the schema field name.
	FieldName string
	// ResponseName is the alias if present, else the field name.
	ResponseName string
	// Args are the field arguments, coerced to Go values per the schema.
	Args map[string]any
	// Path is the response path of the field.
	Path Path
}

// ErrAlreadyReported resolves a field to null without recording an error.
var ErrAlreadyReported = errors.New("executor: error already reported")
