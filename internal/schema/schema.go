package schema

import (
	"slices"
	"time"

	language "github.com/hanpama/fedgateway/internal/language"
)

// Schema is a composed GraphQL schema. Values produced by the composer are
// never mutated after construction; a schema change always yields a new
// *Schema, so a pointer can be shared freely between concurrent queries.
type Schema struct {
	QueryType        string
	MutationType     string
	SubscriptionType string
	Types            map[string]*Type // All named types keyed by name
	Directives       map[string]*Directive
	Description      string

	// Services lists the services the schema was composed from, sorted.
	Services []string
	// GeneratedAt is the time the composition finished.
	GeneratedAt time.Time
}

// GetQueryType returns the root query type (may be nil if absent)
func (s *Schema) GetQueryType() *Type { return s.Types[s.QueryType] }

// GetMutationType returns the root mutation type (may be nil if absent)
func (s *Schema) GetMutationType() *Type { return s.Types[s.MutationType] }

// GetSubscriptionType returns the root subscription type (may be nil if absent)
func (s *Schema) GetSubscriptionType() *Type { return s.Types[s.SubscriptionType] }

// IsRootType reports whether name is one of the operation root types.
func (s *Schema) IsRootType(name string) bool {
	return name != "" && (name == s.QueryType || name == s.MutationType || name == s.SubscriptionType)
}

// Implements reports whether the object type named typeName is a member of
// the abstract type named abstractName (or is that type).
func (s *Schema) Implements(typeName, abstractName string) bool {
	if typeName == abstractName {
		return true
	}
	abs := s.Types[abstractName]
	if abs == nil {
		return false
	}
	return slices.Contains(abs.PossibleTypes, typeName)
}

// Type is a named GraphQL type (object, interface, union, scalar, enum, input)
type Type struct {
	Name           string
	Kind           TypeKind
	Description    string
	Fields         []*Field      // For OBJECT and INTERFACE
	Interfaces     []string      // For OBJECT and INTERFACE (implemented/extended)
	PossibleTypes  []string      // For INTERFACE and UNION
	EnumValues     []*EnumValue  // For ENUM
	InputFields    []*InputValue // For INPUT_OBJECT
	SpecifiedByURL *string
	OneOf          bool

	// Owner is the service holding the base (non-extension) definition.
	// Empty when every service only extends the type.
	Owner string
	// Services lists every service that defines or extends the type, in
	// composition order.
	Services []string
	// Keys are the entity key field sets, in composition order.
	Keys []*FieldSet

	fieldIndex map[string]*Field
	// keysBy holds the keys of each declaring service in its SDL order.
	keysBy map[string][]*FieldSet
}

// IsEntity reports whether the type carries at least one key field set.
func (t *Type) IsEntity() bool { return len(t.Keys) > 0 }

// Field returns the field named name or nil.
func (t *Type) Field(name string) *Field {
	if t.fieldIndex != nil {
		return t.fieldIndex[name]
	}
	for _, f := range t.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// KnownBy reports whether service defines or extends the type.
func (t *Type) KnownBy(service string) bool { return slices.Contains(t.Services, service) }

// GetOrderedFields returns fields in declaration order.
func (t *Type) GetOrderedFields() []*Field { return t.Fields }

// GetOrderedInputFields returns input fields in declaration order.
func (t *Type) GetOrderedInputFields() []*InputValue { return t.InputFields }

// Field represents a field on an object or interface
type Field struct {
	Name              string
	Description       string
	Type              *TypeRef
	Arguments         []*InputValue
	IsDeprecated      bool
	DeprecationReason string

	// Owner is the service that resolves the field when a query has to
	// jump services to reach it.
	Owner string
	// Services lists every service able to resolve the field locally,
	// owner first. Services that only declare the field @external are absent.
	Services []string
	// Requires holds the @requires field set of the owning service.
	Requires *FieldSet
	// Provides maps a service to the @provides field set it declares on this field.
	Provides map[string]*FieldSet
}

// GetOrderedArguments returns arguments in declaration order.
func (f *Field) GetOrderedArguments() []*InputValue { return f.Arguments }

// ResolvableBy reports whether service can resolve the field without an
// entity lookup.
func (f *Field) ResolvableBy(service string) bool { return slices.Contains(f.Services, service) }

// FieldSet is a parsed federation field set (@key, @requires, @provides).
type FieldSet struct {
	// Raw is the normalized source text, e.g. "id organization { id }".
	Raw       string
	Selection language.SelectionSet
	// Service declared the field set.
	Service string
	// DeclaredBy lists every service declaring an equal @key, in
	// composition order.
	DeclaredBy []string
}

// KeysFor returns the keys service declared, in the order its SDL
// declares them. A service that declared none gets every key, the owner's
// first in the owner's order.
func (t *Type) KeysFor(service string) []*FieldSet {
	if out := t.declaredKeys(service); len(out) > 0 {
		return out
	}
	owned := t.declaredKeys(t.Owner)
	if len(owned) == 0 {
		return t.Keys
	}
	for _, k := range t.Keys {
		if !slices.Contains(owned, k) {
			owned = append(owned, k)
		}
	}
	return owned
}

func (t *Type) declaredKeys(service string) []*FieldSet {
	if service == "" {
		return nil
	}
	if keys, ok := t.keysBy[service]; ok {
		return slices.Clone(keys)
	}
	var out []*FieldSet
	for _, k := range t.Keys {
		if slices.Contains(k.DeclaredBy, service) {
			out = append(out, k)
		}
	}
	return out
}

// IsKeyFieldOf reports whether name is a top-level field of a key service
// declared on t. Such a field can be returned by service as an entity
// reference even when it is @external there.
func (t *Type) IsKeyFieldOf(service, name string) bool {
	for _, k := range t.Keys {
		if slices.Contains(k.DeclaredBy, service) && slices.Contains(k.Names(), name) {
			return true
		}
	}
	return false
}

// Names returns the top-level field names of the set in order.
func (fs *FieldSet) Names() []string {
	names := make([]string, 0, len(fs.Selection))
	for _, sel := range fs.Selection {
		if f, ok := sel.(*language.Field); ok {
			names = append(names, f.Name)
		}
	}
	return names
}

// TypeKind represents the kind of GraphQL type
type TypeKind string

const (
	TypeKindScalar      TypeKind = "SCALAR"
	TypeKindObject      TypeKind = "OBJECT"
	TypeKindInterface   TypeKind = "INTERFACE"
	TypeKindUnion       TypeKind = "UNION"
	TypeKindEnum        TypeKind = "ENUM"
	TypeKindInputObject TypeKind = "INPUT_OBJECT"
)

// IsAbstract reports whether the kind is an interface or a union.
func (k TypeKind) IsAbstract() bool { return k == TypeKindInterface || k == TypeKindUnion }

// IsComposite reports whether values of the kind carry a selection set.
func (k TypeKind) IsComposite() bool { return k == TypeKindObject || k.IsAbstract() }

// TypeRef represents a reference to a type (can be wrapped)
type TypeRef struct {
	Kind   TypeRefKind
	OfType *TypeRef // For List and NonNull
	Named  string   // For named types
}

type TypeRefKind string

const (
	TypeRefKindNamed   TypeRefKind = "NAMED"
	TypeRefKindList    TypeRefKind = "LIST"
	TypeRefKindNonNull TypeRefKind = "NON_NULL"
)

// Helper functions for TypeRef
func (t *TypeRef) IsNonNull() bool {
	return t != nil && t.Kind == TypeRefKindNonNull
}

func (t *TypeRef) IsList() bool {
	if t.Kind == TypeRefKindList {
		return true
	}
	if t.Kind == TypeRefKindNonNull && t.OfType != nil {
		return t.OfType.Kind == TypeRefKindList
	}
	return false
}

func (t *TypeRef) Unwrap() *TypeRef {
	if t.Kind == TypeRefKindNonNull || t.Kind == TypeRefKindList {
		return t.OfType
	}
	return t
}

func (t *TypeRef) GetNamedType() string {
	current := t
	for current != nil {
		if current.Named != "" {
			return current.Named
		}
		current = current.OfType
	}
	return ""
}

// String renders the reference in SDL notation, e.g. "[User!]!".
func (t *TypeRef) String() string { return renderTypeRef(t) }

// ListDepth returns the number of list wrappers around the named type.
func (t *TypeRef) ListDepth() int {
	n := 0
	for cur := t; cur != nil; cur = cur.OfType {
		if cur.Kind == TypeRefKindList {
			n++
		}
	}
	return n
}

type EnumValue struct {
	Name              string
	Description       string
	IsDeprecated      bool
	DeprecationReason string
}

type InputValue struct {
	Name              string
	Description       string
	Type              *TypeRef
	DefaultValue      any
	IsDeprecated      bool
	DeprecationReason string
}

type Directive struct {
	Name         string
	Description  string
	Locations    []string
	Arguments    []*InputValue
	IsRepeatable bool
}

func NonNullType(t *TypeRef) *TypeRef { return &TypeRef{Kind: TypeRefKindNonNull, OfType: t} }
func ListType(t *TypeRef) *TypeRef    { return &TypeRef{Kind: TypeRefKindList, OfType: t} }
func NamedType(name string) *TypeRef  { return &TypeRef{Kind: TypeRefKindNamed, Named: name} }

// IsNonNull reports whether the type is wrapped with Non-Null.
func IsNonNull(t *TypeRef) bool { return t != nil && t.IsNonNull() }

// IsList reports whether the type is (or is wrapped by) a list type.
func IsList(t *TypeRef) bool { return t != nil && t.IsList() }

// Unwrap removes one layer of Non-Null or List wrapping and returns the inner type.
func Unwrap(t *TypeRef) *TypeRef { return t.Unwrap() }

// GetNamedType returns the innermost named type for the given reference.
func GetNamedType(t *TypeRef) string { return t.GetNamedType() }

// TypeRefFromAST converts a parsed type expression.
func TypeRefFromAST(t *language.Type) *TypeRef {
	if t == nil {
		return nil
	}
	if t.NonNull {
		return NonNullType(TypeRefFromAST(&language.Type{NamedType: t.NamedType, Elem: t.Elem}))
	}
	if t.NamedType != "" {
		return NamedType(t.NamedType)
	}
	if t.Elem != nil {
		return ListType(TypeRefFromAST(t.Elem))
	}
	return nil
}
