package schema

// builtinScalars are registered in every schema and never rendered.
var builtinScalars = map[string]string{
	"String":  "The `String` scalar type represents textual data, represented as UTF-8 character sequences.",
	"Int":     "The `Int` scalar type represents non-fractional signed whole numeric values.",
	"Float":   "The `Float` scalar type represents signed double-precision fractional values.",
	"Boolean": "The `Boolean` scalar type represents `true` or `false`.",
	"ID":      "The `ID` scalar type represents a unique identifier, often used to refetch an object or as a key for caching.",
}

// IsBuiltinScalar reports whether name is one of the specified scalars.
func IsBuiltinScalar(name string) bool {
	_, ok := builtinScalars[name]
	return ok
}

// IsBuiltinDirective reports whether name is a directive every schema
// declares.
func IsBuiltinDirective(name string) bool {
	switch name {
	case "include", "skip", "deprecated", "specifiedBy", "oneOf":
		return true
	}
	return false
}

var executableLocations = []string{"FIELD", "FRAGMENT_SPREAD", "INLINE_FRAGMENT"}

func builtinDirectives() []*Directive {
	condition := func(name, description, arg string) *Directive {
		d := NewDirective(name, description).
			AddArgument(NewInputValue("if", arg, NonNullType(NamedType("Boolean"))))
		d.Locations = executableLocations
		return d
	}
	deprecated := NewDirective("deprecated", "Marks an element of a GraphQL schema as no longer supported.").
		AddArgument(NewInputValue("reason", "Explains why this element was deprecated.", NamedType("String")).
			SetDefault("No longer supported"))
	deprecated.Locations = []string{"FIELD_DEFINITION", "ARGUMENT_DEFINITION", "INPUT_FIELD_DEFINITION", "ENUM_VALUE"}

	specifiedBy := NewDirective("specifiedBy", "Exposes a URL that specifies the behavior of this scalar.").
		AddArgument(NewInputValue("url", "The URL that specifies the behavior of this scalar.", NonNullType(NamedType("String"))))
	specifiedBy.Locations = []string{"SCALAR"}

	oneOf := NewDirective("oneOf", "Indicates exactly one field must be supplied and this field must not be `null`.")
	oneOf.Locations = []string{"INPUT_OBJECT"}

	return []*Directive{
		condition("include", "Directs the executor to include this field or fragment only when the `if` argument is true.", "Included when true."),
		condition("skip", "Directs the executor to skip this field or fragment when the `if` argument is true.", "Skipped when true."),
		deprecated,
		specifiedBy,
		oneOf,
	}
}
