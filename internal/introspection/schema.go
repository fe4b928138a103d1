package introspection

import (
	"sync"

	language "github.com/hanpama/fedgateway/internal/language"
	schema "github.com/hanpama/fedgateway/internal/schema"
)

const metaSDL = `
"A GraphQL Schema defines the capabilities of a GraphQL server."
type __Schema {
  "A list of all types supported by this server."
  types: [__Type!]!
  "The type that query operations will be rooted at."
  queryType: __Type!
  "If this server supports mutation, the type that mutation operations will be rooted at."
  mutationType: __Type
  "If this server support subscription, the type that subscription operations will be rooted at."
  subscriptionType: __Type
  "A list of all directives supported by this server."
  directives: [__Directive!]!
  "A description of the schema."
  description: String
}

"The fundamental unit of any GraphQL Schema is the type."
type __Type {
  "The kind of type."
  kind: __TypeKind!
  "The name of the type."
  name: String
  "The description of the type."
  description: String
  fields(includeDeprecated: Boolean = false): [__Field!]
  interfaces: [__Type!]
  possibleTypes: [__Type!]
  enumValues(includeDeprecated: Boolean = false): [__EnumValue!]
  inputFields(includeDeprecated: Boolean = false): [__InputValue!]
  ofType: __Type
  specifiedByURL: String
  isOneOf: Boolean
}

type __Field {
  name: String!
  description: String
  args(includeDeprecated: Boolean = false): [__InputValue!]!
  type: __Type!
  isDeprecated: Boolean!
  deprecationReason: String
}

type __InputValue {
  name: String!
  description: String
  type: __Type!
  defaultValue: String
  isDeprecated: Boolean!
  deprecationReason: String
}

type __EnumValue {
  name: String!
  description: String
  isDeprecated: Boolean!
  deprecationReason: String
}

type __Directive {
  name: String!
  description: String
  isRepeatable: Boolean!
  locations: [__DirectiveLocation!]!
  args(includeDeprecated: Boolean = false): [__InputValue!]!
}

enum __TypeKind { SCALAR OBJECT INTERFACE UNION ENUM INPUT_OBJECT LIST NON_NULL }

enum __DirectiveLocation {
  QUERY MUTATION SUBSCRIPTION FIELD FRAGMENT_DEFINITION FRAGMENT_SPREAD
  INLINE_FRAGMENT VARIABLE_DEFINITION SCHEMA SCALAR OBJECT FIELD_DEFINITION
  ARGUMENT_DEFINITION INTERFACE UNION ENUM ENUM_VALUE INPUT_OBJECT
  INPUT_FIELD_DEFINITION
}
`

// metaTypes are shared by every extended schema and never modified.
var metaTypes = sync.OnceValue(func() []*schema.Type {
	doc, err := language.ParseSchema("introspection", metaSDL)
	if err != nil {
		panic(err)
	}
	types := make([]*schema.Type, 0, len(doc.Definitions))
	for _, def := range doc.Definitions {
		switch def.Kind {
		case language.Object:
			t := schema.NewType(def.Name, schema.TypeKindObject, def.Description)
			for _, fd := range def.Fields {
				f := schema.NewField(fd.Name, fd.Description, schema.TypeRefFromAST(fd.Type))
				for _, ad := range fd.Arguments {
					arg := schema.NewInputValue(ad.Name, ad.Description, schema.TypeRefFromAST(ad.Type))
					if ad.DefaultValue != nil {
						v, _ := ad.DefaultValue.Value(nil)
						arg.SetDefault(v)
					}
					f.AddArgument(arg)
				}
				t.AddField(f)
			}
			types = append(types, t)
		case language.Enum:
			t := schema.NewType(def.Name, schema.TypeKindEnum, def.Description)
			for _, ev := range def.EnumValues {
				t.AddEnumValue(schema.NewEnumValue(ev.Name, ev.Description))
			}
			types = append(types, t)
		}
	}
	return types
})

// extendSchemaWithIntrospection returns a shallow copy of original with
// the introspection types and the __schema and __type root fields added.
// original is not modified.
func extendSchemaWithIntrospection(original *schema.Schema) *schema.Schema {
	extended := *original
	extended.Types = make(map[string]*schema.Type, len(original.Types)+8)
	for name, typ := range original.Types {
		extended.Types[name] = typ
	}
	for _, t := range metaTypes() {
		extended.Types[t.Name] = t
	}

	query := original.GetQueryType()
	if query == nil {
		return &extended
	}
	root := schema.NewType(query.Name, query.Kind, query.Description)
	root.Interfaces = query.Interfaces
	root.Keys = query.Keys
	root.Owner = query.Owner
	root.Services = query.Services
	for _, f := range query.Fields {
		root.AddField(f)
	}
	root.AddField(schema.NewField("__schema", "Access the current type schema of this server.",
		schema.NonNullType(schema.NamedType("__Schema"))))
	root.AddField(schema.NewField("__type", "Request the type information of a single type.",
		schema.NamedType("__Type")).
		AddArgument(schema.NewInputValue("name", "The name of the type to look up.",
			schema.NonNullType(schema.NamedType("String")))))
	extended.Types[root.Name] = root
	return &extended
}
