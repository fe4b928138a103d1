package executor

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	language "github.com/hanpama/fedgateway/internal/language"
	schema "github.com/hanpama/fedgateway/internal/schema"
)

// compareResults lets cmp look into ExecutionResult.
var compareResults = cmp.AllowUnexported(ExecutionResult{})

// mustParseQuery parses a GraphQL query and fails the test on error.
func mustParseQuery(t *testing.T, q string) *language.QueryDocument {
	t.Helper()
	d, err := language.ParseQuery(q)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	return d
}

func newSchemaWithQueryType(query *schema.Type, additional ...*schema.Type) *schema.Schema {
	sch := schema.NewSchema("")
	if query != nil {
		sch.SetQueryType(query.Name)
		sch.AddType(query)
	}
	for _, t := range additional {
		sch.AddType(t)
	}
	return sch
}

func newObjectType(name string, fields ...*schema.Field) *schema.Type {
	t := schema.NewType(name, schema.TypeKindObject, "")
	for _, field := range fields {
		t.AddField(field)
	}
	return t
}

func newScalarType(name string) *schema.Type {
	return schema.NewType(name, schema.TypeKindScalar, "")
}

// reviewSchema is a merged response shape: Query.me returns a User whose
// reviews come from another service.
func reviewSchema() *schema.Schema {
	user := newObjectType("User",
		schema.NewField("id", "", schema.NonNullType(schema.NamedType("ID"))),
		schema.NewField("name", "", schema.NamedType("String")),
		schema.NewField("reviewCount", "", schema.NonNullType(schema.NamedType("Int"))),
		schema.NewField("reviews", "", schema.ListType(schema.NamedType("Review"))),
	)
	review := newObjectType("Review",
		schema.NewField("body", "", schema.NonNullType(schema.NamedType("String"))),
	)
	query := newObjectType("Query",
		schema.NewField("me", "", schema.NamedType("User")),
		schema.NewField("viewer", "", schema.NonNullType(schema.NamedType("User"))),
	)
	return newSchemaWithQueryType(query, user, review,
		newScalarType("ID"), newScalarType("String"), newScalarType("Int"))
}
