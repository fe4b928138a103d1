package executor

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	schema "github.com/hanpama/fedgateway/internal/schema"
)

func objSchema(objFields ...*schema.Field) *schema.Schema {
	return newSchemaWithQueryType(
		newObjectType("Query", schema.NewField("obj", "", schema.NonNullType(schema.NamedType("Obj")))),
		newObjectType("Obj", objFields...),
	)
}

// Pattern: Result comparison
func TestCompleteValue_NonNull_Propagation_Result(t *testing.T) {
	t.Run("Resolver error", func(t *testing.T) {
		sch := objSchema(
			schema.NewField("a", "", schema.NonNullType(schema.NamedType("String"))),
			schema.NewField("b", "", schema.NonNullType(schema.NamedType("String"))),
		)
		rt := NewMockRuntime(map[string]MockResolver{
			"Query.obj": NewMockValueResolver(map[string]any{}),
			"Obj.a":     NewMockErrorResolver(fmt.Errorf("boom")),
			"Obj.b":     NewMockValueResolver("B"),
		})
		exec := NewExecutor(rt, sch)
		doc := mustParseQuery(t, "{ obj { a b } }")

		gotRes := exec.ExecuteRequest(context.Background(), doc, "", nil, nil)
		gotCalls := rt.GetCalls()

		// obj is non-null too, so the null reaches the root.
		wantRes := &ExecutionResult{
			Data:   nil,
			Errors: []GraphQLError{{Message: "boom", Path: Path{"obj", "a"}}},
		}
		if diff := cmp.Diff(wantRes, gotRes, compareResults); diff != "" {
			t.Fatalf("ExecutionResult mismatch (-want +got):\n%s", diff)
		}

		wantCalls := []Call{
			{ObjectType: "Query", Field: "obj", Source: nil, Args: map[string]any{}},
			{ObjectType: "Obj", Field: "a", Source: map[string]any{}, Args: map[string]any{}},
		}
		if diff := cmp.Diff(wantCalls, gotCalls); diff != "" {
			t.Fatalf("Runtime calls mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("Resolver returns null into nullable parent", func(t *testing.T) {
		sch := newSchemaWithQueryType(
			newObjectType("Query", schema.NewField("obj", "", schema.NamedType("Obj"))),
			newObjectType("Obj",
				schema.NewField("a", "", schema.NonNullType(schema.NamedType("String"))),
				schema.NewField("b", "", schema.NamedType("String")),
			),
		)
		rt := NewMockRuntime(map[string]MockResolver{
			"Query.obj": NewMockValueResolver(map[string]any{}),
			"Obj.a":     NewMockValueResolver(nil),
			"Obj.b":     NewMockValueResolver("B"),
		})
		exec := NewExecutor(rt, sch)
		doc := mustParseQuery(t, "{ obj { a b } }")

		gotRes := exec.ExecuteRequest(context.Background(), doc, "", nil, nil)

		wantRes := &ExecutionResult{
			Data: map[string]any{"obj": nil},
			Errors: []GraphQLError{
				{Message: "Cannot return null for non-nullable field obj.a", Path: Path{"obj", "a"}},
			},
		}
		if diff := cmp.Diff(wantRes, gotRes, compareResults); diff != "" {
			t.Fatalf("ExecutionResult mismatch (-want +got):\n%s", diff)
		}
	})
}

// Pattern: Result comparison
func TestCompleteValue_List_Nullability_Result(t *testing.T) {
	tests := []struct {
		name     string
		itemType *schema.TypeRef
		value    any
		want     *ExecutionResult
	}{
		{
			name:     "List contains values",
			itemType: schema.NamedType("String"),
			value:    []any{"A", "B"},
			want:     &ExecutionResult{Data: map[string]any{"list": []any{"A", "B"}}},
		},
		{
			name:     "List contains null",
			itemType: schema.NamedType("String"),
			value:    []any{"A", nil, "B"},
			want:     &ExecutionResult{Data: map[string]any{"list": []any{"A", nil, "B"}}},
		},
		{
			name:     "List is null",
			itemType: schema.NamedType("String"),
			value:    nil,
			want:     &ExecutionResult{Data: map[string]any{"list": nil}},
		},
		{
			name:     "Typed slice",
			itemType: schema.NamedType("String"),
			value:    []string{"A", "B"},
			want:     &ExecutionResult{Data: map[string]any{"list": []any{"A", "B"}}},
		},
		{
			name:     "Item non-null violation",
			itemType: schema.NonNullType(schema.NamedType("String")),
			value:    []any{"A", nil, "B"},
			want: &ExecutionResult{
				Data: map[string]any{"list": nil},
				Errors: []GraphQLError{
					{Message: "Cannot return null for non-nullable field list[1]", Path: Path{"list", 1}},
				},
			},
		},
		{
			name:     "Not a list",
			itemType: schema.NamedType("String"),
			value:    "A",
			want: &ExecutionResult{
				Data:   map[string]any{"list": nil},
				Errors: []GraphQLError{{Message: "Expected list value, got string", Path: Path{"list"}}},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sch := newSchemaWithQueryType(
				newObjectType("Query", schema.NewField("list", "", schema.ListType(tt.itemType))),
			)
			rt := NewMockRuntime(map[string]MockResolver{"Query.list": NewMockValueResolver(tt.value)})
			exec := NewExecutor(rt, sch)
			doc := mustParseQuery(t, "{ list }")

			got := exec.ExecuteRequest(context.Background(), doc, "", nil, nil)
			if diff := cmp.Diff(tt.want, got, compareResults); diff != "" {
				t.Fatalf("ExecutionResult mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

// Pattern: Result comparison
func TestCompleteValue_Leaf_Serialization_Result(t *testing.T) {
	t.Run("SerializeLeafValue success", func(t *testing.T) {
		sch := newSchemaWithQueryType(newObjectType("Query", schema.NewField("a", "", schema.NamedType("String"))))
		rt := NewMockRuntime(map[string]MockResolver{"Query.a": NewMockValueResolver("ok")})
		var gotTypeName string
		rt.SetSerializer(func(val any, typeName string) (any, error) {
			gotTypeName = typeName
			if s, ok := val.(string); ok {
				return fmt.Sprintf("%s!", s), nil
			}
			return nil, fmt.Errorf("not string")
		})
		exec := NewExecutor(rt, sch)
		doc := mustParseQuery(t, "{ a }")

		gotRes := exec.ExecuteRequest(context.Background(), doc, "", nil, nil)

		wantRes := &ExecutionResult{Data: map[string]any{"a": "ok!"}}
		if diff := cmp.Diff(wantRes, gotRes, compareResults); diff != "" {
			t.Fatalf("ExecutionResult mismatch (-want +got):\n%s", diff)
		}
		if gotTypeName != "String" {
			t.Fatalf("serializer called with %q, want String", gotTypeName)
		}
	})

	t.Run("SerializeLeafValue error", func(t *testing.T) {
		sch := newSchemaWithQueryType(newObjectType("Query", schema.NewField("a", "", schema.NamedType("String"))))
		rt := NewMockRuntime(map[string]MockResolver{"Query.a": NewMockValueResolver("bad")})
		rt.SetSerializer(func(val any, typeName string) (any, error) {
			return nil, fmt.Errorf("serialize error")
		})
		exec := NewExecutor(rt, sch)
		doc := mustParseQuery(t, "{ a }")

		gotRes := exec.ExecuteRequest(context.Background(), doc, "", nil, nil)

		wantRes := &ExecutionResult{
			Data:   map[string]any{"a": nil},
			Errors: []GraphQLError{{Message: "serialize error", Path: Path{"a"}}},
		}
		if diff := cmp.Diff(wantRes, gotRes, compareResults); diff != "" {
			t.Fatalf("ExecutionResult mismatch (-want +got):\n%s", diff)
		}
	})
}

// Pattern: Result comparison
func TestCompleteValue_Object_Projection_Result(t *testing.T) {
	sch := newSchemaWithQueryType(
		newObjectType("Query", schema.NewField("obj", "", schema.NamedType("Obj"))),
		newObjectType("Obj",
			schema.NewField("a", "", schema.NamedType("String")),
			schema.NewField("b", "", schema.NamedType("String")),
		),
	)
	// No resolvers: every field is read from its parent by response name.
	rt := NewMockRuntime(nil)
	exec := NewExecutor(rt, sch)
	doc := mustParseQuery(t, "{ obj { a renamed: b } }")

	root := map[string]any{"obj": map[string]any{"a": "A", "renamed": "B"}}
	gotRes := exec.ExecuteRequest(context.Background(), doc, "", nil, root)

	wantRes := &ExecutionResult{Data: map[string]any{"obj": map[string]any{"a": "A", "renamed": "B"}}}
	if diff := cmp.Diff(wantRes, gotRes, compareResults); diff != "" {
		t.Fatalf("ExecutionResult mismatch (-want +got):\n%s", diff)
	}

	wantCalls := []Call{
		{ObjectType: "Query", Field: "obj", Source: root, Args: map[string]any{}},
		{ObjectType: "Obj", Field: "a", Source: root["obj"], Args: map[string]any{}},
		{ObjectType: "Obj", Field: "b", Source: root["obj"], Args: map[string]any{}},
	}
	if diff := cmp.Diff(wantCalls, rt.GetCalls()); diff != "" {
		t.Fatalf("Runtime calls mismatch (-want +got):\n%s", diff)
	}
}

func abstractSchema() *schema.Schema {
	node := schema.NewType("Node", schema.TypeKindInterface, "").
		AddField(schema.NewField("id", "", schema.NamedType("ID"))).
		AddPossibleType("Obj")
	return newSchemaWithQueryType(
		newObjectType("Query", schema.NewField("iface", "", schema.NamedType("Node"))),
		node,
		newObjectType("Obj",
			schema.NewField("id", "", schema.NamedType("ID")),
			schema.NewField("a", "", schema.NamedType("String")),
		).AddInterface("Node"),
		newObjectType("Other", schema.NewField("a", "", schema.NamedType("String"))),
	)
}

// Pattern: Result comparison
func TestCompleteValue_Abstract_ResolveType_Result(t *testing.T) {
	t.Run("ResolveType returns concrete subtype", func(t *testing.T) {
		rt := NewMockRuntime(map[string]MockResolver{
			"Query.iface": NewMockValueResolver(map[string]any{"val": "A"}),
			"Obj.a":       NewMockValueResolver("A"),
		})
		rt.SetTypeResolver(func(value any) (string, error) { return "Obj", nil })
		exec := NewExecutor(rt, abstractSchema())
		doc := mustParseQuery(t, "{ iface { ... on Obj { a } } }")

		gotRes := exec.ExecuteRequest(context.Background(), doc, "", nil, nil)

		wantRes := &ExecutionResult{Data: map[string]any{"iface": map[string]any{"a": "A"}}}
		if diff := cmp.Diff(wantRes, gotRes, compareResults); diff != "" {
			t.Fatalf("ExecutionResult mismatch (-want +got):\n%s", diff)
		}
		wantCalls := []Call{
			{ObjectType: "Query", Field: "iface", Source: nil, Args: map[string]any{}},
			{ObjectType: "Obj", Field: "a", Source: map[string]any{"val": "A"}, Args: map[string]any{}},
		}
		if diff := cmp.Diff(wantCalls, rt.GetCalls()); diff != "" {
			t.Fatalf("Runtime calls mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("Typename drives resolution and interface fragments", func(t *testing.T) {
		rt := NewMockRuntime(nil)
		exec := NewExecutor(rt, abstractSchema())
		doc := mustParseQuery(t, "{ iface { __typename ... on Node { id } } }")

		root := map[string]any{"iface": map[string]any{"__typename": "Obj", "id": "1"}}
		gotRes := exec.ExecuteRequest(context.Background(), doc, "", nil, root)

		wantRes := &ExecutionResult{Data: map[string]any{"iface": map[string]any{"__typename": "Obj", "id": "1"}}}
		if diff := cmp.Diff(wantRes, gotRes, compareResults); diff != "" {
			t.Fatalf("ExecutionResult mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("ResolveType error", func(t *testing.T) {
		rt := NewMockRuntime(map[string]MockResolver{"Query.iface": NewMockValueResolver(map[string]any{})})
		rt.SetTypeResolver(func(value any) (string, error) { return "", fmt.Errorf("boom") })
		exec := NewExecutor(rt, abstractSchema())
		doc := mustParseQuery(t, "{ iface { id } }")

		gotRes := exec.ExecuteRequest(context.Background(), doc, "", nil, nil)

		wantRes := &ExecutionResult{
			Data:   map[string]any{"iface": nil},
			Errors: []GraphQLError{{Message: "boom", Path: Path{"iface"}}},
		}
		if diff := cmp.Diff(wantRes, gotRes, compareResults); diff != "" {
			t.Fatalf("ExecutionResult mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("ResolveType outside the abstract type", func(t *testing.T) {
		for _, name := range []string{"Unknown", "Other"} {
			rt := NewMockRuntime(map[string]MockResolver{"Query.iface": NewMockValueResolver(map[string]any{})})
			rt.SetTypeResolver(func(value any) (string, error) { return name, nil })
			exec := NewExecutor(rt, abstractSchema())
			doc := mustParseQuery(t, "{ iface { id } }")

			gotRes := exec.ExecuteRequest(context.Background(), doc, "", nil, nil)

			wantRes := &ExecutionResult{
				Data:   map[string]any{"iface": nil},
				Errors: []GraphQLError{{Message: "Abstract type Node must resolve to an Object type at runtime. Got: " + name, Path: Path{"iface"}}},
			}
			if diff := cmp.Diff(wantRes, gotRes, compareResults); diff != "" {
				t.Fatalf("%s: ExecutionResult mismatch (-want +got):\n%s", name, diff)
			}
		}
	})
}

// Pattern: Result comparison
func TestExecuteOperation_InitialErrors_Result(t *testing.T) {
	sch := newSchemaWithQueryType(
		newObjectType("Query",
			schema.NewField("a", "", schema.NamedType("String")),
			schema.NewField("b", "", schema.NonNullType(schema.NamedType("String"))),
			schema.NewField("c", "", schema.NamedType("String")),
		),
	)

	t.Run("Already reported fields are nulled silently", func(t *testing.T) {
		rt := NewMockRuntime(map[string]MockResolver{
			"Query.a": NewMockErrorResolver(ErrAlreadyReported),
			"Query.c": NewMockValueResolver("C"),
		})
		exec := NewExecutor(rt, sch)
		doc := mustParseQuery(t, "{ a c }")
		initial := []GraphQLError{{Message: "upstream failed", Path: Path{"a"}}}

		got := exec.ExecuteOperation(context.Background(), doc, doc.Operations[0], map[string]any{}, nil, initial)

		want := &ExecutionResult{
			Data:   map[string]any{"a": nil, "c": "C"},
			Errors: []GraphQLError{{Message: "upstream failed", Path: Path{"a"}}},
		}
		if diff := cmp.Diff(want, got, compareResults); diff != "" {
			t.Fatalf("ExecutionResult mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("Non-null root field nulls data without a second error", func(t *testing.T) {
		rt := NewMockRuntime(map[string]MockResolver{"Query.b": NewMockErrorResolver(ErrAlreadyReported)})
		exec := NewExecutor(rt, sch)
		doc := mustParseQuery(t, "{ b }")
		initial := []GraphQLError{{Message: "upstream failed", Path: Path{"b"}}}

		got := exec.ExecuteOperation(context.Background(), doc, doc.Operations[0], map[string]any{}, nil, initial)

		want := &ExecutionResult{
			Data:   nil,
			Errors: []GraphQLError{{Message: "upstream failed", Path: Path{"b"}}},
		}
		if diff := cmp.Diff(want, got, compareResults); diff != "" {
			t.Fatalf("ExecutionResult mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("GraphQL errors keep their extensions", func(t *testing.T) {
		rt := NewMockRuntime(map[string]MockResolver{
			"Query.a": NewMockErrorResolver(GraphQLError{Message: "nope", Extensions: map[string]any{"code": "X"}}),
		})
		exec := NewExecutor(rt, sch)
		doc := mustParseQuery(t, "{ a }")

		got := exec.ExecuteRequest(context.Background(), doc, "", nil, nil)

		want := &ExecutionResult{
			Data:   map[string]any{"a": nil},
			Errors: []GraphQLError{{Message: "nope", Path: Path{"a"}, Extensions: map[string]any{"code": "X"}}},
		}
		if diff := cmp.Diff(want, got, compareResults); diff != "" {
			t.Fatalf("ExecutionResult mismatch (-want +got):\n%s", diff)
		}
	})
}
