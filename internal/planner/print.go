package planner

import (
	language "github.com/hanpama/fedgateway/internal/language"
)

// RepresentationsVariable is the variable entity fetches pass their
// representations in.
const RepresentationsVariable = "representations"

// finish renders the operation document of n. Entity selections are
// wrapped into an `_entities` lookup; only the client variables the
// selection uses are declared.
func (b *builder) finish(n *FetchNode) {
	sel := n.selection
	var defs language.VariableDefinitionList
	if n.IsEntityFetch() {
		if b.op.VariableDefinitions.ForName(RepresentationsVariable) != nil {
			b.fail(b.op.Position, "Variable \"$%s\" is reserved for entity fetches.", RepresentationsVariable)
			return
		}
		defs = append(defs, &language.VariableDefinition{
			Variable: RepresentationsVariable,
			Type: &language.Type{
				Elem:    &language.Type{NamedType: "_Any", NonNull: true},
				NonNull: true,
			},
		})
		sel = language.SelectionSet{&language.Field{
			Alias: "_entities",
			Name:  "_entities",
			Arguments: language.ArgumentList{{
				Name:  RepresentationsVariable,
				Value: &language.Value{Kind: language.Variable, Raw: RepresentationsVariable},
			}},
			SelectionSet: language.SelectionSet{&language.InlineFragment{
				TypeCondition: n.TypeCondition,
				SelectionSet:  n.selection,
			}},
		}}
	}

	for _, name := range usedVariables(n.selection) {
		def := b.op.VariableDefinitions.ForName(name)
		if def == nil {
			b.fail(b.op.Position, "Variable \"$%s\" is not defined.", name)
			continue
		}
		n.Variables = append(n.Variables, name)
		defs = append(defs, def)
	}

	op := &language.OperationDefinition{
		Operation:           language.Query,
		VariableDefinitions: defs,
		SelectionSet:        sel,
	}
	if n.mutation {
		op.Operation = language.Mutation
	}
	n.Operation = language.PrintQuery(&language.QueryDocument{Operations: language.OperationList{op}})
}

// usedVariables lists the variables referenced by arguments in sel, in
// order of first use.
func usedVariables(sel language.SelectionSet) []string {
	var names []string
	seen := make(map[string]bool)
	var visitValue func(v *language.Value)
	visitValue = func(v *language.Value) {
		if v == nil {
			return
		}
		if v.Kind == language.Variable && !seen[v.Raw] {
			seen[v.Raw] = true
			names = append(names, v.Raw)
		}
		for _, c := range v.Children {
			visitValue(c.Value)
		}
	}
	var visit func(sel language.SelectionSet)
	visit = func(sel language.SelectionSet) {
		for _, item := range sel {
			switch s := item.(type) {
			case *language.Field:
				for _, arg := range s.Arguments {
					visitValue(arg.Value)
				}
				visit(s.SelectionSet)
			case *language.InlineFragment:
				visit(s.SelectionSet)
			}
		}
	}
	visit(sel)
	return names
}
