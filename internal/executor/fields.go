package executor

import (
	language "github.com/hanpama/fedgateway/internal/language"
	schema "github.com/hanpama/fedgateway/internal/schema"
)

// fieldGroup is every field node sharing one response name, in document
// order.
type fieldGroup struct {
	Name   string
	Fields []*language.Field
}

// collectFields groups the fields of sel that apply to objectType by
// response name. Groups keep the order their first field appears in.
func (s *executionState) collectFields(objectType *schema.Type, sel language.SelectionSet) []fieldGroup {
	var groups []fieldGroup
	index := make(map[string]int)
	s.collectInto(objectType, sel, &groups, index, make(map[string]bool))
	return groups
}

func (s *executionState) collectInto(objectType *schema.Type, sel language.SelectionSet, groups *[]fieldGroup, index map[string]int, visited map[string]bool) {
	for _, item := range sel {
		switch n := item.(type) {
		case *language.Field:
			if !ShouldInclude(n.Directives, s.variableValues) {
				continue
			}
			name := n.Alias
			if name == "" {
				name = n.Name
			}
			if i, ok := index[name]; ok {
				(*groups)[i].Fields = append((*groups)[i].Fields, n)
				continue
			}
			index[name] = len(*groups)
			*groups = append(*groups, fieldGroup{Name: name, Fields: []*language.Field{n}})

		case *language.InlineFragment:
			if ShouldInclude(n.Directives, s.variableValues) && s.applies(objectType, n.TypeCondition) {
				s.collectInto(objectType, n.SelectionSet, groups, index, visited)
			}

		case *language.FragmentSpread:
			if visited[n.Name] || !ShouldInclude(n.Directives, s.variableValues) {
				continue
			}
			visited[n.Name] = true
			def := s.document.Fragments.ForName(n.Name)
			if def == nil || !ShouldInclude(def.Directives, s.variableValues) || !s.applies(objectType, def.TypeCondition) {
				continue
			}
			s.collectInto(objectType, def.SelectionSet, groups, index, visited)
		}
	}
}

// applies reports whether a fragment conditioned on cond applies to
// objectType. An empty condition always applies.
func (s *executionState) applies(objectType *schema.Type, cond string) bool {
	return cond == "" || cond == objectType.Name || s.schema.Implements(objectType.Name, cond)
}

// ShouldInclude evaluates @skip and @include against coerced variables.
// A condition that is not a boolean is ignored.
func ShouldInclude(directives language.DirectiveList, variableValues map[string]any) bool {
	for _, d := range directives {
		if d.Name != "skip" && d.Name != "include" {
			continue
		}
		arg := d.Arguments.ForName("if")
		if arg == nil {
			continue
		}
		cond, ok := valueFromASTWithVars(arg.Value, variableValues).(bool)
		if ok && cond == (d.Name == "skip") {
			return false
		}
	}
	return true
}
