package compose

import (
	"strings"

	language "github.com/hanpama/fedgateway/internal/language"
	schema "github.com/hanpama/fedgateway/internal/schema"
)

// parseFieldSet reads the fields argument of a federation directive.
func parseFieldSet(service string, d *language.Directive) (*schema.FieldSet, *Violation) {
	arg := d.Arguments.ForName("fields")
	if arg == nil || arg.Value == nil || arg.Value.Kind != language.StringValue {
		return nil, violationAt(service, d.Position, "@%s requires a string \"fields\" argument", d.Name)
	}
	sel, err := language.ParseSelectionSet(arg.Value.Raw)
	if err != nil {
		return nil, violationAt(service, d.Position, "@%s: %v", d.Name, err)
	}
	return &schema.FieldSet{Raw: printFieldSet(sel), Selection: sel, Service: service}, nil
}

// printFieldSet renders a field set in its normalized single-line form.
func printFieldSet(sel language.SelectionSet) string {
	var b strings.Builder
	writeFieldSet(&b, sel)
	return b.String()
}

func writeFieldSet(b *strings.Builder, sel language.SelectionSet) {
	for i, s := range sel {
		if i > 0 {
			b.WriteByte(' ')
		}
		switch s := s.(type) {
		case *language.Field:
			b.WriteString(s.Name)
			if len(s.SelectionSet) > 0 {
				b.WriteString(" { ")
				writeFieldSet(b, s.SelectionSet)
				b.WriteString(" }")
			}
		case *language.InlineFragment:
			b.WriteString("... on ")
			b.WriteString(s.TypeCondition)
			b.WriteString(" { ")
			writeFieldSet(b, s.SelectionSet)
			b.WriteString(" }")
		}
	}
}

// checkFieldSet reports the first path in sel that typ cannot satisfy.
func checkFieldSet(s *schema.Schema, typ *schema.Type, sel language.SelectionSet) (string, bool) {
	for _, item := range sel {
		switch item := item.(type) {
		case *language.Field:
			if item.Name == "__typename" {
				continue
			}
			f := typ.Field(item.Name)
			if f == nil {
				return typ.Name + "." + item.Name, false
			}
			sub := s.Types[f.Type.GetNamedType()]
			if len(item.SelectionSet) > 0 {
				if sub == nil || !sub.Kind.IsComposite() {
					return typ.Name + "." + item.Name, false
				}
				if path, ok := checkFieldSet(s, sub, item.SelectionSet); !ok {
					return path, false
				}
			} else if sub != nil && sub.Kind.IsComposite() {
				return typ.Name + "." + item.Name, false
			}
		case *language.InlineFragment:
			sub := s.Types[item.TypeCondition]
			if sub == nil {
				return item.TypeCondition, false
			}
			if path, ok := checkFieldSet(s, sub, item.SelectionSet); !ok {
				return path, false
			}
		default:
			return typ.Name, false
		}
	}
	return "", true
}
