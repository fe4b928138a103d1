package schema

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
)

// RenderOption tunes Render output.
type RenderOption func(*printer)

// WithFederation annotates entity types with their @key directives and each
// field with the services able to resolve it.
func WithFederation() RenderOption { return func(p *printer) { p.federation = true } }

// Render prints s as SDL. Types and directives are sorted by name; the
// built-in scalars and directives are left out.
func Render(s *Schema, opts ...RenderOption) string {
	if s == nil {
		return ""
	}
	p := &printer{}
	for _, opt := range opts {
		opt(p)
	}
	p.schemaDefinition(s)
	for _, name := range slices.Sorted(maps.Keys(s.Types)) {
		if !IsBuiltinScalar(name) {
			p.typeDefinition(s.Types[name])
		}
	}
	for _, name := range slices.Sorted(maps.Keys(s.Directives)) {
		if !IsBuiltinDirective(name) {
			p.directiveDefinition(s.Directives[name])
		}
	}
	return strings.TrimRight(p.String(), "\n") + "\n"
}

type printer struct {
	strings.Builder
	federation bool
}

func (p *printer) schemaDefinition(s *Schema) {
	roots := []struct{ op, name, fallback string }{
		{"query", s.QueryType, "Query"},
		{"mutation", s.MutationType, "Mutation"},
		{"subscription", s.SubscriptionType, "Subscription"},
	}
	if !slices.ContainsFunc(roots, func(r struct{ op, name, fallback string }) bool {
		return r.name != "" && r.name != r.fallback
	}) {
		return
	}
	p.WriteString("schema {\n")
	for _, r := range roots {
		if r.name != "" {
			fmt.Fprintf(p, "  %s: %s\n", r.op, r.name)
		}
	}
	p.WriteString("}\n\n")
}

func (p *printer) typeDefinition(t *Type) {
	p.description(t.Description, "")
	switch t.Kind {
	case TypeKindScalar:
		p.WriteString("scalar " + t.Name)
		if t.SpecifiedByURL != nil {
			fmt.Fprintf(p, " @specifiedBy(url: %q)", *t.SpecifiedByURL)
		}
		p.WriteString("\n\n")
		return
	case TypeKindUnion:
		fmt.Fprintf(p, "union %s = %s\n\n", t.Name, strings.Join(t.PossibleTypes, " | "))
		return
	case TypeKindEnum:
		p.WriteString("enum " + t.Name + " {\n")
		for _, v := range t.EnumValues {
			p.description(v.Description, "  ")
			p.WriteString("  " + v.Name)
			p.deprecation(v.IsDeprecated, v.DeprecationReason)
			p.WriteByte('\n')
		}
	case TypeKindInputObject:
		p.WriteString("input " + t.Name)
		if t.OneOf {
			p.WriteString(" @oneOf")
		}
		p.WriteString(" {\n")
		for _, f := range t.InputFields {
			p.description(f.Description, "  ")
			p.WriteString("  ")
			p.inputValue(f)
			p.deprecation(f.IsDeprecated, f.DeprecationReason)
			p.WriteByte('\n')
		}
	case TypeKindObject, TypeKindInterface:
		keyword := "type"
		if t.Kind == TypeKindInterface {
			keyword = "interface"
		}
		p.WriteString(keyword + " " + t.Name)
		if len(t.Interfaces) > 0 {
			p.WriteString(" implements " + strings.Join(t.Interfaces, " & "))
		}
		if p.federation {
			for _, k := range t.Keys {
				fmt.Fprintf(p, " @key(fields: %s)", strconv.Quote(k.Raw))
			}
		}
		p.WriteString(" {\n")
		for _, f := range t.Fields {
			p.field(f)
		}
	default:
		return
	}
	p.WriteString("}\n\n")
}

func (p *printer) field(f *Field) {
	p.description(f.Description, "  ")
	p.WriteString("  " + f.Name)
	p.arguments(f.Arguments)
	p.WriteString(": " + renderTypeRef(f.Type))
	p.deprecation(f.IsDeprecated, f.DeprecationReason)
	if p.federation {
		if f.Requires != nil {
			fmt.Fprintf(p, " @requires(fields: %s)", strconv.Quote(f.Requires.Raw))
		}
		if len(f.Services) > 0 {
			p.WriteString(" # " + strings.Join(f.Services, ", "))
		}
	}
	p.WriteByte('\n')
}

func (p *printer) directiveDefinition(d *Directive) {
	p.description(d.Description, "")
	p.WriteString("directive @" + d.Name)
	p.arguments(d.Arguments)
	if d.IsRepeatable {
		p.WriteString(" repeatable")
	}
	p.WriteString(" on " + strings.Join(d.Locations, " | ") + "\n\n")
}

func (p *printer) arguments(args []*InputValue) {
	if len(args) == 0 {
		return
	}
	p.WriteByte('(')
	for i, a := range args {
		if i > 0 {
			p.WriteString(", ")
		}
		p.inputValue(a)
	}
	p.WriteByte(')')
}

func (p *printer) inputValue(v *InputValue) {
	p.WriteString(v.Name + ": " + renderTypeRef(v.Type))
	if v.DefaultValue != nil {
		p.WriteString(" = " + FormatValue(v.DefaultValue))
	}
}

func (p *printer) deprecation(deprecated bool, reason string) {
	if !deprecated {
		return
	}
	p.WriteString(" @deprecated")
	if reason != "" {
		fmt.Fprintf(p, "(reason: %q)", reason)
	}
}

func (p *printer) description(desc, indent string) {
	if desc == "" {
		return
	}
	fmt.Fprintf(p, "%s\"\"\"\n%s%s\n%s\"\"\"\n", indent, indent, strings.ReplaceAll(desc, `"`, `\"`), indent)
}

func renderTypeRef(t *TypeRef) string {
	if t == nil {
		return ""
	}
	switch t.Kind {
	case TypeRefKindNamed:
		return t.Named
	case TypeRefKindList:
		return "[" + renderTypeRef(t.OfType) + "]"
	case TypeRefKindNonNull:
		return renderTypeRef(t.OfType) + "!"
	}
	return ""
}

// FormatValue renders a Go value as a GraphQL literal. Object fields are
// sorted by name.
func FormatValue(value any) string {
	switch v := value.(type) {
	case nil:
		return "null"
	case string:
		return strconv.Quote(v)
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case []any:
		parts := make([]string, len(v))
		for i, item := range v {
			parts[i] = FormatValue(item)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case map[string]any:
		parts := make([]string, 0, len(v))
		for _, k := range slices.Sorted(maps.Keys(v)) {
			parts = append(parts, k+": "+FormatValue(v[k]))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	}
	return fmt.Sprint(value)
}
