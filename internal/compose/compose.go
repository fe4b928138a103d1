// Package compose merges the SDL of several federated services into one
// schema annotated with type and field ownership.
package compose

import (
	"fmt"
	"sort"
	"strings"
	"time"

	language "github.com/hanpama/fedgateway/internal/language"
	schema "github.com/hanpama/fedgateway/internal/schema"
)

// Composer merges service SDL documents into a *schema.Schema.
type Composer struct {
	now func() time.Time
}

type Option func(*Composer)

// WithClock overrides the clock used for Schema.GeneratedAt.
func WithClock(now func() time.Time) Option { return func(c *Composer) { c.now = now } }

func New(opts ...Option) *Composer {
	c := &Composer{now: time.Now}
	for _, f := range opts {
		f(c)
	}
	return c
}

// Compose merges sdls (service name to SDL) with the default composer.
func Compose(sdls map[string]string) (*schema.Schema, error) {
	return New().Compose(sdls)
}

// Compose merges sdls into a new schema. Any violation rejects the whole
// composition and a CompositionError listing all of them is returned.
func (c *Composer) Compose(sdls map[string]string) (*schema.Schema, error) {
	if len(sdls) == 0 {
		return nil, CompositionError{{Message: "no service SDL to compose"}}
	}
	services := make([]string, 0, len(sdls))
	for name := range sdls {
		services = append(services, name)
	}
	sort.Strings(services)

	st := &composition{
		out:      schema.NewSchema(""),
		origins:  make(map[string]string),
		external: make(map[string][]string),
		roots:    make(map[language.Operation]rootOrigin),
	}
	st.out.Services = services

	docs := make([]*language.SchemaDocument, len(services))
	for i, name := range services {
		doc, err := language.ParseSchema(name, sdls[name])
		if err != nil {
			if gerr, ok := err.(*language.Error); ok && len(gerr.Locations) > 0 {
				st.fail(&Violation{Message: gerr.Message, Service: name, Line: gerr.Locations[0].Line, Column: gerr.Locations[0].Column})
			} else {
				st.fail(&Violation{Message: err.Error(), Service: name})
			}
			continue
		}
		docs[i] = doc
	}
	if len(st.violations) > 0 {
		return nil, st.violations
	}

	// Base definitions first so that ownership does not depend on the
	// order in which services extend each other's types.
	for i, name := range services {
		for _, def := range docs[i].Definitions {
			st.mergeDefinition(name, def, def.Directives.ForName("extends") != nil)
		}
	}
	for i, name := range services {
		for _, def := range docs[i].Extensions {
			st.mergeDefinition(name, def, true)
		}
		for _, sd := range docs[i].Schema {
			st.mergeRoots(name, sd.OperationTypes)
		}
		for _, sd := range docs[i].SchemaExtension {
			st.mergeRoots(name, sd.OperationTypes)
		}
	}

	st.finish()
	if len(st.violations) > 0 {
		return nil, st.violations
	}
	st.out.GeneratedAt = c.now()
	return st.out, nil
}

type rootOrigin struct {
	typeName string
	service  string
}

type composition struct {
	out        *schema.Schema
	violations CompositionError
	// origins records the service that first declared each "Type.field".
	origins map[string]string
	// external lists the services declaring "Type.field" @external.
	external map[string][]string
	roots    map[language.Operation]rootOrigin
}

func (st *composition) fail(v *Violation) { st.violations = append(st.violations, v) }

// isFederationName reports names that belong to the federation protocol
// itself (_Service, _Any, _entities, ...) rather than to the client schema.
func isFederationName(name string) bool { return strings.HasPrefix(name, "_") }

var kindOf = map[language.DefinitionKind]schema.TypeKind{
	language.Object:      schema.TypeKindObject,
	language.Interface:   schema.TypeKindInterface,
	language.Union:       schema.TypeKindUnion,
	language.Scalar:      schema.TypeKindScalar,
	language.Enum:        schema.TypeKindEnum,
	language.InputObject: schema.TypeKindInputObject,
}

func (st *composition) mergeDefinition(service string, def *language.Definition, extension bool) {
	if isFederationName(def.Name) {
		return
	}
	kind, ok := kindOf[def.Kind]
	if !ok {
		st.fail(violationAt(service, def.Position, "unsupported definition kind %s for %s", def.Kind, def.Name))
		return
	}
	if schema.IsBuiltinScalar(def.Name) {
		if kind != schema.TypeKindScalar {
			st.fail(violationAt(service, def.Position, "%s redefines a built-in scalar", def.Name))
		}
		return
	}

	t := st.out.Types[def.Name]
	if t == nil {
		t = schema.NewType(def.Name, kind, def.Description)
		st.out.AddType(t)
	} else if t.Kind != kind {
		st.fail(violationAt(service, def.Position, "type %s is declared as %s but was already declared as %s", def.Name, kind, t.Kind))
		return
	}
	t.AddService(service)
	if !extension && t.Owner == "" {
		t.Owner = service
	}
	if t.Description == "" {
		t.Description = def.Description
	}

	for _, d := range def.Directives.ForNames("key") {
		fs, v := parseFieldSet(service, d)
		if v != nil {
			st.fail(v)
			continue
		}
		t.AddKey(fs)
	}

	switch kind {
	case schema.TypeKindObject, schema.TypeKindInterface:
		for _, name := range def.Interfaces {
			t.AddInterface(name)
		}
		for _, fd := range def.Fields {
			if isFederationName(fd.Name) {
				continue
			}
			st.mergeField(service, t, fd)
		}
	case schema.TypeKindUnion:
		for _, member := range def.Types {
			t.AddPossibleType(member)
		}
	case schema.TypeKindEnum:
		for _, ev := range def.EnumValues {
			v := schema.NewEnumValue(ev.Name, ev.Description)
			if d := ev.Directives.ForName("deprecated"); d != nil {
				v.Deprecate(deprecationReason(d))
			}
			t.AddEnumValue(v)
		}
	case schema.TypeKindInputObject:
		if def.Directives.ForName("oneOf") != nil {
			t.SetOneOf(true)
		}
		for _, fd := range def.Fields {
			st.mergeInputField(service, t, fd)
		}
	case schema.TypeKindScalar:
		if d := def.Directives.ForName("specifiedBy"); d != nil && t.SpecifiedByURL == nil {
			if arg := d.Arguments.ForName("url"); arg != nil && arg.Value != nil {
				url := arg.Value.Raw
				t.SpecifiedByURL = &url
			}
		}
	}
}

func (st *composition) mergeField(service string, t *schema.Type, fd *language.FieldDefinition) {
	key := t.Name + "." + fd.Name
	ref := schema.TypeRefFromAST(fd.Type)
	f := t.Field(fd.Name)
	if f == nil {
		f = schema.NewField(fd.Name, fd.Description, ref)
		for _, ad := range fd.Arguments {
			f.AddArgument(inputValue(ad.Name, ad.Description, ad.Type, ad.DefaultValue, ad.Directives))
		}
		if d := fd.Directives.ForName("deprecated"); d != nil {
			f.Deprecate(deprecationReason(d))
		}
		t.AddField(f)
		st.origins[key] = service
	} else if f.Type.String() != ref.String() {
		st.fail(violationAt(service, fd.Position, "field %s has incompatible types: %s in %s and %s in %s",
			key, f.Type, st.origins[key], ref, service))
		return
	}

	if fd.Directives.ForName("external") != nil {
		st.external[key] = append(st.external[key], service)
		return
	}
	f.AddService(service)
	if d := fd.Directives.ForName("requires"); d != nil {
		fs, v := parseFieldSet(service, d)
		if v != nil {
			st.fail(v)
		} else if f.Owner == service {
			f.Requires = fs
		}
	}
	if d := fd.Directives.ForName("provides"); d != nil {
		fs, v := parseFieldSet(service, d)
		if v != nil {
			st.fail(v)
		} else {
			if f.Provides == nil {
				f.Provides = make(map[string]*schema.FieldSet)
			}
			f.Provides[service] = fs
		}
	}
}

func (st *composition) mergeInputField(service string, t *schema.Type, fd *language.FieldDefinition) {
	key := t.Name + "." + fd.Name
	ref := schema.TypeRefFromAST(fd.Type)
	if existing := t.InputField(fd.Name); existing != nil {
		if existing.Type.String() != ref.String() {
			st.fail(violationAt(service, fd.Position, "input field %s has incompatible types: %s in %s and %s in %s",
				key, existing.Type, st.origins[key], ref, service))
		}
		return
	}
	t.AddInputField(inputValue(fd.Name, fd.Description, fd.Type, fd.DefaultValue, fd.Directives))
	st.origins[key] = service
}

func (st *composition) mergeRoots(service string, ops language.OperationTypeDefinitionList) {
	for _, op := range ops {
		if prev, ok := st.roots[op.Operation]; ok && prev.typeName != op.Type {
			st.fail(violationAt(service, op.Position, "%s root type %s conflicts with %s declared in %s",
				op.Operation, op.Type, prev.typeName, prev.service))
			continue
		}
		st.roots[op.Operation] = rootOrigin{typeName: op.Type, service: service}
	}
}

// finish resolves roots and possible types, then validates references and
// federation field sets against the merged types.
func (st *composition) finish() {
	out := st.out
	out.SetQueryType(st.rootName(language.Query, "Query")).
		SetMutationType(st.rootName(language.Mutation, "Mutation")).
		SetSubscriptionType(st.rootName(language.Subscription, "Subscription"))
	if out.GetQueryType() == nil {
		st.fail(&Violation{Message: "no service defines the query root type"})
	}

	names := make([]string, 0, len(out.Types))
	for name := range out.Types {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		t := out.Types[name]
		if t.Kind != schema.TypeKindObject {
			continue
		}
		for _, iface := range t.Interfaces {
			it := out.Types[iface]
			if it == nil || it.Kind != schema.TypeKindInterface {
				st.fail(&Violation{Message: fmt.Sprintf("%s implements unknown interface %s", name, iface)})
				continue
			}
			it.AddPossibleType(name)
		}
	}

	for _, name := range names {
		t := out.Types[name]
		if t.Kind == schema.TypeKindUnion {
			for _, member := range t.PossibleTypes {
				if mt := out.Types[member]; mt == nil || mt.Kind != schema.TypeKindObject {
					st.fail(&Violation{Message: fmt.Sprintf("union %s includes unknown object type %s", name, member)})
				}
			}
		}
		for _, iv := range t.InputFields {
			st.checkRef(name+"."+iv.Name, iv.Type, true)
		}
		for _, f := range t.Fields {
			key := name + "." + f.Name
			st.checkRef(key, f.Type, false)
			for _, a := range f.Arguments {
				st.checkRef(key+"("+a.Name+")", a.Type, true)
			}
			if f.Owner == "" {
				st.fail(&Violation{Message: fmt.Sprintf("field %s is declared @external by %s but no service resolves it",
					key, strings.Join(st.external[key], ", "))})
			}
			if f.Requires != nil {
				if path, ok := checkFieldSet(out, t, f.Requires.Selection); !ok {
					st.fail(&Violation{Message: fmt.Sprintf("@requires on %s selects unknown field %s", key, path), Service: f.Requires.Service})
				}
			}
			st.checkProvides(key, f)
		}
		for _, k := range t.Keys {
			if path, ok := checkFieldSet(out, t, k.Selection); !ok {
				st.fail(&Violation{Message: fmt.Sprintf("@key(fields: %q) on %s selects unknown field %s", k.Raw, name, path), Service: k.Service})
			}
		}
	}
}

func (st *composition) checkProvides(key string, f *schema.Field) {
	if len(f.Provides) == 0 {
		return
	}
	services := make([]string, 0, len(f.Provides))
	for svc := range f.Provides {
		services = append(services, svc)
	}
	sort.Strings(services)
	target := st.out.Types[f.Type.GetNamedType()]
	for _, svc := range services {
		fs := f.Provides[svc]
		if target == nil || !target.Kind.IsComposite() {
			st.fail(&Violation{Message: fmt.Sprintf("@provides on %s requires a composite return type", key), Service: svc})
			continue
		}
		if path, ok := checkFieldSet(st.out, target, fs.Selection); !ok {
			st.fail(&Violation{Message: fmt.Sprintf("@provides on %s selects unknown field %s", key, path), Service: svc})
		}
	}
}

func (st *composition) checkRef(where string, ref *schema.TypeRef, input bool) {
	name := ref.GetNamedType()
	t := st.out.Types[name]
	if t == nil {
		st.fail(&Violation{Message: fmt.Sprintf("%s refers to unknown type %s", where, name)})
		return
	}
	switch {
	case input && t.Kind.IsComposite():
		st.fail(&Violation{Message: fmt.Sprintf("%s must be an input type, got %s %s", where, t.Kind, name)})
	case !input && t.Kind == schema.TypeKindInputObject:
		st.fail(&Violation{Message: fmt.Sprintf("%s must be an output type, got %s %s", where, t.Kind, name)})
	}
}

func (st *composition) rootName(op language.Operation, fallback string) string {
	if r, ok := st.roots[op]; ok {
		return r.typeName
	}
	if _, ok := st.out.Types[fallback]; ok {
		return fallback
	}
	return ""
}

func inputValue(name, description string, typ *language.Type, def *language.Value, directives language.DirectiveList) *schema.InputValue {
	iv := schema.NewInputValue(name, description, schema.TypeRefFromAST(typ))
	if def != nil {
		if v, err := def.Value(nil); err == nil {
			iv.SetDefault(v)
		}
	}
	if d := directives.ForName("deprecated"); d != nil {
		iv.Deprecate(deprecationReason(d))
	}
	return iv
}

func deprecationReason(d *language.Directive) string {
	if arg := d.Arguments.ForName("reason"); arg != nil && arg.Value != nil {
		return arg.Value.Raw
	}
	return "No longer supported"
}
