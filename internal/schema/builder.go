package schema

import "slices"

// NewSchema returns an empty schema with the built-in scalars and
// directives registered.
func NewSchema(description string) *Schema {
	s := &Schema{
		Types:       make(map[string]*Type),
		Directives:  make(map[string]*Directive),
		Description: description,
	}
	for name, description := range builtinScalars {
		s.AddType(NewType(name, TypeKindScalar, description))
	}
	for _, d := range builtinDirectives() {
		s.AddDirective(d)
	}
	return s
}

func (s *Schema) SetQueryType(name string) *Schema        { s.QueryType = name; return s }
func (s *Schema) SetMutationType(name string) *Schema     { s.MutationType = name; return s }
func (s *Schema) SetSubscriptionType(name string) *Schema { s.SubscriptionType = name; return s }

func (s *Schema) AddType(t *Type) *Schema {
	s.Types[t.Name] = t
	return s
}

func (s *Schema) AddDirective(d *Directive) *Schema {
	s.Directives[d.Name] = d
	return s
}

func NewType(name string, kind TypeKind, description string) *Type {
	return &Type{Name: name, Kind: kind, Description: description}
}

// AddField appends f, replacing any field with the same name in place.
func (t *Type) AddField(f *Field) *Type {
	if t.fieldIndex == nil {
		t.fieldIndex = make(map[string]*Field, len(t.Fields)+1)
		for _, existing := range t.Fields {
			t.fieldIndex[existing.Name] = existing
		}
	}
	if _, ok := t.fieldIndex[f.Name]; ok {
		for i, existing := range t.Fields {
			if existing.Name == f.Name {
				t.Fields[i] = f
			}
		}
	} else {
		t.Fields = append(t.Fields, f)
	}
	t.fieldIndex[f.Name] = f
	return t
}

func (t *Type) AddInterface(name string) *Type {
	for _, existing := range t.Interfaces {
		if existing == name {
			return t
		}
	}
	t.Interfaces = append(t.Interfaces, name)
	return t
}

func (t *Type) AddPossibleType(name string) *Type {
	for _, existing := range t.PossibleTypes {
		if existing == name {
			return t
		}
	}
	t.PossibleTypes = append(t.PossibleTypes, name)
	return t
}

func (t *Type) AddEnumValue(v *EnumValue) *Type {
	for _, existing := range t.EnumValues {
		if existing.Name == v.Name {
			return t
		}
	}
	t.EnumValues = append(t.EnumValues, v)
	return t
}

func (t *Type) AddInputField(v *InputValue) *Type {
	t.InputFields = append(t.InputFields, v)
	return t
}

// InputField returns the input field named name or nil.
func (t *Type) InputField(name string) *InputValue {
	for _, v := range t.InputFields {
		if v.Name == name {
			return v
		}
	}
	return nil
}

func (t *Type) AddService(service string) *Type {
	if !t.KnownBy(service) {
		t.Services = append(t.Services, service)
	}
	return t
}

// AddKey records k. A key equal to one already recorded only adds its
// service to the existing key's DeclaredBy.
func (t *Type) AddKey(k *FieldSet) *Type {
	key := k
	for _, existing := range t.Keys {
		if existing.Raw == k.Raw {
			key = existing
			break
		}
	}
	if key == k {
		t.Keys = append(t.Keys, k)
	}
	if k.Service == "" || slices.Contains(key.DeclaredBy, k.Service) {
		return t
	}
	key.DeclaredBy = append(key.DeclaredBy, k.Service)
	if t.keysBy == nil {
		t.keysBy = make(map[string][]*FieldSet)
	}
	t.keysBy[k.Service] = append(t.keysBy[k.Service], key)
	return t
}

func (t *Type) SetOneOf(v bool) *Type { t.OneOf = v; return t }

func NewField(name, description string, typ *TypeRef) *Field {
	return &Field{Name: name, Description: description, Type: typ}
}

func (f *Field) AddArgument(v *InputValue) *Field {
	f.Arguments = append(f.Arguments, v)
	return f
}

// Argument returns the argument named name or nil.
func (f *Field) Argument(name string) *InputValue {
	for _, a := range f.Arguments {
		if a.Name == name {
			return a
		}
	}
	return nil
}

func (f *Field) Deprecate(reason string) *Field {
	f.IsDeprecated = true
	f.DeprecationReason = reason
	return f
}

// AddService records that service resolves f. The first service added
// becomes the owner.
func (f *Field) AddService(service string) *Field {
	if f.Owner == "" {
		f.Owner = service
	}
	if !f.ResolvableBy(service) {
		f.Services = append(f.Services, service)
	}
	return f
}

func NewEnumValue(name, description string) *EnumValue {
	return &EnumValue{Name: name, Description: description}
}

func (e *EnumValue) Deprecate(reason string) *EnumValue {
	e.IsDeprecated = true
	e.DeprecationReason = reason
	return e
}

func NewInputValue(name, description string, typ *TypeRef) *InputValue {
	return &InputValue{Name: name, Description: description, Type: typ}
}

func (v *InputValue) SetDefault(value any) *InputValue { v.DefaultValue = value; return v }

func (v *InputValue) Deprecate(reason string) *InputValue {
	v.IsDeprecated = true
	v.DeprecationReason = reason
	return v
}

func NewDirective(name, description string) *Directive {
	return &Directive{Name: name, Description: description}
}

func (d *Directive) SetRepeatable(v bool) *Directive { d.IsRepeatable = v; return d }

func (d *Directive) AddArgument(v *InputValue) *Directive {
	d.Arguments = append(d.Arguments, v)
	return d
}
