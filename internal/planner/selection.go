package planner

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	executor "github.com/hanpama/fedgateway/internal/executor"
	language "github.com/hanpama/fedgateway/internal/language"
	schema "github.com/hanpama/fedgateway/internal/schema"
)

type fragmentGroup struct {
	typ *schema.Type
	sel language.SelectionSet
}

// collect flattens sel on parent: fields, and fragments whose type
// condition always holds, are inlined; fragments on narrower types are
// grouped by type condition. Excluded selections and fragments that can
// never apply are dropped.
func (b *builder) collect(parent *schema.Type, sel language.SelectionSet) ([]*language.Field, []*fragmentGroup) {
	var fields []*language.Field
	var groups []*fragmentGroup
	b.collectInto(parent, sel, &fields, &groups, make(map[string]bool))
	return fields, groups
}

func (b *builder) collectInto(parent *schema.Type, sel language.SelectionSet, fields *[]*language.Field, groups *[]*fragmentGroup, visited map[string]bool) {
	for _, item := range sel {
		switch s := item.(type) {
		case *language.Field:
			if executor.ShouldInclude(s.Directives, b.vars) {
				*fields = append(*fields, s)
			}
		case *language.InlineFragment:
			if executor.ShouldInclude(s.Directives, b.vars) {
				b.collectFragment(parent, s.TypeCondition, s.SelectionSet, s.Position, fields, groups, visited)
			}
		case *language.FragmentSpread:
			if !executor.ShouldInclude(s.Directives, b.vars) || visited[s.Name] {
				continue
			}
			visited[s.Name] = true
			def := b.doc.Fragments.ForName(s.Name)
			if def == nil {
				b.fail(s.Position, "Unknown fragment %q.", s.Name)
				continue
			}
			b.collectFragment(parent, def.TypeCondition, def.SelectionSet, s.Position, fields, groups, visited)
		}
	}
}

func (b *builder) collectFragment(parent *schema.Type, cond string, sel language.SelectionSet, pos *language.Position, fields *[]*language.Field, groups *[]*fragmentGroup, visited map[string]bool) {
	if cond == "" || cond == parent.Name {
		b.collectInto(parent, sel, fields, groups, visited)
		return
	}
	t := b.schema.Types[cond]
	if t == nil {
		b.fail(pos, "Unknown type %q.", cond)
		return
	}
	switch {
	case parent.Kind == schema.TypeKindObject:
		if b.schema.Implements(parent.Name, cond) {
			b.collectInto(parent, sel, fields, groups, visited)
		}
		return
	case t.Kind == schema.TypeKindObject:
		if !b.schema.Implements(cond, parent.Name) {
			return
		}
	case !t.Kind.IsAbstract():
		b.fail(pos, "Fragment cannot condition on non composite type %q.", cond)
		return
	}
	for _, g := range *groups {
		if g.typ == t {
			g.sel = append(g.sel, sel...)
			return
		}
	}
	*groups = append(*groups, &fragmentGroup{typ: t, sel: append(language.SelectionSet{}, sel...)})
}

// deferral gathers the fields one planSelection call hands to one entity
// node.
type deferral struct {
	child    *FetchNode
	fields   language.SelectionSet
	requires []*schema.FieldSet
	// keyed is set once the key has been added to the parent selection.
	keyed bool
	// resolved counts the requires already satisfied.
	resolved int
}

func (b *builder) deferField(ds *[]*deferral, n *FetchNode, parent *schema.Type, def *schema.Field, f *language.Field, path []string, present []*language.Field, provided language.SelectionSet) {
	d := b.deferralFor(ds, n, parent, def, path, present, provided, f.Position)
	if d == nil {
		return
	}
	d.fields = append(d.fields, f)
	if def.Requires != nil && !slices.Contains(d.requires, def.Requires) {
		d.requires = append(d.requires, def.Requires)
		if !slices.Contains(d.child.Requires, def.Requires) {
			d.child.Requires = append(d.child.Requires, def.Requires)
		}
	}
}

// deferralFor returns the deferral to the entity node resolving def on the
// objects n produces at path, creating the node on first use.
func (b *builder) deferralFor(ds *[]*deferral, n *FetchNode, parent *schema.Type, def *schema.Field, path []string, present []*language.Field, provided language.SelectionSet, pos *language.Position) *deferral {
	service := def.Owner
	id := service + "|" + strings.Join(path, ".") + "|" + parent.Name + "|" + strconv.Itoa(n.ID)
	child := b.entities[id]
	if child == nil {
		if !parent.IsEntity() {
			b.fail(pos, "Cannot plan field %q: type %q is resolved by %q, which has no @key to reach %q.", parent.Name+"."+def.Name, parent.Name, n.ServiceName, service)
			return nil
		}
		key := b.chooseKey(n.ServiceName, parent, service, present, provided)
		if key == nil {
			b.fail(pos, "Cannot plan field %q: service %q cannot provide any key of %q accepted by %q.", parent.Name+"."+def.Name, n.ServiceName, parent.Name, service)
			return nil
		}
		child = b.newNode(service, path, n)
		child.TypeCondition = parent.Name
		child.Key = key
		b.entities[id] = child
	}
	for _, d := range *ds {
		if d.child == child {
			return d
		}
	}
	d := &deferral{child: child}
	*ds = append(*ds, d)
	return d
}

// chooseKey picks the key an entity node of target addresses parent
// objects by. Candidates are the keys target declared that service can
// provide; the first candidate whose fields are all in the client's
// selection wins, else the first declared candidate.
func (b *builder) chooseKey(service string, parent *schema.Type, target string, present []*language.Field, provided language.SelectionSet) *schema.FieldSet {
	var candidates []*schema.FieldSet
	for _, k := range parent.KeysFor(target) {
		if b.canProvide(service, parent, k.Selection, provided) {
			candidates = append(candidates, k)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	selected := make(map[string]bool, len(present))
	for _, f := range present {
		selected[f.Name] = true
	}
next:
	for _, k := range candidates {
		for _, name := range k.Names() {
			if !selected[name] {
				continue next
			}
		}
		return k
	}
	return candidates[0]
}

func (b *builder) canProvide(service string, t *schema.Type, fs language.SelectionSet, provided language.SelectionSet) bool {
	for _, item := range fs {
		f, ok := item.(*language.Field)
		if !ok || f.Name == "__typename" {
			continue
		}
		def := t.Field(f.Name)
		if def == nil || !b.resolvable(service, t, def, provided) {
			return false
		}
		if len(f.SelectionSet) > 0 {
			var nested language.SelectionSet
			if pf := findField(provided, f.Name); pf != nil {
				nested = pf.SelectionSet
			}
			sub := b.schema.Types[def.Type.GetNamedType()]
			if sub == nil || !b.canProvide(service, sub, f.SelectionSet, nested) {
				return false
			}
		}
	}
	return true
}

// resolveDeferred adds what each entity node needs to the parent selection
// out, then plans the deferred fields inside the entity nodes. Required
// fields n cannot resolve are fetched by a sibling entity node the
// requiring node waits for.
func (b *builder) resolveDeferred(n *FetchNode, parent *schema.Type, out *language.SelectionSet, ds []*deferral, path []string, present []*language.Field, provided language.SelectionSet) {
	for changed := true; changed; {
		changed = false
		for i := 0; i < len(ds); i++ {
			d := ds[i]
			if !d.keyed {
				d.keyed = true
				changed = true
				*out = ensureTypename(*out)
				b.require(n.ServiceName, parent, out, d.child.Key.Selection, provided, fmt.Sprintf("key %q", d.child.Key.Raw))
			}
			for d.resolved < len(d.requires) {
				req := d.requires[d.resolved]
				d.resolved++
				changed = true
				for _, item := range req.Selection {
					f, ok := item.(*language.Field)
					if !ok {
						continue
					}
					def := parent.Field(f.Name)
					if def == nil {
						b.fail(nil, "@requires(fields: %q) selects unknown field %q.", req.Raw, parent.Name+"."+f.Name)
						continue
					}
					if b.resolvable(n.ServiceName, parent, def, provided) {
						b.require(n.ServiceName, parent, out, language.SelectionSet{f}, provided, fmt.Sprintf("@requires(fields: %q)", req.Raw))
						continue
					}
					before := len(ds)
					sibling := b.deferralFor(&ds, n, parent, def, path, present, provided, f.Position)
					if sibling == nil {
						continue
					}
					if findField(sibling.fields, f.Name) == nil {
						sibling.fields = append(sibling.fields, &language.Field{Alias: f.Name, Name: f.Name, SelectionSet: f.SelectionSet, Position: f.Position})
						if def.Requires != nil && !slices.Contains(sibling.requires, def.Requires) {
							sibling.requires = append(sibling.requires, def.Requires)
							sibling.child.Requires = append(sibling.child.Requires, def.Requires)
						}
					}
					if len(ds) != before {
						changed = true
					}
					b.dependOn(d.child, sibling.child)
				}
			}
		}
	}

	for _, d := range ds {
		d.child.selection = append(d.child.selection, b.planSelection(d.child, parent, d.fields, path, nil)...)
	}
}

// require adds the field set fs to out. Fields already selected under
// their own name are reused; a client alias hiding a required field name
// is a planning error.
func (b *builder) require(service string, t *schema.Type, out *language.SelectionSet, fs language.SelectionSet, provided language.SelectionSet, what string) {
	for _, item := range fs {
		f, ok := item.(*language.Field)
		if !ok {
			continue
		}
		var existing *language.Field
		for _, s := range *out {
			if ef, ok := s.(*language.Field); ok && responseName(ef) == f.Name {
				existing = ef
				break
			}
		}
		if existing != nil && existing.Name != f.Name {
			b.fail(existing.Position, "Alias %q hides field %q required by %s.", f.Name, t.Name+"."+f.Name, what)
			continue
		}
		if f.Name == "__typename" {
			if existing == nil {
				*out = append(*out, &language.Field{Alias: f.Name, Name: f.Name})
			}
			continue
		}
		def := t.Field(f.Name)
		if def == nil {
			b.fail(f.Position, "Cannot query field %q on type %q.", f.Name, t.Name)
			continue
		}
		if !b.resolvable(service, t, def, provided) {
			b.fail(f.Position, "Service %q cannot resolve %q required by %s.", service, t.Name+"."+f.Name, what)
			continue
		}
		if existing == nil {
			existing = &language.Field{Alias: f.Name, Name: f.Name}
			*out = append(*out, existing)
		}
		if len(f.SelectionSet) > 0 {
			sub := b.schema.Types[def.Type.GetNamedType()]
			if sub == nil {
				b.fail(f.Position, "Unknown type %q.", def.Type.GetNamedType())
				continue
			}
			var nested language.SelectionSet
			if pf := findField(provided, f.Name); pf != nil {
				nested = pf.SelectionSet
			}
			b.require(service, sub, &existing.SelectionSet, f.SelectionSet, nested, what)
		}
	}
}

// dependOn makes n wait for dep unless that would close a cycle.
func (b *builder) dependOn(n, dep *FetchNode) {
	if n == dep || slices.Contains(n.DependsOn, dep) {
		return
	}
	if reaches(dep, n) {
		b.fail(nil, "Cannot plan %q on %q: its required fields depend on it.", n.ServiceName, n.TypeCondition)
		return
	}
	n.DependsOn = append(n.DependsOn, dep)
}

// reaches reports whether from depends on to, directly or transitively.
func reaches(from, to *FetchNode) bool {
	for _, d := range from.DependsOn {
		if d == to || reaches(d, to) {
			return true
		}
	}
	return false
}
