// Package planner splits a client operation into fetches against the
// services of a composed schema.
//
// A plan is a DAG of FetchNodes. Root nodes query a service's root fields;
// entity nodes look objects up by key through the `_entities` field of the
// service owning the fields the parent service cannot resolve. Nodes are
// listed in dependency order and planning is deterministic: the same
// document against the same schema always yields the same nodes, edges and
// sub-queries.
package planner

import (
	"fmt"
	"strings"

	executor "github.com/hanpama/fedgateway/internal/executor"
	language "github.com/hanpama/fedgateway/internal/language"
	schema "github.com/hanpama/fedgateway/internal/schema"
)

// ListMarker is the ResponsePath element that steps into every item of a
// list.
const ListMarker = "@"

// QueryPlan is the set of fetches answering one client operation against
// one schema snapshot.
type QueryPlan struct {
	Schema    *schema.Schema
	Document  *language.QueryDocument
	Operation *language.OperationDefinition
	// Variables are the coerced client variables.
	Variables map[string]any
	// Nodes are in dependency order; a node only depends on earlier nodes.
	Nodes []*FetchNode
}

// FetchNode is one request to one service.
type FetchNode struct {
	ID          int
	ServiceName string
	// Operation is the GraphQL document sent to the service.
	Operation string
	// Variables names the client variables Operation declares.
	Variables []string
	// ResponsePath locates, by response name, the objects the result is
	// merged into. Empty for root fetches.
	ResponsePath []string
	// TypeCondition is the entity type of an entity fetch. Objects at
	// ResponsePath of other types are not looked up.
	TypeCondition string
	// Key is the key field set representations are built from.
	Key *schema.FieldSet
	// Requires are @requires field sets sent along with the key.
	Requires  []*schema.FieldSet
	DependsOn []*FetchNode

	mutation  bool
	selection language.SelectionSet
}

// IsEntityFetch reports whether the node resolves entities by
// representation rather than root fields.
func (n *FetchNode) IsEntityFetch() bool { return n.TypeCondition != "" }

// Representation returns the fields projected from each parent object
// into its representation, __typename aside.
func (n *FetchNode) Representation() language.SelectionSet {
	if n.Key == nil {
		return nil
	}
	sel := append(language.SelectionSet{}, n.Key.Selection...)
	for _, r := range n.Requires {
		sel = append(sel, r.Selection...)
	}
	return sel
}

// Fields returns the response names the node fills on each target object,
// in query order.
func (n *FetchNode) Fields() []string {
	var names []string
	for _, s := range n.selection {
		if f, ok := s.(*language.Field); ok {
			names = append(names, responseName(f))
		}
	}
	return names
}

// String renders the plan for debugging, one node per paragraph.
func (p *QueryPlan) String() string {
	var b strings.Builder
	for _, n := range p.Nodes {
		fmt.Fprintf(&b, "[%d] %s", n.ID, n.ServiceName)
		if n.IsEntityFetch() {
			fmt.Fprintf(&b, " %s at %s key(%s)", n.TypeCondition, strings.Join(n.ResponsePath, "."), n.Key.Raw)
			for _, r := range n.Requires {
				fmt.Fprintf(&b, " requires(%s)", r.Raw)
			}
		}
		if len(n.DependsOn) > 0 {
			ids := make([]string, len(n.DependsOn))
			for i, d := range n.DependsOn {
				ids[i] = fmt.Sprint(d.ID)
			}
			fmt.Fprintf(&b, " after [%s]", strings.Join(ids, " "))
		}
		b.WriteByte('\n')
		for _, line := range strings.Split(strings.TrimSpace(n.Operation), "\n") {
			b.WriteString("    ")
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// Plan builds the plan of operationName in doc against sch. variables are
// coerced against the operation's variable definitions; @skip and
// @include are evaluated at planning time. Every failure is a
// PlanningError.
func Plan(doc *language.QueryDocument, operationName string, variables map[string]any, sch *schema.Schema) (*QueryPlan, error) {
	op, problem := selectOperation(doc, operationName)
	if problem != nil {
		return nil, PlanningError{problem}
	}

	var root *schema.Type
	switch op.Operation {
	case language.Query:
		root = sch.GetQueryType()
	case language.Mutation:
		root = sch.GetMutationType()
	case language.Subscription:
		return nil, PlanningError{problemAt(op.Position, "Subscriptions are not supported.")}
	}
	if root == nil {
		return nil, PlanningError{problemAt(op.Position, "Schema is not configured for %ss.", op.Operation)}
	}

	coerced, err := executor.CoerceVariableValues(sch, op, variables)
	if err != nil {
		return nil, PlanningError{problemAt(op.Position, "%s", err.Error())}
	}

	b := &builder{
		schema:   sch,
		doc:      doc,
		op:       op,
		vars:     coerced,
		entities: make(map[string]*FetchNode),
	}
	b.planRoot(root, op.Operation == language.Mutation)
	if len(b.problems) == 0 {
		b.nodes = orderNodes(b.nodes)
		for _, n := range b.nodes {
			b.finish(n)
		}
	}
	if len(b.problems) > 0 {
		return nil, b.problems
	}
	return &QueryPlan{
		Schema:    sch,
		Document:  doc,
		Operation: op,
		Variables: coerced,
		Nodes:     b.nodes,
	}, nil
}

func selectOperation(doc *language.QueryDocument, name string) (*language.OperationDefinition, *Problem) {
	if name == "" {
		switch len(doc.Operations) {
		case 0:
			return nil, &Problem{Message: "Must provide an operation."}
		case 1:
			return doc.Operations[0], nil
		default:
			return nil, &Problem{Message: "Must provide operation name if query contains multiple operations."}
		}
	}
	for _, op := range doc.Operations {
		if op.Name == name {
			return op, nil
		}
	}
	return nil, &Problem{Message: fmt.Sprintf("Unknown operation named %q.", name)}
}

type builder struct {
	schema *schema.Schema
	doc    *language.QueryDocument
	op     *language.OperationDefinition
	vars   map[string]any

	nodes []*FetchNode
	// entities indexes entity nodes by service, path, type and parent.
	entities map[string]*FetchNode
	problems PlanningError
}

func (b *builder) fail(pos *language.Position, format string, args ...any) {
	b.problems = append(b.problems, problemAt(pos, format, args...))
}

func (b *builder) newNode(service string, path []string, parent *FetchNode) *FetchNode {
	n := &FetchNode{
		ID:           len(b.nodes),
		ServiceName:  service,
		ResponsePath: append([]string(nil), path...),
	}
	if parent != nil {
		n.DependsOn = []*FetchNode{parent}
	}
	b.nodes = append(b.nodes, n)
	return n
}

// orderNodes sorts nodes so that every node follows its dependencies,
// keeping creation order otherwise, and renumbers them.
func orderNodes(nodes []*FetchNode) []*FetchNode {
	out := make([]*FetchNode, 0, len(nodes))
	placed := make(map[*FetchNode]bool, len(nodes))
	for len(out) < len(nodes) {
		for _, n := range nodes {
			if placed[n] {
				continue
			}
			ready := true
			for _, d := range n.DependsOn {
				if !placed[d] {
					ready = false
					break
				}
			}
			if ready {
				placed[n] = true
				n.ID = len(out)
				out = append(out, n)
				break
			}
		}
	}
	return out
}

// isLocalRootField reports root fields the gateway answers itself.
func isLocalRootField(name string) bool {
	return name == "__typename" || name == "__schema" || name == "__type"
}

// planRoot groups root fields by owning service. Query fields of one
// service share a node. Mutation fields run in document order: consecutive
// fields of one service share a node and each node waits for the previous
// one along with every entity node resolving its result.
func (b *builder) planRoot(root *schema.Type, serial bool) {
	fields, _ := b.collect(root, b.op.SelectionSet)

	var order []*FetchNode
	groups := make(map[*FetchNode]language.SelectionSet)
	byService := make(map[string]*FetchNode)
	var last *FetchNode
	for _, f := range fields {
		if isLocalRootField(f.Name) {
			continue
		}
		def := root.Field(f.Name)
		if def == nil {
			b.fail(f.Position, "Cannot query field %q on type %q.", f.Name, root.Name)
			continue
		}
		var n *FetchNode
		if serial {
			if last != nil && last.ServiceName == def.Owner {
				n = last
			} else {
				n = b.newNode(def.Owner, nil, last)
				n.mutation = true
				order = append(order, n)
			}
			last = n
		} else if n = byService[def.Owner]; n == nil {
			n = b.newNode(def.Owner, nil, nil)
			byService[def.Owner] = n
			order = append(order, n)
		}
		groups[n] = append(groups[n], f)
	}
	for i, n := range order {
		start := len(b.nodes)
		n.selection = b.planSelection(n, root, groups[n], nil, nil)
		if serial && i+1 < len(order) {
			for _, child := range b.nodes[start:] {
				b.dependOn(order[i+1], child)
			}
		}
	}
}

// planSelection plans sel on parent within node n and returns the selection
// n sends for it. Fields n cannot resolve are deferred to entity nodes at
// path; the keys and required fields those nodes need are added to the
// returned selection.
func (b *builder) planSelection(n *FetchNode, parent *schema.Type, sel language.SelectionSet, path []string, provided language.SelectionSet) language.SelectionSet {
	fields, fragments := b.collect(parent, sel)

	var out language.SelectionSet
	var deferred []*deferral
	for _, f := range fields {
		if f.Name == "__typename" {
			out = append(out, &language.Field{Alias: responseName(f), Name: f.Name, Position: f.Position})
			continue
		}
		def := parent.Field(f.Name)
		if def == nil {
			b.fail(f.Position, "Cannot query field %q on type %q.", f.Name, parent.Name)
			continue
		}
		if !b.resolvable(n.ServiceName, parent, def, provided) {
			b.deferField(&deferred, n, parent, def, f, path, fields, provided)
			continue
		}
		if planned := b.planField(n, def, f, path, provided); planned != nil {
			out = append(out, planned)
		}
	}

	for _, g := range fragments {
		if !g.typ.KnownBy(n.ServiceName) {
			continue
		}
		sub := b.planSelection(n, g.typ, g.sel, path, provided)
		out = append(out, &language.InlineFragment{TypeCondition: g.typ.Name, SelectionSet: sub})
	}

	b.resolveDeferred(n, parent, &out, deferred, path, fields, provided)

	if parent.Kind.IsAbstract() || len(out) == 0 {
		out = ensureTypename(out)
	}
	return out
}

func (b *builder) planField(n *FetchNode, def *schema.Field, f *language.Field, path []string, provided language.SelectionSet) *language.Field {
	out := &language.Field{
		Alias:     responseName(f),
		Name:      f.Name,
		Arguments: f.Arguments,
		Position:  f.Position,
	}
	named := b.schema.Types[def.Type.GetNamedType()]
	if named == nil {
		b.fail(f.Position, "Unknown type %q.", def.Type.GetNamedType())
		return nil
	}
	if !named.Kind.IsComposite() {
		if len(f.SelectionSet) > 0 {
			b.fail(f.Position, "Field %q must not have a selection since type %q has no subfields.", f.Name, def.Type)
			return nil
		}
		return out
	}
	if len(f.SelectionSet) == 0 {
		b.fail(f.Position, "Field %q of type %q must have a selection of subfields.", f.Name, def.Type)
		return nil
	}

	var childProvided language.SelectionSet
	if pf := findField(provided, f.Name); pf != nil {
		childProvided = append(childProvided, pf.SelectionSet...)
	}
	if fs := def.Provides[n.ServiceName]; fs != nil {
		childProvided = append(childProvided, fs.Selection...)
	}
	out.SelectionSet = b.planSelection(n, named, f.SelectionSet, childPath(path, out.Alias, def.Type), childProvided)
	return out
}

// resolvable reports whether service can answer def on parent without an
// entity lookup: it resolves the field, a parent field @provides it, or it
// is part of a key service declared on parent.
func (b *builder) resolvable(service string, parent *schema.Type, def *schema.Field, provided language.SelectionSet) bool {
	if def.ResolvableBy(service) {
		return true
	}
	if findField(provided, def.Name) != nil {
		return true
	}
	return parent.IsKeyFieldOf(service, def.Name)
}

// childPath extends path with a field's response name and one ListMarker
// per list wrapper of its type.
func childPath(path []string, name string, typ *schema.TypeRef) []string {
	out := make([]string, 0, len(path)+1+typ.ListDepth())
	out = append(out, path...)
	out = append(out, name)
	for i := 0; i < typ.ListDepth(); i++ {
		out = append(out, ListMarker)
	}
	return out
}

func responseName(f *language.Field) string {
	if f.Alias != "" {
		return f.Alias
	}
	return f.Name
}

func findField(sel language.SelectionSet, name string) *language.Field {
	for _, s := range sel {
		if f, ok := s.(*language.Field); ok && f.Name == name {
			return f
		}
	}
	return nil
}

func ensureTypename(sel language.SelectionSet) language.SelectionSet {
	for _, s := range sel {
		if f, ok := s.(*language.Field); ok && responseName(f) == "__typename" {
			return sel
		}
	}
	return append(sel, &language.Field{Alias: "__typename", Name: "__typename"})
}
