// Package engine executes query plans against downstream services.
//
// Fetch nodes are scheduled as soon as the nodes they depend on have been
// merged. Fetches run concurrently, capped per service; one scheduler
// goroutine owns the response tree and merges every result into it. Once
// all nodes have run, the tree is completed against the client operation,
// which applies GraphQL null propagation.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	executor "github.com/hanpama/fedgateway/internal/executor"
	introspection "github.com/hanpama/fedgateway/internal/introspection"
	planner "github.com/hanpama/fedgateway/internal/planner"
	subgraph "github.com/hanpama/fedgateway/internal/subgraph"
)

// Fetcher sends a GraphQL request to a named service. *subgraph.Transport
// implements it.
type Fetcher interface {
	Fetch(ctx context.Context, service string, req *subgraph.Request) (*subgraph.Response, error)
}

// Engine executes query plans. It is safe for concurrent use; nothing is
// shared between executions but the fetcher.
type Engine struct {
	fetcher       Fetcher
	opts          *Options
	introspection introspection.Cache
}

func New(fetcher Fetcher, opts ...Option) *Engine {
	o := defaultOptions()
	for _, f := range opts {
		f(o)
	}
	return &Engine{fetcher: fetcher, opts: o}
}

// task is one fetch node on its way through the scheduler. The scheduler
// fills the inputs, a fetch goroutine the results.
type task struct {
	node    *planner.FetchNode
	targets []target
	// reps are the distinct representations; repOf maps each target to
	// its representation.
	reps  []any
	repOf []int

	data     map[string]any
	entities []any
	upstream []subgraph.Error
	err      error
}

type execution struct {
	engine *Engine
	plan   *planner.QueryPlan
	limit  *limiter
	data   map[string]any
	// errors are kept per node so they are reported in plan order.
	errors [][]executor.GraphQLError
}

// Execute runs every fetch node of plan and returns the completed
// response. Failed fetches null the fields they were meant to fill and
// report one error; the rest of the response is unaffected. Cancelling ctx
// abandons the pending fetches.
func (e *Engine) Execute(ctx context.Context, plan *planner.QueryPlan) *executor.ExecutionResult {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	x := &execution{
		engine: e,
		plan:   plan,
		limit:  newLimiter(e.opts.MaxConcurrencyPerService),
		data:   make(map[string]any),
		errors: make([][]executor.GraphQLError, len(plan.Nodes)),
	}

	waiting := make([]int, len(plan.Nodes))
	dependents := make([][]*planner.FetchNode, len(plan.Nodes))
	var ready []*planner.FetchNode
	for _, n := range plan.Nodes {
		waiting[n.ID] = len(n.DependsOn)
		for _, d := range n.DependsOn {
			dependents[d.ID] = append(dependents[d.ID], n)
		}
		if len(n.DependsOn) == 0 {
			ready = append(ready, n)
		}
	}
	release := func(n *planner.FetchNode) {
		for _, d := range dependents[n.ID] {
			if waiting[d.ID]--; waiting[d.ID] == 0 {
				ready = append(ready, d)
			}
		}
	}

	done := make(chan *task, len(plan.Nodes))
	running, finished := 0, 0
	for finished < len(plan.Nodes) {
		for len(ready) > 0 {
			n := ready[0]
			ready = ready[1:]
			t := x.prepare(n)
			if n.IsEntityFetch() && len(t.reps) == 0 {
				finished++
				release(n)
				continue
			}
			running++
			go func() {
				x.run(ctx, t)
				done <- t
			}()
		}
		if running == 0 {
			break
		}
		var t *task
		select {
		case t = <-done:
		case <-ctx.Done():
		}
		if err := ctx.Err(); err != nil {
			return &executor.ExecutionResult{Errors: []executor.GraphQLError{{Message: "request cancelled: " + err.Error()}}}
		}
		running--
		finished++
		if err := x.apply(t); err != nil {
			return e.violated(err)
		}
		release(t.node)
	}
	return x.complete(ctx)
}

func (e *Engine) violated(err error) *executor.ExecutionResult {
	var v *MergeInvariantViolation
	if errors.As(err, &v) {
		e.opts.Logger.Error("merge invariant violated", zap.Stringer("path", v.Path))
	} else {
		e.opts.Logger.Error("merge failed", zap.Error(err))
	}
	return &executor.ExecutionResult{Errors: []executor.GraphQLError{{
		Message:    "Internal server error",
		Extensions: map[string]any{"code": CodeInternalServerError},
	}}}
}

// prepare finds the objects n merges into and builds their
// representations. It runs on the scheduler goroutine.
func (x *execution) prepare(n *planner.FetchNode) *task {
	t := &task{node: n}
	if !n.IsEntityFetch() {
		t.targets = []target{{obj: x.data, path: executor.Path{}}}
		return t
	}
	seen := make(map[string]int)
	for _, tg := range locate(x.plan.Schema, x.data, n.ResponsePath, n.TypeCondition) {
		rep, ok := representation(tg.obj, n.TypeCondition, n.Key.Selection, n.Requires)
		if !ok {
			continue
		}
		idx := len(t.reps)
		if raw, err := json.Marshal(rep); err == nil {
			if i, ok := seen[string(raw)]; ok {
				idx = i
			} else {
				seen[string(raw)] = idx
			}
		}
		if idx == len(t.reps) {
			t.reps = append(t.reps, rep)
		}
		t.targets = append(t.targets, tg)
		t.repOf = append(t.repOf, idx)
	}
	return t
}

// run performs the fetch of t. It runs on its own goroutine and touches
// nothing but t.
func (x *execution) run(ctx context.Context, t *task) {
	e := x.engine
	e.opts.Logger.Debug("fetch",
		zap.Int("node", t.node.ID),
		zap.String("service", t.node.ServiceName),
		zap.Int("representations", len(t.reps)))
	if !t.node.IsEntityFetch() {
		t.data, t.upstream, t.err = e.fetchRoot(ctx, x.limit, t.node, x.plan.Variables)
		return
	}
	res, err := e.resolveEntities(ctx, x.limit, t.node, t.reps, x.plan.Variables)
	if err != nil {
		t.err = err
		return
	}
	t.entities, t.upstream = res.Entities, res.Errors
}

// apply merges the result of t into the response tree. It runs on the
// scheduler goroutine; the only error it returns is a merge conflict.
func (x *execution) apply(t *task) error {
	n := t.node
	if t.err != nil {
		x.fail(t)
		return nil
	}
	reported := x.forward(t, t.upstream)
	if !n.IsEntityFetch() {
		return merge(x.data, t.data, executor.Path{})
	}

	fields := n.Fields()
	for i, tg := range t.targets {
		rep := t.repOf[i]
		entity, ok := t.entities[rep].(map[string]any)
		if ok {
			if err := merge(tg.obj, entity, tg.path); err != nil {
				return err
			}
			continue
		}
		mark(tg.obj, fields)
		if !reported[rep] && len(fields) > 0 {
			x.errors[n.ID] = append(x.errors[n.ID], executor.GraphQLError{
				Message:    fmt.Sprintf("Entity of type %q could not be resolved by service %q", n.TypeCondition, n.ServiceName),
				Path:       appendPath(tg.path, fields[0]),
				Extensions: map[string]any{"code": CodeEntityNotResolved, "serviceName": n.ServiceName},
			})
		}
	}
	return nil
}

// fail nulls every field t was meant to fill. The failure is reported
// once, at the first of those fields, unless the service reported its own
// errors.
func (x *execution) fail(t *task) {
	n := t.node
	fields := n.Fields()
	for _, tg := range t.targets {
		mark(tg.obj, fields)
	}
	var first executor.Path
	if len(t.targets) > 0 && len(fields) > 0 {
		first = appendPath(t.targets[0].path, fields[0])
	}

	var fe *FetchError
	if errors.As(t.err, &fe) && len(fe.Errors) > 0 {
		x.forward(t, fe.Errors)
		for i := range x.errors[n.ID] {
			if x.errors[n.ID][i].Path == nil {
				x.errors[n.ID][i].Path = first
			}
		}
		return
	}
	code := CodeDownstreamServiceError
	if fe != nil {
		code = fe.Code()
	}
	x.engine.opts.Logger.Warn("fetch failed",
		zap.Int("node", n.ID),
		zap.String("service", n.ServiceName),
		zap.Error(t.err))
	x.errors[n.ID] = append(x.errors[n.ID], executor.GraphQLError{
		Message:    t.err.Error(),
		Path:       first,
		Extensions: map[string]any{"code": code, "serviceName": n.ServiceName},
	})
}

// forward records the errors a service reported, moving entity error
// paths onto the objects the entities were merged into. It returns the
// representations the errors were reported for.
func (x *execution) forward(t *task, upstream []subgraph.Error) map[int]bool {
	n := t.node
	reported := make(map[int]bool)
	for _, ue := range upstream {
		path := responsePath(ue.Path)
		if n.IsEntityFetch() {
			path = x.entityPath(t, path, reported)
		}
		ext := make(map[string]any, len(ue.Extensions)+2)
		for k, v := range ue.Extensions {
			ext[k] = v
		}
		if _, ok := ext["code"]; !ok {
			ext["code"] = CodeDownstreamServiceError
		}
		ext["serviceName"] = n.ServiceName
		x.errors[n.ID] = append(x.errors[n.ID], executor.GraphQLError{Message: ue.Message, Path: path, Extensions: ext})
	}
	return reported
}

func (x *execution) entityPath(t *task, path executor.Path, reported map[int]bool) executor.Path {
	if len(path) < 2 || path[0] != "_entities" {
		return nil
	}
	rep, ok := path[1].(int)
	if !ok {
		return nil
	}
	for i, tg := range t.targets {
		if t.repOf[i] == rep {
			reported[rep] = true
			out := append(executor.Path{}, tg.path...)
			return append(out, path[2:]...)
		}
	}
	return nil
}

// mark flags the absent fields of obj as failed.
func mark(obj map[string]any, fields []string) {
	for _, f := range fields {
		if _, ok := obj[f]; !ok {
			obj[f] = failed
		}
	}
}

// complete projects the response tree onto the client operation.
func (x *execution) complete(ctx context.Context) *executor.ExecutionResult {
	var errs []executor.GraphQLError
	for _, nodeErrs := range x.errors {
		errs = append(errs, nodeErrs...)
	}
	var rt executor.Runtime = projection{}
	sch := x.plan.Schema
	if x.engine.opts.Introspection {
		w := x.engine.introspection.Wrap(rt, sch)
		rt, sch = w.Runtime, w.Schema
	}
	return executor.NewExecutor(rt, sch).ExecuteOperation(ctx, x.plan.Document, x.plan.Operation, x.plan.Variables, x.data, errs)
}
