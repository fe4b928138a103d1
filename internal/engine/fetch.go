package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	planner "github.com/hanpama/fedgateway/internal/planner"
	subgraph "github.com/hanpama/fedgateway/internal/subgraph"
)

// limiter caps the requests in flight per service.
type limiter struct {
	size int64

	mu   sync.Mutex
	sems map[string]*semaphore.Weighted
}

func newLimiter(n int) *limiter {
	return &limiter{size: int64(n), sems: make(map[string]*semaphore.Weighted)}
}

func (l *limiter) acquire(ctx context.Context, service string) (release func(), err error) {
	if l.size <= 0 {
		return func() {}, nil
	}
	l.mu.Lock()
	sem := l.sems[service]
	if sem == nil {
		sem = semaphore.NewWeighted(l.size)
		l.sems[service] = sem
	}
	l.mu.Unlock()
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { sem.Release(1) }, nil
}

// fetch sends one request to service within the per-service cap and the
// fetch timeout.
func (e *Engine) fetch(ctx context.Context, lim *limiter, service string, req *subgraph.Request) (*subgraph.Response, error) {
	release, err := lim.acquire(ctx, service)
	if err != nil {
		return nil, &FetchError{Service: service, Err: err}
	}
	defer release()

	fctx := ctx
	if e.opts.FetchTimeout > 0 {
		var cancel context.CancelFunc
		fctx, cancel = context.WithTimeout(ctx, e.opts.FetchTimeout)
		defer cancel()
	}
	resp, err := e.fetcher.Fetch(fctx, service, req)
	if err != nil {
		timeout := ctx.Err() == nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(fctx.Err(), context.DeadlineExceeded))
		return nil, &FetchError{Service: service, Err: err, Timeout: timeout}
	}
	if resp == nil {
		return nil, &FetchError{Service: service, Err: errors.New("empty response")}
	}
	return resp, nil
}

// fetchRoot runs a root fetch node. Errors the service reported next to
// its data are returned along with it.
func (e *Engine) fetchRoot(ctx context.Context, lim *limiter, node *planner.FetchNode, variables map[string]any) (map[string]any, []subgraph.Error, error) {
	req := &subgraph.Request{Query: node.Operation, Variables: requestVariables(node, variables)}
	resp, err := e.fetch(ctx, lim, node.ServiceName, req)
	if err != nil {
		return nil, nil, err
	}
	if resp.Data == nil {
		if len(resp.Errors) > 0 {
			return nil, nil, &FetchError{Service: node.ServiceName, Errors: resp.Errors}
		}
		return nil, nil, &FetchError{Service: node.ServiceName, Err: errors.New("response has no data")}
	}
	return resp.Data, resp.Errors, nil
}

// EntityResult holds the entities a service returned for a list of
// representations. Entities is aligned with the representations; an entity
// the service could not resolve is nil. Error paths start with
// `_entities` and the representation index.
type EntityResult struct {
	Entities []any
	Errors   []subgraph.Error
}

// ResolveEntities looks representations up through the `_entities` field
// of node's service. With batching every representation goes out in one
// request, and a failed request fails the lookup. Otherwise one request is
// sent per representation; a failed request leaves its entity nil and adds
// an error at its index. No request is sent for an empty list.
func (e *Engine) ResolveEntities(ctx context.Context, node *planner.FetchNode, representations []any, variables map[string]any) (*EntityResult, error) {
	return e.resolveEntities(ctx, newLimiter(e.opts.MaxConcurrencyPerService), node, representations, variables)
}

func (e *Engine) resolveEntities(ctx context.Context, lim *limiter, node *planner.FetchNode, reps []any, variables map[string]any) (*EntityResult, error) {
	if len(reps) == 0 {
		return &EntityResult{}, nil
	}
	if e.opts.BatchEntities || len(reps) == 1 {
		return e.fetchEntities(ctx, lim, node, reps, variables)
	}

	parts := make([]*EntityResult, len(reps))
	errs := make([]error, len(reps))
	var g errgroup.Group
	if e.opts.MaxConcurrencyPerService > 0 {
		g.SetLimit(e.opts.MaxConcurrencyPerService)
	}
	for i, rep := range reps {
		g.Go(func() error {
			parts[i], errs[i] = e.fetchEntities(ctx, lim, node, []any{rep}, variables)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, &FetchError{Service: node.ServiceName, Err: err}
	}

	out := &EntityResult{Entities: make([]any, len(reps))}
	for i, part := range parts {
		if errs[i] != nil {
			out.Errors = append(out.Errors, representationErrors(node, i, errs[i])...)
			continue
		}
		out.Entities[i] = part.Entities[0]
		for _, ue := range part.Errors {
			out.Errors = append(out.Errors, atRepresentation(ue, i))
		}
	}
	return out, nil
}

// atRepresentation moves an error of a single-representation request onto
// representation i.
func atRepresentation(ue subgraph.Error, i int) subgraph.Error {
	if len(ue.Path) >= 2 && ue.Path[0] == "_entities" {
		ue.Path = append([]any{"_entities", i}, ue.Path[2:]...)
	} else {
		ue.Path = []any{"_entities", i}
	}
	return ue
}

// representationErrors turns the failed lookup of representation i into
// errors at the first field node resolves on it.
func representationErrors(node *planner.FetchNode, i int, err error) []subgraph.Error {
	path := []any{"_entities", i}
	if fields := node.Fields(); len(fields) > 0 {
		path = append(path, fields[0])
	}
	var fe *FetchError
	if errors.As(err, &fe) && len(fe.Errors) > 0 {
		out := make([]subgraph.Error, len(fe.Errors))
		for j, ue := range fe.Errors {
			out[j] = atRepresentation(ue, i)
			if len(ue.Path) < 2 {
				out[j].Path = path
			}
		}
		return out
	}
	code := CodeDownstreamServiceError
	if fe != nil {
		code = fe.Code()
	}
	return []subgraph.Error{{Message: err.Error(), Path: path, Extensions: map[string]any{"code": code}}}
}

func (e *Engine) fetchEntities(ctx context.Context, lim *limiter, node *planner.FetchNode, reps []any, variables map[string]any) (*EntityResult, error) {
	vars := requestVariables(node, variables)
	vars[planner.RepresentationsVariable] = reps
	resp, err := e.fetch(ctx, lim, node.ServiceName, &subgraph.Request{Query: node.Operation, Variables: vars})
	if err != nil {
		return nil, err
	}
	raw := resp.Data["_entities"]
	if raw == nil {
		if len(resp.Errors) > 0 {
			return nil, &FetchError{Service: node.ServiceName, Errors: resp.Errors}
		}
		return nil, &FetchError{Service: node.ServiceName, Err: errors.New("response has no _entities")}
	}
	entities, ok := raw.([]any)
	if !ok || len(entities) != len(reps) {
		return nil, &FetchError{Service: node.ServiceName, Err: fmt.Errorf("_entities returned %d entries for %d representations", len(entities), len(reps))}
	}
	return &EntityResult{Entities: entities, Errors: resp.Errors}, nil
}

// requestVariables picks the client variables node's operation declares.
func requestVariables(node *planner.FetchNode, variables map[string]any) map[string]any {
	out := make(map[string]any, len(node.Variables)+1)
	for _, name := range node.Variables {
		if v, ok := variables[name]; ok {
			out[name] = v
		}
	}
	return out
}
