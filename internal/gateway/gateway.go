// Package gateway answers client requests against the composed schema.
//
// Every request captures the schema snapshot current when it arrives and
// is planned and executed against that snapshot only, so a schema swap
// never affects requests already in flight.
package gateway

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	engine "github.com/hanpama/fedgateway/internal/engine"
	eventbus "github.com/hanpama/fedgateway/internal/eventbus"
	events "github.com/hanpama/fedgateway/internal/events"
	executor "github.com/hanpama/fedgateway/internal/executor"
	language "github.com/hanpama/fedgateway/internal/language"
	planner "github.com/hanpama/fedgateway/internal/planner"
	schema "github.com/hanpama/fedgateway/internal/schema"
)

// Extension codes of request errors.
const (
	CodeParseFailed      = "GRAPHQL_PARSE_FAILED"
	CodeValidationFailed = "GRAPHQL_VALIDATION_FAILED"
)

// SchemaSource supplies the schema snapshot requests run against.
// *registry.Registry implements it.
type SchemaSource interface {
	CurrentSchema() *schema.Schema
}

// Request is one GraphQL-over-HTTP request.
type Request struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
	Extensions    map[string]any `json:"extensions,omitempty"`
}

type Gateway struct {
	schemas SchemaSource
	engine  *engine.Engine
	logger  *zap.Logger
}

type Option func(*Gateway)

func WithLogger(l *zap.Logger) Option { return func(g *Gateway) { g.logger = l } }

func New(schemas SchemaSource, eng *engine.Engine, opts ...Option) *Gateway {
	g := &Gateway{schemas: schemas, engine: eng, logger: zap.NewNop()}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Execute parses, plans and executes req. The result always has the
// GraphQL response shape; requests that cannot be planned carry no data.
func (g *Gateway) Execute(ctx context.Context, req Request) *executor.ExecutionResult {
	sch := g.schemas.CurrentSchema()
	if sch == nil {
		return executor.RequestError(executor.GraphQLError{
			Message:    "No schema is available yet",
			Extensions: map[string]any{"code": engine.CodeInternalServerError},
		})
	}

	doc, err := language.ParseQuery(req.Query)
	if err != nil {
		return parseFailed(err)
	}
	opType := ""
	if op := executor.GetOperation(doc, req.OperationName); op != nil {
		opType = string(op.Operation)
	}

	start := time.Now()
	eventbus.Publish(ctx, events.GraphQLStart{Query: req.Query, OperationName: req.OperationName, OperationType: opType})

	fetches := 0
	var result *executor.ExecutionResult
	plan, err := planner.Plan(doc, req.OperationName, req.Variables, sch)
	if err != nil {
		result = validationFailed(err)
	} else {
		fetches = len(plan.Nodes)
		result = g.engine.Execute(ctx, plan)
	}

	errs := make([]error, len(result.Errors))
	for i := range result.Errors {
		errs[i] = result.Errors[i]
	}
	eventbus.Publish(ctx, events.GraphQLFinish{
		Query:         req.Query,
		OperationName: req.OperationName,
		OperationType: opType,
		Fetches:       fetches,
		Errors:        errs,
		Duration:      time.Since(start),
	})
	if len(result.Errors) > 0 {
		g.logger.Debug("operation finished with errors",
			zap.String("operation", req.OperationName),
			zap.Int("errors", len(result.Errors)),
			zap.String("first", result.Errors[0].Message))
	}
	return result
}

// ExecuteBatch executes reqs concurrently. Results are in request order.
func (g *Gateway) ExecuteBatch(ctx context.Context, reqs []Request) []*executor.ExecutionResult {
	out := make([]*executor.ExecutionResult, len(reqs))
	var eg errgroup.Group
	for i, req := range reqs {
		eg.Go(func() error {
			out[i] = g.Execute(ctx, req)
			return nil
		})
	}
	_ = eg.Wait()
	return out
}

func parseFailed(err error) *executor.ExecutionResult {
	ge := executor.GraphQLError{Message: err.Error(), Extensions: map[string]any{"code": CodeParseFailed}}
	var lerr *language.Error
	if errors.As(err, &lerr) {
		ge.Message = lerr.Message
		for _, loc := range lerr.Locations {
			ge.Locations = append(ge.Locations, executor.Location{Line: loc.Line, Column: loc.Column})
		}
	}
	return executor.RequestError(ge)
}

func validationFailed(err error) *executor.ExecutionResult {
	var perr planner.PlanningError
	if !errors.As(err, &perr) {
		perr = planner.PlanningError{{Message: err.Error()}}
	}
	errs := make([]executor.GraphQLError, len(perr))
	for i, p := range perr {
		ge := executor.GraphQLError{Message: p.Message, Extensions: map[string]any{"code": CodeValidationFailed}}
		if p.Line > 0 {
			ge.Locations = []executor.Location{{Line: p.Line, Column: p.Column}}
		}
		errs[i] = ge
	}
	return executor.RequestError(errs...)
}
