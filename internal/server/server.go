package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	eventbus "github.com/hanpama/fedgateway/internal/eventbus"
	events "github.com/hanpama/fedgateway/internal/events"
	executor "github.com/hanpama/fedgateway/internal/executor"
	gateway "github.com/hanpama/fedgateway/internal/gateway"
	reqid "github.com/hanpama/fedgateway/internal/reqid"
	subgraph "github.com/hanpama/fedgateway/internal/subgraph"
)

// Gateway executes GraphQL requests. *gateway.Gateway implements it.
type Gateway interface {
	Execute(ctx context.Context, req gateway.Request) *executor.ExecutionResult
	ExecuteBatch(ctx context.Context, reqs []gateway.Request) []*executor.ExecutionResult
}

// Handler serves GraphQL over HTTP: GET with query parameters, POST with a
// JSON body or a JSON array of requests for batching.
type Handler struct {
	gw  Gateway
	opt Options
}

type Options struct {
	// Timeout bounds requests whose context carries no deadline. Zero
	// leaves them unbounded.
	Timeout time.Duration
	// Pretty indents JSON responses.
	Pretty bool
	// MaxBodyBytes caps POST bodies; larger ones get 413. Zero is no cap.
	MaxBodyBytes int64
	CORS         CORSOptions

	// ForwardHeaders lists client HTTP headers sent on to downstream
	// services. Header names are case-insensitive. Default is none.
	ForwardHeaders []string
}

type Option func(*Options)

func WithTimeout(d time.Duration) Option { return func(o *Options) { o.Timeout = d } }
func WithPretty() Option                 { return func(o *Options) { o.Pretty = true } }
func WithMaxBodyBytes(n int64) Option    { return func(o *Options) { o.MaxBodyBytes = n } }
func WithCORS(origins ...string) Option {
	return func(o *Options) { o.CORS.AllowedOrigins = origins }
}
func WithForwardHeaders(headers ...string) Option {
	return func(o *Options) { o.ForwardHeaders = headers }
}

// New creates a GraphQL HTTP handler in front of gw.
func New(gw Gateway, opts ...Option) *Handler {
	op := Options{Timeout: 10 * time.Second}
	for _, f := range opts {
		f(&op)
	}
	return &Handler{gw: gw, opt: op}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := ctx.Deadline(); !ok && h.opt.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opt.Timeout)
		defer cancel()
	}

	ctx, rid := reqid.WithID(ctx, r.Header.Get(reqid.Header))
	w.Header().Set(reqid.Header, rid)
	status, operations := http.StatusOK, 0
	start := time.Now()
	eventbus.Publish(ctx, events.HTTPStart{Request: r})
	defer func() {
		eventbus.Publish(ctx, events.HTTPFinish{Request: r, Status: status, Operations: operations, Duration: time.Since(start)})
	}()

	if r.Method == http.MethodOptions {
		h.opt.CORS.apply(w, r)
		status = http.StatusNoContent
		w.WriteHeader(status)
		return
	}

	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		status = http.StatusMethodNotAllowed
		writeJSON(w, status, errorResponse("method not allowed"), h.opt.Pretty)
		return
	}

	ctx = h.forward(ctx, r.Header)

	reqs, batch, err := decodeRequests(w, r, h.opt.MaxBodyBytes)
	if err != nil {
		status = err.status
		writeJSON(w, status, errorResponse(err.message), h.opt.Pretty)
		return
	}
	h.opt.CORS.apply(w, r)

	operations = len(reqs)
	if batch {
		writeJSON(w, status, h.gw.ExecuteBatch(ctx, reqs), h.opt.Pretty)
		return
	}
	writeJSON(w, status, h.gw.Execute(ctx, reqs[0]), h.opt.Pretty)
}

// forward puts the configured client headers on ctx for the subgraph
// transport.
func (h *Handler) forward(ctx context.Context, header http.Header) context.Context {
	if len(h.opt.ForwardHeaders) == 0 {
		return ctx
	}
	forwarded := http.Header{}
	for _, name := range h.opt.ForwardHeaders {
		if values := header.Values(name); len(values) > 0 {
			forwarded[http.CanonicalHeaderKey(name)] = values
		}
	}
	return subgraph.ContextWithHeaders(ctx, forwarded)
}

func errorResponse(message string) *executor.ExecutionResult {
	return executor.RequestError(executor.GraphQLError{Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v any, pretty bool) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	_ = enc.Encode(v)
}
