package subgraph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	eventbus "github.com/hanpama/fedgateway/internal/eventbus"
	events "github.com/hanpama/fedgateway/internal/events"
	reqid "github.com/hanpama/fedgateway/internal/reqid"
)

// Request is a GraphQL-over-HTTP request body.
type Request struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
}

// Response is a GraphQL-over-HTTP response body. Numbers are decoded as
// json.Number so values pass through the gateway unchanged.
type Response struct {
	Data   map[string]any `json:"data"`
	Errors []Error        `json:"errors,omitempty"`
}

// Error is one entry of a downstream "errors" array.
type Error struct {
	Message    string         `json:"message"`
	Path       []any          `json:"path,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

// Transport sends GraphQL requests to downstream services over HTTP with
// deadline propagation. It integrates with an EndpointProvider for service
// discovery and rotates across the endpoints it returns.
type Transport struct {
	opts   *Options
	client *http.Client

	next   atomic.Uint64
	calls  atomic.Uint64
	closed atomic.Bool
}

func New(opts ...Option) *Transport {
	o := defaultOptions()
	for _, f := range opts {
		f(o)
	}
	client := o.Client
	if client == nil {
		tr := http.DefaultTransport.(*http.Transport).Clone()
		tr.MaxConnsPerHost = o.MaxConnsPerEndpoint
		tr.MaxIdleConnsPerHost = o.MaxConnsPerEndpoint
		client = &http.Client{Transport: tr}
	}
	return &Transport{opts: o, client: client}
}

type headersKey struct{}

// ContextWithHeaders attaches client headers that Fetch forwards downstream.
func ContextWithHeaders(ctx context.Context, h http.Header) context.Context {
	return context.WithValue(ctx, headersKey{}, h)
}

func headersFromContext(ctx context.Context) http.Header {
	h, _ := ctx.Value(headersKey{}).(http.Header)
	return h
}

// Fetch issues req against one endpoint of service.
func (t *Transport) Fetch(ctx context.Context, service string, req *Request) (resp *Response, err error) {
	if t.closed.Load() {
		return nil, ErrClosed
	}
	if t.opts.Provider == nil {
		return nil, fmt.Errorf("subgraph: provider not configured")
	}

	// Determine deadline
	if _, ok := ctx.Deadline(); !ok && t.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.opts.RequestTimeout)
		defer cancel()
	}

	endpoints, err := t.opts.Provider.Endpoints(ctx, service)
	if err != nil {
		return nil, fmt.Errorf("subgraph %s: %w", service, err)
	}
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("subgraph %s: %w", service, ErrNoEndpoints)
	}
	endpoint := endpoints[int(t.next.Add(1)-1)%len(endpoints)]

	call := t.calls.Add(1)
	start := time.Now()
	status := 0
	eventbus.Publish(ctx, events.SubgraphFetchStart{Call: call, Service: service, URL: endpoint})
	defer func() {
		eventbus.Publish(ctx, events.SubgraphFetchFinish{
			Call:     call,
			Service:  service,
			URL:      endpoint,
			Status:   status,
			Err:      err,
			Duration: time.Since(start),
		})
	}()

	resp = &Response{}
	status, err = t.post(ctx, service, endpoint, req, resp)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// post sends body as JSON and decodes the answer into out.
func (t *Transport) post(ctx context.Context, service, url string, body any, out any) (int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("subgraph %s: encode request: %w", service, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("subgraph %s: %w", service, err)
	}
	for name, values := range headersFromContext(ctx) {
		for _, v := range values {
			httpReq.Header.Add(name, v)
		}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/graphql-response+json, application/json")
	if id, ok := reqid.FromContext(ctx); ok {
		httpReq.Header.Set(reqid.Header, id)
	}

	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("subgraph %s: %w", service, err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, t.opts.MaxResponseBytes))
	if err != nil {
		return httpResp.StatusCode, fmt.Errorf("subgraph %s: read response: %w", service, err)
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return httpResp.StatusCode, &StatusError{Service: service, Code: httpResp.StatusCode, Body: truncate(raw, 256)}
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return httpResp.StatusCode, fmt.Errorf("subgraph %s: malformed response: %w", service, err)
	}
	return httpResp.StatusCode, nil
}

func (t *Transport) Close() error {
	t.closed.Store(true)
	t.client.CloseIdleConnections()
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
