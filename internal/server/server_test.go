package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	compose "github.com/hanpama/fedgateway/internal/compose"
	eventbus "github.com/hanpama/fedgateway/internal/eventbus"
	events "github.com/hanpama/fedgateway/internal/events"
	executor "github.com/hanpama/fedgateway/internal/executor"
	gateway "github.com/hanpama/fedgateway/internal/gateway"
	registry "github.com/hanpama/fedgateway/internal/registry"
	reqid "github.com/hanpama/fedgateway/internal/reqid"
	schema "github.com/hanpama/fedgateway/internal/schema"
	subgraph "github.com/hanpama/fedgateway/internal/subgraph"
)

// fakeGateway answers every request with {"hello":"world"} and records
// what it received.
type fakeGateway struct {
	mu       sync.Mutex
	requests []gateway.Request
	batches  int
	onExec   func(ctx context.Context)
}

func (g *fakeGateway) Execute(ctx context.Context, req gateway.Request) *executor.ExecutionResult {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	g.mu.Unlock()
	if g.onExec != nil {
		g.onExec(ctx)
	}
	return &executor.ExecutionResult{Data: map[string]any{"hello": "world"}}
}

func (g *fakeGateway) ExecuteBatch(ctx context.Context, reqs []gateway.Request) []*executor.ExecutionResult {
	g.mu.Lock()
	g.batches++
	g.mu.Unlock()
	out := make([]*executor.ExecutionResult, len(reqs))
	for i, r := range reqs {
		out[i] = g.Execute(ctx, r)
	}
	return out
}

func post(h http.Handler, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", "/", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestForwardedHeaders(t *testing.T) {
	var got http.Header
	downstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		_, _ = w.Write([]byte(`{"data":{"hello":"world"}}`))
	}))
	defer downstream.Close()
	tr := subgraph.New(subgraph.WithProvider(subgraph.NewStaticEndpoints(map[string][]string{"hello": {downstream.URL}})))

	tests := []struct {
		name string
		opts []Option
		want string
	}{
		{name: "Configured", opts: []Option{WithForwardHeaders("x-test")}, want: "abc"},
		{name: "Default", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := &fakeGateway{onExec: func(ctx context.Context) {
				_, err := tr.Fetch(ctx, "hello", &subgraph.Request{Query: "{ hello }"})
				require.NoError(t, err)
			}}
			w := post(New(gw, tt.opts...), `{"query":"{ hello }"}`, map[string]string{"X-Test": "abc", "X-Other": "nope"})
			require.Equal(t, http.StatusOK, w.Code)
			require.Equal(t, tt.want, got.Get("X-Test"))
			require.Empty(t, got.Get("X-Other"))
		})
	}
}

func TestCORSAndPreflight(t *testing.T) {
	h := New(&fakeGateway{}, WithCORS("*"))

	req := httptest.NewRequest("OPTIONS", "/", nil)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	req.Header.Set("Access-Control-Request-Headers", "content-type")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusNoContent, w.Code)
	require.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, "content-type", w.Header().Get("Access-Control-Allow-Headers"))

	w = post(h, `{"query":"{ hello }"}`, map[string]string{"Origin": "http://example.com"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSSpecificOrigin(t *testing.T) {
	h := New(&fakeGateway{}, WithCORS("http://allowed.test"))

	w := post(h, `{"query":"{ hello }"}`, map[string]string{"Origin": "http://allowed.test"})
	require.Equal(t, "http://allowed.test", w.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, "Origin", w.Header().Get("Vary"))

	w = post(h, `{"query":"{ hello }"}`, map[string]string{"Origin": "http://other.test"})
	require.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestMaxBodyBytes(t *testing.T) {
	h := New(&fakeGateway{}, WithMaxBodyBytes(10))
	w := post(h, `{"query":"{ hello }"}`, nil)
	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	require.JSONEq(t, `{"errors":[{"message":"body too large"}]}`, w.Body.String())
}

func TestRequestID(t *testing.T) {
	var seen string
	gw := &fakeGateway{onExec: func(ctx context.Context) { seen, _ = reqid.FromContext(ctx) }}
	h := New(gw)

	w := post(h, `{"query":"{ hello }"}`, nil)
	id := w.Header().Get(reqid.Header)
	require.NotEmpty(t, id)
	require.Equal(t, id, seen)

	w = post(h, `{"query":"{ hello }"}`, map[string]string{reqid.Header: "client-42"})
	require.Equal(t, "client-42", w.Header().Get(reqid.Header))
	require.Equal(t, "client-42", seen)
}

func TestRequestParsing(t *testing.T) {
	tests := []struct {
		name   string
		method string
		target string
		body   string
		ctype  string
		status int
		want   string
	}{
		{
			name:   "GET with variables",
			method: "GET",
			target: "/?query=%7B+hello+%7D&operationName=Q&variables=%7B%22a%22%3A1%7D",
			status: http.StatusOK,
			want:   `{"data":{"hello":"world"}}`,
		},
		{
			name:   "GET missing query",
			method: "GET",
			target: "/",
			status: http.StatusBadRequest,
			want:   `{"errors":[{"message":"missing 'query'"}]}`,
		},
		{
			name:   "GET invalid variables",
			method: "GET",
			target: "/?query=%7B+hello+%7D&variables=nope",
			status: http.StatusBadRequest,
			want:   `{"errors":[{"message":"invalid 'variables' JSON"}]}`,
		},
		{
			name:   "POST invalid JSON",
			method: "POST",
			body:   `{`,
			status: http.StatusBadRequest,
			want:   `{"errors":[{"message":"invalid JSON"}]}`,
		},
		{
			name:   "POST unsupported content type",
			method: "POST",
			body:   `query=x`,
			ctype:  "application/x-www-form-urlencoded",
			status: http.StatusBadRequest,
			want:   `{"errors":[{"message":"unsupported Content-Type"}]}`,
		},
		{
			name:   "Empty batch",
			method: "POST",
			body:   `[]`,
			status: http.StatusBadRequest,
			want:   `{"errors":[{"message":"empty batch"}]}`,
		},
		{
			name:   "Method not allowed",
			method: "PUT",
			status: http.StatusMethodNotAllowed,
			want:   `{"errors":[{"message":"method not allowed"}]}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := tt.target
			if target == "" {
				target = "/"
			}
			req := httptest.NewRequest(tt.method, target, strings.NewReader(tt.body))
			ctype := tt.ctype
			if ctype == "" {
				ctype = "application/json"
			}
			req.Header.Set("Content-Type", ctype)
			w := httptest.NewRecorder()
			New(&fakeGateway{}).ServeHTTP(w, req)
			require.Equal(t, tt.status, w.Code)
			require.JSONEq(t, tt.want, w.Body.String())
		})
	}
}

func TestGETPassesOperation(t *testing.T) {
	gw := &fakeGateway{}
	req := httptest.NewRequest("GET", "/?query=%7B+hello+%7D&operationName=Q&variables=%7B%22a%22%3A1%7D", nil)
	New(gw).ServeHTTP(httptest.NewRecorder(), req)
	require.Len(t, gw.requests, 1)
	require.Equal(t, "Q", gw.requests[0].OperationName)
	require.Equal(t, map[string]any{"a": float64(1)}, gw.requests[0].Variables)
}

func TestBatch(t *testing.T) {
	gw := &fakeGateway{}
	w := post(New(gw), `[{"query":"{ a }"},{"query":"{ b }"}]`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `[{"data":{"hello":"world"}},{"data":{"hello":"world"}}]`, w.Body.String())
	require.Equal(t, 1, gw.batches)
	require.Equal(t, "{ a }", gw.requests[0].Query)
	require.Equal(t, "{ b }", gw.requests[1].Query)
}

func TestPublishesHTTPEvents(t *testing.T) {
	eventbus.Use(eventbus.New())
	t.Cleanup(func() { eventbus.Use(nil) })

	var mu sync.Mutex
	var finishes []events.HTTPFinish
	defer eventbus.Subscribe(func(_ context.Context, e events.HTTPFinish) {
		mu.Lock()
		finishes = append(finishes, e)
		mu.Unlock()
	})()

	h := New(&fakeGateway{})
	post(h, `{"query":"{ a }"}`, nil)
	post(h, `[{"query":"{ a }"},{"query":"{ b }"}]`, nil)
	post(h, `{`, nil)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, finishes, 3)
	require.Equal(t, 1, finishes[0].Operations)
	require.Equal(t, 2, finishes[1].Operations)
	require.Equal(t, 0, finishes[2].Operations)
	require.Equal(t, http.StatusBadRequest, finishes[2].Status)
}

// fakeRegistry is a fixed Registry.
type fakeRegistry struct {
	schema *schema.Schema
	status []registry.ServiceStatus
}

func (r *fakeRegistry) CurrentSchema() *schema.Schema    { return r.schema }
func (r *fakeRegistry) Status() []registry.ServiceStatus { return r.status }

func TestAdmin(t *testing.T) {
	sch, err := compose.Compose(map[string]string{"accounts": `
type Query { me: User }
type User @key(fields: "id") { id: ID! name: String }
`})
	require.NoError(t, err)

	get := func(h http.Handler, path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest("GET", path, nil))
		return w
	}

	t.Run("Before composition", func(t *testing.T) {
		h := NewAdmin(&fakeRegistry{}, false)
		require.Equal(t, http.StatusServiceUnavailable, get(h, "/schema").Code)
		w := get(h, "/healthz")
		require.Equal(t, http.StatusServiceUnavailable, w.Code)
		require.JSONEq(t, `{"status":"unavailable","services":null}`, w.Body.String())
	})

	t.Run("Composed", func(t *testing.T) {
		reg := &fakeRegistry{schema: sch, status: []registry.ServiceStatus{
			{Name: "accounts", URL: "http://accounts", Health: registry.HealthHealthy, SchemaVersion: 1},
		}}
		h := NewAdmin(reg, false)
		w := get(h, "/schema")
		require.Equal(t, http.StatusOK, w.Code)
		require.Contains(t, w.Body.String(), `type User @key(fields: "id")`)

		w = get(h, "/healthz")
		require.Equal(t, http.StatusOK, w.Code)
		var body map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		require.Equal(t, "ok", body["status"])
		services := body["services"].([]any)
		require.Len(t, services, 1)
		require.Equal(t, "accounts", services[0].(map[string]any)["name"])
		require.Equal(t, "Healthy", services[0].(map[string]any)["health"])
	})

	t.Run("Degraded", func(t *testing.T) {
		reg := &fakeRegistry{schema: sch, status: []registry.ServiceStatus{
			{Name: "accounts", Health: registry.HealthUnreachable, LastError: "connection refused"},
		}}
		w := get(NewAdmin(reg, false), "/healthz")
		require.Equal(t, http.StatusOK, w.Code)
		require.Contains(t, w.Body.String(), `"status":"degraded"`)
		require.Contains(t, w.Body.String(), `"health":"Unreachable"`)
	})
}
