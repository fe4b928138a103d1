package subgraph

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	eventbus "github.com/hanpama/fedgateway/internal/eventbus"
	events "github.com/hanpama/fedgateway/internal/events"
	reqid "github.com/hanpama/fedgateway/internal/reqid"
)

func TestFetch(t *testing.T) {
	var got struct {
		body    Request
		header  http.Header
		reqPath string
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.header = r.Header.Clone()
		got.reqPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got.body))
		io.WriteString(w, `{"data":{"me":{"id":"1","age":42}},"errors":[{"message":"partial","path":["me","name"]}]}`)
	}))
	defer srv.Close()

	tr := New(WithProvider(NewStaticEndpoints(map[string][]string{"accounts": {srv.URL + "/graphql"}})))
	defer tr.Close()

	ctx, id := reqid.NewContext(context.Background())
	ctx = ContextWithHeaders(ctx, http.Header{"Authorization": {"Bearer x"}})
	resp, err := tr.Fetch(ctx, "accounts", &Request{
		Query:     "query($id:ID){me{id age}}",
		Variables: map[string]any{"id": "1"},
	})
	require.NoError(t, err)

	require.Equal(t, "/graphql", got.reqPath)
	require.Equal(t, "query($id:ID){me{id age}}", got.body.Query)
	require.Equal(t, map[string]any{"id": "1"}, got.body.Variables)
	require.Equal(t, id, got.header.Get(reqid.Header))
	require.Equal(t, "Bearer x", got.header.Get("Authorization"))
	require.Equal(t, "application/json", got.header.Get("Content-Type"))

	require.Equal(t, map[string]any{"me": map[string]any{"id": "1", "age": json.Number("42")}}, resp.Data)
	require.Equal(t, []Error{{Message: "partial", Path: []any{"me", "name"}}}, resp.Errors)
}

func TestFetchFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/500":
			http.Error(w, "boom", http.StatusInternalServerError)
		case "/garbage":
			io.WriteString(w, "<html>")
		case "/slow":
			select {
			case <-r.Context().Done():
			case <-time.After(time.Second):
			}
		}
	}))
	defer srv.Close()

	provider := NewStaticEndpoints(map[string][]string{
		"status":  {srv.URL + "/500"},
		"garbage": {srv.URL + "/garbage"},
		"slow":    {srv.URL + "/slow"},
	})
	tr := New(WithProvider(provider), WithRequestTimeout(50*time.Millisecond))
	defer tr.Close()

	t.Run("Non-2xx status", func(t *testing.T) {
		_, err := tr.Fetch(context.Background(), "status", &Request{Query: "{a}"})
		var statusErr *StatusError
		require.ErrorAs(t, err, &statusErr)
		require.Equal(t, http.StatusInternalServerError, statusErr.Code)
	})

	t.Run("Malformed body", func(t *testing.T) {
		_, err := tr.Fetch(context.Background(), "garbage", &Request{Query: "{a}"})
		require.ErrorContains(t, err, "malformed response")
	})

	t.Run("Default timeout", func(t *testing.T) {
		_, err := tr.Fetch(context.Background(), "slow", &Request{Query: "{a}"})
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("Unknown service", func(t *testing.T) {
		_, err := tr.Fetch(context.Background(), "missing", &Request{Query: "{a}"})
		require.ErrorIs(t, err, ErrNoEndpoints)
	})

	t.Run("Closed", func(t *testing.T) {
		closed := New(WithProvider(provider))
		require.NoError(t, closed.Close())
		_, err := closed.Fetch(context.Background(), "status", &Request{Query: "{a}"})
		require.ErrorIs(t, err, ErrClosed)
	})
}

func TestFetchRotatesEndpointsAndPublishesEvents(t *testing.T) {
	var mu sync.Mutex
	hits := map[string]int{}
	handler := func(name string) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			hits[name]++
			mu.Unlock()
			io.WriteString(w, `{"data":{}}`)
		})
	}
	a := httptest.NewServer(handler("a"))
	defer a.Close()
	b := httptest.NewServer(handler("b"))
	defer b.Close()

	eventbus.Use(eventbus.New())
	t.Cleanup(func() { eventbus.Use(nil) })
	var finished []events.SubgraphFetchFinish
	eventbus.Subscribe(func(_ context.Context, e events.SubgraphFetchFinish) {
		mu.Lock()
		finished = append(finished, e)
		mu.Unlock()
	})

	tr := New(WithProvider(NewStaticEndpoints(map[string][]string{"svc": {a.URL, b.URL}})))
	defer tr.Close()
	for i := 0; i < 4; i++ {
		_, err := tr.Fetch(context.Background(), "svc", &Request{Query: "{a}"})
		require.NoError(t, err)
	}

	require.Equal(t, map[string]int{"a": 2, "b": 2}, hits)
	require.Len(t, finished, 4)
	for i, e := range finished {
		require.Equal(t, uint64(i+1), e.Call)
		require.Equal(t, "svc", e.Service)
		require.Equal(t, http.StatusOK, e.Status)
		require.NoError(t, e.Err)
	}
}

func TestFetchSDL(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    string
		wantErr error
	}{
		{name: "ok", body: `{"data":{"_service":{"sdl":"type Query { a: String }"}}}`, want: "type Query { a: String }"},
		{name: "graphql error", body: `{"errors":[{"message":"no _service"}]}`, wantErr: ErrNoSDL},
		{name: "missing sdl", body: `{"data":{"_service":null}}`, wantErr: ErrNoSDL},
		{name: "invalid json", body: `{"data":`, wantErr: ErrNoSDL},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				var req Request
				require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
				require.Equal(t, ServiceDefinitionQuery, req.Query)
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			sdl, err := New().FetchSDL(context.Background(), srv.URL)
			if tt.wantErr != nil {
				require.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, sdl)
		})
	}
}
