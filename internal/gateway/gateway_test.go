package gateway_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	compose "github.com/hanpama/fedgateway/internal/compose"
	engine "github.com/hanpama/fedgateway/internal/engine"
	eventbus "github.com/hanpama/fedgateway/internal/eventbus"
	events "github.com/hanpama/fedgateway/internal/events"
	executor "github.com/hanpama/fedgateway/internal/executor"
	gateway "github.com/hanpama/fedgateway/internal/gateway"
	registry "github.com/hanpama/fedgateway/internal/registry"
	schema "github.com/hanpama/fedgateway/internal/schema"
	subgraph "github.com/hanpama/fedgateway/internal/subgraph"
)

const schemaV1 = `
extend type Query {
  me: User
}

type User @key(fields: "id") {
  id: ID!
  name: String
  username: String
}
`

const schemaV2 = `
extend type Query {
  me: UserFoo
}

type UserFoo @key(fields: "id") {
  id: ID!
  name: String
  username: String
}
`

const me = `{"data":{"me":{"id":"1","name":"John","username":"@john"}}}`

// service is a downstream GraphQL service whose SDL can be replaced.
type service struct {
	sdl     atomic.Value
	queries atomic.Int32
	// hold, when set, delays data responses until it is closed.
	hold chan struct{}
}

func newService(t *testing.T, sdl string) (*service, *httptest.Server) {
	t.Helper()
	s := &service{}
	s.sdl.Store(sdl)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req subgraph.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if strings.Contains(req.Query, "_service") {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"data": map[string]any{"_service": map[string]any{"sdl": s.sdl.Load()}},
			})
			return
		}
		s.queries.Add(1)
		if s.hold != nil {
			<-s.hold
		}
		_, _ = w.Write([]byte(me))
	}))
	t.Cleanup(srv.Close)
	return s, srv
}

func marshal(t *testing.T, v any) string {
	t.Helper()
	out, err := json.Marshal(v)
	require.NoError(t, err)
	return string(out)
}

func TestGateway_SchemaReplacedWithoutRestart(t *testing.T) {
	svc, srv := newService(t, schemaV1)

	reg := registry.New(subgraph.New(), registry.WithPollInterval(20*time.Millisecond))
	tr := subgraph.New(subgraph.WithProvider(reg))
	gw := gateway.New(reg, engine.New(tr))

	ctx := context.Background()
	require.NoError(t, reg.Register(ctx, registry.ServiceDescriptor{Name: "ext1", URL: srv.URL}))
	require.NoError(t, reg.Refresh(ctx))

	query := `{
  me { ...UserFields }
}

fragment UserFields on %s {
  id name username
}`
	res := gw.Execute(ctx, gateway.Request{Query: strings.Replace(query, "%s", "User", 1)})
	require.JSONEq(t, me, marshal(t, res))

	swapped := make(chan *schema.Schema, 4)
	unsubscribe := reg.OnSchemaChanged(func(s *schema.Schema) { swapped <- s })
	defer unsubscribe()

	svc.sdl.Store(schemaV2)
	reg.Start(ctx)
	defer reg.Stop()

	select {
	case s := <-swapped:
		require.NotNil(t, s.Types["UserFoo"])
		require.Nil(t, s.Types["User"])
	case <-time.After(5 * time.Second):
		t.Fatal("schema was not recomposed")
	}

	res = gw.Execute(ctx, gateway.Request{Query: strings.Replace(query, "%s", "UserFoo", 1)})
	require.JSONEq(t, me, marshal(t, res))

	res = gw.Execute(ctx, gateway.Request{Query: strings.Replace(query, "%s", "User", 1)})
	require.Nil(t, res.Data)
	require.Equal(t, `Unknown type "User".`, res.Errors[0].Message)
	require.Equal(t, gateway.CodeValidationFailed, res.Errors[0].Extensions["code"])
}

// snapshots is a SchemaSource whose schema tests replace directly.
type snapshots struct{ current atomic.Pointer[schema.Schema] }

func (s *snapshots) CurrentSchema() *schema.Schema { return s.current.Load() }

func TestGateway_InFlightRequestKeepsItsSnapshot(t *testing.T) {
	svc, srv := newService(t, schemaV1)
	svc.hold = make(chan struct{})

	v1, err := compose.Compose(map[string]string{"ext1": schemaV1})
	require.NoError(t, err)
	v2, err := compose.Compose(map[string]string{"ext1": schemaV2})
	require.NoError(t, err)

	src := &snapshots{}
	src.current.Store(v1)
	tr := subgraph.New(subgraph.WithProvider(subgraph.NewStaticEndpoints(map[string][]string{"ext1": {srv.URL}})))
	gw := gateway.New(src, engine.New(tr))

	done := make(chan *executor.ExecutionResult)
	go func() {
		done <- gw.Execute(context.Background(), gateway.Request{Query: `{ me { ... on User { id name username } } }`})
	}()

	require.Eventually(t, func() bool { return svc.queries.Load() == 1 }, 5*time.Second, 5*time.Millisecond)
	src.current.Store(v2)
	close(svc.hold)

	res := <-done
	require.JSONEq(t, me, marshal(t, res))
}

func TestGateway_RequestErrors(t *testing.T) {
	v1, err := compose.Compose(map[string]string{"ext1": schemaV1})
	require.NoError(t, err)
	src := &snapshots{}
	gw := gateway.New(src, engine.New(subgraph.New()))

	res := gw.Execute(context.Background(), gateway.Request{Query: `{ me { id } }`})
	require.Nil(t, res.Data)
	require.Equal(t, engine.CodeInternalServerError, res.Errors[0].Extensions["code"])

	src.current.Store(v1)

	tests := []struct {
		name  string
		req   gateway.Request
		want  string
		code  string
		lines []executor.Location
	}{
		{
			name: "Syntax",
			req:  gateway.Request{Query: `{ me { id }`},
			want: `Expected Name, found <EOF>`,
			code: gateway.CodeParseFailed,
		},
		{
			name:  "Unknown field",
			req:   gateway.Request{Query: `{ me { age } }`},
			want:  `Cannot query field "age" on type "User".`,
			code:  gateway.CodeValidationFailed,
			lines: []executor.Location{{Line: 1, Column: 8}},
		},
		{
			name: "Missing variable",
			req:  gateway.Request{Query: `query($id: ID!) { me { id } }`},
			want: `variable $id of required type ID! was not provided`,
			code: gateway.CodeValidationFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := gw.Execute(context.Background(), tt.req)
			require.Nil(t, res.Data)
			require.Len(t, res.Errors, 1)
			require.Equal(t, tt.want, res.Errors[0].Message)
			require.Equal(t, tt.code, res.Errors[0].Extensions["code"])
			require.NotContains(t, marshal(t, res), `"data"`)
			if tt.lines != nil {
				require.Equal(t, tt.lines, res.Errors[0].Locations)
			}
		})
	}
}

func TestGateway_ExecuteBatch(t *testing.T) {
	_, srv := newService(t, schemaV1)
	v1, err := compose.Compose(map[string]string{"ext1": schemaV1})
	require.NoError(t, err)
	src := &snapshots{}
	src.current.Store(v1)
	tr := subgraph.New(subgraph.WithProvider(subgraph.NewStaticEndpoints(map[string][]string{"ext1": {srv.URL}})))
	gw := gateway.New(src, engine.New(tr))

	results := gw.ExecuteBatch(context.Background(), []gateway.Request{
		{Query: `{ me { name } }`},
		{Query: `{ nope }`},
		{Query: `{ __typename }`},
	})
	require.Len(t, results, 3)
	require.JSONEq(t, `{"data":{"me":{"name":"John"}}}`, marshal(t, results[0]))
	require.Equal(t, `Cannot query field "nope" on type "Query".`, results[1].Errors[0].Message)
	require.JSONEq(t, `{"data":{"__typename":"Query"}}`, marshal(t, results[2]))
}

func TestGateway_PublishesOperationEvents(t *testing.T) {
	_, srv := newService(t, schemaV1)
	v1, err := compose.Compose(map[string]string{"ext1": schemaV1})
	require.NoError(t, err)
	src := &snapshots{}
	src.current.Store(v1)
	tr := subgraph.New(subgraph.WithProvider(subgraph.NewStaticEndpoints(map[string][]string{"ext1": {srv.URL}})))
	gw := gateway.New(src, engine.New(tr))

	eventbus.Use(eventbus.New())
	t.Cleanup(func() { eventbus.Use(nil) })

	var mu sync.Mutex
	var starts []events.GraphQLStart
	var finishes []events.GraphQLFinish
	defer eventbus.Subscribe(func(_ context.Context, e events.GraphQLStart) {
		mu.Lock()
		starts = append(starts, e)
		mu.Unlock()
	})()
	defer eventbus.Subscribe(func(_ context.Context, e events.GraphQLFinish) {
		mu.Lock()
		finishes = append(finishes, e)
		mu.Unlock()
	})()

	gw.Execute(context.Background(), gateway.Request{Query: `query Me { me { id } }`, OperationName: "Me"})

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, starts, 1)
	require.Equal(t, "query", starts[0].OperationType)
	require.Len(t, finishes, 1)
	require.Equal(t, "Me", finishes[0].OperationName)
	require.Equal(t, 1, finishes[0].Fetches)
	require.Empty(t, finishes[0].Errors)
}
