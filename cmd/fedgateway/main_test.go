package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	eventbus "github.com/hanpama/fedgateway/internal/eventbus"
)

const accountsSDL = `
type Query {
  me: User
}
type User @key(fields: "id") {
  id: ID!
  name: String
}
`

const reviewsSDL = `
type Review {
  body: String
}
extend type User @key(fields: "id") {
  id: ID! @external
  reviews: [Review]
}
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), args, &stdout, &stderr)
	return stdout.String(), err
}

func TestCompose(t *testing.T) {
	dir := t.TempDir()
	accounts := writeFile(t, dir, "accounts.graphql", accountsSDL)
	reviews := writeFile(t, dir, "reviews.graphql", reviewsSDL)

	out, err := execute(t, "compose", "accounts="+accounts, "reviews="+reviews)
	require.NoError(t, err)
	require.Contains(t, out, `type User @key(fields: "id") {`)
	require.Contains(t, out, "reviews: [Review]")

	file := filepath.Join(dir, "composed.graphql")
	_, err = execute(t, "compose", "-o", file, "accounts="+accounts, "reviews="+reviews)
	require.NoError(t, err)
	b, err := os.ReadFile(file)
	require.NoError(t, err)
	require.Equal(t, out, string(b))
}

func TestCompose_Errors(t *testing.T) {
	dir := t.TempDir()
	accounts := writeFile(t, dir, "accounts.graphql", accountsSDL)
	conflict := writeFile(t, dir, "conflict.graphql", `type User @key(fields: "id") { id: ID! name: Int }`)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "Violation", args: []string{"accounts=" + accounts, "other=" + conflict}, want: "composition failed"},
		{name: "Bad argument", args: []string{accounts}, want: "want name=file"},
		{name: "Duplicate", args: []string{"a=" + accounts, "a=" + accounts}, want: `duplicate service "a"`},
		{name: "Missing file", args: []string{"a=" + filepath.Join(dir, "nope.graphql")}, want: "no such file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, append([]string{"compose"}, tt.args...)...)
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestCompose_FromConfig(t *testing.T) {
	accounts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"_service": map[string]any{"sdl": accountsSDL}}})
	}))
	defer accounts.Close()

	dir := t.TempDir()
	cfg := writeFile(t, dir, "gateway.yaml", fmt.Sprintf(`
services:
  - name: accounts
    url: %s
  - name: reviews
    url: http://reviews.invalid
    schema_file: %s
`, accounts.URL, writeFile(t, dir, "reviews.graphql", reviewsSDL)))

	out, err := execute(t, "compose", "--config", cfg)
	require.NoError(t, err)
	require.Contains(t, out, "reviews: [Review]")
}

func TestPlan(t *testing.T) {
	dir := t.TempDir()
	accounts := writeFile(t, dir, "accounts.graphql", accountsSDL)
	reviews := writeFile(t, dir, "reviews.graphql", reviewsSDL)

	out, err := execute(t, "plan", "-q", `{ me { name reviews { body } } }`, "accounts="+accounts, "reviews="+reviews)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, "[0] accounts\n"))
	require.Contains(t, out, "[1] reviews User at me key(id) after [0]")
	require.Contains(t, out, "_entities(representations: $representations)")

	_, err = execute(t, "plan", "-q", `{ me { age } }`, "accounts="+accounts)
	require.ErrorContains(t, err, `Cannot query field "age" on type "User".`)

	_, err = execute(t, "plan", "accounts="+accounts)
	require.Error(t, err)
}

func TestServe(t *testing.T) {
	accounts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Query string `json:"query"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		if strings.Contains(req.Query, "_service") {
			_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"_service": map[string]any{"sdl": accountsSDL}}})
			return
		}
		_, _ = io.WriteString(w, `{"data":{"me":{"id":"1","name":"Ada"}}}`)
	}))
	defer accounts.Close()

	dir := t.TempDir()
	cfg := writeFile(t, dir, "gateway.yaml", fmt.Sprintf(`
server:
  addr: "127.0.0.1:0"
services:
  - name: accounts
    url: %s
logging:
  output: %s
`, accounts.URL, filepath.Join(dir, "gateway.log")))

	addrs := make(chan string, 1)
	listening = func(addr string) { addrs <- addr }
	t.Cleanup(func() {
		listening = func(string) {}
		eventbus.Use(nil)
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, []string{"serve", "--config", cfg}, io.Discard, io.Discard) }()

	var base string
	select {
	case addr := <-addrs:
		base = "http://" + addr
	case err := <-done:
		t.Fatalf("serve exited: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not start")
	}

	resp, err := http.Post(base+"/graphql", "application/json", strings.NewReader(`{"query":"{ me { name } }"}`))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.JSONEq(t, `{"data":{"me":{"name":"Ada"}}}`, string(body))

	for path, want := range map[string]string{
		"/schema":  `type User @key(fields: "id")`,
		"/healthz": `"status":"ok"`,
		"/metrics": `fedgateway_registry_compositions_total{outcome="success"} 1`,
	} {
		resp, err := http.Get(base + path)
		require.NoError(t, err)
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode, path)
		require.Contains(t, string(body), want, path)
	}

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
}

func TestServe_ListenFailureReleasesBoundAddresses(t *testing.T) {
	free, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := free.Addr().String()
	require.NoError(t, free.Close())

	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()

	dir := t.TempDir()
	cfg := writeFile(t, dir, "gateway.yaml", fmt.Sprintf(`
server:
  addr: %q
metrics:
  addr: %q
logging:
  output: %s
`, addr, taken.Addr().String(), filepath.Join(dir, "gateway.log")))
	t.Cleanup(func() { eventbus.Use(nil) })

	_, err = execute(t, "serve", "--config", cfg)
	require.ErrorContains(t, err, "address already in use")

	again, err := net.Listen("tcp", addr)
	require.NoError(t, err)
	require.NoError(t, again.Close())
}

func TestServe_InvalidConfig(t *testing.T) {
	cfg := writeFile(t, t.TempDir(), "gateway.yaml", "logging:\n  level: loud\n")
	_, err := execute(t, "serve", "--config", cfg)
	require.ErrorContains(t, err, `logging.level: unknown level "loud"`)
}
