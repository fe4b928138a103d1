package subgraph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/tidwall/gjson"
)

// ServiceDefinitionQuery asks a federated service for its own SDL.
const ServiceDefinitionQuery = "query __ApolloGetServiceDefinition__ { _service { sdl } }"

// ErrNoSDL is returned when a service answers without a usable SDL.
var ErrNoSDL = errors.New("subgraph: response carries no _service.sdl")

// FetchSDL queries url for the service's SDL through the `_service` field.
func (t *Transport) FetchSDL(ctx context.Context, url string) (string, error) {
	if t.closed.Load() {
		return "", ErrClosed
	}
	if _, ok := ctx.Deadline(); !ok && t.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.opts.RequestTimeout)
		defer cancel()
	}

	payload, err := json.Marshal(Request{Query: ServiceDefinitionQuery, OperationName: "__ApolloGetServiceDefinition__"})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("fetch sdl from %s: %w", url, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch sdl from %s: %w", url, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, t.opts.MaxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("fetch sdl from %s: %w", url, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &StatusError{Service: url, Code: resp.StatusCode, Body: truncate(raw, 256)}
	}
	return parseSDLResponse(raw)
}

func parseSDLResponse(raw []byte) (string, error) {
	if !gjson.ValidBytes(raw) {
		return "", fmt.Errorf("%w: invalid JSON", ErrNoSDL)
	}
	res := gjson.ParseBytes(raw)
	if msg := res.Get("errors.0.message"); msg.Exists() {
		return "", fmt.Errorf("%w: %s", ErrNoSDL, msg.String())
	}
	sdl := res.Get("data._service.sdl")
	if sdl.Type != gjson.String || sdl.String() == "" {
		return "", ErrNoSDL
	}
	return sdl.String(), nil
}
