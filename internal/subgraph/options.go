package subgraph

import (
	"net/http"
	"time"
)

// Options configures the HTTP transport behavior.
//
// Defaults:
// - MaxConnsPerEndpoint: 16
// - RequestTimeout:      5s (used only if incoming context has no deadline)
// - Client:              a dedicated http.Client sized by MaxConnsPerEndpoint
//
// Provider must be set (use StaticEndpoints, the service registry or a custom
// implementation). If Provider is nil, Fetch errors.
type Options struct {
	Provider EndpointProvider
	Client   *http.Client

	MaxConnsPerEndpoint int
	RequestTimeout      time.Duration
	// MaxResponseBytes bounds the body read from a downstream service.
	MaxResponseBytes int64
}

// Option mutates Options
type Option func(*Options)

func defaultOptions() *Options {
	return &Options{
		MaxConnsPerEndpoint: 16,
		RequestTimeout:      5 * time.Second,
		MaxResponseBytes:    32 << 20,
	}
}

func WithProvider(p EndpointProvider) Option    { return func(o *Options) { o.Provider = p } }
func WithHTTPClient(c *http.Client) Option      { return func(o *Options) { o.Client = c } }
func WithMaxConnsPerEndpoint(n int) Option      { return func(o *Options) { o.MaxConnsPerEndpoint = n } }
func WithRequestTimeout(d time.Duration) Option { return func(o *Options) { o.RequestTimeout = d } }
func WithMaxResponseBytes(n int64) Option       { return func(o *Options) { o.MaxResponseBytes = n } }
