package engine

import (
	"time"

	"go.uber.org/zap"
)

// Options configures plan execution.
//
// Defaults:
// - MaxConcurrencyPerService: 8 requests in flight per service and query
// - FetchTimeout:             5s per downstream request, 0 disables
// - BatchEntities:            true, one `_entities` request per fetch node
// - Introspection:            true
type Options struct {
	MaxConcurrencyPerService int
	FetchTimeout             time.Duration
	BatchEntities            bool
	Introspection            bool
	Logger                   *zap.Logger
}

// Option mutates Options
type Option func(*Options)

func defaultOptions() *Options {
	return &Options{
		MaxConcurrencyPerService: 8,
		FetchTimeout:             5 * time.Second,
		BatchEntities:            true,
		Introspection:            true,
		Logger:                   zap.NewNop(),
	}
}

func WithMaxConcurrency(n int) Option         { return func(o *Options) { o.MaxConcurrencyPerService = n } }
func WithFetchTimeout(d time.Duration) Option { return func(o *Options) { o.FetchTimeout = d } }
func WithBatchEntities(v bool) Option         { return func(o *Options) { o.BatchEntities = v } }
func WithIntrospection(v bool) Option         { return func(o *Options) { o.Introspection = v } }
func WithLogger(l *zap.Logger) Option         { return func(o *Options) { o.Logger = l } }
