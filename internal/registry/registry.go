package registry

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	compose "github.com/hanpama/fedgateway/internal/compose"
	eventbus "github.com/hanpama/fedgateway/internal/eventbus"
	events "github.com/hanpama/fedgateway/internal/events"
	language "github.com/hanpama/fedgateway/internal/language"
	schema "github.com/hanpama/fedgateway/internal/schema"
)

// Registry owns the set of known services, polls each one for SDL changes
// and publishes the composed schema. The published schema is an immutable
// snapshot replaced with a single atomic store.
type Registry struct {
	fetcher    SDLFetcher
	composer   *compose.Composer
	logger     *zap.Logger
	interval   time.Duration
	maxBackoff time.Duration

	mu       sync.Mutex
	services map[string]*service
	runCtx   context.Context
	stop     context.CancelFunc
	wg       sync.WaitGroup

	// composeMu serializes recomposition so snapshots are published in order.
	composeMu     sync.Mutex
	composeFailed atomic.Bool
	current       atomic.Pointer[schema.Schema]

	listenersMu  sync.Mutex
	listeners    map[int]func(*schema.Schema)
	nextListener int
}

type Option func(*Registry)

func WithLogger(l *zap.Logger) Option         { return func(r *Registry) { r.logger = l } }
func WithPollInterval(d time.Duration) Option { return func(r *Registry) { r.interval = d } }
func WithMaxBackoff(d time.Duration) Option   { return func(r *Registry) { r.maxBackoff = d } }
func WithComposer(c *compose.Composer) Option { return func(r *Registry) { r.composer = c } }

// New creates a Registry that fetches SDL through fetcher.
func New(fetcher SDLFetcher, opts ...Option) *Registry {
	r := &Registry{
		fetcher:    fetcher,
		composer:   compose.New(),
		logger:     zap.NewNop(),
		interval:   10 * time.Second,
		maxBackoff: 2 * time.Minute,
		services:   make(map[string]*service),
		listeners:  make(map[int]func(*schema.Schema)),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// CurrentSchema returns the published snapshot, or nil before the first
// successful composition.
func (r *Registry) CurrentSchema() *schema.Schema { return r.current.Load() }

// OnSchemaChanged registers listener for every published snapshot. The
// snapshot is nil when the last service was deregistered.
func (r *Registry) OnSchemaChanged(listener func(*schema.Schema)) (unsubscribe func()) {
	r.listenersMu.Lock()
	id := r.nextListener
	r.nextListener++
	r.listeners[id] = listener
	r.listenersMu.Unlock()
	return func() {
		r.listenersMu.Lock()
		delete(r.listeners, id)
		r.listenersMu.Unlock()
	}
}

// Register adds a service. A service with a static SDL is composed
// immediately; others are picked up by their poller.
func (r *Registry) Register(ctx context.Context, desc ServiceDescriptor) error {
	if desc.Name == "" || desc.URL == "" {
		return fmt.Errorf("%w: name and url are required", ErrInvalidDescriptor)
	}
	if desc.PollInterval < 0 {
		return fmt.Errorf("%w: negative poll interval for %s", ErrInvalidDescriptor, desc.Name)
	}

	r.mu.Lock()
	if _, ok := r.services[desc.Name]; ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateService, desc.Name)
	}
	svc := &service{desc: desc}
	if desc.SDL != "" {
		svc.sdl = desc.SDL
		svc.version = 1
		svc.health = HealthHealthy
	}
	r.services[desc.Name] = svc
	if r.runCtx != nil && desc.SDL == "" {
		r.startPollerLocked(svc)
	}
	r.mu.Unlock()

	r.logger.Info("service registered",
		zap.String("service", desc.Name),
		zap.String("url", desc.URL),
		zap.Bool("static", desc.SDL != ""))

	if desc.SDL != "" {
		_ = r.recompose(ctx)
	}
	return nil
}

// Deregister stops polling name and recomposes without it.
func (r *Registry) Deregister(ctx context.Context, name string) error {
	r.mu.Lock()
	svc, ok := r.services[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownService, name)
	}
	delete(r.services, name)
	cancel, done := svc.cancel, svc.done
	r.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	r.logger.Info("service deregistered", zap.String("service", name))
	_ = r.recompose(ctx)
	return nil
}

// Start launches one poller per dynamic service. Pollers run until ctx is
// done or Stop is called.
func (r *Registry) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.runCtx != nil {
		return
	}
	r.runCtx, r.stop = context.WithCancel(ctx)
	for _, name := range r.namesLocked() {
		if svc := r.services[name]; svc.desc.SDL == "" {
			r.startPollerLocked(svc)
		}
	}
}

// Stop cancels every poller and waits for them to exit.
func (r *Registry) Stop() {
	r.mu.Lock()
	stop := r.stop
	r.runCtx, r.stop = nil, nil
	for _, svc := range r.services {
		svc.cancel, svc.done = nil, nil
	}
	r.mu.Unlock()
	if stop != nil {
		stop()
	}
	r.wg.Wait()
}

// Refresh polls every dynamic service once, concurrently, then recomposes.
// It returns the first fetch failure; other services are still refreshed.
func (r *Registry) Refresh(ctx context.Context) error {
	r.mu.Lock()
	var names []string
	for _, name := range r.namesLocked() {
		if r.services[name].desc.SDL == "" {
			names = append(names, name)
		}
	}
	r.mu.Unlock()

	var changed atomic.Bool
	var g errgroup.Group
	for _, name := range names {
		g.Go(func() error {
			c, err := r.poll(ctx, name)
			if c {
				changed.Store(true)
			}
			return err
		})
	}
	fetchErr := g.Wait()
	if changed.Load() || r.composeFailed.Load() || r.current.Load() == nil {
		if err := r.recompose(ctx); err != nil {
			return errors.Join(fetchErr, err)
		}
	}
	return fetchErr
}

// Status returns a copy of every service's state, sorted by name.
func (r *Registry) Status() []ServiceStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ServiceStatus, 0, len(r.services))
	for _, name := range r.namesLocked() {
		out = append(out, r.services[name].status())
	}
	return out
}

// Service returns the state of one service.
func (r *Registry) Service(name string) (ServiceStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	svc, ok := r.services[name]
	if !ok {
		return ServiceStatus{}, false
	}
	return svc.status(), true
}

// Endpoints implements subgraph.EndpointProvider.
func (r *Registry) Endpoints(_ context.Context, name string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	svc, ok := r.services[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownService, name)
	}
	return []string{svc.desc.URL}, nil
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) startPollerLocked(svc *service) {
	ctx, cancel := context.WithCancel(r.runCtx)
	done := make(chan struct{})
	svc.cancel, svc.done = cancel, done
	interval := svc.desc.PollInterval
	if interval <= 0 {
		interval = r.interval
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(done)
		r.run(ctx, svc.desc.Name, interval)
	}()
}

// run polls one service until ctx is done. The first poll happens
// immediately; failures back off exponentially up to maxBackoff.
func (r *Registry) run(ctx context.Context, name string, interval time.Duration) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = interval
	b.MaxInterval = max(r.maxBackoff, interval)

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		changed, err := r.poll(ctx, name)
		if ctx.Err() != nil {
			return
		}
		next := interval
		if err != nil {
			next = b.NextBackOff()
			r.logger.Warn("service poll failed",
				zap.String("service", name),
				zap.Duration("retry_in", next),
				zap.Error(err))
		} else {
			b.Reset()
			if changed || r.composeFailed.Load() {
				_ = r.recompose(ctx)
			}
		}
		timer.Reset(next)
	}
}

// poll fetches the SDL of name once and records the outcome. It reports
// whether the stored SDL changed.
func (r *Registry) poll(ctx context.Context, name string) (changed bool, err error) {
	r.mu.Lock()
	svc, ok := r.services[name]
	if !ok {
		r.mu.Unlock()
		return false, fmt.Errorf("%w: %s", ErrUnknownService, name)
	}
	url := svc.desc.URL
	r.mu.Unlock()

	start := time.Now()
	sdl, err := r.fetcher.FetchSDL(ctx, url)
	if err == nil {
		if _, perr := language.ParseSchema(name, sdl); perr != nil {
			err = fmt.Errorf("invalid SDL from %s: %w", name, perr)
		}
	}

	r.mu.Lock()
	if r.services[name] != svc {
		// deregistered while fetching
		r.mu.Unlock()
		return false, nil
	}
	svc.polled = time.Now()
	svc.lastErr = err
	if err != nil {
		if svc.health == HealthHealthy {
			svc.health = HealthUnreachable
		}
	} else {
		svc.health = HealthHealthy
		if sdl != svc.sdl {
			svc.sdl = sdl
			svc.version++
			changed = true
		}
	}
	health, version := svc.health, svc.version
	r.mu.Unlock()

	eventbus.Publish(ctx, events.ServicePolled{
		Service:  name,
		Health:   health.String(),
		Changed:  changed,
		Err:      err,
		Duration: time.Since(start),
	})
	if changed {
		r.logger.Info("service SDL changed", zap.String("service", name), zap.Int("version", version))
	}
	return changed, err
}

// recompose composes the SDL of every service that has one and publishes
// the result. A failed composition keeps the current snapshot.
func (r *Registry) recompose(ctx context.Context) error {
	r.composeMu.Lock()
	defer r.composeMu.Unlock()

	r.mu.Lock()
	sdls := make(map[string]string, len(r.services))
	for name, svc := range r.services {
		if svc.sdl != "" {
			sdls[name] = svc.sdl
		}
	}
	r.mu.Unlock()

	names := make([]string, 0, len(sdls))
	for name := range sdls {
		names = append(names, name)
	}
	slices.Sort(names)

	if len(sdls) == 0 {
		r.composeFailed.Store(false)
		if r.current.Swap(nil) != nil {
			r.logger.Info("schema withdrawn, no services left")
			r.notify(nil)
		}
		return nil
	}

	start := time.Now()
	s, err := r.composer.Compose(sdls)
	eventbus.Publish(ctx, events.SchemaComposed{Services: names, Err: err, Duration: time.Since(start)})
	if err != nil {
		r.composeFailed.Store(true)
		fields := []zap.Field{zap.Strings("services", names), zap.Error(err)}
		var cerr compose.CompositionError
		if errors.As(err, &cerr) {
			fields = append(fields, zap.Int("violations", len(cerr)))
		}
		r.logger.Error("composition failed, keeping previous schema", fields...)
		return err
	}
	r.composeFailed.Store(false)
	r.current.Store(s)
	r.logger.Info("schema published",
		zap.Strings("services", names),
		zap.Time("generated_at", s.GeneratedAt))
	r.notify(s)
	return nil
}

func (r *Registry) notify(s *schema.Schema) {
	r.listenersMu.Lock()
	ids := make([]int, 0, len(r.listeners))
	for id := range r.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	ls := make([]func(*schema.Schema), 0, len(ids))
	for _, id := range ids {
		ls = append(ls, r.listeners[id])
	}
	r.listenersMu.Unlock()
	for _, l := range ls {
		l(s)
	}
}
