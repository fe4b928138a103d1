// Package eventbus dispatches typed in-process events. Publishers do not
// know their subscribers; logging, tracing and metrics attach to the
// events they care about.
package eventbus

import (
	"context"
	"reflect"
	"slices"
	"sync"
	"sync/atomic"
)

// Handler processes events of type T. Handlers run synchronously on the
// publishing goroutine and must not block.
type Handler[T any] func(context.Context, T)

type subscription struct {
	id uint64
	fn func(context.Context, any)
}

// Bus routes events by their dynamic type. Handler lists are replaced, not
// modified, so emit reads them without copying.
type Bus struct {
	mu       sync.Mutex
	nextID   uint64
	handlers atomic.Pointer[map[reflect.Type][]subscription]
}

// New creates an empty Bus.
func New() *Bus {
	b := &Bus{}
	b.handlers.Store(&map[reflect.Type][]subscription{})
	return b
}

func (b *Bus) subscribe(t reflect.Type, fn func(context.Context, any)) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.update(t, func(subs []subscription) []subscription {
		return append(slices.Clip(subs), subscription{id: id, fn: fn})
	})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.update(t, func(subs []subscription) []subscription {
				return slices.DeleteFunc(slices.Clone(subs), func(s subscription) bool { return s.id == id })
			})
		})
	}
}

// update replaces the handler list of t. b.mu must be held.
func (b *Bus) update(t reflect.Type, change func([]subscription) []subscription) {
	old := *b.handlers.Load()
	next := make(map[reflect.Type][]subscription, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	if subs := change(old[t]); len(subs) > 0 {
		next[t] = subs
	} else {
		delete(next, t)
	}
	b.handlers.Store(&next)
}

func (b *Bus) emit(ctx context.Context, e any) {
	for _, s := range (*b.handlers.Load())[reflect.TypeOf(e)] {
		s.fn(ctx, e)
	}
}

var global atomic.Pointer[Bus]

// Use sets the global bus. Passing nil disables event publishing.
func Use(b *Bus) { global.Store(b) }

// Subscribe registers h with the global bus. Without a bus it does nothing
// and returns a no-op unsubscribe.
func Subscribe[T any](h Handler[T]) (unsubscribe func()) {
	b := global.Load()
	if b == nil {
		return func() {}
	}
	return b.subscribe(reflect.TypeFor[T](), func(ctx context.Context, v any) { h(ctx, v.(T)) })
}

// Publish sends e to the global bus subscribers of T.
func Publish[T any](ctx context.Context, e T) {
	if b := global.Load(); b != nil {
		b.emit(ctx, e)
	}
}
