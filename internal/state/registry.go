package state

import (
	"slices"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Callback receives every cache mutation. Filtering by path is the
// callback's job. Callbacks run on the writer's goroutine and must not
// mutate the store synchronously.
type Callback func(path string, v Value)

type subscriber struct {
	id string
	cb Callback
}

// Registry fans cache mutations out to subscribers in registration order.
// The zero value is ready to use.
type Registry struct {
	mu   sync.Mutex
	subs []subscriber
	log  *zap.Logger
}

// NewRegistry returns a Registry that logs recovered callback panics.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{log: logger.Named("registry")}
}

// Subscribe registers cb under a fresh UUID and returns it.
func (r *Registry) Subscribe(cb Callback) string {
	id := uuid.NewString()
	r.SubscribeID(id, cb)
	return id
}

// SubscribeID registers cb under id. Re-registering an id replaces the
// callback but keeps its position.
func (r *Registry) SubscribeID(id string, cb Callback) {
	if cb == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.subs {
		if r.subs[i].id == id {
			r.subs[i].cb = cb
			return
		}
	}
	r.subs = append(r.subs, subscriber{id: id, cb: cb})
}

// Unsubscribe removes id and reports whether it was registered.
func (r *Registry) Unsubscribe(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.subs {
		if r.subs[i].id == id {
			r.subs = slices.Delete(r.subs, i, i+1)
			return true
		}
	}
	return false
}

// Len returns the number of registered subscribers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// Notify invokes every callback synchronously. Each callback gets its own
// copy of v.
func (r *Registry) Notify(path string, v Value) {
	r.mu.Lock()
	subs := slices.Clone(r.subs)
	r.mu.Unlock()

	for _, s := range subs {
		r.invoke(s, path, v)
	}
}

func (r *Registry) invoke(s subscriber, path string, v Value) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger().Error("subscriber panicked",
				zap.String("subscriber", s.id),
				zap.String("path", path),
				zap.Any("panic", rec))
		}
	}()
	s.cb(path, v.clone())
}

func (r *Registry) logger() *zap.Logger {
	if r.log == nil {
		return zap.NewNop()
	}
	return r.log
}
