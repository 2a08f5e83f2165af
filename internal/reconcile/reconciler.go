package reconcile

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/five82/mirror/internal/heedy"
	"github.com/five82/mirror/internal/state"
)

// Stats counts how events were handled.
type Stats struct {
	Applied   uint64
	Refetched uint64
	Dropped   uint64
	Ignored   uint64
}

// Reconciler applies pushed events to the store.
type Reconciler struct {
	store   *state.Store
	log     *zap.Logger
	refetch func(path string)

	applied   atomic.Uint64
	refetched atomic.Uint64
	dropped   atomic.Uint64
	ignored   atomic.Uint64
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Reconciler) {
		if logger != nil {
			r.log = logger
		}
	}
}

// WithRefetch sets what to do with an update event that carries no data
// for a path the cache cannot patch. Usually this asks the server again.
func WithRefetch(fn func(path string)) Option {
	return func(r *Reconciler) { r.refetch = fn }
}

// New returns a Reconciler writing into store.
func New(store *state.Store, opts ...Option) *Reconciler {
	r := &Reconciler{store: store, log: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.Named("reconcile")
	return r
}

// OnEvent applies ev and reports whether the store changed. Events are
// stamped on receipt, so they win over any pull still in flight.
func (r *Reconciler) OnEvent(ev heedy.Event) bool {
	kind := ev.Kind()
	if kind == heedy.EventIgnored {
		r.ignored.Add(1)
		r.log.Debug("ignoring event", zap.String("event", ev.Event))
		return false
	}

	path, ok := r.resolve(ev)
	if !ok {
		r.dropped.Add(1)
		r.log.Debug("dropping unaddressable event",
			zap.String("event", ev.Event),
			zap.String("object", ev.Object))
		return false
	}

	seq := r.store.Stamp()
	switch kind {
	case heedy.EventDelete:
		return r.count(r.store.DeleteAt(path, seq), path, ev)
	default:
		return r.update(path, ev, seq)
	}
}

func (r *Reconciler) update(path string, ev heedy.Event, seq uint64) bool {
	cur, cached := r.store.Get(path)
	if ev.Data == nil {
		if r.refetch != nil {
			r.refetched.Add(1)
			r.refetch(path)
			return false
		}
		r.dropped.Add(1)
		return false
	}

	var base heedy.Object
	if cached && cur.Value.OK() {
		base = cur.Value.Object
	}
	merged := base.Merge(ev.Data)
	if id := base.ID(); id != "" {
		merged["id"] = id
	}
	return r.count(r.store.PutAt(path, state.ObjectValue(merged), seq), path, ev)
}

func (r *Reconciler) count(applied bool, path string, ev heedy.Event) bool {
	if applied {
		r.applied.Add(1)
		return true
	}
	r.dropped.Add(1)
	r.log.Debug("event lost to a newer write", zap.String("event", ev.Event), zap.String("path", path))
	return false
}

// resolve finds the cache path an event refers to: its explicit path, the
// path indexed under its object id, or collection:id for flat collections.
// The user name addresses only events about the user account itself.
func (r *Reconciler) resolve(ev heedy.Event) (string, bool) {
	if ev.Path != "" {
		if heedy.ValidatePath(ev.Path) != nil {
			return "", false
		}
		return ev.Path, true
	}
	if ev.Object != "" {
		if path, ok := r.store.Resolve(ev.Object); ok {
			return path, true
		}
		if ev.Type != "" {
			path := ev.Type + ":" + ev.Object
			if heedy.ValidatePath(path) == nil {
				return path, true
			}
		}
	}
	if ev.IsUserEvent() && ev.User != "" && heedy.ValidatePath(ev.User) == nil && !heedy.IsFlat(ev.User) {
		return ev.User, true
	}
	return "", false
}

// Stats returns the counters so far.
func (r *Reconciler) Stats() Stats {
	return Stats{
		Applied:   r.applied.Load(),
		Refetched: r.refetched.Load(),
		Dropped:   r.dropped.Load(),
		Ignored:   r.ignored.Load(),
	}
}
