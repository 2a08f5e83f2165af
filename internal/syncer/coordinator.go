package syncer

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/five82/mirror/internal/heedy"
	"github.com/five82/mirror/internal/state"
)

// DefaultFreshness is how long a cached entry satisfies reads without a
// background refresh.
const DefaultFreshness = time.Second

// Push is the event channel as the coordinator sees it. Covers reports
// whether events for key are being delivered right now and since when;
// entries fetched after that instant are kept current by events and need
// no polling.
type Push interface {
	Covers(key string) (since time.Time, ok bool)
	Subscribe(key string) error
	Unsubscribe(key string) error
}

// Coordinator serves reads from the store and keeps it current by pulling
// from the server in the background.
type Coordinator struct {
	store     *state.Store
	fetcher   heedy.Fetcher
	freshness time.Duration
	log       *zap.Logger
	now       func() time.Time
	push      Push

	group singleflight.Group
	wg    sync.WaitGroup

	mu       sync.Mutex
	inflight map[string]struct{}
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithFreshness sets the window during which cached entries are not
// refreshed. Zero or negative refreshes on every read.
func WithFreshness(d time.Duration) Option {
	return func(c *Coordinator) { c.freshness = d }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.log = logger
		}
	}
}

// WithClock overrides the clock compared against FetchedAt. It defaults to
// the store's clock.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// WithPush lets reads skip refreshes for keys the event channel covers.
// Reading a key it does not cover subscribes to it, and deleting a path
// unsubscribes.
func WithPush(p Push) Option {
	return func(c *Coordinator) { c.push = p }
}

// New returns a Coordinator over store and fetcher.
func New(store *state.Store, fetcher heedy.Fetcher, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:     store,
		fetcher:   fetcher,
		freshness: DefaultFreshness,
		log:       zap.NewNop(),
		now:       store.Now,
		inflight:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.Named("syncer")
	return c
}

// Store returns the underlying cache.
func (c *Coordinator) Store() *state.Store {
	return c.store
}

// Get returns whatever is cached at path right away and, unless the entry
// is fresh, starts a background refresh bounded by ctx. The boolean reports
// whether anything was cached. An invalid path is not cached and comes back
// as an error value.
func (c *Coordinator) Get(ctx context.Context, path string) (state.Entry, bool) {
	if err := heedy.ValidatePath(path); err != nil {
		return state.Entry{Path: path, Value: state.ErrorValue(err)}, false
	}
	return c.serve(ctx, path, c.query(path))
}

// Ls is Get for the listing of prefix's direct children. The entry's Object
// maps child path to child object.
func (c *Coordinator) Ls(ctx context.Context, prefix string) (state.Entry, bool) {
	key, err := heedy.ListKey(prefix)
	if err != nil {
		return state.Entry{Path: prefix, Value: state.ErrorValue(err)}, false
	}
	return c.serve(ctx, key, c.list(key))
}

// Refresh fetches path now, joining a refresh already in flight, and
// returns the resulting entry.
func (c *Coordinator) Refresh(ctx context.Context, path string) state.Entry {
	if err := heedy.ValidatePath(path); err != nil {
		return state.Entry{Path: path, Value: state.ErrorValue(err)}
	}
	return c.refresh(ctx, path, c.query(path))
}

// RefreshList fetches the listing of prefix now.
func (c *Coordinator) RefreshList(ctx context.Context, prefix string) state.Entry {
	key, err := heedy.ListKey(prefix)
	if err != nil {
		return state.Entry{Path: prefix, Value: state.ErrorValue(err)}
	}
	return c.refresh(ctx, key, c.list(key))
}

// Invalidate starts a background refresh of path or list key regardless of
// freshness. Invalid keys are ignored.
func (c *Coordinator) Invalidate(ctx context.Context, key string) {
	if heedy.IsListKey(key) {
		c.spawn(ctx, key, c.list(key))
		return
	}
	if heedy.ValidatePath(key) != nil {
		return
	}
	c.spawn(ctx, key, c.query(key))
}

// Create makes a new entity and caches the server's copy. A flat collection
// is created through its list key ("source:"); the result is cached under
// the id the server assigned. Failures leave the cache untouched.
func (c *Coordinator) Create(ctx context.Context, path string, payload heedy.Object) state.Value {
	seq := c.store.Stamp()
	obj, err := c.fetcher.Create(ctx, path, payload)
	if err != nil {
		c.log.Warn("create failed", zap.String("path", path), zap.Error(err))
		return state.ErrorValue(err)
	}
	if obj == nil {
		obj = payload.Clone()
	}
	v := state.ObjectValue(obj)

	target := path
	if heedy.IsListKey(path) {
		child, ok := heedy.ChildPath(path, obj)
		if !ok {
			return v
		}
		target = child
	}
	c.apply(target, v, seq)
	return v
}

// Update writes payload to path and caches the result. When the server
// answers without a body, payload is merged over the cached object.
func (c *Coordinator) Update(ctx context.Context, path string, payload heedy.Object) state.Value {
	seq := c.store.Stamp()
	obj, err := c.fetcher.Update(ctx, path, payload)
	if err != nil {
		c.log.Warn("update failed", zap.String("path", path), zap.Error(err))
		return state.ErrorValue(err)
	}
	if obj == nil {
		var base heedy.Object
		if cur, ok := c.store.Get(path); ok && cur.Value.OK() {
			base = cur.Value.Object
		}
		obj = base.Merge(payload)
	}
	v := state.ObjectValue(obj)
	c.apply(path, v, seq)
	return v
}

// Delete removes path on the server and then from the cache.
func (c *Coordinator) Delete(ctx context.Context, path string) state.Value {
	seq := c.store.Stamp()
	if err := c.fetcher.Delete(ctx, path); err != nil {
		c.log.Warn("delete failed", zap.String("path", path), zap.Error(err))
		return state.ErrorValue(err)
	}
	c.store.DeleteAt(path, seq)
	if c.push != nil {
		if err := c.push.Unsubscribe(path); err != nil {
			c.log.Debug("unsubscribe failed", zap.String("path", path), zap.Error(err))
		}
	}
	return state.DeletedValue()
}

// Wait blocks until every background refresh has finished.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

type fetchFunc func(ctx context.Context) state.Value

func (c *Coordinator) query(path string) fetchFunc {
	return func(ctx context.Context) state.Value {
		obj, err := c.fetcher.Query(ctx, path)
		if err != nil {
			return state.ErrorValue(err)
		}
		if obj == nil {
			obj = heedy.Object{}
		}
		return state.ObjectValue(obj)
	}
}

func (c *Coordinator) list(key string) fetchFunc {
	return func(ctx context.Context) state.Value {
		items, err := c.fetcher.List(ctx, key)
		if err != nil {
			return state.ErrorValue(err)
		}
		list := make(heedy.Object, len(items))
		for child, item := range items {
			list[child] = item
		}
		return state.ObjectValue(list)
	}
}

func (c *Coordinator) serve(ctx context.Context, key string, fetch fetchFunc) (state.Entry, bool) {
	e, ok := c.store.Get(key)
	if ok && c.current(key, e) {
		return e, true
	}
	c.follow(key)
	c.spawn(ctx, key, fetch)
	return e, ok
}

// current reports whether e needs no refresh: it is inside the freshness
// window, or it is a value the push channel was already covering when it
// was fetched.
func (c *Coordinator) current(key string, e state.Entry) bool {
	if e.FreshAt(c.now(), c.freshness) {
		return true
	}
	if c.push == nil || !e.Value.OK() {
		return false
	}
	since, ok := c.push.Covers(key)
	return ok && since.Before(e.FetchedAt)
}

// follow subscribes to key unless push already covers it.
func (c *Coordinator) follow(key string) {
	if c.push == nil {
		return
	}
	if _, ok := c.push.Covers(key); ok {
		return
	}
	if err := c.push.Subscribe(key); err != nil {
		c.log.Debug("subscribe failed", zap.String("path", key), zap.Error(err))
	}
}

func (c *Coordinator) spawn(ctx context.Context, key string, fetch fetchFunc) {
	c.mu.Lock()
	if _, busy := c.inflight[key]; busy {
		c.mu.Unlock()
		return
	}
	c.inflight[key] = struct{}{}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		defer func() {
			c.mu.Lock()
			delete(c.inflight, key)
			c.mu.Unlock()
		}()
		c.refresh(ctx, key, fetch)
	}()
}

func (c *Coordinator) refresh(ctx context.Context, key string, fetch fetchFunc) state.Entry {
	res, _, _ := c.group.Do(key, func() (any, error) {
		seq := c.store.Stamp()
		v := fetch(ctx)
		if ctx.Err() != nil {
			// Abandoned, not failed: keep whatever is cached.
			e, ok := c.store.Get(key)
			if !ok {
				e = state.Entry{Path: key, Value: state.ErrorValue(ctx.Err())}
			}
			return e, nil
		}
		if v.IsError() {
			c.log.Warn("refresh failed",
				zap.String("path", key),
				zap.String("error", v.Err.Name),
				zap.String("ref", v.Err.Ref),
				zap.String("description", v.Err.Description))
		}
		c.apply(key, v, seq)
		if e, ok := c.store.Get(key); ok {
			return e, nil
		}
		return state.Entry{Path: key, Value: state.DeletedValue(), Seq: seq}, nil
	})
	return res.(state.Entry)
}

func (c *Coordinator) apply(path string, v state.Value, seq uint64) {
	if !c.store.PutAt(path, v, seq) {
		c.log.Debug("dropped stale write", zap.String("path", path), zap.Uint64("seq", seq))
	}
}
