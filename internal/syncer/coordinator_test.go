package syncer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/five82/mirror/internal/heedy"
	"github.com/five82/mirror/internal/state"
)

type fakeFetcher struct {
	mu       sync.Mutex
	objects  map[string]heedy.Object
	listing  map[string]map[string]heedy.Object
	queryErr error
	writeErr error
	queries  map[string]int
	lists    map[string]int
	writes   []string

	// gate, when set, holds every Query until it is closed.
	gate    chan struct{}
	started chan string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		objects: make(map[string]heedy.Object),
		listing: make(map[string]map[string]heedy.Object),
		queries: make(map[string]int),
		lists:   make(map[string]int),
	}
}

func (f *fakeFetcher) Query(ctx context.Context, path string) (heedy.Object, error) {
	f.mu.Lock()
	f.queries[path]++
	gate, started := f.gate, f.started
	f.mu.Unlock()

	if started != nil {
		started <- path
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	obj, ok := f.objects[path]
	if !ok {
		return nil, &heedy.ErrorRef{Name: "not_found", Description: "no such object", Ref: "r-404"}
	}
	return obj.Clone(), nil
}

func (f *fakeFetcher) List(_ context.Context, prefix string) (map[string]heedy.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists[prefix]++
	return f.listing[prefix], nil
}

func (f *fakeFetcher) Create(_ context.Context, path string, payload heedy.Object) (heedy.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, "create "+path)
	if f.writeErr != nil {
		return nil, f.writeErr
	}
	out := payload.Clone()
	if heedy.IsListKey(path) {
		out["id"] = "new-1"
	}
	return out, nil
}

func (f *fakeFetcher) Update(_ context.Context, path string, payload heedy.Object) (heedy.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, "update "+path)
	if f.writeErr != nil {
		return nil, f.writeErr
	}
	return nil, nil
}

func (f *fakeFetcher) Delete(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, "delete "+path)
	return f.writeErr
}

func (f *fakeFetcher) queryCount(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queries[path]
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakePush struct {
	mu     sync.Mutex
	live   bool
	subs   map[string]time.Time
	asked  []string
	closed []string
}

func newFakePush() *fakePush {
	return &fakePush{subs: map[string]time.Time{}}
}

func (p *fakePush) Covers(key string) (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	since, ok := p.subs[key]
	return since, ok && p.live
}

func (p *fakePush) Subscribe(key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.asked = append(p.asked, key)
	return nil
}

func (p *fakePush) Unsubscribe(key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = append(p.closed, key)
	delete(p.subs, key)
	return nil
}

func (p *fakePush) cover(key string, since time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subs[key] = since
}

func (p *fakePush) setLive(live bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.live = live
}

func (p *fakePush) requested() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.asked...)
}

func newCoordinator(t *testing.T, f *fakeFetcher, opts ...Option) (*Coordinator, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := state.NewStore(state.NewRegistry(nil), state.WithClock(clock.Now))
	return New(store, f, opts...), clock
}

func TestCoordinator_MissReturnsEmptyThenFills(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFakeFetcher()
	f.objects["alice"] = heedy.Object{"name": "alice"}
	c, _ := newCoordinator(t, f)

	notified := make(chan state.Value, 1)
	c.Store().Registry().Subscribe(func(path string, v state.Value) {
		if path == "alice" {
			notified <- v
		}
	})

	_, ok := c.Get(context.Background(), "alice")
	require.False(t, ok)
	c.Wait()

	v := <-notified
	require.True(t, v.OK())
	require.Equal(t, "alice", v.Object.Name())

	e, ok := c.Get(context.Background(), "alice")
	require.True(t, ok)
	require.Equal(t, "alice", e.Value.Object.Name())
	c.Wait()
	require.Equal(t, 1, f.queryCount("alice"))
}

func TestCoordinator_FreshnessWindow(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFakeFetcher()
	f.objects["alice"] = heedy.Object{"name": "alice"}
	c, clock := newCoordinator(t, f)
	ctx := context.Background()

	c.Refresh(ctx, "alice")
	require.Equal(t, 1, f.queryCount("alice"))

	clock.Advance(500 * time.Millisecond)
	_, ok := c.Get(ctx, "alice")
	require.True(t, ok)
	c.Wait()
	require.Equal(t, 1, f.queryCount("alice"), "fresh entry must not be refetched")

	clock.Advance(time.Second)
	_, ok = c.Get(ctx, "alice")
	require.True(t, ok)
	c.Wait()
	require.Equal(t, 2, f.queryCount("alice"), "stale entry gets exactly one refresh")
}

func TestCoordinator_ConcurrentGetsShareOneRequest(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFakeFetcher()
	f.objects["alice/phone"] = heedy.Object{"name": "phone"}
	f.gate = make(chan struct{})
	f.started = make(chan string, 1)
	c, _ := newCoordinator(t, f)
	ctx := context.Background()

	c.Get(ctx, "alice/phone")
	<-f.started
	for range 5 {
		_, ok := c.Get(ctx, "alice/phone")
		require.False(t, ok)
	}
	close(f.gate)
	c.Wait()

	require.Equal(t, 1, f.queryCount("alice/phone"))
	_, ok := c.Store().Get("alice/phone")
	require.True(t, ok)
}

func TestCoordinator_StalePullLosesToEvent(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFakeFetcher()
	f.objects["alice/phone"] = heedy.Object{"name": "phone", "public": false}
	f.gate = make(chan struct{})
	f.started = make(chan string, 1)
	c, _ := newCoordinator(t, f)

	c.Get(context.Background(), "alice/phone")
	<-f.started

	// An event lands while the pull is in flight.
	c.Store().Put("alice/phone", state.ObjectValue(heedy.Object{"name": "phone", "public": true}))

	close(f.gate)
	c.Wait()

	e, ok := c.Store().Get("alice/phone")
	require.True(t, ok)
	require.Equal(t, true, e.Value.Object["public"])
}

func TestCoordinator_ErrorsAreCachedAndRespectWindow(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFakeFetcher()
	f.queryErr = errors.New("dial tcp 127.0.0.1:3124: connection refused")
	c, clock := newCoordinator(t, f)
	ctx := context.Background()

	e := c.Refresh(ctx, "alice")
	require.True(t, e.Value.IsError())
	require.Equal(t, heedy.CodeFetch, e.Value.Err.Name)
	require.NotEmpty(t, e.Value.Err.Ref)

	clock.Advance(200 * time.Millisecond)
	got, ok := c.Get(ctx, "alice")
	c.Wait()
	require.True(t, ok)
	require.True(t, got.Value.IsError())
	require.Equal(t, 1, f.queryCount("alice"))

	f.mu.Lock()
	f.queryErr = nil
	f.mu.Unlock()
	missing := c.Refresh(ctx, "bob")
	require.Equal(t, "not_found", missing.Value.Err.Name)
	require.Equal(t, "r-404", missing.Value.Err.Ref)
}

func TestCoordinator_LivePushSkipsRefresh(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFakeFetcher()
	f.objects["alice"] = heedy.Object{"name": "alice"}
	push := newFakePush()
	c, clock := newCoordinator(t, f, WithPush(push))
	ctx := context.Background()

	push.setLive(true)
	push.cover("alice", clock.Now().Add(-time.Minute))
	c.Refresh(ctx, "alice")

	clock.Advance(time.Hour)
	c.Get(ctx, "alice")
	c.Wait()
	require.Equal(t, 1, f.queryCount("alice"))

	// Resubscribed after the fetch: events may have been missed.
	push.cover("alice", clock.Now())
	c.Get(ctx, "alice")
	c.Wait()
	require.Equal(t, 2, f.queryCount("alice"))

	push.setLive(false)
	clock.Advance(time.Hour)
	c.Get(ctx, "alice")
	c.Wait()
	require.Equal(t, 3, f.queryCount("alice"))
}

func TestCoordinator_PushCoversOnlySubscribedKeys(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFakeFetcher()
	f.objects["alice"] = heedy.Object{"name": "alice"}
	f.objects["bob"] = heedy.Object{"name": "bob"}
	push := newFakePush()
	push.setLive(true)
	c, clock := newCoordinator(t, f, WithPush(push))
	ctx := context.Background()

	push.cover("alice", clock.Now().Add(-time.Minute))
	c.Refresh(ctx, "alice")
	c.Refresh(ctx, "bob")

	clock.Advance(time.Hour)
	c.Get(ctx, "alice")
	c.Get(ctx, "bob")
	c.Wait()
	require.Equal(t, 1, f.queryCount("alice"))
	require.Equal(t, 2, f.queryCount("bob"))
	require.Equal(t, []string{"bob"}, push.requested())
}

func TestCoordinator_PushSinceEqualToFetchIsNotCovered(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFakeFetcher()
	f.objects["alice"] = heedy.Object{"name": "alice"}
	push := newFakePush()
	push.setLive(true)
	c, clock := newCoordinator(t, f, WithPush(push))
	ctx := context.Background()

	push.cover("alice", clock.Now())
	c.Refresh(ctx, "alice")

	clock.Advance(time.Hour)
	c.Get(ctx, "alice")
	c.Wait()
	require.Equal(t, 2, f.queryCount("alice"))
}

func TestCoordinator_ReadSubscribesAndDeleteUnsubscribes(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFakeFetcher()
	f.objects["alice/phone"] = heedy.Object{"name": "phone"}
	f.listing["alice/"] = map[string]heedy.Object{"alice/phone": {"name": "phone"}}
	push := newFakePush()
	c, _ := newCoordinator(t, f, WithPush(push))
	ctx := context.Background()

	c.Get(ctx, "alice/phone")
	c.Ls(ctx, "alice")
	c.Wait()
	require.Equal(t, []string{"alice/phone", "alice/"}, push.requested())

	require.True(t, c.Delete(ctx, "alice/phone").Deleted)
	push.mu.Lock()
	require.Equal(t, []string{"alice/phone"}, push.closed)
	push.mu.Unlock()
}

func TestCoordinator_LsFillsChildren(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFakeFetcher()
	f.listing["alice/"] = map[string]heedy.Object{
		"alice/phone":  {"name": "phone", "id": "d1"},
		"alice/laptop": {"name": "laptop", "id": "d2"},
	}
	c, _ := newCoordinator(t, f)

	_, ok := c.Ls(context.Background(), "alice")
	require.False(t, ok)
	c.Wait()

	e, ok := c.Ls(context.Background(), "alice")
	require.True(t, ok)
	require.Len(t, e.Value.Object, 2)
	require.Len(t, c.Store().Ls("alice"), 2)
	c.Wait()

	_, ok = c.Ls(context.Background(), "alice/phone/steps")
	require.False(t, ok)
}

func TestCoordinator_Writes(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFakeFetcher()
	c, _ := newCoordinator(t, f)
	ctx := context.Background()

	created := c.Create(ctx, "source:", heedy.Object{"name": "steps"})
	require.True(t, created.OK())
	e, ok := c.Store().Get("source:new-1")
	require.True(t, ok)
	require.Equal(t, "steps", e.Value.Object.Name())

	updated := c.Update(ctx, "source:new-1", heedy.Object{"description": "daily"})
	require.True(t, updated.OK())
	e, _ = c.Store().Get("source:new-1")
	require.Equal(t, "daily", e.Value.Object["description"])
	require.Equal(t, "new-1", e.Value.Object.ID())

	deleted := c.Delete(ctx, "source:new-1")
	require.True(t, deleted.Deleted)
	_, ok = c.Store().Get("source:new-1")
	require.False(t, ok)

	f.writeErr = &heedy.ErrorRef{Name: "access_denied", Description: "read only", Ref: "r-1"}
	failed := c.Update(ctx, "alice", heedy.Object{"description": "x"})
	require.True(t, failed.IsError())
	require.Equal(t, "access_denied", failed.Err.Name)
	_, ok = c.Store().Get("alice")
	require.False(t, ok)

	require.Equal(t, []string{
		"create source:",
		"update source:new-1",
		"delete source:new-1",
		"update alice",
	}, f.writes)
}

func TestCoordinator_InvalidPath(t *testing.T) {
	c, _ := newCoordinator(t, newFakeFetcher())
	e, ok := c.Get(context.Background(), "a//b")
	require.False(t, ok)
	require.Equal(t, heedy.CodeBadRequest, e.Value.Err.Name)
	require.Zero(t, c.Store().Len())
}

func TestCoordinator_CancelledRefreshKeepsCache(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFakeFetcher()
	f.gate = make(chan struct{})
	f.started = make(chan string, 1)
	c, clock := newCoordinator(t, f)
	c.Store().Put("alice", state.ObjectValue(heedy.Object{"name": "alice"}))
	clock.Advance(time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	_, ok := c.Get(ctx, "alice")
	require.True(t, ok)
	<-f.started
	cancel()
	c.Wait()

	e, ok := c.Store().Get("alice")
	require.True(t, ok)
	require.True(t, e.Value.OK())
}
