package state

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/five82/mirror/internal/heedy"
)

// Store is the local cache: one Entry per path, a logical clock that orders
// writes, and a Registry that hears about every change.
type Store struct {
	// writeMu serializes mutate+notify so subscribers observe changes in the
	// same order they were applied.
	writeMu sync.Mutex

	mu      sync.RWMutex
	entries map[string]Entry
	// seqs outlives entries so a late pull cannot resurrect a deleted path.
	seqs  map[string]uint64
	index idIndex

	clock    atomic.Uint64
	registry *Registry
	now      func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the wall clock used for FetchedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore returns an empty store that notifies registry. A nil registry
// gets a private one.
func NewStore(registry *Registry, opts ...Option) *Store {
	if registry == nil {
		registry = &Registry{}
	}
	s := &Store{
		entries:  make(map[string]Entry),
		seqs:     make(map[string]uint64),
		index:    newIDIndex(),
		registry: registry,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Registry returns the registry the store notifies.
func (s *Store) Registry() *Registry {
	return s.registry
}

// Now reads the store's wall clock.
func (s *Store) Now() time.Time {
	return s.now()
}

// Stamp returns the next logical time. Writers take a stamp when they start
// an operation and pass it to PutAt or DeleteAt when they finish.
func (s *Store) Stamp() uint64 {
	return s.clock.Add(1)
}

// Get returns a copy of the entry at path.
func (s *Store) Get(path string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[path]
	if !ok {
		return Entry{}, false
	}
	return e.clone(), true
}

// Put writes v at a fresh stamp.
func (s *Store) Put(path string, v Value) bool {
	return s.PutAt(path, v, s.Stamp())
}

// PutAt writes v at path unless the path already holds a newer write, then
// notifies subscribers. It reports whether the write was applied. A zero
// value is ignored and a Deleted value behaves like DeleteAt.
func (s *Store) PutAt(path string, v Value, seq uint64) bool {
	if v.IsZero() {
		return false
	}
	if v.Deleted {
		return s.DeleteAt(path, seq)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	notes, ok := s.applyPut(path, v.clone(), seq)
	s.emit(notes)
	return ok
}

// Delete removes path at a fresh stamp.
func (s *Store) Delete(path string) bool {
	return s.DeleteAt(path, s.Stamp())
}

// DeleteAt removes path, and for hierarchical paths everything beneath it,
// unless the path already holds a newer write. Subscribers receive the
// Deleted sentinel for each removed path. The parent list loses its slot.
func (s *Store) DeleteAt(path string, seq uint64) bool {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	notes, ok := s.applyDelete(path, seq)
	s.emit(notes)
	return ok
}

// Ls returns the cached direct children of prefix. Error entries are
// included so callers can show them. An invalid prefix yields nil.
func (s *Store) Ls(prefix string) map[string]Value {
	key, err := heedy.ListKey(prefix)
	if err != nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]Value)
	for p, e := range s.entries {
		if heedy.IsListKey(p) || heedy.Parent(p) != key {
			continue
		}
		out[p] = e.Value.clone()
	}
	return out
}

// Resolve maps a server object id to the path it is cached under.
func (s *Store) Resolve(id string) (string, bool) {
	if id == "" {
		return "", false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.resolve(id)
}

// Entries returns a copy of every entry, sorted by path.
func (s *Store) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Len returns the number of cached entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Restore loads previously saved entries without notifying anyone. Entries
// older than what the store already holds are skipped. The logical clock
// advances past every restored seq.
func (s *Store) Restore(entries []Entry) int {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	var maxSeq uint64
	restored := 0
	for _, e := range entries {
		if e.Path == "" || e.Value.IsZero() || e.Value.Deleted {
			continue
		}
		if e.Seq < s.seqs[e.Path] {
			continue
		}
		e = e.clone()
		s.entries[e.Path] = e
		s.seqs[e.Path] = e.Seq
		s.index.update(e.Path, e.Value)
		maxSeq = max(maxSeq, e.Seq)
		restored++
	}
	for {
		cur := s.clock.Load()
		if cur >= maxSeq || s.clock.CompareAndSwap(cur, maxSeq) {
			break
		}
	}
	return restored
}

type note struct {
	path  string
	value Value
}

func (s *Store) emit(notes []note) {
	for _, n := range notes {
		s.registry.Notify(n.path, n.value)
	}
}

func (s *Store) applyPut(path string, v Value, seq uint64) ([]note, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seq < s.seqs[path] {
		return nil, false
	}
	if heedy.IsListKey(path) && v.OK() {
		return s.putListLocked(path, v.Object, seq), true
	}

	s.setLocked(path, v, seq)
	notes := []note{{path, v}}
	if v.OK() {
		if n, ok := s.patchParentLocked(path, v.Object, seq); ok {
			notes = append(notes, n)
		}
	}
	return notes, true
}

// putListLocked stores a listing and fans its items out to their own paths.
// Items whose path already holds a newer write keep the cached version, and
// the listing is rewritten to match.
func (s *Store) putListLocked(key string, list heedy.Object, seq uint64) []note {
	merged := make(heedy.Object, len(list))
	var children []note
	for child, raw := range list {
		item, ok := asObject(raw)
		if !ok {
			continue
		}
		if cur, ok := s.entries[child]; ok && cur.Seq > seq {
			if cur.Value.OK() {
				merged[child] = cur.Value.Object.Clone()
			}
			continue
		}
		if seq < s.seqs[child] {
			// deleted after this listing was requested
			continue
		}
		merged[child] = item
		v := ObjectValue(item.Clone())
		s.setLocked(child, v, seq)
		children = append(children, note{child, v})
	}

	v := ObjectValue(merged)
	s.setLocked(key, v, seq)
	return append([]note{{key, v.clone()}}, children...)
}

func (s *Store) setLocked(path string, v Value, seq uint64) {
	s.entries[path] = Entry{Path: path, Value: v, FetchedAt: s.now(), Seq: seq}
	s.seqs[path] = seq
	if v.OK() {
		s.index.update(path, v)
	} else {
		s.index.drop(path)
	}
}

// patchParentLocked copies obj into the cached listing that contains path.
func (s *Store) patchParentLocked(path string, obj heedy.Object, seq uint64) (note, bool) {
	parent := heedy.Parent(path)
	le, ok := s.entries[parent]
	if !ok || !le.Value.OK() {
		return note{}, false
	}
	list := le.Value.Object.Clone()
	list[path] = obj.Clone()
	return s.replaceListLocked(le, list, seq), true
}

func (s *Store) unpatchParentLocked(path string, seq uint64) (note, bool) {
	parent := heedy.Parent(path)
	le, ok := s.entries[parent]
	if !ok || !le.Value.OK() {
		return note{}, false
	}
	if _, ok := le.Value.Object[path]; !ok {
		return note{}, false
	}
	list := le.Value.Object.Clone()
	delete(list, path)
	return s.replaceListLocked(le, list, seq), true
}

func (s *Store) replaceListLocked(le Entry, list heedy.Object, seq uint64) note {
	le.Value = ObjectValue(list)
	if seq > le.Seq {
		le.Seq = seq
		s.seqs[le.Path] = seq
	}
	s.entries[le.Path] = le
	return note{le.Path, le.Value.clone()}
}

func (s *Store) applyDelete(path string, seq uint64) ([]note, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seq < s.seqs[path] {
		return nil, false
	}
	notes := []note{{path, DeletedValue()}}
	s.removeLocked(path, seq)

	if !heedy.IsFlat(path) && !heedy.IsListKey(path) {
		below := path + "/"
		var doomed []string
		for p := range s.entries {
			if strings.HasPrefix(p, below) {
				doomed = append(doomed, p)
			}
		}
		sort.Strings(doomed)
		for _, p := range doomed {
			s.removeLocked(p, seq)
			if !heedy.IsListKey(p) {
				notes = append(notes, note{p, DeletedValue()})
			}
		}
	}

	if !heedy.IsListKey(path) {
		if n, ok := s.unpatchParentLocked(path, seq); ok {
			notes = append(notes, n)
		}
	}
	return notes, true
}

func (s *Store) removeLocked(path string, seq uint64) {
	delete(s.entries, path)
	s.index.drop(path)
	if seq > s.seqs[path] {
		s.seqs[path] = seq
	}
}

func asObject(v any) (heedy.Object, bool) {
	switch o := v.(type) {
	case heedy.Object:
		return o, true
	case map[string]any:
		return heedy.Object(o), true
	}
	return nil, false
}
