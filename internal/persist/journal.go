package persist

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/five82/mirror/internal/state"
)

const defaultFlushInterval = 2 * time.Second

// Journal mirrors cache changes to a DB. It records which paths changed and
// writes their current state in batches.
type Journal struct {
	db       *DB
	store    *state.Store
	interval time.Duration
	log      *zap.Logger

	mu    sync.Mutex
	dirty map[string]struct{}
	subID string
}

// NewJournal subscribes to store's registry. Call Run to start flushing.
func NewJournal(db *DB, store *state.Store, interval time.Duration, logger *zap.Logger) *Journal {
	if interval <= 0 {
		interval = defaultFlushInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	j := &Journal{
		db:       db,
		store:    store,
		interval: interval,
		log:      logger.Named("journal"),
		dirty:    make(map[string]struct{}),
	}
	j.subID = store.Registry().Subscribe(j.mark)
	return j
}

func (j *Journal) mark(path string, _ state.Value) {
	j.mu.Lock()
	j.dirty[path] = struct{}{}
	j.mu.Unlock()
}

// Pending returns how many paths await a flush.
func (j *Journal) Pending() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.dirty)
}

// Run flushes every interval until ctx is done, then flushes once more and
// unsubscribes.
func (j *Journal) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	defer j.store.Registry().Unsubscribe(j.subID)

	for {
		select {
		case <-ctx.Done():
			if err := j.Flush(); err != nil {
				j.log.Error("final flush failed", zap.Error(err))
			}
			return
		case <-ticker.C:
			if err := j.Flush(); err != nil {
				j.log.Error("flush failed", zap.Error(err))
			}
		}
	}
}

// Flush writes the current state of every dirty path. Paths no longer in
// the store are removed from the DB. On failure the paths stay dirty.
func (j *Journal) Flush() error {
	j.mu.Lock()
	if len(j.dirty) == 0 {
		j.mu.Unlock()
		return nil
	}
	paths := make([]string, 0, len(j.dirty))
	for p := range j.dirty {
		paths = append(paths, p)
	}
	j.dirty = make(map[string]struct{})
	j.mu.Unlock()
	sort.Strings(paths)

	var (
		puts    []state.Entry
		deletes []string
	)
	for _, p := range paths {
		if e, ok := j.store.Get(p); ok {
			puts = append(puts, e)
		} else {
			deletes = append(deletes, p)
		}
	}
	if err := j.db.Apply(puts, deletes); err != nil {
		j.mu.Lock()
		for _, p := range paths {
			j.dirty[p] = struct{}{}
		}
		j.mu.Unlock()
		return err
	}
	j.log.Debug("flushed cache", zap.Int("written", len(puts)), zap.Int("removed", len(deletes)))
	return nil
}
