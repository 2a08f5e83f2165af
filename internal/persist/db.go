package persist

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"go.etcd.io/bbolt"

	"github.com/five82/mirror/internal/heedy"
	"github.com/five82/mirror/internal/state"
)

var entriesBucket = []byte("entries")

// ErrCorrupt marks stored records that could not be decoded.
var ErrCorrupt = errors.New("corrupt cache record")

const openTimeout = time.Second

// record is the on-disk form of a state.Entry.
type record struct {
	Path      string          `msgpack:"path"`
	Object    heedy.Object    `msgpack:"object,omitempty"`
	Err       *heedy.ErrorRef `msgpack:"err,omitempty"`
	FetchedAt time.Time       `msgpack:"fetched_at"`
	Seq       uint64          `msgpack:"seq"`
}

func toRecord(e state.Entry) record {
	return record{
		Path:      e.Path,
		Object:    e.Value.Object,
		Err:       e.Value.Err,
		FetchedAt: e.FetchedAt,
		Seq:       e.Seq,
	}
}

func (r record) entry() state.Entry {
	return state.Entry{
		Path:      r.Path,
		Value:     state.Value{Object: r.Object, Err: r.Err},
		FetchedAt: r.FetchedAt,
		Seq:       r.Seq,
	}
}

// DB is the on-disk copy of the cache.
type DB struct {
	db *bbolt.DB
}

// Open opens or creates the cache file at path.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("open cache db %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(entriesBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init cache db: %w", err)
	}
	return &DB{db: db}, nil
}

// Path returns the file backing the database.
func (d *DB) Path() string {
	return d.db.Path()
}

// Close releases the file lock.
func (d *DB) Close() error {
	return d.db.Close()
}

// Load decodes every stored entry. Undecodable records are skipped and
// reported together in the returned error alongside whatever did load.
func (d *DB) Load() ([]state.Entry, error) {
	var (
		out  []state.Entry
		errs []error
	)
	err := d.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(entriesBucket).ForEach(func(k, v []byte) error {
			var r record
			if err := msgpack.Unmarshal(v, &r); err != nil {
				errs = append(errs, fmt.Errorf("%w %q: %w", ErrCorrupt, k, err))
				return nil
			}
			if r.Path == "" {
				r.Path = string(k)
			}
			out = append(out, r.entry())
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("load cache: %w", err)
	}
	return out, errors.Join(errs...)
}

// Save replaces the stored cache with entries, dropping any record not
// among them.
func (d *DB) Save(entries []state.Entry) error {
	return d.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(entriesBucket); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
			return err
		}
		b, err := tx.CreateBucket(entriesBucket)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if err := putEntry(b, e); err != nil {
				return err
			}
		}
		return nil
	})
}

// Apply writes puts and removes deletes in one transaction.
func (d *DB) Apply(puts []state.Entry, deletes []string) error {
	if len(puts) == 0 && len(deletes) == 0 {
		return nil
	}
	return d.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(entriesBucket)
		for _, e := range puts {
			if err := putEntry(b, e); err != nil {
				return err
			}
		}
		for _, p := range deletes {
			if err := b.Delete([]byte(p)); err != nil {
				return fmt.Errorf("delete %q: %w", p, err)
			}
		}
		return nil
	})
}

func putEntry(b *bbolt.Bucket, e state.Entry) error {
	data, err := msgpack.Marshal(toRecord(e))
	if err != nil {
		return fmt.Errorf("encode %q: %w", e.Path, err)
	}
	if err := b.Put([]byte(e.Path), data); err != nil {
		return fmt.Errorf("put %q: %w", e.Path, err)
	}
	return nil
}
