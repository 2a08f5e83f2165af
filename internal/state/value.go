package state

import (
	"time"

	"github.com/five82/mirror/internal/heedy"
)

// Value is what the cache holds for a path. Exactly one of the three shapes
// is meaningful: an Object on success, an Err on failure, or Deleted as the
// sentinel passed to subscribers when an entity goes away.
type Value struct {
	Object  heedy.Object
	Err     *heedy.ErrorRef
	Deleted bool
}

// ObjectValue wraps a successful payload.
func ObjectValue(obj heedy.Object) Value {
	return Value{Object: obj}
}

// ErrorValue normalizes err into an ErrorRef value.
func ErrorValue(err error) Value {
	return Value{Err: heedy.AsErrorRef(err)}
}

// DeletedValue is the sentinel notified when an entry is removed.
func DeletedValue() Value {
	return Value{Deleted: true}
}

// IsZero reports whether v carries nothing. Putting a zero value is a no-op.
func (v Value) IsZero() bool {
	return v.Object == nil && v.Err == nil && !v.Deleted
}

// OK reports whether v holds an entity payload.
func (v Value) OK() bool {
	return v.Object != nil && v.Err == nil && !v.Deleted
}

// IsError reports whether v holds a normalized failure.
func (v Value) IsError() bool {
	return v.Err != nil
}

func (v Value) clone() Value {
	dup := Value{Deleted: v.Deleted}
	if v.Object != nil {
		dup.Object = v.Object.Clone()
	}
	if v.Err != nil {
		e := *v.Err
		dup.Err = &e
	}
	return dup
}

// Entry is the cached state of one path.
type Entry struct {
	Path      string
	Value     Value
	FetchedAt time.Time
	Seq       uint64
}

// Age returns how long ago the entry was written.
func (e Entry) Age(now time.Time) time.Duration {
	if e.FetchedAt.IsZero() {
		return 0
	}
	return now.Sub(e.FetchedAt)
}

// FreshAt reports whether the entry was written less than window before now.
func (e Entry) FreshAt(now time.Time, window time.Duration) bool {
	if e.FetchedAt.IsZero() || window <= 0 {
		return false
	}
	return now.Sub(e.FetchedAt) < window
}

func (e Entry) clone() Entry {
	e.Value = e.Value.clone()
	return e
}
