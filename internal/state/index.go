package state

import "github.com/five82/mirror/internal/heedy"

// idIndex maps server object ids to the path they are cached under, so
// events that only carry an id can be applied. Guarded by Store.mu.
type idIndex struct {
	byID   map[string]string
	byPath map[string]string
}

func newIDIndex() idIndex {
	return idIndex{byID: make(map[string]string), byPath: make(map[string]string)}
}

func (ix *idIndex) update(path string, v Value) {
	if !v.OK() || heedy.IsListKey(path) {
		return
	}
	id := v.Object.ID()
	if prev, ok := ix.byPath[path]; ok && prev != id {
		delete(ix.byID, prev)
		delete(ix.byPath, path)
	}
	if id == "" {
		return
	}
	if old, ok := ix.byID[id]; ok && old != path {
		delete(ix.byPath, old)
	}
	ix.byID[id] = path
	ix.byPath[path] = id
}

func (ix *idIndex) drop(path string) {
	if id, ok := ix.byPath[path]; ok {
		delete(ix.byID, id)
		delete(ix.byPath, path)
	}
}

func (ix *idIndex) resolve(id string) (string, bool) {
	path, ok := ix.byID[id]
	return path, ok
}
