package heedy

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	pathSep  = "/"
	flatSep  = ":"
	maxDepth = 3

	// RootList is the list key of all users.
	RootList = pathSep
)

// ValidatePath reports whether path addresses a single entity: either
// user[/device[/stream]] or collection:id.
func ValidatePath(path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("%w: empty path", ErrBadPath)
	}
	if coll, id, ok := strings.Cut(path, flatSep); ok {
		if coll == "" || id == "" || strings.Contains(coll, pathSep) || strings.Contains(id, pathSep) {
			return fmt.Errorf("%w: %q", ErrBadPath, path)
		}
		return nil
	}
	segs := strings.Split(path, pathSep)
	if len(segs) > maxDepth {
		return fmt.Errorf("%w: %q is deeper than user/device/stream", ErrBadPath, path)
	}
	for _, s := range segs {
		if s == "" {
			return fmt.Errorf("%w: %q has an empty segment", ErrBadPath, path)
		}
	}
	return nil
}

// IsFlat reports whether path lives in a flat, id-addressed collection.
func IsFlat(path string) bool {
	return strings.Contains(path, flatSep)
}

// IsListKey reports whether key names a collection listing rather than an entity.
func IsListKey(key string) bool {
	return key == RootList || strings.HasSuffix(key, pathSep) || strings.HasSuffix(key, flatSep)
}

// ListKey returns the cache key holding the direct children of prefix.
// Hierarchical prefixes gain a trailing "/" ("" lists users); flat
// collections are passed as "source:" and returned unchanged.
func ListKey(prefix string) (string, error) {
	prefix = strings.TrimSpace(prefix)
	switch {
	case prefix == "" || prefix == RootList:
		return RootList, nil
	case strings.HasSuffix(prefix, flatSep):
		coll := strings.TrimSuffix(prefix, flatSep)
		if coll == "" || strings.Contains(coll, pathSep) || strings.Contains(coll, flatSep) {
			return "", fmt.Errorf("%w: %q", ErrBadPath, prefix)
		}
		return prefix, nil
	}
	trimmed := strings.TrimSuffix(prefix, pathSep)
	if err := ValidatePath(trimmed); err != nil {
		return "", err
	}
	if IsFlat(trimmed) {
		return "", fmt.Errorf("%w: %q is an entity, not a collection", ErrBadPath, prefix)
	}
	if strings.Count(trimmed, pathSep) >= maxDepth-1 {
		return "", fmt.Errorf("%w: streams have no children", ErrBadPath)
	}
	return trimmed + pathSep, nil
}

// Parent returns the list key that would contain path.
func Parent(path string) string {
	if coll, _, ok := strings.Cut(path, flatSep); ok {
		return coll + flatSep
	}
	idx := strings.LastIndex(path, pathSep)
	if idx < 0 {
		return RootList
	}
	return path[:idx+1]
}

// ChildPath derives the entity path of a list item: hierarchical items are
// keyed by name, flat items by id.
func ChildPath(listKey string, item Object) (string, bool) {
	if strings.HasSuffix(listKey, flatSep) {
		id := item.ID()
		if id == "" {
			return "", false
		}
		return listKey + id, true
	}
	name := item.Name()
	if name == "" {
		return "", false
	}
	if listKey == RootList {
		return name, true
	}
	return listKey + name, true
}

// resource maps an entity path to its REST endpoint. Segments are left
// unescaped; url.URL encodes Path when the request is built.
func resource(path string) (*url.URL, error) {
	if err := ValidatePath(path); err != nil {
		return nil, err
	}
	if coll, id, ok := strings.Cut(path, flatSep); ok {
		return &url.URL{Path: apiPrefix + "/" + coll + "/" + id}, nil
	}
	return &url.URL{Path: apiPrefix + "/crud/" + path}, nil
}

// listResource maps a list key to its REST endpoint.
func listResource(listKey string) (*url.URL, error) {
	switch {
	case listKey == RootList:
		return &url.URL{Path: apiPrefix + "/crud/", RawQuery: "q=ls"}, nil
	case strings.HasSuffix(listKey, flatSep):
		coll := strings.TrimSuffix(listKey, flatSep)
		return &url.URL{Path: apiPrefix + "/" + coll}, nil
	case strings.HasSuffix(listKey, pathSep):
		return &url.URL{Path: apiPrefix + "/crud/" + strings.TrimSuffix(listKey, pathSep), RawQuery: "q=ls"}, nil
	}
	return nil, fmt.Errorf("%w: %q is not a list key", ErrBadPath, listKey)
}
