package heedy

import "strings"

// Object is an entity payload as decoded from the server's JSON.
type Object map[string]any

// ID returns the object's "id" field when it is a non-empty string.
func (o Object) ID() string {
	return o.str("id")
}

// Name returns the object's "name" field when it is a non-empty string.
func (o Object) Name() string {
	return o.str("name")
}

func (o Object) str(key string) string {
	if o == nil {
		return ""
	}
	s, _ := o[key].(string)
	return strings.TrimSpace(s)
}

// Clone returns a deep copy of nested maps and slices so callers cannot
// mutate cached state through a returned object.
func (o Object) Clone() Object {
	if o == nil {
		return nil
	}
	dup := make(Object, len(o))
	for k, v := range o {
		dup[k] = cloneAny(v)
	}
	return dup
}

// Merge returns a copy of o with the top-level fields of patch applied.
func (o Object) Merge(patch Object) Object {
	merged := o.Clone()
	if merged == nil {
		merged = make(Object, len(patch))
	}
	for k, v := range patch {
		merged[k] = cloneAny(v)
	}
	return merged
}

func cloneAny(v any) any {
	switch t := v.(type) {
	case Object:
		return t.Clone()
	case map[string]any:
		return map[string]any(Object(t).Clone())
	case []any:
		dup := make([]any, len(t))
		for i := range t {
			dup[i] = cloneAny(t[i])
		}
		return dup
	default:
		return v
	}
}

// ErrorRef is a normalized failure. It occupies the same cache slot a
// successful object would, so consumers check one value for both outcomes.
type ErrorRef struct {
	Ref         string `json:"ref,omitempty" msgpack:"ref"`
	Name        string `json:"error" msgpack:"error"`
	Description string `json:"error_description" msgpack:"error_description"`
}

func (e *ErrorRef) Error() string {
	if e == nil {
		return ""
	}
	if e.Description == "" {
		return e.Name
	}
	return e.Name + ": " + e.Description
}

// EventKind classifies push events.
type EventKind int

const (
	EventIgnored EventKind = iota
	EventUpdate
	EventDelete
)

func (k EventKind) String() string {
	switch k {
	case EventUpdate:
		return "update"
	case EventDelete:
		return "delete"
	default:
		return "ignored"
	}
}

// Event is a push-channel frame. Objects are addressed either by Path or by
// the server-side object id; Type names the flat collection for id-only
// events.
type Event struct {
	Event  string `json:"event"`
	Path   string `json:"path,omitempty"`
	Object string `json:"object,omitempty"`
	Type   string `json:"type,omitempty"`
	User   string `json:"user,omitempty"`
	Data   Object `json:"data,omitempty"`
}

// Kind derives the mutation kind from the event name. Only entity
// lifecycle events ("object_update", "user_delete", "app_create") change a
// cached entity. Names with a qualifier between the entity and the verb,
// such as "timeseries_data_delete" or "object_actions_write", describe
// payload changes of an entity that still exists and are ignored.
func (e Event) Kind() EventKind {
	name := strings.ToLower(strings.TrimSpace(e.Event))
	verb := name
	if entity, rest, ok := strings.Cut(name, "_"); ok {
		if entity == "" || strings.Contains(rest, "_") {
			return EventIgnored
		}
		verb = rest
	}
	switch verb {
	case "delete":
		return EventDelete
	case "update", "create":
		return EventUpdate
	default:
		return EventIgnored
	}
}

// IsUserEvent reports whether the event is about a user account itself,
// in which case User addresses the entity.
func (e Event) IsUserEvent() bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(e.Event)), "user_")
}

// Command is a client-to-server websocket message.
type Command struct {
	Cmd string `json:"cmd"`
	Arg string `json:"arg"`
}
