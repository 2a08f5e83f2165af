package heedy

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestParseBaseURL_DefaultsAndNormalizes(t *testing.T) {
	u, err := ParseBaseURL("")
	if err != nil {
		t.Fatalf("ParseBaseURL returned error: %v", err)
	}
	if u.Scheme != "http" {
		t.Fatalf("scheme = %q, want http", u.Scheme)
	}
	if u.Host != defaultServer {
		t.Fatalf("host = %q, want %q", u.Host, defaultServer)
	}

	u, err = ParseBaseURL("https://example.com:1234/path?x=1#frag")
	if err != nil {
		t.Fatalf("ParseBaseURL returned error: %v", err)
	}
	if u.Path != "" || u.RawQuery != "" || u.Fragment != "" {
		t.Fatalf("url not normalized: %q", u.String())
	}
	if u.Scheme != "https" {
		t.Fatalf("scheme = %q, want https", u.Scheme)
	}
}

func TestClient_QueryAndList(t *testing.T) {
	t.Parallel()

	var gotUserAgent string
	var gotListQuery string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserAgent = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/json")

		switch r.URL.Path {
		case "/api/v1/crud/alice":
			if r.URL.Query().Get("q") == "ls" {
				gotListQuery = r.URL.RawQuery
				_ = json.NewEncoder(w).Encode([]Object{{"name": "phone"}, {"name": "laptop"}, {"nickname": "skipped"}})
				return
			}
			_ = json.NewEncoder(w).Encode(Object{"name": "alice", "timestamp": 1000})
		case "/api/v1/source":
			_, _ = w.Write([]byte(`[{"id":"s1","name":"steps"},{"id":"s2"}]`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)

	c, err := NewClient(server.URL)
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)

	user, err := c.Query(ctx, "alice")
	if err != nil {
		t.Fatalf("Query returned error: %v", err)
	}
	if user.Name() != "alice" {
		t.Fatalf("Query payload = %#v, want name alice", user)
	}

	devices, err := c.List(ctx, "alice")
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(devices) != 2 || devices["alice/phone"] == nil || devices["alice/laptop"] == nil {
		t.Fatalf("List = %#v, want alice/phone and alice/laptop", devices)
	}
	if gotListQuery != "q=ls" {
		t.Fatalf("list query = %q, want q=ls", gotListQuery)
	}

	sources, err := c.List(ctx, "source:")
	if err != nil {
		t.Fatalf("List(source:) returned error: %v", err)
	}
	if len(sources) != 2 || sources["source:s1"].Name() != "steps" {
		t.Fatalf("List(source:) = %#v, want source:s1 and source:s2", sources)
	}

	if !strings.HasPrefix(gotUserAgent, "mirror/") {
		t.Fatalf("User-Agent = %q, want mirror/*", gotUserAgent)
	}
}

func TestClient_WritesUseMethodsAndBodies(t *testing.T) {
	t.Parallel()

	type call struct {
		method string
		path   string
		body   string
	}
	calls := make(chan call, 8)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		calls <- call{method: r.Method, path: r.URL.Path, body: string(body)}
		w.Header().Set("Content-Type", "application/json")
		switch r.Method {
		case http.MethodDelete:
			_, _ = w.Write([]byte(`{"result":"ok"}`))
		default:
			_, _ = w.Write([]byte(`{"id":"new","name":"phone"}`))
		}
	}))
	t.Cleanup(server.Close)

	c, err := NewClient(server.URL)
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	ctx := context.Background()

	if _, err := c.Create(ctx, "alice/phone", Object{"description": "x"}); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if _, err := c.Create(ctx, "source:", Object{"name": "steps"}); err != nil {
		t.Fatalf("Create(source:) returned error: %v", err)
	}
	if _, err := c.Update(ctx, "alice/phone", Object{"description": "y"}); err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	if _, err := c.Update(ctx, "source:s1", Object{"name": "z"}); err != nil {
		t.Fatalf("Update(source:s1) returned error: %v", err)
	}
	if err := c.Delete(ctx, "alice/phone"); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}

	want := []call{
		{http.MethodPost, "/api/v1/crud/alice/phone", `{"description":"x"}`},
		{http.MethodPost, "/api/v1/source", `{"name":"steps"}`},
		{http.MethodPut, "/api/v1/crud/alice/phone", `{"description":"y"}`},
		{http.MethodPatch, "/api/v1/source/s1", `{"name":"z"}`},
		{http.MethodDelete, "/api/v1/crud/alice/phone", ""},
	}
	for i, w := range want {
		got := <-calls
		if got.method != w.method || got.path != w.path || got.body != w.body {
			t.Fatalf("call %d = %+v, want %+v", i, got, w)
		}
	}
}

func TestClient_ErrorsAreClassified(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/crud/broken":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte("{not-json"))
		case "/api/v1/crud/missing":
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"not_found","error_description":"no such user","id":"req-7"}`))
		case "/api/v1/crud/legacy":
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"code":403,"msg":"access denied","ref":"abc"}`))
		default:
			http.Error(w, "nope", http.StatusInternalServerError)
		}
	}))
	t.Cleanup(server.Close)

	c, err := NewClient(server.URL)
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	ctx := context.Background()

	_, err = c.Query(ctx, "broken")
	if err == nil || !errors.Is(err, ErrResponse) || !strings.Contains(err.Error(), "decode response") {
		t.Fatalf("Query(broken) error = %v, want decode response error", err)
	}

	_, err = c.Query(ctx, "missing")
	var ref *ErrorRef
	if !errors.As(err, &ref) {
		t.Fatalf("Query(missing) error = %T %v, want *ErrorRef", err, err)
	}
	if ref.Name != "not_found" || ref.Description != "no such user" || ref.Ref != "req-7" {
		t.Fatalf("ErrorRef = %+v, want not_found/no such user/req-7", ref)
	}

	_, err = c.Query(ctx, "legacy")
	if !errors.As(err, &ref) || ref.Ref != "abc" || ref.Description != "access denied" {
		t.Fatalf("Query(legacy) error = %v, want ref abc", err)
	}

	_, err = c.Query(ctx, "other")
	if !errors.As(err, &ref) || ref.Name != CodeHTTP || !strings.Contains(ref.Description, "returned status 500") {
		t.Fatalf("Query(other) error = %v, want http_error with status 500", err)
	}
}

func TestClient_TransportFailureWrapsErrFetch(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	base := server.URL
	server.Close()

	c, err := NewClient(base)
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	_, err = c.Query(context.Background(), "alice")
	if !errors.Is(err, ErrFetch) {
		t.Fatalf("Query error = %v, want ErrFetch", err)
	}
	if got := AsErrorRef(err); got.Name != CodeFetch {
		t.Fatalf("AsErrorRef = %+v, want fetch_error", got)
	}
}

func TestClient_InvalidPathNeverHitsNetwork(t *testing.T) {
	c, err := NewClient("127.0.0.1:1")
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	for _, p := range []string{"", "a/b/c/d", "a//b", ":x"} {
		if _, err := c.Query(context.Background(), p); !errors.Is(err, ErrBadPath) {
			t.Fatalf("Query(%q) error = %v, want ErrBadPath", p, err)
		}
	}
	if _, err := c.List(context.Background(), "a/b/c"); !errors.Is(err, ErrBadPath) {
		t.Fatalf("List(a/b/c) error = %v, want ErrBadPath", err)
	}
}
