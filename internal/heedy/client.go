package heedy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Fetcher is the network collaborator of the cache. It is implemented by
// *Client and can be faked in tests.
type Fetcher interface {
	Query(ctx context.Context, path string) (Object, error)
	List(ctx context.Context, prefix string) (map[string]Object, error)
	Create(ctx context.Context, path string, payload Object) (Object, error)
	Update(ctx context.Context, path string, payload Object) (Object, error)
	Delete(ctx context.Context, path string) error
}

// Ensure Client implements Fetcher at compile time.
var _ Fetcher = (*Client)(nil)

// Client talks to the server's REST API.
type Client struct {
	baseURL   *url.URL
	http      *http.Client
	userAgent string
}

const (
	defaultServer    = "127.0.0.1:3124"
	defaultUserAgent = "mirror/0.1"
	requestTimeout   = 10 * time.Second
	apiPrefix        = "/api/v1"
	errorBodyLimit   = 64 * 1024
)

// NewClient builds a Client for the given host:port or URL.
func NewClient(server string) (*Client, error) {
	base, err := ParseBaseURL(server)
	if err != nil {
		return nil, err
	}
	return &Client{
		baseURL: base,
		http: &http.Client{
			Timeout: requestTimeout,
		},
		userAgent: defaultUserAgent,
	}, nil
}

// BaseURL returns a copy of the server URL.
func (c *Client) BaseURL() *url.URL {
	u := *c.baseURL
	return &u
}

// UserAgent returns the User-Agent sent with every request.
func (c *Client) UserAgent() string {
	return c.userAgent
}

// Query reads a single entity.
func (c *Client) Query(ctx context.Context, path string) (Object, error) {
	if c == nil {
		return nil, fmt.Errorf("client is nil")
	}
	rel, err := resource(path)
	if err != nil {
		return nil, err
	}
	var payload Object
	if err := c.doURL(ctx, http.MethodGet, rel, nil, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// List reads the direct children of prefix, keyed by child path.
func (c *Client) List(ctx context.Context, prefix string) (map[string]Object, error) {
	if c == nil {
		return nil, fmt.Errorf("client is nil")
	}
	listKey, err := ListKey(prefix)
	if err != nil {
		return nil, err
	}
	rel, err := listResource(listKey)
	if err != nil {
		return nil, err
	}
	var raw json.RawMessage
	if err := c.doURL(ctx, http.MethodGet, rel, nil, &raw); err != nil {
		return nil, err
	}
	items, err := decodeList(raw)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Object, len(items))
	for _, item := range items {
		if child, ok := ChildPath(listKey, item); ok {
			out[child] = item
		}
	}
	return out, nil
}

// Create makes a new entity. Flat collections accept their list key
// ("source:") so the server assigns the id.
func (c *Client) Create(ctx context.Context, path string, payload Object) (Object, error) {
	if c == nil {
		return nil, fmt.Errorf("client is nil")
	}
	var rel *url.URL
	if coll, ok := strings.CutSuffix(path, flatSep); ok && coll != "" && !strings.Contains(coll, flatSep) {
		rel = &url.URL{Path: apiPrefix + "/" + coll}
	} else {
		var err error
		if rel, err = resource(path); err != nil {
			return nil, err
		}
	}
	var result Object
	if err := c.doURL(ctx, http.MethodPost, rel, payload, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// Update modifies an entity: PUT for hierarchical paths, PATCH for flat ones.
func (c *Client) Update(ctx context.Context, path string, payload Object) (Object, error) {
	if c == nil {
		return nil, fmt.Errorf("client is nil")
	}
	rel, err := resource(path)
	if err != nil {
		return nil, err
	}
	method := http.MethodPut
	if IsFlat(path) {
		method = http.MethodPatch
	}
	var result Object
	if err := c.doURL(ctx, method, rel, payload, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// Delete removes an entity.
func (c *Client) Delete(ctx context.Context, path string) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	rel, err := resource(path)
	if err != nil {
		return err
	}
	return c.doURL(ctx, http.MethodDelete, rel, nil, nil)
}

func (c *Client) doURL(ctx context.Context, method string, rel *url.URL, body any, dest any) error {
	reqURL := c.baseURL.ResolveReference(rel)

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL.String(), reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w: %w", ErrFetch, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return decodeError(resp, rel)
	}
	if dest == nil {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(dest); err != nil {
		return fmt.Errorf("decode response: %w: %w", ErrResponse, err)
	}
	return nil
}

// decodeError turns a >= 400 response into an ErrorRef, preferring the
// server's own error body.
func decodeError(resp *http.Response, rel *url.URL) error {
	fallback := fmt.Sprintf("api %s returned status %d", rel.String(), resp.StatusCode)
	body, err := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
	if err != nil {
		return &ErrorRef{Ref: uuid.NewString(), Name: CodeHTTP, Description: fallback}
	}
	var raw struct {
		Error       string `json:"error"`
		Description string `json:"error_description"`
		ID          string `json:"id"`
		Ref         string `json:"ref"`
		Msg         string `json:"msg"`
	}
	if err := json.Unmarshal(body, &raw); err != nil || (raw.Error == "" && raw.Msg == "") {
		return &ErrorRef{Ref: uuid.NewString(), Name: CodeHTTP, Description: fallback}
	}
	ref := &ErrorRef{
		Ref:         firstNonEmpty(raw.Ref, raw.ID),
		Name:        firstNonEmpty(raw.Error, CodeHTTP),
		Description: firstNonEmpty(raw.Description, raw.Msg),
	}
	if ref.Ref == "" {
		ref.Ref = uuid.NewString()
	}
	return ref
}

func decodeList(raw json.RawMessage) ([]Object, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] == '{' {
		var keyed map[string]Object
		if err := json.Unmarshal(trimmed, &keyed); err != nil {
			return nil, fmt.Errorf("decode list: %w: %w", ErrResponse, err)
		}
		items := make([]Object, 0, len(keyed))
		for _, item := range keyed {
			items = append(items, item)
		}
		return items, nil
	}
	var items []Object
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, fmt.Errorf("decode list: %w: %w", ErrResponse, err)
	}
	return items, nil
}

// ParseBaseURL normalizes a host:port or URL into a scheme://host base.
func ParseBaseURL(server string) (*url.URL, error) {
	trimmed := strings.TrimSpace(server)
	if trimmed == "" {
		trimmed = defaultServer
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse server %q: %w", server, err)
	}
	u.Path = ""
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
