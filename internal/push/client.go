package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/five82/mirror/internal/heedy"
)

const (
	websocketPath    = "/api/v1/websocket"
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 5 * time.Second
)

// Handler receives every decoded event on the read goroutine.
type Handler func(heedy.Event)

// Client keeps a websocket open to the server, re-subscribing after every
// reconnect.
type Client struct {
	url     string
	header  http.Header
	handler Handler
	log     *zap.Logger
	dialer  *websocket.Dialer
	backoff time.Duration
	now     func() time.Time

	mu        sync.Mutex
	subs      []string
	conn      *websocket.Conn
	since     time.Time
	live      bool
	active    map[string]time.Time
	listeners []func(bool)

	writeMu sync.Mutex
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.log = logger
		}
	}
}

// WithSubscriptions sets the paths subscribed on every connect.
func WithSubscriptions(paths ...string) Option {
	return func(c *Client) {
		for _, p := range paths {
			c.addSub(p)
		}
	}
}

// WithBackoff sets the first reconnect delay.
func WithBackoff(base time.Duration) Option {
	return func(c *Client) { c.backoff = base }
}

// WithUserAgent sets the User-Agent sent with the handshake.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.header.Set("User-Agent", ua)
		}
	}
}

// NewClient builds a client for the server's websocket endpoint. server is
// a host:port or http(s) URL, as for the REST client.
func NewClient(server string, handler Handler, opts ...Option) (*Client, error) {
	if handler == nil {
		return nil, errors.New("push handler is nil")
	}
	u, err := heedy.ParseBaseURL(server)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = websocketPath

	c := &Client{
		url:     u.String(),
		header:  http.Header{},
		handler: handler,
		log:     zap.NewNop(),
		dialer:  &websocket.Dialer{HandshakeTimeout: handshakeTimeout, Proxy: http.ProxyFromEnvironment},
		backoff: defaultBackoff,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.Named("push")
	return c, nil
}

// URL returns the websocket endpoint.
func (c *Client) URL() string {
	return c.url
}

// Run connects and reads events until ctx is cancelled, reconnecting with
// exponential backoff. It returns nil once ctx is done.
func (c *Client) Run(ctx context.Context) error {
	failures := 0
	for {
		connected, err := c.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			failures = 0
		}
		delay := calculateBackoff(failures, c.backoff)
		failures++
		c.log.Warn("push channel down", zap.Error(err), zap.Duration("retry_in", delay))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// session runs one connection. connected reports whether the handshake
// succeeded.
func (c *Client) session(ctx context.Context) (connected bool, err error) {
	conn, _, err := c.dialer.DialContext(ctx, c.url, c.header)
	if err != nil {
		return false, fmt.Errorf("dial push channel: %w", err)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer c.detach(conn)

	c.mu.Lock()
	c.conn = conn
	c.active = make(map[string]time.Time, len(c.subs))
	subs := slices.Clone(c.subs)
	c.mu.Unlock()

	for _, p := range subs {
		if err := c.send(conn, heedy.Command{Cmd: "subscribe", Arg: p}); err != nil {
			return true, err
		}
	}
	c.setLive(true)
	c.mu.Lock()
	for _, p := range subs {
		if slices.Contains(c.subs, p) {
			c.active[p] = c.since
		}
	}
	c.mu.Unlock()
	c.log.Info("push channel connected", zap.String("url", c.url), zap.Int("subscriptions", len(subs)))

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("read push event: %w", err)
		}
		var ev heedy.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			c.log.Warn("undecodable push frame", zap.Error(err), zap.Int("bytes", len(data)))
			continue
		}
		c.handler(ev)
	}
}

func (c *Client) detach(conn *websocket.Conn) {
	_ = conn.Close()
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
		c.active = nil
	}
	c.mu.Unlock()
	c.setLive(false)
}

// Subscribe adds path to the subscription set and, when connected, tells
// the server right away. Paths already covered by a subscription are not
// added again.
func (c *Client) Subscribe(path string) error {
	c.mu.Lock()
	added := !c.subscribedLocked(path) && c.addSub(path)
	conn := c.conn
	c.mu.Unlock()
	if !added || conn == nil {
		return nil
	}
	if err := c.send(conn, heedy.Command{Cmd: "subscribe", Arg: path}); err != nil {
		return err
	}
	c.mu.Lock()
	if c.conn == conn && slices.Contains(c.subs, path) {
		c.active[path] = c.now()
	}
	c.mu.Unlock()
	return nil
}

// Unsubscribe removes path from the subscription set.
func (c *Client) Unsubscribe(path string) error {
	c.mu.Lock()
	i := slices.Index(c.subs, path)
	if i >= 0 {
		c.subs = slices.Delete(c.subs, i, i+1)
	}
	delete(c.active, path)
	conn := c.conn
	c.mu.Unlock()
	if i < 0 || conn == nil {
		return nil
	}
	return c.send(conn, heedy.Command{Cmd: "unsubscribe", Arg: path})
}

// Covers reports whether events for key are arriving on the current
// connection, and since when. A subscription covers its own path and
// everything below it; a listing also covers its entries.
func (c *Client) Covers(key string) (since time.Time, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.live {
		return time.Time{}, false
	}
	for _, k := range coverers(key) {
		t, found := c.active[k]
		if !found {
			continue
		}
		if !ok || t.Before(since) {
			since, ok = t, true
		}
	}
	return since, ok
}

func (c *Client) subscribedLocked(key string) bool {
	for _, k := range coverers(key) {
		if slices.Contains(c.subs, k) {
			return true
		}
	}
	return false
}

// coverers lists the subscriptions whose events include key, key first.
func coverers(key string) []string {
	out := []string{key}
	switch {
	case key == heedy.RootList:
		return out
	case heedy.IsFlat(key):
		if !heedy.IsListKey(key) {
			out = append(out, heedy.Parent(key))
		}
		return out
	}
	entity := strings.TrimSuffix(key, "/")
	if entity != key {
		out = append(out, entity)
	} else if !strings.Contains(key, "/") {
		out = append(out, heedy.RootList)
	}
	for p := entity; ; {
		i := strings.LastIndex(p, "/")
		if i < 0 {
			break
		}
		p = p[:i]
		out = append(out, p+"/", p)
	}
	return out
}

// Subscriptions returns the current subscription set in order.
func (c *Client) Subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.subs)
}

// ConnectedSince reports whether the channel is up and when it came up.
func (c *Client) ConnectedSince() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.since, c.live
}

// OnStatus registers fn to hear about connects and disconnects.
func (c *Client) OnStatus(fn func(connected bool)) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

func (c *Client) setLive(live bool) {
	c.mu.Lock()
	if c.live == live {
		c.mu.Unlock()
		return
	}
	c.live = live
	if live {
		c.since = c.now()
	}
	listeners := slices.Clone(c.listeners)
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(live)
	}
}

// addSub must be called with mu held or before the client is shared.
func (c *Client) addSub(path string) bool {
	if path == "" || slices.Contains(c.subs, path) {
		return false
	}
	c.subs = append(c.subs, path)
	return true
}

func (c *Client) send(conn *websocket.Conn, cmd heedy.Command) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(cmd); err != nil {
		return fmt.Errorf("send %s %q: %w", cmd.Cmd, cmd.Arg, err)
	}
	return nil
}
