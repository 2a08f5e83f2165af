package ui

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/five82/mirror/internal/heedy"
	"github.com/five82/mirror/internal/prefs"
	"github.com/five82/mirror/internal/state"
	"github.com/five82/mirror/internal/syncer"
)

// Source is the cache the UI reads. *syncer.Coordinator implements it.
type Source interface {
	Get(ctx context.Context, path string) (state.Entry, bool)
	Ls(ctx context.Context, prefix string) (state.Entry, bool)
	Invalidate(ctx context.Context, key string)
	Store() *state.Store
}

var _ Source = (*syncer.Coordinator)(nil)

// PushStatus reports whether the event channel is up and since when.
// *push.Client implements it.
type PushStatus interface {
	ConnectedSince() (time.Time, bool)
}

// Options configures the UI.
type Options struct {
	Context   context.Context
	Source    Source
	Push      PushStatus
	Server    string
	Watch     []string
	ThemeName string
	PrefsPath string
	Tick      time.Duration
}

const (
	defaultTick   = time.Second
	updateBacklog = 64
)

type tickMsg time.Time

type entryMsg struct{ key string }

// Model is the root application state for Bubble Tea.
type Model struct {
	ctx       context.Context
	src       Source
	push      PushStatus
	server    string
	prefsPath string
	tick      time.Duration
	keys      keyMap

	theme  Theme
	styles Styles
	width  int
	height int
	ready  bool
	detail viewport.Model
	notice string

	watch    []string
	entries  map[string]state.Entry
	selected int

	updates chan string
	subID   string
	now     func() time.Time
}

// New creates the model and subscribes it to cache changes. Call Close when
// done.
func New(opts Options) Model {
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}
	tick := opts.Tick
	if tick <= 0 {
		tick = defaultTick
	}
	prefsPath := opts.PrefsPath
	if prefsPath == "" {
		prefsPath = prefs.DefaultPath()
	}
	theme := GetTheme(opts.ThemeName)

	m := Model{
		ctx:       ctx,
		src:       opts.Source,
		push:      opts.Push,
		server:    opts.Server,
		prefsPath: prefsPath,
		tick:      tick,
		keys:      defaultKeyMap(),
		theme:     theme,
		styles:    theme.Styles(),
		watch:     watchKeys(opts.Watch),
		entries:   make(map[string]state.Entry),
		updates:   make(chan string, updateBacklog),
		now:       time.Now,
	}

	watched := make(map[string]bool, len(m.watch))
	for _, k := range m.watch {
		watched[k] = true
	}
	updates := m.updates
	m.subID = m.src.Store().Registry().Subscribe(func(path string, _ state.Value) {
		if !watched[path] {
			return
		}
		select {
		case updates <- path:
		default:
			// The next tick reloads everything anyway.
		}
	})
	return m
}

// Close unsubscribes from the cache.
func (m Model) Close() {
	m.src.Store().Registry().Unsubscribe(m.subID)
}

// watchKeys normalizes watched paths to cache keys: entity paths stay as
// they are, collection prefixes become list keys. Invalid entries are kept
// so the UI can show why they fail.
func watchKeys(paths []string) []string {
	if len(paths) == 0 {
		paths = []string{heedy.RootList}
	}
	seen := make(map[string]bool)
	var out []string
	for _, p := range paths {
		k := p
		if heedy.ValidatePath(p) != nil {
			if lk, err := heedy.ListKey(p); err == nil {
				k = lk
			}
		}
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		func() tea.Msg { return tickMsg(time.Now()) },
		m.waitForUpdate(),
	)
}

func (m Model) tickCmd() tea.Cmd {
	return tea.Tick(m.tick, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) waitForUpdate() tea.Cmd {
	updates, ctx := m.updates, m.ctx
	return func() tea.Msg {
		select {
		case k := <-updates:
			return entryMsg{key: k}
		case <-ctx.Done():
			return tea.QuitMsg{}
		}
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
		m.ready = true
		m.updateDetail()
		return m, nil

	case tickMsg:
		m.pull()
		m.updateDetail()
		return m, m.tickCmd()

	case entryMsg:
		m.reload(msg.key)
		m.updateDetail()
		return m, m.waitForUpdate()
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Up):
		m.move(-1)
	case key.Matches(msg, m.keys.Down):
		m.move(1)
	case key.Matches(msg, m.keys.Top):
		m.move(-len(m.watch))
	case key.Matches(msg, m.keys.Bottom):
		m.move(len(m.watch))
	case key.Matches(msg, m.keys.Refresh):
		if k, ok := m.selectedKey(); ok {
			m.src.Invalidate(m.ctx, k)
			m.notice = "refreshing " + k
		}
	case key.Matches(msg, m.keys.CycleTheme):
		m.cycleTheme()
	case key.Matches(msg, m.keys.ScrollUp):
		m.detail.HalfPageUp()
	case key.Matches(msg, m.keys.ScrollDown):
		m.detail.HalfPageDown()
	}
	return m, nil
}

func (m *Model) move(delta int) {
	if len(m.watch) == 0 {
		return
	}
	m.selected = min(max(m.selected+delta, 0), len(m.watch)-1)
	m.detail.GotoTop()
	m.updateDetail()
}

func (m *Model) cycleTheme() {
	m.theme = GetTheme(NextTheme(m.theme.Name))
	m.styles = m.theme.Styles()
	p, _ := prefs.Load(m.prefsPath)
	p.Theme = m.theme.Name
	if err := prefs.Save(m.prefsPath, p); err != nil {
		m.notice = err.Error()
		return
	}
	m.notice = "theme: " + m.theme.Name
}

func (m Model) selectedKey() (string, bool) {
	if m.selected < 0 || m.selected >= len(m.watch) {
		return "", false
	}
	return m.watch[m.selected], true
}

// pull reads every watched key through the coordinator, which decides
// whether the network is needed.
func (m *Model) pull() {
	for _, k := range m.watch {
		var (
			e  state.Entry
			ok bool
		)
		if heedy.IsListKey(k) {
			e, ok = m.src.Ls(m.ctx, k)
		} else {
			e, ok = m.src.Get(m.ctx, k)
		}
		if ok || e.Value.IsError() {
			m.entries[k] = e
		} else {
			delete(m.entries, k)
		}
	}
}

func (m *Model) reload(k string) {
	if e, ok := m.src.Store().Get(k); ok {
		m.entries[k] = e
		return
	}
	delete(m.entries, k)
}

// Run starts the watch UI and blocks until the user quits or ctx ends.
func Run(ctx context.Context, opts Options) error {
	if opts.Source == nil {
		return errors.New("ui requires a cache source")
	}
	opts.Context = ctx
	m := New(opts)
	defer m.Close()

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
