package ui

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/require"

	"github.com/five82/mirror/internal/heedy"
	"github.com/five82/mirror/internal/prefs"
	"github.com/five82/mirror/internal/state"
)

type fakeSource struct {
	store *state.Store

	mu          sync.Mutex
	reads       []string
	invalidated []string
}

func newFakeSource() *fakeSource {
	return &fakeSource{store: state.NewStore(nil)}
}

func (f *fakeSource) Get(_ context.Context, path string) (state.Entry, bool) {
	f.mu.Lock()
	f.reads = append(f.reads, path)
	f.mu.Unlock()
	if err := heedy.ValidatePath(path); err != nil {
		return state.Entry{Path: path, Value: state.ErrorValue(err)}, false
	}
	return f.store.Get(path)
}

func (f *fakeSource) Ls(_ context.Context, prefix string) (state.Entry, bool) {
	f.mu.Lock()
	f.reads = append(f.reads, prefix)
	f.mu.Unlock()
	return f.store.Get(prefix)
}

func (f *fakeSource) Invalidate(_ context.Context, key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, key)
}

func (f *fakeSource) Store() *state.Store { return f.store }

func newTestModel(t *testing.T, src *fakeSource, watch ...string) Model {
	t.Helper()
	m := New(Options{
		Source:    src,
		Server:    "http://heedy.test",
		Watch:     watch,
		PrefsPath: filepath.Join(t.TempDir(), "prefs.toml"),
	})
	t.Cleanup(m.Close)
	next, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 30})
	return next.(Model)
}

func send(m Model, msg tea.Msg) Model {
	next, _ := m.Update(msg)
	return next.(Model)
}

func runeKey(r string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(r)}
}

func TestWatchKeys(t *testing.T) {
	require.Equal(t, []string{heedy.RootList}, watchKeys(nil))
	require.Equal(t,
		[]string{"alice/", heedy.RootList, "alice", "sources:"},
		watchKeys([]string{"alice/", "", "alice", "sources:", "alice"}))
}

func TestModel_ViewBeforeResize(t *testing.T) {
	src := newFakeSource()
	m := New(Options{Source: src, PrefsPath: filepath.Join(t.TempDir(), "prefs.toml")})
	defer m.Close()
	require.Equal(t, "Loading...", m.View())
}

func TestModel_TickRendersWatchedEntries(t *testing.T) {
	src := newFakeSource()
	src.store.Put("alice", state.ObjectValue(heedy.Object{"name": "Alice", "id": "u1"}))
	src.store.Put("bob", state.ErrorValue(heedy.NewErrorRef("not_found", "no such user")))

	m := newTestModel(t, src, "alice", "bob", "carol")
	m = send(m, tickMsg(time.Now()))

	require.Equal(t, []string{"alice", "bob", "carol"}, src.reads)
	view := m.View()
	require.Contains(t, view, "Alice")
	require.Contains(t, view, "OK")
	require.Contains(t, view, "ERR")
	require.Contains(t, view, "not_found: no such user")
	require.Contains(t, view, "WAIT")
	require.Contains(t, view, "http://heedy.test")
	require.Contains(t, view, "push off")
}

func TestModel_ListRowsCountItems(t *testing.T) {
	src := newFakeSource()
	src.store.Put("alice/", state.ObjectValue(heedy.Object{
		"alice/phone":  map[string]any{"name": "phone", "id": "d1"},
		"alice/laptop": map[string]any{"name": "laptop", "id": "d2"},
	}))

	m := newTestModel(t, src, "alice/")
	m = send(m, tickMsg(time.Now()))
	require.Contains(t, m.View(), "2 items")
}

func TestModel_StoreChangesReachTheView(t *testing.T) {
	src := newFakeSource()
	m := newTestModel(t, src, "alice")

	src.store.Put("carol", state.ObjectValue(heedy.Object{"name": "Carol"}))
	src.store.Put("alice", state.ObjectValue(heedy.Object{"name": "Alice"}))

	// Only watched paths are queued.
	msg := m.waitForUpdate()()
	require.Equal(t, entryMsg{key: "alice"}, msg)
	m = send(m, msg)
	require.Contains(t, m.View(), "Alice")
	require.Empty(t, m.updates)
}

func TestModel_WaitForUpdateQuitsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	src := newFakeSource()
	m := New(Options{Context: ctx, Source: src, PrefsPath: filepath.Join(t.TempDir(), "prefs.toml")})
	defer m.Close()

	cancel()
	require.Equal(t, tea.QuitMsg{}, m.waitForUpdate()())
}

func TestModel_SelectionAndRefresh(t *testing.T) {
	src := newFakeSource()
	m := newTestModel(t, src, "alice", "bob", "carol")

	m = send(m, tea.KeyMsg{Type: tea.KeyDown})
	require.Equal(t, 1, m.selected)
	m = send(m, runeKey("G"))
	require.Equal(t, 2, m.selected)
	m = send(m, tea.KeyMsg{Type: tea.KeyDown})
	require.Equal(t, 2, m.selected)
	m = send(m, runeKey("k"))
	m = send(m, runeKey("r"))

	require.Equal(t, []string{"bob"}, src.invalidated)
	require.Contains(t, m.View(), "refreshing bob")
}

func TestModel_CycleThemeSavesPrefs(t *testing.T) {
	src := newFakeSource()
	m := newTestModel(t, src, "alice")
	require.Equal(t, "Nightfox", m.theme.Name)

	m = send(m, runeKey("t"))
	require.Equal(t, "Kanagawa", m.theme.Name)

	p, err := prefs.Load(m.prefsPath)
	require.NoError(t, err)
	require.Equal(t, "Kanagawa", p.Theme)
	require.True(t, strings.Contains(m.View(), "theme: Kanagawa"))
}

func TestModel_QuitKey(t *testing.T) {
	src := newFakeSource()
	m := newTestModel(t, src, "alice")
	_, cmd := m.Update(runeKey("q"))
	require.NotNil(t, cmd)
	require.Equal(t, tea.QuitMsg{}, cmd())
}

func TestRun_RequiresSource(t *testing.T) {
	require.Error(t, Run(context.Background(), Options{}))
}

func TestNextThemeCycles(t *testing.T) {
	name := ThemeNames()[0]
	seen := map[string]bool{}
	for range ThemeNames() {
		seen[name] = true
		name = NextTheme(name)
	}
	require.Len(t, seen, len(ThemeNames()))
	require.Equal(t, ThemeNames()[0], name)
	require.Equal(t, "Nightfox", GetTheme("missing").Name)
}
