package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/five82/mirror/internal/config"
	"github.com/five82/mirror/internal/heedy"
	"github.com/five82/mirror/internal/logging"
	"github.com/five82/mirror/internal/persist"
	"github.com/five82/mirror/internal/prefs"
	"github.com/five82/mirror/internal/push"
	"github.com/five82/mirror/internal/reconcile"
	"github.com/five82/mirror/internal/state"
	"github.com/five82/mirror/internal/syncer"
	"github.com/five82/mirror/internal/ui"
)

// Options configure the mirror application.
type Options struct {
	ConfigPath string
	PrefsPath  string         // empty uses default ~/.config/mirror/prefs.toml
	Freshness  *time.Duration // overrides freshness_ms when set
	Watch      []string       // empty falls back to the remembered watch list
	NoPush     bool
	LogStderr  bool
}

// App holds the wired cache and its background workers.
type App struct {
	Config      config.Config
	Prefs       prefs.Prefs
	Logger      *zap.Logger
	Store       *state.Store
	Client      *heedy.Client
	Coordinator *syncer.Coordinator
	Reconciler  *reconcile.Reconciler
	Push        *push.Client // nil when push is disabled

	watch   []string
	db      *persist.DB
	journal *persist.Journal

	runCtx        context.Context
	cancelRun     context.CancelFunc
	cancelJournal context.CancelFunc
	workers       sync.WaitGroup
	journalDone   chan struct{}
	closeOnce     sync.Once
	closeErr      error
}

// Open loads configuration, restores the persisted cache and starts the
// push channel and journal. Call Close to stop them.
func Open(ctx context.Context, opts Options) (*App, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load mirror config: %w", err)
	}
	if opts.Freshness != nil {
		cfg.FreshnessMS = int(opts.Freshness.Milliseconds())
	}
	if opts.NoPush {
		cfg.Push = false
	}

	userPrefs, _ := prefs.Load(opts.PrefsPath)

	logger, err := logging.New(logging.Options{
		Path:   cfg.LogPath(),
		Level:  cfg.LogLevel,
		Stderr: opts.LogStderr,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	client, err := heedy.NewClient(cfg.Server)
	if err != nil {
		_ = logger.Sync()
		return nil, fmt.Errorf("init heedy client: %w", err)
	}

	a := &App{
		Config: cfg,
		Prefs:  userPrefs,
		Logger: logger,
		Store:  state.NewStore(state.NewRegistry(logger)),
		Client: client,
		watch:  opts.Watch,
	}
	if len(a.watch) == 0 {
		a.watch = userPrefs.Watch
	}

	if cfg.Persist {
		if err := a.openPersistence(); err != nil {
			_ = logger.Sync()
			return nil, err
		}
	}

	a.runCtx, a.cancelRun = context.WithCancel(ctx)

	a.Reconciler = reconcile.New(a.Store,
		reconcile.WithLogger(logger),
		reconcile.WithRefetch(func(path string) {
			a.Coordinator.Invalidate(a.runCtx, path)
		}),
	)

	syncOpts := []syncer.Option{
		syncer.WithFreshness(cfg.Freshness()),
		syncer.WithLogger(logger),
	}
	if cfg.Push {
		pc, err := push.NewClient(cfg.Server, a.onEvent,
			push.WithLogger(logger),
			push.WithSubscriptions(a.subscriptions()...),
			push.WithUserAgent(client.UserAgent()),
		)
		if err != nil {
			a.cancelRun()
			_ = a.closePersistence()
			_ = logger.Sync()
			return nil, fmt.Errorf("init push client: %w", err)
		}
		a.Push = pc
		syncOpts = append(syncOpts, syncer.WithPush(pc))
	}
	a.Coordinator = syncer.New(a.Store, client, syncOpts...)
	if a.Push != nil {
		a.Push.OnStatus(a.onPushStatus)
	}

	if a.Push != nil {
		a.workers.Add(1)
		go func() {
			defer a.workers.Done()
			_ = a.Push.Run(a.runCtx)
		}()
	}

	logger.Info("mirror started",
		zap.String("server", client.BaseURL().String()),
		zap.Bool("push", a.Push != nil),
		zap.Bool("persist", a.db != nil),
		zap.Duration("freshness", cfg.Freshness()))
	return a, nil
}

func (a *App) openPersistence() error {
	db, err := persist.Open(a.Config.DatabasePath())
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	entries, err := db.Load()
	if err != nil {
		// Undecodable records are skipped; the rest still restores.
		a.Logger.Warn("cache partially unreadable", zap.Error(err))
	}
	restored := a.Store.Restore(entries)
	a.Logger.Info("cache restored", zap.String("path", db.Path()), zap.Int("entries", restored))
	if errors.Is(err, persist.ErrCorrupt) {
		if err := db.Save(a.Store.Entries()); err != nil {
			a.Logger.Warn("cache compaction failed", zap.Error(err))
		} else {
			a.Logger.Info("cache compacted", zap.Int("entries", a.Store.Len()))
		}
	}

	a.db = db
	a.journal = persist.NewJournal(db, a.Store, a.Config.FlushInterval(), a.Logger)

	// The journal outlives the run context so its final flush sees every
	// write made before Close.
	var jctx context.Context
	jctx, a.cancelJournal = context.WithCancel(context.Background())
	a.journalDone = make(chan struct{})
	go func() {
		defer close(a.journalDone)
		a.journal.Run(jctx)
	}()
	return nil
}

func (a *App) closePersistence() error {
	if a.db == nil {
		return nil
	}
	a.cancelJournal()
	<-a.journalDone
	if err := a.db.Close(); err != nil {
		return fmt.Errorf("close cache: %w", err)
	}
	return nil
}

func (a *App) onEvent(ev heedy.Event) {
	a.Reconciler.OnEvent(ev)
}

// onPushStatus refreshes the watched keys on every connect, since events
// sent while the channel was down are lost.
func (a *App) onPushStatus(connected bool) {
	if !connected {
		a.Logger.Info("push channel lost")
		return
	}
	keys := a.watchKeys()
	a.Logger.Info("push channel live", zap.Strings("refresh", keys))
	for _, k := range keys {
		a.Coordinator.Invalidate(a.runCtx, k)
	}
}

// watchKeys maps the watched paths to cache keys, defaulting to the user
// list.
func (a *App) watchKeys() []string {
	if len(a.watch) == 0 {
		return []string{heedy.RootList}
	}
	keys := make([]string, 0, len(a.watch))
	for _, w := range a.watch {
		if heedy.ValidatePath(w) == nil {
			keys = append(keys, w)
			continue
		}
		if k, err := heedy.ListKey(w); err == nil {
			keys = append(keys, k)
		}
	}
	return keys
}

// subscriptions returns the configured push subscriptions, or the watched
// paths when none are configured.
func (a *App) subscriptions() []string {
	if len(a.Config.Subscriptions) > 0 {
		return a.Config.Subscriptions
	}
	return a.watch
}

// Watch returns the paths the watch UI and refresher follow.
func (a *App) Watch() []string {
	return a.watch
}

// Context is cancelled when the app closes.
func (a *App) Context() context.Context {
	return a.runCtx
}

// Close stops push and background refreshes, flushes the cache to disk and
// syncs the logger. It is safe to call more than once.
func (a *App) Close() error {
	a.closeOnce.Do(func() {
		a.cancelRun()
		a.workers.Wait()
		a.Coordinator.Wait()

		var errs []error
		if err := a.closePersistence(); err != nil {
			errs = append(errs, err)
		}
		a.Logger.Info("mirror stopped", zap.Any("events", a.Reconciler.Stats()))
		_ = a.Logger.Sync()
		a.closeErr = errors.Join(errs...)
	})
	return a.closeErr
}

// Get returns path from the cache, fetching it first unless the cached copy
// is still fresh. When the fetch fails the last good copy is returned.
func (a *App) Get(ctx context.Context, path string) state.Entry {
	return a.read(ctx, path, a.Coordinator.Refresh)
}

// Ls is Get for the listing of prefix.
func (a *App) Ls(ctx context.Context, prefix string) state.Entry {
	key, err := heedy.ListKey(prefix)
	if err != nil {
		return state.Entry{Path: prefix, Value: state.ErrorValue(err)}
	}
	return a.read(ctx, key, a.Coordinator.RefreshList)
}

func (a *App) read(ctx context.Context, key string, refresh func(context.Context, string) state.Entry) state.Entry {
	cached, ok := a.Store.Get(key)
	if ok && cached.FreshAt(a.Store.Now(), a.Config.Freshness()) {
		return cached
	}
	e := refresh(ctx, key)
	if e.Value.IsError() && ok && cached.Value.OK() {
		a.Logger.Info("serving cached copy", zap.String("path", key), zap.String("error", e.Value.Err.Name))
		return cached
	}
	return e
}

// Run boots the watch UI until the user quits or ctx is cancelled.
func Run(ctx context.Context, opts Options) error {
	a, err := Open(ctx, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	// Populate watched entries before the first frame.
	warmCtx, cancel := context.WithTimeout(a.runCtx, warmTimeout)
	a.warm(warmCtx)
	cancel()

	uiOpts := ui.Options{
		Source:    a.Coordinator,
		Server:    a.Client.BaseURL().String(),
		Watch:     a.watch,
		ThemeName: a.Prefs.Theme,
		PrefsPath: opts.PrefsPath,
	}
	if a.Push != nil {
		uiOpts.Push = a.Push
	}
	if err := ui.Run(a.runCtx, uiOpts); err != nil {
		return fmt.Errorf("run ui: %w", err)
	}
	return a.Close()
}

// Sync keeps the watched paths fresh without a UI until ctx is cancelled.
// With persistence on, this keeps the on-disk cache warm for later offline
// use.
func (a *App) Sync(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(a.runCtx, cancel)
	defer stop()

	a.Logger.Info("sync started", zap.Strings("watch", a.watch), zap.Duration("interval", a.refreshInterval()))
	<-StartRefresher(ctx, a.Coordinator, a.watch, a.refreshInterval(), a.Logger)
	return nil
}

func (a *App) refreshInterval() time.Duration {
	if d := a.Config.Freshness(); d > 0 {
		return d
	}
	return defaultRefreshInterval
}
