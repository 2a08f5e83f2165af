package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/five82/mirror/internal/app"
	"github.com/five82/mirror/internal/config"
	"github.com/five82/mirror/internal/heedy"
	"github.com/five82/mirror/internal/logtail"
	"github.com/five82/mirror/internal/state"
)

type globalFlags struct {
	configPath string
	prefsPath  string
	freshness  time.Duration
	noPush     bool
}

func (f *globalFlags) register(cmd *cobra.Command) {
	pf := cmd.PersistentFlags()
	pf.StringVar(&f.configPath, "config", "", "config file (default ~/.config/mirror/config.toml)")
	pf.StringVar(&f.prefsPath, "prefs", "", "preferences file (default ~/.config/mirror/prefs.toml)")
	pf.DurationVar(&f.freshness, "freshness", 0, "override the refresh window (e.g. 500ms, 0 refreshes on every read)")
	pf.BoolVar(&f.noPush, "no-push", false, "disable the websocket event channel")
}

func (f *globalFlags) options(cmd *cobra.Command, watch []string) app.Options {
	opts := app.Options{
		ConfigPath: f.configPath,
		PrefsPath:  f.prefsPath,
		Watch:      watch,
		NoPush:     f.noPush,
	}
	if cmd.Flags().Changed("freshness") {
		d := f.freshness
		opts.Freshness = &d
	}
	return opts
}

func runWatch(cmd *cobra.Command, flags *globalFlags, args []string) error {
	return app.Run(cmd.Context(), flags.options(cmd, args))
}

func newWatchCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "watch [paths...]",
		Short: "Watch paths in a live terminal view",
		Long: "Watch entity paths (alice, alice/phone, source:abc) or listings " +
			"(alice/, source:) in a live view. With no paths the remembered watch " +
			"list is used, falling back to the user list.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, flags, args)
		},
	}
}

func newSyncCmd(flags *globalFlags) *cobra.Command {
	var logStderr bool
	cmd := &cobra.Command{
		Use:   "sync [paths...]",
		Short: "Keep paths cached on disk without a UI",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := flags.options(cmd, args)
			opts.LogStderr = logStderr
			a, err := app.Open(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if err := a.Sync(cmd.Context()); err != nil {
				_ = a.Close()
				return err
			}
			return a.Close()
		},
	}
	cmd.Flags().BoolVar(&logStderr, "log-stderr", false, "also write logs to stderr")
	return cmd
}

// withOneShot opens the app without push, runs fn and closes it.
func withOneShot(cmd *cobra.Command, flags *globalFlags, fn func(a *app.App) error) error {
	opts := flags.options(cmd, nil)
	opts.NoPush = true
	a, err := app.Open(cmd.Context(), opts)
	if err != nil {
		return err
	}
	runErr := fn(a)
	return errors.Join(runErr, a.Close())
}

func newGetCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "get <path>",
		Short: "Print one entity as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOneShot(cmd, flags, func(a *app.App) error {
				return printEntry(cmd.OutOrStdout(), a.Get(cmd.Context(), args[0]))
			})
		},
	}
}

func newLsCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "ls [prefix]",
		Short: "Print the direct children of a prefix as JSON",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix := ""
			if len(args) == 1 {
				prefix = args[0]
			}
			return withOneShot(cmd, flags, func(a *app.App) error {
				return printEntry(cmd.OutOrStdout(), a.Ls(cmd.Context(), prefix))
			})
		},
	}
}

func newCreateCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "create <path> <json>",
		Short: "Create an entity (use source: to let the server pick the id)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := parsePayload(args[1])
			if err != nil {
				return err
			}
			return withOneShot(cmd, flags, func(a *app.App) error {
				return printValue(cmd.OutOrStdout(), args[0], a.Coordinator.Create(cmd.Context(), args[0], payload))
			})
		},
	}
}

func newUpdateCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "update <path> <json>",
		Short: "Update fields of an entity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := parsePayload(args[1])
			if err != nil {
				return err
			}
			return withOneShot(cmd, flags, func(a *app.App) error {
				return printValue(cmd.OutOrStdout(), args[0], a.Coordinator.Update(cmd.Context(), args[0], payload))
			})
		},
	}
}

func newDeleteCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <path>",
		Aliases: []string{"rm"},
		Short:   "Delete an entity",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOneShot(cmd, flags, func(a *app.App) error {
				return printValue(cmd.OutOrStdout(), args[0], a.Coordinator.Delete(cmd.Context(), args[0]))
			})
		},
	}
}

func newLogsCmd(flags *globalFlags) *cobra.Command {
	var lines int
	var plain bool
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the tail of mirror's log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(flags.configPath)
			if err != nil {
				return fmt.Errorf("load mirror config: %w", err)
			}
			out, err := logtail.Read(cfg.LogPath(), lines)
			if err != nil {
				return fmt.Errorf("read log: %w", err)
			}
			w := cmd.OutOrStdout()
			for _, line := range out {
				fmt.Fprintln(w, logtail.Format(line, !plain))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "number of lines (0 for all)")
	cmd.Flags().BoolVar(&plain, "plain", false, "disable colors")
	return cmd
}

func parsePayload(raw string) (heedy.Object, error) {
	var obj heedy.Object
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil, fmt.Errorf("parse payload: %w", err)
	}
	return obj, nil
}

type entryJSON struct {
	Path      string          `json:"path"`
	Seq       uint64          `json:"seq,omitempty"`
	FetchedAt *time.Time      `json:"fetched_at,omitempty"`
	Deleted   bool            `json:"deleted,omitempty"`
	Object    heedy.Object    `json:"object,omitempty"`
	Error     *heedy.ErrorRef `json:"error,omitempty"`
}

// errEntry reports that the printed entry holds an error.
var errEntry = errors.New("server returned an error")

func printEntry(w io.Writer, e state.Entry) error {
	out := entryJSON{
		Path:    e.Path,
		Seq:     e.Seq,
		Deleted: e.Value.Deleted,
		Object:  e.Value.Object,
		Error:   e.Value.Err,
	}
	if !e.FetchedAt.IsZero() {
		t := e.FetchedAt
		out.FetchedAt = &t
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}
	if e.Value.IsError() {
		return fmt.Errorf("%s: %w", e.Path, errEntry)
	}
	return nil
}

func printValue(w io.Writer, path string, v state.Value) error {
	return printEntry(w, state.Entry{Path: path, Value: v})
}
