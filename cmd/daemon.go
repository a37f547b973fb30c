package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
	riffsync "github.com/marcus/riff/internal/sync"
	"github.com/marcus/riff/internal/syncconfig"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
)

const reloadDebounce = 250 * time.Millisecond

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Keep syncing in the background until interrupted",
	Long: `Runs periodic incremental syncs, follows the server's change feed and probes
connectivity while offline. Edits to config.toml and auth.json are picked up
without a restart. SIGUSR1 triggers an immediate sync.`,
	GroupID: "sync",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logFile, _ := cmd.Flags().GetString("log-file")
		var w io.Writer = cmd.ErrOrStderr()
		if logFile != "" {
			rotator := &lumberjack.Logger{
				Filename:   logFile,
				MaxSize:    10, // megabytes
				MaxBackups: 3,
				MaxAge:     28, // days
			}
			defer rotator.Close()
			w = rotator
		}
		logger := daemonLogger(w, logFile != "")
		slog.SetDefault(logger)

		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()
		if _, err := s.requireLinked(); err != nil {
			return err
		}

		interval, _ := cmd.Flags().GetDuration("interval")
		if interval <= 0 {
			interval = syncconfig.GetAutoSyncInterval()
		}
		if rate, _ := cmd.Flags().GetFloat64("write-rate"); rate > 0 {
			s.coord.Queue().SetRate(rate, max(1, int(rate)))
		}

		configDir, err := syncconfig.ConfigDir()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		visible := make(chan os.Signal, 1)
		if sigs := visibleSignals(); len(sigs) > 0 {
			signal.Notify(visible, sigs...)
			defer signal.Stop(visible)
		}

		d := &daemon{s: s, log: logger, interval: interval, configDir: configDir}
		return d.run(ctx, visible)
	},
}

// daemonLogger logs at info by default; files get logfmt without color.
func daemonLogger(w io.Writer, toFile bool) *slog.Logger {
	level := log.InfoLevel
	if verbose {
		level = log.DebugLevel
	}
	opts := log.Options{ReportTimestamp: true, Level: level, Prefix: "riff"}
	if toFile {
		opts.Formatter = log.LogfmtFormatter
		opts.TimeFormat = time.RFC3339
	}
	return slog.New(log.NewWithOptions(w, opts))
}

// daemon drives one coordinator's auto-sync loop and reacts to host events.
type daemon struct {
	s         *session
	log       *slog.Logger
	interval  time.Duration
	configDir string
}

func (d *daemon) run(ctx context.Context, visible <-chan os.Signal) error {
	coord := d.s.coord
	notes, unsubscribe := coord.Subscribe(64)
	defer unsubscribe()

	if auto := syncconfig.GetAutoSyncEnabled(); !auto {
		d.log.Warn("sync.auto.enabled is false; the daemon syncs anyway")
	}
	if err := coord.StartAutoSync(d.interval); err != nil {
		return err
	}
	defer coord.StopAutoSync()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(d.configDir); err != nil {
		return fmt.Errorf("watch %s: %w", d.configDir, err)
	}

	d.log.Info("daemon started", "user", d.s.userID, "interval", d.interval, "config", d.configDir)

	pending := map[string]bool{}
	var reload <-chan time.Time
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			d.log.Info("shutdown signal received")
			return nil

		case <-visible:
			d.log.Info("sync requested by signal")
			coord.NotifyVisible()

		case n, ok := <-notes:
			if !ok {
				return nil
			}
			d.logNotification(n)

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			name := filepath.Base(ev.Name)
			if name != "config.toml" && name != "auth.json" {
				continue
			}
			pending[name] = true
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			reload = timer.C

		case <-reload:
			reload = nil
			for name := range pending {
				if err := d.reload(name); err != nil {
					d.log.Error("reload", "file", name, "err", err)
				}
			}
			clear(pending)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			d.log.Warn("config watcher", "err", err)
		}
	}
}

// reload applies an edited config.toml or auth.json to the running coordinator.
func (d *daemon) reload(name string) error {
	coord := d.s.coord
	switch name {
	case "config.toml":
		if _, err := syncconfig.LoadConfig(); err != nil {
			return err
		}
		st, err := d.s.db.GetSyncState()
		if err != nil {
			return err
		}
		if s := configuredStrategy(st); s != coord.Strategy() {
			coord.SetStrategy(s)
			d.log.Info("conflict strategy changed", "strategy", s)
		}
		if iv := syncconfig.GetAutoSyncInterval(); iv != d.interval {
			d.interval = iv
			d.log.Info("sync interval changed", "interval", iv)
			return coord.StartAutoSync(iv)
		}
	case "auth.json":
		creds, err := syncconfig.LoadAuth()
		if err != nil {
			return err
		}
		if creds == nil || creds.APIKey == "" {
			d.log.Warn("credentials removed; syncing stops at the next request")
			d.s.client.SetAPIKey("")
			return nil
		}
		if creds.UserID != d.s.userID {
			return errors.New("credentials now belong to another user; restart the daemon")
		}
		d.s.client.SetAPIKey(creds.APIKey)
		d.log.Info("credentials reloaded")
		return coord.NotifyReauthenticated()
	}
	return nil
}

func (d *daemon) logNotification(n riffsync.Notification) {
	switch n.Kind {
	case riffsync.NoteSyncCompleted:
		if n.Result != nil {
			d.log.Info("synced", "mode", n.Result.Mode, "pulled", n.Result.Pulled,
				"pushed", n.Result.Pushed, "conflicts", n.Result.Conflicts)
		}
	case riffsync.NoteSyncFailed:
		d.log.Warn("sync failed", "err", n.Err)
	case riffsync.NoteStateChanged:
		d.log.Info("state", "state", n.State)
	case riffsync.NoteConflict:
		if n.Record != nil {
			d.log.Warn("conflict held for review", "type", n.Type, "id", n.Record.ID)
		}
	case riffsync.NoteQueueEntryDropped:
		if n.Record != nil {
			d.log.Error("queued write dropped", "type", n.Type, "id", n.Record.ID, "err", n.Err)
		}
	default:
		d.log.Debug("notification", "kind", n.Kind)
	}
}

func init() {
	daemonCmd.Flags().Duration("interval", 0, "Periodic sync interval (default sync.auto.interval)")
	daemonCmd.Flags().String("log-file", "", "Write logs to a rotating file instead of stderr")
	daemonCmd.Flags().Float64("write-rate", 0, "Cap queued writes per second while draining (0 = unlimited)")
	rootCmd.AddCommand(daemonCmd)
}
