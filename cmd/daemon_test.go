package cmd

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"

	riffsync "github.com/marcus/riff/internal/sync"
	"github.com/marcus/riff/internal/syncconfig"
)

// linkedDaemon links the store to u1 and returns a daemon over a fresh session.
func linkedDaemon(t *testing.T) *daemon {
	t.Helper()
	setupRiff(t)

	store := openTestStore(t)
	if err := store.SetSyncState("u1", ""); err != nil {
		t.Fatal(err)
	}
	store.Close()
	if err := syncconfig.SaveAuth(&syncconfig.AuthCredentials{APIKey: "riff_old", UserID: "u1"}); err != nil {
		t.Fatal(err)
	}

	s, err := openSession()
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	dir, err := syncconfig.ConfigDir()
	if err != nil {
		t.Fatal(err)
	}
	return &daemon{s: s, log: slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)), interval: syncconfig.GetAutoSyncInterval(), configDir: dir}
}

func TestDaemonReloadConfig(t *testing.T) {
	d := linkedDaemon(t)
	if d.s.coord.Strategy() != riffsync.StrategyLatest {
		t.Fatalf("initial strategy = %s", d.s.coord.Strategy())
	}

	cfg, err := syncconfig.LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	cfg.Sync.Strategy = "manual"
	cfg.Sync.Auto.Interval = "45s"
	if err := syncconfig.SaveConfig(cfg); err != nil {
		t.Fatal(err)
	}

	if err := d.reload("config.toml"); err != nil {
		t.Fatalf("reload: %v", err)
	}
	defer d.s.coord.StopAutoSync()
	if d.s.coord.Strategy() != riffsync.StrategyManual {
		t.Errorf("strategy = %s, want manual", d.s.coord.Strategy())
	}
	if d.interval != 45*time.Second {
		t.Errorf("interval = %v, want 45s", d.interval)
	}
}

func TestDaemonReloadAuth(t *testing.T) {
	d := linkedDaemon(t)

	store := d.s.db
	if err := store.SetAuthRequired(true); err != nil {
		t.Fatal(err)
	}
	if err := syncconfig.SaveAuth(&syncconfig.AuthCredentials{APIKey: "riff_new", UserID: "u1"}); err != nil {
		t.Fatal(err)
	}
	if err := d.reload("auth.json"); err != nil {
		t.Fatalf("reload: %v", err)
	}
	st, err := store.GetSyncState()
	if err != nil {
		t.Fatal(err)
	}
	if st.AuthRequired {
		t.Error("new credentials should clear the auth-required flag")
	}

	if err := syncconfig.SaveAuth(&syncconfig.AuthCredentials{APIKey: "riff_other", UserID: "u2"}); err != nil {
		t.Fatal(err)
	}
	err = d.reload("auth.json")
	if err == nil || !strings.Contains(err.Error(), "another user") {
		t.Errorf("expected another-user error, got %v", err)
	}

	if err := syncconfig.ClearAuth(); err != nil {
		t.Fatal(err)
	}
	if err := d.reload("auth.json"); err != nil {
		t.Errorf("removed credentials should not fail reload: %v", err)
	}
}

func TestDaemonRequiresLogin(t *testing.T) {
	setupRiff(t)
	if _, err := runRiff(t, "daemon"); err == nil || !strings.Contains(err.Error(), "not logged in") {
		t.Fatalf("expected not logged in, got %v", err)
	}
}
