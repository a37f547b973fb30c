package cmd

import (
	"strings"
	"testing"
	"time"

	"github.com/marcus/riff/internal/models"
	riffsync "github.com/marcus/riff/internal/sync"
	"github.com/marcus/riff/internal/syncconfig"
)

func TestConfigSetGet(t *testing.T) {
	setupRiff(t)

	if out := mustRiff(t, "config", "get", "sync.strategy"); strings.TrimSpace(out) != "latest (default)" {
		t.Errorf("unset strategy = %q", out)
	}

	mustRiff(t, "config", "set", "sync.strategy", "Manual")
	mustRiff(t, "config", "set", "sync.auto.interval", "90s")
	mustRiff(t, "config", "set", "sync.max_attempts", "8")
	mustRiff(t, "config", "set", "sync.auto.enabled", "false")

	if out := mustRiff(t, "config", "get", "sync.strategy"); strings.TrimSpace(out) != "manual" {
		t.Errorf("strategy = %q", out)
	}
	if got := syncconfig.GetAutoSyncInterval(); got != 90*time.Second {
		t.Errorf("interval = %v", got)
	}
	if got := syncconfig.GetMaxAttempts(); got != 8 {
		t.Errorf("max attempts = %d", got)
	}
	if syncconfig.GetAutoSyncEnabled() {
		t.Error("auto sync should be disabled")
	}

	out := mustRiff(t, "config", "list")
	if !strings.Contains(out, "sync.strategy") || !strings.Contains(out, "config.toml") {
		t.Errorf("config list:\n%s", out)
	}
}

func TestConfigRejectsBadValues(t *testing.T) {
	setupRiff(t)
	cases := [][]string{
		{"config", "set", "sync.strategy", "newest"},
		{"config", "set", "sync.auto.interval", "soon"},
		{"config", "set", "sync.request_timeout", "-1s"},
		{"config", "set", "sync.max_attempts", "0"},
		{"config", "set", "sync.auto.enabled", "maybe"},
		{"config", "set", "no.such.key", "1"},
		{"config", "get", "no.such.key"},
	}
	for _, args := range cases {
		if _, err := runRiff(t, args...); err == nil {
			t.Errorf("riff %v: expected error", args)
		}
	}
}

func TestConfiguredStrategyPrefersStore(t *testing.T) {
	setupRiff(t)
	mustRiff(t, "config", "set", "sync.strategy", "merge")
	if got := configuredStrategy(nil); got != riffsync.StrategyMerge {
		t.Errorf("config strategy = %s", got)
	}

	store := openTestStore(t)
	if err := store.SetSyncState("u1", "manual"); err != nil {
		t.Fatal(err)
	}
	st, err := store.GetSyncState()
	if err != nil {
		t.Fatal(err)
	}
	if got := configuredStrategy(st); got != riffsync.StrategyManual {
		t.Errorf("store strategy = %s", got)
	}

	t.Setenv("RIFF_SYNC_STRATEGY", "bogus")
	if got := configuredStrategy(nil); got != riffsync.StrategyLatest {
		t.Errorf("bad strategy should fall back to latest, got %s", got)
	}
}

func TestParseBool(t *testing.T) {
	for in, want := range map[string]bool{"true": true, "1": true, "FALSE": false, "0": false} {
		got, err := parseBool(in)
		if err != nil || got != want {
			t.Errorf("parseBool(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := parseBool("yes"); err == nil {
		t.Error("yes should not parse")
	}
}

func TestFlagValues(t *testing.T) {
	var s strategyFlag
	if err := s.Set(" MERGE "); err != nil || s.value != riffsync.StrategyMerge {
		t.Errorf("strategy: %v %v", s.value, err)
	}
	if err := s.Set("newest"); err == nil {
		t.Error("unknown strategy accepted")
	}
	if err := s.Set(""); err != nil || s.value != "" {
		t.Errorf("empty strategy should reset: %v %v", s.value, err)
	}

	var k keepFlag
	if err := k.Set("Remote"); err != nil || k.value != riffsync.KeepRemote {
		t.Errorf("keep: %v %v", k.value, err)
	}
	if err := k.Set("both"); err == nil {
		t.Error("keep both accepted")
	}

	var st songStatusFlag
	if err := st.Set("mastered"); err != nil || st.value != models.SongMastered {
		t.Errorf("status: %v %v", st.value, err)
	}
	if err := st.Set(""); err == nil {
		t.Error("empty status accepted")
	}

	for in, want := range map[string]models.RecordType{
		"session": models.TypePracticeSession,
		"goals":   models.TypeGoal,
		"songs":   models.TypeRepertoire,
		"setting": models.TypeSettings,
	} {
		if got, err := parseRecordType(in); err != nil || got != want {
			t.Errorf("parseRecordType(%q) = %s, %v", in, got, err)
		}
	}
	if _, err := parseRecordType("issue"); err == nil {
		t.Error("issue should not parse")
	}
}
