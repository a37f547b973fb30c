package syncconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// isolate points the config dir at a temp dir and clears every override.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("RIFF_CONFIG_DIR", dir)
	for _, k := range []string{
		"RIFF_SYNC_URL", "RIFF_AUTH_KEY", "RIFF_USER_ID", "RIFF_DATA_DIR",
		"RIFF_SYNC_AUTO", "RIFF_SYNC_INTERVAL", "RIFF_SYNC_STRATEGY",
		"RIFF_SYNC_REQUEST_TIMEOUT", "RIFF_SYNC_CYCLE_TIMEOUT", "RIFF_SYNC_MAX_ATTEMPTS",
	} {
		t.Setenv(k, "")
	}
	return dir
}

func writeTestConfig(t *testing.T, body string) {
	t.Helper()
	dir := isolate(t)
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte(body), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func intPtr(n int) *int    { return &n }
func boolPtr(b bool) *bool { return &b }

func TestDefaults(t *testing.T) {
	isolate(t)

	if got := GetServerURL(); got != defaultServerURL {
		t.Errorf("server url = %q", got)
	}
	if !GetAutoSyncEnabled() {
		t.Error("auto-sync should default on")
	}
	if d := GetAutoSyncInterval(); d != 5*time.Minute {
		t.Errorf("interval = %v", d)
	}
	if d := GetRequestTimeout(); d != 15*time.Second {
		t.Errorf("request timeout = %v", d)
	}
	if d := GetCycleTimeout(); d != 2*time.Minute {
		t.Errorf("cycle timeout = %v", d)
	}
	if s := GetStrategy(); s != "latest" {
		t.Errorf("strategy = %q", s)
	}
	if n := GetMaxAttempts(); n != 5 {
		t.Errorf("max attempts = %d", n)
	}
	if IsAuthenticated() {
		t.Error("no credentials should mean unauthenticated")
	}
}

func TestValuesFromConfigFile(t *testing.T) {
	writeTestConfig(t, `
data_dir = "/var/lib/riff"

[sync]
url = "https://sync.example.com"
strategy = "Manual"
request_timeout = "3s"
cycle_timeout = "45s"
max_attempts = 9

[sync.auto]
enabled = false
interval = "15m"
`)

	if got := GetServerURL(); got != "https://sync.example.com" {
		t.Errorf("server url = %q", got)
	}
	if GetAutoSyncEnabled() {
		t.Error("expected auto-sync disabled from config")
	}
	if d := GetAutoSyncInterval(); d != 15*time.Minute {
		t.Errorf("interval = %v", d)
	}
	if d := GetRequestTimeout(); d != 3*time.Second {
		t.Errorf("request timeout = %v", d)
	}
	if d := GetCycleTimeout(); d != 45*time.Second {
		t.Errorf("cycle timeout = %v", d)
	}
	if s := GetStrategy(); s != "manual" {
		t.Errorf("strategy = %q", s)
	}
	if n := GetMaxAttempts(); n != 9 {
		t.Errorf("max attempts = %d", n)
	}
	if dir, _ := GetDataDir(); dir != "/var/lib/riff" {
		t.Errorf("data dir = %q", dir)
	}
}

func TestEnvOverridesConfig(t *testing.T) {
	writeTestConfig(t, `
[sync]
url = "https://sync.example.com"
strategy = "manual"
max_attempts = 9

[sync.auto]
enabled = false
interval = "15m"
`)

	t.Setenv("RIFF_SYNC_URL", "http://127.0.0.1:9000")
	t.Setenv("RIFF_SYNC_AUTO", "1")
	t.Setenv("RIFF_SYNC_INTERVAL", "30s")
	t.Setenv("RIFF_SYNC_STRATEGY", "merge")
	t.Setenv("RIFF_SYNC_MAX_ATTEMPTS", "2")
	t.Setenv("RIFF_DATA_DIR", "/tmp/riff-data")

	if got := GetServerURL(); got != "http://127.0.0.1:9000" {
		t.Errorf("server url = %q", got)
	}
	if !GetAutoSyncEnabled() {
		t.Error("env should override config for enabled")
	}
	if d := GetAutoSyncInterval(); d != 30*time.Second {
		t.Errorf("interval = %v", d)
	}
	if s := GetStrategy(); s != "merge" {
		t.Errorf("strategy = %q", s)
	}
	if n := GetMaxAttempts(); n != 2 {
		t.Errorf("max attempts = %d", n)
	}
	if dir, _ := GetDataDir(); dir != "/tmp/riff-data" {
		t.Errorf("data dir = %q", dir)
	}
}

func TestInvalidValuesFallThrough(t *testing.T) {
	writeTestConfig(t, `
[sync]
request_timeout = "soon"
max_attempts = -1

[sync.auto]
interval = "-5m"
`)
	t.Setenv("RIFF_SYNC_CYCLE_TIMEOUT", "forever")
	t.Setenv("RIFF_SYNC_AUTO", "maybe")

	if d := GetRequestTimeout(); d != defaultRequestTimeout {
		t.Errorf("request timeout = %v", d)
	}
	if d := GetAutoSyncInterval(); d != defaultInterval {
		t.Errorf("interval = %v", d)
	}
	if d := GetCycleTimeout(); d != defaultCycleTimeout {
		t.Errorf("cycle timeout = %v", d)
	}
	if n := GetMaxAttempts(); n != defaultMaxAttempts {
		t.Errorf("max attempts = %d", n)
	}
	if !GetAutoSyncEnabled() {
		t.Error("unparseable bool should fall through to default")
	}
}

func TestSaveAndLoadConfig(t *testing.T) {
	isolate(t)
	cfg := &Config{Sync: SyncConfig{
		URL:         "https://sync.example.com",
		MaxAttempts: intPtr(3),
		Auto:        AutoSyncConfig{Enabled: boolPtr(false), Interval: "1m"},
	}}
	if err := SaveConfig(cfg); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := LoadConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Sync.URL != cfg.Sync.URL || *got.Sync.MaxAttempts != 3 || *got.Sync.Auto.Enabled {
		t.Errorf("round trip = %+v", got.Sync)
	}
}

func TestMalformedConfig(t *testing.T) {
	writeTestConfig(t, "[sync\nurl = ")
	if _, err := LoadConfig(); err == nil {
		t.Error("expected parse error")
	}
	if got := GetServerURL(); got != defaultServerURL {
		t.Errorf("getters should fall back to defaults, got %q", got)
	}
}

func TestAuthCredentials(t *testing.T) {
	dir := isolate(t)

	if creds, err := LoadAuth(); err != nil || creds != nil {
		t.Fatalf("empty LoadAuth = %+v, %v", creds, err)
	}
	if err := SaveAuth(&AuthCredentials{APIKey: "rk_test", UserID: "u1", DeviceID: "dev1", ServerURL: "https://a.example"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	info, err := os.Stat(filepath.Join(dir, "auth.json"))
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("auth.json perms = %o, want 600", perm)
	}
	if !IsAuthenticated() || GetAPIKey() != "rk_test" || GetUserID() != "u1" {
		t.Error("credentials not picked up")
	}
	if got := GetServerURL(); got != "https://a.example" {
		t.Errorf("server url from auth.json = %q", got)
	}
	if id, _ := GetDeviceID(); id != "dev1" {
		t.Errorf("device id = %q", id)
	}

	t.Setenv("RIFF_AUTH_KEY", "rk_env")
	if GetAPIKey() != "rk_env" {
		t.Error("env should override auth.json")
	}

	if err := ClearAuth(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if err := ClearAuth(); err != nil {
		t.Errorf("second clear: %v", err)
	}
	t.Setenv("RIFF_AUTH_KEY", "")
	if IsAuthenticated() {
		t.Error("still authenticated after clear")
	}
}

func TestGenerateDeviceID(t *testing.T) {
	a, err := GenerateDeviceID()
	if err != nil {
		t.Fatal(err)
	}
	b, _ := GenerateDeviceID()
	if len(a) != 32 || a == b {
		t.Errorf("device ids %q %q", a, b)
	}
}
