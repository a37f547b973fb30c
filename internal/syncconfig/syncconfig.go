// Package syncconfig resolves client settings for riff: the server URL, auto-sync
// tuning, the conflict strategy and stored credentials. Every getter resolves
// env > config.toml > default.
package syncconfig

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// AutoSyncConfig holds auto-sync settings.
type AutoSyncConfig struct {
	Enabled  *bool  `toml:"enabled,omitempty"`  // nil = default true
	Interval string `toml:"interval,omitempty"` // duration string, default "5m"
}

// SyncConfig holds sync-related settings.
type SyncConfig struct {
	URL            string         `toml:"url,omitempty"`
	Strategy       string         `toml:"strategy,omitempty"`
	RequestTimeout string         `toml:"request_timeout,omitempty"`
	CycleTimeout   string         `toml:"cycle_timeout,omitempty"`
	MaxAttempts    *int           `toml:"max_attempts,omitempty"`
	Auto           AutoSyncConfig `toml:"auto"`
}

// Config is the global riff config stored at ~/.config/riff/config.toml.
type Config struct {
	DataDir string     `toml:"data_dir,omitempty"`
	Sync    SyncConfig `toml:"sync"`
}

// AuthCredentials stores authentication state at ~/.config/riff/auth.json.
type AuthCredentials struct {
	APIKey    string `json:"api_key"`
	UserID    string `json:"user_id"`
	Email     string `json:"email,omitempty"`
	ServerURL string `json:"server_url,omitempty"`
	DeviceID  string `json:"device_id"`
}

const (
	defaultServerURL      = "http://localhost:8080"
	defaultStrategy       = "latest"
	defaultInterval       = 5 * time.Minute
	defaultRequestTimeout = 15 * time.Second
	defaultCycleTimeout   = 2 * time.Minute
	defaultMaxAttempts    = 5

	configFile = "config.toml"
	authFile   = "auth.json"
)

// ConfigDir returns ~/.config/riff, creating it if necessary.
// RIFF_CONFIG_DIR overrides the location.
func ConfigDir() (string, error) {
	dir := os.Getenv("RIFF_CONFIG_DIR")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("get home dir: %w", err)
		}
		dir = filepath.Join(home, ".config", "riff")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create config dir: %w", err)
	}
	return dir, nil
}

// ConfigPath returns the path of config.toml.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFile), nil
}

// LoadConfig reads the global config. A missing file yields an empty config.
func LoadConfig() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &cfg, nil
}

// SaveConfig writes the global config.
func SaveConfig(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		f.Close()
		return fmt.Errorf("encode config: %w", err)
	}
	return f.Close()
}

// LoadAuth reads stored credentials, or nil if there are none.
func LoadAuth() (*AuthCredentials, error) {
	dir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, authFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var creds AuthCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, err
	}
	return &creds, nil
}

// SaveAuth writes credentials with 0600 permissions.
func SaveAuth(creds *AuthCredentials) error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, authFile), data, 0600)
}

// ClearAuth removes the credentials file.
func ClearAuth() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	err = os.Remove(filepath.Join(dir, authFile))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// GetServerURL returns the sync server URL.
// Priority: RIFF_SYNC_URL env > config.toml sync.url > auth.json server_url > default.
func GetServerURL() string {
	if v := os.Getenv("RIFF_SYNC_URL"); v != "" {
		return v
	}
	cfg, err := LoadConfig()
	if err == nil && cfg.Sync.URL != "" {
		return cfg.Sync.URL
	}
	if creds, err := LoadAuth(); err == nil && creds != nil && creds.ServerURL != "" {
		return creds.ServerURL
	}
	return defaultServerURL
}

// GetAPIKey returns the API key.
// Priority: RIFF_AUTH_KEY env > auth.json.
func GetAPIKey() string {
	if v := os.Getenv("RIFF_AUTH_KEY"); v != "" {
		return v
	}
	creds, err := LoadAuth()
	if err == nil && creds != nil {
		return creds.APIKey
	}
	return ""
}

// GetUserID returns the signed-in user id.
// Priority: RIFF_USER_ID env > auth.json.
func GetUserID() string {
	if v := os.Getenv("RIFF_USER_ID"); v != "" {
		return v
	}
	creds, err := LoadAuth()
	if err == nil && creds != nil {
		return creds.UserID
	}
	return ""
}

// IsAuthenticated returns true if an API key and user id are available.
func IsAuthenticated() bool {
	return GetAPIKey() != "" && GetUserID() != ""
}

// GetDeviceID returns the device ID from auth.json, generating one if needed.
func GetDeviceID() (string, error) {
	creds, err := LoadAuth()
	if err != nil {
		return "", err
	}
	if creds != nil && creds.DeviceID != "" {
		return creds.DeviceID, nil
	}
	return GenerateDeviceID()
}

// GenerateDeviceID creates a new random device ID (16 bytes hex).
func GenerateDeviceID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// GetDataDir returns where the local store lives.
// Priority: RIFF_DATA_DIR env > config.toml data_dir > ~/.local/share/riff.
func GetDataDir() (string, error) {
	if v := os.Getenv("RIFF_DATA_DIR"); v != "" {
		return v, nil
	}
	cfg, err := LoadConfig()
	if err == nil && cfg.DataDir != "" {
		return expandHome(cfg.DataDir)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".local", "share", "riff"), nil
}

func expandHome(p string) (string, error) {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~")), nil
}

// parseBoolEnv returns nil if env not set, pointer to bool if set.
func parseBoolEnv(envKey string) *bool {
	v := os.Getenv(envKey)
	if v == "" {
		return nil
	}
	v = strings.ToLower(v)
	if v == "1" || v == "true" {
		b := true
		return &b
	}
	if v == "0" || v == "false" {
		b := false
		return &b
	}
	return nil
}

// durationSetting resolves env > config value > fallback. Invalid or
// non-positive values fall through.
func durationSetting(envKey string, fromConfig func(*Config) string, fallback time.Duration) time.Duration {
	if v := os.Getenv(envKey); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	cfg, err := LoadConfig()
	if err == nil {
		if v := fromConfig(cfg); v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				return d
			}
		}
	}
	return fallback
}

// GetAutoSyncEnabled returns whether auto-sync is enabled.
// Priority: RIFF_SYNC_AUTO env > config.toml sync.auto.enabled > true
func GetAutoSyncEnabled() bool {
	if v := parseBoolEnv("RIFF_SYNC_AUTO"); v != nil {
		return *v
	}
	cfg, err := LoadConfig()
	if err == nil && cfg.Sync.Auto.Enabled != nil {
		return *cfg.Sync.Auto.Enabled
	}
	return true
}

// GetAutoSyncInterval returns the periodic sync interval.
// Priority: RIFF_SYNC_INTERVAL env > config.toml sync.auto.interval > 5m
func GetAutoSyncInterval() time.Duration {
	return durationSetting("RIFF_SYNC_INTERVAL", func(c *Config) string { return c.Sync.Auto.Interval }, defaultInterval)
}

// GetRequestTimeout returns the per-remote-call timeout.
// Priority: RIFF_SYNC_REQUEST_TIMEOUT env > config.toml sync.request_timeout > 15s
func GetRequestTimeout() time.Duration {
	return durationSetting("RIFF_SYNC_REQUEST_TIMEOUT", func(c *Config) string { return c.Sync.RequestTimeout }, defaultRequestTimeout)
}

// GetCycleTimeout returns the whole-cycle watchdog timeout.
// Priority: RIFF_SYNC_CYCLE_TIMEOUT env > config.toml sync.cycle_timeout > 2m
func GetCycleTimeout() time.Duration {
	return durationSetting("RIFF_SYNC_CYCLE_TIMEOUT", func(c *Config) string { return c.Sync.CycleTimeout }, defaultCycleTimeout)
}

// GetStrategy returns the configured conflict strategy name.
// Priority: RIFF_SYNC_STRATEGY env > config.toml sync.strategy > latest
func GetStrategy() string {
	if v := strings.TrimSpace(os.Getenv("RIFF_SYNC_STRATEGY")); v != "" {
		return strings.ToLower(v)
	}
	cfg, err := LoadConfig()
	if err == nil && cfg.Sync.Strategy != "" {
		return strings.ToLower(cfg.Sync.Strategy)
	}
	return defaultStrategy
}

// GetMaxAttempts returns how many failures a queued write survives.
// Priority: RIFF_SYNC_MAX_ATTEMPTS env > config.toml sync.max_attempts > 5
func GetMaxAttempts() int {
	if v := os.Getenv("RIFF_SYNC_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	cfg, err := LoadConfig()
	if err == nil && cfg.Sync.MaxAttempts != nil && *cfg.Sync.MaxAttempts > 0 {
		return *cfg.Sync.MaxAttempts
	}
	return defaultMaxAttempts
}
