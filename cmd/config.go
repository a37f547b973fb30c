package cmd

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/marcus/riff/internal/output"
	riffsync "github.com/marcus/riff/internal/sync"
	"github.com/marcus/riff/internal/syncconfig"
	"github.com/spf13/cobra"
)

// configKey binds a dotted key to a field of config.toml.
type configKey struct {
	set func(cfg *syncconfig.Config, val string) error
	get func(cfg *syncconfig.Config) string
	// effective is the resolved value after env and defaults.
	effective func() string
}

func parseBool(val string) (bool, error) {
	switch strings.ToLower(val) {
	case "true", "1":
		return true, nil
	case "false", "0":
		return false, nil
	default:
		return false, fmt.Errorf("invalid bool value %q (use true/false/1/0)", val)
	}
}

func durationValue(val string) error {
	d, err := time.ParseDuration(val)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", val, err)
	}
	if d <= 0 {
		return fmt.Errorf("duration must be positive: %q", val)
	}
	return nil
}

var configKeys = map[string]configKey{
	"data_dir": {
		set: func(c *syncconfig.Config, v string) error { c.DataDir = v; return nil },
		get: func(c *syncconfig.Config) string { return c.DataDir },
		effective: func() string {
			dir, err := syncconfig.GetDataDir()
			if err != nil {
				return ""
			}
			return dir
		},
	},
	"sync.url": {
		set:       func(c *syncconfig.Config, v string) error { c.Sync.URL = v; return nil },
		get:       func(c *syncconfig.Config) string { return c.Sync.URL },
		effective: syncconfig.GetServerURL,
	},
	"sync.strategy": {
		set: func(c *syncconfig.Config, v string) error {
			s, err := riffsync.ParseStrategy(strings.ToLower(v))
			if err != nil {
				return err
			}
			c.Sync.Strategy = string(s)
			return nil
		},
		get:       func(c *syncconfig.Config) string { return c.Sync.Strategy },
		effective: syncconfig.GetStrategy,
	},
	"sync.request_timeout": {
		set: func(c *syncconfig.Config, v string) error {
			if err := durationValue(v); err != nil {
				return err
			}
			c.Sync.RequestTimeout = v
			return nil
		},
		get:       func(c *syncconfig.Config) string { return c.Sync.RequestTimeout },
		effective: func() string { return syncconfig.GetRequestTimeout().String() },
	},
	"sync.cycle_timeout": {
		set: func(c *syncconfig.Config, v string) error {
			if err := durationValue(v); err != nil {
				return err
			}
			c.Sync.CycleTimeout = v
			return nil
		},
		get:       func(c *syncconfig.Config) string { return c.Sync.CycleTimeout },
		effective: func() string { return syncconfig.GetCycleTimeout().String() },
	},
	"sync.max_attempts": {
		set: func(c *syncconfig.Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				return fmt.Errorf("max_attempts must be a positive integer, got %q", v)
			}
			c.Sync.MaxAttempts = &n
			return nil
		},
		get: func(c *syncconfig.Config) string {
			if c.Sync.MaxAttempts == nil {
				return ""
			}
			return strconv.Itoa(*c.Sync.MaxAttempts)
		},
		effective: func() string { return strconv.Itoa(syncconfig.GetMaxAttempts()) },
	},
	"sync.auto.enabled": {
		set: func(c *syncconfig.Config, v string) error {
			b, err := parseBool(v)
			if err != nil {
				return err
			}
			c.Sync.Auto.Enabled = &b
			return nil
		},
		get: func(c *syncconfig.Config) string {
			if c.Sync.Auto.Enabled == nil {
				return ""
			}
			return strconv.FormatBool(*c.Sync.Auto.Enabled)
		},
		effective: func() string { return strconv.FormatBool(syncconfig.GetAutoSyncEnabled()) },
	},
	"sync.auto.interval": {
		set: func(c *syncconfig.Config, v string) error {
			if err := durationValue(v); err != nil {
				return err
			}
			c.Sync.Auto.Interval = v
			return nil
		},
		get:       func(c *syncconfig.Config) string { return c.Sync.Auto.Interval },
		effective: func() string { return syncconfig.GetAutoSyncInterval().String() },
	},
}

func configKeyNames() []string {
	names := make([]string, 0, len(configKeys))
	for k := range configKeys {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func lookupConfigKey(key string) (configKey, error) {
	k, ok := configKeys[key]
	if !ok {
		return configKey{}, fmt.Errorf("unknown config key: %s (valid keys: %s)", key, strings.Join(configKeyNames(), ", "))
	}
	return k, nil
}

var configCmd = &cobra.Command{
	Use:     "config",
	Short:   "Manage riff configuration",
	GroupID: "system",
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a config value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, val := args[0], args[1]
		k, err := lookupConfigKey(key)
		if err != nil {
			return err
		}
		cfg, err := syncconfig.LoadConfig()
		if err != nil {
			return err
		}
		if err := k.set(cfg, val); err != nil {
			return err
		}
		if err := syncconfig.SaveConfig(cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
		output.Success("set %s = %s", key, val)
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a config value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		k, err := lookupConfigKey(args[0])
		if err != nil {
			return err
		}
		cfg, err := syncconfig.LoadConfig()
		if err != nil {
			return err
		}
		val := k.get(cfg)
		if val == "" {
			val = k.effective() + " (default)"
		}
		fmt.Println(val)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List effective config values",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := syncconfig.LoadConfig()
		if err != nil {
			return err
		}
		for _, name := range configKeyNames() {
			k := configKeys[name]
			source := "config.toml"
			if k.get(cfg) == "" {
				source = "env/default"
			}
			fmt.Printf("%-22s %-30s %s\n", name, k.effective(), source)
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configSetCmd, configGetCmd, configListCmd)
	rootCmd.AddCommand(configCmd)
}
