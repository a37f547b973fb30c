package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/marcus/riff/internal/models"
	"github.com/marcus/riff/internal/output"
	"github.com/spf13/cobra"
)

var settingsCmd = &cobra.Command{
	Use:     "settings",
	Short:   "Show or change synced app settings",
	GroupID: "practice",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		s, _, err := store.GetSettings()
		if err != nil {
			return err
		}
		if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
			return output.JSON(s)
		}
		fmt.Printf("schemaVersion: %d\n", s.SchemaVersion)
		for _, key := range s.Keys() {
			v, _ := s.Get(key)
			fmt.Printf("%s: %s\n", key, v)
		}
		return nil
	},
}

var settingsGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print one setting as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		s, _, err := store.GetSettings()
		if err != nil {
			return err
		}
		v, ok := s.Get(args[0])
		if !ok {
			return fmt.Errorf("setting %q is not set", args[0])
		}
		var buf bytes.Buffer
		if err := json.Indent(&buf, v, "", "  "); err != nil {
			return err
		}
		fmt.Println(buf.String())
		return nil
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <key> <json>",
	Short: "Set one setting",
	Long: `Sets a settings key. The value is JSON; a bare word is taken as a string.

  riff settings set theme dark
  riff settings set metronomeSettings '{"bpm":96,"beats_per_bar":4,"accent_first":true}'
  riff settings set cloudSyncEnabled false`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()

		settings, _, err := s.db.GetSettings()
		if err != nil {
			return err
		}
		if err := settings.Set(args[0], settingValue(args[1])); err != nil {
			return err
		}
		rec, err := models.NewRecord(models.TypeSettings, models.SettingsID, settings)
		if err != nil {
			return err
		}
		if _, err := s.coord.EnqueueOrWrite(cmd.Context(), rec); err != nil {
			return err
		}
		output.Success("Set %s", args[0])
		return nil
	},
}

// settingValue treats anything that is not valid JSON as a string literal.
func settingValue(arg string) json.RawMessage {
	if json.Valid([]byte(arg)) {
		return json.RawMessage(arg)
	}
	return json.RawMessage(strconv.Quote(arg))
}

func init() {
	settingsCmd.Flags().Bool("json", false, "Output as JSON")
	settingsCmd.AddCommand(settingsGetCmd, settingsSetCmd)
	rootCmd.AddCommand(settingsCmd)
}
