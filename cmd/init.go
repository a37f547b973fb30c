package cmd

import (
	"errors"
	"fmt"

	"github.com/marcus/riff/internal/db"
	"github.com/marcus/riff/internal/output"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:     "init",
	Short:   "Create the local store",
	Long:    `Creates the data directory and the SQLite store that holds sessions, goals, songs and settings.`,
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := resolveDataDir()
		if err != nil {
			return err
		}

		if existing, err := db.Open(dir); err == nil {
			existing.Close()
			output.Warning("local store already exists in %s", dir)
			return nil
		} else if !errors.Is(err, db.ErrNotInitialized) {
			return err
		}

		database, err := db.Initialize(dir)
		if err != nil {
			return fmt.Errorf("initialize store: %w", err)
		}
		defer database.Close()

		output.Success("INITIALIZED %s", dir)
		fmt.Println("Log a session with: riff sessions add --duration 30m")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
