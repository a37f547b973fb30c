package cmd

import (
	"errors"
	"fmt"

	"github.com/marcus/riff/internal/output"
	riffsync "github.com/marcus/riff/internal/sync"
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	Short:   "Sync local data with the server",
	Long:    `Runs one incremental sync cycle: flush queued writes, pull what changed remotely, push what changed locally.`,
	GroupID: "sync",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		full, _ := cmd.Flags().GetBool("full")
		statusOnly, _ := cmd.Flags().GetBool("status")
		jsonOut, _ := cmd.Flags().GetBool("json")

		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()

		if statusOnly {
			st, err := s.coord.Status()
			if err != nil {
				return err
			}
			if jsonOut {
				return output.JSON(st)
			}
			fmt.Print(output.FormatSyncStatus(st))
			return nil
		}

		if _, err := s.requireLinked(); err != nil {
			return err
		}
		var res riffsync.CycleResult
		if full {
			res, err = s.coord.FullSync(cmd.Context())
		} else {
			res, err = s.coord.IncrementalSync(cmd.Context())
		}
		if err != nil {
			return syncError(err)
		}
		if jsonOut {
			return output.JSON(res)
		}
		fmt.Println(output.FormatCycleResult(res))
		if res.Conflicts > 0 {
			fmt.Println("Review them with: riff conflicts")
		}
		if res.Drain.Dropped > 0 {
			output.Warning("%d queued writes were rejected by the server and dropped", res.Drain.Dropped)
		}
		return nil
	},
}

// syncError adds the next step to coordinator refusals.
func syncError(err error) error {
	switch {
	case errors.Is(err, riffsync.ErrAuthRequired):
		return fmt.Errorf("%w (run: riff auth login)", err)
	case errors.Is(err, riffsync.ErrSyncDisabled):
		return fmt.Errorf("%w (run: riff sync enable, or riff settings set cloudSyncEnabled true)", err)
	case errors.Is(err, riffsync.ErrNotLinked):
		return fmt.Errorf("%w (run: riff auth login)", err)
	}
	return err
}

var syncStrategyCmd = &cobra.Command{
	Use:   "strategy [latest|merge|manual]",
	Short: "Show or set the conflict strategy",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		st, err := store.GetSyncState()
		if err != nil {
			return err
		}
		if len(args) == 0 {
			fmt.Println(configuredStrategy(st))
			return nil
		}
		var f strategyFlag
		if err := f.Set(args[0]); err != nil {
			return err
		}
		if st == nil {
			return errors.New("not logged in (set sync.strategy with 'riff config set' instead)")
		}
		if err := store.SetConflictStrategy(string(f.value)); err != nil {
			return err
		}
		output.Success("Conflict strategy: %s", f.value)
		return nil
	},
}

func setSyncDisabled(disabled bool) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()
	st, err := store.GetSyncState()
	if err != nil {
		return err
	}
	if st == nil {
		return errors.New("not logged in (run: riff auth login)")
	}
	return store.SetSyncDisabled(disabled)
}

var syncEnableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Resume syncing on this device",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := setSyncDisabled(false); err != nil {
			return err
		}
		output.Success("Sync enabled")
		return nil
	},
}

var syncDisableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Pause syncing on this device; writes keep queueing",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := setSyncDisabled(true); err != nil {
			return err
		}
		output.Success("Sync disabled")
		return nil
	},
}

func init() {
	syncCmd.Flags().Bool("full", false, "Reconcile entire collections instead of changes since the last sync")
	syncCmd.Flags().Bool("status", false, "Show sync status without syncing")
	syncCmd.Flags().Bool("json", false, "Output as JSON")

	syncCmd.AddCommand(syncStrategyCmd, syncEnableCmd, syncDisableCmd)
	rootCmd.AddCommand(syncCmd)
}
