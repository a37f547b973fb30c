package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/marcus/riff/internal/db"
	"github.com/marcus/riff/internal/output"
	riffsync "github.com/marcus/riff/internal/sync"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var conflictsCmd = &cobra.Command{
	Use:     "conflicts",
	Short:   "List records held back by the manual conflict strategy",
	GroupID: "sync",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		conflicts, err := store.ListConflicts()
		if err != nil {
			return err
		}
		if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
			if conflicts == nil {
				conflicts = []db.Conflict{}
			}
			return output.JSON(conflicts)
		}
		if len(conflicts) == 0 {
			fmt.Println("No conflicts.")
			return nil
		}
		for _, c := range conflicts {
			fmt.Print(output.FormatConflict(c))
		}
		fmt.Println("\nResolve with: riff conflicts resolve <type> <id> --keep local|remote")
		return nil
	},
}

var conflictsResolveCmd = &cobra.Command{
	Use:   "resolve <type> <id>",
	Short: "Keep one side of a conflict",
	Long: `Keeps the local or the remote version of a held record and writes the
winner to both sides. Without --keep an interactive picker is shown.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := parseRecordType(args[0])
		if err != nil {
			return err
		}
		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()

		c, err := s.db.GetConflict(t, args[1])
		if err != nil {
			return err
		}
		if c == nil {
			return fmt.Errorf("no conflict for %s %s", t, args[1])
		}

		keep := cmd.Flags().Lookup("keep").Value.(*keepFlag).value
		if keep == "" {
			if !term.IsTerminal(int(os.Stdin.Fd())) {
				return errors.New("--keep local|remote is required when not running in a terminal")
			}
			if keep, err = pickSide(*c); err != nil {
				return err
			}
		}

		winner, err := s.coord.ResolveConflict(cmd.Context(), t, c.RecordID, keep)
		if err != nil {
			return syncError(err)
		}
		output.Success("Kept %s version of %s %s", keep, t, output.ShortID(winner.ID))
		return nil
	},
}

func pickSide(c db.Conflict) (riffsync.Keep, error) {
	fmt.Print(output.FormatConflict(c))
	var keep riffsync.Keep
	err := huh.NewSelect[riffsync.Keep]().
		Title("Which version should win?").
		Options(
			huh.NewOption("Local (this device)", riffsync.KeepLocal),
			huh.NewOption("Remote (server)", riffsync.KeepRemote),
		).
		Value(&keep).
		Run()
	return keep, err
}

func init() {
	conflictsCmd.Flags().Bool("json", false, "Output as JSON")
	conflictsResolveCmd.Flags().Var(&keepFlag{}, "keep", "Side to keep: local or remote")

	conflictsCmd.AddCommand(conflictsResolveCmd)
	rootCmd.AddCommand(conflictsCmd)
}
