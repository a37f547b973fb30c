package cmd

import (
	"fmt"

	"github.com/marcus/riff/internal/db"
	"github.com/marcus/riff/internal/output"
	"github.com/spf13/cobra"
)

var queueCmd = &cobra.Command{
	Use:     "queue",
	Short:   "List writes waiting for the server",
	GroupID: "sync",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		drain, _ := cmd.Flags().GetBool("drain")
		jsonOut, _ := cmd.Flags().GetBool("json")

		if drain {
			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.Close()
			if _, err := s.requireLinked(); err != nil {
				return err
			}
			res, err := s.coord.Drain(cmd.Context())
			if err != nil {
				return syncError(err)
			}
			fmt.Printf("Flushed %d queued writes (%d entries), %d failed, %d held for conflicts\n",
				res.Applied, res.Entries, res.Failed, res.Held)
			if res.Dropped > 0 {
				output.Warning("%d writes were rejected by the server and dropped", res.Dropped)
			}
			return nil
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		entries, err := store.ListQueue()
		if err != nil {
			return err
		}
		if jsonOut {
			if entries == nil {
				entries = []db.QueueEntry{}
			}
			return output.JSON(entries)
		}
		if len(entries) == 0 {
			fmt.Println("Queue is empty.")
			return nil
		}
		for _, e := range entries {
			fmt.Println(output.FormatQueueEntry(e))
		}
		fmt.Printf("\n%d pending\n", len(entries))
		return nil
	},
}

func init() {
	queueCmd.Flags().Bool("drain", false, "Send queued writes now")
	queueCmd.Flags().Bool("json", false, "Output as JSON")
	rootCmd.AddCommand(queueCmd)
}
