package cmd

import (
	"fmt"
	"sort"

	"github.com/marcus/riff/internal/models"
	"github.com/marcus/riff/internal/output"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// recordKind describes one user-facing collection and how its payload is
// built from command-line flags.
type recordKind struct {
	use     string
	aliases []string
	noun    string
	typ     models.RecordType
	addUse  string
	addArgs cobra.PositionalArgs

	// flags registers payload flags on add and update.
	flags func(fs *pflag.FlagSet, adding bool)
	// build returns the payload for a new record (prev == nil) or an updated one.
	build func(cmd *cobra.Command, args []string, prev *models.Record, s *session) (any, error)
	// filter drops records from list output. nil keeps everything.
	filter func(cmd *cobra.Command, recs []models.Record) ([]models.Record, error)
	// less orders list output.
	less func(a, b models.Record) bool
	// footer prints a summary after the list.
	footer func(recs []models.Record)
}

func newestFirst(a, b models.Record) bool { return a.UpdatedAt.After(b.UpdatedAt) }

// sortRecords orders recs by less, newest first when less is nil.
func sortRecords(recs []models.Record, less func(a, b models.Record) bool) {
	if less == nil {
		less = newestFirst
	}
	sort.SliceStable(recs, func(i, j int) bool { return less(recs[i], recs[j]) })
}

// newRecordCmd builds "<kind> add|list|show|update|delete".
func newRecordCmd(k recordKind) *cobra.Command {
	parent := &cobra.Command{
		Use:     k.use,
		Aliases: k.aliases,
		Short:   fmt.Sprintf("Manage %s", k.use),
		GroupID: "practice",
	}

	add := &cobra.Command{
		Use:   k.addUse,
		Short: fmt.Sprintf("Add a %s", k.noun),
		Args:  k.addArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeRecord(cmd, k, args, nil)
		},
	}
	k.flags(add.Flags(), true)
	add.Flags().Bool("json", false, "Print the stored record as JSON")

	list := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   fmt.Sprintf("List %s", k.use),
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listRecords(cmd, k)
		},
	}
	list.Flags().Bool("json", false, "Output as JSON")
	list.Flags().Bool("all", false, "Include deleted records")
	list.Flags().IntP("limit", "n", 0, "Show at most n records")
	if k.typ == models.TypePracticeSession {
		list.Flags().String("since", "", "Only sessions on or after this date (e.g. -7d, last-monday)")
	}

	show := &cobra.Command{
		Use:   "show <id>",
		Short: fmt.Sprintf("Show a %s", k.noun),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()
			rec, err := resolveRecord(store, k.typ, args[0])
			if err != nil {
				return err
			}
			if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
				return output.JSON(rec)
			}
			fmt.Print(output.FormatRecordLong(*rec))
			return nil
		},
	}
	show.Flags().Bool("json", false, "Output as JSON")

	update := &cobra.Command{
		Use:   "update <id>",
		Short: fmt.Sprintf("Update a %s", k.noun),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeRecord(cmd, k, args[1:], &args[0])
		},
	}
	k.flags(update.Flags(), false)
	update.Flags().Bool("json", false, "Print the stored record as JSON")

	del := &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   fmt.Sprintf("Delete a %s", k.noun),
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.Close()
			rec, err := resolveRecord(s.db, k.typ, args[0])
			if err != nil {
				return err
			}
			if err := s.coord.Delete(cmd.Context(), k.typ, rec.ID); err != nil {
				return err
			}
			output.Success("Deleted %s %s", k.noun, output.ShortID(rec.ID))
			return nil
		},
	}

	parent.AddCommand(add, list, show, update, del)
	return parent
}

// writeRecord runs the add (ref == nil) and update paths through the coordinator.
func writeRecord(cmd *cobra.Command, k recordKind, args []string, ref *string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	var prev *models.Record
	if ref != nil {
		if prev, err = resolveRecord(s.db, k.typ, *ref); err != nil {
			return err
		}
	}
	payload, err := k.build(cmd, args, prev, s)
	if err != nil {
		return err
	}
	id := ""
	if prev != nil {
		id = prev.ID
	}
	rec, err := models.NewRecord(k.typ, id, payload)
	if err != nil {
		return err
	}
	saved, err := s.coord.EnqueueOrWrite(cmd.Context(), rec)
	if err != nil {
		return err
	}

	verb := "Added"
	if prev != nil {
		verb = "Updated"
	}
	output.Success("%s %s %s", verb, k.noun, output.ShortID(saved.ID))
	if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
		return output.JSON(saved)
	}
	return nil
}

func listRecords(cmd *cobra.Command, k recordKind) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	recs, err := store.ListAll(k.typ)
	if err != nil {
		return err
	}
	if all, _ := cmd.Flags().GetBool("all"); !all {
		recs = models.Live(recs)
	}
	if k.filter != nil {
		if recs, err = k.filter(cmd, recs); err != nil {
			return err
		}
	}
	sortRecords(recs, k.less)
	if limit, _ := cmd.Flags().GetInt("limit"); limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}

	if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
		if recs == nil {
			recs = []models.Record{}
		}
		return output.JSON(recs)
	}
	if len(recs) == 0 {
		fmt.Printf("No %s yet.\n", k.use)
		return nil
	}
	for _, r := range recs {
		fmt.Println(output.FormatRecordShort(r))
	}
	if k.footer != nil {
		k.footer(recs)
	}
	return nil
}

func init() {
	goals := newRecordCmd(goalKind)
	goals.AddCommand(goalDoneCmd)
	rootCmd.AddCommand(newRecordCmd(sessionKind), goals, newRecordCmd(songKind))
}
