package cmd

import (
	"strings"

	"github.com/marcus/riff/internal/dateparse"
	"github.com/marcus/riff/internal/models"
	"github.com/marcus/riff/internal/output"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var goalKind = recordKind{
	use:     "goals",
	aliases: []string{"goal", "g"},
	noun:    "goal",
	typ:     models.TypeGoal,
	addUse:  "add <title>",
	addArgs: cobra.MinimumNArgs(1),
	flags: func(fs *pflag.FlagSet, adding bool) {
		if !adding {
			fs.String("title", "", "New title")
		}
		fs.String("description", "", "Longer description (markdown)")
		fs.String("target", "", "Target date (2026-06-01, +3w, next-month)")
		fs.IntP("progress", "p", 0, "Progress percent, 0-100")
		fs.Bool("completed", false, "Mark the goal completed")
	},
	build: buildGoal,
	less: func(a, b models.Record) bool {
		ca, cb := goalCompleted(a), goalCompleted(b)
		if ca != cb {
			return !ca
		}
		return newestFirst(a, b)
	},
}

func goalCompleted(r models.Record) bool {
	var g models.Goal
	_ = r.Decode(&g)
	return g.Completed
}

func buildGoal(cmd *cobra.Command, args []string, prev *models.Record, _ *session) (any, error) {
	var g models.Goal
	if prev != nil {
		if err := prev.Decode(&g); err != nil {
			return nil, err
		}
	} else {
		g.Title = strings.Join(args, " ")
	}
	fs := cmd.Flags()

	if fs.Changed("title") {
		g.Title, _ = fs.GetString("title")
	}
	if fs.Changed("description") {
		g.Description, _ = fs.GetString("description")
	}
	if fs.Changed("target") {
		v, _ := fs.GetString("target")
		g.TargetDate = ""
		if v != "" {
			d, err := dateparse.ParseDate(v)
			if err != nil {
				return nil, err
			}
			g.TargetDate = d
		}
	}
	if fs.Changed("progress") {
		g.Progress, _ = fs.GetInt("progress")
	}
	if fs.Changed("completed") {
		g.Completed, _ = fs.GetBool("completed")
		if g.Completed {
			g.Progress = 100
		}
	}
	return g, nil
}

var goalDoneCmd = &cobra.Command{
	Use:   "done <id>",
	Short: "Mark a goal completed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()

		rec, err := resolveRecord(s.db, models.TypeGoal, args[0])
		if err != nil {
			return err
		}
		var g models.Goal
		if err := rec.Decode(&g); err != nil {
			return err
		}
		g.Completed, g.Progress = true, 100
		next, err := models.NewRecord(models.TypeGoal, rec.ID, g)
		if err != nil {
			return err
		}
		if _, err := s.coord.EnqueueOrWrite(cmd.Context(), next); err != nil {
			return err
		}
		output.Success("Completed goal %s: %s", output.ShortID(rec.ID), g.Title)
		return nil
	},
}
