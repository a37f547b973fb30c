package cmd

import (
	"strings"

	"github.com/marcus/riff/internal/models"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var songKind = recordKind{
	use:     "songs",
	aliases: []string{"song", "repertoire"},
	noun:    "song",
	typ:     models.TypeRepertoire,
	addUse:  "add <title>",
	addArgs: cobra.MinimumNArgs(1),
	flags: func(fs *pflag.FlagSet, adding bool) {
		if !adding {
			fs.String("title", "", "New title")
		}
		fs.StringP("artist", "a", "", "Composer or artist")
		status := &songStatusFlag{value: models.SongLearning}
		fs.VarP(status, "status", "s", "learning, practicing, polishing or mastered")
		fs.StringP("key", "k", "", "Musical key (e.g. Bb, F#m)")
		fs.Int("tempo", 0, "Working tempo in BPM")
		fs.String("notes", "", "Free-form notes (markdown)")
	},
	build: buildSong,
	less: func(a, b models.Record) bool {
		return strings.ToLower(songTitle(a)) < strings.ToLower(songTitle(b))
	},
}

func songTitle(r models.Record) string {
	var s models.RepertoireSong
	_ = r.Decode(&s)
	return s.Title
}

func buildSong(cmd *cobra.Command, args []string, prev *models.Record, _ *session) (any, error) {
	var song models.RepertoireSong
	if prev != nil {
		if err := prev.Decode(&song); err != nil {
			return nil, err
		}
	} else {
		song.Title = strings.Join(args, " ")
	}
	fs := cmd.Flags()

	if fs.Changed("title") {
		song.Title, _ = fs.GetString("title")
	}
	if fs.Changed("artist") {
		song.Artist, _ = fs.GetString("artist")
	}
	if prev == nil || fs.Changed("status") {
		song.Status = fs.Lookup("status").Value.(*songStatusFlag).value
	}
	if fs.Changed("key") {
		song.Key, _ = fs.GetString("key")
	}
	if fs.Changed("tempo") {
		song.TempoBPM, _ = fs.GetInt("tempo")
	}
	if fs.Changed("notes") {
		song.Notes, _ = fs.GetString("notes")
	}
	return song, nil
}
