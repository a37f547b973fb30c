package cmd

import (
	"fmt"
	"strings"

	"github.com/marcus/riff/internal/events"
	"github.com/marcus/riff/internal/models"
	riffsync "github.com/marcus/riff/internal/sync"
	"github.com/spf13/pflag"
)

// strategyFlag is a pflag.Value restricted to the conflict strategies.
type strategyFlag struct{ value riffsync.Strategy }

var _ pflag.Value = (*strategyFlag)(nil)

func (f *strategyFlag) String() string { return string(f.value) }
func (f *strategyFlag) Type() string   { return "strategy" }

func (f *strategyFlag) Set(s string) error {
	if s == "" {
		f.value = ""
		return nil
	}
	st, err := riffsync.ParseStrategy(strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		return err
	}
	f.value = st
	return nil
}

// keepFlag picks the side a manual conflict resolution keeps.
type keepFlag struct{ value riffsync.Keep }

func (f *keepFlag) String() string { return string(f.value) }
func (f *keepFlag) Type() string   { return "local|remote" }

func (f *keepFlag) Set(s string) error {
	switch k := riffsync.Keep(strings.ToLower(strings.TrimSpace(s))); k {
	case "", riffsync.KeepLocal, riffsync.KeepRemote:
		f.value = k
		return nil
	}
	return fmt.Errorf("must be %q or %q", riffsync.KeepLocal, riffsync.KeepRemote)
}

// songStatusFlag accepts the repertoire progress stages.
type songStatusFlag struct{ value models.SongStatus }

func (f *songStatusFlag) String() string { return string(f.value) }
func (f *songStatusFlag) Type() string   { return "status" }

func (f *songStatusFlag) Set(s string) error {
	switch st := models.SongStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case models.SongLearning, models.SongPracticing, models.SongPolishing, models.SongMastered:
		f.value = st
		return nil
	}
	return fmt.Errorf("unknown status %q (want learning, practicing, polishing or mastered)", s)
}

// parseRecordType accepts any spelling of a record type (session, goals, songs...).
func parseRecordType(s string) (models.RecordType, error) {
	t, ok := events.NormalizeRecordType(s)
	if !ok {
		return "", fmt.Errorf("unknown record type %q (want session, goal, song or settings)", s)
	}
	return t, nil
}
