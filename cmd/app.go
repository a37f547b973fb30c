package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/marcus/riff/internal/db"
	"github.com/marcus/riff/internal/models"
	riffsync "github.com/marcus/riff/internal/sync"
	"github.com/marcus/riff/internal/syncclient"
	"github.com/marcus/riff/internal/syncconfig"
)

// session is the local store plus a coordinator for the signed-in user,
// opened once per command.
type session struct {
	db     *db.DB
	client *syncclient.Client
	coord  *riffsync.Coordinator
	userID string
}

func resolveDataDir() (string, error) {
	if dataDir != "" {
		return dataDir, nil
	}
	return syncconfig.GetDataDir()
}

func openStore() (*db.DB, error) {
	dir, err := resolveDataDir()
	if err != nil {
		return nil, err
	}
	return db.Open(dir)
}

// configuredStrategy picks the linked store's strategy, falling back to config.
func configuredStrategy(st *db.SyncState) riffsync.Strategy {
	name := syncconfig.GetStrategy()
	if st != nil && st.Strategy != "" {
		name = st.Strategy
	}
	s, err := riffsync.ParseStrategy(name)
	if err != nil {
		slog.Warn("ignoring conflict strategy", "err", err)
		return riffsync.StrategyLatest
	}
	return s
}

func openSession() (*session, error) {
	database, err := openStore()
	if err != nil {
		return nil, err
	}
	st, err := database.GetSyncState()
	if err != nil {
		database.Close()
		return nil, err
	}

	userID := syncconfig.GetUserID()
	if st != nil && st.UserID != "" {
		userID = st.UserID
	}
	client := syncclient.New(syncconfig.GetServerURL(), syncconfig.GetAPIKey())
	coord := riffsync.New(database, client, userID, riffsync.Options{
		Strategy:       configuredStrategy(st),
		RequestTimeout: syncconfig.GetRequestTimeout(),
		CycleTimeout:   syncconfig.GetCycleTimeout(),
		MaxAttempts:    syncconfig.GetMaxAttempts(),
		Logger:         slog.Default(),
	})
	return &session{db: database, client: client, coord: coord, userID: userID}, nil
}

func (s *session) Close() error {
	s.coord.Close()
	return s.db.Close()
}

// requireLinked fails unless the store is linked to an account.
func (s *session) requireLinked() (*db.SyncState, error) {
	st, err := s.db.GetSyncState()
	if err != nil {
		return nil, err
	}
	if st == nil || st.UserID == "" {
		return nil, errors.New("not logged in (run: riff auth login)")
	}
	return st, nil
}

// resolveRecord finds a live record by id or unique id prefix.
func resolveRecord(store *db.DB, t models.RecordType, ref string) (*models.Record, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, errors.New("record id required")
	}
	rec, err := store.Get(t, ref)
	if err != nil {
		return nil, err
	}
	if rec != nil && !rec.Deleted {
		return rec, nil
	}

	all, err := store.ListAll(t)
	if err != nil {
		return nil, err
	}
	var matches []models.Record
	for _, r := range models.Live(all) {
		if strings.HasPrefix(r.ID, ref) {
			matches = append(matches, r)
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%s %s: %w", t, ref, riffsync.ErrRecordNotFound)
	case 1:
		return &matches[0], nil
	}
	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.ID
	}
	sort.Strings(ids)
	return nil, fmt.Errorf("%q is ambiguous: %s", ref, strings.Join(ids, ", "))
}
