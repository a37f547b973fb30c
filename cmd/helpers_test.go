package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/marcus/riff/internal/api"
	"github.com/marcus/riff/internal/db"
	"github.com/marcus/riff/internal/models"
	"github.com/marcus/riff/internal/serverdb"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// setupRiff points riff at fresh config and data dirs and runs init.
// Sync goes to an unreachable address unless the test overrides RIFF_SYNC_URL.
func setupRiff(t *testing.T) string {
	t.Helper()
	tmp := t.TempDir()
	t.Setenv("RIFF_CONFIG_DIR", filepath.Join(tmp, "config"))
	t.Setenv("RIFF_DATA_DIR", filepath.Join(tmp, "data"))
	t.Setenv("RIFF_SYNC_URL", "http://127.0.0.1:1")
	for _, k := range []string{"RIFF_AUTH_KEY", "RIFF_USER_ID", "RIFF_SYNC_STRATEGY", "RIFF_SYNC_INTERVAL"} {
		t.Setenv(k, "")
	}
	mustRiff(t, "init")
	return tmp
}

// runRiff executes the root command and returns what it printed to stdout.
func runRiff(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)

	oldOut := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	os.Stdout = w
	done := make(chan string)
	go func() {
		var buf bytes.Buffer
		io.Copy(&buf, r)
		done <- buf.String()
	}()

	rootCmd.SetArgs(args)
	rootCmd.SetErr(io.Discard)
	runErr := rootCmd.ExecuteContext(context.Background())

	w.Close()
	os.Stdout = oldOut
	return <-done, runErr
}

func mustRiff(t *testing.T, args ...string) string {
	t.Helper()
	out, err := runRiff(t, args...)
	if err != nil {
		t.Fatalf("riff %v: %v\n%s", args, err, out)
	}
	return out
}

// resetFlags restores every flag to its default between runs of the shared command tree.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			sv.Replace(nil)
		} else {
			f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// listJSON runs "<kind> list --json" and decodes the records.
func listJSON(t *testing.T, kind string, extra ...string) []models.Record {
	t.Helper()
	out := mustRiff(t, append([]string{kind, "list", "--json"}, extra...)...)
	var recs []models.Record
	if err := json.Unmarshal([]byte(out), &recs); err != nil {
		t.Fatalf("decode %s list: %v\n%s", kind, err, out)
	}
	return recs
}

func openTestStore(t *testing.T) *db.DB {
	t.Helper()
	store, err := openStore()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// startServer runs a riff-sync server and returns its URL, a user id and key.
func startServer(t *testing.T) (string, string, string) {
	t.Helper()
	tmp := t.TempDir()
	store, err := serverdb.Open(filepath.Join(tmp, "server.db"))
	if err != nil {
		t.Fatalf("open server db: %v", err)
	}
	srv, err := api.NewServer(api.Config{
		RateLimitRead:      100000,
		RateLimitWrite:     100000,
		RateLimitSubscribe: 100000,
		UserDataDir:        filepath.Join(tmp, "users"),
	}, store)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	httpSrv := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		httpSrv.Close()
		srv.Shutdown(context.Background())
		store.Close()
	})

	u, err := store.CreateUser("player@example.com")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	key, _, err := store.GenerateAPIKey(u.ID, "test", nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return httpSrv.URL, u.ID, key
}
