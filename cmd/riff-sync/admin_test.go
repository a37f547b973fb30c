package main

import (
	"bytes"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/marcus/riff/internal/serverdb"
)

func runAdminCmd(t *testing.T, args ...string) (string, string, int) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := admin(args, &stdout, &stderr)
	return stdout.String(), stderr.String(), code
}

func TestAdminCreateAndListUsers(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "server.db")

	out, errOut, code := runAdminCmd(t, "create-user", "Player@Example.com", "--db", dbPath)
	if code != 0 {
		t.Fatalf("create-user exit %d: %s", code, errOut)
	}
	key := regexp.MustCompile(`riff_[0-9A-Za-z]+`).FindString(out)
	if key == "" {
		t.Fatalf("no key in output:\n%s", out)
	}

	store, err := serverdb.Open(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	ak, user, err := store.VerifyAPIKey(key)
	store.Close()
	if err != nil || ak == nil {
		t.Fatalf("printed key does not verify: %v", err)
	}
	if !strings.Contains(out, user.ID) {
		t.Errorf("user id %s missing from output", user.ID)
	}

	if _, _, code := runAdminCmd(t, "create-user", "player@example.com", "--db", dbPath); code == 0 {
		t.Error("duplicate create-user should fail")
	}

	out, _, code = runAdminCmd(t, "list-users", "--db", dbPath)
	if code != 0 || !strings.Contains(out, "player@example.com") {
		t.Fatalf("list-users exit %d:\n%s", code, out)
	}
}

func TestAdminKeys(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "server.db")
	runAdminCmd(t, "create-user", "keys@test.com", "--db", dbPath)

	if _, _, code := runAdminCmd(t, "create-key", "keys@test.com", "--db", dbPath); code == 0 {
		t.Error("create-key without --name should fail")
	}
	out, errOut, code := runAdminCmd(t, "create-key", "keys@test.com", "--name", "phone", "--db", dbPath)
	if code != 0 {
		t.Fatalf("create-key exit %d: %s", code, errOut)
	}
	id := regexp.MustCompile(`ak_[0-9a-f]+`).FindString(out)
	if id == "" {
		t.Fatalf("no key id in output:\n%s", out)
	}

	if _, errOut, code := runAdminCmd(t, "revoke-key", "keys@test.com", id, "--db", dbPath); code != 0 {
		t.Fatalf("revoke-key exit %d: %s", code, errOut)
	}
	if _, _, code := runAdminCmd(t, "revoke-key", "nobody@test.com", id, "--db", dbPath); code == 0 {
		t.Error("revoke for unknown user should fail")
	}
}

func TestAdminUnknownCommand(t *testing.T) {
	_, errOut, code := runAdminCmd(t, "grant")
	if code != 1 || !strings.Contains(errOut, "unknown admin command") {
		t.Fatalf("exit %d: %s", code, errOut)
	}
}
