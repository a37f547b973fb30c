package serverdb

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestDB(t *testing.T) *ServerDB {
	t.Helper()
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenSetsSchemaVersion(t *testing.T) {
	db := newTestDB(t)
	if v := db.SchemaVersion(); v != ServerSchemaVersion {
		t.Errorf("schema version = %d, want %d", v, ServerSchemaVersion)
	}
	if n, err := db.RunMigrations(); err != nil || n != 0 {
		t.Errorf("second migration run = %d, %v", n, err)
	}
}

// --- User tests ---

func TestCreateUser(t *testing.T) {
	db := newTestDB(t)
	u, err := db.CreateUser("Alice@Example.COM")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if u.Email != "alice@example.com" {
		t.Errorf("email not lowercased: %s", u.Email)
	}
	if !strings.HasPrefix(u.ID, "u_") {
		t.Errorf("unexpected id prefix: %s", u.ID)
	}
}

func TestCreateUserDuplicate(t *testing.T) {
	db := newTestDB(t)
	if _, err := db.CreateUser("dup@test.com"); err != nil {
		t.Fatal(err)
	}
	_, err := db.CreateUser("DUP@test.com")
	if !errors.Is(err, ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}
}

func TestCreateUserEmptyEmail(t *testing.T) {
	db := newTestDB(t)
	if _, err := db.CreateUser("  "); err == nil {
		t.Fatal("expected error for empty email")
	}
}

func TestGetUser(t *testing.T) {
	db := newTestDB(t)
	u, _ := db.CreateUser("get@test.com")

	byID, err := db.GetUserByID(u.ID)
	if err != nil || byID == nil || byID.Email != "get@test.com" {
		t.Fatalf("by id = %+v, %v", byID, err)
	}
	byEmail, err := db.GetUserByEmail("GET@test.com")
	if err != nil || byEmail == nil || byEmail.ID != u.ID {
		t.Fatalf("by email = %+v, %v", byEmail, err)
	}
	missing, err := db.GetUserByID("u_nonexistent")
	if err != nil || missing != nil {
		t.Fatalf("missing = %+v, %v", missing, err)
	}
}

func TestListUsers(t *testing.T) {
	db := newTestDB(t)
	db.CreateUser("a@test.com")
	db.CreateUser("b@test.com")

	users, err := db.ListUsers()
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 2 {
		t.Fatalf("expected 2 users, got %d", len(users))
	}
	if n, _ := db.CountUsers(); n != 2 {
		t.Errorf("count = %d", n)
	}
}

// --- API Key tests ---

func TestGenerateAndVerifyAPIKey(t *testing.T) {
	db := newTestDB(t)
	u, _ := db.CreateUser("key@test.com")

	plaintext, ak, err := db.GenerateAPIKey(u.ID, "laptop", nil)
	if err != nil {
		t.Fatalf("generate api key: %v", err)
	}
	if !strings.HasPrefix(plaintext, "riff_") {
		t.Errorf("unexpected key prefix: %s", plaintext[:6])
	}
	if !strings.HasPrefix(ak.ID, "ak_") {
		t.Errorf("unexpected id prefix: %s", ak.ID)
	}

	verifiedKey, verifiedUser, err := db.VerifyAPIKey(plaintext)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if verifiedKey == nil || verifiedKey.ID != ak.ID {
		t.Fatal("key ID mismatch")
	}
	if verifiedUser.ID != u.ID {
		t.Error("user ID mismatch")
	}
	if verifiedKey.LastUsedAt == nil {
		t.Error("last_used_at not set")
	}
}

func TestGenerateAPIKeyUnknownUser(t *testing.T) {
	db := newTestDB(t)
	if _, _, err := db.GenerateAPIKey("u_missing", "x", nil); err == nil {
		t.Fatal("expected error for unknown user")
	}
}

func TestVerifyAPIKeyInvalid(t *testing.T) {
	db := newTestDB(t)
	ak, u, err := db.VerifyAPIKey("riff_invalidkeyhere")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ak != nil || u != nil {
		t.Fatal("expected nil result for invalid key")
	}
}

func TestVerifyAPIKeyExpired(t *testing.T) {
	db := newTestDB(t)
	u, _ := db.CreateUser("expired@test.com")
	past := time.Now().Add(-24 * time.Hour)
	plaintext, _, err := db.GenerateAPIKey(u.ID, "expired", &past)
	if err != nil {
		t.Fatal(err)
	}
	ak, verifiedUser, err := db.VerifyAPIKey(plaintext)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ak != nil || verifiedUser != nil {
		t.Fatal("expected nil result for expired key")
	}
}

func TestRevokeAPIKey(t *testing.T) {
	db := newTestDB(t)
	u, _ := db.CreateUser("revoke@test.com")
	other, _ := db.CreateUser("other@test.com")
	plaintext, ak, _ := db.GenerateAPIKey(u.ID, "to-revoke", nil)

	if err := db.RevokeAPIKey(ak.ID, other.ID); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("revoking another user's key: got %v, want ErrKeyNotFound", err)
	}
	if err := db.RevokeAPIKey(ak.ID, u.ID); err != nil {
		t.Fatal(err)
	}
	keys, _ := db.ListAPIKeys(u.ID)
	if len(keys) != 0 {
		t.Fatalf("expected 0 keys after revoke, got %d", len(keys))
	}
	if found, _, _ := db.VerifyAPIKey(plaintext); found != nil {
		t.Error("revoked key still verifies")
	}
}

func TestListAPIKeys(t *testing.T) {
	db := newTestDB(t)
	u, _ := db.CreateUser("list@test.com")
	db.GenerateAPIKey(u.ID, "key1", nil)
	db.GenerateAPIKey(u.ID, "key2", nil)

	keys, err := db.ListAPIKeys(u.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys, got %d", len(keys))
	}
}
