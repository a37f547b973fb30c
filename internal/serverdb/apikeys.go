package serverdb

import (
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"
)

const (
	apiKeyPrefix = "riff_"
	keyLength    = 32
)

// ErrKeyNotFound is returned when revoking a key the user does not hold.
var ErrKeyNotFound = errors.New("api key not found")

var base62Chars = []byte("0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz")

// APIKey is one device's credential for a riff account. Only a hash of the
// secret is stored. KeyPrefix keeps its first characters so an admin can
// tell a user's phone key from their laptop key.
type APIKey struct {
	ID         string
	UserID     string
	KeyPrefix  string
	Name       string
	ExpiresAt  *time.Time
	LastUsedAt *time.Time
	CreatedAt  time.Time
}

// GenerateAPIKey issues a key for linking one more device to userID. The
// plaintext is returned once, for "riff auth login"; it cannot be read back.
func (db *ServerDB) GenerateAPIKey(userID, name string, expiresAt *time.Time) (string, *APIKey, error) {
	var exists int
	if err := db.conn.QueryRow(`SELECT 1 FROM users WHERE id = ?`, userID).Scan(&exists); err != nil {
		if err == sql.ErrNoRows {
			return "", nil, fmt.Errorf("user not found: %s", userID)
		}
		return "", nil, fmt.Errorf("check user: %w", err)
	}

	id, err := generateID("ak_")
	if err != nil {
		return "", nil, fmt.Errorf("generate api key id: %w", err)
	}

	secret := make([]byte, keyLength)
	for i := range secret {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(base62Chars))))
		if err != nil {
			return "", nil, fmt.Errorf("generate random key: %w", err)
		}
		secret[i] = base62Chars[n.Int64()]
	}

	plaintext := apiKeyPrefix + string(secret)
	prefix := string(secret[:8])

	now := time.Now().UTC()
	_, err = db.conn.Exec(
		`INSERT INTO api_keys (id, user_id, key_hash, key_prefix, name, expires_at, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, userID, hashKey(plaintext), prefix, name, expiresAt, now,
	)
	if err != nil {
		return "", nil, fmt.Errorf("insert api key: %w", err)
	}

	ak := &APIKey{
		ID:        id,
		UserID:    userID,
		KeyPrefix: prefix,
		Name:      name,
		ExpiresAt: expiresAt,
		CreatedAt: now,
	}
	return plaintext, ak, nil
}

func hashKey(plaintext string) string {
	hash := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(hash[:])
}

// VerifyAPIKey resolves the bearer key on a document request to its account
// and stamps its last use. An unknown or expired key yields nils and no error,
// which the auth middleware turns into 401.
func (db *ServerDB) VerifyAPIKey(plaintextKey string) (*APIKey, *User, error) {
	keyHash := hashKey(plaintextKey)

	ak := &APIKey{}
	u := &User{}
	err := db.conn.QueryRow(`
		SELECT ak.id, ak.user_id, ak.key_prefix, ak.name, ak.expires_at, ak.last_used_at, ak.created_at,
		       u.id, u.email, u.created_at, u.updated_at
		FROM api_keys ak
		JOIN users u ON u.id = ak.user_id
		WHERE ak.key_hash = ?
	`, keyHash).Scan(
		&ak.ID, &ak.UserID, &ak.KeyPrefix, &ak.Name, &ak.ExpiresAt, &ak.LastUsedAt, &ak.CreatedAt,
		&u.ID, &u.Email, &u.CreatedAt, &u.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		slog.Debug("api key not found", "key_hash_prefix", keyHash[:8])
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("verify api key: %w", err)
	}

	if ak.ExpiresAt != nil && ak.ExpiresAt.Before(time.Now().UTC()) {
		slog.Debug("api key expired", "key_id", ak.ID, "expires_at", ak.ExpiresAt)
		return nil, nil, nil
	}

	now := time.Now().UTC()
	if _, err := db.conn.Exec(`UPDATE api_keys SET last_used_at = ? WHERE id = ?`, now, ak.ID); err != nil {
		slog.Warn("update last_used_at", "key_id", ak.ID, "err", err)
	}
	ak.LastUsedAt = &now

	return ak, u, nil
}

// RevokeAPIKey unlinks a device by deleting its key. Its queued writes then
// fail with 401 and the device asks to log in again.
func (db *ServerDB) RevokeAPIKey(keyID, userID string) error {
	res, err := db.conn.Exec(`DELETE FROM api_keys WHERE id = ? AND user_id = ?`, keyID, userID)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("revoke %s: %w", keyID, ErrKeyNotFound)
	}
	return nil
}

// ListAPIKeys returns the keys of every device linked to userID, oldest first.
func (db *ServerDB) ListAPIKeys(userID string) ([]*APIKey, error) {
	rows, err := db.conn.Query(
		`SELECT id, user_id, key_prefix, name, expires_at, last_used_at, created_at FROM api_keys WHERE user_id = ? ORDER BY created_at`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var keys []*APIKey
	for rows.Next() {
		ak := &APIKey{}
		if err := rows.Scan(&ak.ID, &ak.UserID, &ak.KeyPrefix, &ak.Name, &ak.ExpiresAt, &ak.LastUsedAt, &ak.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, ak)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list api keys: iterate: %w", err)
	}
	return keys, nil
}
