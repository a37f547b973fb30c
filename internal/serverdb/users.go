package serverdb

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUserExists is returned when an email already has a riff account.
var ErrUserExists = errors.New("user already exists")

// User is a riff account. Its ID names the per-user document store and
// appears in every document route as {uid}.
type User struct {
	ID        string
	Email     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CreateUser registers an account for email, compared case-insensitively.
// Its document store is created the first time the API opens it.
func (db *ServerDB) CreateUser(email string) (*User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, fmt.Errorf("email is required")
	}
	if existing, err := db.GetUserByEmail(email); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, fmt.Errorf("%s: %w", email, ErrUserExists)
	}

	id, err := generateID("u_")
	if err != nil {
		return nil, fmt.Errorf("generate user id: %w", err)
	}

	now := time.Now().UTC()
	_, err = db.conn.Exec(
		`INSERT INTO users (id, email, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		id, email, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}

	return &User{ID: id, Email: email, CreatedAt: now, UpdatedAt: now}, nil
}

// GetUserByID returns the account with id, or nil.
func (db *ServerDB) GetUserByID(id string) (*User, error) {
	u := &User{}
	err := db.conn.QueryRow(
		`SELECT id, email, created_at, updated_at FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.Email, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user by id: %w", err)
	}
	return u, nil
}

// GetUserByEmail looks an account up the way "riff-sync admin" addresses it.
// It returns nil for an unknown email.
func (db *ServerDB) GetUserByEmail(email string) (*User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	u := &User{}
	err := db.conn.QueryRow(
		`SELECT id, email, created_at, updated_at FROM users WHERE LOWER(email) = ?`, email,
	).Scan(&u.ID, &u.Email, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

// ListUsers returns every account in registration order.
func (db *ServerDB) ListUsers() ([]*User, error) {
	rows, err := db.conn.Query(`SELECT id, email, created_at, updated_at FROM users ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u := &User{}
		if err := rows.Scan(&u.ID, &u.Email, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list users: iterate: %w", err)
	}
	return users, nil
}

// CountUsers is reported by /metricz.
func (db *ServerDB) CountUsers() (int, error) {
	var n int
	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}
