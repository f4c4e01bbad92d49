package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// User maps an identity-provider subject to a qaflow user id.
type User struct {
	ID        string    `json:"id"`
	AuthID    string    `json:"authId"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// EnsureUser returns the user for authID, creating it on first sight.
func (s *Store) EnsureUser(authID, email string) (*User, error) {
	authID = strings.TrimSpace(authID)
	if authID == "" {
		return nil, fmt.Errorf("auth id is required")
	}

	err := s.execWithRetry(
		`INSERT INTO users (id, auth_id, email, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(auth_id) DO NOTHING`,
		newID(), authID, strings.TrimSpace(email), s.now(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return s.userBy("auth_id", authID)
}

// GetUser retrieves a user by id.
func (s *Store) GetUser(id string) (*User, error) {
	return s.userBy("id", id)
}

// UserIDByAuthID resolves an identity-provider subject to a user id.
func (s *Store) UserIDByAuthID(authID string) (string, error) {
	var id string
	err := s.db.QueryRow(`SELECT id FROM users WHERE auth_id = ?`, authID).Scan(&id)
	if err != nil {
		return "", notFound(err)
	}
	return id, nil
}

func (s *Store) userBy(column, value string) (*User, error) {
	var u User
	err := s.db.QueryRow(
		`SELECT id, auth_id, email, created_at FROM users WHERE `+column+` = ?`, value,
	).Scan(&u.ID, &u.AuthID, &u.Email, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}
