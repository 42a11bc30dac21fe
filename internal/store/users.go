package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// User represents a registered user account.
type User struct {
	ID        string
	Name      string
	Email     string
	Role      string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CreateUser inserts a new user with a bcrypt-hashed password.
func (s *Store) CreateUser(name, email, password, role string) (*User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, fmt.Errorf("email is required")
	}
	if password == "" {
		return nil, fmt.Errorf("password is required")
	}
	if role == "" {
		role = "vendedor"
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	id, err := generateID("u_")
	if err != nil {
		return nil, fmt.Errorf("generate user id: %w", err)
	}

	now := time.Now().UTC()
	_, err = s.conn.Exec(
		`INSERT INTO users (id, name, email, password_hash, role, active, created_at, updated_at) VALUES (?, ?, ?, ?, ?, 1, ?, ?)`,
		id, name, email, string(hash), role, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}

	return &User{ID: id, Name: name, Email: email, Role: role, Active: true, CreatedAt: now, UpdatedAt: now}, nil
}

// Authenticate verifies an email/password pair. Returns nil if the email is
// unknown or the password does not match; the caller distinguishes an
// inactive user via the Active flag.
func (s *Store) Authenticate(email, password string) (*User, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	u := &User{}
	var hash string
	err := s.conn.QueryRow(
		`SELECT id, name, email, password_hash, role, active, created_at, updated_at FROM users WHERE LOWER(email) = ?`,
		email,
	).Scan(&u.ID, &u.Name, &u.Email, &hash, &u.Role, &u.Active, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("authenticate user: %w", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return nil, nil
	}
	return u, nil
}

// GetUserByID returns the user with the given ID, or nil if not found.
func (s *Store) GetUserByID(id string) (*User, error) {
	u := &User{}
	err := s.conn.QueryRow(
		`SELECT id, name, email, role, active, created_at, updated_at FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.Active, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user by id: %w", err)
	}
	return u, nil
}

// GetUserByEmail returns the user with the given email (case-insensitive),
// or nil if not found.
func (s *Store) GetUserByEmail(email string) (*User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	u := &User{}
	err := s.conn.QueryRow(
		`SELECT id, name, email, role, active, created_at, updated_at FROM users WHERE LOWER(email) = ?`, email,
	).Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.Active, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

// ListUsers returns all users ordered by creation time.
func (s *Store) ListUsers() ([]*User, error) {
	rows, err := s.conn.Query(`SELECT id, name, email, role, active, created_at, updated_at FROM users ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u := &User{}
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.Active, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list users: iterate: %w", err)
	}
	return users, nil
}

// SetUserActive flips a user's active flag.
func (s *Store) SetUserActive(userID string, active bool) error {
	now := time.Now().UTC()
	res, err := s.conn.Exec(
		`UPDATE users SET active = ?, updated_at = ? WHERE id = ?`,
		active, now, userID,
	)
	if err != nil {
		return fmt.Errorf("set user active: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("user not found: %s", userID)
	}
	return nil
}
