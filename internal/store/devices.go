package store

import (
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const tokenBytes = 32

// Device represents a registered sync device. TokenHash is nil after logout.
type Device struct {
	UUID       string
	UserID     string
	Name       string
	TokenHash  *string
	LastSyncAt *time.Time
	Active     bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// generateSyncToken creates a random url-safe device token.
func generateSyncToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// hashToken returns the sha256 hex digest used for token storage and lookup.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// IssueDeviceToken registers or re-registers a device for the user and
// returns the plaintext sync token (shown once) plus the device row. If a
// device with the given UUID already exists for this user the token is
// rotated in place and the row reactivated; no duplicate row is created.
// An empty deviceUUID registers a brand-new device.
func (s *Store) IssueDeviceToken(userID, deviceUUID, name string) (string, *Device, error) {
	token, err := generateSyncToken()
	if err != nil {
		return "", nil, fmt.Errorf("generate sync token: %w", err)
	}
	tokenHash := hashToken(token)
	now := time.Now().UTC()

	if name == "" {
		name = "dispositivo móvil"
	}

	if deviceUUID != "" {
		existing, err := s.getDeviceForUser(deviceUUID, userID)
		if err != nil {
			return "", nil, err
		}
		if existing != nil {
			_, err = s.conn.Exec(
				`UPDATE devices SET token_hash = ?, name = ?, active = 1, updated_at = ? WHERE uuid = ?`,
				tokenHash, name, now, deviceUUID,
			)
			if err != nil {
				return "", nil, fmt.Errorf("rotate device token: %w", err)
			}
			existing.TokenHash = &tokenHash
			existing.Name = name
			existing.Active = true
			existing.UpdatedAt = now
			return token, existing, nil
		}
	} else {
		deviceUUID = uuid.NewString()
	}

	_, err = s.conn.Exec(
		`INSERT INTO devices (uuid, user_id, name, token_hash, active, created_at, updated_at) VALUES (?, ?, ?, ?, 1, ?, ?)`,
		deviceUUID, userID, name, tokenHash, now, now,
	)
	if err != nil {
		return "", nil, fmt.Errorf("insert device: %w", err)
	}

	return token, &Device{
		UUID:      deviceUUID,
		UserID:    userID,
		Name:      name,
		TokenHash: &tokenHash,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// VerifyDeviceToken hashes the plaintext token and looks up the matching
// active device and its owning user. Returns (nil, nil, nil) when no active
// device carries the token; the caller checks User.Active separately so an
// inactive user maps to forbidden rather than unauthorized.
func (s *Store) VerifyDeviceToken(token string) (*Device, *User, error) {
	tokenHash := hashToken(token)

	d := &Device{}
	u := &User{}
	err := s.conn.QueryRow(`
		SELECT d.uuid, d.user_id, d.name, d.token_hash, d.last_sync_at, d.active, d.created_at, d.updated_at,
		       u.id, u.name, u.email, u.role, u.active, u.created_at, u.updated_at
		FROM devices d
		JOIN users u ON u.id = d.user_id
		WHERE d.token_hash = ? AND d.active = 1
	`, tokenHash).Scan(
		&d.UUID, &d.UserID, &d.Name, &d.TokenHash, &d.LastSyncAt, &d.Active, &d.CreatedAt, &d.UpdatedAt,
		&u.ID, &u.Name, &u.Email, &u.Role, &u.Active, &u.CreatedAt, &u.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		slog.Debug("sync token not found", "token_hash_prefix", tokenHash[:8])
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("verify device token: %w", err)
	}

	return d, u, nil
}

// RevokeDeviceToken clears the stored token hash and deactivates the device.
// Subsequent verifications of the old token fail.
func (s *Store) RevokeDeviceToken(deviceUUID string) error {
	now := time.Now().UTC()
	res, err := s.conn.Exec(
		`UPDATE devices SET token_hash = NULL, active = 0, updated_at = ? WHERE uuid = ?`,
		now, deviceUUID,
	)
	if err != nil {
		return fmt.Errorf("revoke device token: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("device not found: %s", deviceUUID)
	}
	return nil
}

// UpdateDeviceCheckpoint advances the device's last-sync checkpoint.
func (s *Store) UpdateDeviceCheckpoint(deviceUUID string, t time.Time) error {
	_, err := s.conn.Exec(
		`UPDATE devices SET last_sync_at = ?, updated_at = ? WHERE uuid = ?`,
		t.UTC(), time.Now().UTC(), deviceUUID,
	)
	if err != nil {
		return fmt.Errorf("update device checkpoint: %w", err)
	}
	return nil
}

// GetDevice returns the device with the given UUID, or nil if not found.
func (s *Store) GetDevice(deviceUUID string) (*Device, error) {
	d := &Device{}
	err := s.conn.QueryRow(
		`SELECT uuid, user_id, name, token_hash, last_sync_at, active, created_at, updated_at FROM devices WHERE uuid = ?`,
		deviceUUID,
	).Scan(&d.UUID, &d.UserID, &d.Name, &d.TokenHash, &d.LastSyncAt, &d.Active, &d.CreatedAt, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get device: %w", err)
	}
	return d, nil
}

// ListDevices returns all devices ordered by creation time.
func (s *Store) ListDevices() ([]*Device, error) {
	rows, err := s.conn.Query(
		`SELECT uuid, user_id, name, token_hash, last_sync_at, active, created_at, updated_at FROM devices ORDER BY created_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var devices []*Device
	for rows.Next() {
		d := &Device{}
		if err := rows.Scan(&d.UUID, &d.UserID, &d.Name, &d.TokenHash, &d.LastSyncAt, &d.Active, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list devices: iterate: %w", err)
	}
	return devices, nil
}

// getDeviceForUser returns the device only if it belongs to the user.
func (s *Store) getDeviceForUser(deviceUUID, userID string) (*Device, error) {
	d := &Device{}
	err := s.conn.QueryRow(
		`SELECT uuid, user_id, name, token_hash, last_sync_at, active, created_at, updated_at FROM devices WHERE uuid = ? AND user_id = ?`,
		deviceUUID, userID,
	).Scan(&d.UUID, &d.UserID, &d.Name, &d.TokenHash, &d.LastSyncAt, &d.Active, &d.CreatedAt, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get device for user: %w", err)
	}
	return d, nil
}
