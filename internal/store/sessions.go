package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Sync session status values.
const (
	SessionInProgress = "in_progress"
	SessionCompleted  = "completed"
	SessionError      = "error"
)

// SyncSession records one pull or push exchange for audit.
type SyncSession struct {
	UUID         string
	DeviceUUID   string
	Direction    string // "push" or "pull"
	StartedAt    time.Time
	EndedAt      *time.Time
	ChangesSent  int
	ChangesRecv  int
	Conflicts    int
	Status       string
	ErrorMessage *string
}

// BeginSession opens a new in-progress session for the device.
func (s *Store) BeginSession(deviceUUID, direction string) (*SyncSession, error) {
	now := time.Now().UTC()
	sess := &SyncSession{
		UUID:       uuid.NewString(),
		DeviceUUID: deviceUUID,
		Direction:  direction,
		StartedAt:  now,
		Status:     SessionInProgress,
	}
	_, err := s.conn.Exec(
		`INSERT INTO sync_sessions (uuid, device_uuid, direction, started_at, status) VALUES (?, ?, ?, ?, ?)`,
		sess.UUID, deviceUUID, direction, now, SessionInProgress,
	)
	if err != nil {
		return nil, fmt.Errorf("begin sync session: %w", err)
	}
	return sess, nil
}

// CompleteSession closes a session with its final counters.
func (s *Store) CompleteSession(sessionUUID string, sent, received, conflicts int) error {
	now := time.Now().UTC()
	res, err := s.conn.Exec(
		`UPDATE sync_sessions SET ended_at = ?, changes_sent = ?, changes_received = ?, conflicts = ?, status = ? WHERE uuid = ?`,
		now, sent, received, conflicts, SessionCompleted, sessionUUID,
	)
	if err != nil {
		return fmt.Errorf("complete sync session: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("sync session not found: %s", sessionUUID)
	}
	return nil
}

// FailSession closes a session as errored with a message. Used only for
// request-level failures; per-item failures still complete the session.
func (s *Store) FailSession(sessionUUID, message string) error {
	now := time.Now().UTC()
	_, err := s.conn.Exec(
		`UPDATE sync_sessions SET ended_at = ?, status = ?, error_message = ? WHERE uuid = ?`,
		now, SessionError, message, sessionUUID,
	)
	if err != nil {
		return fmt.Errorf("fail sync session: %w", err)
	}
	return nil
}

// GetSession returns the session with the given UUID, or nil.
func (s *Store) GetSession(sessionUUID string) (*SyncSession, error) {
	sess := &SyncSession{}
	err := s.conn.QueryRow(
		`SELECT uuid, device_uuid, direction, started_at, ended_at, changes_sent, changes_received, conflicts, status, error_message
		 FROM sync_sessions WHERE uuid = ?`, sessionUUID,
	).Scan(&sess.UUID, &sess.DeviceUUID, &sess.Direction, &sess.StartedAt, &sess.EndedAt,
		&sess.ChangesSent, &sess.ChangesRecv, &sess.Conflicts, &sess.Status, &sess.ErrorMessage)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get sync session: %w", err)
	}
	return sess, nil
}

// ListRecentSessions returns the newest limit sessions, newest first.
func (s *Store) ListRecentSessions(limit int) ([]*SyncSession, error) {
	rows, err := s.conn.Query(
		`SELECT uuid, device_uuid, direction, started_at, ended_at, changes_sent, changes_received, conflicts, status, error_message
		 FROM sync_sessions ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list sync sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*SyncSession
	for rows.Next() {
		sess := &SyncSession{}
		if err := rows.Scan(&sess.UUID, &sess.DeviceUUID, &sess.Direction, &sess.StartedAt, &sess.EndedAt,
			&sess.ChangesSent, &sess.ChangesRecv, &sess.Conflicts, &sess.Status, &sess.ErrorMessage); err != nil {
			return nil, fmt.Errorf("scan sync session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sync sessions: iterate: %w", err)
	}
	return sessions, nil
}
