package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Resolution kinds for a sync conflict.
const (
	ResolutionLocal  = "local"
	ResolutionRemote = "remote"
	ResolutionMerge  = "merge"
)

// Conflict is a detected concurrent edit: two change-log entries for the
// same (table, record) pair whose order cannot be established from the
// claimed client timestamp.
type Conflict struct {
	UUID           string
	Table          string
	RecordUUID     string
	LocalChangeID  int64
	RemoteChangeID int64
	LocalPayload   json.RawMessage
	RemotePayload  json.RawMessage
	Resolved       bool
	Resolution     *string
	ResolvedBy     *string
	ResolvedAt     *time.Time
	CreatedAt      time.Time
}

const conflictColumns = `uuid, table_name, record_uuid, local_change_id, remote_change_id, local_payload, remote_payload, resolved, resolution, resolved_by, resolved_at, created_at`

// CreateConflictTx persists a new conflict record inside the caller's
// transaction. Both change IDs must reference entries for the same
// (table, record) pair. Returns the generated conflict UUID.
func (s *Store) CreateConflictTx(tx *sql.Tx, c *Conflict) error {
	if c.UUID == "" {
		c.UUID = uuid.NewString()
	}
	c.CreatedAt = time.Now().UTC()
	_, err := tx.Exec(
		`INSERT INTO sync_conflicts (uuid, table_name, record_uuid, local_change_id, remote_change_id, local_payload, remote_payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.UUID, c.Table, c.RecordUUID, c.LocalChangeID, c.RemoteChangeID,
		string(c.LocalPayload), string(c.RemotePayload), c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create conflict: %w", err)
	}
	return nil
}

// GetConflict returns the conflict with the given UUID, or nil.
func (s *Store) GetConflict(conflictUUID string) (*Conflict, error) {
	row := s.conn.QueryRow(`SELECT `+conflictColumns+` FROM sync_conflicts WHERE uuid = ?`, conflictUUID)
	return scanConflict(row)
}

// ListUnresolvedConflicts returns open conflicts, newest first.
func (s *Store) ListUnresolvedConflicts() ([]*Conflict, error) {
	rows, err := s.conn.Query(
		`SELECT ` + conflictColumns + ` FROM sync_conflicts WHERE resolved = 0 ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list conflicts: %w", err)
	}
	defer rows.Close()

	var conflicts []*Conflict
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, err
		}
		conflicts = append(conflicts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list conflicts: iterate: %w", err)
	}
	return conflicts, nil
}

// CountUnresolvedConflicts returns the number of open conflicts.
func (s *Store) CountUnresolvedConflicts() (int64, error) {
	var n int64
	if err := s.conn.QueryRow(`SELECT COUNT(*) FROM sync_conflicts WHERE resolved = 0`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count conflicts: %w", err)
	}
	return n, nil
}

// ResolveConflictTx marks an open conflict resolved. The transition is
// terminal: resolving an already-resolved conflict fails.
func (s *Store) ResolveConflictTx(tx *sql.Tx, conflictUUID, resolution, resolvedBy string) error {
	now := time.Now().UTC()
	res, err := tx.Exec(
		`UPDATE sync_conflicts SET resolved = 1, resolution = ?, resolved_by = ?, resolved_at = ? WHERE uuid = ? AND resolved = 0`,
		resolution, resolvedBy, now, conflictUUID,
	)
	if err != nil {
		return fmt.Errorf("resolve conflict: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("conflict not found or already resolved: %s", conflictUUID)
	}
	return nil
}

func scanConflict(row rowScanner) (*Conflict, error) {
	c := &Conflict{}
	var local, remote string
	err := row.Scan(&c.UUID, &c.Table, &c.RecordUUID, &c.LocalChangeID, &c.RemoteChangeID,
		&local, &remote, &c.Resolved, &c.Resolution, &c.ResolvedBy, &c.ResolvedAt, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan conflict: %w", err)
	}
	c.LocalPayload = json.RawMessage(local)
	c.RemotePayload = json.RawMessage(remote)
	return c, nil
}
