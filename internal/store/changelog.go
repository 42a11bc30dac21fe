package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Operation kinds recorded in the change log.
const (
	OpInsert = "INSERT"
	OpUpdate = "UPDATE"
	OpDelete = "DELETE"
)

// ChangeEntry is one row of the append-only change log.
type ChangeEntry struct {
	ID               int64
	UUID             string
	Table            string
	RecordUUID       string
	Operation        string
	Payload          json.RawMessage
	UserID           string
	DeviceUUID       string
	Timestamp        time.Time
	Version          int64
	Synced           bool
	Conflict         bool
	ConflictResolved bool
}

const changeColumns = `id, uuid, table_name, record_uuid, operation, payload, COALESCE(user_id, ''), COALESCE(device_uuid, ''), timestamp, version, synced, conflict, conflict_resolved`

// AppendTx appends an entry to the change log inside the caller's
// transaction. When e.Version is zero the version is computed as
// max(existing versions for this table+record)+1, which keeps the per-record
// sequence strictly increasing. Conflict-flagged entries carry the client's
// claimed version and are excluded from both the applied state and the max
// computation, so an inflated claim on a losing change cannot bump the
// versions of later applied changes. This is the only write path into the
// log. e.ID and e.Version are set on return.
func (s *Store) AppendTx(tx *sql.Tx, e *ChangeEntry) error {
	if e.UUID == "" {
		return fmt.Errorf("append change: empty change uuid")
	}
	if e.RecordUUID == "" {
		return fmt.Errorf("append change: empty record uuid")
	}

	if e.Version == 0 {
		var maxVersion int64
		err := tx.QueryRow(
			`SELECT COALESCE(MAX(version), 0) FROM change_log WHERE table_name = ? AND record_uuid = ? AND conflict = 0`,
			e.Table, e.RecordUUID,
		).Scan(&maxVersion)
		if err != nil {
			return fmt.Errorf("max version for %s/%s: %w", e.Table, e.RecordUUID, err)
		}
		e.Version = maxVersion + 1
	}

	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	res, err := tx.Exec(
		`INSERT INTO change_log (uuid, table_name, record_uuid, operation, payload, user_id, device_uuid, timestamp, version, synced, conflict)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.UUID, e.Table, e.RecordUUID, e.Operation, string(e.Payload),
		nullIfEmpty(e.UserID), nullIfEmpty(e.DeviceUUID),
		e.Timestamp.UTC(), e.Version, e.Synced, e.Conflict,
	)
	if err != nil {
		return fmt.Errorf("append change %s: %w", e.UUID, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("append change %s: last insert id: %w", e.UUID, err)
	}
	e.ID = id
	return nil
}

// GetChangeByUUIDTx returns the entry with the given change UUID, or nil.
// The change UUID is the idempotency key: an existing row means the change
// was already received.
func (s *Store) GetChangeByUUIDTx(tx *sql.Tx, changeUUID string) (*ChangeEntry, error) {
	row := tx.QueryRow(`SELECT `+changeColumns+` FROM change_log WHERE uuid = ?`, changeUUID)
	return scanChange(row)
}

// GetChangeByID returns the entry with the given rowid, or nil.
func (s *Store) GetChangeByID(id int64) (*ChangeEntry, error) {
	row := s.conn.QueryRow(`SELECT `+changeColumns+` FROM change_log WHERE id = ?`, id)
	return scanChange(row)
}

// LatestAppliedAfterTx returns the newest applied (non-conflict) entry for
// the record with a timestamp strictly greater than after, or nil. This is
// the conflict check: any such entry means the pushed change raced a change
// the server already holds.
func (s *Store) LatestAppliedAfterTx(tx *sql.Tx, table, recordUUID string, after time.Time) (*ChangeEntry, error) {
	row := tx.QueryRow(
		`SELECT `+changeColumns+` FROM change_log
		 WHERE table_name = ? AND record_uuid = ? AND conflict = 0 AND timestamp > ?
		 ORDER BY timestamp DESC LIMIT 1`,
		table, recordUUID, after.UTC(),
	)
	return scanChange(row)
}

// ChangesSince returns applied entries newer than the checkpoint, excluding
// those authored by excludeDevice, ordered by timestamp ascending and capped
// at limit.
func (s *Store) ChangesSince(checkpoint time.Time, excludeDevice string, limit int) ([]*ChangeEntry, error) {
	rows, err := s.conn.Query(
		`SELECT `+changeColumns+` FROM change_log
		 WHERE timestamp > ? AND conflict = 0 AND (device_uuid IS NULL OR device_uuid != ?)
		 ORDER BY timestamp ASC LIMIT ?`,
		checkpoint.UTC(), excludeDevice, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("changes since: %w", err)
	}
	defer rows.Close()
	return collectChanges(rows)
}

// TailChanges returns the newest limit entries in chronological order.
func (s *Store) TailChanges(limit int) ([]*ChangeEntry, error) {
	rows, err := s.conn.Query(
		`SELECT `+changeColumns+` FROM change_log ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("tail changes: %w", err)
	}
	defer rows.Close()

	entries, err := collectChanges(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// MarkConflictResolvedTx flips the conflict_resolved flag on the given
// entries. The only permitted mutation of a change-log row.
func (s *Store) MarkConflictResolvedTx(tx *sql.Tx, ids ...int64) error {
	for _, id := range ids {
		if _, err := tx.Exec(`UPDATE change_log SET conflict_resolved = 1 WHERE id = ?`, id); err != nil {
			return fmt.Errorf("mark change %d resolved: %w", id, err)
		}
	}
	return nil
}

// CountChanges returns the total number of change-log entries.
func (s *Store) CountChanges() (int64, error) {
	var n int64
	if err := s.conn.QueryRow(`SELECT COUNT(*) FROM change_log`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count changes: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChange(row rowScanner) (*ChangeEntry, error) {
	e := &ChangeEntry{}
	var payload sql.NullString
	var ts string
	err := row.Scan(&e.ID, &e.UUID, &e.Table, &e.RecordUUID, &e.Operation, &payload,
		&e.UserID, &e.DeviceUUID, &ts, &e.Version, &e.Synced, &e.Conflict, &e.ConflictResolved)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan change: %w", err)
	}
	if payload.Valid {
		e.Payload = json.RawMessage(payload.String)
	}
	e.Timestamp, err = parseTimestamp(ts)
	if err != nil {
		return nil, fmt.Errorf("change %s: %w", e.UUID, err)
	}
	return e, nil
}

func collectChanges(rows *sql.Rows) ([]*ChangeEntry, error) {
	var entries []*ChangeEntry
	for rows.Next() {
		e, err := scanChange(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("changes: iterate: %w", err)
	}
	return entries, nil
}

// parseTimestamp tries common SQLite timestamp formats.
func parseTimestamp(s string) (time.Time, error) {
	formats := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05Z",
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05.999999999Z07:00",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05.999999999-07:00",
		"2006-01-02T15:04:05.999999999",
		"2006-01-02 15:04:05 -0700 -0700", // Go time.Time.String() with numeric tz
		"2006-01-02 15:04:05 -0700 MST",   // Go time.Time.String() standard
	}
	for _, f := range formats {
		if t, err := time.Parse(f, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format: %q", s)
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
