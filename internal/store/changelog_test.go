package store

import (
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
)

func appendChange(t *testing.T, s *Store, e *ChangeEntry) *ChangeEntry {
	t.Helper()
	tx, err := s.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer tx.Rollback()
	if err := s.AppendTx(tx, e); err != nil {
		t.Fatalf("AppendTx: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	return e
}

func TestAppendTxAssignsMonotonicVersions(t *testing.T) {
	s := newTestStore(t)
	record := uuid.NewString()

	for want := int64(1); want <= 3; want++ {
		e := &ChangeEntry{
			UUID:       uuid.NewString(),
			Table:      "clientes",
			RecordUUID: record,
			Operation:  OpUpdate,
			Payload:    json.RawMessage(`{"nombre":"Ana"}`),
		}
		appendChange(t, s, e)
		if e.Version != want {
			t.Errorf("version = %d, want %d", e.Version, want)
		}
	}

	// Versions are per (table, record): a different record starts at 1.
	other := appendChange(t, s, &ChangeEntry{
		UUID:       uuid.NewString(),
		Table:      "clientes",
		RecordUUID: uuid.NewString(),
		Operation:  OpInsert,
	})
	if other.Version != 1 {
		t.Errorf("new record version = %d, want 1", other.Version)
	}
}

func TestAppendTxKeepsClaimedVersionForConflicts(t *testing.T) {
	s := newTestStore(t)
	record := uuid.NewString()

	applied := appendChange(t, s, &ChangeEntry{
		UUID:       uuid.NewString(),
		Table:      "productos",
		RecordUUID: record,
		Operation:  OpInsert,
	})
	if applied.Version != 1 {
		t.Fatalf("applied version = %d, want 1", applied.Version)
	}

	e := &ChangeEntry{
		UUID:       uuid.NewString(),
		Table:      "productos",
		RecordUUID: record,
		Operation:  OpUpdate,
		Version:    999,
		Conflict:   true,
	}
	appendChange(t, s, e)
	if e.Version != 999 {
		t.Errorf("claimed version overwritten: got %d", e.Version)
	}

	// The losing row's inflated claim never enters the applied sequence:
	// the next computed version follows the last applied one.
	next := appendChange(t, s, &ChangeEntry{
		UUID:       uuid.NewString(),
		Table:      "productos",
		RecordUUID: record,
		Operation:  OpUpdate,
	})
	if next.Version != 2 {
		t.Errorf("version after conflict row = %d, want 2", next.Version)
	}
}

func TestAppendTxRejectsMissingUUIDs(t *testing.T) {
	s := newTestStore(t)
	tx, err := s.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer tx.Rollback()

	if err := s.AppendTx(tx, &ChangeEntry{Table: "clientes", RecordUUID: "r"}); err == nil {
		t.Error("empty change uuid accepted")
	}
	if err := s.AppendTx(tx, &ChangeEntry{UUID: "c", Table: "clientes"}); err == nil {
		t.Error("empty record uuid accepted")
	}
}

func TestAppendTxDuplicateUUID(t *testing.T) {
	s := newTestStore(t)
	changeUUID := uuid.NewString()

	appendChange(t, s, &ChangeEntry{
		UUID:       changeUUID,
		Table:      "clientes",
		RecordUUID: uuid.NewString(),
		Operation:  OpInsert,
	})

	tx, err := s.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer tx.Rollback()
	err = s.AppendTx(tx, &ChangeEntry{
		UUID:       changeUUID,
		Table:      "clientes",
		RecordUUID: uuid.NewString(),
		Operation:  OpInsert,
	})
	if err == nil {
		t.Error("duplicate change uuid accepted")
	}
}

func TestGetChangeByUUID(t *testing.T) {
	s := newTestStore(t)
	e := appendChange(t, s, &ChangeEntry{
		UUID:       uuid.NewString(),
		Table:      "ventas",
		RecordUUID: uuid.NewString(),
		Operation:  OpInsert,
		Payload:    json.RawMessage(`{"total":150.5}`),
		DeviceUUID: "dev-1",
	})

	withTx(t, s, func(tx *sql.Tx) {
		got, err := s.GetChangeByUUIDTx(tx, e.UUID)
		if err != nil {
			t.Fatalf("GetChangeByUUIDTx: %v", err)
		}
		if got == nil || got.ID != e.ID || got.Version != e.Version {
			t.Errorf("got %+v, want id=%d version=%d", got, e.ID, e.Version)
		}

		missing, err := s.GetChangeByUUIDTx(tx, "nope")
		if err != nil {
			t.Fatalf("GetChangeByUUIDTx missing: %v", err)
		}
		if missing != nil {
			t.Error("found entry for unknown uuid")
		}
	})
}

func TestLatestAppliedAfter(t *testing.T) {
	s := newTestStore(t)
	record := uuid.NewString()
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	appendChange(t, s, &ChangeEntry{
		UUID: uuid.NewString(), Table: "clientes", RecordUUID: record,
		Operation: OpInsert, Timestamp: base,
	})
	newest := appendChange(t, s, &ChangeEntry{
		UUID: uuid.NewString(), Table: "clientes", RecordUUID: record,
		Operation: OpUpdate, Timestamp: base.Add(2 * time.Minute),
	})
	// Conflict rows never participate in the race check.
	appendChange(t, s, &ChangeEntry{
		UUID: uuid.NewString(), Table: "clientes", RecordUUID: record,
		Operation: OpUpdate, Timestamp: base.Add(3 * time.Minute),
		Version: 9, Conflict: true,
	})

	withTx(t, s, func(tx *sql.Tx) {
		got, err := s.LatestAppliedAfterTx(tx, "clientes", record, base.Add(time.Minute))
		if err != nil {
			t.Fatalf("LatestAppliedAfterTx: %v", err)
		}
		if got == nil || got.UUID != newest.UUID {
			t.Errorf("got %+v, want %s", got, newest.UUID)
		}

		none, err := s.LatestAppliedAfterTx(tx, "clientes", record, base.Add(10*time.Minute))
		if err != nil {
			t.Fatalf("LatestAppliedAfterTx future: %v", err)
		}
		if none != nil {
			t.Errorf("found entry after all timestamps: %+v", none)
		}
	})
}

func TestChangesSinceExcludesOwnDeviceAndConflicts(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	mine := appendChange(t, s, &ChangeEntry{
		UUID: uuid.NewString(), Table: "clientes", RecordUUID: uuid.NewString(),
		Operation: OpInsert, DeviceUUID: "dev-a", Timestamp: base.Add(time.Second),
	})
	theirs := appendChange(t, s, &ChangeEntry{
		UUID: uuid.NewString(), Table: "clientes", RecordUUID: uuid.NewString(),
		Operation: OpInsert, DeviceUUID: "dev-b", Timestamp: base.Add(2 * time.Second),
	})
	appendChange(t, s, &ChangeEntry{
		UUID: uuid.NewString(), Table: "clientes", RecordUUID: theirs.RecordUUID,
		Operation: OpUpdate, DeviceUUID: "dev-b", Timestamp: base.Add(3 * time.Second),
		Version: 5, Conflict: true,
	})
	server := appendChange(t, s, &ChangeEntry{
		UUID: uuid.NewString(), Table: "productos", RecordUUID: uuid.NewString(),
		Operation: OpInsert, Timestamp: base.Add(4 * time.Second),
	})

	got, err := s.ChangesSince(base, "dev-a", 100)
	if err != nil {
		t.Fatalf("ChangesSince: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d changes, want 2", len(got))
	}
	if got[0].UUID != theirs.UUID || got[1].UUID != server.UUID {
		t.Errorf("wrong order or contents: %s, %s", got[0].UUID, got[1].UUID)
	}
	for _, e := range got {
		if e.UUID == mine.UUID {
			t.Error("own device change returned")
		}
	}
}

func TestChangesSinceHonorsCheckpointAndLimit(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		appendChange(t, s, &ChangeEntry{
			UUID: uuid.NewString(), Table: "abonos", RecordUUID: uuid.NewString(),
			Operation: OpInsert, DeviceUUID: "dev-b",
			Timestamp: base.Add(time.Duration(i) * time.Second),
		})
	}

	// Strictly greater than: the entry at the checkpoint itself is skipped.
	got, err := s.ChangesSince(base, "dev-a", 100)
	if err != nil {
		t.Fatalf("ChangesSince: %v", err)
	}
	if len(got) != 4 {
		t.Errorf("got %d changes, want 4", len(got))
	}

	capped, err := s.ChangesSince(base.Add(-time.Hour), "dev-a", 2)
	if err != nil {
		t.Fatalf("ChangesSince capped: %v", err)
	}
	if len(capped) != 2 {
		t.Errorf("got %d changes, want limit 2", len(capped))
	}
}

func TestMarkConflictResolved(t *testing.T) {
	s := newTestStore(t)

	a := appendChange(t, s, &ChangeEntry{
		UUID: uuid.NewString(), Table: "cajas", RecordUUID: uuid.NewString(), Operation: OpInsert,
	})
	b := appendChange(t, s, &ChangeEntry{
		UUID: uuid.NewString(), Table: "cajas", RecordUUID: a.RecordUUID, Operation: OpUpdate,
		Version: 3, Conflict: true,
	})

	withTx(t, s, func(tx *sql.Tx) {
		if err := s.MarkConflictResolvedTx(tx, a.ID, b.ID); err != nil {
			t.Fatalf("MarkConflictResolvedTx: %v", err)
		}
	})

	for _, id := range []int64{a.ID, b.ID} {
		got, err := s.GetChangeByID(id)
		if err != nil {
			t.Fatalf("GetChangeByID: %v", err)
		}
		if !got.ConflictResolved {
			t.Errorf("entry %d not marked resolved", id)
		}
	}
}

func TestTailChangesChronological(t *testing.T) {
	s := newTestStore(t)

	var last *ChangeEntry
	for i := 0; i < 4; i++ {
		last = appendChange(t, s, &ChangeEntry{
			UUID: uuid.NewString(), Table: "clientes", RecordUUID: uuid.NewString(), Operation: OpInsert,
		})
	}

	got, err := s.TailChanges(3)
	if err != nil {
		t.Fatalf("TailChanges: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d entries, want 3", len(got))
	}
	if got[len(got)-1].UUID != last.UUID {
		t.Error("newest entry not last")
	}
	for i := 1; i < len(got); i++ {
		if got[i].ID < got[i-1].ID {
			t.Error("entries not in chronological order")
		}
	}
}

// withTx runs fn inside a committed transaction.
func withTx(t *testing.T, s *Store, fn func(tx *sql.Tx)) {
	t.Helper()
	tx, err := s.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer tx.Rollback()
	fn(tx)
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}
