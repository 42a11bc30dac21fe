package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/calderon/ventasync/internal/store"
)

// seedConflict pushes racing edits from two devices and returns the open
// conflict plus the device that pushed the losing side.
func seedConflict(t *testing.T, e *Engine, s *store.Store) (*store.Conflict, *store.Device) {
	t.Helper()
	devA := newTestDevice(t, s, "caja-1")
	devB := newTestDevice(t, s, "caja-2")
	record := uuid.NewString()
	now := time.Now().UTC()

	if _, err := e.Push(ctx, devA, []Change{{
		UUID: uuid.NewString(), Table: "clientes", RecordUUID: record,
		Operation: "INSERT", Data: map[string]any{"nombre": "Ana", "telefono": "111"},
		Timestamp: now,
	}}, nil); err != nil {
		t.Fatalf("Push A: %v", err)
	}

	res, err := e.Push(ctx, devB, []Change{{
		UUID: uuid.NewString(), Table: "clientes", RecordUUID: record,
		Operation: "UPDATE", Data: map[string]any{"telefono": "222"},
		Timestamp: now.Add(-time.Minute), Version: 1,
	}}, nil)
	if err != nil {
		t.Fatalf("Push B: %v", err)
	}
	if len(res.Conflicts) != 1 {
		t.Fatalf("expected one conflict, got %+v", res.Conflicts)
	}

	conflict, err := s.GetConflict(res.Conflicts[0].ConflictUUID)
	if err != nil || conflict == nil {
		t.Fatalf("GetConflict: %v", err)
	}
	return conflict, devB
}

func TestResolveLocalKeepsServerState(t *testing.T) {
	e, s := newTestEngine(t)
	conflict, dev := seedConflict(t, e, s)
	user := testUserFor(t, s, dev)

	before, _ := s.CountChanges()

	if err := e.Resolve(ctx, conflict.UUID, store.ResolutionLocal, nil, user, dev); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	var telefono string
	if err := s.DB().QueryRow(`SELECT telefono FROM clientes WHERE uuid = ?`, conflict.RecordUUID).Scan(&telefono); err != nil {
		t.Fatalf("query: %v", err)
	}
	if telefono != "111" {
		t.Errorf("telefono = %s, local resolution touched the row", telefono)
	}

	after, _ := s.CountChanges()
	if after != before {
		t.Errorf("local resolution appended %d entries", after-before)
	}

	assertResolved(t, s, conflict, store.ResolutionLocal)
}

func TestResolveRemoteAppliesLosingPayload(t *testing.T) {
	e, s := newTestEngine(t)
	conflict, dev := seedConflict(t, e, s)
	user := testUserFor(t, s, dev)

	if err := e.Resolve(ctx, conflict.UUID, store.ResolutionRemote, nil, user, dev); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	var telefono string
	if err := s.DB().QueryRow(`SELECT telefono FROM clientes WHERE uuid = ?`, conflict.RecordUUID).Scan(&telefono); err != nil {
		t.Fatalf("query: %v", err)
	}
	if telefono != "222" {
		t.Errorf("telefono = %s, want 222", telefono)
	}

	assertResolved(t, s, conflict, store.ResolutionRemote)
	assertResolutionEntry(t, s, conflict, 2)
}

func TestResolveMergeAppliesMergedData(t *testing.T) {
	e, s := newTestEngine(t)
	conflict, dev := seedConflict(t, e, s)
	user := testUserFor(t, s, dev)

	merged := map[string]any{"telefono": "333"}
	if err := e.Resolve(ctx, conflict.UUID, store.ResolutionMerge, merged, user, dev); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	var telefono string
	if err := s.DB().QueryRow(`SELECT telefono FROM clientes WHERE uuid = ?`, conflict.RecordUUID).Scan(&telefono); err != nil {
		t.Fatalf("query: %v", err)
	}
	if telefono != "333" {
		t.Errorf("telefono = %s, want 333", telefono)
	}

	assertResolved(t, s, conflict, store.ResolutionMerge)
	assertResolutionEntry(t, s, conflict, 2)
}

func TestResolveMergeRequiresData(t *testing.T) {
	e, s := newTestEngine(t)
	conflict, dev := seedConflict(t, e, s)
	user := testUserFor(t, s, dev)

	err := e.Resolve(ctx, conflict.UUID, store.ResolutionMerge, nil, user, dev)
	if !errors.Is(err, ErrInvalidResolution) {
		t.Errorf("err = %v, want ErrInvalidResolution", err)
	}
}

func TestResolveInvalidResolution(t *testing.T) {
	e, s := newTestEngine(t)
	conflict, dev := seedConflict(t, e, s)
	user := testUserFor(t, s, dev)

	err := e.Resolve(ctx, conflict.UUID, "ambos", nil, user, dev)
	if !errors.Is(err, ErrInvalidResolution) {
		t.Errorf("err = %v, want ErrInvalidResolution", err)
	}
}

func TestResolveIsTerminal(t *testing.T) {
	e, s := newTestEngine(t)
	conflict, dev := seedConflict(t, e, s)
	user := testUserFor(t, s, dev)

	if err := e.Resolve(ctx, conflict.UUID, store.ResolutionLocal, nil, user, dev); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	err := e.Resolve(ctx, conflict.UUID, store.ResolutionRemote, nil, user, dev)
	if !errors.Is(err, ErrConflictResolved) {
		t.Errorf("err = %v, want ErrConflictResolved", err)
	}
}

func TestResolveUnknownConflict(t *testing.T) {
	e, s := newTestEngine(t)
	dev := newTestDevice(t, s, "caja-1")
	user := testUserFor(t, s, dev)

	err := e.Resolve(ctx, uuid.NewString(), store.ResolutionLocal, nil, user, dev)
	if !errors.Is(err, ErrConflictNotFound) {
		t.Errorf("err = %v, want ErrConflictNotFound", err)
	}
}

func assertResolved(t *testing.T, s *store.Store, conflict *store.Conflict, want string) {
	t.Helper()
	got, err := s.GetConflict(conflict.UUID)
	if err != nil || got == nil {
		t.Fatalf("GetConflict: %v", err)
	}
	if !got.Resolved || got.Resolution == nil || *got.Resolution != want {
		t.Errorf("conflict = %+v, want resolution %s", got, want)
	}

	for _, id := range []int64{conflict.LocalChangeID, conflict.RemoteChangeID} {
		entry, err := s.GetChangeByID(id)
		if err != nil || entry == nil {
			t.Fatalf("GetChangeByID(%d): %v", id, err)
		}
		if !entry.ConflictResolved {
			t.Errorf("entry %d not marked conflict_resolved", id)
		}
	}
}

// assertResolutionEntry checks the superseding change exists with a version
// past both conflict sides, so every device converges on it.
func assertResolutionEntry(t *testing.T, s *store.Store, conflict *store.Conflict, wantVersion int64) {
	t.Helper()
	entries, err := s.TailChanges(1)
	if err != nil || len(entries) != 1 {
		t.Fatalf("TailChanges: %v", err)
	}
	entry := entries[0]
	if entry.RecordUUID != conflict.RecordUUID || entry.Conflict {
		t.Fatalf("newest entry = %+v", entry)
	}
	if entry.Version != wantVersion {
		t.Errorf("resolution version = %d, want %d", entry.Version, wantVersion)
	}
}
