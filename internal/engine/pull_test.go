package engine

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/calderon/ventasync/internal/store"
)

func pushN(t *testing.T, e *Engine, dev *store.Device, table string, n int) {
	t.Helper()
	changes := make([]Change, n)
	base := time.Now().UTC()
	for i := range changes {
		changes[i] = Change{
			UUID:       uuid.NewString(),
			Table:      table,
			RecordUUID: uuid.NewString(),
			Operation:  "INSERT",
			Data:       map[string]any{"nombre": "X"},
			Timestamp:  base.Add(time.Duration(i) * time.Millisecond),
		}
	}
	if _, err := e.Push(ctx, dev, changes, nil); err != nil {
		t.Fatalf("Push: %v", err)
	}
}

func TestPullReturnsOthersChanges(t *testing.T) {
	e, s := newTestEngine(t)
	devA := newTestDevice(t, s, "caja-1")
	devB := newTestDevice(t, s, "caja-2")

	pushN(t, e, devA, "clientes", 3)

	res, err := e.Pull(ctx, devB, nil)
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if len(res.Changes) != 3 {
		t.Fatalf("got %d changes, want 3", len(res.Changes))
	}
	if res.HasMore {
		t.Error("has_more set on a partial page")
	}
	for i := 1; i < len(res.Changes); i++ {
		if res.Changes[i].Timestamp.Before(res.Changes[i-1].Timestamp) {
			t.Error("changes not in chronological order")
		}
	}

	// The author never sees its own changes.
	own, err := e.Pull(ctx, devA, nil)
	if err != nil {
		t.Fatalf("Pull own: %v", err)
	}
	if len(own.Changes) != 0 {
		t.Errorf("author received %d of its own changes", len(own.Changes))
	}
}

func TestPullAdvancesCheckpoint(t *testing.T) {
	e, s := newTestEngine(t)
	devA := newTestDevice(t, s, "caja-1")
	devB := newTestDevice(t, s, "caja-2")

	pushN(t, e, devA, "clientes", 2)

	first, err := e.Pull(ctx, devB, nil)
	if err != nil {
		t.Fatalf("first Pull: %v", err)
	}
	if len(first.Changes) != 2 {
		t.Fatalf("got %d changes, want 2", len(first.Changes))
	}

	dev, err := s.GetDevice(devB.UUID)
	if err != nil || dev.LastSyncAt == nil {
		t.Fatalf("checkpoint not stored: %v", err)
	}

	// With the stored checkpoint, nothing new comes back.
	second, err := e.Pull(ctx, dev, nil)
	if err != nil {
		t.Fatalf("second Pull: %v", err)
	}
	if len(second.Changes) != 0 {
		t.Errorf("second pull returned %d changes, want 0", len(second.Changes))
	}
}

func TestPullExplicitCheckpointWins(t *testing.T) {
	e, s := newTestEngine(t)
	devA := newTestDevice(t, s, "caja-1")
	devB := newTestDevice(t, s, "caja-2")

	pushN(t, e, devA, "productos", 2)

	// Drain once so the device checkpoint is current.
	if _, err := e.Pull(ctx, devB, nil); err != nil {
		t.Fatalf("Pull: %v", err)
	}
	devB, _ = s.GetDevice(devB.UUID)

	// An explicit old checkpoint re-downloads everything.
	old := time.Now().UTC().Add(-time.Hour)
	res, err := e.Pull(ctx, devB, &old)
	if err != nil {
		t.Fatalf("Pull with explicit checkpoint: %v", err)
	}
	if len(res.Changes) != 2 {
		t.Errorf("got %d changes, want 2", len(res.Changes))
	}
}

func TestPullPagination(t *testing.T) {
	e, s := newTestEngine(t)
	e.WithPageSize(2)
	devA := newTestDevice(t, s, "caja-1")
	devB := newTestDevice(t, s, "caja-2")

	pushN(t, e, devA, "clientes", 5)

	seen := map[string]bool{}
	checkpoint := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	pages := 0
	for {
		res, err := e.Pull(ctx, devB, &checkpoint)
		if err != nil {
			t.Fatalf("Pull page %d: %v", pages, err)
		}
		pages++
		for _, c := range res.Changes {
			seen[c.UUID] = true
			if c.Timestamp.After(checkpoint) {
				checkpoint = c.Timestamp
			}
		}
		if !res.HasMore {
			break
		}
		if pages > 10 {
			t.Fatal("pagination did not terminate")
		}
	}

	if len(seen) != 5 {
		t.Errorf("drained %d distinct changes, want 5", len(seen))
	}
	if pages < 3 {
		t.Errorf("drained in %d pages, want at least 3 with page size 2", pages)
	}
}

func TestPullSessionRecorded(t *testing.T) {
	e, s := newTestEngine(t)
	dev := newTestDevice(t, s, "caja-1")

	res, err := e.Pull(ctx, dev, nil)
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}

	sess, err := s.GetSession(res.SessionID)
	if err != nil || sess == nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess.Direction != "pull" || sess.Status != "completed" {
		t.Errorf("session = %+v", sess)
	}
}
