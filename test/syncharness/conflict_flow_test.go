package syncharness

import (
	"testing"
	"time"
)

// seedSharedRecord creates a record on device A and replicates it to all
// devices so concurrent edits start from the same state.
func seedSharedRecord(t *testing.T, h *Harness) {
	t.Helper()

	if err := h.Mutate("device-A", "INSERT", "clientes", "c-conf", map[string]any{
		"nombre": "Compartido", "telefono": "000",
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	for _, name := range []string{"device-A", "device-B"} {
		if err := h.Sync(name); err != nil {
			t.Fatalf("seed sync %s: %v", name, err)
		}
	}
	time.Sleep(5 * time.Millisecond)
}

// raceEdits makes both devices edit the shared record offline, then pushes
// A first and B second so B's stale edit conflicts. Returns the conflict uuid.
func raceEdits(t *testing.T, h *Harness) string {
	t.Helper()

	// B edits first while offline, so its change timestamp predates A's.
	if err := h.Mutate("device-B", "UPDATE", "clientes", "c-conf", map[string]any{
		"telefono": "222",
	}); err != nil {
		t.Fatalf("mutate B: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if err := h.Mutate("device-A", "UPDATE", "clientes", "c-conf", map[string]any{
		"telefono": "111",
	}); err != nil {
		t.Fatalf("mutate A: %v", err)
	}

	if _, err := h.Push("device-A"); err != nil {
		t.Fatalf("push A: %v", err)
	}
	resp, err := h.Push("device-B")
	if err != nil {
		t.Fatalf("push B: %v", err)
	}

	if len(resp.Conflicts) != 1 {
		t.Fatalf("expected 1 conflict, got %d (applied: %d)", len(resp.Conflicts), len(resp.Applied))
	}
	item := resp.Conflicts[0]
	if item.Status != "conflict" {
		t.Fatalf("status = %q, want conflict", item.Status)
	}
	if item.ConflictUUID == "" {
		t.Fatal("conflict item carries no conflict id")
	}
	return item.ConflictUUID
}

func TestConcurrentEditsConflict(t *testing.T) {
	h := NewHarness(t, 2)
	seedSharedRecord(t, h)
	raceEdits(t, h)

	// The server keeps A's winning edit; B's losing payload is quarantined.
	row := h.QueryEntity("device-A", "clientes", "c-conf")
	if got, _ := row["telefono"].(string); got != "111" {
		t.Fatalf("device-A telefono = %q, want %q", got, "111")
	}

	conflicts, err := h.Devices["device-A"].API.Conflicts()
	if err != nil {
		t.Fatalf("list conflicts: %v", err)
	}
	if len(conflicts) != 1 {
		t.Fatalf("expected 1 open conflict, got %d", len(conflicts))
	}
	if conflicts[0].Tabla != "clientes" || conflicts[0].RecordUUID != "c-conf" {
		t.Fatalf("conflict points at %s/%s", conflicts[0].Tabla, conflicts[0].RecordUUID)
	}
}

func TestConflictLosingChangeNotPulled(t *testing.T) {
	h := NewHarness(t, 2)
	seedSharedRecord(t, h)
	raceEdits(t, h)

	// A pulls after the race: B's quarantined edit must not arrive.
	changes, err := h.Pull("device-A")
	if err != nil {
		t.Fatalf("pull A: %v", err)
	}
	for _, c := range changes {
		if c.RecordUUID == "c-conf" && c.Tabla == "clientes" {
			row := h.QueryEntity("device-A", "clientes", "c-conf")
			if got, _ := row["telefono"].(string); got == "222" {
				t.Fatal("losing conflict payload leaked through pull")
			}
		}
	}
}

func TestResolveRemoteWins(t *testing.T) {
	h := NewHarness(t, 2)
	seedSharedRecord(t, h)
	conflictUUID := raceEdits(t, h)

	if err := h.Resolve("device-A", conflictUUID, "remote", nil); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	// Both devices converge on B's data: A applied the resolution itself,
	// B pulls the resolution entry.
	if _, err := h.Pull("device-A"); err != nil {
		t.Fatalf("pull A: %v", err)
	}
	if _, err := h.Pull("device-B"); err != nil {
		t.Fatalf("pull B: %v", err)
	}

	h.AssertConverged()

	row := h.QueryEntity("device-B", "clientes", "c-conf")
	if got, _ := row["telefono"].(string); got != "222" {
		t.Fatalf("telefono = %q, want %q after remote resolution", got, "222")
	}

	conflicts, err := h.Devices["device-A"].API.Conflicts()
	if err != nil {
		t.Fatalf("list conflicts: %v", err)
	}
	if len(conflicts) != 0 {
		t.Fatalf("expected no open conflicts, got %d", len(conflicts))
	}
}

func TestResolveLocalKeepsServerState(t *testing.T) {
	h := NewHarness(t, 2)
	seedSharedRecord(t, h)
	conflictUUID := raceEdits(t, h)

	if err := h.Resolve("device-A", conflictUUID, "local", nil); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	if _, err := h.Pull("device-B"); err != nil {
		t.Fatalf("pull B: %v", err)
	}
	if _, err := h.Pull("device-A"); err != nil {
		t.Fatalf("pull A: %v", err)
	}

	h.AssertConverged()

	row := h.QueryEntity("device-B", "clientes", "c-conf")
	if got, _ := row["telefono"].(string); got != "111" {
		t.Fatalf("telefono = %q, want %q after local resolution", got, "111")
	}
}

func TestResolveMerge(t *testing.T) {
	h := NewHarness(t, 2)
	seedSharedRecord(t, h)
	conflictUUID := raceEdits(t, h)

	merged := map[string]any{"nombre": "Compartido", "telefono": "111/222"}
	if err := h.Resolve("device-A", conflictUUID, "merge", merged); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	if _, err := h.Pull("device-A"); err != nil {
		t.Fatalf("pull A: %v", err)
	}
	if _, err := h.Pull("device-B"); err != nil {
		t.Fatalf("pull B: %v", err)
	}

	h.AssertConverged()

	row := h.QueryEntity("device-A", "clientes", "c-conf")
	if got, _ := row["telefono"].(string); got != "111/222" {
		t.Fatalf("telefono = %q, want merged value", got)
	}
}

func TestResolutionIsTerminal(t *testing.T) {
	h := NewHarness(t, 2)
	seedSharedRecord(t, h)
	conflictUUID := raceEdits(t, h)

	api := h.Devices["device-A"].API
	if err := api.Resolve(conflictUUID, "local", nil); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if err := api.Resolve(conflictUUID, "remote", nil); err == nil {
		t.Fatal("second resolution succeeded, want error")
	}
}

func TestResolutionVersionSupersedesBoth(t *testing.T) {
	h := NewHarness(t, 2)
	seedSharedRecord(t, h)
	conflictUUID := raceEdits(t, h)

	if err := h.Devices["device-A"].API.Resolve(conflictUUID, "remote", nil); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	entries, err := h.Store.TailChanges(20)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}

	var maxBefore, resolutionVersion int64
	for _, e := range entries {
		if e.Table != "clientes" || e.RecordUUID != "c-conf" {
			continue
		}
		if e.ConflictResolved {
			if e.Version > maxBefore {
				maxBefore = e.Version
			}
			continue
		}
		if !e.Conflict {
			resolutionVersion = e.Version
		}
	}
	if resolutionVersion <= maxBefore {
		t.Fatalf("resolution version %d does not supersede conflicting versions (max %d)",
			resolutionVersion, maxBefore)
	}
}
