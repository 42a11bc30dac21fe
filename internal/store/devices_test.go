package store

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func testUser(t *testing.T, s *Store) *User {
	t.Helper()
	u, err := s.CreateUser("Ana", uuid.NewString()+"@tienda.local", "secreto123", "vendedor")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return u
}

func TestIssueAndVerifyDeviceToken(t *testing.T) {
	s := newTestStore(t)
	u := testUser(t, s)

	token, dev, err := s.IssueDeviceToken(u.ID, "", "tablet-mostrador")
	if err != nil {
		t.Fatalf("IssueDeviceToken: %v", err)
	}
	if token == "" {
		t.Fatal("empty token")
	}
	if dev.UUID == "" {
		t.Fatal("empty device UUID")
	}

	gotDev, gotUser, err := s.VerifyDeviceToken(token)
	if err != nil {
		t.Fatalf("VerifyDeviceToken: %v", err)
	}
	if gotDev == nil || gotDev.UUID != dev.UUID {
		t.Fatalf("verified device = %+v, want %s", gotDev, dev.UUID)
	}
	if gotUser == nil || gotUser.ID != u.ID {
		t.Fatalf("verified user = %+v, want %s", gotUser, u.ID)
	}
}

func TestVerifyDeviceTokenUnknown(t *testing.T) {
	s := newTestStore(t)

	dev, user, err := s.VerifyDeviceToken("not-a-token")
	if err != nil {
		t.Fatalf("VerifyDeviceToken: %v", err)
	}
	if dev != nil || user != nil {
		t.Error("unknown token verified")
	}
}

func TestIssueDeviceTokenRotates(t *testing.T) {
	s := newTestStore(t)
	u := testUser(t, s)

	first, dev, err := s.IssueDeviceToken(u.ID, "", "tablet")
	if err != nil {
		t.Fatalf("IssueDeviceToken: %v", err)
	}

	second, dev2, err := s.IssueDeviceToken(u.ID, dev.UUID, "tablet")
	if err != nil {
		t.Fatalf("IssueDeviceToken rotate: %v", err)
	}
	if dev2.UUID != dev.UUID {
		t.Errorf("rotation created new device %s, want %s", dev2.UUID, dev.UUID)
	}
	if first == second {
		t.Error("token not rotated")
	}

	if d, _, _ := s.VerifyDeviceToken(first); d != nil {
		t.Error("old token still valid after rotation")
	}
	if d, _, _ := s.VerifyDeviceToken(second); d == nil {
		t.Error("new token not valid")
	}
}

func TestRevokeDeviceToken(t *testing.T) {
	s := newTestStore(t)
	u := testUser(t, s)

	token, dev, err := s.IssueDeviceToken(u.ID, "", "tablet")
	if err != nil {
		t.Fatalf("IssueDeviceToken: %v", err)
	}

	if err := s.RevokeDeviceToken(dev.UUID); err != nil {
		t.Fatalf("RevokeDeviceToken: %v", err)
	}

	if d, _, _ := s.VerifyDeviceToken(token); d != nil {
		t.Error("revoked token still valid")
	}

	got, err := s.GetDevice(dev.UUID)
	if err != nil {
		t.Fatalf("GetDevice: %v", err)
	}
	if got.Active {
		t.Error("device still active after revocation")
	}
}

func TestVerifyDeviceTokenInactiveUser(t *testing.T) {
	s := newTestStore(t)
	u := testUser(t, s)

	token, _, err := s.IssueDeviceToken(u.ID, "", "tablet")
	if err != nil {
		t.Fatalf("IssueDeviceToken: %v", err)
	}
	if err := s.SetUserActive(u.ID, false); err != nil {
		t.Fatalf("SetUserActive: %v", err)
	}

	// The device row still matches; the API layer rejects inactive users.
	dev, user, err := s.VerifyDeviceToken(token)
	if err != nil {
		t.Fatalf("VerifyDeviceToken: %v", err)
	}
	if dev == nil || user == nil {
		t.Fatal("token should still resolve")
	}
	if user.Active {
		t.Error("Active flag not reported")
	}
}

func TestUpdateDeviceCheckpoint(t *testing.T) {
	s := newTestStore(t)
	u := testUser(t, s)

	_, dev, err := s.IssueDeviceToken(u.ID, "", "tablet")
	if err != nil {
		t.Fatalf("IssueDeviceToken: %v", err)
	}
	if dev.LastSyncAt != nil {
		t.Error("fresh device already has a checkpoint")
	}

	checkpoint := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	if err := s.UpdateDeviceCheckpoint(dev.UUID, checkpoint); err != nil {
		t.Fatalf("UpdateDeviceCheckpoint: %v", err)
	}

	got, err := s.GetDevice(dev.UUID)
	if err != nil {
		t.Fatalf("GetDevice: %v", err)
	}
	if got.LastSyncAt == nil || !got.LastSyncAt.Equal(checkpoint) {
		t.Errorf("checkpoint = %v, want %v", got.LastSyncAt, checkpoint)
	}
}

func TestListDevices(t *testing.T) {
	s := newTestStore(t)
	u := testUser(t, s)

	for _, name := range []string{"caja-1", "caja-2"} {
		if _, _, err := s.IssueDeviceToken(u.ID, "", name); err != nil {
			t.Fatalf("IssueDeviceToken %s: %v", name, err)
		}
	}

	devices, err := s.ListDevices()
	if err != nil {
		t.Fatalf("ListDevices: %v", err)
	}
	if len(devices) != 2 {
		t.Errorf("got %d devices, want 2", len(devices))
	}
}
