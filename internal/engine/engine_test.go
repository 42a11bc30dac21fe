package engine

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/calderon/ventasync/internal/store"
)

func newTestEngine(t *testing.T) (*Engine, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "sync.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(s, logger), s
}

func newTestDevice(t *testing.T, s *store.Store, name string) *store.Device {
	t.Helper()
	u, err := s.CreateUser("Ana", name+"@tienda.local", "secreto123", "vendedor")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	_, dev, err := s.IssueDeviceToken(u.ID, "", name)
	if err != nil {
		t.Fatalf("IssueDeviceToken: %v", err)
	}
	return dev
}

func testUserFor(t *testing.T, s *store.Store, dev *store.Device) *store.User {
	t.Helper()
	u, err := s.GetUserByID(dev.UserID)
	if err != nil || u == nil {
		t.Fatalf("GetUserByID(%s): %v", dev.UserID, err)
	}
	return u
}

var ctx = context.Background()
