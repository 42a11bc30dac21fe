package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/calderon/ventasync/internal/store"
)

// Pull returns the changes the device has not seen yet, oldest first, capped
// at one page. The checkpoint resolves in order: the client-supplied
// lastSync, the device's stored checkpoint, then the epoch for a fresh
// device. The device's own changes are never echoed back. On success the
// device checkpoint advances to the current server time, which the client
// must adopt; resending an older lastSync only re-downloads already-applied
// changes, which replay idempotently.
func (e *Engine) Pull(ctx context.Context, device *store.Device, lastSync *time.Time) (*PullResult, error) {
	sess, err := e.store.BeginSession(device.UUID, "pull")
	if err != nil {
		return nil, fmt.Errorf("pull: %w", err)
	}

	checkpoint := pullEpoch
	switch {
	case lastSync != nil:
		checkpoint = lastSync.UTC()
	case device.LastSyncAt != nil:
		checkpoint = device.LastSyncAt.UTC()
	}

	entries, err := e.store.ChangesSince(checkpoint, device.UUID, e.pageSize)
	if err != nil {
		e.failSession(sess.UUID, err)
		return nil, fmt.Errorf("pull: %w", err)
	}

	changes := make([]PullChange, len(entries))
	for i, entry := range entries {
		changes[i] = PullChange{
			UUID:       entry.UUID,
			Table:      entry.Table,
			RecordUUID: entry.RecordUUID,
			Operation:  entry.Operation,
			Data:       entry.Payload,
			Timestamp:  entry.Timestamp,
			Version:    entry.Version,
		}
	}

	now := time.Now().UTC()

	if err := e.store.CompleteSession(sess.UUID, len(changes), 0, 0); err != nil {
		return nil, fmt.Errorf("pull: %w", err)
	}
	if err := e.store.UpdateDeviceCheckpoint(device.UUID, now); err != nil {
		return nil, fmt.Errorf("pull: %w", err)
	}

	e.logger.Info("pull completed",
		"device", device.UUID,
		"session", sess.UUID,
		"changes", len(changes),
		"has_more", len(changes) == e.pageSize,
	)

	return &PullResult{
		SessionID:     sess.UUID,
		Changes:       changes,
		SyncTimestamp: now,
		HasMore:       len(changes) == e.pageSize,
	}, nil
}

func (e *Engine) failSession(sessionUUID string, cause error) {
	if err := e.store.FailSession(sessionUUID, cause.Error()); err != nil {
		e.logger.Error("fail session", "session", sessionUUID, "error", err)
	}
}
