package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/calderon/ventasync/internal/entity"
	"github.com/calderon/ventasync/internal/store"
)

// Push ingests a batch of client changes. Items are independent: each one
// runs in its own transaction and a failed item never blocks the rest.
// The returned result lists every item outcome; conflict items are split
// out so the client can surface them.
func (e *Engine) Push(ctx context.Context, device *store.Device, changes []Change, deviceTimestamp *time.Time) (*PushResult, error) {
	sess, err := e.store.BeginSession(device.UUID, "push")
	if err != nil {
		return nil, fmt.Errorf("push: %w", err)
	}

	result := &PushResult{
		SessionID: sess.UUID,
		Applied:   []ItemResult{},
		Conflicts: []ItemResult{},
	}

	for _, change := range changes {
		item := e.applyChange(device, change)
		if item.Status == StatusConflict {
			result.Conflicts = append(result.Conflicts, item)
		} else {
			result.Applied = append(result.Applied, item)
		}
		if item.Status == StatusError {
			e.logger.Warn("push item failed",
				"device", device.UUID, "change", change.UUID, "error", item.Error)
		}
	}

	if err := e.store.CompleteSession(sess.UUID, 0, len(changes), len(result.Conflicts)); err != nil {
		e.failSession(sess.UUID, err)
		return nil, fmt.Errorf("push: %w", err)
	}
	if deviceTimestamp != nil {
		if err := e.store.UpdateDeviceCheckpoint(device.UUID, *deviceTimestamp); err != nil {
			e.failSession(sess.UUID, err)
			return nil, fmt.Errorf("push: %w", err)
		}
	}

	result.SyncTimestamp = time.Now().UTC()

	e.logger.Info("push completed",
		"device", device.UUID,
		"session", sess.UUID,
		"received", len(changes),
		"conflicts", len(result.Conflicts),
	)

	return result, nil
}

// applyChange runs the per-item pipeline: idempotency check, conflict
// check, apply, log. The transaction scopes one item so the conflict read
// and the log write cannot race a concurrent push for the same record.
func (e *Engine) applyChange(device *store.Device, change Change) ItemResult {
	errItem := func(err error) ItemResult {
		return ItemResult{UUID: change.UUID, Status: StatusError, Error: err.Error()}
	}

	if change.UUID == "" {
		return errItem(fmt.Errorf("missing change uuid"))
	}

	def, err := entity.Lookup(change.Table)
	if err != nil {
		return errItem(err)
	}

	tx, err := e.store.Begin()
	if err != nil {
		return errItem(err)
	}
	defer tx.Rollback()

	existing, err := e.store.GetChangeByUUIDTx(tx, change.UUID)
	if err != nil {
		return errItem(err)
	}
	if existing != nil {
		return ItemResult{UUID: change.UUID, Status: StatusAlreadyExists}
	}

	payload, err := json.Marshal(change.Data)
	if err != nil {
		return errItem(fmt.Errorf("encode payload: %w", err))
	}

	// A newer applied change for the same record means this one raced it.
	// Deletes skip the check: the record is going away either way.
	if change.Operation != store.OpDelete {
		newer, err := e.store.LatestAppliedAfterTx(tx, change.Table, change.RecordUUID, change.Timestamp)
		if err != nil {
			return errItem(err)
		}
		if newer != nil {
			item, err := e.recordConflict(tx, device, change, payload, newer)
			if err != nil {
				return errItem(err)
			}
			if err := tx.Commit(); err != nil {
				return errItem(err)
			}
			return item
		}
	}

	if err := def.Apply(tx, change.Operation, change.RecordUUID, change.Data); err != nil {
		return errItem(err)
	}

	entry := &store.ChangeEntry{
		UUID:       change.UUID,
		Table:      change.Table,
		RecordUUID: change.RecordUUID,
		Operation:  change.Operation,
		Payload:    payload,
		UserID:     device.UserID,
		DeviceUUID: device.UUID,
		Timestamp:  change.Timestamp,
		Synced:     true,
	}
	if err := e.store.AppendTx(tx, entry); err != nil {
		return errItem(err)
	}

	if err := tx.Commit(); err != nil {
		return errItem(err)
	}

	return ItemResult{UUID: change.UUID, Status: StatusApplied, RecordUUID: change.RecordUUID}
}

// recordConflict logs the losing change with its claimed version, flagged so
// it never enters the applied state, and opens a conflict record pairing it
// with the server-side winner.
func (e *Engine) recordConflict(tx *sql.Tx, device *store.Device, change Change, payload []byte, local *store.ChangeEntry) (ItemResult, error) {
	claimed := change.Version
	if claimed == 0 {
		claimed = 1
	}

	remote := &store.ChangeEntry{
		UUID:       change.UUID,
		Table:      change.Table,
		RecordUUID: change.RecordUUID,
		Operation:  change.Operation,
		Payload:    payload,
		UserID:     device.UserID,
		DeviceUUID: device.UUID,
		Timestamp:  change.Timestamp,
		Version:    claimed,
		Conflict:   true,
	}
	if err := e.store.AppendTx(tx, remote); err != nil {
		return ItemResult{}, err
	}

	conflict := &store.Conflict{
		Table:          change.Table,
		RecordUUID:     change.RecordUUID,
		LocalChangeID:  local.ID,
		RemoteChangeID: remote.ID,
		LocalPayload:   local.Payload,
		RemotePayload:  payload,
	}
	if err := e.store.CreateConflictTx(tx, conflict); err != nil {
		return ItemResult{}, err
	}

	return ItemResult{
		UUID:          change.UUID,
		Status:        StatusConflict,
		RecordUUID:    change.RecordUUID,
		ConflictUUID:  conflict.UUID,
		LocalVersion:  local.Version,
		RemoteVersion: claimed,
	}, nil
}
