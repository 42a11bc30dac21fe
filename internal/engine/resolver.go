package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/calderon/ventasync/internal/entity"
	"github.com/calderon/ventasync/internal/store"
)

// Resolver errors the API layer maps to status codes.
var (
	ErrConflictNotFound  = errors.New("conflict not found")
	ErrConflictResolved  = errors.New("conflict already resolved")
	ErrInvalidResolution = errors.New("invalid resolution")
)

// Resolve closes an open conflict. The resolution is terminal and applies
// exactly one strategy: local keeps the server state untouched, remote
// replays the losing payload, merge replays caller-supplied merged data.
// Remote and merge produce a fresh change attributed to the resolving
// device, versioned past both sides so it supersedes them everywhere.
// Both paired change-log entries are marked resolved.
func (e *Engine) Resolve(ctx context.Context, conflictUUID, resolution string, mergedData map[string]any, user *store.User, device *store.Device) error {
	switch resolution {
	case store.ResolutionLocal, store.ResolutionRemote:
	case store.ResolutionMerge:
		if len(mergedData) == 0 {
			return fmt.Errorf("%w: merge requires merged data", ErrInvalidResolution)
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidResolution, resolution)
	}

	conflict, err := e.store.GetConflict(conflictUUID)
	if err != nil {
		return fmt.Errorf("resolve: %w", err)
	}
	if conflict == nil {
		return ErrConflictNotFound
	}
	if conflict.Resolved {
		return ErrConflictResolved
	}

	local, err := e.store.GetChangeByID(conflict.LocalChangeID)
	if err != nil {
		return fmt.Errorf("resolve: %w", err)
	}
	remote, err := e.store.GetChangeByID(conflict.RemoteChangeID)
	if err != nil {
		return fmt.Errorf("resolve: %w", err)
	}
	if local == nil || remote == nil {
		return fmt.Errorf("resolve: conflict %s references missing change entries", conflictUUID)
	}

	var winner map[string]any
	switch resolution {
	case store.ResolutionRemote:
		if err := json.Unmarshal(conflict.RemotePayload, &winner); err != nil {
			return fmt.Errorf("resolve: decode remote payload: %w", err)
		}
	case store.ResolutionMerge:
		winner = mergedData
	}

	tx, err := e.store.Begin()
	if err != nil {
		return fmt.Errorf("resolve: %w", err)
	}
	defer tx.Rollback()

	if winner != nil {
		def, err := entity.Lookup(conflict.Table)
		if err != nil {
			return fmt.Errorf("resolve: %w", err)
		}
		if err := def.Apply(tx, store.OpUpdate, conflict.RecordUUID, winner); err != nil {
			return fmt.Errorf("resolve: %w", err)
		}

		payload, err := json.Marshal(winner)
		if err != nil {
			return fmt.Errorf("resolve: encode payload: %w", err)
		}
		entry := &store.ChangeEntry{
			UUID:       uuid.NewString(),
			Table:      conflict.Table,
			RecordUUID: conflict.RecordUUID,
			Operation:  store.OpUpdate,
			Payload:    payload,
			UserID:     user.ID,
			DeviceUUID: device.UUID,
			Timestamp:  time.Now().UTC(),
			Version:    max(local.Version, remote.Version) + 1,
			Synced:     true,
		}
		if err := e.store.AppendTx(tx, entry); err != nil {
			return fmt.Errorf("resolve: %w", err)
		}
	}

	if err := e.store.ResolveConflictTx(tx, conflict.UUID, resolution, user.ID); err != nil {
		return fmt.Errorf("resolve: %w", err)
	}
	if err := e.store.MarkConflictResolvedTx(tx, conflict.LocalChangeID, conflict.RemoteChangeID); err != nil {
		return fmt.Errorf("resolve: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("resolve: %w", err)
	}

	e.logger.Info("conflict resolved",
		"conflict", conflict.UUID,
		"table", conflict.Table,
		"record", conflict.RecordUUID,
		"resolution", resolution,
		"by", user.ID,
	)
	return nil
}
