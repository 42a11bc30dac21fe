package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/calderon/ventasync/internal/engine"
	"github.com/calderon/ventasync/internal/entity"
)

type pullRequest struct {
	LastSync string `json:"last_sync"`
}

type pullResponse struct {
	Success       bool                `json:"success"`
	SessionID     string              `json:"session_id"`
	Changes       []engine.PullChange `json:"changes"`
	SyncTimestamp time.Time           `json:"sync_timestamp"`
	HasMore       bool                `json:"has_more"`
}

// handlePull streams the changes this device has not seen yet. A malformed
// last_sync falls back to the device's stored checkpoint rather than
// failing the request.
func (s *Server) handlePull(w http.ResponseWriter, r *http.Request) {
	auth := deviceFromContext(r.Context())

	var req pullRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	var lastSync *time.Time
	if req.LastSync != "" {
		if t, err := time.Parse(time.RFC3339, req.LastSync); err == nil {
			lastSync = &t
		}
	}

	s.metrics.RecordPullRequest()

	result, err := s.engine.Pull(r.Context(), auth.Device, lastSync)
	if err != nil {
		logFor(r.Context()).Error("pull", "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "sync pull failed")
		return
	}

	writeJSON(w, http.StatusOK, pullResponse{
		Success:       true,
		SessionID:     result.SessionID,
		Changes:       result.Changes,
		SyncTimestamp: result.SyncTimestamp,
		HasMore:       result.HasMore,
	})
}

type pushRequest struct {
	Changes         []engine.Change `json:"changes"`
	DeviceTimestamp string          `json:"device_timestamp"`
}

type pushResponse struct {
	Success       bool                `json:"success"`
	SessionID     string              `json:"session_id"`
	Applied       []engine.ItemResult `json:"applied"`
	Conflicts     []engine.ItemResult `json:"conflicts"`
	SyncTimestamp time.Time           `json:"sync_timestamp"`
}

// handlePush ingests a batch of client changes. Item failures are reported
// per item; only a malformed request fails as a whole.
func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	auth := deviceFromContext(r.Context())

	var req pushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	if s.config.MaxPushBatch > 0 && len(req.Changes) > s.config.MaxPushBatch {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "push batch exceeds maximum size")
		return
	}

	var deviceTS *time.Time
	if req.DeviceTimestamp != "" {
		if t, err := time.Parse(time.RFC3339, req.DeviceTimestamp); err == nil {
			deviceTS = &t
		}
	}

	result, err := s.engine.Push(r.Context(), auth.Device, req.Changes, deviceTS)
	if err != nil {
		logFor(r.Context()).Error("push", "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "sync push failed")
		return
	}

	s.metrics.RecordPushChanges(int64(len(req.Changes)))
	s.metrics.RecordConflicts(int64(len(result.Conflicts)))

	writeJSON(w, http.StatusOK, pushResponse{
		Success:       true,
		SessionID:     result.SessionID,
		Applied:       result.Applied,
		Conflicts:     result.Conflicts,
		SyncTimestamp: result.SyncTimestamp,
	})
}

type conflictJSON struct {
	UUID        string          `json:"uuid"`
	Tabla       string          `json:"tabla"`
	RegistroUID string          `json:"registro_uuid"`
	DatosLocal  json.RawMessage `json:"datos_local"`
	DatosRemoto json.RawMessage `json:"datos_remoto"`
	CreatedAt   time.Time       `json:"created_at"`
}

// handleConflicts lists open conflicts, newest first.
func (s *Server) handleConflicts(w http.ResponseWriter, r *http.Request) {
	conflicts, err := s.store.ListUnresolvedConflicts()
	if err != nil {
		logFor(r.Context()).Error("list conflicts", "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to list conflicts")
		return
	}

	out := make([]conflictJSON, len(conflicts))
	for i, c := range conflicts {
		out[i] = conflictJSON{
			UUID:        c.UUID,
			Tabla:       c.Table,
			RegistroUID: c.RecordUUID,
			DatosLocal:  c.LocalPayload,
			DatosRemoto: c.RemotePayload,
			CreatedAt:   c.CreatedAt,
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "conflicts": out})
}

type resolveRequest struct {
	Resolution string         `json:"resolution"`
	MergedData map[string]any `json:"merged_data"`
}

// handleResolveConflict closes an open conflict with the chosen strategy.
func (s *Server) handleResolveConflict(w http.ResponseWriter, r *http.Request) {
	auth := deviceFromContext(r.Context())
	conflictUUID := r.PathValue("uuid")

	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	err := s.engine.Resolve(r.Context(), conflictUUID, req.Resolution, req.MergedData, auth.User, auth.Device)
	switch {
	case errors.Is(err, engine.ErrConflictNotFound):
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "conflict not found")
		return
	case errors.Is(err, engine.ErrConflictResolved):
		writeError(w, http.StatusConflict, ErrCodeAlreadyResolved, "conflict already resolved")
		return
	case errors.Is(err, engine.ErrInvalidResolution):
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	case err != nil:
		logFor(r.Context()).Error("resolve conflict", "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to resolve conflict")
		return
	}

	s.metrics.RecordConflictResolved()
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "conflicto resuelto"})
}

type sessionJSON struct {
	UUID            string     `json:"uuid"`
	DeviceUUID      string     `json:"device_uuid"`
	Direction       string     `json:"direction"`
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at"`
	ChangesSent     int        `json:"changes_sent"`
	ChangesReceived int        `json:"changes_received"`
	Conflicts       int        `json:"conflicts"`
	Status          string     `json:"status"`
	ErrorMessage    *string    `json:"error_message,omitempty"`
}

// handleSessions returns the most recent sync sessions for audit.
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.store.ListRecentSessions(50)
	if err != nil {
		logFor(r.Context()).Error("list sessions", "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to list sessions")
		return
	}

	out := make([]sessionJSON, len(sessions))
	for i, sess := range sessions {
		out[i] = sessionJSON{
			UUID:            sess.UUID,
			DeviceUUID:      sess.DeviceUUID,
			Direction:       sess.Direction,
			StartedAt:       sess.StartedAt,
			EndedAt:         sess.EndedAt,
			ChangesSent:     sess.ChangesSent,
			ChangesReceived: sess.ChangesRecv,
			Conflicts:       sess.Conflicts,
			Status:          sess.Status,
			ErrorMessage:    sess.ErrorMessage,
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "sessions": out})
}

// handleSnapshot returns every row of one business table, for the first
// sync of a fresh device.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	tabla := r.PathValue("tabla")

	def, err := entity.Lookup(tabla)
	if err != nil {
		writeError(w, http.StatusNotFound, ErrCodeUnknownTable, err.Error())
		return
	}

	records, err := def.Snapshot(s.store.DB())
	if err != nil {
		logFor(r.Context()).Error("snapshot", "tabla", tabla, "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to read table")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"tabla":   tabla,
		"data":    records,
		"count":   len(records),
	})
}
