package engine

import (
	"encoding/json"
	"time"
)

// Item statuses reported per pushed change.
const (
	StatusApplied       = "applied"
	StatusAlreadyExists = "already_exists"
	StatusConflict      = "conflict"
	StatusError         = "error"
)

// Change is one client-authored mutation submitted through push. The client
// assigns the change UUID; the server uses it as the idempotency key.
type Change struct {
	UUID       string         `json:"uuid"`
	Table      string         `json:"tabla"`
	RecordUUID string         `json:"registro_uuid"`
	Operation  string         `json:"operacion"`
	Data       map[string]any `json:"datos"`
	Timestamp  time.Time      `json:"timestamp"`
	Version    int64          `json:"version"`
}

// ItemResult is the per-change outcome of a push.
type ItemResult struct {
	UUID          string `json:"uuid"`
	Status        string `json:"status"`
	RecordUUID    string `json:"registro_uuid,omitempty"`
	ConflictUUID  string `json:"conflict_id,omitempty"`
	LocalVersion  int64  `json:"local_version,omitempty"`
	RemoteVersion int64  `json:"remote_version,omitempty"`
	Error         string `json:"error,omitempty"`
}

// PushResult summarizes one push exchange. Applied also carries
// already_exists and error items; Conflicts holds only conflict items.
type PushResult struct {
	SessionID     string       `json:"session_id"`
	Applied       []ItemResult `json:"applied"`
	Conflicts     []ItemResult `json:"conflicts"`
	SyncTimestamp time.Time    `json:"sync_timestamp"`
}

// PullChange is one server-held change streamed to a client.
type PullChange struct {
	UUID       string          `json:"uuid"`
	Table      string          `json:"tabla"`
	RecordUUID string          `json:"registro_uuid"`
	Operation  string          `json:"operacion"`
	Data       json.RawMessage `json:"datos"`
	Timestamp  time.Time       `json:"timestamp"`
	Version    int64           `json:"version"`
}

// PullResult summarizes one pull exchange. SyncTimestamp is the server time
// the client must store as its next checkpoint. HasMore signals a full page;
// the client pulls again to drain the remainder.
type PullResult struct {
	SessionID     string       `json:"session_id"`
	Changes       []PullChange `json:"changes"`
	SyncTimestamp time.Time    `json:"sync_timestamp"`
	HasMore       bool         `json:"has_more"`
}
