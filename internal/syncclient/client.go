// Package syncclient is an HTTP client for the ventasync server, used by
// the CLI commands and by integration tests. Wire types are defined here
// independently of the server so the client compiles against the API
// contract, not the server internals.
package syncclient

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Sentinel errors for common HTTP error classes.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
)

// Client is an HTTP client for the ventasync server.
type Client struct {
	BaseURL    string
	Token      string
	DeviceUUID string
	HTTP       *http.Client
}

// New creates a new sync client.
func New(baseURL, token, deviceUUID string) *Client {
	return &Client{
		BaseURL:    baseURL,
		Token:      token,
		DeviceUUID: deviceUUID,
		HTTP:       &http.Client{Timeout: 30 * time.Second},
	}
}

// --- Auth types ---

// UserInfo is the user block returned by login and verify.
type UserInfo struct {
	ID     string `json:"id"`
	Nombre string `json:"nombre"`
	Email  string `json:"email"`
	Rol    string `json:"rol"`
}

// LoginResponse is the response from POST /api/auth/login.
type LoginResponse struct {
	Success    bool     `json:"success"`
	Token      string   `json:"token"`
	DeviceUUID string   `json:"device_uuid"`
	Usuario    UserInfo `json:"usuario"`
}

// VerifyResponse is the response from GET /api/auth/verify.
type VerifyResponse struct {
	Valid      bool     `json:"valid"`
	DeviceUUID string   `json:"device_uuid"`
	Usuario    UserInfo `json:"usuario"`
}

// --- Sync types ---

// Change is a client-authored mutation sent through push.
type Change struct {
	UUID       string         `json:"uuid"`
	Tabla      string         `json:"tabla"`
	RecordUUID string         `json:"registro_uuid"`
	Operacion  string         `json:"operacion"`
	Datos      map[string]any `json:"datos"`
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

// PushResponse is the response from POST /api/sync/push.
type PushResponse struct {
	Success       bool         `json:"success"`
	SessionID     string       `json:"session_id"`
	Applied       []ItemResult `json:"applied"`
	Conflicts     []ItemResult `json:"conflicts"`
	SyncTimestamp time.Time    `json:"sync_timestamp"`
}

// PulledChange is a server-held change streamed through pull.
type PulledChange struct {
	UUID       string          `json:"uuid"`
	Tabla      string          `json:"tabla"`
	RecordUUID string          `json:"registro_uuid"`
	Operacion  string          `json:"operacion"`
	Datos      json.RawMessage `json:"datos"`
	Timestamp  time.Time       `json:"timestamp"`
	Version    int64           `json:"version"`
}

// PullResponse is the response from POST /api/sync/pull.
type PullResponse struct {
	Success       bool           `json:"success"`
	SessionID     string         `json:"session_id"`
	Changes       []PulledChange `json:"changes"`
	SyncTimestamp time.Time      `json:"sync_timestamp"`
	HasMore       bool           `json:"has_more"`
}

// Conflict is one open conflict from GET /api/sync/conflicts.
type Conflict struct {
	UUID        string          `json:"uuid"`
	Tabla       string          `json:"tabla"`
	RecordUUID  string          `json:"registro_uuid"`
	DatosLocal  json.RawMessage `json:"datos_local"`
	DatosRemoto json.RawMessage `json:"datos_remoto"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Session is one audit row from GET /api/sync/sessions.
type Session struct {
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

// HealthResponse is the response from GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *apiError) UnmarshalJSON(data []byte) error {
	var wrapper struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return err
	}
	e.Code = wrapper.Error.Code
	e.Message = wrapper.Error.Message
	return nil
}

// HealthCheck calls GET /healthz.
func (c *Client) HealthCheck() (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.doNoAuth("GET", "/healthz", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Login authenticates with email and password and stores the issued token
// and device UUID on the client.
func (c *Client) Login(email, password, deviceName string) (*LoginResponse, error) {
	body := map[string]string{
		"email":       email,
		"password":    password,
		"device_name": deviceName,
	}
	if c.DeviceUUID != "" {
		body["device_uuid"] = c.DeviceUUID
	}

	var resp LoginResponse
	if err := c.doNoAuth("POST", "/api/auth/login", body, &resp); err != nil {
		return nil, err
	}
	c.Token = resp.Token
	c.DeviceUUID = resp.DeviceUUID
	return &resp, nil
}

// Logout revokes the device token on the server and clears it locally.
func (c *Client) Logout() error {
	if err := c.do("POST", "/api/auth/logout", nil, nil); err != nil {
		return err
	}
	c.Token = ""
	return nil
}

// Verify checks the stored token is still accepted.
func (c *Client) Verify() (*VerifyResponse, error) {
	var resp VerifyResponse
	if err := c.do("GET", "/api/auth/verify", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Push submits a batch of changes. deviceTimestamp, when non-zero, advances
// the server-side checkpoint for this device.
func (c *Client) Push(changes []Change, deviceTimestamp time.Time) (*PushResponse, error) {
	body := map[string]any{"changes": changes}
	if !deviceTimestamp.IsZero() {
		body["device_timestamp"] = deviceTimestamp.UTC().Format(time.RFC3339Nano)
	}

	var resp PushResponse
	if err := c.do("POST", "/api/sync/push", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Pull fetches one page of changes. A zero lastSync lets the server use the
// device's stored checkpoint.
func (c *Client) Pull(lastSync time.Time) (*PullResponse, error) {
	body := map[string]any{}
	if !lastSync.IsZero() {
		body["last_sync"] = lastSync.UTC().Format(time.RFC3339Nano)
	}

	var resp PullResponse
	if err := c.do("POST", "/api/sync/pull", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PullAll drains the server page by page until has_more is false. Between
// pages the cursor advances to the last delivered entry's timestamp, never to
// the server's sync_timestamp: that is current server time, and jumping there
// mid-drain would skip every backlog entry behind it. The final page's
// sync_timestamp becomes the checkpoint to store.
func (c *Client) PullAll(lastSync time.Time) ([]PulledChange, time.Time, error) {
	var all []PulledChange
	cursor := lastSync
	for {
		resp, err := c.Pull(cursor)
		if err != nil {
			return nil, time.Time{}, err
		}
		all = append(all, resp.Changes...)
		if !resp.HasMore {
			return all, resp.SyncTimestamp, nil
		}
		if len(resp.Changes) == 0 {
			return all, resp.SyncTimestamp, nil
		}
		cursor = resp.Changes[len(resp.Changes)-1].Timestamp
	}
}

// Conflicts lists open conflicts.
func (c *Client) Conflicts() ([]Conflict, error) {
	var resp struct {
		Success   bool       `json:"success"`
		Conflicts []Conflict `json:"conflicts"`
	}
	if err := c.do("GET", "/api/sync/conflicts", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Conflicts, nil
}

// Resolve closes a conflict with the given strategy. mergedData is required
// for "merge" and ignored otherwise.
func (c *Client) Resolve(conflictUUID, resolution string, mergedData map[string]any) error {
	body := map[string]any{"resolution": resolution}
	if mergedData != nil {
		body["merged_data"] = mergedData
	}
	return c.do("POST", "/api/sync/conflicts/"+conflictUUID+"/resolve", body, nil)
}

// Sessions lists recent sync sessions.
func (c *Client) Sessions() ([]Session, error) {
	var resp struct {
		Success  bool      `json:"success"`
		Sessions []Session `json:"sessions"`
	}
	if err := c.do("GET", "/api/sync/sessions", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Sessions, nil
}

// Snapshot downloads every row of one business table.
func (c *Client) Snapshot(tabla string) ([]map[string]any, error) {
	var resp struct {
		Success bool             `json:"success"`
		Tabla   string           `json:"tabla"`
		Data    []map[string]any `json:"data"`
		Count   int              `json:"count"`
	}
	if err := c.do("GET", "/api/sync/datos/"+tabla, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (c *Client) do(method, path string, body, result any) error {
	return c.doRequest(method, path, body, result, true)
}

func (c *Client) doNoAuth(method, path string, body, result any) error {
	return c.doRequest(method, path, body, result, false)
}

func (c *Client) doRequest(method, path string, body, result any, auth bool) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.BaseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth && c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Code != "" {
			switch resp.StatusCode {
			case http.StatusUnauthorized:
				return fmt.Errorf("%w: %s", ErrUnauthorized, apiErr.Message)
			case http.StatusForbidden:
				return fmt.Errorf("%w: %s", ErrForbidden, apiErr.Message)
			case http.StatusNotFound:
				return fmt.Errorf("%w: %s", ErrNotFound, apiErr.Message)
			default:
				return &apiErr
			}
		}
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}

	return nil
}
