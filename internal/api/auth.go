package api

import (
	"encoding/json"
	"net/http"
)

type loginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	DeviceUUID string `json:"device_uuid"`
	DeviceName string `json:"device_name"`
}

type loginResponse struct {
	Success    bool     `json:"success"`
	Token      string   `json:"token"`
	DeviceUUID string   `json:"device_uuid"`
	Usuario    userJSON `json:"usuario"`
}

// handleLogin authenticates a user by email and password and issues a sync
// token for the device. Re-login with a known device UUID rotates the token
// in place instead of registering a duplicate device.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "email and password are required")
		return
	}

	user, err := s.store.Authenticate(req.Email, req.Password)
	if err != nil {
		logFor(r.Context()).Error("authenticate", "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "authentication failed")
		return
	}
	if user == nil {
		writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid credentials")
		return
	}
	if !user.Active {
		writeError(w, http.StatusForbidden, ErrCodeForbidden, "user is inactive")
		return
	}

	token, device, err := s.store.IssueDeviceToken(user.ID, req.DeviceUUID, req.DeviceName)
	if err != nil {
		logFor(r.Context()).Error("issue device token", "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to register device")
		return
	}

	logFor(r.Context()).Info("device login", "user", user.ID, "device", device.UUID)

	writeJSON(w, http.StatusOK, loginResponse{
		Success:    true,
		Token:      token,
		DeviceUUID: device.UUID,
		Usuario:    toUserJSON(user),
	})
}

// handleLogout revokes the device's sync token and deactivates the device.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	auth := deviceFromContext(r.Context())

	if err := s.store.RevokeDeviceToken(auth.Device.UUID); err != nil {
		logFor(r.Context()).Error("revoke device token", "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to revoke token")
		return
	}

	logFor(r.Context()).Info("device logout", "device", auth.Device.UUID)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "sesión cerrada"})
}

// handleVerify confirms the sync token is still valid and returns the
// device and user it belongs to.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	auth := deviceFromContext(r.Context())

	writeJSON(w, http.StatusOK, map[string]any{
		"valid":       true,
		"device_uuid": auth.Device.UUID,
		"usuario":     toUserJSON(auth.User),
	})
}
