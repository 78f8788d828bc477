package handlers

import (
	"net/http"
	"strings"
	"time"

	apperrors "github.com/kimhsiao/curio/internal/errors"
	cursync "github.com/kimhsiao/curio/internal/sync"
)

// SyncBroadcaster receives sync lifecycle events for WebSocket clients.
type SyncBroadcaster interface {
	BroadcastSessionChanged(mode string, identity string)
	BroadcastSyncCompleted(total, synced, failed int, duration time.Duration)
	BroadcastSyncFailed(errorCode string)
}

// SyncHandler handles sign-in, sign-out and the bulk upload.
type SyncHandler struct {
	session *cursync.Session
	wsHub   SyncBroadcaster
}

// NewSyncHandler creates a new SyncHandler.
func NewSyncHandler(session *cursync.Session) *SyncHandler {
	return &SyncHandler{session: session}
}

// SetWebSocketHub sets the hub used for sync events.
func (h *SyncHandler) SetWebSocketHub(hub SyncBroadcaster) {
	h.wsHub = hub
}

// SessionRequest is the sign-in body.
type SessionRequest struct {
	UID string `json:"uid"`
}

// Session handles GET, POST and DELETE /api/session
func (h *SyncHandler) Session(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodPost:
		var req SessionRequest
		if !decodeBody(w, r, &req) {
			return
		}
		uid := strings.TrimSpace(req.UID)
		if uid == "" {
			badRequest(w, "uid is required")
			return
		}
		if err := h.session.SignIn(r.Context(), uid); err != nil {
			writeError(w, err)
			return
		}
		h.notifySession()
	case http.MethodDelete:
		if err := h.session.SignOut(r.Context()); err != nil {
			writeError(w, err)
			return
		}
		h.notifySession()
	default:
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, h.status())
}

// Upload handles POST /api/sync/upload
// Copies every local item to the signed-in user's remote store.
func (h *SyncHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	result, err := h.session.UploadLocal(r.Context())
	if err != nil {
		if h.wsHub != nil {
			h.wsHub.BroadcastSyncFailed(string(apperrors.CodeOf(err)))
		}
		writeError(w, err)
		return
	}
	if h.wsHub != nil {
		h.wsHub.BroadcastSyncCompleted(result.Total, result.Synced, result.Failed, result.Duration)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total":       result.Total,
		"synced":      result.Synced,
		"failed":      result.Failed,
		"errors":      result.Errors,
		"summary":     result.Summary(),
		"duration_ms": result.Duration.Milliseconds(),
	})
}

func (h *SyncHandler) status() map[string]interface{} {
	m := h.session.Mode()
	return map[string]interface{}{
		"mode":     modeName(m),
		"identity": m.Identity(),
	}
}

func (h *SyncHandler) notifySession() {
	if h.wsHub == nil {
		return
	}
	m := h.session.Mode()
	h.wsHub.BroadcastSessionChanged(modeName(m), m.Identity())
}

func modeName(m cursync.Mode) string {
	if m.IsCloud() {
		return "cloud"
	}
	return "local"
}
