package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/kimhsiao/curio/internal/backup"
	"github.com/kimhsiao/curio/internal/logging"
	cursync "github.com/kimhsiao/curio/internal/sync"
)

// BackupHandler handles export and restore of the whole catalog.
type BackupHandler struct {
	session *cursync.Session
	now     func() time.Time
}

// NewBackupHandler creates a new BackupHandler.
func NewBackupHandler(session *cursync.Session) *BackupHandler {
	return &BackupHandler{session: session, now: time.Now}
}

// Backup handles GET and POST /api/backup
func (h *BackupHandler) Backup(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.export(w)
	case http.MethodPost:
		h.restore(w, r)
	default:
		methodNotAllowed(w)
	}
}

func (h *BackupHandler) export(w http.ResponseWriter) {
	now := h.now().UTC()
	b := h.session.Export(now)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="curio-backup-%s.json"`, now.Format("20060102-150405")))
	if err := backup.Encode(w, b); err != nil {
		logging.Warn("write backup", "error", err)
	}
}

// restore validates the uploaded file before anything is overwritten.
func (h *BackupHandler) restore(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	b, err := backup.Decode(r.Body)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.session.Restore(r.Context(), b); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"restored": len(b.Items),
	})
}
