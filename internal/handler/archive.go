package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/segmentio/ksuid"

	"drawboard/internal/board"
	"drawboard/internal/store"
)

const maxArchiveNameLen = 64

// ArchiveHandler exposes the session archive REST surface: export the
// live committed sequence, save it under a name, list saved archives,
// and restore one back into the room through the normal replace path.
type ArchiveHandler struct {
	Registry *board.Registry
	Store    *store.Store
	WS       *WSHandler
}

type saveArchiveRequest struct {
	Name string `json:"name"`
}

// Export writes the room's committed sequence. The output is exactly
// what a state:replace (or a restore) accepts back.
func (h *ArchiveHandler) Export(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("id")
	if roomID == "" {
		writeJSONError(w, "Room ID required", "INVALID_REQUEST", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.Registry.SnapshotOps(roomID))
}

func (h *ArchiveHandler) List(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("id")
	if roomID == "" {
		writeJSONError(w, "Room ID required", "INVALID_REQUEST", http.StatusBadRequest)
		return
	}

	archives, err := h.Store.ListArchives(roomID)
	if err != nil {
		writeJSONError(w, "Failed to list archives", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(archives)
}

func (h *ArchiveHandler) Save(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("id")
	if roomID == "" {
		writeJSONError(w, "Room ID required", "INVALID_REQUEST", http.StatusBadRequest)
		return
	}

	var req saveArchiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "Invalid request body", "INVALID_REQUEST", http.StatusBadRequest)
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = "untitled"
	}
	if len(name) > maxArchiveNameLen {
		name = name[:maxArchiveNameLen]
	}

	ops, err := json.Marshal(h.Registry.SnapshotOps(roomID))
	if err != nil {
		writeJSONError(w, "Failed to encode operations", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}

	id := ksuid.New().String()
	if err := h.Store.SaveArchive(id, roomID, name, ops); err != nil {
		slog.Error("Failed to save archive", "room_id", roomID, "error", err)
		writeJSONError(w, "Failed to save archive", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}

	slog.Info("Archive saved", "archive_id", id, "room_id", roomID, "name", name)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"id": id, "name": name})
}

// Restore sanitizes a saved archive back into the room and broadcasts
// the resulting state:reset to every connected client.
func (h *ArchiveHandler) Restore(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("id")
	archiveID := r.PathValue("archiveID")
	if roomID == "" || archiveID == "" {
		writeJSONError(w, "Room and archive ID required", "INVALID_REQUEST", http.StatusBadRequest)
		return
	}

	archive, err := h.Store.GetArchive(archiveID)
	if errors.Is(err, store.ErrNotFound) {
		writeJSONError(w, "Archive not found", "ARCHIVE_NOT_FOUND", http.StatusNotFound)
		return
	}
	if err != nil {
		writeJSONError(w, "Failed to load archive", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}
	if archive.RoomID != roomID {
		writeJSONError(w, "Archive belongs to another room", "FORBIDDEN", http.StatusForbidden)
		return
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(archive.Ops, &raw); err != nil {
		writeJSONError(w, "Archive payload is corrupt", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}

	outs := h.Registry.Replace(roomID, raw)
	h.WS.BroadcastRoom(roomID, outs)

	slog.Info("Archive restored", "archive_id", archiveID, "room_id", roomID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "restored"})
}

func writeJSONError(w http.ResponseWriter, message, code string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message, "code": code})
}
