package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/taiidzy/ren/internal/db"
	"github.com/taiidzy/ren/internal/middleware"
	"github.com/taiidzy/ren/internal/models"
)

// maxSnapshotSize caps stored session snapshots. A snapshot holding a full
// skipped-key cache stays well under this.
const maxSnapshotSize = 256 * 1024

// UpsertSessionSnapshot stores an opaque ratchet session snapshot for the
// caller and a peer. The server validates only that the blob is JSON of a
// sane size; the contents stay opaque.
func UpsertSessionSnapshot(database *db.PostgresDB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := middleware.UserID(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		var req models.SessionSnapshotUpsert
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if req.PeerID == 0 {
			writeError(w, http.StatusBadRequest, "peer_id is required")
			return
		}
		if len(req.Snapshot) == 0 || len(req.Snapshot) > maxSnapshotSize {
			writeError(w, http.StatusBadRequest, "snapshot size out of bounds")
			return
		}
		if !json.Valid([]byte(req.Snapshot)) {
			writeError(w, http.StatusBadRequest, "snapshot must be valid JSON")
			return
		}

		if err := database.UpsertSessionSnapshot(userID, req.PeerID, req.Snapshot); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to store snapshot")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// GetSessionSnapshot returns the stored snapshot for a peer.
func GetSessionSnapshot(database *db.PostgresDB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := middleware.UserID(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		peerID, err := pathUserID(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid peer id")
			return
		}

		snapshot, err := database.GetSessionSnapshot(userID, peerID)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				writeError(w, http.StatusNotFound, "no session")
				return
			}
			writeError(w, http.StatusInternalServerError, "failed to load snapshot")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"snapshot": snapshot})
	}
}

// DeleteSessionSnapshot discards the stored session for a peer.
func DeleteSessionSnapshot(database *db.PostgresDB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := middleware.UserID(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		peerID, err := pathUserID(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid peer id")
			return
		}
		if err := database.DeleteSessionSnapshot(userID, peerID); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to delete snapshot")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
