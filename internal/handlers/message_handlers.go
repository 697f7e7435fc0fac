package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/taiidzy/ren/internal/db"
	"github.com/taiidzy/ren/internal/middleware"
	"github.com/taiidzy/ren/internal/models"
)

// CreateChat opens (or returns) the direct chat with another user.
func CreateChat(database *db.PostgresDB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := middleware.UserID(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		var req struct {
			PeerID int64 `json:"peer_id"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if req.PeerID == 0 || req.PeerID == userID {
			writeError(w, http.StatusBadRequest, "peer_id must name another user")
			return
		}
		if _, err := database.GetUserByID(req.PeerID); err != nil {
			writeError(w, http.StatusNotFound, "peer not found")
			return
		}

		chat, err := database.GetOrCreateChat(userID, req.PeerID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to open chat")
			return
		}
		writeJSON(w, http.StatusOK, chat)
	}
}

// ListChats returns the caller's chats.
func ListChats(database *db.PostgresDB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := middleware.UserID(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		chats, err := database.ListChats(userID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to list chats")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"chats": chats})
	}
}

// GetMessages pages a chat's stored envelopes. Membership is enforced; the
// envelopes come back exactly as stored.
func GetMessages(database *db.PostgresDB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := middleware.UserID(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		chatID, err := strconv.ParseInt(mux.Vars(r)["chatId"], 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid chat id")
			return
		}
		if _, err := database.GetChat(chatID, userID); err != nil {
			if errors.Is(err, db.ErrNotFound) {
				writeError(w, http.StatusNotFound, "chat not found")
				return
			}
			writeError(w, http.StatusInternalServerError, "failed to load chat")
			return
		}

		before := time.Now().UTC()
		if v := r.URL.Query().Get("before"); v != "" {
			if parsed, err := time.Parse(time.RFC3339, v); err == nil {
				before = parsed
			}
		}
		limit := 50
		if v := r.URL.Query().Get("limit"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 && parsed <= 200 {
				limit = parsed
			}
		}

		messages, err := database.GetMessages(chatID, before, limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to load messages")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"messages": messages})
	}
}

// UpdateMessageStatus marks a message delivered or read over HTTP (the WS
// path does the same thing for connected clients).
func UpdateMessageStatus(database *db.PostgresDB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := middleware.UserID(r); !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		messageID, err := uuid.Parse(mux.Vars(r)["messageId"])
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid message id")
			return
		}

		var req struct {
			Status string `json:"status"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if req.Status != "delivered" && req.Status != "read" {
			writeError(w, http.StatusBadRequest, "status must be delivered or read")
			return
		}

		now := time.Now().UTC()
		if err := database.UpdateMessageStatus(messageID, req.Status, now); err != nil {
			writeError(w, http.StatusInternalServerError, "status update failed")
			return
		}
		writeJSON(w, http.StatusOK, models.MessageStatus{
			MessageID: messageID,
			Status:    req.Status,
			UpdatedAt: now,
		})
	}
}
