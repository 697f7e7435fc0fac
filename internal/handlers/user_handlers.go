package handlers

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/taiidzy/ren/internal/db"
	"github.com/taiidzy/ren/internal/middleware"
	"github.com/taiidzy/ren/internal/models"
	"github.com/taiidzy/ren/internal/pubsub"
)

// GetCurrentUser returns the authenticated user's profile.
func GetCurrentUser(database *db.PostgresDB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := middleware.UserID(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		rec, err := database.GetUserByID(userID)
		if err != nil {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		writeJSON(w, http.StatusOK, publicUser(rec))
	}
}

// UpdateUser updates mutable profile fields.
func UpdateUser(database *db.PostgresDB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := middleware.UserID(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		var req struct {
			Username  *string `json:"username,omitempty"`
			AvatarURL *string `json:"avatar_url,omitempty"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		if err := database.UpdateUserProfile(userID, req.Username, req.AvatarURL); err != nil {
			writeError(w, http.StatusInternalServerError, "update failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// GetUserProfile returns another user's public profile with presence.
func GetUserProfile(database *db.PostgresDB, redisClient *pubsub.RedisClient) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		targetID, err := pathUserID(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid user id")
			return
		}

		rec, err := database.GetUserByID(targetID)
		if err != nil {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}

		isOnline, lastSeen := redisClient.GetUserPresence(targetID)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"user": publicUser(rec),
			"presence": models.PresenceStatus{
				UserID:   targetID,
				IsOnline: isOnline,
				LastSeen: lastSeen,
			},
		})
	}
}

// SearchUsers finds users by login/username prefix.
func SearchUsers(database *db.PostgresDB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		if len(q) < 2 {
			writeError(w, http.StatusBadRequest, "query must be at least 2 characters")
			return
		}
		users, err := database.SearchUsers(q, 20)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "search failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"users": users})
	}
}

func pathUserID(r *http.Request) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)["userId"], 10, 64)
}
