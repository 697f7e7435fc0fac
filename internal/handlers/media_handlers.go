package handlers

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/taiidzy/ren/internal/config"
	"github.com/taiidzy/ren/internal/db"
	"github.com/taiidzy/ren/internal/media"
	"github.com/taiidzy/ren/internal/metrics"
	"github.com/taiidzy/ren/internal/middleware"
	"github.com/taiidzy/ren/internal/models"
)

// GetUploadURL issues a presigned PUT URL for a client-side-encrypted blob.
func GetUploadURL(mediaService *media.MediaService, database *db.PostgresDB, cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := middleware.UserID(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		var req models.MediaUploadRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := validateFileUpload(req.FileType, req.FileSize, cfg.MediaLimits); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if _, err := database.GetChat(req.ChatID, userID); err != nil {
			writeError(w, http.StatusForbidden, "not a member of this chat")
			return
		}

		result, err := mediaService.GenerateUploadURL()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to create upload URL")
			return
		}

		metrics.MediaUploadsTotal.WithLabelValues(mediaClass(req.FileType)).Inc()
		metrics.MediaUploadSize.Observe(float64(req.FileSize))
		writeJSON(w, http.StatusOK, models.MediaUploadResponse{
			MediaID:   result.MediaID,
			UploadURL: result.UploadURL,
			ExpiresIn: result.ExpiresIn,
		})
	}
}

// GetDownloadURL issues a presigned GET URL for an encrypted blob.
func GetDownloadURL(mediaService *media.MediaService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := middleware.UserID(r); !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		mediaID, err := uuid.Parse(mux.Vars(r)["mediaId"])
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid media id")
			return
		}

		result, err := mediaService.GenerateDownloadURL(mediaID)
		if err != nil {
			writeError(w, http.StatusNotFound, "media not found")
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func mediaClass(contentType string) string {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return "image"
	case strings.HasPrefix(contentType, "video/"):
		return "video"
	case strings.HasPrefix(contentType, "audio/"):
		return "audio"
	default:
		return "document"
	}
}
