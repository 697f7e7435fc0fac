package handlers

// Common utilities, validation functions, and shared helpers for handlers.

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"regexp"
	"strings"

	"github.com/taiidzy/ren/internal/config"
	"github.com/taiidzy/ren/sdk/crypto"
)

var (
	loginRegex       = regexp.MustCompile(`^[a-zA-Z0-9_.-]{3,64}$`)
	allowedMimeTypes = map[string]bool{
		"image/jpeg":      true,
		"image/png":       true,
		"image/gif":       true,
		"image/webp":      true,
		"audio/mpeg":      true,
		"audio/wav":       true,
		"audio/ogg":       true,
		"video/mp4":       true,
		"video/webm":      true,
		"application/pdf": true,
		"text/plain":      true,
		// Encrypted blobs carry an opaque type.
		"application/octet-stream": true,
	}
)

// writeJSON encodes and writes a JSON response. If encoding fails the
// response is already partially written, so we can only log.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("ERROR: Failed to encode JSON response: %v", err)
	}
}

// writeError writes a JSON error body with the given status.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// decodeBody parses a JSON request body into dst with a size cap.
func decodeBody(r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(nil, r.Body, 1<<20)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// validateLogin validates account login format.
func validateLogin(login string) error {
	if !loginRegex.MatchString(login) {
		return fmt.Errorf("login must be 3-64 characters of letters, numbers, '_', '.', '-'")
	}
	return nil
}

// validatePassword enforces a minimum password length; complexity beyond
// that is the client's concern, the hash is Argon2id either way.
func validatePassword(password string) error {
	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}
	if len(password) > 256 {
		return fmt.Errorf("password too long")
	}
	return nil
}

// validatePublishedKeys checks decoded lengths of published key material.
func validatePublishedKeys(identityKey, signingKey, signedPreKey, signature string) error {
	if _, err := crypto.Base64DecodeLen(identityKey, crypto.KeySize); err != nil {
		return fmt.Errorf("identity_key: %w", err)
	}
	if _, err := crypto.Base64DecodeLen(signingKey, crypto.KeySize); err != nil {
		return fmt.Errorf("signing_key: %w", err)
	}
	if _, err := crypto.Base64DecodeLen(signedPreKey, crypto.KeySize); err != nil {
		return fmt.Errorf("signed_prekey: %w", err)
	}
	if _, err := crypto.Base64DecodeLen(signature, 64); err != nil {
		return fmt.Errorf("signed_prekey_signature: %w", err)
	}
	return nil
}

// validateFileUpload validates file upload parameters with configurable limits
func validateFileUpload(contentType string, fileSize int64, mediaLimits *config.MediaLimitConfig) error {
	if fileSize <= 0 {
		return fmt.Errorf("file size must be positive")
	}

	var maxSize int64
	switch {
	case strings.HasPrefix(contentType, "image/"):
		maxSize = mediaLimits.MaxImageSize
	case strings.HasPrefix(contentType, "video/"):
		maxSize = mediaLimits.MaxVideoSize
	case strings.HasPrefix(contentType, "audio/"):
		maxSize = mediaLimits.MaxAudioSize
	default:
		maxSize = mediaLimits.MaxFileSize
	}

	if fileSize > maxSize {
		return fmt.Errorf("file size exceeds maximum allowed size of %d bytes for %s", maxSize, contentType)
	}
	if !allowedMimeTypes[contentType] {
		return fmt.Errorf("file type not allowed: %s", contentType)
	}
	return nil
}

// HealthCheck returns server health status
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}
