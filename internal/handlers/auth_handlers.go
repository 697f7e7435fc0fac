package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/taiidzy/ren/internal/auth"
	"github.com/taiidzy/ren/internal/db"
	"github.com/taiidzy/ren/internal/metrics"
	"github.com/taiidzy/ren/internal/middleware"
	"github.com/taiidzy/ren/internal/models"
	"github.com/taiidzy/ren/sdk/crypto"
)

// Register creates an account together with its published key material and
// the initial one-time prekey batch.
func Register(authService *auth.AuthService, database *db.PostgresDB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.RegisterRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		if err := validateLogin(req.Login); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := validatePassword(req.Password); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := validatePublishedKeys(req.IdentityKey, req.SigningKey, req.SignedPreKey, req.SignedPreKeySignature); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		// The published prekey must verify under the published signing key;
		// accepting an unverifiable bundle would poison every session
		// opened against this account.
		ok, err := crypto.VerifyPreKeySignature(req.SigningKey, req.SignedPreKey, req.SignedPreKeySignature, req.KeyVersion)
		if err != nil || !ok {
			metrics.AuthAttemptsTotal.WithLabelValues("register", "failure").Inc()
			writeError(w, http.StatusBadRequest, "signed prekey signature does not verify")
			return
		}

		// The wrapped private key is opaque, but its salt has a fixed
		// boundary shape.
		if _, err := crypto.Base64DecodeLen(req.PrivateKeySalt, crypto.SaltSize); err != nil {
			writeError(w, http.StatusBadRequest, "private_key_salt must be 16 bytes")
			return
		}

		passwordHash, err := authService.HashPassword(req.Password)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "registration failed")
			return
		}

		userID, err := database.CreateUser(&db.UserRecord{
			Login:                 req.Login,
			Username:              req.Username,
			PasswordHash:          passwordHash,
			IdentityKey:           req.IdentityKey,
			SigningKey:            req.SigningKey,
			SignedPreKey:          req.SignedPreKey,
			SignedPreKeySignature: req.SignedPreKeySignature,
			KeyVersion:            req.KeyVersion,
			SignedAt:              time.Now().UTC(),
			WrappedPrivateKey:     req.WrappedPrivateKey,
			PrivateKeySalt:        req.PrivateKeySalt,
			KyberPreKey:           req.KyberPreKey,
			KyberPreKeySignature:  req.KyberPreKeySignature,
		})
		if err != nil {
			metrics.AuthAttemptsTotal.WithLabelValues("register", "failure").Inc()
			writeError(w, http.StatusConflict, "login already taken")
			return
		}

		if len(req.PreKeys) > 0 {
			if err := database.UploadPreKeys(userID, req.PreKeys); err != nil {
				writeError(w, http.StatusInternalServerError, "failed to store prekeys")
				return
			}
		}

		access, refresh, expiresAt, err := authService.GenerateTokens(userID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "registration failed")
			return
		}

		metrics.AuthAttemptsTotal.WithLabelValues("register", "success").Inc()
		writeJSON(w, http.StatusCreated, models.AuthResponse{
			AccessToken:  access,
			RefreshToken: refresh,
			ExpiresAt:    expiresAt,
			User: models.User{
				UserID:   userID,
				Login:    req.Login,
				Username: req.Username,
			},
		})
	}
}

// Login authenticates a returning user and hands back the wrapped private
// key blob so the client can unwrap its identity locally.
func Login(authService *auth.AuthService, database *db.PostgresDB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.LoginRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		rec, err := authService.Authenticate(req.Login, req.Password)
		if err != nil {
			metrics.AuthAttemptsTotal.WithLabelValues("login", "failure").Inc()
			if errors.Is(err, auth.ErrInvalidCredentials) {
				writeError(w, http.StatusUnauthorized, "invalid credentials")
				return
			}
			writeError(w, http.StatusInternalServerError, "login failed")
			return
		}

		access, refresh, expiresAt, err := authService.GenerateTokens(rec.UserID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "login failed")
			return
		}
		// Non-fatal; last_seen lags until the next event.
		_ = database.UpdateLastSeen(rec.UserID)
		metrics.AuthAttemptsTotal.WithLabelValues("login", "success").Inc()

		writeJSON(w, http.StatusOK, models.AuthResponse{
			AccessToken:       access,
			RefreshToken:      refresh,
			ExpiresAt:         expiresAt,
			User:              publicUser(rec),
			WrappedPrivateKey: rec.WrappedPrivateKey,
			PrivateKeySalt:    rec.PrivateKeySalt,
		})
	}
}

// RefreshToken exchanges a refresh token for a new pair.
func RefreshToken(authService *auth.AuthService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			RefreshToken string `json:"refresh_token"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		access, refresh, expiresAt, err := authService.Refresh(req.RefreshToken)
		if err != nil {
			metrics.AuthAttemptsTotal.WithLabelValues("refresh", "failure").Inc()
			writeError(w, http.StatusUnauthorized, "invalid refresh token")
			return
		}

		metrics.AuthAttemptsTotal.WithLabelValues("refresh", "success").Inc()
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"access_token":  access,
			"refresh_token": refresh,
			"expires_at":    expiresAt,
		})
	}
}

// SetupRecovery stores the recovery-key hash and the recovery-encrypted
// master key. Both are produced client-side; the server never sees the
// recovery key or the master key.
func SetupRecovery(database *db.PostgresDB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := middleware.UserID(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		var req models.RecoverySetupRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		salt, err := crypto.Base64Decode(req.Salt)
		if err != nil || len(salt) < crypto.SaltSize {
			writeError(w, http.StatusBadRequest, "salt must be at least 16 bytes")
			return
		}
		if req.RecoveryKeyHash == "" || req.EncryptedMasterKey == "" {
			writeError(w, http.StatusBadRequest, "missing recovery fields")
			return
		}

		if err := database.SetRecoveryData(userID, req.RecoveryKeyHash, req.EncryptedMasterKey, req.Salt); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to store recovery data")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// GetRecovery returns the recovery blob for a login so a client holding the
// recovery key can decrypt its master key offline.
func GetRecovery(database *db.PostgresDB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Login string `json:"login"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		hash, blob, salt, err := database.GetRecoveryData(req.Login)
		if err != nil || hash == "" {
			// Uniform answer whether the login exists or has no recovery
			// set up.
			writeError(w, http.StatusNotFound, "no recovery data")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"recovery_key_hash":    hash,
			"encrypted_master_key": blob,
			"salt":                 salt,
		})
	}
}

func publicUser(rec *db.UserRecord) models.User {
	return models.User{
		UserID:    rec.UserID,
		Login:     rec.Login,
		Username:  rec.Username,
		AvatarURL: rec.AvatarURL,
		CreatedAt: rec.CreatedAt,
		LastSeen:  rec.LastSeen,
	}
}
