package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/taiidzy/ren/internal/db"
	"github.com/taiidzy/ren/internal/metrics"
	"github.com/taiidzy/ren/internal/middleware"
	"github.com/taiidzy/ren/internal/models"
	"github.com/taiidzy/ren/sdk/crypto"
	"github.com/taiidzy/ren/sdk/x3dh"
)

// GetUserKeys returns a user's published public key material, including the
// opaque kyber fields.
func GetUserKeys(database *db.PostgresDB) http.HandlerFunc {
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

		writeJSON(w, http.StatusOK, models.UserKeys{
			UserID:                rec.UserID,
			IdentityKey:           rec.IdentityKey,
			SigningKey:            rec.SigningKey,
			SignedPreKey:          rec.SignedPreKey,
			SignedPreKeySignature: rec.SignedPreKeySignature,
			KeyVersion:            rec.KeyVersion,
			SignedAt:              rec.SignedAt.UTC().Format(time.RFC3339),
			KyberPreKey:           rec.KyberPreKey,
			KyberPreKeySignature:  rec.KyberPreKeySignature,
		})
	}
}

// UpdateSignedPreKey rotates the caller's published signed prekey. The new
// key must verify under the account's signing key at the new version.
func UpdateSignedPreKey(database *db.PostgresDB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := middleware.UserID(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		var req crypto.SignedPublicKey
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		rec, err := database.GetUserByID(userID)
		if err != nil {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		if req.KeyVersion <= rec.KeyVersion {
			writeError(w, http.StatusConflict, fmt.Sprintf("key_version must exceed %d", rec.KeyVersion))
			return
		}

		valid, err := crypto.VerifySignedPublicKey(&req, rec.SigningKey)
		if err != nil {
			writeError(w, http.StatusBadRequest, "malformed signed key")
			return
		}
		if !valid {
			writeError(w, http.StatusBadRequest, "signature does not verify")
			return
		}

		signedAt, err := time.Parse(time.RFC3339, req.SignedAt)
		if err != nil {
			signedAt = time.Now().UTC()
		}
		if err := database.UpdateSignedPreKey(userID, req.PublicKey, req.Signature, req.KeyVersion, signedAt); err != nil {
			writeError(w, http.StatusInternalServerError, "rotation failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// UploadPreKeys stores a batch of one-time prekeys for the caller.
func UploadPreKeys(database *db.PostgresDB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := middleware.UserID(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		var req x3dh.UploadPreKeysRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if len(req.PreKeys) == 0 || len(req.PreKeys) > 200 {
			writeError(w, http.StatusBadRequest, "prekey batch must hold 1-200 keys")
			return
		}
		for _, pk := range req.PreKeys {
			if _, err := crypto.Base64DecodeLen(pk.PreKey, crypto.KeySize); err != nil {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("prekey %d: malformed key", pk.PreKeyID))
				return
			}
		}

		if err := database.UploadPreKeys(userID, req.PreKeys); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to store prekeys")
			return
		}

		count, err := database.CountPreKeys(userID)
		if err == nil {
			metrics.PreKeysRemaining.WithLabelValues(strconv.FormatInt(userID, 10)).Set(float64(count))
		}
		writeJSON(w, http.StatusCreated, map[string]interface{}{"stored": len(req.PreKeys), "remaining": count})
	}
}

// GetPreKeyBundle assembles a pre-key bundle for the target user,
// consuming one one-time prekey. Consumption is atomic: a prekey handed out
// here is deleted and can never be served again.
func GetPreKeyBundle(database *db.PostgresDB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := middleware.UserID(r); !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
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

		bundle, err := database.FetchPreKeyBundle(targetID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to assemble bundle")
			return
		}

		// Pre-check the signature server-side as a courtesy flag; the
		// initiator must still verify before deriving a secret.
		valid, err := crypto.VerifyPreKeySignature(rec.SigningKey, bundle.SignedPreKey, bundle.SignedPreKeySignature, bundle.KeyVersion)
		if err != nil {
			valid = false
		}

		metrics.PreKeyBundlesServed.WithLabelValues(strconv.FormatBool(bundle.HasOneTimePreKey())).Inc()
		writeJSON(w, http.StatusOK, x3dh.PreKeyBundleResponse{
			Bundle:                     *bundle,
			SignedPreKeySignatureValid: valid,
		})
	}
}

// CountPreKeys reports the caller's remaining one-time prekeys, so clients
// know when to replenish.
func CountPreKeys(database *db.PostgresDB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := middleware.UserID(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		count, err := database.CountPreKeys(userID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "count failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"remaining": count})
	}
}
