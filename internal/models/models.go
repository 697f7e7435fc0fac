package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/taiidzy/ren/sdk/ratchet"
	"github.com/taiidzy/ren/sdk/x3dh"
)

// WebSocket message types
const (
	// Client -> Server
	MessageTypeSend        = "send"         // Send a ratchet envelope
	MessageTypeDeliveryAck = "delivery_ack" // Acknowledge message delivery
	MessageTypeReadReceipt = "read_receipt" // Mark messages as read
	MessageTypeTyping      = "typing"       // Typing indicator
	MessageTypeHeartbeat   = "heartbeat"    // Keep-alive ping
	MessageTypePresence    = "presence"     // Update presence status

	// Server -> Client
	MessageTypeDeliver      = "deliver"       // Deliver envelope to recipient
	MessageTypeSentAck      = "sent_ack"      // Acknowledge message was accepted
	MessageTypeStatusUpdate = "status_update" // Message status changed
	MessageTypeHeartbeatAck = "heartbeat_ack" // Heartbeat acknowledgment
	MessageTypeError        = "error"         // Error message
	MessageTypeUserOnline   = "user_online"   // User came online
	MessageTypeUserOffline  = "user_offline"  // User went offline
)

// WebSocketMessage is the envelope for all WebSocket communication.
type WebSocketMessage struct {
	Type      string          `json:"type"`
	MessageID uuid.UUID       `json:"message_id,omitempty"`
	SenderID  int64           `json:"sender_id,omitempty"`
	ServerID  string          `json:"server_id,omitempty"` // Originating server for presence dedup
	Timestamp time.Time       `json:"timestamp,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// OutgoingMessage is the "send" payload: a ratchet envelope addressed to a
// chat. The server relays and stores the envelope verbatim; it cannot read
// the content.
type OutgoingMessage struct {
	ChatID     int64                  `json:"chat_id"`
	ReceiverID int64                  `json:"receiver_id"`
	Envelope   ratchet.RatchetMessage `json:"envelope"`
	MediaID    *uuid.UUID             `json:"media_id,omitempty"`
	MediaType  string                 `json:"media_type,omitempty"`
}

// StoredMessage is a message row: the opaque envelope plus routing metadata.
type StoredMessage struct {
	MessageID  uuid.UUID              `json:"message_id"`
	ChatID     int64                  `json:"chat_id"`
	SenderID   int64                  `json:"sender_id"`
	ReceiverID int64                  `json:"receiver_id"`
	Envelope   ratchet.RatchetMessage `json:"envelope"`
	MediaID    *uuid.UUID             `json:"media_id,omitempty"`
	MediaType  string                 `json:"media_type,omitempty"`
	Status     string                 `json:"status"` // sent, delivered, read
	CreatedAt  time.Time              `json:"created_at"`
}

// User is the public shape of an account.
type User struct {
	UserID    int64     `json:"user_id"`
	Login     string    `json:"login"`
	Username  *string   `json:"username,omitempty"`
	AvatarURL *string   `json:"avatar_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	LastSeen  time.Time `json:"last_seen"`
}

// UserKeys is a user's published public key material. The kyber fields are
// carried opaquely: stored and returned verbatim, never processed.
type UserKeys struct {
	UserID                int64   `json:"user_id"`
	IdentityKey           string  `json:"identity_key"`    // X25519 public
	SigningKey            string  `json:"signing_key"`     // Ed25519 public
	SignedPreKey          string  `json:"signed_prekey"`   // Current signed prekey
	SignedPreKeySignature string  `json:"signed_prekey_signature"`
	KeyVersion            uint32  `json:"key_version"`
	SignedAt              string  `json:"signed_at"`
	KyberPreKey           *string `json:"kyber_prekey,omitempty"`
	KyberPreKeySignature  *string `json:"kyber_prekey_signature,omitempty"`
}

// Chat is a direct conversation between two users.
type Chat struct {
	ChatID    int64     `json:"chat_id"`
	UserA     int64     `json:"user_a"`
	UserB     int64     `json:"user_b"`
	CreatedAt time.Time `json:"created_at"`
}

// PresenceStatus is a user's online status.
type PresenceStatus struct {
	UserID   int64     `json:"user_id"`
	IsOnline bool      `json:"is_online"`
	LastSeen time.Time `json:"last_seen"`
}

// MessageStatus is the delivery status of one message.
type MessageStatus struct {
	MessageID uuid.UUID `json:"message_id"`
	Status    string    `json:"status"` // sent, delivered, read
	UpdatedAt time.Time `json:"updated_at"`
}

// RegisterRequest creates an account. The private-key blob is the user's
// X25519 identity private wrapped client-side with a PBKDF2-derived key; the
// server stores it opaquely so a fresh device can recover it with the
// password.
type RegisterRequest struct {
	Login                 string              `json:"login"`
	Password              string              `json:"password"`
	Username              *string             `json:"username,omitempty"`
	IdentityKey           string              `json:"identity_key"`
	SigningKey            string              `json:"signing_key"`
	SignedPreKey          string              `json:"signed_prekey"`
	SignedPreKeySignature string              `json:"signed_prekey_signature"`
	KeyVersion            uint32              `json:"key_version"`
	WrappedPrivateKey     string              `json:"wrapped_private_key"`
	PrivateKeySalt        string              `json:"private_key_salt"` // Base64, 16 bytes
	PreKeys               []x3dh.OneTimePreKey `json:"prekeys"`
	KyberPreKey           *string             `json:"kyber_prekey,omitempty"`
	KyberPreKeySignature  *string             `json:"kyber_prekey_signature,omitempty"`
}

// LoginRequest authenticates a returning user.
type LoginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// AuthResponse carries tokens plus the wrapped private-key blob so the
// client can unwrap its identity locally.
type AuthResponse struct {
	AccessToken       string    `json:"access_token"`
	RefreshToken      string    `json:"refresh_token"`
	ExpiresAt         time.Time `json:"expires_at"`
	User              User      `json:"user"`
	WrappedPrivateKey string    `json:"wrapped_private_key,omitempty"`
	PrivateKeySalt    string    `json:"private_key_salt,omitempty"`
}

// RecoverySetupRequest stores a recovery-key-encrypted copy of the master
// key. The blob is produced client-side with an Argon2id-derived key.
type RecoverySetupRequest struct {
	RecoveryKeyHash    string `json:"recovery_key_hash"`
	EncryptedMasterKey string `json:"encrypted_master_key"`
	Salt               string `json:"salt"` // Base64, >= 16 bytes
}

// SessionSnapshotUpsert stores an opaque ratchet session snapshot for a
// (user, peer) pair. The server never parses the blob.
type SessionSnapshotUpsert struct {
	PeerID   int64  `json:"peer_id"`
	Snapshot string `json:"snapshot"`
}

// MediaUploadRequest asks for a presigned upload URL.
type MediaUploadRequest struct {
	FileType string `json:"file_type"` // MIME type
	FileSize int64  `json:"file_size"` // Size in bytes
	ChatID   int64  `json:"chat_id"`
}

// MediaUploadResponse carries the presigned URL.
type MediaUploadResponse struct {
	MediaID   uuid.UUID `json:"media_id"`
	UploadURL string    `json:"upload_url"`
	ExpiresIn int       `json:"expires_in"` // Seconds until URL expires
}
