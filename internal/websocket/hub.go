package websocket

import (
	"encoding/json"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/taiidzy/ren/internal/db"
	"github.com/taiidzy/ren/internal/inbox"
	"github.com/taiidzy/ren/internal/metrics"
	"github.com/taiidzy/ren/internal/models"
	"github.com/taiidzy/ren/internal/pubsub"
)

// Hub routes message envelopes between connected clients, across servers
// via Redis, and into the offline inbox. It never inspects envelope
// contents; the ratchet ciphertext passes through verbatim.
type Hub struct {
	serverID string
	redis    *pubsub.RedisClient
	database *db.PostgresDB
	inbox    *inbox.RedisInbox
	logger   *log.Logger

	clients    map[int64]*Client
	register   chan *Client
	unregister chan *Client
	shutdown   chan struct{}
	mu         sync.RWMutex
}

// NewHub creates the hub for this server instance.
func NewHub(serverID string, redis *pubsub.RedisClient, database *db.PostgresDB) *Hub {
	return &Hub{
		serverID:   serverID,
		redis:      redis,
		database:   database,
		inbox:      inbox.NewRedisInbox(redis.GetClient()),
		logger:     log.New(os.Stdout, "[WS-HUB] ", log.Ldate|log.Ltime|log.LUTC),
		clients:    make(map[int64]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		shutdown:   make(chan struct{}),
	}
}

// Run processes register/unregister events until Shutdown.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)
		case client := <-h.unregister:
			h.unregisterClient(client)
		case <-h.shutdown:
			h.closeAllClients()
			return
		}
	}
}

// Shutdown closes all client connections and stops the hub loop.
func (h *Hub) Shutdown() {
	close(h.shutdown)
}

// Register queues a client for registration.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister queues a client for removal.
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	if old, ok := h.clients[client.UserID]; ok {
		// A reconnect supersedes the previous socket.
		close(old.send)
	}
	h.clients[client.UserID] = client
	h.mu.Unlock()

	h.redis.RegisterConnection(client.UserID, h.serverID)
	h.redis.SetUserPresence(client.UserID, true)
	metrics.WebSocketConnections.WithLabelValues(h.serverID).Inc()

	h.broadcastPresence(client.UserID, true)
	go h.deliverPendingMessages(client)

	h.logger.Printf("user %d connected", client.UserID)
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	current, ok := h.clients[client.UserID]
	if ok && current == client {
		delete(h.clients, client.UserID)
		close(client.send)
	}
	h.mu.Unlock()
	if !ok || current != client {
		return
	}

	h.redis.UnregisterConnection(client.UserID)
	h.redis.SetUserPresence(client.UserID, false)
	if err := h.database.UpdateLastSeen(client.UserID); err != nil {
		h.logger.Printf("failed to update last seen for user %d: %v", client.UserID, err)
	}
	metrics.WebSocketConnections.WithLabelValues(h.serverID).Dec()

	h.broadcastPresence(client.UserID, false)
	h.logger.Printf("user %d disconnected", client.UserID)
}

// HandleInbound dispatches one frame from a client.
func (h *Hub) HandleInbound(client *Client, data []byte) {
	var msg models.WebSocketMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		h.sendError(client.UserID, "malformed message")
		return
	}
	msg.SenderID = client.UserID
	metrics.WebSocketMessagesTotal.WithLabelValues(h.serverID, msg.Type, "in").Inc()

	switch msg.Type {
	case models.MessageTypeSend:
		h.handleSendMessage(&msg)
	case models.MessageTypeDeliveryAck:
		h.handleStatusUpdate(&msg, "delivered")
	case models.MessageTypeReadReceipt:
		h.handleStatusUpdate(&msg, "read")
	case models.MessageTypeTyping:
		h.handleTyping(&msg)
	case models.MessageTypeHeartbeat:
		h.handleHeartbeat(client)
	default:
		h.sendError(client.UserID, "unknown message type")
	}
}

// handleSendMessage persists the envelope and routes it to the receiver.
func (h *Hub) handleSendMessage(msg *models.WebSocketMessage) {
	var out models.OutgoingMessage
	if err := json.Unmarshal(msg.Payload, &out); err != nil {
		h.sendError(msg.SenderID, "malformed send payload")
		return
	}

	chat, err := h.database.GetChat(out.ChatID, msg.SenderID)
	if err != nil {
		h.sendError(msg.SenderID, "chat not found")
		return
	}
	receiverID := chat.UserA
	if receiverID == msg.SenderID {
		receiverID = chat.UserB
	}
	if out.ReceiverID != 0 && out.ReceiverID != receiverID {
		h.sendError(msg.SenderID, "receiver is not a member of this chat")
		return
	}

	stored := &models.StoredMessage{
		MessageID:  uuid.New(),
		ChatID:     chat.ChatID,
		SenderID:   msg.SenderID,
		ReceiverID: receiverID,
		Envelope:   out.Envelope,
		MediaID:    out.MediaID,
		MediaType:  out.MediaType,
		Status:     "sent",
		CreatedAt:  time.Now().UTC(),
	}
	if err := h.database.SaveMessage(stored); err != nil {
		h.logger.Printf("failed to persist message %s: %v", stored.MessageID, err)
		h.sendError(msg.SenderID, "message could not be stored")
		return
	}
	metrics.MessagesTotal.Inc()

	h.deliverMessage(stored)

	// Acknowledge to the sender with the assigned id.
	h.sendToUser(msg.SenderID, &models.WebSocketMessage{
		Type:      models.MessageTypeSentAck,
		MessageID: stored.MessageID,
		ServerID:  h.serverID,
		Timestamp: stored.CreatedAt,
		Payload:   mustMarshal(map[string]interface{}{"chat_id": stored.ChatID}),
	})
}

// deliverMessage routes a stored envelope: local socket first, then another
// server via Redis, then the offline inbox.
func (h *Hub) deliverMessage(stored *models.StoredMessage) {
	start := time.Now()
	deliver := &models.WebSocketMessage{
		Type:      models.MessageTypeDeliver,
		MessageID: stored.MessageID,
		SenderID:  stored.SenderID,
		ServerID:  h.serverID,
		Timestamp: stored.CreatedAt,
		Payload:   mustMarshal(stored),
	}

	if h.sendToUser(stored.ReceiverID, deliver) {
		metrics.MessageDeliveryLatency.WithLabelValues("immediate").Observe(time.Since(start).Seconds())
		return
	}

	if _, online := h.redis.GetUserServer(stored.ReceiverID); online {
		if err := h.redis.PublishMessage(stored.ReceiverID, deliver); err == nil {
			metrics.MessageDeliveryLatency.WithLabelValues("immediate").Observe(time.Since(start).Seconds())
			return
		}
	}

	if err := h.inbox.Add(stored.ReceiverID, stored); err != nil {
		h.logger.Printf("failed to queue offline message %s: %v", stored.MessageID, err)
		return
	}
	metrics.OfflineMessagesQueued.Inc()
	metrics.MessageDeliveryLatency.WithLabelValues("offline").Observe(time.Since(start).Seconds())
}

// deliverPendingMessages drains the offline inbox to a fresh connection.
func (h *Hub) deliverPendingMessages(client *Client) {
	pending, err := h.inbox.Pending(client.UserID)
	if err != nil {
		h.logger.Printf("failed to read inbox for user %d: %v", client.UserID, err)
		return
	}

	delivered := make([]uuid.UUID, 0, len(pending))
	for _, stored := range pending {
		msg := &models.WebSocketMessage{
			Type:      models.MessageTypeDeliver,
			MessageID: stored.MessageID,
			SenderID:  stored.SenderID,
			ServerID:  h.serverID,
			Timestamp: stored.CreatedAt,
			Payload:   mustMarshal(stored),
		}
		if !h.sendToUser(client.UserID, msg) {
			break
		}
		delivered = append(delivered, stored.MessageID)
	}

	if len(delivered) > 0 {
		if err := h.inbox.Remove(client.UserID, delivered); err != nil {
			h.logger.Printf("failed to clear delivered inbox entries for user %d: %v", client.UserID, err)
		}
		h.logger.Printf("delivered %d queued messages to user %d", len(delivered), client.UserID)
	}
}

// handleStatusUpdate records delivered/read and notifies the counterpart.
func (h *Hub) handleStatusUpdate(msg *models.WebSocketMessage, status string) {
	if msg.MessageID == uuid.Nil {
		h.sendError(msg.SenderID, "missing message id")
		return
	}
	now := time.Now().UTC()
	if err := h.database.UpdateMessageStatus(msg.MessageID, status, now); err != nil {
		h.logger.Printf("failed to update status of %s: %v", msg.MessageID, err)
		return
	}

	var payload struct {
		PeerID int64 `json:"peer_id"`
	}
	if err := json.Unmarshal(msg.Payload, &payload); err != nil || payload.PeerID == 0 {
		return
	}

	update := &models.WebSocketMessage{
		Type:      models.MessageTypeStatusUpdate,
		MessageID: msg.MessageID,
		SenderID:  msg.SenderID,
		ServerID:  h.serverID,
		Timestamp: now,
		Payload:   mustMarshal(models.MessageStatus{MessageID: msg.MessageID, Status: status, UpdatedAt: now}),
	}
	if !h.sendToUser(payload.PeerID, update) {
		if err := h.redis.PublishMessage(payload.PeerID, update); err != nil {
			h.logger.Printf("failed to relay status update: %v", err)
		}
	}
}

// handleTyping relays a typing indicator without persisting anything.
func (h *Hub) handleTyping(msg *models.WebSocketMessage) {
	var payload struct {
		PeerID int64 `json:"peer_id"`
	}
	if err := json.Unmarshal(msg.Payload, &payload); err != nil || payload.PeerID == 0 {
		return
	}
	relay := &models.WebSocketMessage{
		Type:      models.MessageTypeTyping,
		SenderID:  msg.SenderID,
		ServerID:  h.serverID,
		Timestamp: time.Now().UTC(),
	}
	if !h.sendToUser(payload.PeerID, relay) {
		if err := h.redis.PublishMessage(payload.PeerID, relay); err != nil {
			h.logger.Printf("failed to relay typing indicator: %v", err)
		}
	}
}

func (h *Hub) handleHeartbeat(client *Client) {
	h.redis.RefreshConnection(client.UserID)
	h.sendToUser(client.UserID, &models.WebSocketMessage{
		Type:      models.MessageTypeHeartbeatAck,
		ServerID:  h.serverID,
		Timestamp: time.Now().UTC(),
	})
}

// broadcastPresence notifies the user's chat peers, locally and across
// servers.
func (h *Hub) broadcastPresence(userID int64, isOnline bool) {
	msgType := models.MessageTypeUserOnline
	if !isOnline {
		msgType = models.MessageTypeUserOffline
	}
	update := &models.WebSocketMessage{
		Type:      msgType,
		SenderID:  userID,
		ServerID:  h.serverID,
		Timestamp: time.Now().UTC(),
	}

	peers, err := h.database.GetChatPeers(userID)
	if err != nil {
		h.logger.Printf("failed to load chat peers for user %d: %v", userID, err)
		return
	}
	for _, peer := range peers {
		h.sendToUser(peer, update)
	}
	h.redis.PublishPresenceUpdate(update)
}

// DeliverFromRedis hands a cross-server message to the local socket, if the
// user is connected here.
func (h *Hub) DeliverFromRedis(userID int64, msg *models.WebSocketMessage) {
	// Skip messages that originated on this server; they were already
	// delivered locally.
	if msg.ServerID == h.serverID {
		return
	}
	h.sendToUser(userID, msg)
}

// BroadcastPresenceFromRedis relays a presence update from another server
// to the affected local peers.
func (h *Hub) BroadcastPresenceFromRedis(msg *models.WebSocketMessage) {
	if msg.ServerID == h.serverID {
		return
	}
	peers, err := h.database.GetChatPeers(msg.SenderID)
	if err != nil {
		return
	}
	for _, peer := range peers {
		h.sendToUser(peer, msg)
	}
}

// sendToUser queues a frame to a locally connected user. Returns false when
// the user has no socket on this server or the buffer is full.
func (h *Hub) sendToUser(userID int64, msg *models.WebSocketMessage) bool {
	h.mu.RLock()
	client, ok := h.clients[userID]
	h.mu.RUnlock()
	if !ok {
		return false
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Printf("failed to marshal outbound message: %v", err)
		return false
	}
	if client.trySend(data) {
		metrics.WebSocketMessagesTotal.WithLabelValues(h.serverID, msg.Type, "out").Inc()
		return true
	}
	return false
}

func (h *Hub) sendError(userID int64, errorMsg string) {
	h.sendToUser(userID, &models.WebSocketMessage{
		Type:      models.MessageTypeError,
		ServerID:  h.serverID,
		Timestamp: time.Now().UTC(),
		Payload:   mustMarshal(map[string]string{"error": errorMsg}),
	})
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for userID, client := range h.clients {
		close(client.send)
		delete(h.clients, userID)
		h.redis.UnregisterConnection(userID)
		h.redis.SetUserPresence(userID, false)
	}
	h.logger.Printf("all clients disconnected")
}

func mustMarshal(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("[WS-HUB] marshal failure: %v", err)
		return json.RawMessage("{}")
	}
	return data
}
