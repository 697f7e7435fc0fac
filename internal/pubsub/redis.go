package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/taiidzy/ren/internal/models"
)

// RedisClient wraps the shared Redis connection for presence tracking and
// cross-server message fan-out.
type RedisClient struct {
	client *redis.Client
	ctx    context.Context
	logger *log.Logger
}

// Hub is the subset of the WebSocket hub the subscribers need.
type Hub interface {
	DeliverFromRedis(userID int64, msg *models.WebSocketMessage)
	BroadcastPresenceFromRedis(msg *models.WebSocketMessage)
}

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(addr string) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		PoolSize:     50,
		MinIdleConns: 10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisClient{
		client: client,
		ctx:    context.Background(),
		logger: log.New(log.Writer(), "[REDIS] ", log.Ldate|log.Ltime|log.LUTC),
	}, nil
}

// GetClient returns the underlying Redis client (for the rate limiter and
// the inbox).
func (r *RedisClient) GetClient() *redis.Client {
	return r.client
}

// Close closes the Redis connection.
func (r *RedisClient) Close() error {
	return r.client.Close()
}

// ============================================
// CONNECTION REGISTRY
// ============================================

// RegisterConnection records which server a user's socket lives on.
func (r *RedisClient) RegisterConnection(userID int64, serverID string) {
	key := fmt.Sprintf("conn:%d", userID)
	if err := r.client.Set(r.ctx, key, serverID, 90*time.Second).Err(); err != nil {
		r.logger.Printf("failed to register connection for user %d: %v", userID, err)
	}
}

// RefreshConnection extends the connection record TTL on heartbeat.
func (r *RedisClient) RefreshConnection(userID int64) {
	key := fmt.Sprintf("conn:%d", userID)
	if err := r.client.Expire(r.ctx, key, 90*time.Second).Err(); err != nil {
		r.logger.Printf("failed to refresh connection for user %d: %v", userID, err)
	}
}

// UnregisterConnection removes the connection record.
func (r *RedisClient) UnregisterConnection(userID int64) {
	key := fmt.Sprintf("conn:%d", userID)
	if err := r.client.Del(r.ctx, key).Err(); err != nil {
		r.logger.Printf("failed to unregister connection for user %d: %v", userID, err)
	}
}

// GetUserServer reports which server holds the user's socket, if any.
func (r *RedisClient) GetUserServer(userID int64) (string, bool) {
	key := fmt.Sprintf("conn:%d", userID)
	serverID, err := r.client.Get(r.ctx, key).Result()
	if err != nil {
		return "", false
	}
	return serverID, true
}

// ============================================
// PRESENCE
// ============================================

// SetUserPresence records online status with last-seen time.
func (r *RedisClient) SetUserPresence(userID int64, isOnline bool) {
	key := fmt.Sprintf("presence:%d", userID)
	value := fmt.Sprintf("%t|%d", isOnline, time.Now().Unix())
	if err := r.client.Set(r.ctx, key, value, 24*time.Hour).Err(); err != nil {
		r.logger.Printf("failed to set presence for user %d: %v", userID, err)
	}
}

// GetUserPresence reads online status and last-seen time.
func (r *RedisClient) GetUserPresence(userID int64) (isOnline bool, lastSeen time.Time) {
	key := fmt.Sprintf("presence:%d", userID)
	value, err := r.client.Get(r.ctx, key).Result()
	if err != nil {
		return false, time.Time{}
	}
	parts := strings.SplitN(value, "|", 2)
	if len(parts) != 2 {
		return false, time.Time{}
	}
	isOnline = parts[0] == "true"
	if unix, err := strconv.ParseInt(parts[1], 10, 64); err == nil {
		lastSeen = time.Unix(unix, 0)
	}
	return isOnline, lastSeen
}

// GetBatchPresence reads presence for many users in one round trip.
func (r *RedisClient) GetBatchPresence(userIDs []int64) map[int64]bool {
	result := make(map[int64]bool, len(userIDs))
	if len(userIDs) == 0 {
		return result
	}

	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = fmt.Sprintf("presence:%d", id)
	}

	values, err := r.client.MGet(r.ctx, keys...).Result()
	if err != nil {
		r.logger.Printf("batch presence lookup failed: %v", err)
		return result
	}
	for i, v := range values {
		s, ok := v.(string)
		result[userIDs[i]] = ok && strings.HasPrefix(s, "true|")
	}
	return result
}

// ============================================
// PUB/SUB FAN-OUT
// ============================================

// PublishMessage publishes a WebSocket message to a user's channel. Every
// server subscribed to the pattern relays to its local socket if it has one.
func (r *RedisClient) PublishMessage(userID int64, msg *models.WebSocketMessage) error {
	channel := fmt.Sprintf("messages:%d", userID)
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := r.client.Publish(r.ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", channel, err)
	}
	return nil
}

// PublishPresenceUpdate publishes to the global presence channel all
// servers subscribe to.
func (r *RedisClient) PublishPresenceUpdate(msg *models.WebSocketMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		r.logger.Printf("failed to marshal presence update: %v", err)
		return
	}
	if err := r.client.Publish(r.ctx, "presence:updates", data).Err(); err != nil {
		r.logger.Printf("failed to publish presence update: %v", err)
	}
}

// SubscribeToMessages pattern-subscribes to all user message channels and
// relays into the hub. Runs until the connection dies.
func (r *RedisClient) SubscribeToMessages(hub Hub) {
	pubsub := r.client.PSubscribe(r.ctx, "messages:*")
	defer func() {
		if err := pubsub.Close(); err != nil {
			r.logger.Printf("failed to close message subscription: %v", err)
		}
	}()

	ch := pubsub.Channel()
	for msg := range ch {
		userIDStr := strings.TrimPrefix(msg.Channel, "messages:")
		userID, err := strconv.ParseInt(userIDStr, 10, 64)
		if err != nil {
			r.logger.Printf("bad user id in channel %s: %v", msg.Channel, err)
			continue
		}

		var wsMsg models.WebSocketMessage
		if err := json.Unmarshal([]byte(msg.Payload), &wsMsg); err != nil {
			r.logger.Printf("bad payload on channel %s: %v", msg.Channel, err)
			continue
		}
		hub.DeliverFromRedis(userID, &wsMsg)
	}
}

// SubscribeToPresenceUpdates subscribes to the global presence channel and
// relays into the hub.
func (r *RedisClient) SubscribeToPresenceUpdates(hub Hub) {
	pubsub := r.client.Subscribe(r.ctx, "presence:updates")
	defer func() {
		if err := pubsub.Close(); err != nil {
			r.logger.Printf("failed to close presence subscription: %v", err)
		}
	}()

	ch := pubsub.Channel()
	for msg := range ch {
		var wsMsg models.WebSocketMessage
		if err := json.Unmarshal([]byte(msg.Payload), &wsMsg); err != nil {
			r.logger.Printf("bad presence payload: %v", err)
			continue
		}
		hub.BroadcastPresenceFromRedis(&wsMsg)
	}
}
