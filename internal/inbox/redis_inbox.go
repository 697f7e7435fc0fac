package inbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/taiidzy/ren/internal/models"
)

// RedisInbox manages per-user offline inboxes using Redis ZSETs, ordered by
// timestamp so drained messages replay in FIFO order per direction.
type RedisInbox struct {
	client *redis.Client
	ctx    context.Context
}

// NewRedisInbox creates a new Redis inbox manager
func NewRedisInbox(client *redis.Client) *RedisInbox {
	return &RedisInbox{
		client: client,
		ctx:    context.Background(),
	}
}

func inboxKey(userID int64) string {
	return fmt.Sprintf("inbox:%d", userID)
}

// Add queues a stored message for an offline user. Score is the Unix
// timestamp for ordering.
func (r *RedisInbox) Add(userID int64, message *models.StoredMessage) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}

	return r.client.ZAdd(r.ctx, inboxKey(userID), redis.Z{
		Score:  float64(message.CreatedAt.UnixNano()),
		Member: string(data),
	}).Err()
}

// Pending retrieves all queued messages for a user, oldest first.
func (r *RedisInbox) Pending(userID int64) ([]*models.StoredMessage, error) {
	results, err := r.client.ZRangeByScore(r.ctx, inboxKey(userID), &redis.ZRangeBy{
		Min: "-inf",
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, err
	}

	messages := make([]*models.StoredMessage, 0, len(results))
	for _, data := range results {
		var msg models.StoredMessage
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			continue
		}
		messages = append(messages, &msg)
	}
	return messages, nil
}

// PendingCount returns the number of queued messages for a user.
func (r *RedisInbox) PendingCount(userID int64) (int64, error) {
	return r.client.ZCard(r.ctx, inboxKey(userID)).Result()
}

// Remove deletes delivered messages from a user's inbox.
func (r *RedisInbox) Remove(userID int64, messageIDs []uuid.UUID) error {
	key := inboxKey(userID)

	results, err := r.client.ZRange(r.ctx, key, 0, -1).Result()
	if err != nil {
		return err
	}

	idSet := make(map[uuid.UUID]bool, len(messageIDs))
	for _, id := range messageIDs {
		idSet[id] = true
	}

	pipe := r.client.Pipeline()
	for _, data := range results {
		var msg models.StoredMessage
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			continue
		}
		if idSet[msg.MessageID] {
			pipe.ZRem(r.ctx, key, data)
		}
	}

	_, err = pipe.Exec(r.ctx)
	return err
}

// Clear drops a user's whole inbox.
func (r *RedisInbox) Clear(userID int64) error {
	return r.client.Del(r.ctx, inboxKey(userID)).Err()
}

// OldestTimestamp reports the age of the oldest queued message, if any.
func (r *RedisInbox) OldestTimestamp(userID int64) (time.Time, bool, error) {
	oldest, err := r.client.ZRangeWithScores(r.ctx, inboxKey(userID), 0, 0).Result()
	if err != nil {
		return time.Time{}, false, err
	}
	if len(oldest) == 0 {
		return time.Time{}, false, nil
	}
	return time.Unix(0, int64(oldest[0].Score)), true, nil
}
