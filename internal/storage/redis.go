package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hyperjump/tanya/internal/models"
)

const (
	turnKeyPrefix = "tanya:turns:"
	turnTTL       = 7 * 24 * time.Hour
)

// NewRedisClient connects to Redis. addr may be host:port or a redis:// / rediss:// URL.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	var rdb *redis.Client
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		opt, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
		}
		rdb = redis.NewClient(opt)
	} else {
		rdb = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		})
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return rdb, nil
}

// RedisTurnStore keeps each user's turns in a Redis list, newest at the head.
// Lists are capped at maxTurns and expire after a week without writes.
type RedisTurnStore struct {
	client   redis.Cmdable
	maxTurns int
}

// NewRedisTurnStore returns a TurnStore on client. maxTurns <= 0 keeps 100 turns.
func NewRedisTurnStore(client redis.Cmdable, maxTurns int) *RedisTurnStore {
	if maxTurns <= 0 {
		maxTurns = 100
	}
	return &RedisTurnStore{client: client, maxTurns: maxTurns}
}

func turnKey(userID string) string {
	return turnKeyPrefix + userID
}

// AppendTurn pushes a turn onto the user's list.
func (r *RedisTurnStore) AppendTurn(ctx context.Context, turn *models.Turn) error {
	if turn.ID == "" {
		turn.ID = uuid.New().String()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}
	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("failed to marshal turn: %w", err)
	}

	key := turnKey(turn.UserID)
	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, int64(r.maxTurns-1))
	pipe.Expire(ctx, key, turnTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append turn: %w", err)
	}
	return nil
}

// RecentTurns returns up to n turns, most recent first.
func (r *RedisTurnStore) RecentTurns(ctx context.Context, userID string, n int) ([]*models.Turn, error) {
	turns := make([]*models.Turn, 0)
	if n <= 0 {
		return turns, nil
	}
	items, err := r.client.LRange(ctx, turnKey(userID), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read turns: %w", err)
	}
	for _, item := range items {
		var t models.Turn
		if err := json.Unmarshal([]byte(item), &t); err != nil {
			return nil, fmt.Errorf("failed to unmarshal turn: %w", err)
		}
		turns = append(turns, &t)
	}
	return turns, nil
}

// DeleteTurns removes the user's list.
func (r *RedisTurnStore) DeleteTurns(ctx context.Context, userID string) error {
	if err := r.client.Del(ctx, turnKey(userID)).Err(); err != nil {
		return fmt.Errorf("failed to delete turns: %w", err)
	}
	return nil
}
