package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/docuchat/backend/internal/domain"
	"github.com/docuchat/backend/pkg/logger"
	"github.com/docuchat/backend/pkg/retry"
)

// Store keeps each session's conversation as an append-only redis list.
// It implements domain.MemoryStore: windowing belongs to the reader, the
// store never truncates.
type Store struct {
	client *redis.Client
	retry  retry.Config
}

func NewStore(addr, password string, db int) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Session memory store initialized", zap.String("addr", addr))

	return &Store{
		client: client,
		retry: retry.Config{
			MaxAttempts:    3,
			InitialDelay:   100 * time.Millisecond,
			MaxDelay:       2 * time.Second,
			Multiplier:     2.0,
			JitterFraction: 0.1,
			Logger:         logger.GetLogger(),
		},
	}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func sessionKey(sessionID string) string {
	return "session:" + sessionID
}

func (s *Store) Append(ctx context.Context, sessionID string, turn domain.ConversationTurn) error {
	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("failed to marshal turn: %w", err)
	}

	err = retry.Do(ctx, s.retry, func() error {
		return s.client.RPush(ctx, sessionKey(sessionID), data).Err()
	})
	if err != nil {
		return fmt.Errorf("%w: append turn: %v", domain.ErrMemoryUnavailable, err)
	}

	logger.Debug("Turn appended",
		zap.String("session_id", sessionID),
		zap.String("role", turn.Role),
	)
	return nil
}

// ReadWindow returns the trailing maxTurns turns, oldest first. An unknown
// session yields an empty history, not an error.
func (s *Store) ReadWindow(ctx context.Context, sessionID string, maxTurns int) ([]domain.ConversationTurn, error) {
	if maxTurns <= 0 {
		return nil, nil
	}

	raw, err := retry.DoWithResult(ctx, s.retry, func() ([]string, error) {
		return s.client.LRange(ctx, sessionKey(sessionID), int64(-maxTurns), -1).Result()
	})
	if err != nil {
		return nil, fmt.Errorf("%w: read history: %v", domain.ErrMemoryUnavailable, err)
	}

	turns := make([]domain.ConversationTurn, 0, len(raw))
	for _, item := range raw {
		var turn domain.ConversationTurn
		if err := json.Unmarshal([]byte(item), &turn); err != nil {
			logger.Warn("Skipping malformed turn in history",
				zap.String("session_id", sessionID),
				zap.Error(err),
			)
			continue
		}
		turns = append(turns, turn)
	}

	return turns, nil
}
