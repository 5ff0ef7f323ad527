package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	domain "github.com/Zhima-Mochi/diner/internal/domain/payment"
	"github.com/redis/go-redis/v9"
)

// IntentRepository keeps pending intents under intent:<transaction id>, expiring after ttl.
type IntentRepository struct {
	client *redis.Client
	ttl    time.Duration
}

func NewIntentRepository(client *redis.Client, ttl time.Duration) *IntentRepository {
	return &IntentRepository{client: client, ttl: ttl}
}

func intentKey(transactionID string) string {
	return fmt.Sprintf("intent:%s", transactionID)
}

func (r *IntentRepository) Save(ctx context.Context, intent *domain.Intent) error {
	if intent == nil || intent.TransactionID == "" {
		return fmt.Errorf("intent repository: %w", domain.ErrMissingIntentID)
	}
	payload, err := json.Marshal(intent)
	if err != nil {
		return fmt.Errorf("marshal intent failed: %w", err)
	}
	if err := r.client.Set(ctx, intentKey(intent.TransactionID), payload, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (r *IntentRepository) Get(ctx context.Context, transactionID string) (*domain.Intent, error) {
	data, err := r.client.Get(ctx, intentKey(transactionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrIntentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	var in domain.Intent
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("unmarshal intent failed: %w", err)
	}
	return &in, nil
}

func (r *IntentRepository) Delete(ctx context.Context, transactionID string) error {
	if err := r.client.Del(ctx, intentKey(transactionID)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}
