package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	domain "github.com/Zhima-Mochi/diner/internal/domain/session"
	"github.com/redis/go-redis/v9"
)

const maxUpdateRetries = 10

// SessionRepository stores sessions as JSON under session:<id>. Every write refreshes the TTL,
// so an idle session expires ttl after its last change.
type SessionRepository struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSessionRepository(client *redis.Client, ttl time.Duration) *SessionRepository {
	return &SessionRepository{client: client, ttl: ttl}
}

func sessionKey(id string) string {
	return fmt.Sprintf("session:%s", id)
}

func (r *SessionRepository) Get(ctx context.Context, id string) (*domain.Session, error) {
	if id == "" {
		return nil, domain.ErrMissingID
	}
	return r.load(ctx, r.client, sessionKey(id))
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (r *SessionRepository) load(ctx context.Context, c getter, key string) (*domain.Session, error) {
	data, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	var s domain.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshal session failed: %w", err)
	}
	return &s, nil
}

// Update applies fn inside a WATCH/MULTI transaction and retries when another writer won the race.
func (r *SessionRepository) Update(ctx context.Context, id string, fn domain.Mutator) (*domain.Session, error) {
	if id == "" {
		return nil, domain.ErrMissingID
	}
	key := sessionKey(id)
	var result *domain.Session

	txf := func(tx *redis.Tx) error {
		current, err := r.load(ctx, tx, key)
		if errors.Is(err, domain.ErrNotFound) {
			current = domain.New(id)
		} else if err != nil {
			return err
		}
		if err := fn(current); err != nil {
			return err
		}
		current.Touch()
		payload, err := json.Marshal(current)
		if err != nil {
			return fmt.Errorf("marshal session failed: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, r.ttl)
			return nil
		})
		if err != nil {
			return err
		}
		result = current
		return nil
	}

	for i := 0; i < maxUpdateRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, err
	}
	return nil, domain.ErrUpdateAborted
}

func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, sessionKey(id)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}
