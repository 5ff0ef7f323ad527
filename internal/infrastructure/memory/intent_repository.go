package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	domain "github.com/Zhima-Mochi/diner/internal/domain/payment"
)

// IntentRepository is a TTL map of pending payment intents keyed by transaction id.
type IntentRepository struct {
	mu      sync.RWMutex
	intents map[string]domain.Intent
	ttl     time.Duration
	now     func() time.Time
}

func NewIntentRepository(ttl time.Duration) *IntentRepository {
	return &IntentRepository{
		intents: make(map[string]domain.Intent),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (r *IntentRepository) Save(ctx context.Context, intent *domain.Intent) error {
	_ = ctx
	if intent == nil || intent.TransactionID == "" {
		return fmt.Errorf("intent repository: %w", domain.ErrMissingIntentID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.intents[intent.TransactionID] = *intent
	return nil
}

func (r *IntentRepository) Get(ctx context.Context, transactionID string) (*domain.Intent, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	in, ok := r.intents[transactionID]
	if !ok || (r.ttl > 0 && r.now().Sub(in.CreatedAt) > r.ttl) {
		return nil, domain.ErrIntentNotFound
	}
	return &in, nil
}

func (r *IntentRepository) Delete(ctx context.Context, transactionID string) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.intents, transactionID)
	return nil
}

// Sweep drops expired intents and reports how many were removed.
func (r *IntentRepository) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ttl <= 0 {
		return 0
	}
	removed := 0
	for id, in := range r.intents {
		if r.now().Sub(in.CreatedAt) > r.ttl {
			delete(r.intents, id)
			removed++
		}
	}
	return removed
}
