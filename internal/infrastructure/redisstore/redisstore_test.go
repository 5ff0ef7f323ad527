package redisstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Zhima-Mochi/diner/internal/domain/cart"
	"github.com/Zhima-Mochi/diner/internal/domain/payment"
	"github.com/Zhima-Mochi/diner/internal/domain/session"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestSessionRepository_GetMissing(t *testing.T) {
	_, client := newClient(t)
	repo := NewSessionRepository(client, time.Hour)

	_, err := repo.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, session.ErrNotFound)

	_, err = repo.Get(context.Background(), "")
	assert.ErrorIs(t, err, session.ErrMissingID)
}

func TestSessionRepository_UpdatePersists(t *testing.T) {
	mr, client := newClient(t)
	repo := NewSessionRepository(client, 30*time.Minute)
	ctx := context.Background()

	_, err := repo.Update(ctx, "s1", func(s *session.Session) error {
		return s.EnsureCart().Add("Burger", decimal.RequireFromString("8.50"), 2)
	})
	require.NoError(t, err)

	got, err := repo.Get(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, got.Cart)
	assert.True(t, got.Cart.Total().Equal(decimal.RequireFromString("17")))
	assert.Equal(t, 30*time.Minute, mr.TTL("session:s1"))
}

func TestSessionRepository_MutatorErrorDiscards(t *testing.T) {
	mr, client := newClient(t)
	repo := NewSessionRepository(client, time.Hour)

	boom := errors.New("boom")
	_, err := repo.Update(context.Background(), "s1", func(s *session.Session) error {
		s.MenuParam = "brunch"
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists("session:s1"))
}

func TestSessionRepository_ConcurrentUpdates(t *testing.T) {
	_, client := newClient(t)
	repo := NewSessionRepository(client, time.Hour)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				_, err := repo.Update(ctx, "s1", func(s *session.Session) error {
					return s.EnsureCart().Add("Fries", decimal.RequireFromString("3"), 1)
				})
				if !errors.Is(err, session.ErrUpdateAborted) {
					assert.NoError(t, err)
					return
				}
			}
		}()
	}
	wg.Wait()

	got, err := repo.Get(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, got.Cart.Lines, 1)
	assert.Equal(t, 5, got.Cart.Lines[0].Quantity)
}

func TestSessionRepository_Expiry(t *testing.T) {
	mr, client := newClient(t)
	repo := NewSessionRepository(client, time.Minute)
	ctx := context.Background()

	_, err := repo.Update(ctx, "s1", func(s *session.Session) error {
		s.Cart = cart.New()
		return nil
	})
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)
	_, err = repo.Get(ctx, "s1")
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestSessionRepository_Delete(t *testing.T) {
	_, client := newClient(t)
	repo := NewSessionRepository(client, time.Hour)
	ctx := context.Background()

	_, err := repo.Update(ctx, "s1", func(*session.Session) error { return nil })
	require.NoError(t, err)
	require.NoError(t, repo.Delete(ctx, "s1"))

	_, err = repo.Get(ctx, "s1")
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestIntentRepository(t *testing.T) {
	mr, client := newClient(t)
	repo := NewIntentRepository(client, 15*time.Minute)
	ctx := context.Background()

	in, err := payment.NewIntent("tx-1", "s1", decimal.RequireFromString("25.50"))
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, in))

	got, err := repo.Get(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, "s1", got.SessionID)
	assert.True(t, got.Amount.Equal(in.Amount))

	mr.FastForward(16 * time.Minute)
	_, err = repo.Get(ctx, "tx-1")
	assert.ErrorIs(t, err, payment.ErrIntentNotFound)

	require.NoError(t, repo.Save(ctx, in))
	require.NoError(t, repo.Delete(ctx, "tx-1"))
	_, err = repo.Get(ctx, "tx-1")
	assert.ErrorIs(t, err, payment.ErrIntentNotFound)

	assert.ErrorIs(t, repo.Save(ctx, &payment.Intent{}), payment.ErrMissingIntentID)
}
