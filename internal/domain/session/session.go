package session

import (
	"context"
	"fmt"
	"time"

	"github.com/Zhima-Mochi/diner/internal/domain/apperr"
	"github.com/Zhima-Mochi/diner/internal/domain/cart"
	"github.com/Zhima-Mochi/diner/internal/domain/chat"
)

var (
	ErrNotFound      = fmt.Errorf("session: not found: %w", apperr.ErrNotFound)
	ErrMissingID     = fmt.Errorf("session: id is required: %w", apperr.ErrValidation)
	ErrUpdateAborted = fmt.Errorf("session: concurrent update retries exhausted: %w", apperr.ErrUpstream)
)

// Session is the per-client state. A nil Cart means no cart was ever created.
type Session struct {
	ID        string         `json:"id"`
	Cart      *cart.Cart     `json:"cart,omitempty"`
	MenuParam string         `json:"menu_param"`
	History   []chat.Message `json:"history,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func New(id string) *Session {
	return &Session{ID: id, UpdatedAt: time.Now().UTC()}
}

// EnsureCart returns the session cart, creating an empty one on first use.
func (s *Session) EnsureCart() *cart.Cart {
	if s.Cart == nil {
		s.Cart = cart.New()
	}
	return s.Cart
}

func (s *Session) Touch() {
	s.UpdatedAt = time.Now().UTC()
}

func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Cart = s.Cart.Clone()
	c.History = append([]chat.Message(nil), s.History...)
	return &c
}

// Mutator changes a session in place. Returning an error discards the change.
type Mutator func(s *Session) error

// Repository stores sessions. Update must apply fn atomically per session id so that two
// concurrent requests of one client cannot overwrite each other's change.
type Repository interface {
	Get(ctx context.Context, id string) (*Session, error)
	Update(ctx context.Context, id string, fn Mutator) (*Session, error)
	Delete(ctx context.Context, id string) error
}
