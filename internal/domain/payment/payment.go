package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/Zhima-Mochi/diner/internal/domain/apperr"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount   = fmt.Errorf("payment: invalid amount: %w", apperr.ErrValidation)
	ErrEmptyCart       = fmt.Errorf("payment: cart is empty: %w", apperr.ErrValidation)
	ErrAmountMismatch  = fmt.Errorf("payment: amount does not match the cart: %w", apperr.ErrValidation)
	ErrIntentNotFound  = fmt.Errorf("payment: transaction not found: %w", apperr.ErrNotFound)
	ErrBadSignature    = fmt.Errorf("payment: signature verification failed: %w", apperr.ErrAuthentication)
	ErrGatewayFailure  = fmt.Errorf("payment: card gateway failure: %w", apperr.ErrUpstream)
	ErrMalformedEvent  = fmt.Errorf("payment: malformed processor payload: %w", apperr.ErrValidation)
	ErrMissingIntentID = fmt.Errorf("payment: transaction id is required: %w", apperr.ErrValidation)
)

type Rail string

const (
	RailCard   Rail = "card"
	RailCrypto Rail = "crypto"
)

// Status is the resolution of a payment as reported by a rail.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusExpired   Status = "expired"
	StatusDeclined  Status = "declined"
)

// Terminal reports whether a processor status ends the intent.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusExpired, StatusDeclined:
		return true
	}
	return false
}

// Intent is created on every checkout view. It links a transaction id back to the session whose
// cart must be cleared when the payment resolves.
type Intent struct {
	TransactionID string          `json:"transaction_id"`
	SessionID     string          `json:"session_id"`
	Amount        decimal.Decimal `json:"amount"`
	CreatedAt     time.Time       `json:"created_at"`
}

func NewIntent(transactionID, sessionID string, amount decimal.Decimal) (*Intent, error) {
	if transactionID == "" {
		return nil, ErrMissingIntentID
	}
	if amount.IsNegative() {
		return nil, ErrInvalidAmount
	}
	return &Intent{
		TransactionID: transactionID,
		SessionID:     sessionID,
		Amount:        amount,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// IntentRepository keeps pending intents until they resolve or expire.
type IntentRepository interface {
	Save(ctx context.Context, intent *Intent) error
	Get(ctx context.Context, transactionID string) (*Intent, error)
	Delete(ctx context.Context, transactionID string) error
}
