package payment

import (
	"time"

	"github.com/shopspring/decimal"
)

// OutcomeEvent is published once a payment resolves on either rail. Observers key on TransactionID.
type OutcomeEvent struct {
	TransactionID string          `json:"transaction_id"`
	Rail          Rail            `json:"rail"`
	Status        Status          `json:"status"`
	Amount        decimal.Decimal `json:"amount"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

const (
	EventSucceeded = "payment.succeeded"
	EventFailed    = "payment.failed"
)

func (e OutcomeEvent) EventName() string {
	if e.Status == StatusSucceeded {
		return EventSucceeded
	}
	return EventFailed
}

func NewOutcomeEvent(transactionID string, rail Rail, status Status, amount decimal.Decimal) OutcomeEvent {
	return OutcomeEvent{
		TransactionID: transactionID,
		Rail:          rail,
		Status:        status,
		Amount:        amount,
		OccurredAt:    time.Now().UTC(),
	}
}
