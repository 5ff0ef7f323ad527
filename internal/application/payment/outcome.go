package payment

import (
	"context"
	"time"

	domoutbox "github.com/Zhima-Mochi/diner/internal/domain/outbox"
	dompay "github.com/Zhima-Mochi/diner/internal/domain/payment"
	"github.com/Zhima-Mochi/diner/internal/observability"
	"github.com/shopspring/decimal"
)

const publishTimeout = 300 * time.Millisecond

// settler finishes a resolved payment: clears the cart on success, drops the intent, counts the
// outcome and publishes it. Observers may be gone; publish failures are logged, never returned.
type settler struct {
	intents   dompay.IntentRepository
	carts     CartClearer
	publisher domoutbox.Publisher
	outcomes  observability.Counter // payment_outcomes_total{rail,status}
}

func newSettler(intents dompay.IntentRepository, carts CartClearer, publisher domoutbox.Publisher, tel observability.Observability) settler {
	return settler{
		intents:   intents,
		carts:     carts,
		publisher: publisher,
		outcomes:  observability.Or(tel).Metrics().Counter(observability.MPaymentOutcomes),
	}
}

// clearSession empties the cart of sessionID. An empty id means no session is known.
func (s settler) clearSession(ctx context.Context, sessionID string) error {
	if sessionID == "" || s.carts == nil {
		return nil
	}
	return s.carts.Clear(ctx, sessionID)
}

func (s settler) discardIntent(ctx context.Context, log observability.Logger, transactionID string) {
	if transactionID == "" || s.intents == nil {
		return
	}
	if err := s.intents.Delete(ctx, transactionID); err != nil {
		log.Warn("intent_discard_failed",
			observability.F("transaction_id", transactionID),
			observability.F("error", err),
		)
	}
}

func (s settler) publish(ctx context.Context, log observability.Logger, transactionID string, rail dompay.Rail, status dompay.Status, amount decimal.Decimal) {
	s.outcomes.Add(1,
		observability.L("rail", string(rail)),
		observability.L("status", string(status)),
	)
	if s.publisher == nil || transactionID == "" {
		return
	}
	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	evt := dompay.NewOutcomeEvent(transactionID, rail, status, amount)
	if err := s.publisher.Publish(pubCtx, evt); err != nil {
		log.Warn("outcome_publish_failed",
			observability.F("transaction_id", transactionID),
			observability.F("event", evt.EventName()),
			observability.F("error", err),
		)
	}
}
