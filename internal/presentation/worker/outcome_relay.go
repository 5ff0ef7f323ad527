package workerpresentation

import (
	"context"

	domoutbox "github.com/Zhima-Mochi/diner/internal/domain/outbox"
	"github.com/Zhima-Mochi/diner/internal/domain/payment"
	"github.com/Zhima-Mochi/diner/internal/observability"
	"github.com/Zhima-Mochi/diner/internal/observability/logctx"
	"go.opentelemetry.io/otel/trace"
)

const outcomeRelay = "outcome_relay"

// Notifier delivers an outcome to whoever waits on its transaction and reports how many did.
type Notifier interface {
	Notify(evt payment.OutcomeEvent) int
}

// OutcomeRelay forwards payment outcomes from the bus to browser observers.
type OutcomeRelay struct {
	subscriber domoutbox.Subscriber
	notifier   Notifier
	tel        observability.Observability
	log        observability.Logger
}

func NewOutcomeRelay(subscriber domoutbox.Subscriber, notifier Notifier, tel observability.Observability) *OutcomeRelay {
	tel = observability.Or(tel)
	return &OutcomeRelay{
		subscriber: subscriber,
		notifier:   notifier,
		tel:        tel,
		log:        tel.Logger().With(observability.F("component", outcomeRelay)),
	}
}

func (w *OutcomeRelay) Start() {
	if w.subscriber == nil || w.notifier == nil {
		return
	}
	w.subscriber.Subscribe(payment.EventSucceeded, w.handle)
	w.subscriber.Subscribe(payment.EventFailed, w.handle)
}

func (w *OutcomeRelay) handle(ctx context.Context, e domoutbox.Event) error {
	evt, ok := e.(payment.OutcomeEvent)
	if !ok {
		return nil
	}
	sc := trace.SpanContextFromContext(ctx)
	ctx = WithEventContext(ctx, logctx.FromOr(ctx, w.log), w.tel, sc.TraceID(), sc.SpanID(), map[string]string{
		"event":    e.EventName(),
		"event_id": evt.TransactionID,
		"rail":     string(evt.Rail),
	})

	delivered := w.notifier.Notify(evt)
	logctx.FromOr(ctx, w.log).Info("outcome_relayed",
		observability.F("transaction_id", evt.TransactionID),
		observability.F("status", string(evt.Status)),
		observability.F("observers", delivered),
	)
	return nil
}
