package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Zhima-Mochi/diner/internal/domain/outbox"
	"github.com/Zhima-Mochi/diner/internal/domain/payment"
	"github.com/Zhima-Mochi/diner/internal/infrastructure/httpclient"
	"github.com/Zhima-Mochi/diner/internal/observability"
	"github.com/Zhima-Mochi/diner/internal/observability/logctx"
	amqp "github.com/rabbitmq/amqp091-go"
)

const peer = "rabbitmq"

// Channel is the subset of *amqp.Channel the publisher needs.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// KitchenPublisher forwards payment outcomes to the kitchen exchange. Routing key is the event
// name, e.g. payment.succeeded.
type KitchenPublisher struct {
	ch       Channel
	exchange string
	timeout  time.Duration
	log      observability.Logger
	rec      httpclient.Recorder
}

func NewKitchenPublisher(ch Channel, exchange string, timeout time.Duration, tel observability.Observability) *KitchenPublisher {
	tel = observability.Or(tel)
	if exchange == "" {
		exchange = DefaultExchange
	}
	return &KitchenPublisher{
		ch:       ch,
		exchange: exchange,
		timeout:  timeout,
		log:      tel.Logger().With(observability.F("component", "kitchen_publisher")),
		rec:      httpclient.NewRecorder(peer, tel.Metrics()),
	}
}

func (p *KitchenPublisher) Publish(ctx context.Context, evt payment.OutcomeEvent) (err error) {
	start := time.Now()
	routingKey := evt.EventName()
	defer func() { p.rec.Observe(routingKey, start, err) }()

	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("could not marshal outcome: %w", err)
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	return p.ch.PublishWithContext(ctx,
		p.exchange, // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    evt.TransactionID,
			Timestamp:    evt.OccurredAt,
			Body:         body,
		},
	)
}

// Handle adapts the publisher to the in-process bus.
func (p *KitchenPublisher) Handle(ctx context.Context, e outbox.Event) error {
	evt, ok := e.(payment.OutcomeEvent)
	if !ok {
		return nil
	}
	if err := p.Publish(ctx, evt); err != nil {
		logctx.FromOr(ctx, p.log).Warn("kitchen_publish_failed",
			observability.F("transaction_id", evt.TransactionID),
			observability.F("error", err),
		)
		return err
	}
	return nil
}

// Register subscribes the publisher to both outcome events.
func (p *KitchenPublisher) Register(sub outbox.Subscriber) {
	sub.Subscribe(payment.EventSucceeded, p.Handle)
	sub.Subscribe(payment.EventFailed, p.Handle)
}
