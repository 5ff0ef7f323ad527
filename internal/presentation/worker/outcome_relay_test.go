package workerpresentation

import (
	"context"
	"testing"
	"time"

	"github.com/Zhima-Mochi/diner/internal/domain/payment"
	"github.com/Zhima-Mochi/diner/internal/infrastructure/broadcast"
	"github.com/Zhima-Mochi/diner/internal/infrastructure/outbox"
	"github.com/Zhima-Mochi/diner/internal/observability"
	"github.com/Zhima-Mochi/diner/internal/observability/logctx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func TestOutcomeRelay_ForwardsBusEventsToObservers(t *testing.T) {
	bus := outbox.NewBus(nil)
	hub := broadcast.NewHub(1)
	NewOutcomeRelay(bus, hub, nil).Start()
	bus.Start(context.Background())
	defer bus.Stop(context.Background())

	events, cancel := hub.Subscribe("tx-9")
	defer cancel()

	evt := payment.NewOutcomeEvent("tx-9", payment.RailCrypto, payment.StatusExpired, decimal.NewFromInt(3))
	require.NoError(t, bus.Publish(context.Background(), evt))

	select {
	case got := <-events:
		assert.Equal(t, payment.StatusExpired, got.Status)
		assert.Equal(t, payment.EventFailed, got.EventName())
	case <-time.After(2 * time.Second):
		t.Fatal("outcome not relayed")
	}
}

type fieldLogger struct {
	observability.Logger
	fields []observability.Field
}

func (l *fieldLogger) With(fs ...observability.Field) observability.Logger {
	return &fieldLogger{Logger: l.Logger, fields: append(append([]observability.Field(nil), l.fields...), fs...)}
}

func TestWithEventContext_BindsFields(t *testing.T) {
	base := &fieldLogger{Logger: observability.NopLogger()}
	ctx := WithEventContext(context.Background(), base, observability.Nop(), trace.TraceID{}, trace.SpanID{},
		map[string]string{"event": "payment.failed", "rail": ""})

	got, ok := logctx.From(ctx).(*fieldLogger)
	require.True(t, ok)
	require.Len(t, got.fields, 2)
	assert.Equal(t, "event_id", got.fields[0].Key)
	assert.NotEmpty(t, got.fields[0].Value)
	assert.Equal(t, observability.F("event", "payment.failed"), got.fields[1])
}
