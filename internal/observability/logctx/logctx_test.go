package logctx

import (
	"context"
	"testing"

	"github.com/Zhima-Mochi/diner/internal/observability"
	"github.com/stretchr/testify/assert"
)

type recordingLogger struct {
	observability.Logger
	fields []observability.Field
}

func (r *recordingLogger) With(fields ...observability.Field) observability.Logger {
	return &recordingLogger{Logger: observability.NopLogger(), fields: append(append([]observability.Field(nil), r.fields...), fields...)}
}

func TestFromOr_FallsBackWhenMissing(t *testing.T) {
	fallback := &recordingLogger{Logger: observability.NopLogger()}
	assert.Same(t, fallback, FromOr(context.Background(), fallback))
	assert.NotNil(t, FromOr(context.Background(), nil))
}

func TestEnrich_AddsFieldsToRequestLogger(t *testing.T) {
	base := &recordingLogger{Logger: observability.NopLogger()}
	ctx := With(context.Background(), base)

	ctx = Enrich(ctx, observability.F("session_id", "s-1"))

	got, ok := From(ctx).(*recordingLogger)
	assert.True(t, ok)
	assert.Equal(t, []observability.Field{observability.F("session_id", "s-1")}, got.fields)
}

func TestEnrich_NoLoggerIsNoop(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, ctx, Enrich(ctx, observability.F("k", "v")))
}
