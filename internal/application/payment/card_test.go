package payment

import (
	"context"
	"testing"
	"time"

	"github.com/Zhima-Mochi/diner/internal/domain/apperr"
	dompay "github.com/Zhima-Mochi/diner/internal/domain/payment"
	"github.com/Zhima-Mochi/diner/internal/domain/session"
	"github.com/Zhima-Mochi/diner/internal/infrastructure/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validTx = "6f1c2e1a-8a8b-4a53-9d8e-2b7c0f3e1d11"

type clearer struct{ sessions session.Repository }

func (c clearer) Clear(ctx context.Context, sessionID string) error {
	_, err := c.sessions.Update(ctx, sessionID, func(s *session.Session) error {
		if s.Cart != nil {
			s.Cart.Clear()
		}
		return nil
	})
	return err
}

type cardFixture struct {
	uc       *CardPaymentUseCase
	gateway  *fakeGateway
	sessions *memory.SessionRepository
	intents  *memory.IntentRepository
	pub      *recordingPublisher
}

func newCardFixture(t *testing.T, result dompay.CardResult, gwErr error) cardFixture {
	t.Helper()
	sessions := memory.NewSessionRepository(time.Hour)
	intents := memory.NewIntentRepository(time.Hour)
	gw := &fakeGateway{result: result, err: gwErr}
	pub := &recordingPublisher{}
	uc := NewCardPaymentUseCase(sessions, intents, gw, clearer{sessions}, fixedIDs{next: "generated-id"}, pub, nil)

	_, err := sessions.Update(context.Background(), "s1", func(s *session.Session) error {
		return s.EnsureCart().Add("Burger", decimal.RequireFromString("8.50"), 3)
	})
	require.NoError(t, err)
	return cardFixture{uc: uc, gateway: gw, sessions: sessions, intents: intents, pub: pub}
}

func TestCardPayment_ApprovedClearsCart(t *testing.T) {
	f := newCardFixture(t, dompay.CardResult{
		ResultCode: "APPROVED", CardNumber: "...1234", AuthorizedAmount: decimal.RequireFromString("25.50"),
	}, nil)
	ctx := context.Background()
	in, err := dompay.NewIntent(validTx, "s1", decimal.RequireFromString("25.50"))
	require.NoError(t, err)
	require.NoError(t, f.intents.Save(ctx, in))

	res, err := f.uc.Execute(ctx, CardPaymentInput{SessionID: "s1", TransactionID: validTx, Total: decimal.RequireFromString("25.50")})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "...1234", res.CardNumber)
	assert.Equal(t, "25.5", res.AuthAmount.String())
	assert.Equal(t, validTx, f.gateway.calls[0].TransactionID)

	sess, err := f.sessions.Get(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, sess.Cart.IsEmpty())

	_, err = f.intents.Get(ctx, validTx)
	assert.ErrorIs(t, err, dompay.ErrIntentNotFound)

	require.Len(t, f.pub.events, 1)
	assert.Equal(t, dompay.EventSucceeded, f.pub.events[0].EventName())
}

func TestCardPayment_DeclinedKeepsCart(t *testing.T) {
	f := newCardFixture(t, dompay.CardResult{ResultCode: "DECLINED"}, nil)
	ctx := context.Background()

	res, err := f.uc.Execute(ctx, CardPaymentInput{SessionID: "s1", TransactionID: "bogus", Total: decimal.RequireFromString("25.50")})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "generated-id", res.TransactionID, "non-UUID ids are replaced")

	sess, _ := f.sessions.Get(ctx, "s1")
	assert.Len(t, sess.Cart.Lines, 1)
	require.Len(t, f.pub.events, 1)
	assert.Equal(t, dompay.StatusDeclined, f.pub.events[0].Status)
}

func TestCardPayment_GatewayFailure(t *testing.T) {
	f := newCardFixture(t, dompay.CardResult{}, dompay.ErrGatewayFailure)
	ctx := context.Background()

	_, err := f.uc.Execute(ctx, CardPaymentInput{SessionID: "s1", Total: decimal.RequireFromString("25.5")})
	assert.ErrorIs(t, err, apperr.ErrUpstream)
	assert.Len(t, f.gateway.calls, 1, "no retry")

	sess, _ := f.sessions.Get(ctx, "s1")
	assert.Len(t, sess.Cart.Lines, 1)
}

func TestCardPayment_Validation(t *testing.T) {
	f := newCardFixture(t, dompay.CardResult{ResultCode: "APPROVED"}, nil)
	ctx := context.Background()

	_, err := f.uc.Execute(ctx, CardPaymentInput{SessionID: "s1", Total: decimal.Zero})
	assert.ErrorIs(t, err, dompay.ErrInvalidAmount)
	_, err = f.uc.Execute(ctx, CardPaymentInput{SessionID: "s1", Total: decimal.NewFromInt(-3)})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.uc.Execute(ctx, CardPaymentInput{SessionID: "empty", Total: decimal.NewFromInt(3)})
	assert.ErrorIs(t, err, dompay.ErrEmptyCart)

	assert.Empty(t, f.gateway.calls)
}

func TestCardPayment_TotalMustMatchCart(t *testing.T) {
	f := newCardFixture(t, dompay.CardResult{ResultCode: "APPROVED", AuthorizedAmount: decimal.RequireFromString("0.01")}, nil)
	ctx := context.Background()
	in, err := dompay.NewIntent(validTx, "s1", decimal.RequireFromString("25.50"))
	require.NoError(t, err)
	require.NoError(t, f.intents.Save(ctx, in))

	_, err = f.uc.Execute(ctx, CardPaymentInput{SessionID: "s1", TransactionID: validTx, Total: decimal.RequireFromString("0.01")})
	assert.ErrorIs(t, err, dompay.ErrAmountMismatch)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Empty(t, f.gateway.calls)
	assert.Empty(t, f.pub.events)

	sess, _ := f.sessions.Get(ctx, "s1")
	assert.Len(t, sess.Cart.Lines, 1)
	_, err = f.intents.Get(ctx, validTx)
	assert.NoError(t, err, "intent survives a rejected charge")
}

func TestCardPayment_StaleIntentRejected(t *testing.T) {
	f := newCardFixture(t, dompay.CardResult{ResultCode: "APPROVED"}, nil)
	ctx := context.Background()
	in, err := dompay.NewIntent(validTx, "s1", decimal.RequireFromString("8.50"))
	require.NoError(t, err)
	require.NoError(t, f.intents.Save(ctx, in))

	_, err = f.uc.Execute(ctx, CardPaymentInput{SessionID: "s1", TransactionID: validTx, Total: decimal.RequireFromString("25.50")})
	assert.ErrorIs(t, err, dompay.ErrAmountMismatch)
	assert.Empty(t, f.gateway.calls)
}

func TestCardPayment_ForeignIntentLeftAlone(t *testing.T) {
	f := newCardFixture(t, dompay.CardResult{
		ResultCode: "APPROVED", CardNumber: "...1234", AuthorizedAmount: decimal.RequireFromString("25.50"),
	}, nil)
	ctx := context.Background()
	in, err := dompay.NewIntent(validTx, "someone-else", decimal.RequireFromString("25.50"))
	require.NoError(t, err)
	require.NoError(t, f.intents.Save(ctx, in))

	res, err := f.uc.Execute(ctx, CardPaymentInput{SessionID: "s1", TransactionID: validTx, Total: decimal.RequireFromString("25.50")})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "generated-id", res.TransactionID)

	kept, err := f.intents.Get(ctx, validTx)
	require.NoError(t, err)
	assert.Equal(t, "someone-else", kept.SessionID)
}
