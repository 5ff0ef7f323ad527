package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/Zhima-Mochi/diner/internal/application"
	domoutbox "github.com/Zhima-Mochi/diner/internal/domain/outbox"
	dompay "github.com/Zhima-Mochi/diner/internal/domain/payment"
	"github.com/Zhima-Mochi/diner/internal/domain/session"
	"github.com/Zhima-Mochi/diner/internal/observability"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

const (
	paymentService  = "payment-service"
	useCaseCardPay  = "payment.card"
	useCaseConfig   = "payment.crypto_configure"
	useCaseCryptoEv = "payment.crypto_event"
)

type CardPaymentInput struct {
	SessionID     string
	TransactionID string
	Total         decimal.Decimal
}

type CardPaymentResult struct {
	Success       bool
	TransactionID string
	CardNumber    string
	AuthAmount    decimal.Decimal
	ResultCode    string
}

var _ application.UseCase[CardPaymentInput, *CardPaymentResult] = (*CardPaymentUseCase)(nil)

// CardPaymentUseCase charges the session's cart through the card gateway. It makes exactly one
// authorization attempt. The posted total must equal the cart total and, when the transaction id
// names an intent of the same session, the intent amount.
type CardPaymentUseCase struct {
	sessions session.Repository
	intents  dompay.IntentRepository
	gateway  CardGateway
	ids      IDGenerator
	settle   settler
	inst     application.Instrumentation
}

func NewCardPaymentUseCase(
	sessions session.Repository,
	intents dompay.IntentRepository,
	gateway CardGateway,
	carts CartClearer,
	ids IDGenerator,
	publisher domoutbox.Publisher,
	tel observability.Observability,
) *CardPaymentUseCase {
	return &CardPaymentUseCase{
		sessions: sessions,
		intents:  intents,
		gateway:  gateway,
		ids:      ids,
		settle:   newSettler(intents, carts, publisher, tel),
		inst:     application.NewInstrumentation(paymentService, tel),
	}
}

func (uc *CardPaymentUseCase) Execute(ctx context.Context, cmd CardPaymentInput) (_ *CardPaymentResult, err error) {
	ctx, run := uc.inst.Start(ctx, useCaseCardPay, "CardPayment",
		attribute.String("payment.rail", string(dompay.RailCard)),
		attribute.String("payment.amount", cmd.Total.String()),
	)
	defer func() { run.End(err) }()
	log := run.Logger()

	if !cmd.Total.IsPositive() {
		run.Fail("AMOUNT_INVALID")
		return nil, dompay.ErrInvalidAmount
	}
	sess, err := uc.sessions.Get(ctx, cmd.SessionID)
	if err != nil && !errors.Is(err, session.ErrNotFound) {
		run.Fail("SESSION_LOAD_FAILED")
		return nil, err
	}
	if sess == nil || sess.Cart.IsEmpty() {
		run.Fail("CART_EMPTY")
		return nil, dompay.ErrEmptyCart
	}

	cartTotal := sess.Cart.DisplayTotal()
	if !cmd.Total.Equal(cartTotal) {
		run.Fail("AMOUNT_MISMATCH")
		return nil, fmt.Errorf("%w: posted %s, cart %s", dompay.ErrAmountMismatch, cmd.Total.StringFixed(2), cartTotal.StringFixed(2))
	}

	txID := cmd.TransactionID
	if uc.ids.Valid(txID) {
		in, getErr := uc.intents.Get(ctx, txID)
		switch {
		case errors.Is(getErr, dompay.ErrIntentNotFound):
		case getErr != nil:
			run.Fail("INTENT_LOOKUP_FAILED")
			return nil, getErr
		case in.SessionID != cmd.SessionID:
			// never settle another session's intent
			txID = ""
		case !in.Amount.Equal(cartTotal):
			run.Fail("INTENT_STALE")
			return nil, fmt.Errorf("%w: transaction %s was issued for %s", dompay.ErrAmountMismatch, txID, in.Amount.StringFixed(2))
		}
	} else {
		txID = ""
	}
	if txID == "" {
		txID = uc.ids.NewID()
		run.With(observability.F("transaction_id_generated", true))
	}
	run.Span().SetAttributes(attribute.String("payment.transaction_id", txID))
	run.With(observability.F("transaction_id", txID))

	res, err := uc.gateway.Authorize(ctx, dompay.CardAuthorization{TransactionID: txID, Amount: cmd.Total})
	if err != nil {
		run.Fail("GATEWAY_FAILED")
		uc.settle.publish(ctx, log, txID, dompay.RailCard, dompay.StatusFailed, cmd.Total)
		return nil, err
	}
	run.Span().SetAttributes(attribute.String("payment.result", res.ResultCode))

	if !res.Approved() {
		run.Status("DECLINED")
		uc.settle.discardIntent(ctx, log, txID)
		uc.settle.publish(ctx, log, txID, dompay.RailCard, dompay.StatusDeclined, cmd.Total)
		return &CardPaymentResult{Success: false, TransactionID: txID, ResultCode: res.ResultCode}, nil
	}

	if clearErr := uc.settle.clearSession(ctx, cmd.SessionID); clearErr != nil {
		log.Error("cart_clear_failed",
			observability.F("transaction_id", txID),
			observability.F("error", clearErr),
		)
		run.Status("APPROVED_CART_NOT_CLEARED")
	}
	uc.settle.discardIntent(ctx, log, txID)
	uc.settle.publish(ctx, log, txID, dompay.RailCard, dompay.StatusSucceeded, res.AuthorizedAmount)

	return &CardPaymentResult{
		Success:       true,
		TransactionID: txID,
		CardNumber:    res.CardNumber,
		AuthAmount:    res.AuthorizedAmount,
		ResultCode:    res.ResultCode,
	}, nil
}
