package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Zhima-Mochi/diner/internal/application"
	domoutbox "github.com/Zhima-Mochi/diner/internal/domain/outbox"
	dompay "github.com/Zhima-Mochi/diner/internal/domain/payment"
	"github.com/Zhima-Mochi/diner/internal/observability"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

// AcceptedAsset is one token the processor may charge in, paid to receiver.
type AcceptedAsset struct {
	Blockchain string `json:"blockchain"`
	Token      string `json:"token"`
	Receiver   string `json:"receiver"`
}

// SignedRequest is an inbound processor call: the body exactly as received and its x-signature.
type SignedRequest struct {
	Body      []byte
	Signature string
}

// SignedResponse carries the bytes to write and the signature of exactly those bytes.
type SignedResponse struct {
	Body      []byte
	Signature string
}

type configureRequest struct {
	Total         decimal.Decimal `json:"total"`
	TransactionID string          `json:"transaction_id"`
}

type acceptEntry struct {
	Blockchain string      `json:"blockchain"`
	Token      string      `json:"token"`
	Receiver   string      `json:"receiver"`
	Amount     json.Number `json:"amount"`
}

type configureResponse struct {
	Accept []acceptEntry `json:"accept"`
}

var _ application.UseCase[SignedRequest, *SignedResponse] = (*CryptoConfigureUseCase)(nil)

// CryptoConfigureUseCase answers the processor's signed configuration request with the accepted
// assets for the requested total, signed with the service key.
type CryptoConfigureUseCase struct {
	verifier Verifier
	signer   Signer
	intents  dompay.IntentRepository
	accept   []AcceptedAsset
	inst     application.Instrumentation
}

func NewCryptoConfigureUseCase(
	verifier Verifier,
	signer Signer,
	intents dompay.IntentRepository,
	accept []AcceptedAsset,
	tel observability.Observability,
) *CryptoConfigureUseCase {
	return &CryptoConfigureUseCase{
		verifier: verifier,
		signer:   signer,
		intents:  intents,
		accept:   append([]AcceptedAsset(nil), accept...),
		inst:     application.NewInstrumentation(paymentService, tel),
	}
}

func (uc *CryptoConfigureUseCase) Execute(ctx context.Context, cmd SignedRequest) (_ *SignedResponse, err error) {
	ctx, run := uc.inst.Start(ctx, useCaseConfig, "CryptoConfigure",
		attribute.String("payment.rail", string(dompay.RailCrypto)),
	)
	defer func() { run.End(err) }()

	if err = uc.verifier.Verify(cmd.Body, cmd.Signature); err != nil {
		run.Fail("SIGNATURE_INVALID")
		return nil, err
	}

	var req configureRequest
	if err = json.Unmarshal(cmd.Body, &req); err != nil {
		run.Fail("PAYLOAD_MALFORMED")
		return nil, fmt.Errorf("%w: %v", dompay.ErrMalformedEvent, err)
	}

	amount := req.Total
	if req.TransactionID != "" {
		// a registered intent's amount wins over the relayed total
		in, getErr := uc.intents.Get(ctx, req.TransactionID)
		switch {
		case getErr == nil:
			amount = in.Amount
			run.Status("INTENT_AMOUNT")
		case errors.Is(getErr, dompay.ErrIntentNotFound):
		default:
			run.Fail("INTENT_LOOKUP_FAILED")
			return nil, getErr
		}
		run.With(observability.F("transaction_id", req.TransactionID))
	}
	if !amount.IsPositive() {
		run.Fail("AMOUNT_INVALID")
		return nil, dompay.ErrInvalidAmount
	}
	run.Span().SetAttributes(attribute.String("payment.amount", amount.String()))

	resp := configureResponse{Accept: make([]acceptEntry, 0, len(uc.accept))}
	for _, a := range uc.accept {
		resp.Accept = append(resp.Accept, acceptEntry{
			Blockchain: a.Blockchain,
			Token:      a.Token,
			Receiver:   a.Receiver,
			Amount:     json.Number(amount.String()),
		})
	}
	body, err := json.Marshal(resp)
	if err != nil {
		run.Fail("ENCODE_FAILED")
		return nil, err
	}
	sig, err := uc.signer.Sign(body)
	if err != nil {
		run.Fail("SIGN_FAILED")
		return nil, err
	}
	return &SignedResponse{Body: body, Signature: sig}, nil
}

type eventPayload struct {
	Status        string          `json:"status"`
	TransactionID string          `json:"transaction_id"`
	Transaction   string          `json:"transaction"`
	Blockchain    string          `json:"blockchain"`
	Amount        decimal.Decimal `json:"amount"`
	Payload       struct {
		TransactionID string `json:"transaction_id"`
	} `json:"payload"`
}

func (p eventPayload) transactionID() string {
	if p.TransactionID != "" {
		return p.TransactionID
	}
	return p.Payload.TransactionID
}

type EventResult struct {
	Status       string
	Acknowledged bool
}

var _ application.UseCase[SignedRequest, *EventResult] = (*CryptoEventUseCase)(nil)

// CryptoEventUseCase handles the processor's webhook. Nothing in the body is trusted before the
// signature verifies. Every verified event is acknowledged so the processor stops retrying.
type CryptoEventUseCase struct {
	verifier Verifier
	intents  dompay.IntentRepository
	settle   settler
	inst     application.Instrumentation
}

func NewCryptoEventUseCase(
	verifier Verifier,
	intents dompay.IntentRepository,
	carts CartClearer,
	publisher domoutbox.Publisher,
	tel observability.Observability,
) *CryptoEventUseCase {
	return &CryptoEventUseCase{
		verifier: verifier,
		intents:  intents,
		settle:   newSettler(intents, carts, publisher, tel),
		inst:     application.NewInstrumentation(paymentService, tel),
	}
}

func (uc *CryptoEventUseCase) Execute(ctx context.Context, cmd SignedRequest) (_ *EventResult, err error) {
	ctx, run := uc.inst.Start(ctx, useCaseCryptoEv, "CryptoEvent",
		attribute.String("payment.rail", string(dompay.RailCrypto)),
	)
	defer func() { run.End(err) }()
	log := run.Logger()

	if err = uc.verifier.Verify(cmd.Body, cmd.Signature); err != nil {
		run.Fail("SIGNATURE_INVALID")
		return nil, err
	}

	var evt eventPayload
	if err = json.Unmarshal(cmd.Body, &evt); err != nil {
		run.Fail("PAYLOAD_MALFORMED")
		return nil, fmt.Errorf("%w: %v", dompay.ErrMalformedEvent, err)
	}
	if evt.Status == "" {
		run.Fail("STATUS_MISSING")
		return nil, fmt.Errorf("%w: status missing", dompay.ErrMalformedEvent)
	}

	txID := evt.transactionID()
	status := dompay.Status(strings.ToLower(evt.Status))
	run.Span().SetAttributes(
		attribute.String("payment.transaction_id", txID),
		attribute.String("payment.status", string(status)),
	)
	run.With(
		observability.F("transaction_id", txID),
		observability.F("payment_status", string(status)),
		observability.F("chain_transaction", evt.Transaction),
	)
	ack := &EventResult{Status: evt.Status, Acknowledged: true}

	switch {
	case status == dompay.StatusSucceeded:
		amount := evt.Amount
		in, getErr := uc.lookup(ctx, txID)
		switch {
		case getErr == nil && in != nil:
			amount = in.Amount
			if clearErr := uc.settle.clearSession(ctx, in.SessionID); clearErr != nil {
				log.Error("cart_clear_failed",
					observability.F("transaction_id", txID),
					observability.F("error", clearErr),
				)
				run.Status("SUCCEEDED_CART_NOT_CLEARED")
			}
			uc.settle.discardIntent(ctx, log, txID)
		case getErr == nil:
			run.Status("SUCCEEDED_UNKNOWN_INTENT")
		default:
			// non-2xx makes the processor redeliver
			run.Fail("INTENT_LOOKUP_FAILED")
			return nil, getErr
		}
		uc.settle.publish(ctx, log, txID, dompay.RailCrypto, dompay.StatusSucceeded, amount)

	case status.Terminal():
		run.Status("RESOLVED_" + strings.ToUpper(string(status)))
		uc.settle.discardIntent(ctx, log, txID)
		uc.settle.publish(ctx, log, txID, dompay.RailCrypto, status, evt.Amount)

	default:
		run.Status("ACKNOWLEDGED_ONLY")
	}
	return ack, nil
}

// lookup returns nil without error when the intent is unknown or already resolved.
func (uc *CryptoEventUseCase) lookup(ctx context.Context, transactionID string) (*dompay.Intent, error) {
	if transactionID == "" {
		return nil, nil
	}
	in, err := uc.intents.Get(ctx, transactionID)
	if errors.Is(err, dompay.ErrIntentNotFound) {
		return nil, nil
	}
	return in, err
}
