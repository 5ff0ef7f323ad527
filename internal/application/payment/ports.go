package payment

import (
	"context"

	dompay "github.com/Zhima-Mochi/diner/internal/domain/payment"
)

// CardGateway authorizes card payments synchronously. Declines are results, not errors.
type CardGateway interface {
	Authorize(ctx context.Context, auth dompay.CardAuthorization) (dompay.CardResult, error)
}

type Signer interface {
	Sign(body []byte) (string, error)
}

type Verifier interface {
	Verify(body []byte, signature string) error
}

// CartClearer empties the cart of a session once its payment succeeds.
type CartClearer interface {
	Clear(ctx context.Context, sessionID string) error
}

type IDGenerator interface {
	NewID() string
	Valid(id string) bool
}
