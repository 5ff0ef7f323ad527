package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"

	domoutbox "github.com/Zhima-Mochi/diner/internal/domain/outbox"
	dompay "github.com/Zhima-Mochi/diner/internal/domain/payment"
)

type fakeGateway struct {
	result dompay.CardResult
	err    error
	calls  []dompay.CardAuthorization
}

func (f *fakeGateway) Authorize(_ context.Context, auth dompay.CardAuthorization) (dompay.CardResult, error) {
	f.calls = append(f.calls, auth)
	return f.result, f.err
}

// fakeVerifier accepts exactly one signature value.
type fakeVerifier struct{ valid string }

func (f fakeVerifier) Verify(_ []byte, sig string) error {
	if sig != f.valid {
		return dompay.ErrBadSignature
	}
	return nil
}

type fakeSigner struct{ signed [][]byte }

func (f *fakeSigner) Sign(body []byte) (string, error) {
	f.signed = append(f.signed, body)
	return fmt.Sprintf("sig-%d", len(body)), nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []dompay.OutcomeEvent
}

func (p *recordingPublisher) Publish(_ context.Context, e domoutbox.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	evt, ok := e.(dompay.OutcomeEvent)
	if !ok {
		return errors.New("unexpected event")
	}
	p.events = append(p.events, evt)
	return nil
}

type fixedIDs struct{ next string }

func (f fixedIDs) NewID() string { return f.next }

func (fixedIDs) Valid(id string) bool { return len(id) == 36 }
