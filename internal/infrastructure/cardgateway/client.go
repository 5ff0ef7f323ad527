package cardgateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Zhima-Mochi/diner/internal/domain/payment"
	"github.com/Zhima-Mochi/diner/internal/infrastructure/httpclient"
	"github.com/Zhima-Mochi/diner/internal/observability"
	"github.com/shopspring/decimal"
)

const (
	peer          = "card_gateway"
	endpointAuth  = "authorize"
	maxErrPreview = 256
)

type Config struct {
	Endpoint   string
	MerchantID string
	APIKey     string
	Timeout    time.Duration
}

type Client struct {
	cfg  Config
	http *http.Client
	rec  httpclient.Recorder
}

func New(cfg Config, metrics observability.Metrics) *Client {
	return &Client{
		cfg:  cfg,
		http: httpclient.New(cfg.Timeout),
		rec:  httpclient.NewRecorder(peer, metrics),
	}
}

type authorizeRequest struct {
	TransactionID string      `json:"transactionId"`
	Amount        json.Number `json:"amount"`
	MerchantID    string      `json:"merchantId"`
	APIKey        string      `json:"apiKey"`
}

type authorizeResponse struct {
	TransactionResult string          `json:"TransactionResult"`
	CardNumber        string          `json:"CardNumber"`
	AuthorizedAmount  decimal.Decimal `json:"AuthorizedAmount"`
}

// Authorize submits one authorization. It never retries: a declined result is returned as a
// CardResult, only transport and protocol failures are errors.
func (c *Client) Authorize(ctx context.Context, auth payment.CardAuthorization) (_ payment.CardResult, err error) {
	start := time.Now()
	defer func() { c.rec.Observe(endpointAuth, start, err) }()

	body, err := json.Marshal(authorizeRequest{
		TransactionID: auth.TransactionID,
		Amount:        json.Number(auth.Amount.StringFixed(2)),
		MerchantID:    c.cfg.MerchantID,
		APIKey:        c.cfg.APIKey,
	})
	if err != nil {
		return payment.CardResult{}, fmt.Errorf("%w: encode request: %v", payment.ErrGatewayFailure, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return payment.CardResult{}, fmt.Errorf("%w: build request: %v", payment.ErrGatewayFailure, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return payment.CardResult{}, fmt.Errorf("%w: %v", payment.ErrGatewayFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		preview, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrPreview))
		return payment.CardResult{}, fmt.Errorf("%w: status %d: %s", payment.ErrGatewayFailure, resp.StatusCode, bytes.TrimSpace(preview))
	}

	var out authorizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return payment.CardResult{}, fmt.Errorf("%w: decode response: %v", payment.ErrGatewayFailure, err)
	}
	return payment.CardResult{
		ResultCode:       out.TransactionResult,
		CardNumber:       out.CardNumber,
		AuthorizedAmount: out.AuthorizedAmount,
	}, nil
}
