package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Zhima-Mochi/diner/internal/domain/apperr"
	"github.com/Zhima-Mochi/diner/internal/domain/chat"
	"github.com/Zhima-Mochi/diner/internal/infrastructure/httpclient"
	"github.com/Zhima-Mochi/diner/internal/observability"
)

const (
	peer               = "llm"
	endpointCompletion = "chat.completions"
	maxErrPreview      = 256
)

var ErrCompletion = fmt.Errorf("llm: completion failed: %w", apperr.ErrUpstream)

type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Sampling parameters sent with every completion.
type Params struct {
	RepetitionPenalty float64
	Temperature       float64
	TopP              float64
	TopK              int
	MaxTokens         int
}

func DefaultParams() Params {
	return Params{
		RepetitionPenalty: 1.1,
		Temperature:       0.7,
		TopP:              0.9,
		TopK:              40,
		MaxTokens:         1024,
	}
}

type Client struct {
	cfg    Config
	params Params
	http   *http.Client
	rec    httpclient.Recorder
}

func New(cfg Config, metrics observability.Metrics) *Client {
	return &Client{
		cfg:    cfg,
		params: DefaultParams(),
		http:   httpclient.New(cfg.Timeout),
		rec:    httpclient.NewRecorder(peer, metrics),
	}
}

type completionRequest struct {
	Model             string         `json:"model"`
	Messages          []chat.Message `json:"messages"`
	RepetitionPenalty float64        `json:"repetition_penalty"`
	Temperature       float64        `json:"temperature"`
	TopP              float64        `json:"top_p"`
	TopK              int            `json:"top_k"`
	MaxTokens         int            `json:"max_tokens"`
	Stream            bool           `json:"stream"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete sends the conversation and returns the first choice's content with newlines removed.
func (c *Client) Complete(ctx context.Context, messages []chat.Message) (_ string, err error) {
	start := time.Now()
	defer func() { c.rec.Observe(endpointCompletion, start, err) }()

	body, err := json.Marshal(completionRequest{
		Model:             c.cfg.Model,
		Messages:          messages,
		RepetitionPenalty: c.params.RepetitionPenalty,
		Temperature:       c.params.Temperature,
		TopP:              c.params.TopP,
		TopK:              c.params.TopK,
		MaxTokens:         c.params.MaxTokens,
		Stream:            false,
	})
	if err != nil {
		return "", fmt.Errorf("%w: encode request: %v", ErrCompletion, err)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: build request: %v", ErrCompletion, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCompletion, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		preview, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrPreview))
		return "", fmt.Errorf("%w: status %d: %s", ErrCompletion, resp.StatusCode, bytes.TrimSpace(preview))
	}

	var out completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrCompletion, err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices returned", ErrCompletion)
	}
	return stripNewlines(out.Choices[0].Message.Content), nil
}

func stripNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.TrimSpace(s)
}
