package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/stupiduntilnot/zyro/internal/model"
	"github.com/stupiduntilnot/zyro/internal/prompt"
)

// Request defaults.
const (
	// DefaultTimeout bounds a single completion request.
	DefaultTimeout     = 25 * time.Second
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 500
)

// maxBodyChars bounds the error body kept on an api_error failure.
const maxBodyChars = 400

// Options configures a Client. Zero values fall back to the defaults above.
type Options struct {
	APIKey string
	URL    string
	Model  string
	// Temperature is nil for DefaultTemperature; 0 is a valid setting.
	Temperature *float64
	MaxTokens   int
	Timeout     time.Duration
	HTTPClient  *http.Client
}

// Client is a minimal OpenAI-compatible chat completions client.
type Client struct {
	apiKey      string
	url         string
	model       string
	temperature float64
	maxTokens   int
	timeout     time.Duration
	httpClient  *http.Client
}

// NewClient creates a chat completions client.
func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	temperature := DefaultTemperature
	if opts.Temperature != nil {
		temperature = *opts.Temperature
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		apiKey:      opts.APIKey,
		url:         opts.URL,
		model:       opts.Model,
		temperature: temperature,
		maxTokens:   opts.MaxTokens,
		timeout:     opts.Timeout,
		httpClient:  httpClient,
	}
}

type chatRequest struct {
	Model       string           `json:"model"`
	Messages    []prompt.Message `json:"messages"`
	Temperature float64          `json:"temperature"`
	MaxTokens   int              `json:"max_tokens"`
	Stream      bool             `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *usage `json:"usage"`
}

type usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// ChatCompletion sends one chat completion request. Every error it returns is
// a *model.Failure: api_error for non-200 statuses, timeout when the request
// deadline passes, unexpected for anything else.
func (c *Client) ChatCompletion(ctx context.Context, messages []prompt.Message) (model.CompletionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
		Stream:      false,
	})
	if err != nil {
		return model.CompletionResponse{}, model.Unexpected(errors.Wrap(err, "marshal completion request"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return model.CompletionResponse{}, model.Unexpected(errors.Wrap(err, "create completion request"))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return model.CompletionResponse{}, classify(ctx, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.CompletionResponse{}, classify(ctx, err)
	}

	if resp.StatusCode != http.StatusOK {
		return model.CompletionResponse{}, model.APIError(resp.StatusCode, model.Truncate(strings.TrimSpace(string(body)), maxBodyChars))
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return model.CompletionResponse{}, model.Unexpected(errors.Wrap(err, "parse completion response"))
	}
	if len(parsed.Choices) == 0 {
		return model.CompletionResponse{}, model.Unexpected(errors.New("completion response has no choices"))
	}

	result := model.CompletionResponse{
		Content: strings.TrimSpace(parsed.Choices[0].Message.Content),
	}
	if parsed.Usage != nil {
		result.InputTokens = parsed.Usage.PromptTokens
		result.OutputTokens = parsed.Usage.CompletionTokens
	}
	return result, nil
}

func classify(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return model.Timeout(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return model.Timeout(err)
	}
	return model.Unexpected(err)
}
