package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/arbiterlabs/arbiter/pkg/models"
)

// Default Anthropic configuration values. Overridable via environment:
//   - ANTHROPIC_API_KEY
//   - ANTHROPIC_API_ENDPOINT
const (
	DefaultAnthropicEndpoint = "https://api.anthropic.com/v1/messages"
	DefaultAnthropicTimeout  = 120 * time.Second
	anthropicVersion         = "2023-06-01"
)

var anthropicPricing = map[string]struct{ in, out float64 }{
	"claude-sonnet-4-5": {0.003, 0.015},
	"claude-haiku-4-5":  {0.001, 0.005},
	"claude-opus-4-1":   {0.015, 0.075},
	"default":           {0.003, 0.015},
}

// AnthropicConfig holds configuration for the Anthropic adapter.
type AnthropicConfig struct {
	APIKey   string
	Endpoint string
	Timeout  time.Duration
}

// AnthropicClient implements Provider against the messages API.
type AnthropicClient struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
}

// NewAnthropicClient creates an Anthropic adapter, filling defaults from the
// environment where config fields are empty.
func NewAnthropicClient(config AnthropicConfig) *AnthropicClient {
	if config.APIKey == "" {
		config.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if config.Endpoint == "" {
		if env := os.Getenv("ANTHROPIC_API_ENDPOINT"); env != "" {
			config.Endpoint = env
		} else {
			config.Endpoint = DefaultAnthropicEndpoint
		}
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultAnthropicTimeout
	}
	return &AnthropicClient{
		apiKey:     config.APIKey,
		endpoint:   config.Endpoint,
		httpClient: &http.Client{Timeout: config.Timeout},
	}
}

// Name returns the provider key.
func (c *AnthropicClient) Name() string { return "anthropic" }

type anthropicRequest struct {
	Model       string    `json:"model"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Chat sends a completion request to Anthropic. System messages are lifted
// into the top-level system field; the messages API rejects them inline.
func (c *AnthropicClient) Chat(ctx context.Context, req Request) (*Response, error) {
	apiReq := anthropicRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if apiReq.MaxTokens == 0 {
		apiReq.MaxTokens = 4096
	}
	var systemParts []string
	for _, m := range req.Messages {
		if m.Role == "system" {
			systemParts = append(systemParts, m.Content)
			continue
		}
		apiReq.Messages = append(apiReq.Messages, m)
	}
	apiReq.System = strings.Join(systemParts, "\n\n")

	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("anthropic: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError("anthropic", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, classifyTransportError("anthropic", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, classifyHTTPError("anthropic", httpResp.StatusCode, string(respBody))
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("anthropic: decode response: %w", err)
	}

	var text strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	usage := models.UsageCall{
		PromptTokens:     parsed.Usage.InputTokens,
		CompletionTokens: parsed.Usage.OutputTokens,
		TotalTokens:      parsed.Usage.InputTokens + parsed.Usage.OutputTokens,
		CostUSD:          anthropicCost(req.Model, parsed.Usage.InputTokens, parsed.Usage.OutputTokens),
		Provider:         "anthropic",
		Model:            req.Model,
	}
	return &Response{Content: text.String(), Usage: usage}, nil
}

func anthropicCost(model string, inputTokens, outputTokens int) float64 {
	price, ok := anthropicPricing[model]
	if !ok {
		price = anthropicPricing["default"]
	}
	return float64(inputTokens)/1000*price.in + float64(outputTokens)/1000*price.out
}
