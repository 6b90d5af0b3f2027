package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/arbiterlabs/arbiter/pkg/models"
)

// Default OpenAI configuration values. Overridable via environment:
//   - OPENAI_API_KEY
//   - OPENAI_API_ENDPOINT
const (
	DefaultOpenAIEndpoint = "https://api.openai.com/v1/chat/completions"
	DefaultOpenAITimeout  = 120 * time.Second
)

// Per-1K-token prices used for cost accounting when the API does not
// report cost. Unknown models fall back to the "default" row.
var openAIPricing = map[string]struct{ in, out float64 }{
	"gpt-4o":      {0.0025, 0.01},
	"gpt-4o-mini": {0.00015, 0.0006},
	"gpt-4.1":     {0.002, 0.008},
	"o3-mini":     {0.0011, 0.0044},
	"default":     {0.002, 0.008},
}

// OpenAIConfig holds configuration for the OpenAI adapter.
type OpenAIConfig struct {
	APIKey   string
	Endpoint string
	Timeout  time.Duration
}

// OpenAIClient implements Provider against the chat completions API.
type OpenAIClient struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
}

// NewOpenAIClient creates an OpenAI adapter, filling defaults from the
// environment where config fields are empty.
func NewOpenAIClient(config OpenAIConfig) *OpenAIClient {
	if config.APIKey == "" {
		config.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if config.Endpoint == "" {
		if env := os.Getenv("OPENAI_API_ENDPOINT"); env != "" {
			config.Endpoint = env
		} else {
			config.Endpoint = DefaultOpenAIEndpoint
		}
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultOpenAITimeout
	}
	return &OpenAIClient{
		apiKey:     config.APIKey,
		endpoint:   config.Endpoint,
		httpClient: &http.Client{Timeout: config.Timeout},
	}
}

// Name returns the provider key.
func (c *OpenAIClient) Name() string { return "openai" }

type openAIRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type openAIResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Chat sends a completion request to OpenAI.
func (c *OpenAIClient) Chat(ctx context.Context, req Request) (*Response, error) {
	body, err := json.Marshal(openAIRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openai: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError("openai", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, classifyTransportError("openai", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, classifyHTTPError("openai", httpResp.StatusCode, string(respBody))
	}

	var parsed openAIResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("openai: decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("openai: response has no choices")
	}

	usage := models.UsageCall{
		PromptTokens:     parsed.Usage.PromptTokens,
		CompletionTokens: parsed.Usage.CompletionTokens,
		TotalTokens:      parsed.Usage.TotalTokens,
		CostUSD:          openAICost(req.Model, parsed.Usage.PromptTokens, parsed.Usage.CompletionTokens),
		Provider:         "openai",
		Model:            req.Model,
	}
	return &Response{Content: parsed.Choices[0].Message.Content, Usage: usage}, nil
}

func openAICost(model string, promptTokens, completionTokens int) float64 {
	price, ok := openAIPricing[model]
	if !ok {
		price = openAIPricing["default"]
	}
	return float64(promptTokens)/1000*price.in + float64(completionTokens)/1000*price.out
}
