package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tenant_gateway/internal/config"
	"tenant_gateway/internal/models"
)

const (
	openAIDefaultBaseURL = "https://api.openai.com/v1"
	openAITimeout        = 60 * time.Second
)

// OpenAIProvider talks to any OpenAI-compatible HTTP API
type OpenAIProvider struct {
	name    string
	apiKey  string
	client  *http.Client
	baseURL string
}

// NewOpenAIProvider creates a new OpenAI provider instance
func NewOpenAIProvider(cfg config.ProviderConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api_key is required for OpenAI provider %q", cfg.Name)
	}

	baseURL := openAIDefaultBaseURL
	if cfg.BaseURL != "" {
		baseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	timeout := openAITimeout
	if cfg.Timeout > 0 {
		timeout = cfg.Timeout
	}

	client := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &OpenAIProvider{
		name:    cfg.Name,
		apiKey:  cfg.APIKey,
		client:  client,
		baseURL: baseURL,
	}, nil
}

// Name returns the provider name
func (p *OpenAIProvider) Name() string {
	return p.name
}

// Type returns the provider type
func (p *OpenAIProvider) Type() string {
	return "openai"
}

// Chat sends a chat completion or embeddings request
func (p *OpenAIProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	start := time.Now()

	body := make(map[string]any, len(req.Payload)+1)
	for k, v := range req.Payload {
		body[k] = v
	}
	body["model"] = req.Model
	delete(body, "stream")

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	path := "/chat/completions"
	if req.Endpoint == EndpointEmbeddings {
		path = "/embeddings"
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	out := &ChatResponse{
		StatusCode:      resp.StatusCode,
		Body:            respBody,
		ProviderLatency: time.Since(start),
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		out.Content, out.Usage = parseOpenAIResponse(req.Endpoint, respBody)
	}
	return out, nil
}

// Close cleans up resources
func (p *OpenAIProvider) Close() error {
	p.client.CloseIdleConnections()
	return nil
}

// parseOpenAIResponse extracts the reply text and token usage. Embeddings
// have no text, so their content is the raw vector list.
func parseOpenAIResponse(endpoint Endpoint, body []byte) (string, models.Usage) {
	var response struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			Text string `json:"text"`
		} `json:"choices"`
		Data []struct {
			Embedding json.RawMessage `json:"embedding"`
		} `json:"data"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
			TotalTokens      int `json:"total_tokens"`
			// Responses API field names
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}

	if err := json.Unmarshal(body, &response); err != nil {
		return "", models.Usage{}
	}

	usage := models.Usage{
		PromptTokens:     response.Usage.PromptTokens,
		CompletionTokens: response.Usage.CompletionTokens,
		TotalTokens:      response.Usage.TotalTokens,
	}
	if usage.PromptTokens == 0 {
		usage.PromptTokens = response.Usage.InputTokens
	}
	if usage.CompletionTokens == 0 {
		usage.CompletionTokens = response.Usage.OutputTokens
	}
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}

	if endpoint == EndpointEmbeddings {
		if len(response.Data) == 0 || len(response.Data[0].Embedding) == 0 {
			return "", usage
		}
		return string(response.Data[0].Embedding), usage
	}

	if len(response.Choices) == 0 {
		return "", usage
	}
	content := response.Choices[0].Message.Content
	if content == "" {
		content = response.Choices[0].Text
	}
	return content, usage
}
