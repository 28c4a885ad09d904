package providers

import (
	"context"
	"fmt"
	"time"

	"tenant_gateway/internal/config"
	"tenant_gateway/internal/models"
)

// Endpoint selects the upstream operation
type Endpoint string

const (
	EndpointChat       Endpoint = "chat"
	EndpointEmbeddings Endpoint = "embeddings"
)

// ChatRequest represents a normalized internal request to a provider.
type ChatRequest struct {
	Model    string         // provider-specific model name
	Endpoint Endpoint       // chat or embeddings
	Payload  map[string]any // OpenAI-style payload as generic JSON
}

// ChatResponse is a normalized provider response. Non-2xx replies are
// returned as responses, not errors; only transport failures are errors.
type ChatResponse struct {
	StatusCode      int
	Body            []byte
	ProviderLatency time.Duration
	Content         string
	Usage           models.Usage
}

// Provider is implemented by each concrete upstream API.
type Provider interface {
	// Name returns the configured name of this provider instance
	Name() string

	// Type returns the provider type (openai, ...)
	Type() string

	// Chat sends a request to the provider
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// Close performs cleanup when the provider is no longer needed
	Close() error
}

// New creates a provider from catalog configuration
func New(cfg config.ProviderConfig) (Provider, error) {
	switch cfg.Type {
	case "openai":
		return NewOpenAIProvider(cfg)
	default:
		return nil, fmt.Errorf("unsupported provider type %q", cfg.Type)
	}
}
