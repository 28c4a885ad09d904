package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"tenant_gateway/internal/config"
	"tenant_gateway/internal/executor"
	"tenant_gateway/internal/utils"
)

const (
	defaultBreakerOpen = 30 * time.Second
	// maxErrorBody bounds the upstream body kept on a BackendError
	maxErrorBody = 1024
)

// Router dispatches model attempts to the provider named by each model
// candidate. It implements executor.Backend.
type Router struct {
	providers map[string]Provider
	settings  map[string]config.ProviderConfig

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker

	logger *utils.Logger
}

// NewRouter creates a router over already constructed providers. Provider
// configs are used for breaker settings and may be nil.
func NewRouter(providers []Provider, settings []config.ProviderConfig) *Router {
	r := &Router{
		providers: make(map[string]Provider, len(providers)),
		settings:  make(map[string]config.ProviderConfig, len(settings)),
		breakers:  make(map[string]*gobreaker.CircuitBreaker),
		logger:    utils.NewLogger("providers"),
	}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	for _, s := range settings {
		r.settings[s.Name] = s
	}
	return r
}

// NewRouterFromCatalog builds one provider per catalog entry
func NewRouterFromCatalog(cat *config.Catalog) (*Router, error) {
	providers := make([]Provider, 0, len(cat.Providers))
	for _, pc := range cat.Providers {
		p, err := New(pc)
		if err != nil {
			for _, created := range providers {
				created.Close()
			}
			return nil, fmt.Errorf("provider %s: %w", pc.Name, err)
		}
		providers = append(providers, p)
	}
	return NewRouter(providers, cat.Providers), nil
}

// Attempt performs one call of model through its provider
func (r *Router) Attempt(ctx context.Context, model config.ModelCandidateConfig, payload map[string]any) (*executor.Result, error) {
	provider, ok := r.providers[model.Provider]
	if !ok {
		return nil, fmt.Errorf("model %s: unknown provider %q", model.Name, model.Provider)
	}

	endpoint := EndpointChat
	if model.RequestType == "embedding" {
		endpoint = EndpointEmbeddings
	}
	req := ChatRequest{Model: model.UpstreamName(), Endpoint: endpoint, Payload: payload}

	cb := r.breaker(model.Name, model.Provider)
	if cb == nil {
		return r.call(ctx, provider, model.Name, req)
	}

	out, err := cb.Execute(func() (interface{}, error) {
		return r.call(ctx, provider, model.Name, req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, &executor.BackendError{
			Model: model.Name,
			Err:   fmt.Errorf("%w: circuit breaker %s", executor.ErrModelUnavailable, err),
		}
	}
	if err != nil {
		return nil, err
	}
	return out.(*executor.Result), nil
}

func (r *Router) call(ctx context.Context, provider Provider, modelName string, req ChatRequest) (*executor.Result, error) {
	resp, err := provider.Chat(ctx, req)
	if err != nil {
		return nil, &executor.BackendError{Model: modelName, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body := string(resp.Body)
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return nil, &executor.BackendError{Model: modelName, StatusCode: resp.StatusCode, Body: strings.TrimSpace(body)}
	}

	if resp.Content == "" {
		return nil, &executor.BackendError{Model: modelName, StatusCode: resp.StatusCode, Err: executor.ErrEmptyResponse}
	}

	return &executor.Result{
		Content:    resp.Content,
		Usage:      resp.Usage,
		Raw:        resp.Body,
		StatusCode: resp.StatusCode,
		Latency:    resp.ProviderLatency,
	}, nil
}

// breaker returns the breaker of a model, creating it on first use. Providers
// with breaker_failures of zero get no breaker.
func (r *Router) breaker(modelName, providerName string) *gobreaker.CircuitBreaker {
	settings := r.settings[providerName]
	if settings.BreakerFailures <= 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[modelName]; ok {
		return cb
	}

	open := settings.BreakerOpen
	if open <= 0 {
		open = defaultBreakerOpen
	}
	threshold := uint32(settings.BreakerFailures)
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        modelName,
		MaxRequests: 1,
		Timeout:     open,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// Client errors say nothing about the health of the model
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			code := executor.StatusCode(err)
			return code >= 400 && code < 500 && code != 429
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			r.logger.Warn("Circuit breaker state changed", "model", name, "from", from.String(), "to", to.String())
		},
	})
	r.breakers[modelName] = cb
	return cb
}

// BreakerStates reports the state of every breaker created so far
func (r *Router) BreakerStates() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()

	states := make(map[string]string, len(r.breakers))
	for name, cb := range r.breakers {
		states[name] = cb.State().String()
	}
	return states
}

// Close closes every provider
func (r *Router) Close() error {
	var errs []error
	for _, p := range r.providers {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
