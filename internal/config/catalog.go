package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied to catalog entries that leave a field out.
const (
	DefaultDailyTokenLimit   int64   = 1_000_000
	DefaultMonthlyCostLimit  float64 = 100.0
	DefaultDailyRequestLimit int64   = 10_000
	DefaultWarningThreshold  float64 = 0.8

	DefaultMaxRetry         = 3
	DefaultRetryInterval    = time.Second
	DefaultMaxRetryInterval = 30 * time.Second
	DefaultBackoffFactor    = 2.0
)

var (
	DefaultRetryableStatus = []int{429, 500, 502, 503, 504}
	DefaultAbortStatus     = []int{400}
)

// Catalog is the parsed tenants/providers/model-sets file.
type Catalog struct {
	Tenants   []TenantQuotaConfig `yaml:"tenants"`
	Providers []ProviderConfig    `yaml:"providers"`
	ModelSets []ModelSetConfig    `yaml:"model_sets"`
}

// TenantQuotaConfig holds the limits of one tenant. A negative limit disables that dimension.
type TenantQuotaConfig struct {
	TenantID          string  `yaml:"id"`
	DailyTokenLimit   int64   `yaml:"daily_token_limit"`
	MonthlyCostLimit  float64 `yaml:"monthly_cost_limit"`
	DailyRequestLimit int64   `yaml:"daily_request_limit"`
	WarningThreshold  float64 `yaml:"warning_threshold"`
}

// DefaultTenantQuota returns the limits used when a tenant entry omits them
func DefaultTenantQuota(tenantID string) TenantQuotaConfig {
	return TenantQuotaConfig{
		TenantID:          tenantID,
		DailyTokenLimit:   DefaultDailyTokenLimit,
		MonthlyCostLimit:  DefaultMonthlyCostLimit,
		DailyRequestLimit: DefaultDailyRequestLimit,
		WarningThreshold:  DefaultWarningThreshold,
	}
}

// UnmarshalYAML fills omitted fields with defaults
func (t *TenantQuotaConfig) UnmarshalYAML(value *yaml.Node) error {
	type raw TenantQuotaConfig
	r := raw(DefaultTenantQuota(""))
	if err := value.Decode(&r); err != nil {
		return err
	}
	*t = TenantQuotaConfig(r)
	return nil
}

// ProviderConfig describes one upstream API endpoint.
type ProviderConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
	TimeoutRaw string `yaml:"timeout"`

	// Breaker trips after this many consecutive failures; 0 disables it.
	BreakerFailures int    `yaml:"breaker_failures"`
	BreakerOpenRaw  string `yaml:"breaker_open_timeout"`

	Timeout     time.Duration `yaml:"-"`
	BreakerOpen time.Duration `yaml:"-"`
}

// ModelSetConfig is an ordered set of interchangeable candidates.
type ModelSetConfig struct {
	Name        string                 `yaml:"name"`
	RequestType string                 `yaml:"request_type"`
	Models      []ModelCandidateConfig `yaml:"models"`
}

// ModelCandidateConfig is one backend model a request may be served by.
type ModelCandidateConfig struct {
	Name          string      `yaml:"name"`
	Provider      string      `yaml:"provider"`
	UpstreamModel string      `yaml:"model"`
	PriceIn       float64     `yaml:"price_in"`
	PriceOut      float64     `yaml:"price_out"`
	Retry         RetryPolicy `yaml:"retry"`

	// RequestType is copied from the enclosing model set
	RequestType string `yaml:"-"`
}

// UpstreamName is the model identifier sent to the provider
func (m ModelCandidateConfig) UpstreamName() string {
	if m.UpstreamModel != "" {
		return m.UpstreamModel
	}
	return m.Name
}

// RetryPolicy bounds retries of a single model. MaxAttempts counts every call,
// the first one included.
type RetryPolicy struct {
	MaxAttempts      int     `yaml:"max_retry"`
	IntervalRaw      string  `yaml:"retry_interval"`
	MaxIntervalRaw   string  `yaml:"max_retry_interval"`
	Multiplier       float64 `yaml:"backoff_multiplier"`
	RetryableStatus  []int   `yaml:"retryable_status"`
	AbortStatus      []int   `yaml:"abort_status"`
	RetryEmptyResult bool    `yaml:"retry_empty_result"`

	Interval    time.Duration `yaml:"-"`
	MaxInterval time.Duration `yaml:"-"`
}

// DefaultRetryPolicy returns the policy applied when a model omits one
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:      DefaultMaxRetry,
		Multiplier:       DefaultBackoffFactor,
		RetryableStatus:  append([]int(nil), DefaultRetryableStatus...),
		AbortStatus:      append([]int(nil), DefaultAbortStatus...),
		RetryEmptyResult: true,
		Interval:         DefaultRetryInterval,
		MaxInterval:      DefaultMaxRetryInterval,
	}
}

// UnmarshalYAML fills omitted fields with defaults
func (p *RetryPolicy) UnmarshalYAML(value *yaml.Node) error {
	type raw RetryPolicy
	r := raw(DefaultRetryPolicy())
	if err := value.Decode(&r); err != nil {
		return err
	}
	*p = RetryPolicy(r)
	return nil
}

// UnmarshalYAML gives candidates without a retry block the default policy
func (m *ModelCandidateConfig) UnmarshalYAML(value *yaml.Node) error {
	type raw ModelCandidateConfig
	r := raw{Retry: DefaultRetryPolicy()}
	if err := value.Decode(&r); err != nil {
		return err
	}
	*m = ModelCandidateConfig(r)
	return nil
}

// Backoff returns the wait before the given retry (1-based)
func (p RetryPolicy) Backoff(retry int) time.Duration {
	if retry < 1 || p.Interval <= 0 {
		return 0
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.Interval)
	for i := 1; i < retry; i++ {
		d *= mult
		if p.MaxInterval > 0 && d >= float64(p.MaxInterval) {
			return p.MaxInterval
		}
	}
	if p.MaxInterval > 0 && time.Duration(d) > p.MaxInterval {
		return p.MaxInterval
	}
	return time.Duration(d)
}

// IsRetryable reports whether a status code may be retried on the same model
func (p RetryPolicy) IsRetryable(status int) bool {
	return containsInt(p.RetryableStatus, status)
}

// IsAbort reports whether a status code stops retries on the same model
func (p RetryPolicy) IsAbort(status int) bool {
	return containsInt(p.AbortStatus, status)
}

func containsInt(list []int, v int) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// LoadCatalog reads a catalog file. Environment variables in the format
// ${VAR_NAME} are expanded before parsing.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog file: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog parses, normalizes and validates raw catalog YAML
func ParseCatalog(data []byte) (*Catalog, error) {
	expanded := expandEnvVars(string(data))

	var cat Catalog
	if err := yaml.Unmarshal([]byte(expanded), &cat); err != nil {
		return nil, fmt.Errorf("parsing catalog file: %w", err)
	}

	if err := parseDurations(&cat); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	for i := range cat.ModelSets {
		set := &cat.ModelSets[i]
		if set.RequestType == "" {
			set.RequestType = "response"
		}
		for j := range set.Models {
			set.Models[j].RequestType = set.RequestType
		}
	}

	if err := cat.Validate(); err != nil {
		return nil, fmt.Errorf("validating catalog: %w", err)
	}

	return &cat, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} with the variable's value, or "" when unset.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func parseDurations(cat *Catalog) error {
	var err error

	for i := range cat.Providers {
		p := &cat.Providers[i]
		if p.TimeoutRaw != "" {
			if p.Timeout, err = time.ParseDuration(p.TimeoutRaw); err != nil {
				return fmt.Errorf("provider %q timeout %q: %w", p.Name, p.TimeoutRaw, err)
			}
		}
		if p.BreakerOpenRaw != "" {
			if p.BreakerOpen, err = time.ParseDuration(p.BreakerOpenRaw); err != nil {
				return fmt.Errorf("provider %q breaker_open_timeout %q: %w", p.Name, p.BreakerOpenRaw, err)
			}
		}
	}

	for i := range cat.ModelSets {
		set := &cat.ModelSets[i]
		for j := range set.Models {
			r := &set.Models[j].Retry
			if r.IntervalRaw != "" {
				if r.Interval, err = time.ParseDuration(r.IntervalRaw); err != nil {
					return fmt.Errorf("model %q retry_interval %q: %w", set.Models[j].Name, r.IntervalRaw, err)
				}
			}
			if r.MaxIntervalRaw != "" {
				if r.MaxInterval, err = time.ParseDuration(r.MaxIntervalRaw); err != nil {
					return fmt.Errorf("model %q max_retry_interval %q: %w", set.Models[j].Name, r.MaxIntervalRaw, err)
				}
			}
		}
	}

	return nil
}

// Validate returns the first problem found in the catalog.
func (c *Catalog) Validate() error {
	tenants := make(map[string]bool, len(c.Tenants))
	for _, t := range c.Tenants {
		if t.TenantID == "" {
			return fmt.Errorf("tenant id is required")
		}
		if tenants[t.TenantID] {
			return fmt.Errorf("duplicate tenant %q", t.TenantID)
		}
		tenants[t.TenantID] = true
		if t.WarningThreshold <= 0 || t.WarningThreshold > 1 {
			return fmt.Errorf("tenant %q warning_threshold must be in (0,1], got %v", t.TenantID, t.WarningThreshold)
		}
	}

	providers := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("provider name is required")
		}
		if providers[p.Name] {
			return fmt.Errorf("duplicate provider %q", p.Name)
		}
		providers[p.Name] = true
		if p.Type != "openai" {
			return fmt.Errorf("provider %q has unsupported type %q", p.Name, p.Type)
		}
		if p.BreakerFailures < 0 {
			return fmt.Errorf("provider %q breaker_failures must not be negative", p.Name)
		}
	}

	sets := make(map[string]bool, len(c.ModelSets))
	for _, set := range c.ModelSets {
		if set.Name == "" {
			return fmt.Errorf("model set name is required")
		}
		if sets[set.Name] {
			return fmt.Errorf("duplicate model set %q", set.Name)
		}
		sets[set.Name] = true
		if len(set.Models) == 0 {
			return fmt.Errorf("model set %q has no models", set.Name)
		}

		models := make(map[string]bool, len(set.Models))
		for _, m := range set.Models {
			if m.Name == "" {
				return fmt.Errorf("model set %q: model name is required", set.Name)
			}
			if models[m.Name] {
				return fmt.Errorf("model set %q: duplicate model %q", set.Name, m.Name)
			}
			models[m.Name] = true
			if !providers[m.Provider] {
				return fmt.Errorf("model %q references unknown provider %q", m.Name, m.Provider)
			}
			if m.PriceIn < 0 || m.PriceOut < 0 {
				return fmt.Errorf("model %q has a negative price", m.Name)
			}
			if m.Retry.MaxAttempts < 0 {
				return fmt.Errorf("model %q max_retry must not be negative", m.Name)
			}
		}
	}

	return nil
}

// ModelSet looks a set up by name
func (c *Catalog) ModelSet(name string) (ModelSetConfig, bool) {
	for _, set := range c.ModelSets {
		if set.Name == name {
			return set, true
		}
	}
	return ModelSetConfig{}, false
}

// DefaultModelSet returns the first set declared for a request type
func (c *Catalog) DefaultModelSet(requestType string) (ModelSetConfig, bool) {
	for _, set := range c.ModelSets {
		if set.RequestType == requestType {
			return set, true
		}
	}
	return ModelSetConfig{}, false
}
