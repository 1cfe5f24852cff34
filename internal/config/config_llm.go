package config

import (
	"fmt"
	"sort"
	"time"
)

// LLMConfig configures the model providers and the routing profiles.
type LLMConfig struct {
	DefaultProvider string                       `yaml:"default_provider" validate:"required"`
	Providers       map[string]LLMProviderConfig `yaml:"providers" validate:"dive,keys,oneof=anthropic openai google,endkeys"`

	// Profiles maps a routing profile (default, analytical, knowledge) to its
	// provider, model and limits.
	Profiles map[string]LLMProfileConfig `yaml:"profiles" validate:"dive,keys,oneof=default analytical knowledge,endkeys"`
}

type LLMProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	DefaultModel string `yaml:"default_model"`

	// BaseURL points at a compatible endpoint. Not used by google.
	BaseURL string `yaml:"base_url"`
}

// LLMProfileConfig tunes one routing profile. Empty Provider uses the default provider.
type LLMProfileConfig struct {
	Provider    string        `yaml:"provider"`
	Model       string        `yaml:"model"`
	Temperature *float64      `yaml:"temperature" validate:"omitempty,gte=0,lte=2"`
	Timeout     time.Duration `yaml:"timeout" validate:"gte=0"`
	MaxTokens   int           `yaml:"max_tokens" validate:"gte=0"`
}

var defaultProfileTimeouts = map[string]time.Duration{
	"default":    30 * time.Second,
	"analytical": 60 * time.Second,
	"knowledge":  45 * time.Second,
}

func (c *LLMConfig) applyDefaults() {
	if c.DefaultProvider == "" {
		c.DefaultProvider = "anthropic"
	}
	if c.Profiles == nil {
		c.Profiles = map[string]LLMProfileConfig{}
	}
	for name, timeout := range defaultProfileTimeouts {
		profile := c.Profiles[name]
		if profile.Timeout == 0 {
			profile.Timeout = timeout
		}
		c.Profiles[name] = profile
	}
}

func (c *LLMConfig) validate() []error {
	var errs []error
	if len(c.Providers) > 0 {
		if _, ok := c.Providers[c.DefaultProvider]; !ok {
			errs = append(errs, fmt.Errorf("llm.default_provider: %q is not configured under llm.providers", c.DefaultProvider))
		}
	}
	names := make([]string, 0, len(c.Profiles))
	for name := range c.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		provider := c.Profiles[name].Provider
		if provider == "" {
			continue
		}
		if _, ok := c.Providers[provider]; !ok {
			errs = append(errs, fmt.Errorf("llm.profiles.%s.provider: %q is not configured under llm.providers", name, provider))
		}
	}
	return errs
}
