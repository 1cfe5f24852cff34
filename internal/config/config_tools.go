package config

import "time"

type ToolsConfig struct {
	// MaxCatalog caps the tools offered to the model per request.
	MaxCatalog int `yaml:"max_catalog" validate:"gte=0"`

	// Timeout bounds each tool call. Timeouts overrides it per tool name.
	Timeout  time.Duration            `yaml:"timeout" validate:"gte=0"`
	Timeouts map[string]time.Duration `yaml:"timeouts" validate:"dive,gte=0"`

	// IntentTTL is how long a proposed action waits for confirmation.
	IntentTTL time.Duration `yaml:"intent_ttl" validate:"gte=0"`
}

func (c *ToolsConfig) applyDefaults() {
	if c.MaxCatalog == 0 {
		c.MaxCatalog = 32
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.IntentTTL == 0 {
		c.IntentTTL = 10 * time.Minute
	}
}

// PolicyConfig overrides the vocabularies of the deterministic rules. Empty
// lists keep the built-in vocabulary.
type PolicyConfig struct {
	ModeWindowTTL  time.Duration     `yaml:"mode_window_ttl" validate:"gte=0"`
	ClearPhrases   []string          `yaml:"clear_phrases"`
	CancelPhrases  []string          `yaml:"cancel_phrases"`
	RefineWords    []string          `yaml:"refine_words"`
	ModeTriggers   map[string]string `yaml:"mode_triggers" validate:"dive,oneof=strict verbose concise"`
	ModeExclusions []string          `yaml:"mode_exclusions"`
}

func (c *PolicyConfig) applyDefaults() {
	if c.ModeWindowTTL == 0 {
		c.ModeWindowTTL = 30 * time.Minute
	}
}

// ConversationConfig tunes the turn controller. Empty texts use the built-in ones.
type ConversationConfig struct {
	SystemPrompt         string `yaml:"system_prompt"`
	FallbackText         string `yaml:"fallback_text"`
	NothingToConfirmText string `yaml:"nothing_to_confirm_text"`
	RateLimitedText      string `yaml:"rate_limited_text"`

	MaxHistory int `yaml:"max_history" validate:"gte=0"`

	// RateLimit is turns per second per session; zero disables limiting.
	RateLimit float64 `yaml:"rate_limit" validate:"gte=0"`
	RateBurst int     `yaml:"rate_burst" validate:"gte=0"`
}

func (c *ConversationConfig) applyDefaults() {
	if c.MaxHistory == 0 {
		c.MaxHistory = 20
	}
	if c.RateBurst == 0 {
		c.RateBurst = 5
	}
}
