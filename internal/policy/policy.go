// Package policy intercepts well-known intents before the model is consulted.
//
// Rules are pure: they read an Input and describe a Decision. Applying the
// decision (running a tool, writing context, clearing a session) is the
// caller's job.
package policy

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/helenomaffra-crypto/Chat-IA2-Independente-sub000/internal/observability"
	"github.com/helenomaffra-crypto/Chat-IA2-Independente-sub000/pkg/models"
)

// Input is everything a rule may look at.
type Input struct {
	Utterance  string
	Normalized string
	Now        time.Time
	Context    []models.ContextEntry
	Pending    []models.PendingIntent
}

// NewInput builds an Input, normalizing the utterance.
func NewInput(utterance string, now time.Time, entries []models.ContextEntry, pending []models.PendingIntent) Input {
	return Input{
		Utterance:  utterance,
		Normalized: Normalize(utterance),
		Now:        now,
		Context:    entries,
		Pending:    pending,
	}
}

// latestContext returns the most recently updated entry of kind.
func (in Input) latestContext(kind string) (models.ContextEntry, bool) {
	var best models.ContextEntry
	found := false
	for _, e := range in.Context {
		if e.Kind != kind {
			continue
		}
		if !found || e.UpdatedAt.After(best.UpdatedAt) {
			best = e
			found = true
		}
	}
	return best, found
}

// ContextUpdate asks the caller to persist a context entry.
type ContextUpdate struct {
	Kind  string
	Key   string
	Value string
	TTL   time.Duration
}

// Decision is the action a matching rule requests.
type Decision struct {
	// RuleID is set by the engine.
	RuleID string

	// Invocation runs a tool directly, skipping the model.
	Invocation *models.ToolInvocation

	// ContextUpdate opens or refreshes a context window.
	ContextUpdate *ContextUpdate

	// ClearContext wipes the session's context and pending intents.
	ClearContext bool

	// CancelIntent names the action type whose pending intent is cancelled.
	CancelIntent string

	// Refine asks the model to rewrite the tool text.
	Refine bool

	// Mode is the active response mode, if any.
	Mode string

	// Reply is a fixed acknowledgement for decisions that produce no tool text.
	Reply string
}

// Rule is one deterministic intent detector.
type Rule interface {
	ID() string
	// Priority orders evaluation; higher runs first.
	Priority() int
	Match(in Input) (Decision, bool)
}

// Engine evaluates rules in priority order; the first match wins.
type Engine struct {
	rules  []Rule
	mode   *ModeWindowRule
	logger *observability.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

func WithLogger(l *observability.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// NewEngine sorts rules by descending priority. Ties keep registration order.
func NewEngine(rules []Rule, opts ...EngineOption) *Engine {
	sorted := append([]Rule(nil), rules...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority() > sorted[j].Priority()
	})

	e := &Engine{rules: sorted}
	for _, r := range sorted {
		if m, ok := r.(*ModeWindowRule); ok && e.mode == nil {
			e.mode = m
		}
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Rules returns the rules in evaluation order.
func (e *Engine) Rules() []Rule {
	return append([]Rule(nil), e.rules...)
}

// Decide returns the first matching rule's decision. A panicking rule counts
// as no match.
func (e *Engine) Decide(ctx context.Context, in Input) (Decision, bool) {
	if in.Normalized == "" && in.Utterance != "" {
		in.Normalized = Normalize(in.Utterance)
	}
	for _, rule := range e.rules {
		decision, ok, err := e.safeMatch(rule, in)
		if err != nil {
			e.logger.Warn(ctx, "policy rule failed", "rule", rule.ID(), "error", err)
			continue
		}
		if !ok {
			continue
		}
		decision.RuleID = rule.ID()
		if decision.Mode == "" {
			if mode, active := e.ActiveMode(in); active {
				decision.Mode = mode
			}
		}
		e.logger.Debug(ctx, "policy rule matched", "rule", rule.ID())
		return decision, true
	}
	return Decision{}, false
}

func (e *Engine) safeMatch(rule Rule, in Input) (d Decision, ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			d, ok, err = Decision{}, false, fmt.Errorf("panic: %v", r)
		}
	}()
	d, ok = rule.Match(in)
	return d, ok, nil
}

// ActiveMode reports the mode whose window is open, unless the utterance is
// operational vocabulary the mode must never apply to.
func (e *Engine) ActiveMode(in Input) (string, bool) {
	if e.mode == nil {
		return "", false
	}
	if in.Normalized == "" && in.Utterance != "" {
		in.Normalized = Normalize(in.Utterance)
	}
	return e.mode.Active(in)
}
