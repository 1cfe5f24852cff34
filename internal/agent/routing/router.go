package routing

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/helenomaffra-crypto/Chat-IA2-Independente-sub000/internal/agent"
	"github.com/helenomaffra-crypto/Chat-IA2-Independente-sub000/internal/agent/providers"
	"github.com/helenomaffra-crypto/Chat-IA2-Independente-sub000/internal/observability"
	"github.com/helenomaffra-crypto/Chat-IA2-Independente-sub000/pkg/models"
)

// Timeout floors per profile. A configured timeout below the floor is raised.
var timeoutFloors = map[Profile]time.Duration{
	ProfileDefault:    20 * time.Second,
	ProfileAnalytical: 60 * time.Second,
	ProfileKnowledge:  45 * time.Second,
}

// maxAttempts is the first request plus the alternate-shape retry.
const maxAttempts = 2

// ProfileConfig selects the provider and sampling parameters of a profile.
type ProfileConfig struct {
	Provider    string
	Model       string
	Temperature *float64
	Timeout     time.Duration
	MaxTokens   int
}

// Config configures a Router.
type Config struct {
	DefaultProvider string
	Profiles        map[Profile]ProfileConfig

	// MaxCatalog caps the tools sent per request. Zero or less is unlimited.
	MaxCatalog int

	Classifier *Classifier
}

// Request is a single model request as the conversation layer sees it.
type Request struct {
	System  string
	User    string
	History []agent.CompletionMessage
	Tools   []agent.Tool

	// Profile pins the profile. Empty lets the classifier decide.
	Profile Profile

	// Temperature overrides the profile temperature.
	Temperature *float64

	ToolChoice string
}

// Router selects a profile and provider for each request, bounds it with a
// timeout and recovers once from request-shape incompatibility.
type Router struct {
	defaultProvider string
	providers       map[string]agent.LLMProvider
	profiles        map[Profile]ProfileConfig
	maxCatalog      int
	classifier      *Classifier

	logger  *slog.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
}

// Option configures a Router.
type Option func(*Router)

func WithLogger(l *slog.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

func WithMetrics(m *observability.Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

func WithTracer(t *observability.Tracer) Option {
	return func(r *Router) { r.tracer = t }
}

// NewRouter creates a new Router.
func NewRouter(cfg Config, providerSet map[string]agent.LLMProvider, opts ...Option) *Router {
	classifier := cfg.Classifier
	if classifier == nil {
		classifier = NewClassifier()
	}

	registered := make(map[string]agent.LLMProvider, len(providerSet))
	for name, p := range providerSet {
		if n := normalizeID(name); n != "" && p != nil {
			registered[n] = p
		}
	}

	profiles := make(map[Profile]ProfileConfig, len(cfg.Profiles))
	for name, pc := range cfg.Profiles {
		profiles[name] = pc
	}

	r := &Router{
		defaultProvider: normalizeID(cfg.DefaultProvider),
		providers:       registered,
		profiles:        profiles,
		maxCatalog:      cfg.MaxCatalog,
		classifier:      classifier,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Classify exposes the router's classifier.
func (r *Router) Classify(utterance string) Profile {
	return r.classifier.Classify(utterance)
}

// Timeout returns the effective timeout of a profile.
func (r *Router) Timeout(profile Profile) time.Duration {
	return effectiveTimeout(profile, r.profiles[profile])
}

func effectiveTimeout(profile Profile, pc ProfileConfig) time.Duration {
	floor, ok := timeoutFloors[profile]
	if !ok {
		floor = timeoutFloors[ProfileDefault]
	}
	return max(pc.Timeout, floor)
}

// plan is a resolved request, ready to dispatch.
type plan struct {
	profile  Profile
	provider agent.LLMProvider
	timeout  time.Duration
	request  agent.CompletionRequest
}

func (r *Router) resolve(req Request) (*plan, error) {
	profile := req.Profile
	if profile == "" {
		profile = r.classifier.Classify(req.User)
	}
	if !profile.Valid() {
		return nil, errInvalidRequest(fmt.Sprintf("unknown profile %q", profile))
	}

	pc, ok := r.profiles[profile]
	if !ok {
		pc = r.profiles[ProfileDefault]
	}

	provider := r.lookupProvider(pc.Provider)
	if provider == nil {
		provider = r.lookupProvider(r.defaultProvider)
	}
	if provider == nil {
		return nil, errInvalidRequest("no providers configured")
	}

	tools := r.catalog(req.Tools)
	if len(tools) > 0 && !provider.SupportsTools() {
		provider = r.findToolProvider()
		if provider == nil {
			return nil, errInvalidRequest("no tool-capable providers available")
		}
		pc.Model = ""
	}

	temperature := pc.Temperature
	if req.Temperature != nil {
		temperature = req.Temperature
	}

	messages := make([]agent.CompletionMessage, 0, len(req.History)+1)
	messages = append(messages, req.History...)
	if strings.TrimSpace(req.User) != "" {
		messages = append(messages, agent.CompletionMessage{Role: string(models.RoleUser), Content: req.User})
	}

	return &plan{
		profile:  profile,
		provider: provider,
		timeout:  effectiveTimeout(profile, pc),
		request: agent.CompletionRequest{
			Model:       pc.Model,
			System:      req.System,
			Messages:    messages,
			Tools:       tools,
			ToolChoice:  req.ToolChoice,
			Temperature: temperature,
			MaxTokens:   pc.MaxTokens,
			Shape:       agent.ShapeStandard,
		},
	}, nil
}

// catalog orders the tools and drops the tail beyond MaxCatalog.
func (r *Router) catalog(tools []agent.Tool) []agent.Tool {
	if len(tools) == 0 {
		return nil
	}
	ordered := append([]agent.Tool(nil), tools...)
	agent.SortCatalog(ordered)
	kept, dropped := agent.TruncateCatalog(ordered, r.maxCatalog)
	if len(dropped) > 0 {
		r.logger.Warn("tool catalog truncated",
			"max_catalog", r.maxCatalog,
			"dropped_count", len(dropped),
			"dropped", dropped,
		)
		r.metrics.RecordCatalogDrop(len(dropped))
	}
	return kept
}

// Complete sends the request and collects the full response.
func (r *Router) Complete(ctx context.Context, req Request) (*agent.ModelResponse, error) {
	p, err := r.resolve(req)
	if err != nil {
		return nil, err
	}
	return r.run(ctx, p, nil)
}

// Stream sends the request and forwards text deltas as they arrive. The
// channel ends with one Done chunk carrying every tool call, or one Error chunk.
func (r *Router) Stream(ctx context.Context, req Request) (<-chan *agent.CompletionChunk, error) {
	p, err := r.resolve(req)
	if err != nil {
		return nil, err
	}

	out := make(chan *agent.CompletionChunk, 8)
	go func() {
		defer close(out)
		defer func() {
			if rec := recover(); rec != nil {
				out <- &agent.CompletionChunk{Error: fmt.Errorf("routing: stream panic: %v", rec)}
			}
		}()

		resp, err := r.run(ctx, p, func(text string) {
			select {
			case out <- &agent.CompletionChunk{Text: text}:
			case <-ctx.Done():
			}
		})
		if err != nil {
			out <- &agent.CompletionChunk{Error: err}
			return
		}
		out <- &agent.CompletionChunk{
			Done:         true,
			ToolCalls:    resp.ToolCalls,
			InputTokens:  resp.InputTokens,
			OutputTokens: resp.OutputTokens,
		}
	}()
	return out, nil
}

func (r *Router) run(ctx context.Context, p *plan, onText func(string)) (*agent.ModelResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	ctx, span := r.tracer.Start(ctx, "router.complete",
		attribute.String("profile", string(p.profile)),
		attribute.String("provider", p.provider.Name()),
		attribute.Int("tools", len(p.request.Tools)),
	)
	defer span.End()

	req := p.request
	for attempt := 1; ; attempt++ {
		start := time.Now()
		result, err := r.attempt(ctx, p.provider, &req, onText)
		status := "success"
		if err != nil {
			status = string(providers.ReasonOf(err))
		}
		r.metrics.RecordLLMRequest(p.provider.Name(), req.Model, status, time.Since(start))

		if err == nil {
			result.Provider = p.provider.Name()
			result.Model = req.Model
			result.Profile = string(p.profile)
			result.Attempts = attempt
			r.metrics.RecordTokens(p.provider.Name(), req.Model, result.InputTokens, result.OutputTokens)
			span.SetAttributes(attribute.Int("attempts", attempt))
			return &result.ModelResponse, nil
		}

		if attempt < maxAttempts && !result.emitted && providers.IsParamIncompatible(err) {
			r.logger.Info("retrying with alternate request shape",
				"provider", p.provider.Name(),
				"model", req.Model,
				"from", req.Shape.String(),
				"to", req.Shape.Alternate().String(),
				"error", err,
			)
			r.metrics.RecordLLMRetry(p.provider.Name(), string(providers.FailoverParamIncompatible))
			req.Shape = req.Shape.Alternate()
			continue
		}

		observability.RecordSpanError(span, err)
		return nil, err
	}
}

type attemptResult struct {
	agent.ModelResponse
	emitted bool
}

// attempt runs one provider call to completion. emitted reports whether any
// text reached onText, after which a retry would duplicate output.
func (r *Router) attempt(ctx context.Context, provider agent.LLMProvider, req *agent.CompletionRequest, onText func(string)) (res attemptResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = providers.NewProviderError(provider.Name(), req.Model, fmt.Errorf("provider panic: %v", rec))
		}
	}()

	chunks, err := provider.Complete(ctx, req)
	if err != nil {
		return res, err
	}
	defer func() {
		go drain(chunks)
	}()

	var text strings.Builder
	var calls []models.ToolCall
	for {
		select {
		case <-ctx.Done():
			return res, providers.NewProviderError(provider.Name(), req.Model, ctx.Err())
		case chunk, ok := <-chunks:
			if !ok {
				return res, providers.NewProviderError(provider.Name(), req.Model, fmt.Errorf("malformed stream: closed without done"))
			}
			if chunk == nil {
				continue
			}
			if chunk.Error != nil {
				return res, chunk.Error
			}
			if chunk.Text != "" {
				text.WriteString(chunk.Text)
				if onText != nil {
					onText(chunk.Text)
					res.emitted = true
				}
			}
			if chunk.ToolCall != nil {
				calls = append(calls, *chunk.ToolCall)
			}
			if chunk.Done {
				if len(calls) == 0 && len(chunk.ToolCalls) > 0 {
					calls = chunk.ToolCalls
				}
				res.Text = text.String()
				res.ToolCalls = calls
				res.InputTokens = chunk.InputTokens
				res.OutputTokens = chunk.OutputTokens
				return res, nil
			}
		}
	}
}

func drain(chunks <-chan *agent.CompletionChunk) {
	for range chunks {
	}
}

func (r *Router) lookupProvider(name string) agent.LLMProvider {
	name = normalizeID(name)
	if name == "" {
		return nil
	}
	return r.providers[name]
}

// findToolProvider returns the first tool-capable provider by name.
func (r *Router) findToolProvider() agent.LLMProvider {
	if p := r.lookupProvider(r.defaultProvider); p != nil && p.SupportsTools() {
		return p
	}
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if r.providers[name].SupportsTools() {
			return r.providers[name]
		}
	}
	return nil
}

func normalizeID(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func errInvalidRequest(msg string) error {
	return fmt.Errorf("routing: %s", msg)
}
