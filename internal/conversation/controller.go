// Package conversation runs one user turn end to end: deterministic policy
// first, then pending-action confirmation, then the model and its tools.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/helenomaffra-crypto/Chat-IA2-Independente-sub000/internal/agent"
	"github.com/helenomaffra-crypto/Chat-IA2-Independente-sub000/internal/agent/routing"
	"github.com/helenomaffra-crypto/Chat-IA2-Independente-sub000/internal/observability"
	"github.com/helenomaffra-crypto/Chat-IA2-Independente-sub000/internal/policy"
	"github.com/helenomaffra-crypto/Chat-IA2-Independente-sub000/internal/sessions"
	"github.com/helenomaffra-crypto/Chat-IA2-Independente-sub000/pkg/models"
)

// ErrInvalidTurn is returned for turns without a session.
var ErrInvalidTurn = errors.New("conversation: turn has no session id")

// Response sources that do not come from tool results or model text.
const (
	SourcePolicyReply agent.ResponseSource = "policy_reply"
	SourceFallback    agent.ResponseSource = "fallback"
)

// Model is the part of the router the controller needs.
type Model interface {
	Complete(ctx context.Context, req routing.Request) (*agent.ModelResponse, error)
	Stream(ctx context.Context, req routing.Request) (<-chan *agent.CompletionChunk, error)
}

// Config tunes the controller.
type Config struct {
	SystemPrompt         string
	FallbackText         string
	NothingToConfirmText string
	RateLimitedText      string

	// MaxHistory caps the prior messages sent to the model. Zero sends none.
	MaxHistory int

	// IntentTTL applies to proposals that do not carry their own TTL.
	IntentTTL time.Duration

	// RateLimit is turns per second per session. Zero or less disables it.
	RateLimit float64
	RateBurst int

	// LimiterIdle drops the limiter of a session idle this long.
	LimiterIdle time.Duration
}

// DefaultConfig returns the shipped texts and limits.
func DefaultConfig() Config {
	return Config{
		SystemPrompt: "Você é um assistente operacional de comércio exterior. " +
			"Use as ferramentas disponíveis para consultar processos, vincular documentos, " +
			"criar declarações e enviar mensagens. Ações com efeito colateral sempre pedem confirmação do usuário.",
		FallbackText:         "Desculpe, não consegui processar sua solicitação agora. Tente novamente em instantes.",
		NothingToConfirmText: "Não há nenhuma ação pendente para confirmar.",
		RateLimitedText:      "Você está enviando mensagens rápido demais. Aguarde um instante e tente novamente.",
		MaxHistory:           20,
		IntentTTL:            10 * time.Minute,
		RateLimit:            2,
		RateBurst:            5,
		LimiterIdle:          30 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SystemPrompt == "" {
		c.SystemPrompt = d.SystemPrompt
	}
	if c.FallbackText == "" {
		c.FallbackText = d.FallbackText
	}
	if c.NothingToConfirmText == "" {
		c.NothingToConfirmText = d.NothingToConfirmText
	}
	if c.RateLimitedText == "" {
		c.RateLimitedText = d.RateLimitedText
	}
	if c.MaxHistory < 0 {
		c.MaxHistory = 0
	}
	if c.IntentTTL <= 0 {
		c.IntentTTL = d.IntentTTL
	}
	if c.RateBurst <= 0 {
		c.RateBurst = d.RateBurst
	}
	if c.LimiterIdle <= 0 {
		c.LimiterIdle = d.LimiterIdle
	}
	return c
}

// Deps are the services a Controller drives.
type Deps struct {
	Policy       *policy.Engine
	Store        sessions.Store
	Orchestrator *agent.Orchestrator
	Model        Model

	// Locker defaults to a LocalLocker.
	Locker sessions.Locker
}

// Response is the outcome of one turn.
type Response struct {
	TurnID    string
	SessionID string

	// Text is never empty.
	Text   string
	Source agent.ResponseSource
	Path   string
	Mode   string

	States   []State
	Results  []agent.InvocationResult
	Proposed []models.PendingIntent

	// Confirmed names the action type executed after a confirmation.
	Confirmed string

	// Fallback is set when the model failed or nothing produced text.
	Fallback bool

	Model   string
	Profile string
}

// Controller runs turns. Turns of one session are serialized by the Locker;
// different sessions run in parallel.
type Controller struct {
	policy       *policy.Engine
	store        sessions.Store
	orchestrator *agent.Orchestrator
	model        Model
	locker       sessions.Locker
	config       Config

	limMu    sync.Mutex
	limiters *cache.Cache
	limSwept time.Time

	now     func() time.Time
	events  agent.EventCallback
	logger  *observability.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
}

// Option configures a Controller.
type Option func(*Controller)

func WithLogger(l *observability.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithMetrics(m *observability.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

func WithTracer(t *observability.Tracer) Option {
	return func(c *Controller) { c.tracer = t }
}

// WithClock sets the time source used for policy windows, intent expiry and
// rate limiting.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// WithToolEvents receives the lifecycle events of every tool the controller runs.
func WithToolEvents(fn agent.EventCallback) Option {
	return func(c *Controller) { c.events = fn }
}

// New creates a Controller.
func New(deps Deps, cfg Config, opts ...Option) (*Controller, error) {
	switch {
	case deps.Policy == nil:
		return nil, errors.New("conversation: policy engine is required")
	case deps.Store == nil:
		return nil, errors.New("conversation: session store is required")
	case deps.Orchestrator == nil:
		return nil, errors.New("conversation: tool orchestrator is required")
	case deps.Model == nil:
		return nil, errors.New("conversation: model is required")
	}
	cfg = cfg.withDefaults()

	c := &Controller{
		policy:       deps.Policy,
		store:        deps.Store,
		orchestrator: deps.Orchestrator,
		model:        deps.Model,
		locker:       deps.Locker,
		config:       cfg,
		limiters:     cache.New(cfg.LimiterIdle, 0),
		now:          time.Now,
		logger:       observability.NopLogger(),
	}
	if c.locker == nil {
		c.locker = sessions.NewLocalLocker(0)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// turn is the working state of one HandleTurn call.
type turn struct {
	models.Turn

	now    time.Time
	span   trace.Span
	onText func(string)

	states  []State
	path    string
	mode    string
	entries []models.ContextEntry
	pending []models.PendingIntent

	results   []agent.InvocationResult
	proposed  []models.PendingIntent
	confirmed string

	refine    bool
	modelText string
	model     *agent.ModelResponse
	streamed  bool

	// reply is fixed text from a policy decision or the confirmation check.
	reply    string
	fallback bool
}

// HandleTurn runs one turn and returns its response.
func (c *Controller) HandleTurn(ctx context.Context, in models.Turn) (*Response, error) {
	return c.handle(ctx, in, nil)
}

// StreamTurn is HandleTurn with model text deltas delivered to onText as they
// arrive. When the final text did not come from the stream it is delivered
// with one more call.
func (c *Controller) StreamTurn(ctx context.Context, in models.Turn, onText func(string)) (*Response, error) {
	return c.handle(ctx, in, onText)
}

func (c *Controller) handle(ctx context.Context, in models.Turn, onText func(string)) (*Response, error) {
	if strings.TrimSpace(in.SessionID) == "" {
		return nil, ErrInvalidTurn
	}
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	start := time.Now()

	ctx = observability.AddSessionID(ctx, in.SessionID)
	ctx = observability.AddTurnID(ctx, in.ID)
	ctx, span := c.tracer.Start(ctx, "conversation.turn",
		attribute.String("session.id", in.SessionID),
		attribute.String("turn.id", in.ID),
	)
	defer span.End()

	tr := &turn{Turn: in, span: span, onText: onText}
	c.enter(ctx, tr, StateStart)

	if !c.allow(in.SessionID) {
		c.logger.Info(ctx, "turn rate limited")
		tr.path = PathRateLimited
		tr.reply = c.config.RateLimitedText
		return c.finish(ctx, tr, start), nil
	}

	if err := c.locker.Lock(ctx, in.SessionID); err != nil {
		observability.RecordSpanError(span, err)
		c.metrics.RecordError("conversation", "lock")
		return nil, fmt.Errorf("conversation: lock session: %w", err)
	}
	defer c.locker.Unlock(in.SessionID)

	tr.now = c.now()
	c.load(ctx, tr)

	c.enter(ctx, tr, StatePolicyCheck)
	input := policy.NewInput(tr.Utterance, tr.now, tr.entries, tr.pending)
	decision, matched := c.policy.Decide(ctx, input)
	if matched {
		tr.mode = decision.Mode
		span.SetAttributes(attribute.String("policy.rule", decision.RuleID))
	} else if mode, ok := c.policy.ActiveMode(input); ok {
		tr.mode = mode
	}

	switch {
	case matched && decision.ClearContext:
		c.clearContext(ctx, tr, decision)
	case matched && decision.CancelIntent != "":
		c.cancelIntent(ctx, tr, decision)
	case matched && decision.Invocation != nil:
		c.applyContextUpdate(ctx, tr, decision.ContextUpdate)
		c.directTool(ctx, tr, decision)
	default:
		if matched {
			c.applyContextUpdate(ctx, tr, decision.ContextUpdate)
			tr.reply = decision.Reply
		}
		if !c.confirmationCheck(ctx, tr) {
			tr.path = PathModel
			c.modelCall(ctx, tr, c.modelRequest(tr), true)
		}
	}

	return c.finish(ctx, tr, start), nil
}

func (c *Controller) enter(ctx context.Context, tr *turn, s State) {
	tr.states = append(tr.states, s)
	tr.span.AddEvent(string(s))
	c.metrics.RecordState(string(s))
	c.logger.Debug(ctx, "turn state", "state", string(s))
}

// allow applies the per-session rate limit.
func (c *Controller) allow(sessionID string) bool {
	if c.config.RateLimit <= 0 {
		return true
	}
	c.limMu.Lock()
	defer c.limMu.Unlock()

	// Idle limiters are dropped here instead of by a cache janitor goroutine.
	now := c.now()
	if now.Sub(c.limSwept) >= c.config.LimiterIdle {
		c.limiters.DeleteExpired()
		c.limSwept = now
	}

	var limiter *rate.Limiter
	if v, ok := c.limiters.Get(sessionID); ok {
		limiter = v.(*rate.Limiter)
	} else {
		limiter = rate.NewLimiter(rate.Limit(c.config.RateLimit), c.config.RateBurst)
	}
	c.limiters.SetDefault(sessionID, limiter)
	return limiter.AllowN(now, 1)
}

// load reads the session's context and live pending intents. Store failures
// degrade to an empty view; the turn still runs.
func (c *Controller) load(ctx context.Context, tr *turn) {
	entries, err := c.store.Get(ctx, tr.SessionID, "", "")
	if err != nil {
		c.logger.Warn(ctx, "load session context failed", "error", err)
		c.metrics.RecordError("conversation", "context_load")
	}
	pending, err := c.store.ListPending(ctx, tr.SessionID)
	if err != nil {
		c.logger.Warn(ctx, "load pending intents failed", "error", err)
		c.metrics.RecordError("conversation", "intent_load")
	}
	tr.entries = entries
	tr.pending = pending
}

func (c *Controller) clearContext(ctx context.Context, tr *turn, d policy.Decision) {
	tr.path = PathClearContext
	if err := c.store.ClearSession(ctx, tr.SessionID); err != nil {
		c.logger.Error(ctx, "clear session failed", "error", err)
		c.metrics.RecordError("conversation", "clear_session")
		tr.fallback = true
		return
	}
	for _, p := range tr.pending {
		c.metrics.RecordIntentTransition(p.ActionType, string(models.IntentCancelled))
	}
	tr.reply = d.Reply
	if tr.reply == "" {
		tr.reply = policy.ClearContextReply
	}
}

func (c *Controller) cancelIntent(ctx context.Context, tr *turn, d policy.Decision) {
	tr.path = PathCancel
	if err := c.store.Cancel(ctx, tr.SessionID, d.CancelIntent); err != nil {
		c.logger.Error(ctx, "cancel intent failed", "action_type", d.CancelIntent, "error", err)
		c.metrics.RecordError("conversation", "cancel_intent")
		tr.fallback = true
		return
	}
	c.metrics.RecordIntentTransition(d.CancelIntent, string(models.IntentCancelled))
	tr.reply = d.Reply
}

func (c *Controller) applyContextUpdate(ctx context.Context, tr *turn, u *policy.ContextUpdate) {
	if u == nil {
		return
	}
	entry := models.ContextEntry{SessionID: tr.SessionID, Kind: u.Kind, Key: u.Key, Value: u.Value}
	if err := c.store.Set(ctx, entry); err != nil {
		c.logger.Warn(ctx, "apply context update failed", "kind", u.Kind, "error", err)
		c.metrics.RecordError("conversation", "context_write")
	}
}

func (c *Controller) directTool(ctx context.Context, tr *turn, d policy.Decision) {
	c.enter(ctx, tr, StateDirectTool)
	tr.path = PathDirectTool

	inv := *d.Invocation
	inv.Source = models.SourcePolicy
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	c.execute(ctx, tr, []models.ToolInvocation{inv})

	if !d.Refine && !inv.Refine {
		return
	}
	tr.refine = true
	for _, r := range tr.results {
		if r.Invocation.Source == models.SourcePolicy && r.Result.Success() {
			c.modelCall(ctx, tr, c.refineRequest(tr, r.Result.Content), false)
			return
		}
	}
}

// confirmationCheck handles explicit confirmations and rejections. It reports
// whether the turn was answered.
func (c *Controller) confirmationCheck(ctx context.Context, tr *turn) bool {
	kind := ClassifyConfirmation(tr.Utterance)
	if kind == ConfirmationNone {
		return false
	}
	intent, found := policy.MostRecentPending(tr.pending, tr.now)
	if kind == ConfirmationReject && !found {
		return false
	}

	c.enter(ctx, tr, StateConfirmationCheck)
	tr.path = PathConfirmation

	if kind == ConfirmationReject {
		if err := c.store.Cancel(ctx, tr.SessionID, intent.ActionType); err != nil {
			c.logger.Error(ctx, "cancel intent failed", "action_type", intent.ActionType, "error", err)
			tr.fallback = true
			return true
		}
		c.metrics.RecordIntentTransition(intent.ActionType, string(models.IntentCancelled))
		tr.reply = "Ok, ação cancelada."
		if intent.Summary != "" {
			tr.reply = fmt.Sprintf("Ok, ação cancelada: %s", intent.Summary)
		}
		return true
	}

	if !found {
		tr.reply = c.config.NothingToConfirmText
		return true
	}

	payload, err := c.store.ConfirmAndConsume(ctx, tr.SessionID, intent.ActionType, intent.Revision)
	if err != nil {
		c.logger.Error(ctx, "confirm intent failed", "action_type", intent.ActionType, "error", err)
		c.metrics.RecordError("conversation", "confirm_intent")
		tr.fallback = true
		return true
	}
	if payload == nil {
		c.logger.Info(ctx, "confirmation found nothing to consume",
			"action_type", intent.ActionType,
			"revision", intent.Revision,
		)
		tr.reply = c.config.NothingToConfirmText
		return true
	}
	c.metrics.RecordIntentTransition(intent.ActionType, string(models.IntentConfirmed))
	tr.confirmed = intent.ActionType

	c.logger.Info(ctx, "executing confirmed intent",
		"action_type", intent.ActionType,
		"tool", intent.ExecuteTool,
		"intent_id", intent.ID,
	)
	// The intent is consumed; the side effect must run even if the caller leaves.
	c.execute(context.WithoutCancel(ctx), tr, []models.ToolInvocation{{
		ID:        uuid.NewString(),
		Source:    models.SourcePolicy,
		ToolName:  intent.ExecuteTool,
		Arguments: payload,
	}})
	return true
}

// modelCall asks the model and, when allowed, runs the tools it picked.
// Failures leave the model text empty and mark the turn as a fallback.
func (c *Controller) modelCall(ctx context.Context, tr *turn, req routing.Request, runTools bool) {
	c.enter(ctx, tr, StateModelCall)

	resp, err := c.complete(ctx, tr, req)
	if err != nil {
		c.logger.Warn(ctx, "model call failed", "error", err)
		c.metrics.RecordError("conversation", "model")
		observability.RecordSpanError(tr.span, err)
		tr.modelText = ""
		tr.fallback = true
		return
	}
	tr.model = resp
	tr.modelText = resp.Text

	if !runTools {
		return
	}
	if invocations := resp.Invocations(); len(invocations) > 0 {
		c.execute(ctx, tr, invocations)
	}
}

func (c *Controller) complete(ctx context.Context, tr *turn, req routing.Request) (*agent.ModelResponse, error) {
	if tr.onText == nil {
		return c.model.Complete(ctx, req)
	}

	chunks, err := c.model.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	var text strings.Builder
	for chunk := range chunks {
		switch {
		case chunk.Error != nil:
			return nil, chunk.Error
		case chunk.Done:
			return &agent.ModelResponse{
				Text:         text.String(),
				ToolCalls:    chunk.ToolCalls,
				Profile:      string(req.Profile),
				InputTokens:  chunk.InputTokens,
				OutputTokens: chunk.OutputTokens,
			}, nil
		case chunk.Text != "":
			text.WriteString(chunk.Text)
			tr.streamed = true
			tr.onText(chunk.Text)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, errors.New("conversation: model stream ended without completion")
}

// execute runs invocations in order and absorbs their side outputs: context
// facts and proposals.
func (c *Controller) execute(ctx context.Context, tr *turn, invocations []models.ToolInvocation) {
	c.enter(ctx, tr, StateToolExecution)

	results := c.orchestrator.Execute(ctx, invocations, c.events)
	for i := range results {
		c.absorb(ctx, tr, &results[i])
	}
	tr.results = append(tr.results, results...)
}

func (c *Controller) absorb(ctx context.Context, tr *turn, r *agent.InvocationResult) {
	for _, fact := range r.Result.ContextUpdates {
		entry := models.ContextEntry{SessionID: tr.SessionID, Kind: fact.Kind, Key: fact.Key, Value: fact.Value}
		if err := c.store.Set(ctx, entry); err != nil {
			c.logger.Warn(ctx, "persist tool context failed", "tool", r.Invocation.ToolName, "error", err)
			c.metrics.RecordError("conversation", "context_write")
		}
	}
	if r.Result.RequiresConfirmation && r.Result.ProposedIntent != nil {
		c.propose(ctx, tr, r)
	}
}

// propose records a tool's side effect as a pending intent and turns the tool
// text into a confirmation request. An intent already pending for the action
// type is cancelled first.
func (c *Controller) propose(ctx context.Context, tr *turn, r *agent.InvocationResult) {
	pi := r.Result.ProposedIntent
	ttl := pi.TTL
	if ttl <= 0 {
		ttl = c.config.IntentTTL
	}

	existing, err := c.store.GetPending(ctx, tr.SessionID, pi.ActionType)
	if err != nil {
		c.logger.Warn(ctx, "read pending intent failed", "action_type", pi.ActionType, "error", err)
	}
	if existing != nil {
		if err := c.store.Cancel(ctx, tr.SessionID, pi.ActionType); err != nil {
			c.logger.Warn(ctx, "cancel replaced intent failed", "action_type", pi.ActionType, "error", err)
		} else {
			c.metrics.RecordIntentTransition(pi.ActionType, string(models.IntentCancelled))
			c.logger.Info(ctx, "replaced pending intent", "action_type", pi.ActionType, "intent_id", existing.ID)
		}
	}

	intent, err := c.store.Propose(ctx, models.Proposal{
		SessionID:   tr.SessionID,
		ActionType:  pi.ActionType,
		Payload:     pi.Payload,
		Summary:     pi.Summary,
		ExecuteTool: pi.ExecuteTool,
		TTL:         ttl,
	})
	if err != nil {
		c.logger.Error(ctx, "propose intent failed", "action_type", pi.ActionType, "error", err)
		c.metrics.RecordError("conversation", "propose_intent")
		r.Result = agent.ToolResult{
			Content:   "Não foi possível registrar a ação para confirmação. Tente novamente.",
			IsError:   true,
			ErrorKind: agent.ToolErrorExecution,
		}
		return
	}

	c.metrics.RecordIntentTransition(intent.ActionType, string(models.IntentPending))
	tr.proposed = append(tr.proposed, *intent)
	r.Result.Content = confirmationPrompt(intent)
}

func confirmationPrompt(intent *models.PendingIntent) string {
	summary := intent.Summary
	if summary == "" {
		summary = "Executar " + intent.ActionType
	}
	return fmt.Sprintf("%s. Confirma? Responda \"sim\" para prosseguir ou \"não\" para cancelar (expira em %s).",
		strings.TrimSuffix(summary, "."), formatDuration(intent.TTL))
}

func formatDuration(d time.Duration) string {
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		return fmt.Sprintf("%dh", int(d/time.Hour))
	case d >= time.Minute && d%time.Minute == 0:
		return fmt.Sprintf("%d min", int(d/time.Minute))
	default:
		return d.Round(time.Second).String()
	}
}

// finish assembles the response. The text is never empty.
func (c *Controller) finish(ctx context.Context, tr *turn, start time.Time) *Response {
	c.enter(ctx, tr, StateResponseAssembly)

	text, source := agent.ResolveResponse(agent.PrecedenceInput{
		Results:   tr.results,
		Refine:    tr.refine,
		ModelText: tr.modelText,
	})
	if source == agent.SourceNone {
		text, source = c.fallbackText(tr)
	}
	if strings.TrimSpace(text) == "" {
		text, source = c.config.FallbackText, SourceFallback
		tr.fallback = true
	}

	c.enter(ctx, tr, StateEnd)

	if tr.onText != nil && !(tr.streamed && (source == agent.SourceModelText || source == agent.SourceModelRefine)) {
		tr.onText(text)
	}

	outcome := "ok"
	if tr.fallback {
		outcome = "fallback"
	}
	elapsed := time.Since(start)
	c.metrics.RecordTurn(tr.path, outcome, elapsed)
	tr.span.SetAttributes(
		attribute.String("turn.path", tr.path),
		attribute.String("turn.source", string(source)),
		attribute.Bool("turn.fallback", tr.fallback),
	)
	c.logger.Info(ctx, "turn completed",
		"path", tr.path,
		"source", string(source),
		"tools", len(tr.results),
		"proposed", len(tr.proposed),
		"fallback", tr.fallback,
		"duration_ms", elapsed.Milliseconds(),
	)

	resp := &Response{
		TurnID:    tr.ID,
		SessionID: tr.SessionID,
		Text:      text,
		Source:    source,
		Path:      tr.path,
		Mode:      tr.mode,
		States:    tr.states,
		Results:   tr.results,
		Proposed:  tr.proposed,
		Confirmed: tr.confirmed,
		Fallback:  tr.fallback,
	}
	if tr.model != nil {
		resp.Model = tr.model.Model
		resp.Profile = tr.model.Profile
	}
	return resp
}

// fallbackText derives an answer from what the turn already has: a fixed
// policy reply, then any tool text including errors, then the configured text.
func (c *Controller) fallbackText(tr *turn) (string, agent.ResponseSource) {
	if strings.TrimSpace(tr.reply) != "" {
		return tr.reply, SourcePolicyReply
	}
	var parts []string
	for _, r := range tr.results {
		if text := strings.TrimSpace(r.Result.Content); text != "" {
			parts = append(parts, text)
		}
	}
	if len(parts) > 0 {
		return strings.Join(parts, "\n\n"), SourceFallback
	}
	tr.fallback = true
	return c.config.FallbackText, SourceFallback
}
