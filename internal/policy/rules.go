package policy

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/helenomaffra-crypto/Chat-IA2-Independente-sub000/pkg/models"
)

// StatusTool is the tool the status rule invokes.
const StatusTool = "lookup_status"

// DefaultModeWindowTTL bounds how long a mode stays on after its trigger.
const DefaultModeWindowTTL = 30 * time.Minute

const (
	ClearContextRuleID = "clear_context"
	CancelIntentRuleID = "cancel_intent"
	ModeWindowRuleID   = "mode_window"
	StatusLookupRuleID = "status_lookup"
)

// ClearContextReply acknowledges a cleared session.
const ClearContextReply = "Contexto limpo. Podemos começar do zero."

// Config holds the vocabularies of the shipped rules. Empty fields use the
// defaults.
type Config struct {
	ClearPhrases   []string
	CancelPhrases  []string
	RefineWords    []string
	ModeTriggers   map[string]string
	ModeExclusions []string
	ModeWindowTTL  time.Duration
}

var (
	defaultClearPhrases = []string{
		"limpar contexto", "limpa contexto", "limpe o contexto", "limpar o contexto",
		"esquecer tudo", "esquece tudo", "esqueca tudo",
		"clear context", "reset context", "forget everything",
		"/reset", "/clear", "/limpar",
	}
	defaultCancelPhrases = []string{
		"cancelar", "cancela", "cancele", "cancel", "desistir", "desisto",
		"cancelar acao", "cancelar isso", "cancel that", "/cancel", "/cancelar",
	}
	defaultRefineWords = []string{
		"detalhado", "detalhada", "detalhes", "detalhe", "detailed", "details",
		"explique", "explica", "explain",
	}
	defaultModeTriggers = map[string]string{
		"modo estrito":     string(ModeStrict),
		"strict mode":      string(ModeStrict),
		"modo rigoroso":    string(ModeStrict),
		"modo detalhado":   string(ModeVerbose),
		"verbose mode":     string(ModeVerbose),
		"modo conciso":     string(ModeConcise),
		"concise mode":     string(ModeConcise),
		"respostas curtas": string(ModeConcise),
	}
	defaultModeExclusions = []string{
		"status", "situacao", "andamento",
		"cancelar", "cancel", "confirmo", "confirmar",
		"limpar contexto", "clear context", "/reset",
		"vincular", "link",
	}
)

// DefaultRules returns the shipped rules configured from cfg.
func DefaultRules(cfg Config) []Rule {
	return []Rule{
		NewClearContextRule(cfg.ClearPhrases),
		NewCancelIntentRule(cfg.CancelPhrases),
		NewModeWindowRule(cfg.ModeTriggers, cfg.ModeExclusions, cfg.ModeWindowTTL),
		NewStatusLookupRule(cfg.RefineWords),
	}
}

func normalizedSet(phrases, defaults []string) map[string]struct{} {
	if len(phrases) == 0 {
		phrases = defaults
	}
	set := make(map[string]struct{}, len(phrases))
	for _, p := range phrases {
		if n := Normalize(p); n != "" {
			set[n] = struct{}{}
		}
	}
	return set
}

func normalizedList(phrases, defaults []string) []string {
	if len(phrases) == 0 {
		phrases = defaults
	}
	out := make([]string, 0, len(phrases))
	for _, p := range phrases {
		if n := Normalize(p); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// ClearContextRule recognizes reserved "forget everything" utterances.
type ClearContextRule struct {
	phrases map[string]struct{}
}

func NewClearContextRule(phrases []string) *ClearContextRule {
	return &ClearContextRule{phrases: normalizedSet(phrases, defaultClearPhrases)}
}

func (r *ClearContextRule) ID() string    { return ClearContextRuleID }
func (r *ClearContextRule) Priority() int { return 100 }

func (r *ClearContextRule) Match(in Input) (Decision, bool) {
	if _, ok := r.phrases[in.Normalized]; ok {
		return Decision{ClearContext: true, Reply: ClearContextReply}, true
	}
	if cmd, ok := ParseCommand(in.Utterance); ok {
		if _, ok := r.phrases["/"+cmd.Name]; ok {
			return Decision{ClearContext: true, Reply: ClearContextReply}, true
		}
	}
	return Decision{}, false
}

// CancelIntentRule cancels the most recent pending intent on an explicit
// cancel utterance. With nothing pending it does not match.
type CancelIntentRule struct {
	phrases map[string]struct{}
}

func NewCancelIntentRule(phrases []string) *CancelIntentRule {
	return &CancelIntentRule{phrases: normalizedSet(phrases, defaultCancelPhrases)}
}

func (r *CancelIntentRule) ID() string    { return CancelIntentRuleID }
func (r *CancelIntentRule) Priority() int { return 90 }

func (r *CancelIntentRule) Match(in Input) (Decision, bool) {
	if _, ok := r.phrases[in.Normalized]; !ok {
		return Decision{}, false
	}
	intent, ok := MostRecentPending(in.Pending, in.Now)
	if !ok {
		return Decision{}, false
	}
	reply := "Ação cancelada."
	if intent.Summary != "" {
		reply = fmt.Sprintf("Ação cancelada: %s", intent.Summary)
	}
	return Decision{CancelIntent: intent.ActionType, Reply: reply}, true
}

// MostRecentPending picks the newest live pending intent.
func MostRecentPending(pending []models.PendingIntent, now time.Time) (models.PendingIntent, bool) {
	var best models.PendingIntent
	found := false
	for _, p := range pending {
		if p.Status != models.IntentPending || p.Expired(now) {
			continue
		}
		if !found || p.CreatedAt.After(best.CreatedAt) {
			best = p
			found = true
		}
	}
	return best, found
}

// ModeWindowRule opens a time-bounded response mode on a trigger phrase.
type ModeWindowRule struct {
	triggers   map[string]string
	exclusions []string
	ttl        time.Duration
}

func NewModeWindowRule(triggers map[string]string, exclusions []string, ttl time.Duration) *ModeWindowRule {
	if len(triggers) == 0 {
		triggers = defaultModeTriggers
	}
	if ttl <= 0 {
		ttl = DefaultModeWindowTTL
	}
	normalized := make(map[string]string, len(triggers))
	for phrase, mode := range triggers {
		if n := Normalize(phrase); n != "" {
			normalized[n] = mode
		}
	}
	return &ModeWindowRule{
		triggers:   normalized,
		exclusions: normalizedList(exclusions, defaultModeExclusions),
		ttl:        ttl,
	}
}

func (r *ModeWindowRule) ID() string    { return ModeWindowRuleID }
func (r *ModeWindowRule) Priority() int { return 80 }

// TTL returns the window length.
func (r *ModeWindowRule) TTL() time.Duration { return r.ttl }

// Match opens a window on a trigger. Utterances carrying operational or status
// vocabulary are left to the rules below, even when they name a mode.
func (r *ModeWindowRule) Match(in Input) (Decision, bool) {
	if r.excluded(in.Normalized) {
		return Decision{}, false
	}
	mode, ok := r.trigger(in)
	if !ok {
		return Decision{}, false
	}
	expiry := in.Now.Add(r.ttl)
	return Decision{
		ContextUpdate: &ContextUpdate{
			Kind:  models.ContextModeWindow,
			Key:   mode,
			Value: expiry.UTC().Format(time.RFC3339Nano),
			TTL:   r.ttl,
		},
		Mode:  mode,
		Reply: fmt.Sprintf("Modo %s ativado por %s.", mode, formatTTL(r.ttl)),
	}, true
}

func (r *ModeWindowRule) trigger(in Input) (string, bool) {
	if cmd, ok := ParseCommand(in.Utterance); ok && (cmd.Name == "modo" || cmd.Name == "mode") {
		if m := NormalizeMode(cmd.Arg); m != nil {
			return string(*m), true
		}
		return "", false
	}
	// Longest trigger wins; ties break by phrase.
	best, bestMode := "", ""
	for phrase, mode := range r.triggers {
		if containsPhrase(in.Normalized, phrase) && (len(phrase) > len(best) || (len(phrase) == len(best) && phrase < best)) {
			best, bestMode = phrase, mode
		}
	}
	return bestMode, best != ""
}

// Active reports the open window's mode. Excluded utterances never get a mode.
func (r *ModeWindowRule) Active(in Input) (string, bool) {
	if r.excluded(in.Normalized) {
		return "", false
	}
	var mode string
	var newest time.Time
	for _, e := range in.Context {
		if e.Kind != models.ContextModeWindow {
			continue
		}
		expiry, ok := WindowExpiry(e)
		if !ok || in.Now.After(expiry) {
			continue
		}
		if mode == "" || e.UpdatedAt.After(newest) {
			mode, newest = e.Key, e.UpdatedAt
		}
	}
	return mode, mode != ""
}

func (r *ModeWindowRule) excluded(normalized string) bool {
	for _, phrase := range r.exclusions {
		if containsPhrase(normalized, phrase) {
			return true
		}
	}
	return false
}

// WindowExpiry reads the expiry stored in a mode window entry.
func WindowExpiry(e models.ContextEntry) (time.Time, bool) {
	t, err := time.Parse(time.RFC3339Nano, e.Value)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func formatTTL(d time.Duration) string {
	if d%time.Minute == 0 {
		return fmt.Sprintf("%d minutos", int(d/time.Minute))
	}
	return d.String()
}

// statusRefPattern captures references such as REF-001 or DI2024001.
var (
	statusWordPattern = regexp.MustCompile(`\b(status|situacao|andamento)\b`)
	statusRefPattern  = regexp.MustCompile(`\b(?:status|situacao|andamento)\b(?:\s+(?:do|da|de|dos|das|of|for|the|processo|process|pedido|order))*\s+([a-z]{2,6}-?\d{2,})\b`)
)

// StatusLookupRule sends status questions straight to the status tool. A
// reference typed in the utterance wins; otherwise the session's current
// subject is used.
type StatusLookupRule struct {
	refineWords []string
}

func NewStatusLookupRule(refineWords []string) *StatusLookupRule {
	return &StatusLookupRule{refineWords: normalizedList(refineWords, defaultRefineWords)}
}

func (r *StatusLookupRule) ID() string    { return StatusLookupRuleID }
func (r *StatusLookupRule) Priority() int { return 50 }

func (r *StatusLookupRule) Match(in Input) (Decision, bool) {
	if !statusWordPattern.MatchString(in.Normalized) {
		return Decision{}, false
	}

	var ref string
	if m := statusRefPattern.FindStringSubmatch(in.Normalized); m != nil {
		ref = strings.ToUpper(m[1])
	} else if subject, ok := in.latestContext(models.ContextCurrentSubject); ok && subject.Value != "" {
		ref = subject.Value
	} else {
		return Decision{}, false
	}

	args, err := json.Marshal(map[string]string{"ref": ref})
	if err != nil {
		return Decision{}, false
	}

	refine := false
	for _, w := range r.refineWords {
		if containsPhrase(in.Normalized, w) {
			refine = true
			break
		}
	}

	return Decision{
		Invocation: &models.ToolInvocation{
			ID:        uuid.NewString(),
			Source:    models.SourcePolicy,
			ToolName:  StatusTool,
			Arguments: args,
			Refine:    refine,
		},
		Refine: refine,
	}, true
}
