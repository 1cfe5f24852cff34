package conversation

import (
	"fmt"
	"strings"

	"github.com/helenomaffra-crypto/Chat-IA2-Independente-sub000/internal/agent"
	"github.com/helenomaffra-crypto/Chat-IA2-Independente-sub000/internal/agent/routing"
	"github.com/helenomaffra-crypto/Chat-IA2-Independente-sub000/internal/policy"
	"github.com/helenomaffra-crypto/Chat-IA2-Independente-sub000/pkg/models"
)

var modeInstructions = map[string]string{
	string(policy.ModeStrict):  "Responda apenas com fatos retornados pelas ferramentas. Não especule.",
	string(policy.ModeVerbose): "Responda de forma detalhada, explicando cada etapa.",
	string(policy.ModeConcise): "Responda em no máximo duas frases.",
}

func (c *Controller) modelRequest(tr *turn) routing.Request {
	return routing.Request{
		System:  c.systemPrompt(tr),
		User:    tr.Utterance,
		History: c.history(tr.History),
		Tools:   c.orchestrator.Registry().Exposed(),
		Profile: routing.Profile(tr.Profile),
	}
}

// refineRequest asks the model to rewrite a tool answer without calling tools.
func (c *Controller) refineRequest(tr *turn, toolText string) routing.Request {
	system := c.systemPrompt(tr) + "\n\nReescreva o resultado da ferramenta abaixo para responder ao usuário. " +
		"Não invente dados que não estejam no resultado."
	return routing.Request{
		System:  system,
		User:    fmt.Sprintf("%s\n\nResultado da ferramenta:\n%s", tr.Utterance, toolText),
		History: c.history(tr.History),
		Profile: routing.Profile(tr.Profile),
	}
}

// systemPrompt adds the active mode, the session facts and the actions
// awaiting confirmation to the configured prompt.
func (c *Controller) systemPrompt(tr *turn) string {
	var b strings.Builder
	b.WriteString(c.config.SystemPrompt)

	if tr.mode != "" {
		fmt.Fprintf(&b, "\n\nModo de resposta ativo: %s.", tr.mode)
		if instr, ok := modeInstructions[tr.mode]; ok {
			b.WriteString(" ")
			b.WriteString(instr)
		}
	}

	var facts []string
	for _, e := range tr.entries {
		if e.Kind == models.ContextModeWindow {
			continue
		}
		facts = append(facts, fmt.Sprintf("- %s (%s): %s", e.Kind, e.Key, e.Value))
	}
	if len(facts) > 0 {
		b.WriteString("\n\nContexto da sessão:\n")
		b.WriteString(strings.Join(facts, "\n"))
	}

	var pending []string
	for _, p := range tr.pending {
		if p.Status != models.IntentPending || p.Expired(tr.now) {
			continue
		}
		pending = append(pending, fmt.Sprintf("- %s: %s (expira às %s)",
			p.ActionType, p.Summary, p.ExpiresAt().Format("15:04")))
	}
	if len(pending) > 0 {
		b.WriteString("\n\nAções aguardando confirmação do usuário (não proponha de novo sem necessidade):\n")
		b.WriteString(strings.Join(pending, "\n"))
	}
	return b.String()
}

// history converts the newest MaxHistory messages. System messages are
// dropped; the controller owns the system prompt.
func (c *Controller) history(msgs []models.Message) []agent.CompletionMessage {
	if c.config.MaxHistory == 0 || len(msgs) == 0 {
		return nil
	}
	kept := make([]models.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == models.RoleSystem {
			continue
		}
		kept = append(kept, m)
	}
	if len(kept) > c.config.MaxHistory {
		kept = kept[len(kept)-c.config.MaxHistory:]
	}

	out := make([]agent.CompletionMessage, 0, len(kept))
	for _, m := range kept {
		out = append(out, agent.CompletionMessage{
			Role:        string(m.Role),
			Content:     m.Content,
			ToolCalls:   m.ToolCalls,
			ToolResults: m.ToolResults,
		})
	}
	return out
}
