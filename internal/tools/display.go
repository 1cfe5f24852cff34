package tools

import (
	"fmt"
	"strings"
	"time"

	"github.com/helenomaffra-crypto/Chat-IA2-Independente-sub000/pkg/models"
)

// ToolDisplay is how a tool is shown in the chat transcript.
type ToolDisplay struct {
	Name  string
	Emoji string
	Title string
}

var defaultToolDisplays = map[string]ToolDisplay{
	"lookup_status":              {Emoji: "🔎", Title: "Consulta de status"},
	"link_document":              {Emoji: "📎", Title: "Vínculo de documento"},
	"create_declaration":         {Emoji: "📝", Title: "Proposta de declaração"},
	"execute_create_declaration": {Emoji: "🧾", Title: "Criação de declaração"},
	"send_message":               {Emoji: "💬", Title: "Proposta de mensagem"},
	"execute_send_message":       {Emoji: "📤", Title: "Envio de mensagem"},
}

var stageLabels = map[models.ToolEventStage]string{
	models.ToolEventStarted:          "iniciado",
	models.ToolEventSucceeded:        "concluído",
	models.ToolEventFailed:           "falhou",
	models.ToolEventConfirmationSent: "aguardando confirmação",
}

// ResolveToolDisplay returns the display of name, deriving a title for
// unknown tools.
func ResolveToolDisplay(name string) ToolDisplay {
	key := normalizeToolName(name)
	if d, ok := defaultToolDisplays[key]; ok {
		d.Name = key
		return d
	}
	return ToolDisplay{Name: key, Emoji: "🧩", Title: defaultTitle(key)}
}

// FormatToolEvent renders a tool lifecycle event as one transcript line.
func FormatToolEvent(ev models.ToolEvent) string {
	d := ResolveToolDisplay(ev.ToolName)
	label := stageLabels[ev.Stage]
	if label == "" {
		label = string(ev.Stage)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s · %s", d.Emoji, d.Title, label)
	if !ev.StartedAt.IsZero() && !ev.FinishedAt.IsZero() {
		fmt.Fprintf(&b, " (%s)", ev.FinishedAt.Sub(ev.StartedAt).Round(time.Millisecond))
	}
	if ev.Error != "" {
		fmt.Fprintf(&b, ": %s", trimToMaxLength(ev.Error, 120))
	}
	return b.String()
}

func normalizeToolName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// defaultTitle turns snake_case into "Snake case".
func defaultTitle(name string) string {
	words := strings.FieldsFunc(name, func(r rune) bool { return r == '_' || r == '-' || r == '.' })
	if len(words) == 0 {
		return "Ferramenta"
	}
	title := strings.Join(words, " ")
	return strings.ToUpper(title[:1]) + title[1:]
}

func trimToMaxLength(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-1]) + "…"
}
