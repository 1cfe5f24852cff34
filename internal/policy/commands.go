package policy

import (
	"regexp"
	"strings"
)

// Mode is a response style a user can switch on for a limited window.
type Mode string

const (
	ModeStrict  Mode = "strict"
	ModeVerbose Mode = "verbose"
	ModeConcise Mode = "concise"
)

// NormalizeMode maps a raw mode name, in Portuguese or English, to a Mode.
// Returns nil if the value is not recognized.
func NormalizeMode(raw string) *Mode {
	value := Normalize(raw)
	if value == "" {
		return nil
	}
	var result Mode
	switch value {
	case "strict", "estrito", "rigoroso":
		result = ModeStrict
	case "verbose", "detailed", "detalhado":
		result = ModeVerbose
	case "concise", "conciso", "breve", "brief":
		result = ModeConcise
	default:
		return nil
	}
	return &result
}

// Command is a parsed slash command.
type Command struct {
	// Name is the lowercased command without the slash.
	Name string
	// Arg is the rest of the first line, trimmed.
	Arg string
}

var commandRegex = regexp.MustCompile(`(?i)^/([a-z][a-z_-]*)(?:\s+(.*))?$`)
var colonCommandRegex = regexp.MustCompile(`^/([^\s:]+)\s*:\s*(.*)$`)

// ParseCommand detects a slash command. Both "/modo estrito" and
// "/modo: estrito" are accepted; only the first line is considered.
func ParseCommand(raw string) (Command, bool) {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "/") {
		return Command{}, false
	}

	match := commandRegex.FindStringSubmatch(normalizeCommandBody(trimmed))
	if match == nil {
		return Command{}, false
	}
	return Command{
		Name: strings.ToLower(match[1]),
		Arg:  strings.TrimSpace(match[2]),
	}, true
}

// normalizeCommandBody handles colon-separated command syntax.
// Converts "/modo: estrito" to "/modo estrito".
func normalizeCommandBody(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "/") {
		return trimmed
	}

	if idx := strings.Index(trimmed, "\n"); idx != -1 {
		trimmed = strings.TrimSpace(trimmed[:idx])
	}

	if colonMatch := colonCommandRegex.FindStringSubmatch(trimmed); colonMatch != nil {
		command := colonMatch[1]
		rest := strings.TrimSpace(colonMatch[2])
		if rest != "" {
			return "/" + command + " " + rest
		}
		return "/" + command
	}

	return trimmed
}
