package tools

import (
	"time"

	"github.com/helenomaffra-crypto/Chat-IA2-Independente-sub000/internal/agent"
	"github.com/helenomaffra-crypto/Chat-IA2-Independente-sub000/internal/tools/backend"
	"github.com/helenomaffra-crypto/Chat-IA2-Independente-sub000/internal/tools/declarations"
	"github.com/helenomaffra-crypto/Chat-IA2-Independente-sub000/internal/tools/documents"
	"github.com/helenomaffra-crypto/Chat-IA2-Independente-sub000/internal/tools/message"
	"github.com/helenomaffra-crypto/Chat-IA2-Independente-sub000/internal/tools/status"
)

// RegisterAll registers the domain tools against b. Proposals live for
// intentTTL unless the controller overrides it.
func RegisterAll(registry *agent.ToolRegistry, b backend.Backend, intentTTL time.Duration) error {
	for _, tool := range []agent.Tool{
		status.NewTool(b),
		documents.NewLinkTool(b),
		declarations.NewCreateTool(b, intentTTL),
		declarations.NewExecuteTool(b),
		message.NewTool(intentTTL),
		message.NewExecuteTool(b),
	} {
		if err := registry.Register(tool); err != nil {
			return err
		}
	}
	return nil
}
