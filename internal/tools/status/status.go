// Package status exposes process status lookups as a tool.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/helenomaffra-crypto/Chat-IA2-Independente-sub000/internal/agent"
	"github.com/helenomaffra-crypto/Chat-IA2-Independente-sub000/internal/tools/backend"
	"github.com/helenomaffra-crypto/Chat-IA2-Independente-sub000/pkg/models"
)

// ToolName must match the name the policy engine invokes directly.
const ToolName = "lookup_status"

type args struct {
	Ref string `json:"ref" jsonschema:"description=Process reference such as REF-001"`
}

// Tool looks up the status of a process reference.
type Tool struct {
	backend backend.Backend
}

func NewTool(b backend.Backend) *Tool {
	return &Tool{backend: b}
}

func (t *Tool) Name() string  { return ToolName }
func (t *Tool) Priority() int { return 100 }

func (t *Tool) Description() string {
	return "Look up the current status of a process by its reference (e.g. REF-001)."
}

func (t *Tool) Schema() json.RawMessage { return agent.SchemaFor[args]() }

func (t *Tool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var in args
	if err := json.Unmarshal(params, &in); err != nil {
		return nil, fmt.Errorf("%w: %v", agent.ErrInvalidArguments, err)
	}
	ref := backend.NormalizeRef(in.Ref)
	if ref == "" {
		return nil, fmt.Errorf("%w: ref is required", agent.ErrInvalidArguments)
	}

	st, err := t.backend.Status(ctx, ref)
	if errors.Is(err, backend.ErrNotFound) {
		return &agent.ToolResult{
			Content:   fmt.Sprintf("Não encontrei o processo %s.", ref),
			IsError:   true,
			ErrorKind: agent.ToolErrorNotFound,
		}, nil
	}
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(st)
	if err != nil {
		return nil, err
	}
	return &agent.ToolResult{
		Content: Format(st),
		Payload: payload,
		ContextUpdates: []agent.ContextFact{
			{Kind: models.ContextCurrentSubject, Key: "ref", Value: st.Ref},
			{Kind: models.ContextCurrentCategory, Key: "category", Value: st.Category},
		},
	}, nil
}

// Format renders a status for the user.
func Format(st *backend.Status) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Status do %s: %s", st.Ref, st.State)
	if st.Detail != "" {
		fmt.Fprintf(&b, " (%s)", st.Detail)
	}
	if !st.UpdatedAt.IsZero() {
		fmt.Fprintf(&b, ". Atualizado em %s", st.UpdatedAt.Format("02/01/2006 15:04"))
	}
	b.WriteString(".")
	return b.String()
}
