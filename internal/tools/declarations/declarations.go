// Package declarations creates customs declarations. Creation is proposed
// first and only runs once the user confirms it.
package declarations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/helenomaffra-crypto/Chat-IA2-Independente-sub000/internal/agent"
	"github.com/helenomaffra-crypto/Chat-IA2-Independente-sub000/internal/tools/backend"
	"github.com/helenomaffra-crypto/Chat-IA2-Independente-sub000/pkg/models"
)

const (
	ActionType  = "create_declaration"
	ToolName    = "create_declaration"
	ExecuteName = "execute_create_declaration"
)

// Kinds accepted for a declaration.
var Kinds = []string{"DI", "DUIMP", "DUE"}

type args struct {
	Ref  string `json:"ref" jsonschema:"description=Process reference"`
	Kind string `json:"kind,omitempty" jsonschema:"enum=DI,enum=DUIMP,enum=DUE,description=Declaration kind (defaults to DUIMP)"`
}

func parseArgs(params json.RawMessage) (backend.DeclarationRequest, error) {
	var in args
	if err := json.Unmarshal(params, &in); err != nil {
		return backend.DeclarationRequest{}, fmt.Errorf("%w: %v", agent.ErrInvalidArguments, err)
	}
	req := backend.DeclarationRequest{Ref: backend.NormalizeRef(in.Ref), Kind: strings.ToUpper(strings.TrimSpace(in.Kind))}
	if req.Ref == "" {
		return req, fmt.Errorf("%w: ref is required", agent.ErrInvalidArguments)
	}
	if req.Kind == "" {
		req.Kind = "DUIMP"
	}
	return req, nil
}

// CreateTool proposes a declaration. It never creates one itself.
type CreateTool struct {
	backend backend.Backend
	ttl     time.Duration
}

// NewCreateTool proposes intents that live for ttl; zero uses the store default.
func NewCreateTool(b backend.Backend, ttl time.Duration) *CreateTool {
	return &CreateTool{backend: b, ttl: ttl}
}

func (t *CreateTool) Name() string  { return ToolName }
func (t *CreateTool) Priority() int { return 40 }

func (t *CreateTool) Description() string {
	return "Prepare a new declaration (DI, DUIMP or DUE) for a process. The user must confirm before it is created."
}

func (t *CreateTool) Schema() json.RawMessage { return agent.SchemaFor[args]() }

func (t *CreateTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	req, err := parseArgs(params)
	if err != nil {
		return nil, err
	}
	if _, err := t.backend.Status(ctx, req.Ref); errors.Is(err, backend.ErrNotFound) {
		return &agent.ToolResult{
			Content:   fmt.Sprintf("Não encontrei o processo %s.", req.Ref),
			IsError:   true,
			ErrorKind: agent.ToolErrorNotFound,
		}, nil
	} else if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	summary := fmt.Sprintf("Criar %s para o processo %s", req.Kind, req.Ref)
	return &agent.ToolResult{
		Content:              summary,
		RequiresConfirmation: true,
		ProposedIntent: &agent.ProposedIntent{
			ActionType:  ActionType,
			ExecuteTool: ExecuteName,
			Payload:     payload,
			Summary:     summary,
			TTL:         t.ttl,
		},
		ContextUpdates: []agent.ContextFact{
			{Kind: models.ContextCurrentSubject, Key: "ref", Value: req.Ref},
		},
	}, nil
}

// ExecuteTool creates the declaration from a confirmed payload.
type ExecuteTool struct {
	backend backend.Backend
}

func NewExecuteTool(b backend.Backend) *ExecuteTool {
	return &ExecuteTool{backend: b}
}

func (t *ExecuteTool) Name() string   { return ExecuteName }
func (t *ExecuteTool) Internal() bool { return true }

func (t *ExecuteTool) Description() string {
	return "Create a confirmed declaration."
}

func (t *ExecuteTool) Schema() json.RawMessage { return agent.SchemaFor[args]() }

func (t *ExecuteTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	req, err := parseArgs(params)
	if err != nil {
		return nil, err
	}
	decl, err := t.backend.CreateDeclaration(ctx, req)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(decl)
	if err != nil {
		return nil, err
	}
	return &agent.ToolResult{
		Content: fmt.Sprintf("%s %s criada para o processo %s.", decl.Kind, decl.ID, decl.Ref),
		Payload: payload,
	}, nil
}
