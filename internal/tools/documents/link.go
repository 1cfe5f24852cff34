// Package documents links documents to process references.
package documents

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

const ToolName = "link_document"

type args struct {
	Ref      string `json:"ref" jsonschema:"description=Process reference the document belongs to"`
	Document string `json:"document" jsonschema:"description=Document identifier or file name"`
}

// LinkTool attaches a document to a process.
type LinkTool struct {
	backend backend.Backend
}

func NewLinkTool(b backend.Backend) *LinkTool {
	return &LinkTool{backend: b}
}

func (t *LinkTool) Name() string  { return ToolName }
func (t *LinkTool) Priority() int { return 50 }

func (t *LinkTool) Description() string {
	return "Link a document (invoice, bill of lading, certificate) to a process reference."
}

func (t *LinkTool) Schema() json.RawMessage { return agent.SchemaFor[args]() }

func (t *LinkTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var in args
	if err := json.Unmarshal(params, &in); err != nil {
		return nil, fmt.Errorf("%w: %v", agent.ErrInvalidArguments, err)
	}
	if strings.TrimSpace(in.Ref) == "" || strings.TrimSpace(in.Document) == "" {
		return nil, fmt.Errorf("%w: ref and document are required", agent.ErrInvalidArguments)
	}

	link, err := t.backend.LinkDocument(ctx, in.Ref, in.Document)
	if errors.Is(err, backend.ErrNotFound) {
		return &agent.ToolResult{
			Content:   fmt.Sprintf("Não encontrei o processo %s.", backend.NormalizeRef(in.Ref)),
			IsError:   true,
			ErrorKind: agent.ToolErrorNotFound,
		}, nil
	}
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(link)
	if err != nil {
		return nil, err
	}
	return &agent.ToolResult{
		Content: fmt.Sprintf("Documento %s vinculado ao %s.", link.Document, link.Ref),
		Payload: payload,
		ContextUpdates: []agent.ContextFact{
			{Kind: models.ContextCurrentSubject, Key: "ref", Value: link.Ref},
		},
	}, nil
}
