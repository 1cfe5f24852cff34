package agent

import (
	"testing"

	"github.com/helenomaffra-crypto/Chat-IA2-Independente-sub000/pkg/models"
)

func result(source models.InvocationSource, text string) InvocationResult {
	return InvocationResult{
		Invocation: models.ToolInvocation{Source: source},
		Result:     ToolResult{Content: text},
	}
}

func TestResolveResponse(t *testing.T) {
	tests := []struct {
		name       string
		in         PrecedenceInput
		wantText   string
		wantSource ResponseSource
	}{
		{
			name: "policy text wins over model tools and free text",
			in: PrecedenceInput{
				Results:   []InvocationResult{result(models.SourcePolicy, "A"), result(models.SourceModel, "B")},
				ModelText: "C",
			},
			wantText:   "A",
			wantSource: SourcePolicyTool,
		},
		{
			name: "refine flag replaces policy text with model text",
			in: PrecedenceInput{
				Results:   []InvocationResult{result(models.SourcePolicy, "A"), result(models.SourceModel, "B")},
				Refine:    true,
				ModelText: "C",
			},
			wantText:   "C",
			wantSource: SourceModelRefine,
		},
		{
			name: "refine without model text keeps policy text",
			in: PrecedenceInput{
				Results: []InvocationResult{result(models.SourcePolicy, "A")},
				Refine:  true,
			},
			wantText:   "A",
			wantSource: SourcePolicyTool,
		},
		{
			name: "model tool text beats model free text",
			in: PrecedenceInput{
				Results:   []InvocationResult{result(models.SourceModel, "B")},
				ModelText: "C",
			},
			wantText:   "B",
			wantSource: SourceModelTools,
		},
		{
			name: "multiple model tools are concatenated in order",
			in: PrecedenceInput{
				Results: []InvocationResult{
					result(models.SourceModel, "B1"),
					result(models.SourceModel, ""),
					result(models.SourceModel, "B2"),
				},
			},
			wantText:   "B1\n\nB2",
			wantSource: SourceModelTools,
		},
		{
			name:       "free text when no tool ran",
			in:         PrecedenceInput{ModelText: "C"},
			wantText:   "C",
			wantSource: SourceModelText,
		},
		{
			name: "empty policy text falls through to model tools",
			in: PrecedenceInput{
				Results: []InvocationResult{result(models.SourcePolicy, "  "), result(models.SourceModel, "B")},
			},
			wantText:   "B",
			wantSource: SourceModelTools,
		},
		{
			name:       "nothing produced",
			in:         PrecedenceInput{},
			wantText:   "",
			wantSource: SourceNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, source := ResolveResponse(tt.in)
			if text != tt.wantText {
				t.Errorf("text = %q, want %q", text, tt.wantText)
			}
			if source != tt.wantSource {
				t.Errorf("source = %q, want %q", source, tt.wantSource)
			}
		})
	}
}
