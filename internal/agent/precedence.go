package agent

import (
	"strings"

	"github.com/helenomaffra-crypto/Chat-IA2-Independente-sub000/pkg/models"
)

// ResponseSource names which input produced the final text of a turn.
type ResponseSource string

const (
	SourceNone        ResponseSource = "none"
	SourcePolicyTool  ResponseSource = "policy_tool"
	SourceModelRefine ResponseSource = "model_refine"
	SourceModelTools  ResponseSource = "model_tools"
	SourceModelText   ResponseSource = "model_text"
)

// PrecedenceInput is everything a turn produced that could become its answer.
type PrecedenceInput struct {
	// Results holds every executed invocation, policy and model alike.
	Results []InvocationResult

	// Refine is set when the policy asked the model to rewrite its tool text.
	Refine bool

	// ModelText is the model's free text, if the model was called.
	ModelText string
}

// ResolveResponse picks the final text of a turn. The order is strict:
//
//  1. text of a policy-sourced tool result;
//  2. unless Refine is set, in which case the model text replaces it;
//  3. non-empty model tool results, joined in execution order;
//  4. the model's free text when no tool ran.
//
// Refine with an empty model text keeps the policy text.
func ResolveResponse(in PrecedenceInput) (string, ResponseSource) {
	policyText := firstText(in.Results, models.SourcePolicy)
	if policyText != "" {
		if in.Refine && strings.TrimSpace(in.ModelText) != "" {
			return in.ModelText, SourceModelRefine
		}
		return policyText, SourcePolicyTool
	}

	if joined := joinTexts(in.Results, models.SourceModel); joined != "" {
		return joined, SourceModelTools
	}

	if strings.TrimSpace(in.ModelText) != "" {
		return in.ModelText, SourceModelText
	}
	return "", SourceNone
}

func firstText(results []InvocationResult, source models.InvocationSource) string {
	for _, r := range results {
		if r.Invocation.Source != source {
			continue
		}
		if text := strings.TrimSpace(r.Result.Content); text != "" {
			return r.Result.Content
		}
	}
	return ""
}

func joinTexts(results []InvocationResult, source models.InvocationSource) string {
	var parts []string
	for _, r := range results {
		if r.Invocation.Source != source {
			continue
		}
		if text := strings.TrimSpace(r.Result.Content); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n\n")
}
