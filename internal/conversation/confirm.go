package conversation

import (
	"github.com/helenomaffra-crypto/Chat-IA2-Independente-sub000/internal/policy"
)

// Confirmation is the classification of a reply to a pending action.
type Confirmation int

const (
	ConfirmationNone Confirmation = iota
	ConfirmationAccept
	ConfirmationReject
)

func (c Confirmation) String() string {
	switch c {
	case ConfirmationAccept:
		return "accept"
	case ConfirmationReject:
		return "reject"
	default:
		return "none"
	}
}

var (
	acceptVocabulary = vocabulary(
		"sim", "s", "yes", "y", "ok", "okay",
		"confirmo", "confirmar", "confirma",
		"pode", "pode sim", "manda", "isso", "go ahead",
		"sim, pode", "pode enviar", "pode criar",
	)
	rejectVocabulary = vocabulary(
		"não", "nao", "no", "cancela", "cancelar", "cancel",
	)
)

func vocabulary(words ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[policy.Normalize(w)] = struct{}{}
	}
	return set
}

// ClassifyConfirmation matches the whole normalized utterance against closed
// vocabularies. Words that merely contain an affirmative ("simples") are not
// confirmations.
func ClassifyConfirmation(utterance string) Confirmation {
	normalized := policy.Normalize(utterance)
	if normalized == "" {
		return ConfirmationNone
	}
	if _, ok := acceptVocabulary[normalized]; ok {
		return ConfirmationAccept
	}
	if _, ok := rejectVocabulary[normalized]; ok {
		return ConfirmationReject
	}
	return ConfirmationNone
}
