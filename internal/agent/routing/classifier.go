package routing

import (
	"regexp"
	"strings"
)

// Profile names a model configuration tuned for a kind of question.
type Profile string

const (
	// ProfileDefault serves operational turns: lookups, commands, short answers.
	ProfileDefault    Profile = "default"
	ProfileAnalytical Profile = "analytical"
	ProfileKnowledge  Profile = "knowledge"
)

// Valid reports whether p is a known profile.
func (p Profile) Valid() bool {
	switch p {
	case ProfileDefault, ProfileAnalytical, ProfileKnowledge:
		return true
	}
	return false
}

// predicate selects a profile when its pattern matches the utterance.
type predicate struct {
	profile Profile
	pattern *regexp.Regexp
}

var (
	analyticalRegex = regexp.MustCompile(`(?i)\b(compar\w*|an[aá]lis\w*|analy[sz]\w*|por qu[eê]|why|tend[eê]nci\w*|trend\w*|evolu[cç]\w*|diferen[cç]a entre|difference between|tradeoffs?)`)
	knowledgeRegex  = regexp.MustCompile(`(?i)\b(o que (é|e |s[aã]o)|what (is|are)\b|expli(que|ca|car|ain)\w*|hist[oó]ria d[aeo]|history of|quem (foi|é)|who (was|is)\b|defin(a|e|ir)\b)`)
)

// Classifier maps an utterance to a Profile. Predicates are evaluated in
// order and the first match wins.
type Classifier struct {
	predicates []predicate
}

// NewClassifier returns the default classifier: analytical before knowledge.
func NewClassifier() *Classifier {
	return &Classifier{predicates: []predicate{
		{profile: ProfileAnalytical, pattern: analyticalRegex},
		{profile: ProfileKnowledge, pattern: knowledgeRegex},
	}}
}

// Classify returns the profile for the utterance. It is pure.
func (c *Classifier) Classify(utterance string) Profile {
	content := strings.TrimSpace(utterance)
	if content == "" {
		return ProfileDefault
	}
	for _, p := range c.predicates {
		if p.pattern.MatchString(content) {
			return p.profile
		}
	}
	return ProfileDefault
}
