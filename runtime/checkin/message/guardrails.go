package message

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// GuardrailRule names the check a message failed.
type GuardrailRule string

const (
	RuleTooShort          GuardrailRule = "too_short"
	RuleTooLong           GuardrailRule = "too_long"
	RuleForbiddenTopic    GuardrailRule = "forbidden_topic"
	RuleDiscouragedPhrase GuardrailRule = "discouraged_phrase"
	RuleClinicalLanguage  GuardrailRule = "clinical_language"
)

// GuardrailError reports why a message was rejected.
type GuardrailError struct {
	Rule  GuardrailRule
	Match string
}

func (e *GuardrailError) Error() string {
	if e.Match == "" {
		return fmt.Sprintf("guardrail %s", e.Rule)
	}
	return fmt.Sprintf("guardrail %s: %q", e.Rule, e.Match)
}

var (
	// ForbiddenTopics are matched as case-insensitive substrings.
	ForbiddenTopics = []string{
		"death", "dying", "funeral",
		"finances", "money", "debt",
		"politics", "election",
		"religion", "church", "god",
		"weight loss", "diet",
	}

	// DiscouragedPhrases are directive phrasings that read as orders.
	DiscouragedPhrases = []string{
		"you should", "you must", "you need to", "don't forget", "remember to",
	}

	// ClinicalWords are matched as whole words.
	ClinicalWords = []string{"patient", "diagnosis", "symptoms", "treatment", "condition"}

	clinicalPattern = regexp.MustCompile(`(?i)\b(` + strings.Join(ClinicalWords, "|") + `)\b`)
)

// Validate checks text against the content guardrails. It returns a
// *GuardrailError describing the first violation found.
func Validate(text string, c Constraints) error {
	c = c.withDefaults()
	n := utf8.RuneCountInString(text)
	if n < c.MinLength {
		return &GuardrailError{Rule: RuleTooShort}
	}
	if float64(n) > float64(c.MaxLength)*1.5 {
		return &GuardrailError{Rule: RuleTooLong}
	}
	lower := strings.ToLower(text)
	lower = strings.ReplaceAll(lower, "’", "'")
	for _, topic := range ForbiddenTopics {
		if strings.Contains(lower, topic) {
			return &GuardrailError{Rule: RuleForbiddenTopic, Match: topic}
		}
	}
	for _, phrase := range DiscouragedPhrases {
		if strings.Contains(lower, phrase) {
			return &GuardrailError{Rule: RuleDiscouragedPhrase, Match: phrase}
		}
	}
	if m := clinicalPattern.FindString(text); m != "" {
		return &GuardrailError{Rule: RuleClinicalLanguage, Match: strings.ToLower(m)}
	}
	return nil
}

// clean trims whitespace and a single pair of wrapping quotes that models
// tend to add around short answers.
func clean(text string) string {
	text = strings.TrimSpace(text)
	for _, q := range [][2]string{{`"`, `"`}, {"“", "”"}, {"'", "'"}} {
		if len(text) >= len(q[0])+len(q[1]) && strings.HasPrefix(text, q[0]) && strings.HasSuffix(text, q[1]) {
			return strings.TrimSpace(text[len(q[0]) : len(text)-len(q[1])])
		}
	}
	return text
}
