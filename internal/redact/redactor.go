// Package redact removes sensitive tokens from raw message text before it
// crosses the trust boundary to the extraction backend.
package redact

import (
	"fmt"
	"regexp"
	"strings"
)

// Rule describes one sensitive-pattern class and its stable placeholder.
type Rule struct {
	Name        string
	Regex       string
	Placeholder string
}

// compiledRule holds a compiled regex rule.
type compiledRule struct {
	compiledRegex *regexp.Regexp
	Rule
}

// Redactor replaces sensitive token classes with stable placeholders.
// Redaction is deterministic: the same input always yields the same output,
// which keeps fingerprints stable. It never fails; unmatched text passes
// through unchanged.
type Redactor struct {
	rules []compiledRule
}

// DefaultRules returns the built-in sensitive-pattern classes. Rules are
// applied in order, so broader digit runs (card numbers) are claimed before
// narrower ones (phone numbers).
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:        "card",
			Regex:       `\b(?:\d{4}[ -]?){3}\d{1,4}\b`,
			Placeholder: "<CARD>",
		},
		{
			Name:        "ssn",
			Regex:       `\b\d{3}-\d{2}-\d{4}\b`,
			Placeholder: "<SSN>",
		},
		{
			Name:        "account",
			Regex:       `(?i)\b(?:acct|account)\s*(?:number|no\.?|#)?[:\s]*\d{6,17}\b`,
			Placeholder: "<ACCOUNT>",
		},
		{
			Name:        "iban",
			Regex:       `\b[A-Z]{2}\d{2}[A-Z0-9]{10,30}\b`,
			Placeholder: "<ACCOUNT>",
		},
		{
			Name:        "email",
			Regex:       `\b[\w.+-]+@[\w-]+\.[\w.-]+\b`,
			Placeholder: "<EMAIL>",
		},
		{
			Name:        "phone",
			Regex:       `(?:\+?\d{1,3}[ .-])?\(?\d{3}\)?[ .-]\d{3}[ .-]?\d{4}\b`,
			Placeholder: "<PHONE>",
		},
	}
}

// NewRedactor creates a redactor with the given rules. Patterns are compiled
// once up front.
func NewRedactor(rules []Rule) (*Redactor, error) {
	compiled := make([]compiledRule, 0, len(rules))

	for _, r := range rules {
		if strings.TrimSpace(r.Placeholder) == "" {
			return nil, fmt.Errorf("rule %s has no placeholder", r.Name)
		}

		regex, err := regexp.Compile(r.Regex)
		if err != nil {
			return nil, fmt.Errorf("failed to compile rule %s: %w", r.Name, err)
		}

		compiled = append(compiled, compiledRule{
			Rule:          r,
			compiledRegex: regex,
		})
	}

	return &Redactor{rules: compiled}, nil
}

// NewDefaultRedactor creates a redactor with the built-in rules.
func NewDefaultRedactor() *Redactor {
	r, err := NewRedactor(DefaultRules())
	if err != nil {
		// Built-in rules are compile-time constants; a failure here is a bug.
		panic(fmt.Sprintf("default redaction rules failed to compile: %v", err))
	}
	return r
}

// Redact replaces every occurrence of each rule's pattern with its
// placeholder, applying rules in declaration order.
func (r *Redactor) Redact(text string) string {
	for _, rule := range r.rules {
		text = rule.compiledRegex.ReplaceAllString(text, rule.Placeholder)
	}
	return text
}

// RuleCount returns the number of loaded rules.
func (r *Redactor) RuleCount() int {
	return len(r.rules)
}
