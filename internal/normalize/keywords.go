// Package normalize turns extraction candidates into canonical expense
// drafts: type and range checks, deterministic fallbacks for low-confidence
// or missing fields, and a validation status tag for downstream review.
package normalize

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// KeywordRule maps a vendor/body pattern to an expense category. Higher
// priority rules are checked first.
type KeywordRule struct {
	Category string
	Regex    string
	Priority int
}

// compiledKeywordRule holds a compiled rule.
type compiledKeywordRule struct {
	compiledRegex *regexp.Regexp
	KeywordRule
}

// KeywordClassifier is the deterministic fallback used when the backend's
// category can't be trusted.
type KeywordClassifier struct {
	rules []compiledKeywordRule
}

// UncategorizedCategory is assigned when no fallback rule matches.
const UncategorizedCategory = "Uncategorized"

// DefaultKeywordRules returns the built-in category fallback rules.
func DefaultKeywordRules() []KeywordRule {
	return []KeywordRule{
		{
			Category: "Food & Dining",
			Regex:    `\b(CAFE|COFFEE|RESTAURANT|PIZZA|BURGER|DINER|BAKERY|BISTRO|GRILL|SUSHI|DELI)\b`,
			Priority: 90,
		},
		{
			Category: "Groceries",
			Regex:    `\b(GROCERY|GROCER|SUPERMARKET|MARKET|FOODS)\b`,
			Priority: 85,
		},
		{
			Category: "Transport",
			Regex:    `\b(UBER|LYFT|TAXI|TRANSIT|METRO|PARKING|FUEL|GAS\s*STATION|TOLL)\b`,
			Priority: 85,
		},
		{
			Category: "Travel",
			Regex:    `\b(HOTEL|MOTEL|AIRLINE|AIRWAYS|FLIGHT|AIRBNB|HOSTEL|RENTAL\s*CAR)\b`,
			Priority: 80,
		},
		{
			Category: "Utilities",
			Regex:    `\b(ELECTRIC|WATER\s*BILL|INTERNET|BROADBAND|PHONE\s*BILL|UTILITY)\b`,
			Priority: 80,
		},
		{
			Category: "Entertainment",
			Regex:    `\b(CINEMA|THEATER|NETFLIX|SPOTIFY|CONCERT|STREAMING|GAME)\b`,
			Priority: 75,
		},
		{
			Category: "Health",
			Regex:    `\b(PHARMACY|CLINIC|DENTAL|MEDICAL|HOSPITAL|DRUGSTORE)\b`,
			Priority: 75,
		},
		{
			Category: "Shopping",
			Regex:    `\b(AMAZON|STORE|MALL|RETAIL|OUTLET|SHOP)\b`,
			Priority: 60,
		},
	}
}

// NewKeywordClassifier compiles the given rules. Rules are made
// case-insensitive and sorted by priority, highest first, with category name
// as a deterministic tiebreak.
func NewKeywordClassifier(rules []KeywordRule) (*KeywordClassifier, error) {
	compiled := make([]compiledKeywordRule, 0, len(rules))

	for _, r := range rules {
		regexStr := r.Regex
		if !strings.HasPrefix(regexStr, "(?i)") {
			regexStr = "(?i)" + regexStr
		}

		regex, err := regexp.Compile(regexStr)
		if err != nil {
			return nil, fmt.Errorf("failed to compile rule %s: %w", r.Category, err)
		}

		compiled = append(compiled, compiledKeywordRule{
			KeywordRule:   r,
			compiledRegex: regex,
		})
	}

	sort.SliceStable(compiled, func(i, j int) bool {
		if compiled[i].Priority != compiled[j].Priority {
			return compiled[i].Priority > compiled[j].Priority
		}
		return compiled[i].Category < compiled[j].Category
	})

	return &KeywordClassifier{rules: compiled}, nil
}

// Classify returns the category of the first matching rule, or
// UncategorizedCategory if nothing matches.
func (kc *KeywordClassifier) Classify(vendor, bodyText string) string {
	searchText := vendor + " " + bodyText

	for _, rule := range kc.rules {
		if rule.compiledRegex.MatchString(searchText) {
			return rule.Category
		}
	}

	return UncategorizedCategory
}

// RuleCount returns the number of loaded rules.
func (kc *KeywordClassifier) RuleCount() int {
	return len(kc.rules)
}
