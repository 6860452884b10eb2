package extract

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/receiptflow/receiptflow/internal/common"
	"github.com/receiptflow/receiptflow/internal/model"
)

// wireCandidate mirrors the backend's loosely typed response shape. Numeric
// fields arrive as numbers or strings depending on the backend's mood, so
// everything is coerced after decoding.
type wireCandidate struct {
	Date       string          `json:"date"`
	Amount     json.RawMessage `json:"amount"`
	Currency   string          `json:"currency"`
	Vendor     string          `json:"vendor"`
	Category   string          `json:"category"`
	Confidence json.RawMessage `json:"confidence"`
}

// dateLayouts are tried in order when parsing the candidate date.
var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"01/02/2006",
	"1/2/2006",
	"Jan 2, 2006",
	"2 Jan 2006",
}

// parseCandidate resolves the backend's polymorphic payload into a candidate.
// Any JSON object is accepted: unusable fields decay to zero values and the
// normalizer's fallback rules deal with them. Output that is not a JSON
// object at all is malformed.
func parseCandidate(body string) (model.ExtractionCandidate, error) {
	content := cleanMarkdownWrapper(body)

	var wire wireCandidate
	if err := json.Unmarshal([]byte(content), &wire); err != nil {
		return model.ExtractionCandidate{}, fmt.Errorf("%w: %v", common.ErrBackendMalformed, err)
	}

	candidate := model.ExtractionCandidate{
		Vendor:   strings.TrimSpace(wire.Vendor),
		Currency: strings.ToUpper(strings.TrimSpace(wire.Currency)),
		Category: strings.TrimSpace(wire.Category),
	}

	if d, ok := parseDate(wire.Date); ok {
		candidate.Date = d
	}
	if amount, ok := coerceFloat(wire.Amount); ok {
		candidate.Amount = amount
	}
	if conf, ok := coerceFloat(wire.Confidence); ok {
		candidate.Confidence = clamp01(conf)
	}

	return candidate, nil
}

// parseDate tries each known layout.
func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if d, err := time.Parse(layout, s); err == nil {
			return d, true
		}
	}
	return time.Time{}, false
}

// coerceFloat accepts a JSON number, or a string with optional currency
// symbols and thousands separators.
func coerceFloat(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}

	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}

	// Strip everything that isn't a digit, sign, or decimal point.
	cleaned := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' || r == '-' {
			return r
		}
		return -1
	}, s)

	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// cleanMarkdownWrapper strips ```json fences the backend sometimes wraps
// around its payload.
func cleanMarkdownWrapper(content string) string {
	content = strings.TrimSpace(content)

	if strings.HasPrefix(content, "```") {
		if idx := strings.Index(content, "\n"); idx >= 0 {
			content = content[idx+1:]
		}
		content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	}

	return strings.TrimSpace(content)
}
