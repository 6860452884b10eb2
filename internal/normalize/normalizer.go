package normalize

import (
	"math"
	"time"

	"github.com/receiptflow/receiptflow/internal/model"
)

// Config holds the normalization policy knobs.
type Config struct {
	DefaultCurrency     string
	ConfidenceThreshold float64
	ClockSkew           time.Duration
}

// DefaultConfig returns the default normalization policy.
func DefaultConfig() Config {
	return Config{
		DefaultCurrency:     "USD",
		ConfidenceThreshold: 0.7,
		ClockSkew:           26 * time.Hour,
	}
}

// Normalizer converts extraction candidates into canonical expense drafts.
// Normalize is a pure function: the same candidate, received time, and body
// text always yield an identical draft. It never fails — problem fields are
// defaulted or flagged, and a needs_review draft is still persisted.
type Normalizer struct {
	classifier *KeywordClassifier
	cfg        Config
}

// New creates a normalizer with the given policy and fallback classifier.
func New(cfg Config, classifier *KeywordClassifier) *Normalizer {
	if cfg.DefaultCurrency == "" {
		cfg.DefaultCurrency = "USD"
	}
	if cfg.ConfidenceThreshold == 0 {
		cfg.ConfidenceThreshold = 0.7
	}
	if cfg.ClockSkew == 0 {
		cfg.ClockSkew = 26 * time.Hour
	}
	return &Normalizer{cfg: cfg, classifier: classifier}
}

// Normalize validates and canonicalizes a candidate. receivedAt anchors the
// date fallback and the future-date check; bodyText feeds the keyword
// fallback classifier.
func (n *Normalizer) Normalize(candidate model.ExtractionCandidate, receivedAt time.Time, bodyText string) model.ExpenseDraft {
	draft := model.ExpenseDraft{
		Vendor:     candidate.Vendor,
		Confidence: candidate.Confidence,
		Status:     model.StatusClean,
	}

	defaulted := false
	needsReview := false

	// Amount: non-negative, at most two fractional digits. A zero amount is
	// treated as missing — receipts are for money spent.
	if amount, ok := validAmount(candidate.Amount); ok {
		draft.Amount = &amount
	} else {
		draft.Amount = nil
		needsReview = true
	}

	// Date: must be a real date no further in the future than the clock-skew
	// tolerance allows; otherwise fall back to the message's received date.
	if validDate(candidate.Date, receivedAt, n.cfg.ClockSkew) {
		draft.Date = candidate.Date
	} else {
		draft.Date = receivedAt.Truncate(24 * time.Hour)
		defaulted = true
	}

	// Currency: default fill when the backend didn't report one.
	if candidate.Currency != "" {
		draft.Currency = candidate.Currency
	} else {
		draft.Currency = n.cfg.DefaultCurrency
		defaulted = true
	}

	// Category: trusted as-is above the confidence threshold, otherwise
	// replaced by the deterministic keyword fallback.
	if candidate.Category != "" && candidate.Confidence >= n.cfg.ConfidenceThreshold {
		draft.Category = candidate.Category
	} else {
		draft.Category = n.classifier.Classify(candidate.Vendor, bodyText)
		defaulted = true
	}

	// Vendor passes through; missing vendor combined with low confidence is
	// worth a human look.
	if candidate.Vendor == "" && candidate.Confidence < n.cfg.ConfidenceThreshold {
		needsReview = true
	}

	switch {
	case needsReview:
		draft.Status = model.StatusNeedsReview
	case defaulted:
		draft.Status = model.StatusDefaulted
	}

	return draft
}

// validAmount checks that an amount is positive with at most two fractional
// digits, returning it rounded to cents.
func validAmount(amount float64) (float64, bool) {
	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return 0, false
	}

	cents := amount * 100
	if math.Abs(cents-math.Round(cents)) > 1e-6 {
		return 0, false
	}

	return math.Round(cents) / 100, true
}

// validDate checks that a date is set and not in the future beyond the
// clock-skew tolerance relative to when the message arrived.
func validDate(date, receivedAt time.Time, skew time.Duration) bool {
	if date.IsZero() {
		return false
	}
	return !date.After(receivedAt.Add(skew))
}
