package model

import "time"

// Provenance records which backend produced a candidate and how long it took.
type Provenance struct {
	TemplateID string
	BackendID  string
	Latency    time.Duration
}

// ExtractionCandidate is the unvalidated structured output of one successful
// extraction backend call. Candidates are never mutated after creation; a
// retry produces a new candidate.
type ExtractionCandidate struct {
	Date       time.Time
	Vendor     string
	Currency   string
	Category   string
	Provenance Provenance
	Amount     float64
	Confidence float64
}
