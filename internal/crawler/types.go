package crawler

import (
	"regexp"
	"time"
)

// UndefinedLabel is the page type assigned to URLs that match no rule.
const UndefinedLabel = "undefined"

// URLEntry is one crawl target as reported by the URL source.
type URLEntry struct {
	URI          string    `json:"uri"`
	LastModified time.Time `json:"last_modified"`
}

// PageTypeRule maps URLs matching Pattern to Label. Rules are evaluated in
// declaration order.
type PageTypeRule struct {
	Label   string
	Pattern *regexp.Regexp
}

// CacheRecord is the last known rendered state of one URL.
type CacheRecord struct {
	ID               string    `json:"id,omitempty"`
	URLHash          string    `json:"hash"`
	URL              string    `json:"url"`
	RenderedAt       time.Time `json:"renderDate"`
	SourceModifiedAt time.Time `json:"lastmodDate"`
	ContentHash      string    `json:"contentHash"`
	Content          []byte    `json:"content"`
}

// Reason describes how a single URL render concluded.
type Reason string

// Render outcome reasons.
const (
	ReasonCreated          Reason = "created"
	ReasonUpdated          Reason = "updated"
	ReasonSourceUnchanged  Reason = "source_unchanged"
	ReasonContentUnchanged Reason = "content_unchanged"
	ReasonNoIndex          Reason = "noindex"
	ReasonFailed           Reason = "failed"
	ReasonCanceled         Reason = "canceled"
)

// Outcome is the ephemeral result of rendering one URL.
type Outcome struct {
	Skipped bool
	Reason  Reason
	Elapsed time.Duration
	Err     error
}

// Passed reports whether the outcome counts towards the passed counter.
func (o Outcome) Passed() bool {
	return o.Err == nil && o.Reason != ReasonFailed && o.Reason != ReasonCanceled
}

// RunCounters aggregates pass totals for one pipeline run.
type RunCounters struct {
	Passed int `json:"passed"`
	Total  int `json:"total"`
}
