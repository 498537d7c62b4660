// Package staleness decides whether a cached render can be reused. The cheap
// check compares the source last-modified timestamp; the authoritative check
// compares content fingerprints after rendering.
package staleness

import (
	"time"

	"github.com/JakeFAU/html-cache-renderer/internal/crawler"
)

// Decision is the verdict for one URL.
type Decision int

// Decision values.
const (
	Update Decision = iota
	SkipSourceUnchanged
	SkipContentUnchanged
)

func (d Decision) String() string {
	switch d {
	case SkipSourceUnchanged:
		return "skip_source_unchanged"
	case SkipContentUnchanged:
		return "skip_content_unchanged"
	default:
		return "update"
	}
}

// Skip reports whether the decision avoids a cache write.
func (d Decision) Skip() bool {
	return d != Update
}

// CheckSource is the stage-1 check. It needs no rendered content.
func CheckSource(existing *crawler.CacheRecord, entry crawler.URLEntry) Decision {
	if existing != nil && existing.SourceModifiedAt.Equal(entry.LastModified) {
		return SkipSourceUnchanged
	}
	return Update
}

// CheckContent is the stage-2 check against a freshly rendered fingerprint.
func CheckContent(existing *crawler.CacheRecord, contentHash string) Decision {
	if existing != nil && existing.ContentHash == contentHash {
		return SkipContentUnchanged
	}
	return Update
}

// Decide applies both stages, cheapest first.
func Decide(existing *crawler.CacheRecord, entry crawler.URLEntry, contentHash string) Decision {
	if d := CheckSource(existing, entry); d.Skip() {
		return d
	}
	return CheckContent(existing, contentHash)
}

// Merge builds the record to upsert after an Update decision. The existing
// ID is preserved and every other field is overwritten.
func Merge(existing *crawler.CacheRecord, entry crawler.URLEntry, urlHash string, content []byte, contentHash string, now time.Time) crawler.CacheRecord {
	record := crawler.CacheRecord{
		URLHash:          urlHash,
		URL:              entry.URI,
		RenderedAt:       now,
		SourceModifiedAt: entry.LastModified,
		ContentHash:      contentHash,
		Content:          content,
	}
	if existing != nil {
		record.ID = existing.ID
	}
	return record
}
