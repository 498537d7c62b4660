// Package classifier assigns page type labels to URLs using ordered regex
// rules and partitions URL lists into per-label groups.
package classifier

import (
	"fmt"
	"regexp"

	"github.com/JakeFAU/html-cache-renderer/internal/config"
	"github.com/JakeFAU/html-cache-renderer/internal/crawler"
)

// Classifier evaluates rules in declaration order. It is immutable and safe
// for concurrent use.
type Classifier struct {
	rules []crawler.PageTypeRule
}

// Group is one label bucket produced by Classifier.Group.
type Group struct {
	Label   string
	Entries []crawler.URLEntry
}

// Compile turns configured page types into case-insensitive rules.
func Compile(specs []config.PageType) ([]crawler.PageTypeRule, error) {
	rules := make([]crawler.PageTypeRule, 0, len(specs))
	for _, spec := range specs {
		re, err := regexp.Compile("(?i)" + spec.Regex)
		if err != nil {
			return nil, fmt.Errorf("compile page type %q: %w", spec.Type, err)
		}
		rules = append(rules, crawler.PageTypeRule{Label: spec.Type, Pattern: re})
	}
	return rules, nil
}

// New builds a Classifier over rules. Rules with a nil pattern never match.
func New(rules []crawler.PageTypeRule) *Classifier {
	return &Classifier{rules: append([]crawler.PageTypeRule(nil), rules...)}
}

// Classify returns the label of the first rule matching uri, or
// crawler.UndefinedLabel.
func (c *Classifier) Classify(uri string) string {
	for _, rule := range c.rules {
		if rule.Pattern != nil && rule.Pattern.MatchString(uri) {
			return rule.Label
		}
	}
	return crawler.UndefinedLabel
}

// Labels lists the bucket order used by Group: undefined first, then each
// distinct rule label in declaration order.
func (c *Classifier) Labels() []string {
	labels := []string{crawler.UndefinedLabel}
	seen := map[string]struct{}{crawler.UndefinedLabel: {}}
	for _, rule := range c.rules {
		if _, ok := seen[rule.Label]; ok {
			continue
		}
		seen[rule.Label] = struct{}{}
		labels = append(labels, rule.Label)
	}
	return labels
}

// Group partitions entries by label. Every label from Labels is present, even
// when empty, and entries keep their input order within a bucket.
func (c *Classifier) Group(entries []crawler.URLEntry) []Group {
	labels := c.Labels()
	index := make(map[string]int, len(labels))
	groups := make([]Group, len(labels))
	for i, label := range labels {
		index[label] = i
		groups[i] = Group{Label: label}
	}
	for _, entry := range entries {
		i := index[c.Classify(entry.URI)]
		groups[i].Entries = append(groups[i].Entries, entry)
	}
	return groups
}
