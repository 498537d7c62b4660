package worker

import (
	"fmt"
	"regexp"
	"strings"
)

// Normalizer strips volatile fragments from rendered HTML so that immaterial
// differences do not change the content fingerprint.
type Normalizer struct {
	markers  []string
	patterns []*regexp.Regexp
}

// NewNormalizer compiles the strip patterns. Literal markers are removed
// verbatim; patterns are removed wherever they match.
func NewNormalizer(markers, patterns []string) (*Normalizer, error) {
	n := &Normalizer{}
	for _, m := range markers {
		if m != "" {
			n.markers = append(n.markers, m)
		}
	}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile strip pattern %q: %w", p, err)
		}
		n.patterns = append(n.patterns, re)
	}
	return n, nil
}

// Normalize returns html without the configured fragments.
func (n *Normalizer) Normalize(html string) string {
	if n == nil {
		return html
	}
	for _, m := range n.markers {
		html = strings.ReplaceAll(html, m, "")
	}
	for _, re := range n.patterns {
		html = re.ReplaceAllString(html, "")
	}
	return html
}

// PrerenderURL appends the prerender query parameter to uri, keeping any
// fragment at the end.
func PrerenderURL(uri, param string) string {
	if param == "" {
		return uri
	}
	base, fragment, hasFragment := strings.Cut(uri, "#")
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	out := base + sep + param
	if hasFragment {
		out += "#" + fragment
	}
	return out
}
