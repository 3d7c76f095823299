package session

import "strings"

// DefaultOffTopicKeywords are the keywords rejected when no other list is configured.
var DefaultOffTopicKeywords = []string{"monster truck", "toy sales", "car race", "alien", "sports game"}

// Denylist is a set of lowercase keywords. An input containing any of them is considered unrelated to the
// dataset.
type Denylist map[string]struct{}

// NewDenylist builds a Denylist from keywords. Blank keywords are skipped.
func NewDenylist(keywords ...string) Denylist {
	d := make(Denylist, len(keywords))
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		d[k] = struct{}{}
	}
	return d
}

// Match reports the first keyword found in input, compared case-insensitively.
func (d Denylist) Match(input string) (string, bool) {
	lower := strings.ToLower(input)
	for k := range d {
		if strings.Contains(lower, k) {
			return k, true
		}
	}
	return "", false
}
