// Package rules scores texts against per-domain keyword lists and produces
// an override domain only when the keyword evidence is decisive.
package rules

import (
	"sort"
	"strings"

	"labelqa/internal/taxonomy"
)

// Match returns the domain whose keywords decisively dominate the text, or
// ("", false) when the evidence is absent or ambiguous. Each keyword counts
// at most once regardless of repetition. A single domain with any hits wins
// outright; with competing domains the top one wins only when it has at
// least 2 hits and strictly more than twice the runner-up.
func Match(text string, keywords map[string][]string) (string, bool) {
	lower := strings.ToLower(text)

	type score struct {
		domain string
		hits   int
	}
	var scores []score
	for domain, list := range keywords {
		hits := 0
		for _, kw := range list {
			if kw != "" && strings.Contains(lower, kw) {
				hits++
			}
		}
		if hits > 0 {
			scores = append(scores, score{domain, hits})
		}
	}

	if len(scores) == 0 {
		return "", false
	}
	if len(scores) == 1 {
		return scores[0].domain, true
	}

	// Ties sort by canonical position so the result never depends on map
	// iteration order.
	sort.SliceStable(scores, func(a, b int) bool {
		if scores[a].hits != scores[b].hits {
			return scores[a].hits > scores[b].hits
		}
		return canonIndex(scores[a].domain) < canonIndex(scores[b].domain)
	})

	top, second := scores[0], scores[1]
	if top.hits >= 2 && top.hits > second.hits*2 {
		return top.domain, true
	}
	return "", false
}

func canonIndex(domain string) int {
	for i, d := range taxonomy.Canon() {
		if d == domain {
			return i
		}
	}
	return len(taxonomy.Canon())
}
