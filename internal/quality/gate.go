// Package quality gates synthetic paraphrases on paired similarity
// metrics and scores assembled corpora for duplicates, balance and
// confidence.
package quality

import (
	"fmt"
	"log"
	"sync"

	"labelqa/internal/similarity"
)

// GateStats counts gate decisions, broken down by which threshold
// rejected the candidate. A candidate failing several checks bumps
// several counters.
type GateStats struct {
	TotalChecked           int `json:"total_checked"`
	Passed                 int `json:"passed"`
	RejectedLowSimilarity  int `json:"rejected_low_similarity"`
	RejectedHighSimilarity int `json:"rejected_high_similarity"`
	RejectedFewChanges     int `json:"rejected_few_changes"`
	RejectedManyChanges    int `json:"rejected_many_changes"`
	Dropped                int `json:"dropped"`
}

// Gate applies two-sided similarity thresholds to (original, candidate)
// pairs. In strict mode failing candidates are dropped; otherwise the
// failing report is surfaced and the caller decides.
type Gate struct {
	thresholds similarity.Thresholds
	strict     bool

	mu    sync.Mutex
	stats GateStats
}

// NewGate validates the thresholds once so per-pair checks cannot fail.
func NewGate(th similarity.Thresholds, strict bool) (*Gate, error) {
	if err := th.Validate(); err != nil {
		return nil, fmt.Errorf("quality gate config: %w", err)
	}
	return &Gate{thresholds: th, strict: strict}, nil
}

// Strict reports whether failing candidates are dropped.
func (g *Gate) Strict() bool { return g.strict }

// Check compares candidate against original inside the reference corpus
// vector space. The returned keep flag is false only in strict mode for
// a failing report; non-strict callers always receive keep=true together
// with the full report. Identical inputs always produce the identical
// report, so a rejected candidate resubmitted unchanged is rejected with
// the same issues.
func (g *Gate) Check(original, candidate string, reference []string) (similarity.Report, bool) {
	rep := similarity.Compare(original, candidate, reference, g.thresholds)

	g.mu.Lock()
	g.stats.TotalChecked++
	if rep.IsValid {
		g.stats.Passed++
	} else {
		if rep.Semantic < g.thresholds.MinSemantic {
			g.stats.RejectedLowSimilarity++
		}
		if rep.Semantic > g.thresholds.MaxSemantic {
			g.stats.RejectedHighSimilarity++
		}
		if rep.EditDistance < g.thresholds.MinEditDistance {
			g.stats.RejectedFewChanges++
		}
		if rep.EditRatio > g.thresholds.MaxEditRatio {
			g.stats.RejectedManyChanges++
		}
		if g.strict {
			g.stats.Dropped++
		}
	}
	g.mu.Unlock()

	if !rep.IsValid {
		log.Printf("quality gate failed candidate=%.50q issues=%d strict=%t", candidate, len(rep.Issues), g.strict)
		if g.strict {
			return rep, false
		}
	}
	return rep, true
}

// Stats returns a copy of the decision counters.
func (g *Gate) Stats() GateStats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stats
}
