package similarity

import (
	"fmt"
	"log"
	"strings"
)

// Report holds the paired similarity metrics for one (original, candidate)
// text pair. Plain data; rejection is expressed as IsValid=false plus
// issues, never as an error.
type Report struct {
	Semantic     float64  `json:"semantic_similarity"`
	EditDistance int      `json:"edit_distance"`
	EditRatio    float64  `json:"edit_ratio"`
	IsValid      bool     `json:"is_valid"`
	Issues       []string `json:"issues,omitempty"`
}

// Thresholds are the two-sided acceptance bounds for a pair.
type Thresholds struct {
	MinSemantic     float64
	MaxSemantic     float64
	MinEditDistance int
	MaxEditRatio    float64
}

// DefaultThresholds returns the standard paraphrase acceptance bounds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinSemantic:     0.3,
		MaxSemantic:     0.95,
		MinEditDistance: 3,
		MaxEditRatio:    0.8,
	}
}

// Validate rejects threshold combinations that could never accept anything.
func (t Thresholds) Validate() error {
	if t.MinSemantic < 0 || t.MinSemantic > 1 {
		return fmt.Errorf("min semantic similarity %.2f outside [0,1]", t.MinSemantic)
	}
	if t.MaxSemantic < 0 || t.MaxSemantic > 1 {
		return fmt.Errorf("max semantic similarity %.2f outside [0,1]", t.MaxSemantic)
	}
	if t.MinSemantic >= t.MaxSemantic {
		return fmt.Errorf("min semantic %.2f must be below max semantic %.2f", t.MinSemantic, t.MaxSemantic)
	}
	if t.MinEditDistance < 0 {
		return fmt.Errorf("min edit distance %d must be >= 0", t.MinEditDistance)
	}
	if t.MaxEditRatio <= 0 || t.MaxEditRatio > 1 {
		return fmt.Errorf("max edit ratio %.2f outside (0,1]", t.MaxEditRatio)
	}
	return nil
}

// Compare computes the semantic and lexical similarity of a pair. The
// TF-IDF space is fitted over reference ∪ {a, b}; with a degenerate space
// (empty vocabulary) the semantic score falls back to a neutral 0.5 with a
// logged warning. Deterministic: identical inputs always yield an identical
// Report.
func Compare(a, b string, reference []string, th Thresholds) Report {
	corpus := make([]string, 0, len(reference)+2)
	corpus = append(corpus, reference...)
	corpus = append(corpus, a, b)

	var semantic float64
	idx := BuildIndex(corpus)
	if idx.VocabSize() == 0 {
		log.Printf("similarity degenerate vector space, using neutral fallback texts=%d", len(corpus))
		semantic = 0.5
	} else {
		semantic = Cosine(idx.DocVec(len(corpus)-2), idx.DocVec(len(corpus)-1))
	}

	lowerA := strings.ToLower(a)
	lowerB := strings.ToLower(b)
	dist := Levenshtein(lowerA, lowerB)
	ratio := EditRatio(lowerA, lowerB)

	var issues []string
	if semantic > th.MaxSemantic {
		issues = append(issues, fmt.Sprintf("semantic similarity too high: %.3f > %.2f (near-duplicate)", semantic, th.MaxSemantic))
	}
	if semantic < th.MinSemantic {
		issues = append(issues, fmt.Sprintf("semantic similarity too low: %.3f < %.2f (meaning drifted)", semantic, th.MinSemantic))
	}
	if dist < th.MinEditDistance {
		issues = append(issues, fmt.Sprintf("too few changes: edit distance %d < %d", dist, th.MinEditDistance))
	}
	if ratio > th.MaxEditRatio {
		issues = append(issues, fmt.Sprintf("too many changes: edit ratio %.3f > %.2f", ratio, th.MaxEditRatio))
	}

	return Report{
		Semantic:     semantic,
		EditDistance: dist,
		EditRatio:    ratio,
		IsValid:      len(issues) == 0,
		Issues:       issues,
	}
}
