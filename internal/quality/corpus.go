package quality

import (
	"fmt"
	"log"
	"math"
	"unicode/utf8"

	"labelqa/internal/similarity"
)

// DefaultDuplicateThreshold is the cosine similarity at which two texts
// count as duplicates.
const DefaultDuplicateThreshold = 0.95

// Item is one corpus entry. Confidence is optional; items without one
// are excluded from the confidence average.
type Item struct {
	Text       string   `json:"text"`
	Domain     string   `json:"domain"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// DuplicatePair marks two corpus indexes whose texts are near-identical.
type DuplicatePair struct {
	A          int     `json:"index_a"`
	B          int     `json:"index_b"`
	Similarity float64 `json:"similarity"`
}

// FindDuplicates vectorizes the corpus once and emits every unordered
// pair at or above the threshold. Pairwise comparison is O(n^2); fine
// for batches up to low tens of thousands of texts, not beyond.
func FindDuplicates(texts []string, threshold float64) []DuplicatePair {
	if len(texts) < 2 {
		return nil
	}

	idx := similarity.BuildIndex(texts)
	var pairs []DuplicatePair
	for i := 0; i < len(texts); i++ {
		for j := i + 1; j < len(texts); j++ {
			sim := similarity.Cosine(idx.DocVec(i), idx.DocVec(j))
			if sim >= threshold {
				pairs = append(pairs, DuplicatePair{A: i, B: j, Similarity: sim})
			}
		}
	}
	if len(pairs) > 0 {
		log.Printf("duplicate scan found pairs=%d threshold=%.2f texts=%d", len(pairs), threshold, len(texts))
	}
	return pairs
}

// CorpusReport aggregates batch-level quality metrics into one score.
type CorpusReport struct {
	QualityScore       float64        `json:"quality_score"`
	TotalItems         int            `json:"total_samples"`
	DuplicateRate      float64        `json:"duplicate_rate"`
	DuplicatesFound    int            `json:"duplicates_found"`
	DomainBalanceCV    float64        `json:"domain_balance_cv"`
	DomainDistribution map[string]int `json:"domain_distribution,omitempty"`
	AvgTextLength      float64        `json:"avg_text_length"`
	AvgConfidence      float64        `json:"avg_confidence"`
	Issues             []string       `json:"issues,omitempty"`
}

// ScoreCorpus computes the aggregate quality of a labeled batch. The
// score starts at 1.0 and is penalized for duplicates, domain imbalance
// and low confidence, clamped to [0,1]. Issues flag problems without
// blocking; an empty corpus scores 0.
func ScoreCorpus(items []Item, dupThreshold float64) CorpusReport {
	if len(items) == 0 {
		return CorpusReport{QualityScore: 0, Issues: []string{"empty corpus"}}
	}

	var issues []string

	texts := make([]string, len(items))
	for i, it := range items {
		texts[i] = it.Text
	}
	dups := FindDuplicates(texts, dupThreshold)
	dupRate := float64(len(dups)) / float64(len(items))
	if dupRate > 0.05 {
		issues = append(issues, fmt.Sprintf("high duplicate rate: %.2f%%", dupRate*100))
	}

	counts := make(map[string]int)
	for _, it := range items {
		counts[it.Domain]++
	}
	cv := balanceCV(counts)
	if cv > 1.0 {
		issues = append(issues, fmt.Sprintf("high domain imbalance: CV=%.2f", cv))
	}

	var totalLen int
	for _, it := range items {
		totalLen += utf8.RuneCountInString(it.Text)
	}
	avgLen := float64(totalLen) / float64(len(items))
	if avgLen < 10 {
		issues = append(issues, fmt.Sprintf("texts too short: avg=%.1f", avgLen))
	}
	if avgLen > 500 {
		issues = append(issues, fmt.Sprintf("texts too long: avg=%.1f", avgLen))
	}

	avgConf := 1.0
	var confSum float64
	var confN int
	for _, it := range items {
		if it.Confidence != nil {
			confSum += *it.Confidence
			confN++
		}
	}
	if confN > 0 {
		avgConf = confSum / float64(confN)
	}

	score := 1.0
	score -= dupRate * 0.3
	score -= math.Min(cv*0.2, 0.3)
	score -= (1.0 - avgConf) * 0.2
	score = math.Max(0, math.Min(1, score))

	return CorpusReport{
		QualityScore:       score,
		TotalItems:         len(items),
		DuplicateRate:      dupRate,
		DuplicatesFound:    len(dups),
		DomainBalanceCV:    cv,
		DomainDistribution: counts,
		AvgTextLength:      avgLen,
		AvgConfidence:      avgConf,
		Issues:             issues,
	}
}

// balanceCV is the coefficient of variation of the per-domain counts,
// using population standard deviation.
func balanceCV(counts map[string]int) float64 {
	if len(counts) == 0 {
		return 0
	}
	var sum float64
	for _, c := range counts {
		sum += float64(c)
	}
	mean := sum / float64(len(counts))
	if mean == 0 {
		return 0
	}
	var variance float64
	for _, c := range counts {
		d := float64(c) - mean
		variance += d * d
	}
	variance /= float64(len(counts))
	return math.Sqrt(variance) / mean
}
