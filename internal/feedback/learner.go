// Package feedback accumulates reviewer corrections and turns them into
// dynamic few-shot examples, error-pair prompt warnings and retrain
// signals.
package feedback

import (
	"fmt"
	"log"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"labelqa/internal/taxonomy"
)

// Entry is one recorded review decision. Predicted != Corrected marks a
// correction; matching values confirm the classifier.
type Entry struct {
	ID         int64     `json:"id"`
	Text       string    `json:"text"`
	Predicted  string    `json:"predicted_domain"`
	Corrected  string    `json:"corrected_domain"`
	Confidence float64   `json:"confidence"`
	CreatedAt  time.Time `json:"created_at"`
}

// IsCorrection reports whether the reviewer changed the label.
func (e Entry) IsCorrection() bool { return e.Predicted != e.Corrected }

// Store persists feedback entries.
type Store interface {
	InsertFeedback(Entry) error
	RecentFeedback(since time.Time, limit int) ([]Entry, error)
}

// Example is a correction promoted into the classifier prompt.
type Example struct {
	Text       string  `json:"text"`
	Domain     string  `json:"domain"`
	Confidence float64 `json:"confidence"`
}

// ErrorPair is one predicted-to-corrected transition with its count.
type ErrorPair struct {
	Predicted string `json:"predicted"`
	Corrected string `json:"corrected"`
	Count     int    `json:"count"`
}

// Stats summarizes the accumulated feedback.
type Stats struct {
	TotalFeedback     int            `json:"total_feedback"`
	Corrections       int            `json:"corrections"`
	CorrectionRate    float64        `json:"correction_rate"`
	PredictedDomains  map[string]int `json:"predicted_domains"`
	CorrectedDomains  map[string]int `json:"corrected_domains"`
	TopErrors         []ErrorPair    `json:"top_errors"`
	RecentCorrections int            `json:"recent_corrections"`
}

const scanLimit = 10000

// Corrections promoted into examples carry a fixed high confidence.
const exampleConfidence = 0.95

// Learner reads and writes feedback through a Store and derives prompt
// material from it.
type Learner struct {
	store        Store
	windowDays   int
	maxPerDomain int
	now          func() time.Time
}

// NewLearner wires a learner to its store. windowDays bounds which
// corrections still influence examples; maxPerDomain caps examples per
// domain.
func NewLearner(store Store, windowDays, maxPerDomain int) *Learner {
	if windowDays <= 0 {
		windowDays = 30
	}
	if maxPerDomain <= 0 {
		maxPerDomain = 3
	}
	return &Learner{store: store, windowDays: windowDays, maxPerDomain: maxPerDomain, now: time.Now}
}

// Record stores one review decision. Labels are coerced onto the
// canonical domain set before they are persisted.
func (l *Learner) Record(text, predicted, corrected string, confidence float64) error {
	e := Entry{
		Text:       text,
		Predicted:  taxonomy.Validate(predicted),
		Corrected:  taxonomy.Validate(corrected),
		Confidence: confidence,
	}
	if err := l.store.InsertFeedback(e); err != nil {
		return fmt.Errorf("record feedback: %w", err)
	}
	log.Printf("feedback recorded text=%.50q predicted=%s corrected=%s correction=%t",
		text, e.Predicted, e.Corrected, e.IsCorrection())
	return nil
}

// Examples groups recent corrections into few-shot examples per domain.
// Texts that are too short, too long, or that reviewers corrected into
// different domains at different times are skipped.
func (l *Learner) Examples() (map[string][]Example, error) {
	since := l.now().AddDate(0, 0, -l.windowDays)
	entries, err := l.store.RecentFeedback(since, scanLimit)
	if err != nil {
		return nil, fmt.Errorf("load feedback: %w", err)
	}

	var corrections []Entry
	correctedTo := make(map[string]map[string]bool)
	for _, e := range entries {
		if !e.IsCorrection() {
			continue
		}
		corrections = append(corrections, e)
		if correctedTo[e.Text] == nil {
			correctedTo[e.Text] = make(map[string]bool)
		}
		correctedTo[e.Text][e.Corrected] = true
	}

	out := make(map[string][]Example)
	for _, c := range corrections {
		if !goodExample(c.Text) {
			continue
		}
		// Contradictory corrections disqualify the text entirely.
		if len(correctedTo[c.Text]) > 1 {
			continue
		}
		if len(out[c.Corrected]) >= l.maxPerDomain {
			continue
		}
		out[c.Corrected] = append(out[c.Corrected], Example{
			Text:       c.Text,
			Domain:     c.Corrected,
			Confidence: exampleConfidence,
		})
	}
	return out, nil
}

func goodExample(text string) bool {
	if utf8.RuneCountInString(strings.TrimSpace(text)) < 5 {
		return false
	}
	if utf8.RuneCountInString(text) > 200 {
		return false
	}
	return true
}

// FewShot renders the dynamic examples as a prompt block in the same
// shape the classifier prompt uses for its built-in examples. Returns ""
// when no examples qualify.
func (l *Learner) FewShot() (string, error) {
	byDomain, err := l.Examples()
	if err != nil {
		return "", err
	}
	if len(byDomain) == 0 {
		return "", nil
	}

	var b strings.Builder
	n := 1
	for _, domain := range taxonomy.Canon() {
		for _, ex := range byDomain[domain] {
			fmt.Fprintf(&b, "ПРИМЕР %d\nТЕКСТ:\n%q\nОТВЕТ:\n{\"domain_id\":\"%s\", \"confidence\":%.2f}\n\n",
				n, ex.Text, ex.Domain, ex.Confidence)
			n++
		}
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// Stats aggregates the full feedback history: correction counters per
// domain, the ten most frequent error transitions and the count of
// corrections in the last seven days.
func (l *Learner) Stats() (Stats, error) {
	entries, err := l.store.RecentFeedback(time.Time{}, scanLimit)
	if err != nil {
		return Stats{}, fmt.Errorf("load feedback: %w", err)
	}

	st := Stats{
		TotalFeedback:    len(entries),
		PredictedDomains: make(map[string]int),
		CorrectedDomains: make(map[string]int),
	}

	weekAgo := l.now().AddDate(0, 0, -7)
	pairCounts := make(map[[2]string]int)
	for _, e := range entries {
		if !e.IsCorrection() {
			continue
		}
		st.Corrections++
		st.PredictedDomains[e.Predicted]++
		st.CorrectedDomains[e.Corrected]++
		pairCounts[[2]string{e.Predicted, e.Corrected}]++
		if e.CreatedAt.After(weekAgo) {
			st.RecentCorrections++
		}
	}
	if st.TotalFeedback > 0 {
		st.CorrectionRate = float64(st.Corrections) / float64(st.TotalFeedback)
	}

	for pair, count := range pairCounts {
		st.TopErrors = append(st.TopErrors, ErrorPair{Predicted: pair[0], Corrected: pair[1], Count: count})
	}
	sort.SliceStable(st.TopErrors, func(a, b int) bool {
		if st.TopErrors[a].Count != st.TopErrors[b].Count {
			return st.TopErrors[a].Count > st.TopErrors[b].Count
		}
		if st.TopErrors[a].Predicted != st.TopErrors[b].Predicted {
			return st.TopErrors[a].Predicted < st.TopErrors[b].Predicted
		}
		return st.TopErrors[a].Corrected < st.TopErrors[b].Corrected
	})
	if len(st.TopErrors) > 10 {
		st.TopErrors = st.TopErrors[:10]
	}
	return st, nil
}

// PromptWarnings renders frequent-error warnings for the classifier
// system prompt. Fewer than ten corrections is not enough signal and
// yields "".
func (l *Learner) PromptWarnings() (string, error) {
	st, err := l.Stats()
	if err != nil {
		return "", err
	}
	if st.Corrections < 10 {
		return "", nil
	}

	var warnings []string
	for _, pair := range st.TopErrors {
		if pair.Count >= 3 {
			warnings = append(warnings, fmt.Sprintf("Частая ошибка: НЕ путай '%s' с '%s'", pair.Predicted, pair.Corrected))
		}
	}
	if len(warnings) == 0 {
		return "", nil
	}
	return "ЧАСТЫЕ ОШИБКИ (избегай):\n" + strings.Join(warnings, "\n"), nil
}

// ShouldRetrain reports whether the correction volume warrants a
// retraining pass: over twenty corrections in the last week or an
// overall correction rate above 30%.
func (l *Learner) ShouldRetrain() (bool, error) {
	st, err := l.Stats()
	if err != nil {
		return false, err
	}
	return st.RecentCorrections > 20 || st.CorrectionRate > 0.3, nil
}
