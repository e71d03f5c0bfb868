package feedback

import (
	"strings"
	"testing"
	"time"
)

type memStore struct {
	entries []Entry
}

func (m *memStore) InsertFeedback(e Entry) error {
	e.ID = int64(len(m.entries) + 1)
	m.entries = append(m.entries, e)
	return nil
}

func (m *memStore) RecentFeedback(since time.Time, limit int) ([]Entry, error) {
	var out []Entry
	for _, e := range m.entries {
		if e.CreatedAt.Before(since) {
			continue
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

var testNow = time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

func newTestLearner(store *memStore) *Learner {
	l := NewLearner(store, 30, 3)
	l.now = func() time.Time { return testNow }
	return l
}

func entry(text, predicted, corrected string, age time.Duration) Entry {
	return Entry{
		Text:      text,
		Predicted: predicted,
		Corrected: corrected,
		CreatedAt: testNow.Add(-age),
	}
}

func TestRecord_CoercesDomains(t *testing.T) {
	store := &memStore{}
	l := newTestLearner(store)

	if err := l.Record("передать показания", "HOUSE", "банановый", 0.7); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if len(store.entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(store.entries))
	}
	e := store.entries[0]
	if e.Predicted != "house" {
		t.Fatalf("expected alias normalized, got %q", e.Predicted)
	}
	if e.Corrected != "oos" {
		t.Fatalf("expected unknown label coerced to oos, got %q", e.Corrected)
	}
}

func TestExamples_FiltersAndCaps(t *testing.T) {
	store := &memStore{entries: []Entry{
		entry("передать показания счетчика", "payments", "house", 24*time.Hour),
		entry("не работает домофон", "oos", "house", 48*time.Hour),
		entry("вызвать сантехника домой", "boltalka", "house", 72*time.Hour),
		entry("протекает крыша дома", "oos", "house", 96*time.Hour),     // over the per-domain cap
		entry("да", "oos", "house", 24*time.Hour),                       // too short
		entry(strings.Repeat("а", 201), "oos", "house", 24*time.Hour),   // too long
		entry("оплатить кружок сына", "payments", "payments", 24*time.Hour), // not a correction
		entry("спорный текст про оплату", "oos", "payments", 24*time.Hour),
		entry("спорный текст про оплату", "oos", "house", 36*time.Hour), // contradicts previous
		entry("старое исправление из прошлого", "oos", "payments", 45*24*time.Hour), // outside window
	}}
	l := newTestLearner(store)

	examples, err := l.Examples()
	if err != nil {
		t.Fatalf("Examples: %v", err)
	}

	house := examples["house"]
	if len(house) != 3 {
		t.Fatalf("expected house capped at 3 examples, got %d: %+v", len(house), house)
	}
	for _, ex := range house {
		if ex.Confidence != 0.95 {
			t.Fatalf("expected fixed confidence 0.95, got %f", ex.Confidence)
		}
	}
	if len(examples["payments"]) != 0 {
		t.Fatalf("expected contradictory and stale corrections skipped, got %+v", examples["payments"])
	}
}

func TestFewShot_Format(t *testing.T) {
	store := &memStore{entries: []Entry{
		entry("передать показания счетчика", "payments", "house", 24*time.Hour),
		entry("оплатить кружок дочери", "house", "payments", 24*time.Hour),
	}}
	l := newTestLearner(store)

	fewshot, err := l.FewShot()
	if err != nil {
		t.Fatalf("FewShot: %v", err)
	}
	if !strings.Contains(fewshot, "ПРИМЕР 1") || !strings.Contains(fewshot, "ПРИМЕР 2") {
		t.Fatalf("expected numbered examples, got:\n%s", fewshot)
	}
	// Canonical domain order puts house before payments.
	if strings.Index(fewshot, `"domain_id":"house"`) > strings.Index(fewshot, `"domain_id":"payments"`) {
		t.Fatalf("expected canonical domain order, got:\n%s", fewshot)
	}
	if !strings.Contains(fewshot, `"confidence":0.95`) {
		t.Fatalf("expected rendered confidence, got:\n%s", fewshot)
	}
}

func TestFewShot_EmptyWithoutCorrections(t *testing.T) {
	store := &memStore{entries: []Entry{
		entry("оплатить кружок", "payments", "payments", 24*time.Hour),
	}}
	l := newTestLearner(store)

	fewshot, err := l.FewShot()
	if err != nil {
		t.Fatalf("FewShot: %v", err)
	}
	if fewshot != "" {
		t.Fatalf("expected empty few-shot block, got:\n%s", fewshot)
	}
}

func TestStats(t *testing.T) {
	store := &memStore{}
	for i := 0; i < 4; i++ {
		store.entries = append(store.entries, entry("передать показания прибора", "payments", "house", 24*time.Hour))
	}
	store.entries = append(store.entries,
		entry("оплатить детский сад", "house", "payments", 10*24*time.Hour),
		entry("расскажи анекдот смешной", "boltalka", "boltalka", 24*time.Hour),
	)
	l := newTestLearner(store)

	st, err := l.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.TotalFeedback != 6 || st.Corrections != 5 {
		t.Fatalf("unexpected totals %+v", st)
	}
	if st.CorrectionRate < 0.83 || st.CorrectionRate > 0.84 {
		t.Fatalf("expected correction rate 5/6, got %f", st.CorrectionRate)
	}
	if st.RecentCorrections != 4 {
		t.Fatalf("expected 4 corrections within a week, got %d", st.RecentCorrections)
	}
	if len(st.TopErrors) == 0 || st.TopErrors[0].Predicted != "payments" || st.TopErrors[0].Count != 4 {
		t.Fatalf("expected payments->house as top error, got %+v", st.TopErrors)
	}
	if st.PredictedDomains["payments"] != 4 || st.CorrectedDomains["house"] != 4 {
		t.Fatalf("unexpected domain counters %+v", st)
	}
}

func TestPromptWarnings(t *testing.T) {
	store := &memStore{}
	l := newTestLearner(store)

	// Too few corrections: no warnings at all.
	for i := 0; i < 5; i++ {
		store.entries = append(store.entries, entry("текст для примера", "payments", "house", 24*time.Hour))
	}
	warnings, err := l.PromptWarnings()
	if err != nil {
		t.Fatalf("PromptWarnings: %v", err)
	}
	if warnings != "" {
		t.Fatalf("expected no warnings below ten corrections, got:\n%s", warnings)
	}

	for i := 0; i < 5; i++ {
		store.entries = append(store.entries, entry("другой текст примера", "okc", "boltalka", 24*time.Hour))
	}
	warnings, err = l.PromptWarnings()
	if err != nil {
		t.Fatalf("PromptWarnings: %v", err)
	}
	if !strings.Contains(warnings, "НЕ путай 'payments' с 'house'") {
		t.Fatalf("expected frequent-error warning, got:\n%s", warnings)
	}
	if !strings.Contains(warnings, "ЧАСТЫЕ ОШИБКИ") {
		t.Fatalf("expected warnings header, got:\n%s", warnings)
	}
}

func TestShouldRetrain(t *testing.T) {
	store := &memStore{entries: []Entry{
		entry("единственное исправление", "payments", "house", 24*time.Hour),
	}}
	l := newTestLearner(store)

	// One correction out of one entry: rate 1.0 crosses the 30% bar.
	retrain, err := l.ShouldRetrain()
	if err != nil {
		t.Fatalf("ShouldRetrain: %v", err)
	}
	if !retrain {
		t.Fatalf("expected retrain at correction rate 1.0")
	}

	// Mostly confirmations: low rate, few recent corrections.
	store.entries = nil
	for i := 0; i < 20; i++ {
		store.entries = append(store.entries, entry("подтвержденный пример текста", "house", "house", 24*time.Hour))
	}
	store.entries = append(store.entries, entry("одно исправление метки", "payments", "house", 24*time.Hour))
	retrain, err = l.ShouldRetrain()
	if err != nil {
		t.Fatalf("ShouldRetrain: %v", err)
	}
	if retrain {
		t.Fatalf("expected no retrain for low correction volume")
	}
}
