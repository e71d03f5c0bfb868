package similarity

import (
	"reflect"
	"strings"
	"testing"
)

func hasIssue(issues []string, substr string) bool {
	for _, is := range issues {
		if strings.Contains(is, substr) {
			return true
		}
	}
	return false
}

func TestCompare_IdenticalStrings(t *testing.T) {
	rep := Compare("передать показания счетчика", "передать показания счетчика", nil, DefaultThresholds())

	if rep.Semantic < 0.999 {
		t.Fatalf("expected semantic ~1.0 for identical strings, got %f", rep.Semantic)
	}
	if rep.EditDistance != 0 {
		t.Fatalf("expected zero edit distance, got %d", rep.EditDistance)
	}
	if rep.IsValid {
		t.Fatalf("expected identical strings to be rejected")
	}
	if len(rep.Issues) != 2 {
		t.Fatalf("expected exactly 2 issues, got %v", rep.Issues)
	}
	if !hasIssue(rep.Issues, "too high") {
		t.Errorf("expected near-duplicate issue, got %v", rep.Issues)
	}
	if !hasIssue(rep.Issues, "too few changes") {
		t.Errorf("expected minimum-edit issue, got %v", rep.Issues)
	}
}

func TestCompare_UnrelatedStrings(t *testing.T) {
	rep := Compare("передать показания счетчика", "купить хлеб в магазине", nil, DefaultThresholds())

	if rep.IsValid {
		t.Fatalf("expected unrelated strings to be rejected")
	}
	if !hasIssue(rep.Issues, "too low") {
		t.Errorf("expected semantic drift issue, got %v", rep.Issues)
	}
	if hasIssue(rep.Issues, "too high") {
		t.Errorf("unexpected near-duplicate issue: %v", rep.Issues)
	}
	if hasIssue(rep.Issues, "too few changes") {
		t.Errorf("unexpected minimum-edit issue: %v", rep.Issues)
	}
}

func TestCompare_AcceptsParaphrase(t *testing.T) {
	// Shared stem words keep the semantic score in band, four character
	// substitutions satisfy both edit thresholds.
	rep := Compare("передать показания счетчика воды", "передать показания счетчика газа", nil, DefaultThresholds())

	if !rep.IsValid {
		t.Fatalf("expected paraphrase to pass, got issues %v", rep.Issues)
	}
	if rep.Semantic < 0.3 || rep.Semantic > 0.95 {
		t.Fatalf("expected mid-band semantic score, got %f", rep.Semantic)
	}
	if rep.EditDistance != 4 {
		t.Fatalf("expected edit distance 4, got %d", rep.EditDistance)
	}
	if rep.EditRatio != 0.125 {
		t.Fatalf("expected edit ratio 0.125, got %f", rep.EditRatio)
	}
}

func TestCompare_ReferenceCorpusShiftsScore(t *testing.T) {
	a := "передать показания счетчика воды"
	b := "передать показания счетчика газа"
	bare := Compare(a, b, nil, DefaultThresholds())
	ref := []string{"оплатить счет за квартиру", "как начисляются баллы лояльности"}
	withRef := Compare(a, b, ref, DefaultThresholds())

	if bare.Semantic == withRef.Semantic {
		t.Fatalf("expected reference corpus to change IDF weighting, both gave %f", bare.Semantic)
	}
	// Edit metrics only depend on the pair itself.
	if bare.EditDistance != withRef.EditDistance || bare.EditRatio != withRef.EditRatio {
		t.Fatalf("edit metrics must not depend on reference corpus")
	}
}

func TestCompare_DegenerateVocabulary(t *testing.T) {
	// Punctuation-only texts tokenize to nothing, so the vector space is
	// empty and the semantic score falls back to neutral.
	rep := Compare("...", "!!!", nil, DefaultThresholds())
	if rep.Semantic != 0.5 {
		t.Fatalf("expected neutral fallback 0.5, got %f", rep.Semantic)
	}
}

func TestCompare_Deterministic(t *testing.T) {
	ref := []string{"оплатить счет", "вызвать мастера", "пополнить баланс"}
	a := Compare("передать показания счетчика", "отправить показания счетчиков", ref, DefaultThresholds())
	b := Compare("передать показания счетчика", "отправить показания счетчиков", ref, DefaultThresholds())
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("expected identical reports for identical inputs:\n%+v\n%+v", a, b)
	}
}

func TestThresholds_Validate(t *testing.T) {
	if err := DefaultThresholds().Validate(); err != nil {
		t.Fatalf("default thresholds must validate, got %v", err)
	}

	tests := []struct {
		name string
		th   Thresholds
	}{
		{"min above max", Thresholds{MinSemantic: 0.9, MaxSemantic: 0.5, MinEditDistance: 1, MaxEditRatio: 0.8}},
		{"semantic out of range", Thresholds{MinSemantic: -0.1, MaxSemantic: 0.95, MinEditDistance: 1, MaxEditRatio: 0.8}},
		{"negative edit distance", Thresholds{MinSemantic: 0.3, MaxSemantic: 0.95, MinEditDistance: -1, MaxEditRatio: 0.8}},
		{"zero edit ratio", Thresholds{MinSemantic: 0.3, MaxSemantic: 0.95, MinEditDistance: 1, MaxEditRatio: 0}},
	}
	for _, tt := range tests {
		if err := tt.th.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tt.name)
		}
	}
}
