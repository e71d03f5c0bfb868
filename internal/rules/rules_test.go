package rules

import (
	"testing"

	"labelqa/internal/taxonomy"
)

func TestMatch_SingleDomain(t *testing.T) {
	kw := map[string][]string{
		"house":    {"счетчик", "показан"},
		"payments": {"оплат"},
	}
	domain, ok := Match("передать показания счетчика", kw)
	if !ok || domain != "house" {
		t.Fatalf("Match = (%q, %v), want (house, true)", domain, ok)
	}
}

func TestMatch_KeywordCountsOnce(t *testing.T) {
	kw := map[string][]string{
		"house":    {"счетчик"},
		"payments": {"оплат"},
	}
	// "счетчик" repeats but still counts once; one hit each side is a tie.
	domain, ok := Match("счетчик счетчик счетчик оплатить", kw)
	if ok {
		t.Fatalf("expected ambiguous result, got %q", domain)
	}
}

func TestMatch_DecisiveDominance(t *testing.T) {
	kw := map[string][]string{
		"house":    {"счетчик", "показан", "воды"},
		"payments": {"оплат"},
	}
	// house: 3 hits, payments: 1 hit -> 3 > 2*1 and 3 >= 2.
	domain, ok := Match("передать показания счетчика воды и оплатить", kw)
	if !ok || domain != "house" {
		t.Fatalf("Match = (%q, %v), want (house, true)", domain, ok)
	}
}

func TestMatch_NotDominantEnough(t *testing.T) {
	kw := map[string][]string{
		"house":    {"счетчик", "показан"},
		"payments": {"оплат"},
	}
	// house: 2 hits, payments: 1 hit -> 2 is not > 2*1.
	if domain, ok := Match("передать показания счетчика и оплатить", kw); ok {
		t.Fatalf("expected no match, got %q", domain)
	}
}

func TestMatch_TopBelowMinimumHits(t *testing.T) {
	kw := map[string][]string{
		"house":    {"счетчик"},
		"payments": {"оплат"},
		"okc":      {"метро"},
	}
	// Two competing domains with one hit each never qualify.
	if domain, ok := Match("счетчик возле метро", kw); ok {
		t.Fatalf("expected no match, got %q", domain)
	}
}

func TestMatch_NoHits(t *testing.T) {
	if domain, ok := Match("ничего подходящего", map[string][]string{"house": {"счетчик"}}); ok {
		t.Fatalf("expected no match, got %q", domain)
	}
}

func TestMatch_BuiltinTable(t *testing.T) {
	domain, ok := Match("передать показания счетчика воды", taxonomy.Keywords())
	if !ok || domain != "house" {
		t.Fatalf("Match with built-in table = (%q, %v), want (house, true)", domain, ok)
	}
}
