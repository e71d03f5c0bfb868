package similarity

import (
	"testing"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		input string
		want  []string
	}{
		{"Hello, World!", []string{"hello", "world"}},
		{"Передать показания счётчика", []string{"передать", "показания", "счётчика"}},
		{"bug-123 in API", []string{"bug", "123", "in", "api"}},
		{"...!!!", nil},
		{"", nil},
	}
	for _, tt := range tests {
		got := Tokenize(tt.input)
		if len(got) != len(tt.want) {
			t.Errorf("Tokenize(%q) = %v, want %v", tt.input, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("Tokenize(%q)[%d] = %q, want %q", tt.input, i, got[i], tt.want[i])
			}
		}
	}
}

func TestBuildIndex_Empty(t *testing.T) {
	idx := BuildIndex(nil)
	if idx.Len() != 0 {
		t.Fatalf("expected no documents in empty index, got %d", idx.Len())
	}
	if idx.VocabSize() != 0 {
		t.Fatalf("expected empty vocabulary, got %d terms", idx.VocabSize())
	}
}

func TestBuildIndex_SharedTermsWeighLess(t *testing.T) {
	// "оплатить" appears in every document, "домофон" in one. The rarer
	// term must carry more weight in its document's vector.
	docs := []string{
		"оплатить домофон",
		"оплатить воду",
		"оплатить газ",
	}
	idx := BuildIndex(docs)
	vec := idx.DocVec(0)
	if len(vec) != 2 {
		t.Fatalf("expected 2 terms in first document vector, got %d", len(vec))
	}
	// First-occurrence vocabulary order: оплатить=0, домофон=1.
	shared, rare := vec[0], vec[1]
	if rare <= shared {
		t.Fatalf("expected rare term to outweigh shared term, got rare=%f shared=%f", rare, shared)
	}
}

func TestQueryVec_IgnoresUnknownTerms(t *testing.T) {
	idx := BuildIndex([]string{"передать показания"})
	vec := idx.QueryVec("передать нечто невиданное")
	if len(vec) != 1 {
		t.Fatalf("expected only the known term projected, got %d entries", len(vec))
	}
}

func TestCosine_Orthogonal(t *testing.T) {
	a := Vec{0: 1.0, 1: 2.0}
	b := Vec{2: 1.0, 3: 2.0}
	if sim := Cosine(a, b); sim != 0 {
		t.Fatalf("expected zero similarity for orthogonal vectors, got %f", sim)
	}
}

func TestCosine_Identical(t *testing.T) {
	a := Vec{0: 1.0, 1: 2.0}
	sim := Cosine(a, a)
	if sim < 0.999 || sim > 1.001 {
		t.Fatalf("expected similarity ~1.0 for identical vectors, got %f", sim)
	}
}

func TestCosine_ZeroVector(t *testing.T) {
	a := Vec{}
	b := Vec{0: 1.0}
	if sim := Cosine(a, b); sim != 0 {
		t.Fatalf("expected zero similarity against zero vector, got %f", sim)
	}
}
