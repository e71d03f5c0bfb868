// Package similarity computes semantic (TF-IDF cosine) and lexical
// (edit distance) similarity between texts and folds both into a
// two-sided-threshold validity report.
package similarity

import (
	"math"
	"strings"
	"unicode"
)

// Vec is a sparse term-weight vector keyed by vocabulary index.
type Vec = map[int]float64

// Index is a TF-IDF index over a document corpus.
type Index struct {
	vocab map[string]int
	idf   []float64
	docs  []Vec
}

// Tokenize lowercases the text and splits it into letter/digit runs.
func Tokenize(s string) []string {
	s = strings.ToLower(s)
	var tokens []string
	var cur strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			cur.WriteRune(r)
		} else {
			if cur.Len() > 0 {
				tokens = append(tokens, cur.String())
				cur.Reset()
			}
		}
	}
	if cur.Len() > 0 {
		tokens = append(tokens, cur.String())
	}
	return tokens
}

// BuildIndex builds a TF-IDF index over the documents. Vocabulary order
// follows first occurrence, so identical corpora produce identical vectors.
func BuildIndex(docs []string) *Index {
	if len(docs) == 0 {
		return &Index{vocab: make(map[string]int)}
	}

	vocab := make(map[string]int)
	for _, doc := range docs {
		for _, tok := range Tokenize(doc) {
			if _, ok := vocab[tok]; !ok {
				vocab[tok] = len(vocab)
			}
		}
	}

	df := make([]int, len(vocab))
	vecs := make([]Vec, len(docs))
	n := float64(len(docs))

	for i, doc := range docs {
		tf := make(map[int]int)
		for _, tok := range Tokenize(doc) {
			if idx, ok := vocab[tok]; ok {
				tf[idx]++
			}
		}
		vec := make(Vec, len(tf))
		for idx, count := range tf {
			vec[idx] = float64(count)
			df[idx]++
		}
		vecs[i] = vec
	}

	idf := make([]float64, len(vocab))
	for i, d := range df {
		if d > 0 {
			idf[i] = math.Log(n/float64(d)) + 1.0
		}
	}

	for _, vec := range vecs {
		for idx := range vec {
			vec[idx] *= idf[idx]
		}
	}

	return &Index{vocab: vocab, idf: idf, docs: vecs}
}

// Len returns the number of indexed documents.
func (idx *Index) Len() int { return len(idx.docs) }

// VocabSize returns the number of distinct terms in the index.
func (idx *Index) VocabSize() int { return len(idx.vocab) }

// DocVec returns the TF-IDF vector of document i.
func (idx *Index) DocVec(i int) Vec { return idx.docs[i] }

// QueryVec projects an arbitrary text onto the index vocabulary.
func (idx *Index) QueryVec(query string) Vec {
	tf := make(map[int]int)
	for _, tok := range Tokenize(query) {
		if i, ok := idx.vocab[tok]; ok {
			tf[i]++
		}
	}
	vec := make(Vec, len(tf))
	for i, count := range tf {
		vec[i] = float64(count) * idx.idf[i]
	}
	return vec
}

// Cosine returns the cosine similarity of two sparse vectors, 0 when
// either has zero norm.
func Cosine(a, b Vec) float64 {
	var dot, normA, normB float64
	for i, va := range a {
		if vb, ok := b[i]; ok {
			dot += va * vb
		}
		normA += va * va
	}
	for _, vb := range b {
		normB += vb * vb
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
