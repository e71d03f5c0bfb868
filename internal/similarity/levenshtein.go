package similarity

// Levenshtein returns the unit-cost edit distance between two strings,
// computed over runes so non-ASCII text is counted per character.
func Levenshtein(a, b string) int {
	ra := []rune(a)
	rb := []rune(b)
	if len(ra) < len(rb) {
		ra, rb = rb, ra
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}

	for i, ca := range ra {
		cur[0] = i + 1
		for j, cb := range rb {
			ins := prev[j+1] + 1
			del := cur[j] + 1
			sub := prev[j]
			if ca != cb {
				sub++
			}
			cur[j+1] = min3(ins, del, sub)
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}

// EditRatio returns the edit distance normalized by the longer string's
// rune length: 0 for identical or both-empty inputs, 1 for fully distinct.
func EditRatio(a, b string) float64 {
	la := len([]rune(a))
	lb := len([]rune(b))
	maxLen := la
	if lb > maxLen {
		maxLen = lb
	}
	if maxLen == 0 {
		return 0
	}
	return float64(Levenshtein(a, b)) / float64(maxLen)
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
