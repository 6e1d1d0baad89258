// Package estimator approximates the token cost of text without a tokenizer.
package estimator

// cjkRanges are the Unicode blocks counted as one token per rune: CJK
// Unified Ideographs, Hiragana/Katakana, Hangul.
var cjkRanges = [][2]rune{
	{0x4E00, 0x9FFF},   // CJK Unified Ideographs
	{0x3400, 0x4DBF},   // CJK Extension A
	{0x3040, 0x309F},   // Hiragana
	{0x30A0, 0x30FF},   // Katakana
	{0xAC00, 0xD7A3},   // Hangul syllables
	{0xF900, 0xFAFF},   // CJK Compatibility Ideographs
}

func isCJK(r rune) bool {
	for _, rg := range cjkRanges {
		if r >= rg[0] && r <= rg[1] {
			return true
		}
	}
	return false
}

// Estimate returns a non-negative, deterministic, O(n) approximation of the
// token cost of text: each CJK rune counts as one token; every other rune
// contributes to a length/4 bucket, rounded up.
func Estimate(text string) int {
	if text == "" {
		return 0
	}

	cjkCount := 0
	otherLen := 0
	for _, r := range text {
		if isCJK(r) {
			cjkCount++
		} else {
			otherLen++
		}
	}

	otherTokens := (otherLen + 3) / 4
	return cjkCount + otherTokens
}

// EstimateMessages sums Estimate over a slice of flattened message strings —
// a helper for components that already have legacy-form content in hand.
func EstimateMessages(contents []string) int {
	total := 0
	for _, c := range contents {
		total += Estimate(c)
	}
	return total
}
