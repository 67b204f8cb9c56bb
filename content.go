package restream

import (
	"strings"
	"unicode"
)

// hasMeaningfulText reports whether the content carries actual output rather
// than whitespace or filler. The bar is low on purpose: at least three runes
// after trimming, at least two distinct runes, and at least one letter or
// digit. Punctuation-only or single-character streams fail it.
func hasMeaningfulText(s string) bool {
	t := strings.TrimSpace(s)
	var (
		total    int
		distinct = make(map[rune]struct{})
		alnum    bool
	)
	for _, r := range t {
		total++
		distinct[r] = struct{}{}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			alnum = true
		}
	}
	return total >= 3 && len(distinct) >= 2 && alnum
}
