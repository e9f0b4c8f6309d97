package schema

import (
	"fmt"
	"strings"
	"unicode"
)

// Slugify derives a category slug from a label: lower-case ASCII letters and
// digits separated by single dashes. A label with no usable characters
// yields "category".
func Slugify(label string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(label) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(r)
			dash = false
		default:
			dash = true
		}
	}
	if b.Len() == 0 {
		return "category"
	}
	return b.String()
}

// UniqueSlug returns base if it is not in taken, otherwise base-2, base-3 ...
func UniqueSlug(base string, taken map[string]bool) string {
	if !taken[base] {
		return base
	}
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s-%d", base, n)
		if !taken[candidate] {
			return candidate
		}
	}
}
