// Package text maps Latin letters to stylized look-alike code points.
package text

import (
	"strings"
	"unicode/utf8"
)

// mapping covers A-E and a-e with their Mathematical Script counterparts.
var mapping = map[rune]rune{
	'A': '\U0001D49C', 'B': '\U0001D49D', 'C': '\U0001D49E', 'D': '\U0001D49F', 'E': '\U0001D4A0',
	'a': '\U0001D4B6', 'b': '\U0001D4B7', 'c': '\U0001D4B8', 'd': '\U0001D4B9', 'e': '\U0001D4BA',
}

// Transform replaces every mapped letter in s and leaves every other
// character, including invalid UTF-8 bytes, untouched. The result has
// the same number of characters as s.
func Transform(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size <= 1 {
			b.WriteByte(s[i])
			i++
			continue
		}
		if m, ok := mapping[r]; ok {
			b.WriteRune(m)
		} else {
			b.WriteString(s[i : i+size])
		}
		i += size
	}

	return b.String()
}
