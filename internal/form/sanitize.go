package form

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

// trailingPunct is stripped from the end of identifiers, together with whitespace.
const trailingPunct = "*:?!.,; \t\r\n"

// MandatoryMarker is the trailing label marker for required fields.
const MandatoryMarker = "*"

func isPictograph(r rune) bool {
	if r <= unicode.MaxASCII {
		return false
	}
	return unicode.In(r, unicode.So, unicode.Sk, unicode.Cf, unicode.Me, unicode.Cs, unicode.Co, unicode.Variation_Selector)
}

// Sanitize normalizes label text into a field identifier: pictographs become spaces, runs of
// whitespace collapse to one space, and trailing punctuation and mandatory markers are removed.
// Case is preserved. Sanitize(Sanitize(s)) == Sanitize(s).
func Sanitize(s string) string {
	t := runes.Map(func(r rune) rune {
		if isPictograph(r) {
			return ' '
		}
		return r
	})
	mapped, _, err := transform.String(t, s)
	if err != nil {
		mapped = s
	}
	collapsed := strings.Join(strings.Fields(mapped), " ")
	return strings.TrimSpace(strings.TrimRight(collapsed, trailingPunct))
}

// HasMandatoryMarker reports whether raw label text ends with the mandatory marker, ignoring
// trailing whitespace and colons.
func HasMandatoryMarker(raw string) bool {
	return strings.HasSuffix(strings.TrimRight(raw, ": \t\r\n "), MandatoryMarker)
}

// SameIdentifier compares two texts the way oracle keys and profile keys are matched against
// identifiers: exact after sanitizing, then case-insensitive.
func SameIdentifier(a, b string) bool {
	sa, sb := Sanitize(a), Sanitize(b)
	return sa == sb || strings.EqualFold(sa, sb)
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
