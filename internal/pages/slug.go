package pages

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// deaccent decomposes characters and strips combining marks, so "Émigré"
// slugifies to "emigre".
var deaccent = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Slugify derives the URL-safe form of a title: diacritics stripped,
// lowercased, runs of disallowed characters collapsed to single hyphens,
// leading and trailing hyphens trimmed.
func Slugify(title string) string {
	flat, _, err := transform.String(deaccent, title)
	if err != nil {
		flat = title
	}
	flat = strings.ToLower(flat)

	var b strings.Builder
	b.Grow(len(flat))
	lastHyphen := true
	for _, r := range flat {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	slug := strings.Trim(b.String(), "-")
	if slug == "" {
		slug = "page"
	}
	return slug
}

// NextSlug picks the first free slug for base given the set of slugs already
// taken: base itself, then base-1, base-2, ... choosing the lowest unused
// numeric suffix.
func NextSlug(base string, taken map[string]bool) string {
	if !taken[base] {
		return base
	}
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s-%d", base, i)
		if !taken[candidate] {
			return candidate
		}
	}
}
