package admission

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const maxChannelNameLength = 100

// fold strips accents so "Café Crème" becomes "Cafe Creme"
func fold(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// ChannelSlug turns a community name into a channel name.
// Falls back to fallback when nothing usable is left.
func ChannelSlug(name, fallback string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(fold(name)) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if b.Len() > 0 && !dash {
			b.WriteByte('-')
			dash = true
		}
	}
	slug := strings.TrimRight(b.String(), "-")
	if len(slug) > maxChannelNameLength {
		slug = strings.TrimRight(slug[:maxChannelNameLength], "-")
	}
	if slug == "" {
		return fallback
	}
	return slug
}

// RoleName keeps only the letters and digits of a community name
func RoleName(name, fallback string) string {
	var b strings.Builder
	for _, r := range fold(name) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return fallback
	}
	return b.String()
}
