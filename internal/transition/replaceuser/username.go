package replaceuser

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// fallbackSlug is used when a name has no usable latin characters.
const fallbackSlug = "user"

// Slug folds a display name into a username stem: diacritics removed,
// lower case, every run of other characters collapsed to one hyphen.
//
//	Slug("Émile O'Brien") == "emile-o-brien"
func Slug(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, name)
	if err != nil {
		folded = name
	}

	var b strings.Builder
	pendingHyphen := false
	for _, r := range strings.ToLower(folded) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingHyphen && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingHyphen = false
			b.WriteRune(r)
			continue
		}
		pendingHyphen = true
	}

	if b.Len() == 0 {
		return fallbackSlug
	}
	return b.String()
}

// candidateUsername appends a four digit suffix to the slug of name.
func candidateUsername(name string, suffix int) string {
	return fmt.Sprintf("%s-%04d", Slug(name), suffix)
}
