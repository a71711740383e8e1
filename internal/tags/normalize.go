// Package tags implements tag-name normalization and the transactional
// "sync tags for owner" operation that replaces one owner's full tag set.
package tags

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// MaxNameLength is the maximum tag name length in runes after trimming.
const MaxNameLength = 50

// NormalizedName pairs a display name with its canonical slug. Two raw
// strings that derive the same slug refer to the same tag.
type NormalizedName struct {
	Name string
	Slug string
}

// NormalizeNames validates, slugifies and deduplicates raw tag names,
// preserving first-seen order and stopping once maxCount valid names are
// collected. Invalid names are discarded, not reported: user tag input is
// best-effort and a junk entry should not fail the whole set.
func NormalizeNames(rawNames []string, maxCount int) []NormalizedName {
	var out []NormalizedName
	seen := make(map[string]struct{})

	for _, raw := range rawNames {
		if maxCount > 0 && len(out) >= maxCount {
			break
		}

		name := strings.TrimSpace(raw)
		if !ValidName(name) {
			continue
		}

		slug := Slugify(name)
		if slug == "" {
			continue
		}
		if _, dup := seen[slug]; dup {
			continue
		}
		seen[slug] = struct{}{}

		out = append(out, NormalizedName{Name: name, Slug: slug})
	}
	return out
}

// ValidName reports whether a trimmed tag name is acceptable: 1-50 runes of
// letters (any script, CJK included), digits, spaces, hyphens, underscores
// or dots.
func ValidName(name string) bool {
	runes := []rune(name)
	if len(runes) == 0 || len(runes) > MaxNameLength {
		return false
	}
	for _, r := range runes {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			continue
		}
		switch r {
		case ' ', '-', '_', '.':
			continue
		}
		return false
	}
	return true
}

// Slugify derives the canonical URL-safe slug for a tag name. The derivation
// is deterministic: NFKC normalization folds compatibility variants (e.g.
// full-width forms) so visually equivalent spellings collapse to one slug,
// then separators become single hyphens and everything is lowercased.
// Non-ASCII letters (CJK names in particular) pass through untouched.
func Slugify(name string) string {
	name = norm.NFKC.String(name)
	name = strings.ToLower(name)

	var b strings.Builder
	lastHyphen := true // suppress leading hyphens
	for _, r := range name {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastHyphen = false
		case r == ' ' || r == '-' || r == '_' || r == '.':
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}

	return strings.TrimRight(b.String(), "-")
}
