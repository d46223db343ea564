// Package slug converts human titles to stable key components and back.
// Slugs are the identity of topics and subtopics everywhere in the store,
// so Slugify must be deterministic and idempotent.
package slug

import "strings"

// Slugify lowercases a title and collapses every run of non-alphanumeric
// characters into a single hyphen. The result contains only [a-z0-9-] with
// no leading or trailing hyphens. Slugify(Slugify(x)) == Slugify(x).
func Slugify(title string) string {
	var b strings.Builder
	b.Grow(len(title))

	lastHyphen := true // suppress leading hyphen
	for _, r := range strings.ToLower(title) {
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

	return strings.TrimRight(b.String(), "-")
}

// Deslugify produces a title-cased display form from a slug. It is only a
// display fallback for shards whose human title was never captured.
func Deslugify(s string) string {
	words := strings.Split(s, "-")
	for i, w := range words {
		if w == "" {
			continue
		}
		if w[0] >= 'a' && w[0] <= 'z' {
			words[i] = string(w[0]-'a'+'A') + w[1:]
		}
	}
	return strings.Join(words, " ")
}
