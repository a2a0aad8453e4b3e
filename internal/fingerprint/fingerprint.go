// Package fingerprint turns the content behind a reward into a stable hash so
// that repeated submissions of the same text collapse to one key.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const separator = "\x1f"

// MaxExcerptRunes bounds the excerpt stored next to a fingerprint.
const MaxExcerptRunes = 120

// Normalize folds text to a canonical form: NFKC, lower case, punctuation and
// symbols dropped, whitespace runs collapsed to one space. Combining marks are
// kept when they follow a kept rune, since many scripts spell vowels with them.
func Normalize(text string) string {
	folded := strings.ToLower(norm.NFKC.String(text))

	var b strings.Builder
	b.Grow(len(folded))
	pendingSpace := false
	attached := false
	for _, r := range folded {
		switch {
		case unicode.IsSpace(r):
			pendingSpace = b.Len() > 0
			attached = false
		case unicode.IsLetter(r) || unicode.IsNumber(r):
			if pendingSpace {
				b.WriteByte(' ')
				pendingSpace = false
			}
			b.WriteRune(r)
			attached = true
		case unicode.IsMark(r) && attached:
			b.WriteRune(r)
		default:
			// punctuation, symbols, controls and marks left over from dropped runes
			attached = false
		}
	}
	return b.String()
}

// Of returns the hex SHA-256 of the action and normalized text. The boolean is
// false when the text normalizes to nothing; such rewards are not content based.
func Of(action, text string) (string, bool) {
	normalized := Normalize(text)
	if normalized == "" {
		return "", false
	}
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(action)) + separator + normalized))
	return hex.EncodeToString(sum[:]), true
}

// Excerpt trims text to a short single-line preview.
func Excerpt(text string) string {
	line := strings.Join(strings.Fields(text), " ")
	runes := []rune(line)
	if len(runes) <= MaxExcerptRunes {
		return line
	}
	return strings.TrimSpace(string(runes[:MaxExcerptRunes-1])) + "…"
}
