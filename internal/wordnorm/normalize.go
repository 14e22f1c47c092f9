// Package wordnorm canonicalizes guesses and secret words so that guessing
// is forgiving about case, accents, punctuation variants and stray spaces.
package wordnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// stripMarks decomposes to NFD, removes combining marks, and recomposes.
var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

var ligatures = strings.NewReplacer(
	"æ", "ae",
	"œ", "oe",
	"ð", "d",
	"þ", "th",
	"ß", "ss",
)

// apostrophe, backtick, acute, curly quotes, modifier letter, prime → '
var apostrophes = strings.NewReplacer(
	"`", "'", "´", "'", "‘", "'",
	"’", "'", "ʼ", "'", "′", "'",
)

// curly/low/reversed double quotes, double prime → "
var quotes = strings.NewReplacer(
	"“", `"`, "”", `"`, "„", `"`,
	"‟", `"`, "″", `"`,
)

// hyphen variants, figure dash, en/em dash, horizontal bar → -
var hyphens = strings.NewReplacer(
	"‐", "-", "‑", "-", "‒", "-",
	"–", "-", "—", "-", "―", "-",
)

// Normalize lowercases, strips diacritics, expands ligatures, unifies
// apostrophe/quote/hyphen variants, and collapses whitespace. Two strings
// that Normalize equally are considered the same word.
func Normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if out, _, err := transform.String(stripMarks, s); err == nil {
		s = out
	}
	s = ligatures.Replace(s)
	s = apostrophes.Replace(s)
	s = quotes.Replace(s)
	s = hyphens.Replace(s)
	s = strings.Join(strings.Fields(s), " ")
	return s
}
