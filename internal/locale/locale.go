// Package locale normalises language codes and keyword text for locale-aware
// matching.
package locale

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Default is the language used when none is configured.
const Default = "en"

// Auto asks a policy to detect the language of each input.
const Auto = "auto"

// Normalize parses code as a BCP 47 tag and returns its base ISO 639 code,
// e.g. "en-US" -> "en", "TR" -> "tr".
func Normalize(code string) (string, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return "", fmt.Errorf("locale: empty language code")
	}
	tag, err := language.Parse(code)
	if err != nil {
		return "", fmt.Errorf("locale: invalid language code %q: %w", code, err)
	}
	base, _ := tag.Base()
	return base.String(), nil
}

// Fold returns s in NFC form, lower-cased with the rules of lang. Used as the
// identity of a keyword so configured duplicates collapse.
func Fold(lang, s string) string {
	tag, err := language.Parse(lang)
	if err != nil {
		tag = language.Und
	}
	return cases.Lower(tag).String(norm.NFC.String(strings.TrimSpace(s)))
}

// NFC returns s in Unicode normalisation form C.
func NFC(s string) string {
	return norm.NFC.String(s)
}
