package utils

import (
	"golang.org/x/text/language"
)

// GetLanguage normalizes a user supplied language hint to a base language
// code, returning "" when the hint cannot be parsed with confidence.
func GetLanguage(s string) string {
	lang, err := language.Parse(s)
	if err != nil {
		return ""
	}

	base, confidence := lang.Base()
	if confidence < language.High {
		return ""
	}
	return base.String()
}
