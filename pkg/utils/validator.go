package utils

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

var controlChars = regexp.MustCompile(`[\x00-\x08\x0b-\x1f\x7f]`)

// SanitizeText strips control characters other than tab and newline and trims spaces
func SanitizeText(s string) string {
	return strings.TrimSpace(controlChars.ReplaceAllString(s, ""))
}

// ValidateLength rejects values longer than max runes
func ValidateLength(field, value string, max int) error {
	if n := utf8.RuneCountInString(value); n > max {
		return fmt.Errorf("%s must be at most %d characters, got %d", field, max, n)
	}
	return nil
}
