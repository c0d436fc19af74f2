// Package validate provides the input checks shared by the web page, the CLI client
// and the relay.
package validate

import (
	"regexp"
	"unicode/utf8"
)

// whitespace is the set of characters the page's script treats as \s. RE2's
// \s is ASCII only, so the Unicode spaces are listed explicitly.
const whitespace = `\t\n\v\f\r \x{a0}\x{1680}\x{2000}-\x{200a}\x{2028}\x{2029}\x{202f}\x{205f}\x{3000}\x{feff}`

// emailPattern is the basic syntax check applied before a chart email is sent.
var emailPattern = regexp.MustCompile(
	`^[^` + whitespace + `@]+@[^` + whitespace + `@]+\.[^` + whitespace + `@]+$`,
)

// minUsernameLength is the minimum number of characters in a username.
const minUsernameLength = 8

// Email reports whether addr looks like an email address. It is intentionally
// loose: one "@", no whitespace, and a dot somewhere in the domain part.
func Email(addr string) bool {
	return emailPattern.MatchString(addr)
}

// Username reports whether name is a single line of at least 8 characters
// containing at least one capital letter (A-Z) and at least one digit (0-9).
func Username(name string) bool {
	if utf8.RuneCountInString(name) < minUsernameLength {
		return false
	}

	var hasUpper, hasDigit bool
	for _, r := range name {
		switch {
		case r >= 'A' && r <= 'Z':
			hasUpper = true
		case r >= '0' && r <= '9':
			hasDigit = true
		case r == '\n' || r == '\r' || r == '\u2028' || r == '\u2029':
			return false
		}
	}
	return hasUpper && hasDigit
}

// UsernameHint returns the feedback text shown next to the username field.
func UsernameHint(name string) string {
	if Username(name) {
		return "Username meets all requirements"
	}
	return "Username must contain at least 1 capital letter, 1 number, and be at least 8 characters long."
}
