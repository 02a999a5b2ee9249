// Package syntax provides lexical helpers for the subset of the SIP
// grammar the module routes on. Full ABNF validation is out of scope;
// these checks cover tokens, quoted strings and parameter separators.
package syntax

import "strings"

const tokenChars = "-.!%*_+`'~"

// IsTokenChar reports whether c is a valid RFC 3261 token character.
func IsTokenChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	default:
		return strings.IndexByte(tokenChars, c) >= 0
	}
}

// IsToken reports whether s is a non-empty RFC 3261 token.
func IsToken[T ~string](s T) bool {
	if len(s) == 0 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !IsTokenChar(s[i]) {
			return false
		}
	}
	return true
}

// IsQuoted reports whether s is wrapped in double quotes.
func IsQuoted[T ~string](s T) bool {
	return len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"'
}

// Quote wraps s in double quotes, escaping embedded quotes and backslashes.
func Quote(s string) string {
	var sb strings.Builder
	sb.Grow(len(s) + 2)
	sb.WriteByte('"')
	for i := 0; i < len(s); i++ {
		if s[i] == '"' || s[i] == '\\' {
			sb.WriteByte('\\')
		}
		sb.WriteByte(s[i])
	}
	sb.WriteByte('"')
	return sb.String()
}

// Unquote strips surrounding double quotes and resolves escapes.
// A non-quoted input is returned unchanged.
func Unquote(s string) string {
	if !IsQuoted(s) {
		return s
	}
	s = s[1 : len(s)-1]
	if !strings.ContainsRune(s, '\\') {
		return s
	}
	var sb strings.Builder
	sb.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		sb.WriteByte(s[i])
	}
	return sb.String()
}

// NeedsQuoting reports whether a parameter value must be rendered as a
// quoted string because it contains separators or whitespace.
func NeedsQuoting(s string) bool {
	return !IsToken(s)
}

// SplitUnquoted splits s on sep, ignoring separators inside double quotes
// and angle brackets. Used for comma-separated header values and
// semicolon-separated parameter lists.
func SplitUnquoted(s string, sep byte) []string {
	var (
		parts   []string
		start   int
		quoted  bool
		bracket int
	)
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '"' && (i == 0 || s[i-1] != '\\'):
			quoted = !quoted
		case quoted:
		case c == '<':
			bracket++
		case c == '>':
			if bracket > 0 {
				bracket--
			}
		case c == sep && bracket == 0:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	parts = append(parts, s[start:])
	return parts
}

// CutParams separates a header value from its trailing ;-parameters.
func CutParams(s string) (value, params string) {
	parts := SplitUnquoted(s, ';')
	if len(parts) == 1 {
		return s, ""
	}
	return parts[0], s[len(parts[0])+1:]
}
