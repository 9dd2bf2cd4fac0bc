package mpy

import "strings"

// statement keywords that disqualify a line from expression wrapping.
var statementKeywords = map[string]bool{
	"import": true, "from": true, "def": true, "class": true,
	"for": true, "while": true, "if": true, "elif": true, "else": true,
	"try": true, "except": true, "finally": true, "with": true,
	"del": true, "global": true, "nonlocal": true, "return": true,
	"raise": true, "pass": true, "break": true, "continue": true,
	"assert": true, "print": true,
}

// WrapFriendly wraps a single-line expression in print(...) so a friendly
// command shows its value, the way the interactive prompt would echo it.
// Statements, assignments and multi-line input pass through unchanged.
//
// The check is a conservative heuristic, not a parser: when in doubt the
// code runs unwrapped.
func WrapFriendly(code string) string {
	trimmed := strings.TrimSpace(code)
	if trimmed == "" || strings.ContainsRune(trimmed, '\n') {
		return code
	}

	if statementKeywords[leadingIdent(trimmed)] {
		return code
	}

	if hasAssignment(trimmed) {
		return code
	}

	return "print(" + trimmed + ")"
}

// leadingIdent returns the identifier prefix of s, so keywords are
// recognized whether followed by a space, a parenthesis or a colon.
func leadingIdent(s string) string {
	i := 0
	for i < len(s) {
		c := s[i]
		if c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' ||
			i > 0 && c >= '0' && c <= '9' {
			i++
			continue
		}
		break
	}
	return s[:i]
}

// hasAssignment reports whether s contains a top-level '=' that is not
// part of a comparison operator.
func hasAssignment(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] != '=' {
			continue
		}
		prev := byte(0)
		if i > 0 {
			prev = s[i-1]
		}
		next := byte(0)
		if i+1 < len(s) {
			next = s[i+1]
		}
		if next == '=' {
			i++ // comparison ==, skip both
			continue
		}
		switch prev {
		case '=', '!', '<', '>', '+', '-', '*', '/', '%', '&', '|', '^':
			// comparison tail or augmented assignment: the augmented
			// forms are assignments too.
			switch prev {
			case '=', '!', '<', '>':
				continue
			}
			return true
		}
		return true
	}
	return false
}
