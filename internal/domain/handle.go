package domain

import (
	"errors"
	"strings"
)

// MaxHandleLength is the longest login the hosting platform issues.
const MaxHandleLength = 39

var ErrInvalidHandle = errors.New("handle must be 1-39 letters, digits or single inner hyphens")

// NormalizeHandle strips whitespace and one leading "@" and checks the hosting platform's
// login rules: alphanumerics and hyphens, no leading or trailing hyphen, no "--".
func NormalizeHandle(s string) (string, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "@")
	if s == "" || len(s) > MaxHandleLength {
		return "", ErrInvalidHandle
	}
	if s[0] == '-' || s[len(s)-1] == '-' || strings.Contains(s, "--") {
		return "", ErrInvalidHandle
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-':
		default:
			return "", ErrInvalidHandle
		}
	}
	return s, nil
}
