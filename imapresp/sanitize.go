package imapresp

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var (
	urlPattern     = regexp.MustCompile(`(?i)\b(?:https?://|www\.)\S+`)
	bracketPattern = regexp.MustCompile(`\[[^\]]*\]|<[^>]*>|\([^)]*\)`)
)

// Sanitize turns a message body into a single-line preview: invisible and
// control characters, links and bracketed fragments are removed, the text is
// NFC-normalized and runs of whitespace collapse into one space.
func Sanitize(s string) string {
	s = norm.NFC.String(s)
	s = strings.Map(func(r rune) rune {
		switch {
		case r == '\t' || r == '\n' || r == '\r':
			return ' '
		case isInvisible(r):
			return -1
		}
		return r
	}, s)
	s = bracketPattern.ReplaceAllString(s, " ")
	s = urlPattern.ReplaceAllString(s, " ")
	return strings.Join(strings.Fields(s), " ")
}

func isInvisible(r rune) bool {
	switch r {
	case '\u034F', '\u115F', '\u1160', '\u3164', '\uFFA0', '\uFEFF', '\u00AD':
		return true
	}
	return unicode.IsControl(r) || unicode.Is(unicode.Cf, r)
}
