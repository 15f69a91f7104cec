package wgconf

import (
	"strings"
	"unicode"
)

// Section is one block of an interface config: optional comment lines that
// sit directly above the header, the header itself and the raw body lines.
// The preamble before the first header has an empty Header.
type Section struct {
	Lead   []string
	Header string
	Body   []string
}

// Name returns the header name without brackets, e.g. "Peer".
func (s *Section) Name() string {
	h := strings.TrimSpace(s.Header)
	return strings.TrimSuffix(strings.TrimPrefix(h, "["), "]")
}

// IsPeer reports whether the section is a [Peer] block.
func (s *Section) IsPeer() bool {
	return strings.EqualFold(s.Name(), "Peer")
}

// Get returns the value of the first "Key = value" line in the body.
// Keys compare case-insensitively, as wg(8) does.
func (s *Section) Get(key string) string {
	for _, line := range s.Body {
		k, v, ok := splitAssignment(line)
		if ok && strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

// PublicKey returns the section's PublicKey value.
func (s *Section) PublicKey() string {
	return s.Get("PublicKey")
}

// Comments returns every comment line attached to the section, lead first.
func (s *Section) Comments() []string {
	var out []string
	for _, line := range s.Lead {
		if isComment(line) {
			out = append(out, line)
		}
	}
	for _, line := range s.Body {
		if isComment(line) {
			out = append(out, line)
		}
	}
	return out
}

// Tokens returns the identifier-like words found in the section's comments.
func (s *Section) Tokens() []string {
	var tokens []string
	for _, c := range s.Comments() {
		tokens = append(tokens, commentTokens(c)...)
	}
	return tokens
}

func (s *Section) lines() []string {
	out := make([]string, 0, len(s.Lead)+1+len(s.Body))
	out = append(out, s.Lead...)
	if s.Header != "" {
		out = append(out, s.Header)
	}
	return append(out, s.Body...)
}

// commentTokens splits a comment into words. A word ending in a profile
// suffix or trailing punctuation, such as "monthly_001.conf" or "ORD42.",
// is also indexed without it.
func commentTokens(line string) []string {
	text := strings.TrimLeft(strings.TrimSpace(line), "#")
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-' || r == '.')
	})

	tokens := make([]string, 0, len(words))
	for _, w := range words {
		tokens = append(tokens, w)
		bare := strings.TrimRight(strings.TrimSuffix(w, ".conf"), ".-")
		if bare != "" && bare != w {
			tokens = append(tokens, bare)
		}
	}
	return tokens
}

func splitAssignment(line string) (key, value string, ok bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || isComment(trimmed) {
		return "", "", false
	}
	parts := strings.SplitN(trimmed, "=", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), true
}

func isComment(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), "#")
}

func isBlank(line string) bool {
	return strings.TrimSpace(line) == ""
}

func isHeader(line string) bool {
	t := strings.TrimSpace(line)
	return len(t) > 2 && strings.HasPrefix(t, "[") && strings.HasSuffix(t, "]")
}
