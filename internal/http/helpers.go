package http

import (
	"html"
	"strings"
)

// sanitizeInput strips markup and control characters from free text and
// trims it.
func (s *Server) sanitizeInput(v string) string {
	v = strings.Map(func(r rune) rune {
		if r < 32 && r != '\t' && r != '\n' && r != '\r' {
			return -1
		}
		return r
	}, v)
	// the policy escapes what it keeps; the API returns raw text
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(v)))
}
