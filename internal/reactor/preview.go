package reactor

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const previewLength = 70

var (
	reInvisible  = regexp.MustCompile("[\u200B\u200C\u200D\uFEFF\u00AD]")
	reControl    = regexp.MustCompile("[\u0000-\u0008\u000B\u000C\u000E-\u001F\u007F-\u009F]")
	reBidi       = regexp.MustCompile("[\u202A-\u202E\u2066-\u2069]")
	reWhitespace = regexp.MustCompile(`\s+`)

	reGitHubToken = regexp.MustCompile(`\b(?:ghp|gho|ghs|ghr)_[A-Za-z0-9]{36}\b|\bgithub_pat_[A-Za-z0-9_]{11,221}\b`)
)

// preview makes user text safe for a single log field: invisible and control
// characters are stripped, leaked tokens are redacted, whitespace is collapsed
// and the result is cut to max runes including the "..." suffix.
func preview(s string, max int) string {
	s = reInvisible.ReplaceAllString(s, "")
	s = reControl.ReplaceAllString(s, "")
	s = reBidi.ReplaceAllString(s, "")
	s = reGitHubToken.ReplaceAllString(s, "[REDACTED]")
	s = strings.TrimSpace(reWhitespace.ReplaceAllString(s, " "))

	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	if max <= 3 {
		return strings.Repeat(".", max)
	}

	runes := []rune(s)
	return string(runes[:max-3]) + "..."
}
