package policy

import (
	"strings"

	"github.com/cexll/pollbot/internal/platform"
)

// Matcher decides whether a comment body should get a reply.
type Matcher func(body string) bool

// MarkerMatcher matches bodies containing marker, ignoring case. An empty
// marker matches nothing.
func MarkerMatcher(marker string) Matcher {
	marker = strings.ToLower(strings.TrimSpace(marker))
	return func(body string) bool {
		return ContainsFold(body, marker)
	}
}

// IsOptOutRequest reports whether m asks to stop replies: the marker appears in
// its subject or body and it has an author to opt out. Platform-generated
// messages are never opt-out requests.
func IsOptOutRequest(m *platform.Message, marker string) bool {
	if !m.HasAuthor() {
		return false
	}
	return ContainsFold(m.Subject, marker) || ContainsFold(m.Body, marker)
}

// ContainsFold is a case-insensitive strings.Contains.
func ContainsFold(s, substr string) bool {
	substr = strings.TrimSpace(substr)
	if substr == "" {
		return false
	}
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
