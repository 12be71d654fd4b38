// Package policy decides whether the bot may act on a comment or message.
// Everything here is pure; callers supply the live platform state.
package policy

import (
	"strings"

	"github.com/cexll/pollbot/internal/platform"
)

// OptOuts answers opt-out membership.
type OptOuts interface {
	IsOptedOut(author string) bool
}

// MayReply reports whether the bot is allowed to reply to c:
//
//  1. never to its own comments,
//  2. never to opted-out authors,
//  3. at most once per comment, judged from c.Replies.
//
// Rule 3 is only as good as c.Replies, so callers refresh the comment first.
// The content rule is applied separately by the caller.
func MayReply(c *platform.Comment, self string, optOuts OptOuts) bool {
	if c == nil {
		return false
	}
	if SameHandle(c.Author, self) {
		return false
	}
	if optOuts != nil && optOuts.IsOptedOut(c.Author) {
		return false
	}
	return !RepliedBy(c, self)
}

// RepliedBy reports whether handle authored one of c's direct replies.
func RepliedBy(c *platform.Comment, handle string) bool {
	for _, r := range c.Replies {
		if SameHandle(r.Author, handle) {
			return true
		}
	}
	return false
}

// SameHandle compares platform handles, which are case-insensitive. Empty
// handles (deleted or system authors) never match.
func SameHandle(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" || b == "" {
		return false
	}
	return strings.EqualFold(a, b)
}
