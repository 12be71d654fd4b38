// Package platform defines the capability the bot uses to talk to a discussion
// platform: authenticate once, then read feeds and the inbox and write replies.
package platform

import (
	"context"
	"strings"
	"time"
)

// Credentials are the values handed to a Gateway at login.
type Credentials struct {
	Username     string
	Password     string
	ClientID     string
	ClientSecret string
	UserAgent    string
}

// Reply is a direct child of a Comment.
type Reply struct {
	ID     string
	Author string
}

// Comment is a reply-capable post inside a feed. Replies is only authoritative
// after Session.RefreshReplies; backends may return it empty from a feed listing.
type Comment struct {
	ID        string
	Author    string
	Body      string
	Feed      string
	URL       string
	CreatedAt time.Time
	Replies   []Reply

	// Ref is the backend's own handle for the comment (thread id, issue number).
	Ref string
}

// Message is a private message in the bot's inbox. An empty Author means the
// message was generated by the platform itself.
type Message struct {
	ID      string
	Author  string
	Subject string
	Body    string

	Ref string
}

// HasAuthor reports whether the message was sent by a user.
func (m *Message) HasAuthor() bool {
	return m != nil && strings.TrimSpace(m.Author) != ""
}

// Sender returns the author or "system" for platform-generated messages.
func (m *Message) Sender() string {
	if !m.HasAuthor() {
		return "system"
	}
	return m.Author
}

// Session is an authenticated connection to a platform. All calls block until
// the platform answers; implementations are not required to be safe for
// concurrent use.
type Session interface {
	// Identity is the handle the bot is logged in as.
	Identity() string

	RecentComments(ctx context.Context, feed string, limit int) ([]*Comment, error)
	// RefreshReplies reloads c.Replies from the platform.
	RefreshReplies(ctx context.Context, c *Comment) error
	ReplyToComment(ctx context.Context, c *Comment, text string) error

	RecentMessages(ctx context.Context, limit int) ([]*Message, error)
	ReplyToMessage(ctx context.Context, m *Message, text string) error
	// DeleteMessage removes m from the inbox so it is never listed again.
	DeleteMessage(ctx context.Context, m *Message) error

	// Mention renders a handle the way the platform links users in text.
	Mention(handle string) string
	// ComposeURL returns a link that starts a private message to the handle.
	ComposeURL(to, subject, body string) string
}

// Gateway logs in to a platform.
type Gateway interface {
	Authenticate(ctx context.Context, creds Credentials) (Session, error)
}
