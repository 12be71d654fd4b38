// Package platformtest provides an in-memory platform.Session for tests.
//
// Feed listings never include replies, the way real platforms omit child
// comments from listings; RefreshReplies fills them from the live reply state,
// which ReplyToComment appends to.
package platformtest

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/cexll/pollbot/internal/platform"
)

// Post records a reply issued through the session.
type Post struct {
	TargetID string
	Text     string
}

// Session is a scriptable platform.Session. Zero values are usable after
// NewSession; the error maps inject failures keyed by feed, comment id or
// message id.
type Session struct {
	mu sync.Mutex

	Self string

	feeds   map[string][]*platform.Comment
	replies map[string][]platform.Reply
	inbox   []*platform.Message
	nextID  int

	FeedErrors         map[string]error
	RefreshErrors      map[string]error
	ReplyErrors        map[string]error
	MessageErrors      error
	MessageReplyErrors map[string]error
	DeleteErrors       map[string]error

	CommentReplies []Post
	MessageReplies []Post
	Deleted        []string
	FeedFetches    []string
	Refreshes      []string
}

// NewSession returns an empty session logged in as self.
func NewSession(self string) *Session {
	return &Session{
		Self:               self,
		feeds:              make(map[string][]*platform.Comment),
		replies:            make(map[string][]platform.Reply),
		FeedErrors:         make(map[string]error),
		RefreshErrors:      make(map[string]error),
		ReplyErrors:        make(map[string]error),
		MessageReplyErrors: make(map[string]error),
		DeleteErrors:       make(map[string]error),
	}
}

// AddComment places c in its feed. Any c.Replies become the live reply state.
func (s *Session) AddComment(c platform.Comment) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(c.Replies) > 0 {
		s.replies[c.ID] = append(s.replies[c.ID], c.Replies...)
	}
	c.Replies = nil
	stored := c
	s.feeds[c.Feed] = append(s.feeds[c.Feed], &stored)
}

// AddMessage appends m to the inbox.
func (s *Session) AddMessage(m platform.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := m
	s.inbox = append(s.inbox, &stored)
}

// Inbox returns the ids of messages still present.
func (s *Session) Inbox() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.inbox))
	for _, m := range s.inbox {
		ids = append(ids, m.ID)
	}
	return ids
}

// LiveReplies returns the current replies of a comment.
func (s *Session) LiveReplies(commentID string) []platform.Reply {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]platform.Reply(nil), s.replies[commentID]...)
}

func (s *Session) Identity() string { return s.Self }

func (s *Session) RecentComments(_ context.Context, feed string, limit int) ([]*platform.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.FeedFetches = append(s.FeedFetches, feed)
	if err := s.FeedErrors[feed]; err != nil {
		return nil, err
	}

	listed := s.feeds[feed]
	if limit > 0 && len(listed) > limit {
		listed = listed[len(listed)-limit:]
	}

	out := make([]*platform.Comment, 0, len(listed))
	// newest first
	for i := len(listed) - 1; i >= 0; i-- {
		c := *listed[i]
		out = append(out, &c)
	}
	return out, nil
}

func (s *Session) RefreshReplies(_ context.Context, c *platform.Comment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Refreshes = append(s.Refreshes, c.ID)
	if err := s.RefreshErrors[c.ID]; err != nil {
		return err
	}
	c.Replies = append([]platform.Reply(nil), s.replies[c.ID]...)
	return nil
}

func (s *Session) ReplyToComment(_ context.Context, c *platform.Comment, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ReplyErrors[c.ID]; err != nil {
		return err
	}
	s.nextID++
	s.replies[c.ID] = append(s.replies[c.ID], platform.Reply{
		ID:     fmt.Sprintf("r%d", s.nextID),
		Author: s.Self,
	})
	s.CommentReplies = append(s.CommentReplies, Post{TargetID: c.ID, Text: text})
	return nil
}

func (s *Session) RecentMessages(_ context.Context, limit int) ([]*platform.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.MessageErrors != nil {
		return nil, s.MessageErrors
	}

	listed := s.inbox
	if limit > 0 && len(listed) > limit {
		listed = listed[:limit]
	}
	out := make([]*platform.Message, 0, len(listed))
	for _, m := range listed {
		cp := *m
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Session) ReplyToMessage(_ context.Context, m *platform.Message, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.MessageReplyErrors[m.ID]; err != nil {
		return err
	}
	s.MessageReplies = append(s.MessageReplies, Post{TargetID: m.ID, Text: text})
	return nil
}

func (s *Session) DeleteMessage(_ context.Context, m *platform.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Deleted = append(s.Deleted, m.ID)
	if err := s.DeleteErrors[m.ID]; err != nil {
		return err
	}
	for i, existing := range s.inbox {
		if existing.ID == m.ID {
			s.inbox = append(s.inbox[:i], s.inbox[i+1:]...)
			break
		}
	}
	return nil
}

func (s *Session) Mention(handle string) string { return "u/" + handle }

func (s *Session) ComposeURL(to, subject, body string) string {
	q := url.Values{}
	q.Set("to", to)
	q.Set("subject", subject)
	q.Set("message", body)
	return "https://example.test/compose?" + q.Encode()
}

// Gateway hands out Session, or fails with Err.
type Gateway struct {
	Session *Session
	Err     error

	Logins []platform.Credentials
}

func (g *Gateway) Authenticate(_ context.Context, creds platform.Credentials) (platform.Session, error) {
	g.Logins = append(g.Logins, creds)
	if g.Err != nil {
		return nil, g.Err
	}
	if strings.TrimSpace(g.Session.Self) == "" {
		g.Session.Self = creds.Username
	}
	return g.Session, nil
}
