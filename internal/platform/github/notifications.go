package github

import (
	"context"
	"net/http"
	"strconv"

	gh "github.com/google/go-github/v66/github"
	"go.uber.org/zap"

	"github.com/cexll/pollbot/internal/platform"
)

// RecentMessages lists unread notification threads. A thread's author and body
// come from its latest comment; threads without one (releases, CI) have no
// author and are treated as platform-generated. A thread whose latest comment
// cannot be loaded is left out and stays unread for the next cycle.
func (s *Session) RecentMessages(ctx context.Context, limit int) ([]*platform.Message, error) {
	opts := &gh.NotificationListOptions{ListOptions: gh.ListOptions{PerPage: limit}}

	var threads []*gh.Notification
	err := s.do(ctx, "list_messages", "notifications", func() error {
		var err error
		threads, _, err = s.client.Activity.ListNotifications(ctx, opts)
		return err
	})
	if err != nil {
		return nil, err
	}

	messages := make([]*platform.Message, 0, len(threads))
	for _, n := range threads {
		if limit > 0 && len(messages) == limit {
			break
		}
		m := &platform.Message{
			ID:      n.GetID(),
			Subject: n.GetSubject().GetTitle(),
			Ref:     n.GetSubject().GetURL(),
		}
		if latest := n.GetSubject().GetLatestCommentURL(); latest != "" {
			author, body, err := s.latestComment(ctx, n.GetID(), latest)
			if err != nil {
				s.logger.Warn("notification_comment_fetch_failed",
					zap.String("thread_id", n.GetID()),
					zap.Error(err))
				continue
			}
			m.Author, m.Body = author, body
		}
		messages = append(messages, m)
	}
	return messages, nil
}

// latestComment loads the comment a notification points at. Subjects whose
// latest item is the issue itself are decoded the same way.
func (s *Session) latestComment(ctx context.Context, threadID, rawURL string) (author, body string, err error) {
	var c struct {
		Body *string  `json:"body"`
		User *gh.User `json:"user"`
	}
	err = s.do(ctx, "fetch_message", threadID, func() error {
		req, err := s.client.NewRequest(http.MethodGet, rawURL, nil)
		if err != nil {
			return err
		}
		_, err = s.client.Do(ctx, req, &c)
		return err
	})
	if err != nil {
		return "", "", err
	}
	return c.User.GetLogin(), stringValue(c.Body), nil
}

func stringValue(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// ReplyToMessage comments on the notification's issue, mentioning the sender.
func (s *Session) ReplyToMessage(ctx context.Context, m *platform.Message, text string) error {
	ref, err := parseIssueURL(m.Ref)
	if err != nil {
		return platform.NewServiceError("reply_message", m.ID, 0, err)
	}

	body := text
	if m.HasAuthor() {
		body = s.Mention(m.Author) + " " + text
	}
	return s.doWrite(ctx, "reply_message", m.ID, func() error {
		_, _, err := s.client.Issues.CreateComment(ctx, ref.owner, ref.repo, ref.number, &gh.IssueComment{Body: gh.String(body)})
		return err
	})
}

// DeleteMessage marks the thread done so it leaves the inbox. Thread ids that
// are not numeric are only marked read.
func (s *Session) DeleteMessage(ctx context.Context, m *platform.Message) error {
	id, convErr := strconv.ParseInt(m.ID, 10, 64)
	return s.do(ctx, "delete_message", m.ID, func() error {
		if convErr != nil {
			_, err := s.client.Activity.MarkThreadRead(ctx, m.ID)
			return err
		}
		_, err := s.client.Activity.MarkThreadDone(ctx, id)
		return err
	})
}
