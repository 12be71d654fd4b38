package github

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	gh "github.com/google/go-github/v66/github"
	"go.uber.org/zap"

	"github.com/cexll/pollbot/internal/platform"
)

var (
	reInReplyTo = regexp.MustCompile(`<!--\s*in-reply-to:\s*(\d+)\s*-->`)
	reIssueURL  = regexp.MustCompile(`/repos/([^/]+)/([^/]+)/(?:issues|pulls)/(\d+)`)
)

// issueRef identifies an issue or pull request.
type issueRef struct {
	owner  string
	repo   string
	number int
}

func (r issueRef) String() string {
	return fmt.Sprintf("%s/%s#%d", r.owner, r.repo, r.number)
}

func parseRepo(feed string) (owner, repo string, err error) {
	owner, repo, ok := strings.Cut(strings.Trim(feed, "/ "), "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return "", "", fmt.Errorf("feed %q is not owner/repo", feed)
	}
	return owner, repo, nil
}

// parseIssueURL extracts the issue from an API or comment URL.
func parseIssueURL(raw string) (issueRef, error) {
	m := reIssueURL.FindStringSubmatch(raw)
	if m == nil {
		return issueRef{}, fmt.Errorf("no issue in %q", raw)
	}
	n, err := strconv.Atoi(m[3])
	if err != nil {
		return issueRef{}, err
	}
	return issueRef{owner: m[1], repo: m[2], number: n}, nil
}

// parseRef reverses issueRef.String.
func parseRef(ref string) (issueRef, error) {
	repoPart, numPart, ok := strings.Cut(ref, "#")
	if !ok {
		return issueRef{}, fmt.Errorf("malformed issue ref %q", ref)
	}
	owner, repo, err := parseRepo(repoPart)
	if err != nil {
		return issueRef{}, err
	}
	n, err := strconv.Atoi(numPart)
	if err != nil {
		return issueRef{}, fmt.Errorf("malformed issue ref %q: %w", ref, err)
	}
	return issueRef{owner: owner, repo: repo, number: n}, nil
}

func replyMarker(commentID string) string {
	return "<!-- in-reply-to: " + commentID + " -->"
}

// RecentComments lists the newest issue and pull request comments of a
// repository.
func (s *Session) RecentComments(ctx context.Context, feed string, limit int) ([]*platform.Comment, error) {
	owner, repo, err := parseRepo(feed)
	if err != nil {
		return nil, platform.NewServiceError("list_comments", feed, 0, err)
	}

	opts := &gh.IssueListCommentsOptions{
		Sort:        gh.String("created"),
		Direction:   gh.String("desc"),
		ListOptions: gh.ListOptions{PerPage: limit},
	}

	var listed []*gh.IssueComment
	err = s.do(ctx, "list_comments", feed, func() error {
		var err error
		listed, _, err = s.client.Issues.ListComments(ctx, owner, repo, 0, opts)
		return err
	})
	if err != nil {
		return nil, err
	}

	comments := make([]*platform.Comment, 0, len(listed))
	for _, c := range listed {
		ref, err := parseIssueURL(c.GetIssueURL())
		if err != nil {
			s.logger.Debug("comment without issue", zap.Int64("comment_id", c.GetID()))
			continue
		}
		comments = append(comments, &platform.Comment{
			ID:        strconv.FormatInt(c.GetID(), 10),
			Author:    c.GetUser().GetLogin(),
			Body:      c.GetBody(),
			Feed:      feed,
			URL:       c.GetHTMLURL(),
			CreatedAt: c.GetCreatedAt().Time,
			Ref:       ref.String(),
		})
		if limit > 0 && len(comments) == limit {
			break
		}
	}
	return comments, nil
}

// RefreshReplies collects later comments on the same issue that answer c,
// either through the reply marker or by linking to it.
func (s *Session) RefreshReplies(ctx context.Context, c *platform.Comment) error {
	ref, err := parseRef(c.Ref)
	if err != nil {
		return platform.NewServiceError("refresh_replies", c.ID, 0, err)
	}

	opts := &gh.IssueListCommentsOptions{ListOptions: gh.ListOptions{PerPage: 100}}
	if !c.CreatedAt.IsZero() {
		since := c.CreatedAt
		opts.Since = &since
	}

	var replies []platform.Reply
	for {
		var (
			page []*gh.IssueComment
			resp *gh.Response
		)
		err := s.do(ctx, "refresh_replies", c.ID, func() error {
			var err error
			page, resp, err = s.client.Issues.ListComments(ctx, ref.owner, ref.repo, ref.number, opts)
			return err
		})
		if err != nil {
			return err
		}

		for _, later := range page {
			id := strconv.FormatInt(later.GetID(), 10)
			if id == c.ID || !answers(later.GetBody(), c) {
				continue
			}
			replies = append(replies, platform.Reply{ID: id, Author: later.GetUser().GetLogin()})
		}

		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	c.Replies = replies
	return nil
}

func answers(body string, c *platform.Comment) bool {
	for _, m := range reInReplyTo.FindAllStringSubmatch(body, -1) {
		if m[1] == c.ID {
			return true
		}
	}
	return c.URL != "" && strings.Contains(body, c.URL)
}

// ReplyToComment posts a new comment on the issue, mentioning the author and
// carrying the reply marker.
func (s *Session) ReplyToComment(ctx context.Context, c *platform.Comment, text string) error {
	ref, err := parseRef(c.Ref)
	if err != nil {
		return platform.NewServiceError("reply_comment", c.ID, 0, err)
	}

	body := replyMarker(c.ID) + "\n" + s.Mention(c.Author) + " " + text
	return s.doWrite(ctx, "reply_comment", c.ID, func() error {
		_, _, err := s.client.Issues.CreateComment(ctx, ref.owner, ref.repo, ref.number, &gh.IssueComment{Body: gh.String(body)})
		return err
	})
}
