package reddit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cexll/pollbot/internal/platform"
)

const (
	kindComment = "t1"
	kindLink    = "t3"
	kindMessage = "t4"
	kindMore    = "more"

	// maxMoreChildren is how many ids /api/morechildren accepts per request.
	maxMoreChildren = 100
)

type listing struct {
	Kind string `json:"kind"`
	Data struct {
		Children []thing `json:"children"`
	} `json:"data"`
}

type thing struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

type commentData struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Author     string          `json:"author"`
	Body       string          `json:"body"`
	Subreddit  string          `json:"subreddit"`
	Permalink  string          `json:"permalink"`
	CreatedUTC float64         `json:"created_utc"`
	ParentID   string          `json:"parent_id"`
	Replies    json.RawMessage `json:"replies"`
}

// moreData is the stub standing in for replies left out of a listing.
type moreData struct {
	Count    int      `json:"count"`
	Children []string `json:"children"`
}

type messageData struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Author  string `json:"author"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type writeResponse struct {
	JSON struct {
		Errors [][]any `json:"errors"`
	} `json:"json"`
}

type moreChildrenResponse struct {
	JSON struct {
		Errors [][]any `json:"errors"`
		Data   struct {
			Things []thing `json:"things"`
		} `json:"data"`
	} `json:"json"`
}

func (w writeResponse) err() error {
	return apiErrors(w.JSON.Errors)
}

func apiErrors(errs [][]any) error {
	if len(errs) == 0 {
		return nil
	}
	parts := make([]string, 0, len(errs))
	for _, e := range errs {
		fields := make([]string, 0, len(e))
		for _, f := range e {
			if f != nil {
				fields = append(fields, fmt.Sprint(f))
			}
		}
		parts = append(parts, strings.Join(fields, ": "))
	}
	return errors.New(strings.Join(parts, "; "))
}

func (c commentData) toComment(feed string) *platform.Comment {
	if feed == "" {
		feed = c.Subreddit
	}
	return &platform.Comment{
		ID:        c.ID,
		Author:    c.Author,
		Body:      c.Body,
		Feed:      feed,
		URL:       webURL + c.Permalink,
		CreatedAt: time.Unix(int64(c.CreatedUTC), 0).UTC(),
		Ref:       c.Name,
	}
}

// replies decodes the replies field, which is "" when there are none. It also
// returns the ids of replies the listing left behind "more" stubs.
func (c commentData) replies() ([]platform.Reply, []string, error) {
	raw := bytes.TrimSpace(c.Replies)
	if len(raw) == 0 || raw[0] != '{' {
		return nil, nil, nil
	}

	var l listing
	if err := json.Unmarshal(raw, &l); err != nil {
		return nil, nil, err
	}

	var out []platform.Reply
	var more []string
	for _, child := range l.Data.Children {
		switch child.Kind {
		case kindComment:
			var d commentData
			if err := json.Unmarshal(child.Data, &d); err != nil {
				return nil, nil, err
			}
			out = append(out, platform.Reply{ID: d.ID, Author: d.Author})
		case kindMore:
			var m moreData
			if err := json.Unmarshal(child.Data, &m); err != nil {
				return nil, nil, err
			}
			if m.Count > 0 && len(m.Children) == 0 {
				return nil, nil, fmt.Errorf("%d replies are only reachable through a continued thread", m.Count)
			}
			more = append(more, m.Children...)
		}
	}
	return out, more, nil
}

// linkFullname returns the t3 fullname of the post heading a thread listing.
func linkFullname(l listing) string {
	for _, child := range l.Data.Children {
		if child.Kind != kindLink {
			continue
		}
		var d struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		}
		if err := json.Unmarshal(child.Data, &d); err == nil && d.ID != "" {
			return fullname(kindLink, d.Name, d.ID)
		}
	}
	return ""
}

func limitQuery(limit int) url.Values {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("raw_json", "1")
	return q
}

// RecentComments lists the newest comments of a subreddit.
func (s *Session) RecentComments(ctx context.Context, feed string, limit int) ([]*platform.Comment, error) {
	var l listing
	path := "/r/" + url.PathEscape(feed) + "/comments"
	if err := s.call(ctx, "list_comments", feed, http.MethodGet, path, limitQuery(limit), nil, &l); err != nil {
		return nil, err
	}

	comments := make([]*platform.Comment, 0, len(l.Data.Children))
	for _, child := range l.Data.Children {
		if child.Kind != kindComment {
			continue
		}
		var d commentData
		if err := json.Unmarshal(child.Data, &d); err != nil {
			return nil, platform.NewServiceError("list_comments", feed, 0, err)
		}
		comments = append(comments, d.toComment(feed))
	}
	return comments, nil
}

// RefreshReplies loads the comment's own thread, which carries its direct
// replies. Replies collapsed into "more" stubs are fetched separately.
func (s *Session) RefreshReplies(ctx context.Context, c *platform.Comment) error {
	u, err := url.Parse(c.URL)
	if err != nil || u.Path == "" {
		return platform.NewServiceError("refresh_replies", c.ID, 0, fmt.Errorf("no permalink for comment: %q", c.URL))
	}

	q := url.Values{}
	q.Set("depth", "2")
	q.Set("raw_json", "1")

	var listings []listing
	path := strings.TrimRight(u.Path, "/")
	if err := s.call(ctx, "refresh_replies", c.ID, http.MethodGet, path, q, nil, &listings); err != nil {
		return err
	}
	if len(listings) < 2 {
		return platform.NewServiceError("refresh_replies", c.ID, 0, errors.New("unexpected thread shape"))
	}

	for _, child := range listings[1].Data.Children {
		if child.Kind != kindComment {
			continue
		}
		var d commentData
		if err := json.Unmarshal(child.Data, &d); err != nil {
			return platform.NewServiceError("refresh_replies", c.ID, 0, err)
		}
		if d.ID != c.ID {
			continue
		}
		replies, more, err := d.replies()
		if err != nil {
			return platform.NewServiceError("refresh_replies", c.ID, 0, err)
		}
		if len(more) > 0 {
			extra, err := s.moreReplies(ctx, c.ID, linkFullname(listings[0]), more)
			if err != nil {
				return err
			}
			replies = append(replies, extra...)
		}
		c.Replies = replies
		return nil
	}
	return platform.NewServiceError("refresh_replies", c.ID, http.StatusNotFound, errors.New("comment not in thread"))
}

// moreReplies expands "more" stubs and keeps the direct replies to commentID.
func (s *Session) moreReplies(ctx context.Context, commentID, link string, children []string) ([]platform.Reply, error) {
	if link == "" {
		return nil, platform.NewServiceError("refresh_replies", commentID, 0, errors.New("thread has no post to expand replies from"))
	}

	parent := kindComment + "_" + commentID
	var out []platform.Reply
	for start := 0; start < len(children); start += maxMoreChildren {
		end := min(start+maxMoreChildren, len(children))

		q := url.Values{}
		q.Set("api_type", "json")
		q.Set("link_id", link)
		q.Set("children", strings.Join(children[start:end], ","))
		q.Set("limit_children", "false")
		q.Set("raw_json", "1")

		var resp moreChildrenResponse
		if err := s.call(ctx, "refresh_replies", commentID, http.MethodGet, "/api/morechildren", q, nil, &resp); err != nil {
			return nil, err
		}
		if err := apiErrors(resp.JSON.Errors); err != nil {
			return nil, platform.NewServiceError("refresh_replies", commentID, 0, err)
		}

		for _, th := range resp.JSON.Data.Things {
			if th.Kind != kindComment {
				continue
			}
			var d commentData
			if err := json.Unmarshal(th.Data, &d); err != nil {
				return nil, platform.NewServiceError("refresh_replies", commentID, 0, err)
			}
			if d.ParentID == parent {
				out = append(out, platform.Reply{ID: d.ID, Author: d.Author})
			}
		}
	}
	return out, nil
}

func (s *Session) ReplyToComment(ctx context.Context, c *platform.Comment, text string) error {
	form := url.Values{}
	form.Set("thing_id", fullname(kindComment, c.Ref, c.ID))
	form.Set("text", text)
	return s.post(ctx, "reply_comment", c.ID, "/api/comment", form, false)
}

// RecentMessages lists received private messages, newest first.
func (s *Session) RecentMessages(ctx context.Context, limit int) ([]*platform.Message, error) {
	var l listing
	if err := s.call(ctx, "list_messages", "inbox", http.MethodGet, "/message/messages", limitQuery(limit), nil, &l); err != nil {
		return nil, err
	}

	messages := make([]*platform.Message, 0, len(l.Data.Children))
	for _, child := range l.Data.Children {
		if child.Kind != kindMessage {
			continue
		}
		var d messageData
		if err := json.Unmarshal(child.Data, &d); err != nil {
			return nil, platform.NewServiceError("list_messages", "inbox", 0, err)
		}
		messages = append(messages, &platform.Message{
			ID:      d.ID,
			Author:  d.Author,
			Subject: d.Subject,
			Body:    d.Body,
			Ref:     d.Name,
		})
	}
	return messages, nil
}

func (s *Session) ReplyToMessage(ctx context.Context, m *platform.Message, text string) error {
	form := url.Values{}
	form.Set("thing_id", fullname(kindMessage, m.Ref, m.ID))
	form.Set("text", text)
	return s.post(ctx, "reply_message", m.ID, "/api/comment", form, false)
}

func (s *Session) DeleteMessage(ctx context.Context, m *platform.Message) error {
	form := url.Values{}
	form.Set("id", fullname(kindMessage, m.Ref, m.ID))
	return s.post(ctx, "delete_message", m.ID, "/api/del_msg", form, true)
}

// fullname returns ref or builds kind_id from the bare id.
func fullname(kind, ref, id string) string {
	if ref != "" {
		return ref
	}
	return kind + "_" + id
}
