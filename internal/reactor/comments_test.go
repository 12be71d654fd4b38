package reactor

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/cexll/pollbot/internal/platform"
	"github.com/cexll/pollbot/internal/platform/platformtest"
)

func newCommentReactor(t *testing.T, session *platformtest.Session, optOuts ...string) *CommentReactor {
	t.Helper()
	return NewCommentReactor(session, newStore(t, optOuts...), newTemplates(t), CommentOptions{
		Marker:       "test",
		Owner:        "owner",
		OptOutMarker: "unsubscribe",
	}, nil)
}

func TestScan_RepliesToMatchingComment(t *testing.T) {
	session := platformtest.NewSession(botName)
	session.AddComment(platform.Comment{ID: "c1", Author: "alice", Body: "This is a Test", Feed: "golang"})

	store := newStore(t)
	r := NewCommentReactor(session, store, newTemplates(t), CommentOptions{Marker: "test", Owner: "owner", OptOutMarker: "unsubscribe"}, nil)

	report := r.Scan(context.Background(), []string{"golang"})

	require.Len(t, session.CommentReplies, 1)
	reply := session.CommentReplies[0]
	assert.Equal(t, "c1", reply.TargetID)
	assert.True(t, strings.HasPrefix(reply.Text, DefaultCommentTemplate))
	assert.Contains(t, reply.Text, "u/owner")
	assert.Contains(t, reply.Text, "to="+botName)
	assert.Equal(t, CommentReport{Feeds: 1, Comments: 1, Matches: 1, Replies: 1}, report)
	assert.False(t, store.IsOptedOut("alice"))
	assert.Empty(t, store.Snapshot().OptOutSet)
}

func TestScan_SkipsOptedOutAuthor(t *testing.T) {
	session := platformtest.NewSession(botName)
	session.AddComment(platform.Comment{ID: "c1", Author: "alice", Body: "test", Feed: "golang"})

	report := newCommentReactor(t, session, "alice").Scan(context.Background(), []string{"golang"})

	assert.Empty(t, session.CommentReplies)
	assert.Empty(t, session.Refreshes, "opted-out author needs no refresh")
	assert.Equal(t, 0, report.Matches)
}

func TestScan_SkipsOwnComments(t *testing.T) {
	session := platformtest.NewSession(botName)
	session.AddComment(platform.Comment{ID: "c1", Author: "MarkerBot", Body: "test footer", Feed: "golang"})

	newCommentReactor(t, session).Scan(context.Background(), []string{"golang"})

	assert.Empty(t, session.CommentReplies)
}

func TestScan_IgnoresNonMatchingComments(t *testing.T) {
	session := platformtest.NewSession(botName)
	session.AddComment(platform.Comment{ID: "c1", Author: "alice", Body: "nothing to see", Feed: "golang"})

	report := newCommentReactor(t, session).Scan(context.Background(), []string{"golang"})

	assert.Empty(t, session.CommentReplies)
	assert.Empty(t, session.Refreshes)
	assert.Equal(t, 1, report.Comments)
}

func TestScan_RefreshPreventsDuplicateAcrossCycles(t *testing.T) {
	session := platformtest.NewSession(botName)
	session.AddComment(platform.Comment{ID: "c1", Author: "alice", Body: "test", Feed: "golang"})

	r := newCommentReactor(t, session)
	for i := 0; i < 3; i++ {
		r.Scan(context.Background(), []string{"golang"})
	}

	assert.Len(t, session.CommentReplies, 1)
	assert.Len(t, session.LiveReplies("c1"), 1)
}

func TestScan_RespectsExistingReplyFromPreviousRun(t *testing.T) {
	session := platformtest.NewSession(botName)
	session.AddComment(platform.Comment{
		ID: "c1", Author: "alice", Body: "test", Feed: "golang",
		Replies: []platform.Reply{{ID: "old", Author: botName}, {ID: "x", Author: "carol"}},
	})

	report := newCommentReactor(t, session).Scan(context.Background(), []string{"golang"})

	assert.Empty(t, session.CommentReplies)
	assert.Equal(t, []string{"c1"}, session.Refreshes)
	assert.Equal(t, 0, report.Matches)
}

func TestScan_FeedFailureIsIsolated(t *testing.T) {
	session := platformtest.NewSession(botName)
	for _, feed := range []string{"one", "two", "three"} {
		session.AddComment(platform.Comment{ID: feed + "-c", Author: "alice", Body: "test", Feed: feed})
	}
	session.FeedErrors["two"] = errors.New("HTTP 503")

	report := newCommentReactor(t, session).Scan(context.Background(), []string{"one", "two", "three"})

	assert.Equal(t, []string{"one", "two", "three"}, session.FeedFetches)
	assert.Equal(t, 3, report.Feeds)
	assert.Equal(t, 1, report.FeedFailures)
	require.Len(t, session.CommentReplies, 2)
	assert.Equal(t, "one-c", session.CommentReplies[0].TargetID)
	assert.Equal(t, "three-c", session.CommentReplies[1].TargetID)
}

func TestScan_ReplyFailureIsIsolatedAndStillLogged(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)

	session := platformtest.NewSession(botName)
	session.AddComment(platform.Comment{ID: "c1", Author: "alice", Body: "test one", Feed: "golang"})
	session.AddComment(platform.Comment{ID: "c2", Author: "bob", Body: "test two", Feed: "golang"})
	session.ReplyErrors["c2"] = errors.New("RATELIMIT")

	r := NewCommentReactor(session, newStore(t), newTemplates(t), CommentOptions{Marker: "test", Owner: "owner"}, zap.New(core))
	report := r.Scan(context.Background(), []string{"golang"})

	// c2 is newest and fails first; c1 must still be answered.
	require.Len(t, session.CommentReplies, 1)
	assert.Equal(t, "c1", session.CommentReplies[0].TargetID)
	assert.Equal(t, 2, report.Matches)
	assert.Equal(t, 1, report.ReplyFailures)

	matched := logs.FilterMessage("comment_matched").All()
	require.Len(t, matched, 2)
	ids := []string{matched[0].ContextMap()["comment_id"].(string), matched[1].ContextMap()["comment_id"].(string)}
	assert.ElementsMatch(t, []string{"c1", "c2"}, ids)
	assert.Equal(t, "golang", matched[0].ContextMap()["feed"])
	assert.Equal(t, 1, logs.FilterMessage("reply_failed").Len())
}

func TestScan_RefreshFailureSkipsComment(t *testing.T) {
	session := platformtest.NewSession(botName)
	session.AddComment(platform.Comment{ID: "c1", Author: "alice", Body: "test", Feed: "golang"})
	session.AddComment(platform.Comment{ID: "c2", Author: "bob", Body: "test", Feed: "golang"})
	session.RefreshErrors["c2"] = errors.New("EOF")

	report := newCommentReactor(t, session).Scan(context.Background(), []string{"golang"})

	require.Len(t, session.CommentReplies, 1)
	assert.Equal(t, "c1", session.CommentReplies[0].TargetID)
	assert.Equal(t, 1, report.RefreshFailures)
}

func TestScan_HonoursLimit(t *testing.T) {
	session := platformtest.NewSession(botName)
	for _, id := range []string{"c1", "c2", "c3"} {
		session.AddComment(platform.Comment{ID: id, Author: "alice", Body: "test", Feed: "golang"})
	}

	r := NewCommentReactor(session, newStore(t), newTemplates(t), CommentOptions{Limit: 2, Marker: "test"}, nil)
	report := r.Scan(context.Background(), []string{"golang"})

	assert.Equal(t, 2, report.Comments)
	assert.Len(t, session.CommentReplies, 2)
}
