// Package reactor holds the two halves of a scan cycle: the comment reactor,
// which replies to matching comments in watched feeds, and the message
// reactor, which drains the inbox and records opt-out requests.
//
// Both isolate failures per item. A feed that cannot be fetched or a reply
// that is rejected is logged and counted, and the scan moves on.
package reactor

import (
	"context"

	"go.uber.org/zap"

	"github.com/cexll/pollbot/internal/metrics"
	"github.com/cexll/pollbot/internal/platform"
	"github.com/cexll/pollbot/internal/policy"
)

// DefaultLimit bounds how many comments per feed and messages per cycle are
// inspected.
const DefaultLimit = 25

// CommentOptions configures a CommentReactor.
type CommentOptions struct {
	// Limit is the number of most recent comments fetched per feed.
	Limit int
	// Marker is the text a comment must contain (case-insensitive).
	Marker string
	// Owner is mentioned in the reply footer.
	Owner string
	// OptOutMarker is the subject and body of the footer's unsubscribe link.
	OptOutMarker string
}

// CommentReport summarises one pass over the watch list.
type CommentReport struct {
	Feeds           int `json:"feeds"`
	FeedFailures    int `json:"feed_failures"`
	Comments        int `json:"comments"`
	Matches         int `json:"matches"`
	Replies         int `json:"replies"`
	ReplyFailures   int `json:"reply_failures"`
	RefreshFailures int `json:"refresh_failures"`
}

// CommentReactor replies to comments that match the marker.
type CommentReactor struct {
	session   platform.Session
	optOuts   policy.OptOuts
	match     policy.Matcher
	templates *Templates
	opts      CommentOptions
	logger    *zap.Logger
}

// NewCommentReactor returns a reactor reading the opt-out set through optOuts.
func NewCommentReactor(session platform.Session, optOuts policy.OptOuts, templates *Templates, opts CommentOptions, logger *zap.Logger) *CommentReactor {
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CommentReactor{
		session:   session,
		optOuts:   optOuts,
		match:     policy.MarkerMatcher(opts.Marker),
		templates: templates,
		opts:      opts,
		logger:    logger.Named("comments"),
	}
}

// Scan visits each feed in order.
func (r *CommentReactor) Scan(ctx context.Context, feeds []string) CommentReport {
	var report CommentReport
	self := r.session.Identity()
	footer := NewFooterData(r.session, r.opts.Owner, r.opts.OptOutMarker)

	for _, feed := range feeds {
		report.Feeds++

		comments, err := r.session.RecentComments(ctx, feed, r.opts.Limit)
		if err != nil {
			report.FeedFailures++
			metrics.FeedFailures.WithLabelValues(feed).Inc()
			r.logger.Warn("feed_fetch_failed", zap.String("feed", feed), zap.Error(err))
			continue
		}

		for _, c := range comments {
			report.Comments++
			r.handle(ctx, feed, self, c, footer, &report)
		}
	}

	return report
}

func (r *CommentReactor) handle(ctx context.Context, feed, self string, c *platform.Comment, footer FooterData, report *CommentReport) {
	if !r.match(c.Body) {
		return
	}
	// Self and opt-out are decidable without the network.
	if !policy.MayReply(c, self, r.optOuts) {
		return
	}

	// Listings omit child replies; without a refresh every cycle would reply again.
	if err := r.session.RefreshReplies(ctx, c); err != nil {
		report.RefreshFailures++
		r.logger.Warn("comment_refresh_failed",
			zap.String("comment_id", c.ID),
			zap.String("feed", feed),
			zap.Error(err))
		return
	}
	if !policy.MayReply(c, self, r.optOuts) {
		return
	}

	report.Matches++
	metrics.CommentsMatched.WithLabelValues(feed).Inc()
	r.logger.Info("comment_matched",
		zap.String("comment_id", c.ID),
		zap.String("feed", feed),
		zap.String("body", preview(c.Body, previewLength)))

	text, err := r.templates.CommentReply(ReplyData{
		Author: c.Author,
		Feed:   feed,
		Bot:    self,
		Owner:  r.opts.Owner,
	}, footer)
	if err == nil {
		err = r.session.ReplyToComment(ctx, c, text)
	}
	metrics.Replies.WithLabelValues("comment", metrics.Result(err)).Inc()
	if err != nil {
		report.ReplyFailures++
		r.logger.Warn("reply_failed",
			zap.String("comment_id", c.ID),
			zap.String("feed", feed),
			zap.Error(err))
		return
	}

	report.Replies++
}
