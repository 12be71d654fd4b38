package reactor

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/cexll/pollbot/internal/metrics"
	"github.com/cexll/pollbot/internal/platform"
	"github.com/cexll/pollbot/internal/policy"
	"github.com/cexll/pollbot/internal/state"
)

const (
	dispositionOptOut       = "opt_out"
	dispositionUnrecognized = "unrecognized"
)

// OptOutRecorder adds an author to the opt-out set and persists it before
// returning.
type OptOutRecorder interface {
	AddOptOut(author string) (bool, error)
}

// MessageOptions configures a MessageReactor.
type MessageOptions struct {
	// Limit is the number of most recent inbox messages fetched per cycle.
	Limit int
	// Marker classifies a message as an opt-out request (case-insensitive).
	Marker string
	// Owner is mentioned in the reply footer.
	Owner string
}

// MessageReport summarises one inbox drain.
type MessageReport struct {
	Fetched        int   `json:"fetched"`
	OptOuts        int   `json:"opt_outs"`
	Replies        int   `json:"replies"`
	ReplyFailures  int   `json:"reply_failures"`
	Deletes        int   `json:"deletes"`
	DeleteFailures int   `json:"delete_failures"`
	FetchErr       error `json:"-"`
	StoreErr       error `json:"-"`
}

// MessageReactor drains the inbox. Every fetched message is deleted in the same
// cycle whatever else happens to it, so the inbox never presents it again.
type MessageReactor struct {
	session   platform.Session
	store     OptOutRecorder
	templates *Templates
	opts      MessageOptions
	logger    *zap.Logger
}

// NewMessageReactor returns a reactor recording opt-outs through store.
func NewMessageReactor(session platform.Session, store OptOutRecorder, templates *Templates, opts MessageOptions, logger *zap.Logger) *MessageReactor {
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MessageReactor{
		session:   session,
		store:     store,
		templates: templates,
		opts:      opts,
		logger:    logger.Named("messages"),
	}
}

// Drain processes the most recent messages in arrival order.
func (r *MessageReactor) Drain(ctx context.Context) MessageReport {
	var report MessageReport

	messages, err := r.session.RecentMessages(ctx, r.opts.Limit)
	if err != nil {
		report.FetchErr = err
		r.logger.Warn("inbox_fetch_failed", zap.Error(err))
		return report
	}
	if len(messages) == 0 {
		return report
	}

	report.Fetched = len(messages)
	r.logger.Info("messages_received", zap.Int("count", len(messages)))

	footer := NewFooterData(r.session, r.opts.Owner, r.opts.Marker)
	for _, m := range messages {
		r.handle(ctx, m, footer, &report)
	}
	return report
}

func (r *MessageReactor) handle(ctx context.Context, m *platform.Message, footer FooterData, report *MessageReport) {
	r.logger.Info("message_received",
		zap.String("message_id", m.ID),
		zap.String("sender", m.Sender()),
		zap.String("subject", preview(m.Subject, previewLength)),
		zap.String("body", preview(m.Body, previewLength)))

	disposition := dispositionUnrecognized
	if policy.IsOptOutRequest(m, r.opts.Marker) {
		disposition = dispositionOptOut
		r.optOut(ctx, m, footer, report)
	}

	err := r.session.DeleteMessage(ctx, m)
	metrics.MessagesDrained.WithLabelValues(disposition, metrics.Result(err)).Inc()
	if err != nil {
		report.DeleteFailures++
		r.logger.Warn("message_delete_failed", zap.String("message_id", m.ID), zap.Error(err))
		return
	}
	report.Deletes++
}

func (r *MessageReactor) optOut(ctx context.Context, m *platform.Message, footer FooterData, report *MessageReport) {
	added, err := r.store.AddOptOut(m.Author)
	if err != nil {
		report.StoreErr = errors.Join(report.StoreErr, err)
		if state.IsStoreWriteError(err) {
			metrics.StoreWriteFailures.Inc()
		}
		r.logger.Error("opt_out_not_persisted",
			zap.String("author", m.Author),
			zap.String("message_id", m.ID),
			zap.Error(err))
		if !added {
			return
		}
	}
	if added {
		report.OptOuts++
		metrics.OptOuts.Inc()
		r.logger.Info("opted_out", zap.String("author", m.Author))
	}

	text, err := r.templates.OptOutReply(ReplyData{
		Author: m.Author,
		Bot:    r.session.Identity(),
		Owner:  r.opts.Owner,
	}, footer)
	if err == nil {
		err = r.session.ReplyToMessage(ctx, m, text)
	}
	metrics.Replies.WithLabelValues("message", metrics.Result(err)).Inc()
	if err != nil {
		report.ReplyFailures++
		r.logger.Warn("reply_failed", zap.String("message_id", m.ID), zap.Error(err))
		return
	}
	report.Replies++
}
