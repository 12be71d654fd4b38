// Package scheduler drives the scan loop: a cycle runs the comment reactor and
// then the message reactor, after which the loop sleeps for the interval.
// Cycles never overlap and a cycle that has started always runs to the end;
// cancellation only takes effect while the loop is idle.
package scheduler

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cexll/pollbot/internal/metrics"
	"github.com/cexll/pollbot/internal/reactor"
	"github.com/cexll/pollbot/internal/state"
)

// DefaultInterval is the idle time between cycles.
const DefaultInterval = 10 * time.Second

// State is the loop's current phase.
type State int32

const (
	Idle State = iota
	Scanning
)

func (s State) String() string {
	switch s {
	case Scanning:
		return "scanning"
	default:
		return "idle"
	}
}

// Clock abstracts time so tests can drive the idle phase.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// CommentScanner replies to matching comments in the given feeds.
type CommentScanner interface {
	Scan(ctx context.Context, feeds []string) reactor.CommentReport
}

// MessageDrainer processes and deletes inbox messages.
type MessageDrainer interface {
	Drain(ctx context.Context) reactor.MessageReport
}

// Store is the part of the state store the loop needs.
type Store interface {
	WatchList() []string
	SetWatchList(feeds []string)
	Flush() error
}

// Config controls scheduler behaviour.
type Config struct {
	Interval time.Duration
	Clock    Clock
	// WatchListUpdates delivers watch lists read from the edited document.
	// Pending updates are applied at the start of the next cycle.
	WatchListUpdates <-chan []string
}

// CycleSummary describes one completed cycle.
type CycleSummary struct {
	ID         string                `json:"id"`
	StartedAt  time.Time             `json:"started_at"`
	FinishedAt time.Time             `json:"finished_at"`
	Duration   string                `json:"duration"`
	Comments   reactor.CommentReport `json:"comments"`
	Messages   reactor.MessageReport `json:"messages"`
	InboxError string                `json:"inbox_error,omitempty"`
	StoreError string                `json:"store_error,omitempty"`
}

// Scheduler runs cycles on a single goroutine.
type Scheduler struct {
	comments CommentScanner
	messages MessageDrainer
	store    Store
	cfg      Config
	logger   *zap.Logger

	state atomic.Int32

	mu     sync.RWMutex
	last   *CycleSummary
	cycles int
}

// New creates a scheduler.
func New(comments CommentScanner, messages MessageDrainer, store Store, cfg Config, logger *zap.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = realClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		comments: comments,
		messages: messages,
		store:    store,
		cfg:      cfg,
		logger:   logger.Named("scheduler"),
	}
}

// Run alternates between scanning and idling until ctx is cancelled. It
// returns nil on cancellation.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		s.RunOnce(ctx)

		s.logger.Info("sleeping", zap.Duration("duration", s.cfg.Interval))
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler_stopped", zap.Int("cycles", s.Cycles()))
			return nil
		case <-s.cfg.Clock.After(s.cfg.Interval):
		}
	}
}

// RunOnce performs a single cycle. The cycle ignores cancellation of ctx.
func (s *Scheduler) RunOnce(ctx context.Context) CycleSummary {
	ctx = context.WithoutCancel(ctx)

	s.state.Store(int32(Scanning))
	defer s.state.Store(int32(Idle))

	summary := CycleSummary{
		ID:        uuid.NewString(),
		StartedAt: s.cfg.Clock.Now(),
	}
	logger := s.logger.With(zap.String("cycle_id", summary.ID))

	s.applyWatchListUpdate(logger)

	summary.Comments = s.comments.Scan(ctx, s.store.WatchList())
	summary.Messages = s.messages.Drain(ctx)
	if err := summary.Messages.FetchErr; err != nil {
		summary.InboxError = err.Error()
	}
	if err := summary.Messages.StoreErr; err != nil {
		summary.StoreError = err.Error()
	}

	if err := s.store.Flush(); err != nil {
		if state.IsStoreWriteError(err) {
			metrics.StoreWriteFailures.Inc()
		}
		summary.StoreError = err.Error()
	}

	summary.FinishedAt = s.cfg.Clock.Now()
	elapsed := summary.FinishedAt.Sub(summary.StartedAt)
	summary.Duration = elapsed.String()

	metrics.CyclesTotal.Inc()
	metrics.CycleDuration.Observe(elapsed.Seconds())

	logger.Info("cycle_completed",
		zap.Duration("duration", elapsed),
		zap.Int("feeds", summary.Comments.Feeds),
		zap.Int("matches", summary.Comments.Matches),
		zap.Int("replies", summary.Comments.Replies),
		zap.Int("messages", summary.Messages.Fetched),
		zap.Int("opt_outs", summary.Messages.OptOuts))

	s.mu.Lock()
	s.last = &summary
	s.cycles++
	s.mu.Unlock()

	return summary
}

// applyWatchListUpdate takes the most recent pending update, if any.
func (s *Scheduler) applyWatchListUpdate(logger *zap.Logger) {
	if s.cfg.WatchListUpdates == nil {
		return
	}

	var (
		latest  []string
		pending bool
	)
drain:
	for {
		select {
		case feeds, ok := <-s.cfg.WatchListUpdates:
			if !ok {
				s.cfg.WatchListUpdates = nil
				break drain
			}
			latest, pending = feeds, true
		default:
			break drain
		}
	}

	if !pending {
		return
	}
	current := s.store.WatchList()
	if slices.Equal(current, latest) {
		return
	}
	s.store.SetWatchList(latest)
	logger.Info("watch_list_reloaded",
		zap.Strings("feeds", latest),
		zap.Int("previous", len(current)))
}

// State reports whether a cycle is running.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// LastCycle returns the most recent completed cycle.
func (s *Scheduler) LastCycle() (CycleSummary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.last == nil {
		return CycleSummary{}, false
	}
	return *s.last, true
}

// Cycles returns the number of completed cycles.
func (s *Scheduler) Cycles() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cycles
}
