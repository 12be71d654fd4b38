package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cexll/pollbot/internal/config"
	"github.com/cexll/pollbot/internal/platform"
	"github.com/cexll/pollbot/internal/reactor"
	"github.com/cexll/pollbot/internal/scheduler"
	"github.com/cexll/pollbot/internal/state"
	"github.com/cexll/pollbot/internal/web"
)

// bot is a logged-in session with its reactors, ready to be scheduled.
type bot struct {
	cfg      *config.Config
	logger   *zap.Logger
	store    *state.Store
	session  platform.Session
	comments *reactor.CommentReactor
	messages *reactor.MessageReactor
}

func (o *options) runBot(cmd *cobra.Command, loop bool) error {
	cfg, err := o.loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx := cmd.Context()
	b, err := startBot(ctx, cfg, logger)
	switch {
	case errors.Is(err, state.ErrBootstrapRequired):
		fmt.Fprintf(o.stdout, bootstrapInstructions, cfg.StatePath)
		o.acknowledge()
		return nil
	case platform.IsAuthError(err):
		logger.Error("auth_failed", zap.String("platform", cfg.Platform), zap.Error(err))
		fmt.Fprintf(o.stdout, "Login to %s was rejected; check the credentials in %s.\n", cfg.Platform, cfg.StatePath)
		o.acknowledge()
		return nil
	case err != nil:
		logger.Error("startup_failed", zap.Error(err))
		return err
	}

	if !loop {
		sched := b.scheduler(nil)
		return printSummary(o.stdout, sched.RunOnce(ctx))
	}

	var updates <-chan []string
	watcher, err := state.NewWatcher(ctx, cfg.StatePath, logger)
	if err != nil {
		logger.Warn("watch_list_reload_disabled", zap.Error(err))
	} else {
		defer watcher.Close()
		updates = watcher.Updates()
	}

	sched := b.scheduler(updates)
	if cfg.StatusPort > 0 {
		if err := b.serveStatus(sched); err != nil {
			return err
		}
	}

	err = sched.Run(ctx)
	logger.Info("shutdown", zap.Int("cycles", sched.Cycles()))
	return err
}

// startBot loads and validates the document, logs in and builds the reactors.
func startBot(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*bot, error) {
	store := state.NewStore(cfg.StatePath, logger)
	doc, err := store.Load()
	if err != nil {
		return nil, err
	}
	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("state document %s: %w", cfg.StatePath, err)
	}

	templates, err := reactor.NewTemplates(cfg.CommentTemplate, cfg.OptOutTemplate)
	if err != nil {
		return nil, err
	}

	gateway, err := newGateway(cfg, logger)
	if err != nil {
		return nil, err
	}

	logger.Info("login_attempt",
		zap.String("platform", cfg.Platform),
		zap.String("handle", doc.BotHandle))
	session, err := gateway.Authenticate(ctx, doc.Credentials(cfg.Password))
	if err != nil {
		return nil, err
	}
	logger.Info("login_succeeded",
		zap.String("identity", session.Identity()),
		zap.Int("watch_list_size", len(doc.WatchList)),
		zap.String("feeds", strings.Join(doc.WatchList, ", ")),
		zap.Int("opt_out_count", len(doc.OptOutSet)))

	return &bot{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		session: session,
		comments: reactor.NewCommentReactor(session, store, templates, reactor.CommentOptions{
			Limit:        cfg.CommentLimit,
			Marker:       cfg.MatchMarker,
			Owner:        doc.Owner,
			OptOutMarker: cfg.OptOutMarker,
		}, logger),
		messages: reactor.NewMessageReactor(session, store, templates, reactor.MessageOptions{
			Limit:  cfg.MessageLimit,
			Marker: cfg.OptOutMarker,
			Owner:  doc.Owner,
		}, logger),
	}, nil
}

func (b *bot) scheduler(updates <-chan []string) *scheduler.Scheduler {
	return scheduler.New(b.comments, b.messages, b.store, scheduler.Config{
		Interval:         b.cfg.Interval,
		WatchListUpdates: updates,
	}, b.logger)
}

// serveStatus starts the status server in the background. A failing listener
// is logged; the scan loop keeps running without it.
func (b *bot) serveStatus(sched *scheduler.Scheduler) error {
	handler, err := web.NewHandler(b.store, sched, b.session.Identity(), b.cfg.Platform)
	if err != nil {
		return fmt.Errorf("failed to initialize status handler: %w", err)
	}

	addr := fmt.Sprintf(":%d", b.cfg.StatusPort)
	b.logger.Info("status_server_listening", zap.String("addr", addr))
	go func() {
		if err := listenAndServe(addr, handler.Router()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			b.logger.Error("status_server_failed", zap.Error(err))
		}
	}()
	return nil
}
