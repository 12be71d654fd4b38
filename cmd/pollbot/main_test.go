package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/cexll/pollbot/internal/config"
	"github.com/cexll/pollbot/internal/platform"
	"github.com/cexll/pollbot/internal/platform/platformtest"
	"github.com/cexll/pollbot/internal/scheduler"
	"github.com/cexll/pollbot/internal/state"
)

type harness struct {
	statePath string
	gateway   *platformtest.Gateway
	session   *platformtest.Session
	logs      *observer.ObservedLogs
	stdin     string
	stdout    bytes.Buffer
	stderr    bytes.Buffer
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	for _, key := range []string{
		"POLLBOT_STATE_PATH", "POLLBOT_PLATFORM", "POLLBOT_PASSWORD", "POLLBOT_API_BASE_URL",
		"POLLBOT_TOKEN_URL", "POLLBOT_GITHUB_CONTACT_REPO", "POLLBOT_INTERVAL_SECONDS",
		"POLLBOT_COMMENT_LIMIT", "POLLBOT_MESSAGE_LIMIT", "POLLBOT_MATCH_MARKER",
		"POLLBOT_OPT_OUT_MARKER", "POLLBOT_COMMENT_TEMPLATE", "POLLBOT_OPT_OUT_TEMPLATE",
		"POLLBOT_STATUS_PORT", "POLLBOT_LOG_LEVEL", "POLLBOT_LOG_FILE", "POLLBOT_REQUESTS_PER_MINUTE",
	} {
		t.Setenv(key, "")
	}

	session := platformtest.NewSession("markerbot")
	h := &harness{
		statePath: filepath.Join(t.TempDir(), "config.json"),
		session:   session,
		gateway:   &platformtest.Gateway{Session: session},
	}
	t.Setenv("POLLBOT_STATE_PATH", h.statePath)

	core, logs := observer.New(zap.InfoLevel)
	h.logs = logs

	origDotEnv, origLogger, origGateway, origServe, origInteractive := loadDotEnv, newLogger, newGateway, listenAndServe, isInteractive
	t.Cleanup(func() {
		loadDotEnv, newLogger, newGateway, listenAndServe, isInteractive = origDotEnv, origLogger, origGateway, origServe, origInteractive
	})
	loadDotEnv = func(...string) error { return nil }
	newLogger = func(string, string) (*zap.Logger, error) { return zap.New(core), nil }
	newGateway = func(*config.Config, *zap.Logger) (platform.Gateway, error) { return h.gateway, nil }
	listenAndServe = func(string, http.Handler) error { return nil }
	isInteractive = func() bool { return false }

	return h
}

func (h *harness) writeDocument(t *testing.T, optOuts ...string) {
	t.Helper()
	doc := &state.Document{
		Owner:        "owner",
		BotHandle:    "markerbot",
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		AgentString:  "pollbot tests",
		WatchList:    []string{"golang"},
		OptOutSet:    optOuts,
	}
	if err := state.NewStore(h.statePath, nil).Persist(doc); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}
}

func (h *harness) execute(ctx context.Context, args ...string) int {
	return execute(ctx, args, strings.NewReader(h.stdin), &h.stdout, &h.stderr)
}

func TestOnce_RepliesAndDrainsInbox(t *testing.T) {
	h := newHarness(t)
	h.writeDocument(t)
	h.session.AddComment(platform.Comment{ID: "c1", Author: "alice", Body: "this is a test", Feed: "golang"})
	h.session.AddMessage(platform.Message{ID: "m1", Author: "bob", Subject: "unsubscribe", Body: "unsubscribe"})

	if code := h.execute(context.Background(), "once"); code != 0 {
		t.Fatalf("exit code = %d, stderr = %s", code, h.stderr.String())
	}

	var summary scheduler.CycleSummary
	if err := json.Unmarshal(h.stdout.Bytes(), &summary); err != nil {
		t.Fatalf("summary is not JSON: %v\n%s", err, h.stdout.String())
	}
	if summary.Comments.Replies != 1 {
		t.Errorf("comment replies = %d, want 1", summary.Comments.Replies)
	}
	if summary.Messages.OptOuts != 1 {
		t.Errorf("opt-outs = %d, want 1", summary.Messages.OptOuts)
	}
	if len(h.session.CommentReplies) != 1 || h.session.CommentReplies[0].TargetID != "c1" {
		t.Errorf("comment replies = %+v, want one reply to c1", h.session.CommentReplies)
	}
	if inbox := h.session.Inbox(); len(inbox) != 0 {
		t.Errorf("inbox = %v, want empty", inbox)
	}

	doc, err := state.ReadDocument(h.statePath)
	if err != nil {
		t.Fatalf("ReadDocument() error = %v", err)
	}
	if len(doc.OptOutSet) != 1 || doc.OptOutSet[0] != "bob" {
		t.Errorf("opt_out_set = %v, want [bob]", doc.OptOutSet)
	}

	if len(h.gateway.Logins) != 1 || h.gateway.Logins[0].UserAgent != "pollbot tests" {
		t.Errorf("logins = %+v, want one login with the agent string", h.gateway.Logins)
	}
	if got := h.logs.FilterMessage("login_succeeded").Len(); got != 1 {
		t.Errorf("login_succeeded logged %d times, want 1", got)
	}
}

func TestOnce_SkipsOptedOutAuthor(t *testing.T) {
	h := newHarness(t)
	h.writeDocument(t, "Alice")
	h.session.AddComment(platform.Comment{ID: "c1", Author: "alice", Body: "test", Feed: "golang"})

	if code := h.execute(context.Background(), "once"); code != 0 {
		t.Fatalf("exit code = %d, stderr = %s", code, h.stderr.String())
	}
	if len(h.session.CommentReplies) != 0 {
		t.Errorf("comment replies = %+v, want none", h.session.CommentReplies)
	}
}

func TestBootstrap(t *testing.T) {
	h := newHarness(t)

	if code := h.execute(context.Background(), "once"); code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}
	if !strings.Contains(h.stdout.String(), "A new state document was written") {
		t.Errorf("stdout = %q, want bootstrap instructions", h.stdout.String())
	}
	if got := h.logs.FilterMessage("bootstrap_required").Len(); got != 1 {
		t.Errorf("bootstrap_required logged %d times, want 1", got)
	}
	if len(h.gateway.Logins) != 0 {
		t.Errorf("logins = %d, want none before the document is filled in", len(h.gateway.Logins))
	}

	first, err := os.ReadFile(h.statePath)
	if err != nil {
		t.Fatalf("placeholder not written: %v", err)
	}

	h.stdout.Reset()
	if code := h.execute(context.Background(), "once"); code != 1 {
		t.Fatalf("second run exit code = %d, want 1", code)
	}
	if !strings.Contains(h.stderr.String(), "placeholder") {
		t.Errorf("stderr = %q, want placeholder error", h.stderr.String())
	}

	second, err := os.ReadFile(h.statePath)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Errorf("existing document was rewritten")
	}
}

func TestAuthFailure_ExitsZeroAfterAcknowledgement(t *testing.T) {
	h := newHarness(t)
	h.writeDocument(t)
	h.gateway.Err = &platform.AuthError{Platform: "reddit", Err: errors.New("invalid_grant")}
	isInteractive = func() bool { return true }
	h.stdin = "\n"

	if code := h.execute(context.Background(), "run"); code != 0 {
		t.Fatalf("exit code = %d, want 0; stderr = %s", code, h.stderr.String())
	}
	if got := h.logs.FilterMessage("auth_failed").Len(); got != 1 {
		t.Errorf("auth_failed logged %d times, want 1", got)
	}
	if got := h.logs.FilterMessage("login_attempt").Len(); got != 1 {
		t.Errorf("login_attempt logged %d times, want 1", got)
	}
	if !strings.Contains(h.stdout.String(), "Press return to exit") {
		t.Errorf("stdout = %q, want acknowledgement prompt", h.stdout.String())
	}
}

func TestAuthFailure_NoWaitSkipsPrompt(t *testing.T) {
	h := newHarness(t)
	h.writeDocument(t)
	h.gateway.Err = &platform.AuthError{Platform: "reddit", Err: errors.New("invalid_grant")}
	isInteractive = func() bool { return true }

	if code := h.execute(context.Background(), "once", "--no-wait"); code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}
	if strings.Contains(h.stdout.String(), "Press return") {
		t.Errorf("stdout = %q, want no prompt with --no-wait", h.stdout.String())
	}
}

func TestOnce_FlagOverridesInvalidEnvironment(t *testing.T) {
	h := newHarness(t)
	h.writeDocument(t)
	t.Setenv("POLLBOT_PLATFORM", "mastodon")

	var platformName string
	newGateway = func(cfg *config.Config, _ *zap.Logger) (platform.Gateway, error) {
		platformName = cfg.Platform
		return h.gateway, nil
	}

	if code := h.execute(context.Background(), "once", "--platform", "github"); code != 0 {
		t.Fatalf("exit code = %d, stderr = %s", code, h.stderr.String())
	}
	if platformName != config.PlatformGitHub {
		t.Errorf("platform = %q, want github", platformName)
	}
}

func TestStartupErrors(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(*testing.T, *harness)
		args    []string
		wantErr string
	}{
		{
			name:    "invalid platform",
			setup:   func(t *testing.T, h *harness) { t.Setenv("POLLBOT_PLATFORM", "mastodon") },
			args:    []string{"once"},
			wantErr: "invalid platform",
		},
		{
			name:    "invalid platform flag",
			setup:   func(t *testing.T, h *harness) {},
			args:    []string{"once", "--platform", "irc"},
			wantErr: "invalid platform",
		},
		{
			name: "unreadable document",
			setup: func(t *testing.T, h *harness) {
				if err := os.WriteFile(h.statePath, []byte("{not json"), 0o600); err != nil {
					t.Fatal(err)
				}
			},
			args:    []string{"once"},
			wantErr: "decode",
		},
		{
			name: "gateway error",
			setup: func(t *testing.T, h *harness) {
				h.writeDocument(t)
				h.gateway.Err = platform.NewServiceError("login", "reddit", http.StatusBadGateway, errors.New("bad gateway"))
			},
			args:    []string{"once"},
			wantErr: "login",
		},
		{
			name:    "unknown flag",
			setup:   func(t *testing.T, h *harness) {},
			args:    []string{"once", "--bogus"},
			wantErr: "unknown flag",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			tt.setup(t, h)

			if code := h.execute(context.Background(), tt.args...); code != 1 {
				t.Fatalf("exit code = %d, want 1", code)
			}
			if !strings.Contains(h.stderr.String(), tt.wantErr) {
				t.Errorf("stderr = %q, want containing %q", h.stderr.String(), tt.wantErr)
			}
		})
	}
}

func TestRun_ServesStatusAndStopsOnCancel(t *testing.T) {
	h := newHarness(t)
	h.writeDocument(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type served struct {
		addr    string
		handler http.Handler
	}
	servedCh := make(chan served, 1)
	listenAndServe = func(addr string, handler http.Handler) error {
		servedCh <- served{addr: addr, handler: handler}
		cancel()
		return nil
	}

	if code := h.execute(ctx, "run", "--status-port", "4321", "--interval", "1h"); code != 0 {
		t.Fatalf("exit code = %d, stderr = %s", code, h.stderr.String())
	}

	s := <-servedCh
	if s.addr != ":4321" {
		t.Errorf("serve addr = %q, want :4321", s.addr)
	}

	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("/status code = %d, want 200", rec.Code)
	}
	var status struct {
		Identity string `json:"identity"`
		Cycles   int    `json:"cycles"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode /status: %v", err)
	}
	if status.Identity != "markerbot" || status.Cycles != 1 {
		t.Errorf("status = %+v, want markerbot after one cycle", status)
	}
	if strings.Contains(rec.Body.String(), "client-secret") {
		t.Errorf("/status leaks the client secret")
	}
	if got := h.logs.FilterMessage("sleeping").Len(); got != 1 {
		t.Errorf("sleeping logged %d times, want 1", got)
	}
}

func TestOptOuts(t *testing.T) {
	h := newHarness(t)
	h.writeDocument(t, "bob", "Carol")

	if code := h.execute(context.Background(), "optouts"); code != 0 {
		t.Fatalf("exit code = %d, stderr = %s", code, h.stderr.String())
	}
	if got := h.stdout.String(); got != "bob\nCarol\n" {
		t.Errorf("stdout = %q, want bob and Carol", got)
	}
}

func TestOptOuts_MissingDocument(t *testing.T) {
	h := newHarness(t)

	if code := h.execute(context.Background(), "optouts"); code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(h.stderr.String(), "pollbot init") {
		t.Errorf("stderr = %q, want hint to run init", h.stderr.String())
	}
	if _, err := os.Stat(h.statePath); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("optouts created a document")
	}
}

func TestInit(t *testing.T) {
	h := newHarness(t)

	if code := h.execute(context.Background(), "init"); code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	doc, err := state.ReadDocument(h.statePath)
	if err != nil {
		t.Fatalf("ReadDocument() error = %v", err)
	}
	if !errors.Is(doc.Validate(), state.ErrPlaceholderCredentials) {
		t.Errorf("Validate() = %v, want placeholder error", doc.Validate())
	}

	h.stdout.Reset()
	if code := h.execute(context.Background(), "init"); code != 0 {
		t.Fatalf("second init exit code = %d", code)
	}
	if !strings.Contains(h.stdout.String(), "already exists") {
		t.Errorf("stdout = %q, want already exists", h.stdout.String())
	}
}
