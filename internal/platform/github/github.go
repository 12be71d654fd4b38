// Package github implements platform.Gateway on top of GitHub issues.
//
// A feed is a repository ("owner/repo") and its comments are issue and pull
// request comments. GitHub has no threaded replies, so a reply is a later
// comment on the same issue carrying a hidden in-reply-to marker. The inbox is
// the account's notification list; deleting a message marks its thread done.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	gh "github.com/google/go-github/v66/github"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/cexll/pollbot/internal/platform"
)

const (
	platformName = "github"
	webURL       = "https://github.com"

	// DefaultRequestsPerMinute keeps well under the authenticated REST quota.
	DefaultRequestsPerMinute = 60
)

// Options configures the gateway.
type Options struct {
	// BaseURL overrides the REST endpoint (GitHub Enterprise or tests).
	BaseURL           string
	RequestsPerMinute int
	// ContactRepo ("owner/repo") receives unsubscribe issues opened from the
	// reply footer. Without it the footer links to the bot's profile.
	ContactRepo string
	Retry       *platform.RetryPolicy
	HTTPClient  *http.Client
	Logger      *zap.Logger
}

// Gateway logs in with a personal access token.
type Gateway struct {
	opts Options
}

// NewGateway returns a gateway using opts.
func NewGateway(opts Options) *Gateway {
	if opts.RequestsPerMinute == 0 {
		opts.RequestsPerMinute = DefaultRequestsPerMinute
	}
	if opts.Retry == nil {
		policy := platform.DefaultRetryPolicy()
		opts.Retry = &policy
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Gateway{opts: opts}
}

// Authenticate uses creds.ClientSecret as the access token and resolves the
// token's user as the identity.
func (g *Gateway) Authenticate(ctx context.Context, creds platform.Credentials) (platform.Session, error) {
	token := strings.TrimSpace(creds.ClientSecret)
	if token == "" {
		return nil, &platform.AuthError{Platform: platformName, Err: errors.New("access token is empty")}
	}

	client := gh.NewClient(g.opts.HTTPClient).WithAuthToken(token)
	if creds.UserAgent != "" {
		client.UserAgent = creds.UserAgent
	}
	if g.opts.BaseURL != "" {
		base, err := url.Parse(strings.TrimRight(g.opts.BaseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("invalid github base url: %w", err)
		}
		client.BaseURL = base
		client.UploadURL = base
	}

	s := &Session{
		client:      client,
		limiter:     newLimiter(g.opts.RequestsPerMinute),
		retry:       *g.opts.Retry,
		logger:      g.opts.Logger.Named(platformName),
		contactRepo: g.opts.ContactRepo,
	}

	var user *gh.User
	err := s.do(ctx, "identity", "user", func() error {
		var err error
		user, _, err = client.Users.Get(ctx, "")
		return err
	})
	if err != nil {
		var svcErr *platform.ExternalServiceError
		if errors.As(err, &svcErr) && (svcErr.StatusCode == http.StatusUnauthorized || svcErr.StatusCode == http.StatusForbidden) {
			return nil, &platform.AuthError{Platform: platformName, Err: err}
		}
		return nil, err
	}
	if user.GetLogin() == "" {
		return nil, &platform.AuthError{Platform: platformName, Err: errors.New("token resolves to no user")}
	}
	s.self = user.GetLogin()
	return s, nil
}

func newLimiter(rpm int) *rate.Limiter {
	if rpm < 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1)
}

// Session is a logged-in GitHub account.
type Session struct {
	client      *gh.Client
	limiter     *rate.Limiter
	retry       platform.RetryPolicy
	logger      *zap.Logger
	self        string
	contactRepo string
}

func (s *Session) Identity() string { return s.self }

func (s *Session) Mention(handle string) string { return "@" + handle }

// ComposeURL opens a new issue in the contact repository whose title and body
// carry the request, addressed to the bot by mention.
func (s *Session) ComposeURL(to, subject, body string) string {
	if s.contactRepo == "" {
		return webURL + "/" + url.PathEscape(to)
	}
	q := url.Values{}
	q.Set("title", subject)
	q.Set("body", s.Mention(to)+" "+body)
	return webURL + "/" + s.contactRepo + "/issues/new?" + q.Encode()
}

// do throttles and retries fn, translating go-github errors.
func (s *Session) do(ctx context.Context, op, target string, fn func() error) error {
	return s.run(ctx, platform.Retry, op, target, fn)
}

// doWrite is do for calls that create a comment; fn is only repeated when the
// request never reached the server.
func (s *Session) doWrite(ctx context.Context, op, target string, fn func() error) error {
	return s.run(ctx, platform.RetryWrite, op, target, fn)
}

func (s *Session) run(ctx context.Context, retry func(context.Context, platform.RetryPolicy, *zap.Logger, func() error) error, op, target string, fn func() error) error {
	return retry(ctx, s.retry, s.logger.With(zap.String("op", op)), func() error {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
		return wrapError(op, target, fn())
	})
}

func wrapError(op, target string, err error) error {
	if err == nil {
		return nil
	}

	var rateErr *gh.RateLimitError
	if errors.As(err, &rateErr) {
		return platform.NewServiceError(op, target, http.StatusTooManyRequests, err)
	}
	var abuseErr *gh.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return platform.NewServiceError(op, target, http.StatusTooManyRequests, err)
	}
	var respErr *gh.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		return platform.NewServiceError(op, target, respErr.Response.StatusCode, err)
	}
	return platform.NewServiceError(op, target, 0, err)
}
