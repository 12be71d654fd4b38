// Package reddit implements platform.Gateway against the Reddit OAuth API
// using the script-app password grant.
package reddit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/cexll/pollbot/internal/platform"
)

const (
	// DefaultBaseURL is the authenticated API host.
	DefaultBaseURL = "https://oauth.reddit.com"
	// DefaultTokenURL issues access tokens for script apps.
	DefaultTokenURL = "https://www.reddit.com/api/v1/access_token"
	// DefaultRequestsPerMinute stays inside the per-client OAuth quota.
	DefaultRequestsPerMinute = 60

	webURL        = "https://www.reddit.com"
	platformName  = "reddit"
	maxErrorBytes = 512
)

// Options configures the gateway. Zero values select the public endpoints.
type Options struct {
	BaseURL           string
	TokenURL          string
	RequestsPerMinute int
	// Retry overrides platform.DefaultRetryPolicy when set.
	Retry      *platform.RetryPolicy
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Gateway logs in to Reddit.
type Gateway struct {
	opts Options
}

// NewGateway returns a gateway using opts.
func NewGateway(opts Options) *Gateway {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.TokenURL == "" {
		opts.TokenURL = DefaultTokenURL
	}
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

// Authenticate runs the password grant and resolves the logged-in identity.
// Rejected credentials yield a *platform.AuthError.
func (g *Gateway) Authenticate(ctx context.Context, creds platform.Credentials) (platform.Session, error) {
	base := &http.Client{
		Timeout: g.opts.HTTPClient.Timeout,
		Transport: &userAgentTransport{
			agent: creds.UserAgent,
			base:  g.opts.HTTPClient.Transport,
		},
	}

	conf := &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  g.opts.TokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}

	// Token refreshes outlive the login call.
	tokenCtx := context.WithValue(context.WithoutCancel(ctx), oauth2.HTTPClient, base)
	src := &passwordSource{ctx: tokenCtx, conf: conf, username: creds.Username, password: creds.Password}

	tok, err := src.fetch(ctx)
	if err != nil {
		return nil, err
	}

	s := &Session{
		client:  oauth2.NewClient(tokenCtx, oauth2.ReuseTokenSource(tok, src)),
		baseURL: g.opts.BaseURL,
		limiter: newLimiter(g.opts.RequestsPerMinute),
		retry:   *g.opts.Retry,
		logger:  g.opts.Logger.Named(platformName),
	}

	var me struct {
		Name string `json:"name"`
	}
	if err := s.call(ctx, "identity", "me", http.MethodGet, "/api/v1/me", nil, nil, &me); err != nil {
		var svcErr *platform.ExternalServiceError
		if errors.As(err, &svcErr) && (svcErr.StatusCode == http.StatusUnauthorized || svcErr.StatusCode == http.StatusForbidden) {
			return nil, &platform.AuthError{Platform: platformName, Err: err}
		}
		return nil, err
	}
	if me.Name == "" {
		return nil, &platform.AuthError{Platform: platformName, Err: errors.New("identity response carried no name")}
	}
	s.self = me.Name
	return s, nil
}

func newLimiter(rpm int) *rate.Limiter {
	if rpm < 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1)
}

// passwordSource re-runs the password grant; script apps get no refresh token.
type passwordSource struct {
	ctx      context.Context
	conf     *oauth2.Config
	username string
	password string
}

func (p *passwordSource) Token() (*oauth2.Token, error) {
	return p.fetch(p.ctx)
}

func (p *passwordSource) fetch(ctx context.Context) (*oauth2.Token, error) {
	if client, ok := p.ctx.Value(oauth2.HTTPClient).(*http.Client); ok {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, client)
	}
	tok, err := p.conf.PasswordCredentialsToken(ctx, p.username, p.password)
	if err == nil {
		return tok, nil
	}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) || strings.Contains(err.Error(), "missing access_token") {
		return nil, &platform.AuthError{Platform: platformName, Err: err}
	}
	return nil, platform.NewServiceError("login", p.username, 0, err)
}

type userAgentTransport struct {
	agent string
	base  http.RoundTripper
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	if t.agent == "" {
		return base.RoundTrip(req)
	}
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.agent)
	return base.RoundTrip(req)
}

// Session is a logged-in Reddit account.
type Session struct {
	client  *http.Client
	baseURL string
	limiter *rate.Limiter
	retry   platform.RetryPolicy
	logger  *zap.Logger
	self    string
}

func (s *Session) Identity() string { return s.self }

func (s *Session) Mention(handle string) string { return "u/" + handle }

func (s *Session) ComposeURL(to, subject, body string) string {
	q := url.Values{}
	q.Set("to", to)
	q.Set("subject", subject)
	q.Set("message", body)
	return webURL + "/message/compose/?" + q.Encode()
}

// call performs one API request with throttling and retries. form, when set,
// is sent as an urlencoded POST body.
func (s *Session) call(ctx context.Context, op, target, method, path string, query, form url.Values, out any) error {
	return s.send(ctx, platform.Retry, op, target, method, path, query, form, out)
}

type retryFunc func(context.Context, platform.RetryPolicy, *zap.Logger, func() error) error

func (s *Session) send(ctx context.Context, retry retryFunc, op, target, method, path string, query, form url.Values, out any) error {
	endpoint := s.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	return retry(ctx, s.retry, s.logger.With(zap.String("op", op)), func() error {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}

		var body io.Reader
		if form != nil {
			body = strings.NewReader(form.Encode())
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
		if err != nil {
			return err
		}
		if form != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}

		resp, err := s.client.Do(req)
		if err != nil {
			return platform.NewServiceError(op, target, 0, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBytes))
			return platform.NewServiceError(op, target, resp.StatusCode, errors.New(strings.TrimSpace(string(snippet))))
		}
		if out == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		// Some writes answer with an empty body.
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
			return platform.NewServiceError(op, target, 0, fmt.Errorf("decode response: %w", err))
		}
		return nil
	})
}

// post submits a write that reports failures inside a 200 body. A write that
// is not idempotent is only repeated when it never reached the server.
func (s *Session) post(ctx context.Context, op, target, path string, form url.Values, idempotent bool) error {
	form.Set("api_type", "json")

	retry := platform.RetryWrite
	if idempotent {
		retry = platform.Retry
	}

	var out writeResponse
	if err := s.send(ctx, retry, op, target, http.MethodPost, path, nil, form, &out); err != nil {
		return err
	}
	if err := out.err(); err != nil {
		return platform.NewServiceError(op, target, 0, err)
	}
	return nil
}
