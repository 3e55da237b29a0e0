package privacyidea

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PlusaN/keycloak-provider/internal/metrics"
	"github.com/PlusaN/keycloak-provider/internal/observability/logger"
	"go.uber.org/zap"
)

const userAgent = "keycloak-provider/1.0"

// Options configures the client.
type Options struct {
	// ServerURL is the privacyIDEA base URL, e.g. https://pi.example.com.
	ServerURL string

	// SSLVerify disables TLS certificate verification when false. Only for
	// test setups with self-signed certificates.
	SSLVerify bool

	// Realm is sent with every user-scoped call when non-empty.
	Realm string

	// ServiceAccount credentials authorize privileged calls
	// (triggerchallenge, token listing, rollout).
	ServiceUsername string
	ServicePassword string

	// LogEnabled gates the detailed logging sink. When false the client is
	// silent; callers only see returned errors.
	LogEnabled bool

	// Timeout per request. Default 30s.
	Timeout time.Duration
}

// Client talks to one privacyIDEA server. Safe for concurrent use.
type Client struct {
	opts Options
	http *http.Client
	log  *zap.Logger

	mu         sync.Mutex
	authToken  string
	authExpiry time.Time

	// pollCtx bounds every poll request so StopPolling can release them.
	pollCtx    context.Context
	pollCancel context.CancelFunc
	stopOnce   sync.Once
}

// New creates a Client. The URL is required.
func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.ServerURL) == "" {
		return nil, fmt.Errorf("privacyidea: server url is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	transport := http.DefaultTransport
	if !opts.SSLVerify {
		transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	pollCtx, pollCancel := context.WithCancel(context.Background())

	return &Client{
		opts: opts,
		http: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		log:        logger.Named("privacyidea"),
		pollCtx:    pollCtx,
		pollCancel: pollCancel,
	}, nil
}

// TriggerChallenges asks the server to raise challenges for every token the
// user has. Requires the service account.
func (c *Client) TriggerChallenges(ctx context.Context, username string) (*Response, error) {
	token, err := c.serviceToken(ctx)
	if err != nil {
		return nil, err
	}

	form := url.Values{"user": {username}}
	c.addRealm(form)

	env, err := c.postForm(ctx, "/validate/triggerchallenge", form, token)
	if err != nil {
		return nil, err
	}

	resp := responseFrom(env)
	c.logf("triggered %d challenge(s) for %s", len(resp.MultiChallenge), username)
	return resp, nil
}

// ValidateCheck validates an OTP (or, with an empty pass and a transaction id,
// finalizes a resolved push transaction).
func (c *Client) ValidateCheck(ctx context.Context, username, pass, transactionID string) (*Response, error) {
	form := url.Values{
		"user": {username},
		"pass": {pass},
	}
	if transactionID != "" {
		form.Set("transaction_id", transactionID)
	}
	c.addRealm(form)

	env, err := c.postForm(ctx, "/validate/check", form, "")
	if err != nil {
		return nil, err
	}

	resp := responseFrom(env)
	c.logf("validate/check user=%s value=%t challenges=%d", username, resp.Value, len(resp.MultiChallenge))
	return resp, nil
}

// PollTransaction reports whether the given push transaction was confirmed.
// A missing or unknown id is "not resolved yet", not an error.
func (c *Client) PollTransaction(ctx context.Context, transactionID string) (bool, error) {
	if transactionID == "" {
		return false, nil
	}

	// Bound by pollCtx so StopPolling cancels in-flight polls.
	ctx, cancel := mergeContexts(ctx, c.pollCtx)
	defer cancel()

	u := c.opts.ServerURL + "/validate/polltransaction?transaction_id=" + url.QueryEscape(transactionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("User-Agent", userAgent)

	env, err := c.do(req)
	if err != nil {
		return false, err
	}

	var resolved bool
	if len(env.Result.Value) > 0 {
		_ = json.Unmarshal(env.Result.Value, &resolved)
	}
	return resolved, nil
}

// GetTokenInfo lists the tokens provisioned for the user. Requires the
// service account.
func (c *Client) GetTokenInfo(ctx context.Context, username string) ([]TokenInfo, error) {
	token, err := c.serviceToken(ctx)
	if err != nil {
		return nil, err
	}

	u := c.opts.ServerURL + "/token?user=" + url.QueryEscape(username)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Authorization", token)

	env, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var v tokenListValue
	if len(env.Result.Value) > 0 {
		if err := json.Unmarshal(env.Result.Value, &v); err != nil {
			return nil, fmt.Errorf("privacyidea: decode token list: %w", err)
		}
	}
	return v.Tokens, nil
}

// TokenRollout provisions a new token of the given type for the user and
// returns its enrollment data. Requires the service account.
func (c *Client) TokenRollout(ctx context.Context, username, tokenType string) (*RolloutInfo, error) {
	token, err := c.serviceToken(ctx)
	if err != nil {
		return nil, err
	}

	form := url.Values{
		"user":   {username},
		"type":   {tokenType},
		"genkey": {"1"},
	}
	c.addRealm(form)

	env, err := c.postForm(ctx, "/token/init", form, token)
	if err != nil {
		return nil, err
	}

	info := &RolloutInfo{Serial: env.Detail.Serial}
	info.GoogleURL = env.Detail.GoogleURL
	c.logf("rolled out %s token for %s serial=%s", tokenType, username, info.Serial)
	return info, nil
}

// StopPolling cancels any in-flight poll requests. Idempotent.
func (c *Client) StopPolling() {
	c.stopOnce.Do(c.pollCancel)
}

// --- internals ---

// serviceToken returns a cached auth token, fetching a new one when absent or
// within a minute of expiry.
func (c *Client) serviceToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.authToken != "" && time.Now().Before(c.authExpiry.Add(-time.Minute)) {
		return c.authToken, nil
	}
	if c.opts.ServiceUsername == "" {
		return "", fmt.Errorf("privacyidea: service account not configured")
	}

	form := url.Values{
		"username": {c.opts.ServiceUsername},
		"password": {c.opts.ServicePassword},
	}

	env, err := c.postForm(ctx, "/auth", form, "")
	if err != nil {
		return "", err
	}

	var v authValue
	if err := json.Unmarshal(env.Result.Value, &v); err != nil || v.Token == "" {
		return "", fmt.Errorf("privacyidea: auth response carried no token")
	}

	c.authToken = v.Token
	// The server default is 1h; refresh well before that.
	c.authExpiry = time.Now().Add(45 * time.Minute)
	c.logf("service account authenticated")
	return c.authToken, nil
}

func (c *Client) postForm(ctx context.Context, path string, form url.Values, authToken string) (*apiEnvelope, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.ServerURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if authToken != "" {
		req.Header.Set("Authorization", authToken)
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) (*apiEnvelope, error) {
	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.ObserveRemote(strings.TrimPrefix(req.URL.Path, "/"), time.Since(start))
	if err != nil {
		c.errorf("%s %s: %v", req.Method, req.URL.Path, err)
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	var env apiEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		c.errorf("%s %s: bad response body: %v", req.Method, req.URL.Path, err)
		return nil, fmt.Errorf("privacyidea: decode response: %w", err)
	}

	// validate/check answers result.status=false with HTTP 200 for wrong
	// OTPs on some policies; only treat explicit API errors as failures.
	if !env.Result.Status && env.Result.Error.Message != "" {
		c.errorf("%s %s: server error %d: %s", req.Method, req.URL.Path, env.Result.Error.Code, env.Result.Error.Message)
		return nil, fmt.Errorf("privacyidea: %s", env.Result.Error.Message)
	}
	if resp.StatusCode >= 500 {
		c.errorf("%s %s: http %d", req.Method, req.URL.Path, resp.StatusCode)
		return nil, fmt.Errorf("privacyidea: http %d", resp.StatusCode)
	}

	return &env, nil
}

func (c *Client) addRealm(form url.Values) {
	if c.opts.Realm != "" {
		form.Set("realm", c.opts.Realm)
	}
}

func (c *Client) logf(format string, args ...any) {
	if c.opts.LogEnabled {
		c.log.Info(fmt.Sprintf(format, args...))
	}
}

func (c *Client) errorf(format string, args ...any) {
	if c.opts.LogEnabled {
		c.log.Error(fmt.Sprintf(format, args...))
	}
}

func responseFrom(env *apiEnvelope) *Response {
	r := &Response{
		Status:         env.Result.Status,
		Message:        env.Detail.Message,
		TransactionID:  env.Detail.TransactionID,
		MultiChallenge: env.Detail.MultiChallenge,
	}
	if len(env.Result.Value) > 0 {
		_ = json.Unmarshal(env.Result.Value, &r.Value)
	}
	// triggerchallenge reports the id only in transaction_ids on some versions
	if r.TransactionID == "" && len(env.Detail.TransactionIDs) > 0 {
		r.TransactionID = env.Detail.TransactionIDs[0]
	}
	return r
}

// mergeContexts derives a context cancelled when either parent is done.
func mergeContexts(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(a)
	stop := context.AfterFunc(b, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
