package umeng

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bnema/umeng-cli/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL        = "https://api.umeng.com"
	DefaultSessionBaseURL = "https://mobile.umeng.com/ht/api/v3"
	defaultTimeout        = 20 * time.Second
	maxResponseBytes      = 8 << 20
	requestIDHeader       = "X-Request-Id"
)

var ErrUnexpectedStatus = errors.New("unexpected api status")

// Admitter gates every outbound request against the shared quota.
type Admitter interface {
	Admit(ctx context.Context) error
}

// SessionTokens yields the session cookie value for an identity.
type SessionTokens interface {
	GetToken(ctx context.Context, identity string, secret string) (string, error)
}

type Account struct {
	Email    string
	Password string
}

type Options struct {
	BaseURL        string
	SessionBaseURL string
	HTTPClient     *http.Client
	Timeout        time.Duration
	// PaceRPS spaces requests within this process; zero disables pacing.
	PaceRPS   float64
	PaceBurst int
}

// StatusError carries a non-2xx response. It matches ErrUnexpectedStatus.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("status %d", e.StatusCode)
	}
	return fmt.Sprintf("status %d: %s", e.StatusCode, e.Body)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrUnexpectedStatus
}

// Client calls the analytics API on behalf of one account. Every request
// passes the throttle first.
type Client struct {
	account        Account
	baseURL        string
	sessionBaseURL string
	httpClient     *http.Client
	timeout        time.Duration
	throttle       Admitter
	tokens         SessionTokens
	pacer          *rate.Limiter
	logger         *zap.Logger
}

func NewClient(account Account, opts Options, throttle Admitter, tokens SessionTokens, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(account.Email) == "" {
		return nil, errors.New("account email is required")
	}
	if account.Password == "" {
		return nil, errors.New("account password is required")
	}
	if throttle == nil {
		return nil, errors.New("throttle is required")
	}

	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	sessionBaseURL := opts.SessionBaseURL
	if sessionBaseURL == "" {
		sessionBaseURL = DefaultSessionBaseURL
	}
	for _, raw := range []string{baseURL, sessionBaseURL} {
		if err := validateBaseURL(raw); err != nil {
			return nil, err
		}
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var pacer *rate.Limiter
	if opts.PaceRPS > 0 {
		burst := opts.PaceBurst
		if burst <= 0 {
			burst = 1
		}
		pacer = rate.NewLimiter(rate.Limit(opts.PaceRPS), burst)
	}

	return &Client{
		account:        account,
		baseURL:        strings.TrimRight(baseURL, "/"),
		sessionBaseURL: strings.TrimRight(sessionBaseURL, "/"),
		httpClient:     httpClient,
		timeout:        timeout,
		throttle:       throttle,
		tokens:         tokens,
		pacer:          pacer,
		logger:         logger,
	}, nil
}

// Get issues a basic-auth GET against the public API.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, c.baseURL, path, query, nil, c.basicAuth)
}

// Post issues a basic-auth JSON POST against the public API.
func (c *Client) Post(ctx context.Context, path string, body any) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, c.baseURL, path, nil, body, c.basicAuth)
}

// SessionGet issues a GET against the console API authenticated with the
// cached session cookie.
func (c *Client) SessionGet(ctx context.Context, path string, query url.Values) (json.RawMessage, error) {
	if c.tokens == nil {
		return nil, errors.New("session token source is not configured")
	}

	return c.do(ctx, http.MethodGet, c.sessionBaseURL, path, query, nil, c.sessionCookie)
}

type authorizer func(ctx context.Context) (func(req *http.Request), error)

func (c *Client) basicAuth(context.Context) (func(req *http.Request), error) {
	return func(req *http.Request) {
		req.SetBasicAuth(c.account.Email, c.account.Password)
	}, nil
}

func (c *Client) sessionCookie(ctx context.Context) (func(req *http.Request), error) {
	token, err := c.tokens.GetToken(ctx, c.account.Email, c.account.Password)
	if err != nil {
		return nil, fmt.Errorf("get session token: %w", err)
	}

	cookie := domain.SessionTokenRecord{Token: token}.CookieHeader()
	return func(req *http.Request) {
		req.Header.Set("Cookie", cookie)
	}, nil
}

func (c *Client) do(ctx context.Context, method string, base string, path string, query url.Values, body any, authorize authorizer) (json.RawMessage, error) {
	endpoint := joinURL(base, path, query)

	var encoded []byte
	if body != nil {
		var err error
		encoded, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
	}

	if err := c.throttle.Admit(ctx); err != nil {
		return nil, fmt.Errorf("admit request: %w", err)
	}
	if c.pacer != nil {
		if err := c.pacer.Wait(ctx); err != nil {
			return nil, fmt.Errorf("pace request: %w", err)
		}
	}

	// Credentials are resolved after any cooldown wait, which can outlast a
	// session token.
	apply, err := authorize(ctx)
	if err != nil {
		return nil, err
	}

	requestCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var payload io.Reader
	if encoded != nil {
		payload = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(requestCtx, method, endpoint, payload)
	if err != nil {
		return nil, fmt.Errorf("create api request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if encoded != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	requestID := uuid.NewString()
	req.Header.Set(requestIDHeader, requestID)
	apply(req)

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w: %w", method, path, domain.ErrNetworkFailure, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w: %w", path, domain.ErrNetworkFailure, err)
	}

	c.logger.Debug("api call",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.String("request_id", requestID),
		zap.Duration("elapsed", time.Since(started)),
	)

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("%s %s: %w", method, path, &StatusError{StatusCode: resp.StatusCode, Body: truncate(strings.TrimSpace(string(data)), 256)})
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("%s %s: response is not json", method, path)
	}

	return json.RawMessage(data), nil
}

func joinURL(base string, path string, query url.Values) string {
	endpoint := base + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		separator := "?"
		if strings.Contains(endpoint, "?") {
			separator = "&"
		}
		endpoint += separator + query.Encode()
	}

	return endpoint
}

func validateBaseURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse api base url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("api base url %q must use http or https", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("api base url %q has no host", raw)
	}

	return nil
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit] + "..."
}
