package passport

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

	"github.com/bnema/umeng-cli/internal/domain"
	"github.com/bnema/umeng-cli/internal/ports"
	"go.uber.org/zap"
)

const (
	DefaultLoginURL    = "https://passport.alibaba.com/newlogin/login.do"
	DefaultRegisterURL = "https://passport.umeng.com/login/register"
	DefaultAppName     = "youmeng"
	defaultAppEntrance = "default"
	defaultStepTimeout = 30 * time.Second
	maxResponseBytes   = 1 << 20
	userAgent          = "umeng-cli"
)

type Endpoints struct {
	LoginURL    string
	RegisterURL string
	AppName     string
}

func DefaultEndpoints() Endpoints {
	return Endpoints{
		LoginURL:    DefaultLoginURL,
		RegisterURL: DefaultRegisterURL,
		AppName:     DefaultAppName,
	}
}

// Handshaker logs into the passport service and returns the session cookie
// issued by the register redirect.
type Handshaker struct {
	Endpoints   Endpoints
	HTTPClient  *http.Client
	StepTimeout time.Duration
	Clock       ports.Clock
	Logger      *zap.Logger
}

var _ ports.Handshaker = (*Handshaker)(nil)

type loginResponse struct {
	HasError *bool `json:"hasError"`
	Content  *struct {
		Data *struct {
			ST string `json:"st"`
		} `json:"data"`
	} `json:"content"`
}

func (h *Handshaker) Login(ctx context.Context, identity string, secret string) (domain.SessionTokenRecord, error) {
	if strings.TrimSpace(identity) == "" || secret == "" {
		return domain.SessionTokenRecord{}, fmt.Errorf("exchange credentials: %w: identity and password are required", domain.ErrInvalidCredentials)
	}

	ticket, err := h.exchange(ctx, identity, secret)
	if err != nil {
		return domain.SessionTokenRecord{}, err
	}
	h.logger().Debug("passport ticket issued", zap.String("identity", identity))

	setCookies, err := h.register(ctx, ticket)
	if err != nil {
		return domain.SessionTokenRecord{}, err
	}

	cookie, ok := ParseSetCookies(setCookies, h.now())[domain.SessionCookieName]
	if !ok || cookie.Value == "" {
		return domain.SessionTokenRecord{}, fmt.Errorf("extract session cookie: %w: %s not set", domain.ErrHandshakeFailure, domain.SessionCookieName)
	}

	return domain.SessionTokenRecord{
		Identity:  identity,
		Token:     cookie.Value,
		ExpiresAt: cookie.ExpiresAt,
	}, nil
}

func (h *Handshaker) exchange(ctx context.Context, identity string, secret string) (string, error) {
	endpoint, err := validateURL(h.endpoints().LoginURL)
	if err != nil {
		return "", fmt.Errorf("exchange credentials: %w", err)
	}

	values := url.Values{}
	values.Set("loginId", identity)
	values.Set("password", secret)
	values.Set("appName", h.endpoints().AppName)
	values.Set("appEntrance", defaultAppEntrance)

	stepCtx, cancel := h.stepContext(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(stepCtx, http.MethodPost, endpoint, strings.NewReader(values.Encode()))
	if err != nil {
		return "", fmt.Errorf("create login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := h.httpClient().Do(req)
	if err != nil {
		return "", fmt.Errorf("exchange credentials: %w: %w", domain.ErrNetworkFailure, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", fmt.Errorf("exchange credentials: %w: status %d", domain.ErrHandshakeFailure, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("read login response: %w: %w", domain.ErrNetworkFailure, err)
	}

	var payload loginResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("decode login response: %w: %w", domain.ErrHandshakeFailure, err)
	}

	if payload.HasError == nil || *payload.HasError || payload.Content == nil || payload.Content.Data == nil || payload.Content.Data.ST == "" {
		return "", fmt.Errorf("exchange credentials: %w: login rejected", domain.ErrInvalidCredentials)
	}

	return payload.Content.Data.ST, nil
}

func (h *Handshaker) register(ctx context.Context, ticket string) ([]string, error) {
	endpoint, err := validateURL(h.endpoints().RegisterURL)
	if err != nil {
		return nil, fmt.Errorf("register ticket: %w", err)
	}

	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("register ticket: %w", err)
	}
	query := parsed.Query()
	query.Set("st", ticket)
	parsed.RawQuery = query.Encode()

	stepCtx, cancel := h.stepContext(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(stepCtx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create register request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := h.noRedirectClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("register ticket: %w: %w", domain.ErrNetworkFailure, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusFound {
		return nil, fmt.Errorf("register ticket: %w: expected redirect, got status %d", domain.ErrHandshakeFailure, resp.StatusCode)
	}

	setCookies := resp.Header.Values("Set-Cookie")
	if len(setCookies) == 0 {
		return nil, fmt.Errorf("extract session cookie: %w: redirect carried no cookies", domain.ErrHandshakeFailure)
	}

	return setCookies, nil
}

func (h *Handshaker) endpoints() Endpoints {
	endpoints := h.Endpoints
	defaults := DefaultEndpoints()
	if endpoints.LoginURL == "" {
		endpoints.LoginURL = defaults.LoginURL
	}
	if endpoints.RegisterURL == "" {
		endpoints.RegisterURL = defaults.RegisterURL
	}
	if endpoints.AppName == "" {
		endpoints.AppName = defaults.AppName
	}

	return endpoints
}

func (h *Handshaker) httpClient() *http.Client {
	if h.HTTPClient != nil {
		return h.HTTPClient
	}
	return http.DefaultClient
}

func (h *Handshaker) noRedirectClient() *http.Client {
	client := *h.httpClient()
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	return &client
}

func (h *Handshaker) stepContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := h.StepTimeout
	if timeout <= 0 {
		timeout = defaultStepTimeout
	}

	return context.WithTimeout(ctx, timeout)
}

func (h *Handshaker) now() time.Time {
	if h.Clock != nil {
		return h.Clock.Now()
	}
	return time.Now().UTC()
}

func (h *Handshaker) logger() *zap.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return zap.NewNop()
}

func validateURL(raw string) (string, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse passport url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", errors.New("passport url must use http or https")
	}
	if parsed.Host == "" {
		return "", errors.New("passport url host is required")
	}

	return parsed.String(), nil
}
