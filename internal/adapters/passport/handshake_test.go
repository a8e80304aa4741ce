package passport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bnema/umeng-cli/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type passportServer struct {
	loginBody      string
	loginStatus    int
	registerStatus int
	setCookies     []string
	loginDelay     time.Duration
	registerCalls  atomic.Int32
	lastTicket     atomic.Value
}

func (p *passportServer) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/newlogin/login.do", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "a@b.com", r.Form.Get("loginId"))
		assert.Equal(t, "youmeng", r.Form.Get("appName"))
		assert.Equal(t, "default", r.Form.Get("appEntrance"))

		if p.loginDelay > 0 {
			time.Sleep(p.loginDelay)
		}
		status := p.loginStatus
		if status == 0 {
			status = http.StatusOK
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(p.loginBody))
	})
	mux.HandleFunc("/login/register", func(w http.ResponseWriter, r *http.Request) {
		p.registerCalls.Add(1)
		p.lastTicket.Store(r.URL.Query().Get("st"))
		for _, cookie := range p.setCookies {
			w.Header().Add("Set-Cookie", cookie)
		}
		w.Header().Set("Location", "/landing")
		w.WriteHeader(p.registerStatus)
	})
	mux.HandleFunc("/landing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return mux
}

func newTestHandshaker(t *testing.T, p *passportServer) *Handshaker {
	t.Helper()

	server := httptest.NewServer(p.handler(t))
	t.Cleanup(server.Close)

	return &Handshaker{
		Endpoints: Endpoints{
			LoginURL:    server.URL + "/newlogin/login.do",
			RegisterURL: server.URL + "/login/register",
		},
		HTTPClient:  server.Client(),
		StepTimeout: 2 * time.Second,
	}
}

const acceptedLogin = `{"hasError":false,"content":{"data":{"st":"ticket-123"}}}`

func TestLoginReturnsSessionCookie(t *testing.T) {
	t.Parallel()

	p := &passportServer{
		loginBody:      acceptedLogin,
		registerStatus: http.StatusFound,
		setCookies: []string{
			"cna=abc; Path=/",
			"umplus_uc_token=tok%3D%3D; Path=/; Domain=.umeng.com; Expires=Wed, 01-Apr-2026 10:00:00 GMT; HttpOnly",
		},
	}
	handshaker := newTestHandshaker(t, p)

	record, err := handshaker.Login(context.Background(), "a@b.com", "pw")
	require.NoError(t, err)

	assert.Equal(t, "a@b.com", record.Identity)
	assert.Equal(t, "tok==", record.Token)
	require.NotNil(t, record.ExpiresAt)
	assert.Equal(t, time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC), *record.ExpiresAt)
	assert.Equal(t, "ticket-123", p.lastTicket.Load())
}

func TestLoginRejectedCredentials(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		body string
	}{
		{name: "has error", body: `{"hasError":true,"content":{"data":{"titleMsg":"wrong password"}}}`},
		{name: "missing flag", body: `{"content":{"data":{"st":"ticket"}}}`},
		{name: "missing ticket", body: `{"hasError":false,"content":{"data":{}}}`},
		{name: "missing content", body: `{"hasError":false}`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p := &passportServer{loginBody: tc.body, registerStatus: http.StatusFound}
			handshaker := newTestHandshaker(t, p)

			_, err := handshaker.Login(context.Background(), "a@b.com", "pw")
			require.ErrorIs(t, err, domain.ErrInvalidCredentials)
			assert.Zero(t, p.registerCalls.Load())
		})
	}
}

func TestLoginMalformedExchangeResponse(t *testing.T) {
	t.Parallel()

	p := &passportServer{loginBody: `<html>`, registerStatus: http.StatusFound}
	_, err := newTestHandshaker(t, p).Login(context.Background(), "a@b.com", "pw")
	require.ErrorIs(t, err, domain.ErrHandshakeFailure)
	assert.ErrorContains(t, err, "decode login response")
}

func TestLoginExchangeServerError(t *testing.T) {
	t.Parallel()

	p := &passportServer{loginBody: `{}`, loginStatus: http.StatusBadGateway}
	_, err := newTestHandshaker(t, p).Login(context.Background(), "a@b.com", "pw")
	require.ErrorIs(t, err, domain.ErrHandshakeFailure)
	assert.ErrorContains(t, err, "status 502")
}

func TestLoginRegisterWithoutRedirectFails(t *testing.T) {
	t.Parallel()

	p := &passportServer{
		loginBody:      acceptedLogin,
		registerStatus: http.StatusOK,
		setCookies:     []string{"umplus_uc_token=tok; Expires=Wed, 01-Apr-2026 10:00:00 GMT"},
	}

	_, err := newTestHandshaker(t, p).Login(context.Background(), "a@b.com", "pw")
	require.ErrorIs(t, err, domain.ErrHandshakeFailure)
	assert.ErrorContains(t, err, "register ticket")
}

func TestLoginRedirectWithoutTokenCookieFails(t *testing.T) {
	t.Parallel()

	p := &passportServer{
		loginBody:      acceptedLogin,
		registerStatus: http.StatusFound,
		setCookies:     []string{"cna=abc; Path=/"},
	}

	_, err := newTestHandshaker(t, p).Login(context.Background(), "a@b.com", "pw")
	require.ErrorIs(t, err, domain.ErrHandshakeFailure)
	assert.ErrorContains(t, err, "umplus_uc_token")
}

func TestLoginRedirectWithoutCookiesFails(t *testing.T) {
	t.Parallel()

	p := &passportServer{loginBody: acceptedLogin, registerStatus: http.StatusFound}

	_, err := newTestHandshaker(t, p).Login(context.Background(), "a@b.com", "pw")
	require.ErrorIs(t, err, domain.ErrHandshakeFailure)
}

func TestLoginTimeoutIsNetworkFailure(t *testing.T) {
	t.Parallel()

	p := &passportServer{loginBody: acceptedLogin, loginDelay: 200 * time.Millisecond}
	handshaker := newTestHandshaker(t, p)
	handshaker.StepTimeout = 20 * time.Millisecond

	_, err := handshaker.Login(context.Background(), "a@b.com", "pw")
	require.ErrorIs(t, err, domain.ErrNetworkFailure)
	assert.ErrorContains(t, err, "exchange credentials")
}

func TestLoginUnreachableHostIsNetworkFailure(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.NotFoundHandler())
	addr := server.URL
	server.Close()

	handshaker := &Handshaker{Endpoints: Endpoints{LoginURL: addr + "/newlogin/login.do", RegisterURL: addr + "/login/register"}}
	_, err := handshaker.Login(context.Background(), "a@b.com", "pw")
	require.ErrorIs(t, err, domain.ErrNetworkFailure)
}

func TestLoginRequiresIdentityAndSecret(t *testing.T) {
	t.Parallel()

	handshaker := &Handshaker{}
	_, err := handshaker.Login(context.Background(), "", "pw")
	require.ErrorIs(t, err, domain.ErrInvalidCredentials)

	_, err = handshaker.Login(context.Background(), "a@b.com", "")
	require.ErrorIs(t, err, domain.ErrInvalidCredentials)
}

func TestEndpointsFallBackToDefaults(t *testing.T) {
	t.Parallel()

	handshaker := &Handshaker{Endpoints: Endpoints{LoginURL: "https://login.example.com"}}
	endpoints := handshaker.endpoints()
	assert.Equal(t, "https://login.example.com", endpoints.LoginURL)
	assert.Equal(t, DefaultRegisterURL, endpoints.RegisterURL)
	assert.Equal(t, DefaultAppName, endpoints.AppName)
}
