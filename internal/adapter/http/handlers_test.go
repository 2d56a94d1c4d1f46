package adapthttp_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	adapthttp "cartable/internal/adapter/http"
	"cartable/internal/adapter/memory"
	"cartable/internal/app"
	"cartable/internal/domain"
	"cartable/internal/secure"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ---------------------------------------------------------------------------
// Mock ports (function-fields pattern)
// ---------------------------------------------------------------------------

type mockIdentity struct {
	authURLFn  func(state, nonce string) string
	exchangeFn func(ctx context.Context, code, nonce string) (*domain.Identity, *domain.Tokens, error)
	userInfoFn func(ctx context.Context, accessToken string) (*domain.Profile, error)
	claimsFn   func(accessToken string) (domain.TokenClaims, bool)
}

func (m *mockIdentity) AuthCodeURL(state, nonce string) string {
	if m.authURLFn != nil {
		return m.authURLFn(state, nonce)
	}
	return "https://idp.test/auth?state=" + state
}

func (m *mockIdentity) Exchange(ctx context.Context, code, nonce string) (*domain.Identity, *domain.Tokens, error) {
	if m.exchangeFn != nil {
		return m.exchangeFn(ctx, code, nonce)
	}
	return &domain.Identity{}, &domain.Tokens{}, nil
}

func (m *mockIdentity) Refresh(ctx context.Context, refreshToken string) (*domain.Tokens, error) {
	return &domain.Tokens{}, nil
}

func (m *mockIdentity) UserInfo(ctx context.Context, accessToken string) (*domain.Profile, error) {
	if m.userInfoFn != nil {
		return m.userInfoFn(ctx, accessToken)
	}
	return &domain.Profile{Subject: "sub-1", Username: "sara"}, nil
}

func (m *mockIdentity) TokenClaims(accessToken string) (domain.TokenClaims, bool) {
	if m.claimsFn != nil {
		return m.claimsFn(accessToken)
	}
	return domain.TokenClaims{}, false
}

func (m *mockIdentity) EndSessionURL(idTokenHint string) string {
	return "https://idp.test/logout"
}

type mockBackend struct {
	accountsFn func(ctx context.Context, token string, q domain.AccountQuery) ([]domain.Account, error)
	ordersFn   func(ctx context.Context, token string, f domain.PaymentOrderFilter) (*domain.PaymentOrderPage, error)
	progressFn func(ctx context.Context, token string, days int) ([]domain.ProgressPoint, error)
}

func (m *mockBackend) SelectAccounts(ctx context.Context, token string, q domain.AccountQuery) ([]domain.Account, error) {
	if m.accountsFn != nil {
		return m.accountsFn(ctx, token, q)
	}
	return nil, nil
}

func (m *mockBackend) ListPaymentOrders(ctx context.Context, token string, f domain.PaymentOrderFilter) (*domain.PaymentOrderPage, error) {
	if m.ordersFn != nil {
		return m.ordersFn(ctx, token, f)
	}
	return &domain.PaymentOrderPage{}, nil
}

func (m *mockBackend) TransactionProgress(ctx context.Context, token string, days int) ([]domain.ProgressPoint, error) {
	if m.progressFn != nil {
		return m.progressFn(ctx, token, days)
	}
	return nil, nil
}

// ---------------------------------------------------------------------------
// Test-server helper
// ---------------------------------------------------------------------------

type testEnv struct {
	ts    *httptest.Server
	repo  *memory.SessionRepo
	state string
}

func newTestServer(t *testing.T, idp *mockIdentity, backend *mockBackend, mods ...func(*adapthttp.Options)) *testEnv {
	t.Helper()

	if idp == nil {
		idp = &mockIdentity{}
	}
	if backend == nil {
		backend = &mockBackend{}
	}
	env := &testEnv{repo: memory.NewSessionRepo()}

	if idp.authURLFn == nil {
		idp.authURLFn = func(state, _ string) string {
			env.state = state
			return "https://idp.test/auth?state=" + state
		}
	}
	if idp.exchangeFn == nil {
		idp.exchangeFn = func(_ context.Context, code, _ string) (*domain.Identity, *domain.Tokens, error) {
			if code != "good-code" {
				return nil, nil, &domain.UpstreamError{Operation: "token", Status: 400, Message: "invalid_grant"}
			}
			return &domain.Identity{Subject: "sub-1", Username: "sara"},
				&domain.Tokens{AccessToken: "at-1", RefreshToken: "rt-1", IDToken: "idt-1", Expiry: time.Now().Add(time.Hour)}, nil
		}
	}

	sealer, err := secure.NewSealer([]byte(strings.Repeat("k", 32)))
	if err != nil {
		t.Fatal(err)
	}
	policy := domain.DefaultRoutePolicy()

	sessions := app.NewSessionService(env.repo, idp, sealer, app.SessionOptions{
		HomePath: policy.HomePath,
		Logger:   zerolog.Nop(),
	})
	cache := app.NewQueryCache(64, map[app.Category]time.Duration{app.CategoryProfile: time.Minute}, sealer.HashID)

	webDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(webDir, "index.html"), []byte("<html>cartable</html>"), 0o600); err != nil {
		t.Fatal(err)
	}

	opts := adapthttp.Options{
		WebDir:     webDir,
		Policy:     policy,
		SessionTTL: time.Hour,
		LoginRate:  rate.Inf,
		LoginBurst: 1,
		Logger:     zerolog.Nop(),
	}
	for _, m := range mods {
		m(&opts)
	}

	srv := adapthttp.New(
		sessions,
		app.NewProfileService(idp, cache),
		app.NewCartableService(backend, cache),
		app.NewDashboardService(backend, cache),
		cache,
		opts,
	)
	env.ts = httptest.NewServer(srv.Handler())
	t.Cleanup(env.ts.Close)
	return env
}

type reqOption func(*http.Request)

func withBearer(token string) reqOption {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func withCookie(c *http.Cookie) reqOption {
	return func(r *http.Request) { r.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value}) }
}

// do sends a request without following redirects.
func (e *testEnv) do(t *testing.T, method, path, body string, opts ...reqOption) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.ts.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, o := range opts {
		o(req)
	}

	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	return m
}

func cookieNamed(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// login runs the code flow and returns the session cookie.
func (e *testEnv) login(t *testing.T, callback string) (*http.Cookie, *http.Response) {
	t.Helper()
	resp := e.do(t, http.MethodGet, "/api/auth/login?callbackUrl="+callback, "")
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("login: expected 302, got %d", resp.StatusCode)
	}
	stateCookie := cookieNamed(resp, "cartable_login")
	if stateCookie == nil {
		t.Fatal("login: no state cookie")
	}

	resp = e.do(t, http.MethodGet, "/api/auth/callback?state="+e.state+"&code=good-code", "", withCookie(stateCookie))
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("callback: expected 302, got %d", resp.StatusCode)
	}
	session := cookieNamed(resp, "cartable_session")
	if session == nil || session.Value == "" {
		t.Fatal("callback: no session cookie")
	}
	return session, resp
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestHealthEndpoint(t *testing.T) {
	env := newTestServer(t, nil, nil)

	resp := env.do(t, http.MethodGet, "/api/health", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q; want no-store", got)
	}
	body := decodeBody(t, resp)
	if body["ok"] != true {
		t.Fatalf("expected ok=true, got %v", body["ok"])
	}
}

func TestGuard(t *testing.T) {
	env := newTestServer(t, nil, nil)

	tests := []struct {
		name     string
		path     string
		opts     []reqOption
		status   int
		location string
	}{
		{"anonymous protected page", "/dashboard", nil, http.StatusFound, "/login?callbackUrl=/dashboard"},
		{"anonymous nested page", "/cartable/orders", nil, http.StatusFound, "/login?callbackUrl=/cartable/orders"},
		{"anonymous login page", "/login", nil, http.StatusOK, ""},
		{"anonymous public asset", "/_next/static/app.js", nil, http.StatusOK, ""},
		{"anonymous api", "/api/accounts", nil, http.StatusUnauthorized, ""},
		{"authenticated login page", "/login", []reqOption{withBearer("at-1")}, http.StatusFound, "/dashboard"},
		{"authenticated root", "/", []reqOption{withBearer("at-1")}, http.StatusFound, "/dashboard"},
		{"authenticated page", "/dashboard", []reqOption{withBearer("at-1")}, http.StatusOK, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := env.do(t, http.MethodGet, tc.path, "", tc.opts...)
			if resp.StatusCode != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, resp.StatusCode)
			}
			if tc.location != "" {
				if got := resp.Header.Get("Location"); got != tc.location {
					t.Errorf("Location = %q; want %q", got, tc.location)
				}
			}
		})
	}
}

func TestUnauthorizedAPIBody(t *testing.T) {
	env := newTestServer(t, nil, nil)

	resp := env.do(t, http.MethodGet, "/api/user/profile", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if msg, _ := body["error"].(string); msg == "" {
		t.Errorf("missing error message: %v", body)
	}
}

func TestLoginFlow(t *testing.T) {
	env := newTestServer(t, nil, nil)

	session, resp := env.login(t, "/cartable")
	if got := resp.Header.Get("Location"); got != "/cartable" {
		t.Errorf("callback Location = %q; want /cartable", got)
	}
	if !session.HttpOnly {
		t.Error("session cookie is not HttpOnly")
	}
	if env.repo.Len() != 1 {
		t.Fatalf("stored sessions = %d; want 1", env.repo.Len())
	}

	resp = env.do(t, http.MethodGet, "/api/auth/session", "", withCookie(session))
	body := decodeBody(t, resp)
	if body["authenticated"] != true || body["username"] != "sara" || body["expiresAt"] == nil {
		t.Errorf("session body = %v", body)
	}

	resp = env.do(t, http.MethodGet, "/dashboard", "", withCookie(session))
	if resp.StatusCode != http.StatusOK {
		t.Errorf("dashboard with session: expected 200, got %d", resp.StatusCode)
	}

	resp = env.do(t, http.MethodPost, "/api/auth/logout", "", withCookie(session))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout: expected 200, got %d", resp.StatusCode)
	}
	body = decodeBody(t, resp)
	if body["status"] != "ok" || body["redirect"] != "https://idp.test/logout" {
		t.Errorf("logout body = %v", body)
	}
	if c := cookieNamed(resp, "cartable_session"); c == nil || c.MaxAge >= 0 {
		t.Error("session cookie not cleared")
	}
	if env.repo.Len() != 0 {
		t.Error("session survived logout")
	}

	resp = env.do(t, http.MethodGet, "/dashboard", "", withCookie(session))
	if resp.StatusCode != http.StatusFound {
		t.Errorf("dashboard after logout: expected 302, got %d", resp.StatusCode)
	}
}

func TestLoginRejectsForeignCallback(t *testing.T) {
	env := newTestServer(t, nil, nil)

	_, resp := env.login(t, "https://evil.test/")
	if got := resp.Header.Get("Location"); got != "/dashboard" {
		t.Errorf("Location = %q; want /dashboard", got)
	}
}

func TestCallbackFailures(t *testing.T) {
	env := newTestServer(t, nil, nil)

	resp := env.do(t, http.MethodGet, "/api/auth/login", "")
	stateCookie := cookieNamed(resp, "cartable_login")

	tests := []struct {
		name     string
		query    string
		opts     []reqOption
		location string
	}{
		{"wrong state", "?state=forged&code=good-code", []reqOption{withCookie(stateCookie)}, "/auth/error?error=login_failed"},
		{"no state cookie", "?state=" + env.state + "&code=good-code", nil, "/auth/error?error=login_failed"},
		{"bad code", "?state=" + env.state + "&code=bad-code", []reqOption{withCookie(stateCookie)}, "/auth/error?error=login_failed"},
		{"identity server error", "?error=access_denied", nil, "/auth/error?error=access_denied"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := env.do(t, http.MethodGet, "/api/auth/callback"+tc.query, "", tc.opts...)
			if resp.StatusCode != http.StatusFound {
				t.Fatalf("expected 302, got %d", resp.StatusCode)
			}
			if got := resp.Header.Get("Location"); got != tc.location {
				t.Errorf("Location = %q; want %q", got, tc.location)
			}
		})
	}
	if env.repo.Len() != 0 {
		t.Errorf("stored sessions = %d; want 0", env.repo.Len())
	}
}

func TestLoginRateLimited(t *testing.T) {
	env := newTestServer(t, nil, nil, func(o *adapthttp.Options) {
		o.LoginRate = rate.Every(time.Hour)
		o.LoginBurst = 1
	})

	if resp := env.do(t, http.MethodGet, "/api/auth/login", ""); resp.StatusCode != http.StatusFound {
		t.Fatalf("first login: expected 302, got %d", resp.StatusCode)
	}
	resp := env.do(t, http.MethodGet, "/api/auth/login", "")
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second login: expected 429, got %d", resp.StatusCode)
	}
}

func TestSessionAnonymousLocale(t *testing.T) {
	env := newTestServer(t, nil, nil)

	resp := env.do(t, http.MethodGet, "/api/auth/session?lang=fa", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if c := cookieNamed(resp, "cartable_lang"); c == nil || c.Value != "fa" {
		t.Error("language cookie not set")
	}
	body := decodeBody(t, resp)
	if body["authenticated"] != false || body["username"] != nil || body["locale"] != "fa" {
		t.Errorf("session body = %v", body)
	}
}

func TestProfileEndpoint(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		details bool
	}{
		{"ok", nil, http.StatusOK, false},
		{"token rejected upstream", &domain.UpstreamError{Operation: "userinfo", Status: 401, Message: "invalid_token"}, http.StatusUnauthorized, false},
		{"upstream down", &domain.UpstreamError{Operation: "userinfo", Status: 503, Message: "maintenance"}, http.StatusInternalServerError, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			idp := &mockIdentity{
				userInfoFn: func(_ context.Context, token string) (*domain.Profile, error) {
					if token != "at-1" {
						t.Errorf("token = %q; want at-1", token)
					}
					if tc.err != nil {
						return nil, tc.err
					}
					return &domain.Profile{Subject: "sub-1", Username: "sara", Email: "sara@bank.test"}, nil
				},
			}
			env := newTestServer(t, idp, nil)

			resp := env.do(t, http.MethodGet, "/api/user/profile", "", withBearer("at-1"))
			if resp.StatusCode != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, resp.StatusCode)
			}
			body := decodeBody(t, resp)
			if tc.status == http.StatusOK {
				if body["username"] != "sara" || body["email"] != "sara@bank.test" {
					t.Errorf("profile = %v", body)
				}
				return
			}
			if msg, _ := body["error"].(string); msg == "" {
				t.Errorf("missing error: %v", body)
			}
			if _, ok := body["details"]; ok != tc.details {
				t.Errorf("details present = %v; want %v", ok, tc.details)
			}
		})
	}
}

func TestPaymentOrders(t *testing.T) {
	var gotFilter domain.PaymentOrderFilter
	backend := &mockBackend{
		ordersFn: func(_ context.Context, token string, f domain.PaymentOrderFilter) (*domain.PaymentOrderPage, error) {
			gotFilter = f
			return &domain.PaymentOrderPage{
				Items: []domain.PaymentOrder{{
					ID: "po-1", Status: domain.StatusPending, Amount: 125000, Currency: "IRR",
					Signers: []domain.Signer{{Username: "sara"}},
				}},
				Total: 1,
			}, nil
		},
	}
	idp := &mockIdentity{
		claimsFn: func(token string) (domain.TokenClaims, bool) {
			if token == "at-1" {
				return domain.TokenClaims{Username: "sara"}, true
			}
			return domain.TokenClaims{}, false
		},
	}
	env := newTestServer(t, idp, backend)

	resp := env.do(t, http.MethodPost, "/api/payment-orders", `{"statuses":["pending"],"page":2}`, withBearer("at-1"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if gotFilter.Page != 2 || gotFilter.PageSize != 20 || len(gotFilter.Statuses) != 1 {
		t.Errorf("backend filter = %+v", gotFilter)
	}
	body := decodeBody(t, resp)
	items, _ := body["items"].([]any)
	if len(items) != 1 || body["total"] != float64(1) || body["page"] != float64(2) || body["pageSize"] != float64(20) {
		t.Fatalf("body = %v", body)
	}
	item := items[0].(map[string]any)
	perms, _ := item["permissions"].(map[string]any)
	if item["id"] != "po-1" || perms["canView"] != true {
		t.Errorf("item = %v", item)
	}
	// The bearer token's username makes the caller the pending signer.
	if perms["canApprove"] != true || perms["canReject"] != true || perms["canCancel"] != false {
		t.Errorf("permissions = %v", perms)
	}

	// An empty body lists with defaults.
	resp = env.do(t, http.MethodPost, "/api/payment-orders", "", withBearer("at-1"))
	if resp.StatusCode != http.StatusOK {
		t.Errorf("empty body: expected 200, got %d", resp.StatusCode)
	}
}

func TestPaymentOrdersBadRequest(t *testing.T) {
	env := newTestServer(t, nil, nil)

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"page":`},
		{"unknown field", `{"sortBy":"amount"}`},
		{"page size too large", `{"pageSize":500}`},
		{"unknown status", `{"statuses":["lost"]}`},
		{"dates reversed", `{"fromDate":"2025-02-01","toDate":"2025-01-01"}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := env.do(t, http.MethodPost, "/api/payment-orders", tc.body, withBearer("at-1"))
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", resp.StatusCode)
			}
			body := decodeBody(t, resp)
			if body["error"] == nil || body["details"] == nil {
				t.Errorf("body = %v", body)
			}
		})
	}
}

func TestAccounts(t *testing.T) {
	backend := &mockBackend{
		accountsFn: func(_ context.Context, token string, q domain.AccountQuery) ([]domain.Account, error) {
			if token != "at-1" || q.Type != "current" || q.Currency != "IRR" {
				t.Errorf("token %q query %+v", token, q)
			}
			return []domain.Account{{Number: "0101-1", Currency: "IRR", Balance: 5000}}, nil
		},
	}
	env := newTestServer(t, nil, backend)

	resp := env.do(t, http.MethodGet, "/api/accounts?type=current&currency=IRR", "", withBearer("at-1"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	items, _ := body["items"].([]any)
	if len(items) != 1 || items[0].(map[string]any)["number"] != "0101-1" {
		t.Errorf("items = %v", body["items"])
	}
}

func TestTransactionProgress(t *testing.T) {
	backend := &mockBackend{
		progressFn: func(_ context.Context, _ string, days int) ([]domain.ProgressPoint, error) {
			if days != 5 {
				t.Errorf("days = %d; want 5", days)
			}
			return nil, nil
		},
	}
	env := newTestServer(t, nil, backend)

	resp := env.do(t, http.MethodGet, "/api/dashboard/transaction-progress?days=5", "", withBearer("at-1"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	items, _ := body["items"].([]any)
	if body["days"] != float64(5) || len(items) != 5 {
		t.Errorf("body = %v", body)
	}
}

func TestMenuBadges(t *testing.T) {
	env := newTestServer(t, nil, nil)

	resp := env.do(t, http.MethodGet, "/api/menu/badges", "", withBearer("at-1"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	badges, _ := body["badges"].(map[string]any)
	for _, k := range []string{"cartable", "paymentOrders", "transactions"} {
		if badges[k] != float64(0) {
			t.Errorf("badge %s = %v; want 0", k, badges[k])
		}
	}
}

func TestUpstreamFailureLocalized(t *testing.T) {
	backend := &mockBackend{
		accountsFn: func(context.Context, string, domain.AccountQuery) ([]domain.Account, error) {
			return nil, &domain.UpstreamError{Operation: "backend: select accounts", Status: 502, Message: "bad gateway"}
		},
	}
	env := newTestServer(t, nil, backend)

	en := decodeBody(t, env.do(t, http.MethodGet, "/api/accounts", "", withBearer("at-1")))
	fa := decodeBody(t, env.do(t, http.MethodGet, "/api/accounts?lang=fa", "", withBearer("at-1")))
	if en["error"] == fa["error"] {
		t.Errorf("error message not localized: %v", en["error"])
	}
	if en["details"] != fa["details"] || en["details"] == nil {
		t.Errorf("details = %v / %v", en["details"], fa["details"])
	}
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestServer(t, nil, nil)

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/payment-orders"},
		{http.MethodPost, "/api/accounts"},
		{http.MethodGet, "/api/auth/logout"},
		{http.MethodDelete, "/api/user/profile"},
	}
	for _, tc := range tests {
		resp := env.do(t, tc.method, tc.path, "", withBearer("at-1"))
		if resp.StatusCode != http.StatusMethodNotAllowed {
			t.Errorf("%s %s: expected 405, got %d", tc.method, tc.path, resp.StatusCode)
		}
	}
}

func TestUnknownAPIRoute(t *testing.T) {
	env := newTestServer(t, nil, nil)

	resp := env.do(t, http.MethodGet, "/api/nope", "", withBearer("at-1"))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}
