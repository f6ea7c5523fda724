package auth

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BallaAicha/hubdoc-sub000/endpoint"
	"github.com/BallaAicha/hubdoc-sub000/middleware"
	"github.com/BallaAicha/hubdoc-sub000/store"
	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

const testRedirectURL = "http://portal.example.com/callback"

// fakeIdP serves the token endpoint of a test identity provider.
type fakeIdP struct {
	srv *httptest.Server

	mu    sync.Mutex
	calls int
	form  url.Values
	// respond writes the token response; the default is a full success.
	respond func(w http.ResponseWriter, r *http.Request)
}

func newFakeIdP(t *testing.T) *fakeIdP {
	t.Helper()
	idp := &fakeIdP{}
	idp.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/token" {
			http.NotFound(w, r)
			return
		}
		r.ParseForm()
		idp.mu.Lock()
		idp.calls++
		idp.form = r.PostForm
		respond := idp.respond
		idp.mu.Unlock()
		if respond == nil {
			respond = tokenResponse(t, "access-1", "refresh-1", mintIDToken(t, map[string]any{
				"sub":        "user123",
				"email":      "ada@example.com",
				"given_name": "Ada",
				"job_title":  "Engineer",
			}))
		}
		respond(w, r)
	}))
	t.Cleanup(idp.srv.Close)
	return idp
}

func (idp *fakeIdP) tokenCalls() int {
	idp.mu.Lock()
	defer idp.mu.Unlock()
	return idp.calls
}

func tokenResponse(t *testing.T, access, refresh, idToken string) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{"access_token": access, "token_type": "Bearer", "expires_in": 3600}
		if refresh != "" {
			body["refresh_token"] = refresh
		}
		if idToken != "" {
			body["id_token"] = idToken
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(body)
	}
}

func mintIDToken(t *testing.T, claims map[string]any) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.RS256, Key: key}, (&jose.SignerOptions{}).WithType("JWT"))
	if err != nil {
		t.Fatal(err)
	}
	std := jwt.Claims{
		Issuer:   "https://idp.example.com",
		Audience: jwt.Audience{"client-id"},
		Expiry:   jwt.NewNumericDate(time.Now().Add(time.Hour)),
		IssuedAt: jwt.NewNumericDate(time.Now()),
	}
	raw, err := jwt.Signed(signer).Claims(std).Claims(claims).Serialize()
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

type testEnv struct {
	idp      *fakeIdP
	mux      *http.ServeMux
	flows    *FlowStore
	sessions *SessionManager
	store    store.Store
	metrics  *Metrics

	// jar holds the browser's cookies between requests.
	jar map[string]*http.Cookie

	mu        sync.Mutex
	persisted map[string]AuthSession
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	idp := newFakeIdP(t)
	keys := map[string][]byte{"k1": bytes.Repeat([]byte{7}, 32)}

	provider, err := NewProvider(context.Background(), ProviderConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		Scopes:       []string{"openid", "profile"},
		RedirectURL:  testRedirectURL,
		AuthURL:      idp.srv.URL + "/authorize",
		TokenURL:     idp.srv.URL + "/token",
	})
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	flows, err := NewFlowStore("", "k1", keys)
	if err != nil {
		t.Fatalf("NewFlowStore: %v", err)
	}
	sp, err := middleware.NewSessionProcessor("k1", keys)
	if err != nil {
		t.Fatalf("NewSessionProcessor: %v", err)
	}
	st := store.NewMemory(time.Hour)
	sessions := NewSessionManager(st)
	metrics := NewMetrics(prometheus.NewRegistry())

	env := &testEnv{
		idp:       idp,
		mux:       http.NewServeMux(),
		flows:     flows,
		sessions:  sessions,
		store:     st,
		metrics:   metrics,
		jar:       map[string]*http.Cookie{},
		persisted: map[string]AuthSession{},
	}
	sessions.Subscribe(func(sid string, s AuthSession) {
		env.mu.Lock()
		defer env.mu.Unlock()
		env.persisted[sid] = s
	})

	h := NewHandler(provider, flows, sessions, WithProcessors(sp), WithMetrics(metrics), WithExchangeTimeout(5*time.Second))
	h.Register(env.mux)

	guard := NewGuard(sessions)
	home := func(w http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
		s, _ := AuthSessionFromContext(r.Context())
		return &endpoint.StringRenderer{Body: "home " + s.User.DisplayName() + " " + AccessTokenFromContext(r.Context())}, nil
	}
	env.mux.Handle("GET /{$}", endpoint.Handler(guard.RootEndpoint, sp))
	env.mux.Handle("GET /home", endpoint.Handler(home, sp, guard))
	env.mux.Handle("GET /api/me", endpoint.Handler(home, sp, guard))
	return env
}

// do sends r with the jar's cookies and stores the cookies of the response.
func (env *testEnv) do(r *http.Request) *http.Response {
	for _, c := range env.jar {
		r.AddCookie(c)
	}
	w := httptest.NewRecorder()
	env.mux.ServeHTTP(w, r)
	resp := w.Result()
	for _, c := range resp.Cookies() {
		if c.MaxAge < 0 {
			delete(env.jar, c.Name)
			continue
		}
		env.jar[c.Name] = c
	}
	return resp
}

func (env *testEnv) get(target string) *http.Response {
	return env.do(httptest.NewRequest(http.MethodGet, target, nil))
}

// login starts a flow and returns the query of the authorization URL.
func (env *testEnv) login(t *testing.T, next string) url.Values {
	t.Helper()
	target := "/auth/login"
	if next != "" {
		target += "?next_url=" + url.QueryEscape(next)
	}
	resp := env.get(target)
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("login: expected 302, got %d", resp.StatusCode)
	}
	u, err := url.Parse(resp.Header.Get("Location"))
	if err != nil {
		t.Fatal(err)
	}
	return u.Query()
}

func (env *testEnv) storedFlow(t *testing.T) Flow {
	t.Helper()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if c, ok := env.jar[DefaultFlowCookieName]; ok {
		r.AddCookie(c)
	}
	f, err := env.flows.Load(r)
	if err != nil {
		t.Fatalf("flow cookie: %v", err)
	}
	return f
}

func (env *testEnv) lastPersisted(t *testing.T) (string, AuthSession) {
	t.Helper()
	env.mu.Lock()
	defer env.mu.Unlock()
	if len(env.persisted) != 1 {
		t.Fatalf("expected one persisted session, got %d", len(env.persisted))
	}
	for sid, s := range env.persisted {
		return sid, s
	}
	return "", AuthSession{}
}

func (env *testEnv) persistCount() int {
	env.mu.Lock()
	defer env.mu.Unlock()
	return len(env.persisted)
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	return buf.String()
}

func TestLogin_RedirectsToProvider(t *testing.T) {
	env := newTestEnv(t)
	resp := env.get("/auth/login?next_url=/docs/42")
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("expected 302, got %d", resp.StatusCode)
	}
	loc, _ := url.Parse(resp.Header.Get("Location"))
	if got := loc.Scheme + "://" + loc.Host + loc.Path; got != env.idp.srv.URL+"/authorize" {
		t.Errorf("redirect target = %s", got)
	}
	q := loc.Query()
	want := map[string]string{
		"response_type":         "code",
		"client_id":             "client-id",
		"redirect_uri":          testRedirectURL,
		"scope":                 "openid profile",
		"code_challenge_method": "S256",
		"authIndexType":         "service",
		"authIndexValue":        "L2",
		"goto":                  testRedirectURL,
	}
	for k, v := range want {
		if q.Get(k) != v {
			t.Errorf("%s = %q, want %q", k, q.Get(k), v)
		}
	}

	flow := env.storedFlow(t)
	if len(flow.Verifier) != VerifierLength {
		t.Errorf("verifier length = %d", len(flow.Verifier))
	}
	if q.Get("state") != flow.State || len(flow.State) != 32 {
		t.Errorf("state %q does not match stored %q", q.Get("state"), flow.State)
	}
	if q.Get("code_challenge") != DeriveChallenge(flow.Verifier) {
		t.Error("challenge does not match stored verifier")
	}
	if flow.NextURL != "/docs/42" {
		t.Errorf("next url = %q", flow.NextURL)
	}
	if got := testutil.ToFloat64(env.metrics.Logins); got != 1 {
		t.Errorf("logins = %v", got)
	}
}

func TestLogin_ReplacesPreviousFlow(t *testing.T) {
	env := newTestEnv(t)
	first := env.login(t, "")
	second := env.login(t, "")
	if first.Get("state") == second.Get("state") {
		t.Fatal("expected a fresh state per login")
	}
	if first.Get("code_challenge") == second.Get("code_challenge") {
		t.Fatal("expected a fresh verifier per login")
	}

	resp := env.get("/callback?code=abc&state=" + first.Get("state"))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("callback with superseded state: expected 400, got %d", resp.StatusCode)
	}
	if env.idp.tokenCalls() != 0 {
		t.Error("token endpoint must not be called")
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("entropy unavailable") }

func TestLogin_RandomSourceFailure(t *testing.T) {
	env := newTestEnv(t)
	randReader = failingReader{}
	t.Cleanup(func() { randReader = rand.Reader })

	resp := env.get("/auth/login")
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
	if body := readBody(t, resp); !strings.Contains(body, "Unable to start sign-in") {
		t.Errorf("login page should show the error, got %q", body)
	}
	if _, ok := env.jar[DefaultFlowCookieName]; ok {
		t.Error("no flow must be saved")
	}
}

func TestCallback_Success(t *testing.T) {
	env := newTestEnv(t)
	q := env.login(t, "/docs/42")
	flow := env.storedFlow(t)

	resp := env.get("/callback?code=the-code&state=" + q.Get("state"))
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("expected 302, got %d: %s", resp.StatusCode, readBody(t, resp))
	}
	if loc := resp.Header.Get("Location"); loc != "/docs/42" {
		t.Errorf("Location = %q", loc)
	}

	env.idp.mu.Lock()
	form := env.idp.form
	env.idp.mu.Unlock()
	wantForm := map[string]string{
		"grant_type":    "authorization_code",
		"code":          "the-code",
		"code_verifier": flow.Verifier,
		"redirect_uri":  testRedirectURL,
		"client_id":     "client-id",
		"client_secret": "client-secret",
	}
	for k, v := range wantForm {
		if form.Get(k) != v {
			t.Errorf("token form %s = %q, want %q", k, form.Get(k), v)
		}
	}

	sid, snap := env.lastPersisted(t)
	if !snap.IsAuthenticated || snap.User.Email != "ada@example.com" {
		t.Errorf("unexpected session %+v", snap)
	}
	ctx := context.Background()
	if v, _ := env.store.Get(ctx, sid, store.KeyAccessToken); v != "access-1" {
		t.Errorf("access token = %q", v)
	}
	if v, _ := env.store.Get(ctx, sid, store.KeyRefreshToken); v != "refresh-1" {
		t.Errorf("refresh token = %q", v)
	}
	if _, err := env.store.Get(ctx, sid, store.KeyUserInfo); err != nil {
		t.Errorf("user info: %v", err)
	}
	if _, ok := env.jar[DefaultFlowCookieName]; ok {
		t.Error("flow cookie should be cleared")
	}

	home := env.get("/home")
	if home.StatusCode != http.StatusOK {
		t.Fatalf("/home: expected 200, got %d", home.StatusCode)
	}
	if body := readBody(t, home); body != "home Ada access-1" {
		t.Errorf("/home body = %q", body)
	}
	if resp := env.get("/login"); resp.Header.Get("Location") != HomePath {
		t.Errorf("/login for a signed-in user should redirect home, got %d", resp.StatusCode)
	}
	if got := testutil.ToFloat64(env.metrics.Callbacks.WithLabelValues(OutcomeSuccess)); got != 1 {
		t.Errorf("success callbacks = %v", got)
	}
}

func TestCallback_DefaultsToRoot(t *testing.T) {
	env := newTestEnv(t)
	q := env.login(t, "https://evil.example.com/")
	resp := env.get("/callback?code=c&state=" + q.Get("state"))
	if loc := resp.Header.Get("Location"); loc != "/" {
		t.Errorf("Location = %q, want /", loc)
	}
}

func TestCallback_Rejections(t *testing.T) {
	tests := []struct {
		name      string
		query     func(state string) string
		wantBody  string
		outcome   string
		flowClear bool
	}{
		{
			name:     "provider error",
			query:    func(string) string { return "error=access_denied&error_description=User+cancelled" },
			wantBody: "access_denied: User cancelled",
			outcome:  OutcomeProviderError,
		},
		{
			name:     "missing code",
			query:    func(s string) string { return "state=" + s },
			wantBody: "missing parameters",
			outcome:  OutcomeMissingParams,
		},
		{
			name:     "missing state",
			query:    func(string) string { return "code=abc" },
			wantBody: "missing parameters",
			outcome:  OutcomeMissingParams,
		},
		{
			name:     "state mismatch",
			query:    func(string) string { return "code=abc&state=ffffffffffffffffffffffffffffffff" },
			wantBody: "invalid state",
			outcome:  OutcomeInvalidState,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			q := env.login(t, "")
			flowCookie := env.jar[DefaultFlowCookieName]

			resp := env.get("/callback?" + tt.query(q.Get("state")))
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", resp.StatusCode)
			}
			body := readBody(t, resp)
			if !strings.Contains(body, tt.wantBody) || !strings.Contains(body, "Back to login") {
				t.Errorf("error page = %q", body)
			}
			if env.idp.tokenCalls() != 0 {
				t.Error("token endpoint must not be called")
			}
			if env.persistCount() != 0 {
				t.Error("nothing must be persisted")
			}
			if env.jar[DefaultFlowCookieName] != flowCookie {
				t.Error("flow cookie must be left untouched")
			}
			if got := testutil.ToFloat64(env.metrics.Callbacks.WithLabelValues(tt.outcome)); got != 1 {
				t.Errorf("%s callbacks = %v", tt.outcome, got)
			}
		})
	}
}

func TestCallback_NoFlow(t *testing.T) {
	env := newTestEnv(t)
	resp := env.get("/callback?code=abc&state=abc")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if body := readBody(t, resp); !strings.Contains(body, "invalid state") {
		t.Errorf("body = %q", body)
	}
}

func TestCallback_MissingVerifier(t *testing.T) {
	env := newTestEnv(t)
	w := httptest.NewRecorder()
	if err := env.flows.Save(w, Flow{State: "s1"}); err != nil {
		t.Fatal(err)
	}
	env.jar[DefaultFlowCookieName] = w.Result().Cookies()[0]

	resp := env.get("/callback?code=abc&state=s1")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if body := readBody(t, resp); !strings.Contains(body, "missing code verifier") {
		t.Errorf("body = %q", body)
	}
	if env.idp.tokenCalls() != 0 {
		t.Error("token endpoint must not be called")
	}
	if _, ok := env.jar[DefaultFlowCookieName]; ok {
		t.Error("flow cookie should be cleared once the state matched")
	}
}

func TestCallback_ExchangeFailure(t *testing.T) {
	env := newTestEnv(t)
	env.idp.respond = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant","error_description":"code expired"}`))
	}
	q := env.login(t, "")

	resp := env.get("/callback?code=abc&state=" + q.Get("state"))
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.StatusCode)
	}
	if body := readBody(t, resp); !strings.Contains(body, "invalid_grant") {
		t.Errorf("body = %q", body)
	}
	if env.persistCount() != 0 {
		t.Error("nothing must be persisted")
	}
	if _, ok := env.jar[DefaultFlowCookieName]; ok {
		t.Error("flow cookie should be cleared")
	}
	if resp := env.get("/home"); resp.Header.Get("Location") != LoginPath {
		t.Error("user must stay signed out")
	}
}

func TestCallback_MalformedIDToken(t *testing.T) {
	env := newTestEnv(t)
	env.idp.respond = tokenResponse(t, "access-2", "", "not-a-jwt")
	q := env.login(t, "")

	resp := env.get("/callback?code=abc&state=" + q.Get("state"))
	if resp.StatusCode != http.StatusFound || resp.Header.Get("Location") != "/" {
		t.Fatalf("expected redirect to /, got %d %q", resp.StatusCode, resp.Header.Get("Location"))
	}
	sid, snap := env.lastPersisted(t)
	if !snap.IsAuthenticated || snap.User != nil {
		t.Errorf("session should be authenticated without a user, got %+v", snap)
	}
	if snap, err := env.sessions.Snapshot(context.Background(), sid); err != nil || !snap.IsAuthenticated {
		t.Errorf("stored session should be authenticated, got %+v %v", snap, err)
	}

	resp = env.get("/")
	if resp.StatusCode != http.StatusFound || resp.Header.Get("Location") != HomePath {
		t.Errorf("root should send an authenticated user home, got %d %q", resp.StatusCode, resp.Header.Get("Location"))
	}
	resp = env.get("/home")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("home without user info: status %d", resp.StatusCode)
	}
	ctx := context.Background()
	if v, _ := env.store.Get(ctx, sid, store.KeyAccessToken); v != "access-2" {
		t.Errorf("access token = %q", v)
	}
	if _, err := env.store.Get(ctx, sid, store.KeyUserInfo); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("user info should be absent, got %v", err)
	}
	if _, err := env.store.Get(ctx, sid, store.KeyRefreshToken); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("refresh token should be absent, got %v", err)
	}
}

func TestCallback_ClientGone(t *testing.T) {
	env := newTestEnv(t)
	q := env.login(t, "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env.idp.respond = func(w http.ResponseWriter, r *http.Request) {
		cancel()
		tokenResponse(t, "late", "", "")(w, r)
	}

	r := httptest.NewRequest(http.MethodGet, "/callback?code=abc&state="+q.Get("state"), nil).WithContext(ctx)
	resp := env.do(r)
	if resp.StatusCode == http.StatusFound {
		t.Fatal("an abandoned callback must not complete the login")
	}
	if env.persistCount() != 0 {
		t.Error("nothing must be persisted")
	}
	if _, ok := env.jar[middleware.DefaultCookieName]; ok {
		t.Error("no session must be issued")
	}
	if got := testutil.ToFloat64(env.metrics.Callbacks.WithLabelValues(OutcomeAborted)); got != 1 {
		t.Errorf("aborted callbacks = %v", got)
	}
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t)
	q := env.login(t, "")
	env.get("/callback?code=abc&state=" + q.Get("state"))
	sid, _ := env.lastPersisted(t)

	resp := env.do(httptest.NewRequest(http.MethodPost, "/auth/logout", nil))
	if resp.StatusCode != http.StatusFound || resp.Header.Get("Location") != LoginPath {
		t.Fatalf("expected redirect to login, got %d %q", resp.StatusCode, resp.Header.Get("Location"))
	}
	ctx := context.Background()
	for _, key := range []string{store.KeyAccessToken, store.KeyRefreshToken, store.KeyUserInfo} {
		if _, err := env.store.Get(ctx, sid, key); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("%s should be removed, got %v", key, err)
		}
	}
	if _, ok := env.jar[middleware.DefaultCookieName]; ok {
		t.Error("session cookie should be cleared")
	}
	if resp := env.get("/home"); resp.Header.Get("Location") != LoginPath {
		t.Error("/home should redirect to login after logout")
	}
	if got := testutil.ToFloat64(env.metrics.Logouts); got != 1 {
		t.Errorf("logouts = %v", got)
	}
}

func TestLogout_GetNotAllowed(t *testing.T) {
	env := newTestEnv(t)
	q := env.login(t, "")
	env.get("/callback?code=abc&state=" + q.Get("state"))
	sid, _ := env.lastPersisted(t)

	resp := env.get("/auth/logout")
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("GET logout: expected 405, got %d", resp.StatusCode)
	}
	if v, err := env.store.Get(context.Background(), sid, store.KeyAccessToken); err != nil || v != "access-1" {
		t.Errorf("GET must not end the session, got %q %v", v, err)
	}
	if resp := env.get("/home"); resp.StatusCode != http.StatusOK {
		t.Errorf("/home after GET logout: got %d", resp.StatusCode)
	}
}

func TestCallback_ReloginDropsPreviousSession(t *testing.T) {
	env := newTestEnv(t)
	q := env.login(t, "")
	env.get("/callback?code=abc&state=" + q.Get("state"))
	first, _ := env.lastPersisted(t)

	q = env.login(t, "")
	env.get("/callback?code=abc&state=" + q.Get("state"))
	if n := env.persistCount(); n != 2 {
		t.Fatalf("expected two persisted sessions, got %d", n)
	}

	ctx := context.Background()
	for _, key := range []string{store.KeyAccessToken, store.KeyRefreshToken, store.KeyUserInfo} {
		if _, err := env.store.Get(ctx, first, key); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("%s of the replaced session should be removed, got %v", key, err)
		}
	}
	env.mu.Lock()
	defer env.mu.Unlock()
	if !env.persisted[first].IsAuthenticated {
		t.Error("dropping the replaced session must not notify observers")
	}
	for sid, s := range env.persisted {
		if sid == first {
			continue
		}
		if v, err := env.store.Get(ctx, sid, store.KeyAccessToken); err != nil || v == "" {
			t.Errorf("new session has no access token: %v", err)
		}
		if !s.IsAuthenticated {
			t.Error("new session should be authenticated")
		}
	}
}

func TestLoginPage(t *testing.T) {
	env := newTestEnv(t)
	resp := env.get("/login")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body := readBody(t, resp)
	if !strings.Contains(body, `href="/auth/login"`) {
		t.Errorf("login page should link to the flow, got %q", body)
	}
}

func TestGuard_APIUnauthorized(t *testing.T) {
	env := newTestEnv(t)
	resp := env.get("/api/me")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestValidateNextURLIsLocal(t *testing.T) {
	tests := map[string]string{
		"":                     "/",
		"/docs":                "/docs",
		"/api/x?y=1":           "/api/x?y=1",
		"//evil.com":           "/",
		"/\\evil.com":          "/",
		"https://evil.com":     "/",
		"javascript:alert(1)":  "/",
		"docs":                 "/",
		"/ok\r\nSet-Cookie: x": "/",
	}
	for in, want := range tests {
		if got := ValidateNextURLIsLocal(in); got != want {
			t.Errorf("ValidateNextURLIsLocal(%q) = %q, want %q", in, got, want)
		}
	}
}
