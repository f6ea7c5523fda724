package middleware

import (
	"context"
	"crypto/rand"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BallaAicha/hubdoc-sub000/endpoint"
)

func newTestSessionProcessor(t *testing.T) (*SessionProcessor, *SecureCookieAEAD[sessionData]) {
	t.Helper()
	key := make([]byte, DefaultAEADKeysize)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}
	keys := map[string][]byte{"k1": key}
	p, err := NewSessionProcessor("k1", keys)
	if err != nil {
		t.Fatalf("NewSessionProcessor: %v", err)
	}
	sc, ok := p.cookie.(*SecureCookieAEAD[sessionData])
	if !ok {
		t.Fatalf("unexpected cookie type %T", p.cookie)
	}
	return p, sc
}

func encodeSession(t *testing.T, sc *SecureCookieAEAD[sessionData], sd sessionData) *http.Cookie {
	t.Helper()
	ck, err := sc.Encode(sd, int(time.Until(sd.Expires).Seconds()))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return ck
}

func TestSessionData_Validate_Invalid(t *testing.T) {
	var nilData *sessionData
	tests := []struct {
		name string
		sd   *sessionData
	}{
		{"nil", nilData},
		{"empty id", &sessionData{Expires: time.Now().Add(time.Hour), Period: 10}},
		{"period zero", &sessionData{ID: "x", Expires: time.Now().Add(time.Hour), Period: 0}},
		{"period over max", &sessionData{ID: "x", Expires: time.Now().Add(time.Hour), Period: int(MaxExtendedPeriod.Seconds()) + 1}},
		{"zero expires", &sessionData{ID: "x", Period: 10}},
		{"expired", &sessionData{ID: "x", Expires: time.Now().Add(-time.Second), Period: 10}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, extended := tt.sd.validate(time.Second, time.Minute)
			if ok || extended {
				t.Fatalf("validate: got (%v,%v) want (false,false)", ok, extended)
			}
		})
	}
}

func TestSessionData_Validate_NotExtended_WhenThresholdInvalid(t *testing.T) {
	sd := &sessionData{ID: "x", Expires: time.Now().Add(time.Minute), Period: 60}
	if ok, extended := sd.validate(0, time.Minute); !ok || extended {
		t.Fatalf("validate(threshold<=0): got (%v,%v) want (true,false)", ok, extended)
	}
	sd2 := &sessionData{ID: "x", Expires: time.Now().Add(time.Minute), Period: 60}
	if ok, extended := sd2.validate(2*time.Minute, time.Minute); !ok || extended {
		t.Fatalf("validate(extend<threshold): got (%v,%v) want (true,false)", ok, extended)
	}
}

func TestSessionData_Validate_Extends_WhenWithinThreshold(t *testing.T) {
	orig := time.Now().Add(2 * time.Second).Truncate(time.Second)
	sd := &sessionData{ID: "x", Expires: orig, Period: 10}
	ok, extended := sd.validate(30*time.Second, time.Minute)
	if !ok || !extended {
		t.Fatalf("validate: got (%v,%v) want (true,true)", ok, extended)
	}
	if !sd.Expires.After(orig) {
		t.Fatalf("Expires not extended: got %v orig %v", sd.Expires, orig)
	}
	if sd.Period <= 10 {
		t.Fatalf("Period not increased: got %d", sd.Period)
	}
}

func TestSessionData_ExtendTo_CapsAtMaxExtendedPeriod(t *testing.T) {
	issuedAt := time.Now().Add(-time.Hour).Truncate(time.Second)
	expires := issuedAt.Add(time.Minute)
	sd := &sessionData{ID: "x", Expires: expires, Period: 60}
	sd.extendTo(expires.Add(MaxExtendedPeriod * 10))
	if maxExpires := issuedAt.Add(MaxExtendedPeriod); sd.Expires.After(maxExpires) {
		t.Fatalf("Expires exceeds max: got %v max %v", sd.Expires, maxExpires)
	}

	ex := time.Now().Add(time.Minute).Truncate(time.Second)
	sd2 := &sessionData{ID: "x", Expires: ex, Period: 60}
	sd2.extendTo(ex.Add(-time.Second))
	if !sd2.Expires.Equal(ex) || sd2.Period != 60 {
		t.Fatalf("extendTo with earlier time should no-op, got %+v", sd2)
	}
}

func TestSession_EnsureRotateClear(t *testing.T) {
	s := &session{period: time.Hour}
	if s.ID() != "" || !s.Expires().IsZero() {
		t.Fatalf("empty session: got id=%q expires=%v", s.ID(), s.Expires())
	}

	id1, err := s.Ensure()
	if err != nil || id1 == "" {
		t.Fatalf("Ensure: got (%q,%v)", id1, err)
	}
	if !s.dirty {
		t.Fatalf("Ensure on empty session should mark dirty")
	}
	s.dirty = false
	if again, _ := s.Ensure(); again != id1 || s.dirty {
		t.Fatalf("Ensure on existing session should be stable: got %q dirty=%v", again, s.dirty)
	}

	id2, err := s.Rotate()
	if err != nil || id2 == "" || id2 == id1 {
		t.Fatalf("Rotate: got (%q,%v), previous %q", id2, err, id1)
	}
	if s.data.Period != int(time.Hour.Seconds()) {
		t.Fatalf("Rotate period: got %d", s.data.Period)
	}

	s.dirty = false
	s.Clear()
	if s.ID() != "" || !s.dirty {
		t.Fatalf("Clear: got id=%q dirty=%v", s.ID(), s.dirty)
	}
}

func TestSession_NilReceiver(t *testing.T) {
	var s *session
	if _, err := s.Ensure(); err != ErrNilSession {
		t.Fatalf("Ensure(nil): got %v want %v", err, ErrNilSession)
	}
	if _, err := s.Rotate(); err != ErrNilSession {
		t.Fatalf("Rotate(nil): got %v want %v", err, ErrNilSession)
	}
	s.Clear()
}

func TestSessionContext_Accessors(t *testing.T) {
	ctx := WithSession(context.Background(), &session{data: &sessionData{ID: "x"}})
	got, ok := SessionFromContext(ctx)
	if !ok || got.ID() != "x" {
		t.Fatalf("SessionFromContext: got (%v,%v)", got, ok)
	}
	if _, ok := SessionFromContext(WithSession(ctx, nil)); ok {
		t.Fatalf("expected session removed")
	}
}

func TestSessionProcessor_NoCookie_PassesThrough(t *testing.T) {
	p, _ := newTestSessionProcessor(t)

	called := false
	h := endpoint.Handler(func(_ http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
		called = true
		got, ok := SessionFromContext(r.Context())
		if !ok || got.ID() != "" {
			t.Fatalf("expected empty session, got (%v,%v)", got, ok)
		}
		return &endpoint.NoContentRenderer{}, nil
	}, p)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://example.com/", nil))

	if !called {
		t.Fatalf("next not called")
	}
	if len(w.Result().Cookies()) != 0 {
		t.Fatalf("unexpected Set-Cookie")
	}
}

func TestSessionProcessor_InvalidCookie_Clears(t *testing.T) {
	p, _ := newTestSessionProcessor(t)

	r := httptest.NewRequest(http.MethodGet, "http://example.com/", nil)
	r.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: "bad"})
	w := httptest.NewRecorder()

	h := endpoint.Handler(func(_ http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
		if got, _ := SessionFromContext(r.Context()); got.ID() != "" {
			t.Fatalf("expected no session id, got %q", got.ID())
		}
		return &endpoint.NoContentRenderer{}, nil
	}, p)
	h.ServeHTTP(w, r)

	cookies := w.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != DefaultCookieName || cookies[0].MaxAge != -1 {
		t.Fatalf("expected one clearing cookie, got %+v", cookies)
	}
}

func TestSessionProcessor_ValidCookie_AttachesSession(t *testing.T) {
	p, sc := newTestSessionProcessor(t)
	p.ExtendThreshold = 10 * time.Second

	sd := sessionData{ID: "x", Expires: time.Now().Add(time.Hour).Truncate(time.Second), Period: 3600}
	r := httptest.NewRequest(http.MethodGet, "http://example.com/", nil)
	r.AddCookie(encodeSession(t, sc, sd))
	w := httptest.NewRecorder()

	var gotID string
	h := endpoint.Handler(func(_ http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
		got, _ := SessionFromContext(r.Context())
		gotID = got.ID()
		return &endpoint.NoContentRenderer{}, nil
	}, p)
	h.ServeHTTP(w, r)

	if gotID != "x" {
		t.Fatalf("session id: got %q want %q", gotID, "x")
	}
	if len(w.Result().Cookies()) != 0 {
		t.Fatalf("unchanged session should not set a cookie")
	}
}

func TestSessionProcessor_Extends_SetsCookie(t *testing.T) {
	p, sc := newTestSessionProcessor(t)
	p.MaxAge = 24 * time.Hour
	p.ExtendThreshold = 24 * time.Hour

	sd := sessionData{ID: "x", Expires: time.Now().Add(30 * time.Minute).Truncate(time.Second), Period: 3600}
	r := httptest.NewRequest(http.MethodGet, "http://example.com/", nil)
	r.AddCookie(encodeSession(t, sc, sd))
	w := httptest.NewRecorder()

	h := endpoint.Handler(func(_ http.ResponseWriter, _ *http.Request, _ struct{}) (endpoint.Renderer, error) {
		return &endpoint.NoContentRenderer{}, nil
	}, p)
	h.ServeHTTP(w, r)

	cookies := w.Result().Cookies()
	if len(cookies) != 1 || cookies[0].MaxAge <= 0 {
		t.Fatalf("expected extended cookie, got %+v", cookies)
	}
}

func TestSessionProcessor_Rotate_SetsNewCookie(t *testing.T) {
	p, sc := newTestSessionProcessor(t)

	sd := sessionData{ID: "old", Expires: time.Now().Add(time.Hour).Truncate(time.Second), Period: 3600}
	r := httptest.NewRequest(http.MethodGet, "http://example.com/", nil)
	r.AddCookie(encodeSession(t, sc, sd))
	w := httptest.NewRecorder()

	var rotated string
	h := endpoint.Handler(func(_ http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
		sess, _ := SessionFromContext(r.Context())
		var err error
		rotated, err = sess.Rotate()
		if err != nil {
			t.Fatalf("Rotate: %v", err)
		}
		return &endpoint.NoContentRenderer{}, nil
	}, p)
	h.ServeHTTP(w, r)

	cookies := w.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("Set-Cookie count: got %d want 1", len(cookies))
	}
	got, err := sc.Decode(cookies[0])
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.ID != rotated || got.ID == "old" {
		t.Fatalf("cookie id: got %q want %q", got.ID, rotated)
	}
}

func TestSessionProcessor_Clear_RemovesCookie(t *testing.T) {
	p, sc := newTestSessionProcessor(t)

	sd := sessionData{ID: "x", Expires: time.Now().Add(time.Hour).Truncate(time.Second), Period: 3600}
	r := httptest.NewRequest(http.MethodPost, "http://example.com/logout", nil)
	r.AddCookie(encodeSession(t, sc, sd))
	w := httptest.NewRecorder()

	h := endpoint.Handler(func(_ http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
		sess, _ := SessionFromContext(r.Context())
		sess.Clear()
		return &endpoint.NoContentRenderer{}, nil
	}, p)
	h.ServeHTTP(w, r)

	cookies := w.Result().Cookies()
	if len(cookies) != 1 || cookies[0].MaxAge != -1 {
		t.Fatalf("expected clearing cookie, got %+v", cookies)
	}
}
