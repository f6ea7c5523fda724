package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/BallaAicha/hubdoc-sub000/endpoint"
	"github.com/BallaAicha/hubdoc-sub000/middleware"
	"github.com/BallaAicha/hubdoc-sub000/store"
)

// Portal routes the guard and handlers redirect to.
const (
	LoginPath = "/login"
	HomePath  = "/home"
)

type (
	authSessionKey struct{}
	accessTokenKey struct{}
)

// WithAuthSession stores s in ctx.
func WithAuthSession(ctx context.Context, s AuthSession) context.Context {
	return context.WithValue(ctx, authSessionKey{}, s)
}

// AuthSessionFromContext returns the snapshot stored by the Guard.
func AuthSessionFromContext(ctx context.Context) (AuthSession, bool) {
	s, ok := ctx.Value(authSessionKey{}).(AuthSession)
	return s, ok
}

// AccessTokenFromContext returns the access token of the signed-in user, as
// stored by the Guard, or "".
func AccessTokenFromContext(ctx context.Context) string {
	tok, _ := ctx.Value(accessTokenKey{}).(string)
	return tok
}

// sessionID returns the portal session ID of r, or "".
func sessionID(r *http.Request) string {
	if sess, ok := middleware.SessionFromContext(r.Context()); ok {
		return sess.ID()
	}
	return ""
}

// Guard gates protected routes. It must run after the session processor.
//
// Unauthenticated page requests are redirected to the login page and API
// requests get 401; nothing downstream runs. Authenticated requests continue
// with the snapshot and the access token in the request context.
type Guard struct {
	Sessions *SessionManager
}

// NewGuard returns a Guard reading from sessions.
func NewGuard(sessions *SessionManager) *Guard {
	return &Guard{Sessions: sessions}
}

func (g *Guard) Process(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
	sid := sessionID(r)
	snap, err := g.Sessions.Snapshot(r.Context(), sid)
	if err != nil {
		return endpoint.Error(http.StatusInternalServerError, "", err)
	}
	var token string
	if snap.IsAuthenticated {
		token, err = g.Sessions.AccessToken(r.Context(), sid)
		if errors.Is(err, store.ErrNotFound) {
			// Expired between the two reads.
			snap = AuthSession{}
		} else if err != nil {
			return endpoint.Error(http.StatusInternalServerError, "", err)
		}
	}
	if !snap.IsAuthenticated {
		if wantsJSON(r) {
			return endpoint.Error(http.StatusUnauthorized, "authentication required", nil)
		}
		return &endpoint.Redirect{URL: LoginPath, Status: http.StatusFound}
	}
	ctx := WithAuthSession(r.Context(), snap)
	ctx = context.WithValue(ctx, accessTokenKey{}, token)
	return next(w, r.WithContext(ctx))
}

func wantsJSON(r *http.Request) bool {
	if strings.HasPrefix(r.URL.Path, "/api/") {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

// RootEndpoint sends "/" to the home page when authenticated and to the login
// page otherwise.
func (g *Guard) RootEndpoint(w http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
	snap, err := g.Sessions.Snapshot(r.Context(), sessionID(r))
	if err != nil {
		return nil, err
	}
	target := LoginPath
	if snap.IsAuthenticated {
		target = HomePath
	}
	return &endpoint.RedirectRenderer{URL: target, Status: http.StatusFound}, nil
}

var _ endpoint.Processor = (*Guard)(nil)
