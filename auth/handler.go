// Package auth implements the portal login: the OAuth2 authorization code flow
// with PKCE against the enterprise identity provider, the server-side auth
// session derived from durable storage, and the guard for protected routes.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/BallaAicha/hubdoc-sub000/endpoint"
	"github.com/BallaAicha/hubdoc-sub000/middleware"
	"golang.org/x/oauth2"
)

// Callback failures shown to the user.
var (
	ErrMissingParams   = errors.New("missing parameters")
	ErrInvalidState    = errors.New("invalid state, possible CSRF")
	ErrMissingVerifier = errors.New("missing code verifier")
)

// ProviderError is an error the identity provider reported on the callback.
type ProviderError struct {
	Code        string
	Description string
}

func (e *ProviderError) Error() string {
	if e.Description != "" {
		return e.Code + ": " + e.Description
	}
	return e.Code
}

// DefaultExchangeTimeout bounds the call to the token endpoint.
const DefaultExchangeTimeout = 15 * time.Second

// Handler serves the login, callback and logout routes.
type Handler struct {
	provider        *Provider
	flows           *FlowStore
	sessions        *SessionManager
	metrics         *Metrics
	exchangeTimeout time.Duration

	// processors run in front of every route; the session processor must be
	// among them.
	processors []endpoint.Processor
}

// Option configures the Handler.
type Option func(*Handler)

// WithProcessors adds processors to the auth routes.
func WithProcessors(p ...endpoint.Processor) Option {
	return func(h *Handler) {
		h.processors = append(h.processors, p...)
	}
}

// WithMetrics records flow events in m.
func WithMetrics(m *Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// WithExchangeTimeout bounds the token exchange.
func WithExchangeTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.exchangeTimeout = d
		}
	}
}

// NewHandler creates the auth Handler.
func NewHandler(provider *Provider, flows *FlowStore, sessions *SessionManager, opts ...Option) *Handler {
	h := &Handler{
		provider:        provider,
		flows:           flows,
		sessions:        sessions,
		exchangeTimeout: DefaultExchangeTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the auth routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("GET /auth/login", endpoint.Handler(h.login, h.processors...))
	mux.Handle("GET /callback", endpoint.Handler(h.callback, h.processors...))
	mux.Handle("POST /auth/logout", endpoint.Handler(h.logout, h.processors...))
	mux.Handle("GET "+LoginPath, endpoint.Handler(h.loginPage, h.processors...))
}

type LoginParams struct {
	NextURL string `query:"next_url" maxLength:"2048"`
}

type CallbackParams struct {
	Code      string `query:"code"`
	State     string `query:"state"`
	Error     string `query:"error"`
	ErrorDesc string `query:"error_description"`
}

// login starts a flow: fresh PKCE pair and state, both kept in the flow
// cookie, then a redirect to the provider. Nothing is saved when generating
// either value fails.
func (h *Handler) login(w http.ResponseWriter, r *http.Request, p LoginParams) (endpoint.Renderer, error) {
	log := endpoint.Logger(r.Context())

	pair, err := GenerateChallenge()
	if err != nil {
		log.Error("login aborted", "error", err)
		return h.loginPageRenderer(http.StatusInternalServerError, "Unable to start sign-in. Please try again."), nil
	}
	state, err := generateState()
	if err != nil {
		log.Error("login aborted", "error", err)
		return h.loginPageRenderer(http.StatusInternalServerError, "Unable to start sign-in. Please try again."), nil
	}

	flow := Flow{Verifier: pair.Verifier, State: state, NextURL: ValidateNextURLIsLocal(p.NextURL)}
	if err := h.flows.Save(w, flow); err != nil {
		log.Error("login aborted: save flow", "error", err)
		return h.loginPageRenderer(http.StatusInternalServerError, "Unable to start sign-in. Please try again."), nil
	}

	h.metrics.login()
	log.Info("login started")
	return &endpoint.RedirectRenderer{URL: h.provider.AuthCodeURL(state, pair.Challenge), Status: http.StatusFound}, nil
}

// callback completes a flow. The stored state is checked before anything
// else touches storage or the network; once it has matched, the flow cookie
// is cleared whatever the outcome.
func (h *Handler) callback(w http.ResponseWriter, r *http.Request, p CallbackParams) (endpoint.Renderer, error) {
	ctx := r.Context()
	log := endpoint.Logger(ctx)

	if p.Error != "" {
		return h.fail(ctx, OutcomeProviderError, http.StatusBadRequest, &ProviderError{Code: p.Error, Description: p.ErrorDesc}), nil
	}
	if p.Code == "" || p.State == "" {
		return h.fail(ctx, OutcomeMissingParams, http.StatusBadRequest, ErrMissingParams), nil
	}

	flow, err := h.flows.Load(r)
	if err != nil || flow.State == "" || subtle.ConstantTimeCompare([]byte(flow.State), []byte(p.State)) != 1 {
		if err != nil {
			log.Debug("flow cookie unusable", "error", err)
		}
		return h.fail(ctx, OutcomeInvalidState, http.StatusBadRequest, ErrInvalidState), nil
	}
	defer h.flows.Clear(w)

	if flow.Verifier == "" {
		return h.fail(ctx, OutcomeMissingVerifier, http.StatusBadRequest, ErrMissingVerifier), nil
	}

	xctx, cancel := context.WithTimeout(ctx, h.exchangeTimeout)
	defer cancel()
	token, err := h.provider.Exchange(xctx, p.Code, flow.Verifier)
	if ctx.Err() != nil {
		// The client is gone; nothing is written.
		h.metrics.callback(OutcomeAborted)
		log.Info("callback aborted", "error", ctx.Err())
		return nil, endpoint.Error(http.StatusServiceUnavailable, "request cancelled", ctx.Err())
	}
	if err != nil {
		log.Warn("token exchange failed", "error", err)
		h.metrics.callback(OutcomeExchangeFailed)
		return h.errorPage(http.StatusBadGateway, exchangeMessage(err)), nil
	}

	sess, ok := middleware.SessionFromContext(ctx)
	if !ok {
		return nil, endpoint.Error(http.StatusInternalServerError, "", errors.New("auth: callback without session processor"))
	}
	oldSID := sess.ID()
	sid, err := sess.Rotate()
	if err != nil {
		return h.fail(ctx, OutcomeStorageFailed, http.StatusInternalServerError, err), nil
	}

	tokens := TokenSet{AccessToken: token.AccessToken, RefreshToken: token.RefreshToken}
	var user *UserInfo
	if raw, ok := token.Extra("id_token").(string); ok && raw != "" {
		tokens.IDToken = raw
		user, err = DecodeIDToken(raw)
		if err != nil {
			log.Warn("id token not decoded", "error", err)
			user = nil
		}
	}
	if err := h.sessions.Persist(ctx, sid, tokens, user); err != nil {
		return h.fail(ctx, OutcomeStorageFailed, http.StatusInternalServerError, err), nil
	}
	if oldSID != "" && oldSID != sid {
		// A re-login leaves nothing readable under the replaced ID.
		if err := h.sessions.discard(ctx, oldSID); err != nil {
			log.Warn("previous session not removed", "error", err)
		}
	}

	h.metrics.callback(OutcomeSuccess)
	log.Info("login completed", "user_info", user != nil)
	return &endpoint.RedirectRenderer{URL: ValidateNextURLIsLocal(flow.NextURL), Status: http.StatusFound}, nil
}

func (h *Handler) fail(ctx context.Context, outcome string, status int, err error) endpoint.Renderer {
	h.metrics.callback(outcome)
	endpoint.Logger(ctx).Warn("callback rejected", "outcome", outcome, "error", err)
	msg := err.Error()
	if status >= 500 {
		msg = "Sign-in could not be completed. Please try again."
	}
	return h.errorPage(status, msg)
}

func (h *Handler) errorPage(status int, msg string) endpoint.Renderer {
	return &endpoint.HTMLTemplateRenderer{
		Status:   status,
		Template: errorPage,
		Name:     "layout",
		Values:   pageData{Title: "Sign-in failed", Error: msg, LoginURL: LoginPath},
	}
}

// exchangeMessage builds the user-visible message from the token endpoint's
// error response.
func exchangeMessage(err error) string {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.ErrorCode != "" {
			return "Token exchange failed: " + re.ErrorCode
		}
		if re.Response != nil {
			return fmt.Sprintf("Token exchange failed: HTTP %d", re.Response.StatusCode)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "Token exchange failed: the identity provider did not respond"
	}
	return "Token exchange failed"
}

// logout drops the durable auth keys and the session cookie. The provider is
// not contacted.
func (h *Handler) logout(w http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
	ctx := r.Context()
	sess, ok := middleware.SessionFromContext(ctx)
	sid := ""
	if ok {
		sid = sess.ID()
	}
	if err := h.sessions.Logout(ctx, sid); err != nil {
		return nil, endpoint.Error(http.StatusInternalServerError, "", err)
	}
	if ok {
		sess.Clear()
	}
	h.metrics.logout()
	endpoint.Logger(ctx).Info("logout")
	return &endpoint.RedirectRenderer{URL: LoginPath, Status: http.StatusFound}, nil
}

func (h *Handler) loginPage(w http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
	snap, err := h.sessions.Snapshot(r.Context(), sessionID(r))
	if err != nil {
		return nil, err
	}
	if snap.IsAuthenticated {
		return &endpoint.RedirectRenderer{URL: HomePath, Status: http.StatusFound}, nil
	}
	return h.loginPageRenderer(http.StatusOK, ""), nil
}

func (h *Handler) loginPageRenderer(status int, msg string) endpoint.Renderer {
	return &endpoint.HTMLTemplateRenderer{
		Status:   status,
		Template: loginPage,
		Name:     "layout",
		Values:   pageData{Title: "Sign in", Error: msg, LoginURL: "/auth/login"},
	}
}

// ValidateNextURLIsLocal returns nextURL when it is a local absolute path,
// and "/" otherwise.
func ValidateNextURLIsLocal(nextURL string) string {
	if nextURL == "" || !strings.HasPrefix(nextURL, "/") || strings.HasPrefix(nextURL, "//") || strings.ContainsAny(nextURL, "\\\r\n") {
		return "/"
	}
	return nextURL
}
