package middleware

// Portal session cookie for the endpoint processor pipeline.
//
// The cookie only carries an opaque session ID plus its validity window. The
// values bound to a session (tokens, user info) live in server-side storage
// keyed by that ID.

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/http"
	"time"

	"github.com/BallaAicha/hubdoc-sub000/endpoint"
)

var ErrNilSession = errors.New("nil session")

// SessionIDBytes is the number of random bytes used to generate a session ID.
//
// 32 bytes -> 43 chars raw URL base64.
const SessionIDBytes = 32

// DefaultSessionPeriod is the default session lifetime.
const DefaultSessionPeriod = time.Hour * 24

// MaxExtendedPeriod bounds how long a session may live in total,
// even if continually extended.
const MaxExtendedPeriod = time.Hour * 24 * 30

// DefaultSessionRevalidationExtendThreshold is the default threshold for extending a session before it expires.
const DefaultSessionRevalidationExtendThreshold = DefaultSessionPeriod / 4

// DefaultCookieName is the default name for the portal session cookie.
const DefaultCookieName = "hds"

// Session is request-scoped access to the portal session cookie.
type Session interface {
	// ID returns the session identifier, or "" when the request carries no valid session.
	ID() string
	// Ensure returns the current session ID, creating a new session if there is none.
	Ensure() (string, error)
	// Rotate replaces the session with a fresh ID and validity window.
	// It is called when the user logs in, to prevent session fixation.
	Rotate() (string, error)
	// Clear drops the session; the cookie is removed from the client.
	Clear()
	// Expires returns the expiry of the session, or the zero time when there is none.
	Expires() time.Time
}

// sessionData is the sealed cookie payload.
type sessionData struct {
	ID string `cbor:"1,keyasint"`
	// Expires is the absolute expiry time for session validity.
	Expires time.Time `cbor:"2,keyasint"`
	// Period is the difference between the creation time and expiry time in seconds.
	// Unlike http.Cookie MaxAge it is anchored at creation, not at the last Set-Cookie.
	Period int `cbor:"3,keyasint"`
}

type session struct {
	data   *sessionData
	period time.Duration
	dirty  bool
}

func (s *session) ID() string {
	if s == nil || s.data == nil {
		return ""
	}
	return s.data.ID
}

func (s *session) Ensure() (string, error) {
	if s == nil {
		return "", ErrNilSession
	}
	if s.data != nil {
		return s.data.ID, nil
	}
	return s.Rotate()
}

func (s *session) Rotate() (string, error) {
	if s == nil {
		return "", ErrNilSession
	}
	sd, err := newSessionData(s.period)
	if err != nil {
		return "", err
	}
	s.data = sd
	s.dirty = true
	return sd.ID, nil
}

func (s *session) Clear() {
	if s == nil {
		return
	}
	s.data = nil
	s.dirty = true
}

func (s *session) Expires() time.Time {
	if s == nil || s.data == nil {
		return time.Time{}
	}
	return s.data.Expires
}

func newSessionData(period time.Duration) (*sessionData, error) {
	if period <= 0 {
		period = DefaultSessionPeriod
	}
	b := make([]byte, SessionIDBytes)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	// Truncating moves the creation time backwards, so the start of the
	// valid period is always in the past.
	now := time.Now().Truncate(time.Second)
	return &sessionData{
		ID:      base64.RawURLEncoding.EncodeToString(b),
		Expires: now.Add(period),
		Period:  int(period.Seconds()),
	}, nil
}

// validate checks whether the session is valid now.
//
// If the session is expired, it returns (false, false).
// If the session is valid, and the remaining time before expiry is less than extendThreshold,
// it extends the session by extendPeriod and returns (true, true).
func (sd *sessionData) validate(extendThreshold, extendPeriod time.Duration) (ok bool, extended bool) {
	if sd == nil || sd.ID == "" {
		return false, false
	}
	now := time.Now()

	if sd.Period <= 0 || sd.Period > int(MaxExtendedPeriod.Seconds()) {
		return false, false
	}
	if sd.Expires.IsZero() || !now.Before(sd.Expires) {
		return false, false
	}

	if extendThreshold <= 0 || extendPeriod <= 0 || extendPeriod < extendThreshold {
		return true, false
	}
	if sd.Expires.Sub(now) < extendThreshold {
		sd.extendTo(now.Add(extendPeriod))
		return true, true
	}
	return true, false
}

// extendTo moves the absolute expiry forward, never past MaxExtendedPeriod
// after creation. Period grows by the amount Expires moves.
func (sd *sessionData) extendTo(newExpires time.Time) {
	if sd == nil || sd.Expires.IsZero() {
		return
	}
	newExpires = newExpires.Truncate(time.Second)

	issuedAt := sd.Expires.Add(-time.Duration(sd.Period) * time.Second)
	if maxExpires := issuedAt.Add(MaxExtendedPeriod); newExpires.After(maxExpires) {
		newExpires = maxExpires
	}
	if !newExpires.After(sd.Expires) {
		return
	}

	sd.Period += int(newExpires.Sub(sd.Expires).Seconds())
	sd.Expires = newExpires
}

type sessionContextKey struct{}

// WithSession stores sess in ctx and returns the derived context.
func WithSession(ctx context.Context, sess Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sess)
}

// SessionFromContext returns the Session stored in ctx, if any.
func SessionFromContext(ctx context.Context) (Session, bool) {
	sess, ok := ctx.Value(sessionContextKey{}).(Session)
	if !ok || sess == nil {
		return nil, false
	}
	return sess, true
}

// SessionProcessor is an endpoint processor that loads the portal session
// cookie, revalidates it, and writes it back when it changes.
type SessionProcessor struct {
	cookie          SecureCookie[sessionData]
	MaxAge          time.Duration
	ExtendThreshold time.Duration
}

// SessionProcessorOption configures the SessionProcessor.
type SessionProcessorOption func(*sessionProcessorConfig)

type sessionProcessorConfig struct {
	cookieName      string
	cookieOptions   []SecureCookieOption
	maxAge          time.Duration
	extendThreshold time.Duration
}

// WithCookieName sets the name of the session cookie.
func WithCookieName(name string) SessionProcessorOption {
	return func(c *sessionProcessorConfig) {
		c.cookieName = name
	}
}

// WithCookieOptions adds SecureCookieOptions to the session cookie.
func WithCookieOptions(opts ...SecureCookieOption) SessionProcessorOption {
	return func(c *sessionProcessorConfig) {
		c.cookieOptions = append(c.cookieOptions, opts...)
	}
}

// WithMaxAge sets the session lifetime.
func WithMaxAge(d time.Duration) SessionProcessorOption {
	return func(c *sessionProcessorConfig) {
		c.maxAge = d
	}
}

// WithExtendThreshold sets the remaining lifetime under which a session is extended.
func WithExtendThreshold(d time.Duration) SessionProcessorOption {
	return func(c *sessionProcessorConfig) {
		c.extendThreshold = d
	}
}

// NewSessionProcessor returns a SessionProcessor sealing its cookie with keys[keyID].
func NewSessionProcessor(keyID string, keys map[string][]byte, opts ...SessionProcessorOption) (*SessionProcessor, error) {
	cfg := sessionProcessorConfig{
		cookieName:      DefaultCookieName,
		maxAge:          DefaultSessionPeriod,
		extendThreshold: DefaultSessionRevalidationExtendThreshold,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	cookie, err := NewSecureCookie[sessionData](cfg.cookieName, keyID, keys, cfg.cookieOptions...)
	if err != nil {
		return nil, err
	}
	return &SessionProcessor{
		cookie:          cookie,
		MaxAge:          cfg.maxAge,
		ExtendThreshold: cfg.extendThreshold,
	}, nil
}

// Process implements endpoint.Processor.
func (p *SessionProcessor) Process(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
	if p.cookie == nil {
		return errors.New("SessionProcessor requires SecureCookie")
	}

	maxAge := p.MaxAge
	if maxAge <= 0 {
		maxAge = DefaultSessionPeriod
	}
	extendThreshold := p.ExtendThreshold
	if extendThreshold <= 0 {
		extendThreshold = DefaultSessionRevalidationExtendThreshold
	}

	sess := &session{period: maxAge}
	if c, err := r.Cookie(p.cookie.Name()); err == nil {
		sd, err := p.cookie.Decode(c)
		if err != nil {
			// Tampered or sealed with a retired key.
			sess.dirty = true
		} else if ok, extended := sd.validate(extendThreshold, maxAge); !ok {
			sess.dirty = true
		} else {
			sess.data = &sd
			sess.dirty = extended
		}
	}

	endpoint.Defer(r.Context(), func(w http.ResponseWriter) {
		p.maybeSetCookie(w, sess)
	})

	*r = *r.WithContext(WithSession(r.Context(), sess))
	return next(w, r)
}

func (p *SessionProcessor) maybeSetCookie(w http.ResponseWriter, sess *session) {
	if sess == nil || !sess.dirty {
		return
	}
	if sess.data == nil {
		http.SetCookie(w, p.cookie.Clear())
		return
	}
	maxAge := int(time.Until(sess.data.Expires).Seconds())
	if maxAge <= 0 {
		http.SetCookie(w, p.cookie.Clear())
		return
	}
	if c, err := p.cookie.Encode(*sess.data, maxAge); err == nil {
		http.SetCookie(w, c)
	}
}

var _ endpoint.Processor = (*SessionProcessor)(nil)
var _ Session = (*session)(nil)
