package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/BallaAicha/hubdoc-sub000/store"
)

// AuthSession is the derived authentication state of one portal session.
type AuthSession struct {
	IsAuthenticated bool
	User            *UserInfo
}

// TokenSet is what the token endpoint returned.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
}

// SessionManager derives AuthSession values from durable storage and applies
// login and logout to it. Storage is the single source of truth: snapshots
// are recomputed on every call and never written back.
type SessionManager struct {
	store store.Store

	mu        sync.Mutex
	nextID    int
	observers map[int]func(sid string, s AuthSession)
}

// NewSessionManager returns a manager over st.
func NewSessionManager(st store.Store) *SessionManager {
	return &SessionManager{store: st, observers: make(map[int]func(string, AuthSession))}
}

// Snapshot returns the current state of session sid. A session is
// authenticated when an access token is stored. User is nil when no user
// info was decoded at login.
func (m *SessionManager) Snapshot(ctx context.Context, sid string) (AuthSession, error) {
	if sid == "" {
		return AuthSession{}, nil
	}
	if _, err := m.store.Get(ctx, sid, store.KeyAccessToken); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return AuthSession{}, nil
		}
		return AuthSession{}, err
	}
	raw, err := m.store.Get(ctx, sid, store.KeyUserInfo)
	if errors.Is(err, store.ErrNotFound) {
		return AuthSession{IsAuthenticated: true}, nil
	}
	if err != nil {
		return AuthSession{}, err
	}
	var u UserInfo
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return AuthSession{}, fmt.Errorf("auth: stored user info: %w", err)
	}
	return AuthSession{IsAuthenticated: true, User: &u}, nil
}

// AccessToken returns the stored access token of session sid.
func (m *SessionManager) AccessToken(ctx context.Context, sid string) (string, error) {
	if sid == "" {
		return "", store.ErrNotFound
	}
	return m.store.Get(ctx, sid, store.KeyAccessToken)
}

// Persist records a successful login. The refresh token is written when
// present, user info when decoded. Values from a previous login that the new
// one does not carry are removed.
func (m *SessionManager) Persist(ctx context.Context, sid string, tokens TokenSet, user *UserInfo) error {
	if sid == "" {
		return errors.New("auth: persist: empty session id")
	}
	if tokens.AccessToken == "" {
		return errors.New("auth: persist: empty access token")
	}
	if err := m.store.Set(ctx, sid, store.KeyAccessToken, tokens.AccessToken); err != nil {
		return err
	}

	var stale []string
	if tokens.RefreshToken != "" {
		if err := m.store.Set(ctx, sid, store.KeyRefreshToken, tokens.RefreshToken); err != nil {
			return err
		}
	} else {
		stale = append(stale, store.KeyRefreshToken)
	}
	if user != nil {
		b, err := json.Marshal(user)
		if err != nil {
			return fmt.Errorf("auth: persist user info: %w", err)
		}
		if err := m.store.Set(ctx, sid, store.KeyUserInfo, string(b)); err != nil {
			return err
		}
	} else {
		stale = append(stale, store.KeyUserInfo)
	}
	if len(stale) > 0 {
		if err := m.store.Delete(ctx, sid, stale...); err != nil {
			return err
		}
	}

	m.notify(sid, AuthSession{IsAuthenticated: true, User: user})
	return nil
}

// Logout removes every durable auth key of session sid.
func (m *SessionManager) Logout(ctx context.Context, sid string) error {
	if err := m.discard(ctx, sid); err != nil {
		return err
	}
	m.notify(sid, AuthSession{})
	return nil
}

// discard removes the keys of sid without notifying observers. It is used for
// an ID that was replaced at login.
func (m *SessionManager) discard(ctx context.Context, sid string) error {
	if sid == "" {
		return nil
	}
	return m.store.Delete(ctx, sid, store.KeyAccessToken, store.KeyRefreshToken, store.KeyUserInfo)
}

// Subscribe registers fn to be called after every Persist and Logout.
// The returned function removes the subscription.
func (m *SessionManager) Subscribe(fn func(sid string, s AuthSession)) (cancel func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.observers[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.observers, id)
	}
}

func (m *SessionManager) notify(sid string, s AuthSession) {
	m.mu.Lock()
	fns := make([]func(string, AuthSession), 0, len(m.observers))
	for _, fn := range m.observers {
		fns = append(fns, fn)
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn(sid, s)
	}
}
