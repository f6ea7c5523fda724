package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BallaAicha/hubdoc-sub000/store"
)

func TestSessionManager_Snapshot(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory(time.Hour)
	m := NewSessionManager(st)

	snap, err := m.Snapshot(ctx, "")
	if err != nil || snap.IsAuthenticated {
		t.Fatalf("empty sid: %+v %v", snap, err)
	}

	st.Set(ctx, "s1", store.KeyAccessToken, "tok")
	snap, err = m.Snapshot(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if !snap.IsAuthenticated || snap.User != nil {
		t.Errorf("access token alone should authenticate without a user, got %+v", snap)
	}

	st.Set(ctx, "s1", store.KeyUserInfo, `{"sub":"u","email":"u@example.com"}`)
	snap, err = m.Snapshot(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if !snap.IsAuthenticated || snap.User.Email != "u@example.com" {
		t.Errorf("unexpected snapshot %+v", snap)
	}

	st.Delete(ctx, "s1", store.KeyAccessToken)
	if snap, _ := m.Snapshot(ctx, "s1"); snap.IsAuthenticated {
		t.Error("user info alone must not authenticate")
	}
}

func TestSessionManager_CorruptUserInfo(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory(time.Hour)
	st.Set(ctx, "s1", store.KeyAccessToken, "tok")
	st.Set(ctx, "s1", store.KeyUserInfo, "{")
	if _, err := NewSessionManager(st).Snapshot(ctx, "s1"); err == nil {
		t.Error("expected error for unreadable user info")
	}
}

func TestSessionManager_PersistReplacesStaleValues(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory(time.Hour)
	m := NewSessionManager(st)

	user := &UserInfo{Subject: "u"}
	if err := m.Persist(ctx, "s1", TokenSet{AccessToken: "a1", RefreshToken: "r1"}, user); err != nil {
		t.Fatal(err)
	}
	if err := m.Persist(ctx, "s1", TokenSet{AccessToken: "a2"}, nil); err != nil {
		t.Fatal(err)
	}
	if v, _ := st.Get(ctx, "s1", store.KeyAccessToken); v != "a2" {
		t.Errorf("access token = %q", v)
	}
	for _, key := range []string{store.KeyRefreshToken, store.KeyUserInfo} {
		if _, err := st.Get(ctx, "s1", key); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("%s should be gone, got %v", key, err)
		}
	}
}

func TestSessionManager_PersistValidates(t *testing.T) {
	m := NewSessionManager(store.NewMemory(time.Hour))
	if err := m.Persist(context.Background(), "", TokenSet{AccessToken: "a"}, nil); err == nil {
		t.Error("expected error for empty sid")
	}
	if err := m.Persist(context.Background(), "s1", TokenSet{}, nil); err == nil {
		t.Error("expected error for empty access token")
	}
}

func TestSessionManager_Subscribe(t *testing.T) {
	ctx := context.Background()
	m := NewSessionManager(store.NewMemory(time.Hour))

	var events []AuthSession
	cancel := m.Subscribe(func(sid string, s AuthSession) {
		if sid != "s1" {
			t.Errorf("sid = %q", sid)
		}
		events = append(events, s)
	})

	m.Persist(ctx, "s1", TokenSet{AccessToken: "a"}, &UserInfo{Subject: "u"})
	m.Logout(ctx, "s1")
	cancel()
	m.Persist(ctx, "s1", TokenSet{AccessToken: "b"}, nil)

	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if !events[0].IsAuthenticated || events[0].User.Subject != "u" {
		t.Errorf("login event = %+v", events[0])
	}
	if events[1].IsAuthenticated {
		t.Errorf("logout event = %+v", events[1])
	}
}
