package auth

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/BallaAicha/hubdoc-sub000/middleware"
)

// stateBytes is the number of random bytes in the anti-CSRF state.
const stateBytes = 16

// generateState returns a random state value, hex-encoded (32 characters).
func generateState() (string, error) {
	b := make([]byte, stateBytes)
	if _, err := io.ReadFull(randReader, b); err != nil {
		return "", fmt.Errorf("auth: generate state: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Fixed keys of the flow cookie payload.
const (
	FlowKeyVerifier = "pkce_code_verifier"
	FlowKeyState    = "oauth_state"
	FlowKeyNextURL  = "next_url"
)

// DefaultFlowCookieName is the name of the in-flight login cookie.
const DefaultFlowCookieName = "hdf"

// flowTTL bounds how long a started login stays valid.
const flowTTL = time.Hour

// ErrNoFlow is returned by FlowStore.Load when no valid login is in flight.
var ErrNoFlow = errors.New("auth: no login in progress")

// Flow is the state of an in-flight login, scoped to one browser.
type Flow struct {
	Verifier string
	State    string
	NextURL  string
}

// flowData is the sealed cookie payload: a small key/value map plus expiry.
type flowData struct {
	Values    map[string]string `cbor:"1,keyasint"`
	ExpiresAt time.Time         `cbor:"2,keyasint"`
}

// FlowStore keeps the verifier and state of a login between the redirect to
// the provider and the callback. A new login replaces any previous one.
type FlowStore struct {
	cookie middleware.SecureCookie[flowData]
	now    func() time.Time
}

// NewFlowStore creates a FlowStore sealed with keys.
func NewFlowStore(cookieName, keyID string, keys map[string][]byte, opts ...middleware.SecureCookieOption) (*FlowStore, error) {
	if cookieName == "" {
		cookieName = DefaultFlowCookieName
	}
	c, err := middleware.NewSecureCookie[flowData](cookieName, keyID, keys, opts...)
	if err != nil {
		return nil, err
	}
	return &FlowStore{cookie: c, now: time.Now}, nil
}

// Save writes the flow cookie.
func (fs *FlowStore) Save(w http.ResponseWriter, f Flow) error {
	data := flowData{
		Values: map[string]string{
			FlowKeyVerifier: f.Verifier,
			FlowKeyState:    f.State,
		},
		ExpiresAt: fs.now().Add(flowTTL),
	}
	if f.NextURL != "" {
		data.Values[FlowKeyNextURL] = f.NextURL
	}
	c, err := fs.cookie.Encode(data, int(flowTTL.Seconds()))
	if err != nil {
		return err
	}
	http.SetCookie(w, c)
	return nil
}

// Load returns the flow carried by r. Missing, unreadable and expired cookies
// all yield ErrNoFlow. Individual keys may still be empty.
func (fs *FlowStore) Load(r *http.Request) (Flow, error) {
	c, err := r.Cookie(fs.cookie.Name())
	if err != nil {
		return Flow{}, ErrNoFlow
	}
	data, err := fs.cookie.Decode(c)
	if err != nil {
		return Flow{}, fmt.Errorf("%w: %v", ErrNoFlow, err)
	}
	if !fs.now().Before(data.ExpiresAt) {
		return Flow{}, fmt.Errorf("%w: expired", ErrNoFlow)
	}
	return Flow{
		Verifier: data.Values[FlowKeyVerifier],
		State:    data.Values[FlowKeyState],
		NextURL:  data.Values[FlowKeyNextURL],
	}, nil
}

// Clear deletes the flow cookie.
func (fs *FlowStore) Clear(w http.ResponseWriter) {
	http.SetCookie(w, fs.cookie.Clear())
}
