package middleware

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/chacha20poly1305"
)

var (
	ErrCookieFormat  = errors.New("invalid secure cookie format")
	ErrCookieInvalid = errors.New("invalid secure cookie")
	ErrCookieConfig  = errors.New("invalid secure cookie configuration")
)

// maxCookieLen bounds the attacker-controlled data decoded from a cookie value.
const maxCookieLen = 8192

// DefaultAEADKeysize is the key size (in bytes) expected by the default AEAD.
const DefaultAEADKeysize = chacha20poly1305.KeySize

// SecureCookie seals values of type T into cookies and opens them again.
type SecureCookie[T any] interface {
	// Name returns the cookie name used by this codec.
	Name() string
	Encode(plain T, maxAge int) (*http.Cookie, error)
	Decode(cookie *http.Cookie) (T, error)
	// Clear returns an http.Cookie that removes this cookie in the client.
	Clear() *http.Cookie
}

// SecureCookieAEAD seals cookie values with an AEAD.
//
// Format: [keyID] "." base64url(nonce || AEAD.Seal(plaintext, aad))
// where aad binds the cookie name, domain, path and secure flag.
//
// Keys holds every accepted key; KeyID selects the key used for sealing, so
// keys can be rotated by adding a new key and switching KeyID.
type SecureCookieAEAD[T any] struct {
	CookieName string
	KeyID      string
	Keys       map[string][]byte

	path     string
	domain   string
	secure   bool
	sameSite http.SameSite

	marshal   func(any) ([]byte, error)
	unmarshal func([]byte, any) error
	newAEAD   func([]byte) (cipher.AEAD, error)
}

// SecureCookieOption configures cookie attributes and the sealing primitive.
type SecureCookieOption func(*cookieConfig)

// cookieConfig is kept separate from SecureCookieAEAD so options don't carry
// the value type parameter.
type cookieConfig struct {
	path     string
	domain   string
	secure   bool
	sameSite http.SameSite
	newAEAD  func([]byte) (cipher.AEAD, error)
}

// WithAEAD configures a custom AEAD factory (e.g. AES-GCM).
func WithAEAD(f func([]byte) (cipher.AEAD, error)) SecureCookieOption {
	return func(c *cookieConfig) {
		c.newAEAD = f
	}
}

// WithPath configures the cookie path.
func WithPath(path string) SecureCookieOption {
	return func(c *cookieConfig) {
		c.path = path
	}
}

// WithDomain configures the cookie domain.
func WithDomain(domain string) SecureCookieOption {
	return func(c *cookieConfig) {
		c.domain = domain
	}
}

// WithSecure configures the cookie Secure flag. Disable only for plain-http development.
func WithSecure(secure bool) SecureCookieOption {
	return func(c *cookieConfig) {
		c.secure = secure
	}
}

// WithSameSite configures the cookie SameSite attribute.
func WithSameSite(sameSite http.SameSite) SecureCookieOption {
	return func(c *cookieConfig) {
		c.sameSite = sameSite
	}
}

// NewSecureCookie creates a SecureCookieAEAD using CBOR encoding and XChaCha20-Poly1305.
//
// Defaults: Path "/", HttpOnly, Secure, SameSite=Lax.
func NewSecureCookie[T any](name, keyID string, keys map[string][]byte, opts ...SecureCookieOption) (*SecureCookieAEAD[T], error) {
	return NewCustomSecureCookie[T](name, keyID, keys, cbor.Marshal, cbor.Unmarshal, opts...)
}

// NewCustomSecureCookie is NewSecureCookie with caller-supplied marshal/unmarshal functions.
func NewCustomSecureCookie[T any](name, keyID string, keys map[string][]byte, marshal func(any) ([]byte, error), unmarshal func([]byte, any) error, opts ...SecureCookieOption) (*SecureCookieAEAD[T], error) {
	cfg := cookieConfig{
		path:     "/",
		secure:   true,
		sameSite: http.SameSiteLaxMode,
		newAEAD:  chacha20poly1305.NewX,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.path == "" {
		cfg.path = "/"
	}
	if name == "" {
		return nil, fmt.Errorf("%w: empty cookie name", ErrCookieConfig)
	}
	if keys == nil {
		return nil, fmt.Errorf("%w: keys must not be nil", ErrCookieConfig)
	}
	if _, ok := keys[keyID]; !ok {
		return nil, fmt.Errorf("%w: key %q not found", ErrCookieConfig, keyID)
	}
	if cfg.newAEAD == nil || marshal == nil || unmarshal == nil {
		return nil, ErrCookieConfig
	}
	for id, k := range keys {
		if _, err := cfg.newAEAD(k); err != nil {
			return nil, fmt.Errorf("invalid key %s: %w", id, err)
		}
	}
	return &SecureCookieAEAD[T]{
		CookieName: name,
		KeyID:      keyID,
		Keys:       keys,
		path:       cfg.path,
		domain:     cfg.domain,
		secure:     cfg.secure,
		sameSite:   cfg.sameSite,
		marshal:    marshal,
		unmarshal:  unmarshal,
		newAEAD:    cfg.newAEAD,
	}, nil
}

// Name returns the cookie name.
func (sc *SecureCookieAEAD[T]) Name() string {
	if sc == nil {
		return ""
	}
	return sc.CookieName
}

func (sc *SecureCookieAEAD[T]) aad() []byte {
	secureStr := "f"
	if sc.secure {
		secureStr = "t"
	}
	return []byte(sc.CookieName + ":" + sc.domain + ":" + sc.path + ":" + secureStr)
}

// Encode marshals and seals plain, returning a cookie that lives for maxAge seconds.
func (sc *SecureCookieAEAD[T]) Encode(plain T, maxAge int) (*http.Cookie, error) {
	if maxAge <= 0 {
		return nil, ErrCookieInvalid
	}
	if sc.newAEAD == nil || sc.marshal == nil {
		return nil, ErrCookieConfig
	}
	key, ok := sc.Keys[sc.KeyID]
	if !ok {
		return nil, ErrCookieConfig
	}

	plainBytes, err := sc.marshal(plain)
	if err != nil {
		return nil, err
	}
	aead, err := sc.newAEAD(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plainBytes)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	sealed := aead.Seal(nonce, nonce, plainBytes, sc.aad())

	return &http.Cookie{
		Name:     sc.CookieName,
		Value:    sc.KeyID + "." + base64.RawURLEncoding.EncodeToString(sealed),
		Path:     sc.path,
		Domain:   sc.domain,
		MaxAge:   maxAge,
		Secure:   sc.secure,
		HttpOnly: true,
		SameSite: sc.sameSite,
		Expires:  time.Now().Add(time.Duration(maxAge) * time.Second),
	}, nil
}

// Decode opens the cookie value and unmarshals it.
func (sc *SecureCookieAEAD[T]) Decode(cookie *http.Cookie) (T, error) {
	var zero T
	if cookie == nil {
		return zero, ErrCookieFormat
	}
	if sc.newAEAD == nil || sc.unmarshal == nil {
		return zero, ErrCookieConfig
	}
	value := cookie.Value
	if len(value) == 0 || len(value) > maxCookieLen {
		return zero, ErrCookieFormat
	}
	keyID, encB64, ok := strings.Cut(value, ".")
	if !ok || keyID == "" || encB64 == "" {
		return zero, ErrCookieFormat
	}
	key, ok := sc.Keys[keyID]
	if !ok {
		return zero, ErrCookieInvalid
	}
	sealed, err := base64.RawURLEncoding.DecodeString(encB64)
	if err != nil {
		return zero, ErrCookieFormat
	}
	aead, err := sc.newAEAD(key)
	if err != nil {
		return zero, err
	}
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return zero, ErrCookieFormat
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plainBytes, err := aead.Open(nil, nonce, ciphertext, sc.aad())
	if err != nil {
		return zero, ErrCookieInvalid
	}

	var out T
	if err := sc.unmarshal(plainBytes, &out); err != nil {
		return zero, err
	}
	return out, nil
}

// Clear returns a cookie that removes this cookie in the client.
func (sc *SecureCookieAEAD[T]) Clear() *http.Cookie {
	if sc == nil {
		return nil
	}
	return &http.Cookie{
		Name:     sc.CookieName,
		Domain:   sc.domain,
		Path:     sc.path,
		HttpOnly: true,
		Secure:   sc.secure,
		SameSite: sc.sameSite,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
	}
}

var _ SecureCookie[struct{}] = (*SecureCookieAEAD[struct{}])(nil)
