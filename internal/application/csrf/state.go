package csrf

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"
)

const (
	DefaultStateCookieName    = "__oauth_state"
	DefaultVerifierCookieName = "__oauth_pkce"
	DefaultPath               = "/auth"
	DefaultTTL                = 10 * time.Minute

	randomBytes = 32
)

// ErrValidationFailed is returned when the callback state does not match the cookie.
var ErrValidationFailed = errors.New("oauth state validation failed")

// Config defines the cookies used to carry login state across the provider redirect.
type Config struct {
	StateCookieName    string
	VerifierCookieName string
	Path               string
	TTL                time.Duration
}

// Manager issues and validates the anti-forgery state of an OAuth login.
// State cookies are always HttpOnly, Secure and SameSite=Lax.
type Manager struct {
	cfg Config
}

func NewManager(cfg Config) *Manager {
	if cfg.StateCookieName == "" {
		cfg.StateCookieName = DefaultStateCookieName
	}
	if cfg.VerifierCookieName == "" {
		cfg.VerifierCookieName = DefaultVerifierCookieName
	}
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	return &Manager{cfg: cfg}
}

// Issue returns a fresh state value and the cookie that binds it to the browser.
func (m *Manager) Issue() (string, *http.Cookie, error) {
	state, err := randomString()
	if err != nil {
		return "", nil, err
	}
	return state, m.cookie(m.cfg.StateCookieName, state, int(m.cfg.TTL.Seconds())), nil
}

// IssueVerifier returns a PKCE verifier, its S256 challenge and the cookie holding the verifier.
func (m *Manager) IssueVerifier() (verifier, challenge string, cookie *http.Cookie, err error) {
	verifier, err = randomString()
	if err != nil {
		return "", "", nil, err
	}
	sum := sha256.Sum256([]byte(verifier))
	challenge = base64.RawURLEncoding.EncodeToString(sum[:])
	return verifier, challenge, m.cookie(m.cfg.VerifierCookieName, verifier, int(m.cfg.TTL.Seconds())), nil
}

// Validate reports whether both values are present and identical.
func (m *Manager) Validate(cookieValue, callbackState string) bool {
	return Validate(cookieValue, callbackState)
}

// StateFromRequest returns the state cookie value or "".
func (m *Manager) StateFromRequest(r *http.Request) string {
	return cookieValue(r, m.cfg.StateCookieName)
}

// VerifierFromRequest returns the PKCE verifier cookie value or "".
func (m *Manager) VerifierFromRequest(r *http.Request) string {
	return cookieValue(r, m.cfg.VerifierCookieName)
}

// Clear returns cookies that delete the state and verifier cookies.
func (m *Manager) Clear() []*http.Cookie {
	return []*http.Cookie{
		m.cookie(m.cfg.StateCookieName, "", -1),
		m.cookie(m.cfg.VerifierCookieName, "", -1),
	}
}

func (m *Manager) cookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     m.cfg.Path,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	}
}

// Validate reports whether both values are non-empty and byte-equal.
func Validate(cookieValue, callbackState string) bool {
	if cookieValue == "" || callbackState == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(cookieValue), []byte(callbackState)) == 1
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

func randomString() (string, error) {
	b := make([]byte, randomBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("csrf: failed to read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
