package csrf

import (
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		cookie string
		state  string
		want   bool
	}{
		{"match", "abc", "abc", true},
		{"mismatch", "abc", "abd", false},
		{"empty cookie", "", "abc", false},
		{"empty state", "abc", "", false},
		{"both empty", "", "", false},
		{"prefix", "abc", "abcd", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Validate(tt.cookie, tt.state))
		})
	}
}

func TestIssueSetsCookieAttributes(t *testing.T) {
	m := NewManager(Config{})

	state, cookie, err := m.Issue()
	require.NoError(t, err)
	assert.NotEmpty(t, state)
	assert.Equal(t, DefaultStateCookieName, cookie.Name)
	assert.Equal(t, state, cookie.Value)
	assert.Equal(t, "/auth", cookie.Path)
	assert.Equal(t, 600, cookie.MaxAge)
	assert.True(t, cookie.HttpOnly)
	assert.True(t, cookie.Secure)
	assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)

	other, _, err := m.Issue()
	require.NoError(t, err)
	assert.NotEqual(t, state, other)
}

func TestIssueVerifierUsesS256(t *testing.T) {
	m := NewManager(Config{TTL: 5 * time.Minute})

	verifier, challenge, cookie, err := m.IssueVerifier()
	require.NoError(t, err)

	sum := sha256.Sum256([]byte(verifier))
	assert.Equal(t, base64.RawURLEncoding.EncodeToString(sum[:]), challenge)
	assert.Equal(t, verifier, cookie.Value)
	assert.Equal(t, 300, cookie.MaxAge)
}

func TestRoundTripThroughRequest(t *testing.T) {
	m := NewManager(Config{})
	state, stateCookie, err := m.Issue()
	require.NoError(t, err)
	verifier, _, verifierCookie, err := m.IssueVerifier()
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/auth/google/callback?state="+state, nil)
	r.AddCookie(&http.Cookie{Name: "unrelated", Value: "x"})
	r.AddCookie(stateCookie)
	r.AddCookie(verifierCookie)

	assert.True(t, m.Validate(m.StateFromRequest(r), r.URL.Query().Get("state")))
	assert.Equal(t, verifier, m.VerifierFromRequest(r))

	bare := httptest.NewRequest(http.MethodGet, "/auth/google/callback?state="+state, nil)
	assert.False(t, m.Validate(m.StateFromRequest(bare), state))
}

func TestClearExpiresBothCookies(t *testing.T) {
	m := NewManager(Config{})
	cleared := m.Clear()
	require.Len(t, cleared, 2)
	for _, c := range cleared {
		assert.Equal(t, -1, c.MaxAge)
		assert.Empty(t, c.Value)
		assert.Equal(t, "/auth", c.Path)
	}
}
