// Package oauthtest provides an in-process OAuth2 / OIDC provider for tests.
package oauthtest

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/potluck-hub/potluck-hub/internal/application/oauth"
)

const (
	ClientID     = "test-client"
	ClientSecret = "test-secret"
	keyID        = "test-key"
)

// Identity is what the fake provider asserts for a code.
type Identity struct {
	Subject string
	Name    string
	Email   string
}

// Server is a fake identity provider backed by httptest.
type Server struct {
	*httptest.Server

	key *rsa.PrivateKey

	mu           sync.Mutex
	codes        map[string]Identity
	accessTokens map[string]Identity
	verifiers    []string
	exchanges    int
	omitIDToken  bool
	failToken    bool
}

// NewServer starts a provider that is closed when the test ends.
func NewServer(t testing.TB) *Server {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	s := &Server{
		key:          key,
		codes:        make(map[string]Identity),
		accessTokens: make(map[string]Identity),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", s.handleDiscovery)
	mux.HandleFunc("/jwks", s.handleJWKS)
	mux.HandleFunc("/token", s.handleToken)
	mux.HandleFunc("/userinfo", s.handleUserInfo)
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// AddCode makes code exchangeable, once, for id.
func (s *Server) AddCode(code string, id Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[code] = id
}

// OmitIDToken makes the token endpoint answer without an id_token.
func (s *Server) OmitIDToken() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.omitIDToken = true
}

// FailTokenEndpoint makes the token endpoint answer with a server error.
func (s *Server) FailTokenEndpoint() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failToken = true
}

// Exchanges returns how many token requests were received.
func (s *Server) Exchanges() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exchanges
}

// Verifiers returns the code_verifier values received, in order.
func (s *Server) Verifiers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.verifiers...)
}

// OIDCConfig returns a provider definition that discovers this server.
func (s *Server) OIDCConfig(name string) oauth.ProviderConfig {
	return oauth.ProviderConfig{
		Name:         name,
		ClientID:     ClientID,
		ClientSecret: ClientSecret,
		RedirectURL:  "https://potluck.test/auth/" + name + "/callback",
		Issuer:       s.URL,
		Scopes:       []string{"openid", "email", "profile"},
		PKCE:         true,
	}
}

// OAuth2Config returns a plain OAuth2 definition that reads the userinfo endpoint.
func (s *Server) OAuth2Config(name string) oauth.ProviderConfig {
	return oauth.ProviderConfig{
		Name:         name,
		ClientID:     ClientID,
		ClientSecret: ClientSecret,
		RedirectURL:  "https://potluck.test/auth/" + name + "/callback",
		AuthURL:      s.URL + "/authorize",
		TokenURL:     s.URL + "/token",
		UserInfoURL:  s.URL + "/userinfo",
		Scopes:       []string{"email"},
	}
}

func (s *Server) handleDiscovery(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"issuer":                                s.URL,
		"authorization_endpoint":                s.URL + "/authorize",
		"token_endpoint":                        s.URL + "/token",
		"userinfo_endpoint":                     s.URL + "/userinfo",
		"jwks_uri":                              s.URL + "/jwks",
		"id_token_signing_alg_values_supported": []string{"RS256"},
	})
}

func (s *Server) handleJWKS(w http.ResponseWriter, _ *http.Request) {
	pub := s.key.PublicKey
	writeJSON(w, http.StatusOK, map[string]any{
		"keys": []map[string]string{{
			"kty": "RSA",
			"kid": keyID,
			"use": "sig",
			"alg": "RS256",
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}},
	})
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}

	s.mu.Lock()
	s.exchanges++
	if v := r.PostForm.Get("code_verifier"); v != "" {
		s.verifiers = append(s.verifiers, v)
	}
	if s.failToken {
		s.mu.Unlock()
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "server_error"})
		return
	}
	code := r.PostForm.Get("code")
	id, ok := s.codes[code]
	delete(s.codes, code)
	omitIDToken := s.omitIDToken
	accessToken := "at-" + code
	if ok {
		s.accessTokens[accessToken] = id
	}
	s.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
		return
	}

	resp := map[string]any{
		"access_token": accessToken,
		"token_type":   "Bearer",
		"expires_in":   3600,
	}
	if !omitIDToken {
		idToken, err := s.signIDToken(id)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "server_error"})
			return
		}
		resp["id_token"] = idToken
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	s.mu.Lock()
	id, ok := s.accessTokens[token]
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_token"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sub":            id.Subject,
		"name":           id.Name,
		"email":          id.Email,
		"email_verified": true,
	})
}

func (s *Server) signIDToken(id Identity) (string, error) {
	now := time.Now()
	header, err := json.Marshal(map[string]string{"alg": "RS256", "kid": keyID, "typ": "JWT"})
	if err != nil {
		return "", err
	}
	claims, err := json.Marshal(map[string]any{
		"iss":            s.URL,
		"aud":            ClientID,
		"sub":            id.Subject,
		"name":           id.Name,
		"email":          id.Email,
		"email_verified": true,
		"iat":            now.Unix(),
		"exp":            now.Add(time.Hour).Unix(),
	})
	if err != nil {
		return "", err
	}
	signingInput := base64.RawURLEncoding.EncodeToString(header) + "." + base64.RawURLEncoding.EncodeToString(claims)
	digest := sha256.Sum256([]byte(signingInput))
	sig, err := rsa.SignPKCS1v15(rand.Reader, s.key, crypto.SHA256, digest[:])
	if err != nil {
		return "", fmt.Errorf("sign id_token: %w", err)
	}
	return signingInput + "." + base64.RawURLEncoding.EncodeToString(sig), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
