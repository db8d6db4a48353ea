package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	domainUser "github.com/potluck-hub/potluck-hub/internal/domain/user"
)

// ErrExchangeFailed covers every failure between receiving the callback code
// and holding a verified identity. Details are for logs only.
var ErrExchangeFailed = errors.New("oauth exchange failed")

const maxUserInfoBytes = 1 << 20

// Tokens holds the credentials returned by a provider's token endpoint.
type Tokens struct {
	AccessToken string
	TokenType   string
	IDToken     string
	Expiry      time.Time
}

// RemoteIdentity is what a provider asserts about the user.
type RemoteIdentity struct {
	Subject       string
	Name          string
	Email         string
	EmailVerified bool
}

// Provider defines one external identity provider. Implementations return
// identity facts only and never create users or sessions.
type Provider interface {
	Name() string
	// AuthorizationURL builds the redirect URL. codeChallenge is ignored unless UsesPKCE.
	AuthorizationURL(state, codeChallenge string) string
	UsesPKCE() bool
	ExchangeCode(ctx context.Context, code, codeVerifier string) (*Tokens, error)
	FetchIdentity(ctx context.Context, tokens *Tokens) (*RemoteIdentity, error)
}

// ProviderConfig defines an OAuth2 / OIDC provider.
type ProviderConfig struct {
	Name         string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string

	// Issuer enables OIDC discovery and id_token verification.
	Issuer string

	// Explicit endpoints override discovered ones.
	AuthURL     string
	TokenURL    string
	UserInfoURL string

	AuthStyle  oauth2.AuthStyle
	PKCE       bool
	AuthParams map[string]string
}

// GenericProvider implements Provider on top of x/oauth2 and go-oidc.
type GenericProvider struct {
	name        string
	config      *oauth2.Config
	verifier    *oidc.IDTokenVerifier
	userInfoURL string
	discovered  *oidc.Provider
	pkce        bool
	authParams  map[string]string
	client      *http.Client
}

// NewProvider builds a provider, running OIDC discovery when cfg.Issuer is set.
// client is used for every call to the provider, including discovery.
func NewProvider(ctx context.Context, cfg ProviderConfig, client *http.Client) (*GenericProvider, error) {
	if cfg.Name == "" || cfg.ClientID == "" || cfg.RedirectURL == "" {
		return nil, fmt.Errorf("oauth provider %q: client id and redirect url are required", cfg.Name)
	}
	if client == nil {
		client = http.DefaultClient
	}

	var (
		verifier       *oidc.IDTokenVerifier
		userInfoSource *oidc.Provider
	)
	endpoint := oauth2.Endpoint{AuthURL: cfg.AuthURL, TokenURL: cfg.TokenURL, AuthStyle: cfg.AuthStyle}
	userInfoURL := cfg.UserInfoURL

	if cfg.Issuer != "" {
		discovered, err := oidc.NewProvider(oidc.ClientContext(ctx, client), cfg.Issuer)
		if err != nil {
			return nil, fmt.Errorf("oauth provider %q: oidc discovery failed: %w", cfg.Name, err)
		}
		verifier = discovered.Verifier(&oidc.Config{ClientID: cfg.ClientID})
		ep := discovered.Endpoint()
		if endpoint.AuthURL == "" {
			endpoint.AuthURL = ep.AuthURL
		}
		if endpoint.TokenURL == "" {
			endpoint.TokenURL = ep.TokenURL
		}
		if userInfoURL == "" && discovered.UserInfoEndpoint() != "" {
			userInfoURL = discovered.UserInfoEndpoint()
			userInfoSource = discovered
		}
	}
	if endpoint.AuthURL == "" || endpoint.TokenURL == "" {
		return nil, fmt.Errorf("oauth provider %q: authorization and token endpoints are required", cfg.Name)
	}
	if verifier == nil && userInfoURL == "" {
		return nil, fmt.Errorf("oauth provider %q: needs an issuer or a userinfo endpoint", cfg.Name)
	}

	p := newProvider(cfg, endpoint, userInfoURL, verifier, client)
	p.discovered = userInfoSource
	return p, nil
}

func newProvider(cfg ProviderConfig, endpoint oauth2.Endpoint, userInfoURL string, verifier *oidc.IDTokenVerifier, client *http.Client) *GenericProvider {
	return &GenericProvider{
		name: cfg.Name,
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       cfg.Scopes,
		},
		verifier:    verifier,
		userInfoURL: userInfoURL,
		pkce:        cfg.PKCE,
		authParams:  cfg.AuthParams,
		client:      client,
	}
}

func (p *GenericProvider) Name() string {
	return p.name
}

func (p *GenericProvider) UsesPKCE() bool {
	return p.pkce
}

func (p *GenericProvider) AuthorizationURL(state, codeChallenge string) string {
	opts := []oauth2.AuthCodeOption{oauth2.AccessTypeOnline}
	for k, v := range p.authParams {
		opts = append(opts, oauth2.SetAuthURLParam(k, v))
	}
	if p.pkce && codeChallenge != "" {
		opts = append(opts,
			oauth2.SetAuthURLParam("code_challenge", codeChallenge),
			oauth2.SetAuthURLParam("code_challenge_method", "S256"),
		)
	}
	return p.config.AuthCodeURL(state, opts...)
}

// ExchangeCode trades the authorization code for tokens. It is never retried:
// codes are single use.
func (p *GenericProvider) ExchangeCode(ctx context.Context, code, codeVerifier string) (*Tokens, error) {
	if code == "" {
		return nil, p.fail("missing authorization code", nil)
	}
	var opts []oauth2.AuthCodeOption
	if p.pkce {
		if codeVerifier == "" {
			return nil, p.fail("missing pkce verifier", nil)
		}
		opts = append(opts, oauth2.VerifierOption(codeVerifier))
	}

	tok, err := p.config.Exchange(p.clientContext(ctx), code, opts...)
	if err != nil {
		return nil, p.fail("token exchange", err)
	}
	if tok.AccessToken == "" {
		return nil, p.fail("token response missing access_token", nil)
	}

	tokens := &Tokens{
		AccessToken: tok.AccessToken,
		TokenType:   tok.TokenType,
		Expiry:      tok.Expiry,
	}
	if raw, ok := tok.Extra("id_token").(string); ok {
		tokens.IDToken = raw
	}
	return tokens, nil
}

// FetchIdentity verifies the id_token when the provider speaks OIDC, and
// falls back to the userinfo endpoint otherwise.
func (p *GenericProvider) FetchIdentity(ctx context.Context, tokens *Tokens) (*RemoteIdentity, error) {
	if tokens == nil {
		return nil, p.fail("missing tokens", nil)
	}

	var (
		id  *RemoteIdentity
		err error
	)
	if p.verifier != nil && tokens.IDToken != "" {
		id, err = p.identityFromIDToken(ctx, tokens.IDToken)
	} else if p.userInfoURL != "" {
		id, err = p.identityFromUserInfo(ctx, tokens)
	} else {
		return nil, p.fail("no identity source", nil)
	}
	if err != nil {
		return nil, err
	}

	id.Email = domainUser.NormalizeEmail(id.Email)
	id.Name = strings.TrimSpace(id.Name)
	if id.Email == "" {
		return nil, p.fail("identity missing email", nil)
	}
	if err := domainUser.ValidateEmail(id.Email); err != nil {
		return nil, p.fail("identity email invalid", err)
	}
	return id, nil
}

type identityClaims struct {
	Subject       string `json:"sub"`
	Name          string `json:"name"`
	Email         string `json:"email"`
	EmailVerified any    `json:"email_verified"`
}

func (c identityClaims) identity() *RemoteIdentity {
	return &RemoteIdentity{
		Subject:       c.Subject,
		Name:          c.Name,
		Email:         c.Email,
		EmailVerified: truthy(c.EmailVerified),
	}
}

func (p *GenericProvider) identityFromIDToken(ctx context.Context, raw string) (*RemoteIdentity, error) {
	idToken, err := p.verifier.Verify(p.clientContext(ctx), raw)
	if err != nil {
		return nil, p.fail("id_token verification", err)
	}
	var claims identityClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, p.fail("id_token claims", err)
	}
	return claims.identity(), nil
}

func (p *GenericProvider) identityFromUserInfo(ctx context.Context, tokens *Tokens) (*RemoteIdentity, error) {
	if p.discovered != nil {
		src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: tokens.AccessToken, TokenType: tokens.TokenType})
		info, err := p.discovered.UserInfo(p.clientContext(ctx), src)
		if err != nil {
			return nil, p.fail("userinfo request", err)
		}
		var claims identityClaims
		if err := info.Claims(&claims); err != nil {
			return nil, p.fail("userinfo decode", err)
		}
		return claims.identity(), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return nil, p.fail("userinfo request", err)
	}
	req.Header.Set("Authorization", "Bearer "+tokens.AccessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, p.fail("userinfo request", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUserInfoBytes))
	if err != nil {
		return nil, p.fail("userinfo read", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, p.fail(fmt.Sprintf("userinfo status %d", resp.StatusCode), nil)
	}
	var claims identityClaims
	if err := json.Unmarshal(body, &claims); err != nil {
		return nil, p.fail("userinfo decode", err)
	}
	return claims.identity(), nil
}

func (p *GenericProvider) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.client)
}

func (p *GenericProvider) fail(step string, err error) error {
	if err == nil {
		return fmt.Errorf("%w: %s: %s", ErrExchangeFailed, p.name, step)
	}
	return fmt.Errorf("%w: %s: %s: %w", ErrExchangeFailed, p.name, step, err)
}

// truthy accepts both boolean and string encodings; Apple sends "true".
func truthy(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return b == "true"
	default:
		return false
	}
}
