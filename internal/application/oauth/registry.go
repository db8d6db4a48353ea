package oauth

import (
	"errors"
	"fmt"
	"sort"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// ErrUnknownProvider is returned for provider names that are not registered.
var ErrUnknownProvider = errors.New("unknown oauth provider")

// Registry holds the configured providers by name.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry registers the given providers. Later entries replace earlier ones with the same name.
func NewRegistry(list ...Provider) *Registry {
	m := make(map[string]Provider, len(list))
	for _, p := range list {
		m[p.Name()] = p
	}
	return &Registry{providers: m}
}

func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return p, nil
}

// Names returns the registered provider names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GoogleConfig returns the Google OIDC provider definition.
func GoogleConfig(clientID, clientSecret, redirectURL string) ProviderConfig {
	return ProviderConfig{
		Name:         "google",
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Issuer:       "https://accounts.google.com",
		Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
		PKCE:         true,
	}
}

// AppleConfig returns the Sign in with Apple provider definition. Apple
// posts the callback as a form when name or email scopes are requested.
// clientSecret is the signed client-secret JWT.
func AppleConfig(clientID, clientSecret, redirectURL string) ProviderConfig {
	return ProviderConfig{
		Name:         "apple",
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Issuer:       "https://appleid.apple.com",
		Scopes:       []string{"name", "email"},
		AuthStyle:    oauth2.AuthStyleInParams,
		PKCE:         true,
		AuthParams:   map[string]string{"response_mode": "form_post"},
	}
}
