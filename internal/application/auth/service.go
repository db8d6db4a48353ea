package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/potluck-hub/potluck-hub/internal/application/csrf"
	"github.com/potluck-hub/potluck-hub/internal/application/oauth"
	appSession "github.com/potluck-hub/potluck-hub/internal/application/session"
	appUser "github.com/potluck-hub/potluck-hub/internal/application/user"
	"github.com/potluck-hub/potluck-hub/internal/domain/principal"
	domainSession "github.com/potluck-hub/potluck-hub/internal/domain/session"
	domainUser "github.com/potluck-hub/potluck-hub/internal/domain/user"
	"github.com/potluck-hub/potluck-hub/internal/infrastructure/metrics"
)

// DefaultSessionCookieName is the cookie carrying the session token.
const DefaultSessionCookieName = "potluck_session"

// ErrProviderDenied is returned when the provider reports an error on the callback,
// for example when the user declines consent.
var ErrProviderDenied = errors.New("provider denied login")

// Service handles the OAuth login flow and request authentication.
type Service struct {
	providers  *oauth.Registry
	state      *csrf.Manager
	users      *appUser.Service
	sessions   *appSession.Service
	policy     principal.Policy
	metrics    *metrics.Metrics
	cookieName string
	logger     zerolog.Logger
}

// Config defines auth service settings.
type Config struct {
	SessionCookieName string
	Policy            principal.Policy
	Metrics           *metrics.Metrics
}

// NewService creates an auth service.
func NewService(
	providers *oauth.Registry,
	state *csrf.Manager,
	users *appUser.Service,
	sessions *appSession.Service,
	cfg Config,
	logger zerolog.Logger,
) *Service {
	if cfg.SessionCookieName == "" {
		cfg.SessionCookieName = DefaultSessionCookieName
	}
	return &Service{
		providers:  providers,
		state:      state,
		users:      users,
		sessions:   sessions,
		policy:     cfg.Policy,
		metrics:    cfg.Metrics,
		cookieName: cfg.SessionCookieName,
		logger:     logger.With().Str("service", "auth").Logger(),
	}
}

// LoginStart is the redirect that begins a login and the cookies binding it to the browser.
type LoginStart struct {
	RedirectURL string
	Cookies     []*http.Cookie
}

// BeginLogin issues fresh state (and a PKCE verifier when the provider uses one)
// and builds the provider redirect.
func (s *Service) BeginLogin(providerName string) (*LoginStart, error) {
	p, err := s.providers.Get(providerName)
	if err != nil {
		return nil, err
	}
	state, stateCookie, err := s.state.Issue()
	if err != nil {
		return nil, err
	}
	start := &LoginStart{Cookies: []*http.Cookie{stateCookie}}

	var challenge string
	if p.UsesPKCE() {
		_, c, verifierCookie, err := s.state.IssueVerifier()
		if err != nil {
			return nil, err
		}
		challenge = c
		start.Cookies = append(start.Cookies, verifierCookie)
	}
	start.RedirectURL = p.AuthorizationURL(state, challenge)
	return start, nil
}

// CallbackInput is what the provider callback carried, plus the browser's state cookies.
type CallbackInput struct {
	Provider      string
	Code          string
	State         string
	ProviderError string
	StateCookie   string
	CodeVerifier  string
	// NameHint is used when the provider identity carries no name.
	NameHint  string
	UserAgent *string
	IPAddress *string
}

// LoginResult contains the outcome of a completed login.
type LoginResult struct {
	User        *domainUser.User
	Session     *domainSession.Session
	Token       string
	CreatedUser bool
}

// CompleteLogin validates the callback, exchanges the code, resolves the local
// user and creates exactly one session. No session exists unless every step succeeded.
func (s *Service) CompleteLogin(ctx context.Context, in CallbackInput) (*LoginResult, error) {
	p, err := s.providers.Get(in.Provider)
	if err != nil {
		return nil, err
	}
	log := s.logger.With().Str("provider", in.Provider).Logger()

	if !s.state.Validate(in.StateCookie, in.State) {
		s.metrics.Login(in.Provider, metrics.LoginStateMismatch)
		log.Warn().Msg("login rejected: state mismatch")
		return nil, csrf.ErrValidationFailed
	}
	if in.ProviderError != "" {
		s.metrics.Login(in.Provider, metrics.LoginDenied)
		log.Info().Str("error", in.ProviderError).Msg("login rejected by provider")
		return nil, fmt.Errorf("%w: %s", ErrProviderDenied, in.ProviderError)
	}

	result, err := s.LoginWithCode(ctx, p, in)
	if err != nil {
		if errors.Is(err, oauth.ErrExchangeFailed) {
			s.metrics.Login(in.Provider, metrics.LoginExchangeError)
			log.Warn().Err(err).Msg("login rejected: exchange failed")
		} else {
			s.metrics.Login(in.Provider, metrics.LoginStorageError)
			log.Error().Err(err).Msg("login failed")
		}
		return nil, err
	}
	s.metrics.Login(in.Provider, metrics.LoginSucceeded)
	return result, nil
}

// LoginWithCode runs exchange, identity resolution and session creation for an
// already validated callback.
func (s *Service) LoginWithCode(ctx context.Context, p oauth.Provider, in CallbackInput) (*LoginResult, error) {
	tokens, err := p.ExchangeCode(ctx, in.Code, in.CodeVerifier)
	if err != nil {
		return nil, err
	}
	remote, err := p.FetchIdentity(ctx, tokens)
	if err != nil {
		return nil, err
	}

	name := remote.Name
	if name == "" {
		name = in.NameHint
	}
	u, created, err := s.users.GetOrCreateByEmail(ctx, remote.Email, name)
	if err != nil {
		return nil, fmt.Errorf("resolve user: %w", err)
	}
	if created {
		s.metrics.UserCreated()
	}

	token, sess, err := s.sessions.Create(ctx, appSession.CreateInput{
		UserID:    u.UserID,
		Provider:  p.Name(),
		UserAgent: in.UserAgent,
		IPAddress: in.IPAddress,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("user_id", u.UserID.String()).
		Str("provider", p.Name()).
		Bool("created_user", created).
		Msg("user login")
	return &LoginResult{User: u, Session: sess, Token: token, CreatedUser: created}, nil
}

// Resolve authenticates the request. A request without a live session and
// user yields (nil, nil); only storage faults are errors. A Bearer token is
// tried first; the session cookie is used when the Bearer token resolves to nothing.
func (s *Service) Resolve(ctx context.Context, r *http.Request) (*principal.Principal, error) {
	bearer, cookie := bearerToken(r), cookieToken(r, s.cookieName)
	if bearer == "" {
		return s.ResolveToken(ctx, cookie)
	}
	p, err := s.resolve(ctx, bearer)
	if p == nil && err == nil && cookie != "" && cookie != bearer {
		p, err = s.resolve(ctx, cookie)
	}
	s.recordResolve(p, err)
	return p, err
}

func (s *Service) ResolveToken(ctx context.Context, token string) (*principal.Principal, error) {
	p, err := s.resolve(ctx, token)
	s.recordResolve(p, err)
	return p, err
}

func (s *Service) resolve(ctx context.Context, token string) (*principal.Principal, error) {
	if token == "" {
		return nil, nil
	}
	sess, err := s.sessions.Get(ctx, token)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, nil
	}
	if at := s.sessions.Touch(ctx, token); !at.IsZero() {
		sess.LastAccessedAt = at
	}

	u, err := s.users.GetUser(ctx, sess.UserID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if u == nil {
		return nil, nil
	}
	return &principal.Principal{User: u, Session: sess}, nil
}

func (s *Service) recordResolve(p *principal.Principal, err error) {
	switch {
	case err != nil:
		s.metrics.Resolve(metrics.ResolveError)
	case p == nil:
		s.metrics.Resolve(metrics.ResolveAnonymous)
	default:
		s.metrics.Resolve(metrics.ResolveAuthenticated)
	}
}

// HasPermission evaluates c with the configured policy.
func (s *Service) HasPermission(p *principal.Principal, c principal.Capability) bool {
	return s.policy.HasPermission(p, c)
}

// Logout deletes the session for token.
func (s *Service) Logout(ctx context.Context, token string) error {
	return s.sessions.Delete(ctx, token)
}

// LogoutAll deletes every session of the user.
func (s *Service) LogoutAll(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.sessions.DeleteAllForUser(ctx, userID)
}

func (s *Service) Sessions(ctx context.Context, userID uuid.UUID) ([]*domainSession.Session, error) {
	return s.sessions.ListForUser(ctx, userID)
}

func (s *Service) SessionCookieName() string {
	return s.cookieName
}

// ExtractToken reads the session token from a Bearer header or the named cookie.
// An empty Bearer value falls through to the cookie.
func ExtractToken(r *http.Request, cookieName string) string {
	if token := bearerToken(r); token != "" {
		return token
	}
	return cookieToken(r, cookieName)
}

func bearerToken(r *http.Request) string {
	authz := r.Header.Get("Authorization")
	if !strings.HasPrefix(authz, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(authz, "Bearer "))
}

func cookieToken(r *http.Request, cookieName string) string {
	if cookieName == "" {
		return ""
	}
	if c, err := r.Cookie(cookieName); err == nil {
		return c.Value
	}
	return ""
}
