package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	appAuth "github.com/potluck-hub/potluck-hub/internal/application/auth"
	"github.com/potluck-hub/potluck-hub/internal/application/csrf"
	"github.com/potluck-hub/potluck-hub/internal/application/oauth"
	"github.com/potluck-hub/potluck-hub/internal/domain/principal"
	"github.com/potluck-hub/potluck-hub/internal/domain/session"
)

const loginFailedMessage = "login failed"

var capabilities = []principal.Capability{
	principal.CapabilityUser,
	principal.CapabilityHost,
	principal.CapabilityAdmin,
}

type meResponse struct {
	*principal.Principal
	Capabilities []principal.Capability `json:"capabilities"`
}

type sessionView struct {
	*session.Session
	Current bool `json:"current"`
}

// appleUser is the JSON Apple posts in the "user" field on the first authorization only.
type appleUser struct {
	Name struct {
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
	} `json:"name"`
}

func (s *Server) beginLogin(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	start, err := s.authSvc.BeginLogin(provider)
	if err != nil {
		if errors.Is(err, oauth.ErrUnknownProvider) {
			respondError(w, http.StatusNotFound, "NOT_FOUND", "unknown provider")
			return
		}
		s.logger.Error().Err(err).Str("provider", provider).Msg("begin login")
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
		return
	}
	for _, c := range start.Cookies {
		http.SetCookie(w, c)
	}
	http.Redirect(w, r, start.RedirectURL, http.StatusFound)
}

func (s *Server) callback(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid callback")
		return
	}
	// State and verifier are single use whatever the outcome.
	for _, c := range s.state.Clear() {
		http.SetCookie(w, c)
	}

	res, err := s.authSvc.CompleteLogin(r.Context(), appAuth.CallbackInput{
		Provider:      chi.URLParam(r, "provider"),
		Code:          r.FormValue("code"),
		State:         r.FormValue("state"),
		ProviderError: r.FormValue("error"),
		StateCookie:   s.state.StateFromRequest(r),
		CodeVerifier:  s.state.VerifierFromRequest(r),
		NameHint:      nameHint(r.FormValue("user")),
		UserAgent:     userAgent(r),
		IPAddress:     clientIP(r),
	})
	if err != nil {
		switch {
		case errors.Is(err, oauth.ErrUnknownProvider):
			respondError(w, http.StatusNotFound, "NOT_FOUND", "unknown provider")
		case errors.Is(err, csrf.ErrValidationFailed),
			errors.Is(err, oauth.ErrExchangeFailed),
			errors.Is(err, appAuth.ErrProviderDenied):
			respondError(w, http.StatusUnauthorized, "LOGIN_FAILED", loginFailedMessage)
		default:
			respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
		}
		return
	}

	s.setSessionCookie(w, res.Token, res.Session.ExpiresAt)
	http.Redirect(w, r, s.postLoginRedirect, http.StatusFound)
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	token := appAuth.ExtractToken(r, s.authSvc.SessionCookieName())
	s.clearSessionCookie(w)
	if err := s.authSvc.Logout(r.Context(), token); err != nil {
		s.logger.Error().Err(err).Msg("logout")
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"status": "OK"})
}

func (s *Server) logoutAll(w http.ResponseWriter, r *http.Request) {
	p := PrincipalFromContext(r.Context())
	n, err := s.authSvc.LogoutAll(r.Context(), p.User.UserID)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", p.User.UserID.String()).Msg("logout all")
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
		return
	}
	s.clearSessionCookie(w)
	respondJSON(w, http.StatusOK, map[string]interface{}{"status": "OK", "revoked": n})
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	p := PrincipalFromContext(r.Context())
	granted := []principal.Capability{}
	for _, c := range capabilities {
		if s.authSvc.HasPermission(p, c) {
			granted = append(granted, c)
		}
	}
	respondJSON(w, http.StatusOK, meResponse{Principal: p, Capabilities: granted})
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	p := PrincipalFromContext(r.Context())
	list, err := s.authSvc.Sessions(r.Context(), p.User.UserID)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", p.User.UserID.String()).Msg("list sessions")
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
		return
	}
	out := make([]sessionView, 0, len(list))
	for _, sess := range list {
		out = append(out, sessionView{Session: sess, Current: sess.SessionID == p.Session.SessionID})
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"sessions": out})
}

func (s *Server) setSessionCookie(w http.ResponseWriter, token string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.authSvc.SessionCookieName(),
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.authSvc.SessionCookieName(),
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

func nameHint(raw string) string {
	if raw == "" {
		return ""
	}
	var u appleUser
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return ""
	}
	return strings.TrimSpace(u.Name.FirstName + " " + u.Name.LastName)
}
