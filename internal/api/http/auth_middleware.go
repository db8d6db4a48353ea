package httpapi

import (
	"net/http"

	"github.com/potluck-hub/potluck-hub/internal/domain/principal"
)

// Authenticate resolves the session on the request and stores the principal in
// the context. Anonymous requests pass through unchanged.
func (s *Server) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := s.authSvc.Resolve(r.Context(), r)
		if err != nil {
			s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("resolve session")
			respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
			return
		}
		next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), p)))
	})
}

// RequireAuth rejects anonymous requests. It expects Authenticate to have run.
func (s *Server) RequireAuth(next http.Handler) http.Handler {
	return s.RequireCapability(principal.CapabilityUser)(next)
}

func (s *Server) RequireCapability(c principal.Capability) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := PrincipalFromContext(r.Context())
			if p == nil {
				respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth")
				return
			}
			if !s.authSvc.HasPermission(p, c) {
				respondError(w, http.StatusForbidden, "FORBIDDEN", "insufficient permission")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
