package httpapi

import (
	"context"

	"github.com/potluck-hub/potluck-hub/internal/domain/principal"
)

type authContextKey string

const principalKey authContextKey = "principal"

func withPrincipal(ctx context.Context, p *principal.Principal) context.Context {
	if p == nil {
		return ctx
	}
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext returns the authenticated principal, or nil for anonymous requests.
func PrincipalFromContext(ctx context.Context) *principal.Principal {
	val := ctx.Value(principalKey)
	if v, ok := val.(*principal.Principal); ok {
		return v
	}
	return nil
}
