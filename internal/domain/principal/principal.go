package principal

import (
	"strings"

	"github.com/potluck-hub/potluck-hub/internal/domain/session"
	"github.com/potluck-hub/potluck-hub/internal/domain/user"
)

// Capability names something a principal may be allowed to do.
type Capability string

const (
	CapabilityUser  Capability = "user"
	CapabilityHost  Capability = "host"
	CapabilityAdmin Capability = "admin"
)

// Principal is the resolved (session, identity) pair for one request.
// It is rebuilt on every request and never persisted.
type Principal struct {
	User    *user.User       `json:"user"`
	Session *session.Session `json:"session"`
}

// Policy decides capabilities from already-loaded data only.
type Policy struct {
	// LegacyAdminEmailMatch also grants admin to any email containing "admin".
	// Only for data created before the role column existed.
	LegacyAdminEmailMatch bool
}

// DefaultPolicy trusts the explicit role field only.
var DefaultPolicy = Policy{}

func (p Policy) HasPermission(pr *Principal, c Capability) bool {
	if pr == nil || pr.User == nil {
		return false
	}
	switch c {
	case CapabilityUser:
		return true
	case CapabilityHost:
		return pr.User.IsApprovedHost() || p.isAdmin(pr.User)
	case CapabilityAdmin:
		return p.isAdmin(pr.User)
	default:
		return false
	}
}

func (p Policy) isAdmin(u *user.User) bool {
	if u.IsAdmin() {
		return true
	}
	return p.LegacyAdminEmailMatch && strings.Contains(strings.ToLower(u.Email), "admin")
}

// HasPermission evaluates c against DefaultPolicy.
func HasPermission(pr *Principal, c Capability) bool {
	return DefaultPolicy.HasPermission(pr, c)
}
