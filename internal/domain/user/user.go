package user

import (
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role represents an explicit user role.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// HostStatus represents whether a user may host events.
type HostStatus string

const (
	HostStatusPending  HostStatus = "pending"
	HostStatusApproved HostStatus = "approved"
	HostStatusRejected HostStatus = "rejected"
)

// ErrDuplicateEmail is returned by repositories when the email is already taken.
var ErrDuplicateEmail = errors.New("email already registered")

// User represents a durable identity keyed by email.
type User struct {
	ID         int64      `json:"-" db:"id"`
	UserID     uuid.UUID  `json:"userId" db:"user_id"`
	Name       string     `json:"name" db:"name"`
	Email      string     `json:"email" db:"email"`
	Role       Role       `json:"role" db:"role"`
	HostStatus HostStatus `json:"hostStatus" db:"host_status"`
	CreatedAt  time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt  time.Time  `json:"updatedAt" db:"updated_at"`
}

func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

func (u *User) IsApprovedHost() bool {
	return u.HostStatus == HostStatusApproved
}

// New builds a user with a fresh id and the given trust status.
func New(name, email string, status HostStatus) *User {
	now := time.Now().UTC()
	return &User{
		UserID:     uuid.New(),
		Name:       strings.TrimSpace(name),
		Email:      NormalizeEmail(email),
		Role:       RoleUser,
		HostStatus: status,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func ValidateEmail(email string) error {
	if email == "" {
		return errors.New("email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return errors.New("email is invalid")
	}
	return nil
}

func ValidateRole(role Role) error {
	switch role {
	case RoleUser, RoleAdmin:
		return nil
	default:
		return errors.New("invalid role")
	}
}

func ValidateHostStatus(status HostStatus) error {
	switch status {
	case HostStatusPending, HostStatusApproved, HostStatusRejected:
		return nil
	default:
		return errors.New("invalid host status")
	}
}
