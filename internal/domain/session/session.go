package session

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultTTL        = 24 * time.Hour
	DefaultMaxPerUser = 5

	tokenBytes = 32
)

// Session represents an authenticated browser or client binding.
// The raw token lives only in the client cookie; storage is keyed by TokenHash.
type Session struct {
	ID             int64     `json:"-" db:"id"`
	SessionID      uuid.UUID `json:"sessionId" db:"session_id"`
	TokenHash      string    `json:"-" db:"token_hash"`
	UserID         uuid.UUID `json:"userId" db:"user_id"`
	Provider       string    `json:"provider" db:"provider"`
	CreatedAt      time.Time `json:"createdAt" db:"created_at"`
	LastAccessedAt time.Time `json:"lastAccessedAt" db:"last_accessed_at"`
	ExpiresAt      time.Time `json:"expiresAt" db:"expires_at"`
	UserAgent      *string   `json:"userAgent,omitempty" db:"user_agent"`
	IPAddress      *string   `json:"ipAddress,omitempty" db:"ip_address"`
}

// IsValid reports whether the session is still usable at now.
func (s *Session) IsValid(now time.Time) bool {
	return now.Before(s.ExpiresAt)
}

func (s *Session) IsExpired(now time.Time) bool {
	return !s.IsValid(now)
}

// New builds a session for userID whose expiry is fixed at now+ttl.
func New(tokenHash string, userID uuid.UUID, provider string, now time.Time, ttl time.Duration) *Session {
	return &Session{
		SessionID:      uuid.New(),
		TokenHash:      tokenHash,
		UserID:         userID,
		Provider:       provider,
		CreatedAt:      now,
		LastAccessedAt: now,
		ExpiresAt:      now.Add(ttl),
	}
}

// GenerateToken returns a 256-bit random token, base64url encoded.
func GenerateToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("session: failed to generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
