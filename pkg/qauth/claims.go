// Package qauth issues and verifies the bearer tokens that guard event
// ingestion and run management on the qci server.
package qauth

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/quatton/qci/pkg/qerr"
)

const (
	Issuer   = "qci"
	Audience = "qci"

	// AnyEvent in the events claim allows every event type.
	AnyEvent = "*"
)

var ErrInvalidToken = errors.New("invalid token")

// TriggerClaims is the JWT payload. An empty Events list means the token may
// only read runs and pipelines; it cannot dispatch or cancel anything.
type TriggerClaims struct {
	Events []string `json:"events,omitempty"`
	jwt.RegisteredClaims
}

// Allows reports whether the token may dispatch events of the given type.
func (c *TriggerClaims) Allows(eventType string) bool {
	return slices.Contains(c.Events, AnyEvent) || slices.Contains(c.Events, eventType)
}

// CanWrite reports whether the token may do anything beyond reading.
func (c *TriggerClaims) CanWrite() bool {
	return len(c.Events) > 0
}

// Signer issues and verifies HS256 tokens with a shared secret.
type Signer struct {
	secret []byte
	now    func() time.Time
}

func NewSigner(secret string) (*Signer, error) {
	if secret == "" {
		return nil, fmt.Errorf("auth secret must not be empty")
	}
	return &Signer{secret: []byte(secret), now: time.Now}, nil
}

// Issue signs a token for subject. A zero ttl issues a token that never
// expires.
func (s *Signer) Issue(subject string, events []string, ttl time.Duration) (string, error) {
	now := s.now()
	claims := TriggerClaims{
		Events: events,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  subject,
			Issuer:   Issuer,
			Audience: jwt.ClaimStrings{Audience},
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}

// Verify checks signature, issuer, audience and expiry. Failures carry
// qerr.CodeUnauthorized.
func (s *Signer) Verify(tokenStr string) (*TriggerClaims, error) {
	claims := &TriggerClaims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithAudience(Audience),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, qerr.New(qerr.CodeUnauthorized, fmt.Errorf("%w: %v", ErrInvalidToken, err))
	}
	return claims, nil
}

// Inspect decodes a token without checking its signature. Only use the
// result for display.
func Inspect(tokenStr string) (*TriggerClaims, error) {
	claims := &TriggerClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenStr, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

// IsTokenExpired returns true when the token is expired or within skew of
// expiring. Unparseable tokens count as expired.
func IsTokenExpired(tokenStr string, skew time.Duration) (bool, error) {
	if tokenStr == "" {
		return true, nil
	}
	claims, err := Inspect(tokenStr)
	if err != nil {
		return true, err
	}
	if claims.ExpiresAt == nil {
		return false, nil
	}
	return time.Now().After(claims.ExpiresAt.Add(-skew)), nil
}
