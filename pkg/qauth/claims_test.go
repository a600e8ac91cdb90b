package qauth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/quatton/qci/pkg/qerr"
)

func newTestSigner(t *testing.T, secret string) *Signer {
	t.Helper()
	s, err := NewSigner(secret)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	return s
}

func TestIssueVerify(t *testing.T) {
	s := newTestSigner(t, "test-secret-test-secret-test-secret")

	token, err := s.Issue("github-webhook", []string{"push", "pull_request"}, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	claims, err := s.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "github-webhook" {
		t.Errorf("expected subject github-webhook, got %s", claims.Subject)
	}
	if !claims.Allows("push") || claims.Allows("exec") {
		t.Errorf("unexpected allow-list behaviour: %v", claims.Events)
	}
	if !claims.CanWrite() {
		t.Error("expected token with events to be writable")
	}
}

func TestAnyEvent(t *testing.T) {
	c := &TriggerClaims{Events: []string{AnyEvent}}
	if !c.Allows("exec") || !c.Allows("anything") {
		t.Error("wildcard should allow every event type")
	}
	readOnly := &TriggerClaims{}
	if readOnly.Allows("exec") || readOnly.CanWrite() {
		t.Error("empty events should be read-only")
	}
}

func TestVerifyRejects(t *testing.T) {
	s := newTestSigner(t, "secret-a")
	other := newTestSigner(t, "secret-b")

	token, _ := s.Issue("ci", []string{"exec"}, time.Hour)
	if _, err := other.Verify(token); !qerr.IsCode(err, qerr.CodeUnauthorized) || !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected unauthorized for wrong secret, got %v", err)
	}

	past := time.Now().Add(-2 * time.Hour)
	s.now = func() time.Time { return past }
	expired, _ := s.Issue("ci", []string{"exec"}, time.Hour)
	s.now = time.Now
	if _, err := s.Verify(expired); !qerr.IsCode(err, qerr.CodeUnauthorized) {
		t.Errorf("expected unauthorized for expired token, got %v", err)
	}

	wrongAud := jwt.NewWithClaims(jwt.SigningMethodHS256, TriggerClaims{
		RegisteredClaims: jwt.RegisteredClaims{Issuer: Issuer, Audience: jwt.ClaimStrings{"someone-else"}},
	})
	str, _ := wrongAud.SignedString([]byte("secret-a"))
	if _, err := s.Verify(str); err == nil {
		t.Error("expected audience mismatch to fail")
	}

	if _, err := s.Verify("not-a-jwt"); err == nil {
		t.Error("expected garbage token to fail")
	}
}

func TestNoExpiry(t *testing.T) {
	s := newTestSigner(t, "secret")
	token, _ := s.Issue("ops", nil, 0)

	claims, err := s.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.ExpiresAt != nil {
		t.Errorf("expected no exp, got %v", claims.ExpiresAt)
	}
	if expired, _ := IsTokenExpired(token, time.Minute); expired {
		t.Error("token without exp should never expire")
	}
}

func TestIsTokenExpired(t *testing.T) {
	s := newTestSigner(t, "secret")
	token, _ := s.Issue("ops", []string{"exec"}, 30*time.Second)

	if expired, _ := IsTokenExpired(token, 0); expired {
		t.Error("fresh token reported expired")
	}
	if expired, _ := IsTokenExpired(token, time.Minute); !expired {
		t.Error("token inside skew window should count as expired")
	}
	if expired, _ := IsTokenExpired("", 0); !expired {
		t.Error("empty token should count as expired")
	}
}

func TestNewSignerRequiresSecret(t *testing.T) {
	if _, err := NewSigner(""); err == nil {
		t.Error("expected error for empty secret")
	}
}
