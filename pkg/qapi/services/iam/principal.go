package iam

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
	"github.com/quatton/qci/pkg/qauth"
)

type ctxKey string

const principalKey ctxKey = "qci.principal"

func (s *IAMService) Principal(ctx context.Context) (*qauth.TriggerClaims, bool) {
	if v := ctx.Value(principalKey); v != nil {
		if p, ok := v.(*qauth.TriggerClaims); ok {
			return p, true
		}
	}
	return nil, false
}

// RequireRead fails unless the caller presented any valid token.
func (s *IAMService) RequireRead(ctx context.Context) error {
	if _, ok := s.Principal(ctx); !ok {
		return huma.Error401Unauthorized("missing or invalid bearer token")
	}
	return nil
}

// RequireEvent fails unless the caller may dispatch eventType.
func (s *IAMService) RequireEvent(ctx context.Context, eventType string) error {
	p, ok := s.Principal(ctx)
	if !ok {
		return huma.Error401Unauthorized("missing or invalid bearer token")
	}
	if !p.Allows(eventType) {
		return huma.Error403Forbidden("token may not dispatch " + eventType + " events")
	}
	return nil
}

// RequireWrite fails for read-only tokens.
func (s *IAMService) RequireWrite(ctx context.Context) error {
	p, ok := s.Principal(ctx)
	if !ok {
		return huma.Error401Unauthorized("missing or invalid bearer token")
	}
	if !p.CanWrite() {
		return huma.Error403Forbidden("token is read-only")
	}
	return nil
}
