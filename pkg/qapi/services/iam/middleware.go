package iam

import (
	"strings"

	"github.com/danielgtaylor/huma/v2"
)

// Middleware attaches verified claims to the request context. Requests
// without a valid token pass through anonymously; handlers decide what
// anonymous callers may do.
func (s *IAMService) Middleware() func(ctx huma.Context, next func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		authHeader := ctx.Header("Authorization")
		if authHeader != "" {
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
				if claims, err := s.signer.Verify(parts[1]); err == nil {
					s.logger.Debug("authenticated", "sub", claims.Subject)
					ctx = huma.WithValue(ctx, principalKey, claims)
				} else {
					s.logger.Warn("invalid token", "error", err)
				}
			}
		}

		next(ctx)
	}
}
