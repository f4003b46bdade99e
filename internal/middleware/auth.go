package middleware

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/nutri-api/internal/authz"
	"github.com/jwalitptl/nutri-api/internal/model"
	"github.com/jwalitptl/nutri-api/pkg/httputil"
)

const ContextClaims = "claims"

// ClaimsResolver verifies an Authorization header value.
type ClaimsResolver interface {
	Resolve(ctx context.Context, header string) (model.Claims, error)
}

type AuthMiddleware struct {
	resolver ClaimsResolver
}

func NewAuthMiddleware(resolver ClaimsResolver) *AuthMiddleware {
	return &AuthMiddleware{resolver: resolver}
}

// Authenticate resolves the caller's claims once per request.
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := m.resolver.Resolve(c.Request.Context(), c.GetHeader("Authorization"))
		if err != nil {
			httputil.RespondWithError(c, err)
			c.Abort()
			return
		}

		c.Set(ContextClaims, claims)
		c.Next()
	}
}

// RequireRoles is the role gate for a route.
func (m *AuthMiddleware) RequireRoles(roles ...model.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, _ := ClaimsFrom(c)
		if err := authz.Authorize(claims, roles...).Err(); err != nil {
			httputil.RespondWithError(c, err)
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequireClinicScope is the clinic scope gate. It must run after RequireRoles.
func (m *AuthMiddleware) RequireClinicScope() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, _ := ClaimsFrom(c)
		if err := authz.EnforceClinicScope(claims).Err(); err != nil {
			httputil.RespondWithError(c, err)
			c.Abort()
			return
		}
		c.Next()
	}
}

// ClaimsFrom returns the claims stored by Authenticate. The zero value is
// returned when the request was not authenticated, which every gate denies.
func ClaimsFrom(c *gin.Context) (model.Claims, bool) {
	v, ok := c.Get(ContextClaims)
	if !ok {
		return model.Claims{}, false
	}
	claims, ok := v.(model.Claims)
	return claims, ok
}
