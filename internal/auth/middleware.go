package auth

import (
	"net/http"
	"strings"

	"github.com/KevinKickass/OpenTeleopCore/internal/types"
	"github.com/gin-gonic/gin"
)

const claimsKey = "operator_claims"

// Middleware validates bearer tokens and enforces authentication
func Middleware(j *JWTHandler) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, types.NewErrorResponse(
				types.CodeUnauthorized, "missing authorization header", nil))
			return
		}

		// Extract token from "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, types.NewErrorResponse(
				types.CodeUnauthorized, "invalid authorization header format", nil))
			return
		}

		claims, err := j.ValidateToken(parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, types.NewErrorResponse(
				types.CodeUnauthorized, "invalid or expired token", nil))
			return
		}

		c.Set(claimsKey, claims)
		c.Set("operator", claims.Operator)
		c.Next()
	}
}

// RequirePermission checks if the caller's role grants the permission
func RequirePermission(required Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := Claims(c)
		if claims == nil {
			c.AbortWithStatusJSON(http.StatusForbidden, types.NewErrorResponse(
				types.CodeForbidden, "no permissions found", nil))
			return
		}

		if !claims.Role.Has(required) {
			c.AbortWithStatusJSON(http.StatusForbidden, types.NewErrorResponse(
				types.CodeForbidden, "insufficient permissions",
				map[string]interface{}{"required": string(required)}))
			return
		}

		c.Next()
	}
}

// Claims returns the operator claims stored by Middleware, or nil.
func Claims(c *gin.Context) *OperatorClaims {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil
	}
	claims, _ := v.(*OperatorClaims)
	return claims
}
