package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/lookouthub/lookout-server/internal/auth"
	"github.com/lookouthub/lookout-server/internal/logging"
)

// claimsContextKey is where a verified admin's claims live for the rest of
// the request's middleware chain and handlers.
const claimsContextKey = "admin_claims"

// NoStore applies Cache-Control: no-store to every response of the route
// group it is attached to; NewRouter attaches it to the /api group.
func NoStore() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", "no-store")
		c.Next()
	}
}

// bearerOrQueryToken extracts a token from the Authorization header or,
// failing that, the ?token= query parameter — multipart image streams and
// <img> tags cannot carry custom headers, so the stream endpoints rely on
// the query form while REST calls use the header.
func bearerOrQueryToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		if trimmed := strings.TrimPrefix(h, "Bearer "); trimmed != h {
			return trimmed
		}
	}
	return c.Query("token")
}

// RequireAdmin verifies the request's bearer token (header or query) and
// attaches its claims to the context; a missing or invalid token aborts
// with 401, matching the AuthError → 401-on-REST rule.
func RequireAdmin(authenticator *auth.Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerOrQueryToken(c)
		if token == "" {
			respondError(c, http.StatusUnauthorized, "missing token")
			return
		}

		claims, err := authenticator.Verify(token)
		if err != nil {
			respondError(c, http.StatusUnauthorized, "invalid token")
			return
		}

		c.Set(claimsContextKey, claims)
		c.Next()
	}
}

// respondError logs the failure through the request-scoped logger — WARN
// for 4xx, ERROR for 5xx — with the request id attached, then writes the
// JSON error body. Every Edge error path goes through here so nothing
// fails silently off the request log.
func respondError(c *gin.Context, status int, msg string) {
	logger := logging.FromContext(c, zerolog.Nop())
	event := logger.Warn()
	if status >= 500 {
		event = logger.Error()
	}
	event.Int("status", status).Str("request_id", logging.RequestID(c)).Msg(msg)

	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

func claimsFromContext(c *gin.Context) *auth.Claims {
	v, ok := c.Get(claimsContextKey)
	if !ok {
		return nil
	}
	claims, ok := v.(*auth.Claims)
	if !ok {
		return nil
	}
	return claims
}
