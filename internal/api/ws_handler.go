package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lookouthub/lookout-server/internal/hub"
)

// WebSocket implements the single connection-upgrade endpoint at "/",
// dispatching on the role query parameter the way the distilled wire
// contract specifies.
func (s *Server) WebSocket(c *gin.Context) {
	switch c.Query("role") {
	case "agent":
		s.Hub.ServeAgent(c.Writer, c.Request, c.Query("deviceId"), c.Query("tenant"), c.Query("v"))

	case "admin":
		token := c.Query("token")
		claims, err := s.Authenticator.Verify(token)
		if err != nil {
			respondError(c, http.StatusUnauthorized, "invalid token")
			return
		}
		s.Hub.ServeAdmin(c.Writer, c.Request, hub.Identity{
			Username:       claims.Username,
			AllowedTenants: claims.AllowedTenants,
		})

	default:
		respondError(c, http.StatusBadRequest, "unknown role")
	}
}
