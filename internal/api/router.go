package api

import (
	"net/http"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/lookouthub/lookout-server/internal/logging"
)

// NewRouter assembles the single gin.Engine hosting the SPA, REST API, and
// WS upgrade endpoint: gin.New, request-scoped logging, and CORS wired
// before any route is registered.
func NewRouter(s *Server, logger zerolog.Logger, allowedOrigins []string, mode, staticDir string) *gin.Engine {
	if mode == "production" || mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(logging.RequestContext(logger))

	corsConfig := cors.DefaultConfig()
	if len(allowedOrigins) == 1 && allowedOrigins[0] == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = allowedOrigins
	}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization"}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	router.Use(cors.New(corsConfig))

	api := router.Group("/api")
	api.Use(NoStore())
	{
		api.POST("/login", s.Login)
		api.GET("/health", s.Health)

		authed := api.Group("")
		authed.Use(RequireAdmin(s.Authenticator))
		{
			authed.GET("/devices", s.Devices)
			authed.GET("/logs", s.Logs)
			authed.GET("/device-aliases", s.DeviceAliases)
			authed.PUT("/device-aliases/:id", s.PutDeviceAlias)
			authed.GET("/compliance/events", s.ComplianceEvents)
			authed.GET("/devices/:id/frame", s.Frame)
			authed.GET("/devices/:id/mjpeg", s.MJPEG)
		}
	}
	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api") {
			s.NoRouteAPI(c)
			return
		}
		if staticDir != "" {
			c.File(staticDir + "/index.html")
			return
		}
		c.Status(http.StatusNotFound)
	})

	router.GET("/", s.WebSocket)

	if staticDir != "" {
		router.Static("/assets", staticDir+"/assets")
	}

	return router
}
