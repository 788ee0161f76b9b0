// Package api is the Edge component: a single gin.Engine hosting REST under
// /api, the multipart frame stream, and the WebSocket upgrade endpoint.
package api

import (
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/lookouthub/lookout-server/internal/auth"
	"github.com/lookouthub/lookout-server/internal/hub"
	"github.com/lookouthub/lookout-server/internal/logging"
	"github.com/lookouthub/lookout-server/internal/models"
	"github.com/lookouthub/lookout-server/internal/tenant"
)

// Server bundles the dependencies every Edge handler needs.
type Server struct {
	Hub           *hub.Hub
	Authenticator *auth.Authenticator
	viewerTick    time.Duration
}

func NewServer(h *hub.Hub, authenticator *auth.Authenticator, viewerTick time.Duration) *Server {
	return &Server{Hub: h, Authenticator: authenticator, viewerTick: viewerTick}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login implements POST /api/login.
func (s *Server) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body")
		return
	}

	token, user, err := s.Authenticator.Login(req.Username, req.Password)
	if err != nil {
		respondError(c, http.StatusUnauthorized, "invalid credentials")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token": token,
		"user": gin.H{
			"id":             user.Username,
			"username":       user.Username,
			"allowedTenants": user.AllowedTenants,
		},
	})
}

// Devices implements GET /api/devices.
func (s *Server) Devices(c *gin.Context) {
	claims := claimsFromContext(c)
	views := tenant.FilterDevices(claims.AllowedTenants, s.Hub.DeviceViews())
	c.JSON(http.StatusOK, views)
}

// Logs implements GET /api/logs.
func (s *Server) Logs(c *gin.Context) {
	c.JSON(http.StatusOK, s.Hub.Store.ListLogs())
}

// DeviceAliases implements GET /api/device-aliases.
func (s *Server) DeviceAliases(c *gin.Context) {
	claims := claimsFromContext(c)

	out := make(map[string]models.Alias)
	for deviceID, alias := range s.Hub.Store.ListAliases() {
		device, ok := s.Hub.Store.GetDevice(deviceID)
		if ok && !tenant.CanAccessDevice(claims.AllowedTenants, device.Tenant) {
			continue
		}
		out[deviceID] = alias
	}
	c.JSON(http.StatusOK, out)
}

// Label is a pointer so a missing "label" key (⇒ 400) can be told apart
// from an explicit empty string (⇒ delete the alias).
type putAliasRequest struct {
	Label *string `json:"label"`
}

// PutDeviceAlias implements PUT /api/device-aliases/{id}.
func (s *Server) PutDeviceAlias(c *gin.Context) {
	claims := claimsFromContext(c)
	deviceID := c.Param("id")

	device, ok := s.Hub.Store.GetDevice(deviceID)
	if ok && !tenant.CanAccessDevice(claims.AllowedTenants, device.Tenant) {
		respondError(c, http.StatusForbidden, "forbidden")
		return
	}

	var req putAliasRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Label == nil {
		respondError(c, http.StatusBadRequest, "label field is required")
		return
	}

	alias, err := s.Hub.Store.PutAlias(deviceID, *req.Label, models.NowMillis())
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to persist alias")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":        true,
		"deviceId":  deviceID,
		"label":     alias.Label,
		"updatedAt": alias.UpdatedAt,
	})
}

// ComplianceEvents implements GET /api/compliance/events.
func (s *Server) ComplianceEvents(c *gin.Context) {
	claims := claimsFromContext(c)
	deviceID := c.Query("deviceId")

	events := s.Hub.Store.ListCompliance(deviceID)

	out := make([]models.ComplianceEvent, 0, len(events))
	for _, evt := range events {
		device, ok := s.Hub.Store.GetDevice(evt.DeviceID)
		if ok && !tenant.CanAccessDevice(claims.AllowedTenants, device.Tenant) {
			continue
		}
		out = append(out, evt)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp > out[j].Timestamp })
	c.JSON(http.StatusOK, out)
}

// Health implements GET /api/health.
func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true, "ts": models.NowMillis()})
}

// NoRouteAPI handles any /api/* path that matched no registered route.
func (s *Server) NoRouteAPI(c *gin.Context) {
	msg := "API route not found"
	logger := logging.FromContext(c, zerolog.Nop())
	logger.Warn().
		Int("status", http.StatusNotFound).
		Str("request_id", logging.RequestID(c)).
		Str("method", c.Request.Method).
		Str("path", c.Request.URL.Path).
		Msg(msg)

	c.AbortWithStatusJSON(http.StatusNotFound, gin.H{
		"error":  msg,
		"method": c.Request.Method,
		"path":   c.Request.URL.Path,
	})
}
