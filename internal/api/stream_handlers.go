package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lookouthub/lookout-server/internal/tenant"
)

// Frame implements GET /api/devices/{id}/frame.
func (s *Server) Frame(c *gin.Context) {
	claims := claimsFromContext(c)
	deviceID := c.Param("id")

	device, ok := s.Hub.Store.GetDevice(deviceID)
	if !ok || !tenant.CanAccessDevice(claims.AllowedTenants, device.Tenant) {
		respondError(c, http.StatusForbidden, "forbidden")
		return
	}

	data, mime, ok := s.Hub.Frames.Latest(deviceID)
	if !ok {
		respondError(c, http.StatusNotFound, "no frame available")
		return
	}

	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, mime, data)
}

// MJPEG implements GET /api/devices/{id}/mjpeg: a ViewerAttachment whose
// lifetime is bound to this HTTP response. Closing the connection cancels
// the per-viewer ticker and decrements the Viewer Gate.
func (s *Server) MJPEG(c *gin.Context) {
	claims := claimsFromContext(c)
	deviceID := c.Param("id")

	device, ok := s.Hub.Store.GetDevice(deviceID)
	if !ok || !tenant.CanAccessDevice(claims.AllowedTenants, device.Tenant) {
		respondError(c, http.StatusForbidden, "forbidden")
		return
	}

	s.Hub.Viewers.Attach(deviceID)
	defer s.Hub.Viewers.Detach(deviceID)

	const boundary = "frame"
	c.Header("Content-Type", fmt.Sprintf("multipart/x-mixed-replace; boundary=%s", boundary))
	c.Header("Cache-Control", "no-store")
	c.Writer.WriteHeader(http.StatusOK)

	ticker := time.NewTicker(s.viewerTick)
	defer ticker.Stop()

	flusher, _ := c.Writer.(http.Flusher)

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-ticker.C:
			data, mime, ok := s.Hub.Frames.Latest(deviceID)
			if !ok {
				continue
			}
			if !writeMultipartFrame(c.Writer, boundary, mime, data) {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}

func writeMultipartFrame(w http.ResponseWriter, boundary, mime string, data []byte) bool {
	header := fmt.Sprintf("--%s\r\nContent-Type: %s\r\nContent-Length: %d\r\n\r\n", boundary, mime, len(data))
	if _, err := w.Write([]byte(header)); err != nil {
		return false
	}
	if _, err := w.Write(data); err != nil {
		return false
	}
	_, err := w.Write([]byte("\r\n"))
	return err == nil
}
