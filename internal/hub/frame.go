package hub

import (
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lookouthub/lookout-server/internal/store"
	"github.com/lookouthub/lookout-server/internal/wire"
)

// frameState is the per-device (lastFrame, lastFrameAt) pair FR maintains.
// Reads and writes go through a pointer swap under RWMutex so a viewer
// never observes a torn frame.
type frameState struct {
	data      []byte
	mime      string
	acceptedAt time.Time
}

// FrameRouter holds the latest accepted frame per device and applies the
// minimum-interval throttle before accepting a new one.
type FrameRouter struct {
	mu          sync.RWMutex
	frames      map[string]*frameState
	minInterval time.Duration
}

func NewFrameRouter(minInterval time.Duration) *FrameRouter {
	return &FrameRouter{frames: make(map[string]*frameState), minInterval: minInterval}
}

// AcceptBinary stores a raw JPEG body received as a binary WS message.
// Reports whether the frame was accepted (false means throttled).
func (fr *FrameRouter) AcceptBinary(deviceID string, body []byte) bool {
	return fr.accept(deviceID, body, "image/jpeg")
}

// AcceptJSON decodes the jpegBase64/jpeg wire form (raw base64 or a data:
// URL) and stores the resulting bytes under the same throttle policy. The
// two spellings of the payload key decode to identical bytes.
func (fr *FrameRouter) AcceptJSON(deviceID string, in wire.FrameIn) (bool, error) {
	raw := in.JPEGBase64
	if raw == "" {
		raw = in.JPEG
	}
	if raw == "" {
		return false, fmt.Errorf("frame message has no image payload")
	}

	mime := "image/jpeg"
	b64 := raw
	if idx := strings.Index(raw, ","); strings.HasPrefix(raw, "data:") && idx >= 0 {
		header := raw[len("data:"):idx]
		if semi := strings.Index(header, ";"); semi >= 0 {
			mime = header[:semi]
		}
		b64 = raw[idx+1:]
	}

	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return false, fmt.Errorf("decode base64 frame: %w", err)
	}

	return fr.accept(deviceID, data, mime), nil
}

func (fr *FrameRouter) accept(deviceID string, data []byte, mime string) bool {
	now := time.Now()

	fr.mu.Lock()
	defer fr.mu.Unlock()

	cur, ok := fr.frames[deviceID]
	if ok && now.Sub(cur.acceptedAt) < fr.minInterval {
		return false
	}

	fr.frames[deviceID] = &frameState{data: data, mime: mime, acceptedAt: now}
	return true
}

// Latest returns the current frame for a device, or false if none has ever
// been accepted.
func (fr *FrameRouter) Latest(deviceID string) ([]byte, string, bool) {
	fr.mu.RLock()
	defer fr.mu.RUnlock()

	f, ok := fr.frames[deviceID]
	if !ok {
		return nil, "", false
	}
	return f.data, f.mime, true
}

// MarkDeviceSeen updates lastSeen whenever a frame is accepted, per the
// rule that any lastFrame write also counts as heartbeat activity.
func MarkDeviceSeen(s *store.Store, r *Registry, deviceID string, agentVersion *string) {
	d, ok := s.GetDevice(deviceID)
	if !ok {
		return
	}
	TouchAndBroadcastOnline(s, r, d, agentVersion)
}
