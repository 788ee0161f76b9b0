package hub

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lookouthub/lookout-server/internal/models"
	"github.com/lookouthub/lookout-server/internal/store"
	"github.com/lookouthub/lookout-server/internal/wire"
)

// PresenceMonitor sweeps the device table for agents that have gone silent
// on a ticker loop, generalized from a longer database-backed sweep
// to an in-memory one running every few seconds.
type PresenceMonitor struct {
	store    *store.Store
	registry *Registry
	ttl      time.Duration
	interval time.Duration
}

func NewPresenceMonitor(s *store.Store, r *Registry, ttl, interval time.Duration) *PresenceMonitor {
	return &PresenceMonitor{store: s, registry: r, ttl: ttl, interval: interval}
}

// Run blocks sweeping devices until ctx is cancelled.
func (p *PresenceMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweep()
		}
	}
}

func (p *PresenceMonitor) sweep() {
	now := time.Now()

	for _, d := range p.store.GetDevices() {
		if !d.Connected || d.LastSeen == nil {
			continue
		}

		lastSeen := time.UnixMilli(*d.LastSeen)
		if now.Sub(lastSeen) <= p.ttl {
			continue
		}

		p.store.SetConnected(d.ID, false, nil)
		log.Info().Str("deviceId", d.ID).Msg("presence sweep marked device offline")

		p.registry.BroadcastToAdmins(d.Tenant, wire.NewDevicePresence(d.ID, false, d.LastSeen, d.AgentVersion))
	}
}

// TouchAndBroadcastOnline records fresh activity for a device and, if it was
// not already marked connected, broadcasts its presence transition. Called
// by the agent read loop on every ping and every accepted frame.
func TouchAndBroadcastOnline(s *store.Store, r *Registry, d models.Device, agentVersion *string) {
	now := models.NowMillis()

	wasConnected := d.Connected
	s.SetConnected(d.ID, true, &now)

	if !wasConnected {
		r.BroadcastToAdmins(d.Tenant, wire.NewDevicePresence(d.ID, true, &now, agentVersion))
	}
}
