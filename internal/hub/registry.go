package hub

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/lookouthub/lookout-server/internal/models"
	"github.com/lookouthub/lookout-server/internal/tenant"
)

// Registry is the Session Registry: it tracks every live AgentSession keyed
// by device id and every live AdminSession keyed by a generated id, split
// into two maps because agents and admins have different keys and
// different supplant rules.
type Registry struct {
	mu     sync.Mutex
	agents map[string]*AgentSession
	admins map[string]*AdminSession
}

func NewRegistry() *Registry {
	return &Registry{
		agents: make(map[string]*AgentSession),
		admins: make(map[string]*AdminSession),
	}
}

// AdmitAgent installs a new AgentSession for deviceID, force-closing and
// removing any prior session for the same device first (the SUPPLANTED
// transition: old session closed and removed *before* the new one is
// inserted).
func (r *Registry) AdmitAgent(conn *websocket.Conn, deviceID, tenantCode, agentVersion string) *AgentSession {
	r.mu.Lock()
	if old, ok := r.agents[deviceID]; ok {
		delete(r.agents, deviceID)
		r.mu.Unlock()
		old.Close()
		r.mu.Lock()
	}

	sess := newAgentSession(conn, deviceID, tenantCode, agentVersion)
	r.agents[deviceID] = sess
	r.mu.Unlock()

	go sess.writePump()
	return sess
}

// RemoveAgent removes a device's session from the registry, but only if the
// map still holds this exact session (a later supplant may have already
// replaced it, in which case removal here must be a no-op). It reports
// whether sess was actually removed, so a caller can tell a genuine
// disconnect from a stale cleanup racing a supplant.
func (r *Registry) RemoveAgent(sess *AgentSession) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.agents[sess.DeviceID]; ok && cur == sess {
		delete(r.agents, sess.DeviceID)
		return true
	}
	return false
}

// AgentFor returns the active session for a device, if any.
func (r *Registry) AgentFor(deviceID string) (*AgentSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.agents[deviceID]
	return s, ok
}

// AdmitAdmin installs a new AdminSession under a fresh id.
func (r *Registry) AdmitAdmin(id string, conn *websocket.Conn, username string, allowedTenants []string) *AdminSession {
	sess := newAdminSession(id, conn, username, allowedTenants)

	r.mu.Lock()
	r.admins[id] = sess
	r.mu.Unlock()

	go sess.writePump()
	return sess
}

func (r *Registry) RemoveAdmin(sess *AdminSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.admins, sess.ID)
}

// BroadcastToAdmins sends msg to every admin session whose allowedTenants
// cover deviceTenant, matching Testable Properties §8's tenant-filtered
// broadcast invariant.
func (r *Registry) BroadcastToAdmins(deviceTenant models.Tenant, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("marshal broadcast message")
		return
	}

	r.mu.Lock()
	targets := make([]*AdminSession, 0, len(r.admins))
	for _, admin := range r.admins {
		if tenant.CanAccessTenant(admin.AllowedTenants, deviceTenant) {
			targets = append(targets, admin)
		}
	}
	r.mu.Unlock()

	for _, t := range targets {
		t.Send(data)
	}
}

// SendToAdmin sends msg to one admin session, if still present.
func (r *Registry) SendToAdmin(id string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("marshal admin message")
		return
	}

	r.mu.Lock()
	sess, ok := r.admins[id]
	r.mu.Unlock()
	if !ok {
		return
	}
	sess.Send(data)
}

// SendToAgent sends msg to a device's active agent session, if any. It
// reports whether an active session received the send.
func (r *Registry) SendToAgent(deviceID string, v interface{}) bool {
	sess, ok := r.AgentFor(deviceID)
	if !ok {
		return false
	}

	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("marshal agent message")
		return false
	}
	sess.Send(data)
	return true
}

