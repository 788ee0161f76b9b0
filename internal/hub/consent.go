package hub

import (
	"github.com/lookouthub/lookout-server/internal/models"
	"github.com/lookouthub/lookout-server/internal/wire"
)

// ConsentCoordinator forwards remote-access requests from an admin to the
// device's agent and fans the agent's decision back out to every admin
// scoped to that device's tenant. Consent itself is agent-local state; the
// hub only relays the request and response.
type ConsentCoordinator struct {
	registry *Registry
}

func NewConsentCoordinator(r *Registry) *ConsentCoordinator {
	return &ConsentCoordinator{registry: r}
}

// RequestRemoteAccess implements the admin-facing half of the consent flow.
// Call sites are expected to have already checked tenant access before
// calling this — CC itself does not know the requesting admin's scope.
func (cc *ConsentCoordinator) RequestRemoteAccess(deviceID, adminUsername string) wire.ConsentStatus {
	sent := cc.registry.SendToAgent(deviceID, wire.NewConsentRequest(adminUsername))
	if !sent {
		return wire.ConsentStatus{}
	}
	return wire.NewConsentStatus(deviceID, "sent_to_agent")
}

// AgentOfflineResponse is the synthetic consent_response the hub hands back
// immediately when the target agent is not connected.
func AgentOfflineResponse(deviceID string) wire.ConsentResponseOut {
	return wire.NewConsentResponse(deviceID, false, "agent_offline")
}

// BroadcastConsentResponse fans an agent's consent decision out to every
// admin whose allowedTenants cover the device's tenant.
func (cc *ConsentCoordinator) BroadcastConsentResponse(deviceTenant models.Tenant, deviceID string, accepted bool) {
	cc.registry.BroadcastToAdmins(deviceTenant, wire.NewConsentResponse(deviceID, accepted, ""))
}
