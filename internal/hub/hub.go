package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/lookouthub/lookout-server/internal/models"
	"github.com/lookouthub/lookout-server/internal/store"
	"github.com/lookouthub/lookout-server/internal/tenant"
	"github.com/lookouthub/lookout-server/internal/wire"
)

// upgrader permits any origin — this hub relies on bearer tokens, not
// browser same-origin policy, for authorization.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Identity is the minimal admin claim shape the Hub needs from the edge
// layer to admit an admin session; it deliberately does not import the auth
// package so hub stays independent of how tokens are verified.
type Identity struct {
	Username       string
	AllowedTenants []string
}

// Hub wires together every session-facing component: the Session Registry,
// Presence Monitor, Frame Router, Viewer Gate, and Consent Coordinator,
// covering this server's two connection roles.
type Hub struct {
	Store    *store.Store
	Registry *Registry
	Presence *PresenceMonitor
	Frames   *FrameRouter
	Viewers  *ViewerGate
	Consent  *ConsentCoordinator

	defaultTenant models.Tenant
}

func New(s *store.Store, defaultTenant models.Tenant, presenceTTL, presenceSweep, minFrameInterval time.Duration) *Hub {
	registry := NewRegistry()
	return &Hub{
		Store:         s,
		Registry:      registry,
		Presence:      NewPresenceMonitor(s, registry, presenceTTL, presenceSweep),
		Frames:        NewFrameRouter(minFrameInterval),
		Viewers:       NewViewerGate(registry),
		Consent:       NewConsentCoordinator(registry),
		defaultTenant: defaultTenant,
	}
}

// Run starts background components (currently just the presence sweep).
func (h *Hub) Run(ctx context.Context) {
	go h.Presence.Run(ctx)
}

// ServeAgent upgrades an incoming request into an agent WebSocket session.
// deviceID must be non-empty and tenantParam, if present, must name a valid
// tenant; either failure closes the connection with 1008 before a session
// is ever created.
func (h *Hub) ServeAgent(w http.ResponseWriter, r *http.Request, deviceID, tenantParam, agentVersion string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("agent websocket upgrade failed")
		return
	}

	if deviceID == "" {
		closeProtocolError(conn, "missing deviceId")
		return
	}

	var resolvedTenant models.Tenant
	if tenantParam == "" {
		resolvedTenant = h.defaultTenant
	} else {
		t, ok := models.ParseTenant(tenantParam)
		if !ok {
			closeProtocolError(conn, "invalid tenant")
			return
		}
		resolvedTenant = t
	}

	// A device's tenant is pinned on first bind. A reconnect claiming a
	// different tenant than the one already on record is a protocol error,
	// not a rebind.
	if existing, ok := h.Store.GetDevice(deviceID); ok && existing.Tenant != "" && tenantParam != "" && existing.Tenant != resolvedTenant {
		closeProtocolError(conn, "deviceId already bound to a different tenant")
		return
	}

	device := h.Store.UpsertDevice(deviceID, resolvedTenant)
	sess := h.Registry.AdmitAgent(conn, deviceID, string(device.Tenant), agentVersion)

	var versionPtr *string
	if agentVersion != "" {
		versionPtr = &agentVersion
	}
	TouchAndBroadcastOnline(h.Store, h.Registry, *device, versionPtr)

	go h.agentReadLoop(sess, device.Tenant, versionPtr)
}

func (h *Hub) agentReadLoop(sess *AgentSession, deviceTenant models.Tenant, agentVersion *string) {
	defer func() {
		// Only the registry's current session for this device may mark it
		// offline. If a reconnect already supplanted sess (AdmitAgent
		// removes the old session before the old one's read loop notices
		// its conn is dead), this cleanup must not mark the device offline
		// or broadcast a stale presence update over the live session
		// sitting in SR. The offline broadcast goes out before sess leaves
		// SR; RemoveAgent is a no-op for a session that is no longer current.
		if cur, ok := h.Registry.AgentFor(sess.DeviceID); ok && cur == sess {
			h.Store.SetConnected(sess.DeviceID, false, nil)
			h.Registry.BroadcastToAdmins(deviceTenant, wire.NewDevicePresence(sess.DeviceID, false, nil, agentVersion))
		}
		h.Registry.RemoveAgent(sess)
		sess.Close()
	}()

	for {
		msgType, data, err := sess.conn.ReadMessage()
		if err != nil {
			return
		}

		sess.touch()

		if msgType == websocket.BinaryMessage {
			if h.Frames.AcceptBinary(sess.DeviceID, data) {
				MarkDeviceSeen(h.Store, h.Registry, sess.DeviceID, agentVersion)
			}
			continue
		}

		msg, err := wire.DecodeAgentMessage(data)
		if err != nil {
			log.Warn().Err(err).Str("deviceId", sess.DeviceID).Msg("malformed agent message")
			continue
		}

		switch msg.Type {
		case wire.TypePing:
			MarkDeviceSeen(h.Store, h.Registry, sess.DeviceID, agentVersion)
			sess.Send(mustMarshal(wire.NewPong()))

		case wire.TypeConsentResponse:
			if msg.ConsentResponse != nil {
				h.Consent.BroadcastConsentResponse(deviceTenant, sess.DeviceID, msg.ConsentResponse.Accepted)
			}

		case wire.TypeFrame, wire.TypeScreenFrame:
			if msg.Frame == nil {
				continue
			}
			accepted, err := h.Frames.AcceptJSON(sess.DeviceID, *msg.Frame)
			if err != nil {
				log.Warn().Err(err).Str("deviceId", sess.DeviceID).Msg("malformed frame message")
				continue
			}
			if accepted {
				MarkDeviceSeen(h.Store, h.Registry, sess.DeviceID, agentVersion)
			}

		case wire.TypeComplianceEventIn:
			if msg.ComplianceEvent != nil {
				h.handleComplianceEvent(sess.DeviceID, deviceTenant, *msg.ComplianceEvent)
			}

		default:
			log.Warn().Str("deviceId", sess.DeviceID).Str("type", msg.Type).Msg("unrecognized agent message type")
		}
	}
}

// handleComplianceEvent persists an agent-reported compliance observation
// and relays the updated per-device rollup to every tenant-scoped admin.
func (h *Hub) handleComplianceEvent(deviceID string, deviceTenant models.Tenant, in wire.ComplianceEventIn) {
	var severity *models.Severity
	if in.Severity != "" {
		s := models.Severity(in.Severity)
		switch s {
		case models.SeverityLow, models.SeverityMedium, models.SeverityHigh:
			severity = &s
		default:
			log.Warn().Str("deviceId", deviceID).Str("severity", in.Severity).Msg("compliance event with unknown severity ignored")
			return
		}
	}

	evt := models.ComplianceEvent{
		ID:         uuid.NewString(),
		DeviceID:   deviceID,
		Author:     in.Author,
		Context:    in.Context,
		Timestamp:  models.NowMillis(),
		Content:    in.Content,
		Matches:    in.Matches,
		Severity:   severity,
		Suspicious: in.Suspicious,
	}

	if err := h.Store.AppendCompliance(evt); err != nil {
		log.Error().Err(err).Str("deviceId", deviceID).Msg("failed to persist compliance event")
		return
	}

	agg := h.Store.Aggregate(deviceID)
	var sevStr string
	if agg.LastSeverity != nil {
		sevStr = string(*agg.LastSeverity)
	}
	h.Registry.BroadcastToAdmins(deviceTenant, wire.NewComplianceEvent(deviceID, agg.Count, sevStr, evt.Timestamp))
}

// ServeAdmin upgrades an incoming request into an admin WebSocket session
// for an already-verified identity.
func (h *Hub) ServeAdmin(w http.ResponseWriter, r *http.Request, identity Identity) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("admin websocket upgrade failed")
		return
	}

	id := uuid.NewString()
	sess := h.Registry.AdmitAdmin(id, conn, identity.Username, identity.AllowedTenants)

	snapshot := tenant.FilterDevices(identity.AllowedTenants, h.deviceViews())
	sess.Send(mustMarshal(wire.NewDevicesSnapshot(snapshot)))

	go h.adminReadLoop(sess)
}

func (h *Hub) adminReadLoop(sess *AdminSession) {
	defer func() {
		h.Registry.RemoveAdmin(sess)
		sess.Close()
	}()

	for {
		_, data, err := sess.conn.ReadMessage()
		if err != nil {
			return
		}

		msg, err := wire.DecodeAdminMessage(data)
		if err != nil {
			log.Warn().Err(err).Str("username", sess.Username).Msg("malformed admin message")
			continue
		}

		switch msg.Type {
		case wire.TypeRequestRemoteAccess:
			if msg.RequestRemoteAccess == nil {
				continue
			}
			h.handleRequestRemoteAccess(sess, msg.RequestRemoteAccess.DeviceID)

		default:
			log.Warn().Str("username", sess.Username).Str("type", msg.Type).Msg("unrecognized admin message type")
		}
	}
}

func (h *Hub) handleRequestRemoteAccess(sess *AdminSession, deviceID string) {
	device, ok := h.Store.GetDevice(deviceID)
	if !ok || !tenant.CanAccessDevice(sess.AllowedTenants, device.Tenant) {
		sess.Send(mustMarshal(wire.NewError("forbidden")))
		return
	}

	if _, active := h.Registry.AgentFor(deviceID); !active {
		sess.Send(mustMarshal(AgentOfflineResponse(deviceID)))
		return
	}

	status := h.Consent.RequestRemoteAccess(deviceID, sess.Username)
	sess.Send(mustMarshal(status))
}

// deviceViews assembles the DeviceView projection for every known device,
// enriching each with its alias and compliance aggregate. It is the
// server-side equivalent of the REST /api/devices projection, reused for
// the WS devices_snapshot.
func (h *Hub) deviceViews() []models.DeviceView {
	devices := h.Store.GetDevices()
	aliases := h.Store.ListAliases()

	views := make([]models.DeviceView, 0, len(devices))
	for _, d := range devices {
		views = append(views, h.projectDevice(d, aliases))
	}
	return views
}

func (h *Hub) projectDevice(d models.Device, aliases map[string]models.Alias) models.DeviceView {
	agg := h.Store.Aggregate(d.ID)

	name := d.ID
	if alias, ok := aliases[d.ID]; ok && alias.Label != "" {
		name = alias.Label
	}

	var lastSeverity *string
	if agg.LastSeverity != nil {
		s := string(*agg.LastSeverity)
		lastSeverity = &s
	}

	return models.DeviceView{
		ID:                     d.ID,
		DeviceID:               d.ID,
		Name:                   name,
		Tenant:                 d.Tenant,
		Connected:              d.Connected,
		Online:                 d.Connected,
		LastSeen:               d.LastSeen,
		AgentVersion:           d.AgentVersion,
		ComplianceFlag:         agg.Count > 0,
		ComplianceCount:        agg.Count,
		ComplianceLastAt:       agg.LastAt,
		ComplianceLastSeverity: lastSeverity,
	}
}

// DeviceViews exposes the projection to the REST layer.
func (h *Hub) DeviceViews() []models.DeviceView {
	return h.deviceViews()
}

func mustMarshal(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("marshal outbound message")
		return []byte(`{}`)
	}
	return data
}

// closeProtocolError closes a just-upgraded connection with 1008 (policy
// violation), the close code the wire contract uses for admission failures
// that are only detectable after the WebSocket handshake completes.
func closeProtocolError(conn *websocket.Conn, reason string) {
	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
	_ = conn.WriteMessage(websocket.CloseMessage, msg)
	conn.Close()
}
