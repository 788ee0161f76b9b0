// Package wire defines the JSON message shapes exchanged over the agent and
// admin WebSocket connections, plus a total tagged-union decoder for each
// direction. The decoder is "total" in the sense that an unrecognized type
// decodes without error and lands in the caller's default branch. Input
// that is not valid JSON for the envelope or the typed payload is returned
// as an error, which the hub's read loops log and skip without closing the
// connection.
package wire

import "encoding/json"

// Inbound message type tags.
const (
	TypePing                = "ping"
	TypeConsentResponse     = "consent_response"
	TypeFrame               = "frame"
	TypeScreenFrame         = "screen_frame"
	TypeRequestRemoteAccess = "request_remote_access"
)

// TypeComplianceEventIn is the agent-submitted counterpart to the outbound
// TypeComplianceEvent broadcast: agents report a compliance observation
// under the same wire tag the hub later relays to admins.
const TypeComplianceEventIn = TypeComplianceEvent

// Outbound message type tags.
const (
	TypePong            = "pong"
	TypeConsentRequest  = "consent_request"
	TypeConsentStatus   = "consent_status"
	TypeStreamEnable    = "stream-enable"
	TypeStreamEnableAlt = "stream_enable"
	TypeStreamDisable   = "stream-disable"
	TypeStreamDisableAt = "stream_disable"
	TypeDevicesSnapshot = "devices_snapshot"
	TypeDevicePresence  = "device_presence"
	TypeComplianceEvent = "compliance_event"
	TypeError           = "error"
)

// envelope is used only to peek at the discriminator field before decoding
// into a concrete type.
type envelope struct {
	Type string `json:"type"`
}

// AgentMessage is the tagged union of everything an agent connection may
// send. Exactly one of the typed fields is meaningful, selected by Type.
type AgentMessage struct {
	Type string

	ConsentResponse *ConsentResponseIn
	Frame           *FrameIn
	ComplianceEvent *ComplianceEventIn

	// Raw holds the original bytes for messages handled by the binary path
	// or otherwise passed through without a typed payload (e.g. "ping").
	Raw json.RawMessage
}

type ConsentResponseIn struct {
	Accepted bool `json:"accepted"`
}

// FrameIn covers both recognized JSON frame spellings; JPEG carries either
// raw base64 or a data: URL under whichever of the two keys is present.
type FrameIn struct {
	JPEGBase64 string `json:"jpegBase64"`
	JPEG       string `json:"jpeg"`
}

// ComplianceEventIn is what an agent sends to report a compliance-relevant
// observation. The hub assigns the event id and timestamp; Severity is a
// plain string here so this package stays independent of the models
// package's closed Severity set — the hub validates it on receipt.
type ComplianceEventIn struct {
	Author     string   `json:"author"`
	Context    string   `json:"context"`
	Content    string   `json:"content"`
	Matches    []string `json:"matches"`
	Severity   string   `json:"severity,omitempty"`
	Suspicious bool     `json:"suspicious"`
}

// DecodeAgentMessage parses a JSON agent message into the tagged union. A
// message whose type is unrecognized decodes successfully with Type set and
// every typed field nil, so the caller's switch can default harmlessly
// instead of treating it as a decode error.
func DecodeAgentMessage(data []byte) (AgentMessage, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return AgentMessage{}, err
	}

	msg := AgentMessage{Type: env.Type, Raw: json.RawMessage(data)}

	switch env.Type {
	case TypeConsentResponse:
		var payload ConsentResponseIn
		if err := json.Unmarshal(data, &payload); err != nil {
			return AgentMessage{}, err
		}
		msg.ConsentResponse = &payload
	case TypeFrame, TypeScreenFrame:
		var payload FrameIn
		if err := json.Unmarshal(data, &payload); err != nil {
			return AgentMessage{}, err
		}
		msg.Frame = &payload
	case TypeComplianceEventIn:
		var payload ComplianceEventIn
		if err := json.Unmarshal(data, &payload); err != nil {
			return AgentMessage{}, err
		}
		msg.ComplianceEvent = &payload
	}

	return msg, nil
}

// AdminMessage is the tagged union of everything an admin connection may
// send.
type AdminMessage struct {
	Type                string
	RequestRemoteAccess *RequestRemoteAccessIn
	Raw                 json.RawMessage
}

type RequestRemoteAccessIn struct {
	DeviceID string `json:"deviceId"`
}

func DecodeAdminMessage(data []byte) (AdminMessage, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return AdminMessage{}, err
	}

	msg := AdminMessage{Type: env.Type, Raw: json.RawMessage(data)}

	if env.Type == TypeRequestRemoteAccess {
		var payload RequestRemoteAccessIn
		if err := json.Unmarshal(data, &payload); err != nil {
			return AdminMessage{}, err
		}
		msg.RequestRemoteAccess = &payload
	}

	return msg, nil
}

// --- Outbound DTOs: one dedicated struct per message the hub sends. ---

type Pong struct {
	Type string `json:"type"`
}

func NewPong() Pong { return Pong{Type: TypePong} }

type ConsentRequest struct {
	Type  string `json:"type"`
	Admin string `json:"admin"`
}

func NewConsentRequest(admin string) ConsentRequest {
	return ConsentRequest{Type: TypeConsentRequest, Admin: admin}
}

type ConsentStatus struct {
	Type     string `json:"type"`
	DeviceID string `json:"deviceId"`
	Status   string `json:"status"`
}

func NewConsentStatus(deviceID, status string) ConsentStatus {
	return ConsentStatus{Type: TypeConsentStatus, DeviceID: deviceID, Status: status}
}

type ConsentResponseOut struct {
	Type     string `json:"type"`
	DeviceID string `json:"deviceId"`
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

func NewConsentResponse(deviceID string, accepted bool, reason string) ConsentResponseOut {
	return ConsentResponseOut{Type: TypeConsentResponse, DeviceID: deviceID, Accepted: accepted, Reason: reason}
}

// StreamControl covers both "stream-enable"/"stream-disable" and their
// underscore aliases — the hub emits both spellings for every transition.
type StreamControl struct {
	Type string `json:"type"`
}

func NewStreamEnable() StreamControl    { return StreamControl{Type: TypeStreamEnable} }
func NewStreamEnableAlt() StreamControl { return StreamControl{Type: TypeStreamEnableAlt} }
func NewStreamDisable() StreamControl   { return StreamControl{Type: TypeStreamDisable} }
func NewStreamDisableAlt() StreamControl {
	return StreamControl{Type: TypeStreamDisableAt}
}

type DevicesSnapshot struct {
	Type    string      `json:"type"`
	Devices interface{} `json:"devices"`
}

func NewDevicesSnapshot(devices interface{}) DevicesSnapshot {
	return DevicesSnapshot{Type: TypeDevicesSnapshot, Devices: devices}
}

type DevicePresence struct {
	Type         string  `json:"type"`
	DeviceID     string  `json:"deviceId"`
	Online       bool    `json:"online"`
	LastSeen     *int64  `json:"lastSeen,omitempty"`
	AgentVersion *string `json:"agentVersion,omitempty"`
}

func NewDevicePresence(deviceID string, online bool, lastSeen *int64, agentVersion *string) DevicePresence {
	return DevicePresence{Type: TypeDevicePresence, DeviceID: deviceID, Online: online, LastSeen: lastSeen, AgentVersion: agentVersion}
}

type ComplianceEventOut struct {
	Type     string `json:"type"`
	DeviceID string `json:"deviceId"`
	Count    int    `json:"count"`
	Severity string `json:"severity,omitempty"`
	Ts       int64  `json:"ts"`
}

func NewComplianceEvent(deviceID string, count int, severity string, ts int64) ComplianceEventOut {
	return ComplianceEventOut{Type: TypeComplianceEvent, DeviceID: deviceID, Count: count, Severity: severity, Ts: ts}
}

type ErrorOut struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewError(message string) ErrorOut {
	return ErrorOut{Type: TypeError, Message: message}
}
