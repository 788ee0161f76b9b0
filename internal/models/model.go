// Package models defines the domain types shared across the hub: devices,
// aliases, compliance events, and the operational log ring buffer.
package models

import "time"

// Tenant is a closed set of isolation boundaries (stores/units). An admin's
// allowedTenants is a subset of this set, or the wildcard "*".
type Tenant string

const (
	TenantCLA1 Tenant = "CLA1"
	TenantCLA2 Tenant = "CLA2"
	TenantDLA1 Tenant = "DLA1"
	TenantDLA2 Tenant = "DLA2"

	// TenantWildcard grants access to every tenant; only ever appears inside
	// an AllowedTenants set, never as a device's home tenant.
	TenantWildcard = "*"
)

// ValidTenants enumerates every tenant a device may belong to.
var ValidTenants = []Tenant{TenantCLA1, TenantCLA2, TenantDLA1, TenantDLA2}

// ParseTenant validates a wire-provided tenant code against the closed set.
func ParseTenant(s string) (Tenant, bool) {
	for _, t := range ValidTenants {
		if string(t) == s {
			return t, true
		}
	}
	return "", false
}

// Device is a managed machine, created lazily on first agent connection and
// never destroyed — it survives agent reconnections.
type Device struct {
	ID           string  `json:"id"`
	Tenant       Tenant  `json:"tenant"`
	Connected    bool    `json:"connected"`
	LastSeen     *int64  `json:"lastSeen"` // epoch ms, nil if never seen
	AgentVersion *string `json:"agentVersion"`
}

// DeviceView is the REST/WS projection of a Device enriched with alias and
// compliance aggregate data — what Edge actually serializes.
type DeviceView struct {
	ID                     string  `json:"id"`
	DeviceID               string  `json:"deviceId"`
	Name                   string  `json:"name"`
	Tenant                 Tenant  `json:"tenant"`
	Connected              bool    `json:"connected"`
	Online                 bool    `json:"online"`
	LastSeen               *int64  `json:"lastSeen"`
	AgentVersion           *string `json:"agentVersion"`
	ComplianceFlag         bool    `json:"complianceFlag"`
	ComplianceCount        int     `json:"complianceCount"`
	ComplianceLastAt       *int64  `json:"complianceLastAt"`
	ComplianceLastSeverity *string `json:"complianceLastSeverity"`
}

// Alias maps a device id to an operator-assigned display label.
type Alias struct {
	Label     string `json:"label"`
	UpdatedAt int64  `json:"updatedAt"`
}

// Severity is a closed set of compliance event severities.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// ComplianceEvent is an append-only record of a compliance-relevant
// observation attributed to a device.
type ComplianceEvent struct {
	ID         string    `json:"id"`
	DeviceID   string    `json:"deviceId"`
	Author     string    `json:"author"`
	Context    string    `json:"context"`
	Timestamp  int64     `json:"timestamp"`
	Content    string    `json:"content"`
	Matches    []string  `json:"matches"`
	Severity   *Severity `json:"severity"`
	Suspicious bool      `json:"suspicious"`
}

// ComplianceAggregate is the derived per-device rollup, recomputed from the
// event log at startup and maintained incrementally on append thereafter.
type ComplianceAggregate struct {
	Count        int       `json:"count"`
	LastAt       *int64    `json:"lastAt"`
	LastSeverity *Severity `json:"lastSeverity"`
}

// LogEntry is one record in the operational log ring buffer.
type LogEntry struct {
	Ts    int64          `json:"ts"`
	Level string         `json:"level"`
	Msg   string         `json:"msg"`
	Meta  map[string]any `json:"meta,omitempty"`
}

// AdminUser is a compiled-in administrator seed record. Passwords are
// compared as plaintext against this list; there is no persistent identity
// store or password issuance flow.
type AdminUser struct {
	Username       string
	Password       string
	AllowedTenants []string
}

// NowMillis returns the current time as epoch milliseconds, the unit used
// throughout the wire protocol for lastSeen / timestamp fields.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
