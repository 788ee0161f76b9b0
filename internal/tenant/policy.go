// Package tenant implements the pure access-control functions consulted by
// every REST, WebSocket, and stream handler before it reveals device data or
// acts on a device.
package tenant

import "github.com/lookouthub/lookout-server/internal/models"

// CanAccessTenant reports whether a subject whose allowedTenants is given may
// see data scoped to tenant t.
func CanAccessTenant(allowed []string, t models.Tenant) bool {
	for _, a := range allowed {
		if a == models.TenantWildcard || a == string(t) {
			return true
		}
	}
	return false
}

// CanAccessDevice reports whether a subject may act on a device, given the
// device's resolved tenant. A device whose tenant is not yet known (the zero
// value) is never accessible — it has no home tenant to check against.
func CanAccessDevice(allowed []string, deviceTenant models.Tenant) bool {
	if deviceTenant == "" {
		return false
	}
	return CanAccessTenant(allowed, deviceTenant)
}

// FilterDevices returns only the devices in views that the subject may see.
func FilterDevices(allowed []string, views []models.DeviceView) []models.DeviceView {
	out := make([]models.DeviceView, 0, len(views))
	for _, v := range views {
		if CanAccessTenant(allowed, v.Tenant) {
			out = append(out, v)
		}
	}
	return out
}
