package hub

import (
	"sync"

	"github.com/lookouthub/lookout-server/internal/wire"
)

// ViewerGate reference-counts admin-side stream viewers per device and
// signals the agent across the 0↔N boundary. It is orthogonal to consent:
// opening a viewer only asks the agent to stream, it does not imply consent
// was granted.
type ViewerGate struct {
	mu       sync.Mutex
	counts   map[string]int
	registry *Registry
}

func NewViewerGate(r *Registry) *ViewerGate {
	return &ViewerGate{counts: make(map[string]int), registry: r}
}

// Attach increments a device's viewer count, sending both spellings of
// stream-enable to the agent exactly once on the 0→1 transition.
func (vg *ViewerGate) Attach(deviceID string) {
	vg.mu.Lock()
	vg.counts[deviceID]++
	becameActive := vg.counts[deviceID] == 1
	vg.mu.Unlock()

	if becameActive {
		vg.registry.SendToAgent(deviceID, wire.NewStreamEnable())
		vg.registry.SendToAgent(deviceID, wire.NewStreamEnableAlt())
	}
}

// Detach decrements a device's viewer count, sending both spellings of
// stream-disable exactly once on the N→0 transition.
func (vg *ViewerGate) Detach(deviceID string) {
	vg.mu.Lock()
	if vg.counts[deviceID] <= 0 {
		vg.counts[deviceID] = 0
		vg.mu.Unlock()
		return
	}
	vg.counts[deviceID]--
	becameIdle := vg.counts[deviceID] == 0
	vg.mu.Unlock()

	if becameIdle {
		vg.registry.SendToAgent(deviceID, wire.NewStreamDisable())
		vg.registry.SendToAgent(deviceID, wire.NewStreamDisableAlt())
	}
}

// Count reports the current viewer count for a device.
func (vg *ViewerGate) Count(deviceID string) int {
	vg.mu.Lock()
	defer vg.mu.Unlock()
	return vg.counts[deviceID]
}
