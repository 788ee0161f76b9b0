// Package store implements the hub's single in-memory registry of record:
// devices, aliases, compliance events, and the operational log ring buffer.
// Alias and compliance mutations are synchronously persisted to JSON files
// using the write-to-temp-then-rename strategy, the way the bureau example's
// artifact metadata store commits a file.
package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/lookouthub/lookout-server/internal/models"
)

// Store owns every piece of durable-ish hub state. All mutating methods
// serialize on mu — the single-writer discipline the rest of the hub relies
// on to never race a JSON file rewrite against itself.
type Store struct {
	mu sync.Mutex

	dataDir string

	devices map[string]*models.Device
	aliases map[string]models.Alias

	compliance  []models.ComplianceEvent
	aggregates  map[string]models.ComplianceAggregate

	logs     []models.LogEntry
	logRing  int
	logNext  int
}

// New constructs a Store rooted at dataDir, replaying any existing
// device-aliases.json and compliance-events.json files. dataDir is created
// if it does not already exist.
func New(dataDir string, logRingSize int) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	s := &Store{
		dataDir:    dataDir,
		devices:    make(map[string]*models.Device),
		aliases:    make(map[string]models.Alias),
		aggregates: make(map[string]models.ComplianceAggregate),
		logRing:    logRingSize,
	}

	if err := s.loadAliases(); err != nil {
		return nil, fmt.Errorf("load aliases: %w", err)
	}
	if err := s.loadCompliance(); err != nil {
		return nil, fmt.Errorf("load compliance events: %w", err)
	}
	s.rebuildAggregates()

	return s, nil
}

func (s *Store) aliasesPath() string {
	return filepath.Join(s.dataDir, "device-aliases.json")
}

func (s *Store) compliancePath() string {
	return filepath.Join(s.dataDir, "compliance-events.json")
}

func (s *Store) loadAliases() error {
	data, err := os.ReadFile(s.aliasesPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	return json.Unmarshal(data, &s.aliases)
}

func (s *Store) loadCompliance() error {
	data, err := os.ReadFile(s.compliancePath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	return json.Unmarshal(data, &s.compliance)
}

func (s *Store) rebuildAggregates() {
	s.aggregates = make(map[string]models.ComplianceAggregate)
	for _, evt := range s.compliance {
		s.foldAggregate(evt)
	}
}

func (s *Store) foldAggregate(evt models.ComplianceEvent) {
	agg := s.aggregates[evt.DeviceID]
	agg.Count++
	ts := evt.Timestamp
	agg.LastAt = &ts
	if evt.Severity != nil {
		sev := *evt.Severity
		agg.LastSeverity = &sev
	}
	s.aggregates[evt.DeviceID] = agg
}

// writeJSON commits v to path using create-temp-in-dir, write, close, rename.
// The caller holds mu.
func writeJSON(path string, v interface{}) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		tmp.Close()
		return fmt.Errorf("encode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	success = true
	return nil
}

// GetDevices returns a snapshot of every known device.
func (s *Store) GetDevices() []models.Device {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Device, 0, len(s.devices))
	for _, d := range s.devices {
		out = append(out, *d)
	}
	return out
}

// UpsertDevice creates the device record on first sight, or updates its
// tenant if a non-empty tenant is supplied and the device had none yet. A
// device's tenant is pinned on first bind and never reassigned thereafter.
func (s *Store) UpsertDevice(id string, tenant models.Tenant) *models.Device {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.devices[id]
	if !ok {
		d = &models.Device{ID: id}
		s.devices[id] = d
	}
	if d.Tenant == "" && tenant != "" {
		d.Tenant = tenant
	}

	cp := *d
	return &cp
}

// SetConnected flips a device's connectivity flag and, when lastSeen is
// non-nil, its last-seen timestamp.
func (s *Store) SetConnected(id string, connected bool, lastSeen *int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.devices[id]
	if !ok {
		d = &models.Device{ID: id}
		s.devices[id] = d
	}
	d.Connected = connected
	if lastSeen != nil {
		d.LastSeen = lastSeen
	}
}

// GetDevice returns a snapshot of a single device, or false if unknown.
func (s *Store) GetDevice(id string) (models.Device, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.devices[id]
	if !ok {
		return models.Device{}, false
	}
	return *d, true
}

// GetAlias returns the alias for a device, or false if none is set.
func (s *Store) GetAlias(id string) (models.Alias, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.aliases[id]
	return a, ok
}

// ListAliases returns a snapshot of every alias keyed by device id.
func (s *Store) ListAliases() map[string]models.Alias {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]models.Alias, len(s.aliases))
	for k, v := range s.aliases {
		out[k] = v
	}
	return out
}

// PutAlias sets or, for an empty label, deletes a device's alias, then
// synchronously rewrites device-aliases.json. On a persistence failure the
// in-memory mutation is rolled back and the error is returned to the caller.
func (s *Store) PutAlias(id, label string, updatedAt int64) (models.Alias, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, hadPrev := s.aliases[id]

	if label == "" {
		delete(s.aliases, id)
	} else {
		s.aliases[id] = models.Alias{Label: label, UpdatedAt: updatedAt}
	}

	if err := writeJSON(s.aliasesPath(), s.aliases); err != nil {
		if hadPrev {
			s.aliases[id] = prev
		} else {
			delete(s.aliases, id)
		}
		return models.Alias{}, fmt.Errorf("persist aliases: %w", err)
	}

	return s.aliases[id], nil
}

// AppendCompliance appends an event, folds it into the device's aggregate,
// and synchronously rewrites compliance-events.json, rolling back both the
// log and the aggregate on a write failure.
func (s *Store) AppendCompliance(evt models.ComplianceEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prevAgg := s.aggregates[evt.DeviceID]

	s.compliance = append(s.compliance, evt)
	s.foldAggregate(evt)

	if err := writeJSON(s.compliancePath(), s.compliance); err != nil {
		s.compliance = s.compliance[:len(s.compliance)-1]
		s.aggregates[evt.DeviceID] = prevAgg
		return fmt.Errorf("persist compliance events: %w", err)
	}

	return nil
}

// ListCompliance returns events in reverse insertion order (most recently
// appended first), optionally filtered to a single device.
func (s *Store) ListCompliance(deviceID string) []models.ComplianceEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.ComplianceEvent, 0, len(s.compliance))
	for i := len(s.compliance) - 1; i >= 0; i-- {
		evt := s.compliance[i]
		if deviceID != "" && evt.DeviceID != deviceID {
			continue
		}
		out = append(out, evt)
	}
	return out
}

// Aggregate returns the derived compliance rollup for a device.
func (s *Store) Aggregate(deviceID string) models.ComplianceAggregate {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.aggregates[deviceID]
}

// AppendLog appends a record to the operational log ring buffer. It never
// touches disk — the ring buffer is an in-memory mirror of stdout, not a
// persisted log.
func (s *Store) AppendLog(level, msg string, meta map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := models.LogEntry{Ts: models.NowMillis(), Level: level, Msg: msg, Meta: meta}

	if s.logRing <= 0 || len(s.logs) < s.logRing {
		s.logs = append(s.logs, entry)
		return
	}

	s.logs[s.logNext] = entry
	s.logNext = (s.logNext + 1) % s.logRing
}

// ListLogs returns the ring buffer contents in chronological order.
func (s *Store) ListLogs() []models.LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.logs) < s.logRing || s.logRing <= 0 {
		out := make([]models.LogEntry, len(s.logs))
		copy(out, s.logs)
		return out
	}

	out := make([]models.LogEntry, 0, len(s.logs))
	out = append(out, s.logs[s.logNext:]...)
	out = append(out, s.logs[:s.logNext]...)
	return out
}
