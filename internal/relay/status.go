package relay

import (
	"maps"
	"sync"
	"time"

	"github.com/thruflo/esprelay/internal/device"
)

// DefaultLivenessWindow is how long after its last report a device still
// counts as online.
//
// A device that reports less often than this shows as offline between
// reports. That is intended: the console should never claim a device is up
// on the strength of a stale report.
const DefaultLivenessWindow = 15 * time.Second

// Values maps a channel name to the value a device reported for it.
type Values map[string]interface{}

// Record is the stored state of one device. A zero LastSeen means the device
// has never reported.
type Record struct {
	IO       Values    `json:"io"`
	LED      Values    `json:"led"`
	LastSeen time.Time `json:"last_seen"`
}

// Status is a Record as shown to the console, with derived liveness.
type Status struct {
	IO       Values     `json:"io"`
	LED      Values     `json:"led"`
	LastSeen *time.Time `json:"last_seen"`
	Online   bool       `json:"online"`
}

// emptyStatus is returned for unknown and never-reported devices.
func emptyStatus() Status {
	return Status{IO: Values{}, LED: Values{}}
}

type statusSlot struct {
	mu     sync.RWMutex
	record Record
}

// StatusStore keeps the latest report from each registered device.
type StatusStore struct {
	registry *device.Registry
	slots    map[string]*statusSlot
	window   time.Duration
	now      func() time.Time
}

// NewStatusStore creates an empty store. A non-positive window falls back to
// DefaultLivenessWindow; a nil now uses time.Now.
func NewStatusStore(registry *device.Registry, window time.Duration, now func() time.Time) *StatusStore {
	if window <= 0 {
		window = DefaultLivenessWindow
	}
	if now == nil {
		now = time.Now
	}

	slots := make(map[string]*statusSlot, registry.Len())
	for _, id := range registry.IDs() {
		slots[id] = &statusSlot{}
	}

	return &StatusStore{registry: registry, slots: slots, window: window, now: now}
}

// Report replaces the io and led maps for deviceID and stamps last_seen with
// the server clock truncated to whole seconds. Unknown devices yield an error
// wrapping device.ErrUnknownDevice and leave the store untouched.
func (s *StatusStore) Report(deviceID string, io, led Values) (Status, error) {
	if err := s.registry.Check(deviceID); err != nil {
		return emptyStatus(), err
	}

	record := Record{
		IO:       cloneValues(io),
		LED:      cloneValues(led),
		LastSeen: s.now().UTC().Truncate(time.Second),
	}

	slot := s.slots[deviceID]
	slot.mu.Lock()
	slot.record = record
	slot.mu.Unlock()

	return s.view(record), nil
}

// Get returns the status of deviceID. Unknown and never-reported devices get
// an empty, offline status rather than an error.
func (s *StatusStore) Get(deviceID string) Status {
	record, ok := s.record(deviceID)
	if !ok {
		return emptyStatus()
	}
	return s.view(record)
}

// Window returns the liveness window.
func (s *StatusStore) Window() time.Duration {
	return s.window
}

// record returns a copy of the stored record.
func (s *StatusStore) record(deviceID string) (Record, bool) {
	slot, ok := s.slots[deviceID]
	if !ok {
		return Record{}, false
	}

	slot.mu.RLock()
	defer slot.mu.RUnlock()
	return slot.record, true
}

// restore installs a previously saved record without restamping it.
func (s *StatusStore) restore(deviceID string, record Record) bool {
	slot, ok := s.slots[deviceID]
	if !ok {
		return false
	}

	record.IO = cloneValues(record.IO)
	record.LED = cloneValues(record.LED)

	slot.mu.Lock()
	slot.record = record
	slot.mu.Unlock()
	return true
}

// view derives the console status from a record. Maps are copied so the
// caller cannot reach stored state.
func (s *StatusStore) view(record Record) Status {
	st := Status{
		IO:  cloneValues(record.IO),
		LED: cloneValues(record.LED),
	}
	if !record.LastSeen.IsZero() {
		seen := record.LastSeen
		st.LastSeen = &seen
		st.Online = s.now().Sub(seen) < s.window
	}
	return st
}

func cloneValues(v Values) Values {
	if v == nil {
		return Values{}
	}
	return maps.Clone(v)
}
