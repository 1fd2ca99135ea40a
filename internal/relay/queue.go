package relay

import (
	"sync"

	"github.com/thruflo/esprelay/internal/device"
)

// commandSlot holds at most one pending command. An empty string means the
// slot is empty.
type commandSlot struct {
	mu  sync.Mutex
	cmd string
}

// CommandQueue is a per-device single-slot mailbox. Writes replace any unread
// command; a take returns the command and empties the slot in one step, so a
// command is observed by exactly one poll.
type CommandQueue struct {
	registry *device.Registry
	slots    map[string]*commandSlot
}

// NewCommandQueue creates one empty slot per registered device. The slot map
// is never modified afterwards, so lookups need no lock.
func NewCommandQueue(registry *device.Registry) *CommandQueue {
	slots := make(map[string]*commandSlot, registry.Len())
	for _, id := range registry.IDs() {
		slots[id] = &commandSlot{}
	}
	return &CommandQueue{registry: registry, slots: slots}
}

// Set stores cmd as the next command for deviceID, overwriting any pending
// one. Unknown devices yield an error wrapping device.ErrUnknownDevice.
func (q *CommandQueue) Set(deviceID, cmd string) error {
	if err := q.registry.Check(deviceID); err != nil {
		return err
	}

	slot := q.slots[deviceID]
	slot.mu.Lock()
	slot.cmd = cmd
	slot.mu.Unlock()
	return nil
}

// Take returns and clears the pending command for deviceID. It returns ""
// when nothing is pending or the device is unknown.
func (q *CommandQueue) Take(deviceID string) string {
	slot, ok := q.slots[deviceID]
	if !ok {
		return ""
	}

	slot.mu.Lock()
	defer slot.mu.Unlock()
	cmd := slot.cmd
	slot.cmd = ""
	return cmd
}

// Peek returns the pending command without consuming it.
func (q *CommandQueue) Peek(deviceID string) string {
	slot, ok := q.slots[deviceID]
	if !ok {
		return ""
	}

	slot.mu.Lock()
	defer slot.mu.Unlock()
	return slot.cmd
}
