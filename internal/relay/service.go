// Package relay holds the per-device state the server brokers between the
// operator console and polling devices: a single-slot command queue and the
// latest status report of each device.
package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/thruflo/esprelay/internal/device"
	"github.com/thruflo/esprelay/internal/logging"
)

// ErrUnknownDevice is returned for device ids outside the allow-list.
var ErrUnknownDevice = device.ErrUnknownDevice

// ErrMalformedPayload is returned when a status report cannot be decoded.
var ErrMalformedPayload = errors.New("malformed payload")

// Ack acknowledges an accepted operator command.
type Ack struct {
	Status string `json:"status"`
	Cmd    string `json:"cmd"`
}

// DeviceStatus pairs a device id with its current status.
type DeviceStatus struct {
	Device string `json:"device"`
	Status
}

// StatusReport is the body a device posts to report its state.
type StatusReport struct {
	Device string `json:"device"`
	IO     Values `json:"io"`
	LED    Values `json:"led"`
}

// DecodeStatusReport parses a status report. Missing io or led maps decode
// as empty. A device field that is not a string decodes as an empty id, so
// the registry rejects it as unknown. Anything that is not a JSON object
// with object io and led fields yields an error wrapping ErrMalformedPayload.
func DecodeStatusReport(r io.Reader) (StatusReport, error) {
	var raw struct {
		Device json.RawMessage `json:"device"`
		IO     Values          `json:"io"`
		LED    Values          `json:"led"`
	}
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return StatusReport{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	report := StatusReport{IO: raw.IO, LED: raw.LED}
	if len(raw.Device) > 0 {
		var id string
		if err := json.Unmarshal(raw.Device, &id); err == nil {
			report.Device = id
		}
	}
	if report.IO == nil {
		report.IO = Values{}
	}
	if report.LED == nil {
		report.LED = Values{}
	}
	return report, nil
}

// Config configures a Service.
type Config struct {
	Registry       *device.Registry
	LivenessWindow time.Duration
	// Now is the server clock. Defaults to time.Now.
	Now func() time.Time
	// Backend persists state after each mutation. Defaults to a
	// MemoryBackend.
	Backend Backend
	// Hub receives an event for each accepted status report. Defaults to a
	// new Hub.
	Hub    *Hub
	Logger *logging.Logger
}

// Service owns all per-device relay state. It is constructed once at startup
// and shared by every request handler.
type Service struct {
	registry *device.Registry
	queue    *CommandQueue
	status   *StatusStore
	hub      *Hub
	backend  Backend
	log      *logging.Logger
	now      func() time.Time

	// persistMu orders snapshot capture and write so the last save always
	// carries the latest state.
	persistMu sync.Mutex
}

// NewService builds a Service and restores any state the backend holds.
// Snapshot entries for devices outside the registry are dropped.
func NewService(cfg Config) (*Service, error) {
	if cfg.Registry == nil {
		return nil, errors.New("relay: device registry is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Backend == nil {
		cfg.Backend = NewMemoryBackend()
	}
	if cfg.Hub == nil {
		cfg.Hub = NewHub()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}

	s := &Service{
		registry: cfg.Registry,
		queue:    NewCommandQueue(cfg.Registry),
		status:   NewStatusStore(cfg.Registry, cfg.LivenessWindow, cfg.Now),
		hub:      cfg.Hub,
		backend:  cfg.Backend,
		log:      cfg.Logger,
		now:      cfg.Now,
	}

	snap, err := cfg.Backend.Load()
	if err != nil {
		return nil, fmt.Errorf("relay: restore state: %w", err)
	}
	if snap != nil {
		s.restore(snap)
	}

	return s, nil
}

func (s *Service) restore(snap *Snapshot) {
	restored := 0
	for id, dev := range snap.Devices {
		if !s.registry.IsValid(id) {
			s.log.Warn("dropping saved state for unknown device", "device", id)
			continue
		}
		if dev.Command != "" {
			_ = s.queue.Set(id, dev.Command)
		}
		s.status.restore(id, dev.Record)
		restored++
	}
	s.log.Info("restored relay state", "devices", restored, "saved_at", snap.SavedAt.Format(time.RFC3339))
}

// Registry returns the device allow-list.
func (s *Service) Registry() *device.Registry {
	return s.registry
}

// Hub returns the status event hub.
func (s *Service) Hub() *Hub {
	return s.hub
}

// LivenessWindow returns how long a report keeps a device online.
func (s *Service) LivenessWindow() time.Duration {
	return s.status.Window()
}

// SetCommand queues cmd for deviceID, replacing any unread command.
func (s *Service) SetCommand(deviceID, cmd string) (Ack, error) {
	if err := s.queue.Set(deviceID, cmd); err != nil {
		return Ack{}, err
	}
	s.persist()
	return Ack{Status: "ok", Cmd: cmd}, nil
}

// TakeCommand returns and clears the pending command for deviceID. Unknown
// devices and empty slots both yield "".
func (s *Service) TakeCommand(deviceID string) string {
	cmd := s.queue.Take(deviceID)
	if cmd != "" {
		s.persist()
	}
	return cmd
}

// ReportStatus stores a device report and notifies subscribers.
func (s *Service) ReportStatus(deviceID string, io, led Values) error {
	st, err := s.status.Report(deviceID, io, led)
	if err != nil {
		return err
	}
	s.hub.Publish(StatusEvent{Device: deviceID, Status: st})
	s.persist()
	return nil
}

// GetStatus returns the current status of deviceID. It never fails.
func (s *Service) GetStatus(deviceID string) Status {
	return s.status.Get(deviceID)
}

// Devices returns the status of every registered device, ordered by id.
func (s *Service) Devices() []DeviceStatus {
	ids := s.registry.IDs()
	out := make([]DeviceStatus, 0, len(ids))
	for _, id := range ids {
		out = append(out, DeviceStatus{Device: id, Status: s.status.Get(id)})
	}
	return out
}

// Snapshot captures the current state of every device.
func (s *Service) Snapshot() *Snapshot {
	snap := &Snapshot{
		SavedAt: s.now().UTC(),
		Devices: make(map[string]DeviceSnapshot, s.registry.Len()),
	}
	for _, id := range s.registry.IDs() {
		record, _ := s.status.record(id)
		snap.Devices[id] = DeviceSnapshot{
			Command: s.queue.Peek(id),
			Record:  record,
		}
	}
	return snap
}

// persist saves a fresh snapshot. Failures are logged; in-memory state stays
// authoritative.
func (s *Service) persist() {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	if err := s.backend.Save(s.Snapshot()); err != nil {
		s.log.Error("failed to persist relay state", "error", err)
	}
}

// Close releases subscribers. State is not flushed; every mutation is
// already persisted.
func (s *Service) Close() {
	s.hub.Close()
}
