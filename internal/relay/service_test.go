package relay

import (
	"bytes"
	"errors"
	"log"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thruflo/esprelay/internal/logging"
	"github.com/thruflo/esprelay/internal/testutil"
)

type serviceFixture struct {
	svc     *Service
	clock   *testutil.Clock
	backend *MemoryBackend
	logs    *bytes.Buffer
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	var buf bytes.Buffer
	logger := logging.New()
	logger.SetOutput(log.New(&buf, "", 0))

	clock := testutil.NewClock(testutil.Epoch)
	backend := NewMemoryBackend()

	svc, err := NewService(Config{
		Registry:       newTestRegistry(t),
		LivenessWindow: 15 * time.Second,
		Now:            clock.Now,
		Backend:        backend,
		Logger:         logger,
	})
	require.NoError(t, err)
	t.Cleanup(svc.Close)

	return &serviceFixture{svc: svc, clock: clock, backend: backend, logs: &buf}
}

type failingBackend struct{}

func (failingBackend) Load() (*Snapshot, error) { return nil, nil }
func (failingBackend) Save(*Snapshot) error     { return errors.New("disk full") }

func TestNewService_RequiresRegistry(t *testing.T) {
	t.Parallel()

	_, err := NewService(Config{})
	assert.Error(t, err)
}

func TestService_SetAndTakeCommand(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(t)

	ack, err := f.svc.SetCommand("esp1", "open")
	require.NoError(t, err)
	assert.Equal(t, Ack{Status: "ok", Cmd: "open"}, ack)

	assert.Equal(t, "open", f.svc.TakeCommand("esp1"))
	assert.Equal(t, "", f.svc.TakeCommand("esp1"))
}

func TestService_SetCommandUnknownDevice(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(t)

	_, err := f.svc.SetCommand("esp9", "open")
	assert.ErrorIs(t, err, ErrUnknownDevice)
	assert.Equal(t, "", f.svc.TakeCommand("esp9"))
}

func TestService_ReportAndLiveness(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(t)

	require.NoError(t, f.svc.ReportStatus("esp2", Values{"t1": 9}, Values{}))
	assert.True(t, f.svc.GetStatus("esp2").Online)

	f.clock.Advance(16 * time.Second)
	assert.False(t, f.svc.GetStatus("esp2").Online)
}

func TestService_ReportUnknownDeviceLeavesStateAlone(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(t)
	events, cancel := f.svc.Hub().Subscribe()
	defer cancel()

	err := f.svc.ReportStatus("esp9", Values{"t1": 1}, nil)
	assert.ErrorIs(t, err, ErrUnknownDevice)

	snap, err := f.backend.Load()
	require.NoError(t, err)
	assert.Nil(t, snap, "rejected reports must not be persisted")

	select {
	case ev := <-events:
		t.Fatalf("unexpected event %+v", ev)
	default:
	}
}

func TestService_ReportPublishesEvent(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(t)
	events, cancel := f.svc.Hub().Subscribe()
	defer cancel()

	require.NoError(t, f.svc.ReportStatus("esp1", Values{"door": "open"}, nil))

	select {
	case ev := <-events:
		assert.Equal(t, "esp1", ev.Device)
		assert.Equal(t, Values{"door": "open"}, ev.IO)
		assert.True(t, ev.Online)
	case <-time.After(time.Second):
		t.Fatal("no status event published")
	}
}

func TestService_Devices(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(t)
	require.NoError(t, f.svc.ReportStatus("esp2", Values{"t1": 9}, nil))

	devices := f.svc.Devices()
	require.Len(t, devices, 2)
	assert.Equal(t, "esp1", devices[0].Device)
	assert.False(t, devices[0].Online)
	assert.Equal(t, "esp2", devices[1].Device)
	assert.True(t, devices[1].Online)
}

func TestService_PersistsEachMutation(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(t)

	_, err := f.svc.SetCommand("esp1", "open")
	require.NoError(t, err)

	snap, err := f.backend.Load()
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, "open", snap.Devices["esp1"].Command)

	f.svc.TakeCommand("esp1")
	snap, _ = f.backend.Load()
	assert.Equal(t, "", snap.Devices["esp1"].Command)

	require.NoError(t, f.svc.ReportStatus("esp2", Values{"t1": 9}, nil))
	snap, _ = f.backend.Load()
	assert.Equal(t, testutil.Epoch, snap.Devices["esp2"].LastSeen)
}

func TestService_PersistFailureIsLogged(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := logging.New()
	logger.SetOutput(log.New(&buf, "", 0))

	svc, err := NewService(Config{
		Registry: newTestRegistry(t),
		Backend:  failingBackend{},
		Logger:   logger,
	})
	require.NoError(t, err)

	ack, err := svc.SetCommand("esp1", "open")
	require.NoError(t, err, "persistence errors must not fail the request")
	assert.Equal(t, "open", ack.Cmd)
	assert.Contains(t, buf.String(), "failed to persist relay state")
	assert.Equal(t, "open", svc.TakeCommand("esp1"))
}

func TestService_RestoresFromFileBackend(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state", "relay.json")
	clock := testutil.NewClock(testutil.Epoch)

	first, err := NewService(Config{
		Registry: newTestRegistry(t),
		Now:      clock.Now,
		Backend:  NewFileBackend(path),
	})
	require.NoError(t, err)

	_, err = first.SetCommand("esp1", "close")
	require.NoError(t, err)
	require.NoError(t, first.ReportStatus("esp2", Values{"t1": 9}, Values{"red": true}))

	clock.Advance(5 * time.Second)
	second, err := NewService(Config{
		Registry: newTestRegistry(t),
		Now:      clock.Now,
		Backend:  NewFileBackend(path),
	})
	require.NoError(t, err)

	assert.Equal(t, "close", second.TakeCommand("esp1"))

	st := second.GetStatus("esp2")
	assert.Equal(t, Values{"t1": float64(9)}, st.IO)
	assert.Equal(t, Values{"red": true}, st.LED)
	require.NotNil(t, st.LastSeen)
	assert.Equal(t, testutil.Epoch, st.LastSeen.UTC())
	assert.True(t, st.Online)

	assert.Nil(t, second.GetStatus("esp1").LastSeen)
}

func TestService_RestoreDropsUnknownDevices(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := logging.New()
	logger.SetOutput(log.New(&buf, "", 0))

	backend := NewMemoryBackend()
	require.NoError(t, backend.Save(&Snapshot{
		SavedAt: testutil.Epoch,
		Devices: map[string]DeviceSnapshot{
			"esp1":   {Command: "open"},
			"legacy": {Command: "reboot"},
		},
	}))

	svc, err := NewService(Config{Registry: newTestRegistry(t), Backend: backend, Logger: logger})
	require.NoError(t, err)

	assert.Equal(t, "open", svc.TakeCommand("esp1"))
	assert.Equal(t, "", svc.TakeCommand("legacy"))
	assert.Contains(t, buf.String(), "device=legacy")
}

func TestService_RestoreFailsOnCorruptState(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "relay.json")
	require.NoError(t, writeTestFile(path, "{not json"))

	_, err := NewService(Config{Registry: newTestRegistry(t), Backend: NewFileBackend(path)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "restore state")
}

func TestDecodeStatusReport(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		body    string
		want    StatusReport
		wantErr bool
	}{
		{
			name: "full report",
			body: `{"device":"esp2","io":{"dev1":1,"t1":9},"led":{"red":true}}`,
			want: StatusReport{Device: "esp2", IO: Values{"dev1": float64(1), "t1": float64(9)}, LED: Values{"red": true}},
		},
		{
			name: "missing maps decode empty",
			body: `{"device":"esp1"}`,
			want: StatusReport{Device: "esp1", IO: Values{}, LED: Values{}},
		},
		{
			name: "null maps decode empty",
			body: `{"device":"esp1","io":null,"led":null}`,
			want: StatusReport{Device: "esp1", IO: Values{}, LED: Values{}},
		},
		{
			name: "missing device is left to the registry",
			body: `{"io":{}}`,
			want: StatusReport{IO: Values{}, LED: Values{}},
		},
		{name: "not json", body: `device=esp1`, wantErr: true},
		{name: "empty body", body: ``, wantErr: true},
		{name: "array", body: `[1,2]`, wantErr: true},
		{name: "io is a list", body: `{"device":"esp1","io":[1]}`, wantErr: true},
		{
			name: "non-string device is left to the registry",
			body: `{"device":5,"io":{"t1":1}}`,
			want: StatusReport{IO: Values{"t1": float64(1)}, LED: Values{}},
		},
		{
			name: "object device is left to the registry",
			body: `{"device":{"id":"esp1"}}`,
			want: StatusReport{IO: Values{}, LED: Values{}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeStatusReport(strings.NewReader(tt.body))
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrMalformedPayload)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
