package tuya

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oikomaticz/oikomaticz-core/internal/device"
	"github.com/oikomaticz/oikomaticz-core/internal/infrastructure/config"
	"github.com/oikomaticz/oikomaticz-core/internal/rx"
)

type sink struct {
	mu   sync.Mutex
	msgs []rx.Message
}

func (s *sink) Submit(msg rx.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
	return nil
}

func (s *sink) last(kind rx.Kind) (rx.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.msgs) - 1; i >= 0; i-- {
		if s.msgs[i].Payload.Kind() == kind {
			return s.msgs[i], true
		}
	}
	return rx.Message{}, false
}

func TestParsePlugs(t *testing.T) {
	plugs, err := parsePlugs(map[string]string{
		"device.2.id":       "second",
		"device.2.key":      testKey,
		"device.2.version":  "3.1",
		"device.2.power_dp": "5",
		"device.1.id":       "first",
		"device.1.key":      testKey,
		"device.1.ip":       "10.0.0.9",
		"device.1.name":     "Kettle",
		"unrelated":         "x",
	})
	require.NoError(t, err)
	require.Len(t, plugs, 2)

	assert.Equal(t, "first", plugs[0].ID)
	assert.Equal(t, "Kettle", plugs[0].Name)
	assert.Equal(t, Version33, plugs[0].Version)
	assert.Equal(t, defaultPowerDP, plugs[0].PowerDP)
	assert.Equal(t, defaultSwitchDP, plugs[0].SwitchDP)

	assert.Equal(t, "second", plugs[1].Name)
	assert.Equal(t, Version31, plugs[1].Version)
	assert.Equal(t, "5", plugs[1].PowerDP)
}

func TestParsePlugs_Errors(t *testing.T) {
	tests := []struct {
		name string
		opts map[string]string
		want error
	}{
		{"missing id", map[string]string{"device.1.key": testKey}, nil},
		{"short key", map[string]string{"device.1.id": "a", "device.1.key": "abc"}, ErrBadKey},
		{"bad version", map[string]string{"device.1.id": "a", "device.1.key": testKey, "device.1.version": "3.5"}, ErrUnsupportedVersion},
		{"unknown field", map[string]string{"device.1.colour": "red"}, nil},
		{"bad index", map[string]string{"device.x.id": "a"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parsePlugs(tt.opts)
			require.Error(t, err)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			}
		})
	}
}

func TestNew_NoDevices(t *testing.T) {
	_, err := New(config.HardwareConfig{ID: 1, Type: TypeName}, nil)
	assert.Error(t, err)
}

func TestHub_PollAndSwitch(t *testing.T) {
	dev := newFakeDevice(t, Version33, map[string]any{
		"1": false, "17": 5.0, "18": 512.0, "19": 1234.0, "20": 2301.0,
	})

	hw, err := New(config.HardwareConfig{
		ID: 4, Name: "plugs", Type: TypeName, Enabled: true,
		Port: dev.port(),
		Options: map[string]string{
			"device.1.id":  "dev1",
			"device.1.key": testKey,
			"device.1.ip":  "127.0.0.1",
		},
	}, nil)
	require.NoError(t, err)

	s := &sink{}
	require.NoError(t, hw.Start(context.Background(), s))
	defer hw.Stop() //nolint:errcheck // Test cleanup

	require.Eventually(t, func() bool {
		_, ok := s.last(rx.KindCurrent)
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	sw, ok := s.last(rx.KindSwitch)
	require.True(t, ok)
	assert.Equal(t, "dev1", sw.DeviceID)
	assert.Equal(t, rx.Switch{State: rx.SwitchOff}, sw.Payload)

	energy, _ := s.last(rx.KindEnergy)
	assert.Equal(t, rx.Energy{Watt: 123.4, WhTotal: 0}, energy.Payload, "queried increments are not accumulated")
	volt, _ := s.last(rx.KindVoltage)
	assert.Equal(t, rx.Voltage{Volt: 230.1}, volt.Payload)
	cur, _ := s.last(rx.KindCurrent)
	assert.InDelta(t, 0.512, cur.Payload.(rx.Current).L1, 1e-9)

	cmd := rx.Command{
		Kind:   rx.CommandSwitch,
		Device: device.Device{Identity: device.Identity{HardwareID: 4, DeviceID: "dev1", Unit: 1}},
		Action: rx.ActionOn,
	}
	require.NoError(t, hw.Write(context.Background(), cmd))
	assert.Equal(t, true, dev.state()["1"])

	require.Eventually(t, func() bool {
		m, ok := s.last(rx.KindSwitch)
		return ok && m.Payload == rx.Switch{State: rx.SwitchOn}
	}, 2*time.Second, 10*time.Millisecond)

	cmd.Device.DeviceID = "other"
	assert.ErrorIs(t, hw.Write(context.Background(), cmd), rx.ErrUnsupportedCommand)
	cmd.Kind = rx.CommandSetpoint
	assert.ErrorIs(t, hw.Write(context.Background(), cmd), rx.ErrUnsupportedCommand)
}

func TestHub_EnergyAccumulatesPushesOnly(t *testing.T) {
	dev := newFakeDevice(t, Version33, map[string]any{"1": true})

	hw, err := New(config.HardwareConfig{
		ID: 5, Name: "plugs", Type: TypeName, Enabled: true,
		Port: dev.port(),
		Options: map[string]string{
			"device.1.id":  "dev1",
			"device.1.key": testKey,
			"device.1.ip":  "127.0.0.1",
		},
	}, nil)
	require.NoError(t, err)
	h := hw.(*Hub)

	s := &sink{}
	require.NoError(t, h.Start(context.Background(), s))
	defer h.Stop() //nolint:errcheck // Test cleanup

	p := h.plugs[0]
	total := func() float64 {
		m, ok := s.last(rx.KindEnergy)
		require.True(t, ok)
		return m.Payload.(rx.Energy).WhTotal
	}

	h.publish(p, map[string]any{"17": 5.0, "19": 100.0}, false)
	h.publish(p, map[string]any{"17": 5.0, "19": 100.0}, false)
	assert.Equal(t, 0.0, total())

	h.publish(p, map[string]any{"17": 5.0, "19": 100.0}, true)
	assert.Equal(t, 5.0, total())

	h.publish(p, map[string]any{"17": 5.0, "19": 100.0}, false)
	assert.Equal(t, 5.0, total())

	h.publish(p, map[string]any{"17": 3.0, "19": 100.0}, true)
	assert.Equal(t, 8.0, total())
}

func TestHub_AnnounceSetsAddress(t *testing.T) {
	hw, err := New(config.HardwareConfig{
		ID: 4, Type: TypeName,
		Options: map[string]string{"device.1.id": "dev1", "device.1.key": testKey},
	}, nil)
	require.NoError(t, err)
	h := hw.(*Hub)

	_, err = h.connect(context.Background(), h.plugs[0])
	assert.Error(t, err)

	h.announce(Announcement{GwID: "other", IP: "10.0.0.1"})
	h.announce(Announcement{GwID: "dev1", IP: "10.0.0.2"})
	assert.Equal(t, "10.0.0.2", h.plugs[0].ip)
}

func TestDecodeAnnouncement(t *testing.T) {
	body, err := json.Marshal(Announcement{GwID: "bf01", IP: "192.168.1.40", Version: "3.3", Encrypted: true})
	require.NoError(t, err)

	enc, err := encryptECB(udpKey, body)
	require.NoError(t, err)

	tests := []struct {
		name  string
		frame []byte
	}{
		{"plain", EncodeFrame(0, CmdUDP, append([]byte{0, 0, 0, 0}, body...))},
		{"encrypted", EncodeFrame(0, CmdUDPNew, append([]byte{0, 0, 0, 0}, enc...))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := DecodeAnnouncement(tt.frame)
			require.NoError(t, err)
			assert.Equal(t, "bf01", a.GwID)
			assert.Equal(t, "192.168.1.40", a.IP)
			assert.Equal(t, "3.3", a.Version)
		})
	}

	_, err = DecodeAnnouncement(EncodeFrame(0, CmdControl, body))
	assert.Error(t, err)
	_, err = DecodeAnnouncement(EncodeFrame(0, CmdUDP, []byte(`{"ip":"1.2.3.4"}`)))
	assert.Error(t, err)
}

func TestNumber(t *testing.T) {
	tests := []struct {
		in   any
		want float64
		ok   bool
	}{
		{12.5, 12.5, true},
		{7, 7, true},
		{"230.1", 230.1, true},
		{"abc", 0, false},
		{true, 0, false},
		{nil, 0, false},
	}
	for _, tt := range tests {
		got, ok := number(tt.in)
		assert.Equal(t, tt.ok, ok, "number(%v)", tt.in)
		if tt.ok {
			assert.InDelta(t, tt.want, got, 1e-9, "number(%v)", tt.in)
		}
	}
}
