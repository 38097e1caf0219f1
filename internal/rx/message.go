package rx

import (
	"fmt"
	"time"

	"github.com/oikomaticz/oikomaticz-core/internal/device"
)

// Battery and signal values for adapters that cannot report them.
const (
	BatteryUnknown = device.BatteryUnknown
	SignalUnknown  = device.SignalUnknown
)

// Message is one decoded reading from a hardware adapter.
type Message struct {
	// HardwareID is stamped by the hardware base, adapters leave it zero.
	HardwareID int
	DeviceID   string
	Unit       int

	// Name is used only when the device is created. Empty means the
	// payload's default name.
	Name string

	// Battery and RSSI are used only when the matching Has flag is set,
	// since zero is a real reading for both.
	Battery    int
	HasBattery bool
	RSSI       int
	HasRSSI    bool

	// At is stamped by the hardware base when zero.
	At time.Time

	Payload Payload
}

// Identity returns the device key this message updates.
func (m *Message) Identity() device.Identity {
	return device.Identity{
		HardwareID: m.HardwareID,
		DeviceID:   m.DeviceID,
		Unit:       m.Unit,
		Type:       m.Payload.Type(),
		SubType:    m.Payload.SubType(),
	}
}

// DefaultName returns the name used for a newly created device.
func (m *Message) DefaultName() string {
	if m.Name != "" {
		return m.Name
	}
	return fmt.Sprintf("%s %s", m.Payload.Kind(), m.DeviceID)
}

// Value converts the message into a device value.
func (m *Message) Value() device.Value {
	nvalue, svalue := m.Payload.Encode()
	return device.Value{
		NValue:       nvalue,
		SValue:       svalue,
		BatteryLevel: m.Battery,
		SignalLevel:  m.RSSI,
		At:           m.At,
	}
}

// Validate checks the message before dispatch. Run Normalize first so
// unreported levels carry the unknown values.
func (m *Message) Validate() error {
	if m.Payload == nil {
		return ErrNoPayload
	}
	if err := device.ValidateIdentity(m.Identity()); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := device.ValidateLevels(m.Battery, m.RSSI); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return nil
}

// Normalize fills in defaults for fields the adapter left empty.
func (m *Message) Normalize(hardwareID int, now time.Time) {
	if m.HardwareID == 0 {
		m.HardwareID = hardwareID
	}
	if m.At.IsZero() {
		m.At = now
	}
	if !m.HasBattery {
		m.Battery = BatteryUnknown
	}
	if !m.HasRSSI {
		m.RSSI = SignalUnknown
	}
}
