package device

import (
	"fmt"
	"maps"
	"strconv"
	"strings"
	"time"
)

// Type is the device type code stored in the devices table.
//
// Codes follow the RFXtrx-style numbering the hub has always used so that
// existing databases and MQTT consumers keep working.
type Type uint8

// Device types produced by the hardware adapters.
const (
	TypeTemp          Type = 0x50
	TypeHumidity      Type = 0x51
	TypeTempHum       Type = 0x52
	TypeTempHumBaro   Type = 0x54
	TypeCurrent       Type = 0x59
	TypeEnergy        Type = 0x5A
	TypeCounter       Type = 0x71
	TypeSetpoint      Type = 0xF2
	TypeGeneral       Type = 0xF3
	TypeGeneralSwitch Type = 0xF4
	TypeP1Power       Type = 0xFA
	TypeP1Gas         Type = 0xFB
)

// SubType refines Type. Its meaning depends on the Type.
type SubType uint8

// Subtypes.
const (
	SubTypeDefault SubType = 0x01

	// TypeGeneral subtypes.
	SubTypePercentage SubType = 0x06
	SubTypeVoltage    SubType = 0x08
	SubTypeText       SubType = 0x13
	SubTypeAlert      SubType = 0x16
	SubTypeAmpere     SubType = 0x17
	SubTypeKwh        SubType = 0x1D
	SubTypeCustom     SubType = 0x1F

	// TypeGeneralSwitch subtypes.
	SubTypeSwitch SubType = 0x49
)

var typeNames = map[Type]string{
	TypeTemp:          "Temp",
	TypeHumidity:      "Humidity",
	TypeTempHum:       "Temp + Humidity",
	TypeTempHumBaro:   "Temp + Humidity + Baro",
	TypeCurrent:       "Current",
	TypeEnergy:        "Energy",
	TypeCounter:       "RFXMeter",
	TypeSetpoint:      "Thermostat",
	TypeGeneral:       "General",
	TypeGeneralSwitch: "Light/Switch",
	TypeP1Power:       "P1 Smart Meter",
	TypeP1Gas:         "P1 Smart Meter",
}

// String returns the display name of the type.
func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(0x%02X)", uint8(t))
}

// Known reports whether t is a type the hub understands.
func (t Type) Known() bool {
	_, ok := typeNames[t]
	return ok
}

// SwitchType controls how a switch device interprets commands and levels.
type SwitchType int

// Switch types.
const (
	SwitchTypeOnOff    SwitchType = 0
	SwitchTypeDimmer   SwitchType = 7
	SwitchTypeSelector SwitchType = 18
	SwitchTypePushOn   SwitchType = 9
)

// Switch nvalues.
const (
	SwitchOff      = 0
	SwitchOn       = 1
	SwitchSetLevel = 2
)

// Battery and signal defaults for devices that do not report them.
const (
	BatteryUnknown = 255
	SignalUnknown  = 12
)

// Identity is the natural key of a device: which hardware reported it and
// under which id, unit and type.
type Identity struct {
	HardwareID int     `json:"hardware_id"`
	DeviceID   string  `json:"device_id"`
	Unit       int     `json:"unit"`
	Type       Type    `json:"type"`
	SubType    SubType `json:"subtype"`
}

// String renders the identity for logs.
func (id Identity) String() string {
	return fmt.Sprintf("hw%d/%s/%d/%02X.%02X", id.HardwareID, id.DeviceID, id.Unit, uint8(id.Type), uint8(id.SubType))
}

// Device is one row of the DeviceStatus table.
type Device struct {
	Idx int64 `json:"idx"`
	Identity

	Name       string     `json:"name"`
	SwitchType SwitchType `json:"switch_type"`
	Used       bool       `json:"used"`
	Protected  bool       `json:"protected"`

	NValue       int    `json:"nvalue"`
	SValue       string `json:"svalue"`
	BatteryLevel int    `json:"battery_level"`
	SignalLevel  int    `json:"signal_level"`

	// Options carries per-device settings such as a meter divider or the
	// selector level names.
	Options map[string]string `json:"options,omitempty"`

	LastUpdate time.Time `json:"last_update"`
	CreatedAt  time.Time `json:"created_at"`
}

// DeepCopy creates an independent copy. The registry hands out copies only.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}
	cp := *d
	cp.Options = maps.Clone(d.Options)
	return &cp
}

// Fields splits SValue on ';'. An empty SValue yields no fields.
func (d *Device) Fields() []string {
	if d.SValue == "" {
		return nil
	}
	return strings.Split(d.SValue, ";")
}

// Field parses the i-th svalue field as a number.
func (d *Device) Field(i int) (float64, error) {
	fields := d.Fields()
	if i < 0 || i >= len(fields) {
		return 0, fmt.Errorf("%w: field %d of %q", ErrFieldOutOfRange, i, d.SValue)
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(fields[i]), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: field %d of %q", ErrFieldNotNumeric, i, d.SValue)
	}
	return v, nil
}

// IsSwitch reports whether the device accepts switch commands.
func (d *Device) IsSwitch() bool {
	return d.Type == TypeGeneralSwitch
}

// IsMeter reports whether readings should be recorded into history.
func (d *Device) IsMeter() bool {
	switch d.Type {
	case TypeTemp, TypeHumidity, TypeTempHum, TypeTempHumBaro, TypeP1Power, TypeP1Gas,
		TypeEnergy, TypeCounter, TypeCurrent, TypeSetpoint:
		return true
	case TypeGeneral:
		return d.SubType != SubTypeText && d.SubType != SubTypeAlert
	default:
		return false
	}
}

// Value is a reading applied to an existing device.
type Value struct {
	NValue       int
	SValue       string
	BatteryLevel int
	SignalLevel  int
	At           time.Time
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	HardwareID int
	Type       Type
	UsedOnly   bool
}

func (f Filter) match(d *Device) bool {
	if f.HardwareID != 0 && d.HardwareID != f.HardwareID {
		return false
	}
	if f.Type != 0 && d.Type != f.Type {
		return false
	}
	if f.UsedOnly && !d.Used {
		return false
	}
	return true
}

// Sample is a historic reading of a device.
type Sample struct {
	ID         int64     `json:"id"`
	DeviceIdx  int64     `json:"device_idx"`
	NValue     int       `json:"nvalue"`
	SValue     string    `json:"svalue"`
	RecordedAt time.Time `json:"recorded_at"`
}
