package rx

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oikomaticz/oikomaticz-core/internal/device"
)

func TestPayloadEncode(t *testing.T) {
	tests := []struct {
		name    string
		payload Payload
		nvalue  int
		svalue  string
	}{
		{"temp", Temp{Celsius: 21.46}, 0, "21.5"},
		{"humidity dry", Humidity{Percent: 25}, 25, "2"},
		{"temphum", TempHum{Celsius: -3.2, Humidity: 50}, 0, "-3.2;50;1"},
		{"temphumbaro", TempHumBaro{Celsius: 18, Humidity: 80, Baro: 1013.25, Forecast: 4}, 0, "18.0;80;3;1013.2;4"},
		{"p1 power", P1Power{Usage1: 123456, Usage2: 654321, Return1: 1, Return2: 2, Cons: 450, Prod: 0}, 0, "123456;654321;1;2;450;0"},
		{"p1 gas", P1Gas{M3: 1234.567}, 0, "1234567"},
		{"energy", Energy{Watt: 1500, WhTotal: 2500.5}, 0, "1500.000;2500.500"},
		{"voltage", Voltage{Volt: 230.1}, 0, "230.100"},
		{"current", Current{L1: 1.25, L2: 0, L3: 3}, 0, "1.2;0.0;3.0"},
		{"percentage", Percentage{Percent: 55.5}, 0, "55.50"},
		{"counter", Counter{Value: 42}, 0, "42"},
		{"text", Text{Text: "Auto"}, 0, "Auto"},
		{"switch on", Switch{State: SwitchOn}, 1, "0"},
		{"switch level", Switch{State: SwitchSetLevel, Level: 40}, 2, "40"},
		{"setpoint", Setpoint{Celsius: 20.5}, 0, "20.50"},
		{"setpoint whole", Setpoint{Celsius: 21}, 0, "21.00"},
		{"setpoint quarter", Setpoint{Celsius: 19.25}, 0, "19.25"},
		{"alert", Alert{Level: AlertWarning, Text: "low battery"}, 2, "low battery"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nvalue, svalue := tt.payload.Encode()
			assert.Equal(t, tt.nvalue, nvalue)
			assert.Equal(t, tt.svalue, svalue)
			assert.True(t, tt.payload.Type().Known(), "type %v must be known to the device store", tt.payload.Type())
		})
	}
}

func TestHumidityStatus(t *testing.T) {
	assert.Equal(t, HumidityDry, HumidityStatus(10))
	assert.Equal(t, HumidityNormal, HumidityStatus(35))
	assert.Equal(t, HumidityComfortable, HumidityStatus(45))
	assert.Equal(t, HumidityWet, HumidityStatus(90))
}

func TestMessageNormalizeAndValidate(t *testing.T) {
	msg := Message{DeviceID: "0001", Unit: 1, Payload: Temp{Celsius: 20}}
	require.NoError(t, (&Message{HardwareID: 3, DeviceID: "x", Payload: Temp{}, Battery: 255, RSSI: 12}).Validate())

	msg.Normalize(7, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	assert.Equal(t, 7, msg.HardwareID)
	assert.Equal(t, BatteryUnknown, msg.Battery)
	assert.Equal(t, SignalUnknown, msg.RSSI)
	assert.False(t, msg.At.IsZero())
	require.NoError(t, msg.Validate())

	id := msg.Identity()
	assert.Equal(t, device.TypeTemp, id.Type)
	assert.Equal(t, "Temp 0001", msg.DefaultName())

	msg.Name = "Attic"
	assert.Equal(t, "Attic", msg.DefaultName())

	assert.ErrorIs(t, (&Message{}).Validate(), ErrNoPayload)
	assert.ErrorIs(t, (&Message{HardwareID: 1, Payload: Temp{}, Battery: 255, RSSI: 12}).Validate(), ErrInvalidMessage)
	assert.ErrorIs(t, (&Message{HardwareID: 1, DeviceID: "a", Payload: Temp{}, Battery: 255, RSSI: 20}).Validate(), ErrInvalidMessage)
}

func TestMessageNormalizeKeepsReportedZeroLevels(t *testing.T) {
	msg := Message{DeviceID: "0001", Unit: 1, Payload: Temp{Celsius: 20}, HasBattery: true, HasRSSI: true}
	msg.Normalize(1, time.Now())

	assert.Equal(t, 0, msg.Battery)
	assert.Equal(t, 0, msg.RSSI)
	require.NoError(t, msg.Validate())

	v := msg.Value()
	assert.Equal(t, 0, v.BatteryLevel)
	assert.Equal(t, 0, v.SignalLevel)

	reported := Message{DeviceID: "0001", Unit: 1, Payload: Temp{}, Battery: 0, RSSI: 0}
	reported.Normalize(1, time.Now())
	assert.Equal(t, BatteryUnknown, reported.Battery)
	assert.Equal(t, SignalUnknown, reported.RSSI)
}

func TestParseSwitchAction(t *testing.T) {
	for in, want := range map[string]SwitchAction{
		"On":        ActionOn,
		"off":       ActionOff,
		"TOGGLE":    ActionToggle,
		"Set Level": ActionSetLevel,
	} {
		got, err := ParseSwitchAction(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseSwitchAction("dim")
	assert.ErrorIs(t, err, ErrUnsupportedCommand)
}

func TestCommandState(t *testing.T) {
	assert.Equal(t, Switch{State: SwitchOn}, Command{Kind: CommandSwitch, Action: ActionOn}.State())
	assert.Equal(t, Switch{State: SwitchSetLevel, Level: 30}, Command{Kind: CommandSwitch, Action: ActionSetLevel, Level: 30}.State())
	assert.Equal(t, Setpoint{Celsius: 19}, Command{Kind: CommandSetpoint, Setpoint: 19}.State())
}

func TestCommandStateKeepsDimmerLevel(t *testing.T) {
	dimmer := device.Device{NValue: device.SwitchSetLevel, SValue: "40"}

	on := Command{Kind: CommandSwitch, Device: dimmer, Action: ActionOn}.State()
	assert.Equal(t, Switch{State: SwitchOn, Level: 40}, on)
	nvalue, svalue := on.Encode()
	assert.Equal(t, device.SwitchOn, nvalue)
	assert.Equal(t, "40", svalue)

	off := Command{Kind: CommandSwitch, Device: dimmer, Action: ActionOff}.State()
	assert.Equal(t, Switch{State: SwitchOff, Level: 40}, off)

	level := Command{Kind: CommandSwitch, Device: dimmer, Action: ActionSetLevel, Level: 70}.State()
	assert.Equal(t, Switch{State: SwitchSetLevel, Level: 70}, level)
}
