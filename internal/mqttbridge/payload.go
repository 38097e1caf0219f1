package mqttbridge

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/oikomaticz/oikomaticz-core/internal/device"
)

// outPayload renders a device the way Domoticz publishes it on
// domoticz/out: svalue fields are split into svalue1..n.
func outPayload(d *device.Device) ([]byte, error) {
	m := map[string]any{
		"idx":        d.Idx,
		"id":         d.DeviceID,
		"unit":       d.Unit,
		"name":       d.Name,
		"dtype":      d.Type.String(),
		"stype":      subTypeName(d),
		"switchType": d.SwitchType,
		"nvalue":     d.NValue,
		"Battery":    d.BatteryLevel,
		"RSSI":       d.SignalLevel,
		"hwid":       strconv.Itoa(d.HardwareID),
	}
	for i, f := range d.Fields() {
		m[fmt.Sprintf("svalue%d", i+1)] = f
	}
	return json.Marshal(m)
}

var subTypeNames = map[device.SubType]string{
	device.SubTypePercentage: "Percentage",
	device.SubTypeVoltage:    "Voltage",
	device.SubTypeText:       "Text",
	device.SubTypeAlert:      "Alert",
	device.SubTypeAmpere:     "Current",
	device.SubTypeKwh:        "kWh",
	device.SubTypeCustom:     "Custom Sensor",
}

func subTypeName(d *device.Device) string {
	switch d.Type {
	case device.TypeGeneral:
		if name, ok := subTypeNames[d.SubType]; ok {
			return name
		}
	case device.TypeGeneralSwitch:
		return "Switch"
	case device.TypeSetpoint:
		return "SetPoint"
	case device.TypeP1Power:
		return "Energy"
	case device.TypeP1Gas:
		return "Gas"
	}
	return fmt.Sprintf("0x%02X", uint8(d.SubType))
}

// Inbound commands on domoticz/in.
const (
	cmdSwitchLight = "switchlight"
	cmdSetSetpoint = "setsetpoint"
	cmdUDevice     = "udevice"
)

// inMessage is an inbound command. Numbers may arrive as JSON numbers or
// as strings, since Domoticz clients send both.
type inMessage struct {
	Command   string  `json:"command"`
	Idx       flexNum `json:"idx"`
	SwitchCmd string  `json:"switchcmd"`
	Level     flexNum `json:"level"`
	Setpoint  flexNum `json:"setpoint"`
	NValue    flexNum `json:"nvalue"`
	SValue    string  `json:"svalue"`
}

// flexNum is a number that may be quoted. Set reports whether it was present.
type flexNum struct {
	Value float64
	Set   bool
}

func (n *flexNum) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	s := strings.Trim(string(b), `"`)
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return fmt.Errorf("not a number: %s", b)
	}
	n.Value, n.Set = v, true
	return nil
}

func parseInbound(payload []byte) (*inMessage, error) {
	var msg inMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	msg.Command = strings.ToLower(strings.TrimSpace(msg.Command))
	if msg.Command == "" {
		return nil, fmt.Errorf("%w: missing command", ErrInvalidPayload)
	}
	if !msg.Idx.Set || msg.Idx.Value <= 0 {
		return nil, fmt.Errorf("%w: missing idx", ErrInvalidPayload)
	}
	return &msg, nil
}
