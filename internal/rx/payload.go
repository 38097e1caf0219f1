package rx

import (
	"strconv"
	"strings"

	"github.com/oikomaticz/oikomaticz-core/internal/device"
)

// Kind names a payload type.
type Kind string

// Payload kinds.
const (
	KindTemp        Kind = "Temp"
	KindHumidity    Kind = "Humidity"
	KindTempHum     Kind = "TempHum"
	KindTempHumBaro Kind = "TempHumBaro"
	KindP1Power     Kind = "Power"
	KindP1Gas       Kind = "Gas"
	KindEnergy      Kind = "kWh"
	KindVoltage     Kind = "Voltage"
	KindCurrent     Kind = "Current"
	KindPercentage  Kind = "Percentage"
	KindCounter     Kind = "Counter"
	KindText        Kind = "Text"
	KindSwitch      Kind = "Switch"
	KindSetpoint    Kind = "Setpoint"
	KindAlert       Kind = "Alert"
)

// Payload is the typed content of a Message.
type Payload interface {
	Kind() Kind
	Type() device.Type
	SubType() device.SubType
	// Encode returns the nvalue and svalue stored for this reading.
	Encode() (nvalue int, svalue string)
}

// Humidity status codes stored alongside relative humidity.
const (
	HumidityNormal      = 0
	HumidityComfortable = 1
	HumidityDry         = 2
	HumidityWet         = 3
)

// HumidityStatus classifies a relative humidity percentage.
func HumidityStatus(h int) int {
	switch {
	case h < 30:
		return HumidityDry
	case h > 70:
		return HumidityWet
	case h >= 40 && h <= 60:
		return HumidityComfortable
	default:
		return HumidityNormal
	}
}

func formatFloat(v float64, prec int) string {
	return strconv.FormatFloat(v, 'f', prec, 64)
}

func join(fields ...string) string {
	return strings.Join(fields, ";")
}

// Temp is a temperature in °C.
type Temp struct {
	Celsius float64
}

func (Temp) Kind() Kind              { return KindTemp }
func (Temp) Type() device.Type       { return device.TypeTemp }
func (Temp) SubType() device.SubType { return device.SubTypeDefault }
func (p Temp) Encode() (int, string) { return 0, formatFloat(p.Celsius, 1) }

// Humidity is a relative humidity percentage.
type Humidity struct {
	Percent int
}

func (Humidity) Kind() Kind              { return KindHumidity }
func (Humidity) Type() device.Type       { return device.TypeHumidity }
func (Humidity) SubType() device.SubType { return device.SubTypeDefault }
func (p Humidity) Encode() (int, string) {
	return p.Percent, strconv.Itoa(HumidityStatus(p.Percent))
}

// TempHum is a combined temperature and humidity sensor.
type TempHum struct {
	Celsius  float64
	Humidity int
}

func (TempHum) Kind() Kind              { return KindTempHum }
func (TempHum) Type() device.Type       { return device.TypeTempHum }
func (TempHum) SubType() device.SubType { return device.SubTypeDefault }
func (p TempHum) Encode() (int, string) {
	return 0, join(formatFloat(p.Celsius, 1), strconv.Itoa(p.Humidity), strconv.Itoa(HumidityStatus(p.Humidity)))
}

// TempHumBaro adds barometric pressure in hPa and a forecast code.
type TempHumBaro struct {
	Celsius  float64
	Humidity int
	Baro     float64
	Forecast int
}

func (TempHumBaro) Kind() Kind              { return KindTempHumBaro }
func (TempHumBaro) Type() device.Type       { return device.TypeTempHumBaro }
func (TempHumBaro) SubType() device.SubType { return device.SubTypeDefault }
func (p TempHumBaro) Encode() (int, string) {
	return 0, join(
		formatFloat(p.Celsius, 1),
		strconv.Itoa(p.Humidity),
		strconv.Itoa(HumidityStatus(p.Humidity)),
		formatFloat(p.Baro, 1),
		strconv.Itoa(p.Forecast),
	)
}

// P1Power is the electricity part of a smart meter. Counters are in Wh,
// current usage and delivery in W.
type P1Power struct {
	Usage1  uint64
	Usage2  uint64
	Return1 uint64
	Return2 uint64
	Cons    int64
	Prod    int64
}

func (P1Power) Kind() Kind              { return KindP1Power }
func (P1Power) Type() device.Type       { return device.TypeP1Power }
func (P1Power) SubType() device.SubType { return device.SubTypeDefault }
func (p P1Power) Encode() (int, string) {
	return 0, join(
		strconv.FormatUint(p.Usage1, 10),
		strconv.FormatUint(p.Usage2, 10),
		strconv.FormatUint(p.Return1, 10),
		strconv.FormatUint(p.Return2, 10),
		strconv.FormatInt(p.Cons, 10),
		strconv.FormatInt(p.Prod, 10),
	)
}

// P1Gas is the gas counter of a smart meter in m³. It is stored in litres.
type P1Gas struct {
	M3 float64
}

func (P1Gas) Kind() Kind              { return KindP1Gas }
func (P1Gas) Type() device.Type       { return device.TypeP1Gas }
func (P1Gas) SubType() device.SubType { return device.SubTypeDefault }
func (p P1Gas) Encode() (int, string) {
	return 0, strconv.FormatInt(int64(p.M3*1000+0.5), 10)
}

// Energy is an instantaneous power in W plus a lifetime total in Wh.
type Energy struct {
	Watt    float64
	WhTotal float64
}

func (Energy) Kind() Kind              { return KindEnergy }
func (Energy) Type() device.Type       { return device.TypeGeneral }
func (Energy) SubType() device.SubType { return device.SubTypeKwh }
func (p Energy) Encode() (int, string) {
	return 0, join(formatFloat(p.Watt, 3), formatFloat(p.WhTotal, 3))
}

// Voltage in V.
type Voltage struct {
	Volt float64
}

func (Voltage) Kind() Kind              { return KindVoltage }
func (Voltage) Type() device.Type       { return device.TypeGeneral }
func (Voltage) SubType() device.SubType { return device.SubTypeVoltage }
func (p Voltage) Encode() (int, string) { return 0, formatFloat(p.Volt, 3) }

// Current is a three phase current in A. Single phase meters fill L1 only.
type Current struct {
	L1, L2, L3 float64
}

func (Current) Kind() Kind              { return KindCurrent }
func (Current) Type() device.Type       { return device.TypeCurrent }
func (Current) SubType() device.SubType { return device.SubTypeDefault }
func (p Current) Encode() (int, string) {
	return 0, join(formatFloat(p.L1, 1), formatFloat(p.L2, 1), formatFloat(p.L3, 1))
}

// Percentage is a 0-100 value.
type Percentage struct {
	Percent float64
}

func (Percentage) Kind() Kind              { return KindPercentage }
func (Percentage) Type() device.Type       { return device.TypeGeneral }
func (Percentage) SubType() device.SubType { return device.SubTypePercentage }
func (p Percentage) Encode() (int, string) { return 0, formatFloat(p.Percent, 2) }

// Counter is an incrementing meter value.
type Counter struct {
	Value uint64
}

func (Counter) Kind() Kind              { return KindCounter }
func (Counter) Type() device.Type       { return device.TypeCounter }
func (Counter) SubType() device.SubType { return device.SubTypeDefault }
func (p Counter) Encode() (int, string) { return 0, strconv.FormatUint(p.Value, 10) }

// Text is a free text device.
type Text struct {
	Text string
}

func (Text) Kind() Kind              { return KindText }
func (Text) Type() device.Type       { return device.TypeGeneral }
func (Text) SubType() device.SubType { return device.SubTypeText }
func (p Text) Encode() (int, string) { return 0, p.Text }

// Switch state. Level is only meaningful with SwitchSetLevel.
type Switch struct {
	State SwitchState
	Level int
}

// SwitchState is the nvalue of a switch device.
type SwitchState int

// Switch states.
const (
	SwitchOff      SwitchState = device.SwitchOff
	SwitchOn       SwitchState = device.SwitchOn
	SwitchSetLevel SwitchState = device.SwitchSetLevel
)

func (Switch) Kind() Kind              { return KindSwitch }
func (Switch) Type() device.Type       { return device.TypeGeneralSwitch }
func (Switch) SubType() device.SubType { return device.SubTypeSwitch }
func (p Switch) Encode() (int, string) { return int(p.State), strconv.Itoa(p.Level) }

// Setpoint is a thermostat target temperature in °C.
type Setpoint struct {
	Celsius float64
}

func (Setpoint) Kind() Kind              { return KindSetpoint }
func (Setpoint) Type() device.Type       { return device.TypeSetpoint }
func (Setpoint) SubType() device.SubType { return device.SubTypeDefault }
func (p Setpoint) Encode() (int, string) { return 0, formatFloat(p.Celsius, 2) }

// Alert levels, from grey to red.
const (
	AlertUndefined = 0
	AlertNormal    = 1
	AlertWarning   = 2
	AlertMajor     = 3
	AlertCritical  = 4
)

// Alert is a coloured status text.
type Alert struct {
	Level int
	Text  string
}

func (Alert) Kind() Kind              { return KindAlert }
func (Alert) Type() device.Type       { return device.TypeGeneral }
func (Alert) SubType() device.SubType { return device.SubTypeAlert }
func (p Alert) Encode() (int, string) { return p.Level, p.Text }
