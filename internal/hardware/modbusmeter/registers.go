package modbusmeter

import (
	"fmt"
	"strconv"

	"github.com/aldas/go-modbus-client"

	"github.com/oikomaticz/oikomaticz-core/internal/infrastructure/config"
)

// Field names in the request builder.
const (
	fieldPower   = "power"
	fieldImport  = "import"
	fieldExport  = "export"
	fieldVoltage = "voltage"
)

// RegisterMap holds the register address of each quantity. A nil address
// means the meter does not expose it.
type RegisterMap struct {
	Power   *uint16 // int32, W
	Import  *uint16 // uint32, Wh
	Export  *uint16 // uint32, Wh
	Voltage *uint16 // uint16, 0.1 V

	Input bool // read input registers instead of holding registers
}

// ParseRegisterMap reads the *_register options of a hardware entry.
func ParseRegisterMap(cfg config.HardwareConfig) (RegisterMap, error) {
	var m RegisterMap
	for key, dst := range map[string]**uint16{
		"power_register":   &m.Power,
		"import_register":  &m.Import,
		"export_register":  &m.Export,
		"voltage_register": &m.Voltage,
	} {
		raw := cfg.Option(key, "")
		if raw == "" {
			continue
		}
		v, err := strconv.ParseUint(raw, 0, 16)
		if err != nil {
			return RegisterMap{}, fmt.Errorf("%w: %s=%q", ErrBadRegister, key, raw)
		}
		addr := uint16(v)
		*dst = &addr
	}
	if m.Power == nil && m.Import == nil && m.Export == nil && m.Voltage == nil {
		return RegisterMap{}, ErrNoRegisters
	}
	m.Input = cfg.Option("register_kind", "holding") == "input"
	return m, nil
}

// Fields returns the builder fields for the mapped registers.
func (m RegisterMap) Fields() []modbus.Field {
	var fields []modbus.Field
	add := func(name string, addr *uint16, typ modbus.FieldType) {
		if addr != nil {
			fields = append(fields, modbus.Field{Name: name, Type: typ, Address: *addr})
		}
	}
	add(fieldPower, m.Power, modbus.FieldTypeInt32)
	add(fieldImport, m.Import, modbus.FieldTypeUint32)
	add(fieldExport, m.Export, modbus.FieldTypeUint32)
	add(fieldVoltage, m.Voltage, modbus.FieldTypeUint16)
	return fields
}

// Reading is one decoded set of meter values.
type Reading struct {
	Watt     float64
	ImportWh uint64
	ExportWh uint64
	Volt     float64

	HasPower   bool
	HasImport  bool
	HasExport  bool
	HasVoltage bool
}

// Decode turns extracted field values into a Reading.
func Decode(values map[string]any) Reading {
	var r Reading
	if v, ok := number(values[fieldPower]); ok {
		r.Watt, r.HasPower = v, true
	}
	if v, ok := number(values[fieldImport]); ok {
		r.ImportWh, r.HasImport = uint64(v), true
	}
	if v, ok := number(values[fieldExport]); ok {
		r.ExportWh, r.HasExport = uint64(v), true
	}
	if v, ok := number(values[fieldVoltage]); ok {
		r.Volt, r.HasVoltage = v/10, true
	}
	return r
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int16:
		return float64(n), true
	case uint16:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
