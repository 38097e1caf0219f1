package modbusmeter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oikomaticz/oikomaticz-core/internal/infrastructure/config"
)

func TestParseRegisterMap(t *testing.T) {
	m, err := ParseRegisterMap(config.HardwareConfig{Options: map[string]string{
		"power_register":  "12",
		"import_register": "0x48",
		"register_kind":   "input",
	}})
	require.NoError(t, err)
	require.NotNil(t, m.Power)
	require.NotNil(t, m.Import)
	assert.Equal(t, uint16(12), *m.Power)
	assert.Equal(t, uint16(0x48), *m.Import)
	assert.Nil(t, m.Export)
	assert.True(t, m.Input)
	assert.Len(t, m.Fields(), 2)
}

func TestParseRegisterMap_Errors(t *testing.T) {
	_, err := ParseRegisterMap(config.HardwareConfig{})
	assert.ErrorIs(t, err, ErrNoRegisters)

	_, err = ParseRegisterMap(config.HardwareConfig{Options: map[string]string{"power_register": "70000"}})
	assert.ErrorIs(t, err, ErrBadRegister)
}

func TestDecode(t *testing.T) {
	r := Decode(map[string]any{
		fieldPower:   int32(-850),
		fieldImport:  uint32(123456),
		fieldExport:  uint32(7890),
		fieldVoltage: uint16(2315),
	})
	assert.Equal(t, Reading{
		Watt: -850, ImportWh: 123456, ExportWh: 7890, Volt: 231.5,
		HasPower: true, HasImport: true, HasExport: true, HasVoltage: true,
	}, r)

	r = Decode(map[string]any{fieldPower: "bogus"})
	assert.False(t, r.HasPower)
}
