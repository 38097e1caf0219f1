package p1

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readFixture(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile("testdata/" + name)
	require.NoError(t, err)
	return data
}

func TestCRC16(t *testing.T) {
	// CRC-16/ARC check value.
	assert.Equal(t, uint16(0xBB3D), CRC16([]byte("123456789")))
	assert.Equal(t, uint16(0), CRC16(nil))

	data := readFixture(t, "dsmr50.txt")
	end := bytes.IndexByte(data, '!')
	assert.Equal(t, uint16(0xD184), CRC16(data[:end+1]))
}

func TestParseTelegram_DSMR5(t *testing.T) {
	data := readFixture(t, "dsmr50.txt")
	end := bytes.IndexByte(data, '!')

	tg, err := ParseTelegram(data[:end+1])
	require.NoError(t, err)

	assert.Equal(t, `ISk5\2MT382-1000`, tg.Header)
	assert.Equal(t, "50", tg.Version)
	assert.Equal(t, "260301120000W", tg.Timestamp)
	assert.Equal(t, "4B384547303034303436333935353037", tg.EquipmentID)
	assert.InDelta(t, 123456.789, tg.Usage1, 1e-9)
	assert.InDelta(t, 12.345, tg.Return1, 1e-9)
	assert.Equal(t, 2, tg.Tariff)
	assert.InDelta(t, 1.193, tg.PowerUsage, 1e-9)
	assert.Equal(t, 4, tg.PowerFailures)
	assert.Equal(t, 2, tg.LongPowerFailures)
	assert.Equal(t, [3]float64{220.1, 220.2, 220.3}, tg.Voltage)
	assert.Equal(t, [3]float64{1, 2, 3}, tg.Current)
	assert.True(t, tg.HasPhasePower(2))
	assert.InDelta(t, 3.333, tg.PhaseUsage[2], 1e-9)

	require.NotNil(t, tg.Gas)
	assert.Equal(t, 1, tg.Gas.Channel)
	assert.Equal(t, "260301115500W", tg.Gas.Timestamp)
	assert.InDelta(t, 12785.123, tg.Gas.M3, 1e-9)
	assert.Nil(t, tg.Water)
}

func TestParseTelegram_LegacyGas(t *testing.T) {
	data := readFixture(t, "dsmr22.txt")
	end := bytes.IndexByte(data, '!')

	tg, err := ParseTelegram(data[:end+1])
	require.NoError(t, err)

	assert.InDelta(t, 7410.0, tg.Usage1, 1e-9)
	assert.InDelta(t, 0.24, tg.PowerUsage, 1e-9)
	assert.False(t, tg.HasVoltage(0))
	require.NotNil(t, tg.Gas)
	assert.Equal(t, "121030140000", tg.Gas.Timestamp)
	assert.InDelta(t, 844.651, tg.Gas.M3, 1e-9)
}

func TestParseTelegram_WaterChannel(t *testing.T) {
	raw := "/XMX5\r\n\r\n" +
		"0-1:24.1.0(007)\r\n" +
		"0-1:24.2.1(260301110000W)(00012.345*m3)\r\n" +
		"0-2:24.1.0(003)\r\n" +
		"0-2:24.2.1(260301110000W)(00100.000*m3)\r\n" +
		"!"

	tg, err := ParseTelegram([]byte(raw))
	require.NoError(t, err)
	require.NotNil(t, tg.Water)
	require.NotNil(t, tg.Gas)
	assert.InDelta(t, 12.345, tg.Water.M3, 1e-9)
	assert.Equal(t, 2, tg.Gas.Channel)
}

func TestParseTelegram_Errors(t *testing.T) {
	_, err := ParseTelegram([]byte("1-0:1.8.1(1*kWh)\r\n!"))
	assert.ErrorIs(t, err, ErrNoHeader)

	_, err = ParseTelegram([]byte("/X\r\n1-0:1.8.1(abc*kWh)\r\n!"))
	assert.Error(t, err)
}

func TestParser_SplitReads(t *testing.T) {
	data := readFixture(t, "dsmr50.txt")
	p := NewParser()

	var results []Result
	for i := 0; i < len(data); i += 7 {
		end := min(i+7, len(data))
		results = append(results, p.Feed(data[i:end])...)
	}

	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	assert.InDelta(t, 1.193, results[0].Telegram.PowerUsage, 1e-9)
	assert.Equal(t, 0, p.Buffered())
}

func TestParser_ResyncAndGarbage(t *testing.T) {
	data := readFixture(t, "dsmr50.txt")
	p := NewParser()

	// Garbage, then a truncated telegram, then a complete one.
	stream := append([]byte("\x00\xffnoise"), data[:200]...)
	stream = append(stream, data...)

	results := p.Feed(stream)
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
}

func TestParser_CRCMismatch(t *testing.T) {
	data := readFixture(t, "dsmr50.txt")
	corrupt := bytes.Replace(data, []byte("01.193*kW"), []byte("01.194*kW"), 1)

	results := NewParser().Feed(corrupt)
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, ErrCRCMismatch)
	assert.Nil(t, results[0].Telegram)

	badField := bytes.Replace(data, []byte("!D184"), []byte("!ZZ"), 1)
	results = NewParser().Feed(badField)
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, ErrBadCRCField)
}

func TestParser_NoCRCTelegram(t *testing.T) {
	results := NewParser().Feed(readFixture(t, "dsmr22.txt"))
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	require.NotNil(t, results[0].Telegram.Gas)
}

func TestParser_Overflow(t *testing.T) {
	p := NewParser()
	p.maxSize = 64

	results := p.Feed(append([]byte("/"), bytes.Repeat([]byte("a"), 100)...))
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, ErrBufferOverflow)
	assert.Equal(t, 0, p.Buffered())
}
