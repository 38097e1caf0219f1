package apsystems

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Commands of the ECU socket protocol.
const (
	CmdECUInfo      = "0001"
	CmdInverterData = "0002"
	CmdSignal       = "0030"
)

const (
	framePrefix  = "APS"
	frameTrailer = "END"

	// headerSize is "APS", version (2), length (4) and command (4).
	headerSize = 13
	// ecuIDLength is the ASCII serial number of the ECU.
	ecuIDLength = 12
	uidLength   = 6
)

// ECUInfoQuery returns the query for the ECU summary.
func ECUInfoQuery() []byte {
	return []byte("APS1100160001END\n")
}

// InverterDataQuery returns the query for per-inverter data.
func InverterDataQuery(ecuID string) []byte {
	return []byte("APS1100280002" + ecuID + "END\n")
}

// SignalQuery returns the query for inverter radio signal strength.
func SignalQuery(ecuID string) []byte {
	return []byte("APS1100280030" + ecuID + "END\n")
}

// checkFrame validates the envelope of a response and returns its body.
// The length field counts every byte except the final newline.
func checkFrame(b []byte, cmd string) ([]byte, error) {
	b = bytes.TrimRight(b, "\r\n")
	if len(b) < headerSize+len(frameTrailer) ||
		!bytes.HasPrefix(b, []byte(framePrefix)) ||
		!bytes.HasSuffix(b, []byte(frameTrailer)) {
		return nil, ErrBadFrame
	}

	n, err := strconv.Atoi(string(b[5:9]))
	if err != nil {
		return nil, fmt.Errorf("%w: length field %q", ErrBadFrame, b[5:9])
	}
	if n != len(b) {
		return nil, fmt.Errorf("%w: header says %d, received %d", ErrLengthMismatch, n, len(b))
	}
	if got := string(b[9:13]); got != cmd {
		return nil, fmt.Errorf("%w: want %s, got %s", ErrUnexpectedCommand, cmd, got)
	}
	return b[headerSize : len(b)-len(frameTrailer)], nil
}

// reader walks a response body and remembers the first short read.
type reader struct {
	b   []byte
	off int
	err error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.off+n > len(r.b) {
		r.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrTruncated, n, r.off, len(r.b))
		return nil
	}
	out := r.b[r.off : r.off+n]
	r.off += n
	return out
}

func (r *reader) str(n int) string {
	return strings.TrimSpace(string(r.take(n)))
}

func (r *reader) u8() int {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return int(b[0])
}

func (r *reader) u16() int {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return int(binary.BigEndian.Uint16(b))
}

func (r *reader) u32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

// decimal reads an n digit ASCII number.
func (r *reader) decimal(n int) int {
	s := r.str(n)
	if r.err != nil {
		return 0
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		r.err = fmt.Errorf("%w: %q is not a number", ErrBadFrame, s)
	}
	return v
}

// bcdTime decodes a 7 byte BCD timestamp, YYYYMMDDhhmmss.
func (r *reader) bcdTime(loc *time.Location) time.Time {
	b := r.take(7)
	if b == nil {
		return time.Time{}
	}
	t, err := time.ParseInLocation("20060102150405", hex.EncodeToString(b), loc)
	if err != nil {
		r.err = fmt.Errorf("%w: timestamp %X", ErrBadFrame, b)
		return time.Time{}
	}
	return t
}

// ECUInfo is the answer to the ECU info query.
type ECUInfo struct {
	ID    string
	Model string

	LifetimeKWh  float64
	CurrentPower int
	TodayKWh     float64

	Inverters       int
	OnlineInverters int

	Firmware string
	Timezone string
}

// ParseECUInfo decodes a response to ECUInfoQuery.
//
// Body layout: id (12 ASCII), model (2 ASCII), lifetime energy (u32, 0.1
// kWh), current power (u32, W), today's energy (u32, 0.01 kWh), reserved
// (7), inverter count (u16), online count (u16), channel (2 ASCII),
// firmware length (3 ASCII) and firmware, timezone length (3 ASCII) and
// timezone.
func ParseECUInfo(b []byte) (*ECUInfo, error) {
	body, err := checkFrame(b, CmdECUInfo)
	if err != nil {
		return nil, err
	}

	r := &reader{b: body}
	info := &ECUInfo{
		ID:           r.str(ecuIDLength),
		Model:        r.str(2),
		LifetimeKWh:  float64(r.u32()) / 10,
		CurrentPower: int(r.u32()),
		TodayKWh:     float64(r.u32()) / 100,
	}
	r.take(7)
	info.Inverters = r.u16()
	info.OnlineInverters = r.u16()
	r.take(2)
	info.Firmware = r.str(r.decimal(3))
	info.Timezone = r.str(r.decimal(3))

	if r.err != nil {
		return nil, r.err
	}
	return info, nil
}

// InverterType selects the channel layout of an inverter record.
type InverterType string

// Inverter types.
const (
	InverterTwoChannel  InverterType = "01"
	InverterThreePhase  InverterType = "02"
	InverterFourChannel InverterType = "03"
)

// Channels returns the number of panel inputs of the type.
func (t InverterType) Channels() (int, error) {
	switch t {
	case InverterTwoChannel:
		return 2, nil
	case InverterThreePhase:
		return 3, nil
	case InverterFourChannel:
		return 4, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownInverterType, string(t))
	}
}

// Channel is one panel input of an inverter.
type Channel struct {
	Power   int
	Voltage int
}

// Inverter is one record of the inverter data response.
type Inverter struct {
	UID         string
	Online      bool
	Type        InverterType
	Frequency   float64
	Temperature int
	Channels    []Channel
}

// InverterData is the answer to the inverter data query.
type InverterData struct {
	Timestamp time.Time
	Inverters []Inverter
}

// ParseInverterData decodes a response to InverterDataQuery. Timestamps
// are interpreted in loc.
//
// Body layout: status (4 ASCII), inverter count (u16), timestamp (BCD 7)
// and the records. A record is uid (6), online (1), type (2 ASCII),
// frequency (u16, 0.1 Hz), temperature (u16, offset by 100) and a power
// (u16, W) and voltage (u16, V) pair per channel.
func ParseInverterData(b []byte, loc *time.Location) (*InverterData, error) {
	body, err := checkFrame(b, CmdInverterData)
	if err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.Local
	}

	r := &reader{b: body}
	if status := r.str(4); r.err == nil && status != "0000" && status != "0001" {
		return nil, fmt.Errorf("%w: status %s", ErrNoData, status)
	}
	count := r.u16()
	data := &InverterData{Timestamp: r.bcdTime(loc)}
	if r.err != nil {
		return nil, r.err
	}

	for range count {
		inv := Inverter{
			UID:    hex.EncodeToString(r.take(uidLength)),
			Online: r.u8() == 1,
			Type:   InverterType(r.str(2)),
		}
		if r.err != nil {
			return nil, r.err
		}
		channels, err := inv.Type.Channels()
		if err != nil {
			return nil, err
		}
		inv.Frequency = float64(r.u16()) / 10
		inv.Temperature = r.u16() - 100
		for range channels {
			inv.Channels = append(inv.Channels, Channel{Power: r.u16(), Voltage: r.u16()})
		}
		if r.err != nil {
			return nil, r.err
		}
		data.Inverters = append(data.Inverters, inv)
	}
	return data, nil
}

// ParseSignal decodes a response to SignalQuery into signal strength per
// inverter uid, 0 to 255.
func ParseSignal(b []byte) (map[string]int, error) {
	body, err := checkFrame(b, CmdSignal)
	if err != nil {
		return nil, err
	}
	if len(body)%(uidLength+1) != 0 {
		return nil, fmt.Errorf("%w: %d bytes of signal records", ErrTruncated, len(body))
	}

	out := make(map[string]int, len(body)/(uidLength+1))
	r := &reader{b: body}
	for r.off < len(body) {
		uid := hex.EncodeToString(r.take(uidLength))
		out[uid] = r.u8()
	}
	return out, nil
}

// RSSI scales a 0-255 signal strength to the 0-11 range of device signal
// levels.
func RSSI(signal int) int {
	return max(0, min(11, signal*11/255))
}
