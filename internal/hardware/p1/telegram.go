package p1

import (
	"bufio"
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// OBIS references read from a telegram.
const (
	obisVersion        = "1-3:0.2.8"
	obisVersionBE      = "0-0:96.1.4"
	obisTimestamp      = "0-0:1.0.0"
	obisEquipmentID    = "0-0:96.1.1"
	obisUsage1         = "1-0:1.8.1"
	obisUsage2         = "1-0:1.8.2"
	obisUsageTotal     = "1-0:1.8.0"
	obisReturn1        = "1-0:2.8.1"
	obisReturn2        = "1-0:2.8.2"
	obisReturnTotal    = "1-0:2.8.0"
	obisTariff         = "0-0:96.14.0"
	obisPowerUsage     = "1-0:1.7.0"
	obisPowerDelivered = "1-0:2.7.0"
	obisFailures       = "0-0:96.7.21"
	obisLongFailures   = "0-0:96.7.9"
)

// Per-phase OBIS references, indexed by phase.
var (
	obisVoltage        = [3]string{"1-0:32.7.0", "1-0:52.7.0", "1-0:72.7.0"}
	obisCurrent        = [3]string{"1-0:31.7.0", "1-0:51.7.0", "1-0:71.7.0"}
	obisPhaseUsage     = [3]string{"1-0:21.7.0", "1-0:41.7.0", "1-0:61.7.0"}
	obisPhaseDelivered = [3]string{"1-0:22.7.0", "1-0:42.7.0", "1-0:62.7.0"}
)

// MBus device types announced on 0-n:24.1.0.
const (
	mbusTypeGas   = 3
	mbusTypeWater = 7
)

// obisLine matches "A-B:C.D.E(...)..." and captures the reference and the
// value groups.
var obisLine = regexp.MustCompile(`^(\d+-\d+:\d+\.\d+\.\d+)((?:\([^()]*\))+)$`)

// valueGroup matches one "(...)" group.
var valueGroup = regexp.MustCompile(`\(([^()]*)\)`)

// MBusReading is a gas or water meter reading relayed by the smart meter.
type MBusReading struct {
	Channel     int
	EquipmentID string
	// Timestamp is the meter's YYMMDDhhmmss[SW] capture time.
	Timestamp string
	M3        float64
}

// Telegram is a decoded P1 telegram. Energy is in kWh, power in kW,
// voltage in V and current in A.
type Telegram struct {
	Header      string
	Version     string
	Timestamp   string
	EquipmentID string

	Usage1  float64
	Usage2  float64
	Return1 float64
	Return2 float64
	Tariff  int

	PowerUsage     float64
	PowerDelivered float64

	Voltage        [3]float64
	Current        [3]float64
	PhaseUsage     [3]float64
	PhaseDelivered [3]float64

	PowerFailures     int
	LongPowerFailures int

	Gas   *MBusReading
	Water *MBusReading

	// Fields holds the first value group of every OBIS line.
	Fields map[string]string
}

// Has reports whether the telegram carried the given OBIS reference.
func (t *Telegram) Has(obis string) bool {
	_, ok := t.Fields[obis]
	return ok
}

// HasVoltage reports whether phase i (0-based) reported a voltage.
func (t *Telegram) HasVoltage(i int) bool { return t.Has(obisVoltage[i]) }

// HasCurrent reports whether phase i (0-based) reported a current.
func (t *Telegram) HasCurrent(i int) bool { return t.Has(obisCurrent[i]) }

// HasPhasePower reports whether phase i (0-based) reported its power.
func (t *Telegram) HasPhasePower(i int) bool { return t.Has(obisPhaseUsage[i]) }

// ParseTelegram decodes a telegram from '/' through '!'. Lines it does not
// understand are kept in Fields and otherwise ignored.
func ParseTelegram(raw []byte) (*Telegram, error) {
	raw = bytes.TrimLeft(raw, "\r\n")
	if len(raw) == 0 || raw[0] != '/' {
		return nil, ErrNoHeader
	}

	t := &Telegram{Fields: make(map[string]string)}
	mbus := make(map[int]*mbusChannel)

	scanner := bufio.NewScanner(bytes.NewReader(raw))
	var pendingLegacy *mbusChannel
	first := true
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if first {
			t.Header = strings.TrimPrefix(line, "/")
			first = false
			continue
		}
		if line == "!" || strings.HasPrefix(line, "!") {
			break
		}

		// The legacy DSMR 2/3 gas reading puts its value on its own line.
		if pendingLegacy != nil && strings.HasPrefix(line, "(") {
			if v, err := parseNumber(strings.Trim(line, "()")); err == nil {
				pendingLegacy.value = v
				pendingLegacy.hasValue = true
			}
			pendingLegacy = nil
			continue
		}
		pendingLegacy = nil

		m := obisLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		ref := m[1]
		groups := valueGroups(m[2])
		if len(groups) == 0 {
			continue
		}
		t.Fields[ref] = groups[0]

		if ch, kind, ok := mbusRef(ref); ok {
			c := mbus[ch]
			if c == nil {
				c = &mbusChannel{channel: ch}
				mbus[ch] = c
			}
			switch kind {
			case "24.1.0":
				c.deviceType, _ = strconv.Atoi(groups[0])
			case "96.1.0":
				c.equipmentID = groups[0]
			case "24.2.1", "24.2.3":
				if len(groups) >= 2 {
					c.timestamp = groups[0]
					if v, err := parseNumber(groups[len(groups)-1]); err == nil {
						c.value = v
						c.hasValue = true
					}
				}
			case "24.3.0":
				c.timestamp = groups[0]
				pendingLegacy = c
			}
			continue
		}

		if err := t.apply(ref, groups); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", ref, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning telegram: %w", err)
	}

	for _, c := range mbus {
		if !c.hasValue {
			continue
		}
		reading := &MBusReading{Channel: c.channel, EquipmentID: c.equipmentID, Timestamp: c.timestamp, M3: c.value}
		switch c.deviceType {
		case mbusTypeWater:
			if t.Water == nil || c.channel < t.Water.Channel {
				t.Water = reading
			}
		case mbusTypeGas, 0:
			// Meters that do not announce a device type carry gas.
			if t.Gas == nil || c.channel < t.Gas.Channel {
				t.Gas = reading
			}
		}
	}
	return t, nil
}

type mbusChannel struct {
	channel     int
	deviceType  int
	equipmentID string
	timestamp   string
	value       float64
	hasValue    bool
}

// mbusRef splits "0-n:C.D.E" into channel n and "C.D.E" for MBus references.
func mbusRef(ref string) (int, string, bool) {
	if !strings.HasPrefix(ref, "0-") {
		return 0, "", false
	}
	chPart, rest, ok := strings.Cut(ref[2:], ":")
	if !ok || (!strings.HasPrefix(rest, "24.") && rest != "96.1.0") {
		return 0, "", false
	}
	ch, err := strconv.Atoi(chPart)
	if err != nil || ch == 0 {
		return 0, "", false
	}
	return ch, rest, true
}

func (t *Telegram) apply(ref string, groups []string) error {
	v := groups[0]
	var err error
	switch ref {
	case obisVersion, obisVersionBE:
		t.Version = v
	case obisTimestamp:
		t.Timestamp = v
	case obisEquipmentID:
		t.EquipmentID = v
	case obisUsage1:
		t.Usage1, err = parseNumber(v)
	case obisUsage2:
		t.Usage2, err = parseNumber(v)
	case obisUsageTotal:
		// Single-register meters report the total on 1.8.0.
		if !t.Has(obisUsage1) {
			t.Usage1, err = parseNumber(v)
		}
	case obisReturn1:
		t.Return1, err = parseNumber(v)
	case obisReturn2:
		t.Return2, err = parseNumber(v)
	case obisReturnTotal:
		if !t.Has(obisReturn1) {
			t.Return1, err = parseNumber(v)
		}
	case obisTariff:
		var f float64
		f, err = parseNumber(v)
		t.Tariff = int(f)
	case obisPowerUsage:
		t.PowerUsage, err = parseNumber(v)
	case obisPowerDelivered:
		t.PowerDelivered, err = parseNumber(v)
	case obisFailures:
		var f float64
		f, err = parseNumber(v)
		t.PowerFailures = int(f)
	case obisLongFailures:
		var f float64
		f, err = parseNumber(v)
		t.LongPowerFailures = int(f)
	default:
		for i := range 3 {
			switch ref {
			case obisVoltage[i]:
				t.Voltage[i], err = parseNumber(v)
			case obisCurrent[i]:
				t.Current[i], err = parseNumber(v)
			case obisPhaseUsage[i]:
				t.PhaseUsage[i], err = parseNumber(v)
			case obisPhaseDelivered[i]:
				t.PhaseDelivered[i], err = parseNumber(v)
			}
		}
	}
	return err
}

func valueGroups(s string) []string {
	matches := valueGroup.FindAllStringSubmatch(s, -1)
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m[1]
	}
	return out
}

// parseNumber parses "000123.456*kWh" style values, dropping the unit.
func parseNumber(s string) (float64, error) {
	if i := strings.IndexByte(s, '*'); i >= 0 {
		s = s[:i]
	}
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}
