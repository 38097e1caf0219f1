package influxdb

import (
	"context"
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/oikomaticz/oikomaticz-core/internal/device"
	"github.com/oikomaticz/oikomaticz-core/internal/mainworker"
)

// Measurements written by the hub.
const (
	MeasurementDevice = "device"
	MeasurementEnergy = "energy"
)

// WritePoint writes a point with the given tags and fields.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writer.WritePoint(write.NewPoint(measurement, tags, fields, at))
}

// WriteDevice writes one device reading as a "device" point. Numeric
// svalue fields become field0..fieldN next to the nvalue. Smart meter and
// kWh devices are also written to the "energy" measurement.
func (c *Client) WriteDevice(d *device.Device, at time.Time) {
	if !c.IsConnected() {
		return
	}

	tags := map[string]string{
		"idx":  strconv.FormatInt(d.Idx, 10),
		"name": d.Name,
		"type": d.Type.String(),
	}
	fields := map[string]any{"nvalue": d.NValue}
	for i := range d.Fields() {
		if v, err := d.Field(i); err == nil {
			fields["field"+strconv.Itoa(i)] = v
		}
	}
	c.WritePoint(MeasurementDevice, tags, fields, at)

	if energy := energyFields(d); energy != nil {
		c.WritePoint(MeasurementEnergy, tags, energy, at)
	}
}

// energyFields maps meter svalues onto power and energy fields, nil for
// devices that are not meters.
func energyFields(d *device.Device) map[string]any {
	field := func(i int) float64 {
		v, _ := d.Field(i) //nolint:errcheck // Missing fields read as 0
		return v
	}

	switch {
	case d.Type == device.TypeP1Power:
		// usage1;usage2;return1;return2;cons;prod in Wh and W.
		if len(d.Fields()) < 6 {
			return nil
		}
		return map[string]any{
			"import_wh":   field(0) + field(1),
			"export_wh":   field(2) + field(3),
			"power_watts": field(4) - field(5),
		}
	case d.Type == device.TypeGeneral && d.SubType == device.SubTypeKwh:
		// watt;wh
		return map[string]any{
			"power_watts": field(0),
			"import_wh":   field(1),
		}
	default:
		return nil
	}
}

// Subscriber writes every device change to InfluxDB.
type Subscriber struct {
	client *Client
}

// NewSubscriber returns a mainworker subscriber backed by client.
func NewSubscriber(client *Client) *Subscriber {
	return &Subscriber{client: client}
}

// Name implements mainworker.Subscriber.
func (s *Subscriber) Name() string { return "influxdb" }

// DeviceChanged implements mainworker.Subscriber.
func (s *Subscriber) DeviceChanged(_ context.Context, change mainworker.DeviceChange) error {
	if !s.client.IsConnected() {
		return ErrNotConnected
	}
	at := change.At
	if at.IsZero() {
		at = time.Now()
	}
	s.client.WriteDevice(&change.Device, at)
	return nil
}
