package mainworker

import (
	"context"
	"time"

	"github.com/oikomaticz/oikomaticz-core/internal/device"
	"github.com/oikomaticz/oikomaticz-core/internal/hardware"
)

// Source tells subscribers where a change came from.
type Source string

const (
	SourceHardware Source = "hardware"
	SourceCommand  Source = "command"
	SourceManual   Source = "manual"
)

// DeviceChange is emitted to every subscriber after a device value is stored.
type DeviceChange struct {
	Device device.Device

	// Previous is the device before the update, nil when it was just created.
	Previous *device.Device
	Created  bool
	Source   Source
	At       time.Time
}

// Subscriber receives device changes. Calls come from the single dispatch
// goroutine in order; slow work belongs in the subscriber's own goroutine.
type Subscriber interface {
	Name() string
	DeviceChanged(ctx context.Context, change DeviceChange) error
}

// DeviceStore is the part of the device registry the worker needs.
type DeviceStore interface {
	Get(ctx context.Context, idx int64) (*device.Device, error)
	Upsert(ctx context.Context, id device.Identity, tmpl device.Device) (*device.Device, bool, error)
	SetValue(ctx context.Context, idx int64, v device.Value) (*device.Device, error)
}

// History stores samples of meter devices.
type History interface {
	Record(ctx context.Context, s *device.Sample) error
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// HardwareResolver finds the running adapter owning a device.
type HardwareResolver interface {
	Resolve(id int) (hardware.Hardware, error)
}

// Stats reports dispatch counters.
type Stats struct {
	Processed     uint64    `json:"processed"`
	Dropped       uint64    `json:"dropped"`
	Failed        uint64    `json:"failed"`
	Commands      uint64    `json:"commands"`
	QueueDepth    int       `json:"queue_depth"`
	QueueCapacity int       `json:"queue_capacity"`
	LastMessage   time.Time `json:"last_message"`
}

// Logger defines the logging interface used by the worker.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
