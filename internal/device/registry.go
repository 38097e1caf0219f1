package device

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
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

// Registry is the write-through cache in front of the DeviceStatus table.
//
// Devices are indexed both by idx and by Identity so that the mainworker
// can resolve a hardware reading without touching SQLite. The cache is
// populated on startup via RefreshCache() and every mutation goes to the
// repository first.
//
// All public methods are thread-safe. Returned devices are deep copies.
type Registry struct {
	repo Repository

	mu         sync.RWMutex
	byIdx      map[int64]*Device
	byIdentity map[Identity]int64

	logger Logger
}

// NewRegistry creates a new device registry.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:       repo,
		byIdx:      make(map[int64]*Device),
		byIdentity: make(map[Identity]int64),
		logger:     noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache reloads all devices from the repository into the cache.
// This should be called on application startup.
func (r *Registry) RefreshCache(ctx context.Context) error {
	devices, err := r.repo.List(ctx, Filter{})
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.byIdx = make(map[int64]*Device, len(devices))
	r.byIdentity = make(map[Identity]int64, len(devices))
	for i := range devices {
		r.store(&devices[i])
	}

	r.logger.Info("device cache refreshed", "count", len(devices))
	return nil
}

// store caches a copy of d. Caller holds mu.
func (r *Registry) store(d *Device) {
	r.byIdx[d.Idx] = d.DeepCopy()
	r.byIdentity[d.Identity] = d.Idx
}

// Get returns the device with the given idx.
func (r *Registry) Get(ctx context.Context, idx int64) (*Device, error) {
	r.mu.RLock()
	cached, ok := r.byIdx[idx]
	r.mu.RUnlock()
	if ok {
		return cached.DeepCopy(), nil
	}

	d, err := r.repo.GetByIdx(ctx, idx)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.store(d)
	r.mu.Unlock()
	return d, nil
}

// Lookup returns the device with the given identity.
func (r *Registry) Lookup(ctx context.Context, id Identity) (*Device, error) {
	r.mu.RLock()
	idx, ok := r.byIdentity[id]
	var cached *Device
	if ok {
		cached = r.byIdx[idx]
	}
	r.mu.RUnlock()
	if cached != nil {
		return cached.DeepCopy(), nil
	}

	d, err := r.repo.GetByIdentity(ctx, id)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.store(d)
	r.mu.Unlock()
	return d, nil
}

// List returns cached devices matching the filter, ordered by idx.
func (r *Registry) List(_ context.Context, filter Filter) []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	devices := make([]Device, 0, len(r.byIdx))
	for _, d := range r.byIdx {
		if filter.match(d) {
			devices = append(devices, *d.DeepCopy())
		}
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].Idx < devices[j].Idx })
	return devices
}

// Upsert resolves the device for an identity, creating it from tmpl when it
// does not exist yet. The bool result reports whether a device was created.
//
// Only the Name, SwitchType, Used and Options of tmpl are used on creation;
// the identity always comes from id.
func (r *Registry) Upsert(ctx context.Context, id Identity, tmpl Device) (*Device, bool, error) {
	if d, err := r.Lookup(ctx, id); err == nil {
		return d, false, nil
	} else if !errors.Is(err, ErrDeviceNotFound) {
		return nil, false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Lost a race with another creator.
	if idx, ok := r.byIdentity[id]; ok {
		return r.byIdx[idx].DeepCopy(), false, nil
	}

	d := &Device{
		Identity:     id,
		Name:         tmpl.Name,
		SwitchType:   tmpl.SwitchType,
		Used:         tmpl.Used,
		Options:      tmpl.Options,
		BatteryLevel: BatteryUnknown,
		SignalLevel:  SignalUnknown,
	}
	if d.Name == "" {
		d.Name = fmt.Sprintf("%s %s", id.Type, id.DeviceID)
	}
	if err := ValidateDevice(d); err != nil {
		return nil, false, err
	}
	if err := r.repo.Create(ctx, d); err != nil {
		return nil, false, err
	}
	r.store(d)

	r.logger.Info("device created", "idx", d.Idx, "identity", id.String(), "name", d.Name)
	return d.DeepCopy(), true, nil
}

// SetValue stores a reading and returns the updated device.
func (r *Registry) SetValue(ctx context.Context, idx int64, v Value) (*Device, error) {
	if err := ValidateLevels(v.BatteryLevel, v.SignalLevel); err != nil {
		return nil, err
	}
	if v.At.IsZero() {
		v.At = time.Now()
	}

	if err := r.repo.UpdateValue(ctx, idx, v); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cached, ok := r.byIdx[idx]
	if !ok {
		d, err := r.repo.GetByIdx(ctx, idx)
		if err != nil {
			return nil, err
		}
		r.store(d)
		return d, nil
	}

	updated := cached.DeepCopy()
	updated.NValue = v.NValue
	updated.SValue = v.SValue
	updated.BatteryLevel = v.BatteryLevel
	updated.SignalLevel = v.SignalLevel
	updated.LastUpdate = v.At
	r.byIdx[idx] = updated

	r.logger.Debug("device value updated", "idx", idx, "nvalue", v.NValue, "svalue", v.SValue)
	return updated.DeepCopy(), nil
}

// Update persists the user-editable fields of d.
func (r *Registry) Update(ctx context.Context, d *Device) error {
	existing, err := r.Get(ctx, d.Idx)
	if err != nil {
		return err
	}

	// Identity and readings are owned by the hardware, not the caller.
	merged := existing.DeepCopy()
	applyEditable(merged, d)

	if err := ValidateDevice(merged); err != nil {
		return err
	}
	if err := r.repo.Update(ctx, merged); err != nil {
		return err
	}

	// Readings may have moved on since the snapshot; keep the cached ones.
	r.mu.Lock()
	if current, ok := r.byIdx[merged.Idx]; ok {
		merged = current.DeepCopy()
		applyEditable(merged, d)
	}
	r.store(merged)
	r.mu.Unlock()

	*d = *merged.DeepCopy()
	r.logger.Info("device updated", "idx", d.Idx, "name", d.Name)
	return nil
}

// applyEditable copies the user-editable fields of src onto dst.
func applyEditable(dst, src *Device) {
	dst.Name = src.Name
	dst.SwitchType = src.SwitchType
	dst.Used = src.Used
	dst.Protected = src.Protected
	dst.Options = maps.Clone(src.Options)
}

// Delete removes a device.
func (r *Registry) Delete(ctx context.Context, idx int64) error {
	if err := r.repo.Delete(ctx, idx); err != nil {
		return err
	}

	r.mu.Lock()
	if d, ok := r.byIdx[idx]; ok {
		delete(r.byIdentity, d.Identity)
		delete(r.byIdx, idx)
	}
	r.mu.Unlock()

	r.logger.Info("device deleted", "idx", idx)
	return nil
}

// DeleteByHardware removes all devices of a hardware instance.
func (r *Registry) DeleteByHardware(ctx context.Context, hardwareID int) (int64, error) {
	n, err := r.repo.DeleteByHardware(ctx, hardwareID)
	if err != nil {
		return 0, err
	}

	r.mu.Lock()
	for idx, d := range r.byIdx {
		if d.HardwareID == hardwareID {
			delete(r.byIdentity, d.Identity)
			delete(r.byIdx, idx)
		}
	}
	r.mu.Unlock()

	r.logger.Info("hardware devices deleted", "hardware_id", hardwareID, "count", n)
	return n, nil
}

// Count returns the number of cached devices.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byIdx)
}

// Stats returns registry statistics for monitoring.
type Stats struct {
	TotalDevices int
	Used         int
	ByHardware   map[int]int
	ByType       map[string]int
}

// GetStats returns current registry statistics.
func (r *Registry) GetStats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{
		TotalDevices: len(r.byIdx),
		ByHardware:   make(map[int]int),
		ByType:       make(map[string]int),
	}
	for _, d := range r.byIdx {
		if d.Used {
			stats.Used++
		}
		stats.ByHardware[d.HardwareID]++
		stats.ByType[d.Type.String()]++
	}
	return stats
}
