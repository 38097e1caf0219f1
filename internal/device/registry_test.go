package device

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func newTestRegistry(t *testing.T) (*Registry, *SQLiteRepository) {
	t.Helper()
	repo := NewSQLiteRepository(setupTestDB(t))
	return NewRegistry(repo), repo
}

func TestRegistry_UpsertCreatesOnce(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()
	id := testIdentity("28FF0001")

	d, created, err := reg.Upsert(ctx, id, Device{Used: true})
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if !created {
		t.Error("Upsert() created = false on first call")
	}
	if d.Name != "Temp 28FF0001" {
		t.Errorf("default name = %q", d.Name)
	}
	if d.BatteryLevel != BatteryUnknown || d.SignalLevel != SignalUnknown {
		t.Errorf("levels = %d/%d, want unknown", d.BatteryLevel, d.SignalLevel)
	}

	again, created, err := reg.Upsert(ctx, id, Device{Name: "Other"})
	if err != nil {
		t.Fatalf("Upsert() second error = %v", err)
	}
	if created {
		t.Error("Upsert() created = true on second call")
	}
	if again.Idx != d.Idx || again.Name != d.Name {
		t.Errorf("Upsert() returned %+v, want existing %+v", again, d)
	}
	if reg.Count() != 1 {
		t.Errorf("Count() = %d, want 1", reg.Count())
	}
}

func TestRegistry_UpsertConcurrent(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()
	id := testIdentity("race")

	var wg sync.WaitGroup
	idxs := make([]int64, 8)
	errs := make([]error, 8)
	for i := range idxs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d, _, err := reg.Upsert(ctx, id, Device{})
			errs[i] = err
			if d != nil {
				idxs[i] = d.Idx
			}
		}(i)
	}
	wg.Wait()

	for i := range idxs {
		if errs[i] != nil {
			t.Fatalf("Upsert() error = %v", errs[i])
		}
		if idxs[i] != idxs[0] {
			t.Errorf("Upsert() idx[%d] = %d, want %d", i, idxs[i], idxs[0])
		}
	}
}

func TestRegistry_UpsertRejectsInvalidIdentity(t *testing.T) {
	reg, _ := newTestRegistry(t)

	_, _, err := reg.Upsert(context.Background(), Identity{HardwareID: 1, DeviceID: "x", Type: Type(0x01)}, Device{})
	if !errors.Is(err, ErrInvalidIdentity) {
		t.Errorf("Upsert() error = %v, want ErrInvalidIdentity", err)
	}
}

func TestRegistry_SetValue(t *testing.T) {
	reg, repo := newTestRegistry(t)
	ctx := context.Background()

	d, _, err := reg.Upsert(ctx, testIdentity("0001"), Device{})
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	updated, err := reg.SetValue(ctx, d.Idx, Value{SValue: "19.8", BatteryLevel: 80, SignalLevel: 6})
	if err != nil {
		t.Fatalf("SetValue() error = %v", err)
	}
	if updated.SValue != "19.8" || updated.LastUpdate.IsZero() {
		t.Errorf("SetValue() = %+v", updated)
	}

	stored, err := repo.GetByIdx(ctx, d.Idx)
	if err != nil {
		t.Fatalf("GetByIdx() error = %v", err)
	}
	if stored.SValue != "19.8" || stored.BatteryLevel != 80 {
		t.Errorf("value not persisted: %+v", stored)
	}

	if _, err := reg.SetValue(ctx, d.Idx, Value{SignalLevel: 13}); !errors.Is(err, ErrInvalidDevice) {
		t.Errorf("SetValue() bad signal error = %v, want ErrInvalidDevice", err)
	}
	if _, err := reg.SetValue(ctx, 999, Value{}); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("SetValue() unknown idx error = %v, want ErrDeviceNotFound", err)
	}
}

func TestRegistry_UpdateKeepsReadings(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	d, _, _ := reg.Upsert(ctx, testIdentity("0001"), Device{})
	if _, err := reg.SetValue(ctx, d.Idx, Value{SValue: "21.0", BatteryLevel: BatteryUnknown}); err != nil {
		t.Fatalf("SetValue() error = %v", err)
	}

	edit := &Device{Idx: d.Idx, Name: "Kitchen", Used: true, SValue: "ignored"}
	if err := reg.Update(ctx, edit); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if edit.SValue != "21.0" {
		t.Errorf("Update() overwrote svalue: %q", edit.SValue)
	}

	got, _ := reg.Get(ctx, d.Idx)
	if got.Name != "Kitchen" || !got.Used {
		t.Errorf("Get() after Update = %+v", got)
	}

	if err := reg.Update(ctx, &Device{Idx: d.Idx, Name: ""}); !errors.Is(err, ErrInvalidName) {
		t.Errorf("Update() empty name error = %v, want ErrInvalidName", err)
	}
}

// updateHookRepo runs onUpdate after the row update commits.
type updateHookRepo struct {
	Repository
	onUpdate func()
}

func (r *updateHookRepo) Update(ctx context.Context, d *Device) error {
	if err := r.Repository.Update(ctx, d); err != nil {
		return err
	}
	if r.onUpdate != nil {
		r.onUpdate()
	}
	return nil
}

func TestRegistry_UpdateKeepsConcurrentReading(t *testing.T) {
	hooked := &updateHookRepo{Repository: NewSQLiteRepository(setupTestDB(t))}
	reg := NewRegistry(hooked)
	ctx := context.Background()

	d, _, err := reg.Upsert(ctx, testIdentity("hooked"), Device{Name: "Hall", Used: true})
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if _, err := reg.SetValue(ctx, d.Idx, Value{SValue: "20.0", BatteryLevel: 90, SignalLevel: 5}); err != nil {
		t.Fatalf("SetValue() error = %v", err)
	}

	hooked.onUpdate = func() {
		hooked.onUpdate = nil
		if _, err := reg.SetValue(ctx, d.Idx, Value{SValue: "25.0", BatteryLevel: 90, SignalLevel: 5}); err != nil {
			t.Errorf("SetValue() during Update error = %v", err)
		}
	}

	edit := &Device{Idx: d.Idx, Name: "Hallway", Used: true}
	if err := reg.Update(ctx, edit); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if edit.Name != "Hallway" || edit.SValue != "25.0" {
		t.Errorf("Update() result name=%q svalue=%q, want Hallway/25.0", edit.Name, edit.SValue)
	}

	cached, err := reg.Get(ctx, d.Idx)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	stored, err := hooked.GetByIdx(ctx, d.Idx)
	if err != nil {
		t.Fatalf("GetByIdx() error = %v", err)
	}
	if cached.SValue != stored.SValue {
		t.Errorf("cache svalue = %q, db svalue = %q", cached.SValue, stored.SValue)
	}
	if cached.SValue != "25.0" || cached.Name != "Hallway" {
		t.Errorf("cached = name %q svalue %q, want Hallway/25.0", cached.Name, cached.SValue)
	}
}

func TestRegistry_ReturnsCopies(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	d, _, _ := reg.Upsert(ctx, testIdentity("0001"), Device{Options: map[string]string{"k": "v"}})
	d.Name = "mutated"
	d.Options["k"] = "mutated"

	got, err := reg.Get(ctx, d.Idx)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Name == "mutated" || got.Options["k"] != "v" {
		t.Errorf("cache was mutated through returned pointer: %+v", got)
	}
}

func TestRegistry_RefreshCacheAndLookup(t *testing.T) {
	reg, repo := newTestRegistry(t)
	ctx := context.Background()

	d := testDevice("0001", "Persisted")
	if err := repo.Create(ctx, d); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if reg.Count() != 0 {
		t.Fatalf("Count() before refresh = %d", reg.Count())
	}
	if err := reg.RefreshCache(ctx); err != nil {
		t.Fatalf("RefreshCache() error = %v", err)
	}
	if reg.Count() != 1 {
		t.Errorf("Count() after refresh = %d, want 1", reg.Count())
	}

	got, err := reg.Lookup(ctx, d.Identity)
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if got.Idx != d.Idx {
		t.Errorf("Lookup() idx = %d, want %d", got.Idx, d.Idx)
	}
}

func TestRegistry_DeleteByHardwareAndStats(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	for _, id := range []Identity{
		testIdentity("a"),
		testIdentity("b"),
		{HardwareID: 2, DeviceID: "p1", Unit: 1, Type: TypeP1Power, SubType: SubTypeDefault},
	} {
		if _, _, err := reg.Upsert(ctx, id, Device{Used: true}); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}
	}

	stats := reg.GetStats()
	if stats.TotalDevices != 3 || stats.Used != 3 || stats.ByHardware[1] != 2 {
		t.Errorf("GetStats() = %+v", stats)
	}

	n, err := reg.DeleteByHardware(ctx, 1)
	if err != nil {
		t.Fatalf("DeleteByHardware() error = %v", err)
	}
	if n != 2 || reg.Count() != 1 {
		t.Errorf("DeleteByHardware() = %d, Count() = %d", n, reg.Count())
	}
	if _, err := reg.Lookup(ctx, testIdentity("a")); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Lookup() deleted error = %v, want ErrDeviceNotFound", err)
	}

	list := reg.List(ctx, Filter{HardwareID: 2})
	if len(list) != 1 {
		t.Fatalf("List() = %d, want 1", len(list))
	}
	if err := reg.Delete(ctx, list[0].Idx); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if reg.Count() != 0 {
		t.Errorf("Count() after Delete = %d", reg.Count())
	}
}
