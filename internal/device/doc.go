// Package device provides the DeviceStatus store of the hub.
//
// Every reading a hardware adapter produces ends up in exactly one device
// row, identified by the hardware that reported it, the vendor device id,
// a unit number and the type/subtype pair. The row keeps the latest value
// as an integer nvalue plus a ';'-separated svalue string, together with
// battery and signal levels.
//
// # Architecture
//
//	┌───────────────────────────────────────────────────────────────┐
//	│                        Device store                            │
//	│                                                                │
//	│  ┌──────────────────┐    ┌──────────────────┐    ┌──────────┐  │
//	│  │     Registry     │    │    Repository    │    │Validation│  │
//	│  │   (registry.go)  │───▶│  (repository.go) │    │          │  │
//	│  │                  │    │                  │    │• identity│  │
//	│  │ • idx + identity │    │ • devices        │    │• levels  │  │
//	│  │   cache          │    │ • device_history │    │• names   │  │
//	│  │ • Upsert         │    │                  │    │          │  │
//	│  └──────────────────┘    └──────────────────┘    └──────────┘  │
//	└───────────▲────────────────────────────────────────────────────┘
//	            │
//	  mainworker (readings), api (rename, hide, protect), eventsystem
//
// # Usage
//
//	repo := device.NewSQLiteRepository(db.DB)
//	registry := device.NewRegistry(repo)
//	registry.SetLogger(log)
//
//	if err := registry.RefreshCache(ctx); err != nil {
//	    return err
//	}
//
//	id := device.Identity{HardwareID: 2, DeviceID: "0001", Unit: 1,
//	    Type: device.TypeP1Power, SubType: device.SubTypeDefault}
//	dev, created, err := registry.Upsert(ctx, id, device.Device{Name: "Power", Used: true})
//	...
//	dev, err = registry.SetValue(ctx, dev.Idx, device.Value{SValue: "1200;800;0;0;450;0"})
//
// # Thread Safety
//
// The Registry is safe for concurrent use. The cache is guarded by a
// read-write mutex and only deep copies leave the package.
package device
