package device

import (
	"context"
	"database/sql"
	"testing"

	"github.com/oikomaticz/oikomaticz-core/internal/infrastructure/database"
	_ "github.com/oikomaticz/oikomaticz-core/migrations" // registers the schema
)

// setupTestDB opens an in-memory database with the full schema applied.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := database.Open(database.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db.DB
}

func testIdentity(deviceID string) Identity {
	return Identity{
		HardwareID: 1,
		DeviceID:   deviceID,
		Unit:       1,
		Type:       TypeTemp,
		SubType:    SubTypeDefault,
	}
}

func testDevice(deviceID, name string) *Device {
	return &Device{
		Identity:     testIdentity(deviceID),
		Name:         name,
		Used:         true,
		BatteryLevel: BatteryUnknown,
		SignalLevel:  SignalUnknown,
	}
}
