package eventsystem

import (
	"context"
	"database/sql"
	"testing"

	"github.com/oikomaticz/oikomaticz-core/internal/infrastructure/database"
	_ "github.com/oikomaticz/oikomaticz-core/migrations" // registers the schema
)

// setupTestDB opens an in-memory database with the full schema.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := database.Open(database.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrating database: %v", err)
	}
	return db.DB
}

func intPtr(v int) *int { return &v }

func deviceRule(name string, idx int64, cond *Condition, actions ...Action) *Rule {
	return &Rule{
		Name:    name,
		Enabled: true,
		Trigger: Trigger{Type: TriggerDevice, DeviceIdx: idx, Condition: cond},
		Actions: actions,
	}
}

func mqttAction(topic, payload string) Action {
	return Action{Type: ActionMQTT, Topic: topic, Payload: payload}
}
