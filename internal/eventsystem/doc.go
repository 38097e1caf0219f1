// Package eventsystem runs user rules: when a device changes or the clock
// reaches a time, the matching rules run their actions.
//
// Architecture:
//
//	mainworker ──DeviceChange──▶ Engine ◀── minute ticker
//	                               │
//	                   ┌───────────┴───────────┐
//	                   ▼                       ▼
//	              Registry ──▶ Repository   execution goroutine
//	              (cache)      (SQLite)     device │ notify │ mqtt │ delay
//
// Device triggers are edge-triggered: a rule fires when its condition
// matches the new state and did not match the previous state. A cooldown
// suppresses automatic firing for a while after the rule last fired.
//
// Actions run one after another in their own goroutine under a timeout.
// Every run is recorded as an Execution whose status ends as completed,
// partial (some actions failed) or failed (none succeeded), and is
// broadcast on the "rule.executed" WebSocket channel.
//
// # Usage
//
//	repo := eventsystem.NewSQLiteRepository(db)
//	registry := eventsystem.NewRegistry(repo)
//	if err := registry.RefreshCache(ctx); err != nil {
//	    return err
//	}
//
//	engine := eventsystem.NewEngine(registry, repo, eventsystem.Targets{
//	    Commander: worker,
//	    Notifier:  notifier,
//	    MQTT:      mqttClient,
//	    Hub:       hub,
//	}, log)
//	worker.AddSubscriber(engine)
//	engine.Start(ctx)
package eventsystem
