// Package notify delivers user notifications.
//
// A Manager sends each message through every configured transport
// (Pushover, a JSON webhook), suppresses a repeated subject within the
// configured interval and keeps the latest notifications in SQLite.
//
// The Manager also subscribes to device changes to evaluate per-device
// thresholds, and listens to the hardware manager to report watchdog
// timeouts:
//
//	mgr := notify.NewManager(notify.NewSQLiteStore(db.DB), notify.Transports(cfg.Notifications), cfg.Notifications)
//	worker.AddSubscriber(mgr)
//	hwManager.AddListener(mgr)
package notify
