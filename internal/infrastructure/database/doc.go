// Package database provides the SQLite store behind the hub.
//
// This package manages:
//   - Connection setup with WAL mode, foreign keys and a busy timeout
//   - Versioned schema migrations read from an fs.FS
//   - Rotating backups via VACUUM INTO
//
// The device table, meter history, rules, users and notification log all
// live in one file. A single connection is kept open because SQLite allows
// one writer at a time and the mainworker writes on every reading.
//
// Usage:
//
//	db, err := database.Open(database.FromConfig(cfg.Database))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with an
// optional matching .down.sql, and are additive: new columns are nullable
// or carry a default.
package database
