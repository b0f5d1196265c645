// Package database provides SQLite connectivity for the Gray Logic HAP bridge.
//
// The bridge stores its device registry here: device snapshots, cached
// mapping results and per-device error counters (see device.SQLiteRepository).
//
// This package manages:
//   - Connection setup with WAL mode and busy timeout
//   - Ordered, transactional schema migrations read from an fs.FS
//   - A WithTx helper for multi-statement writes
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if _, err := db.Migrate(ctx, migrations.FS); err != nil {
//	    log.Fatal(err)
//	}
//
// Migrations are additive: new columns must be nullable or carry a default,
// and every .up.sql file should have a matching .down.sql file.
package database
