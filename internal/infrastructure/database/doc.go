// Package database provides SQLite connection management for Roomhub.
//
// Roomhub uses SQLite for the event history log only; live room state is
// held in memory and snapshotted to JSON by the store package. The
// connection is opened once at startup with WAL mode and a busy timeout,
// and shared with the history repository.
//
// Usage:
//
//	db, err := database.Open(database.Config{
//	    Path:        "./data/history.db",
//	    WALMode:     true,
//	    BusyTimeout: 5,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
package database
