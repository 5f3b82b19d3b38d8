// Package logging provides structured logging for Roomhub.
//
// It wraps the standard library's log/slog with configuration-driven
// format and level selection, plus default service/version attributes
// attached to every record.
//
// Usage:
//
//	log := logging.New(cfg.Logging, version)
//	log.Info("starting", "room", cfg.Room.ID)
//
//	fsmLog := log.With("component", "activity")
package logging
