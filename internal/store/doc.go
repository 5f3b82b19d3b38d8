// Package store persists committed room state as JSON snapshots.
//
// One file per room holds the last committed activity, volume, source,
// and transition defaults. Writes are temp-file-plus-rename atomic so a
// crash can never leave a torn snapshot, and a missing file simply
// means a fresh room. Event history is a separate concern handled by
// the history package.
package store
