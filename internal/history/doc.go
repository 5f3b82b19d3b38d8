// Package history persists the room's event stream to SQLite.
//
// The broadcaster's ring buffer only reaches back a few hundred
// events; this package keeps a longer, queryable audit log. A Follow
// loop subscribes to the broadcaster and appends each event, with a
// row-count retention bound swept periodically.
package history
