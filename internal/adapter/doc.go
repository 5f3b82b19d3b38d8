// Package adapter defines the uniform device capability surface and the
// drivers that implement it.
//
// Every device in a room fulfils a Role (tv, speaker, media) and is
// driven through the Adapter interface: power, volume, source,
// playback, and status polling. Operations return an Outcome that
// distinguishes success, retryable failure, and unsupported, so the
// rest of the system never needs to know what protocol sits behind a
// role.
//
// Three implementations ship with Roomhub:
//   - Sim: an in-memory device with scriptable failures, used for rooms
//     without hardware and for tests
//   - Mock: an always-succeeding recorder for dry runs
//   - TVMonitor: an HTTP/TCP reachability probe for networked TVs, with
//     optional out-of-band power control
//
// The Poller probes registered adapters on independent intervals and
// reports connection-state edges to the orchestrator.
package adapter
