// Package dispatch executes device commands with ordering, timeout,
// retry, and idempotency guarantees.
//
// Each device role gets a dedicated worker goroutine and bounded queue,
// so commands for one device run strictly in submission order while
// different devices proceed concurrently. A command attempt is bounded
// by a per-attempt timeout; retryable failures back off exponentially
// up to the attempt budget. Duplicate commands (same role, operation,
// arguments, and cause) submitted while the original is still in flight
// coalesce onto it, so the device sees exactly one operation.
//
// Terminal results are delivered to every waiter and published as
// command-outcome events.
package dispatch
