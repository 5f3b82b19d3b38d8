// Package influxdb provides optional time-series telemetry for Roomhub.
//
// A Follow loop maps the room's event stream onto InfluxDB points:
// device reachability edges, committed volume changes, and transition
// outcomes. Writes are batched and asynchronous; telemetry failures
// never affect room control.
package influxdb
