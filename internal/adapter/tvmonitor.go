package adapter

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"
)

// TV monitor probe constants.
const (
	// tvAPIPort is the Samsung-style device info port probed over HTTP.
	tvAPIPort = 8001

	// tvWSPort is the websocket remote port used as a TCP fallback probe.
	tvWSPort = 8002

	// probeTimeout bounds a single probe attempt.
	probeTimeout = 2 * time.Second
)

// PowerFunc turns a monitored TV on or off out of band, for example via
// an IR blaster or a CEC bridge. Monitors without one cannot control
// power and report the operation unsupported.
type PowerFunc func(ctx context.Context, on bool) error

// TVMonitor observes a networked TV over HTTP with a TCP fallback.
//
// Modern TVs expose a device-info endpoint while awake; when asleep or
// unplugged neither the HTTP endpoint nor the remote-control port
// accepts connections. That asymmetry is enough to drive reachability
// and power state, which is all the orchestrator needs from a display.
//
// Volume, source, and playback are handled by the speaker and media
// roles, so the monitor reports those operations unsupported.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type TVMonitor struct {
	host    string
	client  *http.Client
	dialer  *net.Dialer
	powerFn PowerFunc
}

// TVMonitorOption configures a TVMonitor.
type TVMonitorOption func(*TVMonitor)

// WithPowerControl attaches an out-of-band power function to the
// monitor. Without it, Power() reports unsupported.
func WithPowerControl(fn PowerFunc) TVMonitorOption {
	return func(m *TVMonitor) {
		m.powerFn = fn
	}
}

// NewTVMonitor creates a monitor for the TV at the given host.
//
// Parameters:
//   - host: IP address or hostname of the TV
//   - opts: Optional configuration (power control)
//
// Returns:
//   - *TVMonitor: Configured monitor ready for polling
func NewTVMonitor(host string, opts ...TVMonitorOption) *TVMonitor {
	m := &TVMonitor{
		host: host,
		client: &http.Client{
			Timeout: probeTimeout,
		},
		dialer: &net.Dialer{
			Timeout: probeTimeout,
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Role returns RoleTV.
func (m *TVMonitor) Role() Role {
	return RoleTV
}

// Power turns the TV on or off via the configured power function.
// Without one the operation is unsupported.
func (m *TVMonitor) Power(ctx context.Context, on bool) Outcome {
	if m.powerFn == nil {
		return Unsupported()
	}
	if err := m.powerFn(ctx, on); err != nil {
		return Failure(fmt.Errorf("tv power: %w", err))
	}
	return Success()
}

// SetVolume is unsupported; room volume is owned by the speaker role.
func (m *TVMonitor) SetVolume(_ context.Context, _ int) Outcome {
	return Unsupported()
}

// SelectSource is unsupported by the monitor.
func (m *TVMonitor) SelectSource(_ context.Context, _ string) Outcome {
	return Unsupported()
}

// Media is unsupported; playback is owned by the media role.
func (m *TVMonitor) Media(_ context.Context, _ MediaOp) Outcome {
	return Unsupported()
}

// PollStatus probes the TV and reports reachability.
//
// The probe tries the HTTP device-info endpoint first, then falls back
// to raw TCP connections on the API and remote-control ports. Any
// successful contact counts as reachable and awake.
func (m *TVMonitor) PollStatus(ctx context.Context) (Status, error) {
	now := time.Now()

	if m.probeHTTP(ctx) || m.probeTCP(ctx, tvAPIPort) || m.probeTCP(ctx, tvWSPort) {
		return Status{
			Connection: ConnReachable,
			Power:      true,
			Volume:     -1,
			ObservedAt: now,
		}, nil
	}

	return Status{
		Connection: ConnUnreachable,
		Volume:     -1,
		ObservedAt: now,
	}, nil
}

// probeHTTP checks the device-info endpoint. Any HTTP response counts:
// a TV that answers at all is awake.
func (m *TVMonitor) probeHTTP(ctx context.Context) bool {
	url := fmt.Sprintf("http://%s:%d/api/v2/", m.host, tvAPIPort)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close() //nolint:errcheck // probe only, body unused
	return true
}

// probeTCP checks whether the given port accepts a connection.
func (m *TVMonitor) probeTCP(ctx context.Context, port int) bool {
	addr := net.JoinHostPort(m.host, fmt.Sprintf("%d", port))
	conn, err := m.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return false
	}
	conn.Close() //nolint:errcheck // probe only
	return true
}
