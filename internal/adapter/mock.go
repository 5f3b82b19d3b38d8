package adapter

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Mock is a recording adapter that always succeeds.
//
// It exists for dry runs and for tests that only care about which
// operations reached the device, not about device behaviour. Every
// call is appended to an internal log retrievable via Calls().
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Mock struct {
	mu    sync.Mutex
	role  Role
	calls []string
}

// NewMock creates a mock adapter for the given role.
func NewMock(role Role) *Mock {
	return &Mock{role: role}
}

// Role returns the role this mock fulfils.
func (m *Mock) Role() Role {
	return m.role
}

// Calls returns a copy of the recorded operation log.
func (m *Mock) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

// Reset clears the recorded operation log.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

func (m *Mock) record(format string, args ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, fmt.Sprintf(format, args...))
}

// Power records the call and succeeds.
func (m *Mock) Power(_ context.Context, on bool) Outcome {
	m.record("power:%t", on)
	return Success()
}

// SetVolume records the call and succeeds.
func (m *Mock) SetVolume(_ context.Context, level int) Outcome {
	m.record("volume:%d", level)
	return Success()
}

// SelectSource records the call and succeeds.
func (m *Mock) SelectSource(_ context.Context, source string) Outcome {
	m.record("source:%s", source)
	return Success()
}

// Media records the call and succeeds.
func (m *Mock) Media(_ context.Context, op MediaOp) Outcome {
	m.record("media:%s", op)
	return Success()
}

// PollStatus reports an always-reachable, powered-on device.
func (m *Mock) PollStatus(_ context.Context) (Status, error) {
	return Status{
		Connection: ConnReachable,
		Power:      true,
		Volume:     -1,
		ObservedAt: time.Now(),
	}, nil
}
