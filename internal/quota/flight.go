package quota

import "context"

// Flight is one in-progress upstream request that any number of callers with
// the same fingerprint can await. The leader performs the request and
// completes the flight; everyone gets the same outcome.
type Flight struct {
	done    chan struct{}
	payload []byte
	err     error
}

func newFlight() *Flight {
	return &Flight{done: make(chan struct{})}
}

// Wait blocks until the flight completes or the caller's context ends.
func (f *Flight) Wait(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-f.done:
		return f.payload, f.err
	}
}

// GetInFlight returns the in-progress flight for a fingerprint, if any.
func (m *Manager) GetInFlight(key string) (*Flight, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.inflight[key]
	return f, ok
}

// SetInFlight registers a flight for a fingerprint.
func (m *Manager) SetInFlight(key string, f *Flight) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inflight[key] = f
}

// RemoveInFlight drops the registry entry for a fingerprint.
func (m *Manager) RemoveInFlight(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inflight, key)
}

// JoinFlight returns the flight for a fingerprint, creating and registering
// one when none is in progress. leader is true for the caller that must
// perform the request and complete the flight.
func (m *Manager) JoinFlight(key string) (f *Flight, leader bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.inflight[key]; ok {
		return existing, false
	}
	f = newFlight()
	m.inflight[key] = f
	return f, true
}

// CompleteFlight publishes the outcome and removes the registry entry. The
// entry is removed before waiters are released so the next caller with this
// fingerprint starts a fresh attempt instead of replaying a stale failure.
// Must be called exactly once per flight, success or failure.
func (m *Manager) CompleteFlight(key string, f *Flight, payload []byte, err error) {
	m.mu.Lock()
	delete(m.inflight, key)
	m.mu.Unlock()
	f.payload = payload
	f.err = err
	close(f.done)
}

// InFlightCount reports the registry size (for metrics and tests).
func (m *Manager) InFlightCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inflight)
}
