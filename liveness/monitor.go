// Package liveness tracks remote-endpoint online/offline state from
// probe replies, probe failures, and (server-side) inbound activity. It
// has no knowledge of the wire format; it is wired to a transport.Engine
// purely through callback registration (spec §4.3, §9's "observer
// interface, not a signal bus").
package liveness

import (
	"net"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// StatusChangedHandler is invoked on every online/offline transition,
// never on a repeated observation of the same status (spec §8 invariant
// 6: "EndpointStatusChanged is emitted only on a transition").
type StatusChangedHandler func(addr net.Addr, online bool)

// endpointState is one tracked remote address. online uses
// go.uber.org/atomic so IsOnline can be read without acquiring the
// Monitor's table lock, mirroring the engine's sequence counter
// (transport/engine.go).
type endpointState struct {
	addr         net.Addr
	online       *atomic.Bool
	lastActivity time.Time
}

// Monitor is the liveness table: one mutex guarding a map keyed by
// address string, per spec §9's "one mutex per logical table".
type Monitor struct {
	mu     sync.Mutex
	states map[string]*endpointState

	evMu            sync.RWMutex
	onStatusChanged []StatusChangedHandler
}

// NewMonitor returns an empty liveness table.
func NewMonitor() *Monitor {
	return &Monitor{states: make(map[string]*endpointState)}
}

// OnStatusChanged registers a handler for online/offline transitions.
func (m *Monitor) OnStatusChanged(h StatusChangedHandler) {
	m.evMu.Lock()
	defer m.evMu.Unlock()
	m.onStatusChanged = append(m.onStatusChanged, h)
}

func (m *Monitor) fireStatusChanged(addr net.Addr, online bool) {
	m.evMu.RLock()
	handlers := append([]StatusChangedHandler(nil), m.onStatusChanged...)
	m.evMu.RUnlock()
	for _, h := range handlers {
		h(addr, online)
	}
}

func (m *Monitor) getOrCreate(addr net.Addr) *endpointState {
	key := addr.String()
	s, ok := m.states[key]
	if !ok {
		s = &endpointState{addr: addr, online: atomic.NewBool(false)}
		m.states[key] = s
	}
	return s
}

// setOnline updates the stored state and reports whether this was a
// transition (the caller fires the event outside the table lock).
func (m *Monitor) setOnline(addr net.Addr, online bool) (changed bool) {
	m.mu.Lock()
	s := m.getOrCreate(addr)
	s.lastActivity = time.Now()
	changed = s.online.CompareAndSwap(!online, online)
	m.mu.Unlock()
	return changed
}

// RecordProbeReply marks addr online. Wired to transport.Engine's
// OnProbeReply (spec §4.3's offline→online transition).
func (m *Monitor) RecordProbeReply(addr net.Addr) {
	if m.setOnline(addr, true) {
		m.fireStatusChanged(addr, true)
	}
}

// RecordProbeFailure marks addr offline. Wired to transport.Engine's
// OnProbeFailed: the engine has already exhausted MAX_RETRIES attempts
// of a single periodic probe before firing this, so no additional
// consecutive-failure counter is needed here (spec §4.3, §8 scenario 4).
func (m *Monitor) RecordProbeFailure(addr net.Addr) {
	if m.setOnline(addr, false) {
		m.fireStatusChanged(addr, false)
	}
}

// RecordActivity marks addr online and refreshes its last-activity
// timestamp. Server roles call this on every inbound valid packet
// (spec §4.3: "liveness is inferred from last_activity_monotonic");
// receiving a packet is itself proof of life, so an offline→online
// transition here fires the same event a PROBE_REPLY would.
func (m *Monitor) RecordActivity(addr net.Addr) {
	if m.setOnline(addr, true) {
		m.fireStatusChanged(addr, true)
	}
}

// IsOnline reports the last-known status for addr. An address never
// observed is offline.
func (m *Monitor) IsOnline(addr net.Addr) bool {
	m.mu.Lock()
	s, ok := m.states[addr.String()]
	m.mu.Unlock()
	if !ok {
		return false
	}
	return s.online.Load()
}

// SweepIdle marks every address whose last recorded activity is older
// than threshold as offline. Server-side idle sweeper (spec §4.3,
// OFFLINE_THRESHOLD=60s, IDLE_SCAN_INTERVAL=30s). RecordProbeReply and
// RecordProbeFailure refresh the same last-activity timestamp as
// RecordActivity, so an address marked online only by a probe reply is
// also marked offline once that reply is older than threshold.
func (m *Monitor) SweepIdle(threshold time.Duration) {
	cutoff := time.Now().Add(-threshold)

	var toNotify []net.Addr
	m.mu.Lock()
	for _, s := range m.states {
		if s.lastActivity.Before(cutoff) && s.online.CompareAndSwap(true, false) {
			toNotify = append(toNotify, s.addr)
		}
	}
	m.mu.Unlock()

	for _, addr := range toNotify {
		m.fireStatusChanged(addr, false)
	}
}
