package transport

import "net"

// DeliveryCompleteHandler is invoked once a message has been fully
// reassembled (or arrived as a single FULL packet) and is ready for the
// application. Handlers run on the receiver goroutine and must not block.
type DeliveryCompleteHandler func(module string, nodeID uint32, payload []byte, source net.Addr)

// DeliveryFailedHandler is invoked once, when a PendingSend exhausts its
// retries.
type DeliveryFailedHandler func(module string, nodeID uint32, reason string, destination net.Addr)

// AckObservedHandler is invoked when a CONFIRM ACK matches an outstanding
// PendingSend.
type AckObservedHandler func(module string, nodeID uint32, sequence uint32, source net.Addr)

// ProbeReplyHandler is invoked when a PROBE_REPLY ACK is observed from
// source; wiring it to a liveness.Monitor's RecordProbeReply implements
// the online transition described in spec §4.3.
type ProbeReplyHandler func(source net.Addr)

// ProbeFailedHandler is invoked when a PROBE PendingSend exhausts its
// retries; wiring it to a liveness.Monitor's RecordProbeFailure
// implements the offline transition described in spec §4.3.
type ProbeFailedHandler func(destination net.Addr)

// events bundles the engine's observer registrations. All handlers fire
// from the goroutine that produced them (receiver or sender); none may
// block for more than a few milliseconds per spec §5.
type events struct {
	onDeliveryComplete []DeliveryCompleteHandler
	onDeliveryFailed   []DeliveryFailedHandler
	onAckObserved      []AckObservedHandler
	onProbeReply       []ProbeReplyHandler
	onProbeFailed      []ProbeFailedHandler
}

// OnDeliveryComplete registers a handler for fully reassembled messages.
func (e *Engine) OnDeliveryComplete(h DeliveryCompleteHandler) {
	e.evMu.Lock()
	defer e.evMu.Unlock()
	e.ev.onDeliveryComplete = append(e.ev.onDeliveryComplete, h)
}

// OnDeliveryFailed registers a handler for retry-exhausted sends.
func (e *Engine) OnDeliveryFailed(h DeliveryFailedHandler) {
	e.evMu.Lock()
	defer e.evMu.Unlock()
	e.ev.onDeliveryFailed = append(e.ev.onDeliveryFailed, h)
}

// OnAckObserved registers a handler for matched CONFIRM acks.
func (e *Engine) OnAckObserved(h AckObservedHandler) {
	e.evMu.Lock()
	defer e.evMu.Unlock()
	e.ev.onAckObserved = append(e.ev.onAckObserved, h)
}

// OnProbeReply registers a handler for observed PROBE_REPLY acks. The
// liveness monitor is the intended subscriber.
func (e *Engine) OnProbeReply(h ProbeReplyHandler) {
	e.evMu.Lock()
	defer e.evMu.Unlock()
	e.ev.onProbeReply = append(e.ev.onProbeReply, h)
}

// OnProbeFailed registers a handler for a PROBE PendingSend's retry
// exhaustion. The liveness monitor is the intended subscriber.
func (e *Engine) OnProbeFailed(h ProbeFailedHandler) {
	e.evMu.Lock()
	defer e.evMu.Unlock()
	e.ev.onProbeFailed = append(e.ev.onProbeFailed, h)
}

func (e *Engine) fireDeliveryComplete(module string, nodeID uint32, payload []byte, source net.Addr) {
	e.evMu.RLock()
	handlers := append([]DeliveryCompleteHandler(nil), e.ev.onDeliveryComplete...)
	e.evMu.RUnlock()
	for _, h := range handlers {
		h(module, nodeID, payload, source)
	}
}

func (e *Engine) fireDeliveryFailed(module string, nodeID uint32, reason string, destination net.Addr) {
	e.evMu.RLock()
	handlers := append([]DeliveryFailedHandler(nil), e.ev.onDeliveryFailed...)
	e.evMu.RUnlock()
	for _, h := range handlers {
		h(module, nodeID, reason, destination)
	}
}

func (e *Engine) fireAckObserved(module string, nodeID uint32, sequence uint32, source net.Addr) {
	e.evMu.RLock()
	handlers := append([]AckObservedHandler(nil), e.ev.onAckObserved...)
	e.evMu.RUnlock()
	for _, h := range handlers {
		h(module, nodeID, sequence, source)
	}
}

func (e *Engine) fireProbeReply(source net.Addr) {
	e.evMu.RLock()
	handlers := append([]ProbeReplyHandler(nil), e.ev.onProbeReply...)
	e.evMu.RUnlock()
	for _, h := range handlers {
		h(source)
	}
}

func (e *Engine) fireProbeFailed(destination net.Addr) {
	e.evMu.RLock()
	handlers := append([]ProbeFailedHandler(nil), e.ev.onProbeFailed...)
	e.evMu.RUnlock()
	for _, h := range handlers {
		h(destination)
	}
}
