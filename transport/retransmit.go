package transport

import (
	"context"
	"net"
	"time"

	"github.com/ventosilenzioso/reliable-transport/wire"
)

// senderLoop is the "Sender" worker of spec §5: it dequeues SendJobs on a
// SendPollTimeout poll and runs the retransmission pass on every
// iteration.
func (e *Engine) senderLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.SendPollTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, job := range e.drainSendQueue() {
				e.materialize(job)
			}
			e.retransmissionPass()
		}
	}
}

// retransmissionPass implements spec §4.2's per-tick state machine for
// every PendingSend: first transmission, due retransmission, or retry
// exhaustion.
func (e *Engine) retransmissionPass() {
	now := time.Now()
	for _, p := range e.pendingSends.snapshot() {
		switch {
		case !p.sent:
			e.transmit(p)
			p.sent = true
			p.lastSent = now
			e.metric.PacketsSent.Inc()

		case now.Sub(p.lastSent) > e.cfg.RetryInterval && p.retryCount < e.cfg.MaxRetries:
			e.transmit(p)
			p.retryCount++
			p.lastSent = now
			e.metric.PacketsRetransmitted.Inc()

		case now.Sub(p.lastSent) > e.cfg.RetryInterval:
			e.pendingSends.deleteIf(p.key)
			e.metric.DeliveriesFailed.Inc()
			e.fireDeliveryFailed(p.key.module, p.key.node, "max retries exceeded", p.destination)
			if p.isProbe {
				e.fireProbeFailed(p.destination)
			}
		}
	}
	e.metric.PendingSends.Set(float64(len(e.pendingSends.snapshot())))
}

func (e *Engine) transmit(p *pendingSend) {
	if _, err := e.conn.WriteTo(p.data, p.destination); err != nil {
		e.log.WithError(err).WithField("destination", p.destination).Warn("transport: write failed")
	}
}

// handleAck processes an inbound ACK packet against the pending-send
// table per spec §4.2's ACK handling.
func (e *Engine) handleAck(module string, nodeID uint32, sequence, fragmentIndex uint32, ackStatus wire.AckStatus, source net.Addr) {
	key := pendingSendKey{module: module, node: nodeID, sequence: sequence, fragmentIndex: fragmentIndex}

	switch ackStatus {
	case wire.AckConfirm:
		if _, ok := e.pendingSends.remove(key); ok {
			e.metric.AcksObserved.Inc()
			e.fireAckObserved(module, nodeID, sequence, source)
		}
		// Unmatched CONFIRM (late or duplicate) has no effect.

	case wire.AckRetransmit:
		if p, ok := e.pendingSends.get(key); ok {
			p.lastSent = time.Time{}
			p.retryCount++
		}

	case wire.AckProbeReply:
		if _, ok := e.pendingSends.remove(key); ok {
			e.fireProbeReply(source)
		}

	default:
		e.log.WithField("status", ackStatus.String()).Debug("transport: ignoring unknown ack status")
	}
}
