package transport

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/ventosilenzioso/reliable-transport/wire"
)

// receiveLoop is the "Receiver" worker of spec §5: it blocks on datagram
// read with a short timeout to remain cancellable, and parses/dispatches
// every packet inline on this single goroutine.
func (e *Engine) receiveLoop(ctx context.Context) error {
	buf := make([]byte, 2048)
	lastSweep := time.Now()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := e.conn.SetReadDeadline(time.Now().Add(e.cfg.RecvReadTimeout)); err != nil {
			return err
		}
		n, addr, err := e.conn.ReadFrom(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			e.log.WithError(err).Warn("transport: datagram read failed")
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		e.handleDatagram(data, addr)

		if time.Since(lastSweep) > e.cfg.RecvTTL {
			e.pendingReceives.sweepStale(e.cfg.RecvTTL)
			lastSweep = time.Now()
		}

		e.pendingReceives.mu.Lock()
		e.metric.PendingReceives.Set(float64(len(e.pendingReceives.entries)))
		e.pendingReceives.mu.Unlock()
	}
}

// handleDatagram parses one datagram and discards it silently on any
// structural or checksum failure (spec §7).
func (e *Engine) handleDatagram(data []byte, source net.Addr) {
	p, ok := wire.Parse(data)
	if !ok {
		return
	}
	if !wire.VerifyChecksum(p) {
		return
	}

	module := p.ModuleName(e.codec.Modules)

	switch p.Kind {
	case wire.KindAck:
		e.handleAck(module, p.NodeID, p.Sequence, p.FragmentIndex, p.AckStatus, source)
	case wire.KindProbe:
		e.handleProbe(module, p, source)
	case wire.KindFull:
		e.handleFull(module, p, source)
	case wire.KindHeader:
		e.handleHeader(module, p, source)
	case wire.KindData:
		e.handleData(module, p, source)
	}
}

func (e *Engine) handleProbe(module string, p *wire.Packet, source net.Addr) {
	e.sendAck(module, p.NodeID, p.Sequence, p.FragmentIndex, wire.AckProbeReply, source)
}

func (e *Engine) handleFull(module string, p *wire.Packet, source net.Addr) {
	e.sendAck(module, p.NodeID, p.Sequence, p.FragmentIndex, wire.AckConfirm, source)
	e.metric.DeliveriesComplete.Inc()
	e.fireDeliveryComplete(module, p.NodeID, p.Payload, source)
}

func (e *Engine) handleHeader(module string, p *wire.Packet, source net.Addr) {
	e.sendAck(module, p.NodeID, p.Sequence, p.FragmentIndex, wire.AckConfirm, source)

	key := pendingReceiveKey{source: source.String(), module: module, node: p.NodeID, sequence: p.Sequence}
	r := e.pendingReceives.getOrCreate(key, source)

	r.totalLength = p.TotalLength
	r.fragmentCount = p.FragmentCount
	r.headerReceived = true
	r.lastReceived = time.Now()

	if r.complete() {
		e.tryAssemble(module, key, r)
	}
}

func (e *Engine) handleData(module string, p *wire.Packet, source net.Addr) {
	e.sendAck(module, p.NodeID, p.Sequence, p.FragmentIndex, wire.AckConfirm, source)

	key := pendingReceiveKey{source: source.String(), module: module, node: p.NodeID, sequence: p.Sequence}
	r := e.pendingReceives.getOrCreate(key, source)

	r.fragments[p.FragmentIndex] = p.Payload
	r.lastReceived = time.Now()

	if r.complete() {
		e.tryAssemble(module, key, r)
	}
}

// tryAssemble concatenates fragments and delivers, or silently discards
// on a length mismatch (spec §4.2 "Assembly", §7 open question #2).
func (e *Engine) tryAssemble(module string, key pendingReceiveKey, r *pendingReceive) {
	payload, ok := r.assemble()
	e.pendingReceives.remove(key)
	if !ok {
		e.log.WithFields(map[string]interface{}{
			"module": module, "node": key.node, "sequence": key.sequence,
		}).Warn("transport: assembled length mismatch, discarding")
		return
	}
	e.metric.DeliveriesComplete.Inc()
	e.fireDeliveryComplete(module, key.node, payload, r.sourceAddr)
}

// sendAck writes an immediate ACK datagram mirroring sequence and
// fragment_index, per spec §4.2. ACKs are not tracked as PendingSends —
// they're fire-and-forget, the transport never retries its own ACKs.
func (e *Engine) sendAck(module string, nodeID, sequence, fragmentIndex uint32, status wire.AckStatus, dest net.Addr) {
	data, err := e.codec.Build(module, &wire.Packet{
		Kind:          wire.KindAck,
		AckStatus:     status,
		NodeID:        nodeID,
		Sequence:      sequence,
		FragmentIndex: fragmentIndex,
	})
	if err != nil {
		e.log.WithError(err).WithField("module", module).Warn("transport: failed to build ack")
		return
	}
	if _, err := e.conn.WriteTo(data, dest); err != nil {
		e.log.WithError(err).WithField("destination", dest).Warn("transport: ack write failed")
	}
}
