package transport

import (
	"fmt"
	"net"

	"github.com/ventosilenzioso/reliable-transport/wire"
)

// Send enqueues payload for delivery to destination under module/nodeID
// and returns immediately; there is no back-pressure signal (spec §4.2
// public contract). The only synchronous failure is an empty payload —
// everything else (fragmentation, retransmission, failure) happens on
// the sender loop and is reported through the DeliveryFailed event.
func (e *Engine) Send(module string, nodeID uint32, payload []byte, destination net.Addr) error {
	if len(payload) == 0 {
		return fmt.Errorf("transport: payload must be non-empty")
	}
	e.enqueue(&sendJob{module: module, nodeID: nodeID, payload: payload, destination: destination})
	return nil
}

// Probe enqueues a single zero-payload PROBE packet against destination,
// the sole mechanism by which liveness is observed (spec §4.3).
func (e *Engine) Probe(destination net.Addr) error {
	e.enqueue(&sendJob{
		module:      e.cfg.ProbeModule,
		nodeID:      e.cfg.ProbeNodeID,
		payload:     nil,
		destination: destination,
	})
	return nil
}

func (e *Engine) enqueue(job *sendJob) {
	e.sendQueueMu.Lock()
	e.sendQueue = append(e.sendQueue, job)
	e.sendQueueMu.Unlock()
}

func (e *Engine) drainSendQueue() []*sendJob {
	e.sendQueueMu.Lock()
	defer e.sendQueueMu.Unlock()
	if len(e.sendQueue) == 0 {
		return nil
	}
	jobs := e.sendQueue
	e.sendQueue = nil
	return jobs
}

// materialize turns a SendJob into one or more registered PendingSends
// (spec §4.2 send path, steps 2-5). It does not transmit; the
// retransmission pass does that on the same tick.
func (e *Engine) materialize(job *sendJob) {
	seq := e.nextSequence()
	isProbe := len(job.payload) == 0

	switch {
	case isProbe:
		e.registerProbe(job, seq)
	case len(job.payload) <= wire.MaxFragmentBytes:
		e.registerFull(job, seq)
	default:
		e.registerFragmented(job, seq)
	}
}

func (e *Engine) build(job *sendJob, p *wire.Packet) ([]byte, error) {
	p.NodeID = job.nodeID
	return e.codec.Build(job.module, p)
}

func (e *Engine) registerProbe(job *sendJob, seq uint32) {
	data, err := e.build(job, &wire.Packet{
		Kind:          wire.KindProbe,
		Sequence:      seq,
		FragmentIndex: 0,
	})
	if err != nil {
		e.log.WithError(err).WithField("module", job.module).Warn("transport: failed to build probe packet")
		return
	}
	e.pendingSends.put(&pendingSend{
		key:         pendingSendKey{module: job.module, node: job.nodeID, sequence: seq, fragmentIndex: 0},
		data:        data,
		destination: job.destination,
		isProbe:     true,
	})
}

func (e *Engine) registerFull(job *sendJob, seq uint32) {
	data, err := e.build(job, &wire.Packet{
		Kind:          wire.KindFull,
		Sequence:      seq,
		FragmentIndex: 0,
		TotalLength:   uint32(len(job.payload)),
		FragmentCount: 1,
		Payload:       job.payload,
	})
	if err != nil {
		e.log.WithError(err).WithField("module", job.module).Warn("transport: failed to build FULL packet")
		return
	}
	e.pendingSends.put(&pendingSend{
		key:         pendingSendKey{module: job.module, node: job.nodeID, sequence: seq, fragmentIndex: 0},
		data:        data,
		destination: job.destination,
	})
}

func (e *Engine) registerFragmented(job *sendJob, seq uint32) {
	max := wire.MaxFragmentBytes
	total := len(job.payload)
	count := (total + max - 1) / max

	hdrData, err := e.build(job, &wire.Packet{
		Kind:          wire.KindHeader,
		Sequence:      seq,
		FragmentIndex: 0,
		TotalLength:   uint32(total),
		FragmentCount: uint32(count),
	})
	if err != nil {
		e.log.WithError(err).WithField("module", job.module).Warn("transport: failed to build HEADER packet")
		return
	}
	e.pendingSends.put(&pendingSend{
		key:         pendingSendKey{module: job.module, node: job.nodeID, sequence: seq, fragmentIndex: 0},
		data:        hdrData,
		destination: job.destination,
	})

	for i := 1; i <= count; i++ {
		start := (i - 1) * max
		end := start + max
		if end > total {
			end = total
		}
		chunk := job.payload[start:end]

		data, err := e.build(job, &wire.Packet{
			Kind:          wire.KindData,
			Sequence:      seq,
			FragmentIndex: uint32(i),
			Payload:       chunk,
		})
		if err != nil {
			e.log.WithError(err).WithField("module", job.module).Warn("transport: failed to build DATA packet")
			continue
		}
		e.pendingSends.put(&pendingSend{
			key:         pendingSendKey{module: job.module, node: job.nodeID, sequence: seq, fragmentIndex: uint32(i)},
			data:        data,
			destination: job.destination,
		})
	}
}
