// Package transport implements the reliable datagram transport engine:
// sequencing, fragmentation, acknowledgement-driven retransmission on
// send, and header/data reassembly with duplicate ACK generation on
// receive. See spec §4.2.
package transport

import (
	"context"
	"math/rand"
	"net"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/ventosilenzioso/reliable-transport/metrics"
	"github.com/ventosilenzioso/reliable-transport/wire"
)

// Engine owns the UDP endpoint, the sequence counter, the pending-send
// and pending-receive tables, and the ACK/retransmission loop. It has no
// notion of peer identity beyond what the spec assigns it (node ids and
// module names); session/liveness bookkeeping live in sibling packages
// and subscribe to the engine's events.
type Engine struct {
	cfg    Config
	codec  *wire.Codec
	conn   *net.UDPConn
	log    *logrus.Entry
	metric *metrics.Transport

	sequence *atomic.Uint32

	sendQueueMu sync.Mutex
	sendQueue   []*sendJob

	pendingSends    *pendingSendTable
	pendingReceives *pendingReceiveTable

	evMu sync.RWMutex
	ev   events

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	closeOnce sync.Once
}

// sendJob is an application-level outbound request queued by Send/Probe
// and materialized into one or more PendingSends by the sender loop.
type sendJob struct {
	module      string
	nodeID      uint32
	payload     []byte
	destination net.Addr
}

// New constructs an Engine bound to a UDP socket at bindAddr ("host:port",
// port 0 for an OS-assigned port). The sequence counter is seeded from a
// process-start random value per spec §4.2.
func New(bindAddr string, reg *wire.ModuleRegistry, cfg Config, log *logrus.Entry, metric *metrics.Transport) (*Engine, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", bindAddr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.NewEntry(logrus.New())
	}
	if metric == nil {
		metric = metrics.NewTransport(nil)
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(ctx)

	e := &Engine{
		cfg:             cfg.withDefaults(),
		codec:           wire.NewCodec(reg),
		conn:            conn,
		log:             log,
		metric:          metric,
		sequence:        atomic.NewUint32(rand.Uint32()),
		pendingSends:    newPendingSendTable(),
		pendingReceives: newPendingReceiveTable(),
		ctx:             gctx,
		cancel:          cancel,
		group:           group,
	}

	e.group.Go(func() error { return e.receiveLoop(gctx) })
	e.group.Go(func() error { return e.senderLoop(gctx) })

	return e, nil
}

// LocalAddress returns the bound UDP address.
func (e *Engine) LocalAddress() *net.UDPAddr {
	return e.conn.LocalAddr().(*net.UDPAddr)
}

// nextSequence allocates the next strictly monotonic (mod 2^32) sequence
// number.
func (e *Engine) nextSequence() uint32 {
	return e.sequence.Add(1)
}

// Close stops every loop, closes the UDP endpoint, and discards
// in-flight state without delivering it. It does not emit
// DeliveryFailed for outstanding PendingSends (spec §5, §9 open question
// #3: pending queues are drained without delivery on shutdown).
func (e *Engine) Close() error {
	var result error
	e.closeOnce.Do(func() {
		e.cancel()
		if err := e.group.Wait(); err != nil {
			result = multierror.Append(result, err)
		}
		if err := e.conn.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	})
	return result
}
