// Package dispatcher sits above transport.Engine and provides the
// application-facing API: typed payload encode/decode, per-module
// handler routing, a bounded FIFO send queue with its own outer retry,
// and client/server addressing rules (spec §4.4).
package dispatcher

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ventosilenzioso/reliable-transport/liveness"
	"github.com/ventosilenzioso/reliable-transport/registry"
)

// Handler receives a decoded payload for one module. nodeID and source
// identify the sender; server roles use nodeID, client roles may ignore
// it.
type Handler func(nodeID uint32, payload map[string]any, source net.Addr)

// Sender is the subset of transport.Engine the dispatcher depends on.
// Kept as an interface (rather than importing transport directly) so
// dispatcher tests don't need a live UDP socket.
type Sender interface {
	Send(module string, nodeID uint32, payload []byte, destination net.Addr) error
}

// job is one queued outbound message awaiting the sender worker.
type job struct {
	module      string
	nodeID      uint32
	payload     map[string]any
	destination net.Addr
}

// Config carries the dispatcher's queue bound and outer-retry timing
// (spec §6: DISPATCHER_RETRY_ATTEMPTS=3, DISPATCHER_RETRY_PAUSE=1s).
type Config struct {
	QueueCapacity int
	RetryAttempts int
	RetryPause    time.Duration
}

// DefaultConfig returns the source's defaults, with a bounded queue per
// spec §5's "implementations SHOULD bound it" recommendation.
func DefaultConfig() Config {
	return Config{QueueCapacity: 1024, RetryAttempts: 3, RetryPause: time.Second}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = d.QueueCapacity
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = d.RetryAttempts
	}
	if c.RetryPause <= 0 {
		c.RetryPause = d.RetryPause
	}
	return c
}

// ErrQueueFull is returned by Send when the bounded outbound queue has
// no room left.
var ErrQueueFull = errors.New("dispatcher: send queue full")

// ErrDestinationOffline is returned when the resolved destination is
// known-offline per the wired liveness.Monitor.
var ErrDestinationOffline = errors.New("dispatcher: destination offline")

// ErrUnknownNode is returned by a server-role Send when node_id has no
// PeerBinding.
var ErrUnknownNode = errors.New("dispatcher: unknown node id")

// Dispatcher is constructed once per role (client: fixed destination;
// server: PeerBinding-resolved destination).
type Dispatcher struct {
	cfg      Config
	sender   Sender
	liveness *liveness.Monitor
	registry *registry.Registry // nil for client role
	clientTo net.Addr           // nil for server role
	log      *logrus.Entry

	mu       sync.Mutex
	handlers map[string]Handler

	queueMu sync.Mutex
	queue   []job
	wake    chan struct{}
}

// NewClient builds a dispatcher that always sends to destination.
func NewClient(cfg Config, sender Sender, lv *liveness.Monitor, destination net.Addr, log *logrus.Entry) *Dispatcher {
	return newDispatcher(cfg, sender, lv, nil, destination, log)
}

// NewServer builds a dispatcher that resolves destinations through reg.
func NewServer(cfg Config, sender Sender, lv *liveness.Monitor, reg *registry.Registry, log *logrus.Entry) *Dispatcher {
	return newDispatcher(cfg, sender, lv, reg, nil, log)
}

func newDispatcher(cfg Config, sender Sender, lv *liveness.Monitor, reg *registry.Registry, clientTo net.Addr, log *logrus.Entry) *Dispatcher {
	if log == nil {
		log = logrus.NewEntry(logrus.New())
	}
	return &Dispatcher{
		cfg:      cfg.withDefaults(),
		sender:   sender,
		liveness: lv,
		registry: reg,
		clientTo: clientTo,
		log:      log,
		handlers: make(map[string]Handler),
		wake:     make(chan struct{}, 1),
	}
}

// RegisterHandler wires handler to receive every decoded DeliveryComplete
// for module (spec §4.4's per-module routing, grounded in the teacher's
// EventManager.Register — core/events/events.go).
func (d *Dispatcher) RegisterHandler(module string, handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[module] = handler
}

// Send encodes payload as canonical JSON and enqueues it for the sender
// worker. The only synchronous failures are queue-full, unknown node id
// (server role), and known-offline destination — everything past that
// point happens asynchronously and is invisible to the caller except
// through the transport's own DeliveryFailed event.
func (d *Dispatcher) Send(module string, nodeID uint32, payload map[string]any) error {
	dest, err := d.resolveDestination(nodeID)
	if err != nil {
		return err
	}
	if d.liveness != nil && !d.liveness.IsOnline(dest) {
		return errors.Wrapf(ErrDestinationOffline, "node %d at %s", nodeID, dest)
	}

	d.queueMu.Lock()
	if len(d.queue) >= d.cfg.QueueCapacity {
		d.queueMu.Unlock()
		return errors.Wrapf(ErrQueueFull, "module %q", module)
	}
	d.queue = append(d.queue, job{module: module, nodeID: nodeID, payload: payload, destination: dest})
	d.queueMu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
	return nil
}

func (d *Dispatcher) resolveDestination(nodeID uint32) (net.Addr, error) {
	if d.clientTo != nil {
		return d.clientTo, nil
	}
	addr, ok := d.registry.Lookup(nodeID)
	if !ok {
		return nil, errors.Wrapf(ErrUnknownNode, "%d", nodeID)
	}
	return addr, nil
}

func (d *Dispatcher) dequeue() (job, bool) {
	d.queueMu.Lock()
	defer d.queueMu.Unlock()
	if len(d.queue) == 0 {
		return job{}, false
	}
	j := d.queue[0]
	d.queue = d.queue[1:]
	return j, true
}

// Run is the dedicated sender worker (spec §5 worker 3: "Dispatcher
// sender. Drains the application queue; calls Transport.send"). It
// blocks until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-d.wake:
		}

		for {
			j, ok := d.dequeue()
			if !ok {
				break
			}
			d.attemptSend(ctx, j)
		}
	}
}

// attemptSend makes up to RetryAttempts synchronous send calls with a
// RetryPause between them — orthogonal to the transport's own
// acknowledgement-driven retransmission, which this never sees (spec §9
// open question #4: both retries are intentional, different failure
// domains).
func (d *Dispatcher) attemptSend(ctx context.Context, j job) {
	data, err := json.Marshal(j.payload)
	if err != nil {
		d.log.WithError(err).WithField("module", j.module).Warn("dispatcher: payload encode failed")
		return
	}

	var lastErr error
	for attempt := 0; attempt < d.cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			t := time.NewTimer(d.cfg.RetryPause)
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
		}
		lastErr = d.sender.Send(j.module, j.nodeID, data, j.destination)
		if lastErr == nil {
			return
		}
	}
	d.log.WithError(lastErr).WithFields(map[string]interface{}{
		"module": j.module, "node": j.nodeID, "destination": j.destination,
	}).Warn("dispatcher: send failed after all attempts")
}

// HandleDelivery is wired to transport.Engine.OnDeliveryComplete. It
// updates the PeerBinding (server role), decodes the JSON payload, and
// routes to the registered handler for module; unknown modules are
// logged and dropped (spec §4.4).
func (d *Dispatcher) HandleDelivery(module string, nodeID uint32, data []byte, source net.Addr) {
	if d.registry != nil {
		// DeliveryComplete carries no sequence number (spec §4.2's event
		// signature is module/node/bytes/source only), so LastSeq is left
		// at its zero value here; only a direct wire-level consumer could
		// populate it meaningfully.
		d.registry.Upsert(nodeID, source, 0)
	}

	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		d.log.WithError(err).WithField("module", module).Warn("dispatcher: payload decode failed")
		return
	}

	d.mu.Lock()
	handler, ok := d.handlers[module]
	d.mu.Unlock()
	if !ok {
		d.log.WithField("module", module).Warn("dispatcher: no handler for module, dropping")
		return
	}
	handler(nodeID, payload, source)
}

// Decode maps a raw payload into dst (a pointer to a struct) via
// mapstructure, for handlers that want a typed view instead of the raw
// map[string]any (spec §4.4's "resolved" payload format).
func Decode(payload map[string]any, dst any) error {
	if err := mapstructure.Decode(payload, dst); err != nil {
		return errors.Wrap(err, "dispatcher: struct decode failed")
	}
	return nil
}
