// Package config resolves the transport's configuration surface (spec
// §6: bind address, peer address, node id, module map extensions,
// timing overrides) from the process environment, in the style both
// telepresence repos use for their own manager/client env config
// (cmd/traffic/cmd/manager/envconfig.go).
package config

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Env is the process-level configuration surface. All fields carry the
// source's documented defaults (spec §6) so a bare environment still
// produces a working engine.
type Env struct {
	// BindAddress is this process's local UDP endpoint ("host:port";
	// port 0 lets the OS assign one).
	BindAddress string `env:"RELIABLE_BIND_ADDRESS,default=0.0.0.0:0"`

	// PeerAddress is the client role's fixed destination. Empty means
	// server role (addressing resolved through the Session Registry
	// instead).
	PeerAddress string `env:"RELIABLE_PEER_ADDRESS,default="`

	// NodeID is this process's logical peer identifier on outbound
	// traffic.
	NodeID uint32 `env:"RELIABLE_NODE_ID,default=0"`

	RetryInterval   time.Duration `env:"RELIABLE_RETRY_INTERVAL,default=1s"`
	MaxRetries      int           `env:"RELIABLE_MAX_RETRIES,default=3"`
	RecvReadTimeout time.Duration `env:"RELIABLE_RECV_READ_TIMEOUT,default=100ms"`
	SendPollTimeout time.Duration `env:"RELIABLE_SEND_POLL_TIMEOUT,default=500ms"`
	RecvTTL         time.Duration `env:"RELIABLE_RECV_TTL,default=30s"`

	ProbeInterval    time.Duration `env:"RELIABLE_PROBE_INTERVAL,default=60s"`
	IdleScanInterval time.Duration `env:"RELIABLE_IDLE_SCAN_INTERVAL,default=30s"`
	OfflineThreshold time.Duration `env:"RELIABLE_OFFLINE_THRESHOLD,default=60s"`

	DispatcherRetryAttempts int           `env:"RELIABLE_DISPATCHER_RETRY_ATTEMPTS,default=3"`
	DispatcherRetryPause    time.Duration `env:"RELIABLE_DISPATCHER_RETRY_PAUSE,default=1s"`
	DispatcherQueueCapacity int           `env:"RELIABLE_DISPATCHER_QUEUE_CAPACITY,default=1024"`

	// ExtraModules holds "id:name" pairs (e.g. "3:telemetry") appended to
	// the default module map (spec §6: "implementations MUST allow the
	// map to be extended at startup").
	ExtraModules []string `env:"RELIABLE_EXTRA_MODULES,delimiter=,"`

	LogLevel string `env:"RELIABLE_LOG_LEVEL,default=info"`
}

// Load resolves Env from the process environment.
func Load(ctx context.Context) (Env, error) {
	var e Env
	if err := envconfig.Process(ctx, &e); err != nil {
		return Env{}, err
	}
	return e, nil
}

// IsServerRole reports whether PeerAddress is unset, meaning this
// process resolves destinations through the Session Registry rather
// than a single fixed peer.
func (e Env) IsServerRole() bool {
	return e.PeerAddress == ""
}

// ParseExtraModules parses ExtraModules's "id:name" pairs into a map
// suitable for extending wire.DefaultModules().
func (e Env) ParseExtraModules() (map[uint32]string, error) {
	out := make(map[uint32]string, len(e.ExtraModules))
	for _, entry := range e.ExtraModules {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("config: malformed module entry %q, want id:name", entry)
		}
		id, err := strconv.ParseUint(parts[0], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("config: malformed module id in %q: %w", entry, err)
		}
		out[uint32(id)] = parts[1]
	}
	return out, nil
}
