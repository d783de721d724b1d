// Command reliabled runs one reliable-transport endpoint: a client role
// (fixed peer address) or a server role (Session Registry-resolved
// peers), wiring the transport engine, liveness monitor, dispatcher, and
// session registry end to end. Flag overrides use the same
// spf13/cobra + spf13/pflag stack telepresence's own CLI entrypoints use.
package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/ventosilenzioso/reliable-transport/config"
	"github.com/ventosilenzioso/reliable-transport/dispatcher"
	"github.com/ventosilenzioso/reliable-transport/liveness"
	"github.com/ventosilenzioso/reliable-transport/logging"
	"github.com/ventosilenzioso/reliable-transport/metrics"
	"github.com/ventosilenzioso/reliable-transport/registry"
	"github.com/ventosilenzioso/reliable-transport/transport"
	"github.com/ventosilenzioso/reliable-transport/wire"
)

const version = "0.1.0"

func main() {
	var bindAddress, peerAddress, logLevel string
	var nodeID uint32

	cmd := &cobra.Command{
		Use:   "reliabled",
		Short: "Reliable datagram transport endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := config.Load(cmd.Context())
			if err != nil {
				return err
			}
			if bindAddress != "" {
				env.BindAddress = bindAddress
			}
			if peerAddress != "" {
				env.PeerAddress = peerAddress
			}
			if cmd.Flags().Changed("node-id") {
				env.NodeID = nodeID
			}
			if logLevel != "" {
				env.LogLevel = logLevel
			}
			return run(cmd.Context(), env, cmd.Flags())
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&bindAddress, "bind-address", "", "local UDP bind address (overrides RELIABLE_BIND_ADDRESS)")
	flags.StringVar(&peerAddress, "peer-address", "", "fixed peer address for client role (overrides RELIABLE_PEER_ADDRESS)")
	flags.Uint32Var(&nodeID, "node-id", 0, "logical node id for outbound traffic")
	flags.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, env config.Env, flags *pflag.FlagSet) error {
	log := logging.New(env.LogLevel)
	logging.Banner("reliable-transport", version)
	logExplicitFlags(log, flags)

	extra, err := env.ParseExtraModules()
	if err != nil {
		return err
	}
	reg := wire.NewModuleRegistry(wire.DefaultModules())
	for id, name := range extra {
		reg.Register(name, id)
	}

	engineCfg := transport.Config{
		RetryInterval:   env.RetryInterval,
		MaxRetries:      env.MaxRetries,
		RecvReadTimeout: env.RecvReadTimeout,
		SendPollTimeout: env.SendPollTimeout,
		RecvTTL:         env.RecvTTL,
		ProbeNodeID:     env.NodeID,
	}
	metric := metrics.NewTransport(nil)
	engine, err := transport.New(env.BindAddress, reg, engineCfg, log, metric)
	if err != nil {
		return err
	}
	defer engine.Close()

	lv := liveness.NewMonitor()
	engine.OnProbeReply(lv.RecordProbeReply)
	engine.OnProbeFailed(lv.RecordProbeFailure)
	lv.OnStatusChanged(func(addr net.Addr, online bool) {
		log.WithField("address", addr).WithField("online", online).Info("endpoint status changed")
	})

	dispatcherCfg := dispatcher.Config{
		QueueCapacity: env.DispatcherQueueCapacity,
		RetryAttempts: env.DispatcherRetryAttempts,
		RetryPause:    env.DispatcherRetryPause,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	group, gctx := errgroup.WithContext(ctx)

	var disp *dispatcher.Dispatcher
	if env.IsServerRole() {
		sessions := registry.New(lv, log)
		disp = dispatcher.NewServer(dispatcherCfg, engine, lv, sessions, log)
		group.Go(func() error {
			return sessions.RunIdleSweep(gctx, env.IdleScanInterval, env.OfflineThreshold)
		})
		log.Info("running in server role")
	} else {
		peerAddr, err := net.ResolveUDPAddr("udp", env.PeerAddress)
		if err != nil {
			return err
		}
		disp = dispatcher.NewClient(dispatcherCfg, engine, lv, peerAddr, log)
		prober := liveness.NewProber(peerAddr, env.ProbeInterval, engine.Probe)
		group.Go(func() error { return prober.Run(gctx) })
		log.WithField("peer", peerAddr).Info("running in client role")
	}

	engine.OnDeliveryComplete(disp.HandleDelivery)
	group.Go(func() error { return disp.Run(gctx) })

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	group.Go(func() error {
		select {
		case <-gctx.Done():
		case <-sigCh:
			log.Info("signal received, shutting down")
			cancel()
		}
		return nil
	})

	return group.Wait()
}

// logExplicitFlags records which CLI flags overrode their environment
// default, the way telepresence's own command setup visits the flag
// set for diagnostic output (pkg/client/connector/commands/commands.go).
func logExplicitFlags(log *logrus.Entry, flags *pflag.FlagSet) {
	flags.VisitAll(func(f *pflag.Flag) {
		if f.Changed {
			log.WithField("flag", f.Name).WithField("value", f.Value.String()).Debug("flag override applied")
		}
	})
}
