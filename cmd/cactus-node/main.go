// Command cactus-node runs a single overlay peer: it loads configuration,
// binds the UDP transport, starts the protocol engine, serves Prometheus
// metrics, and blocks until asked to shut down. Generalised from the
// teacher's cmd/inos-node/main.go (start, simulate, exit) into a
// long-running "start, block on signal, graceful stop" service, the same
// shape the teacher's Framework.start()/stop() imply.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cactus-mesh/cactus/internal/config"
	"github.com/cactus-mesh/cactus/internal/id"
	"github.com/cactus-mesh/cactus/internal/mesh/engine"
	"github.com/cactus-mesh/cactus/internal/mesh/transport"
	"github.com/cactus-mesh/cactus/internal/metrics"
)

func main() {
	os.Exit(run())
}

func run() int {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	fs := flag.NewFlagSet("cactus-node", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a YAML config file")
	metricsAddr := fs.String("metrics-addr", ":9848", "address to serve /metrics on")

	var cfg config.Config
	applyFlags := config.ApplyFlags(fs, &cfg)

	if err := fs.Parse(os.Args[1:]); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		logger.Error("failed to parse flags", "error", err)
		return 1
	}

	loaded, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return 1
	}
	cfg = loaded

	if err := applyFlags(); err != nil {
		logger.Error("failed to apply flag overrides", "error", err)
		return 1
	}

	transportCfg := transport.Config{
		BindAddr:           cfg.BindAddr,
		EntryAddr:          cfg.EntryAddr,
		SocketReadTimeout:  cfg.SocketReadTimeout,
		SocketWriteTimeout: cfg.SocketWriteTimeout,
	}

	endpoint, err := transport.New(transportCfg, logger)
	if err != nil {
		logger.Error("failed to bind transport", "error", err)
		return 1
	}
	defer endpoint.Close()

	collector := metrics.New()

	if cfg.EntryAddr == nil {
		nodeID := id.FromKeyString(cfg.BindAddr.String())
		endpoint.Bootstrap(nodeID)
		logger.Info("bootstrapped as root", "node_id", nodeID.String())
	}

	eng := engine.New(endpoint, func(key id.ID, payload []byte) {
		logger.Info("delivered message", "key", key.String(), "bytes", len(payload))
	}, engine.Metrics{
		PacketHandled: collector.PacketHandled,
		ErrorObserved: collector.ErrorObserved,
		JoinHopSeen:   collector.JoinHopSeen,
		TableObserved: collector.ObserveTable,
	})

	if err := eng.Start(); err != nil {
		logger.Error("failed to start engine", "error", err)
		return 1
	}

	if cfg.EntryAddr != nil {
		if err := eng.JoinRequest(*cfg.EntryAddr); err != nil {
			logger.Error("failed to send join request", "error", err)
		}
	}

	metricsServer := &http.Server{Addr: *metricsAddr, Handler: collector.Handler()}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("metrics server stopped", "error", err)
		}
	}()

	// A root node never receives a JoinResponse, so the engine-side
	// observeTable callback never fires for it; sample on a ticker too so
	// its occupancy gauges still read non-stale values.
	tableSampler := time.NewTicker(30 * time.Second)
	tableSamplerDone := make(chan struct{})
	go func() {
		defer tableSampler.Stop()
		for {
			select {
			case <-tableSampler.C:
				collector.ObserveTable(endpoint.GetRoutingTable())
			case <-tableSamplerDone:
				return
			}
		}
	}()

	logger.Info("cactus-node running", "bind", cfg.BindAddr.String())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	close(tableSamplerDone)
	shutdownCtxDone := make(chan struct{})
	go func() {
		_ = metricsServer.Close()
		close(shutdownCtxDone)
	}()
	select {
	case <-shutdownCtxDone:
	case <-time.After(5 * time.Second):
	}

	if err := eng.Stop(); err != nil {
		logger.Error("failed to stop engine", "error", err)
		return 1
	}

	fmt.Fprintln(os.Stderr, "cactus-node stopped")
	return 0
}
