// resmgrd is the cluster resource manager daemon: it owns the resource
// pool, the queue tree, and the single-threaded control loop, and speaks
// the client wire protocol over a Unix domain socket.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/willschipp/resmgr/internal/broker"
	"github.com/willschipp/resmgr/internal/catalog"
	"github.com/willschipp/resmgr/internal/conntrack"
	"github.com/willschipp/resmgr/internal/control"
	"github.com/willschipp/resmgr/internal/pool"
	"github.com/willschipp/resmgr/internal/queuemgr"
	"github.com/willschipp/resmgr/internal/rpc"
	"github.com/willschipp/resmgr/pkg/config"
	"github.com/willschipp/resmgr/pkg/logger"
	"github.com/willschipp/resmgr/pkg/metrics"
)

var (
	version   = "0.1.0"
	buildTime = "unknown"
)

type cliFlags struct {
	configPath  string
	socketPath  string
	catalogDSN  string
	logLevel    string
	metricsAddr string
	version     bool
}

func main() {
	flags := parseFlags()

	if flags.version {
		fmt.Printf("resmgrd v%s (built %s)\n", version, buildTime)
		return
	}

	cfg, err := config.Load(flags.configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	applyFlagOverrides(cfg, flags)

	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	baseLogger, err := logger.New(logger.Config{
		Level: cfg.Logging.Level, Format: cfg.Logging.Format,
		Output: cfg.Logging.Output, Component: "resmgrd",
	})
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	audit := logger.NewAuditLogger(baseLogger)

	baseLogger.Info("starting resmgrd", "version", version, "socket", cfg.Server.SocketPath, "broker_mode", cfg.Cluster.BrokerMode)

	if err := os.MkdirAll(filepath.Dir(cfg.Server.SocketPath), 0750); err != nil {
		log.Fatalf("failed to create socket directory: %v", err)
	}

	var catalogStore *catalog.Store
	if cfg.Catalog.DSN != "" {
		catalogStore, err = catalog.Open(cfg.Catalog.DSN)
		if err != nil {
			baseLogger.Warn("catalog unavailable, running in-memory only", "error", err)
			catalogStore = nil
		} else {
			defer catalogStore.Close()
			baseLogger.Info("catalog connected")
		}
	}

	p := pool.New(audit)
	tree := queuemgr.NewTree(audit)
	tree.SetMaxQueues(cfg.Cluster.MaxResourceQueueNumber)
	tree.SetForceFIFOQueue(cfg.Cluster.ForceFIFOQueue)

	rb := resourceBroker(cfg, baseLogger)

	server := rpc.NewServer(cfg.Server.SocketPath, cfg.Server.RequestsPerSecond, cfg.Server.MaxConnections, audit)
	metricsReg := metrics.New()

	loop := control.New(server, p, tree, rb, nil, metricsReg, audit)
	loop.SetSegmentResourceQuota(cfg.Cluster.SegResourceQuotaMB, 1)
	if catalogStore != nil {
		loop.SetCatalog(catalogStore)
	}
	idleTimeout := time.Duration(cfg.Cluster.ResourceNoActionTimeoutSec) * time.Second
	loop.SetSweeper(conntrack.NewTimeoutSweeper(idleTimeout, loop, audit))

	if err := server.Start(); err != nil {
		log.Fatalf("failed to start rpc server: %v", err)
	}
	defer server.Stop()
	baseLogger.Info("rpc server listening", "socket", cfg.Server.SocketPath)

	var metricsSrv *http.Server
	if cfg.Server.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metricsReg.Handler())
		metricsSrv = &http.Server{Addr: cfg.Server.MetricsAddr, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				baseLogger.Warn("metrics server stopped", "error", err)
			}
		}()
		baseLogger.Info("metrics server listening", "addr", cfg.Server.MetricsAddr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		baseLogger.Info("shutting down")
		if metricsSrv != nil {
			_ = metricsSrv.Close()
		}
		cancel()
	}()

	if err := loop.Run(ctx); err != nil && err != context.Canceled {
		baseLogger.Warn("control loop exited", "error", err)
	}
	baseLogger.Info("resmgrd stopped")
}

// resourceBroker selects the ResourceBroker implementation per
// cluster.broker_mode. YARN_LIBYARN requires a concrete ExternalClient,
// an external collaborator outside this daemon's scope, so it falls
// back to self-contained mode with a warning rather than wiring a
// client that doesn't exist.
func resourceBroker(cfg *config.Config, l *logger.Logger) broker.ResourceBroker {
	if cfg.Cluster.BrokerMode == config.BrokerModeYarnLibYarn {
		l.Warn("broker_mode YARN_LIBYARN requires an external client; running self-contained instead")
	}
	return broker.SelfContained{}
}

func applyFlagOverrides(cfg *config.Config, flags cliFlags) {
	if flags.socketPath != "" {
		cfg.Server.SocketPath = flags.socketPath
	}
	if flags.catalogDSN != "" {
		cfg.Catalog.DSN = flags.catalogDSN
	}
	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}
	if flags.metricsAddr != "" {
		cfg.Server.MetricsAddr = flags.metricsAddr
	}
}

func parseFlags() cliFlags {
	var f cliFlags
	flag.StringVar(&f.configPath, "config", "", "path to configuration file")
	flag.StringVar(&f.socketPath, "socket", "", "path to unix domain socket (overrides config)")
	flag.StringVar(&f.catalogDSN, "catalog-dsn", "", "postgres catalog DSN (overrides config)")
	flag.StringVar(&f.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flag.StringVar(&f.metricsAddr, "metrics-addr", "", "prometheus metrics listen address (overrides config)")
	flag.BoolVar(&f.version, "version", false, "print version and exit")
	flag.Parse()
	return f
}
