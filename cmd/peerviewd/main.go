package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/peerview/hyparview/internal/membership"
	"github.com/peerview/hyparview/internal/metrics"
)

var (
	addr           = flag.String("addr", "127.0.0.1:7946", "this node's listen address")
	nodeName       = flag.String("name", "", "this node's name (auto-generated if empty)")
	joinAddr       = flag.String("join", "", "comma-separated addresses of peers to join at startup")
	dataDir        = flag.String("data-dir", "", "data directory for epoch persistence (disabled if empty)")
	metricsAddr    = flag.String("metrics-addr", ":9946", "Prometheus metrics listen address")
	debug          = flag.Bool("debug", false, "enable debug logging")
	maxActiveSize  = flag.Int("max-active-size", membership.DefaultConfig().MaxActiveSize, "active view capacity")
	minActiveSize  = flag.Int("min-active-size", membership.DefaultConfig().MinActiveSize, "active view low-water mark")
	maxPassiveSize = flag.Int("max-passive-size", membership.DefaultConfig().MaxPassiveSize, "passive view capacity")
	tag            = flag.String("tag", "", "this node's reservation tag, if any")
	reservations   = flag.String("reservations", "", "comma-separated reservation tags this node honors")
	broadcast      = flag.Bool("broadcast", membership.DefaultConfig().Broadcast, "enable broadcast-tree refresh and transitive relay")
)

func main() {
	flag.Parse()

	cfg := membership.DefaultConfig()
	cfg.MaxActiveSize = *maxActiveSize
	cfg.MinActiveSize = *minActiveSize
	cfg.MaxPassiveSize = *maxPassiveSize
	cfg.Tag = membership.Tag(*tag)
	cfg.Broadcast = *broadcast
	cfg.DataDir = *dataDir
	if *reservations != "" {
		for _, t := range strings.Split(*reservations, ",") {
			cfg.Reservations = append(cfg.Reservations, membership.Tag(t))
		}
	}

	logger := membership.NewStdLogger(*debug)

	name := *nodeName
	if name == "" {
		name = membership.GenerateName()
	}
	self := membership.PeerSpec{Name: name, Endpoint: *addr}

	epochStore, err := membership.NewEpochStore(cfg.DataDir)
	if err != nil {
		logger.Errorf("open epoch store: %v", err)
		os.Exit(1)
	}

	transport := membership.NewTCPConnections(self)
	if err := transport.Listen(); err != nil {
		logger.Errorf("listen on %s: %v", self.Endpoint, err)
		os.Exit(1)
	}

	tree := membership.NewTreeForwarder(self, nil, transport, cfg.RelayTTL, 0)

	coord, err := membership.NewCoordinator(self, cfg, transport, tree, epochStore, logger)
	if err != nil {
		logger.Errorf("start coordinator: %v", err)
		os.Exit(1)
	}

	metrics.InitInfo("dev", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	exporter := metrics.NewExporter(*metricsAddr, coord)
	if err := exporter.Start(); err != nil {
		logger.Errorf("start metrics exporter: %v", err)
	}

	if *joinAddr != "" {
		for i, seedAddr := range strings.Split(*joinAddr, ",") {
			peer := membership.PeerSpec{Name: fmt.Sprintf("seed-%d", i), Endpoint: seedAddr}
			if err := coord.Join(peer); err != nil {
				logger.Warnf("join %s: %v", seedAddr, err)
			}
		}
	}

	logger.Infof("peerviewd listening on %s as %s", self.Endpoint, self.Name)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Infof("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := coord.Shutdown(ctx); err != nil {
		logger.Warnf("coordinator shutdown: %v", err)
	}
	if err := exporter.Stop(ctx); err != nil {
		logger.Warnf("metrics exporter shutdown: %v", err)
	}
	if err := transport.Close(); err != nil {
		logger.Warnf("transport close: %v", err)
	}
}
