// Command chatd runs the LAN chat daemon: a TCP connection acceptor
// serving authenticated sessions and a UDP multicast discovery
// responder, sharing one server context (SPEC_FULL.md §6).
package main

import (
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/lanchat/chatd/internal/config"
	"github.com/lanchat/chatd/internal/mcast"
	"github.com/lanchat/chatd/internal/server"
)

func main() {
	var (
		configFile     = flag.String("config", "", "path to a JSON config file (optional)")
		root           = flag.String("root", "", "storage root directory (overrides config)")
		tcpAddr        = flag.String("addr", "", "TCP listen address (overrides config)")
		discoveryGroup = flag.String("discovery-group", "", "UDP discovery multicast group (overrides config)")
		discoveryPort  = flag.Int("discovery-port", 0, "UDP discovery port (overrides config)")
	)
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg := config.New(*configFile)
	if err := cfg.Load(); err != nil {
		log.Error("load config", "err", err)
		os.Exit(1)
	}
	if *root != "" {
		cfg.Root = *root
	}
	if *tcpAddr != "" {
		cfg.TCPAddr = *tcpAddr
	}
	if *discoveryGroup != "" {
		cfg.DiscoveryGroup = *discoveryGroup
	}
	if *discoveryPort != 0 {
		cfg.DiscoveryPort = *discoveryPort
	}
	settings := cfg.Snapshot()

	srv, err := server.New(settings.Root, log)
	if err != nil {
		log.Error("init server", "err", err)
		os.Exit(1)
	}

	acceptor, err := server.NewAcceptor(settings.TCPAddr, srv)
	if err != nil {
		log.Error("bind tcp listener", "addr", settings.TCPAddr, "err", err)
		os.Exit(1)
	}

	tcpPort, err := tcpPortOf(acceptor.Addr().String())
	if err != nil {
		log.Error("determine advertised tcp port", "err", err)
		os.Exit(1)
	}
	responder := mcast.NewResponder(settings.DiscoveryGroup, settings.DiscoveryPort, tcpPort, log)

	errCh := make(chan error, 2)
	go func() { errCh <- acceptor.Serve() }()
	go func() { errCh <- responder.Run() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	log.Info("chatd started", "tcp_addr", settings.TCPAddr, "discovery_group", settings.DiscoveryGroup, "discovery_port", settings.DiscoveryPort, "root", settings.Root)

	select {
	case sig := <-sigCh:
		log.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			log.Error("worker exited", "err", err)
		}
	}

	responder.Close()
	acceptor.Close()
}

// tcpPortOf extracts the numeric port from a bound listener address
// such as "[::]:6000" or "0.0.0.0:6000", for advertising in
// SERVER_INFO discovery replies.
func tcpPortOf(addr string) (uint16, error) {
	idx := strings.LastIndex(addr, ":")
	port, err := strconv.ParseUint(addr[idx+1:], 10, 16)
	if err != nil {
		return 0, err
	}
	return uint16(port), nil
}
