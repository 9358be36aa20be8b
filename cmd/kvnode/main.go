// Command kvnode runs one member of a replicated key-value cluster. It serves consensus
// RPCs over gRPC and the key-value API over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmsadair/raftkv"
	"github.com/jmsadair/raftkv/config"
	"github.com/jmsadair/raftkv/logging"
	"github.com/jmsadair/raftkv/server"
	"github.com/jmsadair/raftkv/store"
)

const shutdownTimeout = 5 * time.Second

func main() {
	var (
		configPath  = flag.String("config", "", "Path to the YAML configuration file")
		id          = flag.String("id", "", "Node ID")
		raftAddress = flag.String("raft-address", "", "Address to serve consensus RPCs on")
		httpAddress = flag.String("http-address", "", "Address to serve the HTTP API on")
		logLevel    = flag.String("log-level", "", "Log level: debug, info, warn, error")
	)
	flag.Parse()

	// Flags take precedence over the environment, which takes precedence over the file.
	applyFlags := func(cfg *config.Config) {
		if *id != "" {
			cfg.ID = *id
		}
		if *raftAddress != "" {
			cfg.RaftAddress = *raftAddress
		}
		if *httpAddress != "" {
			cfg.HTTPAddress = *httpAddress
		}
		if *logLevel != "" {
			cfg.LogLevel = *logLevel
		}
	}
	cfg, err := loadConfig(*configPath, applyFlags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if cfg.ID == "" {
		cfg.ID = cfg.RaftAddress
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	if cfg.HTTPAddress == "" {
		fmt.Fprintln(os.Stderr, "Invalid configuration: http address is required")
		os.Exit(1)
	}

	level, _ := logging.ParseLevel(cfg.LogLevel)
	logger, err := logging.NewLogger(logging.WithLevel(level), logging.WithPrefix(fmt.Sprintf("[%s] ", cfg.ID)))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}

	transport, err := raft.NewTransport(cfg.RaftAddress)
	if err != nil {
		logger.Fatalf("failed to create transport: %s", err.Error())
	}

	opts, err := cfg.RaftOptions()
	if err != nil {
		logger.Fatalf("invalid raft options: %s", err.Error())
	}
	opts = append(opts, raft.WithTransport(transport), raft.WithLogger(logger))

	kv := store.New()
	node, err := raft.NewRaft(cfg.ID, cfg.Peers(), kv, opts...)
	if err != nil {
		logger.Fatalf("failed to create raft: %s", err.Error())
	}

	httpServer, err := server.New(node, kv, server.WithHTTPAddresses(cfg.HTTPAddresses()), server.WithLogger(logger))
	if err != nil {
		logger.Fatalf("failed to create http server: %s", err.Error())
	}

	if err := node.Start(); err != nil {
		logger.Fatalf("failed to start raft: %s", err.Error())
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe(cfg.HTTPAddress)
	}()

	logger.Infof("kvnode %s started: raftAddress = %s, httpAddress = %s, members = %d",
		cfg.ID, cfg.RaftAddress, cfg.HTTPAddress, len(cfg.Peers()))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Infof("kvnode %s received %s, shutting down", cfg.ID, sig)
	case err := <-errCh:
		if err != nil {
			logger.Errorf("http server failed: %s", err.Error())
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Warnf("http server did not shut down cleanly: %s", err.Error())
	}
	node.Stop()
	logger.Infof("kvnode %s stopped", cfg.ID)
}

// loadConfig reads the configuration file, if any, and applies the environment and
// then the flags. The flags are also applied before the environment so that the node's
// own ID is known when the member list comes from RAFTKV_NODES.
func loadConfig(path string, applyFlags func(*config.Config)) (*config.Config, error) {
	cfg := &config.Config{}
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}
	applyFlags(cfg)
	cfg.ApplyEnv()
	applyFlags(cfg)
	return cfg, nil
}
