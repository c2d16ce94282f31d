package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nullsync/toska/internal/configcache"
	"github.com/nullsync/toska/internal/httpapi"
	"github.com/nullsync/toska/internal/logging"
	"github.com/nullsync/toska/internal/middleware"
	"github.com/nullsync/toska/internal/persistence"
	"github.com/nullsync/toska/internal/replication"
	"github.com/nullsync/toska/internal/storage"
	"github.com/nullsync/toska/pkg/config"
)

var (
	configPath = flag.String("config", "configs/toska.yaml", "Path to configuration file")
	nodeID     = flag.String("node-id", "", "Unique node identifier")
	bindAddr   = flag.String("bind", ":7070", "Address to bind the HTTP server")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *nodeID != "" {
		cfg.NodeID = *nodeID
	}
	if *bindAddr != "" {
		cfg.BindAddr = *bindAddr
	}

	logger := logging.InitializeFromConfig(logging.InitConfig{
		Level:         cfg.Logging.Level,
		NodeID:        cfg.NodeID,
		LogFile:       cfg.Logging.LogFile,
		EnableConsole: cfg.Logging.EnableConsole,
		EnableFile:    cfg.Logging.EnableFile,
		BufferSize:    cfg.Logging.BufferSize,
	})
	defer logger.Close()

	startupCorrelationID := logging.NewCorrelationID()
	ctx := logging.WithCorrelationID(context.Background(), startupCorrelationID)

	logging.Info(ctx, logging.ComponentMain, "start", "toska node starting", map[string]interface{}{
		"node_id":     cfg.NodeID,
		"bind_addr":   cfg.BindAddr,
		"config_file": *configPath,
	})

	if err := os.MkdirAll(cfg.Storage.DataDir, 0755); err != nil {
		logging.Fatal(ctx, logging.ComponentMain, "start", "failed to create data directory", err)
		os.Exit(1)
	}

	coord := storage.New(storage.Config{
		NodeID:             cfg.NodeID,
		DataDir:            cfg.Storage.DataDir,
		AOFFile:            cfg.Storage.AOFFile,
		SnapshotFile:       cfg.Storage.SnapshotFile,
		SyncMode:           persistence.SyncMode(cfg.Storage.SyncMode),
		SyncInterval:       time.Duration(cfg.Storage.SyncIntervalMS) * time.Millisecond,
		SnapshotInterval:   time.Duration(cfg.Storage.SnapshotIntervalMS) * time.Millisecond,
		TTLCheckInterval:   time.Duration(cfg.Storage.TTLCheckIntervalMS) * time.Millisecond,
		CompactionInterval: time.Duration(cfg.Storage.CompactionIntervalMS) * time.Millisecond,
		CompactionAOFBytes: cfg.Storage.CompactionAOFBytes,
	})

	if err := coord.Boot(ctx); err != nil {
		logging.Fatal(ctx, logging.ComponentMain, "start", "failed to boot store coordinator", err)
		os.Exit(1)
	}

	cache := configcache.New(configcache.Snapshot{
		AuthToken:       cfg.Access.AuthToken,
		RateLimitPerSec: cfg.Access.RateLimitPerSec,
		RateLimitBurst:  cfg.Access.RateLimitBurst,
		ReplicaURL:      cfg.Replica.LeaderURL,
	})
	access := middleware.New(cache)
	leader := replication.NewLeader(coord)

	var follower *replication.Follower
	if cfg.Replica.LeaderURL != "" {
		follower = replication.NewFollower(
			coord,
			cfg.Replica.LeaderURL,
			cfg.Storage.DataDir,
			time.Duration(cfg.Replica.PollIntervalMS)*time.Millisecond,
			time.Duration(cfg.Replica.HTTPTimeoutMS)*time.Millisecond,
		)
		follower.Start(ctx)
		logging.Info(ctx, logging.ComponentMain, "start", "replication follower started", map[string]interface{}{
			"leader_url": cfg.Replica.LeaderURL,
		})
	}

	server := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: httpapi.New(coord, leader, follower, access).Handler(),
	}

	serverErr := make(chan error, 1)
	go func() {
		fmt.Printf("toska node %s listening on %s\n", cfg.NodeID, cfg.BindAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case <-stop:
		fmt.Println("shutting down toska node...")
	case err := <-serverErr:
		logging.Error(ctx, logging.ComponentMain, "serve", "HTTP server failed", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logging.Warn(ctx, logging.ComponentMain, "shutdown", "HTTP server shutdown did not complete cleanly",
			map[string]interface{}{"error": err.Error()})
	}

	if follower != nil {
		follower.Stop()
	}
	if err := coord.Shutdown(); err != nil {
		logging.Warn(ctx, logging.ComponentMain, "shutdown", "coordinator shutdown did not complete cleanly",
			map[string]interface{}{"error": err.Error()})
	}

	fmt.Println("toska shutdown complete")
}
