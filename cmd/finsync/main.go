package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"finsync/pkg/api"
	"finsync/pkg/config"
	"finsync/pkg/kv"
	kvmemcache "finsync/pkg/kv/memcache"
	kvmemory "finsync/pkg/kv/memory"
	kvsqlite "finsync/pkg/kv/sqlite"
	"finsync/pkg/logging"
	"finsync/pkg/metrics"
	memorycollector "finsync/pkg/metrics/memory"
	promMetrics "finsync/pkg/metrics/prometheus"
	"finsync/pkg/persist"
	"finsync/pkg/reconcile"
	"finsync/pkg/remote"
	"finsync/pkg/remote/memory"
	"finsync/pkg/remote/postgres"
	"finsync/pkg/remote/redis"
	"finsync/pkg/resilience"
	"finsync/pkg/session"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	flag.Parse()

	// A missing .env file is fine; the environment may already be set.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Fatalf("Failed to load .env file: %v", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()
	logging.SetGlobal(logger)

	logger.Info("starting finsync",
		zap.String("local", cfg.Local.Backend),
		zap.String("remote", cfg.Remote.Backend),
	)

	// The memory collector backs /metrics/json; Prometheus backs /metrics.
	snapshot := memorycollector.NewMemoryCollector()
	collectors := []metrics.MetricsCollector{snapshot}
	if cfg.Metrics.Enabled {
		pc := promMetrics.NewPrometheusCollector(cfg.Metrics.Namespace)
		if err := pc.Register(prometheus.DefaultRegisterer); err != nil {
			logger.Fatal("Failed to register metrics", zap.Error(err))
		}
		collectors = append(collectors, pc)
	}
	mc := metrics.Combine(collectors...)

	backend, err := openLocal(cfg.Local)
	if err != nil {
		logger.Fatal("Failed to open local store", zap.Error(err))
	}
	defer backend.Close()
	logger.Info("local store ready", zap.String("backend", backend.Name()))

	mirror := persist.NewAsyncMirror(backend, cfg.Local.Mirror, mc)
	defer mirror.Close()

	rs, err := openRemote(cfg.Remote)
	if err != nil {
		logger.Fatal("Failed to open remote store", zap.Error(err))
	}
	if rs != nil {
		rs = resilience.NewResilientStoreWithMetrics(rs, cfg.Remote.Resilience, mc)
		defer rs.Close()
		logger.Info("remote store ready", zap.String("store", rs.Name()))
	} else {
		logger.Info("running without a remote store")
	}

	policy := reconcile.New(rs, persist.NewAdapter(backend, mc), cfg.Sync,
		reconcile.WithMetrics(mc),
		reconcile.WithMirror(mirror),
	)
	defer policy.Logout()

	server := api.NewServer(policy, session.NewDirectory(cfg.Accounts), snapshot, api.ServerConfig{
		Address:      cfg.Server.Addr,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		Namespace:    cfg.Metrics.Namespace,
		Attachment:   cfg.Attachment,
	})
	if cfg.Metrics.Enabled {
		prometheus.MustRegister(server.Collectors()...)
	}
	if err := server.Start(); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		logger.Error("Server shutdown error", zap.Error(err))
	}
	logger.Info("server stopped", zap.Any("mirror", mirror.Stats()))
}

func openLocal(cfg config.LocalConfig) (kv.Backend, error) {
	switch cfg.Backend {
	case config.LocalMemory:
		return kvmemory.New(kvmemory.Config{}), nil
	case config.LocalSQLite:
		return kvsqlite.New(cfg.SQLite)
	case config.LocalMemcache:
		return kvmemcache.New(cfg.Memcache)
	default:
		return nil, fmt.Errorf("unknown local backend %q", cfg.Backend)
	}
}

// openRemote returns nil for config.RemoteNone.
func openRemote(cfg config.RemoteConfig) (remote.Store, error) {
	switch cfg.Backend {
	case config.RemoteNone:
		return nil, nil
	case config.RemoteMemory:
		return memory.New(cfg.Memory), nil
	case config.RemoteRedis:
		return redis.New(cfg.Redis)
	case config.RemotePostgres:
		return postgres.New(cfg.Postgres)
	default:
		return nil, fmt.Errorf("unknown remote backend %q", cfg.Backend)
	}
}
