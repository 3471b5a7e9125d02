package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/relaystack/relaystack/server/internal/api"
	"github.com/relaystack/relaystack/server/internal/binding"
	"github.com/relaystack/relaystack/server/internal/config"
	"github.com/relaystack/relaystack/server/internal/gateway"
	"github.com/relaystack/relaystack/server/internal/metrics"
	"github.com/relaystack/relaystack/server/internal/presence"
	"github.com/relaystack/relaystack/server/internal/registry"
	"github.com/relaystack/relaystack/server/internal/ws"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("relay-server starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	level.Set(cfg.Server.Level())

	nodeID := cfg.Server.NodeID
	if nodeID == "" {
		nodeID = uuid.NewString()
	}

	slog.Info("config loaded",
		"node_id", nodeID,
		"http_port", cfg.Server.HTTPPort,
		"store", cfg.Server.Store.Backend,
		"socket_path", cfg.Server.Transport.Path,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, fanout, closeStore, err := openBackends(ctx, cfg.Server.Store, logger)
	if err != nil {
		slog.Error("failed to open binding store", "backend", cfg.Server.Store.Backend, "err", err)
		os.Exit(1)
	}
	defer closeStore()

	// Presence: local broadcaster wired to the registry, plus the cluster view.
	broadcaster := presence.NewBroadcaster(cfg.Server.Presence.Event, nodeID, fanout, cfg.Server.Presence.Heartbeat, logger)
	reg := registry.New(broadcaster, logger)
	go broadcaster.Run(ctx)

	cluster := presence.NewCluster(cfg.Server.Presence.NodeTTL, logger)
	go func() {
		if err := cluster.Run(ctx, fanout); err != nil {
			slog.Error("presence cluster view stopped", "err", err)
		}
	}()

	m := metrics.New(reg.Count, logger)
	gw := gateway.New(store, reg, gatewayOptions(cfg), m, logger)

	hub := ws.New(reg, gw, ws.Options{
		AllowedOrigins: cfg.Server.Transport.AllowedOrigins,
		SendBuffer:     cfg.Server.Transport.SendBuffer,
		MaxMessageSize: cfg.Server.Transport.MaxMessageSize,
	}, m, logger)
	go hub.Run(ctx)

	apiHandler := api.New(api.Deps{
		NodeID:     nodeID,
		Router:     gw,
		LocalCount: reg.Count,
		Cluster:    cluster,
		Greeting:   greeting(cfg),
		Logger:     logger,
	})

	// Hot reload: log level and delivery settings.
	watcher := config.NewWatcher(*configPath, func(next *config.Config) {
		level.Set(next.Server.Level())
		gw.Reconfigure(gatewayOptions(next))
		apiHandler.SetGreeting(greeting(next))
		slog.Info("config reloaded", "log_level", next.Server.LogLevel)
	}, config.WithLogger(logger))
	go func() {
		if err := watcher.Run(ctx); err != nil {
			slog.Warn("config watch disabled", "err", err)
		}
	}()

	// Combined HTTP server: WebSocket endpoint, REST API and metrics on HTTPPort.
	httpMux := http.NewServeMux()
	httpMux.Handle(cfg.Server.Transport.Path, hub)
	httpMux.Handle("/metrics", m)
	httpMux.Handle("/", apiHandler)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           httpMux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server stopped", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("relay-server shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	httpSrv.Shutdown(shutdownCtx) //nolint:errcheck
}

// openBackends builds the binding store and the presence fan-out for the
// configured backend. Only the redis backend shares presence across nodes.
func openBackends(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (binding.Store, presence.Fanout, func(), error) {
	switch cfg.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password(),
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return nil, nil, nil, fmt.Errorf("ping redis %s: %w", cfg.Redis.Addr, err)
		}

		store, err := binding.NewRedisStore(client, cfg.Redis.KeyPrefix, logger)
		if err != nil {
			client.Close()
			return nil, nil, nil, err
		}
		fanout, err := presence.NewRedisFanout(client, cfg.Redis.PresenceChannel, logger)
		if err != nil {
			client.Close()
			return nil, nil, nil, err
		}
		return store, fanout, func() { client.Close() }, nil

	case "postgres":
		pool, err := binding.OpenPostgres(ctx, cfg.Postgres.DSN(), cfg.Postgres.MaxConns)
		if err != nil {
			return nil, nil, nil, err
		}
		store, err := binding.NewPostgresStore(pool, logger)
		if err != nil {
			pool.Close()
			return nil, nil, nil, err
		}
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, nil, err
		}
		return store, presence.NewMemoryFanout(), pool.Close, nil

	default:
		return binding.NewMemoryStore(), presence.NewMemoryFanout(), func() {}, nil
	}
}

func gatewayOptions(cfg *config.Config) gateway.Options {
	return gateway.Options{
		Event:           cfg.Server.Delivery.Event,
		BindAck:         cfg.Server.Delivery.BindAck,
		StoreTimeout:    cfg.Server.Store.Timeout,
		DeliveryTimeout: cfg.Server.Delivery.Timeout,
	}
}

func greeting(cfg *config.Config) api.Greeting {
	g := cfg.Server.Delivery.Greeting
	return api.Greeting{Identity: g.Identity, Message: g.Message, Reply: g.Reply}
}
