package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BritoCeo/londa-rides-relay/internal/bridge"
	"github.com/BritoCeo/londa-rides-relay/internal/config"
	"github.com/BritoCeo/londa-rides-relay/internal/geo"
	"github.com/BritoCeo/londa-rides-relay/internal/httpapi"
	"github.com/BritoCeo/londa-rides-relay/internal/journal"
	"github.com/BritoCeo/londa-rides-relay/internal/logging"
	"github.com/BritoCeo/londa-rides-relay/internal/mirror"
	"github.com/BritoCeo/londa-rides-relay/internal/observability"
	"github.com/BritoCeo/londa-rides-relay/internal/registry"
	"github.com/BritoCeo/londa-rides-relay/internal/router"
)

func main() {
	cfg, err := config.LoadRelayConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	conns := registry.NewRegistry(cfg.MaxConnections, cfg.MaxDriverConnections, cfg.MaxUserConnections, logger)
	locs := geo.NewRegistry(cfg.MaxRadiusKm)

	breaker := bridge.NewBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown)
	backend := bridge.NewClient(cfg.BackendURL, cfg.BackendSecret, cfg.BackendTimeout, breaker, logger)

	var sinks []mirror.Sink
	if cfg.RedisAddr != "" {
		sinks = append(sinks, mirror.NewRedisMirror(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey))
		logger.Info("redis mirror enabled", "addr", cfg.RedisAddr)
	}
	if len(cfg.KafkaBrokers) > 0 {
		sinks = append(sinks, mirror.NewKafkaMirror(cfg.KafkaBrokers, cfg.KafkaTopic))
		logger.Info("kafka mirror enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}
	var live router.Mirror
	var fanout *mirror.Fanout
	if len(sinks) > 0 {
		fanout = mirror.NewFanout(logger, sinks...)
		live = fanout
	}

	var jrnl journal.Journal = journal.NewMemory()
	if cfg.PGDSN != "" {
		pg, err := journal.NewPostgres(cfg.PGDSN)
		if err != nil {
			logger.Warn("postgres journal unavailable, falling back to memory", "error", err)
		} else {
			jrnl = pg
			logger.Info("postgres journal enabled")
		}
	}

	rt := router.New(conns, locs, backend, live, jrnl, logger, router.Config{
		DefaultRadiusKm: cfg.DefaultRadiusKm,
		DispatchFanout:  cfg.DispatchFanout,
		BackendTimeout:  cfg.BackendTimeout,
	})
	srv := httpapi.NewServer(conns, locs, backend, breaker, rt, logger, cfg.DefaultRadiusKm)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Startup probe: retried with backoff so a slow backend does not kill the
	// relay, but the relay starts serving connections regardless.
	go func() {
		if err := backend.ProbeWithRetry(ctx, cfg.RetryAttempts, cfg.RetryBaseDelay); err != nil {
			logger.Error("backend unreachable after startup probe", "error", err)
			return
		}
		logger.Info("backend reachable")
	}()

	go maintenance(ctx, cfg, conns, locs, backend, breaker, logger)

	wsServer := &http.Server{
		Addr:        cfg.WSAddr,
		Handler:     srv.WSHandler(),
		IdleTimeout: cfg.IdleTimeout,
	}
	queryServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv.QueryHandler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		logger.Info("ws listener starting", "addr", cfg.WSAddr)
		if err := wsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("ws listener stopped", "error", err)
			stop()
		}
	}()
	go func() {
		logger.Info("query listener starting", "addr", cfg.HTTPAddr)
		if err := queryServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("query listener stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	// Force-exit if graceful close hangs past the grace period.
	time.AfterFunc(cfg.ShutdownTimeout+5*time.Second, func() {
		logger.Error("graceful shutdown timed out, forcing exit")
		os.Exit(1)
	})

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := wsServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("ws listener shutdown", "error", err)
	}
	if err := queryServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("query listener shutdown", "error", err)
	}
	if fanout != nil {
		fanout.Close()
	}
	logger.Info("shutdown complete")
}

// maintenance runs the periodic background tasks: staleness eviction for both
// registries, the keepalive probe, and the backend health probe. The health
// probe is skipped while the breaker is open and inside its cooldown.
func maintenance(ctx context.Context, cfg config.RelayConfig, conns *registry.Registry, locs *geo.Registry, backend bridge.Backend, breaker *bridge.Breaker, logger *slog.Logger) {
	evict := time.NewTicker(cfg.EvictInterval)
	keepalive := time.NewTicker(cfg.KeepaliveInterval)
	health := time.NewTicker(cfg.HealthCheckInterval)
	defer evict.Stop()
	defer keepalive.Stop()
	defer health.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-evict.C:
			if n := conns.EvictStale(cfg.ConnectionStaleAfter); n > 0 {
				observability.StaleEvictions.WithLabelValues("connection").Add(float64(n))
				logger.Info("evicted stale connections", "count", n)
			}
			if n := locs.EvictStale(cfg.LocationStaleAfter); n > 0 {
				observability.StaleEvictions.WithLabelValues("location").Add(float64(n))
				observability.DriversTracked.Set(float64(locs.Count()))
				logger.Info("evicted stale locations", "count", n)
			}
		case <-keepalive.C:
			conns.PingAll()
		case <-health.C:
			if breaker.CoolingDown() {
				continue
			}
			probeCtx, cancel := context.WithTimeout(ctx, cfg.BackendTimeout)
			if err := backend.HealthCheck(probeCtx); err != nil {
				logger.Warn("backend health probe failed", "error", err)
			}
			cancel()
		}
	}
}
