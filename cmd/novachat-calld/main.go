// novachat-calld is the call signaling daemon: it fronts the shared call
// store with a WebSocket gateway, hands out ICE servers (with ephemeral TURN
// credentials when configured) and exposes health and metrics endpoints.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/aryan25798/NovaChat-sub003/internal/config"
	"github.com/aryan25798/NovaChat-sub003/internal/gateway"
	"github.com/aryan25798/NovaChat-sub003/internal/metrics"
	signalstore "github.com/aryan25798/NovaChat-sub003/internal/signal"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	logger.Info("starting novachat-calld",
		"listen_addr", cfg.ListenAddr,
		"mode", cfg.Mode,
		"store", cfg.Store,
		"auth_mode", cfg.AuthMode,
		"dial_timeout", cfg.DialTimeout,
		"restart_grace_period", cfg.RestartGracePeriod,
		"turn_rest_enabled", cfg.TURNREST.Enabled(),
		"ice_servers_configured", len(cfg.ICEServers),
	)

	logStartupSecurityWarnings(logger, cfg)

	var (
		store       signalstore.Store
		redisClient *redis.Client
	)
	switch cfg.Store {
	case config.StoreRedis:
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		store = signalstore.NewRedisStore(redisClient, logger)
	default:
		store = signalstore.NewMemoryStore()
	}

	if err := store.Ping(context.Background()); err != nil {
		// Not fatal: redis may come up after us, and /readyz reports it.
		logger.Warn("call store unreachable at startup", "err", err)
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	srv, err := gateway.New(cfg, logger, resolveBuildInfo(buildCommit, buildTime), store, metrics.New())
	if err != nil {
		logger.Error("failed to configure gateway", "err", err)
		os.Exit(2)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("gateway exited", "err", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("gateway shutdown failed", "err", err)
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("gateway exited after shutdown", "err", err)
		os.Exit(1)
	}
}

func resolveBuildInfo(commit, buildTime string) gateway.BuildInfo {
	// Prefer ldflags-injected values but fall back to the Go build info when
	// available, which covers `go run` and dev builds.
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if buildTime == "" {
					buildTime = s.Value
				}
			}
		}
	}
	return gateway.BuildInfo{Commit: commit, BuildTime: buildTime}
}
