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
	"strings"
	"syscall"
	"time"

	"payai/config"
	"payai/core"
	"payai/core/events"
	"payai/core/types"
	"payai/observability/logging"
	"payai/rpc"
	"payai/storage"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	if err := run(*configFile); err != nil {
		fmt.Fprintf(os.Stderr, "payaid: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	env := strings.TrimSpace(os.Getenv(config.EnvName))
	logger := logging.Setup("payaid", env, logging.Options{File: cfg.LogFile})

	admin, err := cfg.DefaultAdminIdentity()
	if err != nil {
		return err
	}
	genesis, err := cfg.GenesisBalances()
	if err != nil {
		return err
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	node, err := core.NewNode(db, admin, core.NodeOptions{
		Network:         cfg.NetworkName,
		MaxSkew:         cfg.RPC.MaxSkew(),
		ReplayWindow:    cfg.RPC.ReplayWindow(),
		FeeVaultReserve: cfg.FeeVaultReserve,
		Genesis:         genesis,
		Logger:          logger,
		Emitter:         eventLogger{logger: logger},
	})
	if err != nil {
		db.Close()
		return fmt.Errorf("create node: %w", err)
	}
	defer node.Close()

	server := rpc.NewServer(node, rpc.ServerConfig{
		RequestsPerMinute: cfg.RPC.RequestsPerMinute,
		Burst:             cfg.RPC.Burst,
		TrustedProxies:    cfg.RPC.TrustedProxies,
	}, logger)
	httpServer := &http.Server{
		Addr:              cfg.RPCAddress,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("json-rpc server listening",
			slog.String("addr", cfg.RPCAddress),
			slog.String("network", cfg.NetworkName))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("rpc server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("rpc shutdown failed", slog.Any("error", err))
		return err
	}
	logger.Info("payaid stopped")
	return nil
}

// eventLogger writes committed escrow events to the structured log.
type eventLogger struct {
	logger *slog.Logger
}

func (l eventLogger) Emit(evt events.Event) {
	payload, ok := evt.(interface{ Event() *types.Event })
	if !ok || payload.Event() == nil {
		l.logger.Debug("escrow event", slog.String("type", evt.EventType()))
		return
	}
	attrs := make([]any, 0, len(payload.Event().Attributes)+1)
	attrs = append(attrs, slog.String("type", evt.EventType()))
	for k, v := range payload.Event().Attributes {
		attrs = append(attrs, slog.String(k, v))
	}
	l.logger.Info("escrow event", attrs...)
}
