// Command convergence-server runs the realtime collaborative-editing
// coordinator behind a websocket listener.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rectcircle/convergence-server/internal/config"
	"github.com/rectcircle/convergence-server/internal/coordinator"
	"github.com/rectcircle/convergence-server/internal/migrate"
	"github.com/rectcircle/convergence-server/internal/storage/postgres"
	"github.com/rectcircle/convergence-server/internal/transport"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func buildLogger(level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

func run(ctx context.Context, cmd *cli.Command) error {
	cfg := config.NewDefaultConfig()
	if path := cmd.String("config"); path != "" {
		if err := config.Load(path, cfg); err != nil {
			return err
		}
	}

	logger, err := buildLogger(cfg.App.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if err := migrate.Up(ctx, cfg.Postgres.DSN); err != nil {
		return err
	}

	db, err := postgres.New(ctx, cfg.Postgres.DSN)
	if err != nil {
		return err
	}
	defer db.Close()
	store := postgres.NewStore(db)

	bridge := transport.NewBridge(cfg.Redis.Addr, logger)
	defer bridge.Close()

	coordCfg := coordinator.Config{
		HandshakeTimeout:   cfg.Handshake.HandshakeTimeout,
		DataRequestTimeout: cfg.Handshake.DataRequestTimeout,
		LingerTimeout:      cfg.Handshake.LingerTimeout,
		Snapshot:           cfg.Snapshot,
	}
	if bridge != nil {
		coordCfg.Broadcaster = func(modelID string, op coordinator.OutgoingOperation) {
			transport.PublishOperation(ctx, bridge, modelID, op)
		}
	}
	registry := coordinator.NewRegistry(ctx, store, coordCfg, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		collectionID := r.URL.Query().Get("collection")
		modelID := r.URL.Query().Get("model")
		if collectionID == "" || modelID == "" {
			http.Error(w, "collection and model query parameters are required", http.StatusBadRequest)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		session := transport.NewSession(conn, registry, bridge, logger, cfg.Handshake.HandshakeTimeout, collectionID, modelID)
		go session.Run(r.Context())
	})

	server := &http.Server{Addr: cfg.App.Listen, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.App.Listen))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		registry.Shutdown()
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	logger.Info("shutdown complete")
	return nil
}

func main() {
	cmd := &cli.Command{
		Name:   "convergence-server",
		Usage:  "Realtime operational-transform collaborative model server",
		Action: run,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to YAML config file (optional, defaults are used if omitted)",
				Sources: cli.EnvVars("CONVERGENCE_CONFIG_FILE"),
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.Run(ctx, os.Args); err != nil {
		os.Exit(1)
	}
}
