package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/xgongx/tinc/pkg/admin"
	"github.com/xgongx/tinc/pkg/config"
	"github.com/xgongx/tinc/pkg/core/netstack"
	"github.com/xgongx/tinc/pkg/core/protoctl"
	"github.com/xgongx/tinc/pkg/graph"
	"github.com/xgongx/tinc/pkg/observability"
)

// run is the main entry point after CLI parsing.
func run(opts Options) int {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return 1
	}

	logger, err := observability.Setup(cfg.Log, cfg.Name)
	if err != nil {
		os.Stderr.WriteString("failed to setup logger: " + err.Error() + "\n")
		return 1
	}
	defer func() { _ = logger.Sync() }()

	zap.L().Info("tincd started", zap.String("name", cfg.Name))

	table := graph.NewTable(cfg.Name, cfg.Options())
	ctl := protoctl.New(table, protoctl.Config{
		MaxOutputBuffer: cfg.Control.MaxOutputBuffer,
	})
	stack := netstack.New(cfg, table, ctl)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := stack.Start(ctx); err != nil {
		zap.L().Error("failed to start network stack", zap.Error(err))
		return 1
	}

	adminSrv, err := admin.NewServer(stack)
	if err != nil {
		zap.L().Error("failed to build admin endpoint", zap.Error(err))
		return 1
	}
	ln, err := admin.Listen(cfg.Admin.Socket)
	if err != nil {
		zap.L().Error("failed to open admin socket",
			zap.String("socket", cfg.Admin.Socket), zap.Error(err))
		return 1
	}
	zap.L().Info("admin endpoint ready", zap.String("socket", cfg.Admin.Socket))
	go func() {
		if err := adminSrv.Serve(ln); err != nil {
			zap.L().Error("admin endpoint failed", zap.Error(err))
		}
	}()
	defer adminSrv.Close()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	got := <-sig
	zap.L().Info("shutting down", zap.String("signal", got.String()))

	cancel()
	stack.Wait()
	return 0
}
